package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, ErrCodeInternal, CodeOf(stderrors.New("boom")))
	assert.Equal(t, ErrCodeNotFound, CodeOf(NotFound("assignment", "a1")))
	assert.Equal(t, ErrCodeConflict, CodeOf(fmt.Errorf("outer: %w", Conflict("lost race"))))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := Wrap(cause, ErrCodeInternal, "failed to load assignment")

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, cause))
	assert.Contains(t, err.Error(), "connection reset")
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "unused"))
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsValidation(InvalidInput("to_user_id", "recipient is required")))
	assert.True(t, IsForbidden(Forbidden("no approver capability")))
	assert.True(t, IsInvalidState(InvalidState("assignment is not completed")))
	assert.True(t, IsConflict(Conflict("decision already recorded")))
	assert.False(t, IsNotFound(Conflict("x")))

	nf := NotFound("question", "q9")
	assert.Equal(t, "question", nf.Resource)
	assert.Equal(t, "q9", nf.ID)
}
