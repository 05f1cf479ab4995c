package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/pesio-ai/be-gov-workflow/internal/auth"
	"github.com/pesio-ai/be-gov-workflow/internal/authz"
	"github.com/pesio-ai/be-gov-workflow/internal/errors"
	"github.com/pesio-ai/be-gov-workflow/internal/events"
	"github.com/pesio-ai/be-gov-workflow/internal/logger"
	"github.com/pesio-ai/be-gov-workflow/internal/repository"
	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

// Capabilities answers whether a role may perform a workflow action at a
// layout type. Denials in shadow mode are logged and allowed.
type Capabilities struct {
	authz *authz.Authorizer
	log   *logger.Logger
}

func NewCapabilities(a *authz.Authorizer, log *logger.Logger) *Capabilities {
	return &Capabilities{authz: a, log: log.Component("capabilities")}
}

// Require returns a ForbiddenError when actor's role lacks the capability.
func (c *Capabilities) Require(actor auth.User, layoutType workflow.LayoutType, action workflow.Action) error {
	allowed, enforced, err := c.authz.Authorize(
		authz.SubjectFromRole(actor.Role),
		authz.DomainFromTenantID(actor.TenantID),
		string(layoutType),
		string(action),
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to evaluate capability")
	}
	if allowed {
		return nil
	}
	if !enforced {
		c.log.Warn().
			Str("user_id", actor.ID).
			Str("role", actor.Role).
			Str("layout_type", string(layoutType)).
			Str("action", string(action)).
			Msg("Capability denied (shadow mode, allowing)")
		return nil
	}
	return errors.Forbidden(fmt.Sprintf("role %q may not %s at the %s stage", actor.Role, action, layoutType))
}

// RequireAt resolves the layout type of an assignment's current status
// before checking.
func (c *Capabilities) RequireAt(actor auth.User, status workflow.Status, action workflow.Action) error {
	lt, err := layoutTypeFor(status)
	if err != nil {
		return err
	}
	return c.Require(actor, lt, action)
}

func layoutTypeFor(status workflow.Status) (workflow.LayoutType, error) {
	stage, err := workflow.StageForStatus(status)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "assignment has an unmapped status")
	}
	lt, err := workflow.ResolveLayoutType(stage)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "assignment stage has no layout type")
	}
	return lt, nil
}

func stageOf(status workflow.Status) *workflow.Stage {
	stage, err := workflow.StageForStatus(status)
	if err != nil {
		return nil
	}
	return &stage
}

// validateRecipient checks that userID names an active user of actor's tenant.
func validateRecipient(ctx context.Context, users repository.UserDirectory, actor auth.User, userID, field string) error {
	u, err := users.GetUser(ctx, userID)
	if err != nil {
		if errors.IsNotFound(err) {
			return errors.InvalidInput(field, "unknown user: "+userID)
		}
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to look up user")
	}
	if u.TenantID != actor.TenantID {
		return errors.InvalidInput(field, "user belongs to another tenant")
	}
	if !u.Active {
		return errors.InvalidInput(field, "user is inactive")
	}
	return nil
}

func requireActor(actor auth.User) error {
	if strings.TrimSpace(actor.ID) == "" || strings.TrimSpace(actor.TenantID) == "" {
		return errors.New(errors.ErrCodeUnauthorized, "actor identity is incomplete")
	}
	return nil
}

func sameComment(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// userSet collects users in first-seen order.
type userSet []string

func (s *userSet) add(ids ...string) {
	for _, id := range ids {
		if id != "" && !slices.Contains(*s, id) {
			*s = append(*s, id)
		}
	}
}

// publish emits the post-commit events of one operation.
func publish(ctx context.Context, pub events.Publisher, change events.AssignmentChanged, inbox []string, reason string) {
	pub.AssignmentChanged(ctx, change)
	for _, userID := range inbox {
		pub.InboxChanged(ctx, events.InboxChanged{
			TenantID:     change.TenantID,
			UserID:       userID,
			AssignmentID: change.AssignmentID,
			Reason:       reason,
		})
	}
}
