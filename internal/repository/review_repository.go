package repository

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-gov-workflow/internal/errors"
)

func (r pgReader) ListReviews(ctx context.Context, assignmentID string) ([]*QuestionReview, error) {
	query := `
		SELECT assignment_id, question_id, status, comment, reviewer_id, reviewed_at
		FROM gov_question_reviews
		WHERE assignment_id = $1
		ORDER BY question_id
	`
	rows, err := r.q.Query(ctx, query, assignmentID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list reviews")
	}
	defer rows.Close()

	var out []*QuestionReview
	for rows.Next() {
		rv := &QuestionReview{}
		if err := rows.Scan(&rv.AssignmentID, &rv.QuestionID, &rv.Status,
			&rv.Comment, &rv.ReviewerID, &rv.ReviewedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan review")
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

// UpsertReview writes the review for one question. Concurrent writers on the
// same question resolve last-writer-wins.
func (t *pgTx) UpsertReview(ctx context.Context, rv *QuestionReview) error {
	query := `
		INSERT INTO gov_question_reviews (assignment_id, question_id, status, comment, reviewer_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (assignment_id, question_id) DO UPDATE
		SET status = EXCLUDED.status, comment = EXCLUDED.comment,
		    reviewer_id = EXCLUDED.reviewer_id, reviewed_at = NOW()
		RETURNING reviewed_at
	`
	err := t.q.QueryRow(ctx, query,
		rv.AssignmentID, rv.QuestionID, rv.Status, rv.Comment, rv.ReviewerID,
	).Scan(&rv.ReviewedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save review")
	}
	return nil
}

func (r pgReader) GetDecision(ctx context.Context, id string) (*Decision, error) {
	query := `
		SELECT id, assignment_id, decision, comment, decided_by, decided_at
		FROM gov_decisions
		WHERE id = $1
	`
	d := &Decision{}
	err := r.q.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.AssignmentID, &d.Decision, &d.Comment, &d.DecidedBy, &d.DecidedAt,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("decision", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get decision")
	}
	return d, nil
}

func (t *pgTx) InsertDecision(ctx context.Context, d *Decision) error {
	if d.ID == "" {
		d.ID = newID()
	}
	query := `
		INSERT INTO gov_decisions (id, assignment_id, decision, comment, decided_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING decided_at
	`
	err := t.q.QueryRow(ctx, query,
		d.ID, d.AssignmentID, d.Decision, d.Comment, d.DecidedBy,
	).Scan(&d.DecidedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to record decision")
	}
	return nil
}
