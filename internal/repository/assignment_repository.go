package repository

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-gov-workflow/internal/errors"
)

const assignmentColumns = `
	id, tenant_id, source_type, entity_type, entity_id, request_type, title,
	status, submitter_id, approver_id, assigned_to,
	current_step, total_steps, due_at, version, decision_id,
	created_at, updated_at`

func (r pgReader) GetAssignment(ctx context.Context, tenantID, id string) (*Assignment, error) {
	query := `SELECT` + assignmentColumns + `
		FROM gov_assignments
		WHERE id = $1 AND tenant_id = $2`

	a, err := scanAssignment(r.q.QueryRow(ctx, query, id, tenantID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("assignment", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get assignment")
	}
	return a, nil
}

func (t *pgTx) LockAssignment(ctx context.Context, tenantID, id string, mode LockMode) (*Assignment, error) {
	lock := "FOR SHARE"
	if mode == LockUpdate {
		lock = "FOR UPDATE"
	}
	query := `SELECT` + assignmentColumns + `
		FROM gov_assignments
		WHERE id = $1 AND tenant_id = $2
		` + lock

	a, err := scanAssignment(t.q.QueryRow(ctx, query, id, tenantID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("assignment", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock assignment")
	}
	return a, nil
}

// CreateAssignment inserts an assignment and its questions.
func (t *pgTx) CreateAssignment(ctx context.Context, a *Assignment, questions []*Question) error {
	if a.ID == "" {
		a.ID = newID()
	}
	a.Version = 1

	query := `
		INSERT INTO gov_assignments
		    (id, tenant_id, source_type, entity_type, entity_id, request_type, title,
		     status, submitter_id, approver_id, assigned_to,
		     current_step, total_steps, due_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7,
		        $8, $9, $10, $11,
		        $12, $13, $14, $15)
		RETURNING created_at, updated_at
	`
	err := t.q.QueryRow(ctx, query,
		a.ID, a.TenantID, a.SourceType, a.EntityType, a.EntityID, a.RequestType, a.Title,
		a.Status, a.SubmitterID, a.ApproverID, a.AssignedTo,
		a.CurrentStep, a.TotalSteps, a.DueAt, a.Version,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create assignment")
	}

	questionQuery := `
		INSERT INTO gov_questions (id, assignment_id, field_name, prompt, position, required)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, q := range questions {
		if q.ID == "" {
			q.ID = newID()
		}
		q.AssignmentID = a.ID
		if _, err := t.q.Exec(ctx, questionQuery,
			q.ID, q.AssignmentID, q.FieldName, q.Prompt, q.Position, q.Required,
		); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create question")
		}
	}
	return nil
}

func (t *pgTx) UpdateAssignment(ctx context.Context, a *Assignment) error {
	query := `
		UPDATE gov_assignments
		SET status = $3, submitter_id = $4, approver_id = $5, assigned_to = $6,
		    current_step = $7, total_steps = $8, due_at = $9, decision_id = $10,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND version = $11
		RETURNING version, updated_at
	`
	err := t.q.QueryRow(ctx, query,
		a.ID, a.TenantID,
		a.Status, a.SubmitterID, a.ApproverID, a.AssignedTo,
		a.CurrentStep, a.TotalSteps, a.DueAt, a.DecisionID,
		a.Version,
	).Scan(&a.Version, &a.UpdatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.Conflict("assignment was modified concurrently")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update assignment")
	}
	return nil
}

// ── questions & responses ────────────────────────────────────────────────────

func (r pgReader) ListQuestions(ctx context.Context, assignmentID string) ([]*Question, error) {
	query := `
		SELECT id, assignment_id, field_name, prompt, position, required
		FROM gov_questions
		WHERE assignment_id = $1
		ORDER BY position, id
	`
	rows, err := r.q.Query(ctx, query, assignmentID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list questions")
	}
	defer rows.Close()

	var out []*Question
	for rows.Next() {
		q := &Question{}
		if err := rows.Scan(&q.ID, &q.AssignmentID, &q.FieldName, &q.Prompt, &q.Position, &q.Required); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan question")
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (r pgReader) ListResponses(ctx context.Context, assignmentID string) ([]*Response, error) {
	query := `
		SELECT assignment_id, question_id, value, comment, responded_by, updated_at
		FROM gov_responses
		WHERE assignment_id = $1
		ORDER BY question_id
	`
	rows, err := r.q.Query(ctx, query, assignmentID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list responses")
	}
	defer rows.Close()

	var out []*Response
	for rows.Next() {
		resp := &Response{}
		if err := rows.Scan(&resp.AssignmentID, &resp.QuestionID, &resp.Value,
			&resp.Comment, &resp.RespondedBy, &resp.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan response")
		}
		out = append(out, resp)
	}
	return out, rows.Err()
}

func (t *pgTx) UpsertResponse(ctx context.Context, resp *Response) error {
	query := `
		INSERT INTO gov_responses (assignment_id, question_id, value, comment, responded_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (assignment_id, question_id) DO UPDATE
		SET value = EXCLUDED.value, comment = EXCLUDED.comment,
		    responded_by = EXCLUDED.responded_by, updated_at = NOW()
		RETURNING updated_at
	`
	err := t.q.QueryRow(ctx, query,
		resp.AssignmentID, resp.QuestionID, resp.Value, resp.Comment, resp.RespondedBy,
	).Scan(&resp.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save response")
	}
	return nil
}

func scanAssignment(sc rowScanner) (*Assignment, error) {
	a := &Assignment{}
	err := sc.Scan(
		&a.ID, &a.TenantID, &a.SourceType, &a.EntityType, &a.EntityID, &a.RequestType, &a.Title,
		&a.Status, &a.SubmitterID, &a.ApproverID, &a.AssignedTo,
		&a.CurrentStep, &a.TotalSteps, &a.DueAt, &a.Version, &a.DecisionID,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}
