package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-gov-workflow/internal/errors"
	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

const actionItemColumns = `
	id, tenant_id, source_type, source_id, assigned_to, question_ids,
	status, due_at, metadata, created_at, updated_at`

// ListActionItemsForUser returns every item owned by a user, oldest first.
func (r pgReader) ListActionItemsForUser(ctx context.Context, tenantID, userID string) ([]*ActionItem, error) {
	query := `SELECT` + actionItemColumns + `
		FROM gov_action_items
		WHERE tenant_id = $1 AND assigned_to = $2
		ORDER BY created_at ASC, id ASC`

	rows, err := r.q.Query(ctx, query, tenantID, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list inbox")
	}
	defer rows.Close()
	return scanActionItems(rows)
}

func (r pgReader) ListActionItemsForSource(ctx context.Context, tenantID string, sourceType workflow.SourceType, sourceID string) ([]*ActionItem, error) {
	query := `SELECT` + actionItemColumns + `
		FROM gov_action_items
		WHERE tenant_id = $1 AND source_type = $2 AND source_id = $3
		ORDER BY created_at ASC, id ASC`

	rows, err := r.q.Query(ctx, query, tenantID, sourceType, sourceID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list action items")
	}
	defer rows.Close()
	return scanActionItems(rows)
}

func (t *pgTx) LockActionItemsForSource(ctx context.Context, tenantID string, sourceType workflow.SourceType, sourceID string) ([]*ActionItem, error) {
	query := `SELECT` + actionItemColumns + `
		FROM gov_action_items
		WHERE tenant_id = $1 AND source_type = $2 AND source_id = $3
		ORDER BY created_at ASC, id ASC
		FOR UPDATE`

	rows, err := t.q.Query(ctx, query, tenantID, sourceType, sourceID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock action items")
	}
	defer rows.Close()
	return scanActionItems(rows)
}

// SaveActionItem upserts an item by id.
func (t *pgTx) SaveActionItem(ctx context.Context, item *ActionItem) error {
	if item.ID == "" {
		item.ID = newID()
	}
	var metadataJSON []byte
	if item.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(item.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal action item metadata")
		}
	}
	questionIDs := item.QuestionIDs
	if questionIDs == nil {
		questionIDs = []string{}
	}

	query := `
		INSERT INTO gov_action_items
		    (id, tenant_id, source_type, source_id, assigned_to, question_ids,
		     status, due_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6,
		        $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET assigned_to = EXCLUDED.assigned_to,
		    question_ids = EXCLUDED.question_ids,
		    status = EXCLUDED.status,
		    due_at = EXCLUDED.due_at,
		    metadata = EXCLUDED.metadata,
		    updated_at = NOW()
		RETURNING created_at, updated_at
	`
	err := t.q.QueryRow(ctx, query,
		item.ID, item.TenantID, item.SourceType, item.SourceID, item.AssignedTo, questionIDs,
		item.Status, item.DueAt, metadataJSON,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errors.Wrap(err, errors.ErrCodeConflict, "user already holds a scoped item for this source")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save action item")
	}
	return nil
}

func scanActionItems(rows pgx.Rows) ([]*ActionItem, error) {
	var items []*ActionItem
	for rows.Next() {
		item := &ActionItem{}
		var metadataJSON []byte
		if err := rows.Scan(
			&item.ID, &item.TenantID, &item.SourceType, &item.SourceID, &item.AssignedTo, &item.QuestionIDs,
			&item.Status, &item.DueAt, &metadataJSON, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan action item")
		}
		if len(item.QuestionIDs) == 0 {
			item.QuestionIDs = nil
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &item.Metadata); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal action item metadata")
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
