package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-gov-workflow/internal/errors"
)

// AppendAudit inserts one audit entry. The table has an append-only trigger
// so this is the only mutation exposed.
func (t *pgTx) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}
	if entry.ID == "" {
		entry.ID = newID()
	}

	query := `
		INSERT INTO gov_audit_log
		    (id, assignment_id, tenant_id,
		     action, performed_by,
		     stage_before, stage_after,
		     metadata)
		VALUES ($1, $2, $3,
		        $4, $5,
		        $6, $7,
		        $8)
		RETURNING performed_at
	`

	err := t.q.QueryRow(ctx, query,
		entry.ID,
		entry.AssignmentID,
		entry.TenantID,
		entry.Action,
		entry.PerformedBy,
		entry.StageBefore,
		entry.StageAfter,
		metadataJSON,
	).Scan(&entry.PerformedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to write audit entry")
	}
	return nil
}

// ListAudit returns the full audit trail of an assignment, oldest first.
func (r pgReader) ListAudit(ctx context.Context, assignmentID string) ([]*AuditEntry, error) {
	query := `
		SELECT id, assignment_id, tenant_id,
		       action, performed_by, performed_at,
		       stage_before, stage_after,
		       metadata
		FROM gov_audit_log
		WHERE assignment_id = $1
		ORDER BY performed_at ASC, id ASC
	`

	rows, err := r.q.Query(ctx, query, assignmentID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

// AppendForward records a delegation. Forward records are append-only.
func (t *pgTx) AppendForward(ctx context.Context, f *ForwardRecord) error {
	if f.ID == "" {
		f.ID = newID()
	}
	questionIDs := f.QuestionIDs
	if questionIDs == nil {
		questionIDs = []string{}
	}

	query := `
		INSERT INTO gov_forward_records
		    (id, assignment_id, tenant_id, question_ids, from_user, to_user, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	err := t.q.QueryRow(ctx, query,
		f.ID, f.AssignmentID, f.TenantID, questionIDs, f.FromUser, f.ToUser, f.Comment,
	).Scan(&f.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append forward record")
	}
	return nil
}

func (r pgReader) ListForwards(ctx context.Context, assignmentID string) ([]*ForwardRecord, error) {
	query := `
		SELECT id, assignment_id, tenant_id, question_ids, from_user, to_user, comment, created_at
		FROM gov_forward_records
		WHERE assignment_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.q.Query(ctx, query, assignmentID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list forward records")
	}
	defer rows.Close()

	var out []*ForwardRecord
	for rows.Next() {
		f := &ForwardRecord{}
		if err := rows.Scan(&f.ID, &f.AssignmentID, &f.TenantID, &f.QuestionIDs,
			&f.FromUser, &f.ToUser, &f.Comment, &f.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan forward record")
		}
		if len(f.QuestionIDs) == 0 {
			f.QuestionIDs = nil
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanAuditRows(rows pgx.Rows) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanAuditEntry(sc rowScanner) (*AuditEntry, error) {
	entry := &AuditEntry{}
	var metadataJSON []byte

	err := sc.Scan(
		&entry.ID,
		&entry.AssignmentID,
		&entry.TenantID,
		&entry.Action,
		&entry.PerformedBy,
		&entry.PerformedAt,
		&entry.StageBefore,
		&entry.StageAfter,
		&metadataJSON,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
		}
	}

	return entry, nil
}
