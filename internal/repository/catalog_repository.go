package repository

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-gov-workflow/internal/database"
	"github.com/pesio-ai/be-gov-workflow/internal/errors"
	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

// CatalogRepository reads and writes form layouts, field permissions and the
// user directory.
type CatalogRepository struct {
	db *database.DB
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(db *database.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

const layoutColumns = `
	id, tenant_id, request_type, entity_type, layout_type, workflow_stage,
	is_active, tabs, sections, updated_at`

func (r *CatalogRepository) FindActiveLayoutByType(ctx context.Context, tenantID, requestType string, layoutType workflow.LayoutType) (*FormLayout, error) {
	query := `SELECT` + layoutColumns + `
		FROM gov_form_layouts
		WHERE tenant_id = $1 AND request_type = $2 AND layout_type = $3 AND is_active
		ORDER BY updated_at DESC, id ASC
		LIMIT 1`
	return r.findLayout(ctx, query, tenantID, requestType, layoutType)
}

// FindActiveLayoutByStage is the legacy one-layout-per-stage lookup.
func (r *CatalogRepository) FindActiveLayoutByStage(ctx context.Context, tenantID, requestType string, stage workflow.Stage) (*FormLayout, error) {
	query := `SELECT` + layoutColumns + `
		FROM gov_form_layouts
		WHERE tenant_id = $1 AND request_type = $2 AND workflow_stage = $3
		  AND layout_type IS NULL AND is_active
		ORDER BY updated_at DESC, id ASC
		LIMIT 1`
	return r.findLayout(ctx, query, tenantID, requestType, stage)
}

func (r *CatalogRepository) findLayout(ctx context.Context, query string, args ...any) (*FormLayout, error) {
	l, err := scanLayout(r.db.QueryRow(ctx, query, args...))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to find layout")
	}
	return l, nil
}

// SaveLayout upserts a layout, deactivating whichever layout held the same
// active slot before.
func (r *CatalogRepository) SaveLayout(ctx context.Context, l *FormLayout) error {
	if l.ID == "" {
		l.ID = newID()
	}
	tabsJSON, err := json.Marshal(l.Tabs)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal layout tabs")
	}
	sectionsJSON, err := json.Marshal(l.Sections)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal layout sections")
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if l.IsActive {
			deactivate := `
				UPDATE gov_form_layouts SET is_active = FALSE, updated_at = NOW()
				WHERE tenant_id = $1 AND request_type = $2 AND id <> $3 AND is_active
				  AND ((layout_type IS NOT NULL AND layout_type = $4)
				    OR (layout_type IS NULL AND $4::text IS NULL AND workflow_stage = $5))
			`
			if _, err := tx.Exec(ctx, deactivate, l.TenantID, l.RequestType, l.ID, l.LayoutType, l.WorkflowStage); err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to deactivate previous layout")
			}
		}

		upsert := `
			INSERT INTO gov_form_layouts
			    (id, tenant_id, request_type, entity_type, layout_type, workflow_stage,
			     is_active, tabs, sections)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE
			SET request_type = EXCLUDED.request_type,
			    entity_type = EXCLUDED.entity_type,
			    layout_type = EXCLUDED.layout_type,
			    workflow_stage = EXCLUDED.workflow_stage,
			    is_active = EXCLUDED.is_active,
			    tabs = EXCLUDED.tabs,
			    sections = EXCLUDED.sections,
			    updated_at = NOW()
			RETURNING updated_at
		`
		err := tx.QueryRow(ctx, upsert,
			l.ID, l.TenantID, l.RequestType, l.EntityType, l.LayoutType, l.WorkflowStage,
			l.IsActive, tabsJSON, sectionsJSON,
		).Scan(&l.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to save layout")
		}
		return nil
	})
}

// ── field permissions ────────────────────────────────────────────────────────

func (r *CatalogRepository) ListFieldPermissions(ctx context.Context, tenantID, role, entityType string) ([]*FieldPermission, error) {
	query := `
		SELECT id, tenant_id, role, entity_type, layout_id, field_id, stage, visible, editable
		FROM gov_field_permissions
		WHERE tenant_id = $1 AND role = $2 AND entity_type = $3
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, tenantID, role, entityType)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list field permissions")
	}
	defer rows.Close()

	var out []*FieldPermission
	for rows.Next() {
		p := &FieldPermission{}
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Role, &p.EntityType,
			&p.LayoutID, &p.FieldID, &p.Stage, &p.Visible, &p.Editable); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan field permission")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *CatalogRepository) SaveFieldPermission(ctx context.Context, p *FieldPermission) error {
	if p.ID == "" {
		p.ID = newID()
	}
	query := `
		INSERT INTO gov_field_permissions
		    (id, tenant_id, role, entity_type, layout_id, field_id, stage, visible, editable)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET role = EXCLUDED.role, entity_type = EXCLUDED.entity_type,
		    layout_id = EXCLUDED.layout_id, field_id = EXCLUDED.field_id,
		    stage = EXCLUDED.stage, visible = EXCLUDED.visible, editable = EXCLUDED.editable
	`
	if _, err := r.db.Exec(ctx, query,
		p.ID, p.TenantID, p.Role, p.EntityType, p.LayoutID, p.FieldID, p.Stage, p.Visible, p.Editable,
	); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save field permission")
	}
	return nil
}

// ── users ────────────────────────────────────────────────────────────────────

func (r *CatalogRepository) GetUser(ctx context.Context, id string) (*User, error) {
	query := `SELECT id, tenant_id, role, active FROM gov_users WHERE id = $1`

	u := &User{}
	err := r.db.QueryRow(ctx, query, id).Scan(&u.ID, &u.TenantID, &u.Role, &u.Active)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("user", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user")
	}
	return u, nil
}

func (r *CatalogRepository) SaveUser(ctx context.Context, u *User) error {
	query := `
		INSERT INTO gov_users (id, tenant_id, role, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET tenant_id = EXCLUDED.tenant_id, role = EXCLUDED.role, active = EXCLUDED.active
	`
	if _, err := r.db.Exec(ctx, query, u.ID, u.TenantID, u.Role, u.Active); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save user")
	}
	return nil
}

func scanLayout(sc rowScanner) (*FormLayout, error) {
	l := &FormLayout{}
	var tabsJSON, sectionsJSON []byte
	err := sc.Scan(
		&l.ID, &l.TenantID, &l.RequestType, &l.EntityType, &l.LayoutType, &l.WorkflowStage,
		&l.IsActive, &tabsJSON, &sectionsJSON, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tabsJSON, &l.Tabs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sectionsJSON, &l.Sections); err != nil {
		return nil, err
	}
	return l, nil
}
