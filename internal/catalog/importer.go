// Package catalog loads layout, permission and user records from a YAML
// document into a catalog store.
package catalog

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/pesio-ai/be-gov-workflow/internal/repository"
	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

// Document is the on-disk catalog format.
type Document struct {
	Layouts     []*repository.FormLayout      `yaml:"layouts"`
	Permissions []*repository.FieldPermission `yaml:"permissions"`
	Users       []*repository.User            `yaml:"users"`
}

// Result counts what an import wrote.
type Result struct {
	Layouts     int
	Permissions int
	Users       int
}

// Parse decodes a catalog document and validates every record.
func Parse(r io.Reader) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Import parses r and writes its records to w. Records without an ID get a
// generated one.
func Import(ctx context.Context, r io.Reader, w repository.CatalogWriter) (*Result, error) {
	doc, err := Parse(r)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, u := range doc.Users {
		if err := w.SaveUser(ctx, u); err != nil {
			return res, fmt.Errorf("save user %s: %w", u.ID, err)
		}
		res.Users++
	}
	for _, l := range doc.Layouts {
		if l.ID == "" {
			l.ID = uuid.NewString()
		}
		if err := w.SaveLayout(ctx, l); err != nil {
			return res, fmt.Errorf("save layout %s: %w", l.ID, err)
		}
		res.Layouts++
	}
	for _, p := range doc.Permissions {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if err := w.SaveFieldPermission(ctx, p); err != nil {
			return res, fmt.Errorf("save permission %s: %w", p.ID, err)
		}
		res.Permissions++
	}
	return res, nil
}

func (d *Document) validate() error {
	for i, u := range d.Users {
		if u == nil || u.ID == "" || u.TenantID == "" {
			return fmt.Errorf("users[%d]: id and tenant_id are required", i)
		}
	}
	for i, l := range d.Layouts {
		if l == nil || l.TenantID == "" || l.RequestType == "" {
			return fmt.Errorf("layouts[%d]: tenant_id and request_type are required", i)
		}
		if (l.LayoutType == nil) == (l.WorkflowStage == nil) {
			return fmt.Errorf("layouts[%d]: exactly one of layout_type or workflow_stage must be set", i)
		}
		if l.LayoutType != nil {
			if _, err := workflow.ParseLayoutType(string(*l.LayoutType)); err != nil {
				return fmt.Errorf("layouts[%d]: %w", i, err)
			}
		}
		if l.WorkflowStage != nil {
			if _, err := workflow.ParseStage(string(*l.WorkflowStage)); err != nil {
				return fmt.Errorf("layouts[%d]: %w", i, err)
			}
		}
	}
	for i, p := range d.Permissions {
		if p == nil || p.TenantID == "" || p.Role == "" || p.EntityType == "" {
			return fmt.Errorf("permissions[%d]: tenant_id, role and entity_type are required", i)
		}
		if strings.TrimSpace(p.Stage) == "" {
			p.Stage = repository.StageWildcard
		}
		if p.Stage != repository.StageWildcard {
			if _, err := workflow.ParseStage(p.Stage); err != nil {
				return fmt.Errorf("permissions[%d]: %w", i, err)
			}
		}
	}
	return nil
}
