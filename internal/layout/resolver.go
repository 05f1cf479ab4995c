// Package layout builds the tab/section structure a role sees for an entity
// at a workflow stage.
package layout

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pesio-ai/be-gov-workflow/internal/errors"
	"github.com/pesio-ai/be-gov-workflow/internal/logger"
	"github.com/pesio-ai/be-gov-workflow/internal/permission"
	"github.com/pesio-ai/be-gov-workflow/internal/repository"
	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

//go:embed defaults.yaml
var defaultsYAML []byte

const genericDefaultKey = "_default"

// Source tells where a view structure came from.
type Source string

const (
	SourceLayoutType  Source = "layout_type"
	SourceLegacyStage Source = "legacy_stage"
	SourceDefault     Source = "default"
)

// ViewRequest identifies the view to build.
type ViewRequest struct {
	TenantID    string
	Role        string
	EntityType  string
	RequestType string
	Stage       workflow.Stage
	EntityID    string
}

type ViewStructure struct {
	LayoutID   string              `json:"layout_id,omitempty"`
	LayoutType workflow.LayoutType `json:"layout_type"`
	Stage      workflow.Stage      `json:"stage"`
	Source     Source              `json:"source"`
	EntityType string              `json:"entity_type"`
	EntityID   string              `json:"entity_id,omitempty"`
	Tabs       []Tab               `json:"tabs"`
	Sections   []Section           `json:"sections"`
}

type Tab struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Order int    `json:"order"`
}

type Section struct {
	ID     string  `json:"id"`
	TabID  string  `json:"tab_id"`
	Title  string  `json:"title"`
	Order  int     `json:"order"`
	Fields []Field `json:"fields"`
}

type Field struct {
	ID       string `json:"id"`
	Label    string `json:"label,omitempty"`
	Type     string `json:"type,omitempty"`
	Editable bool   `json:"editable"`
}

// Lookup finds a configured layout for a request, or returns nil, nil.
type Lookup interface {
	Source() Source
	Find(ctx context.Context, req ViewRequest, layoutType workflow.LayoutType) (*repository.FormLayout, error)
}

type byLayoutType struct{ catalog repository.LayoutCatalog }

func (byLayoutType) Source() Source { return SourceLayoutType }

func (l byLayoutType) Find(ctx context.Context, req ViewRequest, layoutType workflow.LayoutType) (*repository.FormLayout, error) {
	return l.catalog.FindActiveLayoutByType(ctx, req.TenantID, req.RequestType, layoutType)
}

// legacyStage supports tenants still configured with one layout per stage.
type legacyStage struct{ catalog repository.LayoutCatalog }

func (legacyStage) Source() Source { return SourceLegacyStage }

func (l legacyStage) Find(ctx context.Context, req ViewRequest, _ workflow.LayoutType) (*repository.FormLayout, error) {
	return l.catalog.FindActiveLayoutByStage(ctx, req.TenantID, req.RequestType, req.Stage)
}

// DefaultLookups returns the lookup chain in priority order.
func DefaultLookups(catalog repository.LayoutCatalog) []Lookup {
	return []Lookup{byLayoutType{catalog}, legacyStage{catalog}}
}

type defaultLayout struct {
	Tabs     []repository.LayoutTab     `yaml:"tabs"`
	Sections []repository.LayoutSection `yaml:"sections"`
}

// Resolver builds view structures.
type Resolver struct {
	lookups  []Lookup
	perms    *permission.Resolver
	defaults map[string]defaultLayout
	timeout  time.Duration
	log      *logger.Logger
}

// NewResolver creates a Resolver. Each catalog lookup is bounded by timeout.
func NewResolver(catalog repository.LayoutCatalog, perms *permission.Resolver, timeout time.Duration, log *logger.Logger) (*Resolver, error) {
	defaults := make(map[string]defaultLayout)
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		return nil, fmt.Errorf("layout: parse built-in defaults: %w", err)
	}
	if _, ok := defaults[genericDefaultKey]; !ok {
		return nil, fmt.Errorf("layout: built-in defaults lack %q", genericDefaultKey)
	}
	return &Resolver{
		lookups:  DefaultLookups(catalog),
		perms:    perms,
		defaults: defaults,
		timeout:  timeout,
		log:      log.Component("layout"),
	}, nil
}

// GetViewStructure resolves the layout for req and prunes it to what the
// role may see. Missing or unreachable configuration falls back to the
// built-in default for the entity type; only an unknown stage is an error.
func (r *Resolver) GetViewStructure(ctx context.Context, req ViewRequest) (*ViewStructure, error) {
	layoutType, err := workflow.ResolveLayoutType(req.Stage)
	if err != nil {
		return nil, errors.InvalidInput("stage", err.Error())
	}

	layout, source := r.find(ctx, req, layoutType)
	if layout == nil {
		layout, source = r.defaultFor(req), SourceDefault
	}

	rules := r.perms.Load(ctx, req.TenantID, req.Role, req.EntityType)

	view := &ViewStructure{
		LayoutID:   layout.ID,
		LayoutType: layoutType,
		Stage:      req.Stage,
		Source:     source,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Tabs:       orderTabs(layout.Tabs),
		Sections:   filterSections(layout, rules, req),
	}
	return view, nil
}

func (r *Resolver) find(ctx context.Context, req ViewRequest, layoutType workflow.LayoutType) (*repository.FormLayout, Source) {
	for _, lookup := range r.lookups {
		layout, err := r.findOne(ctx, lookup, req, layoutType)
		if err != nil {
			r.log.Warn().Err(err).
				Str("tenant_id", req.TenantID).
				Str("request_type", req.RequestType).
				Str("lookup", string(lookup.Source())).
				Msg("Layout lookup failed; trying next strategy")
			continue
		}
		if layout != nil {
			return layout, lookup.Source()
		}
	}
	return nil, ""
}

func (r *Resolver) findOne(ctx context.Context, lookup Lookup, req ViewRequest, layoutType workflow.LayoutType) (*repository.FormLayout, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return lookup.Find(ctx, req, layoutType)
}

func (r *Resolver) defaultFor(req ViewRequest) *repository.FormLayout {
	d, ok := r.defaults[req.EntityType]
	if !ok {
		d = r.defaults[genericDefaultKey]
	}
	return &repository.FormLayout{
		EntityType: req.EntityType,
		Tabs:       d.Tabs,
		Sections:   d.Sections,
	}
}

// orderTabs drops repeated tab ids, keeping the first, and sorts by order.
// Equal orders keep their configured sequence.
func orderTabs(in []repository.LayoutTab) []Tab {
	seen := make(map[string]struct{}, len(in))
	tabs := make([]Tab, 0, len(in))
	for _, t := range in {
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		tabs = append(tabs, Tab{ID: t.ID, Label: t.Label, Order: t.Order})
	}
	sort.SliceStable(tabs, func(i, j int) bool { return tabs[i].Order < tabs[j].Order })
	return tabs
}

// filterSections keeps the visible fields of every section and drops
// sections left with none.
func filterSections(layout *repository.FormLayout, rules *permission.RuleSet, req ViewRequest) []Section {
	sections := make([]Section, 0, len(layout.Sections))
	for _, sec := range layout.Sections {
		var fields []Field
		for _, f := range sec.Fields {
			p := rules.Resolve(permission.Query{
				TenantID:   req.TenantID,
				Role:       req.Role,
				EntityType: req.EntityType,
				Stage:      req.Stage,
				LayoutID:   layout.ID,
				FieldID:    f.ID,
			})
			if !p.Visible {
				continue
			}
			fields = append(fields, Field{ID: f.ID, Label: f.Label, Type: f.Type, Editable: p.Editable})
		}
		if len(fields) == 0 {
			continue
		}
		sections = append(sections, Section{
			ID: sec.ID, TabID: sec.TabID, Title: sec.Title, Order: sec.Order, Fields: fields,
		})
	}
	sort.SliceStable(sections, func(i, j int) bool { return sections[i].Order < sections[j].Order })
	return sections
}
