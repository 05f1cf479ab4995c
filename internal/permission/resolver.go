// Package permission resolves field visibility and editability for a role at
// a workflow stage.
//
// Rules come in three tiers evaluated in order: a layout-specific override
// (layout id and field id), a field-level override (field id only) and an
// entity-level baseline (no field id). The first tier with a matching rule
// decides; within a tier a rule for the exact stage beats a "*" rule. When no
// tier matches, the field is hidden and read-only.
package permission

import (
	"context"
	"time"

	"github.com/pesio-ai/be-gov-workflow/internal/logger"
	"github.com/pesio-ai/be-gov-workflow/internal/repository"
	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

// Tier names the rule tier that produced a permission.
type Tier string

const (
	TierLayout  Tier = "layout"
	TierField   Tier = "field"
	TierEntity  Tier = "entity"
	TierDefault Tier = "default"
)

// Query identifies one field at one stage for one role.
type Query struct {
	TenantID   string
	Role       string
	EntityType string
	Stage      workflow.Stage
	LayoutID   string // empty for built-in default layouts
	FieldID    string
}

// Permission is the resolved outcome for one field.
type Permission struct {
	Visible  bool `json:"visible"`
	Editable bool `json:"editable"`
	Tier     Tier `json:"tier"`
}

var denied = Permission{Tier: TierDefault}

// Strategy resolves a query against a rule set, reporting false when it has
// no opinion.
type Strategy interface {
	Tier() Tier
	Resolve(q Query, rules []*repository.FieldPermission) (Permission, bool)
}

// DefaultStrategies returns the tiers in precedence order.
func DefaultStrategies() []Strategy {
	return []Strategy{layoutOverride{}, fieldOverride{}, entityBaseline{}}
}

// Resolver evaluates field permissions with rules loaded from a catalog.
type Resolver struct {
	catalog    repository.PermissionCatalog
	strategies []Strategy
	timeout    time.Duration
	log        *logger.Logger
}

// NewResolver creates a Resolver. Catalog reads are bounded by timeout.
func NewResolver(catalog repository.PermissionCatalog, timeout time.Duration, log *logger.Logger) *Resolver {
	return &Resolver{
		catalog:    catalog,
		strategies: DefaultStrategies(),
		timeout:    timeout,
		log:        log.Component("permission"),
	}
}

// Resolve loads the rules for q's role and resolves a single field.
func (r *Resolver) Resolve(ctx context.Context, q Query) Permission {
	return r.Load(ctx, q.TenantID, q.Role, q.EntityType).Resolve(q)
}

// Load fetches the rules of one role for one entity type. A catalog failure
// yields an empty rule set, so every field falls back to deny.
func (r *Resolver) Load(ctx context.Context, tenantID, role, entityType string) *RuleSet {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	rules, err := r.catalog.ListFieldPermissions(ctx, tenantID, role, entityType)
	if err != nil {
		r.log.Warn().Err(err).
			Str("tenant_id", tenantID).
			Str("role", role).
			Str("entity_type", entityType).
			Msg("Permission catalog unavailable; denying by default")
		rules = nil
	}
	return &RuleSet{rules: rules, strategies: r.strategies}
}

// RuleSet is the rule list of one role, ready for per-field evaluation.
type RuleSet struct {
	rules      []*repository.FieldPermission
	strategies []Strategy
}

// NewRuleSet builds a rule set with the default strategies.
func NewRuleSet(rules []*repository.FieldPermission) *RuleSet {
	return &RuleSet{rules: rules, strategies: DefaultStrategies()}
}

// Resolve returns the permission for one field. It never fails.
func (rs *RuleSet) Resolve(q Query) Permission {
	p := denied
	for _, s := range rs.strategies {
		if got, ok := s.Resolve(q, rs.rules); ok {
			p = got
			break
		}
	}
	if !p.Visible {
		p.Editable = false
	}
	if lt, err := workflow.ResolveLayoutType(q.Stage); err == nil && lt == workflow.LayoutCompleted {
		p.Editable = false
	}
	return p
}
