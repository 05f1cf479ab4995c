package permission

import "github.com/pesio-ai/be-gov-workflow/internal/repository"

type layoutOverride struct{}

func (layoutOverride) Tier() Tier { return TierLayout }

func (layoutOverride) Resolve(q Query, rules []*repository.FieldPermission) (Permission, bool) {
	if q.LayoutID == "" {
		return Permission{}, false
	}
	return pick(TierLayout, q, rules, func(r *repository.FieldPermission) bool {
		return r.LayoutID != nil && *r.LayoutID == q.LayoutID &&
			r.FieldID != nil && *r.FieldID == q.FieldID
	})
}

type fieldOverride struct{}

func (fieldOverride) Tier() Tier { return TierField }

func (fieldOverride) Resolve(q Query, rules []*repository.FieldPermission) (Permission, bool) {
	return pick(TierField, q, rules, func(r *repository.FieldPermission) bool {
		return r.LayoutID == nil && r.FieldID != nil && *r.FieldID == q.FieldID
	})
}

type entityBaseline struct{}

func (entityBaseline) Tier() Tier { return TierEntity }

func (entityBaseline) Resolve(q Query, rules []*repository.FieldPermission) (Permission, bool) {
	return pick(TierEntity, q, rules, func(r *repository.FieldPermission) bool {
		return r.FieldID == nil && (r.LayoutID == nil || *r.LayoutID == q.LayoutID)
	})
}

// pick selects among the rules of one tier. Exact-stage rules shadow
// wildcard rules. Several rules at the same specificity combine
// restrictively: a capability holds only if every such rule grants it.
func pick(tier Tier, q Query, rules []*repository.FieldPermission, inTier func(*repository.FieldPermission) bool) (Permission, bool) {
	var exact, wildcard []*repository.FieldPermission
	for _, r := range rules {
		if r.EntityType != q.EntityType || !inTier(r) {
			continue
		}
		switch r.Stage {
		case string(q.Stage):
			exact = append(exact, r)
		case repository.StageWildcard, "":
			wildcard = append(wildcard, r)
		}
	}

	chosen := exact
	if len(chosen) == 0 {
		chosen = wildcard
	}
	if len(chosen) == 0 {
		return Permission{}, false
	}

	p := Permission{Visible: true, Editable: true, Tier: tier}
	for _, r := range chosen {
		p.Visible = p.Visible && r.Visible
		p.Editable = p.Editable && r.Editable
	}
	return p, true
}
