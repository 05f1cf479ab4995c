package repository

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-gov-workflow/internal/errors"
	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

// MemoryStore keeps workflow state and catalogs in process memory. Each
// transaction works on a private copy of the state that replaces the shared
// state on commit, so a failed transaction leaves nothing behind.
// Transactions are serialized.
type MemoryStore struct {
	txMu sync.Mutex

	mu      sync.RWMutex
	state   *memState
	layouts map[string]FormLayout
	perms   map[string]FieldPermission
	users   map[string]User
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state:   newMemState(),
		layouts: make(map[string]FormLayout),
		perms:   make(map[string]FieldPermission),
		users:   make(map[string]User),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// InTransaction runs fn against a copy of the current state and publishes
// the copy when fn succeeds.
func (s *MemoryStore) InTransaction(ctx context.Context, fn func(tx Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	work := s.state.clone()
	s.mu.RUnlock()

	if err := fn(&memTx{state: work, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = work
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) read() *memState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// The published state is never mutated after commit, so readers can use the
// snapshot without holding the lock.

func (s *MemoryStore) GetAssignment(_ context.Context, tenantID, id string) (*Assignment, error) {
	return s.read().getAssignment(tenantID, id)
}

func (s *MemoryStore) ListQuestions(_ context.Context, assignmentID string) ([]*Question, error) {
	return s.read().listQuestions(assignmentID), nil
}

func (s *MemoryStore) ListResponses(_ context.Context, assignmentID string) ([]*Response, error) {
	return s.read().listResponses(assignmentID), nil
}

func (s *MemoryStore) ListReviews(_ context.Context, assignmentID string) ([]*QuestionReview, error) {
	return s.read().listReviews(assignmentID), nil
}

func (s *MemoryStore) GetDecision(_ context.Context, id string) (*Decision, error) {
	return s.read().getDecision(id)
}

func (s *MemoryStore) ListForwards(_ context.Context, assignmentID string) ([]*ForwardRecord, error) {
	return s.read().listForwards(assignmentID), nil
}

func (s *MemoryStore) ListAudit(_ context.Context, assignmentID string) ([]*AuditEntry, error) {
	return s.read().listAudit(assignmentID), nil
}

func (s *MemoryStore) ListActionItemsForUser(_ context.Context, tenantID, userID string) ([]*ActionItem, error) {
	return s.read().listItems(func(i *ActionItem) bool {
		return i.TenantID == tenantID && i.AssignedTo == userID
	}), nil
}

func (s *MemoryStore) ListActionItemsForSource(_ context.Context, tenantID string, sourceType workflow.SourceType, sourceID string) ([]*ActionItem, error) {
	return s.read().listItemsForSource(tenantID, sourceType, sourceID), nil
}

// ── catalogs ─────────────────────────────────────────────────────────────────

func (s *MemoryStore) FindActiveLayoutByType(ctx context.Context, tenantID, requestType string, layoutType workflow.LayoutType) (*FormLayout, error) {
	return s.findLayout(ctx, func(l *FormLayout) bool {
		return l.TenantID == tenantID && l.RequestType == requestType &&
			l.LayoutType != nil && *l.LayoutType == layoutType
	})
}

func (s *MemoryStore) FindActiveLayoutByStage(ctx context.Context, tenantID, requestType string, stage workflow.Stage) (*FormLayout, error) {
	return s.findLayout(ctx, func(l *FormLayout) bool {
		return l.TenantID == tenantID && l.RequestType == requestType &&
			l.WorkflowStage != nil && *l.WorkflowStage == stage
	})
}

func (s *MemoryStore) findLayout(ctx context.Context, match func(*FormLayout) bool) (*FormLayout, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *FormLayout
	for _, l := range s.layouts {
		if !l.IsActive || !match(&l) {
			continue
		}
		if found == nil || l.UpdatedAt.After(found.UpdatedAt) ||
			(l.UpdatedAt.Equal(found.UpdatedAt) && l.ID < found.ID) {
			found = cloneLayout(&l)
		}
	}
	return found, nil
}

func (s *MemoryStore) ListFieldPermissions(ctx context.Context, tenantID, role, entityType string) ([]*FieldPermission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*FieldPermission
	for _, p := range s.perms {
		if p.TenantID == tenantID && p.Role == role && p.EntityType == entityType {
			out = append(out, clonePermission(&p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, errors.NotFound("user", id)
	}
	return &u, nil
}

// SaveLayout upserts a layout. Activating a layout deactivates any other
// active layout with the same (tenant, request type, layout type) or, for
// legacy layouts, the same (tenant, request type, stage).
func (s *MemoryStore) SaveLayout(_ context.Context, l *FormLayout) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.UpdatedAt = s.now()

	if l.IsActive {
		for id, other := range s.layouts {
			if id == l.ID || !other.IsActive || other.TenantID != l.TenantID || other.RequestType != l.RequestType {
				continue
			}
			if sameLayoutSlot(&other, l) {
				other.IsActive = false
				s.layouts[id] = other
			}
		}
	}
	s.layouts[l.ID] = *cloneLayout(l)
	return nil
}

func sameLayoutSlot(a, b *FormLayout) bool {
	if a.LayoutType != nil && b.LayoutType != nil {
		return *a.LayoutType == *b.LayoutType
	}
	if a.LayoutType == nil && b.LayoutType == nil && a.WorkflowStage != nil && b.WorkflowStage != nil {
		return *a.WorkflowStage == *b.WorkflowStage
	}
	return false
}

func (s *MemoryStore) SaveFieldPermission(_ context.Context, p *FieldPermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.perms[p.ID] = *clonePermission(p)
	return nil
}

func (s *MemoryStore) SaveUser(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = *u
	return nil
}

// ── transaction ──────────────────────────────────────────────────────────────

type memTx struct {
	state *memState
	now   func() time.Time
}

func (t *memTx) GetAssignment(_ context.Context, tenantID, id string) (*Assignment, error) {
	return t.state.getAssignment(tenantID, id)
}

func (t *memTx) ListQuestions(_ context.Context, assignmentID string) ([]*Question, error) {
	return t.state.listQuestions(assignmentID), nil
}

func (t *memTx) ListResponses(_ context.Context, assignmentID string) ([]*Response, error) {
	return t.state.listResponses(assignmentID), nil
}

func (t *memTx) ListReviews(_ context.Context, assignmentID string) ([]*QuestionReview, error) {
	return t.state.listReviews(assignmentID), nil
}

func (t *memTx) GetDecision(_ context.Context, id string) (*Decision, error) {
	return t.state.getDecision(id)
}

func (t *memTx) ListForwards(_ context.Context, assignmentID string) ([]*ForwardRecord, error) {
	return t.state.listForwards(assignmentID), nil
}

func (t *memTx) ListAudit(_ context.Context, assignmentID string) ([]*AuditEntry, error) {
	return t.state.listAudit(assignmentID), nil
}

func (t *memTx) ListActionItemsForUser(_ context.Context, tenantID, userID string) ([]*ActionItem, error) {
	return t.state.listItems(func(i *ActionItem) bool {
		return i.TenantID == tenantID && i.AssignedTo == userID
	}), nil
}

func (t *memTx) ListActionItemsForSource(_ context.Context, tenantID string, sourceType workflow.SourceType, sourceID string) ([]*ActionItem, error) {
	return t.state.listItemsForSource(tenantID, sourceType, sourceID), nil
}

// LockAssignment needs no row lock because memory transactions are serialized.
func (t *memTx) LockAssignment(_ context.Context, tenantID, id string, _ LockMode) (*Assignment, error) {
	return t.state.getAssignment(tenantID, id)
}

func (t *memTx) LockActionItemsForSource(_ context.Context, tenantID string, sourceType workflow.SourceType, sourceID string) ([]*ActionItem, error) {
	return t.state.listItemsForSource(tenantID, sourceType, sourceID), nil
}

func (t *memTx) CreateAssignment(_ context.Context, a *Assignment, questions []*Question) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if _, exists := t.state.assignments[a.ID]; exists {
		return errors.Conflict("assignment already exists: " + a.ID)
	}
	now := t.now()
	a.Version = 1
	a.CreatedAt = now
	a.UpdatedAt = now
	t.state.assignments[a.ID] = *cloneAssignment(a)

	qs := make([]Question, 0, len(questions))
	for _, q := range questions {
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		q.AssignmentID = a.ID
		qs = append(qs, *q)
	}
	sort.SliceStable(qs, func(i, j int) bool { return qs[i].Position < qs[j].Position })
	t.state.questions[a.ID] = qs
	return nil
}

func (t *memTx) UpdateAssignment(_ context.Context, a *Assignment) error {
	stored, ok := t.state.assignments[a.ID]
	if !ok || stored.TenantID != a.TenantID {
		return errors.NotFound("assignment", a.ID)
	}
	if stored.Version != a.Version {
		return errors.Conflict("assignment was modified concurrently")
	}
	a.Version++
	a.UpdatedAt = t.now()
	t.state.assignments[a.ID] = *cloneAssignment(a)
	return nil
}

func (t *memTx) UpsertResponse(_ context.Context, r *Response) error {
	r.UpdatedAt = t.now()
	byQuestion := t.state.responses[r.AssignmentID]
	if byQuestion == nil {
		byQuestion = make(map[string]Response)
		t.state.responses[r.AssignmentID] = byQuestion
	}
	byQuestion[r.QuestionID] = *r
	return nil
}

func (t *memTx) UpsertReview(_ context.Context, r *QuestionReview) error {
	if r.ReviewedAt.IsZero() {
		r.ReviewedAt = t.now()
	}
	byQuestion := t.state.reviews[r.AssignmentID]
	if byQuestion == nil {
		byQuestion = make(map[string]QuestionReview)
		t.state.reviews[r.AssignmentID] = byQuestion
	}
	byQuestion[r.QuestionID] = *r
	return nil
}

func (t *memTx) InsertDecision(_ context.Context, d *Decision) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = t.now()
	}
	t.state.decisions[d.ID] = *d
	return nil
}

func (t *memTx) AppendForward(_ context.Context, f *ForwardRecord) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = t.now()
	}
	rec := *f
	rec.QuestionIDs = slices.Clone(f.QuestionIDs)
	t.state.forwards[f.AssignmentID] = append(t.state.forwards[f.AssignmentID], rec)
	return nil
}

func (t *memTx) AppendAudit(_ context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.PerformedAt.IsZero() {
		e.PerformedAt = t.now()
	}
	rec := *e
	rec.Metadata = maps.Clone(e.Metadata)
	t.state.audit[e.AssignmentID] = append(t.state.audit[e.AssignmentID], rec)
	return nil
}

func (t *memTx) SaveActionItem(_ context.Context, item *ActionItem) error {
	now := t.now()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	t.state.items[item.ID] = *cloneItem(item)
	return nil
}

// ── state ────────────────────────────────────────────────────────────────────

type memState struct {
	assignments map[string]Assignment
	questions   map[string][]Question
	responses   map[string]map[string]Response
	reviews     map[string]map[string]QuestionReview
	decisions   map[string]Decision
	forwards    map[string][]ForwardRecord
	audit       map[string][]AuditEntry
	items       map[string]ActionItem
}

func newMemState() *memState {
	return &memState{
		assignments: make(map[string]Assignment),
		questions:   make(map[string][]Question),
		responses:   make(map[string]map[string]Response),
		reviews:     make(map[string]map[string]QuestionReview),
		decisions:   make(map[string]Decision),
		forwards:    make(map[string][]ForwardRecord),
		audit:       make(map[string][]AuditEntry),
		items:       make(map[string]ActionItem),
	}
}

func (st *memState) clone() *memState {
	c := &memState{
		assignments: maps.Clone(st.assignments),
		questions:   make(map[string][]Question, len(st.questions)),
		responses:   make(map[string]map[string]Response, len(st.responses)),
		reviews:     make(map[string]map[string]QuestionReview, len(st.reviews)),
		decisions:   maps.Clone(st.decisions),
		forwards:    make(map[string][]ForwardRecord, len(st.forwards)),
		audit:       make(map[string][]AuditEntry, len(st.audit)),
		items:       maps.Clone(st.items),
	}
	for k, v := range st.questions {
		c.questions[k] = slices.Clone(v)
	}
	for k, v := range st.responses {
		c.responses[k] = maps.Clone(v)
	}
	for k, v := range st.reviews {
		c.reviews[k] = maps.Clone(v)
	}
	for k, v := range st.forwards {
		c.forwards[k] = slices.Clone(v)
	}
	for k, v := range st.audit {
		c.audit[k] = slices.Clone(v)
	}
	return c
}

func (st *memState) getAssignment(tenantID, id string) (*Assignment, error) {
	a, ok := st.assignments[id]
	if !ok || a.TenantID != tenantID {
		return nil, errors.NotFound("assignment", id)
	}
	return cloneAssignment(&a), nil
}

func (st *memState) listQuestions(assignmentID string) []*Question {
	qs := st.questions[assignmentID]
	out := make([]*Question, 0, len(qs))
	for i := range qs {
		q := qs[i]
		out = append(out, &q)
	}
	return out
}

func (st *memState) listResponses(assignmentID string) []*Response {
	out := make([]*Response, 0, len(st.responses[assignmentID]))
	for _, r := range st.responses[assignmentID] {
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out
}

func (st *memState) listReviews(assignmentID string) []*QuestionReview {
	out := make([]*QuestionReview, 0, len(st.reviews[assignmentID]))
	for _, r := range st.reviews[assignmentID] {
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out
}

func (st *memState) getDecision(id string) (*Decision, error) {
	d, ok := st.decisions[id]
	if !ok {
		return nil, errors.NotFound("decision", id)
	}
	return &d, nil
}

func (st *memState) listForwards(assignmentID string) []*ForwardRecord {
	recs := st.forwards[assignmentID]
	out := make([]*ForwardRecord, 0, len(recs))
	for i := range recs {
		f := recs[i]
		f.QuestionIDs = slices.Clone(f.QuestionIDs)
		out = append(out, &f)
	}
	return out
}

func (st *memState) listAudit(assignmentID string) []*AuditEntry {
	recs := st.audit[assignmentID]
	out := make([]*AuditEntry, 0, len(recs))
	for i := range recs {
		e := recs[i]
		e.Metadata = maps.Clone(e.Metadata)
		out = append(out, &e)
	}
	return out
}

func (st *memState) listItems(match func(*ActionItem) bool) []*ActionItem {
	var out []*ActionItem
	for _, item := range st.items {
		if match(&item) {
			out = append(out, cloneItem(&item))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (st *memState) listItemsForSource(tenantID string, sourceType workflow.SourceType, sourceID string) []*ActionItem {
	return st.listItems(func(i *ActionItem) bool {
		return i.TenantID == tenantID && i.SourceType == sourceType && i.SourceID == sourceID
	})
}

// ── copy helpers ─────────────────────────────────────────────────────────────

func cloneAssignment(a *Assignment) *Assignment {
	c := *a
	if a.DueAt != nil {
		due := *a.DueAt
		c.DueAt = &due
	}
	if a.DecisionID != nil {
		id := *a.DecisionID
		c.DecisionID = &id
	}
	return &c
}

func cloneItem(i *ActionItem) *ActionItem {
	c := *i
	c.QuestionIDs = slices.Clone(i.QuestionIDs)
	c.Metadata = maps.Clone(i.Metadata)
	if i.DueAt != nil {
		due := *i.DueAt
		c.DueAt = &due
	}
	return &c
}

func cloneLayout(l *FormLayout) *FormLayout {
	c := *l
	c.Tabs = slices.Clone(l.Tabs)
	c.Sections = make([]LayoutSection, len(l.Sections))
	for i, sec := range l.Sections {
		sec.Fields = slices.Clone(sec.Fields)
		c.Sections[i] = sec
	}
	return &c
}

func clonePermission(p *FieldPermission) *FieldPermission {
	c := *p
	if p.LayoutID != nil {
		id := *p.LayoutID
		c.LayoutID = &id
	}
	if p.FieldID != nil {
		id := *p.FieldID
		c.FieldID = &id
	}
	return &c
}

var (
	_ Store             = (*MemoryStore)(nil)
	_ LayoutCatalog     = (*MemoryStore)(nil)
	_ PermissionCatalog = (*MemoryStore)(nil)
	_ UserDirectory     = (*MemoryStore)(nil)
	_ CatalogWriter     = (*MemoryStore)(nil)
)
