package services

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/adpilot/pkg/adapters/ads"
	"github.com/ekaya-inc/adpilot/pkg/apperrors"
	"github.com/ekaya-inc/adpilot/pkg/models"
	"github.com/ekaya-inc/adpilot/pkg/repositories"
)

// mockChangeRecordRepository is an in-memory ChangeRecordRepository with the
// same conditional transition semantics as the Postgres implementation.
type mockChangeRecordRepository struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.ChangeRecord
	order   []uuid.UUID
	clock   time.Time

	createBatchErr error
	transitionErr  error
	listErr        error
	// beforeTransition runs before each Transition, outside the lock.
	beforeTransition func(id uuid.UUID)
}

var _ repositories.ChangeRecordRepository = (*mockChangeRecordRepository)(nil)

func newMockChangeRecordRepository() *mockChangeRecordRepository {
	return &mockChangeRecordRepository{
		records: make(map[uuid.UUID]*models.ChangeRecord),
		clock:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// add stores a record as is, assigning an id and a strictly increasing creation time.
func (m *mockChangeRecordRepository) add(rec *models.ChangeRecord) *models.ChangeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertLocked(rec)
	return rec
}

func (m *mockChangeRecordRepository) insertLocked(rec *models.ChangeRecord) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = models.ChangeStatusPending
	}
	if rec.Source == "" {
		rec.Source = models.ChangeSourceManual
	}
	m.clock = m.clock.Add(time.Second)
	rec.CreatedAt = m.clock
	rec.UpdatedAt = m.clock
	cp := *rec
	m.records[rec.ID] = &cp
	m.order = append(m.order, rec.ID)
}

func (m *mockChangeRecordRepository) get(id uuid.UUID) *models.ChangeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

func (m *mockChangeRecordRepository) Create(ctx context.Context, rec *models.ChangeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertLocked(rec)
	return nil
}

func (m *mockChangeRecordRepository) CreateBatch(ctx context.Context, recs []*models.ChangeRecord) error {
	if m.createBatchErr != nil {
		return m.createBatchErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		m.insertLocked(rec)
	}
	return nil
}

func (m *mockChangeRecordRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ChangeRecord, error) {
	return m.get(id), nil
}

func matchesFilter(rec *models.ChangeRecord, f models.ChangeFilter) bool {
	if f.CredentialID != nil && rec.CredentialID != *f.CredentialID {
		return false
	}
	if f.ProfileID != "" && rec.ProfileID != nil && *rec.ProfileID != f.ProfileID {
		return false
	}
	if f.Status != "" && rec.Status != f.Status {
		return false
	}
	if f.ChangeType != "" && rec.ChangeType != f.ChangeType {
		return false
	}
	if f.Source != "" && rec.Source != f.Source {
		return false
	}
	if f.BatchID != "" && rec.BatchID != f.BatchID {
		return false
	}
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, rec.ID) {
		return false
	}
	return true
}

func (m *mockChangeRecordRepository) List(ctx context.Context, filter models.ChangeFilter) ([]*models.ChangeRecord, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.ChangeRecord
	for _, id := range m.order {
		rec, ok := m.records[id]
		if !ok || !matchesFilter(rec, filter) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	if !filter.OldestFirst {
		slices.Reverse(out)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *mockChangeRecordRepository) Summary(ctx context.Context, filter models.ChangeFilter) (*models.ChangeSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	scope := models.ChangeFilter{CredentialID: filter.CredentialID, ProfileID: filter.ProfileID}
	s := &models.ChangeSummary{ByStatus: map[string]int{}, ByType: map[string]int{}, BySource: map[string]int{}}
	for _, rec := range m.records {
		if !matchesFilter(rec, scope) {
			continue
		}
		s.ByStatus[rec.Status]++
		if rec.Status == models.ChangeStatusPending {
			s.ByType[rec.ChangeType]++
			s.BySource[rec.Source]++
		}
	}
	s.TotalPending = s.ByStatus[models.ChangeStatusPending]
	s.TotalApproved = s.ByStatus[models.ChangeStatusApproved]
	s.TotalRejected = s.ByStatus[models.ChangeStatusRejected]
	s.TotalApplied = s.ByStatus[models.ChangeStatusApplied]
	s.TotalFailed = s.ByStatus[models.ChangeStatusFailed]
	return s, nil
}

func applyUpdate(rec *models.ChangeRecord, to string, u models.StatusUpdate) {
	rec.Status = to
	if u.ReviewedAt != nil {
		rec.ReviewedAt = u.ReviewedAt
	}
	if u.ReviewNote != nil {
		rec.ReviewNote = *u.ReviewNote
	}
	if u.AppliedAt != nil {
		rec.AppliedAt = u.AppliedAt
	}
	if u.ApplyResult != nil {
		rec.ApplyResult = u.ApplyResult
	}
	if u.ErrorMessage != nil {
		rec.ErrorMessage = *u.ErrorMessage
	}
}

func (m *mockChangeRecordRepository) Transition(ctx context.Context, id uuid.UUID, from, to string, update models.StatusUpdate) (*models.ChangeRecord, error) {
	if !models.CanTransition(from, to) {
		return nil, apperrors.InvalidStatef("cannot move a change from %s to %s", from, to)
	}
	if m.beforeTransition != nil {
		m.beforeTransition(id)
	}
	if m.transitionErr != nil {
		return nil, m.transitionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok || rec.Status != from {
		return nil, nil
	}
	applyUpdate(rec, to, update)
	cp := *rec
	return &cp, nil
}

func (m *mockChangeRecordRepository) TransitionMany(ctx context.Context, ids []uuid.UUID, from, to string, update models.StatusUpdate) ([]uuid.UUID, error) {
	if !models.CanTransition(from, to) {
		return nil, apperrors.InvalidStatef("cannot move a change from %s to %s", from, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var moved []uuid.UUID
	for _, id := range ids {
		rec, ok := m.records[id]
		if !ok || rec.Status != from {
			continue
		}
		applyUpdate(rec, to, update)
		moved = append(moved, id)
	}
	return moved, nil
}

func (m *mockChangeRecordRepository) DeleteIfStatus(ctx context.Context, id uuid.UUID, statuses []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok || !slices.Contains(statuses, rec.Status) {
		return false, nil
	}
	delete(m.records, id)
	return true, nil
}

// mockActivityRecorder captures recorded activity.
type mockActivityRecorder struct {
	mu      sync.Mutex
	entries []*models.ActivityEntry
}

var _ ActivityRecorder = (*mockActivityRecorder)(nil)

func (m *mockActivityRecorder) Record(ctx context.Context, entry *models.ActivityEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

func (m *mockActivityRecorder) ListRecent(ctx context.Context, credentialID *uuid.UUID, limit int) ([]*models.ActivityEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries), nil
}

func (m *mockActivityRecorder) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}

// invocation is one call seen by scriptedConn.
type invocation struct {
	Operation string
	Args      map[string]any
}

// scriptedConn is an ads.Conn that answers each operation from a handler.
type scriptedConn struct {
	mu      sync.Mutex
	calls   []invocation
	handler func(operation string, args map[string]any) (map[string]any, error)
	closed  bool
}

var _ ads.Conn = (*scriptedConn)(nil)

func (c *scriptedConn) Invoke(ctx context.Context, operation string, args map[string]any) (map[string]any, error) {
	c.mu.Lock()
	c.calls = append(c.calls, invocation{Operation: operation, Args: args})
	c.mu.Unlock()
	if c.handler == nil {
		return map[string]any{}, nil
	}
	return c.handler(operation, args)
}

func (c *scriptedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *scriptedConn) operations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	for i, call := range c.calls {
		out[i] = call.Operation
	}
	return out
}

func (c *scriptedConn) callsTo(operation string) []invocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []invocation
	for _, call := range c.calls {
		if call.Operation == operation {
			out = append(out, call)
		}
	}
	return out
}

func newTestSession(conn *scriptedConn) *ads.Session {
	return ads.NewSession(conn, 0, zap.NewNop())
}

// mockSessionFactory hands out sessions over one scripted connection.
type mockSessionFactory struct {
	conn      *scriptedConn
	openErr   error
	scopeErrs map[uuid.UUID]error
	scopes    []models.Scope
}

var _ ads.SessionFactory = (*mockSessionFactory)(nil)

func (f *mockSessionFactory) Open(ctx context.Context, scope models.Scope) (*ads.Session, error) {
	f.scopes = append(f.scopes, scope)
	if f.openErr != nil {
		return nil, f.openErr
	}
	if err := f.scopeErrs[scope.CredentialID]; err != nil {
		return nil, err
	}
	return newTestSession(f.conn), nil
}

// targetsBody returns the body.targets entries of a create/update call.
func targetsBody(args map[string]any) []map[string]any {
	body, _ := args["body"].(map[string]any)
	items, _ := body["targets"].([]any)
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
