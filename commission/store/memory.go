// Package store provides in-memory implementations of the commission
// persistence interfaces, for tests and development.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/avelkins10/kin-people-sub003/commission"
)

// =============================================================================
// MEMORY STORE - Implements commission.TxStore, DealLocker, ActivityLog
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	deals       map[commission.DealID]commission.Deal
	people      map[commission.PersonID]commission.Person
	plans       map[commission.PayPlanID]commission.PayPlan
	assignments map[commission.PersonID][]commission.PlanAssignment
	rules       map[commission.PayPlanID][]commission.CommissionRule
	snapshots   map[commission.SnapshotID]commission.OrgSnapshot
	commissions map[commission.CommissionID]commission.Commission
	activity    []commission.ActivityEntry

	// txMu serializes WithTx blocks so snapshot/restore is race-free.
	txMu  sync.Mutex
	locks *dealLocks
}

func NewMemory() *Memory {
	return &Memory{
		deals:       make(map[commission.DealID]commission.Deal),
		people:      make(map[commission.PersonID]commission.Person),
		plans:       make(map[commission.PayPlanID]commission.PayPlan),
		assignments: make(map[commission.PersonID][]commission.PlanAssignment),
		rules:       make(map[commission.PayPlanID][]commission.CommissionRule),
		snapshots:   make(map[commission.SnapshotID]commission.OrgSnapshot),
		commissions: make(map[commission.CommissionID]commission.Commission),
		locks:       newDealLocks(),
	}
}

var (
	_ commission.TxStore     = (*Memory)(nil)
	_ commission.DealLocker  = (*Memory)(nil)
	_ commission.ActivityLog = (*Memory)(nil)
)

// =============================================================================
// DEALS
// =============================================================================

func (m *Memory) GetDeal(_ context.Context, id commission.DealID) (*commission.Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deals[id]
	if !ok {
		return nil, commission.ErrDealNotFound
	}
	return &d, nil
}

func (m *Memory) SaveDeal(_ context.Context, deal commission.Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deals[deal.ID] = deal
	return nil
}

func (m *Memory) ListDeals(_ context.Context) ([]commission.Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]commission.Deal, 0, len(m.deals))
	for _, d := range m.deals {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// PEOPLE
// =============================================================================

func (m *Memory) GetPerson(_ context.Context, id commission.PersonID) (*commission.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.people[id]
	if !ok {
		return nil, commission.ErrPersonNotFound
	}
	return &p, nil
}

func (m *Memory) SavePerson(_ context.Context, p commission.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.people[p.ID] = p
	return nil
}

func (m *Memory) ListPeople(_ context.Context) ([]commission.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]commission.Person, 0, len(m.people))
	for _, p := range m.people {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// PLANS, ASSIGNMENTS, RULES
// =============================================================================

func (m *Memory) GetPlan(_ context.Context, id commission.PayPlanID) (*commission.PayPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, commission.ErrPlanNotFound
	}
	return &p, nil
}

func (m *Memory) SavePlan(_ context.Context, plan commission.PayPlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.ID] = plan
	return nil
}

func (m *Memory) ListPlans(_ context.Context) ([]commission.PayPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]commission.PayPlan, 0, len(m.plans))
	for _, p := range m.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveAssignment enforces the non-overlap invariant at write time.
func (m *Memory) SaveAssignment(_ context.Context, a commission.PlanAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	replaceAt := -1
	for i, existing := range m.assignments[a.PersonID] {
		if existing.ID == a.ID {
			replaceAt = i
			continue
		}
		if existing.Overlaps(a) {
			return &commission.OverlappingAssignmentError{PersonID: a.PersonID, ExistingID: existing.ID}
		}
	}
	if replaceAt >= 0 {
		m.assignments[a.PersonID][replaceAt] = a
	} else {
		m.assignments[a.PersonID] = append(m.assignments[a.PersonID], a)
	}
	sort.Slice(m.assignments[a.PersonID], func(i, j int) bool {
		return m.assignments[a.PersonID][i].EffectiveDate.Before(m.assignments[a.PersonID][j].EffectiveDate)
	})
	return nil
}

func (m *Memory) AssignmentsForPerson(_ context.Context, id commission.PersonID) ([]commission.PlanAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]commission.PlanAssignment, len(m.assignments[id]))
	copy(out, m.assignments[id])
	return out, nil
}

func (m *Memory) SaveRule(_ context.Context, r commission.CommissionRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.rules[r.PayPlanID] {
		if existing.ID == r.ID {
			m.rules[r.PayPlanID][i] = r
			return nil
		}
	}
	m.rules[r.PayPlanID] = append(m.rules[r.PayPlanID], r)
	return nil
}

func (m *Memory) RulesForPlan(_ context.Context, id commission.PayPlanID) ([]commission.CommissionRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]commission.CommissionRule, len(m.rules[id]))
	copy(out, m.rules[id])
	return out, nil
}

// =============================================================================
// SNAPSHOTS (append-only)
// =============================================================================

func (m *Memory) AppendSnapshot(_ context.Context, s commission.OrgSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.ID] = s
	return nil
}

func (m *Memory) GetSnapshot(_ context.Context, id commission.SnapshotID) (*commission.OrgSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[id]
	if !ok {
		return nil, commission.ErrSnapshotNotFound
	}
	return &s, nil
}

// =============================================================================
// COMMISSIONS
// =============================================================================

func (m *Memory) CommissionsForDeal(_ context.Context, id commission.DealID) ([]commission.Commission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []commission.Commission
	for _, c := range m.commissions {
		if c.DealID == id {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) InsertCommissions(_ context.Context, rows []commission.Commission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		m.commissions[row.ID] = row
	}
	return nil
}

func (m *Memory) DeleteCommissions(_ context.Context, ids []commission.CommissionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.commissions, id)
	}
	return nil
}

// UpdateCommissionStatus flips a row's status. Test and demo helper for
// the approval workflow that owns status transitions in production.
func (m *Memory) UpdateCommissionStatus(_ context.Context, id commission.CommissionID, status commission.CommissionStatus, reason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.commissions[id]
	if !ok {
		return commission.ErrCommissionNotFound
	}
	row.Status = status
	row.StatusReason = reason
	m.commissions[id] = row
	return nil
}

// =============================================================================
// TRANSACTIONS - Snapshot/restore gives all-or-nothing semantics
// =============================================================================

func (m *Memory) WithTx(_ context.Context, fn func(commission.Stores) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	undo := m.cloneState()
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.restoreState(undo)
		m.mu.Unlock()
		return err
	}
	return nil
}

type memoryState struct {
	snapshots   map[commission.SnapshotID]commission.OrgSnapshot
	commissions map[commission.CommissionID]commission.Commission
}

func (m *Memory) cloneState() memoryState {
	st := memoryState{
		snapshots:   make(map[commission.SnapshotID]commission.OrgSnapshot, len(m.snapshots)),
		commissions: make(map[commission.CommissionID]commission.Commission, len(m.commissions)),
	}
	for k, v := range m.snapshots {
		st.snapshots[k] = v
	}
	for k, v := range m.commissions {
		st.commissions[k] = v
	}
	return st
}

func (m *Memory) restoreState(st memoryState) {
	m.snapshots = st.snapshots
	m.commissions = st.commissions
}

// =============================================================================
// DEAL LOCKS - Keyed advisory locks
// =============================================================================

func (m *Memory) AcquireDealLock(ctx context.Context, id commission.DealID) (func(), error) {
	return m.locks.acquire(ctx, id)
}

type dealLocks struct {
	mu   sync.Mutex
	held map[commission.DealID]chan struct{}
}

func newDealLocks() *dealLocks {
	return &dealLocks{held: make(map[commission.DealID]chan struct{})}
}

// acquire blocks until the lock is free or ctx expires. A context
// expiry surfaces as ErrConcurrentRecalculation: the caller's bounded
// wait ran out while another recalculation held the deal.
func (l *dealLocks) acquire(ctx context.Context, id commission.DealID) (func(), error) {
	for {
		l.mu.Lock()
		waiter, occupied := l.held[id]
		if !occupied {
			ch := make(chan struct{})
			l.held[id] = ch
			l.mu.Unlock()

			var once sync.Once
			release := func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, id)
					l.mu.Unlock()
					close(ch)
				})
			}
			return release, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, commission.ErrConcurrentRecalculation
		case <-waiter:
			// Holder released; retry.
		}
	}
}

// =============================================================================
// ACTIVITY LOG
// =============================================================================

func (m *Memory) AppendActivity(_ context.Context, e commission.ActivityEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity = append(m.activity, e)
	return nil
}

func (m *Memory) ActivityForEntity(_ context.Context, entityType, entityID string) ([]commission.ActivityEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []commission.ActivityEntry
	for _, e := range m.activity {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) ActivityForDeal(_ context.Context, id commission.DealID) ([]commission.ActivityEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []commission.ActivityEntry
	for _, e := range m.activity {
		if dealID, ok := e.Details["deal_id"].(string); ok && dealID == string(id) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Reset clears all stored data. Used by scenario loaders.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deals = make(map[commission.DealID]commission.Deal)
	m.people = make(map[commission.PersonID]commission.Person)
	m.plans = make(map[commission.PayPlanID]commission.PayPlan)
	m.assignments = make(map[commission.PersonID][]commission.PlanAssignment)
	m.rules = make(map[commission.PayPlanID][]commission.CommissionRule)
	m.snapshots = make(map[commission.SnapshotID]commission.OrgSnapshot)
	m.commissions = make(map[commission.CommissionID]commission.Commission)
	m.activity = nil
	return nil
}
