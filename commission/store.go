/*
store.go - Persistence interfaces for the commission engine

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  DealStore:       Deals (read by the engine, written by sales/ops)
  PersonStore:     People and the reportsTo graph (read-only to the engine)
  PlanStore:       Pay plans, temporal assignments, commission rules
  SnapshotStore:   Org snapshots (append-only, never mutated or deduplicated)
  CommissionStore: Commission rows (read for reconciliation, write for state)
  TxStore:         Transactional composition of all of the above
  DealLocker:      Per-deal advisory lock for safe concurrent recalculation
  ActivityLog:     Append-only audit mirror (fire-and-forget)

WRITE-TIME INVARIANTS:
  SaveAssignment rejects overlapping date ranges for the same person
  (ErrOverlappingAssignment). Enforcing the interval invariant at write
  time keeps the resolver a simple, total lookup.

  AppendSnapshot is append-only: no update or delete exists. Snapshots
  referenced by commission calc details must stay readable forever.

IMPLEMENTATIONS:
  - commission/store/memory.go: in-memory, for tests and dev
  - store/sqlite/sqlite.go:     production SQLite (WAL)

SEE ALSO:
  - recalc.go: the only consumer of TxStore.WithTx
*/
package commission

import (
	"context"
	"time"
)

// =============================================================================
// READ-SIDE STORES
// =============================================================================

// DealStore provides access to deals. The engine only reads deals;
// SaveDeal exists for seeding and the surrounding system's write path.
type DealStore interface {
	GetDeal(ctx context.Context, id DealID) (*Deal, error)
	SaveDeal(ctx context.Context, deal Deal) error
	ListDeals(ctx context.Context) ([]Deal, error)
}

// PersonStore provides access to people and the reporting graph.
type PersonStore interface {
	GetPerson(ctx context.Context, id PersonID) (*Person, error)
	SavePerson(ctx context.Context, p Person) error
	ListPeople(ctx context.Context) ([]Person, error)
}

// PlanStore provides access to pay plans, their rules, and the temporal
// person-to-plan assignments.
type PlanStore interface {
	GetPlan(ctx context.Context, id PayPlanID) (*PayPlan, error)
	SavePlan(ctx context.Context, plan PayPlan) error
	ListPlans(ctx context.Context) ([]PayPlan, error)

	// SaveAssignment persists a temporal binding. Returns
	// ErrOverlappingAssignment if the range intersects an existing
	// assignment for the same person.
	SaveAssignment(ctx context.Context, a PlanAssignment) error

	// AssignmentsForPerson returns all assignments for a person,
	// any date range, ordered by EffectiveDate ascending.
	AssignmentsForPerson(ctx context.Context, id PersonID) ([]PlanAssignment, error)

	// SaveRule persists a commission rule after shape validation.
	SaveRule(ctx context.Context, r CommissionRule) error

	// RulesForPlan returns all rules of a plan, active or not.
	RulesForPlan(ctx context.Context, id PayPlanID) ([]CommissionRule, error)
}

// =============================================================================
// WRITE-SIDE STORES
// =============================================================================

// SnapshotStore persists org snapshots. Append-only: no update, no delete.
type SnapshotStore interface {
	AppendSnapshot(ctx context.Context, s OrgSnapshot) error
	GetSnapshot(ctx context.Context, id SnapshotID) (*OrgSnapshot, error)
}

// CommissionStore persists commission rows.
type CommissionStore interface {
	// CommissionsForDeal returns every commission row for a deal,
	// ordered by CreatedAt then ID for stable reads.
	CommissionsForDeal(ctx context.Context, id DealID) ([]Commission, error)

	// InsertCommissions writes new rows.
	InsertCommissions(ctx context.Context, rows []Commission) error

	// DeleteCommissions removes rows by ID. The coordinator only ever
	// passes IDs of rows in replaceable statuses (pending, held).
	DeleteCommissions(ctx context.Context, ids []CommissionID) error
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// Stores aggregates every store the coordinator touches.
type Stores interface {
	DealStore
	PersonStore
	PlanStore
	SnapshotStore
	CommissionStore
}

// TxStore wraps Stores with transaction support.
//
// WithTx executes fn against a transactional view of the stores.
// If fn returns an error the transaction is rolled back and nothing
// changes; otherwise everything commits together. The recalculation
// coordinator is the only component allowed to open a transaction.
type TxStore interface {
	Stores
	WithTx(ctx context.Context, fn func(Stores) error) error
}

// =============================================================================
// DEAL LOCK - Correctness under concurrent recalculation
// =============================================================================

// DealLocker serializes recalculations of the same deal. Recalculations
// of different deals are independent and may run in parallel.
//
// Acquire blocks until the lock is free or ctx is done; a bounded caller
// context turns contention into ErrConcurrentRecalculation.
type DealLocker interface {
	AcquireDealLock(ctx context.Context, id DealID) (release func(), err error)
}

// =============================================================================
// ACTIVITY LOG - Append-only audit mirror, separate from commissions
// =============================================================================

type ActivityAction string

const (
	ActivityCreated ActivityAction = "created"
	ActivityVoided  ActivityAction = "voided"
)

// ActivityEntry mirrors one commission write into the audit trail.
// The engine writes EntityType "commission" with the commission row as
// the entity; Details carries the deal_id so a per-deal trail stays
// queryable.
type ActivityEntry struct {
	ID         string
	At         time.Time
	EntityType string
	EntityID   string
	Action     ActivityAction
	Details    map[string]any
	ActorID    *string // nil = system-triggered
}

// ActivityLog is a fire-and-forget collaborator: an append failure is
// logged by the caller and never aborts a calculation.
type ActivityLog interface {
	AppendActivity(ctx context.Context, e ActivityEntry) error
	ActivityForEntity(ctx context.Context, entityType, entityID string) ([]ActivityEntry, error)
	// ActivityForDeal returns entries whose details reference the deal,
	// ordered by time then ID.
	ActivityForDeal(ctx context.Context, id DealID) ([]ActivityEntry, error)
}
