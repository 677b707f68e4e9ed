/*
recalc.go - Recalculation coordinator

PURPOSE:
  Orchestrates a full recompute for one deal: build org snapshots for the
  setter and closer, resolve pay plans, match rules, evaluate, then
  reconcile the freshly computed lines against any pre-existing commission
  rows for the deal - all inside one transaction.

STATE MACHINE (per deal):
  Start -> Computed:   pure reads; snapshots built, plans resolved,
                       lines evaluated. Any inner error aborts here with
                       zero writes.
  Computed -> Reconciled:
                       rows in pending/held are deleted and replaced
                       wholesale; rows in approved/paid/void are protected
                       (a human decision already happened) and never
                       touched. A computed line colliding with an
                       approved/paid (person, rule) row is skipped and
                       reported as a Discrepancy instead of double-paying.
  Reconciled -> Committed:
                       snapshots, deletes, and inserts commit atomically.
                       Terminal; there is no partial-success state.

CONCURRENCY:
  A per-deal advisory lock covers Start -> Committed. Two concurrent
  recalculations of the same deal never interleave reads with writes; the
  second either waits or gets ErrConcurrentRecalculation when its bounded
  wait expires. Different deals proceed fully in parallel.

AUDIT:
  Every committed write is mirrored into the activity log, fire and
  forget: an audit failure is logged, never propagated.
*/
package commission

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// DefaultLockWait bounds how long a recalculation waits for the per-deal
// lock before giving up with ErrConcurrentRecalculation.
const DefaultLockWait = 5 * time.Second

// Coordinator runs recalculations. The only component that opens a
// transaction; everything below it either reads or computes.
type Coordinator struct {
	Store    TxStore
	Locker   DealLocker
	Activity ActivityLog // optional

	MaxChainDepth int           // 0 = DefaultMaxChainDepth
	LockWait      time.Duration // 0 = DefaultLockWait

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Recalculate recomputes every commission line for the deal and
// reconciles against existing rows. Safe to call repeatedly: recomputing
// an unchanged deal replaces pending rows with equal values, and never
// alters approved, paid, or void rows.
func (c *Coordinator) Recalculate(ctx context.Context, dealID DealID) (*Result, error) {
	release, err := c.acquireLock(ctx, dealID)
	if err != nil {
		return nil, err
	}
	defer release()

	deal, err := c.Store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, err
	}

	// Start -> Computed: pure reads.
	snapshots, err := c.buildSnapshots(ctx, deal)
	if err != nil {
		return nil, err
	}

	evaluator := &Evaluator{
		People:   c.Store,
		Resolver: &PlanResolver{Plans: c.Store},
		Matcher:  &RuleMatcher{Plans: c.Store},
		Now:      c.Now,
	}
	computed, err := evaluator.Evaluate(ctx, deal, snapshots)
	if err != nil {
		return nil, err
	}

	// Computed -> Reconciled -> Committed: one transaction.
	var (
		inserted      []Commission
		deleted       []Commission
		discrepancies []Discrepancy
	)
	err = c.Store.WithTx(ctx, func(s Stores) error {
		for _, snap := range distinctSnapshots(snapshots) {
			if err := s.AppendSnapshot(ctx, *snap); err != nil {
				return err
			}
		}

		existing, err := s.CommissionsForDeal(ctx, dealID)
		if err != nil {
			return err
		}

		plan := reconcile(dealID, computed, existing)
		inserted = plan.insert
		deleted = plan.delete
		discrepancies = plan.discrepancies

		if len(plan.delete) > 0 {
			ids := make([]CommissionID, len(plan.delete))
			for i, row := range plan.delete {
				ids[i] = row.ID
			}
			if err := s.DeleteCommissions(ctx, ids); err != nil {
				return err
			}
		}
		if len(plan.insert) > 0 {
			if err := s.InsertCommissions(ctx, plan.insert); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logActivity(ctx, deleted, inserted)

	return &Result{
		DealID:        dealID,
		Written:       len(inserted),
		Commissions:   inserted,
		Discrepancies: discrepancies,
	}, nil
}

// acquireLock waits up to LockWait for the per-deal lock.
func (c *Coordinator) acquireLock(ctx context.Context, dealID DealID) (func(), error) {
	wait := c.LockWait
	if wait <= 0 {
		wait = DefaultLockWait
	}
	lockCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return c.Locker.AcquireDealLock(lockCtx, dealID)
}

// buildSnapshots captures the setter's and closer's chains as of the
// deal's close date. A self-gen deal where setter == closer shares one
// snapshot; otherwise each participant gets their own.
func (c *Coordinator) buildSnapshots(ctx context.Context, deal *Deal) (map[PersonID]*OrgSnapshot, error) {
	builder := &SnapshotBuilder{People: c.Store, MaxDepth: c.MaxChainDepth}

	snapshots := make(map[PersonID]*OrgSnapshot)
	for _, root := range []PersonID{deal.SetterID, deal.CloserID} {
		if _, ok := snapshots[root]; ok {
			continue
		}
		snap, err := builder.Build(ctx, root, deal.CloseDate)
		if err != nil {
			return nil, err
		}
		snapshots[root] = snap
	}
	return snapshots, nil
}

func distinctSnapshots(m map[PersonID]*OrgSnapshot) []*OrgSnapshot {
	seen := make(map[SnapshotID]bool)
	var out []*OrgSnapshot
	for _, s := range m {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		out = append(out, s)
	}
	return out
}

// =============================================================================
// RECONCILIATION
// =============================================================================

type reconcilePlan struct {
	insert        []Commission
	delete        []Commission
	discrepancies []Discrepancy
}

// reconcile diffs the freshly computed lines against the deal's existing
// rows.
//
// Approved/paid rows block a recomputed (person, rule) line: the new line
// is skipped with a discrepancy note rather than silently creating a
// second payment for the same rule. Void rows are protected from change
// but do not block: a voided payout is terminally dead, so a fresh line
// for the same rule still leaves at most one non-void row.
func reconcile(dealID DealID, computed, existing []Commission) reconcilePlan {
	var plan reconcilePlan

	blocking := make(map[PersonID]map[RuleID]Commission)
	for _, row := range existing {
		switch {
		case row.Status.Replaceable():
			plan.delete = append(plan.delete, row)
		case row.Status == StatusApproved || row.Status == StatusPaid:
			if blocking[row.PersonID] == nil {
				blocking[row.PersonID] = make(map[RuleID]Commission)
			}
			blocking[row.PersonID][row.RuleID] = row
		}
	}

	for _, line := range computed {
		if prior, ok := blocking[line.PersonID][line.RuleID]; ok {
			plan.discrepancies = append(plan.discrepancies, Discrepancy{
				DealID:         dealID,
				PersonID:       line.PersonID,
				RuleID:         line.RuleID,
				ExistingID:     prior.ID,
				ExistingStatus: prior.Status,
				ExistingAmount: prior.Amount,
				ComputedAmount: line.Amount,
				Note: "recomputed line skipped: a " + string(prior.Status) +
					" commission already exists for this person and rule",
			})
			continue
		}
		plan.insert = append(plan.insert, line)
	}

	return plan
}

// =============================================================================
// AUDIT MIRROR
// =============================================================================

// logActivity mirrors the committed writes into the activity log.
// Best effort only: a sink failure must not fail the recalculation.
func (c *Coordinator) logActivity(ctx context.Context, deleted, inserted []Commission) {
	if c.Activity == nil {
		return
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	mirror := func(row Commission, action ActivityAction) {
		entry := ActivityEntry{
			ID:         uuid.NewString(),
			At:         now(),
			EntityType: "commission",
			EntityID:   string(row.ID),
			Action:     action,
			Details: map[string]any{
				"deal_id":   string(row.DealID),
				"person_id": string(row.PersonID),
				"rule_id":   string(row.RuleID),
				"amount":    row.Amount.String(),
				"type":      row.Type,
			},
		}
		if err := c.Activity.AppendActivity(ctx, entry); err != nil {
			log.Printf("commission: activity log append failed for %s: %v", row.ID, err)
		}
	}

	for _, row := range deleted {
		mirror(row, ActivityVoided)
	}
	for _, row := range inserted {
		mirror(row, ActivityCreated)
	}
}
