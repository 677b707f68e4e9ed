/*
resolver.go - Temporal pay plan resolution

PURPOSE:
  Answers "which pay plan applied to this person on this date". Pay plan
  assignments are half-open intervals [EffectiveDate, EndDate); the
  write-time non-overlap invariant (see store.go) guarantees at most one
  is active at any instant.

FAILURE POSTURE:
  - Zero active assignments: NOT an error. New hires awaiting a plan
    simply earn no commission; the caller skips them.
  - More than one active assignment: the data is corrupt. Fail loudly
    with AmbiguousAssignmentError instead of picking one arbitrarily -
    silent arbitrary choice is the kind of bug that causes incorrect pay.
*/
package commission

import (
	"context"
	"time"
)

// PlanResolver finds the pay plan active for a person on a given date.
type PlanResolver struct {
	Plans PlanStore
}

// ResolveActive returns the plan active for the person at asOf, or
// (nil, nil) when no assignment covers that date.
func (r *PlanResolver) ResolveActive(ctx context.Context, person PersonID, asOf time.Time) (*PayPlan, error) {
	assignments, err := r.Plans.AssignmentsForPerson(ctx, person)
	if err != nil {
		return nil, err
	}

	var active []PlanAssignment
	for _, a := range assignments {
		if a.ActiveAt(asOf) {
			active = append(active, a)
		}
	}

	switch len(active) {
	case 0:
		return nil, nil
	case 1:
		return r.Plans.GetPlan(ctx, active[0].PayPlanID)
	default:
		ids := make([]AssignmentID, len(active))
		for i, a := range active {
			ids[i] = a.ID
		}
		return nil, &AmbiguousAssignmentError{PersonID: person, AsOf: asOf, Matches: ids}
	}
}
