package commission_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avelkins10/kin-people-sub003/commission"
	memstore "github.com/avelkins10/kin-people-sub003/commission/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func seedPlan(t *testing.T, m *memstore.Memory, id string) {
	t.Helper()
	err := m.SavePlan(context.Background(), commission.PayPlan{
		ID:        commission.PayPlanID(id),
		Name:      id,
		Active:    true,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to save plan %s: %v", id, err)
	}
}

func seedAssignment(t *testing.T, m *memstore.Memory, id, person, plan string, effective time.Time, end *time.Time) {
	t.Helper()
	err := m.SaveAssignment(context.Background(), commission.PlanAssignment{
		ID:            commission.AssignmentID(id),
		PersonID:      commission.PersonID(person),
		PayPlanID:     commission.PayPlanID(plan),
		EffectiveDate: effective,
		EndDate:       end,
		CreatedAt:     time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to save assignment %s: %v", id, err)
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// TEMPORAL RESOLUTION TESTS
// =============================================================================

func TestPlanResolver_SingleActiveAssignment(t *testing.T) {
	// GIVEN: One assignment covering the close date
	// WHEN: Resolving on that date
	// THEN: The assigned plan is returned

	m := memstore.NewMemory()
	seedPlan(t, m, "plan-a")
	seedAssignment(t, m, "as-1", "rep", "plan-a", day(2026, time.January, 1), nil)

	resolver := &commission.PlanResolver{Plans: m}
	plan, err := resolver.ResolveActive(context.Background(), "rep", day(2026, time.June, 15))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan == nil || plan.ID != "plan-a" {
		t.Errorf("expected plan-a, got %v", plan)
	}
}

func TestPlanResolver_NoActiveAssignment(t *testing.T) {
	// GIVEN: A person with no assignment covering the date
	// WHEN: Resolving
	// THEN: (nil, nil) - a new hire without a plan is not an error

	m := memstore.NewMemory()
	seedPlan(t, m, "plan-a")
	end := day(2026, time.March, 1)
	seedAssignment(t, m, "as-1", "rep", "plan-a", day(2026, time.January, 1), &end)

	resolver := &commission.PlanResolver{Plans: m}
	plan, err := resolver.ResolveActive(context.Background(), "rep", day(2026, time.June, 15))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan != nil {
		t.Errorf("expected no plan, got %s", plan.ID)
	}
}

func TestPlanResolver_HalfOpenBoundaries(t *testing.T) {
	// GIVEN: Assignment [Feb 1, Mar 1)
	// WHEN: Resolving on the boundaries
	// THEN: Feb 1 is covered, Mar 1 is not

	m := memstore.NewMemory()
	seedPlan(t, m, "plan-a")
	end := day(2026, time.March, 1)
	seedAssignment(t, m, "as-1", "rep", "plan-a", day(2026, time.February, 1), &end)

	resolver := &commission.PlanResolver{Plans: m}

	plan, err := resolver.ResolveActive(context.Background(), "rep", day(2026, time.February, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan == nil {
		t.Error("effective date itself should be covered")
	}

	plan, err = resolver.ResolveActive(context.Background(), "rep", day(2026, time.March, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan != nil {
		t.Error("end date is exclusive and should NOT be covered")
	}
}

func TestPlanResolver_AdjacentAssignments(t *testing.T) {
	// GIVEN: Two back-to-back assignments, second starting exactly where
	//        the first ends
	// WHEN: Resolving on the transition date
	// THEN: Exactly the second plan applies - no gap, no ambiguity

	m := memstore.NewMemory()
	seedPlan(t, m, "plan-old")
	seedPlan(t, m, "plan-new")
	cutover := day(2026, time.July, 1)
	seedAssignment(t, m, "as-1", "rep", "plan-old", day(2026, time.January, 1), &cutover)
	seedAssignment(t, m, "as-2", "rep", "plan-new", cutover, nil)

	resolver := &commission.PlanResolver{Plans: m}
	plan, err := resolver.ResolveActive(context.Background(), "rep", cutover)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan == nil || plan.ID != "plan-new" {
		t.Errorf("expected plan-new on the cutover date, got %v", plan)
	}

	plan, err = resolver.ResolveActive(context.Background(), "rep", cutover.AddDate(0, 0, -1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan == nil || plan.ID != "plan-old" {
		t.Errorf("expected plan-old the day before cutover, got %v", plan)
	}
}

func TestPlanResolver_AmbiguousAssignments(t *testing.T) {
	// GIVEN: Corrupt data with two assignments active on the same date
	//        (bypassing the stores' write-time overlap check)
	// WHEN: Resolving
	// THEN: AmbiguousAssignmentError - never an arbitrary pick

	overlapping := &corruptPlanStore{assignments: []commission.PlanAssignment{
		{ID: "as-1", PersonID: "rep", PayPlanID: "plan-a", EffectiveDate: day(2026, time.January, 1)},
		{ID: "as-2", PersonID: "rep", PayPlanID: "plan-b", EffectiveDate: day(2026, time.February, 1)},
	}}

	resolver := &commission.PlanResolver{Plans: overlapping}
	_, err := resolver.ResolveActive(context.Background(), "rep", day(2026, time.June, 15))

	if !errors.Is(err, commission.ErrAmbiguousAssignment) {
		t.Fatalf("expected ErrAmbiguousAssignment, got %v", err)
	}
	var ambErr *commission.AmbiguousAssignmentError
	if !errors.As(err, &ambErr) {
		t.Fatalf("expected AmbiguousAssignmentError, got %T", err)
	}
	if len(ambErr.Matches) != 2 {
		t.Errorf("expected 2 matches in error, got %d", len(ambErr.Matches))
	}
}

// corruptPlanStore serves overlapping assignments that the real stores
// would have rejected at write time.
type corruptPlanStore struct {
	assignments []commission.PlanAssignment
}

func (s *corruptPlanStore) GetPlan(_ context.Context, id commission.PayPlanID) (*commission.PayPlan, error) {
	return &commission.PayPlan{ID: id, Active: true}, nil
}

func (s *corruptPlanStore) SavePlan(context.Context, commission.PayPlan) error { return nil }

func (s *corruptPlanStore) ListPlans(context.Context) ([]commission.PayPlan, error) {
	return nil, nil
}

func (s *corruptPlanStore) SaveAssignment(context.Context, commission.PlanAssignment) error {
	return nil
}

func (s *corruptPlanStore) AssignmentsForPerson(context.Context, commission.PersonID) ([]commission.PlanAssignment, error) {
	return s.assignments, nil
}

func (s *corruptPlanStore) SaveRule(context.Context, commission.CommissionRule) error { return nil }

func (s *corruptPlanStore) RulesForPlan(context.Context, commission.PayPlanID) ([]commission.CommissionRule, error) {
	return nil, nil
}
