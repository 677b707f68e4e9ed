package commission_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avelkins10/kin-people-sub003/commission"
	memstore "github.com/avelkins10/kin-people-sub003/commission/store"
)

// =============================================================================
// CALC METHOD TESTS
// =============================================================================

func TestComputeAmount_Flat(t *testing.T) {
	// GIVEN: A flat $500 rule
	// WHEN: Computing against any deal
	// THEN: Exactly 500, untouched

	rule := &commission.CommissionRule{Method: commission.CalcFlat, Amount: decimal.NewFromInt(500)}
	amount, err := commission.ComputeAmount(rule, solarDeal())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !amount.Equal(decimal.NewFromInt(500)) {
		t.Errorf("expected 500, got %s", amount)
	}
}

func TestComputeAmount_PercentOfDealValue(t *testing.T) {
	// GIVEN: 5% of a $30,000 deal
	// WHEN: Computing
	// THEN: 1500.00

	rule := &commission.CommissionRule{
		Method: commission.CalcPercentOfValue,
		Amount: decimal.NewFromInt(5),
	}
	amount, err := commission.ComputeAmount(rule, solarDeal())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount.String() != "1500" {
		t.Errorf("expected 1500, got %s", amount)
	}
}

func TestComputeAmount_PercentRoundsHalfUp(t *testing.T) {
	// GIVEN: 2.5% of $1,001 = 25.025
	// WHEN: Computing
	// THEN: Rounded half-up to 25.03, exactly once

	deal := solarDeal()
	deal.Value = commission.MustDecimal("1001")
	rule := &commission.CommissionRule{
		Method: commission.CalcPercentOfValue,
		Amount: commission.MustDecimal("2.5"),
	}
	amount, err := commission.ComputeAmount(rule, deal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount.String() != "25.03" {
		t.Errorf("expected 25.03, got %s", amount)
	}
}

func TestComputeAmount_RatePerKW(t *testing.T) {
	// GIVEN: $120/kW on an 11.2 kW system
	// WHEN: Computing
	// THEN: 1344.00

	deal := solarDeal()
	deal.SystemSizeKW = commission.MustDecimal("11.2")
	rule := &commission.CommissionRule{
		Method: commission.CalcRatePerKW,
		Amount: decimal.NewFromInt(120),
	}
	amount, err := commission.ComputeAmount(rule, deal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount.String() != "1344" {
		t.Errorf("expected 1344, got %s", amount)
	}
}

func TestComputeAmount_UnrecognizedMethod(t *testing.T) {
	// GIVEN: A rule with an unknown calc method
	// WHEN: Computing
	// THEN: UnrecognizedCalcMethodError

	rule := &commission.CommissionRule{ID: "r1", Method: commission.CalcMethod("mystery")}
	_, err := commission.ComputeAmount(rule, solarDeal())
	if !errors.Is(err, commission.ErrUnrecognizedCalcMethod) {
		t.Fatalf("expected ErrUnrecognizedCalcMethod, got %v", err)
	}
	var methodErr *commission.UnrecognizedCalcMethodError
	if !errors.As(err, &methodErr) {
		t.Fatalf("expected UnrecognizedCalcMethodError, got %T", err)
	}
	if methodErr.RuleID != "r1" || methodErr.Method != "mystery" {
		t.Errorf("error should name the rule and method: %v", methodErr)
	}
}

// =============================================================================
// FULL EVALUATION TESTS
// =============================================================================

// seedOffice builds the standard test office:
//
//	regional
//	  └── manager
//	        ├── setter
//	        └── closer
//
// everyone assigned to "plan" from Jan 1 2026, with a flat setter base,
// a 5% closer base, and closer-source overrides at levels 1 and 2.
func seedOffice(t *testing.T, m *memstore.Memory) {
	t.Helper()
	seedPerson(t, m, "regional", "regional", nil)
	seedPerson(t, m, "manager", "manager", strp("regional"))
	seedPerson(t, m, "setter", "setter", strp("manager"))
	seedPerson(t, m, "closer", "closer", strp("manager"))

	seedPlan(t, m, "plan")
	for _, id := range []string{"regional", "manager", "setter", "closer"} {
		seedAssignment(t, m, "as-"+id, id, "plan", day(2026, time.January, 1), nil)
	}

	seedRule(t, m, "setter-base", "plan", 10, withRole("setter"), func(r *commission.CommissionRule) {
		r.Amount = decimal.NewFromInt(500)
	})
	seedRule(t, m, "closer-base", "plan", 20, withRole("closer"), func(r *commission.CommissionRule) {
		r.Method = commission.CalcPercentOfValue
		r.Amount = decimal.NewFromInt(5)
	})
	seedRule(t, m, "manager-override", "plan", 30, withOverride(1, commission.SourceCloser), func(r *commission.CommissionRule) {
		r.Amount = decimal.NewFromInt(250)
	})
	seedRule(t, m, "regional-override", "plan", 40, withOverride(2, commission.SourceCloser), func(r *commission.CommissionRule) {
		r.Amount = decimal.NewFromInt(100)
	})
}

func newEvaluator(m *memstore.Memory) *commission.Evaluator {
	return &commission.Evaluator{
		People:   m,
		Resolver: &commission.PlanResolver{Plans: m},
		Matcher:  &commission.RuleMatcher{Plans: m},
	}
}

func buildSnapshots(t *testing.T, m *memstore.Memory, deal *commission.Deal) map[commission.PersonID]*commission.OrgSnapshot {
	t.Helper()
	builder := &commission.SnapshotBuilder{People: m}
	snapshots := make(map[commission.PersonID]*commission.OrgSnapshot)
	for _, root := range []commission.PersonID{deal.SetterID, deal.CloserID} {
		if _, ok := snapshots[root]; ok {
			continue
		}
		snap, err := builder.Build(context.Background(), root, deal.CloseDate)
		if err != nil {
			t.Fatalf("failed to build snapshot for %s: %v", root, err)
		}
		snapshots[root] = snap
	}
	return snapshots
}

func linesByType(lines []commission.Commission) map[string]commission.Commission {
	out := make(map[string]commission.Commission, len(lines))
	for _, l := range lines {
		out[l.Type] = l
	}
	return out
}

func TestEvaluate_FullOffice(t *testing.T) {
	// GIVEN: The standard office and a $30,000 solar deal
	// WHEN: Evaluating
	// THEN: Four lines - setter base 500, closer base 1500,
	//       manager override L1 250, regional override L2 100

	m := memstore.NewMemory()
	seedOffice(t, m)
	deal := solarDeal()

	lines, err := newEvaluator(m).Evaluate(context.Background(), deal, buildSnapshots(t, m, deal))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d: %v", len(lines), lineTypes(lines))
	}

	byType := linesByType(lines)
	checks := []struct {
		lineType string
		person   commission.PersonID
		amount   string
		rule     commission.RuleID
	}{
		{"setter base", "setter", "500", "setter-base"},
		{"closer base", "closer", "1500", "closer-base"},
		{"closer override L1", "manager", "250", "manager-override"},
		{"closer override L2", "regional", "100", "regional-override"},
	}
	for _, c := range checks {
		line, ok := byType[c.lineType]
		if !ok {
			t.Errorf("missing line %q", c.lineType)
			continue
		}
		if line.PersonID != c.person {
			t.Errorf("%s: expected person %s, got %s", c.lineType, c.person, line.PersonID)
		}
		if line.Amount.String() != c.amount {
			t.Errorf("%s: expected amount %s, got %s", c.lineType, c.amount, line.Amount)
		}
		if line.RuleID != c.rule {
			t.Errorf("%s: expected rule %s, got %s", c.lineType, c.rule, line.RuleID)
		}
		if line.Status != commission.StatusPending {
			t.Errorf("%s: expected pending status, got %s", c.lineType, line.Status)
		}
		if line.Details.OrgSnapshotID == "" || line.Details.RuleID != c.rule {
			t.Errorf("%s: provenance details incomplete: %+v", c.lineType, line.Details)
		}
	}
}

func TestEvaluate_LevelGapDoesNotStopWalk(t *testing.T) {
	// GIVEN: A five-level chain with override rules only at L1 and L3
	// WHEN: Evaluating
	// THEN: L3 pays even though L2 produced nothing

	m := memstore.NewMemory()
	seedPerson(t, m, "vp", "vp", nil)
	seedPerson(t, m, "director", "director", strp("vp"))
	seedPerson(t, m, "mgr", "manager", strp("director"))
	seedPerson(t, m, "rep", "closer", strp("mgr"))

	seedPlan(t, m, "plan")
	for _, id := range []string{"vp", "director", "mgr", "rep"} {
		seedAssignment(t, m, "as-"+id, id, "plan", day(2026, time.January, 1), nil)
	}
	seedRule(t, m, "l1", "plan", 10, withOverride(1, commission.SourceCloser))
	seedRule(t, m, "l3", "plan", 20, withOverride(3, commission.SourceCloser), func(r *commission.CommissionRule) {
		r.Amount = decimal.NewFromInt(75)
	})

	deal := solarDeal()
	deal.SetterID = "rep"
	deal.CloserID = "rep"

	lines, err := newEvaluator(m).Evaluate(context.Background(), deal, buildSnapshots(t, m, deal))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byType := linesByType(lines)
	if l, ok := byType["closer override L1"]; !ok || l.PersonID != "mgr" {
		t.Errorf("expected L1 line for mgr, got %v", lineTypes(lines))
	}
	if l, ok := byType["closer override L3"]; !ok || l.PersonID != "vp" || l.Amount.String() != "75" {
		t.Errorf("expected L3 line for vp at 75, got %v", lineTypes(lines))
	}
	if _, ok := byType["closer override L2"]; ok {
		t.Error("L2 has no rule and should produce no line")
	}
}

func TestEvaluate_SelfGenDedupe(t *testing.T) {
	// GIVEN: A self-gen deal where setter == closer, base rule open to
	//        any role
	// WHEN: Evaluating
	// THEN: Exactly one base line; same person + same rule never pays
	//       twice in a run. The setter hat is processed first and wins.

	m := memstore.NewMemory()
	seedPerson(t, m, "solo", "closer", nil)
	seedPlan(t, m, "plan")
	seedAssignment(t, m, "as-solo", "solo", "plan", day(2026, time.January, 1), nil)
	seedRule(t, m, "any-base", "plan", 10, func(r *commission.CommissionRule) {
		r.Method = commission.CalcPercentOfValue
		r.Amount = decimal.NewFromInt(7)
	})

	deal := solarDeal()
	deal.SetterID = "solo"
	deal.CloserID = "solo"
	deal.SelfGen = true

	lines, err := newEvaluator(m).Evaluate(context.Background(), deal, buildSnapshots(t, m, deal))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 deduplicated line, got %d: %v", len(lines), lineTypes(lines))
	}
	if lines[0].Type != "setter base" {
		t.Errorf("expected the setter hat to win, got %q", lines[0].Type)
	}
	if lines[0].Amount.String() != "2100" {
		t.Errorf("expected 7%% of 30000 = 2100, got %s", lines[0].Amount)
	}
}

func TestEvaluate_NoActivePlanSkipsPerson(t *testing.T) {
	// GIVEN: The closer has no plan assignment
	// WHEN: Evaluating
	// THEN: No closer base line, no error; setter still pays

	m := memstore.NewMemory()
	seedPerson(t, m, "setter", "setter", nil)
	seedPerson(t, m, "closer", "closer", nil)
	seedPlan(t, m, "plan")
	seedAssignment(t, m, "as-setter", "setter", "plan", day(2026, time.January, 1), nil)
	seedRule(t, m, "base", "plan", 10)

	deal := solarDeal()
	lines, err := newEvaluator(m).Evaluate(context.Background(), deal, buildSnapshots(t, m, deal))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 1 || lines[0].PersonID != "setter" {
		t.Errorf("expected only the setter's line, got %v", lineTypes(lines))
	}
}

func TestEvaluate_UnrecognizedMethodAbortsWholeDeal(t *testing.T) {
	// GIVEN: A matched rule with an unknown calc method
	// WHEN: Evaluating
	// THEN: The entire evaluation fails; no partial commission set

	m := memstore.NewMemory()
	seedPerson(t, m, "setter", "setter", nil)
	seedPerson(t, m, "closer", "closer", nil)
	seedPlan(t, m, "plan")
	seedAssignment(t, m, "as-setter", "setter", "plan", day(2026, time.January, 1), nil)
	seedAssignment(t, m, "as-closer", "closer", "plan", day(2026, time.January, 1), nil)
	seedRule(t, m, "good", "plan", 10, withRole("setter"))
	seedRule(t, m, "broken", "plan", 20, withRole("closer"), func(r *commission.CommissionRule) {
		r.Method = commission.CalcMethod("percent_per_widget")
	})

	deal := solarDeal()
	_, err := newEvaluator(m).Evaluate(context.Background(), deal, buildSnapshots(t, m, deal))
	if !errors.Is(err, commission.ErrUnrecognizedCalcMethod) {
		t.Fatalf("expected ErrUnrecognizedCalcMethod, got %v", err)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	// GIVEN: The standard office
	// WHEN: Evaluating the same deal twice
	// THEN: Identical (person, rule, amount) triples both times

	m := memstore.NewMemory()
	seedOffice(t, m)
	deal := solarDeal()
	snapshots := buildSnapshots(t, m, deal)

	ev := newEvaluator(m)
	first, err := ev.Evaluate(context.Background(), deal, snapshots)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := ev.Evaluate(context.Background(), deal, snapshots)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("expected same line count, got %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].PersonID != second[i].PersonID ||
			first[i].RuleID != second[i].RuleID ||
			!first[i].Amount.Equal(second[i].Amount) {
			t.Errorf("line %d differs between runs: %v vs %v", i, first[i], second[i])
		}
	}
}

func lineTypes(lines []commission.Commission) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Type + "/" + string(l.PersonID)
	}
	return out
}
