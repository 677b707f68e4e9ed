package commission_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avelkins10/kin-people-sub003/commission"
	memstore "github.com/avelkins10/kin-people-sub003/commission/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type ruleOpt func(*commission.CommissionRule)

func withRole(role string) ruleOpt {
	return func(r *commission.CommissionRule) {
		id := commission.RoleID(role)
		r.AppliesToRole = &id
	}
}

func withOverride(level int, source commission.OverrideSource) ruleOpt {
	return func(r *commission.CommissionRule) {
		r.Type = commission.RuleOverride
		r.OverrideLevel = &level
		r.OverrideSource = &source
	}
}

func withDealTypes(types ...commission.DealType) ruleOpt {
	return func(r *commission.CommissionRule) { r.DealTypes = types }
}

func withCreatedAt(at time.Time) ruleOpt {
	return func(r *commission.CommissionRule) { r.CreatedAt = at }
}

func inactive() ruleOpt {
	return func(r *commission.CommissionRule) { r.Active = false }
}

func seedRule(t *testing.T, m *memstore.Memory, id, plan string, sortOrder int, opts ...ruleOpt) {
	t.Helper()
	r := commission.CommissionRule{
		ID:        commission.RuleID(id),
		PayPlanID: commission.PayPlanID(plan),
		Type:      commission.RuleBase,
		Method:    commission.CalcFlat,
		Amount:    decimal.NewFromInt(100),
		SortOrder: sortOrder,
		Active:    true,
		CreatedAt: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, opt := range opts {
		opt(&r)
	}
	if err := m.SaveRule(context.Background(), r); err != nil {
		t.Fatalf("failed to save rule %s: %v", id, err)
	}
}

func solarDeal() *commission.Deal {
	return &commission.Deal{
		ID:        "deal-1",
		SetterID:  "setter",
		CloserID:  "closer",
		Type:      commission.DealSolar,
		Value:     commission.MustDecimal("30000"),
		CloseDate: day(2026, time.March, 15),
		Status:    commission.DealClosed,
	}
}

// =============================================================================
// FILTER TESTS
// =============================================================================

func TestRuleMatcher_InactiveRulesSkipped(t *testing.T) {
	// GIVEN: An inactive rule that would otherwise match
	// WHEN: Matching
	// THEN: Nothing matches

	m := memstore.NewMemory()
	seedRule(t, m, "r1", "plan", 10, inactive())

	matcher := &commission.RuleMatcher{Plans: m}
	matched, err := matcher.Match(context.Background(), "plan", solarDeal(), commission.MatchQuery{
		Type: commission.RuleBase, TargetRole: "closer",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matched) != 0 {
		t.Errorf("expected no matches, got %d", len(matched))
	}
}

func TestRuleMatcher_DealTypeFilter(t *testing.T) {
	// GIVEN: One rule limited to roofing, one open to all deal types
	// WHEN: Matching a solar deal
	// THEN: Only the unrestricted rule matches

	m := memstore.NewMemory()
	seedRule(t, m, "roofing-only", "plan", 10, withDealTypes(commission.DealRoofing))
	seedRule(t, m, "all-types", "plan", 20)

	matcher := &commission.RuleMatcher{Plans: m}
	matched, err := matcher.Match(context.Background(), "plan", solarDeal(), commission.MatchQuery{
		Type: commission.RuleBase, TargetRole: "closer",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != "all-types" {
		t.Errorf("expected only all-types to match, got %v", ruleIDs(matched))
	}
}

func TestRuleMatcher_RoleFilter(t *testing.T) {
	// GIVEN: A closer-only rule and an any-role rule
	// WHEN: Matching for a setter
	// THEN: Only the any-role rule matches

	m := memstore.NewMemory()
	seedRule(t, m, "closer-only", "plan", 10, withRole("closer"))
	seedRule(t, m, "any-role", "plan", 20)

	matcher := &commission.RuleMatcher{Plans: m}
	matched, err := matcher.Match(context.Background(), "plan", solarDeal(), commission.MatchQuery{
		Type: commission.RuleBase, TargetRole: "setter",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != "any-role" {
		t.Errorf("expected only any-role to match, got %v", ruleIDs(matched))
	}
}

func TestRuleMatcher_OverrideSourceAndLevel(t *testing.T) {
	// GIVEN: Override rules on different sources and levels
	// WHEN: Matching closer-source level 1
	// THEN: Only the matching source+level rule is selected

	m := memstore.NewMemory()
	seedRule(t, m, "closer-l1", "plan", 10, withOverride(1, commission.SourceCloser))
	seedRule(t, m, "closer-l2", "plan", 20, withOverride(2, commission.SourceCloser))
	seedRule(t, m, "setter-l1", "plan", 30, withOverride(1, commission.SourceSetter))

	matcher := &commission.RuleMatcher{Plans: m}
	matched, err := matcher.Match(context.Background(), "plan", solarDeal(), commission.MatchQuery{
		Type:       commission.RuleOverride,
		TargetRole: "manager",
		Source:     commission.SourceCloser,
		Level:      1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != "closer-l1" {
		t.Errorf("expected only closer-l1, got %v", ruleIDs(matched))
	}
}

func TestRuleMatcher_BaseQueryIgnoresOverrideRules(t *testing.T) {
	// GIVEN: A plan with both base and override rules
	// WHEN: Matching base rules
	// THEN: Override rules never appear

	m := memstore.NewMemory()
	seedRule(t, m, "base", "plan", 10)
	seedRule(t, m, "override", "plan", 5, withOverride(1, commission.SourceCloser))

	matcher := &commission.RuleMatcher{Plans: m}
	matched, err := matcher.Match(context.Background(), "plan", solarDeal(), commission.MatchQuery{
		Type: commission.RuleBase, TargetRole: "closer",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != "base" {
		t.Errorf("expected only base, got %v", ruleIDs(matched))
	}
}

// =============================================================================
// ORDERING TESTS
// =============================================================================

func TestRuleMatcher_DeterministicOrdering(t *testing.T) {
	// GIVEN: Rules with ties on sort order and creation time
	// WHEN: Matching repeatedly
	// THEN: Same total order every time: SortOrder, CreatedAt, then ID

	m := memstore.NewMemory()
	early := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)

	seedRule(t, m, "z-first", "plan", 10, withCreatedAt(early))
	seedRule(t, m, "a-second", "plan", 10, withCreatedAt(late))
	seedRule(t, m, "b-tie-younger", "plan", 20, withCreatedAt(early))
	seedRule(t, m, "a-tie-younger", "plan", 20, withCreatedAt(early))

	matcher := &commission.RuleMatcher{Plans: m}
	query := commission.MatchQuery{Type: commission.RuleBase, TargetRole: "closer"}

	want := []commission.RuleID{"z-first", "a-second", "a-tie-younger", "b-tie-younger"}
	for run := 0; run < 5; run++ {
		matched, err := matcher.Match(context.Background(), "plan", solarDeal(), query)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(matched) != len(want) {
			t.Fatalf("run %d: expected %d rules, got %d", run, len(want), len(matched))
		}
		for i, id := range want {
			if matched[i].ID != id {
				t.Errorf("run %d: position %d: expected %s, got %s", run, i, id, matched[i].ID)
			}
		}
	}
}

func TestRuleMatcher_FirstReturnsNilOnNoMatch(t *testing.T) {
	// GIVEN: A plan with no rules for the query
	// WHEN: Asking for the first match
	// THEN: (nil, nil) - no rule is expected, not an error

	m := memstore.NewMemory()
	seedRule(t, m, "closer-only", "plan", 10, withRole("closer"))

	matcher := &commission.RuleMatcher{Plans: m}
	rule, err := matcher.First(context.Background(), "plan", solarDeal(), commission.MatchQuery{
		Type: commission.RuleBase, TargetRole: "accountant",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule != nil {
		t.Errorf("expected nil rule, got %s", rule.ID)
	}
}

func ruleIDs(rules []commission.CommissionRule) []commission.RuleID {
	ids := make([]commission.RuleID, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}
	return ids
}
