/*
matcher.go - Deterministic commission rule selection

PURPOSE:
  Given a resolved pay plan and a deal, selects the ordered set of rules
  applicable to the deal. Determinism matters here more than anywhere
  else: a commissioned salesperson disputing a paycheck must get the same
  answer every time, and an operator must be able to explain which rule
  won and why.

FILTERING ORDER (all must pass):
  1. Active flag
  2. Rule type (base vs override)
  3. Deal type set (empty = all deal types)
  4. Role restriction (nil = any role) against the TARGET person's role
  5. For overrides: the requested override source, and level if requested

ORDERING:
  SortOrder ascending, ties broken by CreatedAt ascending (oldest rule
  wins ties), then by ID as a final total-order tiebreak.

  The matcher does not pick a winner. The evaluator applies first-match
  semantics: one base rule per participant, one override rule per level.
*/
package commission

import (
	"context"
	"sort"
)

// MatchQuery narrows rule selection beyond the deal itself.
type MatchQuery struct {
	Type RuleType

	// TargetRole is the role of the person who would RECEIVE the
	// commission (the participant for base rules, the upline manager
	// for override rules).
	TargetRole RoleID

	// Source and Level apply to override matching only.
	Source OverrideSource
	Level  int // 0 = any level
}

// RuleMatcher selects applicable rules in deterministic order.
type RuleMatcher struct {
	Plans PlanStore
}

// Match returns the rules of the plan applicable to the deal under the
// query, sorted for deterministic evaluation.
func (m *RuleMatcher) Match(ctx context.Context, plan PayPlanID, deal *Deal, q MatchQuery) ([]CommissionRule, error) {
	rules, err := m.Plans.RulesForPlan(ctx, plan)
	if err != nil {
		return nil, err
	}

	var matched []CommissionRule
	for _, r := range rules {
		if !m.matches(r, deal, q) {
			continue
		}
		matched = append(matched, r)
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return matched, nil
}

// First returns the single winning rule for the query, or nil when no
// rule matches. Nil is expected, not an error: a role deliberately
// excluded from a plan simply earns nothing under it.
func (m *RuleMatcher) First(ctx context.Context, plan PayPlanID, deal *Deal, q MatchQuery) (*CommissionRule, error) {
	matched, err := m.Match(ctx, plan, deal, q)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, nil
	}
	return &matched[0], nil
}

func (m *RuleMatcher) matches(r CommissionRule, deal *Deal, q MatchQuery) bool {
	if !r.Active {
		return false
	}
	if r.Type != q.Type {
		return false
	}
	if !r.AppliesToDealType(deal.Type) {
		return false
	}
	if r.AppliesToRole != nil && *r.AppliesToRole != q.TargetRole {
		return false
	}
	if q.Type == RuleOverride {
		if r.OverrideSource == nil || *r.OverrideSource != q.Source {
			return false
		}
		if q.Level > 0 && (r.OverrideLevel == nil || *r.OverrideLevel != q.Level) {
			return false
		}
	}
	return true
}
