/*
Package factory provides JSON to Go pay plan conversion.

PURPOSE:
  Converts JSON pay plan definitions into commission.PayPlan and
  commission.CommissionRule objects. This enables plan configuration
  without code changes - sales ops can define plans in JSON, and the
  factory creates the proper Go structs.

WHY JSON?
  - Non-developers can modify pay plans
  - Easy integration with admin UI
  - Version control for plan definitions
  - Database storage of plan configs

JSON SCHEMA:
  {
    "id": "solar-standard",
    "name": "Standard Solar Plan",
    "rules": [
      {
        "id": "closer-base",
        "type": "base",
        "calc_method": "percent_of_deal_value",
        "amount": 5,
        "applies_to_role": "closer",
        "sort_order": 10
      },
      {
        "id": "manager-override-l1",
        "type": "override",
        "calc_method": "flat",
        "amount": 250,
        "override_level": 1,
        "override_source": "closer",
        "sort_order": 20
      }
    ]
  }

KEY FEATURES:
  - Validates rule shape (base vs override fields) at parse time
  - Rejects unknown calculation methods before rules reach the evaluator
  - Sets sensible defaults (rules active, sort order preserved)
  - Round-trips plans back to JSON for admin APIs

USAGE:
  factory := NewPlanFactory()

  plan, rules, err := factory.ParsePlan(jsonString)
  if err != nil { ... }

  store.SavePlan(ctx, plan)
  for _, r := range rules {
      store.SaveRule(ctx, r)
  }

SEE ALSO:
  - commission/types.go: PayPlan and CommissionRule definitions
  - commission/matcher.go: how rules are selected at calculation time
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avelkins10/kin-people-sub003/commission"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PlanJSON is the JSON representation of a pay plan and its rules.
type PlanJSON struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Active *bool      `json:"active,omitempty"` // default true
	Rules  []RuleJSON `json:"rules,omitempty"`
}

// RuleJSON is the JSON representation of a single commission rule.
type RuleJSON struct {
	ID             string   `json:"id"`
	Type           string   `json:"type"`        // base, override
	CalcMethod     string   `json:"calc_method"` // flat, percent_of_deal_value, rate_per_kw
	Amount         float64  `json:"amount"`
	AppliesToRole  string   `json:"applies_to_role,omitempty"`
	OverrideLevel  *int     `json:"override_level,omitempty"`
	OverrideSource string   `json:"override_source,omitempty"` // setter, closer
	DealTypes      []string `json:"deal_types,omitempty"`      // empty = all
	SortOrder      int      `json:"sort_order"`
	Active         *bool    `json:"active,omitempty"` // default true
}

// =============================================================================
// PLAN FACTORY
// =============================================================================

// PlanFactory converts JSON pay plans to Go structs.
type PlanFactory struct {
	// Now is used to stamp CreatedAt on parsed rules when the JSON does
	// not carry one. Overridable for tests.
	Now func() time.Time
}

// NewPlanFactory creates a new plan factory.
func NewPlanFactory() *PlanFactory {
	return &PlanFactory{Now: time.Now}
}

// ParsePlan parses a JSON string into a PayPlan and its rules.
func (f *PlanFactory) ParsePlan(jsonStr string) (*commission.PayPlan, []commission.CommissionRule, error) {
	var pj PlanJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON converts PlanJSON to a PayPlan and validated rules.
func (f *PlanFactory) FromJSON(pj PlanJSON) (*commission.PayPlan, []commission.CommissionRule, error) {
	if pj.ID == "" {
		return nil, nil, fmt.Errorf("plan id is required")
	}

	now := f.now()
	plan := &commission.PayPlan{
		ID:        commission.PayPlanID(pj.ID),
		Name:      pj.Name,
		Active:    boolOrDefault(pj.Active, true),
		CreatedAt: now,
	}

	rules := make([]commission.CommissionRule, 0, len(pj.Rules))
	for i, rj := range pj.Rules {
		rule, err := f.parseRule(plan.ID, rj, now, i)
		if err != nil {
			return nil, nil, fmt.Errorf("rule %q: %w", rj.ID, err)
		}
		rules = append(rules, rule)
	}

	return plan, rules, nil
}

// ToJSON converts a PayPlan and its rules back to PlanJSON.
func (f *PlanFactory) ToJSON(plan *commission.PayPlan, rules []commission.CommissionRule) PlanJSON {
	active := plan.Active
	pj := PlanJSON{
		ID:     string(plan.ID),
		Name:   plan.Name,
		Active: &active,
	}

	for _, r := range rules {
		amount, _ := r.Amount.Float64()
		ruleActive := r.Active
		rj := RuleJSON{
			ID:         string(r.ID),
			Type:       string(r.Type),
			CalcMethod: string(r.Method),
			Amount:     amount,
			SortOrder:  r.SortOrder,
			Active:     &ruleActive,
		}
		if r.AppliesToRole != nil {
			rj.AppliesToRole = string(*r.AppliesToRole)
		}
		if r.OverrideLevel != nil {
			level := *r.OverrideLevel
			rj.OverrideLevel = &level
		}
		if r.OverrideSource != nil {
			rj.OverrideSource = string(*r.OverrideSource)
		}
		for _, dt := range r.DealTypes {
			rj.DealTypes = append(rj.DealTypes, string(dt))
		}
		pj.Rules = append(pj.Rules, rj)
	}

	return pj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func (f *PlanFactory) parseRule(planID commission.PayPlanID, rj RuleJSON, now time.Time, index int) (commission.CommissionRule, error) {
	if rj.ID == "" {
		return commission.CommissionRule{}, fmt.Errorf("rule id is required")
	}

	ruleType, err := parseRuleType(rj.Type)
	if err != nil {
		return commission.CommissionRule{}, err
	}
	method, err := parseCalcMethod(rj.CalcMethod)
	if err != nil {
		return commission.CommissionRule{}, err
	}

	rule := commission.CommissionRule{
		ID:        commission.RuleID(rj.ID),
		PayPlanID: planID,
		Type:      ruleType,
		Method:    method,
		Amount:    decimal.NewFromFloat(rj.Amount),
		SortOrder: rj.SortOrder,
		Active:    boolOrDefault(rj.Active, true),
		// Stagger CreatedAt so rules with equal sort order still match
		// in definition order.
		CreatedAt: now.Add(time.Duration(index) * time.Microsecond),
	}

	if rj.AppliesToRole != "" {
		role := commission.RoleID(rj.AppliesToRole)
		rule.AppliesToRole = &role
	}
	if rj.OverrideLevel != nil {
		level := *rj.OverrideLevel
		rule.OverrideLevel = &level
	}
	if rj.OverrideSource != "" {
		source, err := parseOverrideSource(rj.OverrideSource)
		if err != nil {
			return commission.CommissionRule{}, err
		}
		rule.OverrideSource = &source
	}
	for _, dt := range rj.DealTypes {
		dealType, err := parseDealType(dt)
		if err != nil {
			return commission.CommissionRule{}, err
		}
		rule.DealTypes = append(rule.DealTypes, dealType)
	}

	if err := rule.Validate(); err != nil {
		return commission.CommissionRule{}, err
	}
	return rule, nil
}

func parseRuleType(s string) (commission.RuleType, error) {
	switch s {
	case "base":
		return commission.RuleBase, nil
	case "override":
		return commission.RuleOverride, nil
	default:
		return "", fmt.Errorf("unknown rule type: %s", s)
	}
}

func parseCalcMethod(s string) (commission.CalcMethod, error) {
	switch s {
	case "flat":
		return commission.CalcFlat, nil
	case "percent_of_deal_value":
		return commission.CalcPercentOfValue, nil
	case "rate_per_kw":
		return commission.CalcRatePerKW, nil
	default:
		return "", fmt.Errorf("unknown calc method: %s", s)
	}
}

func parseOverrideSource(s string) (commission.OverrideSource, error) {
	switch s {
	case "setter":
		return commission.SourceSetter, nil
	case "closer":
		return commission.SourceCloser, nil
	default:
		return "", fmt.Errorf("unknown override source: %s", s)
	}
}

func parseDealType(s string) (commission.DealType, error) {
	switch s {
	case "solar":
		return commission.DealSolar, nil
	case "roofing":
		return commission.DealRoofing, nil
	case "hvac":
		return commission.DealHVAC, nil
	case "battery":
		return commission.DealBattery, nil
	default:
		return "", fmt.Errorf("unknown deal type: %s", s)
	}
}

func boolOrDefault(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func (f *PlanFactory) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now()
}
