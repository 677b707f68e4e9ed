/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates people, pay plans,
	assignments, and deals that demonstrate specific engine features.

AVAILABLE SCENARIOS:

	solar-office:     Full sales office with base + override rules
	self-gen:         Setter closed their own deal (one person, two hats)
	plan-change:      Approved line survives a rule change (discrepancy)
	deep-org:         Five-level chain with gaps in the rule coverage

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create pay plans via factory JSON
 3. Create people with reporting relationships
 4. Assign plans over date ranges
 5. Create deals and recalculate them

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "solar-office"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: LoadScenario, ListScenarios handlers
  - factory/plan.go: Plan JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avelkins10/kin-people-sub003/commission"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "solar-office",
		Name:        "Solar Office",
		Description: "Rep, closer, manager and regional with base + override rules",
	},
	{
		ID:          "self-gen",
		Name:        "Self-Generated Deal",
		Description: "Setter closed their own deal; base rules never pay twice",
	},
	{
		ID:          "plan-change",
		Name:        "Plan Change After Approval",
		Description: "Rule amount changes after a line was approved; recalc flags a discrepancy",
	},
	{
		ID:          "deep-org",
		Name:        "Deep Organization",
		Description: "Five-level chain where some levels have no matching override rule",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	var err error
	switch req.ScenarioID {
	case "solar-office":
		err = h.loadSolarOfficeScenario(ctx)
	case "self-gen":
		err = h.loadSelfGenScenario(ctx)
	case "plan-change":
		err = h.loadPlanChangeScenario(ctx)
	case "deep-org":
		err = h.loadDeepOrgScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadSolarOfficeScenario builds a small sales office:
//
//	regional (L2)
//	  └── manager (L1)
//	        ├── rep-setter  (sets deals)
//	        └── rep-closer  (closes deals)
//
// One plan pays a percent-of-value base to closers, a flat base to
// setters, and flat overrides at levels 1 and 2 on the closer's chain.
func (h *Handler) loadSolarOfficeScenario(ctx context.Context) error {
	planJSON := `{
		"id": "solar-standard",
		"name": "Standard Solar Plan",
		"rules": [
			{"id": "setter-base", "type": "base", "calc_method": "flat", "amount": 500,
			 "applies_to_role": "setter", "sort_order": 10},
			{"id": "closer-base", "type": "base", "calc_method": "percent_of_deal_value", "amount": 5,
			 "applies_to_role": "closer", "sort_order": 20},
			{"id": "manager-override", "type": "override", "calc_method": "flat", "amount": 250,
			 "override_level": 1, "override_source": "closer", "sort_order": 30},
			{"id": "regional-override", "type": "override", "calc_method": "flat", "amount": 100,
			 "override_level": 2, "override_source": "closer", "sort_order": 40}
		]
	}`
	if err := h.createPlanFromJSON(ctx, planJSON); err != nil {
		return err
	}

	people := []commission.Person{
		person("regional", "Dana Ruiz", "regional", nil),
		person("manager", "Sam Patel", "manager", ptr("regional")),
		person("rep-setter", "Lee Nguyen", "setter", ptr("manager")),
		person("rep-closer", "Jo Carter", "closer", ptr("manager")),
	}
	for _, p := range people {
		if err := h.Store.SavePerson(ctx, p); err != nil {
			return err
		}
	}

	effective := date(2026, time.January, 1)
	for i, id := range []string{"regional", "manager", "rep-setter", "rep-closer"} {
		if err := h.assignPlan(ctx, fmt.Sprintf("assign-%03d", i+1), id, "solar-standard", effective, nil); err != nil {
			return err
		}
	}

	deal := commission.Deal{
		ID:           "deal-office-1",
		SetterID:     "rep-setter",
		CloserID:     "rep-closer",
		OfficeID:     "office-west",
		Type:         commission.DealSolar,
		Value:        commission.MustDecimal("30000"),
		SystemSizeKW: commission.MustDecimal("8.5"),
		CloseDate:    date(2026, time.March, 15),
		Status:       commission.DealClosed,
		CreatedAt:    time.Now(),
	}
	if err := h.Store.SaveDeal(ctx, deal); err != nil {
		return err
	}

	_, err := h.Coordinator.Recalculate(ctx, deal.ID)
	return err
}

// loadSelfGenScenario demonstrates one person filling both hats on a
// deal. The engine uses a single org snapshot and never pays the same
// rule twice for the same person.
func (h *Handler) loadSelfGenScenario(ctx context.Context) error {
	planJSON := `{
		"id": "self-gen-plan",
		"name": "Self-Gen Plan",
		"rules": [
			{"id": "any-base", "type": "base", "calc_method": "percent_of_deal_value", "amount": 7,
			 "sort_order": 10},
			{"id": "mgr-override", "type": "override", "calc_method": "flat", "amount": 300,
			 "override_level": 1, "override_source": "closer", "sort_order": 20}
		]
	}`
	if err := h.createPlanFromJSON(ctx, planJSON); err != nil {
		return err
	}

	if err := h.Store.SavePerson(ctx, person("owner", "Max Ortiz", "manager", nil)); err != nil {
		return err
	}
	if err := h.Store.SavePerson(ctx, person("hustler", "Ren Ito", "closer", ptr("owner"))); err != nil {
		return err
	}

	effective := date(2026, time.January, 1)
	if err := h.assignPlan(ctx, "assign-001", "hustler", "self-gen-plan", effective, nil); err != nil {
		return err
	}
	if err := h.assignPlan(ctx, "assign-002", "owner", "self-gen-plan", effective, nil); err != nil {
		return err
	}

	deal := commission.Deal{
		ID:        "deal-selfgen-1",
		SetterID:  "hustler",
		CloserID:  "hustler",
		Type:      commission.DealRoofing,
		Value:     commission.MustDecimal("18500"),
		SelfGen:   true,
		CloseDate: date(2026, time.April, 2),
		Status:    commission.DealClosed,
		CreatedAt: time.Now(),
	}
	if err := h.Store.SaveDeal(ctx, deal); err != nil {
		return err
	}

	_, err := h.Coordinator.Recalculate(ctx, deal.ID)
	return err
}

// loadPlanChangeScenario recalculates, approves a line, bumps the rule
// amount, and recalculates again. The approved line survives untouched
// and the second run reports a discrepancy instead of double-paying.
func (h *Handler) loadPlanChangeScenario(ctx context.Context) error {
	planJSON := `{
		"id": "changing-plan",
		"name": "Changing Plan",
		"rules": [
			{"id": "closer-base-v1", "type": "base", "calc_method": "percent_of_deal_value", "amount": 4,
			 "applies_to_role": "closer", "sort_order": 10}
		]
	}`
	if err := h.createPlanFromJSON(ctx, planJSON); err != nil {
		return err
	}

	if err := h.Store.SavePerson(ctx, person("closer-1", "Ade Bello", "closer", nil)); err != nil {
		return err
	}
	if err := h.assignPlan(ctx, "assign-001", "closer-1", "changing-plan", date(2026, time.January, 1), nil); err != nil {
		return err
	}

	deal := commission.Deal{
		ID:        "deal-change-1",
		SetterID:  "closer-1",
		CloserID:  "closer-1",
		Type:      commission.DealHVAC,
		Value:     commission.MustDecimal("12000"),
		CloseDate: date(2026, time.February, 10),
		Status:    commission.DealClosed,
		CreatedAt: time.Now(),
	}
	if err := h.Store.SaveDeal(ctx, deal); err != nil {
		return err
	}

	result, err := h.Coordinator.Recalculate(ctx, deal.ID)
	if err != nil {
		return err
	}

	// Approve everything from the first run.
	for _, line := range result.Commissions {
		if err := h.Store.UpdateCommissionStatus(ctx, line.ID, commission.StatusApproved, nil); err != nil {
			return err
		}
	}

	// Bump the rule amount, then recalculate. The approved line blocks
	// its replacement: second run reports a discrepancy.
	rules, err := h.Store.RulesForPlan(ctx, "changing-plan")
	if err != nil {
		return err
	}
	for _, rule := range rules {
		rule.Amount = decimal.NewFromInt(6)
		if err := h.Store.SaveRule(ctx, rule); err != nil {
			return err
		}
	}

	_, err = h.Coordinator.Recalculate(ctx, deal.ID)
	return err
}

// loadDeepOrgScenario builds a five-level chain where only levels 1 and
// 3 have override rules. The walk does not stop at level 2: level 3
// still pays.
func (h *Handler) loadDeepOrgScenario(ctx context.Context) error {
	planJSON := `{
		"id": "deep-plan",
		"name": "Deep Org Plan",
		"rules": [
			{"id": "closer-base", "type": "base", "calc_method": "rate_per_kw", "amount": 120,
			 "applies_to_role": "closer", "sort_order": 10},
			{"id": "l1-override", "type": "override", "calc_method": "flat", "amount": 200,
			 "override_level": 1, "override_source": "closer", "sort_order": 20},
			{"id": "l3-override", "type": "override", "calc_method": "flat", "amount": 75,
			 "override_level": 3, "override_source": "closer", "sort_order": 30}
		]
	}`
	if err := h.createPlanFromJSON(ctx, planJSON); err != nil {
		return err
	}

	chain := []commission.Person{
		person("vp", "Pat Moore", "vp", nil),
		person("director", "Kim Osei", "director", ptr("vp")),
		person("senior-mgr", "Ira Levin", "manager", ptr("director")),
		person("team-lead", "Noa Cohen", "lead", ptr("senior-mgr")),
		person("closer-deep", "Ty Walsh", "closer", ptr("team-lead")),
	}
	for _, p := range chain {
		if err := h.Store.SavePerson(ctx, p); err != nil {
			return err
		}
	}

	effective := date(2026, time.January, 1)
	for i, p := range chain {
		if err := h.assignPlan(ctx, fmt.Sprintf("assign-%03d", i+1), string(p.ID), "deep-plan", effective, nil); err != nil {
			return err
		}
	}

	deal := commission.Deal{
		ID:           "deal-deep-1",
		SetterID:     "closer-deep",
		CloserID:     "closer-deep",
		Type:         commission.DealSolar,
		Value:        commission.MustDecimal("42000"),
		SystemSizeKW: commission.MustDecimal("11.2"),
		CloseDate:    date(2026, time.May, 20),
		Status:       commission.DealClosed,
		CreatedAt:    time.Now(),
	}
	if err := h.Store.SaveDeal(ctx, deal); err != nil {
		return err
	}

	_, err := h.Coordinator.Recalculate(ctx, deal.ID)
	return err
}

// =============================================================================
// SCENARIO HELPERS
// =============================================================================

func (h *Handler) createPlanFromJSON(ctx context.Context, planJSON string) error {
	plan, rules, err := h.PlanFactory.ParsePlan(planJSON)
	if err != nil {
		return err
	}
	if err := h.Store.SavePlan(ctx, *plan); err != nil {
		return err
	}
	for _, rule := range rules {
		if err := h.Store.SaveRule(ctx, rule); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) assignPlan(ctx context.Context, id, personID, planID string, effective time.Time, end *time.Time) error {
	return h.Store.SaveAssignment(ctx, commission.PlanAssignment{
		ID:            commission.AssignmentID(id),
		PersonID:      commission.PersonID(personID),
		PayPlanID:     commission.PayPlanID(planID),
		EffectiveDate: effective,
		EndDate:       end,
		CreatedAt:     time.Now(),
	})
}

func person(id, name, role string, reportsTo *string) commission.Person {
	p := commission.Person{
		ID:        commission.PersonID(id),
		Name:      name,
		RoleID:    commission.RoleID(role),
		CreatedAt: time.Now(),
	}
	if reportsTo != nil {
		mgr := commission.PersonID(*reportsTo)
		p.ReportsTo = &mgr
	}
	return p
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(s string) *string {
	return &s
}
