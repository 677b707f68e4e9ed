/*
Package commission implements the commission calculation engine.

PURPOSE:
  Given a closed sales deal, deterministically derive every commission line
  item owed to every eligible person (the deal's setter, closer, and their
  upline managers) under the pay plans and commission rules in effect on the
  deal's close date, and persist those line items with a reproducible audit
  trail.

KEY CONCEPTS IN THIS FILE (types.go):
  - Deal: a closed or closing sale (read-only input)
  - Person: a node in the reporting hierarchy (read-only input)
  - PayPlan / PlanAssignment: a named rule bundle, bound to people temporally
  - CommissionRule: one base or override rule inside a pay plan
  - OrgSnapshot: immutable point-in-time capture of a reporting chain
  - Commission: one computed payout obligation with full provenance

DESIGN PRINCIPLES:
  1. Precision: all money uses decimal.Decimal, never float64
  2. Provenance: every commission records the rule, snapshot, and inputs
     that produced its amount
  3. Immutability: org snapshots are append-only; recalculation replaces
     untrusted rows rather than editing them
  4. Type safety: strong ID types prevent mixing deals, people, and rules

SEE ALSO:
  - snapshot.go:  org snapshot builder
  - resolver.go:  temporal pay plan resolution
  - matcher.go:   deterministic rule selection
  - evaluator.go: commission arithmetic
  - recalc.go:    transactional recalculation coordinator
*/
package commission

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	DealID       string
	PersonID     string
	PayPlanID    string
	RuleID       string
	CommissionID string
	SnapshotID   string
	AssignmentID string
	RoleID       string
	OfficeID     string
)

// =============================================================================
// MONEY
// =============================================================================

// RoundCurrency rounds to 2 decimal places, half-up. Percent and per-kW
// amounts are rounded exactly once, at commission creation, and never again.
func RoundCurrency(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MustDecimal parses s or returns zero. Test and seed-data helper.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// DEAL - The sale being commissioned (owned by sales/ops; read-only here)
// =============================================================================

type DealType string

const (
	DealSolar   DealType = "solar"
	DealHVAC    DealType = "hvac"
	DealRoofing DealType = "roofing"
	DealBattery DealType = "battery"
)

type DealStatus string

const (
	DealOpen      DealStatus = "open"
	DealClosed    DealStatus = "closed"
	DealCancelled DealStatus = "cancelled"
)

type Deal struct {
	ID           DealID
	SetterID     PersonID
	CloserID     PersonID
	OfficeID     OfficeID
	Type         DealType
	Value        decimal.Decimal // contract value in dollars
	SystemSizeKW decimal.Decimal // zero for non-solar deal types
	SelfGen      bool            // setter sourced their own deal
	CloseDate    time.Time
	Status       DealStatus
	CreatedAt    time.Time
}

// =============================================================================
// PERSON - A node in the reporting hierarchy (read-only graph)
// =============================================================================

type Person struct {
	ID        PersonID
	Name      string
	ReportsTo *PersonID // nil = top of chain
	RoleID    RoleID
	OfficeID  OfficeID
	CreatedAt time.Time
}

// =============================================================================
// PAY PLAN - Named bundle of commission rules
// =============================================================================

type PayPlan struct {
	ID        PayPlanID
	Name      string
	Active    bool
	CreatedAt time.Time
}

// PlanAssignment temporally binds a person to a pay plan.
//
// INVARIANT: for a given person, no two assignments may have overlapping
// [EffectiveDate, EndDate) ranges. Enforced at write time by the stores
// (ErrOverlappingAssignment) so the resolver stays simple and total.
type PlanAssignment struct {
	ID            AssignmentID
	PersonID      PersonID
	PayPlanID     PayPlanID
	EffectiveDate time.Time
	EndDate       *time.Time // nil = current
	CreatedAt     time.Time
}

// ActiveAt reports whether the assignment covers the given instant.
// The range is half-open: EffectiveDate <= at < EndDate.
func (a PlanAssignment) ActiveAt(at time.Time) bool {
	if at.Before(a.EffectiveDate) {
		return false
	}
	if a.EndDate != nil && !at.Before(*a.EndDate) {
		return false
	}
	return true
}

// Overlaps reports whether two assignment ranges intersect.
func (a PlanAssignment) Overlaps(b PlanAssignment) bool {
	// a starts before b ends, and b starts before a ends
	aOpen := a.EndDate == nil
	bOpen := b.EndDate == nil
	if !aOpen && !a.EndDate.After(b.EffectiveDate) {
		return false
	}
	if !bOpen && !b.EndDate.After(a.EffectiveDate) {
		return false
	}
	return true
}

// =============================================================================
// COMMISSION RULE - One rule within a pay plan
// =============================================================================

type RuleType string

const (
	RuleBase     RuleType = "base"
	RuleOverride RuleType = "override"
)

type CalcMethod string

const (
	CalcFlat           CalcMethod = "flat"                  // Amount used as-is
	CalcPercentOfValue CalcMethod = "percent_of_deal_value" // Amount/100 * deal value
	CalcRatePerKW      CalcMethod = "rate_per_kw"           // Amount * system size
)

type OverrideSource string

const (
	SourceSetter OverrideSource = "setter"
	SourceCloser OverrideSource = "closer"
)

type CommissionRule struct {
	ID             RuleID
	PayPlanID      PayPlanID
	Type           RuleType
	Method         CalcMethod
	Amount         decimal.Decimal // parameter consumed by Method
	AppliesToRole  *RoleID         // nil = any role
	OverrideLevel  *int            // override only; 1 = direct manager
	OverrideSource *OverrideSource // override only; whose upline this rides on
	DealTypes      []DealType      // nil/empty = all deal types
	SortOrder      int
	Active         bool
	CreatedAt      time.Time
}

// AppliesToDealType reports whether the rule covers the given deal type.
// An empty DealTypes set means the rule applies to all deal types.
func (r CommissionRule) AppliesToDealType(dt DealType) bool {
	if len(r.DealTypes) == 0 {
		return true
	}
	for _, t := range r.DealTypes {
		if t == dt {
			return true
		}
	}
	return false
}

// Validate checks the base/override shape invariant:
// override rules must carry both OverrideLevel >= 1 and OverrideSource,
// base rules must carry neither.
func (r CommissionRule) Validate() error {
	switch r.Type {
	case RuleBase:
		if r.OverrideLevel != nil || r.OverrideSource != nil {
			return &InvalidRuleError{RuleID: r.ID, Reason: "base rule must not set override level or source"}
		}
	case RuleOverride:
		if r.OverrideLevel == nil || *r.OverrideLevel < 1 {
			return &InvalidRuleError{RuleID: r.ID, Reason: "override rule requires overrideLevel >= 1"}
		}
		if r.OverrideSource == nil {
			return &InvalidRuleError{RuleID: r.ID, Reason: "override rule requires overrideSource"}
		}
	default:
		return &InvalidRuleError{RuleID: r.ID, Reason: "unknown rule type " + string(r.Type)}
	}
	// Calc method is checked at compute time, not here; see ComputeAmount.
	return nil
}

// =============================================================================
// ORG SNAPSHOT - Immutable point-in-time reporting chain
// =============================================================================

// ChainLink is one entry in a captured reporting chain.
// Level 0 is the root person; increasing levels go up the chain.
type ChainLink struct {
	PersonID PersonID `json:"person_id"`
	Level    int      `json:"level"`
}

// OrgSnapshot captures a person's chain of command as of one calculation
// run. Never mutated, never deduplicated: each run gets its own snapshot
// so disputes can see exactly who was in the chain when the deal closed.
type OrgSnapshot struct {
	ID           SnapshotID
	RootPersonID PersonID
	Chain        []ChainLink // ordered by level, level 0 first
	CapturedAt   time.Time
}

// At returns the chain link at the given level, or nil if the chain
// does not reach that far.
func (s *OrgSnapshot) At(level int) *ChainLink {
	for i := range s.Chain {
		if s.Chain[i].Level == level {
			return &s.Chain[i]
		}
	}
	return nil
}

// Depth returns the highest level present in the chain.
func (s *OrgSnapshot) Depth() int {
	max := 0
	for _, l := range s.Chain {
		if l.Level > max {
			max = l.Level
		}
	}
	return max
}

// =============================================================================
// COMMISSION - One computed payout obligation
// =============================================================================

type CommissionStatus string

const (
	StatusPending  CommissionStatus = "pending"
	StatusApproved CommissionStatus = "approved"
	StatusPaid     CommissionStatus = "paid"
	StatusHeld     CommissionStatus = "held"
	StatusVoid     CommissionStatus = "void"
)

// Protected reports whether a human decision already happened for this
// status. Protected rows are never altered or deleted by recalculation.
func (s CommissionStatus) Protected() bool {
	return s == StatusApproved || s == StatusPaid || s == StatusVoid
}

// Replaceable reports whether recalculation may delete and replace a row
// in this status. Pending and held represent "not yet trusted" amounts.
func (s CommissionStatus) Replaceable() bool {
	return s == StatusPending || s == StatusHeld
}

// CalcInputs are the deal attributes a rule's calc method consumed.
// Recorded so the amount can be reconstructed without the original deal.
type CalcInputs struct {
	DealValue      decimal.Decimal `json:"deal_value"`
	SystemSizeKW   decimal.Decimal `json:"system_size_kw,omitempty"`
	OverrideLevel  *int            `json:"override_level,omitempty"`
	OverrideSource *OverrideSource `json:"override_source,omitempty"`
}

// CalcDetails is the structured provenance record attached to every
// commission: which snapshot, which rule, when matched, with what inputs.
type CalcDetails struct {
	OrgSnapshotID SnapshotID `json:"org_snapshot_id"`
	RuleID        RuleID     `json:"rule_id"`
	MatchedAt     time.Time  `json:"matched_at"`
	Inputs        CalcInputs `json:"inputs"`
}

type Commission struct {
	ID           CommissionID
	DealID       DealID
	PersonID     PersonID
	Type         string // human-readable, e.g. "setter base", "closer override L2"
	Amount       decimal.Decimal
	Status       CommissionStatus
	PayPlanID    PayPlanID
	RuleID       RuleID
	Details      CalcDetails
	StatusReason *string
	PaidAt       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// =============================================================================
// RECALCULATION RESULT
// =============================================================================

// Discrepancy flags a computed line that was skipped because a protected
// row already exists for the same (person, rule). Surfaced for operator
// review instead of silently double-paying or overwriting.
type Discrepancy struct {
	DealID         DealID           `json:"deal_id"`
	PersonID       PersonID         `json:"person_id"`
	RuleID         RuleID           `json:"rule_id"`
	ExistingID     CommissionID     `json:"existing_id"`
	ExistingStatus CommissionStatus `json:"existing_status"`
	ExistingAmount decimal.Decimal  `json:"existing_amount"`
	ComputedAmount decimal.Decimal  `json:"computed_amount"`
	Note           string           `json:"note"`
}

// Result is what one recalculation run produced.
type Result struct {
	DealID        DealID
	Written       int // commission rows inserted
	Commissions   []Commission
	Discrepancies []Discrepancy
}
