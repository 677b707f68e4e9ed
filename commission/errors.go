/*
errors.go - Centralized error types for the commission engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps these to HTTP statuses; the engine itself only
  distinguishes three families:

  1. Not-found errors   - the request referenced something missing (404)
  2. Integrity errors   - the DATA is broken, not the request; fatal to
                          the current recalculation, zero partial writes
  3. Transient errors   - concurrent recalculation; safe to retry

USAGE:
  Callers classify with the helpers:

    if commission.IsDataIntegrity(err) {
        // page an operator; the hierarchy or config needs fixing
    }

SEE ALSO:
  - recalc.go: the only place errors turn into rollbacks
*/
package commission

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDealNotFound is returned when the referenced deal doesn't exist.
	ErrDealNotFound = errors.New("deal not found")

	// ErrPersonNotFound is returned when a referenced person doesn't exist.
	ErrPersonNotFound = errors.New("person not found")

	// ErrPlanNotFound is returned when a referenced pay plan doesn't exist.
	ErrPlanNotFound = errors.New("pay plan not found")

	// ErrSnapshotNotFound is returned when a referenced org snapshot doesn't exist.
	ErrSnapshotNotFound = errors.New("org snapshot not found")

	// ErrCommissionNotFound is returned when a referenced commission row doesn't exist.
	ErrCommissionNotFound = errors.New("commission not found")

	// ErrAmbiguousAssignment is returned when more than one pay plan
	// assignment is active for a person on the calculation date. This means
	// the non-overlap invariant was violated at write time; picking one
	// arbitrarily is the kind of bug that causes incorrect pay.
	ErrAmbiguousAssignment = errors.New("ambiguous pay plan assignment")

	// ErrCyclicHierarchy is returned when walking reportsTo exceeds the
	// configured depth cap. A cycle means the hierarchy data is corrupt
	// and must not silently under- or over-pay anyone.
	ErrCyclicHierarchy = errors.New("cyclic reporting hierarchy")

	// ErrUnrecognizedCalcMethod is returned when a matched rule carries a
	// calc method the evaluator doesn't know. Fatal for the whole deal: a
	// partial commission set is worse than none.
	ErrUnrecognizedCalcMethod = errors.New("unrecognized calc method")

	// ErrConcurrentRecalculation is returned when the per-deal lock is held
	// by another in-flight recalculation. The only retryable error kind.
	ErrConcurrentRecalculation = errors.New("recalculation already in progress for deal")

	// ErrOverlappingAssignment is returned when inserting a pay plan
	// assignment whose date range overlaps an existing one for the person.
	ErrOverlappingAssignment = errors.New("overlapping pay plan assignment")

	// ErrInvalidRule is returned when a rule violates the base/override
	// shape invariant.
	ErrInvalidRule = errors.New("invalid commission rule")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AmbiguousAssignmentError reports which person had overlapping active
// assignments, and which ones, so operators can fix the data.
type AmbiguousAssignmentError struct {
	PersonID PersonID
	AsOf     time.Time
	Matches  []AssignmentID
}

func (e *AmbiguousAssignmentError) Error() string {
	return fmt.Sprintf("ambiguous pay plan assignment: person %s has %d active assignments at %s",
		e.PersonID, len(e.Matches), e.AsOf.Format("2006-01-02"))
}

func (e *AmbiguousAssignmentError) Unwrap() error { return ErrAmbiguousAssignment }

// CyclicHierarchyError reports where the reportsTo walk blew past the
// depth cap, including the partial chain walked so far.
type CyclicHierarchyError struct {
	RootPersonID PersonID
	AtPersonID   PersonID
	Depth        int
	Walked       []PersonID
}

func (e *CyclicHierarchyError) Error() string {
	return fmt.Sprintf("cyclic reporting hierarchy: walk from %s revisited or exceeded depth %d at %s",
		e.RootPersonID, e.Depth, e.AtPersonID)
}

func (e *CyclicHierarchyError) Unwrap() error { return ErrCyclicHierarchy }

// UnrecognizedCalcMethodError reports which rule is misconfigured.
type UnrecognizedCalcMethodError struct {
	RuleID RuleID
	Method CalcMethod
}

func (e *UnrecognizedCalcMethodError) Error() string {
	return fmt.Sprintf("unrecognized calc method %q on rule %s", e.Method, e.RuleID)
}

func (e *UnrecognizedCalcMethodError) Unwrap() error { return ErrUnrecognizedCalcMethod }

// InvalidRuleError reports a rule that violates the shape invariant.
type InvalidRuleError struct {
	RuleID RuleID
	Reason string
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid commission rule %s: %s", e.RuleID, e.Reason)
}

func (e *InvalidRuleError) Unwrap() error { return ErrInvalidRule }

// OverlappingAssignmentError reports which existing assignment conflicts.
type OverlappingAssignmentError struct {
	PersonID   PersonID
	ExistingID AssignmentID
}

func (e *OverlappingAssignmentError) Error() string {
	return fmt.Sprintf("overlapping pay plan assignment for person %s (conflicts with %s)",
		e.PersonID, e.ExistingID)
}

func (e *OverlappingAssignmentError) Unwrap() error { return ErrOverlappingAssignment }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDealNotFound) ||
		errors.Is(err, ErrPersonNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrSnapshotNotFound) ||
		errors.Is(err, ErrCommissionNotFound)
}

// IsDataIntegrity returns true if the error means the data or rule
// configuration is broken, not the request. Operators must intervene.
func IsDataIntegrity(err error) bool {
	return errors.Is(err, ErrAmbiguousAssignment) ||
		errors.Is(err, ErrCyclicHierarchy) ||
		errors.Is(err, ErrUnrecognizedCalcMethod) ||
		errors.Is(err, ErrInvalidRule) ||
		errors.Is(err, ErrOverlappingAssignment)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentRecalculation)
}
