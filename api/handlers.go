/*
handlers.go - HTTP API handlers for the commission engine

PURPOSE:
  Exposes the commission calculation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Deals:
    GET    /api/deals                     List all deals
    POST   /api/deals                     Create deal
    GET    /api/deals/{id}                Get deal details
    POST   /api/deals/{id}/recalculate    Recalculate commissions
    GET    /api/deals/{id}/commissions    Commission lines for deal
    GET    /api/deals/{id}/activity       Activity log for deal

  People:
    GET    /api/people                    List all people
    POST   /api/people                    Create person
    GET    /api/people/{id}               Get person details
    GET    /api/people/{id}/chain         Live reporting-chain preview
    GET    /api/people/{id}/assignments   Plan assignments for person

  Plans:
    GET    /api/plans                     List all pay plans
    POST   /api/plans                     Create plan from JSON config
    GET    /api/plans/{id}                Get plan + rules

  Commissions:
    POST   /api/commissions/{id}/status   Update line status (approve/pay/void)

  Admin:
    POST   /api/admin/assignments         Assign a plan to a person

  Snapshots:
    GET    /api/snapshots/{id}            Get a persisted org snapshot

  Scenarios:
    GET    /api/scenarios                 List demo scenarios
    POST   /api/scenarios/load            Load a demo scenario

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access (sqlite or memory)
  - Coordinator: Recalculation engine
  - PlanFactory: JSON to plan conversion

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Deal/person/plan not found
  - 409: Concurrent recalculation in flight
  - 422: Data integrity errors (cycle, ambiguous assignment, bad rule)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avelkins10/kin-people-sub003/commission"
	"github.com/avelkins10/kin-people-sub003/factory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is everything the API layer needs from a backing store. Both
// store/sqlite.Store and commission/store.Memory satisfy it.
type Store interface {
	commission.TxStore
	commission.DealLocker
	commission.ActivityLog

	UpdateCommissionStatus(ctx context.Context, id commission.CommissionID, status commission.CommissionStatus, reason *string) error
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       Store
	Coordinator *commission.Coordinator
	PlanFactory *factory.PlanFactory

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler backed by the given store.
func NewHandler(store Store) *Handler {
	return &Handler{
		Store: store,
		Coordinator: &commission.Coordinator{
			Store:    store,
			Locker:   store,
			Activity: store,
		},
		PlanFactory: factory.NewPlanFactory(),
	}
}

// =============================================================================
// DEAL HANDLERS
// =============================================================================

// ListDeals returns all deals.
func (h *Handler) ListDeals(w http.ResponseWriter, r *http.Request) {
	deals, err := h.Store.ListDeals(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list deals", err)
		return
	}

	dtos := make([]DealDTO, len(deals))
	for i, d := range deals {
		dtos[i] = toDealDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetDeal returns a single deal.
func (h *Handler) GetDeal(w http.ResponseWriter, r *http.Request) {
	id := commission.DealID(chi.URLParam(r, "id"))

	deal, err := h.Store.GetDeal(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get deal", err)
		return
	}
	writeJSON(w, http.StatusOK, toDealDTO(*deal))
}

// CreateDeal creates a new deal.
func (h *Handler) CreateDeal(w http.ResponseWriter, r *http.Request) {
	var req CreateDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	deal, err := dealFromRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid deal", err)
		return
	}

	if err := h.Store.SaveDeal(r.Context(), *deal); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create deal", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDealDTO(*deal))
}

// Recalculate recomputes all commission lines for a deal.
// POST /api/deals/{id}/recalculate
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	id := commission.DealID(chi.URLParam(r, "id"))

	result, err := h.Coordinator.Recalculate(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Recalculation failed", err)
		return
	}

	writeJSON(w, http.StatusOK, RecalculateResponse{
		DealID:          string(result.DealID),
		CommissionCount: result.Written,
		Commissions:     toCommissionDTOs(result.Commissions),
		Discrepancies:   toDiscrepancyDTOs(result.Discrepancies),
	})
}

// GetDealCommissions returns all commission lines for a deal.
func (h *Handler) GetDealCommissions(w http.ResponseWriter, r *http.Request) {
	id := commission.DealID(chi.URLParam(r, "id"))
	ctx := r.Context()

	if _, err := h.Store.GetDeal(ctx, id); err != nil {
		writeDomainError(w, "Failed to get deal", err)
		return
	}

	rows, err := h.Store.CommissionsForDeal(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list commissions", err)
		return
	}
	writeJSON(w, http.StatusOK, toCommissionDTOs(rows))
}

// GetDealActivity returns the activity log for a deal's commission lines.
func (h *Handler) GetDealActivity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entries, err := h.Store.ActivityForDeal(r.Context(), commission.DealID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list activity", err)
		return
	}
	if entries == nil {
		entries = []commission.ActivityEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// =============================================================================
// PERSON HANDLERS
// =============================================================================

// ListPeople returns all people.
func (h *Handler) ListPeople(w http.ResponseWriter, r *http.Request) {
	people, err := h.Store.ListPeople(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list people", err)
		return
	}

	dtos := make([]PersonDTO, len(people))
	for i, p := range people {
		dtos[i] = toPersonDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPerson returns a single person.
func (h *Handler) GetPerson(w http.ResponseWriter, r *http.Request) {
	id := commission.PersonID(chi.URLParam(r, "id"))

	p, err := h.Store.GetPerson(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get person", err)
		return
	}
	writeJSON(w, http.StatusOK, toPersonDTO(*p))
}

// CreatePerson creates a new person.
func (h *Handler) CreatePerson(w http.ResponseWriter, r *http.Request) {
	var req CreatePersonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	p := commission.Person{
		ID:        commission.PersonID(req.ID),
		Name:      req.Name,
		RoleID:    commission.RoleID(req.RoleID),
		OfficeID:  commission.OfficeID(req.OfficeID),
		CreatedAt: time.Now(),
	}
	if req.ReportsTo != nil {
		mgr := commission.PersonID(*req.ReportsTo)
		p.ReportsTo = &mgr
	}

	if err := h.Store.SavePerson(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create person", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPersonDTO(p))
}

// GetPersonChain returns a live preview of a person's reporting chain,
// walked against the current hierarchy. Nothing is persisted; snapshots
// are only captured during recalculation.
func (h *Handler) GetPersonChain(w http.ResponseWriter, r *http.Request) {
	id := commission.PersonID(chi.URLParam(r, "id"))
	asOf := time.Now()

	builder := &commission.SnapshotBuilder{People: h.Store}
	snap, err := builder.Build(r.Context(), id, asOf)
	if err != nil {
		writeDomainError(w, "Failed to walk reporting chain", err)
		return
	}

	writeJSON(w, http.StatusOK, ChainDTO{
		PersonID: string(id),
		AsOf:     asOf.Format(time.RFC3339),
		Chain:    toChainLinkDTOs(snap.Chain),
	})
}

// GetPersonAssignments returns a person's plan assignments.
func (h *Handler) GetPersonAssignments(w http.ResponseWriter, r *http.Request) {
	id := commission.PersonID(chi.URLParam(r, "id"))

	assignments, err := h.Store.AssignmentsForPerson(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list assignments", err)
		return
	}

	dtos := make([]AssignmentDTO, len(assignments))
	for i, a := range assignments {
		dtos[i] = toAssignmentDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PLAN HANDLERS
// =============================================================================

// ListPlans returns all pay plans.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	plans, err := h.Store.ListPlans(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list plans", err)
		return
	}

	dtos := make([]PlanDTO, 0, len(plans))
	for _, p := range plans {
		rules, err := h.Store.RulesForPlan(ctx, p.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list plan rules", err)
			return
		}
		plan := p
		dtos = append(dtos, PlanDTO{
			ID:     string(p.ID),
			Name:   p.Name,
			Active: p.Active,
			Config: h.PlanFactory.ToJSON(&plan, rules),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPlan returns a single plan with its rules.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	id := commission.PayPlanID(chi.URLParam(r, "id"))
	ctx := r.Context()

	plan, err := h.Store.GetPlan(ctx, id)
	if err != nil {
		writeDomainError(w, "Failed to get plan", err)
		return
	}
	rules, err := h.Store.RulesForPlan(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list plan rules", err)
		return
	}

	writeJSON(w, http.StatusOK, PlanDTO{
		ID:     string(plan.ID),
		Name:   plan.Name,
		Active: plan.Active,
		Config: h.PlanFactory.ToJSON(plan, rules),
	})
}

// CreatePlan creates a pay plan and its rules from JSON config.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	plan, rules, err := h.PlanFactory.FromJSON(req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid plan config", err)
		return
	}

	err = h.Store.WithTx(r.Context(), func(s commission.Stores) error {
		if err := s.SavePlan(r.Context(), *plan); err != nil {
			return err
		}
		for _, rule := range rules {
			if err := s.SaveRule(r.Context(), rule); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		writeDomainError(w, "Failed to create plan", err)
		return
	}

	writeJSON(w, http.StatusCreated, PlanDTO{
		ID:     string(plan.ID),
		Name:   plan.Name,
		Active: plan.Active,
		Config: h.PlanFactory.ToJSON(plan, rules),
	})
}

// =============================================================================
// COMMISSION STATUS
// =============================================================================

// UpdateCommissionStatusRequest flips one line's status.
type UpdateCommissionStatusRequest struct {
	Status string  `json:"status"` // pending, held, approved, paid, void
	Reason *string `json:"reason,omitempty"`
}

// UpdateCommissionStatus moves a commission line through the approval
// workflow. Recalculation respects the resulting status: approved, paid
// and void rows are never altered by later runs.
func (h *Handler) UpdateCommissionStatus(w http.ResponseWriter, r *http.Request) {
	id := commission.CommissionID(chi.URLParam(r, "id"))

	var req UpdateCommissionStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	status := commission.CommissionStatus(req.Status)
	switch status {
	case commission.StatusPending, commission.StatusHeld, commission.StatusApproved,
		commission.StatusPaid, commission.StatusVoid:
	default:
		writeError(w, http.StatusBadRequest, "Unknown status", nil)
		return
	}

	if err := h.Store.UpdateCommissionStatus(r.Context(), id, status, req.Reason); err != nil {
		writeDomainError(w, "Failed to update status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": string(id), "status": string(status)})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateAssignment assigns a pay plan to a person over a date range.
// Overlapping ranges for the same person are rejected with 422.
func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req CreateAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	effective, err := time.Parse("2006-01-02", req.EffectiveDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_date format (use YYYY-MM-DD)", err)
		return
	}

	a := commission.PlanAssignment{
		ID:            commission.AssignmentID(req.ID),
		PersonID:      commission.PersonID(req.PersonID),
		PayPlanID:     commission.PayPlanID(req.PlanID),
		EffectiveDate: effective,
		CreatedAt:     time.Now(),
	}
	if a.ID == "" {
		a.ID = commission.AssignmentID(uuid.NewString())
	}
	if req.EndDate != nil {
		end, err := time.Parse("2006-01-02", *req.EndDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end_date format (use YYYY-MM-DD)", err)
			return
		}
		if !end.After(effective) {
			writeError(w, http.StatusBadRequest, "end_date must be after effective_date", nil)
			return
		}
		a.EndDate = &end
	}

	ctx := r.Context()
	if _, err := h.Store.GetPerson(ctx, a.PersonID); err != nil {
		writeDomainError(w, "Failed to resolve person", err)
		return
	}
	if _, err := h.Store.GetPlan(ctx, a.PayPlanID); err != nil {
		writeDomainError(w, "Failed to resolve plan", err)
		return
	}

	if err := h.Store.SaveAssignment(ctx, a); err != nil {
		writeDomainError(w, "Failed to create assignment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssignmentDTO(a))
}

// =============================================================================
// SNAPSHOT HANDLERS
// =============================================================================

// GetSnapshot returns a persisted org snapshot by ID.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := commission.SnapshotID(chi.URLParam(r, "id"))

	snap, err := h.Store.GetSnapshot(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get snapshot", err)
		return
	}

	writeJSON(w, http.StatusOK, SnapshotDTO{
		ID:           string(snap.ID),
		RootPersonID: string(snap.RootPersonID),
		Chain:        toChainLinkDTOs(snap.Chain),
		CapturedAt:   snap.CapturedAt.Format(time.RFC3339),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func dealFromRequest(req CreateDealRequest) (*commission.Deal, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	closeDate, err := time.Parse("2006-01-02", req.CloseDate)
	if err != nil {
		return nil, err
	}
	value, err := decimal.NewFromString(req.Value)
	if err != nil {
		return nil, err
	}
	systemSize := decimal.Zero
	if req.SystemSizeKW != "" {
		systemSize, err = decimal.NewFromString(req.SystemSizeKW)
		if err != nil {
			return nil, err
		}
	}
	status := commission.DealStatus(req.Status)
	if status == "" {
		status = commission.DealClosed
	}

	return &commission.Deal{
		ID:           commission.DealID(req.ID),
		SetterID:     commission.PersonID(req.SetterID),
		CloserID:     commission.PersonID(req.CloserID),
		OfficeID:     commission.OfficeID(req.OfficeID),
		Type:         commission.DealType(req.Type),
		Value:        value,
		SystemSizeKW: systemSize,
		SelfGen:      req.SelfGen,
		CloseDate:    closeDate,
		Status:       status,
		CreatedAt:    time.Now(),
	}, nil
}

// writeDomainError maps engine errors onto HTTP status codes:
// not-found 404, concurrent recalculation 409, data integrity 422,
// everything else 500.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case commission.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case commission.IsRetryable(err):
		resp := ErrorResponse{Error: message, Code: "concurrent_recalculation", Details: err.Error()}
		writeJSON(w, http.StatusConflict, resp)
	case commission.IsDataIntegrity(err):
		resp := ErrorResponse{Error: message, Code: "data_integrity", Details: err.Error()}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
