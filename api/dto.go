/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Deal:
    DealDTO, CreateDealRequest, RecalculateResponse

  Person:
    PersonDTO, CreatePersonRequest, ChainLinkDTO

  Plan:
    PlanDTO (wraps factory.PlanJSON), CreateAssignmentRequest

  Commission:
    CommissionDTO, DiscrepancyDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

MONEY:
  Amounts cross the wire as JSON strings ("1250.00") rather than floats,
  so clients never see binary-float artifacts on currency values.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/plan.go: PlanJSON type
*/
package api

import (
	"time"

	"github.com/avelkins10/kin-people-sub003/commission"
	"github.com/avelkins10/kin-people-sub003/factory"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// DealDTO represents a deal in API responses.
type DealDTO struct {
	ID           string `json:"id"`
	SetterID     string `json:"setter_id"`
	CloserID     string `json:"closer_id"`
	OfficeID     string `json:"office_id,omitempty"`
	Type         string `json:"type"`
	Value        string `json:"value"`
	SystemSizeKW string `json:"system_size_kw,omitempty"`
	SelfGen      bool   `json:"self_gen,omitempty"`
	CloseDate    string `json:"close_date"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// CreateDealRequest is the request to create a deal.
type CreateDealRequest struct {
	ID           string `json:"id"`
	SetterID     string `json:"setter_id"`
	CloserID     string `json:"closer_id"`
	OfficeID     string `json:"office_id,omitempty"`
	Type         string `json:"type"`
	Value        string `json:"value"`
	SystemSizeKW string `json:"system_size_kw,omitempty"`
	SelfGen      bool   `json:"self_gen,omitempty"`
	CloseDate    string `json:"close_date"` // YYYY-MM-DD
	Status       string `json:"status,omitempty"`
}

// PersonDTO represents a person in API responses.
type PersonDTO struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	ReportsTo *string `json:"reports_to,omitempty"`
	RoleID    string  `json:"role_id"`
	OfficeID  string  `json:"office_id,omitempty"`
	CreatedAt string  `json:"created_at,omitempty"`
}

// CreatePersonRequest is the request to create a person.
type CreatePersonRequest struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	ReportsTo *string `json:"reports_to,omitempty"`
	RoleID    string  `json:"role_id"`
	OfficeID  string  `json:"office_id,omitempty"`
}

// ChainLinkDTO is one level of a reporting chain.
type ChainLinkDTO struct {
	PersonID string `json:"person_id"`
	Level    int    `json:"level"`
}

// ChainDTO is a live reporting-chain preview for a person.
type ChainDTO struct {
	PersonID string         `json:"person_id"`
	AsOf     string         `json:"as_of"`
	Chain    []ChainLinkDTO `json:"chain"`
}

// SnapshotDTO is a persisted org snapshot.
type SnapshotDTO struct {
	ID           string         `json:"id"`
	RootPersonID string         `json:"root_person_id"`
	Chain        []ChainLinkDTO `json:"chain"`
	CapturedAt   string         `json:"captured_at"`
}

// PlanDTO represents a pay plan plus its rules in API responses.
type PlanDTO struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Active bool             `json:"active"`
	Config factory.PlanJSON `json:"config"`
}

// CreatePlanRequest is the request to create a plan from JSON config.
type CreatePlanRequest struct {
	Config factory.PlanJSON `json:"config"`
}

// AssignmentDTO represents a pay plan assignment.
type AssignmentDTO struct {
	ID            string  `json:"id"`
	PersonID      string  `json:"person_id"`
	PlanID        string  `json:"plan_id"`
	EffectiveDate string  `json:"effective_date"`
	EndDate       *string `json:"end_date,omitempty"`
}

// CreateAssignmentRequest is the request to assign a plan to a person.
type CreateAssignmentRequest struct {
	ID            string  `json:"id,omitempty"`
	PersonID      string  `json:"person_id"`
	PlanID        string  `json:"plan_id"`
	EffectiveDate string  `json:"effective_date"`     // YYYY-MM-DD
	EndDate       *string `json:"end_date,omitempty"` // YYYY-MM-DD, exclusive
}

// CommissionDTO represents one commission line.
type CommissionDTO struct {
	ID           string                 `json:"id"`
	DealID       string                 `json:"deal_id"`
	PersonID     string                 `json:"person_id"`
	Type         string                 `json:"type"`
	Amount       string                 `json:"amount"`
	Status       string                 `json:"status"`
	PlanID       string                 `json:"plan_id"`
	RuleID       string                 `json:"rule_id"`
	Details      commission.CalcDetails `json:"details"`
	StatusReason *string                `json:"status_reason,omitempty"`
	PaidAt       *string                `json:"paid_at,omitempty"`
	CreatedAt    string                 `json:"created_at,omitempty"`
}

// DiscrepancyDTO flags a protected row that blocked a computed line.
type DiscrepancyDTO struct {
	DealID         string `json:"deal_id"`
	PersonID       string `json:"person_id"`
	RuleID         string `json:"rule_id"`
	ExistingID     string `json:"existing_id"`
	ExistingStatus string `json:"existing_status"`
	ExistingAmount string `json:"existing_amount"`
	ComputedAmount string `json:"computed_amount"`
	Note           string `json:"note"`
}

// RecalculateResponse is the response after recalculating a deal.
type RecalculateResponse struct {
	DealID          string           `json:"deal_id"`
	CommissionCount int              `json:"commission_count"`
	Commissions     []CommissionDTO  `json:"commissions"`
	Discrepancies   []DiscrepancyDTO `json:"discrepancies"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toDealDTO(d commission.Deal) DealDTO {
	dto := DealDTO{
		ID:        string(d.ID),
		SetterID:  string(d.SetterID),
		CloserID:  string(d.CloserID),
		OfficeID:  string(d.OfficeID),
		Type:      string(d.Type),
		Value:     d.Value.StringFixed(2),
		SelfGen:   d.SelfGen,
		CloseDate: d.CloseDate.Format("2006-01-02"),
		Status:    string(d.Status),
		CreatedAt: d.CreatedAt.Format(time.RFC3339),
	}
	if !d.SystemSizeKW.IsZero() {
		dto.SystemSizeKW = d.SystemSizeKW.String()
	}
	return dto
}

func toPersonDTO(p commission.Person) PersonDTO {
	dto := PersonDTO{
		ID:        string(p.ID),
		Name:      p.Name,
		RoleID:    string(p.RoleID),
		OfficeID:  string(p.OfficeID),
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
	if p.ReportsTo != nil {
		s := string(*p.ReportsTo)
		dto.ReportsTo = &s
	}
	return dto
}

func toChainLinkDTOs(chain []commission.ChainLink) []ChainLinkDTO {
	dtos := make([]ChainLinkDTO, len(chain))
	for i, link := range chain {
		dtos[i] = ChainLinkDTO{PersonID: string(link.PersonID), Level: link.Level}
	}
	return dtos
}

func toAssignmentDTO(a commission.PlanAssignment) AssignmentDTO {
	dto := AssignmentDTO{
		ID:            string(a.ID),
		PersonID:      string(a.PersonID),
		PlanID:        string(a.PayPlanID),
		EffectiveDate: a.EffectiveDate.Format("2006-01-02"),
	}
	if a.EndDate != nil {
		s := a.EndDate.Format("2006-01-02")
		dto.EndDate = &s
	}
	return dto
}

func toCommissionDTO(c commission.Commission) CommissionDTO {
	dto := CommissionDTO{
		ID:           string(c.ID),
		DealID:       string(c.DealID),
		PersonID:     string(c.PersonID),
		Type:         c.Type,
		Amount:       c.Amount.StringFixed(2),
		Status:       string(c.Status),
		PlanID:       string(c.PayPlanID),
		RuleID:       string(c.RuleID),
		Details:      c.Details,
		StatusReason: c.StatusReason,
		CreatedAt:    c.CreatedAt.Format(time.RFC3339),
	}
	if c.PaidAt != nil {
		s := c.PaidAt.Format(time.RFC3339)
		dto.PaidAt = &s
	}
	return dto
}

func toCommissionDTOs(rows []commission.Commission) []CommissionDTO {
	dtos := make([]CommissionDTO, len(rows))
	for i, c := range rows {
		dtos[i] = toCommissionDTO(c)
	}
	return dtos
}

func toDiscrepancyDTOs(ds []commission.Discrepancy) []DiscrepancyDTO {
	dtos := make([]DiscrepancyDTO, len(ds))
	for i, d := range ds {
		dtos[i] = DiscrepancyDTO{
			DealID:         string(d.DealID),
			PersonID:       string(d.PersonID),
			RuleID:         string(d.RuleID),
			ExistingID:     string(d.ExistingID),
			ExistingStatus: string(d.ExistingStatus),
			ExistingAmount: d.ExistingAmount.StringFixed(2),
			ComputedAmount: d.ComputedAmount.StringFixed(2),
			Note:           d.Note,
		}
	}
	return dtos
}
