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

MONEY:
  Amounts cross the wire as strings ("150.00") and are parsed with
  shopspring/decimal. Floats never touch a financial amount.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types these mirror
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/dues-engine/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// GenerateDuesRequest asks for bulk due generation. Members empty means
// "all active members"; amount empty means the category's configured amount.
type GenerateDuesRequest struct {
	CategoryID string   `json:"category_id"`
	Period     string   `json:"period"` // "2026-03"
	Amount     string   `json:"amount,omitempty"`
	Members    []string `json:"members,omitempty"`
}

// BulkPaymentEntryDTO is one row of a bulk payment request.
type BulkPaymentEntryDTO struct {
	MemberID  string `json:"member_id"`
	Amount    string `json:"amount"`
	Reference string `json:"reference,omitempty"`
}

// BulkPaymentsRequest records completed payments against one category.
type BulkPaymentsRequest struct {
	CategoryID string                `json:"category_id"`
	Channel    string                `json:"channel,omitempty"`
	PaidAt     string                `json:"paid_at,omitempty"` // RFC3339
	Entries    []BulkPaymentEntryDTO `json:"entries"`
}

// WaiveRequest closes a due without payment.
type WaiveRequest struct {
	Reason   string `json:"reason"`
	WaivedBy string `json:"waived_by"`
}

// RequestPaymentRequest is a member-reported offline payment.
type RequestPaymentRequest struct {
	MemberID  string `json:"member_id"`
	Amount    string `json:"amount"`
	Reference string `json:"reference,omitempty"`
}

// ApproveRequest approves a member-reported payment.
type ApproveRequest struct {
	ApprovedBy string `json:"approved_by"`
}

// CreateCategoryRequest creates or updates a dues category.
type CreateCategoryRequest struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Active        *bool  `json:"active,omitempty"`
	Amount        string `json:"amount"`
	Recurring     bool   `json:"recurring"`
	GenerationDay int    `json:"generation_day,omitempty"`
	YearlyCap     string `json:"yearly_cap,omitempty"`
}

// CreateMemberRequest creates or updates a roster member.
type CreateMemberRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active *bool  `json:"active,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// DueDTO represents a due in API responses.
type DueDTO struct {
	ID                  string `json:"id"`
	MemberID            string `json:"member_id"`
	CategoryID          string `json:"category_id"`
	Period              string `json:"period"`
	Amount              string `json:"amount"`
	PaidAmount          string `json:"paid_amount"`
	Status              string `json:"status"`
	AdvanceAppliedTotal string `json:"advance_applied_total"`
	WaivedAmount        string `json:"waived_amount"`
	CreatedAt           string `json:"created_at,omitempty"`
}

// PaymentDTO represents a payment in API responses.
type PaymentDTO struct {
	ID                   string  `json:"id"`
	MemberID             string  `json:"member_id"`
	Amount               string  `json:"amount"`
	Status               string  `json:"status"`
	Channel              string  `json:"channel"`
	LinkedDueID          *string `json:"linked_due_id,omitempty"`
	AdvanceAppliedAmount string  `json:"advance_applied_amount"`
	Reference            string  `json:"reference"`
	ApprovalState        string  `json:"approval_state"`
	CreatedAt            string  `json:"created_at,omitempty"`
	SettledAt            *string `json:"settled_at,omitempty"`
}

// BalanceDTO is a member's advance balance.
type BalanceDTO struct {
	MemberID         string `json:"member_id"`
	AdvanceBalance   string `json:"advance_balance"`
	LastReconciledAt string `json:"last_reconciled_at,omitempty"`
}

// AuditEntryDTO is one row of the reconciliation trail.
type AuditEntryDTO struct {
	ID        string            `json:"id"`
	SubjectID string            `json:"subject_id"`
	Action    string            `json:"action"`
	Details   map[string]string `json:"details,omitempty"`
	CreatedAt string            `json:"created_at"`
}

// CategoryDTO represents a dues category.
type CategoryDTO struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Active        bool    `json:"active"`
	Amount        string  `json:"amount"`
	Recurring     bool    `json:"recurring"`
	GenerationDay int     `json:"generation_day"`
	YearlyCap     *string `json:"yearly_cap,omitempty"`
}

// MemberDTO represents a roster member.
type MemberDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// WaiveResponse reports the waived delta.
type WaiveResponse struct {
	DueID  string `json:"due_id"`
	Waived string `json:"waived"`
}

// ApplyAdvanceResponse reports how much advance landed on the due.
type ApplyAdvanceResponse struct {
	DueID   string `json:"due_id"`
	Applied string `json:"applied"`
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

func toDueDTO(d ledger.Due) DueDTO {
	return DueDTO{
		ID:                  string(d.ID),
		MemberID:            string(d.MemberID),
		CategoryID:          string(d.CategoryID),
		Period:              d.Period.String(),
		Amount:              d.Amount.String(),
		PaidAmount:          d.PaidAmount.String(),
		Status:              string(d.Status),
		AdvanceAppliedTotal: d.AdvanceAppliedTotal.String(),
		WaivedAmount:        d.WaivedAmount.String(),
		CreatedAt:           d.CreatedAt.Format(time.RFC3339),
	}
}

func toDueDTOs(dues []ledger.Due) []DueDTO {
	dtos := make([]DueDTO, len(dues))
	for i, d := range dues {
		dtos[i] = toDueDTO(d)
	}
	return dtos
}

func toPaymentDTO(p ledger.Payment) PaymentDTO {
	dto := PaymentDTO{
		ID:                   string(p.ID),
		MemberID:             string(p.MemberID),
		Amount:               p.Amount.String(),
		Status:               string(p.Status),
		Channel:              string(p.Channel),
		AdvanceAppliedAmount: p.AdvanceAppliedAmount.String(),
		Reference:            p.Reference,
		ApprovalState:        string(p.Approval.State),
		CreatedAt:            p.CreatedAt.Format(time.RFC3339),
	}
	if p.LinkedDueID != nil {
		v := string(*p.LinkedDueID)
		dto.LinkedDueID = &v
	}
	if p.SettledAt != nil {
		v := p.SettledAt.Format(time.RFC3339)
		dto.SettledAt = &v
	}
	return dto
}

func toCategoryDTO(c ledger.Category) CategoryDTO {
	dto := CategoryDTO{
		ID:            string(c.ID),
		Name:          c.Name,
		Active:        c.Active,
		Amount:        c.Amount.String(),
		Recurring:     c.Recurring,
		GenerationDay: c.GenerationDay,
	}
	if c.YearlyCap != nil {
		v := c.YearlyCap.String()
		dto.YearlyCap = &v
	}
	return dto
}

func toAuditDTOs(entries []ledger.AuditEntry) []AuditEntryDTO {
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = AuditEntryDTO{
			ID:        e.ID,
			SubjectID: e.SubjectID,
			Action:    string(e.Action),
			Details:   e.Details,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
	}
	return dtos
}

// parseMoney parses a wire amount; empty means zero.
func parseMoney(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
