/*
handlers.go - HTTP API handlers for the dues reconciliation engine

PURPOSE:
  Exposes the reconciliation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the engine.

ENDPOINTS:
  Dues:
    POST   /api/dues/generate          Bulk due generation
    GET    /api/dues/{id}              Get one due
    POST   /api/dues/{id}/apply-advance Spend advance on a due
    POST   /api/dues/{id}/waive        Waive a due (admin)

  Payments:
    POST   /api/payments/bulk          Bulk payment entry (admin)
    POST   /api/payments/request       Member-reported offline payment
    GET    /api/payments/{id}          Get one payment
    POST   /api/payments/{id}/approve  Approve a member request
    POST   /api/payments/{id}/reconcile Settle a confirmed payment (webhook)
    POST   /api/payments/{id}/reverse  Undo a settled payment

  Members:
    GET    /api/members/{id}/balance   Advance balance
    GET    /api/members/{id}/audit     Reconciliation trail
    GET    /api/members/{id}/dues      Open dues
    GET    /api/members/{id}/cap-check Yearly cap pre-check

  Roster (collaborator data):
    GET/POST /api/categories, /api/members

TENANCY:
  Every request carries the tenant in the X-Tenant-ID header. There is
  no cross-tenant endpoint.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (duplicate reference, concurrent modification)
  - 429: Rate limited (webhook endpoint)
  - 500: Internal errors
  Business denials (cap exceeded, skipped members) are 200s with the
  outcome in the body - they are results, not errors.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/dues-engine/engine"
	"github.com/warp/dues-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// DedupGuard suppresses redelivered webhook bursts before they reach the
// engine. The engine is idempotent on its own; the guard saves the wasted
// settle attempt and narrows the race across instances. Implemented by
// store/redis.DedupGuard.
type DedupGuard interface {
	FirstSeen(ctx context.Context, key string) (bool, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *engine.Engine
	Limiter engine.Limiter
	Dedup   DedupGuard // nil disables webhook deduplication
}

// NewHandler creates a new handler around the engine. A nil limiter
// disables webhook rate limiting.
func NewHandler(eng *engine.Engine, limiter engine.Limiter) *Handler {
	if limiter == nil {
		limiter = engine.NopLimiter{}
	}
	return &Handler{Engine: eng, Limiter: limiter}
}

func tenantFrom(r *http.Request) ledger.TenantID {
	t := r.Header.Get("X-Tenant-ID")
	if t == "" {
		t = "default"
	}
	return ledger.TenantID(t)
}

// =============================================================================
// DUE HANDLERS
// =============================================================================

// GenerateDues runs bulk due generation.
// POST /api/dues/generate
func (h *Handler) GenerateDues(w http.ResponseWriter, r *http.Request) {
	var req GenerateDuesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	period, err := ledger.ParsePeriod(req.Period)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period (use YYYY-MM)", err)
		return
	}
	amount, err := parseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	members := make([]ledger.MemberID, len(req.Members))
	for i, m := range req.Members {
		members[i] = ledger.MemberID(m)
	}

	result, err := h.Engine.GenerateBulkDues(r.Context(), engine.GenerateDuesInput{
		TenantID:   tenantFrom(r),
		CategoryID: ledger.CategoryID(req.CategoryID),
		Period:     period,
		Amount:     amount,
		Members:    members,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetDue returns a single due.
// GET /api/dues/{id}
func (h *Handler) GetDue(w http.ResponseWriter, r *http.Request) {
	due, err := h.Engine.Store().GetDue(r.Context(), ledger.DueID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if due.TenantID != tenantFrom(r) {
		writeError(w, http.StatusNotFound, "Due not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toDueDTO(*due))
}

// ApplyAdvance spends the member's advance balance on one due.
// POST /api/dues/{id}/apply-advance
func (h *Handler) ApplyAdvance(w http.ResponseWriter, r *http.Request) {
	id := ledger.DueID(chi.URLParam(r, "id"))
	applied, err := h.Engine.ApplyAdvanceToDue(r.Context(), tenantFrom(r), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ApplyAdvanceResponse{DueID: string(id), Applied: applied.String()})
}

// WaiveDue closes a due without payment.
// POST /api/dues/{id}/waive
func (h *Handler) WaiveDue(w http.ResponseWriter, r *http.Request) {
	var req WaiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	id := ledger.DueID(chi.URLParam(r, "id"))
	waived, err := h.Engine.WaiveDue(r.Context(), tenantFrom(r), id, req.Reason, req.WaivedBy)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WaiveResponse{DueID: string(id), Waived: waived.String()})
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// BulkPayments records completed payments in bulk.
// POST /api/payments/bulk
func (h *Handler) BulkPayments(w http.ResponseWriter, r *http.Request) {
	var req BulkPaymentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entries := make([]engine.PaymentEntry, 0, len(req.Entries))
	for _, e := range req.Entries {
		amount, err := parseMoney(e.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid amount for member "+e.MemberID, err)
			return
		}
		entries = append(entries, engine.PaymentEntry{
			MemberID:  ledger.MemberID(e.MemberID),
			Amount:    amount,
			Reference: e.Reference,
		})
	}

	var paidAt time.Time
	if req.PaidAt != "" {
		var err error
		paidAt, err = time.Parse(time.RFC3339, req.PaidAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid paid_at (use RFC3339)", err)
			return
		}
	}

	result, err := h.Engine.RecordBulkPayments(r.Context(), engine.RecordPaymentsInput{
		TenantID:   tenantFrom(r),
		CategoryID: ledger.CategoryID(req.CategoryID),
		Channel:    ledger.Channel(req.Channel),
		PaidAt:     paidAt,
		Entries:    entries,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RequestPayment records a member-reported offline payment awaiting approval.
// POST /api/payments/request
func (h *Handler) RequestPayment(w http.ResponseWriter, r *http.Request) {
	var req RequestPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	p, err := h.Engine.RequestPayment(r.Context(), engine.RequestPaymentInput{
		TenantID:  tenantFrom(r),
		MemberID:  ledger.MemberID(req.MemberID),
		Amount:    amount,
		Reference: req.Reference,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(*p))
}

// GetPayment returns a single payment.
// GET /api/payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.Store().GetPayment(r.Context(), ledger.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if p.TenantID != tenantFrom(r) {
		writeError(w, http.StatusNotFound, "Payment not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// ApprovePayment approves a member-reported payment.
// POST /api/payments/{id}/approve
func (h *Handler) ApprovePayment(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	p, err := h.Engine.ApprovePayment(r.Context(), tenantFrom(r), ledger.PaymentID(chi.URLParam(r, "id")), req.ApprovedBy)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// ReconcilePayment settles a confirmed payment. This is the webhook
// target, so it is rate-limited per payment ID and safe to redeliver.
// POST /api/payments/{id}/reconcile
func (h *Handler) ReconcilePayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	allowed, err := h.Limiter.Allow(r.Context(), "reconcile:"+id)
	if err != nil {
		// A broken limiter must not block settlements.
		allowed = true
	}
	if !allowed {
		writeError(w, http.StatusTooManyRequests, "Too many reconcile attempts for this payment", nil)
		return
	}

	if h.Dedup != nil {
		first, err := h.Dedup.FirstSeen(r.Context(), "reconcile:"+id)
		if err != nil {
			// A broken guard must not block settlements either.
			first = true
		}
		if !first {
			// Another delivery of this event is doing (or has done) the
			// work. Ack so the gateway stops retrying.
			log.Printf("[API] duplicate reconcile delivery suppressed payment=%s", id)
			writeJSON(w, http.StatusOK, engine.ReconcileResult{
				PaymentID:      ledger.PaymentID(id),
				AlreadySettled: true,
			})
			return
		}
	}

	result, err := h.Engine.ReconcilePayment(r.Context(), tenantFrom(r), ledger.PaymentID(id))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ReversePayment undoes a settled payment.
// POST /api/payments/{id}/reverse
func (h *Handler) ReversePayment(w http.ResponseWriter, r *http.Request) {
	result, err := h.Engine.ReversePayment(r.Context(), tenantFrom(r), ledger.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// GetBalance returns a member's advance balance.
// GET /api/members/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	tenant := tenantFrom(r)
	member := ledger.MemberID(chi.URLParam(r, "id"))

	bal, err := h.Engine.Store().GetBalance(r.Context(), tenant, member)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dto := BalanceDTO{MemberID: string(member), AdvanceBalance: "0"}
	if bal != nil {
		dto.AdvanceBalance = bal.AdvanceBalance.String()
		dto.LastReconciledAt = bal.LastReconciledAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetAuditTrail returns a member's reconciliation trail.
// GET /api/members/{id}/audit
func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Engine.Store().AuditTrail(r.Context(), tenantFrom(r), ledger.MemberID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

// GetOpenDues returns a member's unpaid and partially-paid dues.
// GET /api/members/{id}/dues
func (h *Handler) GetOpenDues(w http.ResponseWriter, r *http.Request) {
	dues, err := h.Engine.Store().OpenDues(r.Context(), tenantFrom(r), ledger.MemberID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDueDTOs(dues))
}

// CapCheck pre-validates an amount against the member's yearly cap.
// GET /api/members/{id}/cap-check?category=&year=&amount=&kind=
func (h *Handler) CapCheck(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := parseMoney(q.Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	year := time.Now().UTC().Year()
	if y := q.Get("year"); y != "" {
		year, err = strconv.Atoi(y)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
	}
	kind := engine.CapCheckKind(q.Get("kind"))
	if kind == "" {
		kind = engine.CapCheckPayment
	}

	check, err := h.Engine.ValidateYearlyCap(r.Context(), tenantFrom(r),
		ledger.MemberID(chi.URLParam(r, "id")),
		ledger.CategoryID(q.Get("category")), year, amount, kind)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

// =============================================================================
// ROSTER HANDLERS (collaborator data)
// =============================================================================

// ListCategories returns the tenant's dues categories.
// GET /api/categories
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.Engine.Store().ListCategories(r.Context(), tenantFrom(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]CategoryDTO, len(cats))
	for i, c := range cats {
		dtos[i] = toCategoryDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCategory creates or updates a dues category.
// POST /api/categories
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := parseMoney(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "Amount must be a positive decimal", err)
		return
	}

	c := ledger.Category{
		ID:            ledger.CategoryID(req.ID),
		TenantID:      tenantFrom(r),
		Name:          req.Name,
		Active:        true,
		Amount:        amount,
		Recurring:     req.Recurring,
		GenerationDay: req.GenerationDay,
		CreatedAt:     time.Now().UTC(),
	}
	if req.Active != nil {
		c.Active = *req.Active
	}
	if req.YearlyCap != "" {
		capAmount, err := parseMoney(req.YearlyCap)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid yearly_cap", err)
			return
		}
		c.YearlyCap = &capAmount
	}

	if err := h.Engine.Store().SaveCategory(r.Context(), c); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategoryDTO(c))
}

// GetCategory returns one category.
// GET /api/categories/{id}
func (h *Handler) GetCategory(w http.ResponseWriter, r *http.Request) {
	c, err := h.Engine.Store().GetCategory(r.Context(), tenantFrom(r), ledger.CategoryID(chi.URLParam(r, "id")))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategoryDTO(*c))
}

// ListMembers returns the tenant's active members.
// GET /api/members
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.Engine.Store().ActiveMembers(r.Context(), tenantFrom(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = MemberDTO{ID: string(m.ID), Name: m.Name, Active: m.Active}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateMember creates or updates a roster member.
// POST /api/members
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req CreateMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	m := ledger.Member{
		ID:        ledger.MemberID(req.ID),
		TenantID:  tenantFrom(r),
		Name:      req.Name,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if req.Active != nil {
		m.Active = *req.Active
	}
	if err := h.Engine.Store().SaveMember(r.Context(), m); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, MemberDTO{ID: string(m.ID), Name: m.Name, Active: m.Active})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

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

// writeEngineError maps domain errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, ledger.ErrDuplicateReference), ledger.IsRetryable(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
