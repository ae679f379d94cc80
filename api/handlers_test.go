package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/dues-engine/engine"
	"github.com/warp/dues-engine/ledger"
	"github.com/warp/dues-engine/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

// newTestServer wires a router around an in-memory engine with a seeded
// roster under the "default" tenant.
func newTestServer(t *testing.T, limiter engine.Limiter) (*chiRouter, *store.TxMemory) {
	t.Helper()
	return newTestServerWith(t, limiter, nil)
}

func newTestServerWith(t *testing.T, limiter engine.Limiter, configure func(*Handler)) (*chiRouter, *store.TxMemory) {
	t.Helper()
	st := store.NewTxMemory()
	seq := 0
	eng := engine.New(st,
		engine.WithClock(func() time.Time { return testNow }),
		engine.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%03d", seq)
		}),
	)

	ctx := context.Background()
	require.NoError(t, st.SaveCategory(ctx, ledger.Category{
		ID: "monthly", TenantID: "default", Name: "Monthly Dues", Active: true,
		Amount: ledger.MustMoney("100"), Recurring: true, GenerationDay: 5,
		CreatedAt: testNow,
	}))
	for _, id := range []ledger.MemberID{"m1", "m2"} {
		require.NoError(t, st.SaveMember(ctx, ledger.Member{
			ID: id, TenantID: "default", Name: string(id), Active: true, CreatedAt: testNow,
		}))
	}

	h := NewHandler(eng, limiter)
	if configure != nil {
		configure(h)
	}
	return &chiRouter{NewRouter(h)}, st
}

// chiRouter wraps the mux with request helpers.
type chiRouter struct {
	http.Handler
}

func (cr *chiRouter) do(t *testing.T, method, path, tenant string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	rr := httptest.NewRecorder()
	cr.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	return out
}

func insertTestDue(t *testing.T, st *store.TxMemory, id string, member ledger.MemberID, period ledger.Period, amount, paid string) ledger.Due {
	t.Helper()
	d := ledger.Due{
		ID:         ledger.DueID(id),
		TenantID:   "default",
		MemberID:   member,
		CategoryID: "monthly",
		Period:     period,
		Amount:     ledger.MustMoney(amount),
		PaidAmount: ledger.MustMoney(paid),
		CreatedAt:  testNow,
	}
	d.Status = ledger.StatusFor(d.PaidAmount, d.Amount)
	require.NoError(t, st.InsertDues(context.Background(), []ledger.Due{d}))
	return d
}

func insertTestPayment(t *testing.T, st *store.TxMemory, id string, member ledger.MemberID, amount string) ledger.Payment {
	t.Helper()
	p := ledger.Payment{
		ID:        ledger.PaymentID(id),
		TenantID:  "default",
		MemberID:  member,
		Amount:    ledger.MustMoney(amount),
		Status:    ledger.PaymentPending,
		Channel:   ledger.ChannelOnlineTransfer,
		Reference: "ref-" + id,
		Approval:  ledger.NoApproval(),
		CreatedAt: testNow,
	}
	require.NoError(t, st.InsertPayments(context.Background(), []ledger.Payment{p}))
	return p
}

// =============================================================================
// DUE ENDPOINTS
// =============================================================================

func TestGenerateDuesEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := srv.do(t, http.MethodPost, "/api/dues/generate", "", GenerateDuesRequest{
		CategoryID: "monthly",
		Period:     "2026-04",
		Members:    []string{"m1", "m2"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	result := decode[ledger.BatchResult](t, rr)
	assert.Len(t, result.Created, 2)
	assert.Empty(t, result.Failed)
}

func TestGenerateDuesRejectsBadPeriod(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := srv.do(t, http.MethodPost, "/api/dues/generate", "", GenerateDuesRequest{
		CategoryID: "monthly",
		Period:     "April 2026",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetDueTenantIsolation(t *testing.T) {
	srv, st := newTestServer(t, nil)
	insertTestDue(t, st, "d1", "m1", ledger.NewPeriod(2026, time.January), "100", "0")

	rr := srv.do(t, http.MethodGet, "/api/dues/d1", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	// The same due is invisible to another tenant.
	rr = srv.do(t, http.MethodGet, "/api/dues/d1", "other-org", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWaiveDueEndpoint(t *testing.T) {
	srv, st := newTestServer(t, nil)
	insertTestDue(t, st, "d1", "m1", ledger.NewPeriod(2026, time.January), "200", "50")

	rr := srv.do(t, http.MethodPost, "/api/dues/d1/waive", "", WaiveRequest{
		Reason: "hardship exemption approved by board", WaivedBy: "admin-1",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[WaiveResponse](t, rr)
	assert.Equal(t, "150", resp.Waived)

	// A token reason is a 400.
	insertTestDue(t, st, "d2", "m1", ledger.NewPeriod(2026, time.February), "100", "0")
	rr = srv.do(t, http.MethodPost, "/api/dues/d2/waive", "", WaiveRequest{Reason: "waived", WaivedBy: "admin-1"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestApplyAdvanceEndpoint(t *testing.T) {
	srv, st := newTestServer(t, nil)
	require.NoError(t, st.SaveBalance(context.Background(), ledger.MemberBalance{
		TenantID: "default", MemberID: "m1",
		AdvanceBalance: ledger.MustMoney("150"), LastReconciledAt: testNow,
	}))
	insertTestDue(t, st, "d1", "m1", ledger.NewPeriod(2026, time.March), "100", "0")

	rr := srv.do(t, http.MethodPost, "/api/dues/d1/apply-advance", "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[ApplyAdvanceResponse](t, rr)
	assert.Equal(t, "100", resp.Applied)
}

// =============================================================================
// PAYMENT ENDPOINTS
// =============================================================================

func TestBulkPaymentsEndpoint(t *testing.T) {
	srv, st := newTestServer(t, nil)
	insertTestDue(t, st, "d1", "m1", ledger.NewPeriod(2026, time.January), "300", "0")

	rr := srv.do(t, http.MethodPost, "/api/payments/bulk", "", BulkPaymentsRequest{
		CategoryID: "monthly",
		Entries: []BulkPaymentEntryDTO{
			{MemberID: "m1", Amount: "400", Reference: "batch-1"},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	result := decode[ledger.BulkPaymentResult](t, rr)
	assert.Len(t, result.Created, 1)

	// The 100 overflow shows up on the balance endpoint.
	rr = srv.do(t, http.MethodGet, "/api/members/m1/balance", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	bal := decode[BalanceDTO](t, rr)
	assert.Equal(t, "100", bal.AdvanceBalance)
}

func TestReconcileEndpoint(t *testing.T) {
	srv, st := newTestServer(t, nil)
	insertTestDue(t, st, "d1", "m1", ledger.NewPeriod(2026, time.January), "500", "0")
	insertTestPayment(t, st, "p1", "m1", "700")

	rr := srv.do(t, http.MethodPost, "/api/payments/p1/reconcile", "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	result := decode[engine.ReconcileResult](t, rr)
	assert.Equal(t, "500", result.AppliedToDues.String())
	assert.Equal(t, "200", result.CreditedToAdvance.String())

	// Redelivery reports the cached effect.
	rr = srv.do(t, http.MethodPost, "/api/payments/p1/reconcile", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	result = decode[engine.ReconcileResult](t, rr)
	assert.True(t, result.AlreadySettled)
}

func TestReconcileUnknownPaymentIs404(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := srv.do(t, http.MethodPost, "/api/payments/ghost/reconcile", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestReconcileRateLimited(t *testing.T) {
	// GIVEN: a limiter allowing one reconcile per payment per hour
	srv, st := newTestServer(t, engine.NewWindowLimiter(1, time.Hour))
	insertTestDue(t, st, "d1", "m1", ledger.NewPeriod(2026, time.January), "100", "0")
	insertTestPayment(t, st, "p1", "m1", "100")

	rr := srv.do(t, http.MethodPost, "/api/payments/p1/reconcile", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	// THEN: the tight retry is rejected before reaching the engine
	rr = srv.do(t, http.MethodPost, "/api/payments/p1/reconcile", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

// firstOnlyGuard admits each key once, like a SetNX mark that never expires.
type firstOnlyGuard struct{ seen map[string]bool }

func (g *firstOnlyGuard) FirstSeen(_ context.Context, key string) (bool, error) {
	if g.seen == nil {
		g.seen = make(map[string]bool)
	}
	if g.seen[key] {
		return false, nil
	}
	g.seen[key] = true
	return true, nil
}

func TestReconcileDuplicateDeliverySuppressedByGuard(t *testing.T) {
	srv, st := newTestServerWith(t, nil, func(h *Handler) { h.Dedup = &firstOnlyGuard{} })
	insertTestDue(t, st, "d1", "m1", ledger.NewPeriod(2026, time.January), "500", "0")
	insertTestPayment(t, st, "p1", "m1", "700")

	rr := srv.do(t, http.MethodPost, "/api/payments/p1/reconcile", "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	first := decode[engine.ReconcileResult](t, rr)
	assert.False(t, first.AlreadySettled)
	assert.Equal(t, "500", first.AppliedToDues.String())

	// WHEN: the same event is redelivered within the guard's TTL
	rr = srv.do(t, http.MethodPost, "/api/payments/p1/reconcile", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	dup := decode[engine.ReconcileResult](t, rr)

	// THEN: the delivery is acked without reaching the engine
	assert.True(t, dup.AlreadySettled)
	assert.True(t, dup.AppliedToDues.IsZero())
	trail, err := st.AuditTrail(context.Background(), "default", "m1")
	require.NoError(t, err)
	n := 0
	for _, e := range trail {
		if e.Action == ledger.AuditPaymentReconciled {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestReverseEndpoint(t *testing.T) {
	srv, st := newTestServer(t, nil)
	insertTestDue(t, st, "d1", "m1", ledger.NewPeriod(2026, time.January), "500", "0")
	insertTestPayment(t, st, "p1", "m1", "500")
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, "/api/payments/p1/reconcile", "", nil).Code)

	rr := srv.do(t, http.MethodPost, "/api/payments/p1/reverse", "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	result := decode[engine.ReverseResult](t, rr)
	assert.Equal(t, "500", result.RestoredToDues.String())

	// Reversing an unsettled payment is a 400.
	insertTestPayment(t, st, "p2", "m1", "100")
	rr = srv.do(t, http.MethodPost, "/api/payments/p2/reverse", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRequestAndApprovePaymentEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := srv.do(t, http.MethodPost, "/api/payments/request", "", RequestPaymentRequest{
		MemberID: "m1", Amount: "100", Reference: "cash-1",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	p := decode[PaymentDTO](t, rr)
	assert.Equal(t, "pending", p.Status)
	assert.Equal(t, "requested", p.ApprovalState)

	// Reconciling before approval is rejected.
	rr = srv.do(t, http.MethodPost, "/api/payments/"+p.ID+"/reconcile", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = srv.do(t, http.MethodPost, "/api/payments/"+p.ID+"/approve", "", ApproveRequest{ApprovedBy: "admin-1"})
	require.Equal(t, http.StatusOK, rr.Code)
	approved := decode[PaymentDTO](t, rr)
	assert.Equal(t, "approved", approved.ApprovalState)

	rr = srv.do(t, http.MethodPost, "/api/payments/"+p.ID+"/reconcile", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

// =============================================================================
// MEMBER ENDPOINTS
// =============================================================================

func TestBalanceDefaultsToZero(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := srv.do(t, http.MethodGet, "/api/members/m1/balance", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	bal := decode[BalanceDTO](t, rr)
	assert.Equal(t, "0", bal.AdvanceBalance)
}

func TestOpenDuesEndpoint(t *testing.T) {
	srv, st := newTestServer(t, nil)
	insertTestDue(t, st, "d-feb", "m1", ledger.NewPeriod(2026, time.February), "100", "0")
	insertTestDue(t, st, "d-jan", "m1", ledger.NewPeriod(2026, time.January), "100", "0")

	rr := srv.do(t, http.MethodGet, "/api/members/m1/dues", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	dues := decode[[]DueDTO](t, rr)
	require.Len(t, dues, 2)
	assert.Equal(t, "d-jan", dues[0].ID, "oldest first")
}

func TestCapCheckEndpoint(t *testing.T) {
	srv, st := newTestServer(t, nil)
	ctx := context.Background()
	capAmount := ledger.MustMoney("1200")
	require.NoError(t, st.SaveCategory(ctx, ledger.Category{
		ID: "capped", TenantID: "default", Name: "Capped", Active: true,
		Amount: ledger.MustMoney("100"), YearlyCap: &capAmount, CreatedAt: testNow,
	}))
	settled := testNow
	require.NoError(t, st.InsertPayments(ctx, []ledger.Payment{{
		ID: "prior", TenantID: "default", MemberID: "m1",
		Amount: ledger.MustMoney("1100"), Status: ledger.PaymentPaid,
		Channel: ledger.ChannelOffline, Reference: "prior-ref",
		Approval: ledger.NoApproval(), CreatedAt: testNow, SettledAt: &settled,
	}}))

	rr := srv.do(t, http.MethodGet, "/api/members/m1/cap-check?category=capped&year=2026&amount=150", "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	check := decode[engine.CapCheck](t, rr)
	assert.False(t, check.Allowed)
	assert.Equal(t, "100", check.RemainingAllowance.String())
}

func TestAuditTrailEndpoint(t *testing.T) {
	srv, st := newTestServer(t, nil)
	insertTestDue(t, st, "d1", "m1", ledger.NewPeriod(2026, time.January), "100", "0")
	insertTestPayment(t, st, "p1", "m1", "150")
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, "/api/payments/p1/reconcile", "", nil).Code)

	rr := srv.do(t, http.MethodGet, "/api/members/m1/audit", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	entries := decode[[]AuditEntryDTO](t, rr)
	require.NotEmpty(t, entries)
	found := false
	for _, e := range entries {
		if e.Action == string(ledger.AuditPaymentReconciled) {
			found = true
			assert.Equal(t, "p1", e.SubjectID)
		}
	}
	assert.True(t, found, "reconciliation summary must appear in the trail")
}

// =============================================================================
// ROSTER ENDPOINTS
// =============================================================================

func TestCreateAndGetCategory(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := srv.do(t, http.MethodPost, "/api/categories/", "", CreateCategoryRequest{
		ID: "fund", Name: "Building Fund", Amount: "250", YearlyCap: "1000",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = srv.do(t, http.MethodGet, "/api/categories/fund", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	c := decode[CategoryDTO](t, rr)
	assert.Equal(t, "Building Fund", c.Name)
	require.NotNil(t, c.YearlyCap)
	assert.Equal(t, "1000", *c.YearlyCap)
}

func TestCreateCategoryRejectsBadAmount(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := srv.do(t, http.MethodPost, "/api/categories/", "", CreateCategoryRequest{
		ID: "bad", Name: "Bad", Amount: "-10",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateAndListMembers(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := srv.do(t, http.MethodPost, "/api/members/", "", CreateMemberRequest{ID: "m9", Name: "New Member"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = srv.do(t, http.MethodGet, "/api/members/", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	members := decode[[]MemberDTO](t, rr)
	assert.Len(t, members, 3)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := srv.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
