/*
handlers_test.go - HTTP tests for the deposit API

Tests for:
- Status codes per ledger error kind
- Decimal amount decoding (fractional won rejected)
- Actor header propagation
- Refund workflow over HTTP
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/likeweb3125/newapi-dokliplife-sub001/ledger"
	"github.com/likeweb3125/newapi-dokliplife-sub001/ledger/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRouter(t *testing.T) http.Handler {
	t.Helper()
	mem := store.NewMemory()
	mem.SaveProperty("P1")
	mem.SaveRoom(ledger.Room{ID: "R1", PropertyID: "P1", ConfiguredDepositAmount: 500000})
	mem.SaveRoom(ledger.Room{ID: "R2", PropertyID: "P1", ConfiguredDepositAmount: 500000})

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := ledger.WithClock(ledger.ClockFunc(func() time.Time { return now }))
	h := NewHandler(
		ledger.NewDepositLedger(mem, mem, clock),
		ledger.NewRefundLedger(mem, clock),
		"X-Actor-Id",
		nil,
	)
	return NewRouter(h, []string{"http://localhost:5173"})
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Actor-Id", "staff-7")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestCreateDeposit_CreatedThenMerged(t *testing.T) {
	router := setupTestRouter(t)
	body := `{"target_amount": 500000, "property_id": "P1", "room_id": "R1", "payer_name": "Kim", "payer_phone": "010"}`

	// WHEN: the deposit is posted
	rec := do(t, router, http.MethodPost, "/api/deposits", body)

	// THEN: 201 with a completed record
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[CreateDepositDTO](t, rec)
	assert.Equal(t, "DEPO0000000001", created.ID)
	assert.Equal(t, "COMPLETED", created.Status)
	assert.False(t, created.Updated)

	// WHEN: the same payer posts again with a string amount
	rec = do(t, router, http.MethodPost, "/api/deposits",
		`{"target_amount": "600000", "property_id": "P1", "room_id": "R1", "payer_name": "Kim", "payer_phone": "010"}`)

	// THEN: 200 and the record is updated in place
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	merged := decodeBody[CreateDepositDTO](t, rec)
	assert.True(t, merged.Updated)
	assert.Equal(t, created.ID, merged.ID)
	assert.Equal(t, int64(100000), merged.Unpaid)

	// AND: the detail view carries the actor on the audit entry
	rec = do(t, router, http.MethodGet, "/api/deposits/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decodeBody[DepositDetailDTO](t, rec)
	assert.Equal(t, int64(600000), detail.Deposit.TargetAmount)
	require.Len(t, detail.History, 2)
	assert.Equal(t, "staff-7", detail.History[0].RecordedBy)
	assert.Equal(t, int64(500000), detail.TotalAccepted)
}

func TestCreateDeposit_ErrorStatuses(t *testing.T) {
	router := setupTestRouter(t)

	tests := []struct {
		name string
		body string
		want int
		kind string
	}{
		{"fractional won", `{"target_amount": 1000.5, "property_id": "P1", "room_id": "R1"}`, http.StatusBadRequest, "InvalidArgument"},
		{"zero amount", `{"target_amount": 0, "property_id": "P1", "room_id": "R1"}`, http.StatusBadRequest, "InvalidArgument"},
		{"unknown field", `{"amount": 1000, "property_id": "P1", "room_id": "R1"}`, http.StatusBadRequest, "InvalidArgument"},
		{"malformed json", `{"target_amount":`, http.StatusBadRequest, "InvalidArgument"},
		{"unknown room", `{"target_amount": 1000, "property_id": "P1", "room_id": "R404"}`, http.StatusNotFound, "NotFound"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/deposits", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, decodeBody[ErrorResponse](t, rec).Kind)
		})
	}
}

func TestPayments_AndHistory(t *testing.T) {
	router := setupTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/payments", `{"room_id": "R2", "amount": 200000}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decodeBody[PaymentDTO](t, rec)
	assert.Equal(t, "PARTIAL", first.Status)
	assert.Equal(t, int64(300000), first.Unpaid)

	rec = do(t, router, http.MethodPost, "/api/payments", `{"room_id": "R2", "amount": 300000}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	second := decodeBody[PaymentDTO](t, rec)
	assert.Equal(t, "COMPLETED", second.Status)
	assert.Equal(t, int64(0), second.Unpaid)

	rec = do(t, router, http.MethodGet, "/api/history?room_id=R2&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]HistoryEntryDTO](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, second.HistoryEntryID, entries[0].ID)

	rec = do(t, router, http.MethodGet, "/api/history", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/history?room_id=R2&limit=many", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateDeleteAndReturn(t *testing.T) {
	router := setupTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/deposits",
		`{"target_amount": 500000, "property_id": "P1", "room_id": "R1", "payer_name": "Kim", "payer_phone": "010"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBody[CreateDepositDTO](t, rec).ID

	rec = do(t, router, http.MethodPatch, "/api/deposits/"+id, `{"payer_phone": "011"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "011", decodeBody[DepositDetailDTO](t, rec).Deposit.PayerPhone)

	rec = do(t, router, http.MethodPost, "/api/deposits/"+id+"/returns", `{"amount": 10000, "memo": "key"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "RETURN", decodeBody[HistoryEntryDTO](t, rec).Kind)

	rec = do(t, router, http.MethodDelete, "/api/deposits/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodPatch, "/api/deposits/"+id, `{"payer_phone": "012"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/deposits/DEPO9999999999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefundWorkflow(t *testing.T) {
	router := setupTestRouter(t)

	// exceeds the deposit
	rec := do(t, router, http.MethodPost, "/api/refunds",
		`{"contract_id": "C2", "total_deposit_amount": 500000, "refund_amount": 600000,
		  "line_items": [{"description": "deposit", "amount": 600000}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "max_allowed=500000", decodeBody[ErrorResponse](t, rec).Details)

	// full refund
	rec = do(t, router, http.MethodPost, "/api/refunds",
		`{"contract_id": "C1", "total_deposit_amount": 500000, "refund_amount": 500000,
		  "line_items": [{"description": "deposit", "amount": 520000}, {"description": "cleaning", "amount": -20000}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	full := decodeBody[RefundResultDTO](t, rec)
	assert.Equal(t, "COMPLETED", full.Status)
	assert.Equal(t, int64(0), full.RemainAmount)

	// locked afterwards
	rec = do(t, router, http.MethodPost, "/api/refunds",
		`{"contract_id": "C1", "total_deposit_amount": 500000, "refund_amount": 0, "line_items": []}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/contracts/C1/refunds", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]RefundDTO](t, rec)
	require.Len(t, list, 1)
	assert.Len(t, list[0].LineItems, 2)
	assert.Equal(t, "staff-7", list[0].RecordedBy)

	rec = do(t, router, http.MethodDelete, "/api/refunds/"+full.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/contracts/C1/refunds", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]RefundDTO](t, rec))
}

func TestHealthAndMetrics(t *testing.T) {
	router := setupTestRouter(t)

	rec := do(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	do(t, router, http.MethodPost, "/api/payments", `{"room_id": "R2", "amount": 1000}`)

	rec = do(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deposit_ledger_operations_total")
	assert.Contains(t, rec.Body.String(), `route="/api/payments"`)
}
