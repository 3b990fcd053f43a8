/*
handlers.go - HTTP API handlers for the deposit ledger

PURPOSE:
  Exposes the deposit and refund ledgers via REST API. Handles HTTP
  request/response and JSON serialization, and delegates to the ledger.

ENDPOINTS:
  Deposits:
    POST   /api/deposits                Create (or merge) a deposit record
    GET    /api/deposits/{id}           Record with history and balance
    PATCH  /api/deposits/{id}           Edit fields (audited)
    DELETE /api/deposits/{id}           Soft delete
    POST   /api/deposits/{id}/returns   Record money handed back

  Payments:
    POST   /api/payments                Register one installment

  History:
    GET    /api/history                 ?deposit_record_id|contract_id|room_id, kind, limit

  Refunds:
    POST   /api/refunds                 Register a refund payout
    DELETE /api/refunds/{id}            Soft delete the latest refund
    GET    /api/contracts/{id}/refunds  Refund history of a contract

ACTOR:
  The acting staff member is read verbatim from the configured header
  (X-Actor-Id by default). It is recorded, never authenticated.

ERROR HANDLING:
  Errors are returned as JSON with the HTTP status of their ledger kind:
  - 400: InvalidArgument
  - 404: NotFound
  - 409: Conflict
  - 500: StorageFailure (details are logged, not returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/likeweb3125/newapi-dokliplife-sub001/ledger"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Deposits    *ledger.DepositLedger
	Refunds     *ledger.RefundLedger
	ActorHeader string
	Log         *zap.Logger
}

// NewHandler creates a handler. An empty actorHeader defaults to X-Actor-Id.
func NewHandler(deposits *ledger.DepositLedger, refunds *ledger.RefundLedger, actorHeader string, log *zap.Logger) *Handler {
	if actorHeader == "" {
		actorHeader = "X-Actor-Id"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Deposits: deposits, Refunds: refunds, ActorHeader: actorHeader, Log: log}
}

func (h *Handler) actor(r *http.Request) string {
	return r.Header.Get(h.ActorHeader)
}

// =============================================================================
// DEPOSIT HANDLERS
// =============================================================================

// CreateDeposit records a new deposit or merges into the live one.
// POST /api/deposits
func (h *Handler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	var req CreateDepositRequest
	if !decode(w, r, &req) {
		return
	}
	target, err := toWon("target_amount", req.TargetAmount)
	if err != nil {
		h.writeError(w, err)
		return
	}

	res, err := h.Deposits.CreateDeposit(r.Context(), ledger.CreateDepositRequest{
		TargetAmount: target,
		Linkage: ledger.Linkage{
			RoomID:       req.RoomID,
			PropertyID:   req.PropertyID,
			CustomerID:   req.CustomerID,
			ContractorID: req.ContractorID,
			ContractID:   req.ContractID,
		},
		Payer:      ledger.Payer{Name: req.PayerName, Phone: req.PayerPhone},
		OccurredAt: timeOrZero(req.OccurredAt),
		Actor:      h.actor(r),
		Memo:       req.Memo,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Updated {
		status = http.StatusOK
	}
	writeJSON(w, status, CreateDepositDTO{
		ID:      res.ID,
		Updated: res.Updated,
		Status:  string(res.Status),
		Unpaid:  int64(res.Unpaid),
	})
}

// GetDeposit returns a record with its history.
// GET /api/deposits/{id}
func (h *Handler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	view, err := h.Deposits.GetDepositWithHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DepositDetailDTO{
		Deposit:       toDepositDTO(view.Record),
		History:       toHistoryDTOs(view.History),
		TotalAccepted: int64(view.TotalAccepted),
		Unpaid:        int64(view.Unpaid),
	})
}

// UpdateDeposit edits a record.
// PATCH /api/deposits/{id}
func (h *Handler) UpdateDeposit(w http.ResponseWriter, r *http.Request) {
	var req UpdateDepositRequest
	if !decode(w, r, &req) {
		return
	}
	update := ledger.DepositUpdate{
		PayerName:    req.PayerName,
		PayerPhone:   req.PayerPhone,
		CustomerID:   req.CustomerID,
		ContractorID: req.ContractorID,
		ContractID:   req.ContractID,
	}
	if req.TargetAmount != nil {
		target, err := toWon("target_amount", *req.TargetAmount)
		if err != nil {
			h.writeError(w, err)
			return
		}
		update.TargetAmount = &target
	}

	id := chi.URLParam(r, "id")
	if err := h.Deposits.UpdateDeposit(r.Context(), id, update, h.actor(r)); err != nil {
		h.writeError(w, err)
		return
	}
	h.GetDeposit(w, r)
}

// DeleteDeposit soft-deletes a record.
// DELETE /api/deposits/{id}
func (h *Handler) DeleteDeposit(w http.ResponseWriter, r *http.Request) {
	if err := h.Deposits.SoftDeleteDeposit(r.Context(), chi.URLParam(r, "id"), h.actor(r)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordReturn appends a RETURN entry.
// POST /api/deposits/{id}/returns
func (h *Handler) RecordReturn(w http.ResponseWriter, r *http.Request) {
	var req ReturnRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := toWon("amount", req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}

	entry, err := h.Deposits.RecordReturn(r.Context(), chi.URLParam(r, "id"), amount, h.actor(r), req.Memo)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toHistoryDTOs([]ledger.HistoryEntry{entry})[0])
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// RegisterPayment records one installment against a room or contract.
// POST /api/payments
func (h *Handler) RegisterPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decode(w, r, &req) {
		return
	}
	amount, err := toWon("amount", req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}

	res, err := h.Deposits.RegisterPayment(r.Context(), ledger.PaymentRequest{
		RoomID:     req.RoomID,
		Amount:     amount,
		ContractID: req.ContractID,
		PayerName:  req.PayerName,
		OccurredAt: timeOrZero(req.OccurredAt),
		Actor:      h.actor(r),
		Memo:       req.Memo,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, PaymentDTO{
		DepositRecordID: res.DepositRecordID,
		HistoryEntryID:  res.HistoryEntryID,
		Status:          string(res.Status),
		TotalAccepted:   int64(res.TotalAccepted),
		Unpaid:          int64(res.Unpaid),
	})
}

// ListHistory returns history entries for one scope, newest first.
// GET /api/history?contract_id=...&kind=DEPOSIT&limit=20
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.HistoryFilter{
		DepositRecordID: q.Get("deposit_record_id"),
		ContractID:      q.Get("contract_id"),
		RoomID:          q.Get("room_id"),
		Kind:            ledger.EntryKind(q.Get("kind")),
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil {
			h.writeError(w, &ledger.InvalidArgumentError{Field: "limit", Message: "must be an integer"})
			return
		}
		filter.Limit = limit
	}

	entries, err := h.Deposits.History().ListByScope(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryDTOs(entries))
}

// =============================================================================
// REFUND HANDLERS
// =============================================================================

// RegisterRefund records a refund payout.
// POST /api/refunds
func (h *Handler) RegisterRefund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if !decode(w, r, &req) {
		return
	}
	total, err := toWon("total_deposit_amount", req.TotalDepositAmount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	refund, err := toWon("refund_amount", req.RefundAmount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	items := make([]ledger.LineItem, len(req.LineItems))
	for i, it := range req.LineItems {
		amount, err := toWon("line_items.amount", it.Amount)
		if err != nil {
			h.writeError(w, err)
			return
		}
		items[i] = ledger.LineItem{Description: it.Description, Amount: amount}
	}

	res, err := h.Refunds.RegisterRefund(r.Context(), ledger.RefundRequest{
		ContractID:         req.ContractID,
		RoomID:             req.RoomID,
		TotalDepositAmount: total,
		RefundAmount:       refund,
		LineItems:          items,
		Account: ledger.AccountInfo{
			Bank:          req.Bank,
			AccountNumber: req.AccountNumber,
			AccountHolder: req.AccountHolder,
		},
		Actor: h.actor(r),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, RefundResultDTO{
		ID:           res.ID,
		Status:       string(res.Status),
		RemainAmount: int64(res.RemainAmount),
	})
}

// ListRefunds returns the refund history of a contract.
// GET /api/contracts/{id}/refunds
func (h *Handler) ListRefunds(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Refunds.ListRefundHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRefundDTOs(entries))
}

// DeleteRefund soft-deletes the latest refund of a contract.
// DELETE /api/refunds/{id}
func (h *Handler) DeleteRefund(w http.ResponseWriter, r *http.Request) {
	if err := h.Refunds.SoftDeleteRefund(r.Context(), chi.URLParam(r, "id"), h.actor(r)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Kind:    string(ledger.KindInvalidArgument),
			Details: err.Error(),
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps a ledger error to its HTTP status.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := ledger.KindOf(err)
	resp := ErrorResponse{Error: err.Error(), Kind: string(kind)}

	var status int
	switch kind {
	case ledger.KindInvalidArgument:
		status = http.StatusBadRequest
	case ledger.KindNotFound:
		status = http.StatusNotFound
	case ledger.KindConflict:
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
		resp.Error = "Internal error"
		h.Log.Error("request failed", zap.Error(err))
	}

	var exceeded *ledger.RefundExceedsBalanceError
	if errors.As(err, &exceeded) {
		resp.Details = "max_allowed=" + exceeded.MaxAllowed.String()
	}
	writeJSON(w, status, resp)
}
