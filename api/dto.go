/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the deposit API. Domain types stay free of JSON tags.

NAMING CONVENTION:
  - *DTO:     Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Amounts are whole won. Request bodies accept a JSON number or a numeric
  string; anything with a fractional part is rejected with 400. Responses
  always carry plain integers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"math"
	"time"

	"github.com/likeweb3125/newapi-dokliplife-sub001/ledger"
	"github.com/shopspring/decimal"
)

// =============================================================================
// REQUESTS
// =============================================================================

// CreateDepositRequest is the body of POST /api/deposits.
type CreateDepositRequest struct {
	TargetAmount decimal.Decimal `json:"target_amount"`
	PropertyID   string          `json:"property_id"`
	RoomID       string          `json:"room_id"`
	CustomerID   string          `json:"customer_id,omitempty"`
	ContractorID string          `json:"contractor_id,omitempty"`
	ContractID   string          `json:"contract_id,omitempty"`
	PayerName    string          `json:"payer_name"`
	PayerPhone   string          `json:"payer_phone"`
	OccurredAt   *time.Time      `json:"occurred_at,omitempty"`
	Memo         string          `json:"memo,omitempty"`
}

// UpdateDepositRequest is the body of PATCH /api/deposits/{id}. Absent
// fields are left unchanged.
type UpdateDepositRequest struct {
	TargetAmount *decimal.Decimal `json:"target_amount,omitempty"`
	PayerName    *string          `json:"payer_name,omitempty"`
	PayerPhone   *string          `json:"payer_phone,omitempty"`
	CustomerID   *string          `json:"customer_id,omitempty"`
	ContractorID *string          `json:"contractor_id,omitempty"`
	ContractID   *string          `json:"contract_id,omitempty"`
}

// PaymentRequest is the body of POST /api/payments.
type PaymentRequest struct {
	RoomID     string          `json:"room_id"`
	Amount     decimal.Decimal `json:"amount"`
	ContractID string          `json:"contract_id,omitempty"`
	PayerName  string          `json:"payer_name,omitempty"`
	OccurredAt *time.Time      `json:"occurred_at,omitempty"`
	Memo       string          `json:"memo,omitempty"`
}

// ReturnRequest is the body of POST /api/deposits/{id}/returns.
type ReturnRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Memo   string          `json:"memo,omitempty"`
}

type LineItemRequest struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// RefundRequest is the body of POST /api/refunds.
type RefundRequest struct {
	ContractID         string            `json:"contract_id"`
	RoomID             string            `json:"room_id,omitempty"`
	TotalDepositAmount decimal.Decimal   `json:"total_deposit_amount"`
	RefundAmount       decimal.Decimal   `json:"refund_amount"`
	LineItems          []LineItemRequest `json:"line_items"`
	Bank               string            `json:"bank,omitempty"`
	AccountNumber      string            `json:"account_number,omitempty"`
	AccountHolder      string            `json:"account_holder,omitempty"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type CreateDepositDTO struct {
	ID      string `json:"id"`
	Updated bool   `json:"updated"`
	Status  string `json:"status"`
	Unpaid  int64  `json:"unpaid"`
}

type PaymentDTO struct {
	DepositRecordID string `json:"deposit_record_id"`
	HistoryEntryID  string `json:"history_entry_id"`
	Status          string `json:"status"`
	TotalAccepted   int64  `json:"total_accepted"`
	Unpaid          int64  `json:"unpaid"`
}

type DepositDTO struct {
	ID           string  `json:"id"`
	PropertyID   string  `json:"property_id"`
	RoomID       string  `json:"room_id"`
	CustomerID   string  `json:"customer_id,omitempty"`
	ContractorID string  `json:"contractor_id,omitempty"`
	ContractID   string  `json:"contract_id,omitempty"`
	TargetAmount int64   `json:"target_amount"`
	PayerName    string  `json:"payer_name"`
	PayerPhone   string  `json:"payer_phone"`
	Status       string  `json:"status"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
	DeletedAt    *string `json:"deleted_at,omitempty"`
}

type HistoryEntryDTO struct {
	ID              string `json:"id"`
	DepositRecordID string `json:"deposit_record_id"`
	RoomID          string `json:"room_id"`
	ContractID      string `json:"contract_id,omitempty"`
	Kind            string `json:"kind"`
	Amount          int64  `json:"amount"`
	StatusAtEntry   string `json:"status_at_entry"`
	UnpaidAtEntry   int64  `json:"unpaid_at_entry"`
	PayerName       string `json:"payer_name,omitempty"`
	OccurredAt      string `json:"occurred_at"`
	RecordedBy      string `json:"recorded_by,omitempty"`
	Memo            string `json:"memo,omitempty"`
}

// DepositDetailDTO is the response of GET /api/deposits/{id}.
type DepositDetailDTO struct {
	Deposit       DepositDTO        `json:"deposit"`
	History       []HistoryEntryDTO `json:"history"`
	TotalAccepted int64             `json:"total_accepted"`
	Unpaid        int64             `json:"unpaid"`
}

type LineItemDTO struct {
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
}

type RefundDTO struct {
	ID                 string        `json:"id"`
	ContractID         string        `json:"contract_id"`
	RoomID             string        `json:"room_id,omitempty"`
	TotalDepositAmount int64         `json:"total_deposit_amount"`
	RefundAmount       int64         `json:"refund_amount"`
	RemainAmount       int64         `json:"remain_amount"`
	LineItems          []LineItemDTO `json:"line_items"`
	Status             string        `json:"status"`
	Bank               string        `json:"bank,omitempty"`
	AccountNumber      string        `json:"account_number,omitempty"`
	AccountHolder      string        `json:"account_holder,omitempty"`
	RecordedBy         string        `json:"recorded_by,omitempty"`
	CreatedAt          string        `json:"created_at"`
}

type RefundResultDTO struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	RemainAmount int64  `json:"remain_amount"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// toWon converts a decoded amount to whole won.
func toWon(field string, d decimal.Decimal) (ledger.Won, error) {
	if !d.IsInteger() {
		return 0, &ledger.InvalidArgumentError{Field: field, Message: "must be a whole number of won, got " + d.String()}
	}
	if d.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || d.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, &ledger.InvalidArgumentError{Field: field, Message: "is out of range"}
	}
	return ledger.Won(d.IntPart()), nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func toDepositDTO(r ledger.DepositRecord) DepositDTO {
	dto := DepositDTO{
		ID:           r.ID,
		PropertyID:   r.Linkage.PropertyID,
		RoomID:       r.Linkage.RoomID,
		CustomerID:   r.Linkage.CustomerID,
		ContractorID: r.Linkage.ContractorID,
		ContractID:   r.Linkage.ContractID,
		TargetAmount: int64(r.TargetAmount),
		PayerName:    r.Payer.Name,
		PayerPhone:   r.Payer.Phone,
		Status:       string(r.Status),
		CreatedAt:    formatTime(r.CreatedAt),
		UpdatedAt:    formatTime(r.UpdatedAt),
	}
	if r.DeletedAt != nil {
		s := formatTime(*r.DeletedAt)
		dto.DeletedAt = &s
	}
	return dto
}

func toHistoryDTOs(entries []ledger.HistoryEntry) []HistoryEntryDTO {
	dtos := make([]HistoryEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = HistoryEntryDTO{
			ID:              e.ID,
			DepositRecordID: e.DepositRecordID,
			RoomID:          e.RoomID,
			ContractID:      e.ContractID,
			Kind:            string(e.Kind),
			Amount:          int64(e.Amount),
			StatusAtEntry:   string(e.StatusAtEntry),
			UnpaidAtEntry:   int64(e.UnpaidAtEntry),
			PayerName:       e.PayerName,
			OccurredAt:      formatTime(e.OccurredAt),
			RecordedBy:      e.RecordedBy,
			Memo:            e.Memo,
		}
	}
	return dtos
}

func toRefundDTOs(entries []ledger.RefundEntry) []RefundDTO {
	dtos := make([]RefundDTO, len(entries))
	for i, e := range entries {
		items := make([]LineItemDTO, len(e.LineItems))
		for j, it := range e.LineItems {
			items[j] = LineItemDTO{Description: it.Description, Amount: int64(it.Amount)}
		}
		dtos[i] = RefundDTO{
			ID:                 e.ID,
			ContractID:         e.ContractID,
			RoomID:             e.RoomID,
			TotalDepositAmount: int64(e.TotalDepositAmount),
			RefundAmount:       int64(e.RefundAmount),
			RemainAmount:       int64(e.RemainAmount),
			LineItems:          items,
			Status:             string(e.Status),
			Bank:               e.Account.Bank,
			AccountNumber:      e.Account.AccountNumber,
			AccountHolder:      e.Account.AccountHolder,
			RecordedBy:         e.RecordedBy,
			CreatedAt:          formatTime(e.CreatedAt),
		}
	}
	return dtos
}
