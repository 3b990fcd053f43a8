/*
refund.go - Refund ledger

PURPOSE:
  Records deposit refunds against a contract. Refunds may be paid out in
  several registrations; each entry snapshots the total deposit agreed at
  that time and what remains after it.

RULES (registerRefund):
  1. Conflict if the contract already has a non-deleted COMPLETED entry
  2. prior  := sum(refundAmount) over non-deleted entries of the contract
  3. InvalidArgument if sum(lineItems) != refundAmount
  4. remain := total - prior - refund; InvalidArgument if negative
  5. status := COMPLETED if remain == 0, else PARTIAL
  6. mint id, persist

CONSERVATION:
  sum(refundAmount) over non-deleted entries + latest.RemainAmount
  == latest.TotalDepositAmount

  TotalDepositAmount is fixed per entry and never re-derived from the
  contract, since deductions are negotiated at refund time and later
  contract edits must not rewrite history.

SOFT DELETE:
  Only the latest non-deleted entry of a contract can be deleted, which
  keeps the conservation equation true for the new latest entry.
*/
package ledger

import (
	"context"

	"github.com/likeweb3125/newapi-dokliplife-sub001/metrics"
	"go.uber.org/zap"
)

// RefundRequest is the input of RegisterRefund.
type RefundRequest struct {
	ContractID         string
	RoomID             string
	TotalDepositAmount Won
	RefundAmount       Won
	LineItems          []LineItem
	Account            AccountInfo
	Actor              string
}

// RefundResult is the outcome of one refund registration.
type RefundResult struct {
	ID           string
	Status       RefundStatus
	RemainAmount Won
}

type RefundLedger struct {
	store Store
	clock Clock
	log   *zap.Logger
}

func NewRefundLedger(store Store, opts ...Option) *RefundLedger {
	o := buildOptions(opts)
	return &RefundLedger{store: store, clock: o.clock, log: o.logger.Named("refund")}
}

// RegisterRefund records one refund payout for a contract.
func (l *RefundLedger) RegisterRefund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	res, err := l.registerRefund(ctx, req)
	return res, observe("register_refund", err)
}

func (l *RefundLedger) registerRefund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if req.ContractID == "" {
		return RefundResult{}, invalid("contractId", "is required")
	}
	if req.TotalDepositAmount < 0 {
		return RefundResult{}, invalid("totalDepositAmount", "must not be negative, got %v", req.TotalDepositAmount)
	}
	if req.RefundAmount < 0 {
		return RefundResult{}, invalid("refundAmount", "must not be negative, got %v", req.RefundAmount)
	}
	for i, item := range req.LineItems {
		if item.Description == "" {
			return RefundResult{}, invalid("lineItems", "item %d has no description", i)
		}
	}

	var out RefundResult
	err := l.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.Lock(ctx, RefundLockKey(req.ContractID)); err != nil {
			return err
		}

		existing, err := tx.ListRefunds(ctx, req.ContractID, false)
		if err != nil {
			return err
		}
		var prior Won
		for _, e := range existing {
			if e.Status == RefundCompleted {
				return &RefundCompletedError{ContractID: req.ContractID, CompletedRefundID: e.ID}
			}
			prior += e.RefundAmount
		}

		if sum := sumLineItems(req.LineItems); sum != req.RefundAmount {
			return &LineItemMismatchError{RefundAmount: req.RefundAmount, LineItemSum: sum}
		}

		remain := req.TotalDepositAmount - prior - req.RefundAmount
		if remain < 0 {
			maxAllowed := req.TotalDepositAmount - prior
			if maxAllowed < 0 {
				maxAllowed = 0
			}
			return &RefundExceedsBalanceError{
				ContractID:         req.ContractID,
				TotalDepositAmount: req.TotalDepositAmount,
				PriorRefunded:      prior,
				Requested:          req.RefundAmount,
				MaxAllowed:         maxAllowed,
			}
		}

		status := RefundPartial
		if remain == 0 {
			status = RefundCompleted
		}

		id, err := tx.NextID(ctx, NamespaceRefund)
		if err != nil {
			return err
		}
		entry := RefundEntry{
			ID:                 id,
			ContractID:         req.ContractID,
			RoomID:             req.RoomID,
			TotalDepositAmount: req.TotalDepositAmount,
			RefundAmount:       req.RefundAmount,
			RemainAmount:       remain,
			LineItems:          append([]LineItem(nil), req.LineItems...),
			Status:             status,
			Account:            req.Account,
			RecordedBy:         req.Actor,
			CreatedAt:          l.clock.Now(),
		}
		if err := tx.InsertRefund(ctx, entry); err != nil {
			return err
		}

		out = RefundResult{ID: id, Status: status, RemainAmount: remain}
		return nil
	})
	if err != nil {
		return RefundResult{}, wrapStorage("register refund", err)
	}

	metrics.AddAmount("refund", int64(req.RefundAmount))
	l.log.Info("refund registered",
		zap.String("refund_id", out.ID),
		zap.String("contract_id", req.ContractID),
		zap.Int64("total_deposit_amount", int64(req.TotalDepositAmount)),
		zap.Int64("refund_amount", int64(req.RefundAmount)),
		zap.Int64("remain_amount", int64(out.RemainAmount)),
		zap.String("status", string(out.Status)),
		zap.String("actor", req.Actor),
	)
	return out, nil
}

func sumLineItems(items []LineItem) Won {
	var sum Won
	for _, it := range items {
		sum += it.Amount
	}
	return sum
}

// ListRefundHistory returns the non-deleted refund entries of a contract,
// newest first.
func (l *RefundLedger) ListRefundHistory(ctx context.Context, contractID string) ([]RefundEntry, error) {
	if contractID == "" {
		return nil, invalid("contractId", "is required")
	}
	entries, err := l.store.ListRefunds(ctx, contractID, false)
	if err != nil {
		return nil, wrapStorage("list refunds", err)
	}
	return entries, nil
}

// SoftDeleteRefund excludes an erroneous entry from future sums. Only the
// latest non-deleted entry of its contract can be deleted.
func (l *RefundLedger) SoftDeleteRefund(ctx context.Context, id string, actor string) error {
	return observe("delete_refund", l.softDeleteRefund(ctx, id, actor))
}

func (l *RefundLedger) softDeleteRefund(ctx context.Context, id string, actor string) error {
	var contractID string
	err := l.store.WithTx(ctx, func(tx Tx) error {
		entry, err := tx.GetRefund(ctx, id)
		if err != nil {
			return err
		}
		if entry == nil {
			return &NotFoundError{Entity: "refund", ID: id}
		}
		contractID = entry.ContractID
		if err := tx.Lock(ctx, RefundLockKey(contractID)); err != nil {
			return err
		}
		// re-read under the lock
		if entry, err = tx.GetRefund(ctx, id); err != nil {
			return err
		}
		if entry.Deleted() {
			return nil
		}

		live, err := tx.ListRefunds(ctx, entry.ContractID, false)
		if err != nil {
			return err
		}
		if len(live) == 0 || live[0].ID != id {
			return &ConflictError{Message: "refund " + id + " is not the latest refund of contract " + entry.ContractID}
		}
		return tx.MarkRefundDeleted(ctx, id, l.clock.Now())
	})
	if err != nil {
		return wrapStorage("delete refund", err)
	}

	l.log.Info("refund deleted",
		zap.String("refund_id", id),
		zap.String("contract_id", contractID),
		zap.String("actor", actor),
	)
	return nil
}
