/*
history.go - Deposit history ledger

PURPOSE:
  The history ledger is the source of truth for deposit reconciliation.
  Every payment, adjustment, return and deletion of a DepositRecord is an
  immutable HistoryEntry. A record's status is only ever derived from
  SumAccepted over its scope.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: entries are never edited or deleted
  2. SAME TRANSACTION: an entry is written in the transaction that changed
     the record it describes, never standalone
  3. CLAMPED: UnpaidAtEntry is never negative

CORRECTIONS:
  A wrong entry is not edited. Record a new entry (an adjustment with a
  memo, or a RETURN) and keep both.
*/
package ledger

import (
	"context"
	"time"
)

// History reads the deposit history ledger.
type History struct {
	reader Reader
}

func NewHistory(r Reader) *History {
	return &History{reader: r}
}

// ListByScope returns entries newest first. The filter selects a deposit
// record, a contract, or a room (room scope); Kind narrows further.
func (h *History) ListByScope(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error) {
	if filter.DepositRecordID == "" && filter.ContractID == "" && filter.RoomID == "" {
		return nil, invalid("filter", "one of deposit record, contract or room is required")
	}
	if filter.Kind != "" && filter.Kind != KindDeposit && filter.Kind != KindReturn {
		return nil, invalid("kind", "unknown entry kind %q", filter.Kind)
	}
	if filter.Limit < 0 {
		return nil, invalid("limit", "must not be negative")
	}
	entries, err := h.reader.ListHistory(ctx, filter)
	if err != nil {
		return nil, wrapStorage("list history", err)
	}
	return entries, nil
}

// SumAccepted returns the accepted deposit total of scope.
func (h *History) SumAccepted(ctx context.Context, scope ScopeKey) (Won, error) {
	sum, err := h.reader.SumAccepted(ctx, scope)
	if err != nil {
		return 0, wrapStorage("sum accepted", err)
	}
	return sum, nil
}

// SumAccepted computes the accepted total over entries already in memory.
// Stores without an aggregate query use this.
func SumAccepted(entries []HistoryEntry, scope ScopeKey) Won {
	var sum Won
	for _, e := range entries {
		if e.Accepted() && InScope(e, scope) {
			sum += e.Amount
		}
	}
	return sum
}

// InScope reports whether entry belongs to scope. Room scope only covers
// entries recorded before a contract existed.
func InScope(e HistoryEntry, scope ScopeKey) bool {
	switch scope.Kind {
	case ScopeContract:
		return e.ContractID == scope.ID
	case ScopeRoom:
		return e.ContractID == "" && e.RoomID == scope.ID
	}
	return false
}

// MatchesFilter reports whether entry is selected by filter, ignoring Limit.
func MatchesFilter(e HistoryEntry, f HistoryFilter) bool {
	switch {
	case f.DepositRecordID != "":
		if e.DepositRecordID != f.DepositRecordID {
			return false
		}
	case f.ContractID != "":
		if e.ContractID != f.ContractID {
			return false
		}
	case f.RoomID != "":
		if !InScope(e, RoomScope(f.RoomID)) {
			return false
		}
	}
	return f.Kind == "" || e.Kind == f.Kind
}

// =============================================================================
// APPEND
// =============================================================================

// entryDraft is what an operation knows before an id is minted.
type entryDraft struct {
	record     DepositRecord
	kind       EntryKind
	amount     Won
	status     DepositStatus
	unpaid     Won
	payerName  string
	occurredAt time.Time
	actor      string
	memo       string
}

// appendEntry mints an id and appends one entry inside tx.
func appendEntry(ctx context.Context, tx Tx, d entryDraft, now time.Time) (HistoryEntry, error) {
	id, err := tx.NextID(ctx, NamespaceHistory)
	if err != nil {
		return HistoryEntry{}, err
	}
	if d.unpaid < 0 {
		d.unpaid = 0
	}
	if d.occurredAt.IsZero() {
		d.occurredAt = now
	}
	payer := d.payerName
	if payer == "" {
		payer = d.record.Payer.Name
	}
	entry := HistoryEntry{
		ID:              id,
		DepositRecordID: d.record.ID,
		RoomID:          d.record.Linkage.RoomID,
		ContractID:      d.record.Linkage.ContractID,
		Kind:            d.kind,
		Amount:          d.amount,
		StatusAtEntry:   d.status,
		UnpaidAtEntry:   d.unpaid,
		PayerName:       payer,
		OccurredAt:      d.occurredAt,
		RecordedBy:      d.actor,
		Memo:            d.memo,
		CreatedAt:       now,
	}
	if err := tx.AppendHistory(ctx, entry); err != nil {
		return HistoryEntry{}, err
	}
	return entry, nil
}
