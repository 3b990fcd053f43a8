/*
Package ledger provides the deposit and refund bookkeeping engine.

PURPOSE:
  Tracks security deposits and reservation deposits paid for a rented room,
  and their later refund. Status is always derived from an append-only
  history of cash movements; the status column on a DepositRecord is a
  cache for fast reads, never an input to a write path.

KEY CONCEPTS IN THIS FILE (types.go):
  - Won: whole-won money amount
  - DepositRecord: one payment obligation tied to a room/customer/contract
  - HistoryEntry: immutable event against a DepositRecord
  - RefundEntry: immutable refund registration against a contract
  - ScopeKey: room or contract against which cumulative sums are computed

DESIGN PRINCIPLES:
  1. Immutability: history and refund entries are never edited
  2. Derivation: status = Resolve(target, sumAccepted(scope), amount)
  3. Explicit scope: contract scope once a contract exists, room scope before

SEE ALSO:
  - resolver.go: pure status derivation
  - deposit.go: DepositRecord operations
  - refund.go: refund registration
  - store.go: persistence interfaces
*/
package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// MONEY
// =============================================================================

// Won is an amount of Korean won. The minor unit is the whole won.
type Won int64

func (w Won) String() string { return fmt.Sprintf("%d", int64(w)) }

// =============================================================================
// STATUSES AND KINDS
// =============================================================================

// DepositStatus is the payment status of a DepositRecord.
type DepositStatus string

const (
	StatusPending   DepositStatus = "PENDING"
	StatusPartial   DepositStatus = "PARTIAL"
	StatusCompleted DepositStatus = "COMPLETED"
	StatusDeleted   DepositStatus = "DELETED"
)

// Accepted reports whether a history entry with this status counts toward
// the accepted sum of its scope.
func (s DepositStatus) Accepted() bool {
	return s == StatusPartial || s == StatusCompleted
}

// EntryKind is the direction of a history entry.
type EntryKind string

const (
	KindDeposit EntryKind = "DEPOSIT" // inbound cash, amount >= 0
	KindReturn  EntryKind = "RETURN"  // cash handed back to the payer
)

// RefundStatus is the status of a refund entry.
type RefundStatus string

const (
	RefundPartial   RefundStatus = "PARTIAL"
	RefundCompleted RefundStatus = "COMPLETED"
)

// =============================================================================
// SCOPE KEY
// =============================================================================

// ScopeKind selects what a cumulative sum is measured against.
type ScopeKind string

const (
	ScopeRoom     ScopeKind = "room"
	ScopeContract ScopeKind = "contract"
)

// ScopeKey identifies the room or contract a deposit sum belongs to.
//
// Before a contract exists, deposits accumulate per room. Once a contract
// exists they are attributed to the contract, so a room reused by another
// tenant does not inherit a stranger's payments. Room scope therefore only
// covers entries that carry no contract id.
type ScopeKey struct {
	Kind ScopeKind
	ID   string
}

func RoomScope(roomID string) ScopeKey         { return ScopeKey{Kind: ScopeRoom, ID: roomID} }
func ContractScope(contractID string) ScopeKey { return ScopeKey{Kind: ScopeContract, ID: contractID} }

// ScopeFor is the single place where the room-to-contract switch happens.
func ScopeFor(roomID, contractID string) ScopeKey {
	if contractID != "" {
		return ContractScope(contractID)
	}
	return RoomScope(roomID)
}

func (k ScopeKey) String() string { return string(k.Kind) + ":" + k.ID }

// DepositLockKey names the mutual-exclusion unit for deposit writes. Every
// deposit write carries a room, and both scopes a room's payments can land
// in (the room itself, or a contract on it) sit under that room, so one
// lock per room serializes every sum and every dedup check without ever
// holding two locks.
func DepositLockKey(roomID string) string { return "deposit/room:" + roomID }

// RefundLockKey names the mutual-exclusion unit for refund writes on a
// contract. It never collides with a deposit lock.
func RefundLockKey(contractID string) string { return "refund/contract:" + contractID }

// =============================================================================
// DEPOSIT RECORD
// =============================================================================

// Linkage ties a deposit to the surrounding CRUD entities.
type Linkage struct {
	RoomID       string
	PropertyID   string
	CustomerID   string
	ContractorID string
	ContractID   string
}

// Payer identifies who paid. Together with property and room it forms the
// dedup identity of a DepositRecord.
type Payer struct {
	Name  string
	Phone string
}

// DepositRecord is the current state of one deposit obligation.
type DepositRecord struct {
	ID           string
	Linkage      Linkage
	TargetAmount Won
	Payer        Payer
	Status       DepositStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// Scope returns the scope key the record's payments accumulate in.
func (r DepositRecord) Scope() ScopeKey {
	return ScopeFor(r.Linkage.RoomID, r.Linkage.ContractID)
}

// Deleted reports whether the record was soft deleted.
func (r DepositRecord) Deleted() bool { return r.DeletedAt != nil }

// Identity returns the dedup key of the record.
func (r DepositRecord) Identity() DepositIdentity {
	return DepositIdentity{
		PropertyID: r.Linkage.PropertyID,
		RoomID:     r.Linkage.RoomID,
		PayerName:  r.Payer.Name,
		PayerPhone: r.Payer.Phone,
	}
}

// DepositIdentity is the tuple that at most one non-deleted record may hold.
type DepositIdentity struct {
	PropertyID string
	RoomID     string
	PayerName  string
	PayerPhone string
}

// =============================================================================
// HISTORY ENTRY
// =============================================================================

// HistoryEntry is one immutable event against a DepositRecord.
type HistoryEntry struct {
	ID              string
	DepositRecordID string
	RoomID          string
	ContractID      string
	Kind            EntryKind
	Amount          Won
	StatusAtEntry   DepositStatus
	UnpaidAtEntry   Won
	PayerName       string
	OccurredAt      time.Time
	RecordedBy      string
	Memo            string
	CreatedAt       time.Time
}

// Scope returns the scope this entry's amount is attributed to.
func (e HistoryEntry) Scope() ScopeKey { return ScopeFor(e.RoomID, e.ContractID) }

// Accepted reports whether the entry counts toward sumAccepted.
func (e HistoryEntry) Accepted() bool {
	return e.Kind == KindDeposit && e.StatusAtEntry.Accepted()
}

// HistoryFilter selects history entries. Exactly one of DepositRecordID,
// ContractID or RoomID should be set; RoomID alone means room scope.
type HistoryFilter struct {
	DepositRecordID string
	ContractID      string
	RoomID          string
	Kind            EntryKind // empty = all kinds
	Limit           int       // 0 = unlimited
}

// =============================================================================
// REFUND ENTRY
// =============================================================================

// LineItem is one line of a refund settlement, e.g. a cleaning deduction.
type LineItem struct {
	Description string
	Amount      Won
}

// AccountInfo is where a refund is paid to.
type AccountInfo struct {
	Bank          string
	AccountNumber string
	AccountHolder string
}

// RefundEntry is one refund registration against a contract's deposit.
type RefundEntry struct {
	ID                 string
	ContractID         string
	RoomID             string
	TotalDepositAmount Won
	RefundAmount       Won
	RemainAmount       Won
	LineItems          []LineItem
	Status             RefundStatus
	Account            AccountInfo
	RecordedBy         string
	CreatedAt          time.Time
	DeletedAt          *time.Time
}

func (e RefundEntry) Deleted() bool { return e.DeletedAt != nil }

// =============================================================================
// COLLABORATORS
// =============================================================================

// Room is what the ledger needs to know about a room.
type Room struct {
	ID                      string
	PropertyID              string
	ConfiguredDepositAmount Won
}

// Clock supplies timestamps. Injectable for tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns UTC wall-clock time.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })
