/*
store.go - Persistence interfaces for the deposit and refund ledgers

PURPOSE:
  Defines the boundary between the engine and the database. Every mutating
  engine operation runs inside Store.WithTx and only talks to the Tx it is
  handed; reads outside a transaction go through Reader.

KEY INTERFACES:
  Reader:    read-only queries (records, history, sums, refunds)
  Tx:        Reader + locks, id minting and writes, all in one transaction
  Store:     Reader + WithTx
  Directory: room/property/customer lookups owned by the CRUD layer

APPEND-ONLY CONTRACT:
  History entries have no update or delete method. Refund entries can only
  be flagged deleted (MarkRefundDeleted); their amounts never change.

LOCKING DISCIPLINE:
  Within one transaction, callers acquire exactly one unit lock
  (Tx.Lock with DepositLockKey or RefundLockKey), then row locks
  (LockDeposit and the Find* methods), then the sequence lock inside
  NextID. Locks are released on commit or rollback.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and development
  - store/sqlite/sqlite.go: SQLite via database/sql
  - store/postgres/postgres.go: PostgreSQL via pgx

SEE ALSO:
  - history.go: reader helpers on top of Reader
  - sequence.go: id namespaces
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// READER
// =============================================================================

type Reader interface {
	// GetDeposit returns the record with id, deleted or not. Nil if absent.
	GetDeposit(ctx context.Context, id string) (*DepositRecord, error)

	// ListHistory returns entries matching filter, newest first.
	ListHistory(ctx context.Context, filter HistoryFilter) ([]HistoryEntry, error)

	// SumAccepted returns sum(amount) over DEPOSIT entries with status
	// PARTIAL or COMPLETED in scope.
	SumAccepted(ctx context.Context, scope ScopeKey) (Won, error)

	// ListRefunds returns refund entries of a contract, newest first.
	ListRefunds(ctx context.Context, contractID string, includeDeleted bool) ([]RefundEntry, error)

	// GetRefund returns the refund entry with id. Nil if absent.
	GetRefund(ctx context.Context, id string) (*RefundEntry, error)
}

// =============================================================================
// TRANSACTION
// =============================================================================

type Tx interface {
	Reader

	// Lock takes an exclusive lock on key until the transaction ends.
	Lock(ctx context.Context, key string) error

	// NextID mints the next id of ns. Serialized per namespace.
	NextID(ctx context.Context, ns Namespace) (string, error)

	// LockDeposit returns the record with id and holds a row lock on it.
	// Nil if absent.
	LockDeposit(ctx context.Context, id string) (*DepositRecord, error)

	// FindActiveDeposit returns the non-deleted record with identity, locked.
	FindActiveDeposit(ctx context.Context, identity DepositIdentity) (*DepositRecord, error)

	// FindLatestDeposit returns the newest non-deleted record in scope, locked.
	FindLatestDeposit(ctx context.Context, scope ScopeKey) (*DepositRecord, error)

	InsertDeposit(ctx context.Context, rec DepositRecord) error
	UpdateDeposit(ctx context.Context, rec DepositRecord) error

	// AppendHistory is the only history write.
	AppendHistory(ctx context.Context, entry HistoryEntry) error

	InsertRefund(ctx context.Context, entry RefundEntry) error
	MarkRefundDeleted(ctx context.Context, id string, at time.Time) error
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	Reader

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// =============================================================================
// DIRECTORY - collaborators outside the ledger
// =============================================================================

type Directory interface {
	// GetRoom returns nil if the room does not exist.
	GetRoom(ctx context.Context, roomID string) (*Room, error)
	PropertyExists(ctx context.Context, propertyID string) (bool, error)
	CustomerExists(ctx context.Context, customerID string) (bool, error)
}
