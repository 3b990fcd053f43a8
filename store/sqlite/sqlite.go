/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Implements ledger.Store and ledger.Directory using SQLite. This is the
  default runtime store; store/postgres carries the same schema for
  multi-instance deployments.

KEY TABLES:
  deposit_records:  current state of each deposit obligation
  deposit_history:  immutable history ledger (append-only, enforced by triggers)
  refund_entries:   refund ledger (only deleted_at may change)
  id_sequences:     one counter row per id namespace
  properties, rooms, customers: directory rows owned by the CRUD layer

INDEXES:
  - idx_deposit_records_identity: at most one live record per
    (property, room, payer name, payer phone)
  - idx_deposit_history_contract / _room: SumAccepted hot path
  - idx_refund_entries_contract: refund sums per contract

CONCURRENCY:
  SQLite has a single writer. Transactions are opened with BEGIN IMMEDIATE
  (_txlock=immediate), so the write lock is taken up front and held to
  commit; that is what serializes id minting and scope sums. The pool is
  limited to one connection so ":memory:" databases stay one database, and
  a sync.RWMutex keeps readers off the connection while a transaction
  holds it.

USAGE:
  store, err := sqlite.New("./data/deposits.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  deposits := ledger.NewDepositLedger(store, store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/likeweb3125/newapi-dokliplife-sub001/ledger"
	"github.com/mattn/go-sqlite3"
)

const timeLayout = time.RFC3339Nano

// Store implements ledger.Store and ledger.Directory using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the database schema. Safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
	-- Directory (owned by the CRUD layer, read by the ledger)
	CREATE TABLE IF NOT EXISTS properties (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL,
		configured_deposit_amount INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Id sequences, one row per namespace
	CREATE TABLE IF NOT EXISTS id_sequences (
		namespace TEXT PRIMARY KEY,
		last_value INTEGER NOT NULL
	);

	-- Deposit records (current state, soft delete only)
	CREATE TABLE IF NOT EXISTS deposit_records (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		property_id TEXT NOT NULL,
		customer_id TEXT NOT NULL DEFAULT '',
		contractor_id TEXT NOT NULL DEFAULT '',
		contract_id TEXT NOT NULL DEFAULT '',
		target_amount INTEGER NOT NULL,
		payer_name TEXT NOT NULL DEFAULT '',
		payer_phone TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_deposit_records_identity
		ON deposit_records(property_id, room_id, payer_name, payer_phone)
		WHERE deleted_at IS NULL;

	CREATE INDEX IF NOT EXISTS idx_deposit_records_scope
		ON deposit_records(room_id, contract_id)
		WHERE deleted_at IS NULL;

	CREATE INDEX IF NOT EXISTS idx_deposit_records_contract
		ON deposit_records(contract_id)
		WHERE deleted_at IS NULL;

	-- Deposit history (append-only ledger)
	CREATE TABLE IF NOT EXISTS deposit_history (
		id TEXT PRIMARY KEY,
		deposit_record_id TEXT NOT NULL REFERENCES deposit_records(id),
		room_id TEXT NOT NULL,
		contract_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		amount INTEGER NOT NULL,
		status_at_entry TEXT NOT NULL,
		unpaid_at_entry INTEGER NOT NULL,
		payer_name TEXT NOT NULL DEFAULT '',
		occurred_at TEXT NOT NULL,
		recorded_by TEXT NOT NULL DEFAULT '',
		memo TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deposit_history_record
		ON deposit_history(deposit_record_id, id);
	CREATE INDEX IF NOT EXISTS idx_deposit_history_contract
		ON deposit_history(contract_id, kind, status_at_entry);
	CREATE INDEX IF NOT EXISTS idx_deposit_history_room
		ON deposit_history(room_id, contract_id, kind, status_at_entry);

	CREATE TRIGGER IF NOT EXISTS deposit_history_no_update
		BEFORE UPDATE ON deposit_history
		BEGIN SELECT RAISE(ABORT, 'deposit_history is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS deposit_history_no_delete
		BEFORE DELETE ON deposit_history
		BEGIN SELECT RAISE(ABORT, 'deposit_history is append-only'); END;

	-- Refund ledger
	CREATE TABLE IF NOT EXISTS refund_entries (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL,
		room_id TEXT NOT NULL DEFAULT '',
		total_deposit_amount INTEGER NOT NULL,
		refund_amount INTEGER NOT NULL,
		remain_amount INTEGER NOT NULL,
		line_items_json TEXT NOT NULL,
		status TEXT NOT NULL,
		bank TEXT NOT NULL DEFAULT '',
		account_number TEXT NOT NULL DEFAULT '',
		account_holder TEXT NOT NULL DEFAULT '',
		recorded_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_refund_entries_contract
		ON refund_entries(contract_id, id);

	CREATE TRIGGER IF NOT EXISTS refund_entries_amounts_immutable
		BEFORE UPDATE OF id, contract_id, total_deposit_amount, refund_amount, remain_amount, line_items_json, status
		ON refund_entries
		BEGIN SELECT RAISE(ABORT, 'refund_entries amounts are immutable'); END;
	CREATE TRIGGER IF NOT EXISTS refund_entries_no_delete
		BEFORE DELETE ON refund_entries
		BEGIN SELECT RAISE(ABORT, 'refund_entries are soft deleted only'); END;
`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// DIRECTORY (ledger.Directory interface)
// =============================================================================

// SaveProperty inserts or renames a property.
func (s *Store) SaveProperty(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO properties (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, id, name, formatTime(time.Now().UTC()))
	return err
}

// SaveRoom inserts or updates a room and its configured deposit.
func (s *Store) SaveRoom(ctx context.Context, room ledger.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, property_id, configured_deposit_amount, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			property_id = excluded.property_id,
			configured_deposit_amount = excluded.configured_deposit_amount
	`, room.ID, room.PropertyID, int64(room.ConfiguredDepositAmount), formatTime(time.Now().UTC()))
	return err
}

// SaveCustomer inserts or renames a customer.
func (s *Store) SaveCustomer(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, id, name, formatTime(time.Now().UTC()))
	return err
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*ledger.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var room ledger.Room
	var amount int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, property_id, configured_deposit_amount FROM rooms WHERE id = ?`, roomID,
	).Scan(&room.ID, &room.PropertyID, &amount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	room.ConfiguredDepositAmount = ledger.Won(amount)
	return &room, nil
}

func (s *Store) PropertyExists(ctx context.Context, propertyID string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM properties WHERE id = ?)`, propertyID)
}

func (s *Store) CustomerExists(ctx context.Context, customerID string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM customers WHERE id = ?)`, customerID)
}

func (s *Store) exists(ctx context.Context, query string, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ok bool
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return ok, nil
}

// =============================================================================
// READER (outside a transaction)
// =============================================================================

func (s *Store) GetDeposit(ctx context.Context, id string) (*ledger.DepositRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDeposit(ctx, s.db, id)
}

func (s *Store) ListHistory(ctx context.Context, f ledger.HistoryFilter) ([]ledger.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listHistory(ctx, s.db, f)
}

func (s *Store) SumAccepted(ctx context.Context, scope ledger.ScopeKey) (ledger.Won, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumAccepted(ctx, s.db, scope)
}

func (s *Store) ListRefunds(ctx context.Context, contractID string, includeDeleted bool) ([]ledger.RefundEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRefunds(ctx, s.db, contractID, includeDeleted)
}

func (s *Store) GetRefund(ctx context.Context, id string) (*ledger.RefundEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRefund(ctx, s.db, id)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore implements ledger.Tx on an open *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetDeposit(ctx context.Context, id string) (*ledger.DepositRecord, error) {
	return getDeposit(ctx, ts.tx, id)
}

func (ts *txStore) ListHistory(ctx context.Context, f ledger.HistoryFilter) ([]ledger.HistoryEntry, error) {
	return listHistory(ctx, ts.tx, f)
}

func (ts *txStore) SumAccepted(ctx context.Context, scope ledger.ScopeKey) (ledger.Won, error) {
	return sumAccepted(ctx, ts.tx, scope)
}

func (ts *txStore) ListRefunds(ctx context.Context, contractID string, includeDeleted bool) ([]ledger.RefundEntry, error) {
	return listRefunds(ctx, ts.tx, contractID, includeDeleted)
}

func (ts *txStore) GetRefund(ctx context.Context, id string) (*ledger.RefundEntry, error) {
	return getRefund(ctx, ts.tx, id)
}

// Lock is satisfied by BEGIN IMMEDIATE: the transaction already holds the
// database write lock.
func (ts *txStore) Lock(context.Context, string) error { return nil }

// NextID increments the namespace counter. On first use the counter is
// seeded from the highest id already in the namespace's table.
func (ts *txStore) NextID(ctx context.Context, ns ledger.Namespace) (string, error) {
	var last int64
	err := ts.tx.QueryRowContext(ctx,
		`SELECT last_value FROM id_sequences WHERE namespace = ?`, ns.Name,
	).Scan(&last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		last, err = ts.seedSequence(ctx, ns)
		if err != nil {
			return "", err
		}
	case err != nil:
		return "", fmt.Errorf("failed to read sequence %s: %w", ns.Name, err)
	}

	next := last + 1
	if _, err := ts.tx.ExecContext(ctx, `
		INSERT INTO id_sequences (namespace, last_value) VALUES (?, ?)
		ON CONFLICT(namespace) DO UPDATE SET last_value = excluded.last_value
	`, ns.Name, next); err != nil {
		return "", fmt.Errorf("failed to advance sequence %s: %w", ns.Name, err)
	}
	return ns.Format(next), nil
}

func (ts *txStore) seedSequence(ctx context.Context, ns ledger.Namespace) (int64, error) {
	// ns.Name is one of the fixed ledger namespaces, never user input.
	rows, err := ts.tx.QueryContext(ctx, `SELECT id FROM `+ns.Name+` WHERE id LIKE ?`, ns.Prefix+"%")
	if err != nil {
		return 0, fmt.Errorf("failed to seed sequence %s: %w", ns.Name, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		ids = append(ids, id)
	}
	return ns.MaxSuffix(ids), rows.Err()
}

func (ts *txStore) LockDeposit(ctx context.Context, id string) (*ledger.DepositRecord, error) {
	return getDeposit(ctx, ts.tx, id)
}

func (ts *txStore) FindActiveDeposit(ctx context.Context, identity ledger.DepositIdentity) (*ledger.DepositRecord, error) {
	return queryOneDeposit(ctx, ts.tx, `
		SELECT `+depositColumns+` FROM deposit_records
		WHERE property_id = ? AND room_id = ? AND payer_name = ? AND payer_phone = ?
		  AND deleted_at IS NULL
		ORDER BY id DESC LIMIT 1
	`, identity.PropertyID, identity.RoomID, identity.PayerName, identity.PayerPhone)
}

func (ts *txStore) FindLatestDeposit(ctx context.Context, scope ledger.ScopeKey) (*ledger.DepositRecord, error) {
	if scope.Kind == ledger.ScopeContract {
		return queryOneDeposit(ctx, ts.tx, `
			SELECT `+depositColumns+` FROM deposit_records
			WHERE contract_id = ? AND deleted_at IS NULL
			ORDER BY id DESC LIMIT 1
		`, scope.ID)
	}
	return queryOneDeposit(ctx, ts.tx, `
		SELECT `+depositColumns+` FROM deposit_records
		WHERE room_id = ? AND contract_id = '' AND deleted_at IS NULL
		ORDER BY id DESC LIMIT 1
	`, scope.ID)
}

func (ts *txStore) InsertDeposit(ctx context.Context, rec ledger.DepositRecord) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO deposit_records
		(id, room_id, property_id, customer_id, contractor_id, contract_id, target_amount,
		 payer_name, payer_phone, status, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.Linkage.RoomID,
		rec.Linkage.PropertyID,
		rec.Linkage.CustomerID,
		rec.Linkage.ContractorID,
		rec.Linkage.ContractID,
		int64(rec.TargetAmount),
		rec.Payer.Name,
		rec.Payer.Phone,
		string(rec.Status),
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
		nullTime(rec.DeletedAt),
	)
	return translateError("insert deposit", err)
}

func (ts *txStore) UpdateDeposit(ctx context.Context, rec ledger.DepositRecord) error {
	res, err := ts.tx.ExecContext(ctx, `
		UPDATE deposit_records SET
			customer_id = ?, contractor_id = ?, contract_id = ?, target_amount = ?,
			payer_name = ?, payer_phone = ?, status = ?, updated_at = ?, deleted_at = ?
		WHERE id = ?
	`,
		rec.Linkage.CustomerID,
		rec.Linkage.ContractorID,
		rec.Linkage.ContractID,
		int64(rec.TargetAmount),
		rec.Payer.Name,
		rec.Payer.Phone,
		string(rec.Status),
		formatTime(rec.UpdatedAt),
		nullTime(rec.DeletedAt),
		rec.ID,
	)
	if err != nil {
		return translateError("update deposit", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update deposit: no row with id %s", rec.ID)
	}
	return nil
}

func (ts *txStore) AppendHistory(ctx context.Context, e ledger.HistoryEntry) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO deposit_history
		(id, deposit_record_id, room_id, contract_id, kind, amount, status_at_entry,
		 unpaid_at_entry, payer_name, occurred_at, recorded_by, memo, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.DepositRecordID,
		e.RoomID,
		e.ContractID,
		string(e.Kind),
		int64(e.Amount),
		string(e.StatusAtEntry),
		int64(e.UnpaidAtEntry),
		e.PayerName,
		formatTime(e.OccurredAt),
		e.RecordedBy,
		e.Memo,
		formatTime(e.CreatedAt),
	)
	return translateError("append history", err)
}

func (ts *txStore) InsertRefund(ctx context.Context, e ledger.RefundEntry) error {
	items, err := json.Marshal(lineItemsToJSON(e.LineItems))
	if err != nil {
		return fmt.Errorf("failed to encode line items: %w", err)
	}
	_, err = ts.tx.ExecContext(ctx, `
		INSERT INTO refund_entries
		(id, contract_id, room_id, total_deposit_amount, refund_amount, remain_amount,
		 line_items_json, status, bank, account_number, account_holder, recorded_by,
		 created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.ContractID,
		e.RoomID,
		int64(e.TotalDepositAmount),
		int64(e.RefundAmount),
		int64(e.RemainAmount),
		string(items),
		string(e.Status),
		e.Account.Bank,
		e.Account.AccountNumber,
		e.Account.AccountHolder,
		e.RecordedBy,
		formatTime(e.CreatedAt),
		nullTime(e.DeletedAt),
	)
	return translateError("insert refund", err)
}

func (ts *txStore) MarkRefundDeleted(ctx context.Context, id string, at time.Time) error {
	_, err := ts.tx.ExecContext(ctx,
		`UPDATE refund_entries SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		formatTime(at), id)
	return translateError("delete refund", err)
}

// =============================================================================
// SHARED QUERIES
// =============================================================================

const depositColumns = `id, room_id, property_id, customer_id, contractor_id, contract_id,
	target_amount, payer_name, payer_phone, status, created_at, updated_at, deleted_at`

func getDeposit(ctx context.Context, q queryer, id string) (*ledger.DepositRecord, error) {
	return queryOneDeposit(ctx, q, `SELECT `+depositColumns+` FROM deposit_records WHERE id = ?`, id)
}

func queryOneDeposit(ctx context.Context, q queryer, query string, args ...any) (*ledger.DepositRecord, error) {
	var (
		rec                  ledger.DepositRecord
		target               int64
		status               string
		createdAt, updatedAt string
		deletedAt            sql.NullString
	)
	err := q.QueryRowContext(ctx, query, args...).Scan(
		&rec.ID,
		&rec.Linkage.RoomID,
		&rec.Linkage.PropertyID,
		&rec.Linkage.CustomerID,
		&rec.Linkage.ContractorID,
		&rec.Linkage.ContractID,
		&target,
		&rec.Payer.Name,
		&rec.Payer.Phone,
		&status,
		&createdAt,
		&updatedAt,
		&deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load deposit: %w", err)
	}
	rec.TargetAmount = ledger.Won(target)
	rec.Status = ledger.DepositStatus(status)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	rec.DeletedAt = parseNullTime(deletedAt)
	return &rec, nil
}

func listHistory(ctx context.Context, q queryer, f ledger.HistoryFilter) ([]ledger.HistoryEntry, error) {
	var (
		where []string
		args  []any
	)
	switch {
	case f.DepositRecordID != "":
		where = append(where, "deposit_record_id = ?")
		args = append(args, f.DepositRecordID)
	case f.ContractID != "":
		where = append(where, "contract_id = ?")
		args = append(args, f.ContractID)
	case f.RoomID != "":
		where = append(where, "room_id = ?", "contract_id = ''")
		args = append(args, f.RoomID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}

	query := `
		SELECT id, deposit_record_id, room_id, contract_id, kind, amount, status_at_entry,
		       unpaid_at_entry, payer_name, occurred_at, recorded_by, memo, created_at
		FROM deposit_history`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var entries []ledger.HistoryEntry
	for rows.Next() {
		var (
			e                     ledger.HistoryEntry
			kind, status          string
			amount, unpaid        int64
			occurredAt, createdAt string
		)
		if err := rows.Scan(
			&e.ID, &e.DepositRecordID, &e.RoomID, &e.ContractID, &kind, &amount, &status,
			&unpaid, &e.PayerName, &occurredAt, &e.RecordedBy, &e.Memo, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.Kind = ledger.EntryKind(kind)
		e.Amount = ledger.Won(amount)
		e.StatusAtEntry = ledger.DepositStatus(status)
		e.UnpaidAtEntry = ledger.Won(unpaid)
		e.OccurredAt = parseTime(occurredAt)
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func sumAccepted(ctx context.Context, q queryer, scope ledger.ScopeKey) (ledger.Won, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0) FROM deposit_history
		WHERE contract_id = ? AND kind = 'DEPOSIT' AND status_at_entry IN ('PARTIAL', 'COMPLETED')`
	if scope.Kind == ledger.ScopeRoom {
		query = `
		SELECT COALESCE(SUM(amount), 0) FROM deposit_history
		WHERE room_id = ? AND contract_id = '' AND kind = 'DEPOSIT' AND status_at_entry IN ('PARTIAL', 'COMPLETED')`
	}

	var sum int64
	if err := q.QueryRowContext(ctx, query, scope.ID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum accepted deposits for %s: %w", scope, err)
	}
	return ledger.Won(sum), nil
}

const refundColumns = `id, contract_id, room_id, total_deposit_amount, refund_amount, remain_amount,
	line_items_json, status, bank, account_number, account_holder, recorded_by, created_at, deleted_at`

func listRefunds(ctx context.Context, q queryer, contractID string, includeDeleted bool) ([]ledger.RefundEntry, error) {
	query := `SELECT ` + refundColumns + ` FROM refund_entries WHERE contract_id = ?`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY id DESC`

	rows, err := q.QueryContext(ctx, query, contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to list refunds: %w", err)
	}
	defer rows.Close()

	var entries []ledger.RefundEntry
	for rows.Next() {
		e, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func getRefund(ctx context.Context, q queryer, id string) (*ledger.RefundEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+refundColumns+` FROM refund_entries WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get refund: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	e, err := scanRefund(rows)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanRefund(rows *sql.Rows) (ledger.RefundEntry, error) {
	var (
		e                     ledger.RefundEntry
		total, refund, remain int64
		itemsJSON, status     string
		createdAt             string
		deletedAt             sql.NullString
	)
	if err := rows.Scan(
		&e.ID, &e.ContractID, &e.RoomID, &total, &refund, &remain, &itemsJSON, &status,
		&e.Account.Bank, &e.Account.AccountNumber, &e.Account.AccountHolder, &e.RecordedBy,
		&createdAt, &deletedAt,
	); err != nil {
		return ledger.RefundEntry{}, fmt.Errorf("failed to scan refund: %w", err)
	}

	var items []lineItemJSON
	if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
		return ledger.RefundEntry{}, fmt.Errorf("failed to decode line items of %s: %w", e.ID, err)
	}
	e.LineItems = lineItemsFromJSON(items)
	e.TotalDepositAmount = ledger.Won(total)
	e.RefundAmount = ledger.Won(refund)
	e.RemainAmount = ledger.Won(remain)
	e.Status = ledger.RefundStatus(status)
	e.CreatedAt = parseTime(createdAt)
	e.DeletedAt = parseNullTime(deletedAt)
	return e, nil
}

// =============================================================================
// HELPERS
// =============================================================================

type lineItemJSON struct {
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
}

func lineItemsToJSON(items []ledger.LineItem) []lineItemJSON {
	out := make([]lineItemJSON, len(items))
	for i, it := range items {
		out[i] = lineItemJSON{Description: it.Description, Amount: int64(it.Amount)}
	}
	return out
}

func lineItemsFromJSON(items []lineItemJSON) []ledger.LineItem {
	out := make([]ledger.LineItem, len(items))
	for i, it := range items {
		out[i] = ledger.LineItem{Description: it.Description, Amount: ledger.Won(it.Amount)}
	}
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

// translateError maps a live-identity unique violation to a ledger
// conflict and wraps everything else.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
		strings.Contains(sqliteErr.Error(), "deposit_records.property_id") {
		return &ledger.ConflictError{Message: "a live deposit already exists for this payer and room"}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
