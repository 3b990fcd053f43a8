/*
Package postgres provides a PostgreSQL implementation of ledger.Store.

PURPOSE:
  Same schema and semantics as store/sqlite, for deployments running more
  than one instance against one database.

CONCURRENCY:
  Transactions run at READ COMMITTED. Serialization comes from locks, not
  from the isolation level:
    - Tx.Lock          pg_advisory_xact_lock(hashtextextended(key, 0))
    - LockDeposit,
      FindActiveDeposit,
      FindLatestDeposit SELECT ... FOR UPDATE
    - NextID           UPDATE id_sequences ... RETURNING (row lock)
  All are released on commit or rollback. Each statement after a lock is
  acquired sees the rows committed before the lock was granted, which a
  REPEATABLE READ snapshot taken before the wait would not.

ERRORS:
  23505 (unique_violation) on the live-identity index is mapped to a
  ledger conflict; everything else is wrapped and surfaces as a storage
  failure.
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/likeweb3125/newapi-dokliplife-sub001/ledger"
)

type Store struct {
	pool *pgxpool.Pool
}

// New connects to connString and verifies the connection.
func New(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Migrate creates the schema. Safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS properties (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY,
	property_id TEXT NOT NULL,
	configured_deposit_amount BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- directory rows arrive from the CRUD layer in any order
ALTER TABLE rooms DROP CONSTRAINT IF EXISTS rooms_property_id_fkey;

CREATE TABLE IF NOT EXISTS customers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS id_sequences (
	namespace TEXT PRIMARY KEY,
	last_value BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS deposit_records (
	id TEXT PRIMARY KEY,
	room_id TEXT NOT NULL,
	property_id TEXT NOT NULL,
	customer_id TEXT NOT NULL DEFAULT '',
	contractor_id TEXT NOT NULL DEFAULT '',
	contract_id TEXT NOT NULL DEFAULT '',
	target_amount BIGINT NOT NULL,
	payer_name TEXT NOT NULL DEFAULT '',
	payer_phone TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	deleted_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_deposit_records_identity
	ON deposit_records(property_id, room_id, payer_name, payer_phone)
	WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_deposit_records_scope
	ON deposit_records(room_id, contract_id) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_deposit_records_contract
	ON deposit_records(contract_id) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS deposit_history (
	id TEXT PRIMARY KEY,
	deposit_record_id TEXT NOT NULL REFERENCES deposit_records(id),
	room_id TEXT NOT NULL,
	contract_id TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	amount BIGINT NOT NULL,
	status_at_entry TEXT NOT NULL,
	unpaid_at_entry BIGINT NOT NULL CHECK (unpaid_at_entry >= 0),
	payer_name TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL,
	recorded_by TEXT NOT NULL DEFAULT '',
	memo TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deposit_history_record
	ON deposit_history(deposit_record_id, id);
CREATE INDEX IF NOT EXISTS idx_deposit_history_contract
	ON deposit_history(contract_id, kind, status_at_entry);
CREATE INDEX IF NOT EXISTS idx_deposit_history_room
	ON deposit_history(room_id, contract_id, kind, status_at_entry);

CREATE TABLE IF NOT EXISTS refund_entries (
	id TEXT PRIMARY KEY,
	contract_id TEXT NOT NULL,
	room_id TEXT NOT NULL DEFAULT '',
	total_deposit_amount BIGINT NOT NULL,
	refund_amount BIGINT NOT NULL,
	remain_amount BIGINT NOT NULL CHECK (remain_amount >= 0),
	line_items JSONB NOT NULL,
	status TEXT NOT NULL,
	bank TEXT NOT NULL DEFAULT '',
	account_number TEXT NOT NULL DEFAULT '',
	account_holder TEXT NOT NULL DEFAULT '',
	recorded_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	deleted_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_refund_entries_contract
	ON refund_entries(contract_id, id);
`

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (s *Store) SaveProperty(ctx context.Context, id, name string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO properties (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, id, name)
	return err
}

func (s *Store) SaveRoom(ctx context.Context, room ledger.Room) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rooms (id, property_id, configured_deposit_amount) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			property_id = EXCLUDED.property_id,
			configured_deposit_amount = EXCLUDED.configured_deposit_amount`,
		room.ID, room.PropertyID, int64(room.ConfiguredDepositAmount))
	return err
}

func (s *Store) SaveCustomer(ctx context.Context, id, name string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO customers (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, id, name)
	return err
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*ledger.Room, error) {
	var room ledger.Room
	var amount int64
	err := s.pool.QueryRow(ctx,
		`SELECT id, property_id, configured_deposit_amount FROM rooms WHERE id = $1`, roomID,
	).Scan(&room.ID, &room.PropertyID, &amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	room.ConfiguredDepositAmount = ledger.Won(amount)
	return &room, nil
}

func (s *Store) PropertyExists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM properties WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

func (s *Store) CustomerExists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM customers WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

// =============================================================================
// READER
// =============================================================================

func (s *Store) GetDeposit(ctx context.Context, id string) (*ledger.DepositRecord, error) {
	return queryOneDeposit(ctx, s.pool, `SELECT `+depositColumns+` FROM deposit_records WHERE id = $1`, id)
}

func (s *Store) ListHistory(ctx context.Context, f ledger.HistoryFilter) ([]ledger.HistoryEntry, error) {
	return listHistory(ctx, s.pool, f)
}

func (s *Store) SumAccepted(ctx context.Context, scope ledger.ScopeKey) (ledger.Won, error) {
	return sumAccepted(ctx, s.pool, scope)
}

func (s *Store) ListRefunds(ctx context.Context, contractID string, includeDeleted bool) ([]ledger.RefundEntry, error) {
	return listRefunds(ctx, s.pool, contractID, includeDeleted)
}

func (s *Store) GetRefund(ctx context.Context, id string) (*ledger.RefundEntry, error) {
	entries, err := queryRefunds(ctx, s.pool, `SELECT `+refundColumns+` FROM refund_entries WHERE id = $1`, id)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a READ COMMITTED transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

type txStore struct {
	tx pgx.Tx
}

func (ts *txStore) GetDeposit(ctx context.Context, id string) (*ledger.DepositRecord, error) {
	return queryOneDeposit(ctx, ts.tx, `SELECT `+depositColumns+` FROM deposit_records WHERE id = $1`, id)
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
	entries, err := queryRefunds(ctx, ts.tx, `SELECT `+refundColumns+` FROM refund_entries WHERE id = $1`, id)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (ts *txStore) Lock(ctx context.Context, key string) error {
	if _, err := ts.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("lock acquisition failed for %s: %w", key, err)
	}
	return nil
}

// NextID seeds the namespace row on first use, then increments it. The
// UPDATE holds the row lock until the transaction ends.
func (ts *txStore) NextID(ctx context.Context, ns ledger.Namespace) (string, error) {
	var next int64
	err := ts.tx.QueryRow(ctx,
		`UPDATE id_sequences SET last_value = last_value + 1 WHERE namespace = $1 RETURNING last_value`,
		ns.Name,
	).Scan(&next)
	if err == nil {
		return ns.Format(next), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("advance sequence %s: %w", ns.Name, err)
	}

	seed, err := ts.maxExisting(ctx, ns)
	if err != nil {
		return "", err
	}
	// A concurrent seeder may win the insert; either way the row exists
	// afterwards and the UPDATE below waits on its lock.
	if _, err := ts.tx.Exec(ctx,
		`INSERT INTO id_sequences (namespace, last_value) VALUES ($1, $2) ON CONFLICT (namespace) DO NOTHING`,
		ns.Name, seed,
	); err != nil {
		return "", fmt.Errorf("seed sequence %s: %w", ns.Name, err)
	}
	if err := ts.tx.QueryRow(ctx,
		`UPDATE id_sequences SET last_value = last_value + 1 WHERE namespace = $1 RETURNING last_value`,
		ns.Name,
	).Scan(&next); err != nil {
		return "", fmt.Errorf("advance sequence %s: %w", ns.Name, err)
	}
	return ns.Format(next), nil
}

func (ts *txStore) maxExisting(ctx context.Context, ns ledger.Namespace) (int64, error) {
	// ns.Name is one of the fixed ledger namespaces, never user input.
	rows, err := ts.tx.Query(ctx, `SELECT id FROM `+ns.Name+` WHERE id LIKE $1`, ns.Prefix+"%")
	if err != nil {
		return 0, fmt.Errorf("seed sequence %s: %w", ns.Name, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, fmt.Errorf("seed sequence %s: %w", ns.Name, err)
	}
	return ns.MaxSuffix(ids), nil
}

func (ts *txStore) LockDeposit(ctx context.Context, id string) (*ledger.DepositRecord, error) {
	return queryOneDeposit(ctx, ts.tx,
		`SELECT `+depositColumns+` FROM deposit_records WHERE id = $1 FOR UPDATE`, id)
}

func (ts *txStore) FindActiveDeposit(ctx context.Context, identity ledger.DepositIdentity) (*ledger.DepositRecord, error) {
	return queryOneDeposit(ctx, ts.tx, `
		SELECT `+depositColumns+` FROM deposit_records
		WHERE property_id = $1 AND room_id = $2 AND payer_name = $3 AND payer_phone = $4
		  AND deleted_at IS NULL
		ORDER BY id DESC LIMIT 1
		FOR UPDATE`,
		identity.PropertyID, identity.RoomID, identity.PayerName, identity.PayerPhone)
}

func (ts *txStore) FindLatestDeposit(ctx context.Context, scope ledger.ScopeKey) (*ledger.DepositRecord, error) {
	if scope.Kind == ledger.ScopeContract {
		return queryOneDeposit(ctx, ts.tx, `
			SELECT `+depositColumns+` FROM deposit_records
			WHERE contract_id = $1 AND deleted_at IS NULL
			ORDER BY id DESC LIMIT 1
			FOR UPDATE`, scope.ID)
	}
	return queryOneDeposit(ctx, ts.tx, `
		SELECT `+depositColumns+` FROM deposit_records
		WHERE room_id = $1 AND contract_id = '' AND deleted_at IS NULL
		ORDER BY id DESC LIMIT 1
		FOR UPDATE`, scope.ID)
}

func (ts *txStore) InsertDeposit(ctx context.Context, rec ledger.DepositRecord) error {
	_, err := ts.tx.Exec(ctx, `
		INSERT INTO deposit_records
		(id, room_id, property_id, customer_id, contractor_id, contract_id, target_amount,
		 payer_name, payer_phone, status, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.Linkage.RoomID, rec.Linkage.PropertyID, rec.Linkage.CustomerID,
		rec.Linkage.ContractorID, rec.Linkage.ContractID, int64(rec.TargetAmount),
		rec.Payer.Name, rec.Payer.Phone, string(rec.Status),
		rec.CreatedAt, rec.UpdatedAt, rec.DeletedAt,
	)
	return translateError("insert deposit", err)
}

func (ts *txStore) UpdateDeposit(ctx context.Context, rec ledger.DepositRecord) error {
	tag, err := ts.tx.Exec(ctx, `
		UPDATE deposit_records SET
			customer_id = $1, contractor_id = $2, contract_id = $3, target_amount = $4,
			payer_name = $5, payer_phone = $6, status = $7, updated_at = $8, deleted_at = $9
		WHERE id = $10`,
		rec.Linkage.CustomerID, rec.Linkage.ContractorID, rec.Linkage.ContractID,
		int64(rec.TargetAmount), rec.Payer.Name, rec.Payer.Phone, string(rec.Status),
		rec.UpdatedAt, rec.DeletedAt, rec.ID,
	)
	if err != nil {
		return translateError("update deposit", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update deposit: no row with id %s", rec.ID)
	}
	return nil
}

func (ts *txStore) AppendHistory(ctx context.Context, e ledger.HistoryEntry) error {
	_, err := ts.tx.Exec(ctx, `
		INSERT INTO deposit_history
		(id, deposit_record_id, room_id, contract_id, kind, amount, status_at_entry,
		 unpaid_at_entry, payer_name, occurred_at, recorded_by, memo, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.DepositRecordID, e.RoomID, e.ContractID, string(e.Kind), int64(e.Amount),
		string(e.StatusAtEntry), int64(e.UnpaidAtEntry), e.PayerName, e.OccurredAt,
		e.RecordedBy, e.Memo, e.CreatedAt,
	)
	return translateError("append history", err)
}

func (ts *txStore) InsertRefund(ctx context.Context, e ledger.RefundEntry) error {
	items, err := json.Marshal(lineItemsToJSON(e.LineItems))
	if err != nil {
		return fmt.Errorf("encode line items: %w", err)
	}
	_, err = ts.tx.Exec(ctx, `
		INSERT INTO refund_entries
		(id, contract_id, room_id, total_deposit_amount, refund_amount, remain_amount,
		 line_items, status, bank, account_number, account_holder, recorded_by,
		 created_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.ContractID, e.RoomID, int64(e.TotalDepositAmount), int64(e.RefundAmount),
		int64(e.RemainAmount), string(items), string(e.Status), e.Account.Bank,
		e.Account.AccountNumber, e.Account.AccountHolder, e.RecordedBy,
		e.CreatedAt, e.DeletedAt,
	)
	return translateError("insert refund", err)
}

func (ts *txStore) MarkRefundDeleted(ctx context.Context, id string, at time.Time) error {
	_, err := ts.tx.Exec(ctx,
		`UPDATE refund_entries SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`, at, id)
	return translateError("delete refund", err)
}

// =============================================================================
// SHARED QUERIES
// =============================================================================

const depositColumns = `id, room_id, property_id, customer_id, contractor_id, contract_id,
	target_amount, payer_name, payer_phone, status, created_at, updated_at, deleted_at`

func queryOneDeposit(ctx context.Context, q dbtx, query string, args ...any) (*ledger.DepositRecord, error) {
	var (
		rec    ledger.DepositRecord
		target int64
		status string
	)
	err := q.QueryRow(ctx, query, args...).Scan(
		&rec.ID, &rec.Linkage.RoomID, &rec.Linkage.PropertyID, &rec.Linkage.CustomerID,
		&rec.Linkage.ContractorID, &rec.Linkage.ContractID, &target, &rec.Payer.Name,
		&rec.Payer.Phone, &status, &rec.CreatedAt, &rec.UpdatedAt, &rec.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load deposit: %w", err)
	}
	rec.TargetAmount = ledger.Won(target)
	rec.Status = ledger.DepositStatus(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func listHistory(ctx context.Context, q dbtx, f ledger.HistoryFilter) ([]ledger.HistoryEntry, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	switch {
	case f.DepositRecordID != "":
		where = append(where, "deposit_record_id = "+arg(f.DepositRecordID))
	case f.ContractID != "":
		where = append(where, "contract_id = "+arg(f.ContractID))
	case f.RoomID != "":
		where = append(where, "room_id = "+arg(f.RoomID), "contract_id = ''")
	}
	if f.Kind != "" {
		where = append(where, "kind = "+arg(string(f.Kind)))
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
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.HistoryEntry, error) {
		var (
			e              ledger.HistoryEntry
			kind, status   string
			amount, unpaid int64
		)
		err := row.Scan(
			&e.ID, &e.DepositRecordID, &e.RoomID, &e.ContractID, &kind, &amount, &status,
			&unpaid, &e.PayerName, &e.OccurredAt, &e.RecordedBy, &e.Memo, &e.CreatedAt,
		)
		e.Kind = ledger.EntryKind(kind)
		e.Amount = ledger.Won(amount)
		e.StatusAtEntry = ledger.DepositStatus(status)
		e.UnpaidAtEntry = ledger.Won(unpaid)
		e.OccurredAt = e.OccurredAt.UTC()
		e.CreatedAt = e.CreatedAt.UTC()
		return e, err
	})
}

func sumAccepted(ctx context.Context, q dbtx, scope ledger.ScopeKey) (ledger.Won, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)::BIGINT FROM deposit_history
		WHERE contract_id = $1 AND kind = 'DEPOSIT' AND status_at_entry IN ('PARTIAL', 'COMPLETED')`
	if scope.Kind == ledger.ScopeRoom {
		query = `
		SELECT COALESCE(SUM(amount), 0)::BIGINT FROM deposit_history
		WHERE room_id = $1 AND contract_id = '' AND kind = 'DEPOSIT' AND status_at_entry IN ('PARTIAL', 'COMPLETED')`
	}

	var sum int64
	if err := q.QueryRow(ctx, query, scope.ID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum accepted deposits for %s: %w", scope, err)
	}
	return ledger.Won(sum), nil
}

const refundColumns = `id, contract_id, room_id, total_deposit_amount, refund_amount, remain_amount,
	line_items, status, bank, account_number, account_holder, recorded_by, created_at, deleted_at`

func listRefunds(ctx context.Context, q dbtx, contractID string, includeDeleted bool) ([]ledger.RefundEntry, error) {
	query := `SELECT ` + refundColumns + ` FROM refund_entries WHERE contract_id = $1`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	return queryRefunds(ctx, q, query+` ORDER BY id DESC`, contractID)
}

func queryRefunds(ctx context.Context, q dbtx, query string, args ...any) ([]ledger.RefundEntry, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledger.RefundEntry, error) {
		var (
			e                     ledger.RefundEntry
			total, refund, remain int64
			items                 []byte
			status                string
		)
		if err := row.Scan(
			&e.ID, &e.ContractID, &e.RoomID, &total, &refund, &remain, &items, &status,
			&e.Account.Bank, &e.Account.AccountNumber, &e.Account.AccountHolder, &e.RecordedBy,
			&e.CreatedAt, &e.DeletedAt,
		); err != nil {
			return e, err
		}
		var decoded []lineItemJSON
		if err := json.Unmarshal(items, &decoded); err != nil {
			return e, fmt.Errorf("decode line items of %s: %w", e.ID, err)
		}
		e.LineItems = lineItemsFromJSON(decoded)
		e.TotalDepositAmount = ledger.Won(total)
		e.RefundAmount = ledger.Won(refund)
		e.RemainAmount = ledger.Won(remain)
		e.Status = ledger.RefundStatus(status)
		e.CreatedAt = e.CreatedAt.UTC()
		return e, nil
	})
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

func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "idx_deposit_records_identity" {
		return &ledger.ConflictError{Message: "a live deposit already exists for this payer and room"}
	}
	return fmt.Errorf("%s failed: %w", op, err)
}
