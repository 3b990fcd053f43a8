package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/likeweb3125/newapi-dokliplife-sub001/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveProperty(ctx, "P1", "Sinchon House"))
	require.NoError(t, store.SaveRoom(ctx, ledger.Room{ID: "R1", PropertyID: "P1", ConfiguredDepositAmount: 500000}))
	require.NoError(t, store.SaveRoom(ctx, ledger.Room{ID: "R2", PropertyID: "P1", ConfiguredDepositAmount: 500000}))
	require.NoError(t, store.SaveCustomer(ctx, "CU1", "Kim"))
	return store
}

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newLedgers(store *Store) (*ledger.DepositLedger, *ledger.RefundLedger) {
	clock := ledger.WithClock(ledger.ClockFunc(func() time.Time { return testNow }))
	return ledger.NewDepositLedger(store, store, clock), ledger.NewRefundLedger(store, clock)
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestDirectory(t *testing.T) {
	store := newTestStore(t, ":memory:")
	ctx := context.Background()

	room, err := store.GetRoom(ctx, "R1")
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Equal(t, "P1", room.PropertyID)
	assert.Equal(t, ledger.Won(500000), room.ConfiguredDepositAmount)

	missing, err := store.GetRoom(ctx, "R404")
	require.NoError(t, err)
	assert.Nil(t, missing)

	ok, err := store.PropertyExists(ctx, "P1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.CustomerExists(ctx, "CU404")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDirectory_RoomBeforeProperty(t *testing.T) {
	store := newTestStore(t, ":memory:")
	ctx := context.Background()

	require.NoError(t, store.SaveRoom(ctx, ledger.Room{ID: "R7", PropertyID: "P7", ConfiguredDepositAmount: 400000}))
	require.NoError(t, store.SaveProperty(ctx, "P7", "Hongdae House"))

	room, err := store.GetRoom(ctx, "R7")
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Equal(t, "P7", room.PropertyID)
}

// =============================================================================
// ROUND TRIP
// =============================================================================

func TestDepositLifecycle(t *testing.T) {
	store := newTestStore(t, ":memory:")
	deposits, _ := newLedgers(store)
	ctx := context.Background()

	// GIVEN: two installments on R2 and a return
	first, err := deposits.RegisterPayment(ctx, ledger.PaymentRequest{RoomID: "R2", Amount: 200000, PayerName: "Lee", Actor: "staff-1"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPartial, first.Status)
	assert.Equal(t, ledger.Won(300000), first.Unpaid)

	second, err := deposits.RegisterPayment(ctx, ledger.PaymentRequest{RoomID: "R2", Amount: 300000, PayerName: "Lee", Actor: "staff-1"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, second.Status)
	assert.Equal(t, first.DepositRecordID, second.DepositRecordID)

	_, err = deposits.RecordReturn(ctx, first.DepositRecordID, 50000, "staff-2", "key deposit")
	require.NoError(t, err)

	// WHEN: the record is read back
	view, err := deposits.GetDepositWithHistory(ctx, first.DepositRecordID)

	// THEN: everything survives the round trip
	require.NoError(t, err)
	assert.Equal(t, "DEPO0000000001", view.Record.ID)
	assert.Equal(t, ledger.StatusCompleted, view.Record.Status)
	assert.Equal(t, testNow, view.Record.CreatedAt)
	assert.Nil(t, view.Record.DeletedAt)
	assert.Equal(t, ledger.Won(500000), view.TotalAccepted)
	require.Len(t, view.History, 3)
	assert.Equal(t, []string{"DHIS0000000003", "DHIS0000000002", "DHIS0000000001"},
		[]string{view.History[0].ID, view.History[1].ID, view.History[2].ID})
	assert.Equal(t, ledger.KindReturn, view.History[0].Kind)
	assert.Equal(t, "key deposit", view.History[0].Memo)
	assert.Equal(t, "Lee", view.History[1].PayerName)
	assert.Equal(t, testNow, view.History[1].OccurredAt)
}

func TestCreateDeposit_DedupAndDelete(t *testing.T) {
	store := newTestStore(t, ":memory:")
	deposits, _ := newLedgers(store)
	ctx := context.Background()

	req := ledger.CreateDepositRequest{
		TargetAmount: 500000,
		Linkage:      ledger.Linkage{PropertyID: "P1", RoomID: "R1", CustomerID: "CU1"},
		Payer:        ledger.Payer{Name: "Kim", Phone: "010-1111-2222"},
	}
	first, err := deposits.CreateDeposit(ctx, req)
	require.NoError(t, err)

	req.TargetAmount = 600000
	second, err := deposits.CreateDeposit(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Updated)
	assert.Equal(t, first.ID, second.ID)

	require.NoError(t, deposits.SoftDeleteDeposit(ctx, first.ID, "staff"))

	third, err := deposits.CreateDeposit(ctx, req)
	require.NoError(t, err)
	assert.False(t, third.Updated)
	assert.Equal(t, "DEPO0000000002", third.ID)

	deleted, err := store.GetDeposit(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDeleted, deleted.Status)
	require.NotNil(t, deleted.DeletedAt)
	assert.Equal(t, ledger.Won(600000), deleted.TargetAmount)
}

func TestRefunds(t *testing.T) {
	store := newTestStore(t, ":memory:")
	_, refunds := newLedgers(store)
	ctx := context.Background()

	req := ledger.RefundRequest{
		ContractID:         "C1",
		TotalDepositAmount: 500000,
		RefundAmount:       450000,
		LineItems: []ledger.LineItem{
			{Description: "deposit", Amount: 500000},
			{Description: "cleaning", Amount: -50000},
		},
		Account: ledger.AccountInfo{Bank: "KB", AccountNumber: "123", AccountHolder: "Kim"},
	}
	res, err := refunds.RegisterRefund(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ledger.Won(50000), res.RemainAmount)

	entries, err := refunds.ListRefundHistory(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, req.LineItems, entries[0].LineItems)
	assert.Equal(t, req.Account, entries[0].Account)
	assert.Equal(t, ledger.RefundPartial, entries[0].Status)

	require.NoError(t, refunds.SoftDeleteRefund(ctx, res.ID, "staff"))

	entries, err = refunds.ListRefundHistory(ctx, "C1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	all, err := store.ListRefunds(ctx, "C1", true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.NotNil(t, all[0].DeletedAt)
}

// =============================================================================
// SCHEMA GUARDS
// =============================================================================

func TestHistoryIsAppendOnly(t *testing.T) {
	store := newTestStore(t, ":memory:")
	deposits, _ := newLedgers(store)
	ctx := context.Background()

	_, err := deposits.RegisterPayment(ctx, ledger.PaymentRequest{RoomID: "R2", Amount: 200000})
	require.NoError(t, err)

	_, err = store.db.ExecContext(ctx, `UPDATE deposit_history SET amount = 1`)
	assert.ErrorContains(t, err, "append-only")

	_, err = store.db.ExecContext(ctx, `DELETE FROM deposit_history`)
	assert.ErrorContains(t, err, "append-only")
}

func TestRefundAmountsAreImmutable(t *testing.T) {
	store := newTestStore(t, ":memory:")
	_, refunds := newLedgers(store)
	ctx := context.Background()

	_, err := refunds.RegisterRefund(ctx, ledger.RefundRequest{
		ContractID: "C1", TotalDepositAmount: 500000, RefundAmount: 100000,
		LineItems: []ledger.LineItem{{Description: "deposit", Amount: 100000}},
	})
	require.NoError(t, err)

	_, err = store.db.ExecContext(ctx, `UPDATE refund_entries SET refund_amount = 1`)
	assert.ErrorContains(t, err, "immutable")

	_, err = store.db.ExecContext(ctx, `DELETE FROM refund_entries`)
	assert.ErrorContains(t, err, "soft deleted only")
}

func TestLiveIdentityIsUnique(t *testing.T) {
	store := newTestStore(t, ":memory:")
	ctx := context.Background()

	rec := ledger.DepositRecord{
		ID:           "DEPO0000000001",
		Linkage:      ledger.Linkage{PropertyID: "P1", RoomID: "R1"},
		TargetAmount: 500000,
		Payer:        ledger.Payer{Name: "Kim", Phone: "010"},
		Status:       ledger.StatusPending,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		if err := tx.InsertDeposit(ctx, rec); err != nil {
			return err
		}
		rec.ID = "DEPO0000000002"
		return tx.InsertDeposit(ctx, rec)
	})

	assert.ErrorIs(t, err, ledger.ErrConflict)

	got, err := store.GetDeposit(ctx, "DEPO0000000001")
	require.NoError(t, err)
	assert.Nil(t, got, "the transaction rolled back")
}

// =============================================================================
// SEQUENCES
// =============================================================================

func TestNextID_SeedsFromLegacyRows(t *testing.T) {
	store := newTestStore(t, ":memory:")
	ctx := context.Background()

	// GIVEN: rows written before the sequence table existed, one malformed
	for _, id := range []string{"DEPO0000000041", "DEPOlegacy-7", "DEPO0000000007"} {
		_, err := store.db.ExecContext(ctx, `
			INSERT INTO deposit_records
			(id, room_id, property_id, target_amount, payer_name, payer_phone, status, created_at, updated_at, deleted_at)
			VALUES (?, 'R1', 'P1', 500000, ?, '', 'COMPLETED', ?, ?, ?)`,
			id, "payer-"+id, formatTime(testNow), formatTime(testNow), formatTime(testNow))
		require.NoError(t, err)
	}

	// WHEN: the first id is minted
	var id string
	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		var err error
		id, err = tx.NextID(ctx, ledger.NamespaceDeposit)
		return err
	})

	// THEN: it continues after the highest well-formed suffix
	require.NoError(t, err)
	assert.Equal(t, "DEPO0000000042", id)
}

func TestNextID_RollbackReleasesID(t *testing.T) {
	store := newTestStore(t, ":memory:")
	ctx := context.Background()

	next := func(fail bool) string {
		var id string
		store.WithTx(ctx, func(tx ledger.Tx) error {
			id, _ = tx.NextID(ctx, ledger.NamespaceRefund)
			if fail {
				return assert.AnError
			}
			return nil
		})
		return id
	}

	assert.Equal(t, "RFND0000000001", next(true))
	assert.Equal(t, "RFND0000000001", next(false))
	assert.Equal(t, "RFND0000000002", next(false))
}

func TestConcurrentPayments_FileDatabase(t *testing.T) {
	store := newTestStore(t, filepath.Join(t.TempDir(), "deposits.db"))
	deposits, _ := newLedgers(store)
	ctx := context.Background()

	const n = 20
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := deposits.RegisterPayment(ctx, ledger.PaymentRequest{RoomID: "R2", Amount: 25000})
			ids[i], errs[i] = res.HistoryEntryID, err
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[ids[i]], "duplicate id %s", ids[i])
		seen[ids[i]] = true
	}

	sum, err := store.SumAccepted(ctx, ledger.RoomScope("R2"))
	require.NoError(t, err)
	assert.Equal(t, ledger.Won(500000), sum)

	latest, err := deposits.History().ListByScope(ctx, ledger.HistoryFilter{RoomID: "R2", Limit: 1})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "DHIS0000000020", latest[0].ID)
	assert.Equal(t, ledger.StatusCompleted, latest[0].StatusAtEntry)
}
