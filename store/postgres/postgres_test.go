package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/likeweb3125/newapi-dokliplife-sub001/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore connects to DEPOSIT_TEST_POSTGRES_DSN and resets the schema.
// The tests are skipped when the variable is unset.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DEPOSIT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DEPOSIT_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	store, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.pool.Exec(ctx, `DROP TABLE IF EXISTS deposit_history, refund_entries, deposit_records,
		id_sequences, rooms, customers, properties CASCADE`)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))

	require.NoError(t, store.SaveProperty(ctx, "P1", "Sinchon House"))
	require.NoError(t, store.SaveRoom(ctx, ledger.Room{ID: "R1", PropertyID: "P1", ConfiguredDepositAmount: 500000}))
	require.NoError(t, store.SaveRoom(ctx, ledger.Room{ID: "R2", PropertyID: "P1", ConfiguredDepositAmount: 500000}))
	return store
}

func newLedgers(store *Store) (*ledger.DepositLedger, *ledger.RefundLedger) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := ledger.WithClock(ledger.ClockFunc(func() time.Time { return now }))
	return ledger.NewDepositLedger(store, store, clock), ledger.NewRefundLedger(store, clock)
}

func TestPostgres_InstallmentsAndDedup(t *testing.T) {
	store := newTestStore(t)
	deposits, _ := newLedgers(store)
	ctx := context.Background()

	first, err := deposits.RegisterPayment(ctx, ledger.PaymentRequest{RoomID: "R2", Amount: 200000})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPartial, first.Status)
	assert.Equal(t, ledger.Won(300000), first.Unpaid)

	second, err := deposits.RegisterPayment(ctx, ledger.PaymentRequest{RoomID: "R2", Amount: 300000})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, second.Status)
	assert.Equal(t, first.DepositRecordID, second.DepositRecordID)

	req := ledger.CreateDepositRequest{
		TargetAmount: 500000,
		Linkage:      ledger.Linkage{PropertyID: "P1", RoomID: "R1"},
		Payer:        ledger.Payer{Name: "Kim", Phone: "010"},
	}
	created, err := deposits.CreateDeposit(ctx, req)
	require.NoError(t, err)
	req.TargetAmount = 700000
	merged, err := deposits.CreateDeposit(ctx, req)
	require.NoError(t, err)
	assert.True(t, merged.Updated)
	assert.Equal(t, created.ID, merged.ID)
}

func TestPostgres_RoomBeforeProperty(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// GIVEN a room whose property has not been synced yet
	require.NoError(t, store.SaveRoom(ctx, ledger.Room{ID: "R7", PropertyID: "P7", ConfiguredDepositAmount: 400000}))

	// WHEN the property arrives afterwards
	require.NoError(t, store.SaveProperty(ctx, "P7", "Hongdae House"))

	// THEN both are visible
	room, err := store.GetRoom(ctx, "R7")
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Equal(t, "P7", room.PropertyID)
	ok, err := store.PropertyExists(ctx, "P7")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgres_ConcurrentRefunds(t *testing.T) {
	store := newTestStore(t)
	_, refunds := newLedgers(store)
	ctx := context.Background()

	const n = 10
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = refunds.RegisterRefund(ctx, ledger.RefundRequest{
				ContractID:         "C1",
				TotalDepositAmount: 500000,
				RefundAmount:       100000,
				LineItems:          []ledger.LineItem{{Description: fmt.Sprintf("part %d", i), Amount: 100000}},
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ledger.ErrConflict)
		}
	}
	assert.Equal(t, 5, succeeded)

	entries, err := refunds.ListRefundHistory(ctx, "C1")
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, ledger.RefundCompleted, entries[0].Status)
	assert.Equal(t, "RFND0000000005", entries[0].ID)
}

func TestPostgres_ConcurrentSequenceSeeding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const n = 16
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.WithTx(ctx, func(tx ledger.Tx) error {
				var err error
				ids[i], err = tx.NextID(ctx, ledger.NamespaceHistory)
				return err
			})
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		seen[ids[i]] = true
	}
	for i := 1; i <= n; i++ {
		assert.True(t, seen[ledger.NamespaceHistory.Format(int64(i))])
	}
}
