package ledger_test

import (
	"context"
	"testing"

	"github.com/likeweb3125/newapi-dokliplife-sub001/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refundReq(contractID string, total, refund ledger.Won) ledger.RefundRequest {
	return ledger.RefundRequest{
		ContractID:         contractID,
		RoomID:             "R1",
		TotalDepositAmount: total,
		RefundAmount:       refund,
		LineItems:          []ledger.LineItem{{Description: "deposit return", Amount: refund}},
		Account:            ledger.AccountInfo{Bank: "KB", AccountNumber: "123-45-6789", AccountHolder: "Kim"},
		Actor:              "staff-1",
	}
}

// assertConserved checks that refunded amounts plus the latest remain add
// up to the latest entry's total deposit.
func assertConserved(t *testing.T, refunds *ledger.RefundLedger, contractID string) {
	t.Helper()
	entries, err := refunds.ListRefundHistory(context.Background(), contractID)
	require.NoError(t, err)
	if len(entries) == 0 {
		return
	}
	var refunded ledger.Won
	for _, e := range entries {
		refunded += e.RefundAmount
	}
	latest := entries[0]
	assert.Equal(t, latest.TotalDepositAmount, refunded+latest.RemainAmount)
}

func TestRegisterRefund_FullRefundLocksContract(t *testing.T) {
	_, refunds, _ := newTestLedgers(t)
	ctx := context.Background()

	// WHEN: the whole deposit is refunded
	res, err := refunds.RegisterRefund(ctx, refundReq("C1", 500000, 500000))

	// THEN: completed with nothing left
	require.NoError(t, err)
	assert.Equal(t, "RFND0000000001", res.ID)
	assert.Equal(t, ledger.RefundCompleted, res.Status)
	assert.Equal(t, ledger.Won(0), res.RemainAmount)

	// AND: any further refund is a conflict
	_, err = refunds.RegisterRefund(ctx, refundReq("C1", 500000, 0))
	assert.ErrorIs(t, err, ledger.ErrConflict)

	var locked *ledger.RefundCompletedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, res.ID, locked.CompletedRefundID)
}

func TestRegisterRefund_ExceedsBalance(t *testing.T) {
	_, refunds, _ := newTestLedgers(t)

	_, err := refunds.RegisterRefund(context.Background(), refundReq("C2", 500000, 600000))

	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
	var exceeded *ledger.RefundExceedsBalanceError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, ledger.Won(500000), exceeded.MaxAllowed)
	assert.Equal(t, ledger.Won(0), exceeded.PriorRefunded)
	assert.Equal(t, ledger.Won(600000), exceeded.Requested)
	assert.Contains(t, err.Error(), "max allowed 500000")
}

func TestRegisterRefund_PartialRefundsConserve(t *testing.T) {
	_, refunds, _ := newTestLedgers(t)
	ctx := context.Background()

	first, err := refunds.RegisterRefund(ctx, refundReq("C3", 500000, 200000))
	require.NoError(t, err)
	assert.Equal(t, ledger.RefundPartial, first.Status)
	assert.Equal(t, ledger.Won(300000), first.RemainAmount)
	assertConserved(t, refunds, "C3")

	second, err := refunds.RegisterRefund(ctx, refundReq("C3", 500000, 100000))
	require.NoError(t, err)
	assert.Equal(t, ledger.Won(200000), second.RemainAmount)
	assertConserved(t, refunds, "C3")

	// more than what is left
	_, err = refunds.RegisterRefund(ctx, refundReq("C3", 500000, 250000))
	var exceeded *ledger.RefundExceedsBalanceError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, ledger.Won(200000), exceeded.MaxAllowed)
	assert.Equal(t, ledger.Won(300000), exceeded.PriorRefunded)

	last, err := refunds.RegisterRefund(ctx, refundReq("C3", 500000, 200000))
	require.NoError(t, err)
	assert.Equal(t, ledger.RefundCompleted, last.Status)
	assertConserved(t, refunds, "C3")

	entries, err := refunds.ListRefundHistory(ctx, "C3")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, last.ID, entries[0].ID)
	assert.Equal(t, first.ID, entries[2].ID)
	assert.Equal(t, "KB", entries[0].Account.Bank)
}

func TestRegisterRefund_DeductionLineItems(t *testing.T) {
	_, refunds, _ := newTestLedgers(t)

	req := refundReq("C4", 500000, 450000)
	req.LineItems = []ledger.LineItem{
		{Description: "deposit", Amount: 500000},
		{Description: "cleaning", Amount: -50000},
	}
	res, err := refunds.RegisterRefund(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, ledger.RefundPartial, res.Status)
	assert.Equal(t, ledger.Won(50000), res.RemainAmount)
}

func TestRegisterRefund_Validation(t *testing.T) {
	_, refunds, _ := newTestLedgers(t)
	ctx := context.Background()

	t.Run("line items must add up", func(t *testing.T) {
		req := refundReq("C5", 500000, 300000)
		req.LineItems = []ledger.LineItem{{Description: "deposit", Amount: 250000}}
		_, err := refunds.RegisterRefund(ctx, req)

		var mismatch *ledger.LineItemMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, ledger.Won(250000), mismatch.LineItemSum)
		assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
	})

	t.Run("contract required", func(t *testing.T) {
		_, err := refunds.RegisterRefund(ctx, refundReq("", 500000, 100000))
		assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
	})

	t.Run("negative amounts", func(t *testing.T) {
		_, err := refunds.RegisterRefund(ctx, refundReq("C5", -1, 0))
		assert.ErrorIs(t, err, ledger.ErrInvalidArgument)

		_, err = refunds.RegisterRefund(ctx, refundReq("C5", 500000, -1))
		assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
	})

	t.Run("line item without description", func(t *testing.T) {
		req := refundReq("C5", 500000, 100000)
		req.LineItems[0].Description = ""
		_, err := refunds.RegisterRefund(ctx, req)
		assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
	})

	t.Run("nothing was written", func(t *testing.T) {
		entries, err := refunds.ListRefundHistory(ctx, "C5")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	_, err := refunds.ListRefundHistory(ctx, "")
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
}

func TestSoftDeleteRefund(t *testing.T) {
	_, refunds, _ := newTestLedgers(t)
	ctx := context.Background()

	first, err := refunds.RegisterRefund(ctx, refundReq("C6", 500000, 200000))
	require.NoError(t, err)
	second, err := refunds.RegisterRefund(ctx, refundReq("C6", 500000, 300000))
	require.NoError(t, err)
	require.Equal(t, ledger.RefundCompleted, second.Status)

	// only the latest entry can go
	err = refunds.SoftDeleteRefund(ctx, first.ID, "staff")
	assert.ErrorIs(t, err, ledger.ErrConflict)

	// WHEN: the completing entry is deleted (twice)
	require.NoError(t, refunds.SoftDeleteRefund(ctx, second.ID, "staff"))
	require.NoError(t, refunds.SoftDeleteRefund(ctx, second.ID, "staff"))

	// THEN: it disappears from history and the contract is open again
	entries, err := refunds.ListRefundHistory(ctx, "C6")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, first.ID, entries[0].ID)
	assertConserved(t, refunds, "C6")

	redo, err := refunds.RegisterRefund(ctx, refundReq("C6", 500000, 250000))
	require.NoError(t, err)
	assert.Equal(t, ledger.Won(50000), redo.RemainAmount)
	assertConserved(t, refunds, "C6")

	err = refunds.SoftDeleteRefund(ctx, "RFND9999999999", "staff")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
