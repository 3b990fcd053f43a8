package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		target     Won
		prior      Won
		amount     Won
		wantStatus DepositStatus
		wantUnpaid Won
	}{
		{"first partial installment", 500000, 0, 200000, StatusPartial, 300000},
		{"installment completes", 500000, 200000, 300000, StatusCompleted, 0},
		{"full amount at once", 500000, 0, 500000, StatusCompleted, 0},
		{"overpayment clamps unpaid", 500000, 400000, 300000, StatusCompleted, 0},
		{"zero target is always complete", 0, 0, 0, StatusCompleted, 0},
		{"zero amount keeps partial", 500000, 100000, 0, StatusPartial, 400000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Resolve(tt.target, tt.prior, tt.amount)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantUnpaid, res.Unpaid)
			assert.Equal(t, tt.prior+tt.amount, res.CumulativeAfter)
		})
	}
}

func TestResolve_ChunkingDoesNotMatter(t *testing.T) {
	targets := []Won{0, 1, 300000, 500000, 1000000}
	chunks := [][]Won{
		{500000},
		{200000, 300000},
		{100000, 100000, 100000, 100000, 100000},
		{0, 250000, 0, 250000},
		{700000, 1},
	}

	for _, target := range targets {
		for _, seq := range chunks {
			var prior, total Won
			var last Resolution
			for _, amount := range seq {
				last = Resolve(target, prior, amount)
				prior = last.CumulativeAfter
				total += amount
			}
			once := Resolve(target, 0, total)

			assert.Equal(t, once.Status, last.Status, "target %v seq %v", target, seq)
			assert.Equal(t, once.Unpaid, last.Unpaid, "target %v seq %v", target, seq)
		}
	}
}

func TestResolve_UnpaidNeverNegative(t *testing.T) {
	for target := Won(0); target <= 1000; target += 250 {
		for prior := Won(0); prior <= 1500; prior += 300 {
			for amount := Won(0); amount <= 1500; amount += 500 {
				res := Resolve(target, prior, amount)
				assert.GreaterOrEqual(t, int64(res.Unpaid), int64(0))
			}
		}
	}
}
