package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDepositUpdate_Apply(t *testing.T) {
	// GIVEN: a record with a target and payer
	rec := DepositRecord{
		TargetAmount: 500000,
		Payer:        Payer{Name: "Kim", Phone: "010-1111-2222"},
	}
	target := Won(600000)
	name := "Kim"
	contract := "C1"

	// WHEN: the update repeats the name and changes target and contract
	changes := DepositUpdate{TargetAmount: &target, PayerName: &name, ContractID: &contract}.apply(&rec)

	// THEN: only real changes are recorded, in field order
	assert.Len(t, changes, 2)
	assert.Equal(t, Won(600000), rec.TargetAmount)
	assert.Equal(t, "C1", rec.Linkage.ContractID)
	assert.Equal(t, "updated targetAmount: 500000 -> 600000; contractId: (none) -> C1", auditMemo(changes))
}

func TestDepositUpdate_ApplyNothing(t *testing.T) {
	rec := DepositRecord{TargetAmount: 500000}
	assert.Empty(t, DepositUpdate{}.apply(&rec))
}
