package ledger

import (
	"fmt"
	"strings"
)

// DepositUpdate carries the fields to change. Nil means unchanged.
type DepositUpdate struct {
	TargetAmount *Won
	PayerName    *string
	PayerPhone   *string
	CustomerID   *string
	ContractorID *string
	ContractID   *string
}

// fieldChange is one accepted change, kept for the audit memo.
type fieldChange struct {
	field    string
	from, to string
}

// apply diffs u against rec, mutates rec and returns the accepted changes
// in a stable order.
func (u DepositUpdate) apply(rec *DepositRecord) []fieldChange {
	var changes []fieldChange

	if u.TargetAmount != nil && *u.TargetAmount != rec.TargetAmount {
		changes = append(changes, fieldChange{"targetAmount", rec.TargetAmount.String(), u.TargetAmount.String()})
		rec.TargetAmount = *u.TargetAmount
	}
	str := func(field string, dst *string, v *string) {
		if v != nil && *v != *dst {
			changes = append(changes, fieldChange{field, *dst, *v})
			*dst = *v
		}
	}
	str("payerName", &rec.Payer.Name, u.PayerName)
	str("payerPhone", &rec.Payer.Phone, u.PayerPhone)
	str("customerId", &rec.Linkage.CustomerID, u.CustomerID)
	str("contractorId", &rec.Linkage.ContractorID, u.ContractorID)
	str("contractId", &rec.Linkage.ContractID, u.ContractID)

	return changes
}

// auditMemo renders changes as one line for humans. Nothing parses it.
func auditMemo(changes []fieldChange) string {
	parts := make([]string, 0, len(changes))
	for _, c := range changes {
		parts = append(parts, fmt.Sprintf("%s: %s -> %s", c.field, display(c.from), display(c.to)))
	}
	return "updated " + strings.Join(parts, "; ")
}

func display(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
