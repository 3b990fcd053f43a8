/*
resolver.go - Pure deposit status derivation

PURPOSE:
  Derives payment status and the unpaid remainder from the target amount,
  the sum of previously accepted payments and the new payment. No I/O.

RULES:
  cumulativeAfter = prior + new
  status          = COMPLETED if target <= 0 or cumulativeAfter >= target
                    PARTIAL   otherwise
  unpaid          = max(0, target - cumulativeAfter)

  The prior sum always comes from History.SumAccepted over the scope, never
  from a stored status. Resolving [a, b] one after another gives the same
  final result as resolving a+b once.

EXAMPLE:
  target 500000, prior 0,      new 200000 -> PARTIAL,   unpaid 300000
  target 500000, prior 200000, new 300000 -> COMPLETED, unpaid 0
*/
package ledger

// Resolution is the resolver's output.
type Resolution struct {
	Status          DepositStatus
	CumulativeAfter Won
	Unpaid          Won
}

// Resolve computes the status after adding amount to prior.
func Resolve(target, prior, amount Won) Resolution {
	after := prior + amount

	status := StatusPartial
	if target <= 0 || after >= target {
		status = StatusCompleted
	}

	unpaid := target - after
	if unpaid < 0 {
		unpaid = 0
	}

	return Resolution{Status: status, CumulativeAfter: after, Unpaid: unpaid}
}
