/*
sequence.go - Prefixed, zero-padded sequential identifiers

PURPOSE:
  Every ledger table has its own id namespace. Ids look like
  prefix + zeroPad(n, width), e.g. DEPO0000000001.

  Stores implement Tx.NextID against a dedicated sequence table:
    1. lock the namespace's counter row (SELECT ... FOR UPDATE or equivalent)
    2. if there is no row yet, seed it from the highest existing id
    3. increment and return

  The row lock is held until the caller's transaction commits, so two
  concurrent writers can never mint the same id. A rolled-back transaction
  leaves a gap; ids are unique and increasing, not contiguous.

LEGACY IDS:
  A stored id whose suffix is not numeric is read as 0. One malformed row
  must not stop the whole ledger.
*/
package ledger

import (
	"fmt"
	"strconv"
	"strings"
)

// Namespace describes one id sequence.
type Namespace struct {
	Name   string // sequence key, also the backing table name
	Prefix string
	Width  int
}

var (
	NamespaceDeposit = Namespace{Name: "deposit_records", Prefix: "DEPO", Width: 10}
	NamespaceHistory = Namespace{Name: "deposit_history", Prefix: "DHIS", Width: 10}
	NamespaceRefund  = Namespace{Name: "refund_entries", Prefix: "RFND", Width: 10}
)

// Namespaces lists every namespace the ledger mints ids in.
func Namespaces() []Namespace {
	return []Namespace{NamespaceDeposit, NamespaceHistory, NamespaceRefund}
}

// Format renders the n-th id of the namespace.
func (ns Namespace) Format(n int64) string {
	return fmt.Sprintf("%s%0*d", ns.Prefix, ns.Width, n)
}

// Parse extracts the numeric suffix of id. Ids from another namespace or
// with a malformed suffix parse as 0.
func (ns Namespace) Parse(id string) int64 {
	if !strings.HasPrefix(id, ns.Prefix) {
		return 0
	}
	n, err := strconv.ParseInt(id[len(ns.Prefix):], 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// MaxSuffix returns the highest numeric suffix among ids. Used to seed a
// sequence from rows that predate the sequence table.
func (ns Namespace) MaxSuffix(ids []string) int64 {
	var max int64
	for _, id := range ids {
		if n := ns.Parse(id); n > max {
			max = n
		}
	}
	return max
}
