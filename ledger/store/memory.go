// Package store provides an in-memory ledger.Store.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/likeweb3125/newapi-dokliplife-sub001/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every table in maps. A transaction holds the write lock for
// its whole duration, which makes every Tx.Lock trivially satisfied.
type Memory struct {
	mu sync.RWMutex
	state

	properties map[string]bool
	rooms      map[string]ledger.Room
	customers  map[string]bool
}

type state struct {
	deposits  map[string]ledger.DepositRecord
	history   []ledger.HistoryEntry // append order
	refunds   []ledger.RefundEntry  // append order
	sequences map[string]int64
}

func NewMemory() *Memory {
	return &Memory{
		state: state{
			deposits:  make(map[string]ledger.DepositRecord),
			sequences: make(map[string]int64),
		},
		properties: make(map[string]bool),
		rooms:      make(map[string]ledger.Room),
		customers:  make(map[string]bool),
	}
}

func (s state) clone() state {
	c := state{
		deposits:  make(map[string]ledger.DepositRecord, len(s.deposits)),
		history:   append([]ledger.HistoryEntry(nil), s.history...),
		refunds:   append([]ledger.RefundEntry(nil), s.refunds...),
		sequences: make(map[string]int64, len(s.sequences)),
	}
	for k, v := range s.deposits {
		c.deposits[k] = v
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	return c
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) SaveProperty(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.properties[id] = true
}

func (m *Memory) SaveRoom(room ledger.Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room.ID] = room
}

func (m *Memory) SaveCustomer(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[id] = true
}

func (m *Memory) GetRoom(_ context.Context, roomID string) (*ledger.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) PropertyExists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.properties[id], nil
}

func (m *Memory) CustomerExists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.customers[id], nil
}

// =============================================================================
// READER
// =============================================================================

func (m *Memory) GetDeposit(ctx context.Context, id string) (*ledger.DepositRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getDeposit(id), nil
}

func (m *Memory) ListHistory(ctx context.Context, f ledger.HistoryFilter) ([]ledger.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listHistory(f), nil
}

func (m *Memory) SumAccepted(ctx context.Context, scope ledger.ScopeKey) (ledger.Won, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ledger.SumAccepted(m.state.history, scope), nil
}

func (m *Memory) ListRefunds(ctx context.Context, contractID string, includeDeleted bool) ([]ledger.RefundEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listRefunds(contractID, includeDeleted), nil
}

func (m *Memory) GetRefund(ctx context.Context, id string) (*ledger.RefundEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getRefund(id), nil
}

func (s *state) getDeposit(id string) *ledger.DepositRecord {
	rec, ok := s.deposits[id]
	if !ok {
		return nil
	}
	return &rec
}

func (s *state) listHistory(f ledger.HistoryFilter) []ledger.HistoryEntry {
	var out []ledger.HistoryEntry
	for i := len(s.history) - 1; i >= 0; i-- {
		e := s.history[i]
		if !ledger.MatchesFilter(e, f) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

func (s *state) listRefunds(contractID string, includeDeleted bool) []ledger.RefundEntry {
	var out []ledger.RefundEntry
	for i := len(s.refunds) - 1; i >= 0; i-- {
		e := s.refunds[i]
		if e.ContractID != contractID || (e.Deleted() && !includeDeleted) {
			continue
		}
		e.LineItems = append([]ledger.LineItem(nil), e.LineItems...)
		out = append(out, e)
	}
	return out
}

func (s *state) getRefund(id string) *ledger.RefundEntry {
	for _, e := range s.refunds {
		if e.ID == id {
			return &e
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// Simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&txView{parent: m}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

type txView struct {
	parent *Memory
}

func (tv *txView) GetDeposit(_ context.Context, id string) (*ledger.DepositRecord, error) {
	return tv.parent.state.getDeposit(id), nil
}

func (tv *txView) ListHistory(_ context.Context, f ledger.HistoryFilter) ([]ledger.HistoryEntry, error) {
	return tv.parent.state.listHistory(f), nil
}

func (tv *txView) SumAccepted(_ context.Context, scope ledger.ScopeKey) (ledger.Won, error) {
	return ledger.SumAccepted(tv.parent.state.history, scope), nil
}

func (tv *txView) ListRefunds(_ context.Context, contractID string, includeDeleted bool) ([]ledger.RefundEntry, error) {
	return tv.parent.state.listRefunds(contractID, includeDeleted), nil
}

func (tv *txView) GetRefund(_ context.Context, id string) (*ledger.RefundEntry, error) {
	return tv.parent.state.getRefund(id), nil
}

// Lock is a no-op: the transaction already holds the store's write lock.
func (tv *txView) Lock(context.Context, string) error { return nil }

func (tv *txView) NextID(_ context.Context, ns ledger.Namespace) (string, error) {
	s := &tv.parent.state
	last, ok := s.sequences[ns.Name]
	if !ok {
		last = ns.MaxSuffix(s.idsOf(ns))
	}
	last++
	s.sequences[ns.Name] = last
	return ns.Format(last), nil
}

func (s *state) idsOf(ns ledger.Namespace) []string {
	var ids []string
	switch ns.Name {
	case ledger.NamespaceDeposit.Name:
		for id := range s.deposits {
			ids = append(ids, id)
		}
	case ledger.NamespaceHistory.Name:
		for _, e := range s.history {
			ids = append(ids, e.ID)
		}
	case ledger.NamespaceRefund.Name:
		for _, e := range s.refunds {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

func (tv *txView) LockDeposit(_ context.Context, id string) (*ledger.DepositRecord, error) {
	return tv.parent.state.getDeposit(id), nil
}

func (tv *txView) FindActiveDeposit(_ context.Context, identity ledger.DepositIdentity) (*ledger.DepositRecord, error) {
	for _, rec := range tv.parent.state.deposits {
		if !rec.Deleted() && rec.Identity() == identity {
			return &rec, nil
		}
	}
	return nil, nil
}

func (tv *txView) FindLatestDeposit(_ context.Context, scope ledger.ScopeKey) (*ledger.DepositRecord, error) {
	var matches []ledger.DepositRecord
	for _, rec := range tv.parent.state.deposits {
		if !rec.Deleted() && rec.Scope() == scope {
			matches = append(matches, rec)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID > matches[j].ID })
	return &matches[0], nil
}

func (tv *txView) InsertDeposit(_ context.Context, rec ledger.DepositRecord) error {
	s := &tv.parent.state
	if _, ok := s.deposits[rec.ID]; ok {
		return errDuplicateID(rec.ID)
	}
	s.deposits[rec.ID] = rec
	return nil
}

func (tv *txView) UpdateDeposit(_ context.Context, rec ledger.DepositRecord) error {
	s := &tv.parent.state
	if _, ok := s.deposits[rec.ID]; !ok {
		return errMissingRow(rec.ID)
	}
	s.deposits[rec.ID] = rec
	return nil
}

func (tv *txView) AppendHistory(_ context.Context, entry ledger.HistoryEntry) error {
	s := &tv.parent.state
	s.history = append(s.history, entry)
	return nil
}

func (tv *txView) InsertRefund(_ context.Context, entry ledger.RefundEntry) error {
	s := &tv.parent.state
	entry.LineItems = append([]ledger.LineItem(nil), entry.LineItems...)
	s.refunds = append(s.refunds, entry)
	return nil
}

func (tv *txView) MarkRefundDeleted(_ context.Context, id string, at time.Time) error {
	s := &tv.parent.state
	for i := range s.refunds {
		if s.refunds[i].ID == id {
			s.refunds[i].DeletedAt = &at
			return nil
		}
	}
	return errMissingRow(id)
}

func errDuplicateID(id string) error { return fmt.Errorf("memory store: duplicate id %s", id) }
func errMissingRow(id string) error  { return fmt.Errorf("memory store: no row with id %s", id) }
