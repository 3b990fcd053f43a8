/*
deposit.go - DepositRecord operations

PURPOSE:
  Owns the current state of deposit obligations. Every mutation happens in
  one store transaction together with the history entry that explains it:

    create          first payment intake (or dedup-merge into an existing record)
    update          field changes, audited as a zero-amount entry
    softDelete      terminal DELETED entry, record kept
    registerPayment installment against the room's configured deposit
    recordReturn    cash handed back outside the refund workflow

FLOW (registerPayment):
  1. Validate amount and look up the room (before any write)
  2. Begin transaction, lock the room's deposit unit
  3. Find (or open) the record for the scope, row-locked
  4. prior := SumAccepted(scope)
  5. Resolve(target, prior, amount)
  6. Persist target and status, append history entry, commit

SEE ALSO:
  - resolver.go: status rules
  - history.go: the ledger every status is derived from
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/likeweb3125/newapi-dokliplife-sub001/metrics"
	"go.uber.org/zap"
)

// =============================================================================
// OPTIONS
// =============================================================================

type options struct {
	clock  Clock
	logger *zap.Logger
}

// Option configures a DepositLedger or RefundLedger.
type Option func(*options)

// WithClock overrides the time source.
func WithClock(c Clock) Option { return func(o *options) { o.clock = c } }

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

func buildOptions(opts []Option) options {
	o := options{clock: SystemClock, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// observe records the outcome of op in metrics and returns err unchanged.
func observe(op string, err error) error {
	result := "ok"
	if err != nil {
		result = string(KindOf(err))
	}
	metrics.ObserveOperation(op, result)
	return err
}

// =============================================================================
// REQUESTS AND RESULTS
// =============================================================================

// CreateDepositRequest is the input of CreateDeposit.
type CreateDepositRequest struct {
	TargetAmount Won
	Linkage      Linkage
	Payer        Payer
	OccurredAt   time.Time // zero = now
	Actor        string
	Memo         string
}

// CreateDepositResult reports the record that now holds the deposit.
// Updated is true when an existing record absorbed the request.
type CreateDepositResult struct {
	ID      string
	Updated bool
	Status  DepositStatus
	Unpaid  Won
}

// PaymentRequest is the input of RegisterPayment.
type PaymentRequest struct {
	RoomID     string
	Amount     Won
	ContractID string
	PayerName  string
	OccurredAt time.Time // zero = now
	Actor      string
	Memo       string
}

// PaymentResult is the outcome of one installment.
type PaymentResult struct {
	DepositRecordID string
	HistoryEntryID  string
	Status          DepositStatus
	TotalAccepted   Won
	Unpaid          Won
}

// DepositView is a record with its full history.
type DepositView struct {
	Record        DepositRecord
	History       []HistoryEntry // newest first
	TotalAccepted Won
	Unpaid        Won
}

// =============================================================================
// DEPOSIT LEDGER
// =============================================================================

type DepositLedger struct {
	store   Store
	dir     Directory
	history *History
	clock   Clock
	log     *zap.Logger
}

func NewDepositLedger(store Store, dir Directory, opts ...Option) *DepositLedger {
	o := buildOptions(opts)
	return &DepositLedger{
		store:   store,
		dir:     dir,
		history: NewHistory(store),
		clock:   o.clock,
		log:     o.logger.Named("deposit"),
	}
}

// History exposes the history reader.
func (l *DepositLedger) History() *History { return l.history }

// CreateDeposit records the first payment of a deposit. The full target
// amount is treated as paid. A second request for the same property, room,
// payer name and phone updates the existing record's target instead.
func (l *DepositLedger) CreateDeposit(ctx context.Context, req CreateDepositRequest) (CreateDepositResult, error) {
	res, err := l.createDeposit(ctx, req)
	return res, observe("create_deposit", err)
}

func (l *DepositLedger) createDeposit(ctx context.Context, req CreateDepositRequest) (CreateDepositResult, error) {
	if req.TargetAmount <= 0 {
		return CreateDepositResult{}, invalid("targetAmount", "must be positive, got %v", req.TargetAmount)
	}
	if req.Linkage.PropertyID == "" {
		return CreateDepositResult{}, invalid("propertyId", "is required")
	}
	if req.Linkage.RoomID == "" {
		return CreateDepositResult{}, invalid("roomId", "is required")
	}
	if err := l.validateLinkage(ctx, req.Linkage); err != nil {
		return CreateDepositResult{}, err
	}

	var out CreateDepositResult
	err := l.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.Lock(ctx, DepositLockKey(req.Linkage.RoomID)); err != nil {
			return err
		}
		now := l.clock.Now()

		identity := DepositIdentity{
			PropertyID: req.Linkage.PropertyID,
			RoomID:     req.Linkage.RoomID,
			PayerName:  req.Payer.Name,
			PayerPhone: req.Payer.Phone,
		}
		existing, err := tx.FindActiveDeposit(ctx, identity)
		if err != nil {
			return err
		}
		if existing != nil {
			return l.mergeDuplicate(ctx, tx, *existing, req, now, &out)
		}

		id, err := tx.NextID(ctx, NamespaceDeposit)
		if err != nil {
			return err
		}
		rec := DepositRecord{
			ID:           id,
			Linkage:      req.Linkage,
			TargetAmount: req.TargetAmount,
			Payer:        req.Payer,
			Status:       StatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.InsertDeposit(ctx, rec); err != nil {
			return err
		}

		prior, err := tx.SumAccepted(ctx, rec.Scope())
		if err != nil {
			return err
		}
		res := Resolve(rec.TargetAmount, prior, req.TargetAmount)
		rec.Status = res.Status
		if err := tx.UpdateDeposit(ctx, rec); err != nil {
			return err
		}
		if _, err := appendEntry(ctx, tx, entryDraft{
			record:     rec,
			kind:       KindDeposit,
			amount:     req.TargetAmount,
			status:     res.Status,
			unpaid:     res.Unpaid,
			occurredAt: req.OccurredAt,
			actor:      req.Actor,
			memo:       req.Memo,
		}, now); err != nil {
			return err
		}

		out = CreateDepositResult{ID: rec.ID, Status: res.Status, Unpaid: res.Unpaid}
		return nil
	})
	if err != nil {
		return CreateDepositResult{}, wrapStorage("create deposit", err)
	}

	if !out.Updated {
		metrics.AddAmount("deposit", int64(req.TargetAmount))
	}
	l.log.Info("deposit created",
		zap.String("deposit_id", out.ID),
		zap.Bool("updated", out.Updated),
		zap.String("room_id", req.Linkage.RoomID),
		zap.Int64("target_amount", int64(req.TargetAmount)),
		zap.String("status", string(out.Status)),
		zap.Int64("unpaid", int64(out.Unpaid)),
		zap.String("actor", req.Actor),
	)
	return out, nil
}

// mergeDuplicate applies a repeated create to the record that already holds
// the identity. Only the target amount changes; the status is resolved
// again against it.
func (l *DepositLedger) mergeDuplicate(ctx context.Context, tx Tx, rec DepositRecord, req CreateDepositRequest, now time.Time, out *CreateDepositResult) error {
	target := req.TargetAmount
	changes := DepositUpdate{TargetAmount: &target}.apply(&rec)

	total, err := tx.SumAccepted(ctx, rec.Scope())
	if err != nil {
		return err
	}
	res := Resolve(rec.TargetAmount, total, 0)
	unpaid := res.Unpaid

	if len(changes) > 0 {
		rec.Status = res.Status
		rec.UpdatedAt = now
		if err := tx.UpdateDeposit(ctx, rec); err != nil {
			return err
		}
		if _, err := appendEntry(ctx, tx, entryDraft{
			record: rec,
			kind:   KindDeposit,
			status: rec.Status,
			unpaid: unpaid,
			actor:  req.Actor,
			memo:   auditMemo(changes),
		}, now); err != nil {
			return err
		}
	}

	*out = CreateDepositResult{ID: rec.ID, Updated: true, Status: res.Status, Unpaid: unpaid}
	return nil
}

func (l *DepositLedger) validateLinkage(ctx context.Context, link Linkage) error {
	ok, err := l.dir.PropertyExists(ctx, link.PropertyID)
	if err != nil {
		return wrapStorage("lookup property", err)
	}
	if !ok {
		return &NotFoundError{Entity: "property", ID: link.PropertyID}
	}

	room, err := l.dir.GetRoom(ctx, link.RoomID)
	if err != nil {
		return wrapStorage("lookup room", err)
	}
	if room == nil {
		return &NotFoundError{Entity: "room", ID: link.RoomID}
	}
	if room.PropertyID != link.PropertyID {
		return invalid("roomId", "room %s belongs to property %s, not %s", link.RoomID, room.PropertyID, link.PropertyID)
	}

	return l.validateCustomer(ctx, link.CustomerID)
}

func (l *DepositLedger) validateCustomer(ctx context.Context, customerID string) error {
	if customerID == "" {
		return nil
	}
	ok, err := l.dir.CustomerExists(ctx, customerID)
	if err != nil {
		return wrapStorage("lookup customer", err)
	}
	if !ok {
		return &NotFoundError{Entity: "customer", ID: customerID}
	}
	return nil
}

// UpdateDeposit persists the changed fields of u and appends one audit
// entry summarizing them. The status is carried over unless the target
// changed, in which case it is resolved again. An update that changes
// nothing writes nothing. Setting or clearing the contract of
// a record that already accepted payments is a Conflict.
func (l *DepositLedger) UpdateDeposit(ctx context.Context, id string, u DepositUpdate, actor string) error {
	return observe("update_deposit", l.updateDeposit(ctx, id, u, actor))
}

func (l *DepositLedger) updateDeposit(ctx context.Context, id string, u DepositUpdate, actor string) error {
	if u.TargetAmount != nil && *u.TargetAmount <= 0 {
		return invalid("targetAmount", "must be positive, got %v", *u.TargetAmount)
	}
	if u.CustomerID != nil {
		if err := l.validateCustomer(ctx, *u.CustomerID); err != nil {
			return err
		}
	}

	var changes []fieldChange
	err := l.store.WithTx(ctx, func(tx Tx) error {
		rec, err := l.lockRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		if rec.Deleted() {
			return &ConflictError{Message: "deposit " + id + " is deleted"}
		}
		before := rec.Identity()
		fromScope := rec.Scope()
		changes = u.apply(rec)
		if len(changes) == 0 {
			return nil
		}

		if rec.Scope() != fromScope {
			if err := checkScopeMove(ctx, tx, rec.ID, fromScope, rec.Scope()); err != nil {
				return err
			}
		}

		if after := rec.Identity(); after != before {
			dup, err := tx.FindActiveDeposit(ctx, after)
			if err != nil {
				return err
			}
			if dup != nil && dup.ID != rec.ID {
				return &ConflictError{Message: "deposit " + dup.ID + " already holds this payer for the room"}
			}
		}

		total, err := tx.SumAccepted(ctx, rec.Scope())
		if err != nil {
			return err
		}
		res := Resolve(rec.TargetAmount, total, 0)
		if u.TargetAmount != nil {
			rec.Status = res.Status
		}

		now := l.clock.Now()
		rec.UpdatedAt = now
		if err := tx.UpdateDeposit(ctx, *rec); err != nil {
			return err
		}
		_, err = appendEntry(ctx, tx, entryDraft{
			record: *rec,
			kind:   KindDeposit,
			status: rec.Status,
			unpaid: res.Unpaid,
			actor:  actor,
			memo:   auditMemo(changes),
		}, now)
		return err
	})
	if err != nil {
		return wrapStorage("update deposit", err)
	}

	if len(changes) > 0 {
		l.log.Info("deposit updated",
			zap.String("deposit_id", id),
			zap.String("memo", auditMemo(changes)),
			zap.String("actor", actor),
		)
	}
	return nil
}

// checkScopeMove rejects moving a record to another scope while payments
// it accepted still count toward the old one. Those entries are immutable,
// so the move would leave them behind.
func checkScopeMove(ctx context.Context, tx Tx, id string, from, to ScopeKey) error {
	entries, err := tx.ListHistory(ctx, HistoryFilter{DepositRecordID: id})
	if err != nil {
		return err
	}
	if paid := SumAccepted(entries, from); paid > 0 {
		return &ConflictError{Message: fmt.Sprintf(
			"deposit %s has %v won accepted under %s; it cannot move to %s", id, paid, from, to)}
	}
	return nil
}

// SoftDeleteDeposit marks the record DELETED and appends a terminal entry.
// Deleting an already deleted record is a no-op.
func (l *DepositLedger) SoftDeleteDeposit(ctx context.Context, id string, actor string) error {
	return observe("delete_deposit", l.softDeleteDeposit(ctx, id, actor))
}

func (l *DepositLedger) softDeleteDeposit(ctx context.Context, id string, actor string) error {
	err := l.store.WithTx(ctx, func(tx Tx) error {
		rec, err := l.lockRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		if rec.Deleted() {
			return nil
		}

		now := l.clock.Now()
		rec.Status = StatusDeleted
		rec.DeletedAt = &now
		rec.UpdatedAt = now
		if err := tx.UpdateDeposit(ctx, *rec); err != nil {
			return err
		}
		total, err := tx.SumAccepted(ctx, rec.Scope())
		if err != nil {
			return err
		}
		_, err = appendEntry(ctx, tx, entryDraft{
			record: *rec,
			kind:   KindDeposit,
			status: StatusDeleted,
			unpaid: Resolve(rec.TargetAmount, total, 0).Unpaid,
			actor:  actor,
			memo:   "deleted",
		}, now)
		return err
	})
	if err != nil {
		return wrapStorage("delete deposit", err)
	}

	l.log.Info("deposit deleted", zap.String("deposit_id", id), zap.String("actor", actor))
	return nil
}

// RegisterPayment records one installment against the room's configured
// deposit, which also becomes the target of the record it lands on. Every
// call is a distinct cash event; callers dedup if they need to. If the
// scope has no open record yet, one is opened for the room.
func (l *DepositLedger) RegisterPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	res, err := l.registerPayment(ctx, req)
	return res, observe("register_payment", err)
}

func (l *DepositLedger) registerPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	if req.RoomID == "" {
		return PaymentResult{}, invalid("roomId", "is required")
	}
	if req.Amount <= 0 {
		return PaymentResult{}, invalid("amount", "must be positive, got %v", req.Amount)
	}
	room, err := l.dir.GetRoom(ctx, req.RoomID)
	if err != nil {
		return PaymentResult{}, wrapStorage("lookup room", err)
	}
	if room == nil {
		return PaymentResult{}, &NotFoundError{Entity: "room", ID: req.RoomID}
	}
	target := room.ConfiguredDepositAmount
	scope := ScopeFor(req.RoomID, req.ContractID)

	var out PaymentResult
	err = l.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.Lock(ctx, DepositLockKey(req.RoomID)); err != nil {
			return err
		}
		now := l.clock.Now()

		rec, err := tx.FindLatestDeposit(ctx, scope)
		if err != nil {
			return err
		}
		opened := rec == nil
		if opened {
			id, err := tx.NextID(ctx, NamespaceDeposit)
			if err != nil {
				return err
			}
			rec = &DepositRecord{
				ID: id,
				Linkage: Linkage{
					RoomID:     req.RoomID,
					PropertyID: room.PropertyID,
					ContractID: req.ContractID,
				},
				TargetAmount: target,
				Payer:        Payer{Name: req.PayerName},
				Status:       StatusPending,
				CreatedAt:    now,
			}
		}

		prior, err := tx.SumAccepted(ctx, scope)
		if err != nil {
			return err
		}
		res := Resolve(target, prior, req.Amount)

		rec.TargetAmount = target
		rec.Status = res.Status
		rec.UpdatedAt = now
		if opened {
			err = tx.InsertDeposit(ctx, *rec)
		} else {
			err = tx.UpdateDeposit(ctx, *rec)
		}
		if err != nil {
			return err
		}

		entry, err := appendEntry(ctx, tx, entryDraft{
			record:     *rec,
			kind:       KindDeposit,
			amount:     req.Amount,
			status:     res.Status,
			unpaid:     res.Unpaid,
			payerName:  req.PayerName,
			occurredAt: req.OccurredAt,
			actor:      req.Actor,
			memo:       req.Memo,
		}, now)
		if err != nil {
			return err
		}

		out = PaymentResult{
			DepositRecordID: rec.ID,
			HistoryEntryID:  entry.ID,
			Status:          res.Status,
			TotalAccepted:   res.CumulativeAfter,
			Unpaid:          res.Unpaid,
		}
		return nil
	})
	if err != nil {
		return PaymentResult{}, wrapStorage("register payment", err)
	}

	metrics.AddAmount("deposit", int64(req.Amount))
	l.log.Info("payment registered",
		zap.String("deposit_id", out.DepositRecordID),
		zap.String("scope", scope.String()),
		zap.Int64("amount", int64(req.Amount)),
		zap.Int64("target_amount", int64(target)),
		zap.Int64("total_accepted", int64(out.TotalAccepted)),
		zap.String("status", string(out.Status)),
		zap.Int64("unpaid", int64(out.Unpaid)),
		zap.String("actor", req.Actor),
	)
	return out, nil
}

// RecordReturn appends a RETURN entry for cash handed back to the payer.
// RETURN entries never count toward the accepted sum.
func (l *DepositLedger) RecordReturn(ctx context.Context, id string, amount Won, actor, memo string) (HistoryEntry, error) {
	entry, err := l.recordReturn(ctx, id, amount, actor, memo)
	return entry, observe("record_return", err)
}

func (l *DepositLedger) recordReturn(ctx context.Context, id string, amount Won, actor, memo string) (HistoryEntry, error) {
	if amount <= 0 {
		return HistoryEntry{}, invalid("amount", "must be positive, got %v", amount)
	}

	var entry HistoryEntry
	err := l.store.WithTx(ctx, func(tx Tx) error {
		rec, err := l.lockRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		if rec.Deleted() {
			return &ConflictError{Message: "deposit " + id + " is deleted"}
		}
		total, err := tx.SumAccepted(ctx, rec.Scope())
		if err != nil {
			return err
		}
		res := Resolve(rec.TargetAmount, total, 0)
		entry, err = appendEntry(ctx, tx, entryDraft{
			record: *rec,
			kind:   KindReturn,
			amount: amount,
			status: res.Status,
			unpaid: res.Unpaid,
			actor:  actor,
			memo:   memo,
		}, l.clock.Now())
		return err
	})
	if err != nil {
		return HistoryEntry{}, wrapStorage("record return", err)
	}

	metrics.AddAmount("return", int64(amount))
	l.log.Info("deposit returned",
		zap.String("deposit_id", id),
		zap.Int64("amount", int64(amount)),
		zap.String("actor", actor),
	)
	return entry, nil
}

// lockRecord takes the deposit unit lock of the record's room and a row
// lock on the record itself.
func (l *DepositLedger) lockRecord(ctx context.Context, tx Tx, id string) (*DepositRecord, error) {
	peek, err := tx.GetDeposit(ctx, id)
	if err != nil {
		return nil, err
	}
	if peek == nil {
		return nil, &NotFoundError{Entity: "deposit", ID: id}
	}
	if err := tx.Lock(ctx, DepositLockKey(peek.Linkage.RoomID)); err != nil {
		return nil, err
	}
	rec, err := tx.LockDeposit(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &NotFoundError{Entity: "deposit", ID: id}
	}
	return rec, nil
}

// GetDepositWithHistory returns the record, its entries newest first, the
// accepted total of its scope and what is still unpaid. Deleted records
// are returned too.
func (l *DepositLedger) GetDepositWithHistory(ctx context.Context, id string) (DepositView, error) {
	rec, err := l.store.GetDeposit(ctx, id)
	if err != nil {
		return DepositView{}, wrapStorage("get deposit", err)
	}
	if rec == nil {
		return DepositView{}, &NotFoundError{Entity: "deposit", ID: id}
	}
	entries, err := l.history.ListByScope(ctx, HistoryFilter{DepositRecordID: id})
	if err != nil {
		return DepositView{}, err
	}
	total, err := l.history.SumAccepted(ctx, rec.Scope())
	if err != nil {
		return DepositView{}, err
	}
	return DepositView{
		Record:        *rec,
		History:       entries,
		TotalAccepted: total,
		Unpaid:        Resolve(rec.TargetAmount, total, 0).Unpaid,
	}, nil
}
