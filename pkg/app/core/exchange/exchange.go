// Package exchange implements the escrowed sell-order exchange: order
// lifecycle, custody bookkeeping, multi-leg fill settlement, fee accrual and
// fill history.
//
// Every mutating operation takes the caller explicitly and runs under one
// writer lock, so operations are totally ordered. An operation either
// completes all of its transfers and state changes or leaves the state as it
// found it.
package exchange

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const (
	DefaultFeePercent       = 1
	DefaultMaxOrdersPerUser = 100
)

// Config holds the fixed parameters of an exchange instance
type Config struct {
	Admin            common.Address // initial admin, ignored when restoring a snapshot
	Custody          common.Address // account holding escrowed credits and in-flight payments
	CommunityFund    common.Address // receives the fee of every fill
	Treasury         common.Address // source of fee withdrawals, defaults to CommunityFund
	FeePercent       int64          // whole percent of each fill's cost
	MaxOrdersPerUser int            // cap on orders authored per seller
}

func (c *Config) validate(restoring bool) error {
	if c.FeePercent < 0 || c.FeePercent > 100 {
		return fmt.Errorf("%w: fee percent %d outside 0..100", ErrFeeTooHigh, c.FeePercent)
	}
	if c.MaxOrdersPerUser <= 0 {
		return fmt.Errorf("%w: max orders per user must be positive, got %d", ErrInvalidAmount, c.MaxOrdersPerUser)
	}
	if c.Custody == (common.Address{}) {
		return fmt.Errorf("%w: custody address not set", ErrInvalidRecipient)
	}
	if c.CommunityFund == (common.Address{}) {
		return fmt.Errorf("%w: community fund address not set", ErrInvalidRecipient)
	}
	if !restoring && c.Admin == (common.Address{}) {
		return fmt.Errorf("%w: admin address not set", ErrInvalidRecipient)
	}
	if c.Treasury == (common.Address{}) {
		c.Treasury = c.CommunityFund
	}
	return nil
}

// Clock supplies the creation and fill timestamps
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Journal durably records the state delta of each successful operation.
// Commit must be all-or-nothing.
type Journal interface {
	Commit(cs *Changeset) error
}

// Changeset is the complete state delta of one operation
type Changeset struct {
	Meta         Meta
	Orders       []Order
	EscrowPut    []EscrowRecord
	EscrowDelete []uint64
	UserOrders   map[common.Address][]uint64 // full replacement lists
	Fills        []FillRecord
	FillSeq      map[uint64]uint64
	Balances     []Balance // ledger rows moved by the operation's transfers, when the ledger stages them
}

type Option func(*Exchange)

func WithClock(c Clock) Option {
	return func(x *Exchange) { x.clock = c }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(x *Exchange) { x.logger = l }
}

func WithJournal(j Journal) Option {
	return func(x *Exchange) { x.journal = j }
}

// WithSnapshot restores state persisted by a previous run
func WithSnapshot(s *Snapshot) Option {
	return func(x *Exchange) { x.restore = s }
}

// WithEventHandler registers fn to receive events after each successful
// operation. fn runs outside the exchange lock, so concurrent operations
// may deliver their events out of commit order; Event.Seq restores it.
func WithEventHandler(fn func(Event)) Option {
	return func(x *Exchange) { x.onEvent = fn }
}

// Exchange is the shared contract state plus the operations over it
type Exchange struct {
	mu sync.RWMutex

	cfg     Config
	tokens  TokenLedger
	native  NativeLedger
	clock   Clock
	logger  *zap.SugaredLogger
	journal Journal
	onEvent func(Event)
	restore *Snapshot

	meta       Meta
	orders     map[uint64]*Order
	escrow     map[uint64]*EscrowRecord
	userOrders map[common.Address][]uint64
	history    *HistoryLog
	eventSeq   uint64
}

// New creates an exchange over the given ledgers. tokens and native may be
// the same value.
func New(cfg Config, tokens TokenLedger, native NativeLedger, opts ...Option) (*Exchange, error) {
	if tokens == nil || native == nil {
		return nil, fmt.Errorf("exchange: ledgers are required")
	}

	x := &Exchange{
		tokens:     tokens,
		native:     native,
		clock:      systemClock{},
		logger:     zap.NewNop().Sugar(),
		orders:     make(map[uint64]*Order),
		escrow:     make(map[uint64]*EscrowRecord),
		userOrders: make(map[common.Address][]uint64),
		history:    newHistoryLog(),
	}
	for _, opt := range opts {
		opt(x)
	}

	if err := cfg.validate(x.restore != nil); err != nil {
		return nil, err
	}
	x.cfg = cfg

	if x.restore != nil {
		if err := x.restoreSnapshot(x.restore); err != nil {
			return nil, err
		}
		x.restore = nil
	} else {
		x.meta = Meta{Admin: cfg.Admin, NextOrderID: 1}
	}

	x.logger.Infow("exchange_ready",
		"admin", x.meta.Admin.Hex(),
		"custody", cfg.Custody.Hex(),
		"community_fund", cfg.CommunityFund.Hex(),
		"fee_percent", cfg.FeePercent,
		"max_orders_per_user", cfg.MaxOrdersPerUser,
		"next_order_id", x.meta.NextOrderID)
	return x, nil
}

// Config returns the parameters the exchange runs with
func (x *Exchange) Config() Config {
	return x.cfg
}

func (x *Exchange) restoreSnapshot(s *Snapshot) error {
	if s.Meta.NextOrderID == 0 {
		return fmt.Errorf("exchange: snapshot has no order counter")
	}
	x.meta = s.Meta
	for i := range s.Orders {
		o := s.Orders[i]
		x.orders[o.ID] = &o
	}
	for i := range s.Escrow {
		e := s.Escrow[i]
		x.escrow[e.OrderID] = &e
	}
	for user, ids := range s.UserOrders {
		x.userOrders[user] = append([]uint64(nil), ids...)
	}
	for _, f := range s.Fills {
		x.history.records[fillKey{f.OrderID, f.Seq}] = f
	}
	for id, seq := range s.FillSeq {
		x.history.seq[id] = seq
	}

	// Escrow exists iff the order is active, with the same quantity
	for id, o := range x.orders {
		e, ok := x.escrow[id]
		if o.Active != ok {
			return fmt.Errorf("exchange: snapshot order %d active=%v but escrow present=%v", id, o.Active, ok)
		}
		if ok && e.EscrowedAmount != o.RemainingAmount {
			return fmt.Errorf("exchange: snapshot order %d escrow %d != remaining %d", id, e.EscrowedAmount, o.RemainingAmount)
		}
	}
	return nil
}

func (x *Exchange) now() int64 {
	return x.clock.Now().UnixMilli()
}

// changeset starts a delta from the current scalars
func (x *Exchange) changeset() *Changeset {
	return &Changeset{Meta: x.meta}
}

// persist hands cs to the journal together with the ledger rows staged by
// the executed legs. If the journal refuses it the executed legs are
// reversed so the ledgers match the unchanged state.
func (x *Exchange) persist(cs *Changeset, executed []leg) error {
	if x.journal == nil {
		return nil
	}
	cs.Balances = x.stagedBalances()
	if err := x.journal.Commit(cs); err != nil {
		x.logger.Errorw("journal_commit_failed", "err", err)
		if cerr := x.reverseLegs(executed); cerr != nil {
			return fmt.Errorf("journal commit: %w (compensation failed: %v)", err, cerr)
		}
		return fmt.Errorf("journal commit: %w", err)
	}
	return nil
}

// apply installs a committed changeset in memory. Caller holds x.mu.
func (x *Exchange) apply(cs *Changeset) {
	x.meta = cs.Meta
	for i := range cs.Orders {
		o := cs.Orders[i]
		x.orders[o.ID] = &o
	}
	for i := range cs.EscrowPut {
		e := cs.EscrowPut[i]
		x.escrow[e.OrderID] = &e
	}
	for _, id := range cs.EscrowDelete {
		delete(x.escrow, id)
	}
	for user, ids := range cs.UserOrders {
		x.userOrders[user] = ids
	}
	for _, f := range cs.Fills {
		x.history.append(f)
	}
}

func (x *Exchange) emit(ev *Event) {
	if ev == nil || x.onEvent == nil {
		return
	}
	x.onEvent(*ev)
}

// Snapshot returns a deep copy of the state
func (x *Exchange) Snapshot() *Snapshot {
	x.mu.RLock()
	defer x.mu.RUnlock()

	s := &Snapshot{
		Meta:       x.meta,
		Orders:     make([]Order, 0, len(x.orders)),
		Escrow:     make([]EscrowRecord, 0, len(x.escrow)),
		UserOrders: make(map[common.Address][]uint64, len(x.userOrders)),
		Fills:      make([]FillRecord, 0, len(x.history.records)),
		FillSeq:    make(map[uint64]uint64, len(x.history.seq)),
	}
	for _, o := range x.orders {
		s.Orders = append(s.Orders, *o)
	}
	sort.Slice(s.Orders, func(i, j int) bool { return s.Orders[i].ID < s.Orders[j].ID })
	for _, e := range x.escrow {
		s.Escrow = append(s.Escrow, *e)
	}
	sort.Slice(s.Escrow, func(i, j int) bool { return s.Escrow[i].OrderID < s.Escrow[j].OrderID })
	for user, ids := range x.userOrders {
		s.UserOrders[user] = append([]uint64(nil), ids...)
	}
	for _, f := range x.history.records {
		s.Fills = append(s.Fills, f)
	}
	sort.Slice(s.Fills, func(i, j int) bool {
		if s.Fills[i].OrderID != s.Fills[j].OrderID {
			return s.Fills[i].OrderID < s.Fills[j].OrderID
		}
		return s.Fills[i].Seq < s.Fills[j].Seq
	})
	for id, seq := range x.history.seq {
		s.FillSeq[id] = seq
	}
	return s
}
