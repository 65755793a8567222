// Package escrow is the block-driven state machine of the node. It admits
// signed transactions into the mempool, executes blocks of them against the
// exchange at the block's timestamp, and keeps per-sender nonces, receipts
// and the application hash.
package escrow

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/creditswap/pkg/abci"
	"github.com/uhyunpark/creditswap/pkg/app/core/exchange"
	"github.com/uhyunpark/creditswap/pkg/app/core/mempool"
	"github.com/uhyunpark/creditswap/pkg/app/core/transaction"
	"github.com/uhyunpark/creditswap/pkg/metrics"
	"github.com/uhyunpark/creditswap/pkg/storage"
	"github.com/uhyunpark/creditswap/pkg/util"
)

const (
	DefaultMempoolSize = 10_000
	DefaultMaxReceipts = 100_000
)

var (
	ErrStaleNonce = errors.New("nonce already used")
	ErrDuplicate  = errors.New("transaction already known")
)

// ChainStore persists the chain position and sender nonces
type ChainStore interface {
	SaveChain(state storage.ChainState, nonces map[common.Address]uint64) error
	LoadChain() (storage.ChainState, map[common.Address]uint64, error)
}

type Option func(*App)

func WithStore(s ChainStore) Option {
	return func(a *App) { a.store = s }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(a *App) { a.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

func WithMempool(m *mempool.Mempool) Option {
	return func(a *App) { a.mempool = m }
}

// WithMaxReceipts bounds the receipt log; the oldest receipts are dropped
// first
func WithMaxReceipts(n int) Option {
	return func(a *App) { a.maxReceipts = n }
}

// WithReceiptHandler registers fn to receive each receipt after its block
// is finalized
func WithReceiptHandler(fn func(Receipt)) Option {
	return func(a *App) { a.onReceipt = fn }
}

type App struct {
	mu sync.Mutex

	exchange *exchange.Exchange
	verifier *transaction.Verifier
	clock    *util.BlockClock
	mempool  *mempool.Mempool
	store    ChainStore
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics

	nonces       map[common.Address]uint64
	pending      map[common.Hash]struct{}
	receipts     map[common.Hash]*Receipt
	receiptOrder []common.Hash
	maxReceipts  int
	onReceipt    func(Receipt)

	height   int64
	lastTime int64
	lastHash abci.Hash
}

var _ abci.Application = (*App)(nil)

// NewApp builds the application over x. clock must be the clock x was
// created with, so order and fill timestamps follow block time.
func NewApp(x *exchange.Exchange, verifier *transaction.Verifier, clock *util.BlockClock, opts ...Option) (*App, error) {
	if x == nil || verifier == nil || clock == nil {
		return nil, fmt.Errorf("escrow: exchange, verifier and clock are required")
	}
	a := &App{
		exchange:    x,
		verifier:    verifier,
		clock:       clock,
		logger:      zap.NewNop().Sugar(),
		nonces:      make(map[common.Address]uint64),
		pending:     make(map[common.Hash]struct{}),
		receipts:    make(map[common.Hash]*Receipt),
		maxReceipts: DefaultMaxReceipts,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.mempool == nil {
		a.mempool = mempool.NewMempool(DefaultMempoolSize)
	}

	if a.store != nil {
		state, nonces, err := a.store.LoadChain()
		if err != nil {
			return nil, fmt.Errorf("escrow: load chain state: %w", err)
		}
		a.height = int64(state.Height)
		a.lastTime = state.Time
		copy(a.lastHash[:], state.AppHash)
		for addr, n := range nonces {
			a.nonces[addr] = n
		}
		if state.Time > 0 {
			a.clock.Set(time.UnixMilli(state.Time))
		}
	}

	a.logger.Infow("app_ready", "height", a.height, "senders", len(a.nonces))
	return a, nil
}

// SubmitTx admits a raw signed transaction into the mempool and returns its
// hash. Structure, signature and nonce freshness are checked here; the
// exchange rules are only applied when the transaction executes.
func (a *App) SubmitTx(raw []byte) (common.Hash, error) {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return common.Hash{}, err
	}
	sender, err := a.verifier.Verify(tx)
	if err != nil {
		return common.Hash{}, err
	}
	hash := tx.Hash()

	a.mu.Lock()
	defer a.mu.Unlock()

	if tx.Nonce <= a.nonces[sender] {
		return hash, fmt.Errorf("%w: nonce %d, last used %d", ErrStaleNonce, tx.Nonce, a.nonces[sender])
	}
	if _, ok := a.pending[hash]; ok {
		return hash, ErrDuplicate
	}
	if _, ok := a.receipts[hash]; ok {
		return hash, ErrDuplicate
	}
	if err := a.mempool.PushRaw(raw); err != nil {
		return hash, err
	}
	a.pending[hash] = struct{}{}
	a.metrics.SetMempoolSize(a.mempool.Len())

	a.logger.Debugw("tx_admitted", "hash", hash.Hex(), "type", tx.Type, "sender", sender.Hex(), "nonce", tx.Nonce)
	return hash, nil
}

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	txs := a.mempool.SelectForProposal(req.MaxTxBytes)
	a.metrics.SetMempoolSize(a.mempool.Len())
	return abci.ResponsePrepareProposal{Txs: txs}
}

// ProcessProposal accepts any proposal within the byte limit. Invalid
// transactions inside it fail individually with a receipt.
func (a *App) ProcessProposal(req abci.RequestProcessProposal) abci.ResponseProcessProposal {
	var size int
	for _, tx := range req.Txs {
		size += len(tx)
	}
	return abci.ResponseProcessProposal{Accept: size <= abci.DefaultMaxTxBytes}
}

// FinalizeBlock executes the block's transactions in order with the block
// timestamp as the exchange clock, persists the chain position and returns
// the new application hash. A failed save of the chain position is
// returned so the sequencer halts instead of building on a height and
// nonces that a restart would not see.
func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) (abci.ResponseFinalizeBlock, error) {
	start := time.Now()

	a.mu.Lock()
	a.clock.Set(time.UnixMilli(req.Timestamp))

	advanced := make(map[common.Address]uint64)
	receipts := make([]Receipt, 0, len(req.Txs))
	failed := 0
	for _, raw := range req.Txs {
		r := a.deliverTx(raw, req.Height, advanced)
		if r.Code != 0 {
			failed++
		}
		a.storeReceipt(r)
		receipts = append(receipts, *r)
	}

	hash := a.computeStateHash(req.Height, req.Timestamp)
	if a.store != nil {
		state := storage.ChainState{Height: uint64(req.Height), Time: req.Timestamp, AppHash: append([]byte(nil), hash[:]...)}
		if err := a.store.SaveChain(state, advanced); err != nil {
			a.mu.Unlock()
			a.logger.Errorw("chain_save_failed", "height", req.Height, "err", err)
			return abci.ResponseFinalizeBlock{}, fmt.Errorf("save chain state at height %d: %w", req.Height, err)
		}
	}
	a.height = req.Height
	a.lastTime = req.Timestamp
	a.lastHash = hash
	onReceipt := a.onReceipt
	a.mu.Unlock()

	a.metrics.ObserveBlock(req.Height, time.Since(start))
	if len(req.Txs) > 0 {
		a.logger.Infow("block_finalized",
			"height", req.Height,
			"txs", len(req.Txs),
			"failed", failed,
			"apphash", fmt.Sprintf("0x%x", hash[:]))
	}
	if onReceipt != nil {
		for _, r := range receipts {
			onReceipt(r)
		}
	}

	events := make([]string, 0, len(receipts))
	for _, r := range receipts {
		events = append(events, fmt.Sprintf("%s:%s", r.Hash.Hex(), r.CodeName))
	}
	return abci.ResponseFinalizeBlock{Events: events, AppHash: hash}, nil
}

// Height is the last finalized block height
func (a *App) Height() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.height
}

// LastBlock returns the height, timestamp and app hash of the last
// finalized block
func (a *App) LastBlock() (int64, int64, abci.Hash) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.height, a.lastTime, a.lastHash
}

// Nonce is the last nonce executed for sender, 0 if none
func (a *App) Nonce(sender common.Address) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nonces[sender]
}

func (a *App) IsPending(hash common.Hash) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.pending[hash]
	return ok
}

func (a *App) MempoolSize() int {
	return a.mempool.Len()
}

func (a *App) Exchange() *exchange.Exchange {
	return a.exchange
}
