// Package bank is the in-process ledger behind the exchange on a devnet
// node. It implements the exchange's token and native transfer
// capabilities together with the balance reads used for settlement
// pre-checks.
package bank

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/creditswap/pkg/app/core/exchange"
)

// BalanceStore persists balance rows. SaveBalances must write all rows
// atomically.
type BalanceStore interface {
	SaveBalances(rows []Balance) error
	LoadBalances() ([]Balance, error)
}

// Bank manages all balances in a thread-safe manner.
// Uses an in-memory map backed by an optional BalanceStore.
type Bank struct {
	mu       sync.RWMutex
	accounts map[common.Address]*Account
	store    BalanceStore
	logger   *zap.SugaredLogger

	// stageMu is held from BeginStage to EndStage so deposits and mints
	// wait for the staged operation instead of persisting its partial
	// balances
	stageMu sync.Mutex
	staging bool
	staged  map[stageKey]Balance
}

type stageKey struct {
	addr   common.Address
	token  common.Address
	native bool
}

var (
	_ exchange.TokenLedger    = (*Bank)(nil)
	_ exchange.NativeLedger   = (*Bank)(nil)
	_ exchange.TokenBalances  = (*Bank)(nil)
	_ exchange.NativeBalances = (*Bank)(nil)
	_ exchange.StagedLedger   = (*Bank)(nil)
)

// New creates a bank and loads every persisted balance from store.
// store may be nil for a purely in-memory ledger.
func New(store BalanceStore, logger *zap.SugaredLogger) (*Bank, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	b := &Bank{
		accounts: make(map[common.Address]*Account),
		store:    store,
		logger:   logger,
	}
	if store == nil {
		return b, nil
	}

	rows, err := store.LoadBalances()
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	for _, r := range rows {
		acc := b.accountLocked(r.Address)
		if r.Native {
			acc.Native = r.Amount
		} else {
			acc.Tokens[r.Token] = r.Amount
		}
	}
	logger.Infow("bank_loaded", "accounts", len(b.accounts), "rows", len(rows))
	return b, nil
}

// accountLocked returns the account for addr, creating it if needed.
// Caller holds b.mu.
func (b *Bank) accountLocked(addr common.Address) *Account {
	acc, ok := b.accounts[addr]
	if !ok {
		acc = NewAccount(addr)
		b.accounts[addr] = acc
	}
	return acc
}

// save persists rows, or records them for the open stage. Caller holds b.mu.
func (b *Bank) save(rows ...Balance) error {
	if b.staging {
		for _, r := range rows {
			b.staged[stageKey{addr: r.Address, token: r.Token, native: r.Native}] = r
		}
		return nil
	}
	if b.store == nil {
		return nil
	}
	if err := b.store.SaveBalances(rows); err != nil {
		return fmt.Errorf("save balances: %w", err)
	}
	return nil
}

func nativeRow(acc *Account) Balance {
	return Balance{Address: acc.Address, Native: true, Amount: acc.Native}
}

func tokenRow(acc *Account, token common.Address) Balance {
	return Balance{Address: acc.Address, Token: token, Amount: acc.Tokens[token]}
}

// Deposit credits native currency to addr
func (b *Bank) Deposit(addr common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: deposit %d", exchange.ErrInvalidAmount, amount)
	}

	b.stageMu.Lock()
	defer b.stageMu.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()

	acc := b.accountLocked(addr)
	if acc.Native > math.MaxInt64-amount {
		return fmt.Errorf("%w: deposit overflows balance", exchange.ErrInvalidAmount)
	}
	acc.Native += amount
	if err := b.save(nativeRow(acc)); err != nil {
		acc.Native -= amount
		return err
	}
	return nil
}

// Mint issues credits of token to addr
func (b *Bank) Mint(token, addr common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: mint %d", exchange.ErrInvalidAmount, amount)
	}

	b.stageMu.Lock()
	defer b.stageMu.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()

	acc := b.accountLocked(addr)
	if acc.Tokens[token] > math.MaxInt64-amount {
		return fmt.Errorf("%w: mint overflows balance", exchange.ErrInvalidAmount)
	}
	acc.Tokens[token] += amount
	if err := b.save(tokenRow(acc, token)); err != nil {
		acc.Tokens[token] -= amount
		return err
	}
	return nil
}

// TransferNative moves native currency between two addresses
func (b *Bank) TransferNative(amount int64, from, to common.Address) error {
	if amount <= 0 {
		return fmt.Errorf("%w: transfer %d", exchange.ErrInvalidAmount, amount)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	src := b.accountLocked(from)
	if src.Native < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", exchange.ErrInsufficientFunds, from.Hex(), src.Native, amount)
	}
	if from == to {
		return nil
	}
	dst := b.accountLocked(to)
	if dst.Native > math.MaxInt64-amount {
		return fmt.Errorf("%w: transfer overflows balance of %s", exchange.ErrInvalidAmount, to.Hex())
	}

	src.Native -= amount
	dst.Native += amount
	if err := b.save(nativeRow(src), nativeRow(dst)); err != nil {
		src.Native += amount
		dst.Native -= amount
		return err
	}
	return nil
}

// TransferToken moves credits of token between two addresses
func (b *Bank) TransferToken(token common.Address, amount int64, from, to common.Address) error {
	if amount <= 0 {
		return fmt.Errorf("%w: transfer %d", exchange.ErrInvalidAmount, amount)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	src := b.accountLocked(from)
	if src.Tokens[token] < amount {
		return fmt.Errorf("%w: %s has %d of %s, needs %d",
			exchange.ErrInsufficientFunds, from.Hex(), src.Tokens[token], token.Hex(), amount)
	}
	if from == to {
		return nil
	}
	dst := b.accountLocked(to)
	if dst.Tokens[token] > math.MaxInt64-amount {
		return fmt.Errorf("%w: transfer overflows %s balance of %s", exchange.ErrInvalidAmount, token.Hex(), to.Hex())
	}

	src.Tokens[token] -= amount
	dst.Tokens[token] += amount
	if err := b.save(tokenRow(src, token), tokenRow(dst, token)); err != nil {
		src.Tokens[token] += amount
		dst.Tokens[token] -= amount
		return err
	}
	return nil
}

// BeginStage holds back persistence of transfers until EndStage. The rows
// they touch are collected for Staged. Deposits and mints block meanwhile.
func (b *Bank) BeginStage() {
	b.stageMu.Lock()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.staging = true
	b.staged = make(map[stageKey]Balance)
}

// Staged returns the latest row of every balance a transfer touched since
// BeginStage
func (b *Bank) Staged() []Balance {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rows := make([]Balance, 0, len(b.staged))
	for _, r := range b.staged {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Address != rows[j].Address {
			return string(rows[i].Address.Bytes()) < string(rows[j].Address.Bytes())
		}
		if rows[i].Native != rows[j].Native {
			return rows[i].Native
		}
		return string(rows[i].Token.Bytes()) < string(rows[j].Token.Bytes())
	})
	return rows
}

// EndStage drops the staged rows and resumes persisting each transfer.
// Rows not taken by Staged are never written, which is what a failed
// operation wants: its reversals left memory as it was on disk.
func (b *Bank) EndStage() {
	b.mu.Lock()
	b.staging = false
	b.staged = nil
	b.mu.Unlock()
	b.stageMu.Unlock()
}

func (b *Bank) NativeBalance(addr common.Address) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if acc, ok := b.accounts[addr]; ok {
		return acc.Native
	}
	return 0
}

func (b *Bank) TokenBalance(token, addr common.Address) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if acc, ok := b.accounts[addr]; ok {
		return acc.Tokens[token]
	}
	return 0
}

// Account returns a copy of the account, or nil if addr never held funds
func (b *Bank) Account(addr common.Address) *Account {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if acc, ok := b.accounts[addr]; ok {
		return acc.clone()
	}
	return nil
}

// Addresses lists every known address in byte order
func (b *Bank) Addresses() []common.Address {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]common.Address, 0, len(b.accounts))
	for addr := range b.accounts {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].Bytes()) < string(out[j].Bytes())
	})
	return out
}

// Count returns the number of known accounts
func (b *Bank) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.accounts)
}
