package storage

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/creditswap/pkg/app/core/bank"
	"github.com/uhyunpark/creditswap/pkg/app/core/exchange"
)

var (
	admin   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	custody = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	fund    = common.HexToAddress("0x00000000000000000000000000000000000000cf")
	seller  = common.HexToAddress("0x0000000000000000000000000000000000000051")
	buyer   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	credit  = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func openPebble(t *testing.T) (*PebbleStore, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	s, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("NewPebbleStore failed: %v", err)
	}
	return s, dir
}

func exchangeConfig() exchange.Config {
	return exchange.Config{
		Admin:            admin,
		Custody:          custody,
		CommunityFund:    fund,
		FeePercent:       exchange.DefaultFeePercent,
		MaxOrdersPerUser: exchange.DefaultMaxOrdersPerUser,
	}
}

type journalStore interface {
	exchange.Journal
	bank.BalanceStore
	Load() (*exchange.Snapshot, error)
	Close() error
}

// runScenario drives an exchange journaled to store and returns it
func runScenario(t *testing.T, store journalStore) (*exchange.Exchange, *bank.Bank) {
	t.Helper()
	b, err := bank.New(store, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Mint(credit, seller, 200); err != nil {
		t.Fatal(err)
	}
	if err := b.Deposit(buyer, 1_000_000); err != nil {
		t.Fatal(err)
	}

	x, err := exchange.New(exchangeConfig(), b, b, exchange.WithJournal(store))
	if err != nil {
		t.Fatal(err)
	}
	a, err := x.CreateSellOrder(seller, 100, 1000, credit)
	if err != nil {
		t.Fatal(err)
	}
	c, err := x.CreateSellOrder(seller, 50, 10, credit)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := x.FillOrder(buyer, a, 50); err != nil {
		t.Fatal(err)
	}
	if _, err := x.FillOrder(buyer, a, 10); err != nil {
		t.Fatal(err)
	}
	if err := x.CancelOrder(seller, c); err != nil {
		t.Fatal(err)
	}
	return x, b
}

func checkRestored(t *testing.T, x *exchange.Exchange, store journalStore) {
	t.Helper()
	snap, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if snap == nil {
		t.Fatal("expected a snapshot")
	}

	b, err := bank.New(store, nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg := exchangeConfig()
	cfg.Admin = common.Address{}
	y, err := exchange.New(cfg, b, b, exchange.WithSnapshot(snap))
	if err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	if y.GetNextOrderID() != x.GetNextOrderID() || y.GetTotalFees() != x.GetTotalFees() || y.GetAdmin() != admin {
		t.Errorf("meta mismatch: next=%d fees=%d", y.GetNextOrderID(), y.GetTotalFees())
	}
	for id := uint64(1); id < x.GetNextOrderID(); id++ {
		want, _ := x.GetOrderDetails(id)
		got, ok := y.GetOrderDetails(id)
		if !ok || got != want {
			t.Errorf("order %d: got %+v want %+v", id, got, want)
		}
	}
	if got := y.GetFillCount(1); got != 2 {
		t.Errorf("fill count = %d, want 2", got)
	}
	if _, ok := y.GetEscrow(2); ok {
		t.Error("cancelled order must have no escrow")
	}
	if e, ok := y.GetEscrow(1); !ok || e.EscrowedAmount != 40 {
		t.Errorf("escrow of order 1 = %+v, %v", e, ok)
	}
	if ids := y.GetUserOrders(seller); len(ids) != 2 {
		t.Errorf("user orders = %v", ids)
	}
	if b.TokenBalance(credit, buyer) != 60 || b.TokenBalance(credit, custody) != 40 {
		t.Errorf("balances not restored: buyer=%d custody=%d", b.TokenBalance(credit, buyer), b.TokenBalance(credit, custody))
	}
	if b.NativeBalance(fund) != x.GetTotalFees() {
		t.Errorf("fund balance %d != fees %d", b.NativeBalance(fund), x.GetTotalFees())
	}
}

func TestPebbleCommitAndReload(t *testing.T) {
	s, dir := openPebble(t)
	x, _ := runScenario(t, s)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	t.Cleanup(func() { reopened.Close() })
	checkRestored(t, x, reopened)

	fills, err := reopened.LoadFills(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(fills) != 2 || fills[0].Seq != 1 || fills[1].Seq != 2 {
		t.Errorf("unexpected fills %+v", fills)
	}
}

func TestMemoryStoreMatchesPebble(t *testing.T) {
	s := NewMemoryStore()
	x, _ := runScenario(t, s)
	checkRestored(t, x, s)
}

func TestFreshStoreLoadsNothing(t *testing.T) {
	s, _ := openPebble(t)
	t.Cleanup(func() { s.Close() })

	snap, err := s.Load()
	if err != nil || snap != nil {
		t.Fatalf("expected nil snapshot, got %+v, %v", snap, err)
	}
	state, nonces, err := s.LoadChain()
	if err != nil {
		t.Fatal(err)
	}
	if state.Height != 0 || len(nonces) != 0 {
		t.Errorf("expected empty chain, got %+v %v", state, nonces)
	}
}

func TestChainState(t *testing.T) {
	s, dir := openPebble(t)
	state := ChainState{Height: 7, Time: 1_700_000_000_000, AppHash: []byte{1, 2, 3}}
	if err := s.SaveChain(state, map[common.Address]uint64{seller: 3, buyer: 9}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveChain(ChainState{Height: 8, Time: 1_700_000_001_000}, map[common.Address]uint64{buyer: 10}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	reopened, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reopened.Close() })
	got, nonces, err := reopened.LoadChain()
	if err != nil {
		t.Fatal(err)
	}
	if got.Height != 8 || got.Time != 1_700_000_001_000 {
		t.Errorf("chain state = %+v", got)
	}
	if nonces[seller] != 3 || nonces[buyer] != 10 {
		t.Errorf("nonces = %v", nonces)
	}
}

// crashingLedger panics on the credit delivery of a fill, the way a process
// dying between two legs would
type crashingLedger struct {
	*bank.Bank
}

func (l crashingLedger) TransferToken(token common.Address, amount int64, from, to common.Address) error {
	if from == custody && to == buyer {
		panic("process died")
	}
	return l.Bank.TransferToken(token, amount, from, to)
}

func TestCrashMidFillPersistsNothing(t *testing.T) {
	s, dir := openPebble(t)
	b, err := bank.New(s, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Mint(credit, seller, 100); err != nil {
		t.Fatal(err)
	}
	if err := b.Deposit(buyer, 1_000_000); err != nil {
		t.Fatal(err)
	}
	l := crashingLedger{b}
	x, err := exchange.New(exchangeConfig(), l, l, exchange.WithJournal(s))
	if err != nil {
		t.Fatal(err)
	}
	id, err := x.CreateSellOrder(seller, 100, 1000, credit)
	if err != nil {
		t.Fatal(err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected the fill to die")
			}
		}()
		x.FillOrder(buyer, id, 50)
	}()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reopened.Close() })
	rb, err := bank.New(reopened, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := rb.NativeBalance(buyer); got != 1_000_000 {
		t.Errorf("buyer native = %d, want 1000000", got)
	}
	if rb.NativeBalance(seller) != 0 || rb.NativeBalance(fund) != 0 || rb.NativeBalance(custody) != 0 {
		t.Errorf("payments persisted: seller=%d fund=%d custody=%d",
			rb.NativeBalance(seller), rb.NativeBalance(fund), rb.NativeBalance(custody))
	}
	if rb.TokenBalance(credit, custody) != 100 || rb.TokenBalance(credit, buyer) != 0 {
		t.Errorf("credits: custody=%d buyer=%d", rb.TokenBalance(credit, custody), rb.TokenBalance(credit, buyer))
	}

	snap, err := reopened.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Orders) != 1 || snap.Orders[0].RemainingAmount != 100 || len(snap.Fills) != 0 {
		t.Errorf("order state = %+v fills=%d", snap.Orders, len(snap.Fills))
	}
}

func TestFillBalancesCommitWithChangeset(t *testing.T) {
	s := NewMemoryStore()
	b, err := bank.New(s, nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = b.Mint(credit, seller, 100)
	_ = b.Deposit(buyer, 1_000_000)
	x, err := exchange.New(exchangeConfig(), b, b, exchange.WithJournal(journalSpy{s, func(cs *exchange.Changeset) {
		if len(cs.Fills) == 1 && len(cs.Balances) != 6 {
			t.Errorf("fill changeset carries %d balance rows, want 6", len(cs.Balances))
		}
	}}))
	if err != nil {
		t.Fatal(err)
	}
	id, err := x.CreateSellOrder(seller, 100, 1000, credit)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := x.FillOrder(buyer, id, 50); err != nil {
		t.Fatal(err)
	}

	rows, _ := s.LoadBalances()
	got := make(map[string]int64)
	for _, r := range rows {
		got[string(balanceKey(r))] = r.Amount
	}
	if got[string(nativeBalanceKey(buyer))] != 950_000 || got[string(tokenBalanceKey(credit, buyer))] != 50 {
		t.Errorf("persisted rows = %v", got)
	}
}

type journalSpy struct {
	*MemoryStore
	onCommit func(*exchange.Changeset)
}

func (j journalSpy) Commit(cs *exchange.Changeset) error {
	j.onCommit(cs)
	return j.MemoryStore.Commit(cs)
}
