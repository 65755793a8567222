package escrow

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/creditswap/pkg/abci"
	"github.com/uhyunpark/creditswap/pkg/app/core/bank"
	"github.com/uhyunpark/creditswap/pkg/app/core/exchange"
	"github.com/uhyunpark/creditswap/pkg/app/core/transaction"
	"github.com/uhyunpark/creditswap/pkg/crypto"
	"github.com/uhyunpark/creditswap/pkg/storage"
	"github.com/uhyunpark/creditswap/pkg/util"
)

var (
	custody = common.HexToAddress("0x00000000000000000000000000000000000c0570")
	fund    = common.HexToAddress("0x0000000000000000000000000000000000000f0d")
	token   = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

const chainID = 1337

type testNet struct {
	app    *App
	bank   *bank.Bank
	store  *storage.MemoryStore
	eip712 *crypto.EIP712Signer
	admin  *crypto.Signer
	seller *crypto.Signer
	buyer  *crypto.Signer
}

func mustKey(t *testing.T) *crypto.Signer {
	t.Helper()
	s, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newTestNet(t *testing.T, opts ...Option) *testNet {
	t.Helper()
	n := &testNet{
		store:  storage.NewMemoryStore(),
		admin:  mustKey(t),
		seller: mustKey(t),
		buyer:  mustKey(t),
	}
	bk, err := bank.New(n.store, nil)
	if err != nil {
		t.Fatal(err)
	}
	n.bank = bk
	if err := bk.Mint(token, n.seller.Address(), 1000); err != nil {
		t.Fatal(err)
	}
	if err := bk.Deposit(n.buyer.Address(), 100_000); err != nil {
		t.Fatal(err)
	}
	n.app = n.open(t, opts...)
	return n
}

// open builds an exchange and app over the net's store, as a node restart
// would
func (n *testNet) open(t *testing.T, opts ...Option) *App {
	t.Helper()
	domain := crypto.NewDomain(chainID, custody)
	n.eip712 = crypto.NewEIP712Signer(domain)

	snap, err := n.store.Load()
	if err != nil {
		t.Fatal(err)
	}
	clock := util.NewBlockClock(time.UnixMilli(0))
	xopts := []exchange.Option{exchange.WithClock(clock), exchange.WithJournal(n.store)}
	if snap != nil {
		xopts = append(xopts, exchange.WithSnapshot(snap))
	}
	x, err := exchange.New(exchange.Config{
		Admin:            n.admin.Address(),
		Custody:          custody,
		CommunityFund:    fund,
		FeePercent:       1,
		MaxOrdersPerUser: 100,
	}, n.bank, n.bank, xopts...)
	if err != nil {
		t.Fatal(err)
	}
	app, err := NewApp(x, transaction.NewVerifier(domain), clock, append([]Option{WithStore(n.store)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return app
}

func (n *testNet) sign(t *testing.T, s *crypto.Signer, tx transaction.SignedTransaction) []byte {
	t.Helper()
	if err := transaction.Sign(&tx, s, n.eip712); err != nil {
		t.Fatal(err)
	}
	raw, err := tx.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func (n *testNet) submit(t *testing.T, s *crypto.Signer, tx transaction.SignedTransaction) common.Hash {
	t.Helper()
	hash, err := n.app.SubmitTx(n.sign(t, s, tx))
	if err != nil {
		t.Fatalf("SubmitTx(%s): %v", tx.Type, err)
	}
	return hash
}

func commit(t *testing.T, app *App, height, ts int64) abci.ResponseFinalizeBlock {
	t.Helper()
	prep := app.PrepareProposal(abci.RequestPrepareProposal{Height: height, MaxTxBytes: abci.DefaultMaxTxBytes})
	resp, err := app.FinalizeBlock(abci.RequestFinalizeBlock{Height: height, Timestamp: ts, Txs: prep.Txs})
	if err != nil {
		t.Fatalf("FinalizeBlock(%d): %v", height, err)
	}
	return resp
}

func receipt(t *testing.T, app *App, hash common.Hash) Receipt {
	t.Helper()
	r, ok := app.Receipt(hash)
	if !ok {
		t.Fatalf("no receipt for %s", hash.Hex())
	}
	return r
}

func TestCreateAndFillAcrossBlocks(t *testing.T) {
	n := newTestNet(t)

	create := n.submit(t, n.seller, transaction.SignedTransaction{
		Type: transaction.TxCreateOrder, Amount: 100, Price: 1000, Token: token.Hex(), Nonce: 1,
	})
	if !n.app.IsPending(create) {
		t.Error("submitted tx should be pending")
	}
	commit(t, n.app, 1, 1_700_000_000_000)

	r := receipt(t, n.app, create)
	if !r.OK() || r.OrderID != 1 || r.Height != 1 {
		t.Fatalf("create receipt = %+v", r)
	}
	if n.app.IsPending(create) {
		t.Error("executed tx still pending")
	}
	o, _ := n.app.Exchange().GetOrderDetails(1)
	if o.CreatedAt != 1_700_000_000_000 {
		t.Errorf("CreatedAt = %d, want block time", o.CreatedAt)
	}

	fill := n.submit(t, n.buyer, transaction.SignedTransaction{
		Type: transaction.TxFillOrder, OrderID: 1, Amount: 50, Nonce: 1,
	})
	commit(t, n.app, 2, 1_700_000_001_000)

	r = receipt(t, n.app, fill)
	if !r.OK() || r.FillSeq != 1 || r.TotalCost != 50_000 || r.Fee != 500 {
		t.Fatalf("fill receipt = %+v", r)
	}
	if got := n.bank.NativeBalance(n.seller.Address()); got != 49_500 {
		t.Errorf("seller balance = %d, want 49500", got)
	}
	if got := n.bank.TokenBalance(token, n.buyer.Address()); got != 50 {
		t.Errorf("buyer credits = %d, want 50", got)
	}
	rec, ok := n.app.Exchange().GetOrderHistory(1, 1)
	if !ok || rec.Timestamp != 1_700_000_001_000 {
		t.Errorf("fill record = %+v, %v", rec, ok)
	}
	if n.app.Height() != 2 {
		t.Errorf("height = %d", n.app.Height())
	}
}

func TestSubmitRejects(t *testing.T) {
	n := newTestNet(t)

	if _, err := n.app.SubmitTx([]byte("not json")); !errors.Is(err, transaction.ErrMalformed) {
		t.Errorf("garbage: err = %v, want ErrMalformed", err)
	}

	// Signed by the buyer but claiming to be the seller
	tx := transaction.SignedTransaction{Type: transaction.TxCancelOrder, OrderID: 1, Nonce: 1}
	if err := transaction.Sign(&tx, n.buyer, n.eip712); err != nil {
		t.Fatal(err)
	}
	tx.Sender = n.seller.Address().Hex()
	raw, _ := tx.Serialize()
	if _, err := n.app.SubmitTx(raw); !errors.Is(err, transaction.ErrBadSignature) {
		t.Errorf("forged sender: err = %v, want ErrBadSignature", err)
	}

	raw = n.sign(t, n.admin, transaction.SignedTransaction{Type: transaction.TxPause, Nonce: 1})
	if _, err := n.app.SubmitTx(raw); err != nil {
		t.Fatal(err)
	}
	if _, err := n.app.SubmitTx(raw); !errors.Is(err, ErrDuplicate) {
		t.Errorf("resubmit: err = %v, want ErrDuplicate", err)
	}
	commit(t, n.app, 1, 1000)

	if _, err := n.app.SubmitTx(raw); !errors.Is(err, ErrStaleNonce) {
		t.Errorf("replay: err = %v, want ErrStaleNonce", err)
	}
}

func TestFailedTxConsumesNonce(t *testing.T) {
	n := newTestNet(t)

	hash := n.submit(t, n.buyer, transaction.SignedTransaction{
		Type: transaction.TxFillOrder, OrderID: 9, Amount: 1, Nonce: 1,
	})
	commit(t, n.app, 1, 1000)

	r := receipt(t, n.app, hash)
	if r.Code != exchange.CodeOrderNotFound || r.CodeName != "ORDER_NOT_FOUND" {
		t.Errorf("receipt = %+v, want ORDER_NOT_FOUND", r)
	}
	if got := n.app.Nonce(n.buyer.Address()); got != 1 {
		t.Errorf("nonce = %d, want 1", got)
	}
}

func TestDuplicateNonceInBlock(t *testing.T) {
	n := newTestNet(t)

	first := n.submit(t, n.seller, transaction.SignedTransaction{
		Type: transaction.TxCreateOrder, Amount: 10, Price: 5, Token: token.Hex(), Nonce: 1,
	})
	second := n.submit(t, n.seller, transaction.SignedTransaction{
		Type: transaction.TxCreateOrder, Amount: 20, Price: 5, Token: token.Hex(), Nonce: 1,
	})
	commit(t, n.app, 1, 1000)

	if r := receipt(t, n.app, first); !r.OK() {
		t.Errorf("first = %+v", r)
	}
	if r := receipt(t, n.app, second); r.Code != CodeBadNonce || r.CodeName != "BAD_NONCE" {
		t.Errorf("second = %+v, want BAD_NONCE", r)
	}
	if got := n.app.Exchange().GetNextOrderID(); got != 2 {
		t.Errorf("next order id = %d, want 2", got)
	}
}

func TestAdminTxRunsFirstInBlock(t *testing.T) {
	n := newTestNet(t)

	create := n.submit(t, n.seller, transaction.SignedTransaction{
		Type: transaction.TxCreateOrder, Amount: 10, Price: 5, Token: token.Hex(), Nonce: 1,
	})
	n.submit(t, n.admin, transaction.SignedTransaction{Type: transaction.TxPause, Nonce: 1})
	commit(t, n.app, 1, 1000)

	if r := receipt(t, n.app, create); r.Code != exchange.CodePaused {
		t.Errorf("create after pause = %+v, want PAUSED", r)
	}
	if !n.app.Exchange().IsPaused() {
		t.Error("exchange should be paused")
	}
}

func TestUnauthorizedAdminTx(t *testing.T) {
	n := newTestNet(t)

	hash := n.submit(t, n.buyer, transaction.SignedTransaction{
		Type: transaction.TxSetAdmin, Target: n.buyer.Address().Hex(), Nonce: 1,
	})
	commit(t, n.app, 1, 1000)

	if r := receipt(t, n.app, hash); r.Code != exchange.CodeUnauthorized {
		t.Errorf("receipt = %+v, want UNAUTHORIZED", r)
	}
	if n.app.Exchange().GetAdmin() != n.admin.Address() {
		t.Error("admin changed")
	}
}

func TestBadTxInProposal(t *testing.T) {
	n := newTestNet(t)

	raw := []byte(`{"type":"launch_rocket"}`)
	resp, err := n.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: 1, Timestamp: 1000, Txs: [][]byte{raw}})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Events) != 1 {
		t.Fatalf("events = %v", resp.Events)
	}
	r := receipt(t, n.app, crypto.Keccak256(raw))
	if r.Code != CodeBadTx {
		t.Errorf("receipt = %+v, want BAD_TX", r)
	}
}

func TestStateHash(t *testing.T) {
	a := newTestNet(t)
	h1 := commit(t, a.app, 1, 1000).AppHash
	if h1 != a.app.computeStateHash(1, 1000) {
		t.Error("hash not reproducible from state")
	}
	if h1 == a.app.computeStateHash(2, 1000) {
		t.Error("hash must cover height")
	}

	a.submit(t, a.admin, transaction.SignedTransaction{Type: transaction.TxPause, Nonce: 1})
	h2 := commit(t, a.app, 2, 2000).AppHash
	if !a.app.Exchange().IsPaused() {
		t.Fatal("pause not applied")
	}
	if h2 == h1 {
		t.Error("hash unchanged across blocks")
	}

	// Same txs at the same heights and times give the same hash
	b := newTestNet(t)
	b.admin = a.admin
	b.app = b.open(t)
	if got := commit(t, b.app, 1, 1000).AppHash; got != h1 {
		t.Errorf("replica hash at 1 = %x, want %x", got, h1)
	}
}

func TestRestartRestoresChain(t *testing.T) {
	n := newTestNet(t)

	n.submit(t, n.seller, transaction.SignedTransaction{
		Type: transaction.TxCreateOrder, Amount: 10, Price: 5, Token: token.Hex(), Nonce: 4,
	})
	resp := commit(t, n.app, 1, 5000)

	restarted := n.open(t)
	height, ts, hash := restarted.LastBlock()
	if height != 1 || ts != 5000 || hash != resp.AppHash {
		t.Errorf("LastBlock = %d %d %x", height, ts, hash)
	}
	if got := restarted.Nonce(n.seller.Address()); got != 4 {
		t.Errorf("nonce = %d, want 4", got)
	}
	if o, ok := restarted.Exchange().GetOrderDetails(1); !ok || !o.Active {
		t.Errorf("order after restart = %+v, %v", o, ok)
	}
	if hash != restarted.computeStateHash(1, 5000) {
		t.Error("restored state hashes differently")
	}
}

func TestReceiptLogBounded(t *testing.T) {
	var seen []Receipt
	n := newTestNet(t, WithMaxReceipts(2), WithReceiptHandler(func(r Receipt) { seen = append(seen, r) }))

	var hashes []common.Hash
	for i := uint64(1); i <= 3; i++ {
		hashes = append(hashes, n.submit(t, n.buyer, transaction.SignedTransaction{
			Type: transaction.TxCancelOrder, OrderID: 1, Nonce: i,
		}))
	}
	commit(t, n.app, 1, 1000)

	if _, ok := n.app.Receipt(hashes[0]); ok {
		t.Error("oldest receipt should be evicted")
	}
	for _, h := range hashes[1:] {
		receipt(t, n.app, h)
	}
	if len(seen) != 3 {
		t.Errorf("handler saw %d receipts, want 3", len(seen))
	}
}

type brokenChainStore struct {
	*storage.MemoryStore
}

func (brokenChainStore) SaveChain(storage.ChainState, map[common.Address]uint64) error {
	return errors.New("disk full")
}

func TestChainSaveFailureHaltsBlock(t *testing.T) {
	n := newTestNet(t)
	n.app = n.open(t, WithStore(brokenChainStore{n.store}))

	n.submit(t, n.seller, transaction.SignedTransaction{
		Type: transaction.TxCreateOrder, Amount: 10, Price: 5, Token: token.Hex(), Nonce: 1,
	})
	prep := n.app.PrepareProposal(abci.RequestPrepareProposal{Height: 1, MaxTxBytes: abci.DefaultMaxTxBytes})
	if _, err := n.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: 1, Timestamp: 1000, Txs: prep.Txs}); err == nil {
		t.Fatal("expected the failed chain save to be returned")
	}
	if n.app.Height() != 0 {
		t.Errorf("height advanced to %d without a saved chain state", n.app.Height())
	}

	seq := abci.NewSequencer(n.app, util.RealClock{}, 0, time.Millisecond)
	n.submit(t, n.seller, transaction.SignedTransaction{
		Type: transaction.TxCreateOrder, Amount: 10, Price: 5, Token: token.Hex(), Nonce: 2,
	})
	if _, err := seq.Step(); err == nil {
		t.Fatal("sequencer should stop on a failed block")
	}
	if seq.Height() != 0 {
		t.Errorf("sequencer height = %d, want 0", seq.Height())
	}
}
