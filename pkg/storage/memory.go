package storage

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/creditswap/pkg/app/core/bank"
	"github.com/uhyunpark/creditswap/pkg/app/core/exchange"
)

// MemoryStore is the in-memory counterpart of PebbleStore, used when the
// node runs without a data directory and in tests
type MemoryStore struct {
	mu         sync.Mutex
	meta       *exchange.Meta
	orders     map[uint64]exchange.Order
	escrow     map[uint64]exchange.EscrowRecord
	userOrders map[common.Address][]uint64
	fills      map[[2]uint64]exchange.FillRecord
	fillSeq    map[uint64]uint64
	balances   map[string]bank.Balance
	chain      ChainState
	nonces     map[common.Address]uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:     make(map[uint64]exchange.Order),
		escrow:     make(map[uint64]exchange.EscrowRecord),
		userOrders: make(map[common.Address][]uint64),
		fills:      make(map[[2]uint64]exchange.FillRecord),
		fillSeq:    make(map[uint64]uint64),
		balances:   make(map[string]bank.Balance),
		nonces:     make(map[common.Address]uint64),
	}
}

func (s *MemoryStore) Commit(cs *exchange.Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := cs.Meta
	s.meta = &m
	for _, o := range cs.Orders {
		s.orders[o.ID] = o
	}
	for _, e := range cs.EscrowPut {
		s.escrow[e.OrderID] = e
	}
	for _, id := range cs.EscrowDelete {
		delete(s.escrow, id)
	}
	for user, ids := range cs.UserOrders {
		s.userOrders[user] = append([]uint64(nil), ids...)
	}
	for _, f := range cs.Fills {
		s.fills[[2]uint64{f.OrderID, f.Seq}] = f
	}
	for id, seq := range cs.FillSeq {
		s.fillSeq[id] = seq
	}
	for _, r := range cs.Balances {
		s.balances[string(balanceKey(r))] = r
	}
	return nil
}

func (s *MemoryStore) Load() (*exchange.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta == nil {
		return nil, nil
	}
	snap := &exchange.Snapshot{
		Meta:       *s.meta,
		UserOrders: make(map[common.Address][]uint64, len(s.userOrders)),
		FillSeq:    make(map[uint64]uint64, len(s.fillSeq)),
	}
	for _, o := range s.orders {
		snap.Orders = append(snap.Orders, o)
	}
	sort.Slice(snap.Orders, func(i, j int) bool { return snap.Orders[i].ID < snap.Orders[j].ID })
	for _, e := range s.escrow {
		snap.Escrow = append(snap.Escrow, e)
	}
	for user, ids := range s.userOrders {
		snap.UserOrders[user] = append([]uint64(nil), ids...)
	}
	for _, f := range s.fills {
		snap.Fills = append(snap.Fills, f)
	}
	for id, seq := range s.fillSeq {
		snap.FillSeq[id] = seq
	}
	return snap, nil
}

func (s *MemoryStore) SaveBalances(rows []bank.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.balances[string(balanceKey(r))] = r
	}
	return nil
}

func (s *MemoryStore) LoadBalances() ([]bank.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]bank.Balance, 0, len(s.balances))
	for _, r := range s.balances {
		rows = append(rows, r)
	}
	return rows, nil
}

func (s *MemoryStore) SaveChain(state ChainState, nonces map[common.Address]uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chain = state
	for addr, n := range nonces {
		s.nonces[addr] = n
	}
	return nil
}

func (s *MemoryStore) LoadChain() (ChainState, map[common.Address]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nonces := make(map[common.Address]uint64, len(s.nonces))
	for addr, n := range s.nonces {
		nonces[addr] = n
	}
	return s.chain, nonces, nil
}

func (s *MemoryStore) Close() error { return nil }
