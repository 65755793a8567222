package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/creditswap/pkg/app/core/bank"
	"github.com/uhyunpark/creditswap/pkg/app/core/exchange"
)

// ChainState is the sequencer position persisted after each block
type ChainState struct {
	Height  uint64
	Time    int64 // Unix milliseconds of the last block
	AppHash []byte
}

// PebbleStore persists exchange state, bank balances, nonces and the chain
// position in one Pebble database. Every write method commits a single
// batch, so each call is atomic.
type PebbleStore struct {
	db *pebble.DB
}

var (
	_ exchange.Journal  = (*PebbleStore)(nil)
	_ bank.BalanceStore = (*PebbleStore)(nil)
)

// NewPebbleStore opens (or creates) a Pebble database at path
func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// Commit writes one exchange changeset, including the ledger rows its
// transfers moved, in a single synced batch
func (s *PebbleStore) Commit(cs *exchange.Changeset) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	if err := setJSON(batch, metaKey(), cs.Meta); err != nil {
		return err
	}
	for _, o := range cs.Orders {
		if err := setJSON(batch, orderKey(o.ID), o); err != nil {
			return err
		}
	}
	for _, e := range cs.EscrowPut {
		if err := setJSON(batch, escrowKey(e.OrderID), e); err != nil {
			return err
		}
	}
	for _, id := range cs.EscrowDelete {
		if err := batch.Delete(escrowKey(id), nil); err != nil {
			return err
		}
	}
	for user, ids := range cs.UserOrders {
		if err := setJSON(batch, userOrdersKey(user), userOrdersRecord{User: user, Orders: ids}); err != nil {
			return err
		}
	}
	for _, f := range cs.Fills {
		if err := setJSON(batch, fillKey(f.OrderID, f.Seq), f); err != nil {
			return err
		}
	}
	for id, seq := range cs.FillSeq {
		if err := setJSON(batch, fillSeqKey(id), fillSeqRecord{OrderID: id, Seq: seq}); err != nil {
			return err
		}
	}
	for _, r := range cs.Balances {
		if err := setJSON(batch, balanceKey(r), r); err != nil {
			return err
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit changeset: %w", err)
	}
	return nil
}

// Load rebuilds the exchange state. Returns nil when nothing was ever
// committed.
func (s *PebbleStore) Load() (*exchange.Snapshot, error) {
	data, closer, err := s.db.Get(metaKey())
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meta: %w", err)
	}
	snap := &exchange.Snapshot{
		UserOrders: make(map[common.Address][]uint64),
		FillSeq:    make(map[uint64]uint64),
	}
	err = json.Unmarshal(data, &snap.Meta)
	closer.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal meta: %w", err)
	}

	err = s.scan([]byte(prefixOrder), func(_, v []byte) error {
		var o exchange.Order
		if err := json.Unmarshal(v, &o); err != nil {
			return err
		}
		snap.Orders = append(snap.Orders, o)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}

	err = s.scan([]byte(prefixEscrow), func(_, v []byte) error {
		var e exchange.EscrowRecord
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		snap.Escrow = append(snap.Escrow, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load escrow: %w", err)
	}

	err = s.scan([]byte(prefixUserOrders), func(_, v []byte) error {
		var r userOrdersRecord
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		snap.UserOrders[r.User] = r.Orders
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load user orders: %w", err)
	}

	err = s.scan([]byte(prefixFill), func(_, v []byte) error {
		var f exchange.FillRecord
		if err := json.Unmarshal(v, &f); err != nil {
			return err
		}
		snap.Fills = append(snap.Fills, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load fills: %w", err)
	}

	err = s.scan([]byte(prefixFillSeq), func(_, v []byte) error {
		var r fillSeqRecord
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		snap.FillSeq[r.OrderID] = r.Seq
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load fill counters: %w", err)
	}

	return snap, nil
}

// LoadFills returns the fills of one order in sequence order
func (s *PebbleStore) LoadFills(orderID uint64) ([]exchange.FillRecord, error) {
	var fills []exchange.FillRecord
	err := s.scan(fillPrefix(orderID), func(_, v []byte) error {
		var f exchange.FillRecord
		if err := json.Unmarshal(v, &f); err != nil {
			return err
		}
		fills = append(fills, f)
		return nil
	})
	return fills, err
}

// SaveBalances writes balance rows in one batch
func (s *PebbleStore) SaveBalances(rows []bank.Balance) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, r := range rows {
		if err := setJSON(batch, balanceKey(r), r); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) LoadBalances() ([]bank.Balance, error) {
	var rows []bank.Balance
	err := s.scan([]byte(prefixBalance), func(_, v []byte) error {
		var r bank.Balance
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		rows = append(rows, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}
	return rows, nil
}

// SaveChain records the chain position and the nonces advanced by the
// block in one batch
func (s *PebbleStore) SaveChain(state ChainState, nonces map[common.Address]uint64) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	val, err := encodeGob(state)
	if err != nil {
		return fmt.Errorf("encode chain state: %w", err)
	}
	if err := batch.Set(chainKey(), val, nil); err != nil {
		return err
	}
	for addr, n := range nonces {
		if err := setJSON(batch, nonceKey(addr), nonceRecord{Address: addr, Nonce: n}); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// LoadChain returns the last saved chain position and all nonces. A fresh
// database yields a zero ChainState.
func (s *PebbleStore) LoadChain() (ChainState, map[common.Address]uint64, error) {
	var state ChainState
	val, closer, err := s.db.Get(chainKey())
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		return state, nil, fmt.Errorf("failed to get chain state: %w", err)
	default:
		err = decodeGob(val, &state)
		closer.Close()
		if err != nil {
			return state, nil, fmt.Errorf("decode chain state: %w", err)
		}
	}

	nonces := make(map[common.Address]uint64)
	err = s.scan([]byte(prefixNonce), func(_, v []byte) error {
		var r nonceRecord
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		nonces[r.Address] = r.Nonce
		return nil
	})
	if err != nil {
		return state, nil, fmt.Errorf("load nonces: %w", err)
	}
	return state, nonces, nil
}

func (s *PebbleStore) scan(prefix []byte, fn func(k, v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}
