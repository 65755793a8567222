package escrow

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/creditswap/pkg/abci"
)

// computeStateHash commits to the application state after a block.
//
// Hashed in order:
//  1. height and timestamp
//  2. exchange meta (paused, admin, next order id, fees collected)
//  3. every order by id
//  4. every escrow record by order id
//  5. every sender nonce by address
//
// Fill history is covered indirectly through FilledAmount and the fee
// accumulator.
func (a *App) computeStateHash(height, timestamp int64) abci.Hash {
	h := sha256.New()
	var buf [8]byte
	putInt := func(v int64) {
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	putUint := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	putBool := func(v bool) {
		if v {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}

	putInt(height)
	putInt(timestamp)

	snap := a.exchange.Snapshot()
	putBool(snap.Meta.Paused)
	h.Write(snap.Meta.Admin.Bytes())
	putUint(snap.Meta.NextOrderID)
	putInt(snap.Meta.TotalFeesCollected)

	for _, o := range snap.Orders {
		putUint(o.ID)
		h.Write(o.Seller.Bytes())
		putInt(o.Amount)
		putInt(o.PricePerUnit)
		putInt(o.RemainingAmount)
		putInt(o.FilledAmount)
		putBool(o.Active)
		putInt(o.CreatedAt)
		h.Write(o.TokenContract.Bytes())
	}
	for _, e := range snap.Escrow {
		putUint(e.OrderID)
		putInt(e.EscrowedAmount)
	}

	senders := make([]common.Address, 0, len(a.nonces))
	for addr := range a.nonces {
		senders = append(senders, addr)
	}
	sort.Slice(senders, func(i, j int) bool {
		return bytes.Compare(senders[i][:], senders[j][:]) < 0
	})
	for _, addr := range senders {
		h.Write(addr.Bytes())
		putUint(a.nonces[addr])
	}

	var out abci.Hash
	copy(out[:], h.Sum(nil))
	return out
}
