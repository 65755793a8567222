package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/creditswap/pkg/app/core/bank"
)

// Pebble key schema. Numeric ids are zero-padded to 20 digits so keys sort
// in id order under a prefix scan.
//
//	meta                      -> exchange.Meta
//	ord:{id}                  -> exchange.Order
//	esc:{id}                  -> exchange.EscrowRecord
//	uord:{address}            -> userOrdersRecord
//	fill:{id}:{seq}           -> exchange.FillRecord
//	fseq:{id}                 -> fillSeqRecord
//	bal:n:{address}           -> bank.Balance
//	bal:t:{token}:{address}   -> bank.Balance
//	nonce:{address}           -> nonceRecord
//	chain                     -> ChainState (gob)
const (
	prefixOrder      = "ord:"
	prefixEscrow     = "esc:"
	prefixUserOrders = "uord:"
	prefixFill       = "fill:"
	prefixFillSeq    = "fseq:"
	prefixBalance    = "bal:"
	prefixNonce      = "nonce:"
)

func metaKey() []byte  { return []byte("meta") }
func chainKey() []byte { return []byte("chain") }

func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func escrowKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEscrow, id))
}

func userOrdersKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixUserOrders, addr.Hex()))
}

// fillKey sorts fills of one order by sequence number
func fillKey(id, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:%020d", prefixFill, id, seq))
}

// fillPrefix covers every fill of one order
func fillPrefix(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d:", prefixFill, id))
}

func fillSeqKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixFillSeq, id))
}

func nativeBalanceKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%sn:%s", prefixBalance, addr.Hex()))
}

func tokenBalanceKey(token, addr common.Address) []byte {
	return []byte(fmt.Sprintf("%st:%s:%s", prefixBalance, token.Hex(), addr.Hex()))
}

func balanceKey(r bank.Balance) []byte {
	if r.Native {
		return nativeBalanceKey(r.Address)
	}
	return tokenBalanceKey(r.Token, r.Address)
}

func nonceKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixNonce, addr.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "ord:" -> upper bound "ord;" (next byte after ':')
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

type userOrdersRecord struct {
	User   common.Address `json:"user"`
	Orders []uint64       `json:"orders"`
}

type fillSeqRecord struct {
	OrderID uint64 `json:"orderId"`
	Seq     uint64 `json:"seq"`
}

type nonceRecord struct {
	Address common.Address `json:"address"`
	Nonce   uint64         `json:"nonce"`
}
