package escrow

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/creditswap/pkg/app/core/exchange"
	"github.com/uhyunpark/creditswap/pkg/app/core/transaction"
)

// Receipt codes below 200 are exchange.Code values. The app adds its own
// for transactions that never reach the exchange.
const (
	CodeOK           = exchange.CodeOK
	CodeBadTx        exchange.Code = 200
	CodeBadSignature exchange.Code = 201
	CodeBadNonce     exchange.Code = 202
)

func codeName(c exchange.Code) string {
	switch c {
	case CodeBadTx:
		return "BAD_TX"
	case CodeBadSignature:
		return "BAD_SIGNATURE"
	case CodeBadNonce:
		return "BAD_NONCE"
	default:
		return c.String()
	}
}

// Receipt is the outcome of one executed transaction
type Receipt struct {
	Hash      common.Hash        `json:"hash"`
	Height    int64              `json:"height"`
	Type      transaction.TxType `json:"type,omitempty"`
	Sender    common.Address     `json:"sender"`
	Nonce     uint64             `json:"nonce"`
	Code      exchange.Code      `json:"code"`
	CodeName  string             `json:"codeName"`
	Error     string             `json:"error,omitempty"`
	OrderID   uint64             `json:"orderId,omitempty"`
	FillSeq   uint64             `json:"fillSeq,omitempty"`
	TotalCost int64              `json:"totalCost,omitempty"`
	Fee       int64              `json:"fee,omitempty"`
}

func (r *Receipt) OK() bool { return r.Code == CodeOK }

func (r *Receipt) fail(code exchange.Code, err error) {
	r.Code = code
	r.CodeName = codeName(code)
	r.Error = err.Error()
}

// storeReceipt keeps the first receipt per hash and evicts the oldest once
// the log is full. Caller holds a.mu.
func (a *App) storeReceipt(r *Receipt) {
	if _, ok := a.receipts[r.Hash]; ok {
		return
	}
	a.receipts[r.Hash] = r
	a.receiptOrder = append(a.receiptOrder, r.Hash)
	for a.maxReceipts > 0 && len(a.receiptOrder) > a.maxReceipts {
		delete(a.receipts, a.receiptOrder[0])
		a.receiptOrder = a.receiptOrder[1:]
	}
}

// Receipt looks up the outcome of an executed transaction
func (a *App) Receipt(hash common.Hash) (Receipt, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.receipts[hash]
	if !ok {
		return Receipt{}, false
	}
	return *r, true
}
