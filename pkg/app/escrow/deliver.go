package escrow

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/creditswap/pkg/app/core/exchange"
	"github.com/uhyunpark/creditswap/pkg/app/core/transaction"
	"github.com/uhyunpark/creditswap/pkg/crypto"
)

// deliverTx executes one transaction of the block being finalized. Caller
// holds a.mu. A transaction that reaches the exchange consumes its nonce
// whether or not the exchange call succeeds.
func (a *App) deliverTx(raw []byte, height int64, advanced map[common.Address]uint64) *Receipt {
	r := &Receipt{Height: height}

	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		r.Hash = crypto.Keccak256(raw)
		r.fail(CodeBadTx, err)
		a.metrics.ObserveTx("unknown", r.CodeName, false)
		a.logger.Warnw("tx_rejected", "hash", r.Hash.Hex(), "code", r.CodeName, "err", err)
		return r
	}
	r.Hash = tx.Hash()
	r.Type = tx.Type
	r.Nonce = tx.Nonce
	delete(a.pending, r.Hash)

	sender, err := a.verifier.Verify(tx)
	if err != nil {
		r.fail(CodeBadSignature, err)
		a.observe(r)
		return r
	}
	r.Sender = sender

	if last := a.nonces[sender]; tx.Nonce <= last {
		r.fail(CodeBadNonce, ErrStaleNonce)
		a.observe(r)
		return r
	}
	a.nonces[sender] = tx.Nonce
	advanced[sender] = tx.Nonce

	if err := a.dispatch(tx, sender, r); err != nil {
		r.fail(exchange.CodeOf(err), err)
	} else {
		r.CodeName = codeName(CodeOK)
	}
	a.observe(r)
	return r
}

// dispatch calls the exchange operation named by tx with sender as caller
func (a *App) dispatch(tx *transaction.SignedTransaction, sender common.Address, r *Receipt) error {
	x := a.exchange
	switch tx.Type {
	case transaction.TxCreateOrder:
		id, err := x.CreateSellOrder(sender, tx.Amount, tx.Price, tx.TokenAddress())
		r.OrderID = id
		return err
	case transaction.TxCancelOrder:
		r.OrderID = tx.OrderID
		return x.CancelOrder(sender, tx.OrderID)
	case transaction.TxFillOrder:
		r.OrderID = tx.OrderID
		fill, err := x.FillOrder(sender, tx.OrderID, tx.Amount)
		if err != nil {
			return err
		}
		r.FillSeq = fill.Fill.Seq
		r.TotalCost = fill.TotalCost
		r.Fee = fill.Fee
		return nil
	case transaction.TxSetAdmin:
		return x.SetAdmin(sender, tx.TargetAddress())
	case transaction.TxPause:
		return x.Pause(sender)
	case transaction.TxUnpause:
		return x.Unpause(sender)
	case transaction.TxWithdrawFees:
		return x.WithdrawFees(sender, tx.Amount, tx.TargetAddress())
	default:
		return &exchange.Error{Code: exchange.CodeInternal, Msg: "unhandled transaction type " + string(tx.Type)}
	}
}

func (a *App) observe(r *Receipt) {
	ok := r.Code == CodeOK
	a.metrics.ObserveTx(string(r.Type), r.CodeName, ok)
	if !ok {
		a.logger.Infow("tx_failed",
			"hash", r.Hash.Hex(),
			"type", r.Type,
			"sender", r.Sender.Hex(),
			"code", r.CodeName,
			"err", r.Error)
	}
}
