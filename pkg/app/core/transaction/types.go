package transaction

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/creditswap/pkg/crypto"
)

// TxType names the exchange operation a transaction invokes
type TxType string

const (
	TxCreateOrder  TxType = "create_order"
	TxCancelOrder  TxType = "cancel_order"
	TxFillOrder    TxType = "fill_order"
	TxSetAdmin     TxType = "set_admin"
	TxPause        TxType = "pause"
	TxUnpause      TxType = "unpause"
	TxWithdrawFees TxType = "withdraw_fees"
)

// IsAdmin reports whether the type is an admin-only operation
func (t TxType) IsAdmin() bool {
	switch t {
	case TxSetAdmin, TxPause, TxUnpause, TxWithdrawFees:
		return true
	}
	return false
}

func (t TxType) known() bool {
	switch t {
	case TxCreateOrder, TxCancelOrder, TxFillOrder:
		return true
	}
	return t.IsAdmin()
}

var (
	ErrMalformed    = errors.New("malformed transaction")
	ErrBadSignature = errors.New("bad signature")
)

// SignedTransaction is the wire envelope of one exchange call. The
// signature is an EIP-712 signature over the fields as an Action.
//
//	{
//	  "type": "fill_order",
//	  "orderId": 1,
//	  "amount": 50,
//	  "nonce": 3,
//	  "sender": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//	  "signature": "0x..."
//	}
type SignedTransaction struct {
	Type      TxType `json:"type"`
	OrderID   uint64 `json:"orderId,omitempty"`
	Amount    int64  `json:"amount,omitempty"`
	Price     int64  `json:"price,omitempty"`
	Token     string `json:"token,omitempty"`  // credit token contract (create_order)
	Target    string `json:"target,omitempty"` // new admin or fee recipient
	Nonce     uint64 `json:"nonce"`
	Sender    string `json:"sender"`
	Signature string `json:"signature"`
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &tx, nil
}

// Validate checks the envelope structure. Amount and price rules belong to
// the exchange and are not checked here.
func (tx *SignedTransaction) Validate() error {
	if !tx.Type.known() {
		return fmt.Errorf("%w: unknown transaction type %q", ErrMalformed, tx.Type)
	}
	if !common.IsHexAddress(tx.Sender) {
		return fmt.Errorf("%w: invalid sender %q", ErrMalformed, tx.Sender)
	}
	if tx.Nonce == 0 {
		return fmt.Errorf("%w: nonce must start at 1", ErrMalformed)
	}
	if tx.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrMalformed)
	}

	switch tx.Type {
	case TxCreateOrder:
		if !common.IsHexAddress(tx.Token) {
			return fmt.Errorf("%w: invalid token %q", ErrMalformed, tx.Token)
		}
	case TxSetAdmin, TxWithdrawFees:
		if !common.IsHexAddress(tx.Target) {
			return fmt.Errorf("%w: invalid target %q", ErrMalformed, tx.Target)
		}
	}
	return nil
}

func (tx *SignedTransaction) SenderAddress() common.Address {
	return common.HexToAddress(tx.Sender)
}

func (tx *SignedTransaction) TokenAddress() common.Address {
	return common.HexToAddress(tx.Token)
}

func (tx *SignedTransaction) TargetAddress() common.Address {
	return common.HexToAddress(tx.Target)
}

// ToAction returns the typed struct the signature covers
func (tx *SignedTransaction) ToAction() *crypto.Action {
	return &crypto.Action{
		Type:    string(tx.Type),
		OrderID: tx.OrderID,
		Amount:  tx.Amount,
		Price:   tx.Price,
		Token:   tx.TokenAddress(),
		Target:  tx.TargetAddress(),
		Nonce:   tx.Nonce,
		Sender:  tx.SenderAddress(),
	}
}

// Hash is the Keccak-256 of the action fields and signature. Field order in
// the submitted JSON does not change it.
func (tx *SignedTransaction) Hash() common.Hash {
	canonical := *tx
	canonical.Sender = tx.SenderAddress().Hex()
	if tx.Token != "" {
		canonical.Token = tx.TokenAddress().Hex()
	}
	if tx.Target != "" {
		canonical.Target = tx.TargetAddress().Hex()
	}
	data, _ := canonical.Serialize()
	return crypto.Keccak256(data)
}

// ParseTransaction decodes and validates a raw transaction
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}

// Sign fills in Sender and Signature for tx using signer
func Sign(tx *SignedTransaction, signer *crypto.Signer, e *crypto.EIP712Signer) error {
	tx.Sender = signer.Address().Hex()
	sig, err := e.SignAction(signer, tx.ToAction())
	if err != nil {
		return fmt.Errorf("sign %s: %w", tx.Type, err)
	}
	tx.Signature = fmt.Sprintf("0x%x", sig)
	return nil
}
