package transaction

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/creditswap/pkg/crypto"
)

// Verifier checks that a transaction was signed by its sender
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Verify recovers the signer of tx and returns it as the caller identity.
// The recovered address must equal the declared sender.
func (v *Verifier) Verify(tx *SignedTransaction) (common.Address, error) {
	sigBytes, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	recovered, err := v.eip712Signer.RecoverActionSigner(tx.ToAction(), sigBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if recovered != tx.SenderAddress() {
		return common.Address{}, fmt.Errorf("%w: signed by %s, sender is %s", ErrBadSignature, recovered.Hex(), tx.SenderAddress().Hex())
	}
	return recovered, nil
}

// decodeSignature decodes hex-encoded signature (with or without 0x prefix)
func decodeSignature(sig string) ([]byte, error) {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}
	return sigBytes, nil
}

// Domain is the EIP-712 domain signatures are checked against
func (v *Verifier) Domain() crypto.EIP712Domain {
	return v.eip712Signer.Domain()
}
