package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	DomainName    = "CreditSwap"
	DomainVersion = "1"
)

// EIP712Domain binds signatures to one chain and one custody account
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // custody account of the exchange
}

// NewDomain returns the exchange domain for chainID and custody
func NewDomain(chainID int64, custody common.Address) EIP712Domain {
	return EIP712Domain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainID:           big.NewInt(chainID),
		VerifyingContract: custody,
	}
}

// Action is the typed struct a user signs for every exchange transaction.
// Fields an action type does not use are zero.
type Action struct {
	Type    string // create_order, cancel_order, fill_order, ...
	OrderID uint64
	Amount  int64
	Price   int64
	Token   common.Address
	Target  common.Address // new admin or fee recipient
	Nonce   uint64
	Sender  common.Address
}

var actionTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Action": []apitypes.Type{
		{Name: "action", Type: "string"},
		{Name: "orderId", Type: "uint256"},
		{Name: "amount", Type: "int256"},
		{Name: "price", Type: "int256"},
		{Name: "token", Type: "address"},
		{Name: "target", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "sender", Type: "address"},
	},
}

// EIP712Signer hashes and signs actions within one domain
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain {
	return e.domain
}

func (e *EIP712Signer) typedData(a *Action) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       actionTypes,
		PrimaryType: "Action",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"action":  a.Type,
			"orderId": strconv.FormatUint(a.OrderID, 10),
			"amount":  strconv.FormatInt(a.Amount, 10),
			"price":   strconv.FormatInt(a.Price, 10),
			"token":   a.Token.Hex(),
			"target":  a.Target.Hex(),
			"nonce":   strconv.FormatUint(a.Nonce, 10),
			"sender":  a.Sender.Hex(),
		},
	}
}

// HashAction returns the EIP-712 digest of an action
func (e *EIP712Signer) HashAction(a *Action) ([]byte, error) {
	typedData := e.typedData(a)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash action: %w", err)
	}

	// keccak256("\x19\x01" || domainSeparator || structHash)
	digest := Keccak256([]byte{0x19, 0x01}, domainSeparator, structHash)
	return digest.Bytes(), nil
}

func (e *EIP712Signer) SignAction(signer *Signer, a *Action) ([]byte, error) {
	hash, err := e.HashAction(a)
	if err != nil {
		return nil, err
	}
	return signer.Sign(hash)
}

// RecoverActionSigner returns the address that signed the action
func (e *EIP712Signer) RecoverActionSigner(a *Action, signature []byte) (common.Address, error) {
	hash, err := e.HashAction(a)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// ActionToJSON renders the typed data in the eth_signTypedData_v4 format
// wallets expect
func (e *EIP712Signer) ActionToJSON(a *Action) (string, error) {
	td := e.typedData(a)
	out := map[string]interface{}{
		"types":       td.Types,
		"primaryType": td.PrimaryType,
		"domain": map[string]interface{}{
			"name":              e.domain.Name,
			"version":           e.domain.Version,
			"chainId":           e.domain.ChainID.String(),
			"verifyingContract": e.domain.VerifyingContract.Hex(),
		},
		"message": td.Message,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}
