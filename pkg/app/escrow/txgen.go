package escrow

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/creditswap/pkg/app/core/exchange"
	"github.com/uhyunpark/creditswap/pkg/app/core/transaction"
	"github.com/uhyunpark/creditswap/pkg/crypto"
)

// Funder credits devnet accounts
type Funder interface {
	Deposit(addr common.Address, amount int64) error
	Mint(token, addr common.Address, amount int64) error
}

// TxGenerator creates signed exchange transactions from simulated traders
// for load testing. Half the accounts sell, the other half buy.
type TxGenerator struct {
	signers []*crypto.Signer
	token   common.Address
	eip712  *crypto.EIP712Signer
	orders  func() []exchange.Order // active orders to fill or cancel
	nonces  map[common.Address]uint64
	rng     *rand.Rand
}

func NewTxGenerator(numAccounts int, token common.Address, domain crypto.EIP712Domain, orders func() []exchange.Order) (*TxGenerator, error) {
	if numAccounts < 2 {
		numAccounts = 2
	}
	signers := make([]*crypto.Signer, numAccounts)
	for i := range signers {
		s, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		signers[i] = s
	}
	return &TxGenerator{
		signers: signers,
		token:   token,
		eip712:  crypto.NewEIP712Signer(domain),
		orders:  orders,
		nonces:  make(map[common.Address]uint64),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Fund gives every seller credits and every buyer native balance
func (g *TxGenerator) Fund(f Funder, credits, native int64) error {
	for i, s := range g.signers {
		var err error
		if g.isSeller(i) {
			err = f.Mint(g.token, s.Address(), credits)
		} else {
			err = f.Deposit(s.Address(), native)
		}
		if err != nil {
			return fmt.Errorf("fund %s: %w", s.Address().Hex(), err)
		}
	}
	return nil
}

func (g *TxGenerator) isSeller(i int) bool { return i%2 == 0 }

// Next returns one signed transaction. The mix is roughly 40% new orders,
// 50% fills and 10% cancels; fills and cancels fall back to new orders while
// nothing is listed.
func (g *TxGenerator) Next() ([]byte, error) {
	var active []exchange.Order
	if g.orders != nil {
		active = g.orders()
	}

	r := g.rng.Intn(100)
	switch {
	case r < 40 || len(active) == 0:
		seller := g.signers[2*g.rng.Intn((len(g.signers)+1)/2)]
		return g.sign(seller, transaction.SignedTransaction{
			Type:   transaction.TxCreateOrder,
			Amount: int64(g.rng.Intn(100) + 1),
			Price:  int64(900 + g.rng.Intn(200)), // around 1000 per credit
			Token:  g.token.Hex(),
		})
	case r < 90:
		o := active[g.rng.Intn(len(active))]
		buyer := g.signers[2*g.rng.Intn(len(g.signers)/2)+1]
		amount := int64(g.rng.Intn(10) + 1)
		if amount > o.RemainingAmount {
			amount = o.RemainingAmount
		}
		return g.sign(buyer, transaction.SignedTransaction{
			Type: transaction.TxFillOrder, OrderID: o.ID, Amount: amount,
		})
	default:
		o := active[g.rng.Intn(len(active))]
		seller := g.signerFor(o.Seller)
		if seller == nil {
			return g.Next()
		}
		return g.sign(seller, transaction.SignedTransaction{
			Type: transaction.TxCancelOrder, OrderID: o.ID,
		})
	}
}

// GenerateBatch returns up to n transactions, skipping any that fail to sign
func (g *TxGenerator) GenerateBatch(n int) [][]byte {
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		tx, err := g.Next()
		if err != nil {
			continue
		}
		out = append(out, tx)
	}
	return out
}

func (g *TxGenerator) signerFor(addr common.Address) *crypto.Signer {
	for _, s := range g.signers {
		if s.Address() == addr {
			return s
		}
	}
	return nil
}

func (g *TxGenerator) sign(s *crypto.Signer, tx transaction.SignedTransaction) ([]byte, error) {
	g.nonces[s.Address()]++
	tx.Nonce = g.nonces[s.Address()]
	if err := transaction.Sign(&tx, s, g.eip712); err != nil {
		return nil, err
	}
	return tx.Serialize()
}

// Signers returns all simulated traders
func (g *TxGenerator) Signers() []*crypto.Signer {
	return g.signers
}
