package bank

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/creditswap/pkg/app/core/exchange"
)

// Account holds the balances of one address: the native settlement
// currency plus credits per token contract
type Account struct {
	Address common.Address           `json:"address"`
	Native  int64                    `json:"native"`
	Tokens  map[common.Address]int64 `json:"tokens"` // token contract -> credits
}

// NewAccount creates an account with zero balance
func NewAccount(addr common.Address) *Account {
	return &Account{
		Address: addr,
		Tokens:  make(map[common.Address]int64),
	}
}

func (a *Account) clone() *Account {
	c := &Account{
		Address: a.Address,
		Native:  a.Native,
		Tokens:  make(map[common.Address]int64, len(a.Tokens)),
	}
	for t, v := range a.Tokens {
		c.Tokens[t] = v
	}
	return c
}

// Validate checks that no balance went negative
func (a *Account) Validate() error {
	if a.Native < 0 {
		return fmt.Errorf("negative native balance: %d", a.Native)
	}
	for token, v := range a.Tokens {
		if v < 0 {
			return fmt.Errorf("negative balance of %s: %d", token.Hex(), v)
		}
	}
	return nil
}

// Balance is one persisted balance row
type Balance = exchange.Balance
