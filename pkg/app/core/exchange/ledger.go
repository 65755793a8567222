package exchange

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
)

// TokenLedger moves custody of the traded credit. It is the only way the
// exchange touches credit balances.
type TokenLedger interface {
	TransferToken(token common.Address, amount int64, from, to common.Address) error
}

// NativeLedger moves the settlement currency
type NativeLedger interface {
	TransferNative(amount int64, from, to common.Address) error
}

// TokenBalances is implemented by token ledgers that can report balances.
// When present, multi-leg settlements are checked before any leg executes.
type TokenBalances interface {
	TokenBalance(token common.Address, addr common.Address) int64
}

// NativeBalances is the native-currency counterpart of TokenBalances
type NativeBalances interface {
	NativeBalance(addr common.Address) int64
}

// Balance is one persisted ledger row. Native rows leave Token zero.
type Balance struct {
	Address common.Address `json:"address"`
	Native  bool           `json:"native"`
	Token   common.Address `json:"token,omitempty"`
	Amount  int64          `json:"amount"`
}

// StagedLedger is implemented by ledgers that can hold back persisting
// their transfers so the journal writes the touched balances in the same
// batch as the operation's changeset. Between BeginStage and EndStage the
// ledger must not persist transfers itself; Staged returns the current
// rows of every balance touched since BeginStage.
type StagedLedger interface {
	BeginStage()
	Staged() []Balance
	EndStage()
}

type legKind uint8

const (
	legNative legKind = iota
	legToken
)

// leg is one transfer request within an operation
type leg struct {
	name   string
	kind   legKind
	token  common.Address
	amount int64
	from   common.Address
	to     common.Address
}

func (l leg) reversed() leg {
	return leg{
		name:   l.name + "_reversal",
		kind:   l.kind,
		token:  l.token,
		amount: l.amount,
		from:   l.to,
		to:     l.from,
	}
}

type balanceKey struct {
	kind  legKind
	token common.Address
	addr  common.Address
}

// checkLegs replays legs against current balances and reports the first leg
// that would overdraw its source. Ledgers that cannot report balances are
// not checked.
func (x *Exchange) checkLegs(legs []leg) error {
	nb, nativeOK := x.native.(NativeBalances)
	tb, tokenOK := x.tokens.(TokenBalances)
	if !nativeOK && !tokenOK {
		return nil
	}

	running := make(map[balanceKey]int64)
	balance := func(k balanceKey) int64 {
		if v, ok := running[k]; ok {
			return v
		}
		var v int64
		if k.kind == legNative {
			v = nb.NativeBalance(k.addr)
		} else {
			v = tb.TokenBalance(k.token, k.addr)
		}
		running[k] = v
		return v
	}

	for _, l := range legs {
		if (l.kind == legNative && !nativeOK) || (l.kind == legToken && !tokenOK) {
			continue
		}
		from := balanceKey{kind: l.kind, token: l.token, addr: l.from}
		to := balanceKey{kind: l.kind, token: l.token, addr: l.to}
		have := balance(from)
		if have < l.amount {
			return fmt.Errorf("%s: %w: have %d, need %d", l.name, ErrInsufficientFunds, have, l.amount)
		}
		running[from] = have - l.amount
		dst := balance(to)
		if dst > math.MaxInt64-l.amount {
			return fmt.Errorf("%s: %w: credit of %d overflows balance %d", l.name, ErrInvalidAmount, l.amount, dst)
		}
		running[to] = dst + l.amount
	}
	return nil
}

// stagers returns the distinct ledgers that stage their writes. Nothing is
// staged without a journal to write the rows.
func (x *Exchange) stagers() []StagedLedger {
	if x.journal == nil {
		return nil
	}
	var out []StagedLedger
	if s, ok := x.tokens.(StagedLedger); ok {
		out = append(out, s)
	}
	if s, ok := x.native.(StagedLedger); ok && (len(out) == 0 || out[0] != s) {
		out = append(out, s)
	}
	return out
}

// stage starts staging on every staged ledger and returns the func that
// ends it. Caller holds x.mu.
func (x *Exchange) stage() func() {
	stagers := x.stagers()
	for _, s := range stagers {
		s.BeginStage()
	}
	return func() {
		for _, s := range stagers {
			s.EndStage()
		}
	}
}

func (x *Exchange) stagedBalances() []Balance {
	var rows []Balance
	for _, s := range x.stagers() {
		rows = append(rows, s.Staged()...)
	}
	return rows
}

func (x *Exchange) transfer(l leg) error {
	var err error
	if l.kind == legNative {
		err = x.native.TransferNative(l.amount, l.from, l.to)
	} else {
		err = x.tokens.TransferToken(l.token, l.amount, l.from, l.to)
	}
	if err != nil {
		return transferError(l.name, err)
	}
	return nil
}

// executeLegs runs legs in order, each only after the previous one
// succeeded. On failure the legs already executed are reversed, newest
// first, and the leg error is returned.
func (x *Exchange) executeLegs(legs []leg) error {
	for i, l := range legs {
		if l.amount == 0 {
			continue
		}
		if err := x.transfer(l); err != nil {
			if cerr := x.reverseLegs(legs[:i]); cerr != nil {
				return fmt.Errorf("%w (compensation failed: %v)", err, cerr)
			}
			return err
		}
	}
	return nil
}

// reverseLegs undoes executed legs newest first. It keeps going after a
// failed reversal so as much as possible is returned.
func (x *Exchange) reverseLegs(done []leg) error {
	var first error
	for i := len(done) - 1; i >= 0; i-- {
		if done[i].amount == 0 {
			continue
		}
		r := done[i].reversed()
		if err := x.transfer(r); err != nil {
			x.logger.Errorw("leg_compensation_failed",
				"leg", r.name,
				"amount", r.amount,
				"from", r.from.Hex(),
				"to", r.to.Hex(),
				"err", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
