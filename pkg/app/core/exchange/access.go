package exchange

import (
	"github.com/ethereum/go-ethereum/common"
)

// SetAdmin replaces the admin. Only the current admin may call it.
func (x *Exchange) SetAdmin(caller, newAdmin common.Address) error {
	ev, err := x.setAdmin(caller, newAdmin)
	if err != nil {
		return err
	}
	x.emit(ev)
	return nil
}

func (x *Exchange) setAdmin(caller, newAdmin common.Address) (*Event, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if caller != x.meta.Admin {
		return nil, ErrUnauthorized
	}
	if newAdmin == (common.Address{}) {
		return nil, ErrInvalidRecipient
	}

	cs := x.changeset()
	cs.Meta.Admin = newAdmin
	if err := x.persist(cs, nil); err != nil {
		return nil, err
	}
	x.apply(cs)

	x.logger.Infow("admin_changed", "old", caller.Hex(), "new", newAdmin.Hex())
	return x.event(Event{Kind: EventAdminChanged, Actor: caller, NewAdmin: newAdmin}), nil
}

// Pause blocks order creation, cancellation and fills
func (x *Exchange) Pause(caller common.Address) error {
	ev, err := x.setPaused(caller, true)
	if err != nil {
		return err
	}
	x.emit(ev)
	return nil
}

// Unpause lifts a previous Pause
func (x *Exchange) Unpause(caller common.Address) error {
	ev, err := x.setPaused(caller, false)
	if err != nil {
		return err
	}
	x.emit(ev)
	return nil
}

func (x *Exchange) setPaused(caller common.Address, paused bool) (*Event, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if caller != x.meta.Admin {
		return nil, ErrUnauthorized
	}

	cs := x.changeset()
	cs.Meta.Paused = paused
	if err := x.persist(cs, nil); err != nil {
		return nil, err
	}
	x.apply(cs)

	kind := EventUnpaused
	if paused {
		kind = EventPaused
	}
	x.logger.Infow(string(kind), "admin", caller.Hex())
	return x.event(Event{Kind: kind, Actor: caller}), nil
}

// WithdrawFees sends amount of accrued fees from the treasury to recipient
// and lowers the fee accumulator by the same amount. Allowed while paused.
func (x *Exchange) WithdrawFees(caller common.Address, amount int64, recipient common.Address) error {
	ev, err := x.withdrawFees(caller, amount, recipient)
	if err != nil {
		return err
	}
	x.emit(ev)
	return nil
}

func (x *Exchange) withdrawFees(caller common.Address, amount int64, recipient common.Address) (*Event, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if caller != x.meta.Admin {
		return nil, ErrUnauthorized
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if recipient == (common.Address{}) {
		return nil, ErrInvalidRecipient
	}
	if amount > x.meta.TotalFeesCollected {
		return nil, ErrInsufficientFunds
	}

	legs := []leg{{
		name:   "fee_withdrawal",
		kind:   legNative,
		amount: amount,
		from:   x.cfg.Treasury,
		to:     recipient,
	}}
	if err := x.checkLegs(legs); err != nil {
		return nil, err
	}
	defer x.stage()()
	if err := x.executeLegs(legs); err != nil {
		return nil, err
	}

	cs := x.changeset()
	cs.Meta.TotalFeesCollected -= amount
	if err := x.persist(cs, legs); err != nil {
		return nil, err
	}
	x.apply(cs)

	x.logger.Infow("fees_withdrawn",
		"admin", caller.Hex(),
		"recipient", recipient.Hex(),
		"amount", amount,
		"remaining", x.meta.TotalFeesCollected)
	return x.event(Event{Kind: EventFeesWithdrawn, Actor: caller, Amount: amount, Recipient: recipient}), nil
}
