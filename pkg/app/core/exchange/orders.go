package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// CreateSellOrder locks amount credits of token from the caller into custody
// and lists them at pricePerUnit. Returns the new order id.
func (x *Exchange) CreateSellOrder(caller common.Address, amount, pricePerUnit int64, token common.Address) (uint64, error) {
	ev, err := x.createSellOrder(caller, amount, pricePerUnit, token)
	if err != nil {
		return 0, err
	}
	x.emit(ev)
	return ev.Order.ID, nil
}

func (x *Exchange) createSellOrder(caller common.Address, amount, pricePerUnit int64, token common.Address) (*Event, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.meta.Paused {
		return nil, ErrPaused
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if pricePerUnit <= 0 {
		return nil, ErrInvalidPrice
	}
	if len(x.userOrders[caller]) >= x.cfg.MaxOrdersPerUser {
		return nil, fmt.Errorf("%w: %d orders", ErrTooManyOrders, len(x.userOrders[caller]))
	}

	legs := []leg{{
		name:   "escrow_deposit",
		kind:   legToken,
		token:  token,
		amount: amount,
		from:   caller,
		to:     x.cfg.Custody,
	}}
	if err := x.checkLegs(legs); err != nil {
		return nil, err
	}
	defer x.stage()()
	if err := x.executeLegs(legs); err != nil {
		return nil, err
	}

	id := x.meta.NextOrderID
	order := Order{
		ID:              id,
		Seller:          caller,
		Amount:          amount,
		PricePerUnit:    pricePerUnit,
		RemainingAmount: amount,
		Active:          true,
		CreatedAt:       x.now(),
		TokenContract:   token,
	}

	ids := make([]uint64, 0, len(x.userOrders[caller])+1)
	ids = append(ids, x.userOrders[caller]...)
	ids = append(ids, id)

	cs := x.changeset()
	cs.Meta.NextOrderID = id + 1
	cs.Orders = []Order{order}
	cs.EscrowPut = []EscrowRecord{{OrderID: id, EscrowedAmount: amount}}
	cs.UserOrders = map[common.Address][]uint64{caller: ids}
	if err := x.persist(cs, legs); err != nil {
		return nil, err
	}
	x.apply(cs)

	x.logger.Infow("order_created",
		"order_id", id,
		"seller", caller.Hex(),
		"amount", amount,
		"price", pricePerUnit,
		"token", token.Hex())
	return x.event(Event{Kind: EventOrderCreated, Actor: caller, Order: &order}), nil
}

// CancelOrder returns the escrowed remainder to the seller and deactivates
// the order
func (x *Exchange) CancelOrder(caller common.Address, orderID uint64) error {
	ev, err := x.cancelOrder(caller, orderID)
	if err != nil {
		return err
	}
	x.emit(ev)
	return nil
}

func (x *Exchange) cancelOrder(caller common.Address, orderID uint64) (*Event, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.meta.Paused {
		return nil, ErrPaused
	}
	o, ok := x.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.Seller != caller {
		return nil, ErrNotOwner
	}
	if !o.Active {
		return nil, ErrOrderNotActive
	}
	esc, ok := x.escrow[orderID]
	if !ok {
		return nil, &Error{Code: CodeInternal, Msg: fmt.Sprintf("active order %d has no escrow", orderID)}
	}

	legs := []leg{{
		name:   "escrow_release",
		kind:   legToken,
		token:  o.TokenContract,
		amount: esc.EscrowedAmount,
		from:   x.cfg.Custody,
		to:     o.Seller,
	}}
	if err := x.checkLegs(legs); err != nil {
		return nil, err
	}
	defer x.stage()()
	if err := x.executeLegs(legs); err != nil {
		return nil, err
	}

	updated := *o
	updated.Active = false
	updated.RemainingAmount = 0

	cs := x.changeset()
	cs.Orders = []Order{updated}
	cs.EscrowDelete = []uint64{orderID}
	if err := x.persist(cs, legs); err != nil {
		return nil, err
	}
	x.apply(cs)

	x.logger.Infow("order_cancelled",
		"order_id", orderID,
		"seller", caller.Hex(),
		"returned", esc.EscrowedAmount)
	return x.event(Event{Kind: EventOrderCancelled, Actor: caller, Order: &updated}), nil
}
