package exchange

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
)

// FeeFor computes floor(totalCost * feePercent / 100) without overflowing
// for any non-negative int64 cost
func FeeFor(totalCost, feePercent int64) int64 {
	return totalCost/100*feePercent + (totalCost%100)*feePercent/100
}

// FillOrder buys fillAmount credits from an active order. The buyer pays
// the full cost into custody, custody pays the seller net of fee and the
// community fund the fee, then custody delivers the credits to the buyer.
// Either all four transfers happen and the fill is recorded, or nothing
// changes.
func (x *Exchange) FillOrder(caller common.Address, orderID uint64, fillAmount int64) (*FillReceipt, error) {
	receipt, ev, err := x.fillOrder(caller, orderID, fillAmount)
	if err != nil {
		return nil, err
	}
	x.emit(ev)
	return receipt, nil
}

func (x *Exchange) fillOrder(buyer common.Address, orderID uint64, fillAmount int64) (*FillReceipt, *Event, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.meta.Paused {
		return nil, nil, ErrPaused
	}
	o, ok := x.orders[orderID]
	if !ok {
		return nil, nil, ErrOrderNotFound
	}
	if !o.Active {
		return nil, nil, ErrOrderNotActive
	}
	if fillAmount <= 0 || fillAmount > o.RemainingAmount {
		return nil, nil, fmt.Errorf("%w: fill %d of remaining %d", ErrInvalidAmount, fillAmount, o.RemainingAmount)
	}
	if fillAmount > math.MaxInt64/o.PricePerUnit {
		return nil, nil, fmt.Errorf("%w: cost of %d at %d overflows", ErrInvalidAmount, fillAmount, o.PricePerUnit)
	}

	totalCost := fillAmount * o.PricePerUnit
	fee := FeeFor(totalCost, x.cfg.FeePercent)
	net := totalCost - fee

	legs := []leg{
		{name: "buyer_payment", kind: legNative, amount: totalCost, from: buyer, to: x.cfg.Custody},
		{name: "seller_payout", kind: legNative, amount: net, from: x.cfg.Custody, to: o.Seller},
		{name: "protocol_fee", kind: legNative, amount: fee, from: x.cfg.Custody, to: x.cfg.CommunityFund},
		{name: "credit_delivery", kind: legToken, token: o.TokenContract, amount: fillAmount, from: x.cfg.Custody, to: buyer},
	}
	if err := x.checkLegs(legs); err != nil {
		return nil, nil, err
	}
	defer x.stage()()
	if err := x.executeLegs(legs); err != nil {
		x.logger.Warnw("fill_failed", "order_id", orderID, "buyer", buyer.Hex(), "err", err)
		return nil, nil, err
	}

	updated := *o
	updated.RemainingAmount -= fillAmount
	updated.FilledAmount += fillAmount
	updated.Active = updated.RemainingAmount > 0

	seq := x.history.nextSeq(orderID)
	fill := FillRecord{
		OrderID:      orderID,
		Seq:          seq,
		Buyer:        buyer,
		FilledAmount: fillAmount,
		FillPrice:    o.PricePerUnit,
		Fee:          fee,
		Timestamp:    x.now(),
	}

	cs := x.changeset()
	cs.Meta.TotalFeesCollected += fee
	cs.Orders = []Order{updated}
	if updated.Active {
		cs.EscrowPut = []EscrowRecord{{OrderID: orderID, EscrowedAmount: updated.RemainingAmount}}
	} else {
		cs.EscrowDelete = []uint64{orderID}
	}
	cs.Fills = []FillRecord{fill}
	cs.FillSeq = map[uint64]uint64{orderID: seq}
	if err := x.persist(cs, legs); err != nil {
		return nil, nil, err
	}
	x.apply(cs)

	x.logger.Infow("order_filled",
		"order_id", orderID,
		"seq", seq,
		"buyer", buyer.Hex(),
		"amount", fillAmount,
		"total_cost", totalCost,
		"fee", fee,
		"remaining", updated.RemainingAmount)

	receipt := &FillReceipt{Fill: fill, TotalCost: totalCost, Fee: fee, NetToSeller: net}
	return receipt, x.event(Event{Kind: EventOrderFilled, Actor: buyer, Order: &updated, Fill: &fill}), nil
}
