package exchange

import "github.com/ethereum/go-ethereum/common"

// GetOrderDetails returns a copy of the order, or false if the id was never
// issued
func (x *Exchange) GetOrderDetails(orderID uint64) (Order, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	o, ok := x.orders[orderID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// GetUserOrders lists the ids of every order the user created, in creation
// order, including inactive ones
func (x *Exchange) GetUserOrders(user common.Address) []uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]uint64{}, x.userOrders[user]...)
}

// GetOrderHistory returns fill number seq of an order
func (x *Exchange) GetOrderHistory(orderID, seq uint64) (FillRecord, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.history.lookup(orderID, seq)
}

func (x *Exchange) GetOrderFills(orderID uint64) []FillRecord {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.history.forOrder(orderID)
}

func (x *Exchange) GetFillCount(orderID uint64) uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.history.count(orderID)
}

func (x *Exchange) GetEscrow(orderID uint64) (EscrowRecord, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.escrow[orderID]
	if !ok {
		return EscrowRecord{}, false
	}
	return *e, true
}

func (x *Exchange) IsPaused() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.meta.Paused
}

func (x *Exchange) GetTotalFees() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.meta.TotalFeesCollected
}

// GetNextOrderID is the id the next created order will receive
func (x *Exchange) GetNextOrderID() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.meta.NextOrderID
}

func (x *Exchange) GetAdmin() common.Address {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.meta.Admin
}

// ActiveOrders returns the active orders sorted by id
func (x *Exchange) ActiveOrders() []Order {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Order, 0, len(x.escrow))
	for id := uint64(1); id < x.meta.NextOrderID; id++ {
		if o, ok := x.orders[id]; ok && o.Active {
			out = append(out, *o)
		}
	}
	return out
}
