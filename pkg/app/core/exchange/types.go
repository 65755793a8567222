package exchange

import (
	"github.com/ethereum/go-ethereum/common"
)

// OrderStatus is the lifecycle state of a sell order, derived from its
// quantities and active flag
type OrderStatus int8

const (
	OrderOpen OrderStatus = iota
	OrderPartiallyFilled
	OrderFilled
	OrderCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderOpen:
		return "open"
	case OrderPartiallyFilled:
		return "partially_filled"
	case OrderFilled:
		return "filled"
	case OrderCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Order is one sell listing. Amount, PricePerUnit, Seller and TokenContract
// never change after creation.
type Order struct {
	ID              uint64         `json:"id"`
	Seller          common.Address `json:"seller"`
	Amount          int64          `json:"amount"`          // original listed quantity
	PricePerUnit    int64          `json:"pricePerUnit"`    // native units per credit
	RemainingAmount int64          `json:"remainingAmount"` // still fillable, 0 once inactive
	FilledAmount    int64          `json:"filledAmount"`    // sum of all fills
	Active          bool           `json:"active"`
	CreatedAt       int64          `json:"createdAt"` // Unix milliseconds
	TokenContract   common.Address `json:"tokenContract"`
}

// Status derives the lifecycle state. An inactive order that was not fully
// filled was cancelled.
func (o *Order) Status() OrderStatus {
	switch {
	case o.Active && o.FilledAmount == 0:
		return OrderOpen
	case o.Active:
		return OrderPartiallyFilled
	case o.FilledAmount == o.Amount:
		return OrderFilled
	default:
		return OrderCancelled
	}
}

// EscrowRecord tracks the credits held in custody for one active order.
// EscrowedAmount always equals the order's RemainingAmount.
type EscrowRecord struct {
	OrderID        uint64 `json:"orderId"`
	EscrowedAmount int64  `json:"escrowedAmount"`
}

// FillRecord is an immutable history entry keyed by (OrderID, Seq).
// Seq starts at 1 for every order.
type FillRecord struct {
	OrderID      uint64         `json:"orderId"`
	Seq          uint64         `json:"seq"`
	Buyer        common.Address `json:"buyer"`
	FilledAmount int64          `json:"filledAmount"`
	FillPrice    int64          `json:"fillPrice"` // order price at fill time
	Fee          int64          `json:"fee"`
	Timestamp    int64          `json:"timestamp"` // Unix milliseconds
}

// FillReceipt is returned by FillOrder with the settlement breakdown
type FillReceipt struct {
	Fill        FillRecord
	TotalCost   int64
	Fee         int64
	NetToSeller int64
}

// Meta holds the process-wide scalars of the exchange state
type Meta struct {
	Paused             bool           `json:"paused"`
	Admin              common.Address `json:"admin"`
	NextOrderID        uint64         `json:"nextOrderId"`
	TotalFeesCollected int64          `json:"totalFeesCollected"`
}

// Snapshot is a deep copy of the whole exchange state. It is what the
// journal reloads on boot and what the application hashes per block.
type Snapshot struct {
	Meta       Meta
	Orders     []Order                     // sorted by ID
	Escrow     []EscrowRecord              // sorted by OrderID
	UserOrders map[common.Address][]uint64 // creation order
	Fills      []FillRecord                // sorted by (OrderID, Seq)
	FillSeq    map[uint64]uint64           // order id -> last sequence number
}
