package exchange

import "github.com/ethereum/go-ethereum/common"

type EventKind string

const (
	EventOrderCreated   EventKind = "order_created"
	EventOrderCancelled EventKind = "order_cancelled"
	EventOrderFilled    EventKind = "order_filled"
	EventAdminChanged   EventKind = "admin_changed"
	EventPaused         EventKind = "paused"
	EventUnpaused       EventKind = "unpaused"
	EventFeesWithdrawn  EventKind = "fees_withdrawn"
)

// Event describes one successful state change. Seq numbers events in the
// order their operations committed, starting at 1 for each process.
type Event struct {
	Seq       uint64
	Kind      EventKind
	Actor     common.Address
	Order     *Order      // order events: the order after the change
	Fill      *FillRecord // EventOrderFilled only
	Amount    int64       // EventFeesWithdrawn: withdrawn amount
	Recipient common.Address
	NewAdmin  common.Address
}

// event stamps ev with the next sequence number. Caller holds x.mu.
func (x *Exchange) event(ev Event) *Event {
	x.eventSeq++
	ev.Seq = x.eventSeq
	return &ev
}
