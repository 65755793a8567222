package api

import (
	"github.com/uhyunpark/creditswap/pkg/app/core/exchange"
	"github.com/uhyunpark/creditswap/pkg/app/escrow"
)

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// OrderInfo is a sell order with its derived status
type OrderInfo struct {
	ID              uint64 `json:"id"`
	Seller          string `json:"seller"`
	TokenContract   string `json:"tokenContract"`
	Amount          int64  `json:"amount"`
	PricePerUnit    int64  `json:"pricePerUnit"`
	RemainingAmount int64  `json:"remainingAmount"`
	FilledAmount    int64  `json:"filledAmount"`
	Active          bool   `json:"active"`
	Status          string `json:"status"`    // open, partially_filled, filled, cancelled
	CreatedAt       int64  `json:"createdAt"` // Unix milliseconds
}

func newOrderInfo(o exchange.Order) OrderInfo {
	return OrderInfo{
		ID:              o.ID,
		Seller:          o.Seller.Hex(),
		TokenContract:   o.TokenContract.Hex(),
		Amount:          o.Amount,
		PricePerUnit:    o.PricePerUnit,
		RemainingAmount: o.RemainingAmount,
		FilledAmount:    o.FilledAmount,
		Active:          o.Active,
		Status:          o.Status().String(),
		CreatedAt:       o.CreatedAt,
	}
}

type EscrowInfo struct {
	OrderID        uint64 `json:"orderId"`
	EscrowedAmount int64  `json:"escrowedAmount"`
}

// FillInfo is one entry of an order's fill history
type FillInfo struct {
	OrderID      uint64 `json:"orderId"`
	Seq          uint64 `json:"seq"`
	Buyer        string `json:"buyer"`
	FilledAmount int64  `json:"filledAmount"`
	FillPrice    int64  `json:"fillPrice"`
	Fee          int64  `json:"fee"`
	Timestamp    int64  `json:"timestamp"` // Unix milliseconds
}

func newFillInfo(f exchange.FillRecord) FillInfo {
	return FillInfo{
		OrderID:      f.OrderID,
		Seq:          f.Seq,
		Buyer:        f.Buyer.Hex(),
		FilledAmount: f.FilledAmount,
		FillPrice:    f.FillPrice,
		Fee:          f.Fee,
		Timestamp:    f.Timestamp,
	}
}

// AccountOrders lists every order an address created, oldest first
type AccountOrders struct {
	Address  string   `json:"address"`
	OrderIDs []uint64 `json:"orderIds"`
}

// BalanceInfo is the devnet ledger view of one address
type BalanceInfo struct {
	Address string           `json:"address"`
	Native  int64            `json:"native"`
	Tokens  map[string]int64 `json:"tokens,omitempty"` // token contract -> credits
	Nonce   uint64           `json:"nonce"`            // last executed tx nonce
}

// ExchangeInfo is the exchange configuration and global counters
type ExchangeInfo struct {
	ChainID            int64  `json:"chainId"`
	Admin              string `json:"admin"`
	Custody            string `json:"custody"`
	CommunityFund      string `json:"communityFund"`
	Treasury           string `json:"treasury"`
	FeePercent         int64  `json:"feePercent"`
	MaxOrdersPerUser   int    `json:"maxOrdersPerUser"`
	Paused             bool   `json:"paused"`
	NextOrderID        uint64 `json:"nextOrderId"`
	TotalFeesCollected int64  `json:"totalFeesCollected"`
	ActiveOrders       int    `json:"activeOrders"`
	Height             int64  `json:"height"`
	MempoolSize        int    `json:"mempoolSize"`
}

// SubmitTxResponse is returned when a signed transaction enters the mempool
type SubmitTxResponse struct {
	Status string `json:"status"` // "pending"
	Hash   string `json:"hash"`
}

// TxStatus reports a submitted transaction; Receipt is set once executed
type TxStatus struct {
	Hash    string          `json:"hash"`
	Status  string          `json:"status"` // "pending" or "executed"
	Receipt *escrow.Receipt `json:"receipt,omitempty"`
}

// FaucetRequest credits devnet funds. Token empty means native units.
type FaucetRequest struct {
	Address string `json:"address"`
	Token   string `json:"token,omitempty"`
	Amount  int64  `json:"amount"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"` // exchange error kind, e.g. ORDER_NOT_FOUND
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest represents a WebSocket subscription request
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["order:1", "fills", "account:0x..."]
}

// OrderUpdate is pushed on "orders", "order:{id}" and "account:{seller}"
type OrderUpdate struct {
	Type  string    `json:"type"`  // "order"
	Seq   uint64    `json:"seq"`   // exchange event sequence, in commit order
	Event string    `json:"event"` // order_created, order_cancelled, order_filled
	Order OrderInfo `json:"order"`
}

// FillUpdate is pushed on "fills", "order:{id}" and "account:{buyer}"
type FillUpdate struct {
	Type string   `json:"type"` // "fill"
	Seq  uint64   `json:"seq"`
	Fill FillInfo `json:"fill"`
}

// ExchangeUpdate is pushed on "exchange" for admin actions
type ExchangeUpdate struct {
	Type      string `json:"type"`  // "exchange"
	Seq       uint64 `json:"seq"`
	Event     string `json:"event"` // admin_changed, paused, unpaused, fees_withdrawn
	Actor     string `json:"actor"`
	NewAdmin  string `json:"newAdmin,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Amount    int64  `json:"amount,omitempty"`
}

// TxUpdate is pushed on "account:{sender}" when a transaction executes
type TxUpdate struct {
	Type    string         `json:"type"` // "tx"
	Receipt escrow.Receipt `json:"receipt"`
}

// BlockUpdate is pushed on "blocks" after each block
type BlockUpdate struct {
	Type      string `json:"type"` // "block"
	Height    int64  `json:"height"`
	Timestamp int64  `json:"timestamp"`
	AppHash   string `json:"appHash"`
}
