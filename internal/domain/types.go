// Package domain defines the core types shared across the trading engine:
// order requests and records, the order status machine, positions, and
// venue-reported snapshots.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType distinguishes market from limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus is the last-known lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusAcknowledged    OrderStatus = "acknowledged"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether no further status transition is valid.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// OrderRequest is an immutable instruction to trade. The idempotency key is
// caller-generated and unique; retrying a failed submission must reuse it.
type OrderRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	Instrument     string          `json:"instrument"`
	Side           Side            `json:"side"`
	Qty            decimal.Decimal `json:"qty"`
	Type           OrderType       `json:"type"`
	LimitPrice     decimal.Decimal `json:"limit_price,omitempty"` // zero for market orders
	SubmittedAt    time.Time       `json:"submitted_at"`
}

// StatusChange is one entry in an order's append-only audit history.
type StatusChange struct {
	Status    OrderStatus     `json:"status"`
	FilledQty decimal.Decimal `json:"filled_qty"`
	At        time.Time       `json:"at"`
}

// OrderRecord is the ledger's view of a submitted order. The idempotency key
// is the primary key; the venue order id stays empty until the venue
// acknowledges.
type OrderRecord struct {
	Request      OrderRequest    `json:"request"`
	VenueOrderID string          `json:"venue_order_id,omitempty"`
	Status       OrderStatus     `json:"status"`
	FilledQty    decimal.Decimal `json:"filled_qty"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	UpdatedAt    time.Time       `json:"updated_at"`
	History      []StatusChange  `json:"history,omitempty"`
}

// Key returns the record's idempotency key.
func (r *OrderRecord) Key() string { return r.Request.IdempotencyKey }

// Open reports whether the order can still change state.
func (r *OrderRecord) Open() bool { return !r.Status.Terminal() }

// Position is the derived net position for one instrument. It is a view
// rebuilt each reconciliation pass, never independently mutated.
type Position struct {
	Instrument   string          `json:"instrument"`
	Qty          decimal.Decimal `json:"qty"` // positive = long, negative = short
	AvgCost      decimal.Decimal `json:"avg_cost"`
	MarketPrice  decimal.Decimal `json:"market_price"`
	RealizedPL   decimal.Decimal `json:"realized_pl"`
	UnrealizedPL decimal.Decimal `json:"unrealized_pl"`
}

// Anomaly records a mismatch between local and venue state that could not be
// auto-resolved and needs operator review.
type Anomaly struct {
	IdempotencyKey string    `json:"idempotency_key"`
	VenueOrderID   string    `json:"venue_order_id,omitempty"`
	Reason         string    `json:"reason"`
	DetectedAt     time.Time `json:"detected_at"`
}

// AccountInfo is a snapshot of the venue account's financial metrics.
type AccountInfo struct {
	Equity      decimal.Decimal `json:"equity"`
	Cash        decimal.Decimal `json:"cash"`
	BuyingPower decimal.Decimal `json:"buying_power"`
}
