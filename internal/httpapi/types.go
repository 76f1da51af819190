// Package httpapi provides the HTTP REST facade over the trading engine:
// order submission and lookup, portfolio and profit/loss views, and the
// start-trading trigger for registered strategies.
package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
)

// SubmitOrderRequest is the POST /api/orders body.
type SubmitOrderRequest struct {
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Instrument     string          `json:"instrument"`
	Side           string          `json:"side"`
	Qty            decimal.Decimal `json:"qty"`
	Type           string          `json:"type"`
	LimitPrice     decimal.Decimal `json:"limit_price,omitempty"`
}

// OrdersResponse lists ledger records.
type OrdersResponse struct {
	Orders []domain.OrderRecord `json:"orders"`
}

// PortfolioResponse is the reconciled position snapshot.
type PortfolioResponse struct {
	Positions []domain.Position `json:"positions"`
	AsOf      time.Time         `json:"as_of"`
}

// ProfitLossResponse breaks total P&L into its components.
type ProfitLossResponse struct {
	Realized   decimal.Decimal `json:"realized"`
	Unrealized decimal.Decimal `json:"unrealized"`
	Total      decimal.Decimal `json:"total"`
	AsOf       time.Time       `json:"as_of"`
}

// AnomaliesResponse lists flagged local/venue mismatches.
type AnomaliesResponse struct {
	Anomalies []domain.Anomaly `json:"anomalies"`
}

// StartTradingRequest optionally narrows a trading run to named strategies.
type StartTradingRequest struct {
	Strategies []string `json:"strategies,omitempty"`
}

// StartTradingResponse reports which strategies ran.
type StartTradingResponse struct {
	Strategies []string `json:"strategies"`
}
