package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/internal/venue"
)

// RiskManager vets orders against account-relative limits before they reach
// the venue. Violations are returned as rejections so callers treat them as
// terminal rather than retryable.
type RiskManager struct {
	maxPositionPct  float64 // order notional cap as a fraction of equity
	maxDailyLossPct float64 // P&L drawdown past which new orders are refused
}

// NewRiskManager creates a RiskManager. Typical values: 0.10 for position
// size, 0.02 for daily loss.
func NewRiskManager(maxPositionPct, maxDailyLossPct float64) *RiskManager {
	return &RiskManager{maxPositionPct: maxPositionPct, maxDailyLossPct: maxDailyLossPct}
}

// Enabled reports whether any account-relative limit is configured. When
// false, CheckOrder needs no account snapshot.
func (r *RiskManager) Enabled() bool {
	return r.maxPositionPct > 0 || r.maxDailyLossPct > 0
}

// CheckOrder returns a *venue.RejectedError when the order breaches a limit.
// refPrice may be zero when no price is known, in which case the notional
// check is skipped.
func (r *RiskManager) CheckOrder(_ context.Context, req *domain.OrderRequest, acct domain.AccountInfo, refPrice, pnl decimal.Decimal) error {
	if req.Qty.Sign() <= 0 {
		return &venue.RejectedError{Reason: "quantity must be positive"}
	}

	if r.maxDailyLossPct > 0 && acct.Equity.Sign() > 0 {
		lossLimit := acct.Equity.Mul(decimal.NewFromFloat(r.maxDailyLossPct)).Neg()
		if pnl.LessThanOrEqual(lossLimit) {
			return &venue.RejectedError{Reason: fmt.Sprintf(
				"daily loss limit reached: pnl %s <= %s", pnl, lossLimit)}
		}
	}

	if r.maxPositionPct > 0 && refPrice.Sign() > 0 && acct.Equity.Sign() > 0 {
		notional := req.Qty.Mul(refPrice)
		limit := acct.Equity.Mul(decimal.NewFromFloat(r.maxPositionPct))
		if notional.GreaterThan(limit) {
			return &venue.RejectedError{Reason: fmt.Sprintf(
				"order notional %s exceeds position limit %s", notional, limit)}
		}
	}

	return nil
}
