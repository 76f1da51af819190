// Package engine coordinates order submission, reconciliation, and position
// views across the trading system. It is the only surface the API layer and
// task runner talk to.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/internal/ledger"
	"tradecore/internal/position"
	"tradecore/internal/reconcile"
	"tradecore/internal/util"
	"tradecore/internal/venue"
)

// Engine orchestrates the trading lifecycle by delegating to the ledger for
// idempotent submission, the reconciler for state alignment, and the
// aggregator for derived views.
type Engine struct {
	venue      venue.Venue
	ledger     *ledger.Ledger
	reconciler *reconcile.Reconciler
	agg        *position.Aggregator
	risk       *RiskManager
	limiter    *util.RateLimiter
	log        *slog.Logger
}

// NewEngine creates an Engine wired with the given dependencies. limiter may
// be nil to disable submission rate limiting.
func NewEngine(
	v venue.Venue,
	l *ledger.Ledger,
	r *reconcile.Reconciler,
	agg *position.Aggregator,
	risk *RiskManager,
	limiter *util.RateLimiter,
) *Engine {
	return &Engine{
		venue:      v,
		ledger:     l,
		reconciler: r,
		agg:        agg,
		risk:       risk,
		limiter:    limiter,
		log:        slog.Default().With("component", "engine"),
	}
}

// SubmitStrategyOrder validates the request against risk rules and submits it
// through the ledger. A missing idempotency key is assigned here so every
// record is addressable; callers that retry must reuse the returned key.
func (e *Engine) SubmitStrategyOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderRecord, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	if e.risk != nil {
		var acct domain.AccountInfo
		if e.risk.Enabled() {
			fetched, err := e.venue.FetchAccount(ctx)
			if err != nil {
				// Never trade blind: a risk check that cannot run fails the
				// submission rather than waving it through.
				return domain.OrderRecord{}, fmt.Errorf("fetching account for risk check: %w", err)
			}
			acct = *fetched
		}
		refPrice := e.referencePrice(req)
		if err := e.risk.CheckOrder(ctx, &req, acct, refPrice, e.agg.ProfitLoss()); err != nil {
			return domain.OrderRecord{}, err
		}
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return domain.OrderRecord{}, err
		}
	}

	rec, err := e.ledger.Submit(ctx, req)
	if err != nil {
		e.log.Warn("submission failed", "key", req.IdempotencyKey, "error", err)
		return rec, err
	}
	e.log.Info("order submitted", "key", rec.Key(), "venue_order_id", rec.VenueOrderID,
		"instrument", req.Instrument, "side", req.Side, "qty", req.Qty)
	return rec, nil
}

// referencePrice picks the best available price for notional risk math: the
// limit price when present, otherwise the instrument's last reconciled
// market price.
func (e *Engine) referencePrice(req domain.OrderRequest) decimal.Decimal {
	if !req.LimitPrice.IsZero() {
		return req.LimitPrice
	}
	for _, p := range e.agg.Positions() {
		if p.Instrument == req.Instrument {
			return p.MarketPrice
		}
	}
	return decimal.Zero
}

// CancelOrder requests venue cancellation of an open order by idempotency
// key. The status change lands through the next reconciliation pass.
func (e *Engine) CancelOrder(ctx context.Context, key string) error {
	rec, ok := e.ledger.Get(key)
	if !ok {
		return ledger.ErrUnknownOrder
	}
	if !rec.Open() {
		return &venue.RejectedError{Reason: "order " + key + " already " + string(rec.Status)}
	}
	if rec.VenueOrderID == "" {
		return &venue.RejectedError{Reason: "order " + key + " has no venue order id yet"}
	}
	return e.venue.CancelOrder(ctx, rec.VenueOrderID)
}

// GetOpenOrders returns the non-terminal ledger records.
func (e *Engine) GetOpenOrders() []domain.OrderRecord {
	return e.ledger.OpenOrders()
}

// GetOrder returns the record for an idempotency key.
func (e *Engine) GetOrder(key string) (domain.OrderRecord, bool) {
	return e.ledger.Get(key)
}

// GetPositions returns the latest reconciled positions.
func (e *Engine) GetPositions() []domain.Position {
	return e.agg.Positions()
}

// GetProfitLoss returns total realized plus unrealized P&L.
func (e *Engine) GetProfitLoss() decimal.Decimal {
	return e.agg.ProfitLoss()
}

// Portfolio returns the latest published snapshot, including its timestamp
// and the realized/unrealized split.
func (e *Engine) Portfolio() *position.Snapshot {
	return e.agg.Snapshot()
}

// Anomalies returns all flagged local/venue mismatches.
func (e *Engine) Anomalies() []domain.Anomaly {
	return e.ledger.Anomalies()
}

// Reconcile triggers a synchronous reconciliation pass, typically after a
// submit batch.
func (e *Engine) Reconcile(ctx context.Context) (*reconcile.Result, error) {
	return e.reconciler.Reconcile(ctx)
}
