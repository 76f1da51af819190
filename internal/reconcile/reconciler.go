// Package reconcile aligns the ledger's view of orders and positions with
// the venue's authoritative record.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/ledger"
	"tradecore/internal/position"
	"tradecore/internal/store"
	"tradecore/internal/util"
	"tradecore/internal/venue"
)

// Config tunes the reconciliation loop.
type Config struct {
	// Interval between periodic passes.
	Interval time.Duration
	// GracePeriod before a submitted order with no venue sighting is marked
	// cancelled-unknown.
	GracePeriod time.Duration
	// MaxFetchAttempts bounds the retry of a failed venue fetch within one
	// pass.
	MaxFetchAttempts int
	// RetryBaseDelay seeds the exponential backoff between fetch attempts.
	RetryBaseDelay time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Interval <= 0 {
		out.Interval = 15 * time.Second
	}
	if out.GracePeriod <= 0 {
		out.GracePeriod = time.Minute
	}
	if out.MaxFetchAttempts <= 0 {
		out.MaxFetchAttempts = 3
	}
	if out.RetryBaseDelay <= 0 {
		out.RetryBaseDelay = 250 * time.Millisecond
	}
	return out
}

// Result summarizes one reconciliation pass.
type Result struct {
	At           time.Time
	OrdersSeen   int
	Updated      int
	CancelledUnk int
	Anomalies    int
}

// Reconciler is the single writer of order status and position snapshots.
// Passes never overlap: a call while one is in flight is a no-op returning
// the last completed result.
type Reconciler struct {
	venue    venue.Venue
	ledger   *ledger.Ledger
	agg      *position.Aggregator
	exporter store.FillExporter // optional
	cfg      Config

	inFlight atomic.Bool
	last     atomic.Pointer[Result]

	log *slog.Logger
	now func() time.Time
}

// New creates a Reconciler. exporter may be nil; when set, fill deltas
// observed during a pass are appended to the day's export file.
func New(v venue.Venue, l *ledger.Ledger, agg *position.Aggregator, exporter store.FillExporter, cfg Config) *Reconciler {
	return &Reconciler{
		venue:    v,
		ledger:   l,
		agg:      agg,
		exporter: exporter,
		cfg:      cfg.withDefaults(),
		log:      slog.Default().With("component", "reconcile"),
		now:      time.Now,
	}
}

// Run executes periodic passes until ctx is cancelled. Pass failures are
// logged and the loop continues; the next tick tries again.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil {
				r.log.Warn("reconciliation pass failed", "error", err)
			}
		}
	}
}

// Reconcile performs one pass. A failed fetch leaves all ledger and position
// state untouched; transient failures are retried with exponential backoff
// within the pass before surfacing.
func (r *Reconciler) Reconcile(ctx context.Context) (*Result, error) {
	if !r.inFlight.CompareAndSwap(false, true) {
		// A pass is already running; report the last completed one. Before
		// any pass has finished there is nothing to report, so return an
		// empty result rather than a nil pointer.
		if last := r.last.Load(); last != nil {
			return last, nil
		}
		return &Result{}, nil
	}
	defer r.inFlight.Store(false)

	var (
		venueOrders    []venue.VenueOrder
		venuePositions []venue.VenuePosition
	)
	err := util.RetryClassified(ctx, r.cfg.MaxFetchAttempts, r.cfg.RetryBaseDelay, venue.IsNetwork, func() error {
		var err error
		if venueOrders, err = r.venue.FetchOpenOrders(ctx); err != nil {
			return err
		}
		venuePositions, err = r.venue.FetchPositions(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching venue snapshot: %w", err)
	}

	result := &Result{At: r.now(), OrdersSeen: len(venueOrders)}

	byID := make(map[string]*venue.VenueOrder, len(venueOrders))
	byClient := make(map[string]*venue.VenueOrder, len(venueOrders))
	for i := range venueOrders {
		vo := &venueOrders[i]
		if vo.VenueOrderID != "" {
			byID[vo.VenueOrderID] = vo
		}
		if vo.ClientOrderID != "" {
			byClient[vo.ClientOrderID] = vo
		}
	}

	anomaliesBefore := len(r.ledger.Anomalies())
	var fills []store.FillRecord

	for _, rec := range r.ledger.Snapshot() {
		vo := byID[rec.VenueOrderID]
		if vo == nil {
			// Fall back to the idempotency key: this closes the gap left by
			// a network failure during submit, where the venue id was lost.
			vo = byClient[rec.Key()]
		}
		if vo != nil {
			delete(byClient, vo.ClientOrderID)
			if fillDelta := vo.FilledQty.Sub(rec.FilledQty); fillDelta.Sign() > 0 {
				qty, _ := fillDelta.Float64()
				price, _ := vo.AvgFillPrice.Float64()
				fills = append(fills, store.FillRecord{
					IdempotencyKey: rec.Key(),
					VenueOrderID:   vo.VenueOrderID,
					Instrument:     rec.Request.Instrument,
					Side:           string(rec.Request.Side),
					Qty:            qty,
					Price:          price,
					Timestamp:      r.now().UnixMilli(),
				})
			}
			if err := r.ledger.RecordStatus(ctx, rec.Key(), vo.VenueOrderID, vo.Status, vo.FilledQty, vo.AvgFillPrice); err != nil {
				r.log.Warn("recording status", "key", rec.Key(), "error", err)
				continue
			}
			result.Updated++
			continue
		}

		// No venue sighting. Recently submitted orders may simply not be
		// visible yet; past the grace period they are closed out and flagged.
		if !rec.Open() {
			continue
		}
		if r.now().Sub(rec.Request.SubmittedAt) < r.cfg.GracePeriod {
			continue
		}
		if err := r.ledger.RecordStatus(ctx, rec.Key(), "", domain.OrderStatusCancelled, rec.FilledQty, rec.AvgFillPrice); err != nil {
			r.log.Warn("closing unsighted order", "key", rec.Key(), "error", err)
			continue
		}
		r.ledger.FlagAnomaly(ctx, domain.Anomaly{
			IdempotencyKey: rec.Key(),
			VenueOrderID:   rec.VenueOrderID,
			Reason:         "no venue record past grace period, marked cancelled-unknown",
		})
		result.CancelledUnk++
	}

	// Venue orders that matched nothing in the ledger belong to someone
	// else's session or a previous run; open ones need operator eyes.
	for clientID, vo := range byClient {
		if _, ours := r.ledger.Get(clientID); ours || vo.Status.Terminal() {
			continue
		}
		r.ledger.FlagAnomaly(ctx, domain.Anomaly{
			IdempotencyKey: clientID,
			VenueOrderID:   vo.VenueOrderID,
			Reason:         "open venue order with no ledger record",
		})
	}

	if r.exporter != nil && len(fills) != 0 {
		date := r.now().UTC().Format("2006-01-02")
		if err := r.exporter.WriteFills(ctx, date, fills); err != nil {
			r.log.Warn("exporting fills", "date", date, "error", err)
		}
	}

	r.agg.Publish(position.Build(r.ledger.Snapshot(), venuePositions, result.At))

	result.Anomalies = len(r.ledger.Anomalies()) - anomaliesBefore
	r.last.Store(result)
	return result, nil
}
