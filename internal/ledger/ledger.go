// Package ledger holds the authoritative in-memory record of every order
// this process has submitted, keyed by idempotency key. It owns record
// creation and the dedupe guarantee; status mutation is reserved to the
// reconciliation engine via RecordStatus.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/internal/store"
	"tradecore/internal/venue"
)

var (
	ErrEmptyKey     = errors.New("ledger: idempotency key required")
	ErrUnknownOrder = errors.New("ledger: order not found")
)

// statusRank orders the lifecycle for the monotonicity guard. Terminal states
// share the top rank; PartiallyFilled may repeat as fills accumulate.
var statusRank = map[domain.OrderStatus]int{
	domain.OrderStatusPending:         0,
	domain.OrderStatusAcknowledged:    1,
	domain.OrderStatusPartiallyFilled: 2,
	domain.OrderStatusFilled:          3,
	domain.OrderStatusCancelled:       3,
	domain.OrderStatusRejected:        3,
}

// Ledger is the single creator of OrderRecords. All mutation happens under
// one lock, which is never held across a network call.
type Ledger struct {
	mu        sync.Mutex
	venue     venue.Venue
	journal   store.OrderJournal // optional best-effort mirror
	records   map[string]*domain.OrderRecord
	seq       []string
	anomalies []domain.Anomaly
	log       *slog.Logger
	now       func() time.Time
}

// New creates a Ledger submitting through v. journal may be nil; when set,
// every record change is mirrored for audit and journal failures are logged,
// never surfaced to trading.
func New(v venue.Venue, journal store.OrderJournal) *Ledger {
	return &Ledger{
		venue:   v,
		journal: journal,
		records: make(map[string]*domain.OrderRecord),
		log:     slog.Default().With("component", "ledger"),
		now:     time.Now,
	}
}

// Submit submits the request through the venue, deduplicating on the
// idempotency key: a key already present with a non-terminal-failure status
// returns the existing record without touching the venue.
//
// On a venue network error the record stays Pending — the order may have
// reached the venue, and reconciliation resolves it by key. On a venue
// rejection the record goes Rejected and the rejection is returned.
func (l *Ledger) Submit(ctx context.Context, req domain.OrderRequest) (domain.OrderRecord, error) {
	if req.IdempotencyKey == "" {
		return domain.OrderRecord{}, ErrEmptyKey
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = l.now()
	}

	l.mu.Lock()
	if rec, ok := l.records[req.IdempotencyKey]; ok {
		switch rec.Status {
		case domain.OrderStatusRejected, domain.OrderStatusCancelled:
			// A failed attempt may be retried under the same key: reopen the
			// record, keeping its history.
			rec.Status = domain.OrderStatusPending
			rec.VenueOrderID = ""
			rec.Request = req
			l.touchLocked(rec)
		default:
			out := *rec
			l.mu.Unlock()
			return out, nil
		}
	} else {
		rec := &domain.OrderRecord{
			Request: req,
			Status:  domain.OrderStatusPending,
		}
		l.records[req.IdempotencyKey] = rec
		l.seq = append(l.seq, req.IdempotencyKey)
		l.touchLocked(rec)
	}
	l.mu.Unlock()

	venueID, err := l.venue.SubmitOrder(ctx, req)

	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.records[req.IdempotencyKey]
	switch {
	case rec.Status != domain.OrderStatusPending:
		// A reconcile pass observed the order at the venue while the submit
		// call was in flight and already advanced the record. Its status is
		// fresher than ours; bind the venue id if it is still missing.
		if err == nil && rec.VenueOrderID == "" {
			rec.VenueOrderID = venueID
			l.journalLocked(ctx, rec)
		}
	case err == nil:
		rec.VenueOrderID = venueID
		rec.Status = domain.OrderStatusAcknowledged
		l.touchLocked(rec)
	case venue.IsRejected(err):
		rec.Status = domain.OrderStatusRejected
		l.touchLocked(rec)
	default:
		// Ambiguous (network) or auth failure: leave Pending for the
		// reconciler, which queries the venue by key before assuming failure.
		l.log.Warn("submission unresolved, leaving pending",
			"key", req.IdempotencyKey, "error", err)
	}
	out := *rec
	return out, err
}

// RecordStatus applies a venue-observed status to the record. Only the
// reconciliation engine calls this. Transitions are monotonic: once a record
// is terminal, further updates are ignored and flagged as anomalies;
// regressions (an older status arriving late) are dropped.
func (l *Ledger) RecordStatus(ctx context.Context, key, venueOrderID string, status domain.OrderStatus, fillQty, avgPrice decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[key]
	if !ok {
		return ErrUnknownOrder
	}
	if rec.Status.Terminal() {
		if rec.Status != status {
			l.flagLocked(ctx, domain.Anomaly{
				IdempotencyKey: key,
				VenueOrderID:   rec.VenueOrderID,
				Reason:         "status update " + string(status) + " after terminal " + string(rec.Status),
				DetectedAt:     l.now(),
			})
		}
		return nil
	}
	if statusRank[status] < statusRank[rec.Status] {
		l.log.Debug("dropping stale status", "key", key, "have", rec.Status, "got", status)
		return nil
	}

	if venueOrderID != "" && rec.VenueOrderID == "" {
		rec.VenueOrderID = venueOrderID
	}
	rec.Status = status
	if fillQty.GreaterThan(rec.FilledQty) {
		rec.FilledQty = fillQty
	}
	if !avgPrice.IsZero() {
		rec.AvgFillPrice = avgPrice
	}
	l.touchLocked(rec)
	return nil
}

// Get returns a copy of the record for the key.
func (l *Ledger) Get(key string) (domain.OrderRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	if !ok {
		return domain.OrderRecord{}, false
	}
	return *rec, true
}

// Snapshot returns copies of all records in submission order.
func (l *Ledger) Snapshot() []domain.OrderRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.OrderRecord, 0, len(l.seq))
	for _, key := range l.seq {
		out = append(out, *l.records[key])
	}
	return out
}

// OpenOrders returns copies of the non-terminal records.
func (l *Ledger) OpenOrders() []domain.OrderRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.OrderRecord
	for _, key := range l.seq {
		if rec := l.records[key]; rec.Open() {
			out = append(out, *rec)
		}
	}
	return out
}

// FlagAnomaly records a local/venue mismatch for operator review.
func (l *Ledger) FlagAnomaly(ctx context.Context, a domain.Anomaly) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a.DetectedAt.IsZero() {
		a.DetectedAt = l.now()
	}
	l.flagLocked(ctx, a)
}

// Anomalies returns copies of all flagged anomalies.
func (l *Ledger) Anomalies() []domain.Anomaly {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Anomaly, len(l.anomalies))
	copy(out, l.anomalies)
	return out
}

// touchLocked stamps the record, appends history, and mirrors to the journal.
// Callers hold l.mu.
func (l *Ledger) touchLocked(rec *domain.OrderRecord) {
	rec.UpdatedAt = l.now()
	rec.History = append(rec.History, domain.StatusChange{
		Status:    rec.Status,
		FilledQty: rec.FilledQty,
		At:        rec.UpdatedAt,
	})
	l.journalLocked(context.Background(), rec)
}

func (l *Ledger) journalLocked(ctx context.Context, rec *domain.OrderRecord) {
	if l.journal == nil {
		return
	}
	if err := l.journal.SaveOrder(ctx, rec); err != nil {
		l.log.Warn("journal write failed", "key", rec.Key(), "error", err)
	}
}

func (l *Ledger) flagLocked(ctx context.Context, a domain.Anomaly) {
	l.anomalies = append(l.anomalies, a)
	l.log.Warn("anomaly detected", "key", a.IdempotencyKey, "venue_order_id", a.VenueOrderID, "reason", a.Reason)
	if l.journal != nil {
		if err := l.journal.SaveAnomaly(ctx, a); err != nil {
			l.log.Warn("journal anomaly write failed", "key", a.IdempotencyKey, "error", err)
		}
	}
}
