// Package position derives net positions and realized/unrealized P&L from
// reconciled order records merged with the venue's position snapshot.
package position

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/internal/venue"
)

// Snapshot is an immutable view of all positions at one reconciliation point.
// Readers hold the pointer; nothing mutates a published snapshot.
type Snapshot struct {
	Positions       []domain.Position
	TotalRealized   decimal.Decimal
	TotalUnrealized decimal.Decimal
	At              time.Time
}

// ProfitLoss returns realized plus unrealized P&L across all positions.
func (s *Snapshot) ProfitLoss() decimal.Decimal {
	return s.TotalRealized.Add(s.TotalUnrealized)
}

// Aggregator publishes position snapshots built by the reconciler and serves
// them to concurrent readers without blocking.
type Aggregator struct {
	snap atomic.Pointer[Snapshot]
}

// NewAggregator returns an Aggregator holding an empty snapshot.
func NewAggregator() *Aggregator {
	a := &Aggregator{}
	a.snap.Store(&Snapshot{At: time.Now()})
	return a
}

// Publish replaces the current snapshot.
func (a *Aggregator) Publish(s *Snapshot) {
	a.snap.Store(s)
}

// Positions returns the current snapshot's positions.
func (a *Aggregator) Positions() []domain.Position {
	return a.snap.Load().Positions
}

// ProfitLoss returns total realized plus unrealized P&L for the current
// snapshot. Pure read; safe concurrent with reconciliation.
func (a *Aggregator) ProfitLoss() decimal.Decimal {
	return a.snap.Load().ProfitLoss()
}

// Snapshot returns the current snapshot.
func (a *Aggregator) Snapshot() *Snapshot {
	return a.snap.Load()
}

// book carries the average-cost state for one instrument while replaying
// local fills.
type book struct {
	qty      decimal.Decimal
	avgCost  decimal.Decimal
	realized decimal.Decimal
}

// applyFill replays one aggregate fill through the average-cost method.
func (b *book) applyFill(side domain.Side, qty, price decimal.Decimal) {
	signed := qty
	if side == domain.SideSell {
		signed = signed.Neg()
	}

	if b.qty.IsZero() || b.qty.Sign() == signed.Sign() {
		// Opening or adding: weight the average cost.
		total := b.qty.Add(signed)
		if !total.IsZero() {
			notional := b.avgCost.Mul(b.qty.Abs()).Add(price.Mul(qty))
			b.avgCost = notional.Div(total.Abs())
		}
		b.qty = total
		return
	}

	// Reducing or flipping: realize P&L on the closed portion.
	closed := decimal.Min(qty, b.qty.Abs())
	direction := decimal.NewFromInt(int64(b.qty.Sign()))
	b.realized = b.realized.Add(price.Sub(b.avgCost).Mul(closed).Mul(direction))

	b.qty = b.qty.Add(signed)
	if b.qty.IsZero() {
		b.avgCost = decimal.Zero
	} else if b.qty.Sign() != int(direction.IntPart()) {
		// Flipped through zero: the remainder opens at the fill price.
		b.avgCost = price
	}
}

// Build computes a snapshot from the ledger's records merged with the venue's
// reported positions. The venue quantity is authoritative where the venue
// reports an instrument; local fills supply average cost and realized P&L
// when the venue does not.
func Build(records []domain.OrderRecord, venuePositions []venue.VenuePosition, at time.Time) *Snapshot {
	books := make(map[string]*book)
	for i := range records {
		rec := &records[i]
		if rec.FilledQty.IsZero() {
			continue
		}
		b, ok := books[rec.Request.Instrument]
		if !ok {
			b = &book{}
			books[rec.Request.Instrument] = b
		}
		b.applyFill(rec.Request.Side, rec.FilledQty, rec.AvgFillPrice)
	}

	byInstrument := make(map[string]*domain.Position)
	order := make([]string, 0, len(books)+len(venuePositions))

	for _, vp := range venuePositions {
		p := &domain.Position{
			Instrument:   vp.Instrument,
			Qty:          vp.Qty,
			AvgCost:      vp.AvgCost,
			MarketPrice:  vp.MarketPrice,
			UnrealizedPL: vp.UnrealizedPL,
		}
		byInstrument[vp.Instrument] = p
		order = append(order, vp.Instrument)
	}

	for instrument, b := range books {
		p, ok := byInstrument[instrument]
		if !ok {
			// The venue has not reported this instrument (yet); the local
			// view stands until it does.
			p = &domain.Position{Instrument: instrument, Qty: b.qty, AvgCost: b.avgCost}
			byInstrument[instrument] = p
			order = append(order, instrument)
		}
		if p.AvgCost.IsZero() {
			p.AvgCost = b.avgCost
		}
		p.RealizedPL = b.realized
	}

	sort.Strings(order)

	snap := &Snapshot{At: at}
	for _, instrument := range order {
		p := byInstrument[instrument]
		if p.UnrealizedPL.IsZero() && !p.MarketPrice.IsZero() && !p.Qty.IsZero() {
			p.UnrealizedPL = p.MarketPrice.Sub(p.AvgCost).Mul(p.Qty)
		}
		snap.TotalRealized = snap.TotalRealized.Add(p.RealizedPL)
		snap.TotalUnrealized = snap.TotalUnrealized.Add(p.UnrealizedPL)
		snap.Positions = append(snap.Positions, *p)
	}
	return snap
}
