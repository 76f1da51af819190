package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/pkg/creds"
)

// Compile-time interface check.
var _ Venue = (*SimVenue)(nil)

// SimVenue implements Venue in memory for paper trading and tests. It mimics
// the brokerage side of the login exchange (a valid one-time code is required
// when a TOTP seed is configured) and supports fault injection so callers can
// exercise every branch of the error taxonomy.
type SimVenue struct {
	mu       sync.Mutex
	session  Session
	provider creds.Provider

	totpSecret string
	sessionTTL time.Duration

	prices    map[string]decimal.Decimal
	autoFill  bool
	orders    map[string]*VenueOrder
	orderSeq  []string
	byClient  map[string]string
	positions map[string]*VenuePosition
	account   domain.AccountInfo
	nextID    int

	// Fault injection.
	submitErr      error
	acceptOnSubmit bool
	fetchErr       error
	authErr        error

	// Counters for tests.
	AuthCalls    int
	SubmitCalls  int
	AccountCalls int
}

// NewSimVenue creates an empty simulated venue. When the provider's
// credentials carry a TOTP seed, Authenticate validates the generated code
// against it, mirroring a one-time-code login.
func NewSimVenue(provider creds.Provider, autoFill bool) *SimVenue {
	v := &SimVenue{
		provider:   provider,
		sessionTTL: time.Hour,
		autoFill:   autoFill,
		prices:     make(map[string]decimal.Decimal),
		orders:     make(map[string]*VenueOrder),
		byClient:   make(map[string]string),
		positions:  make(map[string]*VenuePosition),
		account: domain.AccountInfo{
			Equity:      decimal.NewFromInt(100_000),
			Cash:        decimal.NewFromInt(100_000),
			BuyingPower: decimal.NewFromInt(200_000),
		},
	}
	if provider != nil {
		if c, err := provider.Credentials(); err == nil {
			v.totpSecret = c.TOTPSecret
		}
	}
	return v
}

// Name returns "sim".
func (v *SimVenue) Name() string { return "sim" }

// Authenticate performs the simulated login exchange. No-op when Active.
func (v *SimVenue) Authenticate(ctx context.Context) error {
	if v.session.Status() == SessionActive {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &NetworkError{Op: "authenticate", Err: err}
	}
	v.mu.Lock()
	v.AuthCalls++
	authErr := v.authErr
	v.mu.Unlock()
	if authErr != nil {
		return authErr
	}
	if v.totpSecret != "" {
		code, err := v.provider.OneTimeCode()
		if err != nil {
			return &AuthError{Reason: "one-time code unavailable", Err: err}
		}
		if !creds.Validate(code, v.totpSecret) {
			return &AuthError{Reason: "invalid one-time code"}
		}
	}
	v.session.Activate(fmt.Sprintf("sim-session-%d", time.Now().UnixNano()), time.Now().Add(v.sessionTTL))
	return nil
}

// SubmitOrder records the order and, in autoFill mode, fills it immediately
// at the configured market price.
func (v *SimVenue) SubmitOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	if err := v.Authenticate(ctx); err != nil {
		return "", err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.SubmitCalls++

	if v.submitErr != nil {
		err := v.submitErr
		v.submitErr = nil
		if v.acceptOnSubmit {
			// The order reached the venue but the response was lost.
			v.acceptOnSubmit = false
			v.placeLocked(req)
		}
		return "", err
	}

	if id, ok := v.byClient[req.IdempotencyKey]; ok {
		return "", &RejectedError{Reason: "duplicate client order id " + id}
	}
	if req.Qty.Sign() <= 0 {
		return "", &RejectedError{Reason: "quantity must be positive"}
	}

	o := v.placeLocked(req)
	return o.VenueOrderID, nil
}

// placeLocked books the order. Callers hold v.mu.
func (v *SimVenue) placeLocked(req domain.OrderRequest) *VenueOrder {
	v.nextID++
	o := &VenueOrder{
		VenueOrderID:  fmt.Sprintf("SIM-%d", v.nextID),
		ClientOrderID: req.IdempotencyKey,
		Instrument:    req.Instrument,
		Side:          req.Side,
		Status:        domain.OrderStatusAcknowledged,
		Qty:           req.Qty,
		UpdatedAt:     time.Now(),
	}
	v.orders[o.VenueOrderID] = o
	v.orderSeq = append(v.orderSeq, o.VenueOrderID)
	v.byClient[req.IdempotencyKey] = o.VenueOrderID

	if v.autoFill {
		price, ok := v.prices[req.Instrument]
		if !ok {
			price = req.LimitPrice
		}
		v.fillLocked(o, o.Qty, price)
	}
	return o
}

// CancelOrder cancels an open order.
func (v *SimVenue) CancelOrder(ctx context.Context, venueOrderID string) error {
	if err := v.Authenticate(ctx); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[venueOrderID]
	if !ok {
		return &RejectedError{Reason: "unknown order " + venueOrderID}
	}
	if o.Status.Terminal() {
		return &RejectedError{Reason: "order " + venueOrderID + " already " + string(o.Status)}
	}
	o.Status = domain.OrderStatusCancelled
	o.UpdatedAt = time.Now()
	return nil
}

// FetchOpenOrders returns every order the venue has seen this session, open
// and terminal, in placement order.
func (v *SimVenue) FetchOpenOrders(ctx context.Context) ([]VenueOrder, error) {
	if err := v.Authenticate(ctx); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.fetchErr != nil {
		return nil, v.fetchErr
	}
	out := make([]VenueOrder, 0, len(v.orderSeq))
	for _, id := range v.orderSeq {
		out = append(out, *v.orders[id])
	}
	return out, nil
}

// FetchPositions returns the venue's positions.
func (v *SimVenue) FetchPositions(ctx context.Context) ([]VenuePosition, error) {
	if err := v.Authenticate(ctx); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.fetchErr != nil {
		return nil, v.fetchErr
	}
	out := make([]VenuePosition, 0, len(v.positions))
	for _, p := range v.positions {
		vp := *p
		if price, ok := v.prices[p.Instrument]; ok {
			vp.MarketPrice = price
			vp.UnrealizedPL = price.Sub(p.AvgCost).Mul(p.Qty)
		}
		out = append(out, vp)
	}
	return out, nil
}

// FetchAccount returns the simulated account metrics.
func (v *SimVenue) FetchAccount(ctx context.Context) (*domain.AccountInfo, error) {
	if err := v.Authenticate(ctx); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.AccountCalls++
	acct := v.account
	return &acct, nil
}

// SetPrice sets the market price used for fills and mark-to-market.
func (v *SimVenue) SetPrice(instrument string, price decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[instrument] = price
}

// Fill applies a (partial) fill to an open order by venue order id.
func (v *SimVenue) Fill(venueOrderID string, qty, price decimal.Decimal) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[venueOrderID]
	if !ok {
		return fmt.Errorf("sim: unknown order %s", venueOrderID)
	}
	if o.Status.Terminal() {
		return fmt.Errorf("sim: order %s already %s", venueOrderID, o.Status)
	}
	v.fillLocked(o, qty, price)
	return nil
}

// FillByClientID applies a fill addressed by idempotency key.
func (v *SimVenue) FillByClientID(clientID string, qty, price decimal.Decimal) error {
	v.mu.Lock()
	id, ok := v.byClient[clientID]
	v.mu.Unlock()
	if !ok {
		return fmt.Errorf("sim: unknown client order id %s", clientID)
	}
	return v.Fill(id, qty, price)
}

// fillLocked books a fill and updates the venue position. Callers hold v.mu.
func (v *SimVenue) fillLocked(o *VenueOrder, qty, price decimal.Decimal) {
	prevFilled := o.FilledQty
	newFilled := prevFilled.Add(qty)
	if newFilled.GreaterThan(o.Qty) {
		newFilled = o.Qty
		qty = o.Qty.Sub(prevFilled)
	}
	if prevFilled.IsZero() {
		o.AvgFillPrice = price
	} else {
		notional := o.AvgFillPrice.Mul(prevFilled).Add(price.Mul(qty))
		o.AvgFillPrice = notional.Div(newFilled)
	}
	o.FilledQty = newFilled
	if newFilled.Equal(o.Qty) {
		o.Status = domain.OrderStatusFilled
	} else {
		o.Status = domain.OrderStatusPartiallyFilled
	}
	o.UpdatedAt = time.Now()

	signed := qty
	if o.Side == domain.SideSell {
		signed = qty.Neg()
	}
	pos, ok := v.positions[o.Instrument]
	if !ok {
		pos = &VenuePosition{Instrument: o.Instrument}
		v.positions[o.Instrument] = pos
	}
	newQty := pos.Qty.Add(signed)
	sameDirection := (signed.Sign() > 0) == (pos.Qty.Sign() >= 0)
	if sameDirection && !newQty.IsZero() {
		// Same-direction add: weighted average cost.
		notional := pos.AvgCost.Mul(pos.Qty.Abs()).Add(price.Mul(qty))
		pos.AvgCost = notional.Div(newQty.Abs())
	}
	pos.Qty = newQty
	if pos.Qty.IsZero() {
		delete(v.positions, o.Instrument)
	}
}

// FailNextSubmit arranges for the next SubmitOrder to return err. When
// accepted is true the order is still booked venue-side, simulating a lost
// response on an ambiguous submission.
func (v *SimVenue) FailNextSubmit(err error, accepted bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.submitErr = err
	v.acceptOnSubmit = accepted
}

// FailFetches makes snapshot queries return err until cleared with nil.
func (v *SimVenue) FailFetches(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fetchErr = err
}

// FailAuth makes Authenticate return err until cleared with nil.
func (v *SimVenue) FailAuth(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.authErr = err
}

// ExpireSession forces the next call to re-authenticate.
func (v *SimVenue) ExpireSession() {
	v.session.Expire()
}

// SessionStatus exposes the session state for tests.
func (v *SimVenue) SessionStatus() SessionStatus {
	return v.session.Status()
}
