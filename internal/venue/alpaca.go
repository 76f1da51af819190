package venue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"tradecore/internal/domain"
)

// Compile-time interface check.
var _ Venue = (*AlpacaVenue)(nil)

// AlpacaVenue implements Venue against the Alpaca trading API.
//
// Alpaca authenticates per-request with API keys rather than a login
// exchange, so Authenticate verifies the credentials with an account query
// and stamps the session; every other call re-verifies lazily when the
// session has expired.
type AlpacaVenue struct {
	client     *alpaca.Client
	session    Session
	sessionTTL time.Duration
	startedAt  time.Time
	log        *slog.Logger
}

// NewAlpacaVenue creates an AlpacaVenue configured with the given credentials
// and API endpoint. sessionTTL bounds how long a verified session is trusted
// before the next call re-verifies.
func NewAlpacaVenue(apiKey, apiSecret, baseURL string, sessionTTL time.Duration) *AlpacaVenue {
	opts := alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if baseURL != "" {
		opts.BaseURL = baseURL
	}
	if sessionTTL <= 0 {
		sessionTTL = 15 * time.Minute
	}
	return &AlpacaVenue{
		client:     alpaca.NewClient(opts),
		sessionTTL: sessionTTL,
		startedAt:  time.Now().Add(-time.Minute),
		log:        slog.Default().With("venue", "alpaca"),
	}
}

// Name returns "alpaca".
func (v *AlpacaVenue) Name() string { return "alpaca" }

// Authenticate verifies the credentials. A no-op while the session is Active.
func (v *AlpacaVenue) Authenticate(ctx context.Context) error {
	if v.session.Status() == SessionActive {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &NetworkError{Op: "authenticate", Err: err}
	}
	acct, err := v.client.GetAccount()
	if err != nil {
		return classify("authenticate", err)
	}
	v.session.Activate(acct.ID, time.Now().Add(v.sessionTTL))
	v.log.Info("session established", "account", acct.ID)
	return nil
}

// SubmitOrder places the order with the idempotency key as Alpaca's client
// order id, so a duplicate submission is rejected venue-side as well.
func (v *AlpacaVenue) SubmitOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	if err := v.ensureSession(ctx); err != nil {
		return "", err
	}
	qty := req.Qty
	por := alpaca.PlaceOrderRequest{
		Symbol:        req.Instrument,
		Qty:           &qty,
		Side:          alpaca.Side(req.Side),
		TimeInForce:   alpaca.Day,
		ClientOrderID: req.IdempotencyKey,
	}
	switch req.Type {
	case domain.OrderTypeLimit:
		limit := req.LimitPrice
		por.Type = alpaca.Limit
		por.LimitPrice = &limit
	default:
		por.Type = alpaca.Market
	}

	order, err := v.client.PlaceOrder(por)
	if err != nil {
		return "", classify("submit order", err)
	}
	return order.ID, nil
}

// CancelOrder requests cancellation by venue order id.
func (v *AlpacaVenue) CancelOrder(ctx context.Context, venueOrderID string) error {
	if err := v.ensureSession(ctx); err != nil {
		return err
	}
	if err := v.client.CancelOrder(venueOrderID); err != nil {
		return classify("cancel order", err)
	}
	return nil
}

// FetchOpenOrders returns the order book relevant to reconciliation: open
// orders plus orders updated since this process started, so fills and
// cancellations reach the ledger. On an auth failure it re-authenticates once
// and retries once before surfacing.
func (v *AlpacaVenue) FetchOpenOrders(ctx context.Context) ([]VenueOrder, error) {
	var out []VenueOrder
	err := v.withReauth(ctx, "fetch open orders", func() error {
		orders, err := v.client.GetOrders(alpaca.GetOrdersRequest{Status: "all", After: v.startedAt, Limit: 500})
		if err != nil {
			return err
		}
		out = make([]VenueOrder, 0, len(orders))
		for i := range orders {
			out = append(out, fromAlpacaOrder(&orders[i]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchPositions returns the venue's view of current positions.
func (v *AlpacaVenue) FetchPositions(ctx context.Context) ([]VenuePosition, error) {
	var out []VenuePosition
	err := v.withReauth(ctx, "fetch positions", func() error {
		positions, err := v.client.GetPositions()
		if err != nil {
			return err
		}
		out = make([]VenuePosition, 0, len(positions))
		for i := range positions {
			p := positions[i]
			vp := VenuePosition{
				Instrument: p.Symbol,
				Qty:        p.Qty,
				AvgCost:    p.AvgEntryPrice,
			}
			if p.CurrentPrice != nil {
				vp.MarketPrice = *p.CurrentPrice
			}
			if p.UnrealizedPL != nil {
				vp.UnrealizedPL = *p.UnrealizedPL
			}
			out = append(out, vp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchAccount returns the account's financial metrics.
func (v *AlpacaVenue) FetchAccount(ctx context.Context) (*domain.AccountInfo, error) {
	var out *domain.AccountInfo
	err := v.withReauth(ctx, "fetch account", func() error {
		acct, err := v.client.GetAccount()
		if err != nil {
			return err
		}
		out = &domain.AccountInfo{
			Equity:      acct.Equity,
			Cash:        acct.Cash,
			BuyingPower: acct.BuyingPower,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ensureSession authenticates when the session is not Active.
func (v *AlpacaVenue) ensureSession(ctx context.Context) error {
	if v.session.Status() == SessionActive {
		return nil
	}
	return v.Authenticate(ctx)
}

// withReauth runs fn, and on an auth failure expires the session,
// authenticates once, and retries fn once.
func (v *AlpacaVenue) withReauth(ctx context.Context, op string, fn func() error) error {
	if err := v.ensureSession(ctx); err != nil {
		return err
	}
	err := fn()
	if err == nil {
		return nil
	}
	cerr := classify(op, err)
	if !IsAuth(cerr) {
		return cerr
	}
	v.log.Warn("session rejected, re-authenticating", "op", op)
	v.session.Expire()
	if aerr := v.Authenticate(ctx); aerr != nil {
		return aerr
	}
	if err := fn(); err != nil {
		return classify(op, err)
	}
	return nil
}

// classify maps an Alpaca SDK error into the engine's error taxonomy.
func classify(op string, err error) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return &AuthError{Reason: apiErr.Message, Err: err}
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			return &RejectedError{Reason: apiErr.Message}
		}
	}
	return &NetworkError{Op: op, Err: err}
}

// fromAlpacaOrder maps an SDK order into the venue-neutral form.
func fromAlpacaOrder(o *alpaca.Order) VenueOrder {
	vo := VenueOrder{
		VenueOrderID:  o.ID,
		ClientOrderID: o.ClientOrderID,
		Instrument:    o.Symbol,
		Side:          domain.Side(o.Side),
		Status:        mapOrderStatus(string(o.Status)),
		FilledQty:     o.FilledQty,
		UpdatedAt:     o.UpdatedAt,
	}
	if o.Qty != nil {
		vo.Qty = *o.Qty
	}
	if o.FilledAvgPrice != nil {
		vo.AvgFillPrice = *o.FilledAvgPrice
	}
	return vo
}

// mapOrderStatus translates Alpaca order lifecycle strings.
func mapOrderStatus(s string) domain.OrderStatus {
	switch s {
	case "new", "accepted", "pending_new", "accepted_for_bidding":
		return domain.OrderStatusAcknowledged
	case "partially_filled":
		return domain.OrderStatusPartiallyFilled
	case "filled":
		return domain.OrderStatusFilled
	case "canceled", "pending_cancel", "expired", "done_for_day", "stopped":
		return domain.OrderStatusCancelled
	case "rejected", "suspended":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusPending
	}
}
