package tradecore

import (
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/internal/engine"
	"tradecore/internal/httpapi"
	"tradecore/internal/ledger"
	"tradecore/internal/position"
	"tradecore/internal/reconcile"
	"tradecore/internal/venue"
	"tradecore/pkg/creds"
)

func newTestServer(t *testing.T) (*Client, *venue.SimVenue, *engine.Engine) {
	t.Helper()
	sim := venue.NewSimVenue(creds.NewStatic(creds.Credentials{APIKey: "k"}), true)
	sim.SetPrice("AAPL", decimal.NewFromInt(100))
	led := ledger.New(sim, nil)
	agg := position.NewAggregator()
	rec := reconcile.New(sim, led, agg, nil, reconcile.Config{})
	eng := engine.NewEngine(sim, led, rec, agg, nil, nil)

	srv := httptest.NewServer(httpapi.NewServer(eng, nil, slog.Default()).Handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL), sim, eng
}

func TestClientOrderRoundTrip(t *testing.T) {
	c, _, eng := newTestServer(t)
	ctx := context.Background()

	rec, err := c.SubmitOrder(ctx, httpapi.SubmitOrderRequest{
		IdempotencyKey: "k1",
		Instrument:     "AAPL",
		Side:           "buy",
		Qty:            decimal.NewFromInt(10),
		Type:           "market",
	})
	if err != nil {
		t.Fatalf("SubmitOrder() error = %v", err)
	}
	if rec.Status != domain.OrderStatusAcknowledged {
		t.Errorf("status = %q, want %q", rec.Status, domain.OrderStatusAcknowledged)
	}

	got, err := c.GetOrder(ctx, "k1")
	if err != nil {
		t.Fatalf("GetOrder() error = %v", err)
	}
	if got.VenueOrderID != rec.VenueOrderID {
		t.Errorf("venue order id = %q, want %q", got.VenueOrderID, rec.VenueOrderID)
	}

	if _, err := eng.Reconcile(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	pf, err := c.GetPortfolio(ctx)
	if err != nil {
		t.Fatalf("GetPortfolio() error = %v", err)
	}
	if len(pf.Positions) != 1 {
		t.Fatalf("len(positions) = %d, want 1", len(pf.Positions))
	}
	if got, want := pf.Positions[0].Qty.String(), "10"; got != want {
		t.Errorf("position qty = %s, want %s", got, want)
	}

	pl, err := c.GetProfitLoss(ctx)
	if err != nil {
		t.Fatalf("GetProfitLoss() error = %v", err)
	}
	if !pl.IsZero() {
		t.Errorf("profit/loss at cost = %s, want 0", pl)
	}
}

func TestClientAPIError(t *testing.T) {
	c, _, _ := newTestServer(t)

	_, err := c.GetOrder(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("GetOrder() error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != 404 {
		t.Errorf("status = %d, want 404", apiErr.StatusCode)
	}
}

func TestClientRejectionSurfacesStatus(t *testing.T) {
	c, sim, _ := newTestServer(t)
	sim.FailNextSubmit(&venue.RejectedError{Reason: "halted"}, false)

	_, err := c.SubmitOrder(context.Background(), httpapi.SubmitOrderRequest{
		IdempotencyKey: "r1",
		Instrument:     "AAPL",
		Side:           "buy",
		Qty:            decimal.NewFromInt(1),
		Type:           "market",
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("SubmitOrder() error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != 409 {
		t.Errorf("status = %d, want 409", apiErr.StatusCode)
	}
}

func TestClientStartTradingWithoutStrategies(t *testing.T) {
	c, _, _ := newTestServer(t)

	err := c.StartTrading(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("StartTrading() error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != 503 {
		t.Errorf("status = %d, want 503", apiErr.StatusCode)
	}
}
