package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/internal/ledger"
	"tradecore/internal/position"
	"tradecore/internal/reconcile"
	"tradecore/internal/venue"
	"tradecore/pkg/creds"
)

func newTestEngine(t *testing.T, autoFill bool) (*Engine, *venue.SimVenue) {
	t.Helper()
	sim := venue.NewSimVenue(creds.NewStatic(creds.Credentials{APIKey: "k"}), autoFill)
	led := ledger.New(sim, nil)
	agg := position.NewAggregator()
	rec := reconcile.New(sim, led, agg, nil, reconcile.Config{})
	eng := NewEngine(sim, led, rec, agg, NewRiskManager(0.10, 0.02), nil)
	return eng, sim
}

func marketBuy(key string, qty int64) domain.OrderRequest {
	return domain.OrderRequest{
		IdempotencyKey: key,
		Instrument:     "AAPL",
		Side:           domain.SideBuy,
		Qty:            decimal.NewFromInt(qty),
		Type:           domain.OrderTypeMarket,
	}
}

func TestSubmitAssignsIdempotencyKey(t *testing.T) {
	eng, sim := newTestEngine(t, true)
	sim.SetPrice("AAPL", decimal.NewFromInt(100))

	req := marketBuy("", 10)
	rec, err := eng.SubmitStrategyOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("SubmitStrategyOrder() error = %v", err)
	}
	if rec.Key() == "" {
		t.Error("record has empty idempotency key, want generated key")
	}
	if got, ok := eng.GetOrder(rec.Key()); !ok || got.VenueOrderID == "" {
		t.Errorf("GetOrder(%q) = (%+v, %v), want acknowledged record", rec.Key(), got, ok)
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	eng, sim := newTestEngine(t, true)
	sim.SetPrice("AAPL", decimal.NewFromInt(100))

	first, err := eng.SubmitStrategyOrder(context.Background(), marketBuy("k1", 10))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := eng.SubmitStrategyOrder(context.Background(), marketBuy("k1", 10))
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.VenueOrderID != first.VenueOrderID {
		t.Errorf("venue order id = %q, want %q", second.VenueOrderID, first.VenueOrderID)
	}
	if sim.SubmitCalls != 1 {
		t.Errorf("venue submit calls = %d, want 1", sim.SubmitCalls)
	}
}

func TestDisabledRiskSkipsAccountFetch(t *testing.T) {
	sim := venue.NewSimVenue(creds.NewStatic(creds.Credentials{APIKey: "k"}), true)
	led := ledger.New(sim, nil)
	agg := position.NewAggregator()
	rec := reconcile.New(sim, led, agg, nil, reconcile.Config{})
	eng := NewEngine(sim, led, rec, agg, NewRiskManager(0, 0), nil)

	if _, err := eng.SubmitStrategyOrder(context.Background(), marketBuy("k1", 10)); err != nil {
		t.Fatalf("SubmitStrategyOrder() error = %v", err)
	}
	if sim.AccountCalls != 0 {
		t.Errorf("account fetches with no limits configured = %d, want 0", sim.AccountCalls)
	}

	// The account-independent validation still runs.
	if _, err := eng.SubmitStrategyOrder(context.Background(), marketBuy("k2", 0)); !venue.IsRejected(err) {
		t.Errorf("zero quantity submit = %v, want rejection", err)
	}
}

func TestEnabledRiskFetchesAccount(t *testing.T) {
	eng, sim := newTestEngine(t, true)
	sim.SetPrice("AAPL", decimal.NewFromInt(100))

	if _, err := eng.SubmitStrategyOrder(context.Background(), marketBuy("k1", 10)); err != nil {
		t.Fatalf("SubmitStrategyOrder() error = %v", err)
	}
	if sim.AccountCalls != 1 {
		t.Errorf("account fetches = %d, want 1", sim.AccountCalls)
	}
}

func TestRiskRejectsOversizedOrder(t *testing.T) {
	eng, _ := newTestEngine(t, true)

	// 1000 * 120 = 120k notional against 100k equity with a 10% cap.
	req := marketBuy("big", 1000)
	req.Type = domain.OrderTypeLimit
	req.LimitPrice = decimal.NewFromInt(120)

	_, err := eng.SubmitStrategyOrder(context.Background(), req)
	if !venue.IsRejected(err) {
		t.Fatalf("SubmitStrategyOrder() error = %v, want rejection", err)
	}
	if !strings.Contains(err.Error(), "position limit") {
		t.Errorf("error = %q, want position limit violation", err)
	}
	if len(eng.GetOpenOrders()) != 0 {
		t.Error("rejected order reached the ledger")
	}
}

func TestRiskRejectsAfterDailyLoss(t *testing.T) {
	eng, _ := newTestEngine(t, true)

	// Equity 100k, 2% loss limit: a published P&L of -2500 halts trading.
	eng.agg.Publish(&position.Snapshot{
		TotalRealized: decimal.NewFromInt(-2500),
	})

	_, err := eng.SubmitStrategyOrder(context.Background(), marketBuy("halted", 1))
	if !venue.IsRejected(err) {
		t.Fatalf("SubmitStrategyOrder() error = %v, want rejection", err)
	}
	if !strings.Contains(err.Error(), "daily loss limit") {
		t.Errorf("error = %q, want daily loss violation", err)
	}
}

func TestRiskCheckOrderTable(t *testing.T) {
	acct := domain.AccountInfo{Equity: decimal.NewFromInt(100_000)}
	rm := NewRiskManager(0.10, 0.02)

	tests := []struct {
		name     string
		qty      int64
		price    int64
		pnl      int64
		wantFail bool
	}{
		{"within limits", 10, 100, 0, false},
		{"zero qty", 0, 100, 0, true},
		{"at notional cap", 100, 100, 0, false},
		{"over notional cap", 101, 100, 0, true},
		{"unknown price skips notional", 1_000_000, 0, 0, false},
		{"loss under limit", 10, 100, -1999, false},
		{"loss at limit", 10, 100, -2000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := marketBuy("k", tt.qty)
			err := rm.CheckOrder(context.Background(), &req, acct,
				decimal.NewFromInt(tt.price), decimal.NewFromInt(tt.pnl))
			if gotFail := err != nil; gotFail != tt.wantFail {
				t.Errorf("CheckOrder() error = %v, wantFail %v", err, tt.wantFail)
			}
			if err != nil && !venue.IsRejected(err) {
				t.Errorf("CheckOrder() error = %v, want *venue.RejectedError", err)
			}
		})
	}
}

func TestCancelOrder(t *testing.T) {
	eng, sim := newTestEngine(t, false)
	sim.SetPrice("AAPL", decimal.NewFromInt(100))

	rec, err := eng.SubmitStrategyOrder(context.Background(), marketBuy("c1", 5))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := eng.CancelOrder(context.Background(), rec.Key()); err != nil {
		t.Fatalf("CancelOrder() error = %v", err)
	}
	if _, err := eng.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	got, _ := eng.GetOrder(rec.Key())
	if got.Status != domain.OrderStatusCancelled {
		t.Errorf("status after cancel = %q, want %q", got.Status, domain.OrderStatusCancelled)
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	eng, _ := newTestEngine(t, false)
	if err := eng.CancelOrder(context.Background(), "nope"); !errors.Is(err, ledger.ErrUnknownOrder) {
		t.Errorf("CancelOrder() error = %v, want %v", err, ledger.ErrUnknownOrder)
	}
}

func TestCancelFilledOrderRejected(t *testing.T) {
	eng, sim := newTestEngine(t, true)
	sim.SetPrice("AAPL", decimal.NewFromInt(100))

	rec, err := eng.SubmitStrategyOrder(context.Background(), marketBuy("f1", 5))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := eng.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if err := eng.CancelOrder(context.Background(), rec.Key()); !venue.IsRejected(err) {
		t.Errorf("CancelOrder() on filled order error = %v, want rejection", err)
	}
}

func TestSubmitThenReconcileUpdatesPositions(t *testing.T) {
	eng, sim := newTestEngine(t, true)
	sim.SetPrice("AAPL", decimal.NewFromInt(100))

	if _, err := eng.SubmitStrategyOrder(context.Background(), marketBuy("p1", 10)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := eng.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	positions := eng.GetPositions()
	if len(positions) != 1 {
		t.Fatalf("len(positions) = %d, want 1", len(positions))
	}
	if got, want := positions[0].Qty.String(), "10"; got != want {
		t.Errorf("position qty = %s, want %s", got, want)
	}

	sim.SetPrice("AAPL", decimal.NewFromInt(105))
	if _, err := eng.Reconcile(context.Background()); err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}
	if got, want := eng.GetProfitLoss().String(), "50"; got != want {
		t.Errorf("profit/loss = %s, want %s", got, want)
	}
}
