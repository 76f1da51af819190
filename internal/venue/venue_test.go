package venue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/pkg/creds"
)

const testTOTPSecret = "JBSWY3DPEHPK3PXP"

func testProvider() creds.Provider {
	return creds.NewStatic(creds.Credentials{
		APIKey:     "test-key",
		ClientID:   "test-client",
		APISecret:  "test-secret",
		TOTPSecret: testTOTPSecret,
	})
}

func marketBuy(key, instrument string, qty int64) domain.OrderRequest {
	return domain.OrderRequest{
		IdempotencyKey: key,
		Instrument:     instrument,
		Side:           domain.SideBuy,
		Qty:            decimal.NewFromInt(qty),
		Type:           domain.OrderTypeMarket,
		SubmittedAt:    time.Now(),
	}
}

func TestSessionLifecycle(t *testing.T) {
	var s Session
	if got := s.Status(); got != SessionUnauthenticated {
		t.Fatalf("zero Session.Status() = %q, want %q", got, SessionUnauthenticated)
	}

	s.Activate("tok", time.Now().Add(time.Hour))
	if got := s.Status(); got != SessionActive {
		t.Fatalf("Status() after Activate = %q, want %q", got, SessionActive)
	}
	if got := s.Token(); got != "tok" {
		t.Errorf("Token() = %q, want %q", got, "tok")
	}

	// Past expiry demotes to Expired on the next read.
	s.Activate("tok2", time.Now().Add(-time.Second))
	if got := s.Status(); got != SessionExpired {
		t.Errorf("Status() past expiry = %q, want %q", got, SessionExpired)
	}
	if got := s.Token(); got != "" {
		t.Errorf("Token() past expiry = %q, want empty", got)
	}
}

func TestSimAuthenticateTOTP(t *testing.T) {
	v := NewSimVenue(testProvider(), false)
	ctx := context.Background()

	if err := v.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if got := v.SessionStatus(); got != SessionActive {
		t.Fatalf("session = %q after login, want %q", got, SessionActive)
	}

	// Second call is a no-op.
	calls := v.AuthCalls
	if err := v.Authenticate(ctx); err != nil {
		t.Fatalf("repeat Authenticate returned error: %v", err)
	}
	if v.AuthCalls != calls {
		t.Errorf("repeat Authenticate hit the venue: %d calls, want %d", v.AuthCalls, calls)
	}
}

func TestSimAuthenticateBadCode(t *testing.T) {
	// Provider seed differs from the venue-side seed, so codes never match.
	provider := creds.NewStatic(creds.Credentials{
		APIKey:     "test-key",
		TOTPSecret: testTOTPSecret,
	})
	v := NewSimVenue(provider, false)
	v.totpSecret = "MFRGGZDFMZTWQ2LK"

	err := v.Authenticate(context.Background())
	if !IsAuth(err) {
		t.Fatalf("Authenticate with bad code = %v, want AuthError", err)
	}
}

func TestSimSubmitAndFill(t *testing.T) {
	v := NewSimVenue(testProvider(), true)
	v.SetPrice("XYZ", decimal.NewFromInt(100))
	ctx := context.Background()

	id, err := v.SubmitOrder(ctx, marketBuy("k1", "XYZ", 10))
	if err != nil {
		t.Fatalf("SubmitOrder returned error: %v", err)
	}
	if id == "" {
		t.Fatal("SubmitOrder returned empty venue order id")
	}

	orders, err := v.FetchOpenOrders(ctx)
	if err != nil {
		t.Fatalf("FetchOpenOrders returned error: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("got %d orders, want 1", len(orders))
	}
	o := orders[0]
	if o.Status != domain.OrderStatusFilled {
		t.Errorf("order status = %q, want %q", o.Status, domain.OrderStatusFilled)
	}
	if !o.FilledQty.Equal(decimal.NewFromInt(10)) {
		t.Errorf("filled qty = %s, want 10", o.FilledQty)
	}
	if !o.AvgFillPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("avg fill price = %s, want 100", o.AvgFillPrice)
	}

	positions, err := v.FetchPositions(ctx)
	if err != nil {
		t.Fatalf("FetchPositions returned error: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	if !positions[0].Qty.Equal(decimal.NewFromInt(10)) {
		t.Errorf("position qty = %s, want 10", positions[0].Qty)
	}
}

func TestSimDuplicateClientID(t *testing.T) {
	v := NewSimVenue(testProvider(), false)
	ctx := context.Background()

	if _, err := v.SubmitOrder(ctx, marketBuy("k1", "XYZ", 10)); err != nil {
		t.Fatalf("first submit returned error: %v", err)
	}
	_, err := v.SubmitOrder(ctx, marketBuy("k1", "XYZ", 10))
	if !IsRejected(err) {
		t.Fatalf("duplicate submit = %v, want RejectedError", err)
	}
}

func TestSimAmbiguousSubmit(t *testing.T) {
	v := NewSimVenue(testProvider(), false)
	ctx := context.Background()

	v.FailNextSubmit(&NetworkError{Op: "submit order", Err: errors.New("timeout")}, true)
	_, err := v.SubmitOrder(ctx, marketBuy("k2", "XYZ", 5))
	if !IsNetwork(err) {
		t.Fatalf("failed submit = %v, want NetworkError", err)
	}

	// The order still reached the venue under the same client order id.
	orders, err := v.FetchOpenOrders(ctx)
	if err != nil {
		t.Fatalf("FetchOpenOrders returned error: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("got %d orders, want 1", len(orders))
	}
	if orders[0].ClientOrderID != "k2" {
		t.Errorf("client order id = %q, want %q", orders[0].ClientOrderID, "k2")
	}
}

func TestSimFetchFailureIsNotEmpty(t *testing.T) {
	v := NewSimVenue(testProvider(), false)
	ctx := context.Background()

	v.FailFetches(&NetworkError{Op: "fetch", Err: errors.New("connection reset")})
	orders, err := v.FetchOpenOrders(ctx)
	if err == nil {
		t.Fatal("FetchOpenOrders should fail while fetch fault is set")
	}
	if orders != nil {
		t.Errorf("failed fetch returned %v, want nil slice", orders)
	}

	v.FailFetches(nil)
	orders, err = v.FetchOpenOrders(ctx)
	if err != nil {
		t.Fatalf("FetchOpenOrders returned error after clearing fault: %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("empty book returned %d orders, want 0", len(orders))
	}
}

func TestErrorClassification(t *testing.T) {
	auth := &AuthError{Reason: "expired token"}
	network := &NetworkError{Op: "submit", Err: errors.New("eof")}
	rejected := &RejectedError{Reason: "insufficient margin"}

	if !IsAuth(auth) || IsAuth(network) || IsAuth(rejected) {
		t.Error("IsAuth misclassifies")
	}
	if !IsNetwork(network) || IsNetwork(auth) || IsNetwork(rejected) {
		t.Error("IsNetwork misclassifies")
	}
	if !IsRejected(rejected) || IsRejected(auth) || IsRejected(network) {
		t.Error("IsRejected misclassifies")
	}

	// Classification survives wrapping.
	wrapped := errors.Join(errors.New("outer"), network)
	if !IsNetwork(wrapped) {
		t.Error("IsNetwork should see through wrapping")
	}
}

func TestMapOrderStatus(t *testing.T) {
	tests := []struct {
		in   string
		want domain.OrderStatus
	}{
		{"new", domain.OrderStatusAcknowledged},
		{"accepted", domain.OrderStatusAcknowledged},
		{"partially_filled", domain.OrderStatusPartiallyFilled},
		{"filled", domain.OrderStatusFilled},
		{"canceled", domain.OrderStatusCancelled},
		{"expired", domain.OrderStatusCancelled},
		{"rejected", domain.OrderStatusRejected},
		{"weird", domain.OrderStatusPending},
	}
	for _, tt := range tests {
		if got := mapOrderStatus(tt.in); got != tt.want {
			t.Errorf("mapOrderStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
