package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestOrderStatusTerminal(t *testing.T) {
	tests := []struct {
		status   OrderStatus
		terminal bool
	}{
		{OrderStatusPending, false},
		{OrderStatusAcknowledged, false},
		{OrderStatusPartiallyFilled, false},
		{OrderStatusFilled, true},
		{OrderStatusCancelled, true},
		{OrderStatusRejected, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestOrderRecordOpen(t *testing.T) {
	rec := OrderRecord{
		Request: OrderRequest{
			IdempotencyKey: "k1",
			Instrument:     "AAPL",
			Side:           SideBuy,
			Qty:            decimal.NewFromInt(10),
			Type:           OrderTypeMarket,
			SubmittedAt:    time.Now(),
		},
		Status: OrderStatusPending,
	}
	if !rec.Open() {
		t.Error("pending record should be open")
	}
	if got := rec.Key(); got != "k1" {
		t.Errorf("Key() = %q, want %q", got, "k1")
	}

	rec.Status = OrderStatusFilled
	if rec.Open() {
		t.Error("filled record should not be open")
	}
}

func TestEnumValues(t *testing.T) {
	if SideBuy != "buy" || SideSell != "sell" {
		t.Error("Side constants have unexpected values")
	}
	if OrderTypeMarket != "market" || OrderTypeLimit != "limit" {
		t.Error("OrderType constants have unexpected values")
	}
}
