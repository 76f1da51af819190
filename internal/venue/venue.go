// Package venue defines the Venue interface and provides implementations for
// submitting orders and querying state at a brokerage.
package venue

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
)

// Venue abstracts the brokerage capabilities the engine depends on: session
// authentication, order submission, and read-only snapshot queries.
//
// Every call may block on the network and must honor ctx. Failures are
// classified into *AuthError, *NetworkError, and *RejectedError; callers pick
// their retry policy off that classification.
type Venue interface {
	// Name returns the venue identifier (e.g. "alpaca", "sim").
	Name() string

	// Authenticate establishes or refreshes the session. It is idempotent:
	// calling it with an Active session is a no-op.
	Authenticate(ctx context.Context) error

	// SubmitOrder sends an order and returns the venue order id. A
	// *NetworkError is ambiguous — the order may have reached the venue — so
	// the caller must retry with the same idempotency key or query status
	// before resubmitting, never with a fresh key.
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (string, error)

	// CancelOrder requests cancellation of an open order by venue order id.
	CancelOrder(ctx context.Context, venueOrderID string) error

	// FetchOpenOrders returns the venue's open order book. An empty slice
	// with a nil error means an empty book; a fetch failure returns an error
	// and no slice, so the two are never conflated.
	FetchOpenOrders(ctx context.Context) ([]VenueOrder, error)

	// FetchPositions returns the venue's view of current positions.
	FetchPositions(ctx context.Context) ([]VenuePosition, error)

	// FetchAccount returns a snapshot of the account's financial metrics.
	FetchAccount(ctx context.Context) (*domain.AccountInfo, error)
}

// VenueOrder is one order as reported by the venue. ClientOrderID carries the
// idempotency key the order was submitted with, which lets reconciliation
// match orders whose venue id was lost to a network failure.
type VenueOrder struct {
	VenueOrderID  string
	ClientOrderID string
	Instrument    string
	Side          domain.Side
	Status        domain.OrderStatus
	Qty           decimal.Decimal
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
	UpdatedAt     time.Time
}

// VenuePosition is one position as reported by the venue. Quantity here is
// authoritative; average cost and P&L may be zero when the venue does not
// report them.
type VenuePosition struct {
	Instrument   string
	Qty          decimal.Decimal
	AvgCost      decimal.Decimal
	MarketPrice  decimal.Decimal
	UnrealizedPL decimal.Decimal
}
