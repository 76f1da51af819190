// Package tradecore provides a Go SDK for the tradecore-server HTTP API.
package tradecore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/domain"
	"tradecore/internal/httpapi"
)

// Client talks to a tradecore-server instance.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an API client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tradecore: server returned %d: %s", e.StatusCode, e.Message)
}

// SubmitOrder submits a new order. The server assigns an idempotency key
// when the request carries none; reuse the returned record's key to retry
// safely.
func (c *Client) SubmitOrder(ctx context.Context, req httpapi.SubmitOrderRequest) (domain.OrderRecord, error) {
	var rec domain.OrderRecord
	err := c.do(ctx, http.MethodPost, "/api/orders", req, &rec)
	return rec, err
}

// GetOrder retrieves one order by idempotency key.
func (c *Client) GetOrder(ctx context.Context, key string) (domain.OrderRecord, error) {
	var rec domain.OrderRecord
	err := c.do(ctx, http.MethodGet, "/api/orders/"+key, nil, &rec)
	return rec, err
}

// GetOpenOrders retrieves all non-terminal orders.
func (c *Client) GetOpenOrders(ctx context.Context) ([]domain.OrderRecord, error) {
	var resp httpapi.OrdersResponse
	if err := c.do(ctx, http.MethodGet, "/api/orders", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// CancelOrder requests cancellation of an open order.
func (c *Client) CancelOrder(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, "/api/orders/"+key, nil, nil)
}

// GetPortfolio retrieves the reconciled positions.
func (c *Client) GetPortfolio(ctx context.Context) (httpapi.PortfolioResponse, error) {
	var resp httpapi.PortfolioResponse
	err := c.do(ctx, http.MethodGet, "/api/portfolio", nil, &resp)
	return resp, err
}

// GetProfitLoss retrieves total profit and loss.
func (c *Client) GetProfitLoss(ctx context.Context) (decimal.Decimal, error) {
	var resp httpapi.ProfitLossResponse
	if err := c.do(ctx, http.MethodGet, "/api/profit-loss", nil, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Total, nil
}

// GetAnomalies retrieves flagged local/venue mismatches.
func (c *Client) GetAnomalies(ctx context.Context) ([]domain.Anomaly, error) {
	var resp httpapi.AnomaliesResponse
	if err := c.do(ctx, http.MethodGet, "/api/anomalies", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Anomalies, nil
}

// StartTrading runs the named strategies once (all registered when names is
// empty).
func (c *Client) StartTrading(ctx context.Context, names ...string) error {
	return c.do(ctx, http.MethodPost, "/api/start-trading",
		httpapi.StartTradingRequest{Strategies: names}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("tradecore: encoding request: %w", err)
		}
		reqBody = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("tradecore: building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tradecore: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("tradecore: decoding response: %w", err)
	}
	return nil
}
