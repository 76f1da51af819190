package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"tradecore/internal/domain"
	"tradecore/internal/engine"
	"tradecore/internal/ledger"
	"tradecore/internal/task"
	"tradecore/internal/venue"
)

// Server serves the trading HTTP API.
type Server struct {
	engine *engine.Engine
	runner *task.Runner
	log    *slog.Logger
}

// NewServer creates the HTTP facade. runner may be nil when no strategies
// are configured; start-trading then returns 503.
func NewServer(eng *engine.Engine, runner *task.Runner, log *slog.Logger) *Server {
	return &Server{engine: eng, runner: runner, log: log}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/orders", s.handleListOrders)
	mux.HandleFunc("GET /api/orders/{key}", s.handleGetOrder)
	mux.HandleFunc("POST /api/orders", s.handleSubmitOrder)
	mux.HandleFunc("DELETE /api/orders/{key}", s.handleCancelOrder)
	mux.HandleFunc("GET /api/portfolio", s.handlePortfolio)
	mux.HandleFunc("GET /api/profit-loss", s.handleProfitLoss)
	mux.HandleFunc("GET /api/anomalies", s.handleAnomalies)
	mux.HandleFunc("POST /api/start-trading", s.handleStartTrading)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.engine.GetOpenOrders()
	if orders == nil {
		orders = []domain.OrderRecord{}
	}
	writeJSON(w, OrdersResponse{Orders: orders})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	rec, ok := s.engine.GetOrder(key)
	if !ok {
		writeError(w, http.StatusNotFound, "order not found: "+key)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var body SubmitOrderRequest
	if err := decodeBody(r.Body, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := domain.OrderRequest{
		IdempotencyKey: body.IdempotencyKey,
		Instrument:     body.Instrument,
		Side:           domain.Side(body.Side),
		Qty:            body.Qty,
		Type:           domain.OrderType(body.Type),
		LimitPrice:     body.LimitPrice,
	}
	if err := validateOrder(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.engine.SubmitStrategyOrder(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		s.log.Error("encoding JSON response", "error", err)
	}
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := s.engine.CancelOrder(r.Context(), key); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Portfolio()
	positions := snap.Positions
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, PortfolioResponse{Positions: positions, AsOf: snap.At})
}

func (s *Server) handleProfitLoss(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Portfolio()
	writeJSON(w, ProfitLossResponse{
		Realized:   snap.TotalRealized,
		Unrealized: snap.TotalUnrealized,
		Total:      snap.ProfitLoss(),
		AsOf:       snap.At,
	})
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	anomalies := s.engine.Anomalies()
	if anomalies == nil {
		anomalies = []domain.Anomaly{}
	}
	writeJSON(w, AnomaliesResponse{Anomalies: anomalies})
}

func (s *Server) handleStartTrading(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "no strategies configured")
		return
	}
	var body StartTradingRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r.Body, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := s.runner.RunOnce(r.Context(), body.Strategies...); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, StartTradingResponse{Strategies: body.Strategies})
}

// writeEngineError maps the error taxonomy onto HTTP statuses: auth failures
// are 401, business rejections 409, venue connectivity 503 and unknown
// orders 404. A venue fetch failure is never silently turned into an empty
// success.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case venue.IsAuth(err):
		writeError(w, http.StatusUnauthorized, err.Error())
	case venue.IsRejected(err):
		writeError(w, http.StatusConflict, err.Error())
	case venue.IsNetwork(err):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ledger.ErrUnknownOrder):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrEmptyKey):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func validateOrder(req domain.OrderRequest) error {
	if req.Instrument == "" {
		return errors.New("instrument required")
	}
	switch req.Side {
	case domain.SideBuy, domain.SideSell:
	default:
		return errors.New("side must be buy or sell")
	}
	switch req.Type {
	case domain.OrderTypeMarket:
	case domain.OrderTypeLimit:
		if req.LimitPrice.Sign() <= 0 {
			return errors.New("limit orders require a positive limit_price")
		}
	default:
		return errors.New("type must be market or limit")
	}
	if req.Qty.Sign() <= 0 {
		return errors.New("qty must be positive")
	}
	return nil
}

func decodeBody(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
