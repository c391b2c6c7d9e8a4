package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"matching-exchange/internal/engine"
)

const apiPrefix = "/api/exchange"

// registerRoutes sets up all API endpoints
func (s *Server) registerRoutes() {
	s.router.Use(s.observe)

	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.router.HandleFunc(apiPrefix+"/order", s.limited(s.handleSubmitOrder)).Methods(http.MethodPost)
	s.router.HandleFunc(apiPrefix+"/order", s.limited(s.handleCancelOrder)).Methods(http.MethodDelete)
	s.router.HandleFunc(apiPrefix+"/orders", s.limited(s.handleCancelAllOrders)).Methods(http.MethodDelete)
	s.router.HandleFunc(apiPrefix+"/order/{orderId}", s.handleGetOrder).Methods(http.MethodGet)

	s.router.HandleFunc(apiPrefix+"/instruments", s.handleGetInstruments).Methods(http.MethodGet)
	s.router.HandleFunc(apiPrefix+"/book/{name}", s.handleGetOrderBook).Methods(http.MethodGet)
	s.router.HandleFunc(apiPrefix+"/books", s.handleGetAllOrderBooks).Methods(http.MethodGet)
	s.router.HandleFunc(apiPrefix+"/trades/{name}", s.handleGetTrades).Methods(http.MethodGet)

	s.router.HandleFunc(apiPrefix+"/user/{username}", s.handleGetUser).Methods(http.MethodGet)
	s.router.HandleFunc(apiPrefix+"/leaderboard", s.handleGetLeaderboard).Methods(http.MethodGet)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.metricsPath != "" {
		s.router.Handle(s.metricsPath, s.metrics.Handler()).Methods(http.MethodGet)
	}
}

// handleSubmitOrder handles POST /api/exchange/order
func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	side, err := engine.ParseSide(r.FormValue("type"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "type must be buy or sell")
		return
	}
	price, err := parseDecimal(r.FormValue("price"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "price must be a number")
		return
	}
	quantity, err := parseDecimal(r.FormValue("quantity"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "quantity must be a number")
		return
	}

	result, err := s.exchange.Submit(r.FormValue("book"), side, price, quantity, r.FormValue("username"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleCancelOrder handles DELETE /api/exchange/order
func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.FormValue("orderId")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "orderId is required")
		return
	}

	if err := s.exchange.Cancel(r.FormValue("book"), orderID, r.FormValue("username")); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"orderId": orderID,
		"status":  string(engine.CANCELLED),
	})
}

// handleCancelAllOrders handles DELETE /api/exchange/orders
func (s *Server) handleCancelAllOrders(w http.ResponseWriter, r *http.Request) {
	count, err := s.exchange.CancelAll(r.FormValue("book"), r.FormValue("username"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": string(engine.CANCELLED),
		"count":  count,
	})
}

// handleGetOrder handles GET /api/exchange/order/{orderId}
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.exchange.Order(mux.Vars(r)["orderId"])
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleGetInstruments(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.exchange.Instruments())
}

// handleGetOrderBook handles GET /api/exchange/book/{name}
func (s *Server) handleGetOrderBook(w http.ResponseWriter, r *http.Request) {
	depth, ok := positiveQueryInt(w, r, "depth")
	if !ok {
		return
	}

	snapshot, err := s.exchange.OrderBook(mux.Vars(r)["name"])
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snapshot.Depth(depth))
}

// handleGetAllOrderBooks handles GET /api/exchange/books
func (s *Server) handleGetAllOrderBooks(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.exchange.AllOrderBooks())
}

// handleGetTrades handles GET /api/exchange/trades/{name}
func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit, ok := positiveQueryInt(w, r, "limit")
	if !ok {
		return
	}
	if limit == 0 {
		limit = defaultTradeLimit
	}

	trades, err := s.exchange.Trades(mux.Vars(r)["name"], limit)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, trades)
}

// handleGetUser handles GET /api/exchange/user/{username}
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	summary, err := s.exchange.Account(mux.Vars(r)["username"])
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// handleGetLeaderboard handles GET /api/exchange/leaderboard
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.exchange.Ranking())
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"instruments":    s.exchange.Instruments(),
	})
}

const defaultTradeLimit = 100

func parseDecimal(v string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(v))
}

// positiveQueryInt reads an optional positive integer query parameter. It
// writes the 400 itself and reports false when the value is malformed.
func positiveQueryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		respondError(w, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return n, true
}

// Helper functions

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}

// respondEngineError maps engine rejections onto HTTP status codes.
func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrOrderNotFound), errors.Is(err, engine.ErrUnknownUser):
		respondError(w, http.StatusNotFound, err.Error())
	case engine.IsValidation(err):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
