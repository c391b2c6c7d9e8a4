package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matching-exchange/internal/config"
	"matching-exchange/internal/engine"
	"matching-exchange/internal/metrics"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
}

func newTestServer(t *testing.T, mutate func(*config.ServerConfig), opts ...Option) *testServer {
	t.Helper()
	ex, err := engine.NewExchange([]string{"AAPL", "AMZN", "NVDA", "MSFT"})
	require.NoError(t, err)

	cfg := config.Default().Server
	cfg.RateLimit = config.RateLimitConfig{}
	if mutate != nil {
		mutate(&cfg)
	}
	return &testServer{t: t, handler: NewServer(ex, cfg, opts...).Handler()}
}

func (s *testServer) do(method, target string) *httptest.ResponseRecorder {
	s.t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) submit(book, side, price, qty, user string) *httptest.ResponseRecorder {
	s.t.Helper()
	q := url.Values{"book": {book}, "type": {side}, "price": {price}, "quantity": {qty}, "username": {user}}
	return s.do(http.MethodPost, "/api/exchange/order?"+q.Encode())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rec)["error"]
}

type bookBody struct {
	Bids [][]float64 `json:"bids"`
	Asks [][]float64 `json:"asks"`
}

func TestSubmitAndReadBook(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.submit("AAPL", "buy", "100", "10", "alice")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	res := decode[engine.SubmitResult](t, rec)
	assert.Equal(t, engine.ACTIVE, res.Status)
	assert.NotEmpty(t, res.OrderID)

	rec = s.do(http.MethodGet, "/api/exchange/book/AAPL")
	require.Equal(t, http.StatusOK, rec.Code)
	book := decode[bookBody](t, rec)
	assert.Equal(t, [][]float64{{100, 10}}, book.Bids)
	assert.Empty(t, book.Asks)
	assert.Contains(t, rec.Body.String(), `"asks":[]`)

	rec = s.submit("AAPL", "SELL", "99", "4", "bob")
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[engine.SubmitResult](t, rec)
	assert.Equal(t, engine.FILLED, res.Status)
	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Price.Equal(decimal.NewFromInt(100)))

	book = decode[bookBody](t, s.do(http.MethodGet, "/api/exchange/book/AAPL"))
	assert.Equal(t, [][]float64{{100, 6}}, book.Bids)
}

func TestSubmitFromFormBody(t *testing.T) {
	s := newTestServer(t, nil)
	form := url.Values{"book": {"MSFT"}, "type": {"sell"}, "price": {"310.25"}, "quantity": {"3"}, "username": {"carol"}}
	req := httptest.NewRequest(http.MethodPost, "/api/exchange/order", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	book := decode[bookBody](t, s.do(http.MethodGet, "/api/exchange/book/MSFT"))
	assert.Equal(t, [][]float64{{310.25, 3}}, book.Asks)
}

func TestSubmitRejections(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name                   string
		book, side, price, qty string
		user                   string
		wantCode               int
	}{
		{"zero price", "AAPL", "buy", "0", "1", "alice", http.StatusBadRequest},
		{"zero quantity", "AAPL", "buy", "100", "0", "alice", http.StatusBadRequest},
		{"fractional quantity below one", "AAPL", "buy", "100", "0.5", "alice", http.StatusBadRequest},
		{"price not a number", "AAPL", "buy", "abc", "1", "alice", http.StatusBadRequest},
		{"quantity not a number", "AAPL", "buy", "100", "", "alice", http.StatusBadRequest},
		{"unknown side", "AAPL", "hold", "100", "1", "alice", http.StatusBadRequest},
		{"unknown book", "TSLA", "buy", "100", "1", "alice", http.StatusBadRequest},
		{"no user", "AAPL", "buy", "100", "1", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.submit(tt.book, tt.side, tt.price, tt.qty, tt.user)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.NotEmpty(t, errorMessage(t, rec))
		})
	}

	rec := s.do(http.MethodGet, "/api/exchange/user/alice")
	assert.Equal(t, http.StatusNotFound, rec.Code, "rejected orders create no account")
	assert.Equal(t, "[]\n", s.do(http.MethodGet, "/api/exchange/leaderboard").Body.String())
}

func TestCancelEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	first := decode[engine.SubmitResult](t, s.submit("AAPL", "buy", "100", "10", "alice"))
	s.submit("AAPL", "buy", "99", "5", "alice")
	s.submit("AAPL", "sell", "105", "5", "alice")

	rec := s.do(http.MethodDelete, "/api/exchange/order?book=AAPL&orderId="+first.OrderID+"&username=bob")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "not the owner")

	rec = s.do(http.MethodDelete, "/api/exchange/order?book=AAPL&orderId=nope&username=alice")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodDelete, "/api/exchange/order?book=AAPL&username=alice")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodDelete, "/api/exchange/order?book=AAPL&orderId="+first.OrderID+"&username=alice")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "CANCELLED", decode[map[string]string](t, rec)["status"])

	rec = s.do(http.MethodDelete, "/api/exchange/order?book=AAPL&orderId="+first.OrderID+"&username=alice")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "already cancelled")

	rec = s.do(http.MethodGet, "/api/exchange/order/"+first.OrderID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, engine.CANCELLED, decode[engine.Order](t, rec).Status)

	rec = s.do(http.MethodDelete, "/api/exchange/orders?book=AAPL&username=alice")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "CANCELLED", body["status"])
	assert.EqualValues(t, 2, body["count"])

	book := decode[bookBody](t, s.do(http.MethodGet, "/api/exchange/book/AAPL"))
	assert.Empty(t, book.Bids)
	assert.Empty(t, book.Asks)

	rec = s.do(http.MethodDelete, "/api/exchange/orders?book=AAPL&username=ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBookDepthAndAllBooks(t *testing.T) {
	s := newTestServer(t, nil)
	for _, p := range []string{"100", "99", "98"} {
		s.submit("NVDA", "buy", p, "1", "alice")
	}

	book := decode[bookBody](t, s.do(http.MethodGet, "/api/exchange/book/NVDA?depth=2"))
	assert.Equal(t, [][]float64{{100, 1}, {99, 1}}, book.Bids)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/exchange/book/NVDA?depth=-1").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/exchange/book/NVDA?depth=x").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/exchange/book/TSLA").Code)

	all := decode[map[string]bookBody](t, s.do(http.MethodGet, "/api/exchange/books"))
	assert.Len(t, all, 4)
	assert.Len(t, all["NVDA"].Bids, 3)
	assert.Empty(t, all["AAPL"].Bids)

	instruments := decode[[]string](t, s.do(http.MethodGet, "/api/exchange/instruments"))
	assert.Equal(t, []string{"AAPL", "AMZN", "MSFT", "NVDA"}, instruments)
}

func TestUserLeaderboardAndTrades(t *testing.T) {
	s := newTestServer(t, nil)
	s.submit("AAPL", "sell", "100", "10", "bob")
	s.submit("AAPL", "buy", "100", "10", "alice")
	s.submit("AAPL", "buy", "110", "10", "carol")
	s.submit("AAPL", "sell", "110", "10", "alice")

	rec := s.do(http.MethodGet, "/api/exchange/user/alice")
	require.Equal(t, http.StatusOK, rec.Code)
	user := decode[engine.AccountSummary](t, rec)
	assert.Equal(t, "alice", user.Username)
	assert.True(t, user.RealizedProfit.Equal(decimal.NewFromInt(100)))
	assert.Empty(t, user.Positions)
	require.Len(t, user.ExecutedTrades, 2)
	assert.Equal(t, engine.BUY, user.ExecutedTrades[0].Side)
	assert.Equal(t, "bob", user.ExecutedTrades[0].Counterparty)

	bob := decode[engine.AccountSummary](t, s.do(http.MethodGet, "/api/exchange/user/bob"))
	require.Len(t, bob.Positions, 1)
	assert.Equal(t, "SHORT", bob.Positions[0].PositionType)

	ranking := decode[[]engine.RankingEntry](t, s.do(http.MethodGet, "/api/exchange/leaderboard"))
	require.Len(t, ranking, 3)
	assert.Equal(t, "alice", ranking[0].Username)

	trades := decode[[]engine.Trade](t, s.do(http.MethodGet, "/api/exchange/trades/AAPL?limit=1"))
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(decimal.NewFromInt(110)), "newest first")
	assert.Len(t, decode[[]engine.Trade](t, s.do(http.MethodGet, "/api/exchange/trades/AAPL")), 2)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/exchange/trades/AAPL?limit=0").Code)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/exchange/user/nobody").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/exchange/order/missing").Code)
}

func TestHealthMetricsAndHeaders(t *testing.T) {
	collector := metrics.New("exchange")
	s := newTestServer(t, nil, WithMetrics(collector, "/metrics"))
	s.submit("AAPL", "buy", "100", "1", "alice")

	rec := s.do(http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]any](t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))

	rec = s.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(),
		`exchange_http_requests_total{code="200",method="POST",route="/api/exchange/order"} 1`)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(headerRequestID, "req-42")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(headerRequestID))

	rec = s.do(http.MethodPut, "/api/exchange/order")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "method not allowed", errorMessage(t, rec))
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/exchange/nowhere").Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/exchange/order", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodDelete)
}

func TestRateLimitPerUser(t *testing.T) {
	s := newTestServer(t, func(c *config.ServerConfig) {
		c.RateLimit = config.RateLimitConfig{RPS: 0.001, Burst: 2}
	})

	assert.Equal(t, http.StatusOK, s.submit("AAPL", "buy", "100", "1", "alice").Code)
	assert.Equal(t, http.StatusOK, s.submit("AAPL", "buy", "100", "1", "alice").Code)
	rec := s.submit("AAPL", "buy", "100", "1", "alice")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, errorMessage(t, rec))

	assert.Equal(t, http.StatusOK, s.submit("AAPL", "buy", "100", "1", "bob").Code, "buckets are per user")
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/exchange/book/AAPL").Code, "reads are not limited")
}
