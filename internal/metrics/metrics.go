package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"matching-exchange/internal/engine"
)

// Collector records exchange activity on its own registry, so several
// exchanges (or tests) can live in one process.
type Collector struct {
	registry *prometheus.Registry

	ordersAccepted  *prometheus.CounterVec
	ordersRejected  *prometheus.CounterVec
	trades          *prometheus.CounterVec
	tradedVolume    *prometheus.CounterVec
	tradedNotional  *prometheus.CounterVec
	ordersCancelled *prometheus.CounterVec
	matchDuration   *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

var _ engine.Recorder = (*Collector)(nil)

// New registers every exchange metric under namespace.
func New(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		ordersAccepted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_accepted_total",
			Help:      "Orders accepted, by instrument and side",
		}, []string{"instrument", "side"}),
		ordersRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Requests rejected by validation, by reason",
		}, []string{"reason"}),
		trades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Trades executed",
		}, []string{"instrument"}),
		tradedVolume: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_volume_total",
			Help:      "Units traded",
		}, []string{"instrument"}),
		tradedNotional: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_notional_total",
			Help:      "Price times quantity traded",
		}, []string{"instrument"}),
		ordersCancelled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_cancelled_total",
			Help:      "Orders cancelled",
		}, []string{"instrument"}),
		matchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_duration_seconds",
			Help:      "Time to match and settle one order, lock wait included",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 16), // 10us -> ~0.3s
		}, []string{"instrument"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by route template, method and status code",
		}, []string{"route", "method", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by route template",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func (c *Collector) OrderAccepted(symbol string, side engine.Side) {
	c.ordersAccepted.WithLabelValues(symbol, string(side)).Inc()
}

func (c *Collector) OrderRejected(reason string) {
	c.ordersRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) TradeExecuted(symbol string, qty int64, price decimal.Decimal) {
	c.trades.WithLabelValues(symbol).Inc()
	c.tradedVolume.WithLabelValues(symbol).Add(float64(qty))
	notional, _ := price.Mul(decimal.NewFromInt(qty)).Float64()
	c.tradedNotional.WithLabelValues(symbol).Add(notional)
}

func (c *Collector) OrdersCancelled(symbol string, n int) {
	if n > 0 {
		c.ordersCancelled.WithLabelValues(symbol).Add(float64(n))
	}
}

func (c *Collector) MatchLatency(symbol string, d time.Duration) {
	c.matchDuration.WithLabelValues(symbol).Observe(d.Seconds())
}

// ObserveRequest records one served HTTP request.
func (c *Collector) ObserveRequest(route, method string, code int, d time.Duration) {
	c.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
