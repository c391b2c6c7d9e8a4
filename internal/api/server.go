package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"matching-exchange/internal/config"
	"matching-exchange/internal/engine"
)

// Metrics is what the server needs from a metrics backend.
type Metrics interface {
	ObserveRequest(route, method string, code int, d time.Duration)
	Handler() http.Handler
}

type nopMetrics struct{}

func (nopMetrics) ObserveRequest(string, string, int, time.Duration) {}
func (nopMetrics) Handler() http.Handler                             { return http.NotFoundHandler() }

// Server exposes an Exchange over HTTP.
type Server struct {
	exchange    *engine.Exchange
	router      *mux.Router
	cfg         config.ServerConfig
	log         *zap.Logger
	metrics     Metrics
	metricsPath string
	limiter     *limiterStore
	startTime   time.Time
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics records requests in m and serves it at path.
func WithMetrics(m Metrics, path string) Option {
	return func(s *Server) {
		s.metrics = m
		s.metricsPath = path
	}
}

// NewServer creates a new API server
func NewServer(ex *engine.Exchange, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		exchange:  ex,
		router:    mux.NewRouter(),
		cfg:       cfg,
		log:       zap.NewNop(),
		metrics:   nopMetrics{},
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.RateLimit.RPS > 0 {
		s.limiter = newLimiterStore(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst, 10*time.Minute)
	}

	s.registerRoutes()
	return s
}

// Handler returns the full handler chain: CORS, request ids, then routing.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", headerRequestID},
		ExposedHeaders: []string{headerRequestID},
	})
	return c.Handler(withRequestID(s.router))
}

// Run serves on the configured address until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	if s.limiter != nil {
		go s.limiter.janitor(ctx, time.Minute)
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.log.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}
