// Package api serves the admin HTTP surface: health, metrics, on-demand
// checks, manual cycles and read-only views of the mirror and ledger.
//
// Handlers are thin; every state change goes through the engine via the
// scheduler so HTTP-triggered work shares its decision path and shutdown.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/shipsure/internal/engine"
	"github.com/roach88/shipsure/internal/ledger"
	"github.com/roach88/shipsure/internal/metrics"
	"github.com/roach88/shipsure/internal/policy"
	"github.com/roach88/shipsure/internal/store"
)

// Runner is the work surface behind the mutating routes. Implemented by
// *scheduler.Scheduler.
type Runner interface {
	Check(ctx context.Context, shipmentID string) (engine.ShipmentResult, error)
	RunOnce(ctx context.Context) (engine.BatchResult, error)
}

// MirrorReader is the read side of the mirror store.
type MirrorReader interface {
	ReadPolicy(ctx context.Context, shipmentID string) (policy.Policy, error)
	ListClaims(ctx context.Context, shipmentID string) ([]policy.Claim, error)
	Tracking(ctx context.Context, shipmentID string) ([]policy.TrackingEntry, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// LedgerReader is the read side of the ledger.
type LedgerReader interface {
	Info(ctx context.Context) (ledger.Info, error)
	ReadPolicy(ctx context.Context, policyID uint64) (policy.Policy, error)
	UserPolicies(ctx context.Context, holder string) ([]uint64, error)
}

// Server wires the gin router to the runner and readers.
type Server struct {
	runner  Runner
	mirror  MirrorReader
	ledger  LedgerReader
	rec     *metrics.Recorder
	gather  prometheus.Gatherer
	origins []string
	router  *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithCORS enables CORS for the given origins. No origins disables CORS.
func WithCORS(origins []string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// WithMetrics records request metrics on rec and serves g on /metrics.
func WithMetrics(rec *metrics.Recorder, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.rec = rec
		s.gather = g
	}
}

// New builds the router.
func New(runner Runner, mirror MirrorReader, led LedgerReader, opts ...Option) *Server {
	s := &Server{
		runner: runner,
		mirror: mirror,
		ledger: led,
		gather: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(requestMetrics(s.rec))
	if len(s.origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: s.origins,
			AllowMethods: []string{"GET", "POST"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	if err := r.SetTrustedProxies([]string{"127.0.0.1", "::1"}); err != nil {
		slog.Warn("failed to set trusted proxies", "error", err)
	}

	s.router = r
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down,
// allowing in-flight requests up to five seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{})))

	oracle := s.router.Group("/oracle")
	oracle.POST("/check-shipment", s.checkShipment)
	oracle.POST("/auto-check", s.autoCheck)
	oracle.GET("/tracking/:shipmentId", s.tracking)
	oracle.GET("/stats", s.stats)

	s.router.GET("/policies/:shipmentId", s.mirrorPolicy)

	led := s.router.Group("/ledger")
	led.GET("/info", s.ledgerInfo)
	led.GET("/policy/:policyId", s.ledgerPolicy)
	led.GET("/user/:holder/policies", s.userPolicies)
}
