package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/remit/service/config"
	"github.com/brojonat/remit/service/db"
	"github.com/brojonat/remit/service/metrics"
	"github.com/brojonat/remit/service/solana"
	"github.com/brojonat/remit/service/temporal"
)

// TransferStore is the ledger the HTTP handlers read and write.
type TransferStore interface {
	CreateTransfer(ctx context.Context, params db.CreateTransferParams) (*db.Transfer, error)
	GetTransfer(ctx context.Context, id string) (*db.Transfer, error)
	GetTransferByIdempotencyKey(ctx context.Context, key string) (*db.Transfer, error)
	ListTransfers(ctx context.Context, params db.ListTransfersParams) ([]*db.Transfer, error)
	UpdateTransferStatus(ctx context.Context, params db.UpdateTransferStatusParams) (*db.Transfer, error)
	Ping(ctx context.Context) error
}

// TransferStarter starts the workflow that executes a recorded transfer.
type TransferStarter interface {
	StartTransfer(ctx context.Context, input temporal.TransferWorkflowInput) (string, error)
}

// BalanceReader reads token balances from the network.
type BalanceReader interface {
	TokenBalance(ctx context.Context, owner, mint string) (*solana.TokenBalance, error)
}

// Server represents the HTTP server for the transfer service.
type Server struct {
	addr     string
	cfg      *config.Config
	store    TransferStore
	starter  TransferStarter
	balances BalanceReader
	metrics  *metrics.Metrics
	logger   *slog.Logger
	server   *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The starter is used to start a TransferWorkflow for every accepted transfer.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, store TransferStore, starter TransferStarter, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:    addr,
		cfg:     cfg,
		store:   store,
		starter: starter,
		metrics: m,
		logger:  logger,
	}
}

// WithBalances enables the balance endpoint.
func (s *Server) WithBalances(balances BalanceReader) *Server {
	s.balances = balances
	return s
}

// Handler builds the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	instrument := metrics.HTTPMetricsMiddleware(s.metrics)
	route := func(pattern string, h http.Handler) {
		mux.Handle(pattern, instrument(h))
	}

	// Transfer routes
	route("POST /api/v1/transfers", handleCreateTransfer(s.store, s.starter, s.cfg, s.logger))
	route("GET /api/v1/transfers", handleListTransfers(s.store, s.logger))
	route("GET /api/v1/transfers/{id}", handleGetTransfer(s.store, s.logger))
	route("GET /api/v1/payment-requests", handlePaymentRequest(s.cfg, s.logger))

	if s.balances != nil {
		route("GET /api/v1/balances/{owner}", handleGetBalance(s.balances, s.cfg, s.logger))
	}

	// Health check endpoint
	mux.Handle("GET /health", handleHealth(s.store, s.logger))

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr, "metrics", s.metrics != nil, "balances", s.balances != nil)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
