// Package api exposes the ledger over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ledger-service/pkg/ledger"
	"ledger-service/pkg/logging"
	"ledger-service/pkg/metrics"
	"ledger-service/pkg/query"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Poster submits postings.
type Poster interface {
	PostTransaction(ctx context.Context, accountID string, req ledger.Request) (ledger.Receipt, error)
}

// Querier answers read queries.
type Querier interface {
	GetAccount(ctx context.Context, id string) (ledger.Account, error)
	ListAccounts(ctx context.Context) ([]ledger.Account, error)
	ListAccountTransactions(ctx context.Context, accountID string, page, limit int) (query.Page[ledger.Transaction], error)
	ListTransactions(ctx context.Context, page, limit int) (query.Page[ledger.TransactionView], error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses
	WriteTimeout time.Duration

	// JWTSecret enables HS256 bearer token verification on /api routes.
	JWTSecret string

	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler

	// HealthChecks are run by /health.
	HealthChecks map[string]HealthCheck

	Metrics metrics.MetricsCollector
	Logger  *logging.Logger
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}

// Server serves the ledger API.
type Server struct {
	poster  Poster
	querier Querier
	config  ServerConfig
	metrics metrics.MetricsCollector
	logger  *logging.Logger
	router  *mux.Router
	server  *http.Server
}

// NewServer creates the API server and its routes.
func NewServer(poster Poster, querier Querier, config ServerConfig) *Server {
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}
	if config.Logger == nil {
		config.Logger = logging.L()
	}

	s := &Server{
		poster:  poster,
		querier: querier,
		config:  config,
		metrics: config.Metrics,
		logger:  config.Logger.Named("api"),
	}

	r := mux.NewRouter()
	r.Use(requestID, s.accessLog, s.recordMetrics)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if config.MetricsHandler != nil {
		r.Handle("/metrics", config.MetricsHandler).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	if config.JWTSecret != "" {
		api.Use(newAuthenticator([]byte(config.JWTSecret), s.logger).middleware)
	}
	api.HandleFunc("/accounts", s.handleListAccounts).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{accountId}", s.handleGetAccount).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{accountId}/transactions", s.handleCreateTransaction).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{accountId}/transactions", s.handleListAccountTransactions).Methods(http.MethodGet)
	api.HandleFunc("/transactions", s.handleListTransactions).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	s.router = r
	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks serving requests until the server is shut down.
// It returns nil after a graceful Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", zap.String("addr", s.config.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.config.HealthChecks))
	for name, check := range s.config.HealthChecks {
		if err := check(ctx); err != nil {
			s.logger.WithContext(ctx).Warn("health check failed", zap.String("check", name), zap.Error(err))
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}
	if status != http.StatusOK {
		response["status"] = "degraded"
	}
	if len(checks) > 0 {
		response["checks"] = checks
	}

	writeJSON(w, status, response)
}
