package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"yieldvault/core"
	nativecommon "yieldvault/native/common"
	"yieldvault/services/indexer"
)

var errTooManyRequests = errors.New("too many requests")

// EventIndex serves committed events to the API.
type EventIndex interface {
	Query(ctx context.Context, eventType string, afterSeq int64, limit int) ([]indexer.Record, error)
	Count(ctx context.Context, eventType string) (int64, error)
}

// Config wires the HTTP API.
type Config struct {
	ListenAddress string
	Protocol      *core.Protocol
	// Index is optional; without it the events routes answer 404.
	Index       EventIndex
	Auth        *Authenticator
	RateLimiter *RateLimiter
	Logger      *slog.Logger
	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Server exposes the protocol over JSON HTTP.
type Server struct {
	cfg      Config
	protocol *core.Protocol
	index    EventIndex
	auth     *Authenticator
	limiter  *RateLimiter
	logger   *slog.Logger
	tracing  trace.TracerProvider
	router   http.Handler
}

// New validates cfg and builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Protocol == nil {
		return nil, fmt.Errorf("protocol required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("authenticator required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		cfg:      cfg,
		protocol: cfg.Protocol,
		index:    cfg.Index,
		auth:     cfg.Auth,
		limiter:  cfg.RateLimiter,
		logger:   logger.With("component", "api"),
		tracing:  cfg.TracerProvider,
	}
	if srv.tracing == nil {
		srv.tracing = otel.GetTracerProvider()
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(otelhttp.NewMiddleware("vaultd",
		otelhttp.WithTracerProvider(s.tracing),
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	))
	r.Use(withRequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.limiter.Middleware("v1"))

		api.Get("/status", s.handleStatus)
		api.Get("/vaults", s.handleVaults)
		api.Get("/vaults/{pid}", s.handleVault)
		api.Get("/vaults/{pid}/users/{address}", s.handleUser)
		api.Get("/vaults/{pid}/strategy", s.handleStrategy)
		api.Get("/balances/{symbol}/{address}", s.handleBalance)
		api.Get("/events", s.handleEvents)

		api.Group(func(user chi.Router) {
			user.Use(s.auth.Middleware())
			user.Post("/approve", s.handleApprove)
			user.Post("/vaults/{pid}/deposit", s.handleDeposit)
			user.Post("/vaults/{pid}/withdraw", s.handleWithdraw)
			user.Post("/vaults/{pid}/harvest", s.handleHarvest)
			user.Post("/vaults/{pid}/emergencyWithdraw", s.handleEmergencyWithdraw)
			user.Post("/vaults/{pid}/strategy/harvest", s.handleStrategyHarvest)
			user.Post("/vaults/{pid}/earn", s.handleEarn)
			user.Post("/pools/update", s.handleMassUpdate)
		})

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(s.auth.Middleware(ScopeOperator))
			admin.Post("/fund", s.handleFund)
			admin.Post("/prices", s.handlePrice)
			admin.Post("/guard", s.handleGuard)
			admin.Post("/pauses", s.handlePause)
			admin.Post("/blocks", s.handleAdvance)
			admin.Post("/fees/{symbol}/convert", s.handleConvert)
			admin.Post("/vaults/{pid}/strategies", s.handleRegisterStrategy)
			admin.Post("/vaults/{pid}/strategy", s.handleSetStrategy)
			admin.Post("/vaults/{pid}/strategy/{action}", s.handleStrategyAction)
			admin.Post("/vaults/{pid}/settings", s.handleVaultSettings)
			admin.Post("/farm/emission", s.handleEmission)
		})
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("shutdown api", "error", err)
		}
	}()
	s.logger.Info("api listening", "addr", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyRequestID, id)))
	})
}

// RequestID returns the id assigned to the request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request served",
			"request_id", RequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps a rejected operation onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, nativecommon.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, core.ErrUnknownVault), errors.Is(err, core.ErrUnknownAsset):
		return http.StatusNotFound
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, nativecommon.ErrSameValue), errors.Is(err, core.ErrClockBackward):
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}
