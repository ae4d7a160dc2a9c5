package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/veritas-os/veritas/internal/auth"
	"github.com/veritas-os/veritas/internal/ratelimit"
	"github.com/veritas-os/veritas/internal/service/veritas"
)

// decideRateLimit bounds how often one client address may call /v1/decide; the
// pipeline fans out to an LLM provider per call, so this is the one
// route worth metering even on a single-operator deployment.
var decideRateLimit = ratelimit.Rule{Prefix: "decide", Limit: 120, Window: time.Minute}

// Config configures Server.
type Config struct {
	Service             *veritas.Service
	Logger              *slog.Logger
	APIKeyHash          string
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64
}

// Server is the VERITAS HTTP surface: a single net/http.Server wrapping
// a mux built from Config, following the teacher's Server{httpServer,
// handler} shape so tests can exercise Handler() directly without
// binding a port.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	broker     *Broker
}

// Handler returns the root handler, for use in tests (httptest.Server
// or httptest.NewRecorder against it directly).
func (s *Server) Handler() http.Handler { return s.handler }

// New builds a Server from cfg.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	broker := NewBroker(logger)
	h := newHandlers(cfg.Service, broker, maxBody)
	limiter := ratelimit.New()

	mux := http.NewServeMux()
	mux.Handle("GET /health", http.HandlerFunc(h.HandleHealth))

	authed := func(scopes []auth.Scope, handler http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKeyHash, cfg.Service.Tokens, scopes, handler)
	}

	mux.Handle("POST /v1/decide", rateLimited(limiter, decideRateLimit, authed([]auth.Scope{auth.ScopeDecide}, h.HandleDecide)))
	mux.Handle("POST /v1/fuji/validate", authed([]auth.Scope{auth.ScopeDecide}, h.HandleValidateGate))
	mux.Handle("GET /v1/governance/policy", authed([]auth.Scope{auth.ScopeGovern}, h.HandleGetPolicy))
	mux.Handle("PATCH /v1/governance/policy", authed([]auth.Scope{auth.ScopeGovern}, h.HandlePatchPolicy))
	mux.Handle("GET /v1/governance/value-drift", authed([]auth.Scope{auth.ScopeGovern}, h.HandleValueDrift))
	mux.Handle("POST /v1/memory/put", authed([]auth.Scope{auth.ScopeMemory}, h.HandleMemoryPut))
	mux.Handle("GET /v1/memory/get", authed([]auth.Scope{auth.ScopeMemory}, h.HandleMemoryGet))
	mux.Handle("POST /v1/memory/search", authed([]auth.Scope{auth.ScopeMemory}, h.HandleMemorySearch))
	mux.Handle("GET /v1/trust/logs/by-request/{id}", authed([]auth.Scope{auth.ScopeTrustRead}, h.HandleTrustLogsByRequest))
	mux.Handle("GET /v1/trust/verify", authed([]auth.Scope{auth.ScopeTrustRead}, h.HandleTrustVerify))
	mux.Handle("GET /v1/events", authed([]auth.Scope{auth.ScopeTrustRead}, h.HandleEvents))

	handler := chain(logger, mux)

	return &Server{
		broker: broker,
		handler: handler,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// ListenAndServe blocks serving HTTP until the server is shut down or an
// unrecoverable error occurs.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, per the standard library's
// drain-in-place convention.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// rateLimited wraps next with a fixed Rule, rejecting over-limit callers
// with 429 and the standard X-RateLimit-* headers. The rate-limit key is
// the caller's remote address: VERITAS has a single operator API key,
// so there is no per-tenant key to bucket on instead.
func rateLimited(limiter *ratelimit.Limiter, rule ratelimit.Rule, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := limiter.Allow(rule, r.RemoteAddr)
		for k, v := range result.FormatHeaders() {
			w.Header().Set(k, v)
		}
		if !result.Allowed {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
