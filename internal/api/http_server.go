package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"manito/internal/config"
	"manito/internal/domain"
	"manito/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

// Services bundles the application services exposed over HTTP.
type Services struct {
	Bookings domain.BookingService
	Catalog  domain.CatalogService
	Webhooks domain.WebhookService
}

// HTTPServer exposes the booking JSON API.
type HTTPServer struct {
	cfg      *config.APIConfig
	svcs     Services
	identity *IdentityVerifier
	auth     *HTTPAuth
	server   *http.Server
	log      zerolog.Logger
}

func NewHTTPServer(cfg *config.APIConfig, svcs Services, limiter *RateLimiter, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:      cfg,
		svcs:     svcs,
		identity: NewIdentityVerifier(cfg.JWT),
		auth:     NewHTTPAuth(cfg, limiter),
		log:      logger.With().Str("component", "http").Logger(),
	}

	mux := http.NewServeMux()
	user := func(h http.HandlerFunc) http.Handler { return srv.identity.Middleware(h) }

	mux.Handle("POST /api/v1/bookings", user(srv.handleCreateBooking))
	mux.Handle("GET /api/v1/bookings/{id}", user(srv.handleGetBooking))
	mux.Handle("GET /api/v1/bookings/{id}/pricing", user(srv.handlePricingSummary))
	mux.Handle("POST /api/v1/bookings/{id}/payment-authorization", user(srv.handleEnsureAuthorization))
	mux.Handle("POST /api/v1/bookings/{id}/cancel", user(srv.handleCancelBooking))
	mux.Handle("POST /api/v1/bookings/{id}/complete", user(srv.handleCompleteBooking))

	mux.HandleFunc("GET /api/v1/services", srv.handleSearchServices)
	mux.HandleFunc("GET /api/v1/services/{id}", srv.handleGetService)
	mux.HandleFunc("GET /api/v1/pros/{id}", srv.handleGetPro)

	mux.HandleFunc("POST /api/v1/webhooks/omise", srv.handleOmiseWebhook)
	mux.Handle("POST /internal/v1/payment-outcomes", srv.auth.Wrap(http.HandlerFunc(srv.handlePaymentOutcome)))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           loggingMiddleware(srv.log, mux),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

// Handler returns the root handler including middleware.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return errors.New("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HTTPAuth guards /internal routes with the same API keys as the gRPC
// service.
type HTTPAuth struct {
	enabled bool
	keys    apiKeys
	limiter *RateLimiter
}

func NewHTTPAuth(cfg *config.APIConfig, limiter *RateLimiter) *HTTPAuth {
	if limiter == nil {
		limiter = NewRateLimiter(cfg.RateLimit)
	}
	return &HTTPAuth{enabled: cfg.Auth.Enabled, keys: newAPIKeys(cfg.Auth), limiter: limiter}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := strings.TrimSpace(r.Header.Get(a.keys.keyHeader))
		if a.enabled {
			extra := strings.TrimSpace(r.Header.Get(a.keys.extraHeader))
			if err := a.keys.authenticate(apiKey, extra, internalRoutePermission(r)); err != nil {
				if errors.Is(err, errPermissionDenied) {
					writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
					return
				}
				writeError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
				return
			}
		}

		caller := apiKey
		if caller == "" {
			caller = remoteHost(r)
		}
		if !a.limiter.allow(caller) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func internalRoutePermission(r *http.Request) string {
	if r.URL.Path == "/internal/v1/payment-outcomes" {
		return permWriteOutcomes
	}
	return ""
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func loggingMiddleware(base zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		log := base.With().Str("request_id", requestID).Logger()
		r = r.WithContext(log.WithContext(r.Context()))

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.IncHTTP(route, recorder.status)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
