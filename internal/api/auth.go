package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"manito/internal/config"
	"manito/internal/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// Permissions granted to service-to-service API keys. Reporting clients read
// bookings over gRPC; payment processors post outcomes to
// /internal/v1/payment-outcomes.
const (
	permReadBookings  = "read:bookings"
	permWriteOutcomes = "write:payment-outcomes"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	clientKeyUnknown      = "unknown"
)

var (
	errMissingAPIKey    = errors.New("missing api key headers")
	errUnknownAPIKey    = errors.New("invalid api key")
	errBadAPIExtra      = errors.New("invalid extra header")
	errPermissionDenied = errors.New("permission denied")
)

// apiKeys holds the configured internal callers and the header names they
// authenticate with. HTTP and gRPC share it.
type apiKeys struct {
	keyHeader   string
	extraHeader string
	byKey       map[string]config.APIClientKey
}

func newAPIKeys(cfg config.APIAuthConfig) apiKeys {
	keys := apiKeys{
		keyHeader:   headerOrDefault(cfg.HeaderAPIKey, apiKeyHeaderDefault),
		extraHeader: headerOrDefault(cfg.HeaderExtra, apiExtraHeaderDefault),
		byKey:       make(map[string]config.APIClientKey, len(cfg.APIKeys)),
	}
	for _, k := range cfg.APIKeys {
		keys.byKey[k.Key] = k
	}
	return keys
}

func headerOrDefault(name, fallback string) string {
	if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
		return name
	}
	return fallback
}

// authenticate checks the key pair and, when permission is set, that the
// caller was granted it.
func (k apiKeys) authenticate(apiKey, extra, permission string) error {
	if apiKey == "" || extra == "" {
		return errMissingAPIKey
	}
	client, ok := k.byKey[apiKey]
	if !ok {
		return errUnknownAPIKey
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return errBadAPIExtra
	}
	if !hasPermission(client, permission) {
		return errPermissionDenied
	}
	return nil
}

// hasPermission treats an empty permission list as allow-all.
func hasPermission(client config.APIClientKey, required string) bool {
	if required == "" || len(client.Permissions) == 0 {
		return true
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return true
		}
	}
	return false
}

// AuthInterceptor guards the BookingQuery service with the internal API keys
// and the shared per-client rate limit. Health checks pass through.
type AuthInterceptor struct {
	enabled bool
	keys    apiKeys
	limiter *RateLimiter
}

func NewAuthInterceptor(cfg *config.APIConfig, limiter *RateLimiter) *AuthInterceptor {
	if limiter == nil {
		limiter = NewRateLimiter(cfg.RateLimit)
	}
	return &AuthInterceptor{
		enabled: cfg.Auth.Enabled,
		keys:    newAPIKeys(cfg.Auth),
		limiter: limiter,
	}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		apiKey := metadataValue(md, a.keys.keyHeader)
		if a.enabled {
			err := a.keys.authenticate(apiKey, metadataValue(md, a.keys.extraHeader), bookingQueryPermission(info.FullMethod))
			switch {
			case errors.Is(err, errPermissionDenied):
				return nil, status.Error(codes.PermissionDenied, err.Error())
			case err != nil:
				return nil, status.Error(codes.Unauthenticated, err.Error())
			}
		}

		caller := apiKey
		if caller == "" {
			caller = peerAddr(ctx)
		}
		if !a.limiter.allow(caller) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

func bookingQueryPermission(fullMethod string) string {
	switch fullMethod {
	case methodGetPricingSummary, methodGetBooking:
		return permReadBookings
	default:
		return ""
	}
}

func metadataValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func LoggingUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "grpc").Logger()
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := requestIDFromMetadata(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, requestID))

		log := base.With().Str("request_id", requestID).Logger()
		ctx = log.WithContext(ctx)

		start := time.Now()
		resp, err := handler(ctx, req)
		dur := time.Since(start)

		code := status.Code(err)
		metrics.IncGRPC(info.FullMethod, code.String())

		log.Info().
			Str("method", info.FullMethod).
			Str("remote", peerAddr(ctx)).
			Str("code", code.String()).
			Dur("duration", dur).
			Msg("grpc request")

		return resp, err
	}
}

const requestIDMetadataKey = "x-request-id"

func requestIDFromMetadata(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if id := metadataValue(md, requestIDMetadataKey); id != "" {
		return id
	}
	return uuid.NewString()
}
