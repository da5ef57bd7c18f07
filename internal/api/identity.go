package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"manito/internal/config"
	"manito/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid token")
)

// Claims are the bearer token claims issued by the identity provider. The
// subject is the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IdentityVerifier validates HS256 bearer tokens.
type IdentityVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

func NewIdentityVerifier(cfg config.JWTConfig) *IdentityVerifier {
	return &IdentityVerifier{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}
}

func (v *IdentityVerifier) Verify(raw string) (models.Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %v", errInvalidToken, err)
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return models.Identity{}, fmt.Errorf("%w: subject is required", errInvalidToken)
	}
	role, ok := models.ParseRole(claims.Role)
	if !ok {
		return models.Identity{}, fmt.Errorf("%w: unknown role %q", errInvalidToken, claims.Role)
	}
	return models.Identity{UserID: claims.Subject, Role: role}, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller in the request context.
func (v *IdentityVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
			return
		}
		id, err := v.Verify(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthenticated", errInvalidToken.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

func bearerToken(r *http.Request) (string, error) {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errMissingToken
	}
	return strings.TrimSpace(token), nil
}

// IssueToken signs a token for id. Used by tests and the developer token tool.
func IssueToken(cfg config.JWTConfig, id models.Identity, now time.Time) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	claims := Claims{
		Role: string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}

type identityKey struct{}

func withIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller stored by Middleware.
func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(models.Identity)
	return id, ok
}
