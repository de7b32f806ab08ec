package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/assetvault/reaper/internal/logging"
)

// Caller is the authenticated identity of a request.
type Caller struct {
	Subject string
	Roles   []string
}

// HasRole reports whether the caller carries role.
func (c Caller) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

type callerKey struct{}

// WithCaller returns a context carrying caller.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the caller stored by the auth middleware.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// Authorizer decides whether a caller may trigger deletions.
type Authorizer interface {
	HasDeletePermission(ctx context.Context, caller Caller) bool
}

// RoleAuthorizer grants delete permission to callers carrying Role.
type RoleAuthorizer struct {
	Role string
}

func (a RoleAuthorizer) HasDeletePermission(_ context.Context, caller Caller) bool {
	return a.Role != "" && caller.HasRole(a.Role)
}

// Claims are the JWT claims the reaper reads. Roles come from the "roles"
// array and from the space separated OAuth2 "scope" claim.
type Claims struct {
	jwt.RegisteredClaims
	RoleArray   []string `json:"roles,omitempty"`
	ScopeString string   `json:"scope,omitempty"`
}

// Roles merges both role formats.
func (c *Claims) Roles() []string {
	roles := append([]string(nil), c.RoleArray...)
	if c.ScopeString != "" {
		roles = append(roles, strings.Fields(c.ScopeString)...)
	}
	return roles
}

// AuthConfig configures JWTAuth. JWKSURL takes precedence over Secret.
type AuthConfig struct {
	JWKSURL         string
	Secret          string
	Issuer          string
	RefreshInterval time.Duration
	ClientTimeout   time.Duration
	Leeway          time.Duration
}

// JWTAuth authenticates bearer tokens.
type JWTAuth struct {
	keyfunc func(ctx context.Context) jwt.Keyfunc
	methods []string
	issuer  string
	leeway  time.Duration
	logger  *logging.Logger
}

// NewJWTAuth builds a JWTAuth from a JWKS endpoint (RS256/ES256) or a shared
// secret (HS256).
func NewJWTAuth(cfg AuthConfig, logger *logging.Logger) (*JWTAuth, error) {
	if logger == nil {
		logger = logging.Global()
	}
	switch {
	case cfg.JWKSURL != "":
		if cfg.RefreshInterval <= 0 {
			cfg.RefreshInterval = time.Hour
		}
		if cfg.ClientTimeout <= 0 {
			cfg.ClientTimeout = 10 * time.Second
		}
		log := logger.Named("auth")
		storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
			Client:                    &http.Client{Timeout: cfg.ClientTimeout},
			NoErrorReturnFirstHTTPReq: true,
			RefreshInterval:           cfg.RefreshInterval,
			RefreshErrorHandler: func(_ context.Context, err error) {
				log.Errorf("jwks refresh failed", map[string]any{"url": cfg.JWKSURL, "error": err.Error()})
			},
		})
		if err != nil {
			return nil, fmt.Errorf("api: create jwks storage: %w", err)
		}
		k, err := keyfunc.New(keyfunc.Options{Storage: storage})
		if err != nil {
			return nil, fmt.Errorf("api: create keyfunc: %w", err)
		}
		return NewJWTAuthWithKeyfunc(k.KeyfuncCtx, []string{"RS256", "ES256"}, cfg.Issuer, cfg.Leeway, logger), nil
	case cfg.Secret != "":
		secret := []byte(cfg.Secret)
		kf := func(context.Context) jwt.Keyfunc {
			return func(*jwt.Token) (any, error) { return secret, nil }
		}
		return NewJWTAuthWithKeyfunc(kf, []string{"HS256"}, cfg.Issuer, cfg.Leeway, logger), nil
	default:
		return nil, errors.New("api: either a JWKS URL or a JWT secret is required")
	}
}

// NewJWTAuthWithKeyfunc builds a JWTAuth around an explicit key source.
func NewJWTAuthWithKeyfunc(kf func(ctx context.Context) jwt.Keyfunc, methods []string, issuer string, leeway time.Duration, logger *logging.Logger) *JWTAuth {
	if logger == nil {
		logger = logging.Global()
	}
	return &JWTAuth{
		keyfunc: kf,
		methods: methods,
		issuer:  issuer,
		leeway:  leeway,
		logger:  logger.Named("auth"),
	}
}

// Middleware rejects requests without a valid bearer token with 401 and
// stores the Caller in the request context.
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if header == "" {
			unauthorized(w, "missing Authorization header")
			return
		}
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			unauthorized(w, "expected Authorization: Bearer <token>")
			return
		}

		opts := []jwt.ParserOption{
			jwt.WithValidMethods(j.methods),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(j.leeway),
		}
		if j.issuer != "" {
			opts = append(opts, jwt.WithIssuer(j.issuer))
		}

		claims := &Claims{}
		parsed, err := jwt.ParseWithClaims(token, claims, j.keyfunc(r.Context()), opts...)
		if err != nil || !parsed.Valid {
			logging.FromCtx(r.Context(), j.logger).Debugf("token rejected", map[string]any{
				"remoteAddr": r.RemoteAddr,
				"error":      fmt.Sprint(err),
			})
			unauthorized(w, "invalid or expired token")
			return
		}
		subject, err := claims.GetSubject()
		if err != nil || subject == "" {
			unauthorized(w, "token has no subject")
			return
		}

		ctx := WithCaller(r.Context(), Caller{Subject: subject, Roles: claims.Roles()})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
