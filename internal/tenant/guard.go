package tenant

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Guard errors.
var (
	// ErrScopeOverride indicates a client tried to supply tenant or
	// project identity through an overridable channel.
	ErrScopeOverride = errors.New("tenant/project identity cannot be overridden by the client")
)

// Identity extraction headers. The bearer token path is preferred;
// headers are a non-production fallback that must be enabled explicitly.
const (
	HeaderTenantID  = "X-Tenant-ID"
	HeaderProjectID = "X-Project-ID"
	HeaderUserID    = "X-User-ID"
)

// DefaultMaxBodyBytes caps upsert payloads before they reach the store.
const DefaultMaxBodyBytes = 10 << 20 // 10 MB

// forbiddenQueryParams are query parameters that would let a caller
// redefine its scope.
var forbiddenQueryParams = []string{"tenant_id", "project_id"}

// GuardConfig configures the request guard.
type GuardConfig struct {
	// Verifier validates bearer tokens. Required unless
	// AllowHeaderIdentity is set.
	Verifier TokenVerifier

	// AllowHeaderIdentity enables the X-Tenant-ID/X-Project-ID header
	// fallback. Never enable in production.
	AllowHeaderIdentity bool

	// MaxBodyBytes caps the request body. Default: DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// Guard extracts tenant/project identity from trusted sources, rejects
// client-supplied overrides, and stamps the validated scope into the
// request context before it reaches any storage code.
//
// Identity is never parsed from the request body: the body stream must
// stay unconsumed for the handler.
type Guard struct {
	config GuardConfig
	logger *zap.Logger
}

// NewGuard creates a request guard.
func NewGuard(cfg GuardConfig, logger *zap.Logger) (*Guard, error) {
	if cfg.Verifier == nil && !cfg.AllowHeaderIdentity {
		return nil, errors.New("guard needs a token verifier or header identity enabled")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{config: cfg, logger: logger}, nil
}

// Middleware returns the echo middleware enforcing the guard.
//
// Request lifecycle: unauthenticated -> context extracted -> validated ->
// forwarded. Any failure short-circuits with a 4xx and never reaches the
// handler.
func (g *Guard) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			// Scope identity arrives only through trusted channels.
			for _, param := range forbiddenQueryParams {
				if req.URL.Query().Has(param) {
					return echo.NewHTTPError(http.StatusForbidden,
						ErrScopeOverride.Error())
				}
			}

			if req.ContentLength > g.config.MaxBodyBytes {
				return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
					"request body exceeds limit")
			}
			req.Body = http.MaxBytesReader(c.Response(), req.Body, g.config.MaxBodyBytes)

			scope, source, err := g.extract(c)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			if err := scope.Validate(); err != nil {
				return echo.NewHTTPError(http.StatusForbidden, err.Error())
			}

			c.SetRequest(req.WithContext(ContextWithScope(req.Context(), scope)))

			g.logger.Info("request forwarded",
				zap.String("tenant_id", scope.TenantID),
				zap.String("project_id", scope.ProjectID),
				zap.String("endpoint", req.Method+" "+c.Path()),
				zap.String("identity_source", source),
			)

			return next(c)
		}
	}
}

// extract pulls identity from the bearer token, falling back to explicit
// headers when enabled.
func (g *Guard) extract(c echo.Context) (Scope, string, error) {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(auth) > 7 && auth[:7] == "Bearer " {
		if g.config.Verifier == nil {
			return Scope{}, "", ErrInvalidToken
		}
		claims, err := g.config.Verifier.Verify(auth[7:])
		if err != nil {
			return Scope{}, "", err
		}
		return Scope{TenantID: claims.TenantID, ProjectID: claims.ProjectID}, "bearer", nil
	}

	if g.config.AllowHeaderIdentity {
		scope := Scope{
			TenantID:  c.Request().Header.Get(HeaderTenantID),
			ProjectID: c.Request().Header.Get(HeaderProjectID),
		}
		if scope.TenantID != "" && scope.ProjectID != "" {
			return scope, "header", nil
		}
	}

	return Scope{}, "", ErrMissingScope
}
