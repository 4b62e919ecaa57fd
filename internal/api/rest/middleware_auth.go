package rest

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/fluxgraph/engine/internal/platform/logger"
)

// OrgIDContextKey is the gin context key AuthMiddleware sets the
// authenticated request's organization ID under; handlers that need a
// principal to attribute runs and quota to read it from here.
const OrgIDContextKey = "orgID"

// Claims is the minimal JWT payload AuthMiddleware accepts. Full
// auth/workspace membership is out of scope; this exists only so a
// request has a principal to attribute runs and quota to.
type Claims struct {
	OrgID string `json:"org_id"`
	jwt.RegisteredClaims
}

// AuthMiddleware gates the HTTP surface behind a bearer token: either a
// signed JWT carrying an org_id claim, or one of a configured list of
// static API keys for service-to-service calls. It is deliberately
// coarse-grained, matching the teacher's JWTService but without session
// management, refresh tokens, or role claims.
type AuthMiddleware struct {
	secret  []byte
	apiKeys map[string]bool
	logger  *logger.Logger
}

func NewAuthMiddleware(jwtSecret string, apiKeys []string, log *logger.Logger) *AuthMiddleware {
	keys := make(map[string]bool, len(apiKeys))
	for _, k := range apiKeys {
		if k != "" {
			keys[k] = true
		}
	}
	return &AuthMiddleware{secret: []byte(jwtSecret), apiKeys: keys, logger: log}
}

// Enabled reports whether the middleware has any credential configured.
// A deployment that sets neither ENGINE_JWT_SECRET nor ENGINE_API_KEYS is
// assumed to be a local/dev setup and the router skips auth entirely.
func (m *AuthMiddleware) Enabled() bool {
	return len(m.secret) > 0 || len(m.apiKeys) > 0
}

// Authenticate extracts a bearer token from the Authorization header and
// either matches it against the configured API keys or validates it as a
// JWT, storing the resulting org ID in the request context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.Request)
		if err != nil {
			respondAPIError(c, NewAPIError("UNAUTHORIZED", err.Error(), http.StatusUnauthorized))
			c.Abort()
			return
		}

		if m.apiKeys[token] {
			c.Set(OrgIDContextKey, "")
			c.Next()
			return
		}

		orgID, err := m.validateJWT(token)
		if err != nil {
			m.logger.Warn("request authentication failed", "error", err)
			respondAPIError(c, NewAPIError("UNAUTHORIZED", "invalid or expired token", http.StatusUnauthorized))
			c.Abort()
			return
		}

		c.Set(OrgIDContextKey, orgID)
		c.Next()
	}
}

func (m *AuthMiddleware) validateJWT(tokenString string) (string, error) {
	if len(m.secret) == 0 {
		return "", errJWTNotConfigured
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errUnexpectedSigningMethod
		}
		return m.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", errInvalidClaims
	}
	return claims.OrgID, nil
}

var (
	errMissingBearerToken      = errors.New("missing bearer token")
	errJWTNotConfigured        = errors.New("no jwt secret configured")
	errUnexpectedSigningMethod = errors.New("unexpected signing method")
	errInvalidClaims           = errors.New("invalid token claims")
)

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return "", errMissingBearerToken
	}
	return strings.TrimPrefix(header, "Bearer "), nil
}
