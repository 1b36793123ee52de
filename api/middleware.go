package api

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nidohq/nido/ratelimit"
	"github.com/nidohq/nido/store"
)

// Middleware holds dependencies needed by authentication and throttling
// middleware.
type Middleware struct {
	jwtSecret []byte
	users     store.UserStore
	orgs      store.OrganizationStore
	limiter   *ratelimit.Limiter
}

// NewMiddleware creates a new Middleware.
func NewMiddleware(jwtSecret []byte, users store.UserStore, orgs store.OrganizationStore, limiter *ratelimit.Limiter) *Middleware {
	return &Middleware{
		jwtSecret: jwtSecret,
		users:     users,
		orgs:      orgs,
		limiter:   limiter,
	}
}

// RateLimit returns middleware that throttles requests per caller
// identity under the given route class. Throttled requests receive HTTP
// 429 with a Retry-After header.
func (m *Middleware) RateLimit(class ratelimit.RouteClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := m.limiter.Check(r.Context(), realIP(r), class)
			if !d.Allowed {
				rateLimitDecisions.WithLabelValues(string(class), "denied").Inc()
				w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds()))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			rateLimitDecisions.WithLabelValues(string(class), "allowed").Inc()
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth validates the JWT Bearer token and loads the user into
// context. Returns 401 if the token is missing, invalid, or the user
// cannot be found.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.authenticate(r)
		if err != nil {
			WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := SetUserContext(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireBillingRole loads the organization named by the path parameter
// idKey, checks that the authenticated user owns or administers it, and
// attaches it to the request context.
func (m *Middleware) RequireBillingRole(idKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromContext(r.Context())
			if user == nil {
				WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			orgID, err := uuid.Parse(r.PathValue(idKey))
			if err != nil {
				WriteError(w, http.StatusBadRequest, "invalid organization id")
				return
			}
			role, err := m.orgs.GetMemberRole(r.Context(), orgID, user.ID)
			if err != nil || !role.CanManageBilling() {
				WriteError(w, http.StatusForbidden, "forbidden")
				return
			}
			org, err := m.orgs.Get(r.Context(), orgID)
			if err != nil {
				WriteError(w, http.StatusNotFound, "organization not found")
				return
			}
			next.ServeHTTP(w, r.WithContext(SetOrgContext(r.Context(), org)))
		})
	}
}

// realIP extracts the client IP from common proxy headers or RemoteAddr.
// Client-supplied identity fields are never consulted: an attacker must
// not be able to rotate their own quota.
func realIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// Take the first address in the list.
		if idx := strings.Index(fwd, ","); idx != -1 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	// Strip port from RemoteAddr, handling IPv6 addresses correctly.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// authenticate extracts the Bearer token, validates it, and loads the user.
func (m *Middleware) authenticate(r *http.Request) (*store.User, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, jwt.ErrTokenMalformed
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, jwt.ErrTokenMalformed
	}
	tokenStr := parts[1]

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, jwt.ErrTokenMalformed
	}

	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return nil, jwt.ErrTokenMalformed
	}

	user, err := m.users.Get(r.Context(), userID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return user, nil
}
