// Package middleware provides HTTP middleware for Portal.
// ratelimit.go limits requests per client IP on the unauthenticated auth
// endpoints (login, register, reset flow) to slow credential stuffing and
// OTP guessing.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/portal/internal/apperror"
)

// clientIPKey carries Echo's resolved client IP into the wrapped
// net/http limiter.
type clientIPKey struct{}

// RateLimit returns middleware that allows maxRequests per client IP within
// window and answers 429 in the API envelope beyond that. The client IP is
// the one Echo resolved through the trusted proxy list, not a raw header.
func RateLimit(maxRequests int, window time.Duration) echo.MiddlewareFunc {
	limiter := httprate.Limit(maxRequests, window,
		httprate.WithKeyFuncs(keyByClientIP),
		httprate.WithLimitHandler(writeRateLimited),
	)
	wrapped := echo.WrapMiddleware(limiter)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		limited := wrapped(next)
		return func(c echo.Context) error {
			req := c.Request()
			c.SetRequest(req.WithContext(context.WithValue(req.Context(), clientIPKey{}, c.RealIP())))
			return limited(c)
		}
	}
}

// keyByClientIP keys the limiter by the IP stashed by RateLimit, falling
// back to the connection address.
func keyByClientIP(r *http.Request) (string, error) {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok && ip != "" {
		return "ip:" + ip, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

func writeRateLimited(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(apperror.Body{
		Success:   false,
		Message:   "Rate limit exceeded. Please try again later.",
		ErrorKind: "rate_limited",
	})
}
