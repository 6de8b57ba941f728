package auth

import (
	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/portal/internal/apperror"
)

// contextKeyUser stores the resolved *UserContext in the Echo context.
// Other plugins read it through GetUserContext.
const contextKeyUser = "auth_user"

// RequireAuth returns middleware that resolves the session token into a
// UserContext and rejects the request with the 401 envelope when it can't.
// A stale session cookie is cleared.
func RequireAuth(service AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			uc, err := service.Authenticate(c.Request().Context(), getSessionToken(c))
			if err != nil {
				if apperror.Is(err, apperror.KindAuthentication) {
					if _, cookieErr := c.Cookie(sessionCookieName); cookieErr == nil {
						clearSessionCookie(c)
					}
				}
				return respond(c, apperror.Fail(err))
			}

			c.Set(contextKeyUser, uc)
			return next(c)
		}
	}
}

// OptionalAuth resolves the session when one is presented and valid, and
// otherwise lets the request through anonymously.
func OptionalAuth(service AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token := getSessionToken(c); token != "" {
				if uc, err := service.Authenticate(c.Request().Context(), token); err == nil {
					c.Set(contextKeyUser, uc)
				}
			}
			return next(c)
		}
	}
}

// RequireAdmin rejects callers without the admin flag. Must run after
// RequireAuth.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			uc := GetUserContext(c)
			if uc == nil {
				return respond(c, apperror.Fail(apperror.NewUnauthorized("authentication required")))
			}
			if uc.Role != RoleAdmin {
				return respond(c, apperror.Fail(apperror.NewForbidden("admin privileges required")))
			}
			return next(c)
		}
	}
}

// GetUserContext returns the authenticated caller, or nil when the request
// is anonymous.
func GetUserContext(c echo.Context) *UserContext {
	uc, ok := c.Get(contextKeyUser).(*UserContext)
	if !ok {
		return nil
	}
	return uc
}
