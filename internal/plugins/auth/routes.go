package auth

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/portal/internal/middleware"
)

// RegisterRoutes sets up the auth API under /api/v1/auth.
//
// Unauthenticated POST endpoints are rate-limited per IP against credential
// stuffing and code guessing: 10/min for login and code verification, 5/min
// for the rest.
func RegisterRoutes(e *echo.Echo, h *Handler, service AuthService) {
	g := e.Group("/api/v1/auth")

	g.POST("/register", h.Register, middleware.RateLimit(5, time.Minute))
	g.POST("/login", h.Login, middleware.RateLimit(10, time.Minute))
	g.POST("/forgot-password", h.ForgotPassword, middleware.RateLimit(5, time.Minute))
	g.POST("/verify-reset-otp", h.VerifyResetOTP, middleware.RateLimit(10, time.Minute))
	g.POST("/reset-password", h.ResetPassword, middleware.RateLimit(5, time.Minute))

	// Logout revokes whatever token is presented; the resolved user only
	// feeds the security log.
	g.POST("/logout", h.Logout, OptionalAuth(service))

	g.GET("/me", h.GetMe, RequireAuth(service))
	g.PATCH("/me", h.UpdateMe, RequireAuth(service))
	g.PATCH("/change-password", h.ChangePassword, RequireAuth(service), middleware.RateLimit(5, time.Minute))

	// Either an admin session or the bootstrap secret authorizes this.
	g.POST("/register-admin", h.RegisterAdmin, OptionalAuth(service), middleware.RateLimit(5, time.Minute))
}
