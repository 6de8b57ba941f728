package audit

import (
	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/portal/internal/plugins/auth"
)

// RegisterRoutes sets up the security event routes. Every route requires an
// authenticated admin.
func RegisterRoutes(e *echo.Echo, h *Handler, authSvc auth.AuthService) {
	g := e.Group("/api/v1/admin/security-events",
		auth.RequireAuth(authSvc),
		auth.RequireAdmin(),
	)

	g.GET("", h.ListEvents)
	g.GET("/stats", h.Stats)
}
