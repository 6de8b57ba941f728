package audit

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/portal/internal/apperror"
)

// Handler handles HTTP requests for the security event log. Handlers are
// thin: bind request, call service, render response.
type Handler struct {
	service SecurityService
}

// NewHandler creates a new audit handler.
func NewHandler(service SecurityService) *Handler {
	return &Handler{service: service}
}

// ListEvents returns a page of security events
// (GET /api/v1/admin/security-events?type=&user_id=&page=).
func (h *Handler) ListEvents(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	filter := EventFilter{
		EventType: c.QueryParam("type"),
		UserID:    c.QueryParam("user_id"),
	}

	result, err := h.service.ListEvents(c.Request().Context(), filter, page)
	if err != nil {
		return respond(c, apperror.Fail(err))
	}
	return respond(c, apperror.OK(http.StatusOK, result))
}

// Stats returns aggregate security counts (GET /api/v1/admin/security-events/stats).
func (h *Handler) Stats(c echo.Context) error {
	stats, err := h.service.Stats(c.Request().Context())
	if err != nil {
		return respond(c, apperror.Fail(err))
	}
	return respond(c, apperror.OK(http.StatusOK, stats))
}

func respond(c echo.Context, res apperror.Result) error {
	return c.JSON(res.StatusCode, res.Body)
}
