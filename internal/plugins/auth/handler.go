package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/portal/internal/apperror"
)

const (
	// sessionCookieName is the HTTP cookie that carries the session token
	// for browser clients. API clients may send a bearer token instead.
	sessionCookieName = "portal_session"

	// bootstrapHeader carries the elevation credential for register-admin.
	bootstrapHeader = "X-Admin-Bootstrap"
)

// Handler handles HTTP requests for authentication. Handlers are thin: they
// bind the JSON body, build the caller context, call the service and write
// its envelope verbatim. No business logic lives here.
type Handler struct {
	service    AuthService
	sessionTTL time.Duration
}

// NewHandler creates a new auth handler. sessionTTL sets the cookie lifetime
// and should match the session store's.
func NewHandler(service AuthService, sessionTTL time.Duration) *Handler {
	return &Handler{service: service, sessionTTL: sessionTTL}
}

// Register handles POST /api/v1/auth/register.
func (h *Handler) Register(c echo.Context) error {
	var input RegisterInput
	if err := c.Bind(&input); err != nil {
		return badBody(c)
	}
	res := h.service.Register(c.Request().Context(), input, requestContext(c))
	h.startSession(c, res)
	return respond(c, res)
}

// Login handles POST /api/v1/auth/login.
func (h *Handler) Login(c echo.Context) error {
	var input LoginInput
	if err := c.Bind(&input); err != nil {
		return badBody(c)
	}
	res := h.service.Login(c.Request().Context(), input, requestContext(c))
	h.startSession(c, res)
	return respond(c, res)
}

// Logout handles POST /api/v1/auth/logout. The cookie is cleared whatever
// the outcome.
func (h *Handler) Logout(c echo.Context) error {
	res := h.service.Logout(c.Request().Context(), requestContext(c))
	clearSessionCookie(c)
	return respond(c, res)
}

// ForgotPassword handles POST /api/v1/auth/forgot-password.
func (h *Handler) ForgotPassword(c echo.Context) error {
	var input ForgotPasswordInput
	if err := c.Bind(&input); err != nil {
		return badBody(c)
	}
	return respond(c, h.service.ForgotPassword(c.Request().Context(), input, requestContext(c)))
}

// VerifyResetOTP handles POST /api/v1/auth/verify-reset-otp.
func (h *Handler) VerifyResetOTP(c echo.Context) error {
	var input VerifyResetOTPInput
	if err := c.Bind(&input); err != nil {
		return badBody(c)
	}
	return respond(c, h.service.VerifyResetOTP(c.Request().Context(), input))
}

// ResetPassword handles POST /api/v1/auth/reset-password.
func (h *Handler) ResetPassword(c echo.Context) error {
	var input ResetPasswordInput
	if err := c.Bind(&input); err != nil {
		return badBody(c)
	}
	res := h.service.ResetPassword(c.Request().Context(), input, requestContext(c))
	if res.Body.Success {
		// Every session is gone, including any this browser held.
		clearSessionCookie(c)
	}
	return respond(c, res)
}

// GetMe handles GET /api/v1/auth/me. Requires RequireAuth.
func (h *Handler) GetMe(c echo.Context) error {
	uc := GetUserContext(c)
	if uc == nil {
		return respond(c, apperror.Fail(apperror.NewUnauthorized("authentication required")))
	}
	return respond(c, h.service.GetMe(c.Request().Context(), *uc))
}

// UpdateMe handles PATCH /api/v1/auth/me. Requires RequireAuth.
func (h *Handler) UpdateMe(c echo.Context) error {
	uc := GetUserContext(c)
	if uc == nil {
		return respond(c, apperror.Fail(apperror.NewUnauthorized("authentication required")))
	}
	var input UpdateProfileInput
	if err := c.Bind(&input); err != nil {
		return badBody(c)
	}
	return respond(c, h.service.UpdateMe(c.Request().Context(), input, *uc))
}

// ChangePassword handles PATCH /api/v1/auth/change-password. Requires
// RequireAuth.
func (h *Handler) ChangePassword(c echo.Context) error {
	uc := GetUserContext(c)
	if uc == nil {
		return respond(c, apperror.Fail(apperror.NewUnauthorized("authentication required")))
	}
	var input ChangePasswordInput
	if err := c.Bind(&input); err != nil {
		return badBody(c)
	}
	return respond(c, h.service.ChangePassword(c.Request().Context(), input, *uc))
}

// RegisterAdmin handles POST /api/v1/auth/register-admin. The caller's
// session, if any, is resolved by OptionalAuth. The new admin's session is
// returned in the body only; the caller's own cookie is left alone.
func (h *Handler) RegisterAdmin(c echo.Context) error {
	var input RegisterInput
	if err := c.Bind(&input); err != nil {
		return badBody(c)
	}
	return respond(c, h.service.RegisterAdmin(c.Request().Context(), input, requestContext(c)))
}

// startSession sets the session cookie from a successful AuthPayload.
func (h *Handler) startSession(c echo.Context, res apperror.Result) {
	if !res.Body.Success {
		return
	}
	if payload, ok := res.Body.Data.(*AuthPayload); ok && payload.Token != "" {
		setSessionCookie(c, payload.Token, h.sessionTTL)
	}
}

// --- Helpers ---

// respond forwards the service envelope verbatim.
func respond(c echo.Context, res apperror.Result) error {
	return c.JSON(res.StatusCode, res.Body)
}

// badBody answers an unparseable JSON body.
func badBody(c echo.Context) error {
	return respond(c, apperror.Fail(apperror.NewValidation("request body must be valid JSON")))
}

// requestContext collects what the service needs to know about the caller.
func requestContext(c echo.Context) RequestContext {
	req := c.Request()
	return RequestContext{
		Token:           getSessionToken(c),
		IPAddress:       c.RealIP(),
		UserAgent:       req.UserAgent(),
		BootstrapSecret: req.Header.Get(bootstrapHeader),
		User:            GetUserContext(c),
	}
}

// getSessionToken reads the token from the Authorization bearer header,
// falling back to the session cookie.
func getSessionToken(c echo.Context) string {
	if authz := c.Request().Header.Get(echo.HeaderAuthorization); authz != "" {
		scheme, token, ok := strings.Cut(authz, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}

	cookie, err := c.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	return cookie.Value
}

// setSessionCookie sets the session cookie on the response. The cookie is
// HttpOnly (JS can't read it), Secure if behind TLS, and SameSite=Lax.
func setSessionCookie(c echo.Context, token string, ttl time.Duration) {
	req := c.Request()
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl.Seconds()),
	})
}

// clearSessionCookie removes the session cookie by setting MaxAge to -1.
func clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
