package app

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keyxmakerx/portal/internal/apperror"
	"github.com/keyxmakerx/portal/internal/database"
	"github.com/keyxmakerx/portal/internal/plugins/audit"
	"github.com/keyxmakerx/portal/internal/plugins/auth"
)

// RegisterRoutes wires the plugins and sets up all application routes.
//
// This is the single place where all routes are aggregated. When a new
// plugin is added, its routes are registered here.
func (a *App) RegisterRoutes() {
	e := a.Echo

	// --- Infrastructure Routes ---

	// Health check for the orchestrator: both stores must answer.
	e.GET("/healthz", a.healthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})))

	// --- Audit Plugin ---
	// Wired first: the auth service logs its security events through it.
	securityRepo := audit.NewSecurityEventRepository(a.DB)
	securityService := audit.NewSecurityService(securityRepo)

	// --- Auth Plugin ---
	authCfg := a.Config.Auth
	authService := auth.NewAuthService(auth.Deps{
		Users:    auth.NewUserRepository(a.DB),
		Hasher:   auth.NewArgon2Hasher(authCfg.Argon2),
		Sessions: auth.NewRedisSessionManager(a.Redis, authCfg.SessionTTL),
		OTPs:     auth.NewRedisOTPStore(a.Redis, authCfg.OTPTTL, authCfg.ProofTTL, authCfg.OTPMaxAttempts),
		Sender:   a.Sender,
		Events:   securityService,
		Metrics:  auth.NewMetrics(a.Registry),
	}, auth.Options{
		BootstrapSecret: authCfg.BootstrapSecret,
		Policy:          auth.DefaultPasswordPolicy(authCfg.PasswordMinLength),
		OTPTTL:          authCfg.OTPTTL,
	})
	a.Auth = authService

	auth.RegisterRoutes(e, auth.NewHandler(authService, authCfg.SessionTTL), authService)
	audit.RegisterRoutes(e, audit.NewHandler(securityService), authService)
}

func (a *App) healthz(c echo.Context) error {
	if err := database.Check(c.Request().Context(), a.DB, a.Redis); err != nil {
		res := apperror.Fail(apperror.NewUnavailable(err))
		return c.JSON(res.StatusCode, res.Body)
	}
	res := apperror.OK(http.StatusOK, map[string]string{"status": "ok"})
	return c.JSON(res.StatusCode, res.Body)
}

// Shutdown drains the HTTP server, then waits for the auth service's
// background deliveries.
func (a *App) Shutdown(ctx context.Context) error {
	if err := a.Echo.Shutdown(ctx); err != nil {
		return err
	}
	if a.Auth != nil {
		return a.Auth.Shutdown(ctx)
	}
	return nil
}
