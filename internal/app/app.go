// Package app is the application bootstrap and dependency injection root.
// It holds the shared infrastructure (DB pool, Redis client, Echo instance,
// metrics registry) and wires the auth and audit plugins together.
package app

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/portal/internal/apperror"
	"github.com/keyxmakerx/portal/internal/config"
	"github.com/keyxmakerx/portal/internal/middleware"
	"github.com/keyxmakerx/portal/internal/plugins/auth"
)

// maxBodySize caps request bodies; every auth payload is a handful of fields.
const maxBodySize = "64K"

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go and used to register all routes.
type App struct {
	// Config holds the loaded application configuration.
	Config *config.Config

	// DB is the MariaDB connection pool (users, security events).
	DB *sql.DB

	// Redis is the client for sessions and OTP challenges.
	Redis redis.UniversalClient

	// Sender delivers reset codes, normally the job queue client. Nil
	// disables delivery; codes are still issued.
	Sender auth.CodeSender

	// Registry collects the Prometheus metrics served on /metrics.
	Registry *prometheus.Registry

	// Echo is the HTTP server instance.
	Echo *echo.Echo

	// Auth is the wired auth service, set by RegisterRoutes.
	Auth auth.AuthService
}

// New creates a new App instance with the given dependencies and configures
// the Echo server with global middleware and error handling.
func New(cfg *config.Config, db *sql.DB, rdb redis.UniversalClient, sender auth.CodeSender) *App {
	e := echo.New()

	// Disable Echo's default banner and startup message -- we log our own.
	e.HideBanner = true
	e.HidePort = true

	// c.RealIP() feeds rate limiting, session metadata and the security
	// log, so forwarding headers are only trusted from known proxies.
	middleware.TrustedProxies(e, cfg.TrustedProxies)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app := &App{
		Config:   cfg,
		DB:       db,
		Redis:    rdb,
		Sender:   sender,
		Registry: reg,
		Echo:     e,
	}

	// Register global middleware in order of execution.
	app.setupMiddleware()

	// Register the custom error handler that maps AppErrors to the envelope.
	e.HTTPErrorHandler = app.errorHandler

	return app
}

// setupMiddleware registers global middleware on the Echo instance.
// Order matters: outermost (recovery) runs first.
func (a *App) setupMiddleware() {
	// Panic recovery -- must be outermost to catch panics from all other middleware.
	a.Echo.Use(middleware.Recovery())

	// Request logging -- log every request with method, path, status, latency.
	a.Echo.Use(middleware.RequestLogger())

	// Security headers -- X-Frame-Options, X-Content-Type-Options, etc.
	a.Echo.Use(middleware.SecurityHeaders())

	// CORS -- the admin and public front-ends call the API cross-origin.
	a.Echo.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   append([]string{a.Config.BaseURL}, a.Config.CORSOrigins...),
		AllowCredentials: true,
	}))

	a.Echo.Use(echomw.BodyLimit(maxBodySize))
}

// errorHandler is the custom Echo error handler. Handlers answer with the
// envelope themselves; this catches everything else (router 404/405,
// oversized bodies, stray errors) and renders it in the same shape.
func (a *App) errorHandler(err error, c echo.Context) {
	// Don't double-write if response is already committed.
	if c.Response().Committed {
		return
	}

	var res apperror.Result

	var appErr *apperror.AppError
	var echoErr *echo.HTTPError
	switch {
	case errors.As(err, &appErr):
		res = apperror.Fail(appErr)
	case errors.As(err, &echoErr):
		message, ok := echoErr.Message.(string)
		if !ok || message == "" {
			message = http.StatusText(echoErr.Code)
		}
		res = apperror.Result{
			StatusCode: echoErr.Code,
			Body: apperror.Body{
				Success:   false,
				Message:   message,
				ErrorKind: kindForStatus(echoErr.Code),
			},
		}
	default:
		slog.Error("unhandled error",
			slog.Any("error", err),
			slog.String("path", c.Request().URL.Path),
		)
		res = apperror.Fail(apperror.NewInternal(err))
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(res.StatusCode)
		return
	}
	if err := c.JSON(res.StatusCode, res.Body); err != nil {
		slog.Warn("writing error response", slog.Any("error", err))
	}
}

// kindForStatus maps router-level HTTP errors onto the error kinds clients
// already handle.
func kindForStatus(code int) string {
	switch code {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return apperror.KindValidation
	case http.StatusUnauthorized:
		return apperror.KindAuthentication
	case http.StatusForbidden:
		return apperror.KindAuthorization
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return apperror.KindNotFound
	case http.StatusServiceUnavailable:
		return apperror.KindUnavailable
	default:
		return apperror.KindInternal
	}
}

// Start begins listening for HTTP requests on the configured port.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	slog.Info("starting portal server",
		slog.String("addr", addr),
		slog.String("env", a.Config.Env),
	)
	return a.Echo.Start(addr)
}
