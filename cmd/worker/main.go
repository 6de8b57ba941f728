// Package main runs the portal job worker: it drains the asynq queue in
// Redis and sends the reset code emails the API enqueues.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keyxmakerx/portal/internal/app"
	"github.com/keyxmakerx/portal/internal/config"
	"github.com/keyxmakerx/portal/internal/database"
	"github.com/keyxmakerx/portal/internal/jobs"
	"github.com/keyxmakerx/portal/internal/plugins/smtp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	queueOpt, err := database.AsynqRedisOpt(cfg.Redis)
	if err != nil {
		logger.Error("configure job queue", slog.Any("error", err))
		os.Exit(1)
	}

	mailer := smtp.NewSender(cfg.SMTP)
	if !mailer.IsConfigured() {
		logger.Warn("SMTP_HOST is not set; reset codes will be dropped")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := jobs.NewMetrics(reg)

	resetCodeJob := jobs.NewResetCodeJob(mailer, cfg.AppName, logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpt:    queueOpt,
		Concurrency: cfg.Worker.Concurrency,
		Logger:      logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeResetCode, Handler: resetCodeJob.Handle},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.Worker.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.Worker.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("worker started", slog.Int("concurrency", cfg.Worker.Concurrency))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
