package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/keyxmakerx/portal/internal/plugins/smtp"
)

// ResetCodeJob sends reset code emails.
type ResetCodeJob struct {
	Mail    smtp.MailService
	AppName string
	Logger  *slog.Logger
	Metrics *Metrics
}

// NewResetCodeJob wires dependencies for the reset code handler.
func NewResetCodeJob(mail smtp.MailService, appName string, logger *slog.Logger, metrics *Metrics) *ResetCodeJob {
	return &ResetCodeJob{Mail: mail, AppName: appName, Logger: logger, Metrics: metrics}
}

// Handle processes TaskTypeResetCode tasks. Payloads that can never be
// delivered are dropped with asynq.SkipRetry; SMTP failures are returned so
// asynq retries them.
func (j *ResetCodeJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Mail == nil {
		return errors.New("reset code: handler not configured")
	}

	var payload ResetCodePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decoding reset code payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Email == "" || payload.Code == "" {
		return fmt.Errorf("reset code payload missing email or code: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskTypeResetCode)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("task", TaskTypeResetCode))

	if !j.Mail.IsConfigured() {
		logger.Warn("smtp not configured, dropping reset code email")
		return fmt.Errorf("smtp not configured: %w", asynq.SkipRetry)
	}

	msg, err := smtp.ResetCodeMail(j.appName(), payload.Email, payload.Code, payload.ExpiresIn())
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if err := j.Mail.SendMail(ctx, msg.To, msg.Subject, msg.Body); err != nil {
		logger.Warn("sending reset code email", slog.Any("error", err))
		return err
	}

	logger.Info("reset code email sent")
	return nil
}

func (j *ResetCodeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *ResetCodeJob) appName() string {
	if j.AppName != "" {
		return j.AppName
	}
	return "Portal"
}
