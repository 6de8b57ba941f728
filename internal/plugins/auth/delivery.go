package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CodeSender hands a reset code to the delivery channel (the mail job
// queue in production). Delivery is best-effort from the service's point of
// view: failures are logged, never surfaced to the caller.
type CodeSender interface {
	SendResetCode(ctx context.Context, email, code string, expiresIn time.Duration) error
}

// EventLogger records security events. Implemented by the audit plugin.
type EventLogger interface {
	LogEvent(ctx context.Context, eventType, userID, email, ip, userAgent string, details map[string]any) error
}

// background runs side effects that must not hold up a response. Tasks are
// detached from the request's cancellation, bounded by a timeout, and
// tracked so shutdown can wait for them.
type background struct {
	wg      sync.WaitGroup
	timeout time.Duration
}

// Go runs fn on its own goroutine. Errors and panics are logged.
func (b *background) Go(ctx context.Context, task string, fn func(ctx context.Context) error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("background task panicked",
					slog.String("task", task),
					slog.Any("panic", r),
				)
			}
		}()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			slog.Warn("background task failed",
				slog.String("task", task),
				slog.Any("error", err),
			)
		}
	}()
}

// Wait blocks until every task started so far has finished or ctx is done.
func (b *background) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Security event types emitted by the auth service. They follow the
// "resource.verb" pattern used for filtering in the security log.
const (
	EventRegisterSuccess        = "register.success"
	EventLoginSuccess           = "login.success"
	EventLoginFailed            = "login.failed"
	EventLogout                 = "logout"
	EventPasswordResetInitiated = "password.reset_initiated"
	EventPasswordResetVerified  = "password.reset_verified"
	EventPasswordResetCompleted = "password.reset_completed"
	EventPasswordChanged        = "password.changed"
	EventProfileUpdated         = "profile.updated"
	EventAdminCreated           = "admin.created"
)
