package apperror

import (
	"context"
	"log/slog"
	"net/http"
)

// Body is the JSON shape of every API response.
type Body struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`
}

// Result is the uniform {statusCode, body} envelope returned by services.
// HTTP adapters forward it verbatim.
type Result struct {
	StatusCode int
	Body       Body
}

// Empty is the data payload of operations that return nothing.
type Empty struct{}

// OK builds a success envelope.
func OK(status int, data any) Result {
	if data == nil {
		data = Empty{}
	}
	return Result{
		StatusCode: status,
		Body:       Body{Success: true, Data: data},
	}
}

// Fail builds a failure envelope from any error. Errors carrying an
// internal cause are logged here so the cause never reaches the client.
func Fail(err error) Result {
	appErr := As(err)
	if appErr.Internal != nil {
		level := slog.LevelError
		if appErr.Code == http.StatusServiceUnavailable {
			level = slog.LevelWarn
		}
		slog.Log(context.Background(), level, "request failed",
			slog.String("type", appErr.Type),
			slog.String("message", appErr.Message),
			slog.Any("internal", appErr.Internal),
		)
	}
	return Result{
		StatusCode: appErr.Code,
		Body: Body{
			Success:   false,
			Message:   appErr.Message,
			ErrorKind: appErr.Type,
		},
	}
}

// Err returns the AppError kind of a failed result, or "" on success.
func (r Result) Err() string {
	if r.Body.Success {
		return ""
	}
	return r.Body.ErrorKind
}
