package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/portal/internal/apperror"
)

// Recovery returns middleware that recovers from panics, logs the stack
// trace and answers with the generic 500 envelope. A single panicking
// handler must not take the server down.
func Recovery() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (returnErr error) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("panic recovered",
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())),
						slog.String("method", c.Request().Method),
						slog.String("path", c.Request().URL.Path),
					)

					if c.Response().Committed {
						return
					}
					res := apperror.Fail(apperror.NewInternal(fmt.Errorf("panic: %v", r)))
					returnErr = c.JSON(res.StatusCode, res.Body)
				}
			}()

			return next(c)
		}
	}
}
