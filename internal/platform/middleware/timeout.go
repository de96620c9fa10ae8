package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

const timeoutMessage = "La operación tardó demasiado. Intenta de nuevo."

// RequestTimeout bounds each request with a context deadline. The handler
// runs on the request goroutine; store calls made with the request context
// are cancelled when the deadline passes, and the resulting error becomes a
// 504 with a JSON message. Paths for which skip returns true run without a
// deadline.
func RequestTimeout(timeout time.Duration, skip func(echo.Context) bool) echo.MiddlewareFunc {
	if timeout <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return echomw.ContextTimeoutWithConfig(echomw.ContextTimeoutConfig{
		Skipper:      skip,
		Timeout:      timeout,
		ErrorHandler: timeoutError,
	})
}

func timeoutError(err error, c echo.Context) error {
	expired := errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(c.Request().Context().Err(), context.DeadlineExceeded)
	if !expired {
		return err
	}
	if c.Response().Committed {
		return nil
	}
	return c.JSON(http.StatusGatewayTimeout, map[string]string{"message": timeoutMessage})
}
