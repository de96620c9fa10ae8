// Package store defines the failure type shared by every table-store backend
// and the helpers that turn those failures into HTTP responses.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when a single-row lookup matches nothing.
	ErrNotFound = errors.New("record not found")

	// ErrEmptyFilter is returned when a set-membership query is issued
	// with no values.
	ErrEmptyFilter = errors.New("empty filter set")
)

// Error is the generic failure of a store operation (network, permission,
// malformed query). Op names the operation, e.g. "pacientes.insert".
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns nil for a nil err, and otherwise err wrapped in *Error. An
// err that already is an *Error is returned unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// IsStoreError reports whether err came from a store backend.
func IsStoreError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

// HTTPError logs err with full detail and returns the short message the
// client sees. Not found maps to 404, an exceeded deadline to 504, every
// other store failure to 502.
func HTTPError(logger zerolog.Logger, err error, msg string) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Registro no encontrado")
	case errors.Is(err, context.DeadlineExceeded):
		logger.Error().Err(err).Msg("store call timed out")
		return echo.NewHTTPError(http.StatusGatewayTimeout, msg)
	default:
		logger.Error().Err(err).Msg("store call failed")
		return echo.NewHTTPError(http.StatusBadGateway, msg)
	}
}

// Pinger is implemented by backends that can report their reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler returns a handler that pings the store with a short
// deadline.
func HealthHandler(p Pinger, backend string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		if err := p.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status":  "unhealthy",
				"backend": backend,
				"error":   err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":  "healthy",
			"backend": backend,
		})
	}
}
