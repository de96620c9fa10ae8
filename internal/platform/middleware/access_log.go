package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// AccessEntry describes one authenticated request against the registry.
type AccessEntry struct {
	User      string
	Action    string // read, search, export, create, update, delete_request, delete, cancel
	Resource  string
	PatientID int64
	Method    string
	Path      string
	RemoteIP  string
	Status    int
	RequestID string
	Timestamp time.Time
}

// AccessRecorder persists access entries in addition to the log line.
type AccessRecorder interface {
	RecordAccess(entry AccessEntry) error
}

// AccessRecorderFunc adapts a function to AccessRecorder.
type AccessRecorderFunc func(entry AccessEntry) error

func (f AccessRecorderFunc) RecordAccess(entry AccessEntry) error {
	return f(entry)
}

// AccessLog logs who touched which patient data. It belongs on the
// authenticated group, after the session middleware, so actor can read the
// session user from the request.
func AccessLog(logger zerolog.Logger, actor func(echo.Context) string, recorders ...AccessRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			req := c.Request()
			entry := AccessEntry{
				Timestamp: time.Now().UTC(),
				Method:    req.Method,
				Path:      req.URL.Path,
				RemoteIP:  c.RealIP(),
				Status:    responseStatus(c, err),
				Resource:  resourceOf(c.Path()),
				Action:    actionOf(req.Method, c.Path()),
			}
			if actor != nil {
				entry.User = actor(c)
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}
			if id, perr := strconv.ParseInt(c.Param("id"), 10, 64); perr == nil {
				entry.PatientID = id
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record access entry")
				}
			}

			evt := logger.Info()
			if entry.Action == "delete" {
				evt = logger.Warn()
			}
			evt.
				Str("type", "patient_access").
				Str("request_id", entry.RequestID).
				Str("user", entry.User).
				Str("resource", entry.Resource).
				Int64("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.RemoteIP).
				Int("status", entry.Status).
				Msg("access")

			return err
		}
	}
}

// responseStatus is the status the client will see. Errors are written by
// the HTTP error handler after the middleware chain returns.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// resourceOf returns the first segment after /api/v1/ of a route pattern.
func resourceOf(route string) string {
	rest := strings.TrimPrefix(route, "/api/v1/")
	if seg, _, _ := strings.Cut(rest, "/"); seg != "" {
		return seg
	}
	return "unknown"
}

func actionOf(method, route string) string {
	switch {
	case strings.HasSuffix(route, "/export"):
		return "export"
	case strings.HasSuffix(route, "/delete/confirm"):
		return "delete"
	case strings.HasSuffix(route, "/delete"):
		if method == http.MethodDelete {
			return "cancel"
		}
		return "delete_request"
	}
	switch method {
	case http.MethodGet, http.MethodHead:
		if strings.HasSuffix(route, "/:id") {
			return "read"
		}
		return "search"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	return "read"
}
