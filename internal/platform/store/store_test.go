package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestWrap(t *testing.T) {
	if Wrap("op", nil) != nil {
		t.Error("expected nil for nil error")
	}

	base := errors.New("boom")
	err := Wrap("pacientes.insert", base)
	if !IsStoreError(err) {
		t.Fatal("expected store error")
	}
	if !errors.Is(err, base) {
		t.Error("expected wrapped error to unwrap to base")
	}
	if err.Error() != "store pacientes.insert: boom" {
		t.Errorf("unexpected message: %s", err.Error())
	}

	again := Wrap("other", err)
	if again != err {
		t.Error("expected store error to be returned unchanged")
	}
}

func TestHTTPError_Mapping(t *testing.T) {
	logger := zerolog.Nop()
	cases := []struct {
		err  error
		code int
	}{
		{Wrap("get", ErrNotFound), http.StatusNotFound},
		{Wrap("select", fmt.Errorf("request: %w", context.DeadlineExceeded)), http.StatusGatewayTimeout},
		{Wrap("insert", errors.New("connection refused")), http.StatusBadGateway},
	}
	for _, tc := range cases {
		he := HTTPError(logger, tc.err, "Error")
		if he.Code != tc.code {
			t.Errorf("%v: got %d, want %d", tc.err, he.Code, tc.code)
		}
	}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestHealthHandler(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/health/store", nil)
	rec := httptest.NewRecorder()
	if err := HealthHandler(fakePinger{}, "rest")(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	if err := HealthHandler(fakePinger{err: errors.New("down")}, "rest")(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}
