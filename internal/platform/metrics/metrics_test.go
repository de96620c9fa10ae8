package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStoreCall(t *testing.T) {
	c := NewCollector("registro")

	c.ObserveStoreCall("pacientes.select", 20*time.Millisecond, nil)
	c.ObserveStoreCall("pacientes.delete", 5*time.Millisecond, errors.New("boom"))
	c.ObserveStoreCall("ping", time.Millisecond, nil)

	if got := testutil.ToFloat64(c.StoreErrorsTotal.WithLabelValues("pacientes", "delete")); got != 1 {
		t.Errorf("expected 1 delete error, got %v", got)
	}
	if got := testutil.ToFloat64(c.StoreErrorsTotal.WithLabelValues("pacientes", "select")); got != 0 {
		t.Errorf("expected no select errors, got %v", got)
	}
	if n := testutil.CollectAndCount(c.StoreCallDuration); n != 3 {
		t.Errorf("expected 3 duration series, got %d", n)
	}
}

func TestRegistryEvents(t *testing.T) {
	c := NewCollector("registro")
	c.PatientMutated("create")
	c.PatientMutated("create")
	c.PatientMutated("delete")
	c.ExportProduced()
	c.AuditFailed()
	c.Login("rejected")

	if got := testutil.ToFloat64(c.PatientMutationsTotal.WithLabelValues("create")); got != 2 {
		t.Errorf("expected 2 creates, got %v", got)
	}
	if got := testutil.ToFloat64(c.ExportsTotal); got != 1 {
		t.Errorf("expected 1 export, got %v", got)
	}
	if got := testutil.ToFloat64(c.AuditFailuresTotal); got != 1 {
		t.Errorf("expected 1 audit failure, got %v", got)
	}
	if got := testutil.ToFloat64(c.LoginsTotal.WithLabelValues("rejected")); got != 1 {
		t.Errorf("expected 1 rejected login, got %v", got)
	}
}

func TestPatientAccessed(t *testing.T) {
	c := NewCollector("registro")
	c.PatientAccessed("read", http.StatusOK)
	c.PatientAccessed("read", http.StatusNoContent)
	c.PatientAccessed("delete", http.StatusConflict)
	c.PatientAccessed("export", 0)

	tests := []struct {
		action, class string
		want          float64
	}{
		{"read", "2xx", 2},
		{"delete", "4xx", 1},
		{"export", "other", 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(c.PatientAccessTotal.WithLabelValues(tt.action, tt.class)); got != tt.want {
			t.Errorf("%s/%s: expected %v, got %v", tt.action, tt.class, tt.want, got)
		}
	}
}

func TestMiddleware_RecordsRouteTemplate(t *testing.T) {
	c := NewCollector("registro")
	e := echo.New()
	e.Use(c.Middleware())
	e.GET("/api/v1/patients/:id", func(ec echo.Context) error {
		if ec.Param("id") == "404" {
			return echo.NewHTTPError(http.StatusNotFound, "no")
		}
		return ec.NoContent(http.StatusOK)
	})
	e.GET("/metrics", echo.WrapHandler(c.Handler()))

	for _, id := range []string{"1", "2", "404"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/patients/"+id, nil))
	}

	if got := testutil.ToFloat64(c.RequestsTotal.WithLabelValues("GET", "/api/v1/patients/:id", "200")); got != 2 {
		t.Errorf("expected 2 ok requests, got %v", got)
	}
	if got := testutil.ToFloat64(c.RequestsTotal.WithLabelValues("GET", "/api/v1/patients/:id", "404")); got != 1 {
		t.Errorf("expected 1 not found request, got %v", got)
	}
	if got := testutil.ToFloat64(c.InFlightGauge); got != 0 {
		t.Errorf("expected no in-flight requests, got %v", got)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "registro_http_requests_total") {
		t.Error("expected request counter in exposition")
	}
}

func TestNewCollector_Independent(t *testing.T) {
	a := NewCollector("registro")
	b := NewCollector("registro")
	a.ExportProduced()
	if got := testutil.ToFloat64(b.ExportsTotal); got != 0 {
		t.Errorf("collectors must not share state, got %v", got)
	}
}
