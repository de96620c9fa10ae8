package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vxs/registro/internal/platform/postgrest"
	"github.com/vxs/registro/internal/platform/store"
)

var cst = time.FixedZone("CST", -6*3600)

type mockRepo struct {
	row *LastEdit
	err error
}

func (m *mockRepo) UpsertLastEdit(_ context.Context, userName string, at time.Time) error {
	if m.err != nil {
		return m.err
	}
	m.row = &LastEdit{ID: singletonID, UserName: userName, Timestamp: at.Format(time.RFC3339)}
	return nil
}

func (m *mockRepo) GetLastEdit(_ context.Context) (*LastEdit, error) {
	return m.row, m.err
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"2024-03-14T16:30:00Z", "14/03/2024 10:30"},
		{"2024-03-14T10:30:00-06:00", "14/03/2024 10:30"},
		{"2024-03-14T10:30:00.123456", "14/03/2024 10:30"},
		{"2024-03-14 16:30:00.5+00", "14/03/2024 10:30"},
		{"2024-03-14 16:30:00+00:00", "14/03/2024 10:30"},
		{"ayer por la tarde", "ayer por la tarde"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := FormatTimestamp(tt.raw, cst); got != tt.want {
			t.Errorf("FormatTimestamp(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestService_RecordThenLast(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, cst)
	ctx := context.Background()

	v, err := svc.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, Placeholder, v.Text)
	assert.Empty(t, v.UserName)

	at := time.Date(2024, time.March, 14, 10, 30, 0, 0, cst)
	require.NoError(t, svc.Record(ctx, "Andrea", at))
	require.NoError(t, svc.Record(ctx, "Lucía", at.Add(time.Hour)))

	v, err = svc.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Lucía", v.UserName)
	assert.Equal(t, "14/03/2024 11:30", v.Formatted)
	assert.Equal(t, "Última edición por Lucía el 14/03/2024 11:30", v.Text)
}

func TestService_LastKeepsRawTimestamp(t *testing.T) {
	repo := &mockRepo{row: &LastEdit{ID: 1, UserName: "Andrea", Timestamp: "hace un rato"}}
	v, err := NewService(repo, cst).Last(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hace un rato", v.Formatted)
}

func TestHandler_DegradesOnStoreError(t *testing.T) {
	repo := &mockRepo{err: store.Wrap(Table+".select", errors.New("timeout"))}
	h := NewHandler(NewService(repo, cst), zerolog.Nop())
	e := echo.New()
	h.RegisterRoutes(e.Group("/api/v1"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/last-edit", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var v View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, Placeholder, v.Text)
}

type fakeTable struct {
	mu     sync.Mutex
	method string
	prefer string
	query  string
	body   string
	reply  string
}

func (f *fakeTable) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.method, f.prefer, f.query, f.body = r.Method, r.Header.Get("Prefer"), r.URL.RawQuery, string(b)
	reply := f.reply
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	if reply == "" {
		w.WriteHeader(http.StatusCreated)
		return
	}
	_, _ = io.WriteString(w, reply)
}

func TestRESTRepo_Upsert(t *testing.T) {
	f := &fakeTable{}
	srv := httptest.NewServer(f)
	defer srv.Close()
	repo := NewRESTRepo(postgrest.New(srv.URL, "k"))

	at := time.Date(2024, time.March, 14, 10, 30, 0, 0, cst)
	require.NoError(t, repo.UpsertLastEdit(context.Background(), "Andrea", at))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, http.MethodPost, f.method)
	assert.True(t, strings.Contains(f.prefer, "resolution=merge-duplicates"))
	assert.JSONEq(t, `{"id":1,"user_name":"Andrea","timestamp":"2024-03-14T10:30:00-06:00"}`, f.body)
}

func TestRESTRepo_Get(t *testing.T) {
	f := &fakeTable{reply: `[]`}
	srv := httptest.NewServer(f)
	defer srv.Close()
	repo := NewRESTRepo(postgrest.New(srv.URL, "k"))

	le, err := repo.GetLastEdit(context.Background())
	require.NoError(t, err)
	assert.Nil(t, le)

	f.mu.Lock()
	assert.Contains(t, f.query, "id=eq.1")
	f.reply = `[{"id":1,"user_name":"Andrea","timestamp":"2024-03-14T10:30:00.123456"}]`
	f.mu.Unlock()

	le, err = repo.GetLastEdit(context.Background())
	require.NoError(t, err)
	require.NotNil(t, le)
	assert.Equal(t, "Andrea", le.UserName)
	assert.Equal(t, "2024-03-14T10:30:00.123456", le.Timestamp)
}
