package patient

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vxs/registro/internal/platform/session"
	"github.com/vxs/registro/internal/platform/spreadsheet"
	"github.com/vxs/registro/internal/platform/store"
	"github.com/vxs/registro/pkg/boolish"
	"github.com/vxs/registro/pkg/dates"
)

// -- Mock Repository --

type mockRepo struct {
	mu       sync.Mutex
	patients map[int64]*Patient
	nextID   int64
	calls    int
	err      error
	updates  []map[string]interface{}
	deleted  []int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{patients: make(map[int64]*Patient), nextID: 1}
}

func (m *mockRepo) add(p *Patient) *Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		p.ID = m.nextID
	}
	if p.ID >= m.nextID {
		m.nextID = p.ID + 1
	}
	m.patients[p.ID] = p
	return p
}

func (m *mockRepo) Insert(_ context.Context, p *Patient) (int64, error) {
	m.mu.Lock()
	m.calls++
	if m.err != nil {
		m.mu.Unlock()
		return 0, m.err
	}
	m.mu.Unlock()
	cp := *p
	cp.ID = 0
	return m.add(&cp).ID, nil
}

func (m *mockRepo) GetByID(_ context.Context, id int64) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.patients[id]
	if !ok {
		return nil, store.Wrap(Table+".select", store.ErrNotFound)
	}
	return p, nil
}

func (m *mockRepo) Update(_ context.Context, id int64, u *Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.updates = append(m.updates, u.Fields())
	p, ok := m.patients[id]
	if !ok {
		return nil
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.LastSupportDate.Set {
		p.LastSupportDate = u.LastSupportDate.Value
	}
	if u.Status != nil {
		p.Status = *u.Status
	}
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, id)
	delete(m.patients, id)
	return nil
}

// sorted returns the matching patients by descending id, so callers must
// not rely on store order.
func (m *mockRepo) sorted(keep func(*Patient) bool) []*Patient {
	var out []*Patient
	for _, p := range m.patients {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m *mockRepo) SelectByStatus(_ context.Context, statuses []Status) ([]*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(statuses) == 0 {
		return nil, store.Wrap(Table+".select", store.ErrEmptyFilter)
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.sorted(func(p *Patient) bool {
		for _, s := range statuses {
			if p.Status == s {
				return true
			}
		}
		return false
	}), nil
}

func (m *mockRepo) SelectAllExceptStatus(_ context.Context, status Status) ([]*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.sorted(func(p *Patient) bool { return p.Status != status }), nil
}

// -- Mock audit and events --

type auditCall struct {
	user string
	at   time.Time
}

type mockAudit struct {
	calls []auditCall
	err   error
}

func (a *mockAudit) Record(_ context.Context, userName string, at time.Time) error {
	a.calls = append(a.calls, auditCall{userName, at})
	return a.err
}

type mockEvents struct {
	mutations     map[string]int
	exports       int
	auditFailures int
}

func (e *mockEvents) PatientMutated(kind string) {
	if e.mutations == nil {
		e.mutations = make(map[string]int)
	}
	e.mutations[kind]++
}

func (e *mockEvents) ExportProduced() { e.exports++ }

func (e *mockEvents) AuditFailed() { e.auditFailures++ }

var fixedNow = time.Date(2024, time.March, 14, 10, 30, 0, 0, time.UTC)

func newTestService() (*Service, *mockRepo, *mockAudit, *mockEvents) {
	repo := newMockRepo()
	audit := &mockAudit{}
	events := &mockEvents{}
	svc := NewService(repo, audit, zerolog.Nop(),
		WithEvents(events),
		WithClock(func() time.Time { return fixedNow }),
		WithLocation(time.UTC),
	)
	return svc, repo, audit, events
}

func datePtr(y int, m time.Month, d int) *dates.Date {
	v := dates.New(y, m, d)
	return &v
}

func strPtr(s string) *string { return &s }

func seed(repo *mockRepo) {
	repo.add(&Patient{ID: 1, Name: "Ana López", Diagnosis: "Leucemia", BirthDate: datePtr(2010, 3, 15), Status: StatusActive})
	repo.add(&Patient{ID: 2, Name: "LUCÍA Pérez", Diagnosis: "Neuroblastoma", BirthDate: datePtr(2012, 3, 1), Status: StatusWatch, Palliative: true})
	repo.add(&Patient{ID: 3, Name: "Mariana", Diagnosis: "", Status: StatusActive})
	repo.add(&Patient{ID: 4, Name: "Pedro", Diagnosis: "linfoma de Hodgkin", BirthDate: datePtr(2008, 4, 2), Status: StatusDeceased})
	repo.add(&Patient{ID: 5, Name: "", Diagnosis: "Leucemia linfoblástica", BirthDate: datePtr(2015, 4, 2), Status: StatusActive})
}

// -- View --

func TestView_RequiresStatus(t *testing.T) {
	svc, repo, _, _ := newTestService()
	seed(repo)
	repo.calls = 0

	_, err := svc.View(context.Background(), Query{}, fixedNow)
	if !errors.Is(err, ErrNoStatusSelected) {
		t.Fatalf("expected ErrNoStatusSelected, got %v", err)
	}
	if repo.calls != 0 {
		t.Errorf("expected no store call, got %d", repo.calls)
	}
}

func TestView_FiltersSortsAndComputes(t *testing.T) {
	svc, repo, _, _ := newTestService()
	seed(repo)

	rows, err := svc.View(context.Background(), Query{Statuses: []Status{StatusActive, StatusWatch}}, fixedNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var ids []int64
	for _, r := range rows {
		ids = append(ids, r.ID)
		if r.Status == StatusDeceased {
			t.Errorf("row %d has an unselected status", r.ID)
		}
	}
	want := []int64{1, 2, 3, 5}
	if len(ids) != len(want) {
		t.Fatalf("expected ids %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected ids %v, got %v", want, ids)
		}
	}

	// Ana turns 14 on 2024-03-15; the view is computed on 2024-03-14.
	if rows[0].Age == nil || *rows[0].Age != 13 {
		t.Errorf("expected age 13, got %v", rows[0].Age)
	}
	if rows[2].Age != nil {
		t.Errorf("expected no age without birth date, got %d", *rows[2].Age)
	}
	if rows[0].Highlight || !rows[1].Highlight {
		t.Error("expected only the palliative row to be highlighted")
	}
}

func TestView_Search(t *testing.T) {
	svc, repo, _, _ := newTestService()
	seed(repo)
	all := []Status{StatusActive, StatusWatch, StatusDeceased}

	tests := []struct {
		search string
		want   []int64
	}{
		{"ana", []int64{1, 3}},
		{"LEUCEMIA", []int64{1, 5}},
		{"lucía", []int64{2}},
		{"Hodgkin", []int64{4}},
		{"zzz", nil},
		{"", []int64{1, 2, 3, 4, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.search, func(t *testing.T) {
			rows, err := svc.View(context.Background(), Query{Statuses: all, Search: tt.search}, fixedNow)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(rows) != len(tt.want) {
				t.Fatalf("expected %d rows, got %d", len(tt.want), len(rows))
			}
			for i, r := range rows {
				if r.ID != tt.want[i] {
					t.Errorf("row %d: expected id %d, got %d", i, tt.want[i], r.ID)
				}
			}
		})
	}
}

func TestView_StoreError(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.err = store.Wrap(Table+".select", errors.New("connection refused"))

	_, err := svc.View(context.Background(), Query{Statuses: []Status{StatusActive}}, fixedNow)
	if !store.IsStoreError(err) {
		t.Errorf("expected a store error, got %v", err)
	}
}

// -- Mutations --

func TestCreate_DefaultsAndAudit(t *testing.T) {
	svc, repo, audit, events := newTestService()

	p := &Patient{ID: 99, Name: "Sofía", BirthDate: datePtr(2011, 6, 1)}
	res, err := svc.Create(context.Background(), "Andrea", p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ID != 1 || p.ID != 1 {
		t.Errorf("expected store-assigned id 1, got %d", res.ID)
	}
	if res.Warning != "" {
		t.Errorf("unexpected warning %q", res.Warning)
	}
	stored := repo.patients[1]
	if stored.Status != StatusActive || stored.Stage != StageInitial {
		t.Errorf("expected defaults, got %q %q", stored.Status, stored.Stage)
	}
	if len(audit.calls) != 1 || audit.calls[0].user != "Andrea" || !audit.calls[0].at.Equal(fixedNow) {
		t.Errorf("unexpected audit calls %+v", audit.calls)
	}
	if events.mutations["create"] != 1 {
		t.Errorf("expected a create event, got %v", events.mutations)
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name  string
		p     Patient
		field string
	}{
		{"blank name", Patient{Name: "  ", BirthDate: datePtr(2010, 1, 1)}, "nombre"},
		{"missing birth date", Patient{Name: "Ana"}, "fecha_nacimiento"},
		{"birth date too old", Patient{Name: "Ana", BirthDate: datePtr(1899, 12, 31)}, "fecha_nacimiento"},
		{"unknown stage", Patient{Name: "Ana", BirthDate: datePtr(2010, 1, 1), Stage: "Otra"}, "etapa_tratamiento"},
		{"unknown status", Patient{Name: "Ana", BirthDate: datePtr(2010, 1, 1), Status: "perdido"}, "estado"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, audit, _ := newTestService()
			p := tt.p
			_, err := svc.Create(context.Background(), "Andrea", &p)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, ve.Field)
			}
			if repo.calls != 0 || len(audit.calls) != 0 {
				t.Error("invalid record must not reach the store")
			}
		})
	}
}

func TestCreate_AuditFailureIsWarning(t *testing.T) {
	svc, repo, audit, events := newTestService()
	audit.err = errors.New("last_edit unavailable")

	res, err := svc.Create(context.Background(), "Andrea", &Patient{Name: "Sofía", BirthDate: datePtr(2011, 6, 1)})
	if err != nil {
		t.Fatalf("mutation must succeed despite audit failure: %v", err)
	}
	if res.Warning != AuditWarning {
		t.Errorf("expected warning %q, got %q", AuditWarning, res.Warning)
	}
	if len(repo.patients) != 1 {
		t.Error("expected the patient to stay inserted")
	}
	if events.auditFailures != 1 {
		t.Errorf("expected 1 audit failure event, got %d", events.auditFailures)
	}
}

func TestCreate_StoreErrorSkipsAudit(t *testing.T) {
	svc, repo, audit, _ := newTestService()
	repo.err = store.Wrap(Table+".insert", errors.New("permission denied"))

	_, err := svc.Create(context.Background(), "Andrea", &Patient{Name: "Sofía", BirthDate: datePtr(2011, 6, 1)})
	if !store.IsStoreError(err) {
		t.Fatalf("expected store error, got %v", err)
	}
	if len(audit.calls) != 0 {
		t.Error("failed insert must not touch the last edit")
	}
}

func TestUpdate(t *testing.T) {
	svc, repo, audit, _ := newTestService()
	repo.add(&Patient{ID: 7, Name: "Ana", BirthDate: datePtr(2010, 3, 15), LastSupportDate: datePtr(2024, 1, 10), Status: StatusActive})

	status := StatusWatch
	u := &Update{Name: strPtr("Ana María"), Status: &status, LastSupportDate: OptionalDate{Set: true}}
	if _, err := svc.Update(context.Background(), "Lucía", 7, u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := repo.patients[7]
	if p.Name != "Ana María" || p.Status != StatusWatch || p.LastSupportDate != nil {
		t.Errorf("unexpected patient after update: %+v", p)
	}
	if _, ok := repo.updates[0]["id"]; ok {
		t.Error("id must never be part of an update")
	}
	if len(audit.calls) != 1 || audit.calls[0].user != "Lucía" {
		t.Errorf("unexpected audit calls %+v", audit.calls)
	}
}

func TestUpdate_Rejections(t *testing.T) {
	svc, repo, _, _ := newTestService()
	bad := Stage("otra")

	if _, err := svc.Update(context.Background(), "x", 1, &Update{}); !errors.Is(err, ErrNoChanges) {
		t.Errorf("expected ErrNoChanges, got %v", err)
	}
	if _, err := svc.Update(context.Background(), "x", 1, &Update{BirthDate: OptionalDate{Set: true}}); !IsValidation(err) {
		t.Errorf("clearing the birth date must be rejected, got %v", err)
	}
	if _, err := svc.Update(context.Background(), "x", 1, &Update{Stage: &bad}); !IsValidation(err) {
		t.Errorf("expected validation error for stage, got %v", err)
	}
	if repo.calls != 0 {
		t.Errorf("rejected updates must not reach the store, got %d calls", repo.calls)
	}
}

func TestDeleteFlow(t *testing.T) {
	svc, repo, audit, events := newTestService()
	repo.add(&Patient{ID: 7, Name: "Ana"})
	repo.add(&Patient{ID: 8, Name: "Luis"})
	sess := &session.Session{UserName: "Andrea", Authenticated: true}
	ctx := context.Background()

	if _, err := svc.ConfirmDelete(ctx, sess, 7); !errors.Is(err, ErrNoPendingDelete) {
		t.Fatalf("expected ErrNoPendingDelete, got %v", err)
	}

	svc.RequestDelete(sess, 7)
	if _, err := svc.ConfirmDelete(ctx, sess, 8); !errors.Is(err, ErrNoPendingDelete) {
		t.Fatalf("confirming another id must fail, got %v", err)
	}
	if len(repo.deleted) != 0 {
		t.Fatal("no delete may happen before a matching confirmation")
	}

	svc.CancelDelete(sess)
	if _, err := svc.ConfirmDelete(ctx, sess, 7); !errors.Is(err, ErrNoPendingDelete) {
		t.Fatalf("confirm after cancel must fail, got %v", err)
	}

	svc.RequestDelete(sess, 7)
	if _, err := svc.ConfirmDelete(ctx, sess, 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.deleted) != 1 || repo.deleted[0] != 7 {
		t.Errorf("expected patient 7 deleted, got %v", repo.deleted)
	}
	if _, pending := sess.PendingDelete(); pending {
		t.Error("pending delete must be cleared")
	}
	if len(audit.calls) != 1 || events.mutations["delete"] != 1 {
		t.Error("expected audit and event for the delete")
	}
}

func TestConfirmDelete_StoreFailureKeepsPending(t *testing.T) {
	svc, repo, audit, _ := newTestService()
	sess := &session.Session{UserName: "Andrea", Authenticated: true}
	repo.err = store.Wrap(Table+".delete", errors.New("timeout"))

	svc.RequestDelete(sess, 3)
	if _, err := svc.ConfirmDelete(context.Background(), sess, 3); !store.IsStoreError(err) {
		t.Fatalf("expected store error, got %v", err)
	}
	if id, ok := sess.PendingDelete(); !ok || id != 3 {
		t.Error("expected the request to stay pending for a retry")
	}
	if len(audit.calls) != 0 {
		t.Error("failed delete must not touch the last edit")
	}
}

// -- Birthdays --

func TestBirthdays(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.add(&Patient{ID: 1, Name: "Ana", BirthDate: datePtr(2010, 12, 20), Status: StatusActive})
	repo.add(&Patient{ID: 2, Name: "Bea", BirthDate: datePtr(2012, 12, 3), Status: StatusWatch})
	repo.add(&Patient{ID: 3, Name: "Caro", BirthDate: datePtr(2011, 12, 20), Status: StatusActive})
	repo.add(&Patient{ID: 4, Name: "Dani", BirthDate: datePtr(2009, 1, 5), Status: StatusActive})
	repo.add(&Patient{ID: 5, Name: "Eli", BirthDate: datePtr(2009, 12, 1), Status: StatusDeceased})
	repo.add(&Patient{ID: 6, Name: "Fer", Status: StatusActive})
	repo.add(&Patient{ID: 7, Name: "Gil", BirthDate: datePtr(2013, 6, 9), Status: StatusActive})

	asOf := time.Date(2024, time.December, 10, 9, 0, 0, 0, time.UTC)
	b, err := svc.Birthdays(context.Background(), asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if b.Current.Title != "Cumpleaños de Diciembre" || b.Next.Title != "Cumpleaños de Enero" {
		t.Errorf("unexpected titles %q %q", b.Current.Title, b.Next.Title)
	}
	var current []int64
	for _, e := range b.Current.Entries {
		current = append(current, e.ID)
	}
	want := []int64{2, 1, 3}
	if len(current) != len(want) {
		t.Fatalf("expected %v this month, got %v", want, current)
	}
	for i := range want {
		if current[i] != want[i] {
			t.Fatalf("expected %v this month, got %v", want, current)
		}
	}
	if len(b.Next.Entries) != 1 || b.Next.Entries[0].ID != 4 {
		t.Errorf("expected Dani next month, got %+v", b.Next.Entries)
	}
	if b.Next.Entries[0].Age == nil || *b.Next.Entries[0].Age != 15 {
		t.Errorf("expected age 15 as of the view date, got %v", b.Next.Entries[0].Age)
	}
	if b.Current.Message != "" || b.Message != "" {
		t.Error("expected no empty-state messages")
	}
}

func TestBirthdays_Empty(t *testing.T) {
	svc, repo, _, _ := newTestService()
	asOf := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)

	b, err := svc.Birthdays(context.Background(), asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Message != "No hay pacientes registrados." {
		t.Errorf("unexpected message %q", b.Message)
	}

	repo.add(&Patient{ID: 1, Name: "Ana", BirthDate: datePtr(2010, 8, 1), Status: StatusActive})
	b, _ = svc.Birthdays(context.Background(), asOf)
	if b.Message != "" || b.Current.Message != "No hay cumpleaños este mes." || b.Next.Message != "No hay cumpleaños el próximo mes." {
		t.Errorf("unexpected messages %+v", b)
	}
	if b.Current.Entries == nil {
		t.Error("entries must be an empty list, not nil")
	}
}

// -- Export --

func TestExportSheet(t *testing.T) {
	age := 13
	rows := []Row{{
		Patient: &Patient{ID: 1, Name: "Ana", BirthDate: datePtr(2010, 3, 15), Status: StatusActive, Palliative: boolish.Bool(true)},
		Age:     &age,
	}}
	sh := ExportSheet(rows)

	if sh.Headers[0] != "id" || sh.Headers[len(sh.Headers)-1] != "Edad" || len(sh.Headers) != len(Columns)+1 {
		t.Errorf("unexpected headers %v", sh.Headers)
	}
	if sh.HighlightColumn != "cuidados_paliativos" {
		t.Errorf("unexpected highlight column %q", sh.HighlightColumn)
	}
	if len(sh.Rows[0]) != len(sh.Headers) {
		t.Errorf("row width %d does not match headers %d", len(sh.Rows[0]), len(sh.Headers))
	}
}

func TestExport_MatchesView(t *testing.T) {
	svc, repo, _, events := newTestService()
	seed(repo)
	q := Query{Statuses: []Status{StatusActive}, Search: "leucemia"}

	var buf bytes.Buffer
	n, err := svc.Export(context.Background(), q, fixedNow, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 exported rows, got %d", n)
	}

	headers, data, err := spreadsheet.Read(&buf)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(headers) != len(ExportHeaders) || len(data) != 2 {
		t.Fatalf("unexpected workbook shape: %d headers, %d rows", len(headers), len(data))
	}
	if data[0][0] != "1" || data[0][2] != "2010-03-15" {
		t.Errorf("unexpected first row %v", data[0])
	}
	if events.exports != 1 {
		t.Errorf("expected 1 export event, got %d", events.exports)
	}

	if _, err := svc.Export(context.Background(), Query{}, fixedNow, &buf); !errors.Is(err, ErrNoStatusSelected) {
		t.Errorf("expected ErrNoStatusSelected, got %v", err)
	}
}
