package patient

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/vxs/registro/internal/platform/session"
	"github.com/vxs/registro/internal/platform/spreadsheet"
	"github.com/vxs/registro/pkg/dates"
)

// AuditWarning is returned alongside a successful mutation whose last-edit
// record could not be written.
const AuditWarning = "No se pudo actualizar 'Última edición'"

// AuditRecorder stores who made the latest change and when.
type AuditRecorder interface {
	Record(ctx context.Context, userName string, at time.Time) error
}

// Events receives registry events, e.g. for metrics.
type Events interface {
	PatientMutated(kind string)
	ExportProduced()
	AuditFailed()
}

// Result describes a completed mutation.
type Result struct {
	ID      int64
	Warning string
}

type Service struct {
	repo   Repository
	audit  AuditRecorder
	events Events
	logger zerolog.Logger
	now    func() time.Time
	loc    *time.Location
}

type Option func(*Service)

func WithEvents(e Events) Option {
	return func(s *Service) { s.events = e }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the zone used for ages, birthday months and the
// last-edit timestamp.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func NewService(repo Repository, audit AuditRecorder, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		audit:  audit,
		logger: logger,
		now:    time.Now,
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the current time in the service's location.
func (s *Service) Now() time.Time {
	return s.now().In(s.loc)
}

// -- View --

// View returns the patients whose status is in q.Statuses, narrowed by
// q.Search, ordered by id, with ages computed as of asOf.
func (s *Service) View(ctx context.Context, q Query, asOf time.Time) ([]Row, error) {
	if len(q.Statuses) == 0 {
		return nil, ErrNoStatusSelected
	}
	patients, err := s.repo.SelectByStatus(ctx, q.Statuses)
	if err != nil {
		return nil, err
	}
	patients = filterSearch(patients, q.Search)
	sort.SliceStable(patients, func(i, j int) bool {
		return patients[i].ID < patients[j].ID
	})

	rows := make([]Row, len(patients))
	for i, p := range patients {
		rows[i] = Row{
			Patient:   p,
			Age:       dates.AgeOf(p.BirthDate, asOf),
			Highlight: bool(p.Palliative),
		}
	}
	return rows, nil
}

// filterSearch keeps the patients whose name or diagnosis contains text,
// compared under Unicode case folding. An empty text keeps everything.
func filterSearch(patients []*Patient, text string) []*Patient {
	if text == "" {
		return patients
	}
	fold := cases.Fold()
	needle := fold.String(text)
	out := patients[:0:0]
	for _, p := range patients {
		if containsFolded(fold, p.Name, needle) || containsFolded(fold, p.Diagnosis, needle) {
			out = append(out, p)
		}
	}
	return out
}

func containsFolded(fold cases.Caser, field, needle string) bool {
	if field == "" {
		return false
	}
	return strings.Contains(fold.String(field), needle)
}

// -- Mutations --

func (s *Service) Get(ctx context.Context, id int64) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

// Create validates and inserts p on behalf of actor. p.ID is set from the
// store.
func (s *Service) Create(ctx context.Context, actor string, p *Patient) (Result, error) {
	p.ID = 0
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	id, err := s.repo.Insert(ctx, p)
	if err != nil {
		return Result{}, err
	}
	p.ID = id
	s.mutated("create")
	s.logger.Info().Int64("patient_id", id).Str("user", actor).Msg("patient created")
	return Result{ID: id, Warning: s.recordEdit(ctx, actor)}, nil
}

func (s *Service) Update(ctx context.Context, actor string, id int64, u *Update) (Result, error) {
	if err := u.Validate(); err != nil {
		return Result{}, err
	}
	if err := s.repo.Update(ctx, id, u); err != nil {
		return Result{}, err
	}
	s.mutated("update")
	s.logger.Info().Int64("patient_id", id).Str("user", actor).Msg("patient updated")
	return Result{ID: id, Warning: s.recordEdit(ctx, actor)}, nil
}

// RequestDelete marks id for deletion on the session. Nothing is removed
// until ConfirmDelete.
func (s *Service) RequestDelete(sess *session.Session, id int64) {
	sess.RequestDelete(id)
}

// ConfirmDelete removes id if it is the session's pending deletion. A store
// failure leaves the request pending so it can be retried.
func (s *Service) ConfirmDelete(ctx context.Context, sess *session.Session, id int64) (Result, error) {
	if !sess.ConfirmDelete(id) {
		return Result{}, ErrNoPendingDelete
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		sess.RequestDelete(id)
		return Result{}, err
	}
	s.mutated("delete")
	s.logger.Info().Int64("patient_id", id).Str("user", sess.UserName).Msg("patient deleted")
	return Result{ID: id, Warning: s.recordEdit(ctx, sess.UserName)}, nil
}

func (s *Service) CancelDelete(sess *session.Session) {
	sess.CancelDelete()
}

func (s *Service) mutated(kind string) {
	if s.events != nil {
		s.events.PatientMutated(kind)
	}
}

// recordEdit updates the last-edit record. Failure does not undo the
// mutation; it is logged and reported as a warning.
func (s *Service) recordEdit(ctx context.Context, actor string) string {
	if s.audit == nil {
		return ""
	}
	if err := s.audit.Record(ctx, actor, s.Now()); err != nil {
		s.logger.Warn().Err(err).Str("user", actor).Msg("last edit update failed")
		if s.events != nil {
			s.events.AuditFailed()
		}
		return AuditWarning
	}
	return ""
}

// -- Birthdays --

type BirthdayEntry struct {
	ID        int64      `json:"id"`
	Name      string     `json:"nombre"`
	BirthDate dates.Date `json:"fecha_nacimiento"`
	Age       *int       `json:"Edad"`
	Status    Status     `json:"estado"`
}

type BirthdayMonth struct {
	Month   time.Month      `json:"mes"`
	Name    string          `json:"nombre_mes"`
	Title   string          `json:"titulo"`
	Entries []BirthdayEntry `json:"pacientes"`
	Message string          `json:"mensaje,omitempty"`
}

// Birthdays lists the patients born in the current and the next month.
type Birthdays struct {
	Current BirthdayMonth `json:"este_mes"`
	Next    BirthdayMonth `json:"proximo_mes"`
	Message string        `json:"mensaje,omitempty"`
}

func newBirthdayMonth(m time.Month) BirthdayMonth {
	name := dates.MonthNameES(m)
	return BirthdayMonth{
		Month:   m,
		Name:    name,
		Title:   "Cumpleaños de " + cases.Title(language.Spanish).String(name),
		Entries: []BirthdayEntry{},
	}
}

// Birthdays returns the non-deceased patients whose birth month is the
// month of asOf or the one after it, ordered by day of month then id.
// Patients without a birth date are left out.
func (s *Service) Birthdays(ctx context.Context, asOf time.Time) (*Birthdays, error) {
	patients, err := s.repo.SelectAllExceptStatus(ctx, StatusDeceased)
	if err != nil {
		return nil, err
	}

	current, next := dates.MonthWindow(asOf)
	b := &Birthdays{
		Current: newBirthdayMonth(current),
		Next:    newBirthdayMonth(next),
	}
	if len(patients) == 0 {
		b.Message = "No hay pacientes registrados."
	}

	for _, p := range patients {
		if p.BirthDate == nil || p.BirthDate.IsZero() {
			continue
		}
		entry := BirthdayEntry{
			ID:        p.ID,
			Name:      p.Name,
			BirthDate: *p.BirthDate,
			Age:       dates.AgeOf(p.BirthDate, asOf),
			Status:    p.Status,
		}
		switch p.BirthDate.Month() {
		case current:
			b.Current.Entries = append(b.Current.Entries, entry)
		case next:
			b.Next.Entries = append(b.Next.Entries, entry)
		}
	}

	sortBirthdays(b.Current.Entries)
	sortBirthdays(b.Next.Entries)
	if len(b.Current.Entries) == 0 {
		b.Current.Message = "No hay cumpleaños este mes."
	}
	if len(b.Next.Entries) == 0 {
		b.Next.Message = "No hay cumpleaños el próximo mes."
	}
	return b, nil
}

func sortBirthdays(entries []BirthdayEntry) {
	sort.Slice(entries, func(i, j int) bool {
		di, dj := entries[i].BirthDate.Day(), entries[j].BirthDate.Day()
		if di != dj {
			return di < dj
		}
		return entries[i].ID < entries[j].ID
	})
}

// -- Export --

// ExportHeaders are the spreadsheet columns: every record field, then the
// computed age.
var ExportHeaders = append(append([]string{}, Columns...), "Edad")

// ExportSheet lays rows out as the export workbook.
func ExportSheet(rows []Row) spreadsheet.Sheet {
	data := make([][]interface{}, len(rows))
	for i, r := range rows {
		data[i] = append(r.Values(), r.Age)
	}
	return spreadsheet.Sheet{
		Name:            "Pacientes",
		Headers:         ExportHeaders,
		Rows:            data,
		DateColumns:     []string{"fecha_nacimiento", "fecha_ultimo_apoyo"},
		HighlightColumn: "cuidados_paliativos",
	}
}

// Export writes the rows View returns for q as an .xlsx workbook and
// reports how many rows it contained.
func (s *Service) Export(ctx context.Context, q Query, asOf time.Time, w io.Writer) (int, error) {
	rows, err := s.View(ctx, q, asOf)
	if err != nil {
		return 0, err
	}
	if err := spreadsheet.Write(w, ExportSheet(rows)); err != nil {
		return 0, fmt.Errorf("write export: %w", err)
	}
	if s.events != nil {
		s.events.ExportProduced()
	}
	return len(rows), nil
}
