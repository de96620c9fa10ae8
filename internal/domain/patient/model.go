package patient

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vxs/registro/pkg/boolish"
	"github.com/vxs/registro/pkg/dates"
)

// Table is the store table holding patient records.
const Table = "pacientes"

// Status is the lifecycle state of a patient record.
type Status string

const (
	StatusActive   Status = "activo"
	StatusWatch    Status = "vigilancia"
	StatusDeceased Status = "fallecido"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusActive, StatusWatch, StatusDeceased}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// ParseStatus accepts one of the status names, ignoring surrounding blanks.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.TrimSpace(raw))
	if !s.Valid() {
		return "", &ValidationError{Field: "estado", Message: fmt.Sprintf("Estado desconocido: %q", raw)}
	}
	return s, nil
}

// Stage is the treatment stage.
type Stage string

const (
	StageInitial      Stage = "Diagnóstico inicial"
	StageTreatment    Stage = "En tratamiento"
	StageSurveillance Stage = "En vigilancia"
	StagePalliative   Stage = "Cuidados paliativos"
)

var Stages = []Stage{StageInitial, StageTreatment, StageSurveillance, StagePalliative}

func (s Stage) Valid() bool {
	for _, v := range Stages {
		if s == v {
			return true
		}
	}
	return false
}

// Patient maps to the pacientes table. Status and the palliative flag are
// independent of each other and of the treatment stage.
type Patient struct {
	ID               int64        `json:"id"`
	Name             string       `json:"nombre"`
	BirthDate        *dates.Date  `json:"fecha_nacimiento"`
	GuardianName     string       `json:"nombre_tutor"`
	Diagnosis        string       `json:"diagnostico"`
	Stage            Stage        `json:"etapa_tratamiento"`
	Hospital         string       `json:"hospital"`
	OriginState      string       `json:"estado_origen"`
	ContactPhone     string       `json:"telefono_contacto"`
	SupportsProvided string       `json:"apoyos_entregados"`
	LastSupportDate  *dates.Date  `json:"fecha_ultimo_apoyo"`
	Notes            string       `json:"notas"`
	Status           Status       `json:"estado"`
	Palliative       boolish.Bool `json:"cuidados_paliativos"`
}

// Columns lists the stored fields in record order. Exports follow it.
var Columns = []string{
	"id", "nombre", "fecha_nacimiento", "nombre_tutor", "diagnostico",
	"etapa_tratamiento", "hospital", "estado_origen", "telefono_contacto",
	"apoyos_entregados", "fecha_ultimo_apoyo", "notas", "estado",
	"cuidados_paliativos",
}

// Values returns the field values in Columns order.
func (p *Patient) Values() []interface{} {
	return []interface{}{
		p.ID, p.Name, p.BirthDate, p.GuardianName, p.Diagnosis,
		p.Stage, p.Hospital, p.OriginState, p.ContactPhone,
		p.SupportsProvided, p.LastSupportDate, p.Notes, p.Status,
		p.Palliative,
	}
}

// Record returns every stored field except id, keyed by column. It is the
// insert payload.
func (p *Patient) Record() map[string]interface{} {
	vals := p.Values()
	rec := make(map[string]interface{}, len(Columns)-1)
	for i, col := range Columns {
		if col == "id" {
			continue
		}
		rec[col] = vals[i]
	}
	return rec
}

// MinBirthDate is the earliest accepted birth date.
var MinBirthDate = dates.New(1900, time.January, 1)

// ValidationError reports an unacceptable field value. Message is shown to
// the user as is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var (
	// ErrNoStatusSelected is returned by View before any store call when the
	// status set is empty.
	ErrNoStatusSelected = errors.New("no status selected")

	// ErrNoChanges is returned for an update that sets no field.
	ErrNoChanges = errors.New("no changes")

	// ErrNoPendingDelete is returned when a delete is confirmed for an id
	// that was not the one marked for deletion.
	ErrNoPendingDelete = errors.New("delete not requested for this patient")
)

// ApplyDefaults fills the status and stage of a new record when omitted.
func (p *Patient) ApplyDefaults() {
	if p.Status == "" {
		p.Status = StatusActive
	}
	if p.Stage == "" {
		p.Stage = StageInitial
	}
}

// Validate checks a record about to be inserted. New records need a name;
// stored rows without one are still listed and exported.
func (p *Patient) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "nombre", Message: "El nombre del paciente es obligatorio"}
	}
	if p.BirthDate == nil || p.BirthDate.IsZero() {
		return &ValidationError{Field: "fecha_nacimiento", Message: "La fecha de nacimiento es obligatoria"}
	}
	if err := validateBirthDate(*p.BirthDate); err != nil {
		return err
	}
	if !p.Stage.Valid() {
		return stageError(p.Stage)
	}
	if !p.Status.Valid() {
		return statusError(p.Status)
	}
	return nil
}

func validateBirthDate(d dates.Date) error {
	if d.Before(MinBirthDate.Time) {
		return &ValidationError{Field: "fecha_nacimiento", Message: "La fecha de nacimiento debe ser posterior a 1900-01-01"}
	}
	return nil
}

func stageError(s Stage) error {
	return &ValidationError{Field: "etapa_tratamiento", Message: fmt.Sprintf("Etapa del tratamiento desconocida: %q", s)}
}

func statusError(s Status) error {
	return &ValidationError{Field: "estado", Message: fmt.Sprintf("Estado desconocido: %q", s)}
}

// OptionalDate distinguishes an absent date (Set false) from an explicit
// null (Set true, Value nil) in a partial update.
type OptionalDate struct {
	Set   bool
	Value *dates.Date
}

func (o *OptionalDate) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	var d dates.Date
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	o.Value = &d
	return nil
}

// Update is a partial edit: nil fields are left untouched. An id in the
// request body is not part of it.
type Update struct {
	Name             *string       `json:"nombre"`
	BirthDate        OptionalDate  `json:"fecha_nacimiento"`
	GuardianName     *string       `json:"nombre_tutor"`
	Diagnosis        *string       `json:"diagnostico"`
	Stage            *Stage        `json:"etapa_tratamiento"`
	Hospital         *string       `json:"hospital"`
	OriginState      *string       `json:"estado_origen"`
	ContactPhone     *string       `json:"telefono_contacto"`
	SupportsProvided *string       `json:"apoyos_entregados"`
	LastSupportDate  OptionalDate  `json:"fecha_ultimo_apoyo"`
	Notes            *string       `json:"notas"`
	Status           *Status       `json:"estado"`
	Palliative       *boolish.Bool `json:"cuidados_paliativos"`
}

// Fields returns the supplied fields keyed by column. A cleared date maps
// to a nil *dates.Date.
func (u *Update) Fields() map[string]interface{} {
	f := make(map[string]interface{})
	setString := func(col string, v *string) {
		if v != nil {
			f[col] = *v
		}
	}
	setString("nombre", u.Name)
	if u.BirthDate.Set {
		f["fecha_nacimiento"] = u.BirthDate.Value
	}
	setString("nombre_tutor", u.GuardianName)
	setString("diagnostico", u.Diagnosis)
	if u.Stage != nil {
		f["etapa_tratamiento"] = *u.Stage
	}
	setString("hospital", u.Hospital)
	setString("estado_origen", u.OriginState)
	setString("telefono_contacto", u.ContactPhone)
	setString("apoyos_entregados", u.SupportsProvided)
	if u.LastSupportDate.Set {
		f["fecha_ultimo_apoyo"] = u.LastSupportDate.Value
	}
	setString("notas", u.Notes)
	if u.Status != nil {
		f["estado"] = *u.Status
	}
	if u.Palliative != nil {
		f["cuidados_paliativos"] = *u.Palliative
	}
	return f
}

// Validate checks the supplied fields. The birth date may be changed but
// not cleared.
func (u *Update) Validate() error {
	if len(u.Fields()) == 0 {
		return ErrNoChanges
	}
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return &ValidationError{Field: "nombre", Message: "El nombre del paciente es obligatorio"}
	}
	if u.BirthDate.Set {
		if u.BirthDate.Value == nil {
			return &ValidationError{Field: "fecha_nacimiento", Message: "La fecha de nacimiento no se puede borrar"}
		}
		if err := validateBirthDate(*u.BirthDate.Value); err != nil {
			return err
		}
	}
	if u.Stage != nil && !u.Stage.Valid() {
		return stageError(*u.Stage)
	}
	if u.Status != nil && !u.Status.Valid() {
		return statusError(*u.Status)
	}
	return nil
}

// Query selects the rows of the list view.
// ParseStatuses accepts repeated or comma-separated status values, skipping
// blanks and duplicates. The result keeps first-seen order.
func ParseStatuses(values []string) ([]Status, error) {
	var out []Status
	seen := make(map[Status]bool)
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			s, err := ParseStatus(part)
			if err != nil {
				return nil, err
			}
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out, nil
}

type Query struct {
	Statuses []Status
	Search   string
}

// Row is one line of the list view: the record plus its computed age and
// whether it is highlighted as palliative.
type Row struct {
	*Patient
	Age       *int `json:"Edad"`
	Highlight bool `json:"highlight"`
}
