package patient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vxs/registro/internal/platform/store"
	"github.com/vxs/registro/pkg/boolish"
	"github.com/vxs/registro/pkg/dates"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type pgRepo struct {
	db querier
}

// NewPGRepo returns a Repository backed directly by Postgres.
func NewPGRepo(pool *pgxpool.Pool) Repository {
	return &pgRepo{db: pool}
}

var patientCols = strings.Join(Columns, ", ")

// updatable is the set of columns an update may write.
var updatable = func() map[string]bool {
	m := make(map[string]bool, len(Columns))
	for _, c := range Columns {
		if c != "id" {
			m[c] = true
		}
	}
	return m
}()

func (r *pgRepo) Insert(ctx context.Context, p *Patient) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO pacientes (
			nombre, fecha_nacimiento, nombre_tutor, diagnostico,
			etapa_tratamiento, hospital, estado_origen, telefono_contacto,
			apoyos_entregados, fecha_ultimo_apoyo, notas, estado,
			cuidados_paliativos
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id`,
		p.Name, p.BirthDate.TimePtr(), p.GuardianName, p.Diagnosis,
		string(p.Stage), p.Hospital, p.OriginState, p.ContactPhone,
		p.SupportsProvided, p.LastSupportDate.TimePtr(), p.Notes, string(p.Status),
		bool(p.Palliative),
	).Scan(&id)
	if err != nil {
		return 0, store.Wrap(Table+".insert", err)
	}
	return id, nil
}

func (r *pgRepo) GetByID(ctx context.Context, id int64) (*Patient, error) {
	p, err := scanPatient(r.db.QueryRow(ctx, `SELECT `+patientCols+` FROM pacientes WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.Wrap(Table+".select", store.ErrNotFound)
	}
	if err != nil {
		return nil, store.Wrap(Table+".select", err)
	}
	return p, nil
}

func (r *pgRepo) Update(ctx context.Context, id int64, u *Update) error {
	sql, args, err := buildUpdate(id, u.Fields())
	if err != nil {
		return store.Wrap(Table+".update", err)
	}
	_, err = r.db.Exec(ctx, sql, args...)
	return store.Wrap(Table+".update", err)
}

// buildUpdate renders an UPDATE for the given fields, in column-name order.
func buildUpdate(id int64, fields map[string]interface{}) (string, []interface{}, error) {
	if len(fields) == 0 {
		return "", nil, ErrNoChanges
	}
	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !updatable[col] {
			return "", nil, fmt.Errorf("column %q is not updatable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, len(cols))
	args := make([]interface{}, 0, len(cols)+1)
	args = append(args, id)
	for i, col := range cols {
		args = append(args, pgArg(fields[col]))
		sets[i] = fmt.Sprintf("%s = $%d", col, i+2)
	}
	return "UPDATE pacientes SET " + strings.Join(sets, ", ") + " WHERE id = $1", args, nil
}

// pgArg converts the domain value types to what pgx encodes natively.
func pgArg(v interface{}) interface{} {
	switch t := v.(type) {
	case Status:
		return string(t)
	case Stage:
		return string(t)
	case boolish.Bool:
		return bool(t)
	case *dates.Date:
		return t.TimePtr()
	case dates.Date:
		return t.Time
	}
	return v
}

func (r *pgRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM pacientes WHERE id = $1`, id)
	return store.Wrap(Table+".delete", err)
}

func (r *pgRepo) SelectByStatus(ctx context.Context, statuses []Status) ([]*Patient, error) {
	if len(statuses) == 0 {
		return nil, store.Wrap(Table+".select", store.ErrEmptyFilter)
	}
	return r.list(ctx, `SELECT `+patientCols+` FROM pacientes WHERE estado = ANY($1) ORDER BY id`, statusStrings(statuses))
}

func (r *pgRepo) SelectAllExceptStatus(ctx context.Context, status Status) ([]*Patient, error) {
	return r.list(ctx, `SELECT `+patientCols+` FROM pacientes WHERE estado <> $1 ORDER BY id`, string(status))
}

func (r *pgRepo) list(ctx context.Context, sql string, args ...interface{}) ([]*Patient, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, store.Wrap(Table+".select", err)
	}
	defer rows.Close()

	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, store.Wrap(Table+".select", err)
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Wrap(Table+".select", err)
	}
	return patients, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var (
		p                  Patient
		birth, lastSupport *time.Time
		stage, status      string
		palliative         bool
	)
	err := row.Scan(
		&p.ID, &p.Name, &birth, &p.GuardianName, &p.Diagnosis,
		&stage, &p.Hospital, &p.OriginState, &p.ContactPhone,
		&p.SupportsProvided, &lastSupport, &p.Notes, &status,
		&palliative,
	)
	if err != nil {
		return nil, err
	}
	p.BirthDate = dates.Ptr(birth)
	p.LastSupportDate = dates.Ptr(lastSupport)
	p.Stage = Stage(stage)
	p.Status = Status(status)
	p.Palliative = boolish.Bool(palliative)
	return &p, nil
}
