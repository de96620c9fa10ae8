package patient

import (
	"context"
	"errors"
	"strconv"

	"github.com/vxs/registro/internal/platform/postgrest"
	"github.com/vxs/registro/internal/platform/store"
)

type restRepo struct {
	client *postgrest.Client
}

// NewRESTRepo returns a Repository backed by the hosted table API.
func NewRESTRepo(client *postgrest.Client) Repository {
	return &restRepo{client: client}
}

func (r *restRepo) Insert(ctx context.Context, p *Patient) (int64, error) {
	var out []Patient
	if err := r.client.From(Table).Insert(ctx, p.Record(), &out); err != nil {
		return 0, store.Wrap(Table+".insert", err)
	}
	if len(out) == 0 {
		return 0, store.Wrap(Table+".insert", errors.New("insert returned no row"))
	}
	return out[0].ID, nil
}

func (r *restRepo) GetByID(ctx context.Context, id int64) (*Patient, error) {
	var out []*Patient
	err := r.client.From(Table).
		Eq("id", strconv.FormatInt(id, 10)).
		Limit(1).
		Execute(ctx, &out)
	if err != nil {
		return nil, store.Wrap(Table+".select", err)
	}
	if len(out) == 0 {
		return nil, store.Wrap(Table+".select", store.ErrNotFound)
	}
	return out[0], nil
}

func (r *restRepo) Update(ctx context.Context, id int64, u *Update) error {
	err := r.client.From(Table).
		Eq("id", strconv.FormatInt(id, 10)).
		Update(ctx, u.Fields())
	return store.Wrap(Table+".update", err)
}

func (r *restRepo) Delete(ctx context.Context, id int64) error {
	err := r.client.From(Table).
		Eq("id", strconv.FormatInt(id, 10)).
		Delete(ctx)
	return store.Wrap(Table+".delete", err)
}

func (r *restRepo) SelectByStatus(ctx context.Context, statuses []Status) ([]*Patient, error) {
	if len(statuses) == 0 {
		return nil, store.Wrap(Table+".select", store.ErrEmptyFilter)
	}
	var out []*Patient
	err := r.client.From(Table).
		In("estado", statusStrings(statuses)).
		Order("id", true).
		Execute(ctx, &out)
	if err != nil {
		return nil, store.Wrap(Table+".select", err)
	}
	return out, nil
}

func (r *restRepo) SelectAllExceptStatus(ctx context.Context, status Status) ([]*Patient, error) {
	var out []*Patient
	err := r.client.From(Table).
		Neq("estado", string(status)).
		Order("id", true).
		Execute(ctx, &out)
	if err != nil {
		return nil, store.Wrap(Table+".select", err)
	}
	return out, nil
}
