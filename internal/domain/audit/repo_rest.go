package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/vxs/registro/internal/platform/postgrest"
	"github.com/vxs/registro/internal/platform/store"
)

type restRepo struct {
	client *postgrest.Client
}

func NewRESTRepo(client *postgrest.Client) Repository {
	return &restRepo{client: client}
}

func (r *restRepo) UpsertLastEdit(ctx context.Context, userName string, at time.Time) error {
	err := r.client.From(Table).Upsert(ctx, LastEdit{
		ID:        singletonID,
		UserName:  userName,
		Timestamp: at.Format(time.RFC3339),
	})
	return store.Wrap(Table+".upsert", err)
}

func (r *restRepo) GetLastEdit(ctx context.Context) (*LastEdit, error) {
	var out []LastEdit
	err := r.client.From(Table).
		Select("id,user_name,timestamp").
		Eq("id", strconv.Itoa(singletonID)).
		Limit(1).
		Execute(ctx, &out)
	if err != nil {
		return nil, store.Wrap(Table+".select", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}
