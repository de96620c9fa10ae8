package patient

import (
	"context"
)

// Repository is the patient table. Every failure is a *store.Error; a
// missing single row is store.ErrNotFound.
type Repository interface {
	Insert(ctx context.Context, p *Patient) (int64, error)
	GetByID(ctx context.Context, id int64) (*Patient, error)
	// Update writes only the supplied fields. Matching no row is not an
	// error.
	Update(ctx context.Context, id int64, u *Update) error
	// Delete removes the row. A nonexistent id is not an error.
	Delete(ctx context.Context, id int64) error
	// SelectByStatus requires a non-empty status set.
	SelectByStatus(ctx context.Context, statuses []Status) ([]*Patient, error)
	SelectAllExceptStatus(ctx context.Context, status Status) ([]*Patient, error)
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
