package audit

import (
	"context"
	"time"
)

// Repository stores the last-edit singleton. Failures are *store.Error.
type Repository interface {
	// UpsertLastEdit creates or overwrites the row with id 1.
	UpsertLastEdit(ctx context.Context, userName string, at time.Time) error
	// GetLastEdit returns nil, nil when no edit has been recorded.
	GetLastEdit(ctx context.Context) (*LastEdit, error)
}
