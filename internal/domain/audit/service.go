package audit

import (
	"context"
	"strings"
	"time"
)

// DisplayLayout is how the footer shows the timestamp.
const DisplayLayout = "02/01/2006 15:04"

// timestamps carry an offset when written by this service, but rows written
// by other clients may hold a bare local ISO datetime.
var offsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
}

type Service struct {
	repo Repository
	loc  *time.Location
}

// NewService returns a Service that displays timestamps in loc.
func NewService(repo Repository, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{repo: repo, loc: loc}
}

// Record overwrites the last-edit row with userName and at.
func (s *Service) Record(ctx context.Context, userName string, at time.Time) error {
	return s.repo.UpsertLastEdit(ctx, userName, at)
}

// Last returns the footer for the recorded edit, or the placeholder when
// there is none.
func (s *Service) Last(ctx context.Context) (*View, error) {
	le, err := s.repo.GetLastEdit(ctx)
	if err != nil {
		return nil, err
	}
	if le == nil || le.UserName == "" || le.Timestamp == "" {
		return &View{Text: Placeholder}, nil
	}
	formatted := FormatTimestamp(le.Timestamp, s.loc)
	return &View{
		UserName:  le.UserName,
		Timestamp: le.Timestamp,
		Formatted: formatted,
		Text:      "Última edición por " + le.UserName + " el " + formatted,
	}, nil
}

// FormatTimestamp renders raw in DisplayLayout, converted to loc when raw
// carries an offset. Unparseable input is returned unchanged.
func FormatTimestamp(raw string, loc *time.Location) string {
	s := strings.TrimSpace(raw)
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.In(loc).Format(DisplayLayout)
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.Format(DisplayLayout)
		}
	}
	return raw
}
