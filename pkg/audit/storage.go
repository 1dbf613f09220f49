package audit

import (
	"context"
	"time"
)

// Storage persists audit events. Implementations must be append-only.
type Storage interface {
	Store(ctx context.Context, events ...Event) error
	Query(ctx context.Context, criteria Criteria) ([]Event, error)
}

// StorageCounter is implemented by storages that can count without loading events.
type StorageCounter interface {
	Count(ctx context.Context, criteria Criteria) (int64, error)
}

// Criteria filters audit events. Zero fields match everything.
// Results are ordered by CreatedAt ascending.
type Criteria struct {
	TenantID   string
	EntityType string
	EntityID   string
	Action     string
	Source     Source
	Result     Result
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
	Offset     int
}

// Matches reports whether e satisfies the criteria, ignoring paging.
func (c Criteria) Matches(e Event) bool {
	switch {
	case c.TenantID != "" && e.TenantID != c.TenantID:
		return false
	case c.EntityType != "" && e.EntityType != c.EntityType:
		return false
	case c.EntityID != "" && e.EntityID != c.EntityID:
		return false
	case c.Action != "" && e.Action != c.Action:
		return false
	case c.Source != "" && e.Source != c.Source:
		return false
	case c.Result != "" && e.Result != c.Result:
		return false
	case !c.StartTime.IsZero() && e.CreatedAt.Before(c.StartTime):
		return false
	case !c.EndTime.IsZero() && !e.CreatedAt.Before(c.EndTime):
		return false
	}
	return true
}
