package slots

import (
	"context"
	"time"

	"github.com/agendizo/agendizo/services/booking-service/internal/metrics"
	"github.com/agendizo/agendizo/services/booking-service/internal/model"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type ScheduleLoader interface {
	LoadSchedule(ctx context.Context, businessID string) (model.Schedule, error)
}

// ScheduleCache is a read-through cache in front of a ScheduleLoader.
// Errors are never cached. Appointments are not part of a Schedule and so are
// always read fresh.
type ScheduleCache struct {
	next  ScheduleLoader
	cache *expirable.LRU[string, model.Schedule]
}

// NewScheduleCache returns next unchanged when size is not positive.
func NewScheduleCache(next ScheduleLoader, size int, ttl time.Duration) ScheduleLoader {
	if size <= 0 {
		return next
	}
	return &ScheduleCache{
		next:  next,
		cache: expirable.NewLRU[string, model.Schedule](size, nil, ttl),
	}
}

func (c *ScheduleCache) LoadSchedule(ctx context.Context, businessID string) (model.Schedule, error) {
	if sched, ok := c.cache.Get(businessID); ok {
		metrics.IncScheduleCache("hit")
		return sched, nil
	}
	metrics.IncScheduleCache("miss")
	sched, err := c.next.LoadSchedule(ctx, businessID)
	if err != nil {
		return model.Schedule{}, err
	}
	c.cache.Add(businessID, sched)
	return sched, nil
}

// Invalidate drops one business after its settings changed.
func (c *ScheduleCache) Invalidate(businessID string) {
	if c.cache.Remove(businessID) {
		metrics.IncScheduleCache("invalidated")
	}
}
