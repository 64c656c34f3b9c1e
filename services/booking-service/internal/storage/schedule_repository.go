package storage

import (
	"context"
	"time"

	"github.com/agendizo/agendizo/libs/db"
	"github.com/agendizo/agendizo/services/booking-service/internal/model"
	"github.com/jackc/pgx/v5"
)

// ScheduleRepository reads the settings that business-service owns.
type ScheduleRepository struct {
	pool *db.Pool
}

func NewScheduleRepository(pool *db.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

const businessColumns = `id::text, COALESCE(owner_id::text, ''), name, slug, COALESCE(timezone, 'UTC')`

func scanBusiness(row pgx.Row) (model.Business, error) {
	var b model.Business
	err := row.Scan(&b.ID, &b.OwnerID, &b.Name, &b.Slug, &b.Timezone)
	return b, err
}

func (r *ScheduleRepository) GetBusiness(ctx context.Context, businessID string) (model.Business, error) {
	return scanBusiness(r.pool.QueryRow(ctx, `SELECT `+businessColumns+` FROM businesses WHERE id = $1`, businessID))
}

func (r *ScheduleRepository) GetBusinessBySlug(ctx context.Context, slug string) (model.Business, error) {
	return scanBusiness(r.pool.QueryRow(ctx, `SELECT `+businessColumns+` FROM businesses WHERE slug = $1`, slug))
}

// LoadSchedule reads working days, time slots, opening hours and holidays of one business.
func (r *ScheduleRepository) LoadSchedule(ctx context.Context, businessID string) (model.Schedule, error) {
	biz, err := r.GetBusiness(ctx, businessID)
	if err != nil {
		return model.Schedule{}, err
	}
	sched := model.Schedule{Business: biz}

	rows, err := r.pool.Query(ctx, `
		SELECT day_of_week, is_working_day
		FROM working_days
		WHERE business_id = $1
		ORDER BY day_of_week
	`, businessID)
	if err != nil {
		return model.Schedule{}, err
	}
	sched.WorkingDays, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.WorkingDay, error) {
		var wd model.WorkingDay
		var dow int
		err := row.Scan(&dow, &wd.IsWorking)
		wd.DayOfWeek = time.Weekday(dow)
		return wd, err
	})
	if err != nil {
		return model.Schedule{}, err
	}

	rows, err = r.pool.Query(ctx, `
		SELECT day_of_week, to_char("time", 'HH24:MI')
		FROM time_slots
		WHERE business_id = $1
		ORDER BY day_of_week, "time"
	`, businessID)
	if err != nil {
		return model.Schedule{}, err
	}
	sched.TimeSlots, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.TimeSlot, error) {
		var ts model.TimeSlot
		var dow int
		err := row.Scan(&dow, &ts.Time)
		ts.DayOfWeek = time.Weekday(dow)
		return ts, err
	})
	if err != nil {
		return model.Schedule{}, err
	}

	rows, err = r.pool.Query(ctx, `
		SELECT day_of_week, open_time::text, close_time::text,
			COALESCE(lunch_start::text, ''), COALESCE(lunch_end::text, ''), step_minutes
		FROM opening_hours
		WHERE business_id = $1
		ORDER BY day_of_week
	`, businessID)
	if err != nil {
		return model.Schedule{}, err
	}
	sched.OpeningHours, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.OpeningHours, error) {
		var oh model.OpeningHours
		var dow int
		err := row.Scan(&dow, &oh.Open, &oh.Close, &oh.LunchStart, &oh.LunchEnd, &oh.StepMinutes)
		oh.DayOfWeek = time.Weekday(dow)
		return oh, err
	})
	if err != nil {
		return model.Schedule{}, err
	}

	rows, err = r.pool.Query(ctx, `
		SELECT date, name
		FROM holidays
		WHERE business_id = $1
		ORDER BY date
	`, businessID)
	if err != nil {
		return model.Schedule{}, err
	}
	sched.Holidays, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Holiday, error) {
		var h model.Holiday
		err := row.Scan(&h.Date, &h.Name)
		return h, err
	})
	if err != nil {
		return model.Schedule{}, err
	}
	return sched, nil
}

func (r *ScheduleRepository) GetService(ctx context.Context, businessID, serviceID string) (model.Service, error) {
	var s model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, business_id::text, name, duration_minutes, price_cents, active
		FROM services
		WHERE id = $1 AND business_id = $2
	`, serviceID, businessID).Scan(&s.ID, &s.BusinessID, &s.Name, &s.DurationMinutes, &s.PriceCents, &s.Active)
	return s, err
}

func (r *ScheduleRepository) ListActiveServices(ctx context.Context, businessID string) ([]model.Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, business_id::text, name, duration_minutes, price_cents, active
		FROM services
		WHERE business_id = $1 AND active
		ORDER BY name
	`, businessID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Service, error) {
		var s model.Service
		err := row.Scan(&s.ID, &s.BusinessID, &s.Name, &s.DurationMinutes, &s.PriceCents, &s.Active)
		return s, err
	})
}
