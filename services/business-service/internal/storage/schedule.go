package storage

import (
	"context"
	"time"

	"github.com/agendizo/agendizo/libs/outbox"
	"github.com/jackc/pgx/v5"
)

const EventScheduleChanged = "business.schedule.changed.v1"

type WorkingDay struct {
	DayOfWeek int  `json:"day_of_week"`
	IsWorking bool `json:"is_working"`
}

type TimeSlot struct {
	ID        string `json:"id"`
	DayOfWeek int    `json:"day_of_week"`
	Time      string `json:"time"`
}

type OpeningHours struct {
	DayOfWeek   int    `json:"day_of_week"`
	Open        string `json:"open"`
	Close       string `json:"close"`
	LunchStart  string `json:"lunch_start,omitempty"`
	LunchEnd    string `json:"lunch_end,omitempty"`
	StepMinutes int    `json:"step_minutes,omitempty"`
}

type Holiday struct {
	ID   string    `json:"id"`
	Date time.Time `json:"date"`
	Name string    `json:"name"`
}

// scheduleChanged lets booking-service drop its cached copy of the business schedule.
func (r *Repository) scheduleChanged(ctx context.Context, tx pgx.Tx, businessID, section string) error {
	evt, err := outbox.NewEvent("business", businessID, EventScheduleChanged, map[string]string{
		"business_id": businessID,
		"section":     section,
	})
	if err != nil {
		return err
	}
	return r.events.Insert(ctx, tx, evt)
}

func (r *Repository) ListWorkingDays(ctx context.Context, businessID string) ([]WorkingDay, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT day_of_week, is_working_day
		FROM working_days
		WHERE business_id = $1
		ORDER BY day_of_week
	`, businessID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (WorkingDay, error) {
		var d WorkingDay
		err := row.Scan(&d.DayOfWeek, &d.IsWorking)
		return d, err
	})
}

// ReplaceWorkingDays swaps the whole week in one transaction.
func (r *Repository) ReplaceWorkingDays(ctx context.Context, businessID string, days []WorkingDay) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM working_days WHERE business_id = $1`, businessID); err != nil {
			return err
		}
		for _, d := range days {
			if _, err := tx.Exec(ctx, `
				INSERT INTO working_days (business_id, day_of_week, is_working_day)
				VALUES ($1, $2, $3)
			`, businessID, d.DayOfWeek, d.IsWorking); err != nil {
				return err
			}
		}
		return r.scheduleChanged(ctx, tx, businessID, "working_days")
	})
}

func (r *Repository) ListTimeSlots(ctx context.Context, businessID string) ([]TimeSlot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, day_of_week, to_char("time", 'HH24:MI')
		FROM time_slots
		WHERE business_id = $1
		ORDER BY day_of_week, "time"
	`, businessID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimeSlot, error) {
		var s TimeSlot
		err := row.Scan(&s.ID, &s.DayOfWeek, &s.Time)
		return s, err
	})
}

// AddTimeSlot fails with a unique violation when the weekday already has that time.
func (r *Repository) AddTimeSlot(ctx context.Context, businessID string, slot TimeSlot) (string, error) {
	var id string
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO time_slots (business_id, day_of_week, "time")
			VALUES ($1, $2, $3::time)
			RETURNING id::text
		`, businessID, slot.DayOfWeek, slot.Time).Scan(&id)
		if err != nil {
			return err
		}
		return r.scheduleChanged(ctx, tx, businessID, "time_slots")
	})
	return id, err
}

func (r *Repository) DeleteTimeSlot(ctx context.Context, businessID, slotID string) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		err := affected(tx.Exec(ctx, `
			DELETE FROM time_slots WHERE id = $1 AND business_id = $2
		`, slotID, businessID))
		if err != nil {
			return err
		}
		return r.scheduleChanged(ctx, tx, businessID, "time_slots")
	})
}

func (r *Repository) ListOpeningHours(ctx context.Context, businessID string) ([]OpeningHours, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT day_of_week,
			to_char(open_time, 'HH24:MI'),
			to_char(close_time, 'HH24:MI'),
			COALESCE(to_char(lunch_start, 'HH24:MI'), ''),
			COALESCE(to_char(lunch_end, 'HH24:MI'), ''),
			step_minutes
		FROM opening_hours
		WHERE business_id = $1
		ORDER BY day_of_week
	`, businessID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (OpeningHours, error) {
		var h OpeningHours
		err := row.Scan(&h.DayOfWeek, &h.Open, &h.Close, &h.LunchStart, &h.LunchEnd, &h.StepMinutes)
		return h, err
	})
}

func (r *Repository) UpsertOpeningHours(ctx context.Context, businessID string, h OpeningHours) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO opening_hours (business_id, day_of_week, open_time, close_time, lunch_start, lunch_end, step_minutes)
			VALUES ($1, $2, $3::time, $4::time, NULLIF($5, '')::time, NULLIF($6, '')::time, $7)
			ON CONFLICT (business_id, day_of_week) DO UPDATE
			SET open_time = EXCLUDED.open_time,
				close_time = EXCLUDED.close_time,
				lunch_start = EXCLUDED.lunch_start,
				lunch_end = EXCLUDED.lunch_end,
				step_minutes = EXCLUDED.step_minutes
		`, businessID, h.DayOfWeek, h.Open, h.Close, h.LunchStart, h.LunchEnd, h.StepMinutes)
		if err != nil {
			return err
		}
		return r.scheduleChanged(ctx, tx, businessID, "opening_hours")
	})
}

func (r *Repository) DeleteOpeningHours(ctx context.Context, businessID string, dayOfWeek int) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		err := affected(tx.Exec(ctx, `
			DELETE FROM opening_hours WHERE business_id = $1 AND day_of_week = $2
		`, businessID, dayOfWeek))
		if err != nil {
			return err
		}
		return r.scheduleChanged(ctx, tx, businessID, "opening_hours")
	})
}

func (r *Repository) ListHolidays(ctx context.Context, businessID string, from time.Time) ([]Holiday, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, date, COALESCE(name, '')
		FROM holidays
		WHERE business_id = $1 AND date >= $2::date
		ORDER BY date
	`, businessID, from)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Holiday, error) {
		var h Holiday
		err := row.Scan(&h.ID, &h.Date, &h.Name)
		return h, err
	})
}

func (r *Repository) AddHoliday(ctx context.Context, businessID string, h Holiday) (string, error) {
	var id string
	err := r.pool.InTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO holidays (business_id, date, name)
			VALUES ($1, $2::date, $3)
			RETURNING id::text
		`, businessID, h.Date, h.Name).Scan(&id)
		if err != nil {
			return err
		}
		return r.scheduleChanged(ctx, tx, businessID, "holidays")
	})
	return id, err
}

func (r *Repository) DeleteHoliday(ctx context.Context, businessID, holidayID string) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		err := affected(tx.Exec(ctx, `
			DELETE FROM holidays WHERE id = $1 AND business_id = $2
		`, holidayID, businessID))
		if err != nil {
			return err
		}
		return r.scheduleChanged(ctx, tx, businessID, "holidays")
	})
}
