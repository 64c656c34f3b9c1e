// Package slots loads everything the availability calculator needs and runs it.
package slots

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	otelx "github.com/agendizo/agendizo/libs/otel"
	"github.com/agendizo/agendizo/services/booking-service/internal/availability"
	"github.com/agendizo/agendizo/services/booking-service/internal/metrics"
	"github.com/agendizo/agendizo/services/booking-service/internal/model"
	"github.com/agendizo/agendizo/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrServiceNotFound  = errors.New("service not found")
	ErrBusinessNotFound = errors.New("business not found")
	ErrInvalidDate      = errors.New("date must be YYYY-MM-DD")
	ErrSlotUnavailable  = errors.New("requested time is not available")
	// ErrFetch wraps any failure to read schedule, service or appointments.
	ErrFetch = errors.New("availability data unavailable")
)

const dateLayout = "2006-01-02"

type ServiceReader interface {
	GetService(ctx context.Context, businessID, serviceID string) (model.Service, error)
}

type AppointmentReader interface {
	ListBlocking(ctx context.Context, businessID string, from, to time.Time, excludeID string) ([]model.Appointment, error)
}

type Query struct {
	BusinessID string
	ServiceID  string
	// Date is a calendar day, YYYY-MM-DD, in the business timezone.
	Date string
	// ExcludeID and KeepTime are set when editing an existing appointment.
	ExcludeID string
	KeepTime  string
	// KeepStart is the edited appointment's current start. It stands in for
	// KeepTime when Date is the day it falls on.
	KeepStart time.Time
}

// Slot is a resolved booking interval.
type Slot struct {
	Start   time.Time
	End     time.Time
	Service model.Service
}

type Service struct {
	schedules    ScheduleLoader
	services     ServiceReader
	appointments AppointmentReader
	now          func() time.Time
}

func NewService(schedules ScheduleLoader, services ServiceReader, appointments AppointmentReader) *Service {
	return &Service{
		schedules:    schedules,
		services:     services,
		appointments: appointments,
		now:          time.Now,
	}
}

type prepared struct {
	input   availability.Input
	service model.Service
}

// Available returns the bookable "HH:mm" start times for q. On error the
// returned list is empty, never partial.
func (s *Service) Available(ctx context.Context, q Query) ([]string, error) {
	ctx, span := otelx.StartSpan(ctx, "booking-service", "slots.available")
	span.SetAttributes(attribute.String("business_id", q.BusinessID), attribute.String("date", q.Date))
	defer span.End()

	started := time.Now()
	p, err := s.prepare(ctx, q)
	if err != nil {
		metrics.ObserveAvailability(outcome(err), started)
		return []string{}, err
	}
	out := availability.Compute(p.input)
	metrics.ObserveAvailability("ok", started)
	return out, nil
}

// Check resolves clock on q.Date and verifies it is currently available.
// In edit mode (ExcludeID set) the kept time only has to be free of
// conflicts: it stays valid after its template is removed or its start has passed.
func (s *Service) Check(ctx context.Context, q Query, clock string) (Slot, error) {
	clock = availability.NormalizeTime(strings.TrimSpace(clock))
	mins, ok := availability.ClockToMinutes(clock)
	if !ok {
		return Slot{}, ErrSlotUnavailable
	}
	p, err := s.prepare(ctx, q)
	if err != nil {
		return Slot{}, err
	}
	y, m, d := p.input.Date.Date()
	start := time.Date(y, m, d, mins/60, mins%60, 0, 0, p.input.Date.Location())
	end := start.Add(p.service.Duration())

	if p.input.ExcludeID != "" && availability.NormalizeTime(p.input.KeepTime) == clock {
		if availability.Conflicts(p.input.Appointments, p.input.ExcludeID, start, end) {
			return Slot{}, ErrSlotUnavailable
		}
		return Slot{Start: start, End: end, Service: p.service}, nil
	}

	found := false
	for _, t := range availability.Compute(p.input) {
		if t == clock {
			found = true
			break
		}
	}
	if !found {
		return Slot{}, ErrSlotUnavailable
	}
	return Slot{Start: start, End: end, Service: p.service}, nil
}

func (s *Service) prepare(ctx context.Context, q Query) (prepared, error) {
	sched, err := s.schedules.LoadSchedule(ctx, q.BusinessID)
	if err != nil {
		if storage.IsNotFound(err) {
			return prepared{}, ErrBusinessNotFound
		}
		return prepared{}, fmt.Errorf("%w: load schedule: %w", ErrFetch, err)
	}
	loc := sched.Business.Location()
	day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(q.Date), loc)
	if err != nil {
		return prepared{}, ErrInvalidDate
	}

	svc, err := s.services.GetService(ctx, q.BusinessID, q.ServiceID)
	if err != nil {
		if storage.IsNotFound(err) {
			return prepared{}, ErrServiceNotFound
		}
		return prepared{}, fmt.Errorf("%w: load service: %w", ErrFetch, err)
	}
	if !svc.Active || svc.DurationMinutes <= 0 {
		return prepared{}, ErrServiceNotFound
	}
	duration := svc.Duration()

	keep := q.KeepTime
	if keep == "" && !q.KeepStart.IsZero() {
		ks := q.KeepStart.In(loc)
		if ky, km, kd := ks.Date(); ky == day.Year() && km == day.Month() && kd == day.Day() {
			keep = ks.Format("15:04")
		}
	}

	// Fetch one duration past midnight so late slots see next-day bookings.
	dayEnd := day.AddDate(0, 0, 1)
	appts, err := s.appointments.ListBlocking(ctx, q.BusinessID, day, dayEnd.Add(duration), q.ExcludeID)
	if err != nil {
		return prepared{}, fmt.Errorf("%w: load appointments: %w", ErrFetch, err)
	}

	return prepared{
		service: svc,
		input: availability.Input{
			WorkingDays:  sched.WorkingDays,
			SlotTimes:    availability.TemplateTimes(sched.TimeSlots, sched.OpeningHours, day.Weekday(), duration),
			Holidays:     sched.Holidays,
			Appointments: appts,
			Duration:     duration,
			Date:         day,
			Now:          s.now(),
			ExcludeID:    q.ExcludeID,
			KeepTime:     keep,
		},
	}, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrFetch):
		return "fetch_error"
	case errors.Is(err, ErrServiceNotFound), errors.Is(err, ErrBusinessNotFound):
		return "not_found"
	default:
		return "invalid"
	}
}
