package availability

import (
	"time"

	"github.com/agendizo/agendizo/services/booking-service/internal/model"
)

// TemplateTimes returns the candidate start times for weekday. Explicit
// TimeSlot rows win; opening hours are only used when the day has none.
func TemplateTimes(slots []model.TimeSlot, hours []model.OpeningHours, weekday time.Weekday, duration time.Duration) []string {
	var out []string
	for _, s := range slots {
		if s.DayOfWeek == weekday {
			out = append(out, s.Time)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, h := range hours {
		if h.DayOfWeek == weekday {
			out = append(out, SlotsFromHours(h, duration)...)
		}
	}
	return out
}

// SlotsFromHours walks from open to close in StepMinutes increments (the
// service duration when unset). A start is kept only if start+duration <= close
// and the booking does not overlap the lunch break.
func SlotsFromHours(h model.OpeningHours, duration time.Duration) []string {
	dur := int(duration / time.Minute)
	if dur <= 0 {
		return nil
	}
	open, ok := ClockToMinutes(h.Open)
	if !ok {
		return nil
	}
	closing, ok := ClockToMinutes(h.Close)
	if !ok || closing <= open {
		return nil
	}
	step := h.StepMinutes
	if step <= 0 {
		step = dur
	}

	lunchStart, hasStart := ClockToMinutes(h.LunchStart)
	lunchEnd, hasEnd := ClockToMinutes(h.LunchEnd)
	hasLunch := hasStart && hasEnd && lunchEnd > lunchStart

	var out []string
	for t := open; t+dur <= closing; t += step {
		if hasLunch && t < lunchEnd && t+dur > lunchStart {
			continue
		}
		out = append(out, MinutesToClock(t))
	}
	return out
}
