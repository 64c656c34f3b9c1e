// Package availability computes the bookable start times of one business day.
// Everything here is pure: callers load the data and pass it in.
package availability

import (
	"sort"
	"time"

	"github.com/agendizo/agendizo/services/booking-service/internal/model"
)

type Input struct {
	// WorkingDays falls back to DefaultWorkingDays when empty.
	WorkingDays []model.WorkingDay
	// SlotTimes are the weekday's candidate start times, "HH:mm" or "HH:mm:ss".
	SlotTimes    []string
	Holidays     []model.Holiday
	Appointments []model.Appointment
	Duration     time.Duration
	// Date is read as a calendar day in its own location; the clock part is ignored.
	Date time.Time
	Now  time.Time
	// ExcludeID drops one appointment from conflict checks (edit mode).
	ExcludeID string
	// KeepTime is the currently booked time, listed even if no template matches it.
	KeepTime string
}

// DefaultWorkingDays is Monday to Friday.
func DefaultWorkingDays() []model.WorkingDay {
	days := make([]model.WorkingDay, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		days = append(days, model.WorkingDay{
			DayOfWeek: d,
			IsWorking: d != time.Saturday && d != time.Sunday,
		})
	}
	return days
}

// Compute returns the sorted, deduplicated "HH:mm" start times bookable on
// in.Date. The result is never nil.
func Compute(in Input) []string {
	out := []string{}
	if in.Duration <= 0 {
		return out
	}

	loc := in.Date.Location()
	y, m, d := in.Date.Date()
	weekday := time.Date(y, m, d, 0, 0, 0, 0, loc).Weekday()
	if !isWorkingDay(in.WorkingDays, weekday) || isHoliday(in.Holidays, y, m, d) {
		return out
	}

	ny, nm, nd := in.Now.In(loc).Date()
	today := ny == y && nm == m && nd == d

	listed := make(map[string]struct{}, len(in.SlotTimes))
	for _, raw := range in.SlotTimes {
		clock := NormalizeTime(raw)
		if _, ok := listed[clock]; ok {
			continue
		}
		mins, ok := ClockToMinutes(clock)
		if !ok {
			continue
		}
		start := time.Date(y, m, d, mins/60, mins%60, 0, 0, loc)
		end := start.Add(in.Duration)
		if today && start.Before(in.Now) {
			continue
		}
		if Conflicts(in.Appointments, in.ExcludeID, start, end) {
			continue
		}
		listed[clock] = struct{}{}
		out = append(out, clock)
	}

	if keep := NormalizeTime(in.KeepTime); keep != "" {
		_, valid := ClockToMinutes(keep)
		if _, ok := listed[keep]; valid && !ok {
			out = append(out, keep)
		}
	}

	sort.Strings(out)
	return out
}

// Overlaps is the half-open interval test: [aStart,aEnd) and [bStart,bEnd) share an instant.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// Conflicts reports whether [start,end) overlaps a blocking appointment other than excludeID.
func Conflicts(appts []model.Appointment, excludeID string, start, end time.Time) bool {
	for _, a := range appts {
		if excludeID != "" && a.ID == excludeID {
			continue
		}
		if !a.Status.Blocks() {
			continue
		}
		if Overlaps(a.StartTime, a.EndTime, start, end) {
			return true
		}
	}
	return false
}

func isWorkingDay(days []model.WorkingDay, weekday time.Weekday) bool {
	if len(days) == 0 {
		days = DefaultWorkingDays()
	}
	for _, wd := range days {
		if wd.DayOfWeek == weekday {
			return wd.IsWorking
		}
	}
	return false
}

func isHoliday(holidays []model.Holiday, y int, m time.Month, d int) bool {
	for _, h := range holidays {
		hy, hm, hd := h.Date.Date()
		if hy == y && hm == m && hd == d {
			return true
		}
	}
	return false
}
