package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agendizo/agendizo/libs/httpx"
	"github.com/agendizo/agendizo/services/business-service/internal/storage"
)

// parseClock accepts 15:04 or 15:04:05 and returns 15:04.
func parseClock(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("15:04"), true
		}
	}
	return "", false
}

func validDay(d int) bool { return d >= 0 && d <= 6 }

// defaultWorkingDays is what the calculator assumes for a business with no rows.
func defaultWorkingDays() []storage.WorkingDay {
	days := make([]storage.WorkingDay, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		days = append(days, storage.WorkingDay{
			DayOfWeek: int(d),
			IsWorking: d != time.Saturday && d != time.Sunday,
		})
	}
	return days
}

func (h *Handler) ListWorkingDays(w http.ResponseWriter, r *http.Request) {
	bid, ok := businessID(w, r)
	if !ok {
		return
	}
	days, err := h.store.ListWorkingDays(r.Context(), bid)
	if err != nil {
		h.fail(w, r, "list working days", err)
		return
	}
	if len(days) == 0 {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": defaultWorkingDays(), "default": true})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": days, "default": false})
}

func (h *Handler) ReplaceWorkingDays(w http.ResponseWriter, r *http.Request) {
	bid, ok := businessID(w, r)
	if !ok {
		return
	}
	var req struct {
		Days []storage.WorkingDay `json:"days"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	seen := map[int]bool{}
	for _, d := range req.Days {
		if !validDay(d.DayOfWeek) {
			httpx.WriteError(w, http.StatusBadRequest, "day_of_week must be 0 (Sunday) to 6 (Saturday)")
			return
		}
		if seen[d.DayOfWeek] {
			httpx.WriteError(w, http.StatusBadRequest, "duplicate day_of_week "+strconv.Itoa(d.DayOfWeek))
			return
		}
		seen[d.DayOfWeek] = true
	}
	if err := h.store.ReplaceWorkingDays(r.Context(), bid, req.Days); err != nil {
		h.fail(w, r, "replace working days", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListTimeSlots(w http.ResponseWriter, r *http.Request) {
	bid, ok := businessID(w, r)
	if !ok {
		return
	}
	items, err := h.store.ListTimeSlots(r.Context(), bid)
	if err != nil {
		h.fail(w, r, "list time slots", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) AddTimeSlot(w http.ResponseWriter, r *http.Request) {
	bid, ok := businessID(w, r)
	if !ok {
		return
	}
	var req storage.TimeSlot
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if !validDay(req.DayOfWeek) {
		httpx.WriteError(w, http.StatusBadRequest, "day_of_week must be 0 (Sunday) to 6 (Saturday)")
		return
	}
	clock, ok := parseClock(req.Time)
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "time must be HH:mm")
		return
	}
	req.Time = clock

	id, err := h.store.AddTimeSlot(r.Context(), bid, req)
	if err != nil {
		if storage.IsDuplicate(err) {
			httpx.WriteError(w, http.StatusConflict, "time slot already exists")
			return
		}
		h.fail(w, r, "add time slot", err)
		return
	}
	req.ID = id
	httpx.WriteJSON(w, http.StatusCreated, req)
}

func (h *Handler) DeleteTimeSlot(w http.ResponseWriter, r *http.Request) {
	bid, ok := businessID(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		httpx.WriteError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := h.store.DeleteTimeSlot(r.Context(), bid, id); err != nil {
		h.fail(w, r, "delete time slot", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListOpeningHours(w http.ResponseWriter, r *http.Request) {
	bid, ok := businessID(w, r)
	if !ok {
		return
	}
	items, err := h.store.ListOpeningHours(r.Context(), bid)
	if err != nil {
		h.fail(w, r, "list opening hours", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func normalizeOpeningHours(in storage.OpeningHours) (storage.OpeningHours, error) {
	out := storage.OpeningHours{DayOfWeek: in.DayOfWeek, StepMinutes: in.StepMinutes}
	if !validDay(in.DayOfWeek) {
		return out, errors.New("day_of_week must be 0 (Sunday) to 6 (Saturday)")
	}
	var ok bool
	if out.Open, ok = parseClock(in.Open); !ok {
		return out, errors.New("open must be HH:mm")
	}
	if out.Close, ok = parseClock(in.Close); !ok {
		return out, errors.New("close must be HH:mm")
	}
	if out.Open >= out.Close {
		return out, errors.New("open must be before close")
	}
	if in.LunchStart != "" || in.LunchEnd != "" {
		if out.LunchStart, ok = parseClock(in.LunchStart); !ok {
			return out, errors.New("lunch_start must be HH:mm")
		}
		if out.LunchEnd, ok = parseClock(in.LunchEnd); !ok {
			return out, errors.New("lunch_end must be HH:mm")
		}
		if out.LunchStart >= out.LunchEnd || out.LunchStart < out.Open || out.LunchEnd > out.Close {
			return out, errors.New("lunch break must lie within opening hours")
		}
	}
	if in.StepMinutes < 0 || in.StepMinutes > 24*60 {
		return out, errors.New("step_minutes must be between 0 and 1440")
	}
	return out, nil
}

func (h *Handler) UpsertOpeningHours(w http.ResponseWriter, r *http.Request) {
	bid, ok := businessID(w, r)
	if !ok {
		return
	}
	var req storage.OpeningHours
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	oh, err := normalizeOpeningHours(req)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.UpsertOpeningHours(r.Context(), bid, oh); err != nil {
		h.fail(w, r, "upsert opening hours", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, oh)
}

func (h *Handler) DeleteOpeningHours(w http.ResponseWriter, r *http.Request) {
	bid, ok := businessID(w, r)
	if !ok {
		return
	}
	day, err := strconv.Atoi(r.URL.Query().Get("day_of_week"))
	if err != nil || !validDay(day) {
		httpx.WriteError(w, http.StatusBadRequest, "day_of_week must be 0 (Sunday) to 6 (Saturday)")
		return
	}
	if err := h.store.DeleteOpeningHours(r.Context(), bid, day); err != nil {
		h.fail(w, r, "delete opening hours", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListHolidays returns holidays from ?from=YYYY-MM-DD, today by default.
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	bid, ok := businessID(w, r)
	if !ok {
		return
	}
	from := h.now().UTC().Truncate(24 * time.Hour)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
		from = parsed
	}
	items, err := h.store.ListHolidays(r.Context(), bid, from)
	if err != nil {
		h.fail(w, r, "list holidays", err)
		return
	}
	out := make([]map[string]string, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]string{"id": it.ID, "date": it.Date.Format(time.DateOnly), "name": it.Name})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) AddHoliday(w http.ResponseWriter, r *http.Request) {
	bid, ok := businessID(w, r)
	if !ok {
		return
	}
	var req struct {
		Date string `json:"date"`
		Name string `json:"name"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	date, err := time.Parse(time.DateOnly, strings.TrimSpace(req.Date))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	id, err := h.store.AddHoliday(r.Context(), bid, storage.Holiday{Date: date, Name: strings.TrimSpace(req.Name)})
	if err != nil {
		if storage.IsDuplicate(err) {
			httpx.WriteError(w, http.StatusConflict, "holiday already exists for that date")
			return
		}
		h.fail(w, r, "add holiday", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]string{"id": id, "date": date.Format(time.DateOnly), "name": strings.TrimSpace(req.Name)})
}

func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	bid, ok := businessID(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		httpx.WriteError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := h.store.DeleteHoliday(r.Context(), bid, id); err != nil {
		h.fail(w, r, "delete holiday", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
