package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agendizo/agendizo/libs/auth"
	"github.com/agendizo/agendizo/libs/httpx"
	"github.com/agendizo/agendizo/services/booking-service/internal/booking"
	"github.com/agendizo/agendizo/services/booking-service/internal/model"
	"github.com/agendizo/agendizo/services/booking-service/internal/slots"
)

type AppointmentLister interface {
	ListByBusiness(ctx context.Context, businessID string, from, to time.Time, limit int) ([]model.Appointment, error)
}

// AppointmentsHandler serves the owner dashboard. Every route expects
// auth.RequireAuth to have set the business header.
type AppointmentsHandler struct {
	lister AppointmentLister
	slots  SlotFinder
	booker Booker
	logger *slog.Logger
	now    func() time.Time
}

func NewAppointmentsHandler(lister AppointmentLister, finder SlotFinder, booker Booker, logger *slog.Logger) *AppointmentsHandler {
	return &AppointmentsHandler{lister: lister, slots: finder, booker: booker, logger: logger, now: time.Now}
}

type appointmentItem struct {
	ID          string `json:"id"`
	ClientID    string `json:"client_id"`
	ClientName  string `json:"client_name,omitempty"`
	ServiceID   string `json:"service_id"`
	ServiceName string `json:"service_name,omitempty"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Status      string `json:"status"`
	Notes       string `json:"notes,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

func toItem(a model.Appointment) appointmentItem {
	item := appointmentItem{
		ID:          a.ID,
		ClientID:    a.ClientID,
		ClientName:  a.ClientName,
		ServiceID:   a.ServiceID,
		ServiceName: a.ServiceName,
		StartTime:   a.StartTime.UTC().Format(time.RFC3339),
		EndTime:     a.EndTime.UTC().Format(time.RFC3339),
		Status:      string(a.Status),
		Notes:       a.Notes,
	}
	if !a.CreatedAt.IsZero() {
		item.CreatedAt = a.CreatedAt.UTC().Format(time.RFC3339)
	}
	return item
}

// List accepts from/to as YYYY-MM-DD (to is exclusive). The default window
// is the last 30 days through the next 90.
func (h *AppointmentsHandler) List(w http.ResponseWriter, r *http.Request) {
	businessID := auth.BusinessID(r)
	q := r.URL.Query()

	today := h.now().UTC().Truncate(24 * time.Hour)
	from, to := today.AddDate(0, 0, -30), today.AddDate(0, 0, 90)
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return
		}
		from = d
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "invalid to", http.StatusBadRequest)
			return
		}
		to = d
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	appts, err := h.lister.ListByBusiness(r.Context(), businessID, from, to, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		items = append(items, toItem(a))
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}

// Slots is the dashboard variant of availability. With exclude_id the
// appointment being edited does not block its own time, and keep_time stays listed.
func (h *AppointmentsHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	query := slots.Query{
		BusinessID: auth.BusinessID(r),
		ServiceID:  strings.TrimSpace(q.Get("service_id")),
		Date:       strings.TrimSpace(q.Get("date")),
		ExcludeID:  strings.TrimSpace(q.Get("exclude_id")),
		KeepTime:   strings.TrimSpace(q.Get("keep_time")),
	}
	if query.ServiceID == "" || query.Date == "" {
		http.Error(w, "service_id and date are required", http.StatusBadRequest)
		return
	}
	out, err := h.slots.Available(r.Context(), query)
	writeSlots(w, r, h.logger, out, err)
}

type createAppointmentRequest struct {
	ClientID    string `json:"client_id"`
	ClientName  string `json:"client_name"`
	ClientEmail string `json:"client_email"`
	ClientPhone string `json:"client_phone"`
	ServiceID   string `json:"service_id"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Status      string `json:"status"`
	Notes       string `json:"notes"`
}

func (h *AppointmentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	booked, err := h.booker.Book(r.Context(), booking.BookRequest{
		BusinessID:     auth.BusinessID(r),
		ServiceID:      req.ServiceID,
		Date:           req.Date,
		Time:           req.Time,
		ClientID:       req.ClientID,
		Client:         model.Client{Name: req.ClientName, Email: req.ClientEmail, Phone: req.ClientPhone},
		Status:         model.Status(strings.TrimSpace(req.Status)),
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeBooked(w, booked)
}

type rescheduleRequest struct {
	AppointmentID string `json:"appointment_id"`
	ServiceID     string `json:"service_id"`
	Date          string `json:"date"`
	Time          string `json:"time"`
}

func (h *AppointmentsHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req rescheduleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	appt, err := h.booker.Reschedule(r.Context(), booking.RescheduleRequest{
		BusinessID:    auth.BusinessID(r),
		AppointmentID: req.AppointmentID,
		ServiceID:     req.ServiceID,
		Date:          req.Date,
		Time:          req.Time,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toItem(appt))
}

type statusRequest struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
}

func (h *AppointmentsHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}
	appt, err := h.booker.SetStatus(r.Context(), auth.BusinessID(r), req.AppointmentID, model.Status(strings.TrimSpace(req.Status)))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toItem(appt))
}
