package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/agendizo/agendizo/libs/httpx"
	"github.com/agendizo/agendizo/services/booking-service/internal/booking"
	"github.com/agendizo/agendizo/services/booking-service/internal/model"
	"github.com/agendizo/agendizo/services/booking-service/internal/slots"
	"github.com/agendizo/agendizo/services/booking-service/internal/storage"
)

type SlotFinder interface {
	Available(ctx context.Context, q slots.Query) ([]string, error)
}

type Booker interface {
	Book(ctx context.Context, req booking.BookRequest) (booking.Booked, error)
	Reschedule(ctx context.Context, req booking.RescheduleRequest) (model.Appointment, error)
	SetStatus(ctx context.Context, businessID, appointmentID string, to model.Status) (model.Appointment, error)
}

type BusinessDirectory interface {
	GetBusinessBySlug(ctx context.Context, slug string) (model.Business, error)
	ListActiveServices(ctx context.Context, businessID string) ([]model.Service, error)
}

// PublicHandler serves the unauthenticated booking page.
type PublicHandler struct {
	directory BusinessDirectory
	slots     SlotFinder
	booker    Booker
	logger    *slog.Logger
}

func NewPublicHandler(directory BusinessDirectory, finder SlotFinder, booker Booker, logger *slog.Logger) *PublicHandler {
	return &PublicHandler{directory: directory, slots: finder, booker: booker, logger: logger}
}

type serviceItem struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceCents      int64  `json:"price_cents"`
}

type businessResponse struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Slug     string        `json:"slug"`
	Timezone string        `json:"timezone"`
	Services []serviceItem `json:"services"`
}

func (h *PublicHandler) Business(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	slug := strings.TrimSpace(r.URL.Query().Get("slug"))
	if slug == "" {
		http.Error(w, "slug required", http.StatusBadRequest)
		return
	}

	biz, err := h.directory.GetBusinessBySlug(r.Context(), slug)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "business not found", http.StatusNotFound)
			return
		}
		writeError(w, r, h.logger, err)
		return
	}
	services, err := h.directory.ListActiveServices(r.Context(), biz.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp := businessResponse{ID: biz.ID, Name: biz.Name, Slug: biz.Slug, Timezone: biz.Timezone, Services: []serviceItem{}}
	for _, s := range services {
		resp.Services = append(resp.Services, serviceItem{
			ID: s.ID, Name: s.Name, DurationMinutes: s.DurationMinutes, PriceCents: s.PriceCents,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *PublicHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	query := slots.Query{
		BusinessID: strings.TrimSpace(q.Get("business_id")),
		ServiceID:  strings.TrimSpace(q.Get("service_id")),
		Date:       strings.TrimSpace(q.Get("date")),
	}
	if query.BusinessID == "" || query.ServiceID == "" || query.Date == "" {
		http.Error(w, "business_id, service_id and date are required", http.StatusBadRequest)
		return
	}
	out, err := h.slots.Available(r.Context(), query)
	writeSlots(w, r, h.logger, out, err)
}

type publicBookRequest struct {
	BusinessID  string `json:"business_id"`
	ServiceID   string `json:"service_id"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	ClientName  string `json:"client_name"`
	ClientEmail string `json:"client_email"`
	ClientPhone string `json:"client_phone"`
	Notes       string `json:"notes"`
}

type bookResponse struct {
	AppointmentID string `json:"appointment_id"`
	StartTime     string `json:"start_time,omitempty"`
	EndTime       string `json:"end_time,omitempty"`
}

func (h *PublicHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req publicBookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	booked, err := h.booker.Book(r.Context(), booking.BookRequest{
		BusinessID:     req.BusinessID,
		ServiceID:      req.ServiceID,
		Date:           req.Date,
		Time:           req.Time,
		Client:         model.Client{Name: req.ClientName, Email: req.ClientEmail, Phone: req.ClientPhone},
		Status:         model.StatusPending,
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeBooked(w, booked)
}

func writeBooked(w http.ResponseWriter, booked booking.Booked) {
	resp := bookResponse{AppointmentID: booked.AppointmentID}
	if booked.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	} else {
		resp.StartTime = booked.Start.Format(time.RFC3339)
		resp.EndTime = booked.End.Format(time.RFC3339)
	}
	httpx.WriteJSON(w, http.StatusCreated, resp)
}
