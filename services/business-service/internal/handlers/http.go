package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/agendizo/agendizo/libs/auth"
	"github.com/agendizo/agendizo/libs/httpx"
	"github.com/agendizo/agendizo/services/business-service/internal/storage"
)

// Store is implemented by *storage.Repository.
type Store interface {
	GetOrCreateProfile(ctx context.Context, businessID, ownerID string) (storage.Profile, error)
	UpdateProfile(ctx context.Context, businessID, name, slug, timezone string) error

	ListServices(ctx context.Context, businessID string) ([]storage.Service, error)
	CreateService(ctx context.Context, businessID string, s storage.Service) (string, error)
	UpdateService(ctx context.Context, businessID string, s storage.Service) error
	DeactivateService(ctx context.Context, businessID, serviceID string) error

	ListClients(ctx context.Context, businessID, search string, limit int) ([]storage.Client, error)
	CreateClient(ctx context.Context, businessID string, c storage.Client) (string, error)
	UpdateClient(ctx context.Context, businessID string, c storage.Client) error
	DeleteClient(ctx context.Context, businessID, clientID string) error

	ListWorkingDays(ctx context.Context, businessID string) ([]storage.WorkingDay, error)
	ReplaceWorkingDays(ctx context.Context, businessID string, days []storage.WorkingDay) error
	ListTimeSlots(ctx context.Context, businessID string) ([]storage.TimeSlot, error)
	AddTimeSlot(ctx context.Context, businessID string, slot storage.TimeSlot) (string, error)
	DeleteTimeSlot(ctx context.Context, businessID, slotID string) error
	ListOpeningHours(ctx context.Context, businessID string) ([]storage.OpeningHours, error)
	UpsertOpeningHours(ctx context.Context, businessID string, h storage.OpeningHours) error
	DeleteOpeningHours(ctx context.Context, businessID string, dayOfWeek int) error
	ListHolidays(ctx context.Context, businessID string, from time.Time) ([]storage.Holiday, error)
	AddHoliday(ctx context.Context, businessID string, h storage.Holiday) (string, error)
	DeleteHoliday(ctx context.Context, businessID, holidayID string) error
}

type Handler struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger, now: time.Now}
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,61}[a-z0-9]$`)

// businessID answers 400 itself when the header is missing.
func businessID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := auth.BusinessID(r)
	if id == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing "+auth.HeaderBusinessID)
		return "", false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case storage.IsNotFound(err):
		httpx.WriteError(w, http.StatusNotFound, "not found")
	case storage.IsDuplicate(err):
		httpx.WriteError(w, http.StatusConflict, "already exists")
	case storage.IsReferenced(err):
		httpx.WriteError(w, http.StatusConflict, "still referenced by appointments")
	default:
		h.logger.Error(op+" failed", "err", err, "request_id", httpx.RequestIDFromContext(r.Context()))
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	bid, ok := businessID(w, r)
	if !ok {
		return
	}
	p, err := h.store.GetOrCreateProfile(r.Context(), bid, strings.TrimSpace(r.Header.Get(auth.HeaderUserID)))
	if err != nil {
		h.fail(w, r, "load profile", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	bid, ok := businessID(w, r)
	if !ok {
		return
	}
	var req struct {
		Name     string `json:"name"`
		Slug     string `json:"slug"`
		Timezone string `json:"timezone"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Slug = strings.ToLower(strings.TrimSpace(req.Slug))
	req.Timezone = strings.TrimSpace(req.Timezone)
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if req.Name == "" {
		httpx.WriteError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !slugPattern.MatchString(req.Slug) {
		httpx.WriteError(w, http.StatusBadRequest, "slug must be 3-63 lowercase letters, digits or hyphens")
		return
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "unknown timezone")
		return
	}

	if _, err := h.store.GetOrCreateProfile(r.Context(), bid, strings.TrimSpace(r.Header.Get(auth.HeaderUserID))); err != nil {
		h.fail(w, r, "load profile", err)
		return
	}
	if err := h.store.UpdateProfile(r.Context(), bid, req.Name, req.Slug, req.Timezone); err != nil {
		if storage.IsDuplicate(err) {
			httpx.WriteError(w, http.StatusConflict, "slug already taken")
			return
		}
		h.fail(w, r, "update profile", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, storage.Profile{ID: bid, Name: req.Name, Slug: req.Slug, Timezone: req.Timezone})
}

type serviceRequest struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceCents      int64  `json:"price_cents"`
	Description     string `json:"description"`
	Active          *bool  `json:"active"`
}

func (req serviceRequest) validate() error {
	switch {
	case strings.TrimSpace(req.Name) == "":
		return errors.New("name is required")
	case req.DurationMinutes <= 0 || req.DurationMinutes > 24*60:
		return errors.New("duration_minutes must be between 1 and 1440")
	case req.PriceCents < 0:
		return errors.New("price_cents must not be negative")
	}
	return nil
}

func (req serviceRequest) service() storage.Service {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return storage.Service{
		ID:              strings.TrimSpace(req.ID),
		Name:            strings.TrimSpace(req.Name),
		DurationMinutes: req.DurationMinutes,
		PriceCents:      req.PriceCents,
		Description:     strings.TrimSpace(req.Description),
		Active:          active,
	}
}

func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	bid, ok := businessID(w, r)
	if !ok {
		return
	}
	items, err := h.store.ListServices(r.Context(), bid)
	if err != nil {
		h.fail(w, r, "list services", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	bid, ok := businessID(w, r)
	if !ok {
		return
	}
	var req serviceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := req.validate(); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.store.CreateService(r.Context(), bid, req.service())
	if err != nil {
		h.fail(w, r, "create service", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) UpdateService(w http.ResponseWriter, r *http.Request) {
	bid, ok := businessID(w, r)
	if !ok {
		return
	}
	var req serviceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := req.validate(); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.UpdateService(r.Context(), bid, req.service()); err != nil {
		h.fail(w, r, "update service", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeactivateService(w http.ResponseWriter, r *http.Request) {
	bid, ok := businessID(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		httpx.WriteError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := h.store.DeactivateService(r.Context(), bid, id); err != nil {
		h.fail(w, r, "deactivate service", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type clientRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Notes string `json:"notes"`
}

func (req clientRequest) client() (storage.Client, error) {
	c := storage.Client{
		ID:    strings.TrimSpace(req.ID),
		Name:  strings.TrimSpace(req.Name),
		Email: strings.ToLower(strings.TrimSpace(req.Email)),
		Phone: strings.TrimSpace(req.Phone),
		Notes: strings.TrimSpace(req.Notes),
	}
	if c.Name == "" {
		return c, errors.New("name is required")
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return c, errors.New("a valid email is required")
	}
	return c, nil
}

func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	bid, ok := businessID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	items, err := h.store.ListClients(r.Context(), bid, strings.TrimSpace(r.URL.Query().Get("q")), limit)
	if err != nil {
		h.fail(w, r, "list clients", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	bid, ok := businessID(w, r)
	if !ok {
		return
	}
	var req clientRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	c, err := req.client()
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.store.CreateClient(r.Context(), bid, c)
	if err != nil {
		h.fail(w, r, "create client", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	bid, ok := businessID(w, r)
	if !ok {
		return
	}
	var req clientRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	c, err := req.client()
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if c.ID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := h.store.UpdateClient(r.Context(), bid, c); err != nil {
		h.fail(w, r, "update client", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	bid, ok := businessID(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		httpx.WriteError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := h.store.DeleteClient(r.Context(), bid, id); err != nil {
		h.fail(w, r, "delete client", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
