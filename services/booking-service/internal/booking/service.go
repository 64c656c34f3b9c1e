// Package booking owns appointment writes: creation, rescheduling and status
// changes. Availability is checked once; the storage insert is authoritative.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/agendizo/agendizo/libs/outbox"
	"github.com/agendizo/agendizo/services/booking-service/internal/metrics"
	"github.com/agendizo/agendizo/services/booking-service/internal/model"
	"github.com/agendizo/agendizo/services/booking-service/internal/slots"
	"github.com/agendizo/agendizo/services/booking-service/internal/storage"
	"github.com/jackc/pgx/v5"
)

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrNotFound          = errors.New("appointment not found")
	ErrClientNotFound    = errors.New("client not found")
	ErrInvalidTransition = errors.New("status transition not allowed")
	ErrLimitReached      = errors.New("monthly appointment limit reached (upgrade required)")
	ErrSlotTaken         = storage.ErrSlotTaken
)

// DefaultMonthlyLimit applies until billing has published entitlements for a business.
const DefaultMonthlyLimit = 200

const (
	EventCreated       = "booking.appointment.created.v1"
	EventRescheduled   = "booking.appointment.rescheduled.v1"
	EventStatusChanged = "booking.appointment.status_changed.v1"
)

type Repository interface {
	InTx(ctx context.Context, fn func(pgx.Tx) error) error
	LockBusiness(ctx context.Context, tx pgx.Tx, businessID string) error
	LockIdempotencyKey(ctx context.Context, tx pgx.Tx, businessID, key string) (storage.IdempotencyRecord, bool, error)
	FinalizeIdempotency(ctx context.Context, tx pgx.Tx, businessID, key, appointmentID string, statusCode int, response []byte) error
	GetBusinessEntitlements(ctx context.Context, tx pgx.Tx, businessID string) (storage.BusinessEntitlements, bool, error)
	CountActiveInRange(ctx context.Context, tx pgx.Tx, businessID string, from, to time.Time) (int, error)
	UpsertClient(ctx context.Context, tx pgx.Tx, c model.Client) (string, error)
	ClientExists(ctx context.Context, tx pgx.Tx, businessID, clientID string) (bool, error)
	CreateIfFree(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (string, error)
	GetAppointmentForUpdate(ctx context.Context, tx pgx.Tx, businessID, appointmentID string) (model.Appointment, error)
	MoveIfFree(ctx context.Context, tx pgx.Tx, appt model.Appointment) error
	UpdateStatus(ctx context.Context, tx pgx.Tx, businessID, appointmentID string, status model.Status) error
}

type EventWriter interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

type SlotChecker interface {
	Check(ctx context.Context, q slots.Query, clock string) (slots.Slot, error)
}

type Service struct {
	repo   Repository
	events EventWriter
	slots  SlotChecker
	logger *slog.Logger
}

func NewService(repo Repository, events EventWriter, checker SlotChecker, logger *slog.Logger) *Service {
	return &Service{repo: repo, events: events, slots: checker, logger: logger}
}

type BookRequest struct {
	BusinessID string
	ServiceID  string
	Date       string
	Time       string
	// ClientID selects an existing client; otherwise Client is upserted by email.
	ClientID string
	Client   model.Client
	// Status defaults to pending. Only pending and confirmed are accepted.
	Status         model.Status
	Notes          string
	IdempotencyKey string
}

type Booked struct {
	AppointmentID string
	Start         time.Time
	End           time.Time
	// Replayed is set when the idempotency key was already used.
	Replayed bool
}

type bookResponse struct {
	AppointmentID string `json:"appointment_id"`
}

func (s *Service) Book(ctx context.Context, req BookRequest) (Booked, error) {
	if err := normalizeBookRequest(&req); err != nil {
		metrics.IncBooking("invalid")
		return Booked{}, err
	}

	var out Booked
	err := s.repo.InTx(ctx, func(tx pgx.Tx) error {
		if req.IdempotencyKey != "" {
			rec, exists, err := s.repo.LockIdempotencyKey(ctx, tx, req.BusinessID, req.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("lock idempotency key: %w", err)
			}
			if exists && rec.AppointmentID != "" {
				out = Booked{AppointmentID: rec.AppointmentID, Replayed: true}
				return nil
			}
		}

		slot, err := s.slots.Check(ctx, slots.Query{
			BusinessID: req.BusinessID,
			ServiceID:  req.ServiceID,
			Date:       req.Date,
		}, req.Time)
		if err != nil {
			return err
		}
		if err := s.enforceMonthlyLimit(ctx, tx, req.BusinessID, slot.Start); err != nil {
			return err
		}

		clientID, err := s.resolveClient(ctx, tx, req)
		if err != nil {
			return err
		}

		appt := model.Appointment{
			BusinessID: req.BusinessID,
			ClientID:   clientID,
			ServiceID:  req.ServiceID,
			StartTime:  slot.Start,
			EndTime:    slot.End,
			Status:     req.Status,
			Notes:      req.Notes,
		}
		id, err := s.repo.CreateIfFree(ctx, tx, &appt)
		if err != nil {
			return err
		}
		appt.ID = id

		if err := s.emit(ctx, tx, EventCreated, appt, nil); err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			body, err := json.Marshal(bookResponse{AppointmentID: id})
			if err != nil {
				return err
			}
			if err := s.repo.FinalizeIdempotency(ctx, tx, req.BusinessID, req.IdempotencyKey, id, http.StatusCreated, body); err != nil {
				return fmt.Errorf("finalize idempotency key: %w", err)
			}
		}
		out = Booked{AppointmentID: id, Start: slot.Start, End: slot.End}
		return nil
	})
	metrics.IncBooking(bookOutcome(err, out.Replayed))
	if err != nil {
		return Booked{}, err
	}
	return out, nil
}

func normalizeBookRequest(req *BookRequest) error {
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.Date = strings.TrimSpace(req.Date)
	req.Time = strings.TrimSpace(req.Time)
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.Client.Name = strings.TrimSpace(req.Client.Name)
	req.Client.Email = strings.ToLower(strings.TrimSpace(req.Client.Email))
	req.Client.Phone = strings.TrimSpace(req.Client.Phone)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)

	if req.BusinessID == "" || req.ServiceID == "" || req.Date == "" || req.Time == "" {
		return fmt.Errorf("%w: business_id, service_id, date and time are required", ErrInvalidRequest)
	}
	if req.ClientID == "" {
		if req.Client.Name == "" || req.Client.Email == "" {
			return fmt.Errorf("%w: client name and email are required", ErrInvalidRequest)
		}
		if _, err := mail.ParseAddress(req.Client.Email); err != nil {
			return fmt.Errorf("%w: invalid client email", ErrInvalidRequest)
		}
	}
	switch req.Status {
	case "":
		req.Status = model.StatusPending
	case model.StatusPending, model.StatusConfirmed:
	default:
		return fmt.Errorf("%w: new appointments must be pending or confirmed", ErrInvalidRequest)
	}
	return nil
}

func (s *Service) resolveClient(ctx context.Context, tx pgx.Tx, req BookRequest) (string, error) {
	if req.ClientID != "" {
		ok, err := s.repo.ClientExists(ctx, tx, req.BusinessID, req.ClientID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrClientNotFound
		}
		return req.ClientID, nil
	}
	c := req.Client
	c.BusinessID = req.BusinessID
	return s.repo.UpsertClient(ctx, tx, c)
}

// enforceMonthlyLimit counts the calendar month of start in the business timezone.
// The business lock is held from the count through the insert.
func (s *Service) enforceMonthlyLimit(ctx context.Context, tx pgx.Tx, businessID string, start time.Time) error {
	if err := s.repo.LockBusiness(ctx, tx, businessID); err != nil {
		return fmt.Errorf("lock business: %w", err)
	}
	limit := DefaultMonthlyLimit
	ent, ok, err := s.repo.GetBusinessEntitlements(ctx, tx, businessID)
	if err != nil {
		return err
	}
	if ok && ent.MaxMonthlyAppointments > 0 {
		limit = ent.MaxMonthlyAppointments
	}

	monthStart := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, start.Location())
	cnt, err := s.repo.CountActiveInRange(ctx, tx, businessID, monthStart, monthStart.AddDate(0, 1, 0))
	if err != nil {
		return err
	}
	if cnt >= limit {
		return ErrLimitReached
	}
	return nil
}

type RescheduleRequest struct {
	BusinessID    string
	AppointmentID string
	// ServiceID keeps the current service when empty.
	ServiceID string
	Date      string
	Time      string
}

// Reschedule moves an appointment, checking availability as if it did not exist.
// Its current start is always accepted when nothing else overlaps it.
func (s *Service) Reschedule(ctx context.Context, req RescheduleRequest) (model.Appointment, error) {
	if strings.TrimSpace(req.BusinessID) == "" || strings.TrimSpace(req.AppointmentID) == "" ||
		strings.TrimSpace(req.Date) == "" || strings.TrimSpace(req.Time) == "" {
		return model.Appointment{}, fmt.Errorf("%w: appointment_id, date and time are required", ErrInvalidRequest)
	}

	var out model.Appointment
	err := s.repo.InTx(ctx, func(tx pgx.Tx) error {
		appt, err := s.load(ctx, tx, req.BusinessID, req.AppointmentID)
		if err != nil {
			return err
		}
		if !appt.Status.Blocks() {
			return fmt.Errorf("%w: %s appointments cannot be rescheduled", ErrInvalidTransition, appt.Status)
		}

		serviceID := strings.TrimSpace(req.ServiceID)
		if serviceID == "" {
			serviceID = appt.ServiceID
		}
		slot, err := s.slots.Check(ctx, slots.Query{
			BusinessID: appt.BusinessID,
			ServiceID:  serviceID,
			Date:       strings.TrimSpace(req.Date),
			ExcludeID:  appt.ID,
			KeepStart:  appt.StartTime,
		}, req.Time)
		if err != nil {
			return err
		}

		previous := appt
		appt.ServiceID = serviceID
		appt.StartTime = slot.Start
		appt.EndTime = slot.End
		if err := s.repo.MoveIfFree(ctx, tx, appt); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, EventRescheduled, appt, map[string]any{
			"previous_start_time": previous.StartTime.UTC().Format(time.RFC3339),
			"previous_end_time":   previous.EndTime.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
		out = appt
		return nil
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return out, nil
}

// SetStatus applies a lifecycle transition. Repeating the current status is a no-op.
func (s *Service) SetStatus(ctx context.Context, businessID, appointmentID string, to model.Status) (model.Appointment, error) {
	if _, ok := model.ParseStatus(string(to)); !ok {
		return model.Appointment{}, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, to)
	}

	var out model.Appointment
	err := s.repo.InTx(ctx, func(tx pgx.Tx) error {
		appt, err := s.load(ctx, tx, businessID, appointmentID)
		if err != nil {
			return err
		}
		if appt.Status == to {
			out = appt
			return nil
		}
		if !CanTransition(appt.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, to)
		}
		if err := s.repo.UpdateStatus(ctx, tx, businessID, appt.ID, to); err != nil {
			return err
		}

		from := appt.Status
		appt.Status = to
		if err := s.emit(ctx, tx, EventStatusChanged, appt, map[string]any{"previous_status": string(from)}); err != nil {
			return err
		}
		metrics.IncTransition(string(from), string(to))
		out = appt
		return nil
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, tx pgx.Tx, businessID, appointmentID string) (model.Appointment, error) {
	appt, err := s.repo.GetAppointmentForUpdate(ctx, tx, businessID, appointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, ErrNotFound
		}
		return model.Appointment{}, fmt.Errorf("load appointment: %w", err)
	}
	return appt, nil
}

func (s *Service) emit(ctx context.Context, tx pgx.Tx, eventType string, appt model.Appointment, extra map[string]any) error {
	payload := map[string]any{
		"appointment_id": appt.ID,
		"business_id":    appt.BusinessID,
		"client_id":      appt.ClientID,
		"service_id":     appt.ServiceID,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
		"status":         string(appt.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	evt, err := outbox.NewEvent("appointment", appt.ID, eventType, payload)
	if err != nil {
		return fmt.Errorf("build %s: %w", eventType, err)
	}
	if err := s.events.Insert(ctx, tx, evt); err != nil {
		return fmt.Errorf("write outbox event: %w", err)
	}
	return nil
}

func bookOutcome(err error, replayed bool) string {
	switch {
	case err == nil && replayed:
		return "replayed"
	case err == nil:
		return "created"
	case errors.Is(err, ErrSlotTaken):
		return "conflict"
	case errors.Is(err, slots.ErrSlotUnavailable):
		return "unavailable"
	case errors.Is(err, ErrLimitReached):
		return "limit"
	case errors.Is(err, ErrClientNotFound):
		return "invalid"
	default:
		return "error"
	}
}
