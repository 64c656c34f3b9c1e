package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/agendizo/agendizo/libs/httpx"
	"github.com/agendizo/agendizo/services/booking-service/internal/booking"
	"github.com/agendizo/agendizo/services/booking-service/internal/slots"
)

// writeError maps domain errors to HTTP statuses. Unknown errors are logged and hidden.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, booking.ErrInvalidRequest), errors.Is(err, slots.ErrInvalidDate):
		code, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, slots.ErrServiceNotFound), errors.Is(err, slots.ErrBusinessNotFound),
		errors.Is(err, booking.ErrClientNotFound), errors.Is(err, booking.ErrNotFound):
		code, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, booking.ErrSlotTaken), errors.Is(err, booking.ErrInvalidTransition):
		code, msg = http.StatusConflict, err.Error()
	case errors.Is(err, slots.ErrSlotUnavailable):
		code, msg = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, booking.ErrLimitReached):
		code, msg = http.StatusPaymentRequired, err.Error()
	case errors.Is(err, slots.ErrFetch):
		code, msg = http.StatusServiceUnavailable, slots.ErrFetch.Error()
	}
	if code >= http.StatusInternalServerError {
		logger.Error("request failed", "err", err, "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()))
	}
	httpx.WriteError(w, code, msg)
}

type slotsErrorResponse struct {
	Error string   `json:"error"`
	Slots []string `json:"slots"`
}

// writeSlots answers availability lookups. Missing business or service means
// "no slots"; a failed fetch is reported alongside an empty list.
func writeSlots(w http.ResponseWriter, r *http.Request, logger *slog.Logger, out []string, err error) {
	switch {
	case err == nil:
		httpx.WriteJSON(w, http.StatusOK, out)
	case errors.Is(err, slots.ErrServiceNotFound), errors.Is(err, slots.ErrBusinessNotFound):
		httpx.WriteJSON(w, http.StatusOK, []string{})
	case errors.Is(err, slots.ErrInvalidDate):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error("availability failed", "err", err, "request_id", httpx.RequestIDFromContext(r.Context()))
		httpx.WriteJSON(w, http.StatusServiceUnavailable, slotsErrorResponse{Error: slots.ErrFetch.Error(), Slots: []string{}})
	}
}
