package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agendizo/agendizo/libs/auth"
	"github.com/agendizo/agendizo/services/booking-service/internal/booking"
	"github.com/agendizo/agendizo/services/booking-service/internal/model"
	"github.com/agendizo/agendizo/services/booking-service/internal/slots"
	"github.com/jackc/pgx/v5"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeFinder struct {
	out   []string
	err   error
	query slots.Query
}

func (f *fakeFinder) Available(_ context.Context, q slots.Query) ([]string, error) {
	f.query = q
	if f.err != nil {
		return []string{}, f.err
	}
	return f.out, nil
}

type fakeBooker struct {
	err     error
	booked  booking.Booked
	appt    model.Appointment
	lastReq booking.BookRequest
	lastRes booking.RescheduleRequest
	status  model.Status
}

func (f *fakeBooker) Book(_ context.Context, req booking.BookRequest) (booking.Booked, error) {
	f.lastReq = req
	return f.booked, f.err
}

func (f *fakeBooker) Reschedule(_ context.Context, req booking.RescheduleRequest) (model.Appointment, error) {
	f.lastRes = req
	return f.appt, f.err
}

func (f *fakeBooker) SetStatus(_ context.Context, _, _ string, to model.Status) (model.Appointment, error) {
	f.status = to
	a := f.appt
	a.Status = to
	return a, f.err
}

type fakeDirectory struct{}

func (fakeDirectory) GetBusinessBySlug(_ context.Context, slug string) (model.Business, error) {
	if slug != "salon" {
		return model.Business{}, pgx.ErrNoRows
	}
	return model.Business{ID: "b1", Name: "Salon", Slug: "salon", Timezone: "UTC"}, nil
}

func (fakeDirectory) ListActiveServices(_ context.Context, _ string) ([]model.Service, error) {
	return []model.Service{{ID: "s1", Name: "Cut", DurationMinutes: 60, PriceCents: 2500, Active: true}}, nil
}

type fakeLister struct {
	from, to time.Time
	limit    int
}

func (f *fakeLister) ListByBusiness(_ context.Context, _ string, from, to time.Time, limit int) ([]model.Appointment, error) {
	f.from, f.to, f.limit = from, to, limit
	return []model.Appointment{{ID: "a1", Status: model.StatusPending, StartTime: from, EndTime: from.Add(time.Hour)}}, nil
}

func TestPublicSlots(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"ok", nil, http.StatusOK, `["09:00","11:00"]`},
		{"unknown service", slots.ErrServiceNotFound, http.StatusOK, `[]`},
		{"bad date", slots.ErrInvalidDate, http.StatusBadRequest, "date"},
		{"fetch failure", fmt.Errorf("%w: boom", slots.ErrFetch), http.StatusServiceUnavailable, `"slots":[]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			finder := &fakeFinder{out: []string{"09:00", "11:00"}, err: tc.err}
			h := NewPublicHandler(fakeDirectory{}, finder, &fakeBooker{}, discard)

			rw := httptest.NewRecorder()
			h.Slots(rw, httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?business_id=b1&service_id=s1&date=2026-02-02", nil))
			if rw.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, rw.Code)
			}
			if !strings.Contains(rw.Body.String(), tc.wantBody) {
				t.Fatalf("expected body to contain %q, got %q", tc.wantBody, rw.Body.String())
			}
		})
	}

	h := NewPublicHandler(fakeDirectory{}, &fakeFinder{}, &fakeBooker{}, discard)
	rw := httptest.NewRecorder()
	h.Slots(rw, httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?business_id=b1", nil))
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing params, got %d", rw.Code)
	}
}

func TestPublicBusiness(t *testing.T) {
	h := NewPublicHandler(fakeDirectory{}, &fakeFinder{}, &fakeBooker{}, discard)

	rw := httptest.NewRecorder()
	h.Business(rw, httptest.NewRequest(http.MethodGet, "/api/v1/public/business?slug=salon", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	var resp businessResponse
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != "b1" || len(resp.Services) != 1 || resp.Services[0].DurationMinutes != 60 {
		t.Fatalf("unexpected response %+v", resp)
	}

	rw = httptest.NewRecorder()
	h.Business(rw, httptest.NewRequest(http.MethodGet, "/api/v1/public/business?slug=nope", nil))
	if rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rw.Code)
	}
}

func TestPublicBookStatusMapping(t *testing.T) {
	body := `{"business_id":"b1","service_id":"s1","date":"2026-02-02","time":"10:00","client_name":"Ana","client_email":"ana@example.com"}`
	cases := []struct {
		err  error
		code int
	}{
		{nil, http.StatusCreated},
		{booking.ErrSlotTaken, http.StatusConflict},
		{slots.ErrSlotUnavailable, http.StatusUnprocessableEntity},
		{booking.ErrLimitReached, http.StatusPaymentRequired},
		{fmt.Errorf("%w: missing", booking.ErrInvalidRequest), http.StatusBadRequest},
		{slots.ErrServiceNotFound, http.StatusNotFound},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		booker := &fakeBooker{err: tc.err, booked: booking.Booked{
			AppointmentID: "a1",
			Start:         time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
			End:           time.Date(2026, 2, 2, 11, 0, 0, 0, time.UTC),
		}}
		h := NewPublicHandler(fakeDirectory{}, &fakeFinder{}, booker, discard)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/public/book", strings.NewReader(body))
		req.Header.Set("Idempotency-Key", "k1")
		rw := httptest.NewRecorder()
		h.Book(rw, req)
		if rw.Code != tc.code {
			t.Fatalf("err %v: expected %d, got %d (%s)", tc.err, tc.code, rw.Code, rw.Body.String())
		}
		if booker.lastReq.IdempotencyKey != "k1" || booker.lastReq.Status != model.StatusPending {
			t.Fatalf("unexpected book request %+v", booker.lastReq)
		}
		if tc.code == http.StatusInternalServerError && strings.Contains(rw.Body.String(), "db down") {
			t.Fatal("internal errors must not leak")
		}
	}
}

func TestPublicBookReplayAndBadJSON(t *testing.T) {
	booker := &fakeBooker{booked: booking.Booked{AppointmentID: "a1", Replayed: true}}
	h := NewPublicHandler(fakeDirectory{}, &fakeFinder{}, booker, discard)

	rw := httptest.NewRecorder()
	h.Book(rw, httptest.NewRequest(http.MethodPost, "/api/v1/public/book", strings.NewReader(`{"business_id":"b1"}`)))
	if rw.Code != http.StatusCreated || rw.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replay, got %d %v", rw.Code, rw.Header())
	}

	rw = httptest.NewRecorder()
	h.Book(rw, httptest.NewRequest(http.MethodPost, "/api/v1/public/book", strings.NewReader(`{"unknown":1}`)))
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown fields, got %d", rw.Code)
	}

	rw = httptest.NewRecorder()
	h.Book(rw, httptest.NewRequest(http.MethodGet, "/api/v1/public/book", nil))
	if rw.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rw.Code)
	}
}

func withBusiness(r *http.Request) *http.Request {
	r.Header.Set(auth.HeaderBusinessID, "b1")
	return r
}

func TestDashboardSlotsEditMode(t *testing.T) {
	finder := &fakeFinder{out: []string{"10:00"}}
	h := NewAppointmentsHandler(&fakeLister{}, finder, &fakeBooker{}, discard)

	rw := httptest.NewRecorder()
	h.Slots(rw, withBusiness(httptest.NewRequest(http.MethodGet,
		"/api/v1/appointments/slots?service_id=s1&date=2026-02-02&exclude_id=a1&keep_time=10:00", nil)))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	want := slots.Query{BusinessID: "b1", ServiceID: "s1", Date: "2026-02-02", ExcludeID: "a1", KeepTime: "10:00"}
	if finder.query != want {
		t.Fatalf("expected %+v, got %+v", want, finder.query)
	}
}

func TestDashboardList(t *testing.T) {
	lister := &fakeLister{}
	h := NewAppointmentsHandler(lister, &fakeFinder{}, &fakeBooker{}, discard)
	h.now = func() time.Time { return time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC) }

	rw := httptest.NewRecorder()
	h.List(rw, withBusiness(httptest.NewRequest(http.MethodGet, "/api/v1/appointments?limit=500", nil)))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	if !lister.from.Equal(time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC)) || lister.limit != 50 {
		t.Fatalf("unexpected defaults from=%s limit=%d", lister.from, lister.limit)
	}
	var items []appointmentItem
	if err := json.Unmarshal(rw.Body.Bytes(), &items); err != nil || len(items) != 1 || items[0].Status != "pending" {
		t.Fatalf("unexpected body %s (%v)", rw.Body.String(), err)
	}

	rw = httptest.NewRecorder()
	h.List(rw, withBusiness(httptest.NewRequest(http.MethodGet, "/api/v1/appointments?from=2026-03-01&to=2026-02-01", nil)))
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted range, got %d", rw.Code)
	}
}

func TestDashboardStatusAndReschedule(t *testing.T) {
	booker := &fakeBooker{appt: model.Appointment{ID: "a1", Status: model.StatusPending}}
	h := NewAppointmentsHandler(&fakeLister{}, &fakeFinder{}, booker, discard)

	rw := httptest.NewRecorder()
	h.Status(rw, withBusiness(httptest.NewRequest(http.MethodPost, "/api/v1/appointments/status",
		strings.NewReader(`{"appointment_id":"a1","status":"confirmed"}`))))
	if rw.Code != http.StatusOK || booker.status != model.StatusConfirmed {
		t.Fatalf("expected confirm, got %d %s", rw.Code, booker.status)
	}

	booker.err = booking.ErrInvalidTransition
	rw = httptest.NewRecorder()
	h.Status(rw, withBusiness(httptest.NewRequest(http.MethodPost, "/api/v1/appointments/status",
		strings.NewReader(`{"appointment_id":"a1","status":"pending"}`))))
	if rw.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rw.Code)
	}

	booker.err = nil
	rw = httptest.NewRecorder()
	h.Reschedule(rw, withBusiness(httptest.NewRequest(http.MethodPut, "/api/v1/appointments/reschedule",
		strings.NewReader(`{"appointment_id":"a1","date":"2026-02-03","time":"09:00"}`))))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	if booker.lastRes.BusinessID != "b1" || booker.lastRes.Time != "09:00" {
		t.Fatalf("unexpected reschedule request %+v", booker.lastRes)
	}

	booker.err = booking.ErrNotFound
	rw = httptest.NewRecorder()
	h.Reschedule(rw, withBusiness(httptest.NewRequest(http.MethodPut, "/api/v1/appointments/reschedule",
		strings.NewReader(`{"appointment_id":"zz","date":"2026-02-03","time":"09:00"}`))))
	if rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rw.Code)
	}
}

func TestDashboardCreate(t *testing.T) {
	booker := &fakeBooker{booked: booking.Booked{AppointmentID: "a9"}}
	h := NewAppointmentsHandler(&fakeLister{}, &fakeFinder{}, booker, discard)

	rw := httptest.NewRecorder()
	h.Create(rw, withBusiness(httptest.NewRequest(http.MethodPost, "/api/v1/appointments",
		strings.NewReader(`{"client_id":"c1","service_id":"s1","date":"2026-02-03","time":"09:00","status":"confirmed"}`))))
	if rw.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rw.Code)
	}
	if booker.lastReq.BusinessID != "b1" || booker.lastReq.ClientID != "c1" || booker.lastReq.Status != model.StatusConfirmed {
		t.Fatalf("unexpected book request %+v", booker.lastReq)
	}
}
