package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/agendizo/agendizo/libs/outbox"
	"github.com/agendizo/agendizo/services/booking-service/internal/availability"
	"github.com/agendizo/agendizo/services/booking-service/internal/model"
	"github.com/agendizo/agendizo/services/booking-service/internal/slots"
	"github.com/agendizo/agendizo/services/booking-service/internal/storage"
	"github.com/jackc/pgx/v5"
)

type fakeRepo struct {
	appts       map[string]model.Appointment
	clients     map[string]string
	ent         *storage.BusinessEntitlements
	idem        map[string]storage.IdempotencyRecord
	events      []outbox.Event
	nextID      int
	createCalls int
	locked      bool
	// unlockedCounts is the number of monthly counts taken without the business lock.
	unlockedCounts int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		appts:   map[string]model.Appointment{},
		clients: map[string]string{},
		idem:    map[string]storage.IdempotencyRecord{},
	}
}

func (f *fakeRepo) InTx(_ context.Context, fn func(pgx.Tx) error) error {
	events := len(f.events)
	appts := make(map[string]model.Appointment, len(f.appts))
	for k, v := range f.appts {
		appts[k] = v
	}
	f.locked = false
	defer func() { f.locked = false }()
	if err := fn(nil); err != nil {
		f.events = f.events[:events]
		f.appts = appts
		return err
	}
	return nil
}

func (f *fakeRepo) LockBusiness(_ context.Context, _ pgx.Tx, _ string) error {
	f.locked = true
	return nil
}

func (f *fakeRepo) LockIdempotencyKey(_ context.Context, _ pgx.Tx, businessID, key string) (storage.IdempotencyRecord, bool, error) {
	rec, ok := f.idem[businessID+"/"+key]
	return rec, ok, nil
}

func (f *fakeRepo) FinalizeIdempotency(_ context.Context, _ pgx.Tx, businessID, key, appointmentID string, statusCode int, response []byte) error {
	f.idem[businessID+"/"+key] = storage.IdempotencyRecord{
		BusinessID: businessID, IdempotencyKey: key, AppointmentID: appointmentID,
		StatusCode: statusCode, ResponsePayload: response,
	}
	return nil
}

func (f *fakeRepo) GetBusinessEntitlements(_ context.Context, _ pgx.Tx, _ string) (storage.BusinessEntitlements, bool, error) {
	if f.ent == nil {
		return storage.BusinessEntitlements{}, false, nil
	}
	return *f.ent, true, nil
}

func (f *fakeRepo) CountActiveInRange(_ context.Context, _ pgx.Tx, businessID string, from, to time.Time) (int, error) {
	if !f.locked {
		f.unlockedCounts++
	}
	n := 0
	for _, a := range f.appts {
		if a.BusinessID == businessID && a.Status != model.StatusCancelled && !a.StartTime.Before(from) && a.StartTime.Before(to) {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) UpsertClient(_ context.Context, _ pgx.Tx, c model.Client) (string, error) {
	if id, ok := f.clients[c.Email]; ok {
		return id, nil
	}
	id := "client-" + c.Email
	f.clients[c.Email] = id
	return id, nil
}

func (f *fakeRepo) ClientExists(_ context.Context, _ pgx.Tx, _, clientID string) (bool, error) {
	for _, id := range f.clients {
		if id == clientID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) overlapping(appt model.Appointment) bool {
	for _, o := range f.appts {
		if o.ID != appt.ID && o.BusinessID == appt.BusinessID && o.Status.Blocks() &&
			availability.Overlaps(o.StartTime, o.EndTime, appt.StartTime, appt.EndTime) {
			return true
		}
	}
	return false
}

func (f *fakeRepo) CreateIfFree(_ context.Context, _ pgx.Tx, appt *model.Appointment) (string, error) {
	f.createCalls++
	if f.overlapping(*appt) {
		return "", storage.ErrSlotTaken
	}
	f.nextID++
	id := "appt-" + string(rune('0'+f.nextID))
	stored := *appt
	stored.ID = id
	f.appts[id] = stored
	return id, nil
}

func (f *fakeRepo) GetAppointmentForUpdate(_ context.Context, _ pgx.Tx, businessID, appointmentID string) (model.Appointment, error) {
	a, ok := f.appts[appointmentID]
	if !ok || a.BusinessID != businessID {
		return model.Appointment{}, pgx.ErrNoRows
	}
	return a, nil
}

func (f *fakeRepo) MoveIfFree(_ context.Context, _ pgx.Tx, appt model.Appointment) error {
	if f.overlapping(appt) {
		return storage.ErrSlotTaken
	}
	f.appts[appt.ID] = appt
	return nil
}

func (f *fakeRepo) UpdateStatus(_ context.Context, _ pgx.Tx, _, appointmentID string, status model.Status) error {
	a := f.appts[appointmentID]
	a.Status = status
	f.appts[appointmentID] = a
	return nil
}

func (f *fakeRepo) Insert(_ context.Context, _ pgx.Tx, evt outbox.Event) error {
	f.events = append(f.events, evt)
	return nil
}

// fakeChecker accepts every request for the configured clock.
type fakeChecker struct {
	err       error
	lastQuery slots.Query
}

func (c *fakeChecker) Check(_ context.Context, q slots.Query, clock string) (slots.Slot, error) {
	c.lastQuery = q
	if c.err != nil {
		return slots.Slot{}, c.err
	}
	mins, ok := availability.ClockToMinutes(clock)
	if !ok {
		return slots.Slot{}, slots.ErrSlotUnavailable
	}
	day, err := time.Parse("2006-01-02", q.Date)
	if err != nil {
		return slots.Slot{}, slots.ErrInvalidDate
	}
	start := day.Add(time.Duration(mins) * time.Minute)
	return slots.Slot{Start: start, End: start.Add(time.Hour)}, nil
}

func newTestService() (*Service, *fakeRepo, *fakeChecker) {
	repo := newFakeRepo()
	checker := &fakeChecker{}
	return NewService(repo, repo, checker, slog.New(slog.NewTextHandler(io.Discard, nil))), repo, checker
}

func publicRequest() BookRequest {
	return BookRequest{
		BusinessID: "b1",
		ServiceID:  "s1",
		Date:       "2026-02-02",
		Time:       "10:00",
		Client:     model.Client{Name: "Ana", Email: " Ana@Example.com "},
	}
}

func TestBookCreatesPendingAppointment(t *testing.T) {
	svc, repo, _ := newTestService()

	got, err := svc.Book(context.Background(), publicRequest())
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	appt := repo.appts[got.AppointmentID]
	if appt.Status != model.StatusPending {
		t.Fatalf("expected pending, got %s", appt.Status)
	}
	if appt.ClientID != "client-ana@example.com" {
		t.Fatalf("expected normalized client email, got %s", appt.ClientID)
	}
	if !appt.StartTime.Equal(time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %s", appt.StartTime)
	}
	if len(repo.events) != 1 || repo.events[0].EventType != EventCreated {
		t.Fatalf("expected one created event, got %+v", repo.events)
	}
}

func TestBookConflictIsReported(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Book(ctx, publicRequest()); err != nil {
		t.Fatalf("first book: %v", err)
	}
	// The checker still reports the slot free; the storage insert decides.
	req := publicRequest()
	req.Client.Email = "other@example.com"
	_, err := svc.Book(ctx, req)
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
	if len(repo.appts) != 1 || len(repo.events) != 1 {
		t.Fatalf("expected loser to leave no trace, got %d appts %d events", len(repo.appts), len(repo.events))
	}
}

func TestBookUnavailable(t *testing.T) {
	svc, repo, checker := newTestService()
	checker.err = slots.ErrSlotUnavailable

	if _, err := svc.Book(context.Background(), publicRequest()); !errors.Is(err, slots.ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	if repo.createCalls != 0 {
		t.Fatal("expected no insert attempt")
	}
}

func TestBookMonthlyLimit(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.ent = &storage.BusinessEntitlements{BusinessID: "b1", Tier: "free", MaxMonthlyAppointments: 1}
	ctx := context.Background()

	if _, err := svc.Book(ctx, publicRequest()); err != nil {
		t.Fatalf("first book: %v", err)
	}
	req := publicRequest()
	req.Time = "12:00"
	if _, err := svc.Book(ctx, req); !errors.Is(err, ErrLimitReached) {
		t.Fatalf("expected ErrLimitReached, got %v", err)
	}

	req.Date = "2026-03-02"
	if _, err := svc.Book(ctx, req); err != nil {
		t.Fatalf("expected next month to be free, got %v", err)
	}
	if repo.unlockedCounts != 0 {
		t.Fatalf("expected every monthly count under the business lock, got %d unlocked", repo.unlockedCounts)
	}
}

func TestBookIdempotencyReplay(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	req := publicRequest()
	req.IdempotencyKey = "k1"

	first, err := svc.Book(ctx, req)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	second, err := svc.Book(ctx, req)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Replayed || second.AppointmentID != first.AppointmentID {
		t.Fatalf("expected replay of %s, got %+v", first.AppointmentID, second)
	}
	if repo.createCalls != 1 {
		t.Fatalf("expected one insert, got %d", repo.createCalls)
	}
	if rec := repo.idem["b1/k1"]; rec.StatusCode != 201 || len(rec.ResponsePayload) == 0 {
		t.Fatalf("expected stored response, got %+v", rec)
	}
}

func TestBookValidation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	cases := []func(*BookRequest){
		func(r *BookRequest) { r.ServiceID = "" },
		func(r *BookRequest) { r.Client.Email = "" },
		func(r *BookRequest) { r.Client.Email = "not-an-email" },
		func(r *BookRequest) { r.Status = model.StatusCompleted },
	}
	for i, mutate := range cases {
		req := publicRequest()
		mutate(&req)
		if _, err := svc.Book(ctx, req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}

	req := publicRequest()
	req.ClientID = "unknown"
	if _, err := svc.Book(ctx, req); !errors.Is(err, ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
}

func TestReschedule(t *testing.T) {
	svc, repo, checker := newTestService()
	ctx := context.Background()

	booked, err := svc.Book(ctx, publicRequest())
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	moved, err := svc.Reschedule(ctx, RescheduleRequest{
		BusinessID: "b1", AppointmentID: booked.AppointmentID, Date: "2026-02-02", Time: "10:30",
	})
	if err != nil {
		t.Fatalf("reschedule overlapping itself: %v", err)
	}
	if checker.lastQuery.ExcludeID != booked.AppointmentID || checker.lastQuery.ServiceID != "s1" {
		t.Fatalf("expected edit-mode query, got %+v", checker.lastQuery)
	}
	if !checker.lastQuery.KeepStart.Equal(time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected current start to be kept, got %s", checker.lastQuery.KeepStart)
	}
	if !moved.StartTime.Equal(time.Date(2026, 2, 2, 10, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %s", moved.StartTime)
	}
	if last := repo.events[len(repo.events)-1]; last.EventType != EventRescheduled {
		t.Fatalf("expected rescheduled event, got %s", last.EventType)
	}

	if _, err := svc.SetStatus(ctx, "b1", booked.AppointmentID, model.StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err = svc.Reschedule(ctx, RescheduleRequest{
		BusinessID: "b1", AppointmentID: booked.AppointmentID, Date: "2026-02-03", Time: "10:00",
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected cancelled appointment to be fixed, got %v", err)
	}

	if _, err := svc.Reschedule(ctx, RescheduleRequest{BusinessID: "b1", AppointmentID: "nope", Date: "2026-02-03", Time: "10:00"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetStatus(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	booked, err := svc.Book(ctx, publicRequest())
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	id := booked.AppointmentID

	if _, err := svc.SetStatus(ctx, "b1", id, model.StatusCompleted); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected pending -> completed to be rejected, got %v", err)
	}
	if _, err := svc.SetStatus(ctx, "b1", id, model.StatusConfirmed); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	events := len(repo.events)
	if _, err := svc.SetStatus(ctx, "b1", id, model.StatusConfirmed); err != nil {
		t.Fatalf("repeat confirm: %v", err)
	}
	if len(repo.events) != events {
		t.Fatal("expected repeated status to emit nothing")
	}
	if got, err := svc.SetStatus(ctx, "b1", id, model.StatusCompleted); err != nil || got.Status != model.StatusCompleted {
		t.Fatalf("complete: %v %+v", err, got)
	}
	if _, err := svc.SetStatus(ctx, "b1", id, model.StatusCancelled); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected completed to be terminal, got %v", err)
	}
	if _, err := svc.SetStatus(ctx, "b1", id, model.Status("archived")); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected unknown status to be rejected, got %v", err)
	}
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]model.Status]bool{
		{model.StatusPending, model.StatusConfirmed}:   true,
		{model.StatusPending, model.StatusCancelled}:   true,
		{model.StatusConfirmed, model.StatusCompleted}: true,
		{model.StatusConfirmed, model.StatusCancelled}: true,
	}
	all := []model.Status{model.StatusPending, model.StatusConfirmed, model.StatusCancelled, model.StatusCompleted}
	for _, from := range all {
		for _, to := range all {
			want := from == to || allowed[[2]model.Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}
