package storage

import (
	"context"
	"errors"
	"time"

	"github.com/agendizo/agendizo/libs/db"
	"github.com/agendizo/agendizo/services/booking-service/internal/model"
	"github.com/jackc/pgx/v5"
)

type BookingRepository struct {
	pool *db.Pool
}

type IdempotencyRecord struct {
	BusinessID      string
	IdempotencyKey  string
	AppointmentID   string
	StatusCode      int
	ResponsePayload []byte
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) InTx(ctx context.Context, fn func(pgx.Tx) error) error {
	return r.pool.InTx(ctx, fn)
}

// LockBusiness serializes writers of one business until the transaction ends.
// The lock is re-entrant within a transaction.
func (r *BookingRepository) LockBusiness(ctx context.Context, tx pgx.Tx, businessID string) error {
	return lockBusiness(ctx, tx, businessID)
}

func lockBusiness(ctx context.Context, tx pgx.Tx, businessID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, businessID)
	return err
}

// CreateIfFree inserts appt only when no pending or confirmed appointment of the
// same business overlaps it. It is the single authoritative booking write.
func (r *BookingRepository) CreateIfFree(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (string, error) {
	if err := lockBusiness(ctx, tx, appt.BusinessID); err != nil {
		return "", err
	}
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO appointments (business_id, client_id, service_id, start_time, end_time, status, notes)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM appointments
			WHERE business_id = $1
				AND status IN ('pending', 'confirmed')
				AND start_time < $5
				AND end_time > $4
		)
		RETURNING id::text
	`, appt.BusinessID, appt.ClientID, appt.ServiceID, appt.StartTime, appt.EndTime, appt.Status, appt.Notes).Scan(&id)
	if err != nil {
		if IsNotFound(err) || IsConflict(err) {
			return "", ErrSlotTaken
		}
		return "", err
	}
	return id, nil
}

// MoveIfFree changes the interval and service of an existing appointment under
// the same overlap rule, ignoring the appointment itself.
func (r *BookingRepository) MoveIfFree(ctx context.Context, tx pgx.Tx, appt model.Appointment) error {
	if err := lockBusiness(ctx, tx, appt.BusinessID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE appointments a
		SET service_id = $3, start_time = $4, end_time = $5, updated_at = now()
		WHERE a.id = $1 AND a.business_id = $2
			AND NOT EXISTS (
				SELECT 1 FROM appointments o
				WHERE o.business_id = $2
					AND o.id <> $1
					AND o.status IN ('pending', 'confirmed')
					AND o.start_time < $5
					AND o.end_time > $4
			)
	`, appt.ID, appt.BusinessID, appt.ServiceID, appt.StartTime, appt.EndTime)
	if err != nil {
		if IsConflict(err) {
			return ErrSlotTaken
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotTaken
	}
	return nil
}

func (r *BookingRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, businessID, appointmentID string, status model.Status) error {
	_, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $3, updated_at = now()
		WHERE id = $1 AND business_id = $2
	`, appointmentID, businessID, string(status))
	return err
}

const appointmentColumns = `a.id::text, a.business_id::text, a.client_id::text, a.service_id::text,
	a.start_time, a.end_time, a.status, COALESCE(a.notes, ''),
	COALESCE(c.name, ''), COALESCE(s.name, ''), a.created_at, a.updated_at`

const appointmentJoins = `
	FROM appointments a
	LEFT JOIN clients c ON c.id = a.client_id
	LEFT JOIN services s ON s.id = a.service_id`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var status string
	err := row.Scan(&a.ID, &a.BusinessID, &a.ClientID, &a.ServiceID, &a.StartTime, &a.EndTime,
		&status, &a.Notes, &a.ClientName, &a.ServiceName, &a.CreatedAt, &a.UpdatedAt)
	a.Status = model.Status(status)
	return a, err
}

func (r *BookingRepository) GetAppointmentForUpdate(ctx context.Context, tx pgx.Tx, businessID, appointmentID string) (model.Appointment, error) {
	return scanAppointment(tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+appointmentJoins+`
		WHERE a.id = $1 AND a.business_id = $2
		FOR UPDATE OF a
	`, appointmentID, businessID))
}

// ListBlocking returns pending and confirmed appointments overlapping [from, to).
func (r *BookingRepository) ListBlocking(ctx context.Context, businessID string, from, to time.Time, excludeID string) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+appointmentJoins+`
		WHERE a.business_id = $1
			AND a.status IN ('pending', 'confirmed')
			AND a.start_time < $3
			AND a.end_time > $2
			AND ($4 = '' OR a.id::text <> $4)
		ORDER BY a.start_time
	`, businessID, from, to, excludeID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Appointment, error) {
		return scanAppointment(row)
	})
}

// ListByBusiness lists appointments starting in [from, to), newest first.
func (r *BookingRepository) ListByBusiness(ctx context.Context, businessID string, from, to time.Time, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+appointmentJoins+`
		WHERE a.business_id = $1
			AND a.start_time >= $2
			AND a.start_time < $3
		ORDER BY a.start_time DESC
		LIMIT $4
	`, businessID, from, to, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Appointment, error) {
		return scanAppointment(row)
	})
}

// UpsertClient finds the client by (business, email) or creates it.
func (r *BookingRepository) UpsertClient(ctx context.Context, tx pgx.Tx, c model.Client) (string, error) {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO clients (business_id, name, email, phone)
		VALUES ($1, $2, lower($3), $4)
		ON CONFLICT (business_id, email)
		DO UPDATE SET name = EXCLUDED.name,
			phone = COALESCE(NULLIF(EXCLUDED.phone, ''), clients.phone),
			updated_at = now()
		RETURNING id::text
	`, c.BusinessID, c.Name, c.Email, c.Phone).Scan(&id)
	return id, err
}

func (r *BookingRepository) ClientExists(ctx context.Context, tx pgx.Tx, businessID, clientID string) (bool, error) {
	var ok bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM clients WHERE id = $1 AND business_id = $2)
	`, clientID, businessID).Scan(&ok)
	return ok, err
}

func (r *BookingRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, businessID, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, businessID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (business_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (business_id, idempotency_key) DO NOTHING
	`, businessID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, businessID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *BookingRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, businessID, key, appointmentID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = NULLIF($3, '')::uuid,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE business_id = $1 AND idempotency_key = $2
	`, businessID, key, appointmentID, statusCode, response)
	return err
}

func (r *BookingRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, businessID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT business_id::text,
			idempotency_key,
			COALESCE(appointment_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE business_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, businessID, key).Scan(
		&rec.BusinessID,
		&rec.IdempotencyKey,
		&rec.AppointmentID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
