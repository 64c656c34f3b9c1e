package storage

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrSlotTaken is returned when a blocking appointment already overlaps the requested interval.
var ErrSlotTaken = errors.New("time slot already booked")

// IsConflict matches exclusion (23P01) and unique (23505) violations.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "23P01" || pgErr.Code == "23505")
}

// IsNotFound also matches 22P02: a malformed uuid cannot name an existing row.
func IsNotFound(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
