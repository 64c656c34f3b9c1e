package storage

import (
	"context"
	"time"

	"github.com/agendizo/agendizo/libs/db"
	"github.com/agendizo/agendizo/libs/outbox"
	"github.com/jackc/pgx/v5"
)

type Repository struct {
	pool   *db.Pool
	events *outbox.Repository
}

func NewRepository(pool *db.Pool, events *outbox.Repository) *Repository {
	return &Repository{pool: pool, events: events}
}

type Profile struct {
	ID       string `json:"id"`
	OwnerID  string `json:"owner_id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Timezone string `json:"timezone"`
}

// GetOrCreateProfile creates the business row on first access by its owner.
// The slug defaults to the id until the owner picks one.
func (r *Repository) GetOrCreateProfile(ctx context.Context, businessID, ownerID string) (Profile, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO businesses (id, owner_id, name, slug)
		VALUES ($1, NULLIF($2, '')::uuid, '', $3)
		ON CONFLICT (id) DO NOTHING
	`, businessID, ownerID, businessID)
	if err != nil {
		return Profile{}, err
	}

	var p Profile
	err = r.pool.QueryRow(ctx, `
		SELECT id::text, COALESCE(owner_id::text, ''), name, slug, timezone
		FROM businesses
		WHERE id = $1
	`, businessID).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Slug, &p.Timezone)
	return p, err
}

// UpdateProfile also announces a schedule change since the timezone moves every slot.
func (r *Repository) UpdateProfile(ctx context.Context, businessID, name, slug, timezone string) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		err := affected(tx.Exec(ctx, `
			UPDATE businesses
			SET name = $2, slug = $3, timezone = $4, updated_at = now()
			WHERE id = $1
		`, businessID, name, slug, timezone))
		if err != nil {
			return err
		}
		return r.scheduleChanged(ctx, tx, businessID, "profile")
	})
}

type Service struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	DurationMinutes int       `json:"duration_minutes"`
	PriceCents      int64     `json:"price_cents"`
	Description     string    `json:"description"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}

func (r *Repository) CreateService(ctx context.Context, businessID string, s Service) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO services (business_id, name, duration_minutes, price_cents, description, active)
		VALUES ($1, $2, $3, $4, $5, true)
		RETURNING id::text
	`, businessID, s.Name, s.DurationMinutes, s.PriceCents, s.Description).Scan(&id)
	return id, err
}

func (r *Repository) UpdateService(ctx context.Context, businessID string, s Service) error {
	return affected(r.pool.Exec(ctx, `
		UPDATE services
		SET name = $3, duration_minutes = $4, price_cents = $5, description = $6, active = $7, updated_at = now()
		WHERE id = $1 AND business_id = $2
	`, s.ID, businessID, s.Name, s.DurationMinutes, s.PriceCents, s.Description, s.Active))
}

// DeactivateService hides a service from booking; existing appointments keep referencing it.
func (r *Repository) DeactivateService(ctx context.Context, businessID, serviceID string) error {
	return affected(r.pool.Exec(ctx, `
		UPDATE services SET active = false, updated_at = now()
		WHERE id = $1 AND business_id = $2
	`, serviceID, businessID))
}

func (r *Repository) ListServices(ctx context.Context, businessID string) ([]Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, name, duration_minutes, price_cents, COALESCE(description, ''), active, created_at
		FROM services
		WHERE business_id = $1
		ORDER BY active DESC, name
	`, businessID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Service, error) {
		var s Service
		err := row.Scan(&s.ID, &s.Name, &s.DurationMinutes, &s.PriceCents, &s.Description, &s.Active, &s.CreatedAt)
		return s, err
	})
}

type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Repository) CreateClient(ctx context.Context, businessID string, c Client) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO clients (business_id, name, email, phone, notes)
		VALUES ($1, $2, lower($3), $4, $5)
		RETURNING id::text
	`, businessID, c.Name, c.Email, c.Phone, c.Notes).Scan(&id)
	return id, err
}

func (r *Repository) UpdateClient(ctx context.Context, businessID string, c Client) error {
	return affected(r.pool.Exec(ctx, `
		UPDATE clients
		SET name = $3, email = lower($4), phone = $5, notes = $6, updated_at = now()
		WHERE id = $1 AND business_id = $2
	`, c.ID, businessID, c.Name, c.Email, c.Phone, c.Notes))
}

func (r *Repository) DeleteClient(ctx context.Context, businessID, clientID string) error {
	return affected(r.pool.Exec(ctx, `
		DELETE FROM clients WHERE id = $1 AND business_id = $2
	`, clientID, businessID))
}

// ListClients matches search against name, email and phone.
func (r *Repository) ListClients(ctx context.Context, businessID, search string, limit int) ([]Client, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, name, email, COALESCE(phone, ''), COALESCE(notes, ''), created_at
		FROM clients
		WHERE business_id = $1
			AND ($2 = '' OR name ILIKE '%' || $2 || '%' OR email ILIKE '%' || $2 || '%' OR phone ILIKE '%' || $2 || '%')
		ORDER BY name
		LIMIT $3
	`, businessID, search, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Client, error) {
		var c Client
		err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Notes, &c.CreatedAt)
		return c, err
	})
}
