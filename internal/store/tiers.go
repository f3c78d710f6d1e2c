package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ticket-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// checkViolation is the Postgres SQLSTATE for a failed CHECK constraint
const checkViolation = "23514"

// CreateUser inserts a user. It returns false when the username or e-mail
// is already taken.
func (s *queries) CreateUser(ctx context.Context, user *models.User) (bool, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	query := `
		INSERT INTO users (id, username, email, first_name, last_name, role, phone_number, password_hash, is_guest, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING
		RETURNING created_at`

	err := s.q.QueryRowxContext(ctx, query,
		user.ID, user.Username, user.Email, user.FirstName, user.LastName, user.Role,
		user.PhoneNumber, user.PasswordHash, user.IsGuest, user.IsActive).Scan(&user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert user: %w", err)
	}
	return true, nil
}

// GetUser retrieves a user by ID
func (s *queries) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := sqlx.GetContext(ctx, s.q, &user, "SELECT * FROM users WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by e-mail, case-insensitively
func (s *queries) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := sqlx.GetContext(ctx, s.q, &user,
		"SELECT * FROM users WHERE email <> '' AND lower(email) = lower($1)", email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateEvent inserts an event
func (s *queries) CreateEvent(ctx context.Context, event *models.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	query := `
		INSERT INTO events (id, organizer_id, title, start_at, end_at, is_published)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	return s.q.QueryRowxContext(ctx, query,
		event.ID, event.OrganizerID, event.Title, event.StartAt, event.EndAt, event.IsPublished).
		Scan(&event.CreatedAt)
}

// GetEvent retrieves an event by ID
func (s *queries) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	err := sqlx.GetContext(ctx, s.q, &event, "SELECT * FROM events WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// CreateTier inserts a ticket tier
func (s *queries) CreateTier(ctx context.Context, tier *models.TicketTier) error {
	if tier.ID == uuid.Nil {
		tier.ID = uuid.New()
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO ticket_tiers (id, event_id, name, description, price, quantity_allocated, quantity_sold)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tier.ID, tier.EventID, tier.Name, tier.Description, tier.Price, tier.QuantityAllocated, tier.QuantitySold)
	return err
}

// GetTier retrieves a ticket tier by ID
func (s *queries) GetTier(ctx context.Context, id uuid.UUID) (*models.TicketTier, error) {
	var tier models.TicketTier
	err := sqlx.GetContext(ctx, s.q, &tier, "SELECT * FROM ticket_tiers WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tier, nil
}

// ListTiers retrieves all ticket tiers
func (s *queries) ListTiers(ctx context.Context) ([]models.TicketTier, error) {
	var tiers []models.TicketTier
	err := sqlx.SelectContext(ctx, s.q, &tiers, "SELECT * FROM ticket_tiers ORDER BY event_id, name")
	return tiers, err
}

// CommitTierSold increments quantity_sold only if the result stays within
// the allocation. The guard and the write are one statement, so concurrent
// commits against the same tier cannot oversell.
func (s *queries) CommitTierSold(ctx context.Context, tierID uuid.UUID, quantity int) (*models.TicketTier, error) {
	var tier models.TicketTier
	err := sqlx.GetContext(ctx, s.q, &tier, `
		UPDATE ticket_tiers
		SET quantity_sold = quantity_sold + $1
		WHERE id = $2 AND quantity_sold + $1 <= quantity_allocated
		RETURNING *`,
		quantity, tierID)
	if err == nil {
		return &tier, nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == checkViolation {
		return nil, ErrInsufficientCapacity
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to commit inventory: %w", err)
	}

	if _, err := s.GetTier(ctx, tierID); err != nil {
		return nil, err
	}
	return nil, ErrInsufficientCapacity
}
