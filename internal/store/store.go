package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"ticket-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

var (
	ErrNotFound             = errors.New("not found")
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrDuplicateReference   = errors.New("duplicate reference code")
	ErrConflict             = errors.New("concurrent update conflict")
)

// Querier is every read and write the services need. Both the pooled
// connection and an open transaction satisfy it.
type Querier interface {
	CreateUser(ctx context.Context, user *models.User) (bool, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	CreateEvent(ctx context.Context, event *models.Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)

	CreateTier(ctx context.Context, tier *models.TicketTier) error
	GetTier(ctx context.Context, id uuid.UUID) (*models.TicketTier, error)
	ListTiers(ctx context.Context) ([]models.TicketTier, error)
	CommitTierSold(ctx context.Context, tierID uuid.UUID, quantity int) (*models.TicketTier, error)

	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error)
	LockPaymentByReference(ctx context.Context, reference string) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, paymentID uuid.UUID, status, reason string) error
	SetPaymentProviderRef(ctx context.Context, paymentID uuid.UUID, providerRef string) error

	CreateTicket(ctx context.Context, ticket *models.Ticket) error
	LockTicketGroup(ctx context.Context, redemptionID string) ([]models.Ticket, error)
	MarkCheckedIn(ctx context.Context, ticketID, actorID uuid.UUID, at time.Time) error
	ListTicketsByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Ticket, error)
	ListTicketsByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Ticket, error)
}

// Repository is a Querier that can also run a function atomically
type Repository interface {
	Querier
	WithTx(ctx context.Context, fn func(q Querier) error) error
	Close() error
}

// Store is the Postgres-backed Repository
type Store struct {
	*queries
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{queries: &queries{q: db}, db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// WithTx runs fn inside a transaction, committing only if fn returns nil
func (s *Store) WithTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// queries runs statements against either *sqlx.DB or *sqlx.Tx
type queries struct {
	q sqlx.ExtContext
}
