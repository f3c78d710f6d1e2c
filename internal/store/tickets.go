package store

import (
	"context"
	"fmt"
	"time"

	"ticket-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CreateTicket inserts a ticket; seq and purchase_date are assigned by the database
func (s *queries) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	if ticket.ID == uuid.Nil {
		ticket.ID = uuid.New()
	}
	if ticket.Status == "" {
		ticket.Status = models.TicketStatusActive
	}

	query := `
		INSERT INTO tickets (id, event_id, tier_id, owner_id, payment_id, attendee_name, attendee_email, qr_code_hash, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq, purchase_date`

	err := s.q.QueryRowxContext(ctx, query,
		ticket.ID, ticket.EventID, ticket.TierID, ticket.OwnerID, ticket.PaymentID,
		ticket.AttendeeName, ticket.AttendeeEmail, ticket.QRCodeHash, ticket.Status).
		Scan(&ticket.Seq, &ticket.PurchaseDate)
	if err != nil {
		return fmt.Errorf("failed to insert ticket: %w", err)
	}
	return nil
}

// LockTicketGroup returns every ticket sharing redemptionID in purchase
// order and locks those rows until the transaction ends
func (s *queries) LockTicketGroup(ctx context.Context, redemptionID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := sqlx.SelectContext(ctx, s.q, &tickets, `
		SELECT * FROM tickets
		WHERE qr_code_hash = $1
		ORDER BY purchase_date, seq
		FOR UPDATE`,
		redemptionID)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// MarkCheckedIn moves an ACTIVE ticket to CHECKED_IN. It returns
// ErrConflict if the ticket is no longer ACTIVE.
func (s *queries) MarkCheckedIn(ctx context.Context, ticketID, actorID uuid.UUID, at time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE tickets
		SET status = $1, checked_in_at = $2, checked_in_by = $3
		WHERE id = $4 AND status = $5`,
		models.TicketStatusCheckedIn, at, actorID, ticketID, models.TicketStatusActive)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// ListTicketsByOwner retrieves a buyer's tickets, newest first
func (s *queries) ListTicketsByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := sqlx.SelectContext(ctx, s.q, &tickets,
		"SELECT * FROM tickets WHERE owner_id = $1 ORDER BY purchase_date DESC, seq DESC", ownerID)
	return tickets, err
}

// ListTicketsByEvent retrieves an event's guest list in purchase order
func (s *queries) ListTicketsByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := sqlx.SelectContext(ctx, s.q, &tickets,
		"SELECT * FROM tickets WHERE event_id = $1 ORDER BY purchase_date, seq", eventID)
	return tickets, err
}
