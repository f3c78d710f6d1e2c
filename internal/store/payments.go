package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ticket-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CreatePayment inserts a payment. A reference code collision returns
// ErrDuplicateReference without aborting an enclosing transaction.
func (s *queries) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}

	query := `
		INSERT INTO payments (id, user_id, event_id, tier_id, amount, quantity, phone_number, reference_code, provider_ref, status, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (reference_code) DO NOTHING
		RETURNING created_at, updated_at`

	row := s.q.QueryRowxContext(ctx, query,
		payment.ID, payment.UserID, payment.EventID, payment.TierID, payment.Amount, payment.Quantity,
		payment.PhoneNumber, payment.ReferenceCode, payment.ProviderRef, payment.Status, payment.FailureReason)

	err := row.Scan(&payment.CreatedAt, &payment.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDuplicateReference
	}
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// GetPaymentByReference retrieves a payment by reference code
func (s *queries) GetPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	return s.getPayment(ctx, "SELECT * FROM payments WHERE reference_code = $1", reference)
}

// LockPaymentByReference retrieves a payment and holds its row lock until the transaction ends
func (s *queries) LockPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	return s.getPayment(ctx, "SELECT * FROM payments WHERE reference_code = $1 FOR UPDATE", reference)
}

func (s *queries) getPayment(ctx context.Context, query, reference string) (*models.Payment, error) {
	var payment models.Payment
	err := sqlx.GetContext(ctx, s.q, &payment, query, reference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdatePaymentStatus updates payment status
func (s *queries) UpdatePaymentStatus(ctx context.Context, paymentID uuid.UUID, status, reason string) error {
	res, err := s.q.ExecContext(ctx,
		"UPDATE payments SET status = $1, failure_reason = $2, updated_at = NOW() WHERE id = $3",
		status, reason, paymentID)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// SetPaymentProviderRef records the collector's own reference for a payment
func (s *queries) SetPaymentProviderRef(ctx context.Context, paymentID uuid.UUID, providerRef string) error {
	res, err := s.q.ExecContext(ctx,
		"UPDATE payments SET provider_ref = $1, updated_at = NOW() WHERE id = $2",
		providerRef, paymentID)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
