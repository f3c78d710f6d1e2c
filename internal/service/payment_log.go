package service

import (
	"context"
	"errors"
	"fmt"

	"ticket-service/internal/apperr"
	"ticket-service/internal/models"
	"ticket-service/internal/store"
	"ticket-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxReferenceAttempts = 5

// Resolution is what Resolve did to a payment
type Resolution int

const (
	ResolutionCompleted Resolution = iota
	ResolutionFailed
	ResolutionAlreadyProcessed
)

// PaymentLog records purchase attempts keyed by reference code
type PaymentLog struct {
	newReference func(tag string) string
	logger       *zap.Logger
}

// NewPaymentLog creates a new payment log
func NewPaymentLog() *PaymentLog {
	return &PaymentLog{
		newReference: util.NewReferenceCode,
		logger:       util.GetLogger(),
	}
}

// OpenParams describes a payment to record
type OpenParams struct {
	Tag      string
	UserID   uuid.UUID
	EventID  uuid.UUID
	TierID   uuid.UUID
	Amount   decimal.Decimal
	Quantity int
	Phone    string
	Status   string
}

// Open records a payment under a fresh reference code, regenerating the
// code on collision
func (pl *PaymentLog) Open(ctx context.Context, q store.Querier, p OpenParams) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentLog.Open")
	defer span.End()

	var lastRef string
	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		payment := &models.Payment{
			UserID:        p.UserID,
			EventID:       p.EventID,
			TierID:        p.TierID,
			Amount:        p.Amount,
			Quantity:      p.Quantity,
			PhoneNumber:   p.Phone,
			ReferenceCode: pl.newReference(p.Tag),
			Status:        p.Status,
		}

		err := q.CreatePayment(ctx, payment)
		if err == nil {
			pl.logger.Info("Payment opened",
				zap.String("reference", payment.ReferenceCode),
				zap.String("status", payment.Status),
				zap.String("amount", payment.Amount.String()))
			return payment, nil
		}
		if !errors.Is(err, store.ErrDuplicateReference) {
			return nil, fmt.Errorf("failed to create payment: %w", err)
		}

		lastRef = payment.ReferenceCode
		pl.logger.Warn("Reference code collision, regenerating", zap.String("reference", lastRef))
	}

	return nil, apperr.DuplicateReference(lastRef)
}

// Resolve applies a confirmation to the payment behind reference. The row
// stays locked until q's transaction ends. COMPLETED is final: a repeated
// confirmation reports ResolutionAlreadyProcessed and changes nothing.
func (pl *PaymentLog) Resolve(ctx context.Context, q store.Querier, reference, status string) (*models.Payment, Resolution, error) {
	ctx, span := util.StartSpan(ctx, "PaymentLog.Resolve")
	defer span.End()

	if status != models.PaymentStatusCompleted && status != models.PaymentStatusFailed {
		return nil, 0, apperr.Validation("unknown payment status %q", status)
	}

	payment, err := q.LockPaymentByReference(ctx, reference)
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, apperr.NotFound("payment %s not found", reference)
	}
	if err != nil {
		return nil, 0, err
	}

	if payment.Status == models.PaymentStatusCompleted || payment.Status == status {
		return payment, ResolutionAlreadyProcessed, nil
	}
	// the buyer was already told to expect a refund
	if payment.Status == models.PaymentStatusFailed && payment.FailureReason == ReasonSoldOutAtConfirmation {
		return payment, ResolutionAlreadyProcessed, nil
	}

	if err := q.UpdatePaymentStatus(ctx, payment.ID, status, ""); err != nil {
		return nil, 0, fmt.Errorf("failed to update payment status: %w", err)
	}
	if payment.Status == models.PaymentStatusFailed {
		pl.logger.Warn("Late confirmation for failed payment", zap.String("reference", reference))
	}
	payment.Status = status
	payment.FailureReason = ""

	pl.logger.Info("Payment resolved",
		zap.String("reference", reference),
		zap.String("status", status))

	if status == models.PaymentStatusCompleted {
		return payment, ResolutionCompleted, nil
	}
	return payment, ResolutionFailed, nil
}

// Fail marks a payment FAILED with a reason unless it already completed.
// changed is false when nothing was written.
func (pl *PaymentLog) Fail(ctx context.Context, q store.Querier, reference, reason string) (*models.Payment, bool, error) {
	payment, err := q.LockPaymentByReference(ctx, reference)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, apperr.NotFound("payment %s not found", reference)
	}
	if err != nil {
		return nil, false, err
	}
	if payment.Status == models.PaymentStatusCompleted {
		return payment, false, nil
	}
	if payment.Status == models.PaymentStatusFailed && payment.FailureReason == reason {
		return payment, false, nil
	}

	if err := q.UpdatePaymentStatus(ctx, payment.ID, models.PaymentStatusFailed, reason); err != nil {
		return nil, false, fmt.Errorf("failed to update payment status: %w", err)
	}
	payment.Status = models.PaymentStatusFailed
	payment.FailureReason = reason

	pl.logger.Warn("Payment failed",
		zap.String("reference", reference),
		zap.String("reason", reason))
	return payment, true, nil
}
