package service

import (
	"context"
	"errors"
	"strings"

	"ticket-service/internal/apperr"
	"ticket-service/internal/models"
	"ticket-service/internal/store"
	"ticket-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReasonSoldOutAtConfirmation marks a paid payment whose tier sold out
// between initiation and confirmation. It needs a refund.
const ReasonSoldOutAtConfirmation = "sold_out_at_confirmation"

// Confirmation outcomes
const (
	OutcomeIssued           = "issued"
	OutcomeFailed           = "failed"
	OutcomeAlreadyProcessed = "already_processed"
	OutcomeSoldOut          = "failed_sold_out"
)

// ConfirmationService reconciles wallet confirmations against the payment
// log. The webhook and the wallet-payments consumer both call Confirm.
type ConfirmationService struct {
	repo           store.Repository
	payments       *PaymentLog
	issuance       *IssuanceService
	eventPublisher EventPublisher
	logger         *zap.Logger
}

// NewConfirmationService creates a new confirmation service
func NewConfirmationService(
	repo store.Repository,
	payments *PaymentLog,
	issuance *IssuanceService,
	eventPublisher EventPublisher,
) *ConfirmationService {
	return &ConfirmationService{
		repo:           repo,
		payments:       payments,
		issuance:       issuance,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// ConfirmResult reports what a confirmation did
type ConfirmResult struct {
	Outcome       string     `json:"status"`
	ReferenceCode string     `json:"reference"`
	TicketID      *uuid.UUID `json:"ticket_id,omitempty"`
	RedemptionID  string     `json:"redemption_id,omitempty"`
}

// Confirm applies status to the payment behind reference. A COMPLETED
// confirmation mints exactly one ticket however often it is delivered.
func (cs *ConfirmationService) Confirm(ctx context.Context, reference, status string) (*ConfirmResult, error) {
	ctx, span := util.StartSpan(ctx, "ConfirmationService.Confirm")
	defer span.End()

	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, apperr.Validation("reference is required")
	}

	var (
		payment    *models.Payment
		resolution Resolution
		issued     *Issued
	)
	err := cs.repo.WithTx(ctx, func(q store.Querier) error {
		var err error
		payment, resolution, err = cs.payments.Resolve(ctx, q, reference, status)
		if err != nil {
			return err
		}
		if resolution != ResolutionCompleted {
			return nil
		}
		issued, err = cs.issuance.IssueForPayment(ctx, q, payment)
		return err
	})

	if errors.Is(err, apperr.ErrCapacity) {
		return cs.failSoldOut(ctx, reference)
	}
	if err != nil {
		util.PaymentResolutionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	result := &ConfirmResult{ReferenceCode: reference}
	switch resolution {
	case ResolutionAlreadyProcessed:
		cs.logger.Info("Confirmation already processed",
			zap.String("reference", reference),
			zap.String("status", payment.Status))
		result.Outcome = OutcomeAlreadyProcessed

	case ResolutionFailed:
		cs.issuance.publishPaymentFailed(ctx, payment, "declined")
		result.Outcome = OutcomeFailed

	case ResolutionCompleted:
		cs.issuance.Deliver(ctx, issued)
		completed := &models.PaymentCompletedEvent{
			BaseEvent:     models.NewBaseEvent(models.EventTypePaymentCompleted),
			ReferenceCode: payment.ReferenceCode,
			UserID:        payment.UserID,
			EventRef:      payment.EventID,
			Amount:        payment.Amount,
		}
		if err := cs.eventPublisher.PublishPaymentCompleted(ctx, completed); err != nil {
			cs.logger.Error("Failed to publish PaymentCompleted event", zap.Error(err))
		}
		ticketID := issued.Tickets[0].ID
		result.Outcome = OutcomeIssued
		result.TicketID = &ticketID
		result.RedemptionID = issued.RedemptionID
	}

	util.PaymentResolutionsTotal.WithLabelValues(result.Outcome).Inc()
	return result, nil
}

// failSoldOut records that a confirmed payment could not be honoured
// because the tier filled up after it was initiated
func (cs *ConfirmationService) failSoldOut(ctx context.Context, reference string) (*ConfirmResult, error) {
	var (
		payment *models.Payment
		changed bool
	)
	err := cs.repo.WithTx(ctx, func(q store.Querier) error {
		var err error
		payment, changed, err = cs.payments.Fail(ctx, q, reference, ReasonSoldOutAtConfirmation)
		return err
	})
	if err != nil {
		util.PaymentResolutionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if !changed {
		// a concurrent delivery completed or failed it first
		util.PaymentResolutionsTotal.WithLabelValues(OutcomeAlreadyProcessed).Inc()
		return &ConfirmResult{Outcome: OutcomeAlreadyProcessed, ReferenceCode: reference}, nil
	}

	cs.logger.Warn("Tier sold out before confirmation, payment needs refund",
		zap.String("reference", reference),
		zap.String("tier_id", payment.TierID.String()))
	cs.issuance.publishPaymentFailed(ctx, payment, ReasonSoldOutAtConfirmation)

	util.PaymentResolutionsTotal.WithLabelValues(OutcomeSoldOut).Inc()
	return &ConfirmResult{Outcome: OutcomeSoldOut, ReferenceCode: reference}, nil
}

// HandleWalletPayment adapts a wallet-payments message to Confirm. Unknown
// references and bad statuses are logged and dropped so the consumer moves on.
func (cs *ConfirmationService) HandleWalletPayment(ctx context.Context, event *models.WalletPaymentEvent) error {
	_, err := cs.Confirm(ctx, event.Reference, event.Status)
	switch apperr.KindOf(err) {
	case apperr.KindNotFound, apperr.KindValidation:
		cs.logger.Warn("Dropping wallet payment event",
			zap.String("reference", event.Reference),
			zap.String("status", event.Status),
			zap.Error(err))
		return nil
	}
	return err
}
