package service

import (
	"context"

	"ticket-service/internal/models"
	"ticket-service/internal/wallet"

	"github.com/google/uuid"
)

// EventPublisher is implemented by *broker.EventPublisher
type EventPublisher interface {
	PublishPaymentInitiated(ctx context.Context, event *models.PaymentInitiatedEvent) error
	PublishPaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
	PublishTicketsIssued(ctx context.Context, event *models.TicketsIssuedEvent) error
	PublishTicketCheckedIn(ctx context.Context, event *models.TicketCheckedInEvent) error
}

// Notifier delivers a minted ticket to its attendee
type Notifier interface {
	NotifyTicket(ctx context.Context, msg models.TicketNotification) error
}

// PaymentCollector is implemented by *wallet.Client
type PaymentCollector interface {
	Collect(ctx context.Context, req wallet.CollectRequest) (*wallet.CollectResult, error)
}

// AvailabilityCache is implemented by *redisclient.Client
type AvailabilityCache interface {
	GetAvailable(ctx context.Context, tierID uuid.UUID) (int, bool, error)
	SetAvailable(ctx context.Context, tierID uuid.UUID, available int) error
	LowerAvailable(ctx context.Context, tierID uuid.UUID, available int) (int, error)
}
