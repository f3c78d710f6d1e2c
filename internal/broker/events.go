package broker

import (
	"context"
	"encoding/json"

	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// eventWriter is satisfied by *Producer
type eventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events. Payment events are
// keyed by reference code and ticket events by redemption id.
type EventPublisher struct {
	producer eventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer eventWriter) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishPaymentInitiated publishes PaymentInitiated event
func (ep *EventPublisher) PublishPaymentInitiated(ctx context.Context, event *models.PaymentInitiatedEvent) error {
	return ep.producer.PublishEvent(ctx, "payment-"+event.ReferenceCode, event)
}

// PublishPaymentCompleted publishes PaymentCompleted event
func (ep *EventPublisher) PublishPaymentCompleted(ctx context.Context, event *models.PaymentCompletedEvent) error {
	return ep.producer.PublishEvent(ctx, "payment-"+event.ReferenceCode, event)
}

// PublishPaymentFailed publishes PaymentFailed event
func (ep *EventPublisher) PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	return ep.producer.PublishEvent(ctx, "payment-"+event.ReferenceCode, event)
}

// PublishTicketsIssued publishes TicketsIssued event
func (ep *EventPublisher) PublishTicketsIssued(ctx context.Context, event *models.TicketsIssuedEvent) error {
	return ep.producer.PublishEvent(ctx, "group-"+event.RedemptionID, event)
}

// PublishTicketCheckedIn publishes TicketCheckedIn event
func (ep *EventPublisher) PublishTicketCheckedIn(ctx context.Context, event *models.TicketCheckedInEvent) error {
	return ep.producer.PublishEvent(ctx, "group-"+event.RedemptionID, event)
}

// LogWriter stands in for Kafka when no brokers are configured
type LogWriter struct{}

func (LogWriter) PublishEvent(_ context.Context, key string, event interface{}) error {
	util.GetLogger().Info("Domain event", zap.String("key", key), zap.Any("event", event))
	return nil
}

// EventHandler handles incoming events
type EventHandler struct {
	onWalletPayment func(context.Context, *models.WalletPaymentEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnWalletPayment registers a handler for wallet payment confirmations
func (eh *EventHandler) OnWalletPayment(handler func(context.Context, *models.WalletPaymentEvent) error) {
	eh.onWalletPayment = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		// retrying cannot fix the payload, and it would stall the partition
		util.GetLogger().Error("Dropping undecodable message",
			zap.Int64("offset", msg.Offset),
			zap.ByteString("key", msg.Key),
			zap.Error(err))
		return nil
	}

	util.GetLogger().Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeWalletPayment:
		if eh.onWalletPayment != nil {
			var event models.WalletPaymentEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				util.GetLogger().Error("Dropping malformed wallet payment event",
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
				return nil
			}
			return eh.onWalletPayment(ctx, &event)
		}

	default:
		util.GetLogger().Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
