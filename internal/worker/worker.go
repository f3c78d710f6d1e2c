package worker

import (
	"context"

	"ticket-service/internal/broker"
	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"go.uber.org/zap"
)

// messageSource is satisfied by *broker.Consumer
type messageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// WalletPaymentHandler applies a wallet confirmation
type WalletPaymentHandler interface {
	HandleWalletPayment(ctx context.Context, event *models.WalletPaymentEvent) error
}

// WalletPaymentWorker consumes wallet confirmations from Kafka. It is the
// asynchronous twin of the payment webhook.
type WalletPaymentWorker struct {
	consumer     messageSource
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewWalletPaymentWorker creates a new wallet payment worker
func NewWalletPaymentWorker(consumer messageSource, confirmations WalletPaymentHandler) *WalletPaymentWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnWalletPayment(confirmations.HandleWalletPayment)

	return &WalletPaymentWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start blocks consuming until ctx is cancelled
func (w *WalletPaymentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting wallet payment worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *WalletPaymentWorker) Stop() error {
	w.logger.Info("Stopping wallet payment worker")
	return w.consumer.Close()
}
