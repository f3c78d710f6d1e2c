package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"ticket-service/internal/broker"
	"ticket-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replayConsumer hands a fixed batch of messages to the handler and keeps
// the ones the handler rejected
type replayConsumer struct {
	messages []kafka.Message
	rejected []kafka.Message
	closed   bool
}

func (c *replayConsumer) StartConsuming(ctx context.Context, handler broker.MessageHandler) error {
	for _, msg := range c.messages {
		if err := handler(ctx, msg); err != nil {
			c.rejected = append(c.rejected, msg)
		}
	}
	return nil
}

func (c *replayConsumer) Close() error {
	c.closed = true
	return nil
}

type confirmations struct {
	events []*models.WalletPaymentEvent
	err    error
}

func (c *confirmations) HandleWalletPayment(_ context.Context, event *models.WalletPaymentEvent) error {
	c.events = append(c.events, event)
	return c.err
}

func walletMessage(t *testing.T, reference, status string) kafka.Message {
	t.Helper()
	body, err := json.Marshal(&models.WalletPaymentEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeWalletPayment),
		Reference: reference,
		Status:    status,
	})
	require.NoError(t, err)
	return kafka.Message{Key: []byte("payment-" + reference), Value: body}
}

func TestWalletPaymentWorkerRoutesConfirmations(t *testing.T) {
	other, err := json.Marshal(models.NewBaseEvent(models.EventTypeTicketsIssued))
	require.NoError(t, err)

	consumer := &replayConsumer{messages: []kafka.Message{
		walletMessage(t, "PAY-AAAAAAAAAA", models.PaymentStatusCompleted),
		{Value: other},
		{Value: []byte("not json")},
		walletMessage(t, "PAY-BBBBBBBBBB", models.PaymentStatusFailed),
	}}
	handler := &confirmations{}

	w := NewWalletPaymentWorker(consumer, handler)
	require.NoError(t, w.Start(context.Background()))

	require.Len(t, handler.events, 2)
	assert.Equal(t, "PAY-AAAAAAAAAA", handler.events[0].Reference)
	assert.Equal(t, models.PaymentStatusCompleted, handler.events[0].Status)
	assert.Equal(t, "PAY-BBBBBBBBBB", handler.events[1].Reference)

	// malformed payloads are dropped so the partition keeps moving
	assert.Empty(t, consumer.rejected)

	require.NoError(t, w.Stop())
	assert.True(t, consumer.closed)
}

func TestWalletPaymentWorkerReturnsTransientFailures(t *testing.T) {
	consumer := &replayConsumer{messages: []kafka.Message{
		walletMessage(t, "PAY-CCCCCCCCCC", models.PaymentStatusCompleted),
	}}
	handler := &confirmations{err: errors.New("database unavailable")}

	w := NewWalletPaymentWorker(consumer, handler)
	require.NoError(t, w.Start(context.Background()))

	// the consumer retries these before committing
	assert.Len(t, consumer.rejected, 1)
}
