package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(exchange, key, mandatory, immediate, msg)
	return args.Error(0)
}

func (m *mockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	ret := m.Called(name, durable, autoDelete, exclusive, noWait)
	return amqp.Queue{Name: name}, ret.Error(0)
}

func sampleNotification() models.TicketNotification {
	return models.TicketNotification{
		TicketID:      uuid.New(),
		RedemptionID:  "ckabc123",
		AttendeeName:  "Ada Lovelace (1/2)",
		AttendeeEmail: "ada@example.com",
		EventTitle:    "Launch",
		TierName:      "General",
		GroupSize:     2,
	}
}

func TestQueueNotifier(t *testing.T) {
	ch := new(mockChannel)
	n := &QueueNotifier{ch: ch, queue: "ticket-notifications"}
	msg := sampleNotification()

	ch.On("Publish", "", "ticket-notifications", false, false, mock.MatchedBy(func(p amqp.Publishing) bool {
		var got models.TicketNotification
		if err := json.Unmarshal(p.Body, &got); err != nil {
			return false
		}
		return p.DeliveryMode == amqp.Persistent &&
			p.MessageId == msg.TicketID.String() &&
			got.RedemptionID == msg.RedemptionID &&
			got.GroupSize == 2
	})).Return(nil).Once()

	require.NoError(t, n.NotifyTicket(context.Background(), msg))
	ch.AssertExpectations(t)
}

func TestQueueNotifierError(t *testing.T) {
	ch := new(mockChannel)
	n := &QueueNotifier{ch: ch, queue: "q"}
	ch.On("Publish", "", "q", false, false, mock.Anything).Return(errors.New("channel closed"))

	assert.Error(t, n.NotifyTicket(context.Background(), sampleNotification()))
	assert.NoError(t, n.Close())
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	prev := util.GetLogger()
	util.SetLogger(zap.New(core))
	defer util.SetLogger(prev)

	require.NoError(t, LogNotifier{}.NotifyTicket(context.Background(), sampleNotification()))

	entries := logs.FilterMessage("Ticket notification").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ckabc123", entries[0].ContextMap()["redemption_id"])
}

func TestDeclareQueueLogsThroughZap(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	prev := util.GetLogger()
	util.SetLogger(zap.New(core))
	defer util.SetLogger(prev)

	ch := new(mockChannel)
	ch.On("QueueDeclare", "ticket-notifications", true, false, false, false).Return(nil).Once()
	ch.On("QueueDeclare", "broken", true, false, false, false).Return(errors.New("access refused")).Once()

	require.NoError(t, declareQueue(ch, "ticket-notifications"))
	entries := logs.FilterMessage("Connected to RabbitMQ").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ticket-notifications", entries[0].ContextMap()["queue"])

	assert.ErrorContains(t, declareQueue(ch, "broken"), "failed to declare queue broken")
	assert.Equal(t, 1, logs.Len())
	ch.AssertExpectations(t)
}
