package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ticket-service/internal/models"
	"ticket-service/internal/util"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// publisher is the part of *amqp.Channel the queue notifier uses
type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// QueueNotifier hands ticket notifications to a mail worker over RabbitMQ
type QueueNotifier struct {
	conn  *amqp.Connection
	ch    publisher
	queue string
}

// DialQueue connects to RabbitMQ and declares a durable notification queue
func DialQueue(url, queue string) (*QueueNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareQueue(ch, queue); err != nil {
		conn.Close()
		return nil, err
	}

	return &QueueNotifier{conn: conn, ch: ch, queue: queue}, nil
}

// queueDeclarer is the part of *amqp.Channel used at startup
type queueDeclarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

func declareQueue(ch queueDeclarer, queue string) error {
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	util.GetLogger().Info("Connected to RabbitMQ", zap.String("queue", queue))
	return nil
}

// NotifyTicket enqueues one notification as a persistent JSON message
func (n *QueueNotifier) NotifyTicket(ctx context.Context, msg models.TicketNotification) error {
	_, span := util.StartSpan(ctx, "QueueNotifier.NotifyTicket")
	defer span.End()

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return n.ch.Publish("", n.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.TicketID.String(),
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// Close closes the channel's connection
func (n *QueueNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}

// LogNotifier only logs, used when no queue is configured
type LogNotifier struct{}

func (LogNotifier) NotifyTicket(_ context.Context, msg models.TicketNotification) error {
	util.GetLogger().Info("Ticket notification",
		zap.String("ticket_id", msg.TicketID.String()),
		zap.String("redemption_id", msg.RedemptionID),
		zap.String("attendee_email", msg.AttendeeEmail),
		zap.Int("group_size", msg.GroupSize))
	return nil
}
