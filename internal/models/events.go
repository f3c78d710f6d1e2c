package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypePaymentInitiated = "PAYMENT_INITIATED"
	EventTypePaymentCompleted = "PAYMENT_COMPLETED"
	EventTypePaymentFailed    = "PAYMENT_FAILED"
	EventTypeTicketsIssued    = "TICKETS_ISSUED"
	EventTypeTicketCheckedIn  = "TICKET_CHECKED_IN"
	EventTypeWalletPayment    = "WALLET_PAYMENT"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event envelope
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// PaymentInitiatedEvent published after the wallet accepted a collection request
type PaymentInitiatedEvent struct {
	BaseEvent
	ReferenceCode string          `json:"reference_code"`
	UserID        uuid.UUID       `json:"user_id"`
	TierID        uuid.UUID       `json:"tier_id"`
	Amount        decimal.Decimal `json:"amount"`
	ProviderRef   string          `json:"provider_ref"`
}

// PaymentCompletedEvent published when a payment reaches COMPLETED
type PaymentCompletedEvent struct {
	BaseEvent
	ReferenceCode string          `json:"reference_code"`
	UserID        uuid.UUID       `json:"user_id"`
	EventRef      uuid.UUID       `json:"event_ref"`
	Amount        decimal.Decimal `json:"amount"`
}

// PaymentFailedEvent published when a payment reaches FAILED
type PaymentFailedEvent struct {
	BaseEvent
	ReferenceCode string          `json:"reference_code"`
	UserID        uuid.UUID       `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
}

// TicketsIssuedEvent published once per minted group
type TicketsIssuedEvent struct {
	BaseEvent
	RedemptionID  string      `json:"redemption_id"`
	ReferenceCode string      `json:"reference_code"`
	EventRef      uuid.UUID   `json:"event_ref"`
	TierID        uuid.UUID   `json:"tier_id"`
	OwnerID       uuid.UUID   `json:"owner_id"`
	TicketIDs     []uuid.UUID `json:"ticket_ids"`
}

// TicketCheckedInEvent published after a successful gate scan
type TicketCheckedInEvent struct {
	BaseEvent
	TicketID     uuid.UUID `json:"ticket_id"`
	RedemptionID string    `json:"redemption_id"`
	EventRef     uuid.UUID `json:"event_ref"`
	ActorID      uuid.UUID `json:"actor_id"`
	CheckedIn    int       `json:"checked_in"`
	GroupSize    int       `json:"group_size"`
}

// WalletPaymentEvent is the confirmation the wallet emits on its own topic.
// It carries the same fields as the webhook body.
type WalletPaymentEvent struct {
	BaseEvent
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// TicketNotification is what the notification collaborator needs to
// deliver a ticket to its attendee
type TicketNotification struct {
	TicketID      uuid.UUID `json:"ticket_id"`
	RedemptionID  string    `json:"redemption_id"`
	AttendeeName  string    `json:"attendee_name"`
	AttendeeEmail string    `json:"attendee_email"`
	EventTitle    string    `json:"event_title"`
	EventStart    time.Time `json:"event_start"`
	TierName      string    `json:"tier_name"`
	GroupSize     int       `json:"group_size"`
}
