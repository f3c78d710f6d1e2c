package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User roles
const (
	RoleOrganizer = "ORGANIZER"
	RoleAttendee  = "ATTENDEE"
	RoleScanner   = "SCANNER"
	RoleAdmin     = "ADMIN"
)

// User is a buyer, organizer or gate scanner account
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	FirstName    string    `db:"first_name" json:"first_name"`
	LastName     string    `db:"last_name" json:"last_name"`
	Role         string    `db:"role" json:"role"`
	PhoneNumber  string    `db:"phone_number" json:"phone_number,omitempty"`
	PasswordHash string    `db:"password_hash" json:"-"`
	IsGuest      bool      `db:"is_guest" json:"is_guest"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// DisplayName returns the full name, falling back to the username
func (u *User) DisplayName() string {
	full := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if full != "" {
		return full
	}
	return u.Username
}

// Event is a ticketed happening owned by one organizer
type Event struct {
	ID          uuid.UUID `db:"id" json:"id"`
	OrganizerID uuid.UUID `db:"organizer_id" json:"organizer_id"`
	Title       string    `db:"title" json:"title"`
	StartAt     time.Time `db:"start_at" json:"start_at"`
	EndAt       time.Time `db:"end_at" json:"end_at"`
	IsPublished bool      `db:"is_published" json:"is_published"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// TicketTier is a priced allocation of tickets for an event
type TicketTier struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	EventID           uuid.UUID       `db:"event_id" json:"event_id"`
	Name              string          `db:"name" json:"name"`
	Description       string          `db:"description" json:"description"`
	Price             decimal.Decimal `db:"price" json:"price"`
	QuantityAllocated int             `db:"quantity_allocated" json:"quantity_allocated"`
	QuantitySold      int             `db:"quantity_sold" json:"quantity_sold"`
}

// Available returns allocated minus sold
func (t *TicketTier) Available() int {
	return t.QuantityAllocated - t.QuantitySold
}

// IsFree reports whether the tier is issued without payment
func (t *TicketTier) IsFree() bool {
	return t.Price.IsZero()
}

// Ticket statuses
const (
	TicketStatusActive    = "ACTIVE"
	TicketStatusCheckedIn = "CHECKED_IN"
	TicketStatusUsed      = "USED"
	TicketStatusCancelled = "CANCELLED"
)

// Ticket is a single redeemable admission. Tickets minted by one group
// purchase share QRCodeHash.
type Ticket struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	Seq           int64      `db:"seq" json:"-"`
	EventID       uuid.UUID  `db:"event_id" json:"event_id"`
	TierID        uuid.UUID  `db:"tier_id" json:"tier_id"`
	OwnerID       uuid.UUID  `db:"owner_id" json:"owner_id"`
	PaymentID     *uuid.UUID `db:"payment_id" json:"payment_id,omitempty"`
	AttendeeName  string     `db:"attendee_name" json:"attendee_name"`
	AttendeeEmail string     `db:"attendee_email" json:"attendee_email"`
	QRCodeHash    string     `db:"qr_code_hash" json:"qr_code_hash"`
	Status        string     `db:"status" json:"status"`
	PurchaseDate  time.Time  `db:"purchase_date" json:"purchase_date"`
	CheckedInAt   *time.Time `db:"checked_in_at" json:"checked_in_at,omitempty"`
	CheckedInBy   *uuid.UUID `db:"checked_in_by" json:"checked_in_by,omitempty"`
}

// Payment statuses
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
)

// Reference code tags, one per purchase origin
const (
	ReferenceTagPaid = "PAY"
	ReferenceTagFree = "FREE"
)

// Payment is one purchase attempt, keyed by its reference code
type Payment struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	UserID        uuid.UUID       `db:"user_id" json:"user_id"`
	EventID       uuid.UUID       `db:"event_id" json:"event_id"`
	TierID        uuid.UUID       `db:"tier_id" json:"tier_id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Quantity      int             `db:"quantity" json:"quantity"`
	PhoneNumber   string          `db:"phone_number" json:"phone_number"`
	ReferenceCode string          `db:"reference_code" json:"reference_code"`
	ProviderRef   string          `db:"provider_ref" json:"provider_ref,omitempty"`
	Status        string          `db:"status" json:"status"`
	FailureReason string          `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the payment has left PENDING
func (p *Payment) IsTerminal() bool {
	return p.Status != PaymentStatusPending
}
