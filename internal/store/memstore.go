package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"ticket-service/internal/models"

	"github.com/google/uuid"
)

// MemStore is an in-process Repository. Transactions run one at a time
// against a private copy of the data that replaces the live copy on commit,
// which gives the same all-or-nothing and no-oversell guarantees as the
// Postgres store.
type MemStore struct {
	mu   sync.Mutex
	data *memData
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{data: newMemData()}
}

// Close is a no-op
func (m *MemStore) Close() error {
	return nil
}

// WithTx runs fn against a snapshot and publishes it if fn returns nil
func (m *MemStore) WithTx(ctx context.Context, fn func(q Querier) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := m.data.clone()
	if err := fn(&memQueries{d: snapshot}); err != nil {
		return err
	}
	m.data = snapshot
	return nil
}

// run executes a single statement outside of any transaction
func (m *MemStore) run(fn func(q *memQueries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memQueries{d: m.data})
}

type memData struct {
	users       map[uuid.UUID]models.User
	events      map[uuid.UUID]models.Event
	tiers       map[uuid.UUID]models.TicketTier
	payments    map[uuid.UUID]models.Payment
	paymentRefs map[string]uuid.UUID
	tickets     map[uuid.UUID]models.Ticket
	seq         int64
}

func newMemData() *memData {
	return &memData{
		users:       make(map[uuid.UUID]models.User),
		events:      make(map[uuid.UUID]models.Event),
		tiers:       make(map[uuid.UUID]models.TicketTier),
		payments:    make(map[uuid.UUID]models.Payment),
		paymentRefs: make(map[string]uuid.UUID),
		tickets:     make(map[uuid.UUID]models.Ticket),
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.events {
		c.events[k] = v
	}
	for k, v := range d.tiers {
		c.tiers[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	for k, v := range d.paymentRefs {
		c.paymentRefs[k] = v
	}
	for k, v := range d.tickets {
		c.tickets[k] = v
	}
	c.seq = d.seq
	return c
}

// memQueries implements Querier over one memData without locking
type memQueries struct {
	d *memData
}

func (q *memQueries) CreateUser(_ context.Context, user *models.User) (bool, error) {
	for _, u := range q.d.users {
		if u.Username == user.Username {
			return false, nil
		}
		if user.Email != "" && strings.EqualFold(u.Email, user.Email) {
			return false, nil
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = time.Now()
	q.d.users[user.ID] = *user
	return true, nil
}

func (q *memQueries) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := q.d.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (q *memQueries) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	if email == "" {
		return nil, ErrNotFound
	}
	for _, u := range q.d.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (q *memQueries) CreateEvent(_ context.Context, event *models.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.CreatedAt = time.Now()
	q.d.events[event.ID] = *event
	return nil
}

func (q *memQueries) GetEvent(_ context.Context, id uuid.UUID) (*models.Event, error) {
	e, ok := q.d.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (q *memQueries) CreateTier(_ context.Context, tier *models.TicketTier) error {
	if tier.ID == uuid.Nil {
		tier.ID = uuid.New()
	}
	q.d.tiers[tier.ID] = *tier
	return nil
}

func (q *memQueries) GetTier(_ context.Context, id uuid.UUID) (*models.TicketTier, error) {
	t, ok := q.d.tiers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (q *memQueries) ListTiers(_ context.Context) ([]models.TicketTier, error) {
	tiers := make([]models.TicketTier, 0, len(q.d.tiers))
	for _, t := range q.d.tiers {
		tiers = append(tiers, t)
	}
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].Name < tiers[j].Name
	})
	return tiers, nil
}

func (q *memQueries) CommitTierSold(_ context.Context, tierID uuid.UUID, quantity int) (*models.TicketTier, error) {
	t, ok := q.d.tiers[tierID]
	if !ok {
		return nil, ErrNotFound
	}
	if t.QuantitySold+quantity > t.QuantityAllocated {
		return nil, ErrInsufficientCapacity
	}
	t.QuantitySold += quantity
	q.d.tiers[tierID] = t
	return &t, nil
}

func (q *memQueries) CreatePayment(_ context.Context, payment *models.Payment) error {
	if _, taken := q.d.paymentRefs[payment.ReferenceCode]; taken {
		return ErrDuplicateReference
	}
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	now := time.Now()
	payment.CreatedAt = now
	payment.UpdatedAt = now
	q.d.payments[payment.ID] = *payment
	q.d.paymentRefs[payment.ReferenceCode] = payment.ID
	return nil
}

func (q *memQueries) GetPaymentByReference(_ context.Context, reference string) (*models.Payment, error) {
	id, ok := q.d.paymentRefs[reference]
	if !ok {
		return nil, ErrNotFound
	}
	p := q.d.payments[id]
	return &p, nil
}

func (q *memQueries) LockPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	return q.GetPaymentByReference(ctx, reference)
}

func (q *memQueries) UpdatePaymentStatus(_ context.Context, paymentID uuid.UUID, status, reason string) error {
	p, ok := q.d.payments[paymentID]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	p.FailureReason = reason
	p.UpdatedAt = time.Now()
	q.d.payments[paymentID] = p
	return nil
}

func (q *memQueries) SetPaymentProviderRef(_ context.Context, paymentID uuid.UUID, providerRef string) error {
	p, ok := q.d.payments[paymentID]
	if !ok {
		return ErrNotFound
	}
	p.ProviderRef = providerRef
	p.UpdatedAt = time.Now()
	q.d.payments[paymentID] = p
	return nil
}

func (q *memQueries) CreateTicket(_ context.Context, ticket *models.Ticket) error {
	if ticket.ID == uuid.Nil {
		ticket.ID = uuid.New()
	}
	if ticket.Status == "" {
		ticket.Status = models.TicketStatusActive
	}
	q.d.seq++
	ticket.Seq = q.d.seq
	ticket.PurchaseDate = time.Now()
	q.d.tickets[ticket.ID] = *ticket
	return nil
}

func (q *memQueries) LockTicketGroup(_ context.Context, redemptionID string) ([]models.Ticket, error) {
	return q.filterTickets(func(t *models.Ticket) bool {
		return t.QRCodeHash == redemptionID
	}, false), nil
}

func (q *memQueries) MarkCheckedIn(_ context.Context, ticketID, actorID uuid.UUID, at time.Time) error {
	t, ok := q.d.tickets[ticketID]
	if !ok {
		return ErrNotFound
	}
	if t.Status != models.TicketStatusActive {
		return ErrConflict
	}
	actor := actorID
	checkedAt := at
	t.Status = models.TicketStatusCheckedIn
	t.CheckedInAt = &checkedAt
	t.CheckedInBy = &actor
	q.d.tickets[ticketID] = t
	return nil
}

func (q *memQueries) ListTicketsByOwner(_ context.Context, ownerID uuid.UUID) ([]models.Ticket, error) {
	return q.filterTickets(func(t *models.Ticket) bool {
		return t.OwnerID == ownerID
	}, true), nil
}

func (q *memQueries) ListTicketsByEvent(_ context.Context, eventID uuid.UUID) ([]models.Ticket, error) {
	return q.filterTickets(func(t *models.Ticket) bool {
		return t.EventID == eventID
	}, false), nil
}

func (q *memQueries) filterTickets(match func(*models.Ticket) bool, newestFirst bool) []models.Ticket {
	var out []models.Ticket
	for _, t := range q.d.tickets {
		t := t
		if match(&t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].Seq > out[j].Seq
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Non-transactional Querier methods

func (m *MemStore) CreateUser(ctx context.Context, user *models.User) (created bool, err error) {
	err = m.run(func(q *memQueries) error {
		created, err = q.CreateUser(ctx, user)
		return err
	})
	return created, err
}

func (m *MemStore) GetUser(ctx context.Context, id uuid.UUID) (user *models.User, err error) {
	err = m.run(func(q *memQueries) error {
		user, err = q.GetUser(ctx, id)
		return err
	})
	return user, err
}

func (m *MemStore) GetUserByEmail(ctx context.Context, email string) (user *models.User, err error) {
	err = m.run(func(q *memQueries) error {
		user, err = q.GetUserByEmail(ctx, email)
		return err
	})
	return user, err
}

func (m *MemStore) CreateEvent(ctx context.Context, event *models.Event) error {
	return m.run(func(q *memQueries) error {
		return q.CreateEvent(ctx, event)
	})
}

func (m *MemStore) GetEvent(ctx context.Context, id uuid.UUID) (event *models.Event, err error) {
	err = m.run(func(q *memQueries) error {
		event, err = q.GetEvent(ctx, id)
		return err
	})
	return event, err
}

func (m *MemStore) CreateTier(ctx context.Context, tier *models.TicketTier) error {
	return m.run(func(q *memQueries) error {
		return q.CreateTier(ctx, tier)
	})
}

func (m *MemStore) GetTier(ctx context.Context, id uuid.UUID) (tier *models.TicketTier, err error) {
	err = m.run(func(q *memQueries) error {
		tier, err = q.GetTier(ctx, id)
		return err
	})
	return tier, err
}

func (m *MemStore) ListTiers(ctx context.Context) (tiers []models.TicketTier, err error) {
	err = m.run(func(q *memQueries) error {
		tiers, err = q.ListTiers(ctx)
		return err
	})
	return tiers, err
}

func (m *MemStore) CommitTierSold(ctx context.Context, tierID uuid.UUID, quantity int) (tier *models.TicketTier, err error) {
	err = m.run(func(q *memQueries) error {
		tier, err = q.CommitTierSold(ctx, tierID, quantity)
		return err
	})
	return tier, err
}

func (m *MemStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return m.run(func(q *memQueries) error {
		return q.CreatePayment(ctx, payment)
	})
}

func (m *MemStore) GetPaymentByReference(ctx context.Context, reference string) (payment *models.Payment, err error) {
	err = m.run(func(q *memQueries) error {
		payment, err = q.GetPaymentByReference(ctx, reference)
		return err
	})
	return payment, err
}

func (m *MemStore) LockPaymentByReference(ctx context.Context, reference string) (*models.Payment, error) {
	return m.GetPaymentByReference(ctx, reference)
}

func (m *MemStore) UpdatePaymentStatus(ctx context.Context, paymentID uuid.UUID, status, reason string) error {
	return m.run(func(q *memQueries) error {
		return q.UpdatePaymentStatus(ctx, paymentID, status, reason)
	})
}

func (m *MemStore) SetPaymentProviderRef(ctx context.Context, paymentID uuid.UUID, providerRef string) error {
	return m.run(func(q *memQueries) error {
		return q.SetPaymentProviderRef(ctx, paymentID, providerRef)
	})
}

func (m *MemStore) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	return m.run(func(q *memQueries) error {
		return q.CreateTicket(ctx, ticket)
	})
}

func (m *MemStore) LockTicketGroup(ctx context.Context, redemptionID string) (tickets []models.Ticket, err error) {
	err = m.run(func(q *memQueries) error {
		tickets, err = q.LockTicketGroup(ctx, redemptionID)
		return err
	})
	return tickets, err
}

func (m *MemStore) MarkCheckedIn(ctx context.Context, ticketID, actorID uuid.UUID, at time.Time) error {
	return m.run(func(q *memQueries) error {
		return q.MarkCheckedIn(ctx, ticketID, actorID, at)
	})
}

func (m *MemStore) ListTicketsByOwner(ctx context.Context, ownerID uuid.UUID) (tickets []models.Ticket, err error) {
	err = m.run(func(q *memQueries) error {
		tickets, err = q.ListTicketsByOwner(ctx, ownerID)
		return err
	})
	return tickets, err
}

func (m *MemStore) ListTicketsByEvent(ctx context.Context, eventID uuid.UUID) (tickets []models.Ticket, err error) {
	err = m.run(func(q *memQueries) error {
		tickets, err = q.ListTicketsByEvent(ctx, eventID)
		return err
	})
	return tickets, err
}
