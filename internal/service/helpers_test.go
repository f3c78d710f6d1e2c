package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"ticket-service/internal/authz"
	"ticket-service/internal/models"
	"ticket-service/internal/store"
	"ticket-service/internal/wallet"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu        sync.Mutex
	initiated []*models.PaymentInitiatedEvent
	completed []*models.PaymentCompletedEvent
	failed    []*models.PaymentFailedEvent
	issued    []*models.TicketsIssuedEvent
	checkedIn []*models.TicketCheckedInEvent
}

func (p *recordingPublisher) PublishPaymentInitiated(_ context.Context, e *models.PaymentInitiatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initiated = append(p.initiated, e)
	return nil
}

func (p *recordingPublisher) PublishPaymentCompleted(_ context.Context, e *models.PaymentCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, e)
	return nil
}

func (p *recordingPublisher) PublishPaymentFailed(_ context.Context, e *models.PaymentFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, e)
	return nil
}

func (p *recordingPublisher) PublishTicketsIssued(_ context.Context, e *models.TicketsIssuedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issued = append(p.issued, e)
	return nil
}

func (p *recordingPublisher) PublishTicketCheckedIn(_ context.Context, e *models.TicketCheckedInEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkedIn = append(p.checkedIn, e)
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.TicketNotification
	err  error
}

func (n *recordingNotifier) NotifyTicket(_ context.Context, msg models.TicketNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

type mockCollector struct {
	mock.Mock
}

func (m *mockCollector) Collect(ctx context.Context, req wallet.CollectRequest) (*wallet.CollectResult, error) {
	args := m.Called(req)
	if res := args.Get(0); res != nil {
		return res.(*wallet.CollectResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type fakeCache struct {
	mu     sync.Mutex
	values map[uuid.UUID]int
	getErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[uuid.UUID]int)}
}

func (c *fakeCache) GetAvailable(_ context.Context, tierID uuid.UUID) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return 0, false, c.getErr
	}
	v, ok := c.values[tierID]
	return v, ok, nil
}

func (c *fakeCache) SetAvailable(_ context.Context, tierID uuid.UUID, available int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[tierID] = available
	return nil
}

func (c *fakeCache) LowerAvailable(_ context.Context, tierID uuid.UUID, available int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.values[tierID]; ok && cur <= available {
		return cur, nil
	}
	c.values[tierID] = available
	return available, nil
}

// spyRepo counts payment and ticket writes, inside and outside transactions
type spyRepo struct {
	store.Repository
	mu       sync.Mutex
	payments int
	tickets  int
}

type spyQuerier struct {
	store.Querier
	spy *spyRepo
}

func (s *spyRepo) CreatePayment(ctx context.Context, p *models.Payment) error {
	s.mu.Lock()
	s.payments++
	s.mu.Unlock()
	return s.Repository.CreatePayment(ctx, p)
}

func (s *spyRepo) WithTx(ctx context.Context, fn func(q store.Querier) error) error {
	return s.Repository.WithTx(ctx, func(q store.Querier) error {
		return fn(&spyQuerier{Querier: q, spy: s})
	})
}

func (q *spyQuerier) CreatePayment(ctx context.Context, p *models.Payment) error {
	q.spy.mu.Lock()
	q.spy.payments++
	q.spy.mu.Unlock()
	return q.Querier.CreatePayment(ctx, p)
}

func (q *spyQuerier) CreateTicket(ctx context.Context, t *models.Ticket) error {
	q.spy.mu.Lock()
	q.spy.tickets++
	q.spy.mu.Unlock()
	return q.Querier.CreateTicket(ctx, t)
}

func (s *spyRepo) writes() (payments, tickets int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payments, s.tickets
}

type testEnv struct {
	repo      *spyRepo
	mem       *store.MemStore
	cache     *fakeCache
	publisher *recordingPublisher
	notifier  *recordingNotifier
	collector *mockCollector

	ledger       *InventoryLedger
	payments     *PaymentLog
	issuance     *IssuanceService
	confirmation *ConfirmationService
	checkin      *CheckInService
	tickets      *TicketService

	organizer *models.User
	scanner   *models.User
	member    *models.User
	event     *models.Event
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mem := store.NewMemStore()
	env := &testEnv{
		repo:      &spyRepo{Repository: mem},
		mem:       mem,
		cache:     newFakeCache(),
		publisher: &recordingPublisher{},
		notifier:  &recordingNotifier{},
		collector: &mockCollector{},
	}

	env.ledger = NewInventoryLedger(env.repo, env.cache)
	env.payments = NewPaymentLog()
	env.issuance = NewIssuanceService(env.repo, env.ledger, env.payments, env.collector, env.publisher, env.notifier, 10)
	env.confirmation = NewConfirmationService(env.repo, env.payments, env.issuance, env.publisher)
	env.checkin = NewCheckInService(env.repo, env.publisher)
	env.tickets = NewTicketService(env.repo)

	env.organizer = env.addUser(t, "organizer", models.RoleOrganizer, "Olive", "Organizer")
	env.scanner = env.addUser(t, "scanner", models.RoleScanner, "", "")
	env.member = env.addUser(t, "member", models.RoleAttendee, "Ada", "Lovelace")

	env.event = &models.Event{
		OrganizerID: env.organizer.ID,
		Title:       "Nairobi Jazz Night",
		StartAt:     time.Now().Add(48 * time.Hour),
		EndAt:       time.Now().Add(52 * time.Hour),
		IsPublished: true,
	}
	require.NoError(t, mem.CreateEvent(context.Background(), env.event))

	return env
}

func (e *testEnv) addUser(t *testing.T, username, role, first, last string) *models.User {
	t.Helper()
	u := &models.User{
		Username:  username,
		Email:     username + "@example.com",
		FirstName: first,
		LastName:  last,
		Role:      role,
		IsActive:  true,
	}
	created, err := e.mem.CreateUser(context.Background(), u)
	require.NoError(t, err)
	require.True(t, created)
	return u
}

func (e *testEnv) addTier(t *testing.T, price string, allocated int) *models.TicketTier {
	t.Helper()
	tier := &models.TicketTier{
		EventID:           e.event.ID,
		Name:              fmt.Sprintf("Tier %s", price),
		Price:             decimal.RequireFromString(price),
		QuantityAllocated: allocated,
	}
	require.NoError(t, e.mem.CreateTier(context.Background(), tier))
	return tier
}

func (e *testEnv) tier(t *testing.T, id uuid.UUID) *models.TicketTier {
	t.Helper()
	tier, err := e.mem.GetTier(context.Background(), id)
	require.NoError(t, err)
	return tier
}

func actorFor(u *models.User) *authz.Actor {
	return &authz.Actor{UserID: u.ID, Role: u.Role}
}

func guestRequest(tierID uuid.UUID, qty int, name, email string) *PurchaseRequest {
	return &PurchaseRequest{TierID: tierID, Quantity: qty, Name: name, Email: email, PhoneNumber: "254700000001"}
}

// pendingPayment initiates a paid purchase through a wallet that accepts it
func (e *testEnv) pendingPayment(t *testing.T, tier *models.TicketTier, actor *authz.Actor) string {
	t.Helper()
	e.collector.On("Collect", mock.Anything).Return(&wallet.CollectResult{ProviderRef: "MP-OK"}, nil).Maybe()

	req := &PurchaseRequest{TierID: tier.ID, Quantity: 1, PhoneNumber: "254700000002"}
	if actor == nil {
		req.Name = "Grace Hopper"
		req.Email = "grace@example.com"
	}
	res, err := e.issuance.Purchase(context.Background(), actor, req)
	require.NoError(t, err)
	require.Equal(t, PurchaseStatusInitiated, res.Status)
	return res.ReferenceCode
}
