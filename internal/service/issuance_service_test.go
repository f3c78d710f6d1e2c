package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"ticket-service/internal/apperr"
	"ticket-service/internal/models"
	"ticket-service/internal/store"
	"ticket-service/internal/wallet"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestPurchaseFreeGroup(t *testing.T) {
	env := newTestEnv(t)
	tier := env.addTier(t, "0", 10)
	ctx := context.Background()

	res, err := env.issuance.Purchase(ctx, nil, guestRequest(tier.ID, 3, "Mary Jane", "mj@example.com"))
	require.NoError(t, err)

	assert.Equal(t, PurchaseStatusIssued, res.Status)
	assert.Equal(t, 3, res.Quantity)
	assert.Regexp(t, `^FREE-[0-9A-F]{10}$`, res.ReferenceCode)
	require.NotNil(t, res.TicketID)
	require.Len(t, res.TicketIDs, 3)
	assert.Equal(t, res.TicketIDs[0], *res.TicketID)

	group, err := env.mem.LockTicketGroup(ctx, res.RedemptionID)
	require.NoError(t, err)
	require.Len(t, group, 3)
	for i, ticket := range group {
		assert.Equal(t, fmt.Sprintf("Mary Jane (%d/3)", i+1), ticket.AttendeeName)
		assert.Equal(t, "mj@example.com", ticket.AttendeeEmail)
		assert.Equal(t, res.RedemptionID, ticket.QRCodeHash)
		assert.Equal(t, models.TicketStatusActive, ticket.Status)
		assert.Equal(t, res.TicketIDs[i], ticket.ID)
	}

	assert.Equal(t, 3, env.tier(t, tier.ID).QuantitySold)

	payment, err := env.mem.GetPaymentByReference(ctx, res.ReferenceCode)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, payment.Status)
	assert.True(t, payment.Amount.IsZero())
	assert.Equal(t, 3, payment.Quantity)

	// one notification for the whole group, on the first ticket
	require.Len(t, env.notifier.sent, 1)
	assert.Equal(t, res.TicketIDs[0], env.notifier.sent[0].TicketID)
	assert.Equal(t, 3, env.notifier.sent[0].GroupSize)

	require.Len(t, env.publisher.issued, 1)
	assert.Equal(t, res.RedemptionID, env.publisher.issued[0].RedemptionID)

	cached, ok, _ := env.cache.GetAvailable(ctx, tier.ID)
	assert.True(t, ok)
	assert.Equal(t, 7, cached)

	env.collector.AssertNotCalled(t, "Collect", mock.Anything)
}

func TestPurchaseFreeSingleHasNoSuffix(t *testing.T) {
	env := newTestEnv(t)
	tier := env.addTier(t, "0", 5)

	res, err := env.issuance.Purchase(context.Background(), actorFor(env.member), &PurchaseRequest{TierID: tier.ID})
	require.NoError(t, err)

	group, err := env.mem.LockTicketGroup(context.Background(), res.RedemptionID)
	require.NoError(t, err)
	require.Len(t, group, 1)
	assert.Equal(t, "Ada Lovelace", group[0].AttendeeName)
	assert.Equal(t, env.member.Email, group[0].AttendeeEmail)
	assert.Equal(t, env.member.ID, group[0].OwnerID)
}

func TestPurchaseNotificationFailureKeepsTickets(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.err = errors.New("smtp down")
	tier := env.addTier(t, "0", 5)

	res, err := env.issuance.Purchase(context.Background(), nil, guestRequest(tier.ID, 2, "Sam", "sam@example.com"))
	require.NoError(t, err)
	assert.Len(t, res.TicketIDs, 2)
	assert.Equal(t, 2, env.tier(t, tier.ID).QuantitySold)
}

func TestPurchasePaidGroupUnsupported(t *testing.T) {
	env := newTestEnv(t)
	tier := env.addTier(t, "1500", 10)

	_, err := env.issuance.Purchase(context.Background(), nil, guestRequest(tier.ID, 2, "Sam", "sam@example.com"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUnsupported)

	payments, tickets := env.repo.writes()
	assert.Zero(t, payments)
	assert.Zero(t, tickets)
	assert.Zero(t, env.tier(t, tier.ID).QuantitySold)
	env.collector.AssertNotCalled(t, "Collect", mock.Anything)
}

func TestPurchaseOrganizerOwnEvent(t *testing.T) {
	env := newTestEnv(t)

	for _, price := range []string{"0", "800"} {
		tier := env.addTier(t, price, 10)
		_, err := env.issuance.Purchase(context.Background(), actorFor(env.organizer), &PurchaseRequest{TierID: tier.ID, PhoneNumber: "254700000000"})
		assert.ErrorIs(t, err, apperr.ErrForbidden, "price %s", price)
		assert.Equal(t, apperr.CodeOwnEvent, err.(*apperr.Error).Code)
	}

	payments, tickets := env.repo.writes()
	assert.Zero(t, payments)
	assert.Zero(t, tickets)
}

func TestPurchaseValidation(t *testing.T) {
	env := newTestEnv(t)
	free := env.addTier(t, "0", 50)
	paid := env.addTier(t, "100", 50)

	tests := []struct {
		name string
		req  *PurchaseRequest
		want error
	}{
		{"missing tier", &PurchaseRequest{Name: "A", Email: "a@example.com"}, apperr.ErrValidation},
		{"guest without email", &PurchaseRequest{TierID: free.ID, Name: "A"}, apperr.ErrValidation},
		{"guest bad email", guestRequest(free.ID, 1, "A", "not-an-email"), apperr.ErrValidation},
		{"negative quantity", guestRequest(free.ID, -1, "A", "a@example.com"), apperr.ErrValidation},
		{"above max group", guestRequest(free.ID, 11, "A", "a@example.com"), apperr.ErrValidation},
		{"paid without phone", &PurchaseRequest{TierID: paid.ID, Name: "A", Email: "a@example.com"}, apperr.ErrValidation},
		{"unknown tier", guestRequest(env.event.ID, 1, "A", "a@example.com"), apperr.ErrNotFound},
		{"more than available", guestRequest(env.addTier(t, "0", 2).ID, 3, "A", "a@example.com"), apperr.ErrCapacity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.issuance.Purchase(context.Background(), nil, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPurchaseSoldOutCodes(t *testing.T) {
	env := newTestEnv(t)
	tier := env.addTier(t, "0", 2)
	ctx := context.Background()

	_, err := env.issuance.Purchase(ctx, nil, guestRequest(tier.ID, 3, "A", "a@example.com"))
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.CodeInsufficientCapacity, appErr.Code)
	assert.Equal(t, 2, appErr.Details["available"])

	_, err = env.issuance.Purchase(ctx, nil, guestRequest(tier.ID, 2, "A", "a@example.com"))
	require.NoError(t, err)

	_, err = env.issuance.Purchase(ctx, nil, guestRequest(tier.ID, 1, "B", "b@example.com"))
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.CodeSoldOut, appErr.Code)
}

func TestPurchaseUsesLowerCachedAvailability(t *testing.T) {
	env := newTestEnv(t)
	tier := env.addTier(t, "0", 5)
	require.NoError(t, env.cache.SetAvailable(context.Background(), tier.ID, 0))

	_, err := env.issuance.Purchase(context.Background(), nil, guestRequest(tier.ID, 1, "A", "a@example.com"))
	assert.ErrorIs(t, err, apperr.ErrCapacity)
}

func TestGuestAccountReused(t *testing.T) {
	env := newTestEnv(t)
	tier := env.addTier(t, "0", 10)
	ctx := context.Background()

	first, err := env.issuance.Purchase(ctx, nil, guestRequest(tier.ID, 1, "Mary Jane", "MJ@example.com"))
	require.NoError(t, err)
	second, err := env.issuance.Purchase(ctx, nil, guestRequest(tier.ID, 1, "Mary Jane", "mj@example.com"))
	require.NoError(t, err)

	t1, err := env.mem.LockTicketGroup(ctx, first.RedemptionID)
	require.NoError(t, err)
	t2, err := env.mem.LockTicketGroup(ctx, second.RedemptionID)
	require.NoError(t, err)
	assert.Equal(t, t1[0].OwnerID, t2[0].OwnerID)

	guest, err := env.mem.GetUser(ctx, t1[0].OwnerID)
	require.NoError(t, err)
	assert.True(t, guest.IsGuest)
	assert.False(t, guest.IsActive)
	assert.Regexp(t, `^mary_[0-9a-f]{4}$`, guest.Username)
	assert.Equal(t, "Mary Jane", guest.FirstName)
	assert.NotEmpty(t, guest.PasswordHash)
}

func TestGuestEmailWithDisplayName(t *testing.T) {
	env := newTestEnv(t)
	tier := env.addTier(t, "0", 10)
	ctx := context.Background()

	first, err := env.issuance.Purchase(ctx, nil, guestRequest(tier.ID, 1, "Eve Example", "Eve Example <eve@example.com>"))
	require.NoError(t, err)

	group, err := env.mem.LockTicketGroup(ctx, first.RedemptionID)
	require.NoError(t, err)
	require.Len(t, group, 1)
	assert.Equal(t, "eve@example.com", group[0].AttendeeEmail)

	guest, err := env.mem.GetUserByEmail(ctx, "eve@example.com")
	require.NoError(t, err)
	assert.Equal(t, "eve@example.com", guest.Email)
	assert.Equal(t, guest.ID, group[0].OwnerID)

	second, err := env.issuance.Purchase(ctx, nil, guestRequest(tier.ID, 1, "Eve Example", "eve@example.com"))
	require.NoError(t, err)
	again, err := env.mem.LockTicketGroup(ctx, second.RedemptionID)
	require.NoError(t, err)
	assert.Equal(t, guest.ID, again[0].OwnerID)
}

func TestPurchasePaidInitiates(t *testing.T) {
	env := newTestEnv(t)
	tier := env.addTier(t, "1500", 10)
	ctx := context.Background()

	env.collector.On("Collect", mock.MatchedBy(func(req wallet.CollectRequest) bool {
		return req.OrganizerID == env.organizer.ID && req.Phone == "254711111111" && req.Amount.Equal(tier.Price)
	})).Return(&wallet.CollectResult{ProviderRef: "MPX99"}, nil).Once()

	res, err := env.issuance.Purchase(ctx, actorFor(env.member), &PurchaseRequest{TierID: tier.ID, PhoneNumber: "254711111111"})
	require.NoError(t, err)
	assert.Equal(t, PurchaseStatusInitiated, res.Status)
	assert.Regexp(t, `^PAY-[0-9A-F]{10}$`, res.ReferenceCode)
	assert.Nil(t, res.TicketID)

	payment, err := env.mem.GetPaymentByReference(ctx, res.ReferenceCode)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
	assert.Equal(t, "MPX99", payment.ProviderRef)

	// nothing is minted or sold until confirmation
	_, tickets := env.repo.writes()
	assert.Zero(t, tickets)
	assert.Zero(t, env.tier(t, tier.ID).QuantitySold)
	require.Len(t, env.publisher.initiated, 1)

	env.collector.AssertExpectations(t)
}

func TestPurchasePaidWalletDown(t *testing.T) {
	env := newTestEnv(t)
	tier := env.addTier(t, "1500", 10)
	ctx := context.Background()

	env.collector.On("Collect", mock.Anything).Return(nil, wallet.ErrUnavailable).Once()

	_, err := env.issuance.Purchase(ctx, actorFor(env.member), &PurchaseRequest{TierID: tier.ID, PhoneNumber: "254711111111"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUnavailable)
	assert.ErrorIs(t, err, wallet.ErrUnavailable)

	require.Len(t, env.publisher.failed, 1)
	ref := env.publisher.failed[0].ReferenceCode
	payment, err := env.mem.GetPaymentByReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, payment.Status)
	assert.Equal(t, "wallet_unavailable", payment.FailureReason)
}

func TestConcurrentPurchasesNeverOversell(t *testing.T) {
	const capacity, buyers = 5, 20
	env := newTestEnv(t)
	tier := env.addTier(t, "0", capacity)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		capacityE int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := guestRequest(tier.ID, 1, fmt.Sprintf("Guest %d", i), fmt.Sprintf("guest%d@example.com", i))
			_, err := env.issuance.Purchase(context.Background(), nil, req)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperr.ErrCapacity):
				capacityE++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, capacity, succeeded)
	assert.Equal(t, buyers-capacity, capacityE)

	final := env.tier(t, tier.ID)
	assert.Equal(t, capacity, final.QuantitySold)
	assert.LessOrEqual(t, final.QuantitySold, final.QuantityAllocated)
}

func TestLastTicketRace(t *testing.T) {
	env := newTestEnv(t)
	tier := env.addTier(t, "0", 1)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.issuance.Purchase(context.Background(), nil,
				guestRequest(tier.ID, 1, fmt.Sprintf("Racer %d", i), fmt.Sprintf("racer%d@example.com", i)))
		}(i)
	}
	wg.Wait()

	var ok, sold int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrCapacity)
		sold++
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, sold)

	avail, err := env.ledger.Availability(context.Background(), tier.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, avail.Available)

	_, tickets := env.repo.writes()
	assert.Equal(t, 1, tickets)
}

func TestIssueForPaymentRollsBackOnCapacity(t *testing.T) {
	env := newTestEnv(t)
	tier := env.addTier(t, "100", 1)
	ref := env.pendingPayment(t, tier, actorFor(env.member))
	ctx := context.Background()

	_, err := env.mem.CommitTierSold(ctx, tier.ID, 1)
	require.NoError(t, err)

	err = env.repo.WithTx(ctx, func(q store.Querier) error {
		payment, err := q.GetPaymentByReference(ctx, ref)
		require.NoError(t, err)
		_, err = env.issuance.IssueForPayment(ctx, q, payment)
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrCapacity)

	_, tickets := env.repo.writes()
	assert.Zero(t, tickets)
}
