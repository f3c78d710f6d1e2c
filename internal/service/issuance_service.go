package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"ticket-service/internal/apperr"
	"ticket-service/internal/authz"
	"ticket-service/internal/models"
	"ticket-service/internal/store"
	"ticket-service/internal/util"
	"ticket-service/internal/wallet"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	maxGuestAttempts = 5

	// Purchase outcomes
	PurchaseStatusInitiated = "initiated"
	PurchaseStatusIssued    = "issued"
)

// IssuanceService sells tickets: paid tiers one unit at a time through the
// wallet, free tiers in groups that share one redemption id
type IssuanceService struct {
	repo           store.Repository
	ledger         *InventoryLedger
	payments       *PaymentLog
	collector      PaymentCollector
	eventPublisher EventPublisher
	notifier       Notifier
	maxGroupSize   int
	logger         *zap.Logger
}

// NewIssuanceService creates a new issuance service
func NewIssuanceService(
	repo store.Repository,
	ledger *InventoryLedger,
	payments *PaymentLog,
	collector PaymentCollector,
	eventPublisher EventPublisher,
	notifier Notifier,
	maxGroupSize int,
) *IssuanceService {
	return &IssuanceService{
		repo:           repo,
		ledger:         ledger,
		payments:       payments,
		collector:      collector,
		eventPublisher: eventPublisher,
		notifier:       notifier,
		maxGroupSize:   maxGroupSize,
		logger:         util.GetLogger(),
	}
}

// PurchaseRequest is a checkout. Name and Email are required for guests;
// for signed-in buyers Name overrides the attendee name.
type PurchaseRequest struct {
	TierID      uuid.UUID `json:"tier_id"`
	Quantity    int       `json:"quantity"`
	PhoneNumber string    `json:"phone_number"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
}

// PurchaseResult is returned for both policies
type PurchaseResult struct {
	Status        string      `json:"status"`
	ReferenceCode string      `json:"transaction_ref"`
	ProviderRef   string      `json:"provider_ref,omitempty"`
	TicketID      *uuid.UUID  `json:"ticket_id,omitempty"`
	RedemptionID  string      `json:"redemption_id,omitempty"`
	Quantity      int         `json:"quantity"`
	TicketIDs     []uuid.UUID `json:"ticket_ids,omitempty"`
}

// Issued is one minted group, before post-commit delivery
type Issued struct {
	RedemptionID string
	Payment      *models.Payment
	Tier         *models.TicketTier
	Event        *models.Event
	Tickets      []models.Ticket
}

type buyer struct {
	user          *models.User
	attendeeName  string
	attendeeEmail string
}

// Purchase runs a checkout for actor, which is nil for guests
func (s *IssuanceService) Purchase(ctx context.Context, actor *authz.Actor, req *PurchaseRequest) (*PurchaseResult, error) {
	ctx, span := util.StartSpan(ctx, "IssuanceService.Purchase")
	defer span.End()

	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if err := s.validate(actor, req); err != nil {
		util.PurchasesTotal.WithLabelValues("unknown", "invalid").Inc()
		return nil, err
	}

	tier, err := s.repo.GetTier(ctx, req.TierID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("ticket tier %s not found", req.TierID)
	}
	if err != nil {
		return nil, err
	}

	event, err := s.repo.GetEvent(ctx, tier.EventID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("event %s not found", tier.EventID)
	}
	if err != nil {
		return nil, err
	}

	kind := tierKind(tier)

	if !tier.IsFree() {
		if req.Quantity > 1 {
			util.PurchasesTotal.WithLabelValues(kind, "unsupported").Inc()
			return nil, apperr.Unsupported(apperr.CodeGroupPurchaseUnsupported, "group purchases for paid tiers not supported")
		}
		if strings.TrimSpace(req.PhoneNumber) == "" {
			return nil, apperr.Validation("phone_number is required for paid tickets")
		}
	}

	if err := authz.Authorize(actor, authz.CapPurchase, event); err != nil {
		util.PurchasesTotal.WithLabelValues(kind, "forbidden").Inc()
		return nil, err
	}

	if err := s.ledger.RequireAvailable(ctx, tier, req.Quantity); err != nil {
		util.PurchasesTotal.WithLabelValues(kind, "sold_out").Inc()
		return nil, err
	}

	b, err := s.resolveBuyer(ctx, actor, req)
	if err != nil {
		return nil, err
	}

	var result *PurchaseResult
	if tier.IsFree() {
		result, err = s.issueFree(ctx, b, tier, event, req.Quantity)
	} else {
		result, err = s.initiatePaid(ctx, b, tier, event, req.PhoneNumber)
	}
	if err != nil {
		util.PurchasesTotal.WithLabelValues(kind, "failed").Inc()
		return nil, err
	}

	util.PurchasesTotal.WithLabelValues(kind, result.Status).Inc()
	return result, nil
}

func (s *IssuanceService) validate(actor *authz.Actor, req *PurchaseRequest) error {
	if req.TierID == uuid.Nil {
		return apperr.Validation("tier_id is required")
	}
	if req.Quantity < 1 {
		return apperr.Validation("quantity must be at least 1")
	}
	if s.maxGroupSize > 0 && req.Quantity > s.maxGroupSize {
		return apperr.Validation("quantity must be at most %d", s.maxGroupSize)
	}
	if actor == nil {
		if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" {
			return apperr.Validation("guest checkout requires name and email")
		}
		addr, err := mail.ParseAddress(req.Email)
		if err != nil {
			return apperr.Validation("invalid email address")
		}
		// "Name <addr>" keys the guest by the bare address
		req.Email = addr.Address
	}
	return nil
}

// initiatePaid opens a PENDING payment and hands it to the wallet. The
// ticket is minted when the confirmation arrives.
func (s *IssuanceService) initiatePaid(ctx context.Context, b *buyer, tier *models.TicketTier, event *models.Event, phone string) (*PurchaseResult, error) {
	payment, err := s.payments.Open(ctx, s.repo, OpenParams{
		Tag:      models.ReferenceTagPaid,
		UserID:   b.user.ID,
		EventID:  event.ID,
		TierID:   tier.ID,
		Amount:   tier.Price,
		Quantity: 1,
		Phone:    phone,
		Status:   models.PaymentStatusPending,
	})
	if err != nil {
		return nil, err
	}

	collected, err := s.collector.Collect(ctx, wallet.CollectRequest{
		OrganizerID: event.OrganizerID,
		Phone:       phone,
		Amount:      payment.Amount,
		Reference:   payment.ReferenceCode,
	})
	if err != nil {
		// the caller may have gone away; the payment must still leave PENDING
		failCtx := context.WithoutCancel(ctx)
		failErr := s.repo.WithTx(failCtx, func(q store.Querier) error {
			_, _, err := s.payments.Fail(failCtx, q, payment.ReferenceCode, "wallet_unavailable")
			return err
		})
		if failErr != nil {
			s.logger.Error("Failed to mark payment failed",
				zap.String("reference", payment.ReferenceCode),
				zap.Error(failErr))
		}
		s.publishPaymentFailed(failCtx, payment, "wallet_unavailable")
		return nil, apperr.Unavailable(apperr.CodeWalletUnavailable, "payment service unavailable, please try again", err)
	}

	if collected.ProviderRef != "" {
		if err := s.repo.SetPaymentProviderRef(ctx, payment.ID, collected.ProviderRef); err != nil {
			s.logger.Error("Failed to store provider reference",
				zap.String("reference", payment.ReferenceCode),
				zap.Error(err))
		}
	}

	initiated := &models.PaymentInitiatedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypePaymentInitiated),
		ReferenceCode: payment.ReferenceCode,
		UserID:        payment.UserID,
		TierID:        payment.TierID,
		Amount:        payment.Amount,
		ProviderRef:   collected.ProviderRef,
	}
	if err := s.eventPublisher.PublishPaymentInitiated(ctx, initiated); err != nil {
		s.logger.Error("Failed to publish PaymentInitiated event", zap.Error(err))
	}

	return &PurchaseResult{
		Status:        PurchaseStatusInitiated,
		ReferenceCode: payment.ReferenceCode,
		ProviderRef:   collected.ProviderRef,
		Quantity:      1,
	}, nil
}

// issueFree commits inventory, records a completed zero-amount payment and
// mints qty tickets in one transaction
func (s *IssuanceService) issueFree(ctx context.Context, b *buyer, tier *models.TicketTier, event *models.Event, qty int) (*PurchaseResult, error) {
	var issued *Issued
	err := s.repo.WithTx(ctx, func(q store.Querier) error {
		committed, err := s.ledger.Commit(ctx, q, tier.ID, qty)
		if err != nil {
			return err
		}

		payment, err := s.payments.Open(ctx, q, OpenParams{
			Tag:      models.ReferenceTagFree,
			UserID:   b.user.ID,
			EventID:  event.ID,
			TierID:   tier.ID,
			Amount:   decimal.Zero,
			Quantity: qty,
			Status:   models.PaymentStatusCompleted,
		})
		if err != nil {
			return err
		}

		issued, err = s.mint(ctx, q, payment, committed, event, b, qty)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Deliver(ctx, issued)

	first := issued.Tickets[0].ID
	ids := make([]uuid.UUID, len(issued.Tickets))
	for i := range issued.Tickets {
		ids[i] = issued.Tickets[i].ID
	}
	return &PurchaseResult{
		Status:        PurchaseStatusIssued,
		ReferenceCode: issued.Payment.ReferenceCode,
		TicketID:      &first,
		RedemptionID:  issued.RedemptionID,
		Quantity:      qty,
		TicketIDs:     ids,
	}, nil
}

// IssueForPayment mints the single ticket behind a confirmed paid payment.
// It must run inside the transaction that completed the payment.
func (s *IssuanceService) IssueForPayment(ctx context.Context, q store.Querier, payment *models.Payment) (*Issued, error) {
	ctx, span := util.StartSpan(ctx, "IssuanceService.IssueForPayment")
	defer span.End()

	owner, err := q.GetUser(ctx, payment.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load buyer for payment %s: %w", payment.ReferenceCode, err)
	}
	event, err := q.GetEvent(ctx, payment.EventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load event for payment %s: %w", payment.ReferenceCode, err)
	}

	committed, err := s.ledger.Commit(ctx, q, payment.TierID, 1)
	if err != nil {
		return nil, err
	}

	b := &buyer{user: owner, attendeeName: owner.DisplayName(), attendeeEmail: owner.Email}
	return s.mint(ctx, q, payment, committed, event, b, 1)
}

func (s *IssuanceService) mint(ctx context.Context, q store.Querier, payment *models.Payment, tier *models.TicketTier, event *models.Event, b *buyer, qty int) (*Issued, error) {
	issued := &Issued{
		RedemptionID: util.NewRedemptionID(),
		Payment:      payment,
		Tier:         tier,
		Event:        event,
		Tickets:      make([]models.Ticket, 0, qty),
	}

	paymentID := payment.ID
	for i := 1; i <= qty; i++ {
		ticket := models.Ticket{
			EventID:       event.ID,
			TierID:        tier.ID,
			OwnerID:       b.user.ID,
			PaymentID:     &paymentID,
			AttendeeName:  models.GroupAttendeeName(b.attendeeName, i, qty),
			AttendeeEmail: b.attendeeEmail,
			QRCodeHash:    issued.RedemptionID,
			Status:        models.TicketStatusActive,
		}
		if err := q.CreateTicket(ctx, &ticket); err != nil {
			return nil, fmt.Errorf("failed to create ticket %d of %d: %w", i, qty, err)
		}
		issued.Tickets = append(issued.Tickets, ticket)
	}

	s.logger.Info("Tickets minted",
		zap.String("reference", payment.ReferenceCode),
		zap.String("redemption_id", issued.RedemptionID),
		zap.Int("quantity", qty))
	return issued, nil
}

// Deliver runs the post-commit side effects of an issuance: cache update,
// one notification for the group, and the TicketsIssued event. None of
// them can undo the issuance.
func (s *IssuanceService) Deliver(ctx context.Context, issued *Issued) {
	s.ledger.Committed(ctx, issued.Tier)
	util.TicketsIssuedTotal.WithLabelValues(tierKind(issued.Tier)).Add(float64(len(issued.Tickets)))

	first := issued.Tickets[0]
	notification := models.TicketNotification{
		TicketID:      first.ID,
		RedemptionID:  issued.RedemptionID,
		AttendeeName:  first.AttendeeName,
		AttendeeEmail: first.AttendeeEmail,
		EventTitle:    issued.Event.Title,
		EventStart:    issued.Event.StartAt,
		TierName:      issued.Tier.Name,
		GroupSize:     len(issued.Tickets),
	}
	if err := s.notifier.NotifyTicket(ctx, notification); err != nil {
		util.NotificationsFailed.Inc()
		s.logger.Warn("Ticket notification failed",
			zap.String("ticket_id", first.ID.String()),
			zap.Error(err))
	}

	ids := make([]uuid.UUID, len(issued.Tickets))
	for i := range issued.Tickets {
		ids[i] = issued.Tickets[i].ID
	}
	event := &models.TicketsIssuedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeTicketsIssued),
		RedemptionID:  issued.RedemptionID,
		ReferenceCode: issued.Payment.ReferenceCode,
		EventRef:      issued.Event.ID,
		TierID:        issued.Tier.ID,
		OwnerID:       first.OwnerID,
		TicketIDs:     ids,
	}
	if err := s.eventPublisher.PublishTicketsIssued(ctx, event); err != nil {
		s.logger.Error("Failed to publish TicketsIssued event", zap.Error(err))
	}
}

func (s *IssuanceService) publishPaymentFailed(ctx context.Context, payment *models.Payment, reason string) {
	event := &models.PaymentFailedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypePaymentFailed),
		ReferenceCode: payment.ReferenceCode,
		UserID:        payment.UserID,
		Amount:        payment.Amount,
		Reason:        reason,
	}
	if err := s.eventPublisher.PublishPaymentFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish PaymentFailed event", zap.Error(err))
	}
}

// resolveBuyer finds the owning account. Guests are looked up by e-mail and
// provisioned on first purchase.
func (s *IssuanceService) resolveBuyer(ctx context.Context, actor *authz.Actor, req *PurchaseRequest) (*buyer, error) {
	if actor != nil {
		user, err := s.repo.GetUser(ctx, actor.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("user %s not found", actor.UserID)
		}
		if err != nil {
			return nil, err
		}

		name := strings.TrimSpace(req.Name)
		if name == "" {
			name = user.DisplayName()
		}
		return &buyer{user: user, attendeeName: name, attendeeEmail: user.Email}, nil
	}

	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)

	user, err := s.getOrCreateGuest(ctx, name, email, req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	return &buyer{user: user, attendeeName: name, attendeeEmail: email}, nil
}

func (s *IssuanceService) getOrCreateGuest(ctx context.Context, name, email, phone string) (*models.User, error) {
	for attempt := 0; attempt < maxGuestAttempts; attempt++ {
		existing, err := s.repo.GetUserByEmail(ctx, email)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(util.NewSecret()), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash guest credential: %w", err)
		}

		guest := &models.User{
			Username:     util.NewGuestUsername(strings.Split(name, " ")[0]),
			Email:        email,
			FirstName:    name,
			Role:         models.RoleAttendee,
			PhoneNumber:  phone,
			PasswordHash: string(hash),
			IsGuest:      true,
			IsActive:     false,
		}
		created, err := s.repo.CreateUser(ctx, guest)
		if err != nil {
			return nil, err
		}
		if created {
			s.logger.Info("Guest account created",
				zap.String("user_id", guest.ID.String()),
				zap.String("username", guest.Username))
			return guest, nil
		}
		// lost a race on the e-mail or hit a taken username; look again
	}
	return nil, fmt.Errorf("could not provision guest account for %s", email)
}

func tierKind(tier *models.TicketTier) string {
	if tier.IsFree() {
		return "free"
	}
	return "paid"
}
