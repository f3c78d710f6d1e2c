package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ticket-service/internal/apperr"
	"ticket-service/internal/authz"
	"ticket-service/internal/models"
	"ticket-service/internal/store"
	"ticket-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckInStatusValid is reported for an admitted ticket
const CheckInStatusValid = "VALID"

// CheckInService admits the bearers of a redemption id one at a time, in
// purchase order
type CheckInService struct {
	repo           store.Repository
	eventPublisher EventPublisher
	now            func() time.Time
	logger         *zap.Logger
}

// NewCheckInService creates a new check-in service
func NewCheckInService(repo store.Repository, eventPublisher EventPublisher) *CheckInService {
	return &CheckInService{
		repo:           repo,
		eventPublisher: eventPublisher,
		now:            time.Now,
		logger:         util.GetLogger(),
	}
}

// CheckInResult describes an admitted ticket
type CheckInResult struct {
	Status       string    `json:"status"`
	TicketID     uuid.UUID `json:"ticket_id"`
	AttendeeName string    `json:"attendee_name"`
	TierName     string    `json:"tier_name"`
	EventTitle   string    `json:"event"`
	CheckedIn    int       `json:"checked_in"`
	GroupSize    int       `json:"group_size"`
	Progress     string    `json:"progress"`
	CheckedInAt  time.Time `json:"checked_in_at"`
}

// Verify checks in the earliest ACTIVE ticket sharing redemptionID. The
// group stays locked from lookup to transition, so concurrent scans of the
// same code each see the previous scan's result.
func (cs *CheckInService) Verify(ctx context.Context, actor *authz.Actor, redemptionID string) (*CheckInResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckInService.Verify")
	defer span.End()

	if !authz.CanScan(actor) {
		cs.record("forbidden")
		return nil, apperr.Forbidden(apperr.CodeRoleNotAllowed, "only scanners can verify tickets")
	}
	redemptionID = strings.TrimSpace(redemptionID)
	if redemptionID == "" {
		cs.record("invalid")
		return nil, apperr.Validation("no QR code provided")
	}

	var (
		result *CheckInResult
		ticket models.Ticket
		group  *models.TicketGroup
	)
	err := cs.repo.WithTx(ctx, func(q store.Querier) error {
		tickets, err := q.LockTicketGroup(ctx, redemptionID)
		if err != nil {
			return fmt.Errorf("failed to load ticket group: %w", err)
		}
		if len(tickets) == 0 {
			return apperr.NotFound("ticket not found")
		}
		group = models.NewTicketGroup(redemptionID, tickets)

		// every ticket in a group belongs to the same event
		event, err := q.GetEvent(ctx, group.Tickets[0].EventID)
		if err != nil {
			return fmt.Errorf("failed to load event: %w", err)
		}
		if err := authz.Authorize(actor, authz.CapCheckIn, event); err != nil {
			return err
		}

		next, ok := group.NextRedeemable()
		if !ok {
			return cs.allConsumed(ctx, q, group)
		}

		at := cs.now()
		if err := q.MarkCheckedIn(ctx, next.ID, actor.UserID, at); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return cs.allConsumed(ctx, q, group)
			}
			return fmt.Errorf("failed to check in ticket: %w", err)
		}
		next.Status = models.TicketStatusCheckedIn
		next.CheckedInAt = &at
		next.CheckedInBy = &actor.UserID
		ticket = *next

		tier, err := q.GetTier(ctx, next.TierID)
		if err != nil {
			return fmt.Errorf("failed to load tier: %w", err)
		}

		result = &CheckInResult{
			Status:       CheckInStatusValid,
			TicketID:     next.ID,
			AttendeeName: next.AttendeeName,
			TierName:     tier.Name,
			EventTitle:   event.Title,
			CheckedIn:    group.CheckedIn(),
			GroupSize:    group.Size(),
			Progress:     group.Progress(),
			CheckedInAt:  at,
		}
		return nil
	})
	if err != nil {
		cs.record(resultLabel(err))
		return nil, err
	}

	cs.record("valid")
	cs.logger.Info("Ticket checked in",
		zap.String("ticket_id", ticket.ID.String()),
		zap.String("redemption_id", redemptionID),
		zap.String("actor_id", actor.UserID.String()),
		zap.String("progress", result.Progress))

	checkedIn := &models.TicketCheckedInEvent{
		BaseEvent:    models.NewBaseEvent(models.EventTypeTicketCheckedIn),
		TicketID:     ticket.ID,
		RedemptionID: redemptionID,
		EventRef:     ticket.EventID,
		ActorID:      actor.UserID,
		CheckedIn:    result.CheckedIn,
		GroupSize:    result.GroupSize,
	}
	if err := cs.eventPublisher.PublishTicketCheckedIn(ctx, checkedIn); err != nil {
		cs.logger.Error("Failed to publish TicketCheckedIn event", zap.Error(err))
	}

	return result, nil
}

// allConsumed builds the "already used" conflict, carrying enough detail
// for the gate to show who used the last admission
func (cs *CheckInService) allConsumed(ctx context.Context, q store.Querier, group *models.TicketGroup) error {
	progress := group.Progress()
	e := apperr.Conflict(apperr.CodeAllConsumed, "ALREADY USED: "+progress).
		WithDetail("group_size", group.Size()).
		WithDetail("checked_in", group.CheckedIn()).
		WithDetail("progress", progress)

	if last, ok := group.LastCheckedIn(); ok {
		e.WithDetail("attendee_name", last.AttendeeName).
			WithDetail("checked_in_at", *last.CheckedInAt)
		if tier, err := q.GetTier(ctx, last.TierID); err == nil {
			e.WithDetail("tier_name", tier.Name)
		}
	}
	return e
}

func (cs *CheckInService) record(result string) {
	util.CheckInsTotal.WithLabelValues(result).Inc()
}

func resultLabel(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindConflict:
		return "already_used"
	case apperr.KindNotFound:
		return "not_found"
	case apperr.KindForbidden:
		return "forbidden"
	default:
		return "error"
	}
}
