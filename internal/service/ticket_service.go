package service

import (
	"context"
	"errors"

	"ticket-service/internal/apperr"
	"ticket-service/internal/authz"
	"ticket-service/internal/models"
	"ticket-service/internal/store"
	"ticket-service/internal/util"

	"github.com/google/uuid"
)

// TicketService answers read-only ticket queries
type TicketService struct {
	repo store.Repository
}

// NewTicketService creates a new ticket service
func NewTicketService(repo store.Repository) *TicketService {
	return &TicketService{repo: repo}
}

// ListMine returns the actor's tickets, newest first
func (ts *TicketService) ListMine(ctx context.Context, actor *authz.Actor) ([]models.Ticket, error) {
	ctx, span := util.StartSpan(ctx, "TicketService.ListMine")
	defer span.End()

	if actor == nil {
		return nil, apperr.Forbidden(apperr.CodeRoleNotAllowed, "authentication required")
	}
	tickets, err := ts.repo.ListTicketsByOwner(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	return tickets, nil
}

// ListAttendees returns an event's guest list in purchase order
func (ts *TicketService) ListAttendees(ctx context.Context, actor *authz.Actor, eventID uuid.UUID) ([]models.Ticket, error) {
	ctx, span := util.StartSpan(ctx, "TicketService.ListAttendees")
	defer span.End()

	event, err := ts.repo.GetEvent(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("event %s not found", eventID)
	}
	if err != nil {
		return nil, err
	}

	if err := authz.Authorize(actor, authz.CapViewAttendees, event); err != nil {
		return nil, err
	}

	tickets, err := ts.repo.ListTicketsByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	return tickets, nil
}
