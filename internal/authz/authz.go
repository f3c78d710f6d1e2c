// Package authz decides what an actor may do to an event's tickets.
package authz

import (
	"ticket-service/internal/apperr"
	"ticket-service/internal/models"

	"github.com/google/uuid"
)

// Actor is the authenticated caller. A nil *Actor is an anonymous guest.
type Actor struct {
	UserID uuid.UUID
	Role   string
}

// Capability names an action on an event's tickets
type Capability string

const (
	CapPurchase      Capability = "purchase"
	CapCheckIn       Capability = "check_in"
	CapViewAttendees Capability = "view_attendees"
)

// Authorize returns nil when actor may exercise c on event, else a Forbidden error
func Authorize(actor *Actor, c Capability, event *models.Event) error {
	switch c {
	case CapPurchase:
		if actor != nil && actor.UserID == event.OrganizerID {
			return apperr.Forbidden(apperr.CodeOwnEvent, "organizers cannot buy tickets for their own events")
		}
		return nil

	case CapCheckIn:
		if actor == nil {
			return apperr.Forbidden(apperr.CodeRoleNotAllowed, "only scanners can verify tickets")
		}
		switch actor.Role {
		case models.RoleScanner:
			// Scanners are not bound to an event.
			return nil
		case models.RoleOrganizer:
			return requireOwner(actor, event, "this ticket does not belong to your event")
		default:
			return apperr.Forbidden(apperr.CodeRoleNotAllowed, "only scanners can verify tickets")
		}

	case CapViewAttendees:
		if actor == nil {
			return apperr.Forbidden(apperr.CodeRoleNotAllowed, "authentication required")
		}
		if actor.Role == models.RoleAdmin {
			return nil
		}
		return requireOwner(actor, event, "you do not organize this event")
	}

	return apperr.Forbidden("", "unknown capability "+string(c))
}

// CanScan reports whether the role may use the gate scanner at all
func CanScan(actor *Actor) bool {
	return actor != nil && (actor.Role == models.RoleScanner || actor.Role == models.RoleOrganizer)
}

func requireOwner(actor *Actor, event *models.Event, message string) error {
	if actor.UserID != event.OrganizerID {
		return apperr.Forbidden(apperr.CodeNotEventOwner, message)
	}
	return nil
}
