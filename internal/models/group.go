package models

import (
	"fmt"
	"sort"
)

// TicketGroup is every ticket sharing one redemption identifier, in
// purchase order. A single-ticket purchase is a group of one.
type TicketGroup struct {
	RedemptionID string
	Tickets      []Ticket
}

// NewTicketGroup builds a group and sorts its tickets FIFO
func NewTicketGroup(redemptionID string, tickets []Ticket) *TicketGroup {
	sorted := make([]Ticket, len(tickets))
	copy(sorted, tickets)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].PurchaseDate.Equal(sorted[j].PurchaseDate) {
			return sorted[i].PurchaseDate.Before(sorted[j].PurchaseDate)
		}
		return sorted[i].Seq < sorted[j].Seq
	})
	return &TicketGroup{RedemptionID: redemptionID, Tickets: sorted}
}

// Size returns the number of tickets in the group
func (g *TicketGroup) Size() int {
	return len(g.Tickets)
}

// CheckedIn counts tickets that have already been admitted
func (g *TicketGroup) CheckedIn() int {
	n := 0
	for i := range g.Tickets {
		switch g.Tickets[i].Status {
		case TicketStatusCheckedIn, TicketStatusUsed:
			n++
		}
	}
	return n
}

// NextRedeemable returns the earliest ACTIVE ticket
func (g *TicketGroup) NextRedeemable() (*Ticket, bool) {
	for i := range g.Tickets {
		if g.Tickets[i].Status == TicketStatusActive {
			return &g.Tickets[i], true
		}
	}
	return nil, false
}

// LastCheckedIn returns the most recently admitted ticket, if any
func (g *TicketGroup) LastCheckedIn() (*Ticket, bool) {
	var last *Ticket
	for i := range g.Tickets {
		t := &g.Tickets[i]
		if t.CheckedInAt == nil {
			continue
		}
		if last == nil || t.CheckedInAt.After(*last.CheckedInAt) {
			last = t
		}
	}
	return last, last != nil
}

// Progress renders "checked in N of M"
func (g *TicketGroup) Progress() string {
	return FormatProgress(g.CheckedIn(), g.Size())
}

// FormatProgress renders a check-in progress string
func FormatProgress(checkedIn, size int) string {
	return fmt.Sprintf("checked in %d of %d", checkedIn, size)
}

// GroupAttendeeName suffixes the ordinal when a purchase mints more than one ticket
func GroupAttendeeName(name string, ordinal, quantity int) string {
	if quantity <= 1 {
		return name
	}
	return fmt.Sprintf("%s (%d/%d)", name, ordinal, quantity)
}
