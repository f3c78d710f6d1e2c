package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ticketAt(seq int64, at time.Time, status string) Ticket {
	return Ticket{ID: uuid.New(), Seq: seq, PurchaseDate: at, Status: status}
}

func TestTicketGroupOrdersByPurchase(t *testing.T) {
	base := time.Now()
	tickets := []Ticket{
		ticketAt(3, base, TicketStatusActive),
		ticketAt(1, base, TicketStatusActive),
		ticketAt(0, base.Add(-time.Minute), TicketStatusActive),
	}

	g := NewTicketGroup("grp", tickets)

	require.Equal(t, 3, g.Size())
	assert.Equal(t, int64(0), g.Tickets[0].Seq)
	assert.Equal(t, int64(1), g.Tickets[1].Seq)
	assert.Equal(t, int64(3), g.Tickets[2].Seq)
}

func TestTicketGroupNextRedeemable(t *testing.T) {
	base := time.Now()
	g := NewTicketGroup("grp", []Ticket{
		ticketAt(1, base, TicketStatusCheckedIn),
		ticketAt(2, base, TicketStatusActive),
		ticketAt(3, base, TicketStatusActive),
	})

	next, ok := g.NextRedeemable()
	require.True(t, ok)
	assert.Equal(t, int64(2), next.Seq)
	assert.Equal(t, 1, g.CheckedIn())
	assert.Equal(t, "checked in 1 of 3", g.Progress())
}

func TestTicketGroupAllConsumed(t *testing.T) {
	base := time.Now()
	first := base.Add(time.Second)
	second := base.Add(2 * time.Second)

	a := ticketAt(1, base, TicketStatusCheckedIn)
	a.CheckedInAt = &first
	a.AttendeeName = "A"
	b := ticketAt(2, base, TicketStatusCheckedIn)
	b.CheckedInAt = &second
	b.AttendeeName = "B"

	g := NewTicketGroup("grp", []Ticket{a, b})

	_, ok := g.NextRedeemable()
	assert.False(t, ok)
	assert.Equal(t, "checked in 2 of 2", g.Progress())

	last, ok := g.LastCheckedIn()
	require.True(t, ok)
	assert.Equal(t, "B", last.AttendeeName)
}

func TestTicketGroupCancelledNotRedeemable(t *testing.T) {
	g := NewTicketGroup("grp", []Ticket{ticketAt(1, time.Now(), TicketStatusCancelled)})

	_, ok := g.NextRedeemable()
	assert.False(t, ok)
	assert.Equal(t, 0, g.CheckedIn())
}

func TestGroupAttendeeName(t *testing.T) {
	assert.Equal(t, "Wanjiku", GroupAttendeeName("Wanjiku", 1, 1))
	assert.Equal(t, "Wanjiku (2/3)", GroupAttendeeName("Wanjiku", 2, 3))
}

func TestUserDisplayName(t *testing.T) {
	u := &User{Username: "otieno_ab12"}
	assert.Equal(t, "otieno_ab12", u.DisplayName())

	u.FirstName = "Otieno"
	u.LastName = "Odhiambo"
	assert.Equal(t, "Otieno Odhiambo", u.DisplayName())
}

func TestTierAvailability(t *testing.T) {
	tier := &TicketTier{QuantityAllocated: 5, QuantitySold: 3}
	assert.Equal(t, 2, tier.Available())
	assert.True(t, tier.IsFree())
}
