package notify

import (
	"fmt"
	"time"

	"intake.org/internal/allocation"
	"intake.org/internal/ids"
)

const (
	KindAllocated = allocation.NotificationAllocated
	KindUpcoming  = allocation.NotificationUpcoming
)

// Event is one notification addressed to a single receiver.
type Event struct {
	ID                  string    `json:"id"`
	Kind                string    `json:"kind"`
	ReceiverID          int64     `json:"receiver_id"`
	ReceiverName        string    `json:"receiver_name"`
	CaseType            string    `json:"case_type"`
	RequestingParty     string    `json:"requesting_party,omitempty"`
	CurrentReceiverName string    `json:"current_receiver_name,omitempty"`
	Title               string    `json:"title"`
	Content             string    `json:"content"`
	OccurredAt          time.Time `json:"occurred_at"`
}

func allocatedEvent(rc allocation.Receiver, t allocation.CaseType, party string, at time.Time) Event {
	return Event{
		ID:              ids.NewAt(at),
		Kind:            KindAllocated,
		ReceiverID:      rc.ID,
		ReceiverName:    rc.Name,
		CaseType:        string(t),
		RequestingParty: party,
		Title:           "New case assigned",
		Content:         fmt.Sprintf("A %s case for %s has been assigned to you.", t, partyOrUnknown(party)),
		OccurredAt:      at,
	}
}

func upcomingEvent(rc allocation.Receiver, current string, t allocation.CaseType, party string, at time.Time) Event {
	return Event{
		ID:                  ids.NewAt(at),
		Kind:                KindUpcoming,
		ReceiverID:          rc.ID,
		ReceiverName:        rc.Name,
		CaseType:            string(t),
		RequestingParty:     party,
		CurrentReceiverName: current,
		Title:               "You are next in rotation",
		Content:             fmt.Sprintf("%s just received a %s case for %s. The next %s case goes to you.", current, t, partyOrUnknown(party), t),
		OccurredAt:          at,
	}
}

func partyOrUnknown(party string) string {
	if party == "" {
		return "an unnamed party"
	}
	return party
}
