package notify

import (
	"time"

	"github.com/google/uuid"
)

// Meta describes an envelope for brokers and cross-instance relays.
type Meta struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Time          time.Time `json:"time"`
	Producer      string    `json:"producer,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Envelope wraps an Event on the wire.
type Envelope struct {
	Meta Meta  `json:"meta"`
	Data Event `json:"data"`
}

// Wrap builds an envelope; the correlation id falls back to a fresh uuid.
func Wrap(evt Event, producer, correlationID string) Envelope {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return Envelope{
		Meta: Meta{
			ID:            evt.ID,
			Type:          evt.Kind,
			Time:          evt.OccurredAt.UTC(),
			Producer:      producer,
			CorrelationID: correlationID,
		},
		Data: evt,
	}
}
