package outbox

import (
	"encoding/json"
	"fmt"

	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/model"
)

// Event is the envelope written to the outbox table. The Kafka topic equals
// EventType and the message key is AggregateID, so all events of one item
// land on one partition in order.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// FromCirculation wraps a circulation event keyed by its item.
func FromCirculation(e model.Event) (Event, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s event: %w", e.Kind, err)
	}
	return Event{
		AggregateType: "item",
		AggregateID:   e.ItemID,
		EventType:     e.Kind.Topic(),
		Payload:       payload,
	}, nil
}
