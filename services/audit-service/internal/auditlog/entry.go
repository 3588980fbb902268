// Package auditlog stores every circulation event as an immutable audit
// entry.
package auditlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kinds published by the circulation service, one topic each.
var Kinds = []string{
	"created_loan", "created_request", "finished", "canceled",
	"overdue", "extended", "transformed", "waitlist_updated",
	"lost", "returned_missing", "processed", "returned_processed",
}

// Topic returns the Kafka topic of a kind.
func Topic(kind string) string {
	return "circulation." + kind + ".v1"
}

// DefaultTopics lists the topic of every known kind.
func DefaultTopics() []string {
	out := make([]string, len(Kinds))
	for i, k := range Kinds {
		out[i] = Topic(k)
	}
	return out
}

var ErrInvalidPayload = errors.New("invalid event payload")

type Entry struct {
	EventID       string
	EventType     string
	Kind          string
	ReservationID string
	ItemID        string
	UserID        string
	Reason        string
	Start         string
	End           string
	OccurredAt    time.Time
	Payload       []byte
}

type payload struct {
	Kind          string    `json:"kind"`
	ReservationID string    `json:"reservation_id"`
	ItemID        string    `json:"item_id"`
	UserID        string    `json:"user_id"`
	OccurredAt    time.Time `json:"occurred_at"`
	Reason        string    `json:"reason"`
	Start         string    `json:"start"`
	End           string    `json:"end"`
}

// Decode builds an entry from a message value. Every event names its kind
// and item.
func Decode(eventID, eventType string, value []byte) (Entry, error) {
	var p payload
	if err := json.Unmarshal(value, &p); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	p.Kind = strings.TrimSpace(p.Kind)
	if p.Kind == "" || p.ItemID == "" {
		return Entry{}, fmt.Errorf("%w: kind and item_id are required", ErrInvalidPayload)
	}
	if eventID == "" {
		return Entry{}, fmt.Errorf("%w: missing event id", ErrInvalidPayload)
	}
	if eventType == "" {
		eventType = Topic(p.Kind)
	}
	if p.OccurredAt.IsZero() {
		p.OccurredAt = time.Now().UTC()
	}
	return Entry{
		EventID:       eventID,
		EventType:     eventType,
		Kind:          p.Kind,
		ReservationID: p.ReservationID,
		ItemID:        p.ItemID,
		UserID:        p.UserID,
		Reason:        p.Reason,
		Start:         p.Start,
		End:           p.End,
		OccurredAt:    p.OccurredAt.UTC(),
		Payload:       value,
	}, nil
}
