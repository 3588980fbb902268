package model

import "time"

type EventKind string

const (
	EventCreatedLoan       EventKind = "created_loan"
	EventCreatedRequest    EventKind = "created_request"
	EventFinished          EventKind = "finished"
	EventCanceled          EventKind = "canceled"
	EventOverdue           EventKind = "overdue"
	EventExtended          EventKind = "extended"
	EventTransformed       EventKind = "transformed"
	EventWaitlistUpdated   EventKind = "waitlist_updated"
	EventLost              EventKind = "lost"
	EventReturnedMissing   EventKind = "returned_missing"
	EventProcessed         EventKind = "processed"
	EventReturnedProcessed EventKind = "returned_processed"
)

// Topic is the Kafka topic and outbox event type for the kind.
func (k EventKind) Topic() string {
	return "circulation." + string(k) + ".v1"
}

// AllEventKinds lists every kind in a stable order.
func AllEventKinds() []EventKind {
	return []EventKind{
		EventCreatedLoan, EventCreatedRequest, EventFinished, EventCanceled,
		EventOverdue, EventExtended, EventTransformed, EventWaitlistUpdated,
		EventLost, EventReturnedMissing, EventProcessed, EventReturnedProcessed,
	}
}

// Event is a notification emitted for every state transition. Item level
// events carry no reservation or user.
type Event struct {
	Kind          EventKind `json:"kind"`
	ReservationID string    `json:"reservation_id,omitempty"`
	ItemID        string    `json:"item_id"`
	UserID        string    `json:"user_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
	Reason        string    `json:"reason,omitempty"`
	Start         string    `json:"start,omitempty"`
	End           string    `json:"end,omitempty"`
}
