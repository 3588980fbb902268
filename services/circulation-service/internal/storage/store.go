// Package storage persists items, users and reservations. Every mutating
// circulation operation runs inside Store.Atomic, which serialises work on
// the items it locks and commits all writes or none.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/model"
)

var ErrNotFound = errors.New("not found")

// ReservationFilter narrows ListReservations. Zero fields match everything.
type ReservationFilter struct {
	ItemID   string
	UserID   string
	Statuses []model.ReservationStatus
	// ItemStatuses matches on the current status of the reserved item.
	ItemStatuses []model.ItemStatus
	// Overdue keeps reservations flagged overdue.
	Overdue bool
	// ItemOverdue keeps reservations whose item has an on-loan reservation
	// flagged overdue.
	ItemOverdue bool
	// StartFrom and StartTo bound the granted start date, both inclusive.
	StartFrom time.Time
	StartTo   time.Time
	Limit     int
}

type Store interface {
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	ListReservations(ctx context.Context, f ReservationFilter) ([]model.Reservation, error)
	GetItem(ctx context.Context, id string) (model.Item, error)
	SaveItem(ctx context.Context, item model.Item) error
	SaveUser(ctx context.Context, user model.User) error
}

// Tx is the unit of work handed to Atomic.
type Tx interface {
	// LockItems returns the items in the order of ids and holds them until
	// the unit of work ends. Unknown ids are left out of the result.
	LockItems(ctx context.Context, ids []string) ([]model.Item, error)
	GetUser(ctx context.Context, id string) (model.User, error)
	// GetReservations returns reservations in the order of ids, leaving out
	// unknown ids. It takes no lock; callers lock the reservations' items and
	// read again.
	GetReservations(ctx context.Context, ids []string) ([]model.Reservation, error)
	ActiveReservations(ctx context.Context, itemID string) ([]model.Reservation, error)
	// OverdueCandidates lists on-loan reservations ending before today that
	// are not flagged overdue yet.
	OverdueCandidates(ctx context.Context, today time.Time, limit int) ([]model.Reservation, error)
	InsertReservation(ctx context.Context, r model.Reservation) error
	UpdateReservation(ctx context.Context, r model.Reservation) error
	UpdateItem(ctx context.Context, item model.Item) error
	RecordEvent(ctx context.Context, e model.Event) error
}

func NormalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
