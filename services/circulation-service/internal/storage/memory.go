package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/model"
)

type memoryState struct {
	items        map[string]model.Item
	users        map[string]model.User
	reservations map[string]model.Reservation
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		items:        make(map[string]model.Item, len(s.items)),
		users:        make(map[string]model.User, len(s.users)),
		reservations: make(map[string]model.Reservation, len(s.reservations)),
	}
	for k, v := range s.items {
		out.items[k] = v
	}
	for k, v := range s.users {
		out.users[k] = v
	}
	for k, v := range s.reservations {
		out.reservations[k] = v.Clone()
	}
	return out
}

const defaultEventLimit = 1000

// MemoryStore keeps everything in process. Atomic runs under one lock on a
// copy of the state that replaces the original only when fn succeeds.
// Committed events are kept in a log capped at the newest eventLimit entries.
type MemoryStore struct {
	mu         sync.Mutex
	state      *memoryState
	events     []model.Event
	eventLimit int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memoryState{
			items:        map[string]model.Item{},
			users:        map[string]model.User{},
			reservations: map[string]model.Reservation{},
		},
		eventLimit: defaultEventLimit,
	}
}

func (s *MemoryStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{state: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.state
	s.appendEvents(tx.events)
	return nil
}

func (s *MemoryStore) appendEvents(events []model.Event) {
	s.events = append(s.events, events...)
	if over := len(s.events) - s.eventLimit; s.eventLimit > 0 && over > 0 {
		s.events = append([]model.Event(nil), s.events[over:]...)
	}
}

func (s *MemoryStore) ListReservations(_ context.Context, f ReservationFilter) ([]model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var overdueItems map[string]bool
	if f.ItemOverdue {
		overdueItems = map[string]bool{}
		for _, r := range s.state.reservations {
			if r.Status == model.StatusOnLoan && r.Overdue() {
				overdueItems[r.ItemID] = true
			}
		}
	}
	var out []model.Reservation
	for _, r := range s.state.reservations {
		if f.ItemID != "" && r.ItemID != f.ItemID {
			continue
		}
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, r.Status) {
			continue
		}
		if len(f.ItemStatuses) > 0 && !hasItemStatus(f.ItemStatuses, s.state.items[r.ItemID].Status) {
			continue
		}
		if f.Overdue && !r.Overdue() {
			continue
		}
		if f.ItemOverdue && !overdueItems[r.ItemID] {
			continue
		}
		if !f.StartFrom.IsZero() && r.Start.Before(f.StartFrom) {
			continue
		}
		if !f.StartTo.IsZero() && r.Start.After(f.StartTo) {
			continue
		}
		out = append(out, r.Clone())
	}
	sortByIssue(out)
	if limit := NormalizeLimit(f.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetItem(_ context.Context, id string) (model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.state.items[id]
	if !ok {
		return model.Item{}, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return item, nil
}

func (s *MemoryStore) SaveItem(_ context.Context, item model.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.items[item.ID] = item
	return nil
}

func (s *MemoryStore) SaveUser(_ context.Context, user model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.users[user.ID] = user
	return nil
}

// Reservation returns a committed reservation; tests use it to inspect state.
func (s *MemoryStore) Reservation(id string) (model.Reservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.reservations[id]
	return r.Clone(), ok
}

// Events returns the logged events in emission order.
func (s *MemoryStore) Events() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Event(nil), s.events...)
}

type memoryTx struct {
	state  *memoryState
	events []model.Event
}

func (t *memoryTx) LockItems(_ context.Context, ids []string) ([]model.Item, error) {
	out := make([]model.Item, 0, len(ids))
	for _, id := range ids {
		if item, ok := t.state.items[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (t *memoryTx) GetUser(_ context.Context, id string) (model.User, error) {
	u, ok := t.state.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, nil
}

func (t *memoryTx) GetReservations(_ context.Context, ids []string) ([]model.Reservation, error) {
	out := make([]model.Reservation, 0, len(ids))
	for _, id := range ids {
		if r, ok := t.state.reservations[id]; ok {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (t *memoryTx) ActiveReservations(_ context.Context, itemID string) ([]model.Reservation, error) {
	var out []model.Reservation
	for _, r := range t.state.reservations {
		if r.ItemID == itemID && r.Status.Active() {
			out = append(out, r.Clone())
		}
	}
	sortByIssue(out)
	return out, nil
}

func (t *memoryTx) OverdueCandidates(_ context.Context, today time.Time, limit int) ([]model.Reservation, error) {
	var out []model.Reservation
	for _, r := range t.state.reservations {
		if r.Status == model.StatusOnLoan && r.End.Before(today) && !r.Overdue() {
			out = append(out, r.Clone())
		}
	}
	sortByIssue(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memoryTx) InsertReservation(_ context.Context, r model.Reservation) error {
	if _, exists := t.state.reservations[r.ID]; exists {
		return fmt.Errorf("reservation %s already exists", r.ID)
	}
	t.state.reservations[r.ID] = r.Clone()
	return nil
}

func (t *memoryTx) UpdateReservation(_ context.Context, r model.Reservation) error {
	if _, ok := t.state.reservations[r.ID]; !ok {
		return fmt.Errorf("reservation %s: %w", r.ID, ErrNotFound)
	}
	t.state.reservations[r.ID] = r.Clone()
	return nil
}

func (t *memoryTx) UpdateItem(_ context.Context, item model.Item) error {
	if _, ok := t.state.items[item.ID]; !ok {
		return fmt.Errorf("item %s: %w", item.ID, ErrNotFound)
	}
	t.state.items[item.ID] = item
	return nil
}

func (t *memoryTx) RecordEvent(_ context.Context, e model.Event) error {
	t.events = append(t.events, e)
	return nil
}

func hasStatus(list []model.ReservationStatus, st model.ReservationStatus) bool {
	for _, s := range list {
		if s == st {
			return true
		}
	}
	return false
}

func hasItemStatus(list []model.ItemStatus, st model.ItemStatus) bool {
	for _, s := range list {
		if s == st {
			return true
		}
	}
	return false
}

func sortByIssue(rs []model.Reservation) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].IssuedBefore(rs[j]) })
}
