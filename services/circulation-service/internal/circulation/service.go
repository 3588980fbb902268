// Package circulation implements the loan and hold lifecycle. Every
// operation has a Try variant that only validates and a mutating variant
// that validates and applies inside one storage unit of work.
package circulation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/availability"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/model"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/policy"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/storage"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/waitlist"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Service struct {
	store  storage.Store
	rules  policy.Provider
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
	tracer trace.Tracer
}

type Option func(*Service)

// WithClock replaces time.Now. "today" is derived from it once per call.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

func NewService(store storage.Store, rules policy.Provider, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		rules:  rules,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
		tracer: otel.Tracer("circulation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// opContext is fixed at the start of an operation.
type opContext struct {
	now   time.Time
	today time.Time
	apply bool
}

func (s *Service) begin(apply bool) opContext {
	now := s.now().UTC()
	return opContext{now: now, today: model.DateOf(now), apply: apply}
}

// run wraps fn in a span and the store's unit of work.
func (s *Service) run(ctx context.Context, name string, attrs []attribute.KeyValue, fn func(ctx context.Context, tx storage.Tx) error) error {
	ctx, span := s.tracer.Start(ctx, "circulation."+name, trace.WithAttributes(attrs...))
	defer span.End()

	err := s.store.Atomic(ctx, fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Service) emit(ctx context.Context, tx storage.Tx, op opContext, kind model.EventKind, r model.Reservation, reason string) error {
	return tx.RecordEvent(ctx, model.Event{
		Kind:          kind,
		ReservationID: r.ID,
		ItemID:        r.ItemID,
		UserID:        r.UserID,
		OccurredAt:    op.now,
		Reason:        reason,
		Start:         model.FormatDate(r.Start),
		End:           model.FormatDate(r.End),
	})
}

func (s *Service) emitItem(ctx context.Context, tx storage.Tx, op opContext, kind model.EventKind, item model.Item, reason string) error {
	return tx.RecordEvent(ctx, model.Event{
		Kind:       kind,
		ItemID:     item.ID,
		OccurredAt: op.now,
		Reason:     reason,
	})
}

// release re-grants the dates of freed to the item's waiting reservations.
// freed is either a reservation already stored with a terminal status or the
// dropped tail of a shortened loan. source names the reservation that gave
// the dates up.
func (s *Service) release(ctx context.Context, tx storage.Tx, op opContext, freed model.Reservation, source string) error {
	peers, err := tx.ActiveReservations(ctx, freed.ItemID)
	if err != nil {
		return err
	}
	for _, ch := range waitlist.Update(freed, peers) {
		if err := tx.UpdateReservation(ctx, ch.After); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, op, model.EventWaitlistUpdated, ch.After, "dates freed by "+source); err != nil {
			return err
		}
		s.logger.Info("waitlist updated",
			"reservation_id", ch.After.ID,
			"item_id", ch.After.ItemID,
			"released_id", source,
			"start", model.FormatDate(ch.After.Start),
			"end", model.FormatDate(ch.After.End),
		)
	}
	return nil
}

// verify enforces that the active reservations of each item are pairwise
// disjoint.
func (s *Service) verify(ctx context.Context, tx storage.Tx, itemIDs []string) error {
	for _, id := range itemIDs {
		active, err := tx.ActiveReservations(ctx, id)
		if err != nil {
			return err
		}
		sort.Slice(active, func(i, j int) bool { return active[i].Start.Before(active[j].Start) })
		for i := 1; i < len(active); i++ {
			if !active[i].Start.After(active[i-1].End) {
				s.logger.Error("overlap detected",
					"item_id", id,
					"first", active[i-1].ID,
					"second", active[i].ID,
				)
				return fmt.Errorf("%w: item %s reservations %s and %s", ErrOverlap, id, active[i-1].ID, active[i].ID)
			}
		}
	}
	return nil
}

// busyRanges collects the granted ranges of active reservations on items,
// skipping the ids in exclude.
func busyRanges(ctx context.Context, tx storage.Tx, itemIDs []string, exclude map[string]bool) ([]availability.Range, error) {
	var busy []availability.Range
	for _, id := range itemIDs {
		active, err := tx.ActiveReservations(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, r := range active {
			if exclude[r.ID] {
				continue
			}
			busy = append(busy, availability.Range{Start: r.Start, End: r.End})
		}
	}
	return busy, nil
}

// lockItems locks the known items among ids and reports the unknown ones as
// an items violation, so the caller can keep validating.
func lockItems(ctx context.Context, tx storage.Tx, ids []string, c *checks) ([]model.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	items, err := tx.LockItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(items) < len(ids) {
		known := make(map[string]bool, len(items))
		for _, it := range items {
			known[it.ID] = true
		}
		c.fail(CheckItems, "unknown item(s) %s", strings.Join(missing(ids, known), ", "))
	}
	return items, nil
}

// lockReservations loads the reservations, locks their items and reads them
// again so the returned values cannot change until the unit of work ends.
// Unknown ids become a loan_cycle violation.
func lockReservations(ctx context.Context, tx storage.Tx, ids []string, c *checks) ([]model.Reservation, []model.Item, error) {
	ids = unique(ids)
	first, err := tx.GetReservations(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	if len(first) < len(ids) {
		known := make(map[string]bool, len(first))
		for _, r := range first {
			known[r.ID] = true
		}
		c.fail(CheckLoanCycle, "unknown reservation(s) %s", strings.Join(missing(ids, known), ", "))
	}
	if len(first) == 0 {
		return nil, nil, nil
	}
	items, err := lockItems(ctx, tx, itemIDsOf(first), c)
	if err != nil {
		return nil, nil, err
	}
	rs, err := tx.GetReservations(ctx, idsOf(first))
	if err != nil {
		return nil, nil, err
	}
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].IssuedBefore(rs[j]) })
	return rs, items, nil
}

func missing(ids []string, known map[string]bool) []string {
	var out []string
	for _, id := range ids {
		if !known[id] {
			out = append(out, id)
		}
	}
	return out
}

func checkItemStatus(c *checks, items []model.Item, allowed ...model.ItemStatus) {
	var ids, current []string
	for _, it := range items {
		ok := false
		for _, st := range allowed {
			if it.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			ids = append(ids, label(it))
			current = append(current, string(it.Status))
		}
	}
	if len(ids) > 0 {
		want := make([]string, len(allowed))
		for i, st := range allowed {
			want[i] = string(st)
		}
		c.fail(CheckItemsStatus, "item(s) %s in the wrong status: current %s, required %s",
			strings.Join(ids, ", "), strings.Join(current, ", "), strings.Join(want, " or "))
	}
}

func checkReservationStatus(c *checks, rs []model.Reservation, allowed ...model.ReservationStatus) {
	var ids, current []string
	for _, r := range rs {
		ok := false
		for _, st := range allowed {
			if r.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			ids = append(ids, r.ID)
			current = append(current, string(r.Status))
		}
	}
	if len(ids) > 0 {
		want := make([]string, len(allowed))
		for i, st := range allowed {
			want[i] = string(st)
		}
		c.fail(CheckLoanCycleStatus, "reservation(s) %s in the wrong status: current %s, required %s",
			strings.Join(ids, ", "), strings.Join(current, ", "), strings.Join(want, " or "))
	}
}

func label(it model.Item) string {
	if it.Barcode != "" {
		return it.Barcode
	}
	return it.ID
}

func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func itemIDsOf(rs []model.Reservation) []string {
	ids := make([]string, 0, len(rs))
	for _, r := range rs {
		ids = append(ids, r.ItemID)
	}
	return unique(ids)
}

func idsOfItems(items []model.Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

func idsOf(rs []model.Reservation) []string {
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.ID
	}
	return ids
}
