package circulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/availability"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/model"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
)

// Availability previews whether [start, end] is free on the item. A conflict
// is reported in the outcome, not as an error.
func (s *Service) Availability(ctx context.Context, itemID string, start, end time.Time) (availability.Outcome, error) {
	op := s.begin(false)
	req := availability.Range{Start: model.DateOf(start), End: model.DateOf(end)}
	var out availability.Outcome
	attrs := []attribute.KeyValue{attribute.String("circulation.item_id", itemID)}
	err := s.run(ctx, "availability", attrs, func(ctx context.Context, tx storage.Tx) error {
		var c checks
		if itemID == "" {
			c.fail(CheckItems, "an item is required")
		} else if _, err := lockItems(ctx, tx, []string{itemID}, &c); err != nil {
			return err
		}
		if !req.Valid() {
			c.fail(CheckDate, "the start date %s is after the end date %s", model.FormatDate(req.Start), model.FormatDate(req.End))
		}
		if ve := c.err(); ve != nil {
			return ve
		}
		busy, err := busyRanges(ctx, tx, []string{itemID}, nil)
		if err != nil {
			return err
		}
		out = availability.Check(req, busy, op.today)
		return nil
	})
	if err != nil {
		return availability.Outcome{}, err
	}
	return out, nil
}

func (s *Service) ListReservations(ctx context.Context, f storage.ReservationFilter) ([]model.Reservation, error) {
	f.Limit = storage.NormalizeLimit(f.Limit)
	return s.store.ListReservations(ctx, f)
}

// Desk list names.
const (
	ListOnShelfPendingRequests = "on_shelf_pending_requests"
	ListOnLoanPendingRequests  = "on_loan_pending_requests"
	ListOverduePendingRequests = "overdue_pending_requests"
	ListOverdueItems           = "overdue_items"
	ListLatestLoans            = "latest_loans"
)

// DeskLists names every list DeskList accepts.
var DeskLists = []string{
	ListOnShelfPendingRequests,
	ListOnLoanPendingRequests,
	ListOverduePendingRequests,
	ListOverdueItems,
	ListLatestLoans,
}

const latestLoansWindow = 7

// DeskList returns one of the circulation desk's work lists. from and to
// only apply to latest_loans, which defaults to the last week.
func (s *Service) DeskList(ctx context.Context, name string, from, to time.Time, limit int) ([]model.Reservation, error) {
	requested := []model.ReservationStatus{model.StatusRequested}
	f := storage.ReservationFilter{Limit: limit}
	switch name {
	case ListOnShelfPendingRequests:
		f.Statuses = requested
		f.ItemStatuses = []model.ItemStatus{model.ItemOnShelf}
	case ListOnLoanPendingRequests:
		f.Statuses = requested
		f.ItemStatuses = []model.ItemStatus{model.ItemOnLoan}
	case ListOverduePendingRequests:
		f.Statuses = requested
		f.ItemOverdue = true
	case ListOverdueItems:
		f.Statuses = []model.ReservationStatus{model.StatusOnLoan}
		f.Overdue = true
	case ListLatestLoans:
		today := model.DateOf(s.now().UTC())
		f.Statuses = []model.ReservationStatus{model.StatusOnLoan, model.StatusFinished}
		f.StartFrom, f.StartTo = model.DateOf(from), model.DateOf(to)
		if from.IsZero() {
			f.StartFrom = today.AddDate(0, 0, -latestLoansWindow)
		}
		if to.IsZero() {
			f.StartTo = today
		}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownList, name)
	}
	return s.ListReservations(ctx, f)
}

func (s *Service) GetItem(ctx context.Context, id string) (model.Item, error) {
	return s.store.GetItem(ctx, id)
}

// SaveItem registers or replaces an item's catalog data. New items default
// to on_shelf. An existing item keeps its status: only circulation
// operations move it, so a differing status is a violation.
func (s *Service) SaveItem(ctx context.Context, item model.Item) error {
	var c checks
	if item.ID == "" {
		c.fail(CheckItems, "an item id is required")
		return c.err()
	}
	current, err := s.store.GetItem(ctx, item.ID)
	switch {
	case err == nil:
		if item.Status != "" && item.Status != current.Status {
			c.fail(CheckItemsStatus, "item %s is %s; its status changes through circulation operations only", item.ID, current.Status)
		}
		item.Status = current.Status
	case errors.Is(err, storage.ErrNotFound):
		if item.Status == "" {
			item.Status = model.ItemOnShelf
		}
		if _, err := model.ParseItemStatus(string(item.Status)); err != nil {
			c.add(CheckItemsStatus, err)
		}
	default:
		return err
	}
	if ve := c.err(); ve != nil {
		return ve
	}
	return s.store.SaveItem(ctx, item)
}

func (s *Service) SaveUser(ctx context.Context, user model.User) error {
	if user.ID == "" {
		var c checks
		c.fail(CheckUser, "a user id is required")
		return c.err()
	}
	return s.store.SaveUser(ctx, user)
}
