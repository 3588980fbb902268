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

// BorrowRequest creates one reservation per item, all for the same user and
// dates. With Waitlist set a partly free range is accepted and the request
// is kept as the desired range.
type BorrowRequest struct {
	UserID   string
	ItemIDs  []string
	Start    time.Time
	End      time.Time
	Waitlist bool
	Delivery model.Delivery
}

type borrowKind int

const (
	borrowLoan borrowKind = iota
	borrowRequest
)

func (k borrowKind) String() string {
	if k == borrowLoan {
		return "loan"
	}
	return "request"
}

// TryLoan validates a loan and returns the reservations it would create.
func (s *Service) TryLoan(ctx context.Context, req BorrowRequest) ([]model.Reservation, error) {
	return s.borrow(ctx, req, borrowLoan, s.begin(false))
}

// Loan lends items starting today. The items go on loan.
func (s *Service) Loan(ctx context.Context, req BorrowRequest) ([]model.Reservation, error) {
	return s.borrow(ctx, req, borrowLoan, s.begin(true))
}

func (s *Service) TryRequest(ctx context.Context, req BorrowRequest) ([]model.Reservation, error) {
	return s.borrow(ctx, req, borrowRequest, s.begin(false))
}

// Request places a hold starting today or later. Item statuses are left
// alone.
func (s *Service) Request(ctx context.Context, req BorrowRequest) ([]model.Reservation, error) {
	return s.borrow(ctx, req, borrowRequest, s.begin(true))
}

func (s *Service) borrow(ctx context.Context, req BorrowRequest, kind borrowKind, op opContext) ([]model.Reservation, error) {
	req.Start, req.End = model.DateOf(req.Start), model.DateOf(req.End)
	itemIDs := unique(req.ItemIDs)

	var created []model.Reservation
	attrs := []attribute.KeyValue{
		attribute.String("circulation.user_id", req.UserID),
		attribute.Int("circulation.items", len(itemIDs)),
		attribute.Bool("circulation.apply", op.apply),
	}
	err := s.run(ctx, kind.String(), attrs, func(ctx context.Context, tx storage.Tx) error {
		var c checks
		if len(itemIDs) == 0 {
			c.fail(CheckItems, "at least one item is required")
		}
		items, err := lockItems(ctx, tx, itemIDs, &c)
		if err != nil {
			return err
		}
		var user model.User
		userKnown := false
		if req.UserID == "" {
			c.fail(CheckUser, "a user is required")
		} else {
			user, err = tx.GetUser(ctx, req.UserID)
			switch {
			case err == nil:
				userKnown = true
			case errors.Is(err, storage.ErrNotFound):
				c.fail(CheckUser, "unknown user %s", req.UserID)
			default:
				return err
			}
		}

		switch kind {
		case borrowLoan:
			checkItemStatus(&c, items, model.ItemOnShelf)
			if !req.Start.Equal(op.today) {
				c.fail(CheckStartDate, "for a loan the start date must be today")
			}
		case borrowRequest:
			checkItemStatus(&c, items, model.ItemOnLoan, model.ItemOnShelf)
			if req.Start.Before(op.today) {
				c.fail(CheckStartDate, "to request, the start date must be today or later")
			}
		}

		grant := availability.Range{Start: req.Start, End: req.End}
		if !grant.Valid() {
			c.fail(CheckDate, "the start date %s is after the end date %s", model.FormatDate(req.Start), model.FormatDate(req.End))
		} else if len(items) > 0 {
			// Duration and availability need the records; unknown ones were
			// reported above.
			if userKnown {
				maxDays, err := s.rules.MaxLoanPeriod(ctx, user, items)
				if err != nil {
					return fmt.Errorf("max loan period: %w", err)
				}
				if days := model.DaysBetween(req.Start, req.End); days > maxDays {
					c.fail(CheckDuration, "the desired loan period (%d days) exceeds the allowed period of %d days", days, maxDays)
				}
			}

			busy, err := busyRanges(ctx, tx, idsOfItems(items), nil)
			if err != nil {
				return err
			}
			outcome := availability.Check(grant, busy, op.today)
			switch {
			case outcome.Available():
			case outcome.Contained == nil || !req.Waitlist:
				c.add(CheckDateSuggestion, outcome.Err())
			case kind == borrowLoan && !outcome.Contained.Start.Equal(req.Start):
				c.add(CheckDateSuggestion, outcome.Err())
			default:
				grant = *outcome.Contained
			}
		}
		if ve := c.err(); ve != nil {
			return ve
		}

		status, event := model.StatusRequested, model.EventCreatedRequest
		if kind == borrowLoan {
			status, event = model.StatusOnLoan, model.EventCreatedLoan
		}
		delivery := req.Delivery
		if delivery == "" {
			delivery = model.DeliveryPickup
		}
		groupID := s.newID()
		created = make([]model.Reservation, 0, len(items))
		for _, item := range items {
			created = append(created, model.Reservation{
				ID:           s.newID(),
				GroupID:      groupID,
				ItemID:       item.ID,
				UserID:       user.ID,
				Status:       status,
				DesiredStart: req.Start,
				DesiredEnd:   req.End,
				Start:        grant.Start,
				End:          grant.End,
				IssuedAt:     op.now,
				Delivery:     delivery,
				UpdatedAt:    op.now,
			})
		}
		if !op.apply {
			return nil
		}

		for i, r := range created {
			if err := tx.InsertReservation(ctx, r); err != nil {
				return err
			}
			if kind == borrowLoan {
				item := items[i]
				item.Status = model.ItemOnLoan
				if err := tx.UpdateItem(ctx, item); err != nil {
					return err
				}
			}
			if err := s.emit(ctx, tx, op, event, r, ""); err != nil {
				return err
			}
		}
		return s.verify(ctx, tx, idsOfItems(items))
	})
	if err != nil {
		return nil, err
	}
	if op.apply {
		for _, r := range created {
			s.logger.Info("reservation created",
				"kind", kind.String(),
				"reservation_id", r.ID,
				"item_id", r.ItemID,
				"user_id", r.UserID,
				"start", model.FormatDate(r.Start),
				"end", model.FormatDate(r.End),
				"waitlisted", r.Waitlisted(),
			)
		}
	}
	return created, nil
}
