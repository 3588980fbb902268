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

// ExtendRequest moves the end of running loans of one user to End. The new
// period is counted from today.
type ExtendRequest struct {
	ReservationIDs []string
	End            time.Time
	Waitlist       bool
}

func (s *Service) TryExtend(ctx context.Context, req ExtendRequest) ([]model.Reservation, error) {
	return s.extend(ctx, req, s.begin(false))
}

// Extend sets a new end date and clears the overdue flag. An end before the
// current one shortens the loan and releases the dropped days.
func (s *Service) Extend(ctx context.Context, req ExtendRequest) ([]model.Reservation, error) {
	return s.extend(ctx, req, s.begin(true))
}

func (s *Service) extend(ctx context.Context, req ExtendRequest, op opContext) ([]model.Reservation, error) {
	end := model.DateOf(req.End)
	var extended []model.Reservation
	attrs := []attribute.KeyValue{
		attribute.StringSlice("circulation.reservation_ids", req.ReservationIDs),
		attribute.String("circulation.end", model.FormatDate(end)),
	}
	err := s.run(ctx, "extend", attrs, func(ctx context.Context, tx storage.Tx) error {
		var c checks
		if len(unique(req.ReservationIDs)) == 0 {
			c.fail(CheckLoanCycle, "at least one reservation is required")
		}
		rs, items, err := lockReservations(ctx, tx, req.ReservationIDs, &c)
		if err != nil {
			return err
		}
		checkReservationStatus(&c, rs, model.StatusOnLoan)

		users := unique(usersOf(rs))
		if len(rs) > 0 && len(users) != 1 {
			c.fail(CheckUsers, "the reservations belong to %d users, expected one", len(users))
		}

		grantEnd := end
		if end.Before(op.today) {
			c.fail(CheckDate, "the end date %s is before today", model.FormatDate(end))
		} else {
			if len(users) == 1 {
				user, err := tx.GetUser(ctx, users[0])
				switch {
				case errors.Is(err, storage.ErrNotFound):
					c.fail(CheckUser, "unknown user %s", users[0])
				case err != nil:
					return err
				default:
					maxDays, err := s.rules.MaxLoanPeriod(ctx, user, items)
					if err != nil {
						return fmt.Errorf("max loan period: %w", err)
					}
					if days := model.DaysBetween(op.today, end); days > maxDays {
						c.fail(CheckDuration, "the desired loan period (%d days) exceeds the allowed period of %d days", days, maxDays)
					}
				}
			}

			own := make(map[string]bool, len(rs))
			for _, r := range rs {
				own[r.ID] = true
			}
			busy, err := busyRanges(ctx, tx, itemIDsOf(rs), own)
			if err != nil {
				return err
			}
			outcome := availability.Check(availability.Range{Start: op.today, End: end}, busy, op.today)
			switch {
			case outcome.Available():
			case !req.Waitlist || outcome.Contained == nil || !outcome.Contained.Start.Equal(op.today):
				c.add(CheckDateSuggestion, outcome.Err())
			default:
				grantEnd = outcome.Contained.End
				for _, r := range rs {
					if grantEnd.Before(r.End) && !end.Before(r.End) {
						c.fail(CheckExtensionShorter, "reservation %s could only run until %s, before its current end %s",
							r.ID, model.FormatDate(grantEnd), model.FormatDate(r.End))
					}
				}
			}
		}
		if ve := c.err(); ve != nil {
			return ve
		}

		extended = extended[:0]
		for _, r := range rs {
			previous := r
			r.End = grantEnd
			r.DesiredEnd = end
			r.RequestedExtensionEnd = end
			r.Additional = r.Additional.Without(model.AdditionalOverdue)
			r.UpdatedAt = op.now
			extended = append(extended, r)
			if !op.apply {
				continue
			}
			if err := tx.UpdateReservation(ctx, r); err != nil {
				return err
			}
			if err := s.emit(ctx, tx, op, model.EventExtended, r, ""); err != nil {
				return err
			}
			if grantEnd.Before(previous.End) {
				freed := previous
				freed.ID = ""
				freed.Start = model.AddDays(grantEnd, 1)
				if err := s.release(ctx, tx, op, freed, previous.ID); err != nil {
					return err
				}
			}
		}
		if !op.apply {
			return nil
		}
		return s.verify(ctx, tx, itemIDsOf(rs))
	})
	if err != nil {
		return nil, err
	}
	if op.apply {
		for _, r := range extended {
			s.logger.Info("loan extended", "reservation_id", r.ID, "item_id", r.ItemID, "end", model.FormatDate(r.End))
		}
	}
	return extended, nil
}

func (s *Service) TryTransform(ctx context.Context, reservationIDs []string) error {
	_, err := s.transform(ctx, reservationIDs, s.begin(false))
	return err
}

// Transform turns holds whose start has come into loans. The items must be
// on the shelf and go on loan.
func (s *Service) Transform(ctx context.Context, reservationIDs []string) ([]model.Reservation, error) {
	return s.transform(ctx, reservationIDs, s.begin(true))
}

func (s *Service) transform(ctx context.Context, ids []string, op opContext) ([]model.Reservation, error) {
	var loans []model.Reservation
	attrs := []attribute.KeyValue{attribute.StringSlice("circulation.reservation_ids", ids)}
	err := s.run(ctx, "transform", attrs, func(ctx context.Context, tx storage.Tx) error {
		var c checks
		if len(unique(ids)) == 0 {
			c.fail(CheckLoanCycle, "at least one reservation is required")
			return c.err()
		}
		rs, items, err := lockReservations(ctx, tx, ids, &c)
		if err != nil {
			return err
		}
		checkReservationStatus(&c, rs, model.StatusRequested)
		checkItemStatus(&c, items, model.ItemOnShelf)
		var early []string
		for _, r := range rs {
			if r.Start.After(op.today) {
				early = append(early, fmt.Sprintf("%s (%s)", r.ID, model.FormatDate(r.Start)))
			}
		}
		if len(early) > 0 {
			c.fail(CheckStartDate, "the requested dates of %v did not arrive yet", early)
		}
		if ve := c.err(); ve != nil {
			return ve
		}
		if !op.apply {
			return nil
		}

		byID := make(map[string]model.Item, len(items))
		for _, it := range items {
			byID[it.ID] = it
		}
		loans = loans[:0]
		for _, r := range rs {
			r.Status = model.StatusOnLoan
			r.UpdatedAt = op.now
			if err := tx.UpdateReservation(ctx, r); err != nil {
				return err
			}
			item := byID[r.ItemID]
			item.Status = model.ItemOnLoan
			if err := tx.UpdateItem(ctx, item); err != nil {
				return err
			}
			if err := s.emit(ctx, tx, op, model.EventTransformed, r, ""); err != nil {
				return err
			}
			loans = append(loans, r)
		}
		return s.verify(ctx, tx, itemIDsOf(rs))
	})
	if err != nil {
		return nil, err
	}
	for _, r := range loans {
		s.logger.Info("hold turned into loan", "reservation_id", r.ID, "item_id", r.ItemID)
	}
	return loans, nil
}

func (s *Service) TryMarkOverdue(ctx context.Context, reservationIDs []string) error {
	_, err := s.markOverdue(ctx, reservationIDs, s.begin(false))
	return err
}

// MarkOverdue flags running loans whose end date has passed.
func (s *Service) MarkOverdue(ctx context.Context, reservationIDs []string) ([]model.Reservation, error) {
	return s.markOverdue(ctx, reservationIDs, s.begin(true))
}

func (s *Service) markOverdue(ctx context.Context, ids []string, op opContext) ([]model.Reservation, error) {
	var marked []model.Reservation
	attrs := []attribute.KeyValue{attribute.StringSlice("circulation.reservation_ids", ids)}
	err := s.run(ctx, "mark_overdue", attrs, func(ctx context.Context, tx storage.Tx) error {
		var c checks
		if len(unique(ids)) == 0 {
			c.fail(CheckLoanCycle, "at least one reservation is required")
			return c.err()
		}
		rs, _, err := lockReservations(ctx, tx, ids, &c)
		if err != nil {
			return err
		}
		checkReservationStatus(&c, rs, model.StatusOnLoan)
		var already, notDue []string
		for _, r := range rs {
			if r.Overdue() {
				already = append(already, r.ID)
			}
			if !r.End.Before(op.today) {
				notDue = append(notDue, r.ID)
			}
		}
		if len(already) > 0 {
			c.fail(CheckAlreadyOverdue, "reservation(s) %v already overdue", already)
		}
		if len(notDue) > 0 {
			c.fail(CheckOverdue, "reservation(s) %v not overdue", notDue)
		}
		if ve := c.err(); ve != nil {
			return ve
		}
		if !op.apply {
			return nil
		}
		marked, err = s.flagOverdue(ctx, tx, op, rs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return marked, nil
}

// SweepOverdue flags up to limit running loans that ended before today and
// returns how many it flagged.
func (s *Service) SweepOverdue(ctx context.Context, limit int) (int, error) {
	op := s.begin(true)
	limit = storage.NormalizeLimit(limit)
	var marked []model.Reservation
	attrs := []attribute.KeyValue{attribute.Int("circulation.limit", limit)}
	err := s.run(ctx, "sweep_overdue", attrs, func(ctx context.Context, tx storage.Tx) error {
		candidates, err := tx.OverdueCandidates(ctx, op.today, limit)
		if err != nil {
			return err
		}
		marked, err = s.flagOverdue(ctx, tx, op, candidates)
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(marked), nil
}

func (s *Service) flagOverdue(ctx context.Context, tx storage.Tx, op opContext, rs []model.Reservation) ([]model.Reservation, error) {
	out := make([]model.Reservation, 0, len(rs))
	for _, r := range rs {
		r.Additional = r.Additional.With(model.AdditionalOverdue)
		r.UpdatedAt = op.now
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return nil, err
		}
		if err := s.emit(ctx, tx, op, model.EventOverdue, r, ""); err != nil {
			return nil, err
		}
		s.logger.Info("loan overdue", "reservation_id", r.ID, "item_id", r.ItemID, "end", model.FormatDate(r.End))
		out = append(out, r)
	}
	return out, nil
}

func usersOf(rs []model.Reservation) []string {
	ids := make([]string, len(rs))
	for i, r := range rs {
		ids[i] = r.UserID
	}
	return ids
}
