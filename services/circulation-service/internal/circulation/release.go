package circulation

import (
	"context"
	"fmt"

	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/model"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
)

// ReasonItemLost is recorded on reservations canceled by Lose.
const ReasonItemLost = "item lost"

// ReasonLoanCanceled is recorded when Return shelves an item whose loan was
// canceled while it was out.
const ReasonLoanCanceled = "loan canceled"

func (s *Service) TryReturn(ctx context.Context, itemIDs []string) ([]model.Reservation, error) {
	return s.returnItems(ctx, itemIDs, s.begin(false))
}

// Return finishes the running loan of every item and puts the items back on
// the shelf. The freed dates go to the waitlist. A lent item whose loan was
// canceled goes back on the shelf with an item level finished event.
func (s *Service) Return(ctx context.Context, itemIDs []string) ([]model.Reservation, error) {
	return s.returnItems(ctx, itemIDs, s.begin(true))
}

func (s *Service) returnItems(ctx context.Context, itemIDs []string, op opContext) ([]model.Reservation, error) {
	itemIDs = unique(itemIDs)
	var finished []model.Reservation
	attrs := []attribute.KeyValue{attribute.StringSlice("circulation.item_ids", itemIDs)}
	err := s.run(ctx, "return", attrs, func(ctx context.Context, tx storage.Tx) error {
		var c checks
		if len(itemIDs) == 0 {
			c.fail(CheckItems, "at least one item is required")
			return c.err()
		}
		items, err := lockItems(ctx, tx, itemIDs, &c)
		if err != nil {
			return err
		}
		checkItemStatus(&c, items, model.ItemOnLoan)

		type returned struct {
			item model.Item
			loan model.Reservation
		}
		var loans []returned
		var orphans []model.Item
		for _, item := range items {
			active, err := tx.ActiveReservations(ctx, item.ID)
			if err != nil {
				return err
			}
			found := false
			for _, r := range active {
				if r.Status == model.StatusOnLoan {
					loans = append(loans, returned{item: item, loan: r})
					found = true
					break
				}
			}
			switch {
			case found:
			case item.Status == model.ItemOnLoan:
				// The loan was canceled while the item was out.
				orphans = append(orphans, item)
			default:
				c.fail(CheckLoanCycle, "item %s has no running loan", label(item))
			}
		}
		if ve := c.err(); ve != nil {
			return ve
		}

		finished = finished[:0]
		for _, l := range loans {
			r := l.loan
			r.Status = model.StatusFinished
			r.UpdatedAt = op.now
			finished = append(finished, r)
			if !op.apply {
				continue
			}
			item := l.item
			item.Status = model.ItemOnShelf
			if err := tx.UpdateItem(ctx, item); err != nil {
				return err
			}
			if err := tx.UpdateReservation(ctx, r); err != nil {
				return err
			}
			if err := s.emit(ctx, tx, op, model.EventFinished, r, ""); err != nil {
				return err
			}
			if err := s.release(ctx, tx, op, r, r.ID); err != nil {
				return err
			}
		}
		if !op.apply {
			return nil
		}
		for _, item := range orphans {
			item.Status = model.ItemOnShelf
			if err := tx.UpdateItem(ctx, item); err != nil {
				return err
			}
			if err := s.emitItem(ctx, tx, op, model.EventFinished, item, ReasonLoanCanceled); err != nil {
				return err
			}
			s.logger.Info("item returned after its loan was canceled", "item_id", item.ID)
		}
		return s.verify(ctx, tx, itemIDs)
	})
	if err != nil {
		return nil, err
	}
	if op.apply {
		for _, r := range finished {
			s.logger.Info("item returned", "reservation_id", r.ID, "item_id", r.ItemID, "user_id", r.UserID)
		}
	}
	return finished, nil
}

func (s *Service) TryCancel(ctx context.Context, reservationIDs []string) error {
	_, err := s.cancel(ctx, reservationIDs, "", s.begin(false))
	return err
}

// Cancel ends requested or running reservations. Items keep their status;
// a lent item still has to be returned, which shelves it, or lost.
func (s *Service) Cancel(ctx context.Context, reservationIDs []string, reason string) ([]model.Reservation, error) {
	return s.cancel(ctx, reservationIDs, reason, s.begin(true))
}

func (s *Service) cancel(ctx context.Context, ids []string, reason string, op opContext) ([]model.Reservation, error) {
	var canceled []model.Reservation
	attrs := []attribute.KeyValue{attribute.StringSlice("circulation.reservation_ids", ids)}
	err := s.run(ctx, "cancel", attrs, func(ctx context.Context, tx storage.Tx) error {
		var c checks
		if len(unique(ids)) == 0 {
			c.fail(CheckLoanCycle, "at least one reservation is required")
			return c.err()
		}
		rs, _, err := lockReservations(ctx, tx, ids, &c)
		if err != nil {
			return err
		}
		checkReservationStatus(&c, rs, model.StatusRequested, model.StatusOnLoan)
		if ve := c.err(); ve != nil {
			return ve
		}
		if !op.apply {
			return nil
		}

		canceled = canceled[:0]
		for _, r := range rs {
			done, err := s.cancelOne(ctx, tx, op, r.ID, reason)
			if err != nil {
				return err
			}
			canceled = append(canceled, done)
		}
		return s.verify(ctx, tx, itemIDsOf(rs))
	})
	if err != nil {
		return nil, err
	}
	for _, r := range canceled {
		s.logger.Info("reservation canceled", "reservation_id", r.ID, "item_id", r.ItemID, "reason", reason)
	}
	return canceled, nil
}

// cancelOne reads the reservation again because an earlier release in the
// same unit of work may have moved it.
func (s *Service) cancelOne(ctx context.Context, tx storage.Tx, op opContext, id, reason string) (model.Reservation, error) {
	fresh, err := tx.GetReservations(ctx, []string{id})
	if err != nil {
		return model.Reservation{}, err
	}
	if len(fresh) == 0 {
		return model.Reservation{}, fmt.Errorf("reservation %s: %w", id, storage.ErrNotFound)
	}
	r := fresh[0]
	r.Status = model.StatusCanceled
	r.UpdatedAt = op.now
	if err := tx.UpdateReservation(ctx, r); err != nil {
		return model.Reservation{}, err
	}
	if err := s.emit(ctx, tx, op, model.EventCanceled, r, reason); err != nil {
		return model.Reservation{}, err
	}
	if err := s.release(ctx, tx, op, r, r.ID); err != nil {
		return model.Reservation{}, err
	}
	return r, nil
}

func (s *Service) TryLose(ctx context.Context, itemIDs []string) error {
	_, err := s.lose(ctx, itemIDs, s.begin(false))
	return err
}

// Lose marks items missing and cancels their active reservations oldest
// first, releasing each in turn.
func (s *Service) Lose(ctx context.Context, itemIDs []string) ([]model.Reservation, error) {
	return s.lose(ctx, itemIDs, s.begin(true))
}

func (s *Service) lose(ctx context.Context, itemIDs []string, op opContext) ([]model.Reservation, error) {
	itemIDs = unique(itemIDs)
	var canceled []model.Reservation
	attrs := []attribute.KeyValue{attribute.StringSlice("circulation.item_ids", itemIDs)}
	err := s.run(ctx, "lose", attrs, func(ctx context.Context, tx storage.Tx) error {
		var c checks
		if len(itemIDs) == 0 {
			c.fail(CheckItems, "at least one item is required")
			return c.err()
		}
		items, err := lockItems(ctx, tx, itemIDs, &c)
		if err != nil {
			return err
		}
		checkItemStatus(&c, items, model.ItemOnShelf, model.ItemOnLoan, model.ItemInProcess)
		if ve := c.err(); ve != nil {
			return ve
		}
		if !op.apply {
			return nil
		}

		canceled = canceled[:0]
		for _, item := range items {
			item.Status = model.ItemMissing
			if err := tx.UpdateItem(ctx, item); err != nil {
				return err
			}
			active, err := tx.ActiveReservations(ctx, item.ID)
			if err != nil {
				return err
			}
			for _, r := range active {
				done, err := s.cancelOne(ctx, tx, op, r.ID, ReasonItemLost)
				if err != nil {
					return err
				}
				canceled = append(canceled, done)
			}
			if err := s.emitItem(ctx, tx, op, model.EventLost, item, ""); err != nil {
				return err
			}
		}
		return s.verify(ctx, tx, itemIDs)
	})
	if err != nil {
		return nil, err
	}
	if op.apply {
		s.logger.Info("items lost", "item_ids", itemIDs, "canceled", len(canceled))
	}
	return canceled, nil
}
