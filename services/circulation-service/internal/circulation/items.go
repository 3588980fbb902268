package circulation

import (
	"context"

	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/model"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
)

// itemTransition moves items between two shelf states without touching
// reservations.
type itemTransition struct {
	name  string
	from  []model.ItemStatus
	to    model.ItemStatus
	event model.EventKind
}

var (
	returnMissing = itemTransition{
		name: "return_missing", from: []model.ItemStatus{model.ItemMissing},
		to: model.ItemOnShelf, event: model.EventReturnedMissing,
	}
	process = itemTransition{
		name: "process", from: []model.ItemStatus{model.ItemOnShelf},
		to: model.ItemInProcess, event: model.EventProcessed,
	}
	returnProcessed = itemTransition{
		name: "return_processed", from: []model.ItemStatus{model.ItemInProcess},
		to: model.ItemOnShelf, event: model.EventReturnedProcessed,
	}
)

func (s *Service) TryReturnMissing(ctx context.Context, itemIDs []string) error {
	_, err := s.transition(ctx, returnMissing, itemIDs, "", s.begin(false))
	return err
}

// ReturnMissing puts found items back on the shelf.
func (s *Service) ReturnMissing(ctx context.Context, itemIDs []string) ([]model.Item, error) {
	return s.transition(ctx, returnMissing, itemIDs, "", s.begin(true))
}

func (s *Service) TryProcess(ctx context.Context, itemIDs []string) error {
	_, err := s.transition(ctx, process, itemIDs, "", s.begin(false))
	return err
}

// Process takes items off the shelf for internal work such as binding.
// description replaces the item description when not empty.
func (s *Service) Process(ctx context.Context, itemIDs []string, description string) ([]model.Item, error) {
	return s.transition(ctx, process, itemIDs, description, s.begin(true))
}

func (s *Service) TryReturnProcessed(ctx context.Context, itemIDs []string) error {
	_, err := s.transition(ctx, returnProcessed, itemIDs, "", s.begin(false))
	return err
}

func (s *Service) ReturnProcessed(ctx context.Context, itemIDs []string) ([]model.Item, error) {
	return s.transition(ctx, returnProcessed, itemIDs, "", s.begin(true))
}

func (s *Service) transition(ctx context.Context, t itemTransition, itemIDs []string, description string, op opContext) ([]model.Item, error) {
	itemIDs = unique(itemIDs)
	var updated []model.Item
	attrs := []attribute.KeyValue{attribute.StringSlice("circulation.item_ids", itemIDs)}
	err := s.run(ctx, t.name, attrs, func(ctx context.Context, tx storage.Tx) error {
		var c checks
		if len(itemIDs) == 0 {
			c.fail(CheckItems, "at least one item is required")
			return c.err()
		}
		items, err := lockItems(ctx, tx, itemIDs, &c)
		if err != nil {
			return err
		}
		checkItemStatus(&c, items, t.from...)
		if ve := c.err(); ve != nil {
			return ve
		}
		if !op.apply {
			return nil
		}

		updated = updated[:0]
		for _, item := range items {
			item.Status = t.to
			if description != "" {
				item.Description = description
			}
			if err := tx.UpdateItem(ctx, item); err != nil {
				return err
			}
			if err := s.emitItem(ctx, tx, op, t.event, item, description); err != nil {
				return err
			}
			updated = append(updated, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if op.apply {
		s.logger.Info("items updated", "op", t.name, "item_ids", itemIDs, "status", string(t.to))
	}
	return updated, nil
}
