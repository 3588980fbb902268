package auditlog

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/librarycirc/libs/db"
	"github.com/md-rashed-zaman/librarycirc/libs/kafkax"
	"github.com/md-rashed-zaman/librarycirc/services/audit-service/internal/inbox"
	"github.com/segmentio/kafka-go"
)

// Recorder claims the event in the inbox and stores the entry in one
// transaction.
type Recorder struct {
	pool   *db.Pool
	inbox  *inbox.Repository
	repo   *Repository
	logger *slog.Logger
}

func NewRecorder(pool *db.Pool, inboxRepo *inbox.Repository, repo *Repository, logger *slog.Logger) *Recorder {
	return &Recorder{pool: pool, inbox: inboxRepo, repo: repo, logger: logger}
}

// Process reports false for duplicates and for payloads that can never be
// stored. Only storage failures are returned as errors.
func (r *Recorder) Process(ctx context.Context, meta kafkax.EventMeta, msg kafka.Message) (bool, error) {
	entry, err := Decode(meta.EventID, meta.EventType, msg.Value)
	if err != nil {
		if errors.Is(err, ErrInvalidPayload) {
			r.logger.Error("dropping event", "err", err, "topic", msg.Topic, "offset", msg.Offset)
			return false, nil
		}
		return false, err
	}

	stored := false
	err = r.pool.InTx(ctx, func(tx pgx.Tx) error {
		fresh, err := r.inbox.Record(ctx, tx, entry.EventID, entry.EventType)
		if err != nil || !fresh {
			return err
		}
		if err := r.repo.Insert(ctx, tx, entry); err != nil {
			return err
		}
		stored = true
		return nil
	})
	return stored, err
}
