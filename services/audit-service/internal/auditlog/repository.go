package auditlog

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/librarycirc/libs/db"
)

// Filter narrows List. Zero fields match everything.
type Filter struct {
	ItemID        string
	UserID        string
	ReservationID string
	Kind          string
	Since         time.Time
	Limit         int
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, e Entry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO audit_entries
			(event_id, event_type, kind, reservation_id, item_id, user_id, reason, start_date, end_date, occurred_at, payload)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11)
	`, e.EventID, e.EventType, e.Kind, e.ReservationID, e.ItemID, e.UserID, e.Reason, e.Start, e.End, e.OccurredAt, e.Payload)
	return err
}

// List returns matching entries, newest first.
func (r *Repository) List(ctx context.Context, f Filter) ([]Entry, error) {
	query, args, err := buildListQuery(f)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.EventID, &e.EventType, &e.Kind, &e.ReservationID, &e.ItemID, &e.UserID,
			&e.Reason, &e.Start, &e.End, &e.OccurredAt, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func buildListQuery(f Filter) (string, []any, error) {
	ds := goqu.Dialect("postgres").
		From("audit_entries").
		Select(
			"event_id", "event_type", "kind",
			goqu.L("COALESCE(reservation_id, '')").As("reservation_id"),
			"item_id",
			goqu.L("COALESCE(user_id, '')").As("user_id"),
			"reason",
			goqu.L("COALESCE(start_date, '')").As("start_date"),
			goqu.L("COALESCE(end_date, '')").As("end_date"),
			"occurred_at", "payload",
		).
		Order(goqu.I("occurred_at").Desc(), goqu.I("id").Desc()).
		Limit(uint(normalizeLimit(f.Limit))).
		Prepared(true)

	var where []goqu.Expression
	if f.ItemID != "" {
		where = append(where, goqu.C("item_id").Eq(f.ItemID))
	}
	if f.UserID != "" {
		where = append(where, goqu.C("user_id").Eq(f.UserID))
	}
	if f.ReservationID != "" {
		where = append(where, goqu.C("reservation_id").Eq(f.ReservationID))
	}
	if f.Kind != "" {
		where = append(where, goqu.C("kind").Eq(f.Kind))
	}
	if !f.Since.IsZero() {
		where = append(where, goqu.C("occurred_at").Gte(f.Since))
	}
	if len(where) > 0 {
		ds = ds.Where(where...)
	}
	return ds.ToSQL()
}
