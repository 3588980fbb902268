package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/librarycirc/libs/db"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/model"
	"github.com/md-rashed-zaman/librarycirc/services/circulation-service/internal/outbox"
)

const dialectPostgres = "postgres"

// ErrOverlapConstraint is returned when the reservations exclusion
// constraint rejects a write.
var ErrOverlapConstraint = errors.New("reservation dates overlap an active reservation")

var reservationColumns = []string{
	"id", "group_id", "item_id", "user_id", "status", "additional_statuses",
	"desired_start", "desired_end", "start_date", "end_date",
	"requested_extension_end", "issued_at", "delivery", "updated_at",
}

const reservationSelect = `
	SELECT id, group_id, item_id, user_id, status, additional_statuses,
		desired_start, desired_end, start_date, end_date,
		requested_extension_end, issued_at, delivery, updated_at
	FROM reservations`

// PostgresStore keeps circulation state in Postgres and writes events to the
// outbox in the same transaction.
type PostgresStore struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewPostgresStore(pool *db.Pool, outboxRepo *outbox.Repository) *PostgresStore {
	return &PostgresStore{pool: pool, outbox: outboxRepo}
}

func (s *PostgresStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := s.pool.InTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx, outbox: s.outbox})
	})
	return translate(err)
}

func (s *PostgresStore) ListReservations(ctx context.Context, f ReservationFilter) ([]model.Reservation, error) {
	query, args, err := buildListQuery(f)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

// buildListQuery renders the filter as a parameterised statement. Columns are
// qualified because item filters join the items table.
func buildListQuery(f ReservationFilter) (string, []any, error) {
	cols := make([]any, len(reservationColumns))
	for i, c := range reservationColumns {
		cols[i] = goqu.T("reservations").Col(c)
	}
	ds := goqu.Dialect(dialectPostgres).
		From("reservations").
		Select(cols...).
		Order(goqu.T("reservations").Col("issued_at").Asc(), goqu.T("reservations").Col("id").Asc()).
		Limit(uint(NormalizeLimit(f.Limit))).
		Prepared(true)

	col := func(name string) exp.IdentifierExpression { return goqu.T("reservations").Col(name) }
	var where []goqu.Expression
	if f.ItemID != "" {
		where = append(where, col("item_id").Eq(f.ItemID))
	}
	if f.UserID != "" {
		where = append(where, col("user_id").Eq(f.UserID))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, col("status").In(statuses))
	}
	if len(f.ItemStatuses) > 0 {
		statuses := make([]string, len(f.ItemStatuses))
		for i, st := range f.ItemStatuses {
			statuses[i] = string(st)
		}
		ds = ds.InnerJoin(goqu.T("items"), goqu.On(goqu.T("items").Col("id").Eq(col("item_id"))))
		where = append(where, goqu.T("items").Col("status").In(statuses))
	}
	if f.Overdue {
		where = append(where, goqu.L("? = ANY(?)", string(model.AdditionalOverdue), col("additional_statuses")))
	}
	if f.ItemOverdue {
		overdue := goqu.Dialect(dialectPostgres).
			From(goqu.T("reservations").As("o")).
			Select(goqu.T("o").Col("item_id")).
			Where(
				goqu.T("o").Col("status").Eq(string(model.StatusOnLoan)),
				goqu.L("? = ANY(?)", string(model.AdditionalOverdue), goqu.T("o").Col("additional_statuses")),
			)
		where = append(where, col("item_id").In(overdue))
	}
	if !f.StartFrom.IsZero() {
		where = append(where, col("start_date").Gte(f.StartFrom))
	}
	if !f.StartTo.IsZero() {
		where = append(where, col("start_date").Lte(f.StartTo))
	}
	if len(where) > 0 {
		ds = ds.Where(goqu.And(where...))
	}
	query, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build reservation query: %w", err)
	}
	return query, args, nil
}

func (s *PostgresStore) GetItem(ctx context.Context, id string) (model.Item, error) {
	item, err := scanItem(s.pool.QueryRow(ctx, `
		SELECT id, barcode, title, item_type, location_code, status, description
		FROM items WHERE id = $1
	`, id))
	if db.IsNotFound(err) {
		return model.Item{}, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return item, err
}

func (s *PostgresStore) SaveItem(ctx context.Context, item model.Item) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO items (id, barcode, title, item_type, location_code, status, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			barcode = EXCLUDED.barcode,
			title = EXCLUDED.title,
			item_type = EXCLUDED.item_type,
			location_code = EXCLUDED.location_code,
			status = EXCLUDED.status,
			description = EXCLUDED.description,
			updated_at = now()
	`, item.ID, item.Barcode, item.Title, item.ItemType, item.LocationCode, string(item.Status), item.Description)
	return err
}

func (s *PostgresStore) SaveUser(ctx context.Context, user model.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO patrons (id, name, email, patron_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			patron_type = EXCLUDED.patron_type
	`, user.ID, user.Name, user.Email, user.PatronType)
	return err
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) LockItems(ctx context.Context, ids []string) ([]model.Item, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, barcode, title, item_type, location_code, status, description
		FROM items
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]model.Item, len(ids))
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		byID[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.Item, 0, len(ids))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (t *pgTx) GetUser(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, email, patron_type FROM patrons WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Email, &u.PatronType)
	if db.IsNotFound(err) {
		return model.User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, err
}

func (t *pgTx) GetReservations(ctx context.Context, ids []string) ([]model.Reservation, error) {
	rows, err := t.tx.Query(ctx, reservationSelect+`
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	found, err := collectReservations(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Reservation, len(found))
	for _, r := range found {
		byID[r.ID] = r
	}
	out := make([]model.Reservation, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *pgTx) ActiveReservations(ctx context.Context, itemID string) ([]model.Reservation, error) {
	rows, err := t.tx.Query(ctx, reservationSelect+`
		WHERE item_id = $1 AND status IN ('requested', 'on_loan')
		ORDER BY issued_at, id
		FOR UPDATE
	`, itemID)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

func (t *pgTx) OverdueCandidates(ctx context.Context, today time.Time, limit int) ([]model.Reservation, error) {
	rows, err := t.tx.Query(ctx, reservationSelect+`
		WHERE status = 'on_loan'
			AND end_date < $1
			AND NOT ('overdue' = ANY(additional_statuses))
		ORDER BY issued_at, id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, today, NormalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

func (t *pgTx) InsertReservation(ctx context.Context, r model.Reservation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO reservations
			(id, group_id, item_id, user_id, status, additional_statuses,
			 desired_start, desired_end, start_date, end_date,
			 requested_extension_end, issued_at, delivery, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
	`, r.ID, r.GroupID, r.ItemID, r.UserID, string(r.Status), additionalStrings(r.Additional),
		r.DesiredStart, r.DesiredEnd, r.Start, r.End,
		nullableDate(r.RequestedExtensionEnd), r.IssuedAt, string(r.Delivery))
	return err
}

func (t *pgTx) UpdateReservation(ctx context.Context, r model.Reservation) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE reservations
		SET status = $2,
			additional_statuses = $3,
			desired_start = $4,
			desired_end = $5,
			start_date = $6,
			end_date = $7,
			requested_extension_end = $8,
			updated_at = now()
		WHERE id = $1
	`, r.ID, string(r.Status), additionalStrings(r.Additional),
		r.DesiredStart, r.DesiredEnd, r.Start, r.End, nullableDate(r.RequestedExtensionEnd))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reservation %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) UpdateItem(ctx context.Context, item model.Item) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE items SET status = $2, description = $3, updated_at = now() WHERE id = $1
	`, item.ID, string(item.Status), item.Description)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s: %w", item.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) RecordEvent(ctx context.Context, e model.Event) error {
	evt, err := outbox.FromCirculation(e)
	if err != nil {
		return err
	}
	return t.outbox.Insert(ctx, t.tx, evt)
}

func scanItem(row pgx.Row) (model.Item, error) {
	var item model.Item
	var status string
	if err := row.Scan(&item.ID, &item.Barcode, &item.Title, &item.ItemType, &item.LocationCode, &status, &item.Description); err != nil {
		return model.Item{}, err
	}
	item.Status = model.ItemStatus(status)
	return item, nil
}

func collectReservations(rows pgx.Rows) ([]model.Reservation, error) {
	defer rows.Close()
	var out []model.Reservation
	for rows.Next() {
		var (
			r                    model.Reservation
			status, delivery     string
			additional           []string
			requestedExtensionTo *time.Time
		)
		if err := rows.Scan(&r.ID, &r.GroupID, &r.ItemID, &r.UserID, &status, &additional,
			&r.DesiredStart, &r.DesiredEnd, &r.Start, &r.End,
			&requestedExtensionTo, &r.IssuedAt, &delivery, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Status = model.ReservationStatus(status)
		r.Delivery = model.Delivery(delivery)
		for _, a := range additional {
			r.Additional = r.Additional.With(model.AdditionalStatus(a))
		}
		if requestedExtensionTo != nil {
			r.RequestedExtensionEnd = *requestedExtensionTo
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func additionalStrings(set model.StatusSet) []string {
	out := make([]string, len(set))
	for i, s := range set {
		out[i] = string(s)
	}
	return out
}

func nullableDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// translate maps the exclusion constraint violation onto ErrOverlapConstraint.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23P01" {
		return fmt.Errorf("%w: %s", ErrOverlapConstraint, pgErr.ConstraintName)
	}
	return err
}
