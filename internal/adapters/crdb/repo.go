package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/event-bookings/internal/booking"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/robertarktes/event-bookings/internal/observability"
	"github.com/shopspring/decimal"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn in a SERIALIZABLE transaction and retries it once on a
// serialization failure.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	err := r.runTx(ctx, fn)
	if errors.Is(err, domain.ErrSerializationFailure) {
		observability.DBTxRetries.Inc()
		err = r.runTx(ctx, fn)
	}
	return err
}

func (r *Repository) runTx(ctx context.Context, fn func(ctx context.Context, tx booking.Tx) error) error {
	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx, repo: r}); err != nil {
		return classify(err)
	}
	return classify(tx.Commit(ctx))
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case SerializationFailureCode:
			return errors.Wrap(domain.ErrSerializationFailure, pgErr.Message)
		case UniqueViolationCode:
			return errors.Wrap(domain.ErrConflict, pgErr.ConstraintName)
		}
	}
	return err
}

type pgTx struct {
	tx   pgx.Tx
	repo *Repository
}

var _ booking.Tx = (*pgTx)(nil)

func (t *pgTx) LockEvent(ctx context.Context, eventID int64) (*domain.Event, error) {
	var e domain.Event
	var price, status string
	err := t.tx.QueryRow(ctx, `
		SELECT id, capacity, price::TEXT, starts_at, ends_at, status
		FROM events WHERE id = $1 FOR UPDATE
	`, eventID).Scan(&e.ID, &e.Capacity, &price, &e.StartsAt, &e.EndsAt, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, errors.Wrapf(err, "event %d price", eventID)
	}
	e.Status = domain.EventStatus(status)
	return &e, nil
}

func (t *pgTx) CountConfirmed(ctx context.Context, eventID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT count(*) FROM bookings WHERE event_id = $1 AND status = 'CONFIRMED'
	`, eventID).Scan(&n)
	return n, err
}

const bookingColumns = `id, user_id, event_id, status, booked_at, points_earned`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	var status string
	if err := row.Scan(&b.ID, &b.UserID, &b.EventID, &status, &b.BookedAt, &b.PointsEarned); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	b.Status = domain.BookingStatus(status)
	return &b, nil
}

func (t *pgTx) queryBookings(ctx context.Context, query string, args ...interface{}) ([]domain.Booking, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func (t *pgTx) GetBooking(ctx context.Context, bookingID int64) (*domain.Booking, error) {
	return scanBooking(t.tx.QueryRow(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE id = $1
	`, bookingID))
}

func (t *pgTx) FindBooking(ctx context.Context, userID, eventID int64) (*domain.Booking, error) {
	return scanBooking(t.tx.QueryRow(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE user_id = $1 AND event_id = $2
	`, userID, eventID))
}

func (t *pgTx) ListBookings(ctx context.Context, userID int64) ([]domain.Booking, error) {
	return t.queryBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings WHERE user_id = $1 ORDER BY booked_at DESC
	`, userID)
}

func (t *pgTx) ListConfirmedBookings(ctx context.Context, userID, eventID int64) ([]domain.Booking, error) {
	return t.queryBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE user_id = $1 AND event_id = $2 AND status = 'CONFIRMED'
		ORDER BY booked_at ASC
	`, userID, eventID)
}

func (t *pgTx) InsertBooking(ctx context.Context, b *domain.Booking) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO bookings (user_id, event_id, status, booked_at, points_earned)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, b.UserID, b.EventID, string(b.Status), b.BookedAt, b.PointsEarned).Scan(&b.ID)
}

func (t *pgTx) UpdateBooking(ctx context.Context, b domain.Booking) error {
	result, err := t.tx.Exec(ctx, `
		UPDATE bookings SET status = $2, booked_at = $3, points_earned = $4 WHERE id = $1
	`, b.ID, string(b.Status), b.BookedAt, b.PointsEarned)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *pgTx) EnsureUser(ctx context.Context, userID int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO users (id, loyalty_points) VALUES ($1, 0) ON CONFLICT (id) DO NOTHING
	`, userID)
	return err
}

func (t *pgTx) LoyaltyPoints(ctx context.Context, userID int64) (int64, error) {
	var points int64
	err := t.tx.QueryRow(ctx, `
		SELECT loyalty_points FROM users WHERE id = $1 FOR UPDATE
	`, userID).Scan(&points)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	return points, err
}

func (t *pgTx) SetLoyaltyPoints(ctx context.Context, userID, points int64) error {
	result, err := t.tx.Exec(ctx, `
		UPDATE users SET loyalty_points = $2 WHERE id = $1
	`, userID, points)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const waitlistColumns = `id, event_id, user_id, position, joined_at`

func scanWaitlistEntry(row pgx.Row) (*domain.WaitlistEntry, error) {
	var e domain.WaitlistEntry
	if err := row.Scan(&e.ID, &e.EventID, &e.UserID, &e.Position, &e.JoinedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (t *pgTx) FirstWaitlistEntry(ctx context.Context, eventID int64) (*domain.WaitlistEntry, error) {
	return scanWaitlistEntry(t.tx.QueryRow(ctx, `
		SELECT `+waitlistColumns+` FROM waitlist_entries
		WHERE event_id = $1 ORDER BY position ASC LIMIT 1
	`, eventID))
}

func (t *pgTx) FindWaitlistEntry(ctx context.Context, eventID, userID int64) (*domain.WaitlistEntry, error) {
	return scanWaitlistEntry(t.tx.QueryRow(ctx, `
		SELECT `+waitlistColumns+` FROM waitlist_entries WHERE event_id = $1 AND user_id = $2
	`, eventID, userID))
}

func (t *pgTx) ListWaitlist(ctx context.Context, eventID int64) ([]domain.WaitlistEntry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+waitlistColumns+` FROM waitlist_entries WHERE event_id = $1 ORDER BY position ASC
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.WaitlistEntry
	for rows.Next() {
		e, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (t *pgTx) MaxWaitlistPosition(ctx context.Context, eventID int64) (int, error) {
	var max int
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(position), 0) FROM waitlist_entries WHERE event_id = $1
	`, eventID).Scan(&max)
	return max, err
}

func (t *pgTx) InsertWaitlistEntry(ctx context.Context, e *domain.WaitlistEntry) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO waitlist_entries (event_id, user_id, position, joined_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, e.EventID, e.UserID, e.Position, e.JoinedAt).Scan(&e.ID)
}

func (t *pgTx) DeleteWaitlistEntry(ctx context.Context, e domain.WaitlistEntry) error {
	result, err := t.tx.Exec(ctx, `DELETE FROM waitlist_entries WHERE id = $1`, e.ID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	_, err = t.tx.Exec(ctx, `
		UPDATE waitlist_entries SET position = position - 1
		WHERE event_id = $1 AND position > $2
	`, e.EventID, e.Position)
	return err
}

func (t *pgTx) Emit(ctx context.Context, n domain.Notification) error {
	record, err := newNotificationRecord(n)
	if err != nil {
		return err
	}
	return t.repo.InsertOutbox(ctx, t.tx, record)
}

// ConfirmableEvents lists non-cancelled events with a free seat and a non-empty waitlist.
func (r *Repository) ConfirmableEvents(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT e.id FROM events e
		WHERE e.status <> 'CANCELLED'
		  AND EXISTS (SELECT 1 FROM waitlist_entries w WHERE w.event_id = e.id)
		  AND (SELECT count(*) FROM bookings b WHERE b.event_id = e.id AND b.status = 'CONFIRMED') < e.capacity
		ORDER BY e.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Ping is used by readiness probes.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
