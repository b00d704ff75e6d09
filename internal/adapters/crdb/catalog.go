package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-bookings/internal/domain"
)

// The event and user rows belong to collaborators outside the booking core. These
// writers exist for operators and tests.

func (r *Repository) UpsertEvent(ctx context.Context, e domain.Event) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO events (id, capacity, price, starts_at, ends_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			capacity = excluded.capacity,
			price = excluded.price,
			starts_at = excluded.starts_at,
			ends_at = excluded.ends_at,
			status = excluded.status
	`, e.ID, e.Capacity, e.Price, e.StartsAt, e.EndsAt, string(e.Status))
	return errors.Wrapf(err, "upsert event %d", e.ID)
}

// EnsureUser creates the loyalty row for id with a zero balance if it does not exist.
func (r *Repository) EnsureUser(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, loyalty_points) VALUES ($1, 0) ON CONFLICT (id) DO NOTHING
	`, id)
	return errors.Wrapf(err, "ensure user %d", id)
}
