package crdb_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/event-bookings/internal/adapters/crdb"
	"github.com/robertarktes/event-bookings/internal/booking"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/robertarktes/event-bookings/internal/observability"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startCockroach(t *testing.T) (*crdb.Repository, *pgxpool.Pool) {
	t.Helper()
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "postgresql")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, endpoint+"/defaultdb?sslmode=disable")
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, crdb.Migrate(ctx, pool))
	require.NoError(t, crdb.Migrate(ctx, pool), "migrations are idempotent")
	return crdb.NewRepository(pool), pool
}

func seed(t *testing.T, repo *crdb.Repository, event domain.Event, users ...int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.UpsertEvent(ctx, event))
	for _, u := range users {
		require.NoError(t, repo.EnsureUser(ctx, u))
	}
}

func futureEvent(id int64, capacity int, price string) domain.Event {
	starts := time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Second)
	return domain.Event{
		ID:       id,
		Capacity: capacity,
		Price:    decimal.RequireFromString(price),
		StartsAt: starts,
		EndsAt:   starts.Add(2 * time.Hour),
		Status:   domain.EventStatusPublished,
	}
}

func TestRepository_BookingLifecycle(t *testing.T) {
	repo, _ := startCockroach(t)
	ctx := context.Background()
	seed(t, repo, futureEvent(1, 2, "49.99"), 1, 2, 3)

	svc := booking.NewService(repo, observability.NewNopLogger())

	first, err := svc.Create(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(499), first.PointsEarned)

	_, err = svc.Create(ctx, 1, 1)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.Create(ctx, 2, 1)
	require.NoError(t, err)

	_, err = svc.Create(ctx, 3, 1)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

	entry, err := svc.Join(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Position)

	cancelled, err := svc.Cancel(ctx, 1, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, cancelled.Status)

	loyalty, err := svc.Loyalty(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), loyalty.Points)

	waitlist, err := svc.Waitlist(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, waitlist)

	bookings, err := svc.ListBookings(ctx, 3)
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, domain.BookingStatusConfirmed, bookings[0].Status)

	// a cancelled booking does not block joining the queue
	again, err := svc.Join(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Position)
}

// raceCreates books eventID for every user at once and tallies the outcomes. A
// serialization failure that survives the internal retry is counted apart from
// ErrCapacityExceeded; any other error fails the test.
func raceCreates(t *testing.T, svc *booking.Service, eventID int64, users []int64) (ok, full, retry int) {
	t.Helper()
	errs := make([]error, len(users))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, u := range users {
		wg.Add(1)
		go func(i int, u int64) {
			defer wg.Done()
			<-start
			_, errs[i] = svc.Create(context.Background(), u, eventID)
		}(i, u)
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrCapacityExceeded):
			full++
		case errors.Is(err, domain.ErrSerializationFailure):
			retry++
		default:
			t.Fatalf("unexpected create error: %v", err)
		}
	}
	return ok, full, retry
}

func confirmedCount(t *testing.T, pool *pgxpool.Pool, eventID int64) int {
	t.Helper()
	var n int
	err := pool.QueryRow(context.Background(),
		`SELECT count(*) FROM bookings WHERE event_id = $1 AND status = 'CONFIRMED'`, eventID).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestRepository_ConcurrentCreatesRespectCapacity(t *testing.T) {
	repo, pool := startCockroach(t)
	svc := booking.NewService(repo, observability.NewNopLogger())

	t.Run("eight users three seats", func(t *testing.T) {
		ids := []int64{100, 101, 102, 103, 104, 105, 106, 107}
		seed(t, repo, futureEvent(2, 3, "10"), ids...)

		ok, full, retry := raceCreates(t, svc, 2, ids)

		// the event row lock queues the creates, so every seat is taken and
		// every other caller sees a full event
		assert.Equal(t, 3, ok)
		assert.Equal(t, len(ids)-3, full+retry)
		assert.Equal(t, 3, confirmedCount(t, pool, 2))
	})

	t.Run("two users one seat", func(t *testing.T) {
		seed(t, repo, futureEvent(5, 1, "10"), 200, 201)

		ok, full, retry := raceCreates(t, svc, 5, []int64{200, 201})

		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, full+retry)
		assert.Equal(t, 1, confirmedCount(t, pool, 5))
	})
}

func TestRepository_CreateWaitsForEventLock(t *testing.T) {
	repo, pool := startCockroach(t)
	ctx := context.Background()
	seed(t, repo, futureEvent(6, 1, "10"), 300)
	svc := booking.NewService(repo, observability.NewNopLogger())

	holder, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer holder.Rollback(ctx)
	_, err = holder.Exec(ctx, `SELECT id FROM events WHERE id = 6 FOR UPDATE`)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Create(ctx, 300, 6)
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("create finished while the event row was locked: %v", err)
	case <-time.After(500 * time.Millisecond):
	}

	require.NoError(t, holder.Commit(ctx))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("create did not resume after the lock was released")
	}
	assert.Equal(t, 1, confirmedCount(t, pool, 6))
}

func TestRepository_ProvisionsUnknownUser(t *testing.T) {
	repo, _ := startCockroach(t)
	ctx := context.Background()
	seed(t, repo, futureEvent(7, 1, "10"))
	svc := booking.NewService(repo, observability.NewNopLogger())

	l, err := svc.Loyalty(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(0), l.Points)

	b, err := svc.Create(ctx, 500, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.PointsEarned)

	entry, err := svc.Join(ctx, 7, 501)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Position)
}

func TestRepository_WaitlistRenumbering(t *testing.T) {
	repo, _ := startCockroach(t)
	ctx := context.Background()
	seed(t, repo, futureEvent(3, 1, "10"), 1, 2, 3, 4)
	svc := booking.NewService(repo, observability.NewNopLogger())

	_, err := svc.Create(ctx, 1, 3)
	require.NoError(t, err)
	for _, u := range []int64{2, 3, 4} {
		_, err := svc.Join(ctx, 3, u)
		require.NoError(t, err)
	}

	require.NoError(t, svc.Leave(ctx, 3, 2))

	entries, err := svc.Waitlist(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(3), entries[0].UserID)
	assert.Equal(t, 1, entries[0].Position)
	assert.Equal(t, int64(4), entries[1].UserID)
	assert.Equal(t, 2, entries[1].Position)

	ids, err := repo.ConfirmableEvents(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, int64(3), "event is full")

	event := futureEvent(3, 3, "10")
	require.NoError(t, repo.UpsertEvent(ctx, event))
	ids, err = repo.ConfirmableEvents(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, int64(3))

	n, err := svc.Reconcile(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRepository_DrainOutbox(t *testing.T) {
	repo, _ := startCockroach(t)
	ctx := context.Background()
	seed(t, repo, futureEvent(4, 5, "20"), 1, 2)
	svc := booking.NewService(repo, observability.NewNopLogger())

	_, err := svc.Create(ctx, 1, 4)
	require.NoError(t, err)
	_, err = svc.Create(ctx, 2, 4)
	require.NoError(t, err)

	// first pass acknowledges only one record
	var seen []crdb.OutboxRecord
	n, err := repo.DrainOutbox(ctx, 10, func(ctx context.Context, records []crdb.OutboxRecord) []uuid.UUID {
		seen = append(seen, records...)
		return []uuid.UUID{records[0].ID}
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, seen, 2)

	var note domain.Notification
	require.NoError(t, json.Unmarshal(seen[0].Payload, &note))
	assert.Equal(t, domain.NotificationBookingConfirmed, note.Kind)
	assert.Equal(t, int64(4), note.EventID)
	assert.Equal(t, string(domain.NotificationBookingConfirmed), seen[0].EventType)

	n, err = repo.DrainOutbox(ctx, 10, func(ctx context.Context, records []crdb.OutboxRecord) []uuid.UUID {
		require.Len(t, records, 1)
		assert.Equal(t, seen[1].ID, records[0].ID)
		return []uuid.UUID{records[0].ID}
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = repo.DrainOutbox(ctx, 10, func(ctx context.Context, records []crdb.OutboxRecord) []uuid.UUID {
		t.Fatal("nothing left to publish")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
