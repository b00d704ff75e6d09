package idempotency

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	redisadapter "github.com/robertarktes/event-bookings/internal/adapters/redis"
)

// ErrInFlight is returned by Begin while another request with the same key is running.
var ErrInFlight = errors.New("request with this idempotency key is in progress")

// Store is satisfied by the redis adapter.
type Store interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
}

type Idempotency struct {
	store Store
	ttl   time.Duration
	lock  time.Duration
}

func NewIdempotency(store Store, ttl time.Duration) *Idempotency {
	return &Idempotency{store: store, ttl: ttl, lock: 30 * time.Second}
}

type Response struct {
	Status      int
	ContentType string
	Result      []byte
}

// scope binds a client key to the caller and to the request it was sent with
// ("POST /v1/bookings"), so reusing a key on another route never replays.
func scope(userID int64, route, key string) string {
	return redisadapter.UserKey(userID, route+"|"+key)
}

// Begin returns the stored response for key on route if there is one. Otherwise it
// claims the key and the caller must follow up with Commit or Abort.
func (i *Idempotency) Begin(ctx context.Context, userID int64, route, key string) (*Response, error) {
	k := scope(userID, route, key)
	if resp, err := i.get(ctx, k); err != nil || resp != nil {
		return resp, err
	}
	ok, err := i.store.Reserve(ctx, k, i.lock)
	if err != nil {
		return nil, errors.Wrap(err, "reserve idempotency key")
	}
	if !ok {
		// the holder may have finished between the two calls
		if resp, err := i.get(ctx, k); err != nil || resp != nil {
			return resp, err
		}
		return nil, ErrInFlight
	}
	return nil, nil
}

// Commit stores resp for replay and releases the claim.
func (i *Idempotency) Commit(ctx context.Context, userID int64, route, key string, resp Response) error {
	k := scope(userID, route, key)
	err := i.store.Set(ctx, k, redisadapter.IdempResponse{
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Result:      resp.Result,
	}, i.ttl)
	if err != nil {
		return errors.Wrap(err, "store idempotent response")
	}
	return i.store.Release(ctx, k)
}

// Abort releases the claim without storing anything so the client may retry.
func (i *Idempotency) Abort(ctx context.Context, userID int64, route, key string) error {
	return i.store.Release(ctx, scope(userID, route, key))
}

func (i *Idempotency) get(ctx context.Context, key string) (*Response, error) {
	stored, err := i.store.Get(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "load idempotent response")
	}
	if stored == nil {
		return nil, nil
	}
	return &Response{Status: stored.Status, ContentType: stored.ContentType, Result: stored.Result}, nil
}
