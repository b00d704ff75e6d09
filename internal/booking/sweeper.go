package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-bookings/internal/observability"
)

// EventLister returns events that have a free seat and a non-empty waitlist.
type EventLister interface {
	ConfirmableEvents(ctx context.Context) ([]int64, error)
}

type EventListerFunc func(ctx context.Context) ([]int64, error)

func (f EventListerFunc) ConfirmableEvents(ctx context.Context) ([]int64, error) {
	return f(ctx)
}

// Sweeper periodically reconciles waitlists whose event gained seats outside a
// cancellation, e.g. a capacity increase.
type Sweeper struct {
	svc        *Service
	events     EventLister
	logger     observability.Logger
	maxRetries int
	backoff    time.Duration
}

func NewSweeper(svc *Service, events EventLister, logger observability.Logger) *Sweeper {
	return &Sweeper{svc: svc, events: events, logger: logger, maxRetries: 3, backoff: time.Second}
}

func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.WithError(err).Error("waitlist sweep failed")
			}
		}
	}
}

// Sweep reconciles every confirmable event once and returns the number of promotions.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ids, err := s.events.ConfirmableEvents(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list confirmable events")
	}
	total := 0
	for _, id := range ids {
		n, err := s.reconcileWithRetry(ctx, id)
		if err != nil {
			s.logger.WithError(err).WithField("event_id", id).Error("failed to reconcile waitlist after retries")
			continue
		}
		total += n
	}
	if total > 0 {
		s.logger.WithField("promoted", total).Info("waitlist sweep promoted users")
	}
	return total, nil
}

func (s *Sweeper) reconcileWithRetry(ctx context.Context, eventID int64) (int, error) {
	var err error
	for i := 0; i < s.maxRetries; i++ {
		var n int
		n, err = s.svc.Reconcile(ctx, eventID)
		if err == nil {
			return n, nil
		}
		if i == s.maxRetries-1 {
			break
		}
		backoff := time.Duration(i+1) * s.backoff
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return 0, errors.Wrapf(err, "reconcile event %d after %d attempts", eventID, s.maxRetries)
}
