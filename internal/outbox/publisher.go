package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/event-bookings/internal/adapters/crdb"
	"github.com/robertarktes/event-bookings/internal/observability"
	"golang.org/x/sync/errgroup"
)

type Drainer interface {
	DrainOutbox(ctx context.Context, limit int, publish func(ctx context.Context, records []crdb.OutboxRecord) []uuid.UUID) (int, error)
}

type Sender interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

type Publisher struct {
	repo        Drainer
	sender      Sender
	logger      observability.Logger
	interval    time.Duration
	batchSize   int
	concurrency int
	now         func() time.Time
}

func NewPublisher(repo Drainer, sender Sender, logger observability.Logger, interval time.Duration, batchSize int) *Publisher {
	return &Publisher{
		repo:        repo,
		sender:      sender,
		logger:      logger,
		interval:    interval,
		batchSize:   batchSize,
		concurrency: 4,
		now:         time.Now,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// keep draining while full batches come back
			for {
				n, err := p.RunOnce(ctx)
				if err != nil {
					p.logger.WithError(err).Error("outbox drain failed")
					break
				}
				if n < p.batchSize || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// RunOnce publishes one batch and returns the number of records marked published.
func (p *Publisher) RunOnce(ctx context.Context) (int, error) {
	return p.repo.DrainOutbox(ctx, p.batchSize, p.publish)
}

func (p *Publisher) publish(ctx context.Context, records []crdb.OutboxRecord) []uuid.UUID {
	oldest := records[0].CreatedAt
	for _, rec := range records[1:] {
		if rec.CreatedAt.Before(oldest) {
			oldest = rec.CreatedAt
		}
	}
	observability.OutboxLag.Set(p.now().Sub(oldest).Seconds())

	var (
		mu   sync.Mutex
		done []uuid.UUID
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			msg := amqp.Publishing{
				MessageId:   rec.DedupeKey,
				ContentType: "application/json",
				Timestamp:   rec.CreatedAt,
				Type:        rec.EventType,
				Body:        rec.Payload,
			}
			if err := p.sender.Publish(gctx, rec.EventType, msg); err != nil {
				observability.RabbitPublishFailures.Inc()
				p.logger.WithError(err).WithField("outbox_id", rec.ID.String()).Warn("publish failed, will retry")
				return nil
			}
			mu.Lock()
			done = append(done, rec.ID)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if len(done) > 0 {
		p.logger.WithFields(map[string]interface{}{
			"published": len(done),
			"batch":     len(records),
		}).Debug("outbox batch published")
	}
	return done
}
