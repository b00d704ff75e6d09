package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/event-bookings/internal/adapters/crdb"
	"github.com/robertarktes/event-bookings/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDrainer struct {
	pending []crdb.OutboxRecord
	marked  []uuid.UUID
}

func (f *fakeDrainer) DrainOutbox(ctx context.Context, limit int, publish func(ctx context.Context, records []crdb.OutboxRecord) []uuid.UUID) (int, error) {
	batch := f.pending
	if len(batch) > limit {
		batch = batch[:limit]
	}
	if len(batch) == 0 {
		return 0, nil
	}
	ids := publish(ctx, batch)
	f.marked = append(f.marked, ids...)

	acked := map[uuid.UUID]bool{}
	for _, id := range ids {
		acked[id] = true
	}
	var left []crdb.OutboxRecord
	for _, rec := range f.pending {
		if !acked[rec.ID] {
			left = append(left, rec)
		}
	}
	f.pending = left
	return len(ids), nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent map[string]amqp.Publishing
	fail map[string]bool
}

func (f *fakeSender) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[msg.MessageId] {
		return errors.New("channel closed")
	}
	f.sent[msg.MessageId] = msg
	return nil
}

func record(kind string) crdb.OutboxRecord {
	id := uuid.New()
	return crdb.OutboxRecord{
		ID:        id,
		EventType: kind,
		Payload:   []byte(`{"kind":"` + kind + `"}`),
		CreatedAt: time.Now().Add(-time.Second),
		DedupeKey: id.String(),
	}
}

func TestPublisher_RunOnce(t *testing.T) {
	ok1, ok2, bad := record("BookingConfirmed"), record("WaitlistPromoted"), record("BookingCancelled")
	drainer := &fakeDrainer{pending: []crdb.OutboxRecord{ok1, bad, ok2}}
	sender := &fakeSender{sent: map[string]amqp.Publishing{}, fail: map[string]bool{bad.DedupeKey: true}}
	p := NewPublisher(drainer, sender, observability.NewNopLogger(), time.Second, 10)

	n, err := p.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []uuid.UUID{ok1.ID, ok2.ID}, drainer.marked)
	require.Len(t, drainer.pending, 1, "failed record stays in the outbox")
	assert.Equal(t, bad.ID, drainer.pending[0].ID)

	msg := sender.sent[ok2.DedupeKey]
	assert.Equal(t, "WaitlistPromoted", msg.Type)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, ok2.Payload, msg.Body)

	delete(sender.fail, bad.DedupeKey)
	n, err = p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, drainer.pending)
}

func TestPublisher_RunOnceEmpty(t *testing.T) {
	p := NewPublisher(&fakeDrainer{}, &fakeSender{}, observability.NewNopLogger(), time.Second, 10)

	n, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPublisher_RunStopsOnCancel(t *testing.T) {
	drainer := &fakeDrainer{pending: []crdb.OutboxRecord{record("BookingConfirmed")}}
	sender := &fakeSender{sent: map[string]amqp.Publishing{}}
	p := NewPublisher(drainer, sender, observability.NewNopLogger(), 10*time.Millisecond, 10)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.sent) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop")
	}
}
