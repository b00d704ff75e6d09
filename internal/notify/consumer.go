package notify

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	mongoadapter "github.com/robertarktes/event-bookings/internal/adapters/mongo"
	"github.com/robertarktes/event-bookings/internal/domain"
	"github.com/robertarktes/event-bookings/internal/observability"
)

type Inbox interface {
	Store(ctx context.Context, doc mongoadapter.NotificationDoc) (bool, error)
}

// Consumer turns notification messages into inbox rows. Malformed messages are
// dropped; storage failures are requeued.
type Consumer struct {
	inbox  Inbox
	logger observability.Logger
}

func NewConsumer(inbox Inbox, logger observability.Logger) *Consumer {
	return &Consumer{inbox: inbox, logger: logger}
}

func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.Handle(ctx, d)
		}
	}
}

func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	log := c.logger.WithFields(map[string]interface{}{
		"message_id":  d.MessageId,
		"routing_key": d.RoutingKey,
	})

	var n domain.Notification
	if err := json.Unmarshal(d.Body, &n); err != nil || d.MessageId == "" || n.UserID == 0 {
		log.WithError(err).Warn("dropping malformed notification")
		d.Nack(false, false)
		return
	}

	stored, err := c.inbox.Store(ctx, mongoadapter.NotificationDoc{
		ID:      d.MessageId,
		Kind:    string(n.Kind),
		UserID:  n.UserID,
		EventID: n.EventID,
		Context: n.Context,
	})
	if err != nil {
		log.WithError(err).Error("failed to store notification")
		d.Nack(false, true)
		return
	}
	if !stored {
		log.Debug("duplicate notification")
	} else {
		log.WithField("user_id", n.UserID).Info("notification stored")
	}
	d.Ack(false)
}
