package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	mongoadapter "github.com/robertarktes/event-bookings/internal/adapters/mongo"
	"github.com/robertarktes/event-bookings/internal/adapters/rabbit"
	"github.com/robertarktes/event-bookings/internal/config"
	"github.com/robertarktes/event-bookings/internal/notify"
	"github.com/robertarktes/event-bookings/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	inbox := mongoadapter.NewInboxRepository(mongoClient.Database(cfg.MongoDB), logger)
	if err := inbox.EnsureIndexes(context.Background()); err != nil {
		log.Fatalf("failed to create inbox indexes: %v", err)
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, "notifications.q", "#", 16)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume: %v", err)
	}

	logger.Info("Notification consumer started")
	if err := notify.NewConsumer(inbox, logger).Run(ctx, deliveries); err != nil && err != context.Canceled {
		logger.WithError(err).Error("consumer stopped")
	}
	logger.Info("Shutdown notification consumer")
}
