package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	mongoadapter "github.com/robertarktes/event-registrations/internal/adapters/mongo"
	"github.com/robertarktes/event-registrations/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/event-registrations/internal/adapters/redis"
	"github.com/robertarktes/event-registrations/internal/config"
	"github.com/robertarktes/event-registrations/internal/notify"
	"github.com/robertarktes/event-registrations/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

const queue = "fel.notifications"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "fel-notify-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger("fel-notify-worker", cfg.LogLevel)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	db := mongoClient.Database("fel")
	audit := mongoadapter.NewAuditLogger(db, logger)
	projection := mongoadapter.NewAvailabilityProjection(db, logger)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, queue, []string{"registration.*", "team.*"}, logger)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	broadcaster := redisadapter.NewBroadcaster(redisClient, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx, func(ctx context.Context, n notify.Notification) error {
			logger.WithField("kind", n.Kind).WithField("registration_id", n.RegistrationID).Info("notification for ", n.Email)
			return audit.LogNotification(ctx, n)
		})
	})
	g.Go(func() error {
		for change := range broadcaster.SubscribeAll(gctx) {
			if err := projection.Apply(gctx, change); err != nil {
				logger.WithField("event_id", change.EventID).Error("availability projection failed: ", err)
			}
		}
		return nil
	})

	logger.Info("notify worker started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("notify worker: %v", err)
	}
	logger.Info("Shutdown notify worker")
}
