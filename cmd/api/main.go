package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/event-registrations/internal/adapters/crdb"
	"github.com/robertarktes/event-registrations/internal/adapters/memory"
	mongoadapter "github.com/robertarktes/event-registrations/internal/adapters/mongo"
	"github.com/robertarktes/event-registrations/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/event-registrations/internal/adapters/redis"
	"github.com/robertarktes/event-registrations/internal/capacity"
	"github.com/robertarktes/event-registrations/internal/config"
	httphandler "github.com/robertarktes/event-registrations/internal/http"
	"github.com/robertarktes/event-registrations/internal/idempotency"
	"github.com/robertarktes/event-registrations/internal/notify"
	"github.com/robertarktes/event-registrations/internal/observability"
	"github.com/robertarktes/event-registrations/internal/rateLimit"
	"github.com/robertarktes/event-registrations/internal/registration"
	"github.com/robertarktes/event-registrations/internal/ticket"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

type readiness []func(ctx context.Context) error

func (r readiness) check(ctx context.Context) error {
	var err error
	for _, probe := range r {
		err = errors.CombineErrors(err, probe(ctx))
	}
	return err
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.SetupOTel(ctx, cfg, "fel-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger("fel-api", cfg.LogLevel)

	signer, err := ticket.NewSigner(cfg.TicketSecret)
	if err != nil {
		log.Fatalf("failed to create ticket signer: %v", err)
	}

	var (
		store    registration.Store
		ready    readiness
		notifier notify.Notifier = notify.Log{Logger: logger}
		pub      capacity.Publisher
		opts     []httphandler.Option
		rl       *rateLimit.RateLimiter
		idemp    *idempotency.Idempotency
	)

	switch cfg.StoreDriver {
	case config.StoreCRDB:
		pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
		if err != nil {
			log.Fatalf("failed to connect to crdb: %v", err)
		}
		defer pool.Close()
		if err := crdb.Migrate(ctx, pool); err != nil {
			log.Fatalf("failed to migrate crdb: %v", err)
		}
		store = crdb.NewStore(pool)
		ready = append(ready, pool.Ping)
	default:
		store = memory.NewStore()
	}

	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		broadcaster := redisadapter.NewBroadcaster(redisClient, logger)
		pub = broadcaster
		opts = append(opts, httphandler.WithCapacityFeed(broadcaster))
		rl = rateLimit.NewRateLimiter(redisadapter.NewCache(redisClient), logger)
		idemp = idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
		ready = append(ready, func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		opts = append(opts, httphandler.WithAvailability(mongoadapter.NewAvailabilityProjection(mongoClient.Database("fel"), logger)))
		ready = append(ready, func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) })
	}

	// With crdb, notifications leave through the outbox and the relay
	// publishes them. The memory store has no outbox, so publish directly.
	if cfg.RabbitURL != "" && cfg.StoreDriver == config.StoreMemory {
		rabbitConn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer rabbitConn.Close()
		rabbitPub, err := rabbit.NewPublisher(rabbitConn)
		if err != nil {
			log.Fatalf("failed to create publisher: %v", err)
		}
		defer rabbitPub.Close()
		notifier = notify.Multi{notifier, rabbitPub}
	}

	svc := registration.NewService(store, signer, notify.NewDispatcher(notifier, pub, logger), logger)
	handlers := httphandler.NewHandlers(svc, append(opts, httphandler.WithReadiness(ready.check))...)
	r := httphandler.SetupRouter(handlers, logger, cfg.JWTSecret, rl, idemp)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).WithField("store", cfg.StoreDriver).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("server: %v", err)
	}
	logger.Info("Server exiting")
}
