package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/event-registrations/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/event-registrations/internal/adapters/mongo"
	"github.com/robertarktes/event-registrations/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/event-registrations/internal/adapters/redis"
	"github.com/robertarktes/event-registrations/internal/domain"
	httphandler "github.com/robertarktes/event-registrations/internal/http"
	"github.com/robertarktes/event-registrations/internal/idempotency"
	"github.com/robertarktes/event-registrations/internal/notify"
	"github.com/robertarktes/event-registrations/internal/observability"
	"github.com/robertarktes/event-registrations/internal/outbox"
	"github.com/robertarktes/event-registrations/internal/rateLimit"
	"github.com/robertarktes/event-registrations/internal/registration"
	"github.com/robertarktes/event-registrations/internal/ticket"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const jwtSecret = "integration-jwt"

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Terminate(ctx) })
	host, err := c.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatal(err)
	}
	return host + ":" + mapped.Port()
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type client struct {
	t   *testing.T
	url string
}

func (c client) call(as domain.Actor, method, path string, body any, idemKey string) (int, []byte) {
	c.t.Helper()
	raw, _ := json.Marshal(body)
	req, _ := http.NewRequest(method, c.url+path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	token, err := httphandler.NewToken(jwtSecret, as, time.Hour)
	if err != nil {
		c.t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatal(err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func TestIntegration_MerchandiseOrderToAudit(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	crdbAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "cockroachdb/cockroach:v24.1.1",
		Cmd:          []string{"start-single-node", "--insecure"},
		ExposedPorts: []string{"26257/tcp", "8080/tcp"},
		WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
	}, "26257")
	mongoAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp"),
	}, "27017")
	redisAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
	}, "6379")
	rabbitAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-management",
		ExposedPorts: []string{"5672/tcp", "15672/tcp"},
		WaitingFor:   wait.ForHTTP("/api/health/checks/alarms").WithPort("15672").WithBasicAuth("guest", "guest"),
	}, "5672")

	logger := observability.NewLogger("fel-integration", "warn")

	admin, err := pgxpool.New(ctx, "postgresql://root@"+crdbAddr+"/defaultdb?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := admin.Exec(ctx, `CREATE DATABASE IF NOT EXISTS fel`); err != nil {
		t.Fatal(err)
	}
	admin.Close()
	pool, err := pgxpool.New(ctx, "postgresql://root@"+crdbAddr+"/fel?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	if err := crdb.Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}
	store := crdb.NewStore(pool)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://"+mongoAddr))
	if err != nil {
		t.Fatal(err)
	}
	defer mongoClient.Disconnect(context.Background())
	db := mongoClient.Database("fel")
	audit := mongoadapter.NewAuditLogger(db, logger)
	projection := mongoadapter.NewAvailabilityProjection(db, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: redisAddr})
	defer redisClient.Close()
	broadcaster := redisadapter.NewBroadcaster(redisClient, logger)

	rabbitConn, err := amqp.Dial("amqp://guest:guest@" + rabbitAddr + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		t.Fatal(err)
	}
	consumer, err := rabbit.NewConsumer(rabbitConn, "fel.notifications", []string{"registration.*", "team.*"}, logger)
	if err != nil {
		t.Fatal(err)
	}

	// The notify worker, in process.
	go consumer.Run(ctx, audit.LogNotification)
	go func() {
		for change := range broadcaster.SubscribeAll(ctx) {
			projection.Apply(ctx, change)
		}
	}()
	time.Sleep(500 * time.Millisecond)

	signer, err := ticket.NewSigner("integration-ticket")
	if err != nil {
		t.Fatal(err)
	}
	svc := registration.NewService(store, signer, notify.NewDispatcher(notify.Log{Logger: logger}, broadcaster, logger), logger)
	handlers := httphandler.NewHandlers(svc, httphandler.WithAvailability(projection), httphandler.WithCapacityFeed(broadcaster))
	rl := rateLimit.NewRateLimiter(redisadapter.NewCache(redisClient), logger)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), time.Hour)
	srv := httptest.NewServer(httphandler.SetupRouter(handlers, logger, jwtSecret, rl, idemp))
	defer srv.Close()
	api := client{t: t, url: srv.URL}

	org := domain.Actor{ID: uuid.New(), Role: domain.RoleOrganizer, Name: "Org", Email: "org@example.com"}
	alice := domain.Actor{ID: uuid.New(), Role: domain.RoleParticipant, Name: "Alice", Email: "alice@example.com", Type: domain.ParticipantIIIT}

	now := time.Now().UTC()
	status, body := api.call(org, http.MethodPost, "/v1/events", map[string]any{
		"name":                 "Fest T-Shirt",
		"type":                 "merchandise",
		"registrationDeadline": now.Add(24 * time.Hour),
		"limit":                10,
		"variants":             []map[string]any{{"name": "S", "price": 250, "stock": 5}},
		"purchaseLimitPerUser": 3,
	}, "")
	if status != http.StatusCreated {
		t.Fatalf("create event: %d %s", status, body)
	}
	var event struct {
		ID string `json:"id"`
	}
	json.Unmarshal(body, &event)
	if status, body = api.call(org, http.MethodPost, "/v1/events/"+event.ID+"/status", map[string]string{"status": "published"}, ""); status != http.StatusOK {
		t.Fatalf("publish: %d %s", status, body)
	}

	order := map[string]any{"variants": []map[string]any{{"name": "S", "quantity": 2}}}
	key := uuid.NewString()
	status, first := api.call(alice, http.MethodPost, "/v1/events/"+event.ID+"/registrations", order, key)
	if status != http.StatusCreated {
		t.Fatalf("order: %d %s", status, first)
	}
	status, replay := api.call(alice, http.MethodPost, "/v1/events/"+event.ID+"/registrations", order, key)
	if status != http.StatusCreated || !bytes.Equal(first, replay) {
		t.Fatalf("retry was not replayed: %d %s", status, replay)
	}
	var reg struct {
		ID     string  `json:"id"`
		Status string  `json:"status"`
		Amount float64 `json:"amount"`
	}
	json.Unmarshal(first, &reg)
	if reg.Status != "pending" || reg.Amount != 500 {
		t.Fatalf("unexpected order %s", first)
	}

	if status, body = api.call(alice, http.MethodPost, "/v1/registrations/"+reg.ID+"/payment-proof", map[string]string{"proofRef": "s3://proofs/alice.png"}, ""); status != http.StatusOK {
		t.Fatalf("proof: %d %s", status, body)
	}
	status, body = api.call(org, http.MethodPost, "/v1/registrations/"+reg.ID+"/approve", map[string]string{"comment": "paid"}, "")
	if status != http.StatusOK {
		t.Fatalf("approve: %d %s", status, body)
	}
	var approved struct {
		Ticket struct {
			QR string `json:"qr"`
		} `json:"ticket"`
	}
	json.Unmarshal(body, &approved)
	if status, body = api.call(org, http.MethodPost, "/v1/events/"+event.ID+"/tickets/verify", map[string]string{"qr": approved.Ticket.QR}, ""); status != http.StatusOK {
		t.Fatalf("verify: %d %s", status, body)
	}

	relay := outbox.NewRelay(store, rabbitPub, logger, time.Second)
	published, err := relay.Drain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if published != 2 {
		t.Fatalf("expected pending and confirmed notifications, relayed %d", published)
	}

	regID := uuid.MustParse(reg.ID)
	eventually(t, "audit entries", func() bool {
		history, err := audit.History(ctx, regID)
		return err == nil && len(history) == 2 &&
			history[0].Action == string(notify.RegistrationPending) &&
			history[1].Action == string(notify.RegistrationConfirmed)
	})
	eventually(t, "availability projection", func() bool {
		doc, err := projection.Get(ctx, uuid.MustParse(event.ID))
		return err == nil && doc.RegisteredCount == 2
	})
}
