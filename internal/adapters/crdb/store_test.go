package crdb_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/event-registrations/internal/adapters/crdb"
	"github.com/robertarktes/event-registrations/internal/domain"
	"github.com/robertarktes/event-registrations/internal/notify"
	"github.com/robertarktes/event-registrations/internal/observability"
	"github.com/robertarktes/event-registrations/internal/registration"
	"github.com/robertarktes/event-registrations/internal/ticket"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"
)

func startStore(t *testing.T) *crdb.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { crdbContainer.Terminate(ctx) })

	host, err := crdbContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := crdbContainer.MappedPort(ctx, "26257")
	if err != nil {
		t.Fatal(err)
	}
	dsn := "postgresql://root@" + host + ":" + port.Port()

	admin, err := pgxpool.New(ctx, dsn+"/defaultdb?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	defer admin.Close()
	if _, err := admin.Exec(ctx, `CREATE DATABASE IF NOT EXISTS fel`); err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, dsn+"/fel?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	if err := crdb.Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}
	return crdb.NewStore(pool)
}

func newEvent(limit int) *domain.Event {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Event{
		ID:                   uuid.New(),
		OrganizerID:          uuid.New(),
		Name:                 "Fest T-Shirt",
		Type:                 domain.EventMerchandise,
		Status:               domain.EventPublished,
		Eligibility:          domain.EligibleAll,
		RegistrationDeadline: now.Add(24 * time.Hour),
		EndDate:              now.Add(48 * time.Hour),
		Limit:                limit,
		Variants:             []domain.Variant{{Name: "M", Price: 300, Stock: 4}},
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func TestStore_EventRoundTrip(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()
	e := newEvent(5)

	if err := store.CreateEvent(ctx, e); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetEvent(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != e.Name || got.Limit != 5 || len(got.Variants) != 1 || got.Variant("M").Stock != 4 {
		t.Errorf("unexpected event %+v", got)
	}
	if !got.StartDate.IsZero() {
		t.Errorf("expected zero start date, got %v", got.StartDate)
	}
	if _, err := store.GetEvent(ctx, uuid.New()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestStore_WithEventRollsBack(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()
	e := newEvent(5)
	if err := store.CreateEvent(ctx, e); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := store.WithEvent(ctx, e.ID, func(tx registration.EventTx) error {
		tx.Event().RegisteredCount = 3
		if err := tx.SaveEvent(ctx); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, _ := store.GetEvent(ctx, e.ID)
	if got.RegisteredCount != 0 {
		t.Errorf("rolled back count leaked: %d", got.RegisteredCount)
	}
}

func TestStore_CountNeverExceedsLimit(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()
	e := newEvent(5)
	if err := store.CreateEvent(ctx, e); err != nil {
		t.Fatal(err)
	}

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			err := store.WithEvent(ctx, e.ID, func(tx registration.EventTx) error {
				ev := tx.Event()
				if ev.RegisteredCount >= ev.Limit {
					return domain.Conflict(domain.ErrEventFull, "full")
				}
				ev.RegisteredCount++
				return tx.SaveEvent(ctx)
			})
			if errors.Is(err, domain.ErrEventFull) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetEvent(ctx, e.ID)
	if got.RegisteredCount != 5 {
		t.Errorf("expected count 5, got %d", got.RegisteredCount)
	}
}

func TestStore_TicketIDCollisionRunsUnitAgain(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()
	first, second := newEvent(5), newEvent(5)
	for _, e := range []*domain.Event{first, second} {
		if err := store.CreateEvent(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	buyer := domain.Actor{ID: uuid.New(), Role: domain.RoleParticipant, Name: "Asha", Email: "asha@example.com"}
	now := time.Now().UTC()

	taken, err := ticket.NewTicketID()
	if err != nil {
		t.Fatal(err)
	}
	err = store.WithEvent(ctx, first.ID, func(tx registration.EventTx) error {
		return tx.InsertRegistration(ctx, domain.NewRegistration(tx.Event(), buyer, domain.StatusPending, taken, now))
	})
	if err != nil {
		t.Fatal(err)
	}

	// the first run reuses a committed id, as a concurrent insert would
	attempts := 0
	var final string
	err = store.WithEvent(ctx, second.ID, func(tx registration.EventTx) error {
		attempts++
		id := taken
		if attempts > 1 {
			var err error
			if id, err = ticket.NewTicketID(); err != nil {
				return err
			}
		}
		final = id
		return tx.InsertRegistration(ctx, domain.NewRegistration(tx.Event(), buyer, domain.StatusPending, id, now))
	})
	if err != nil {
		t.Fatalf("expected the unit to succeed on retry, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
	if _, err := store.GetRegistrationByTicket(ctx, final); err != nil {
		t.Errorf("retried registration not stored: %v", err)
	}
}

func TestStore_EngineWithOutbox(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()

	signer, err := ticket.NewSigner("test-secret")
	if err != nil {
		t.Fatal(err)
	}
	logger := observability.NewNopLogger()
	svc := registration.NewService(store, signer, notify.NewDispatcher(nil, nil, logger), logger)

	org := domain.Actor{ID: uuid.New(), Role: domain.RoleOrganizer}
	e := newEvent(10)
	e.OrganizerID = org.ID
	if err := store.CreateEvent(ctx, e); err != nil {
		t.Fatal(err)
	}

	p := domain.Actor{ID: uuid.New(), Role: domain.RoleParticipant, Name: "asha", Email: "asha@example.com"}
	res, err := svc.Register(ctx, p, e.ID, registration.RegisterInput{
		Variants: []domain.SelectedVariant{{Name: "M", Quantity: 2}},
	})
	if err != nil {
		t.Fatal(err)
	}
	approved, err := svc.ApprovePayment(ctx, org, res.Registration.ID, "ok")
	if err != nil {
		t.Fatal(err)
	}
	if approved.Ticket == nil || !signer.Verify(approved.Ticket.Claims, approved.Ticket.Sig) {
		t.Fatal("expected a verifiable ticket")
	}

	got, err := store.GetRegistrationByTicket(ctx, approved.Registration.TicketID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusConfirmed || len(got.StatusHistory) != 2 || got.SelectedVariants[0].Quantity != 2 {
		t.Errorf("unexpected stored registration %+v", got)
	}
	ev, _ := store.GetEvent(ctx, e.ID)
	if ev.RegisteredCount != 2 || ev.Variant("M").Stock != 2 {
		t.Errorf("expected count 2 stock 2, got %d/%d", ev.RegisteredCount, ev.Variant("M").Stock)
	}

	var kinds []notify.Kind
	n, err := store.RelayOutbox(ctx, 10, func(_ context.Context, rec crdb.OutboxRecord) error {
		var note notify.Notification
		if err := json.Unmarshal(rec.Payload, &note); err != nil {
			return err
		}
		kinds = append(kinds, note.Kind)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || len(kinds) != 2 || kinds[0] != notify.RegistrationPending || kinds[1] != notify.RegistrationConfirmed {
		t.Errorf("unexpected relayed notifications %v", kinds)
	}
	if n, _ := store.RelayOutbox(ctx, 10, func(context.Context, crdb.OutboxRecord) error { return nil }); n != 0 {
		t.Errorf("records relayed twice: %d", n)
	}
}

func TestStore_RelayKeepsFailedRecords(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()
	e := newEvent(5)
	if err := store.CreateEvent(ctx, e); err != nil {
		t.Fatal(err)
	}
	err := store.WithEvent(ctx, e.ID, func(tx registration.EventTx) error {
		return tx.(registration.Outbox).Enqueue(ctx, []notify.Notification{{
			Kind:    notify.CapacityChanged,
			EventID: e.ID,
			At:      time.Now(),
		}})
	})
	if err != nil {
		t.Fatal(err)
	}

	fail := func(context.Context, crdb.OutboxRecord) error { return errors.New("broker down") }
	if n, err := store.RelayOutbox(ctx, 10, fail); err != nil || n != 0 {
		t.Fatalf("expected nothing published, got %d %v", n, err)
	}
	if _, pending, _ := store.OldestPending(ctx); !pending {
		t.Error("failed record should stay pending")
	}
	if n, err := store.RelayOutbox(ctx, 10, func(context.Context, crdb.OutboxRecord) error { return nil }); err != nil || n != 1 {
		t.Errorf("expected retry to publish 1, got %d %v", n, err)
	}
}
