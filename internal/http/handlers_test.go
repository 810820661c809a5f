package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/event-registrations/internal/adapters/memory"
	mongoadapter "github.com/robertarktes/event-registrations/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/event-registrations/internal/adapters/redis"
	"github.com/robertarktes/event-registrations/internal/domain"
	apihttp "github.com/robertarktes/event-registrations/internal/http"
	"github.com/robertarktes/event-registrations/internal/idempotency"
	"github.com/robertarktes/event-registrations/internal/notify"
	"github.com/robertarktes/event-registrations/internal/observability"
	"github.com/robertarktes/event-registrations/internal/registration"
	"github.com/robertarktes/event-registrations/internal/ticket"
)

const jwtSecret = "test-jwt-secret"

type idempBackend struct {
	mu    sync.Mutex
	resps map[string]redisadapter.IdempResponse
	locks map[string]bool
}

func (b *idempBackend) Get(_ context.Context, key string) (*redisadapter.IdempResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.resps[key]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (b *idempBackend) Set(_ context.Context, key string, resp redisadapter.IdempResponse, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resps[key] = resp
	return nil
}

func (b *idempBackend) Lock(_ context.Context, key string, _ time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.locks[key] {
		return false, nil
	}
	b.locks[key] = true
	return true, nil
}

func (b *idempBackend) Unlock(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.locks, key)
	return nil
}

// staticAvailability answers every lookup with the same count.
type staticAvailability struct{ count int }

func (s staticAvailability) Get(_ context.Context, eventID uuid.UUID) (*mongoadapter.AvailabilityDoc, error) {
	return &mongoadapter.AvailabilityDoc{EventID: eventID.String(), RegisteredCount: s.count, UpdatedAt: time.Now()}, nil
}

type api struct {
	t   *testing.T
	srv *httptest.Server
	org domain.Actor
}

func newAPI(t *testing.T, opts ...apihttp.Option) *api {
	t.Helper()
	signer, err := ticket.NewSigner("ticket-secret")
	if err != nil {
		t.Fatal(err)
	}
	logger := observability.NewNopLogger()
	svc := registration.NewService(memory.NewStore(), signer, notify.NewDispatcher(notify.Log{Logger: logger}, nil, logger), logger)
	backend := &idempBackend{resps: map[string]redisadapter.IdempResponse{}, locks: map[string]bool{}}
	router := apihttp.SetupRouter(apihttp.NewHandlers(svc, opts...), logger, jwtSecret, nil, idempotency.NewIdempotency(backend, time.Hour))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &api{
		t:   t,
		srv: srv,
		org: domain.Actor{ID: uuid.New(), Role: domain.RoleOrganizer, Name: "Org", Email: "org@example.com"},
	}
}

func newParticipant(name string) domain.Actor {
	return domain.Actor{ID: uuid.New(), Role: domain.RoleParticipant, Name: name, Email: name + "@example.com", Type: domain.ParticipantIIIT}
}

func (a *api) do(as *domain.Actor, method, path string, body any, header ...string) (int, http.Header, []byte) {
	a.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			a.t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	if err != nil {
		a.t.Fatal(err)
	}
	if as != nil {
		token, err := apihttp.NewToken(jwtSecret, *as, time.Hour)
		if err != nil {
			a.t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		a.t.Fatal(err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		a.t.Fatal(err)
	}
	return resp.StatusCode, resp.Header, out
}

func decodeInto(t *testing.T, raw []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

func (a *api) publishedEvent(limit int) string {
	a.t.Helper()
	now := time.Now().UTC()
	status, _, body := a.do(&a.org, http.MethodPost, "/v1/events", map[string]any{
		"name":                 "Hackathon",
		"type":                 "normal",
		"registrationDeadline": now.Add(24 * time.Hour),
		"startDate":            now.Add(48 * time.Hour),
		"endDate":              now.Add(72 * time.Hour),
		"limit":                limit,
	})
	if status != http.StatusCreated {
		a.t.Fatalf("create event: %d %s", status, body)
	}
	var e struct {
		ID string `json:"id"`
	}
	decodeInto(a.t, body, &e)
	status, _, body = a.do(&a.org, http.MethodPost, "/v1/events/"+e.ID+"/status", map[string]string{"status": "published"})
	if status != http.StatusOK {
		a.t.Fatalf("publish event: %d %s", status, body)
	}
	return e.ID
}

type problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type registrationResp struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	TicketID string `json:"ticketId"`
	Ticket   *struct {
		TicketID string `json:"ticketID"`
		Sig      string `json:"sig"`
		QR       string `json:"qr"`
	} `json:"ticket"`
}

func TestRequiresBearerToken(t *testing.T) {
	a := newAPI(t)

	status, _, body := a.do(nil, http.MethodGet, "/v1/registrations/mine", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", status, body)
	}
	status, _, _ = a.do(nil, http.MethodGet, "/v1/healthz", nil)
	if status != http.StatusOK {
		t.Fatalf("healthz should be public, got %d", status)
	}
}

func TestRegisterAndVerifyTicket(t *testing.T) {
	a := newAPI(t)
	eventID := a.publishedEvent(10)
	alice := newParticipant("alice")

	status, _, body := a.do(&alice, http.MethodPost, "/v1/events/"+eventID+"/registrations", map[string]any{})
	if status != http.StatusCreated {
		t.Fatalf("register: %d %s", status, body)
	}
	var reg registrationResp
	decodeInto(t, body, &reg)
	if reg.Status != "confirmed" || reg.Ticket == nil {
		t.Fatalf("expected confirmed registration with ticket, got %s", body)
	}
	if !ticket.ValidTicketID(reg.TicketID) || len(reg.Ticket.Sig) != 12 {
		t.Fatalf("unexpected ticket %+v", reg.Ticket)
	}

	status, _, body = a.do(&a.org, http.MethodPost, "/v1/events/"+eventID+"/tickets/verify", map[string]string{"qr": reg.Ticket.QR})
	if status != http.StatusOK {
		t.Fatalf("verify: %d %s", status, body)
	}

	status, _, _ = a.do(&alice, http.MethodPost, "/v1/events/"+eventID+"/tickets/verify", map[string]string{"qr": reg.Ticket.QR})
	if status != http.StatusForbidden {
		t.Fatalf("participant verifying: expected 403, got %d", status)
	}

	tampered := map[string]string{"ticketId": reg.TicketID, "sig": "000000000000"}
	status, _, body = a.do(&a.org, http.MethodPost, "/v1/events/"+eventID+"/tickets/verify", tampered)
	var p problem
	decodeInto(t, body, &p)
	if status != http.StatusBadRequest || p.Code != "INVALID_TICKET" || p.Message != "invalid ticket" {
		t.Fatalf("tampered ticket: %d %+v", status, p)
	}

	status, _, body = a.do(&alice, http.MethodPost, "/v1/registrations/"+reg.ID+"/cancel", nil)
	if status != http.StatusOK {
		t.Fatalf("cancel: %d %s", status, body)
	}
	status, _, _ = a.do(&a.org, http.MethodPost, "/v1/events/"+eventID+"/tickets/verify", map[string]string{"qr": reg.Ticket.QR})
	if status != http.StatusBadRequest {
		t.Fatalf("cancelled ticket: expected 400, got %d", status)
	}
}

func TestEventFullIsConflict(t *testing.T) {
	a := newAPI(t)
	eventID := a.publishedEvent(1)
	alice, bob := newParticipant("alice"), newParticipant("bob")

	if status, _, body := a.do(&alice, http.MethodPost, "/v1/events/"+eventID+"/registrations", map[string]any{}); status != http.StatusCreated {
		t.Fatalf("register: %d %s", status, body)
	}
	status, _, body := a.do(&bob, http.MethodPost, "/v1/events/"+eventID+"/registrations", map[string]any{})
	var p problem
	decodeInto(t, body, &p)
	if status != http.StatusConflict || p.Code != "EVENT_FULL" {
		t.Fatalf("expected 409 EVENT_FULL, got %d %+v", status, p)
	}

	status, _, body = a.do(&a.org, http.MethodGet, "/v1/events/"+eventID+"/availability", nil)
	if status != http.StatusOK {
		t.Fatalf("availability: %d %s", status, body)
	}
	var avail struct {
		RegisteredCount int `json:"registeredCount"`
	}
	decodeInto(t, body, &avail)
	if avail.RegisteredCount != 1 {
		t.Fatalf("expected registeredCount 1, got %d", avail.RegisteredCount)
	}
}

func TestIdempotentRetryReplaysResponse(t *testing.T) {
	a := newAPI(t)
	eventID := a.publishedEvent(5)
	alice := newParticipant("alice")
	key := "7f1c2d8e-retry-key-0001"

	status1, _, body1 := a.do(&alice, http.MethodPost, "/v1/events/"+eventID+"/registrations", map[string]any{}, "Idempotency-Key", key)
	status2, header2, body2 := a.do(&alice, http.MethodPost, "/v1/events/"+eventID+"/registrations", map[string]any{}, "Idempotency-Key", key)
	if status1 != http.StatusCreated || status2 != http.StatusCreated {
		t.Fatalf("expected both 201, got %d and %d", status1, status2)
	}
	if !bytes.Equal(body1, body2) || header2.Get("Idempotent-Replayed") != "true" {
		t.Fatalf("retry was not replayed:\n%s\n%s", body1, body2)
	}

	status, _, body := a.do(&a.org, http.MethodGet, "/v1/events/"+eventID+"/registrations?status=confirmed", nil)
	if status != http.StatusOK {
		t.Fatalf("list: %d %s", status, body)
	}
	var regs []registrationResp
	decodeInto(t, body, &regs)
	if len(regs) != 1 {
		t.Fatalf("expected one registration, got %d", len(regs))
	}
}

func TestBadPathIDIsValidation(t *testing.T) {
	a := newAPI(t)
	alice := newParticipant("alice")

	status, _, body := a.do(&alice, http.MethodGet, "/v1/registrations/not-a-uuid", nil)
	var p problem
	decodeInto(t, body, &p)
	if status != http.StatusBadRequest || p.Code != "VALIDATION" {
		t.Fatalf("expected 400 VALIDATION, got %d %+v", status, p)
	}

	status, _, _ = a.do(&alice, http.MethodGet, "/v1/registrations/"+uuid.NewString(), nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestTeamFlow(t *testing.T) {
	a := newAPI(t)
	now := time.Now().UTC()
	status, _, body := a.do(&a.org, http.MethodPost, "/v1/events", map[string]any{
		"name":                 "Relay",
		"type":                 "normal",
		"registrationDeadline": now.Add(24 * time.Hour),
		"limit":                10,
		"isTeamEvent":          true,
		"minTeamSize":          2,
		"maxTeamSize":          3,
	})
	if status != http.StatusCreated {
		t.Fatalf("create: %d %s", status, body)
	}
	var e struct {
		ID string `json:"id"`
	}
	decodeInto(t, body, &e)
	if status, _, body = a.do(&a.org, http.MethodPost, "/v1/events/"+e.ID+"/status", map[string]string{"status": "published"}); status != http.StatusOK {
		t.Fatalf("publish: %d %s", status, body)
	}

	lead, mate := newParticipant("lead"), newParticipant("mate")
	status, _, body = a.do(&lead, http.MethodPost, "/v1/events/"+e.ID+"/teams", map[string]any{"name": "Rockets", "size": 2})
	if status != http.StatusCreated {
		t.Fatalf("create team: %d %s", status, body)
	}
	var team struct {
		ID            string             `json:"id"`
		Status        string             `json:"status"`
		InviteCode    string             `json:"inviteCode"`
		Registrations []registrationResp `json:"registrations"`
	}
	decodeInto(t, body, &team)
	if !ticket.ValidInviteCode(team.InviteCode) {
		t.Fatalf("bad invite code %q", team.InviteCode)
	}

	status, _, body = a.do(&mate, http.MethodPost, "/v1/teams/join", map[string]string{"inviteCode": team.InviteCode})
	if status != http.StatusOK {
		t.Fatalf("join: %d %s", status, body)
	}
	decodeInto(t, body, &team)
	if team.Status != "complete" || len(team.Registrations) != 2 {
		t.Fatalf("expected complete team with 2 registrations, got %s", body)
	}
	for _, r := range team.Registrations {
		if r.Status != "confirmed" || r.Ticket == nil {
			t.Fatalf("member registration without ticket: %+v", r)
		}
	}

	status, _, body = a.do(&mate, http.MethodGet, "/v1/events/"+e.ID+"/teams/mine", nil)
	if status != http.StatusOK {
		t.Fatalf("my team: %d %s", status, body)
	}
}

func TestAvailabilityHidesDraftEvents(t *testing.T) {
	a := newAPI(t, apihttp.WithAvailability(staticAvailability{count: 7}))
	now := time.Now().UTC()
	status, _, body := a.do(&a.org, http.MethodPost, "/v1/events", map[string]any{
		"name":                 "Secret Gig",
		"type":                 "normal",
		"registrationDeadline": now.Add(24 * time.Hour),
		"limit":                10,
	})
	if status != http.StatusCreated {
		t.Fatalf("create: %d %s", status, body)
	}
	var e struct {
		ID string `json:"id"`
	}
	decodeInto(t, body, &e)

	alice := newParticipant("alice")
	status, _, body = a.do(&alice, http.MethodGet, "/v1/events/"+e.ID+"/availability", nil)
	if status != http.StatusNotFound {
		t.Fatalf("draft availability for a participant: expected 404, got %d %s", status, body)
	}

	status, _, body = a.do(&a.org, http.MethodGet, "/v1/events/"+e.ID+"/availability", nil)
	if status != http.StatusOK {
		t.Fatalf("organizer availability: %d %s", status, body)
	}
	var avail struct {
		RegisteredCount int `json:"registeredCount"`
	}
	decodeInto(t, body, &avail)
	if avail.RegisteredCount != 7 {
		t.Fatalf("expected the read model count 7, got %d", avail.RegisteredCount)
	}

	status, _, _ = a.do(&alice, http.MethodGet, "/v1/events/"+uuid.NewString()+"/availability", nil)
	if status != http.StatusNotFound {
		t.Fatalf("unknown event: expected 404, got %d", status)
	}
}
