// Package memory is a single-process Store. A mutex per event serializes
// units of work; their writes are staged and applied only on success.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-registrations/internal/domain"
	"github.com/robertarktes/event-registrations/internal/registration"
)

type Store struct {
	mu            sync.RWMutex
	events        map[uuid.UUID]*domain.Event
	registrations map[uuid.UUID]*domain.Registration
	byTicket      map[string]uuid.UUID
	regsByEvent   map[uuid.UUID][]uuid.UUID
	teams         map[uuid.UUID]*domain.Team
	byInvite      map[string]uuid.UUID
	teamsByEvent  map[uuid.UUID][]uuid.UUID

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

var _ registration.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		events:        make(map[uuid.UUID]*domain.Event),
		registrations: make(map[uuid.UUID]*domain.Registration),
		byTicket:      make(map[string]uuid.UUID),
		regsByEvent:   make(map[uuid.UUID][]uuid.UUID),
		teams:         make(map[uuid.UUID]*domain.Team),
		byInvite:      make(map[string]uuid.UUID),
		teamsByEvent:  make(map[uuid.UUID][]uuid.UUID),
		locks:         make(map[uuid.UUID]*sync.Mutex),
	}
}

func (s *Store) lock(eventID uuid.UUID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[eventID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[eventID] = l
	}
	return l
}

func (s *Store) WithEvent(ctx context.Context, eventID uuid.UUID, fn func(tx registration.EventTx) error) error {
	l := s.lock(eventID)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	e, ok := s.events[eventID]
	var event *domain.Event
	if ok {
		event = cloneEvent(e)
	}
	s.mu.RUnlock()
	if !ok {
		return domain.NotFound("event")
	}

	tx := &eventTx{
		store: s,
		event: event,
		regs:  make(map[uuid.UUID]*domain.Registration),
		teams: make(map[uuid.UUID]*domain.Team),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *eventTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range tx.newRegs {
		if _, taken := s.byTicket[tx.regs[id].TicketID]; taken {
			return errors.Newf("ticket id %s already exists", tx.regs[id].TicketID)
		}
	}
	for _, id := range tx.newTeams {
		if _, taken := s.byInvite[tx.teams[id].InviteCode]; taken {
			return errors.Newf("invite code %s already exists", tx.teams[id].InviteCode)
		}
	}

	eventID := tx.event.ID
	if tx.eventDirty {
		s.events[eventID] = cloneEvent(tx.event)
	}
	for id, r := range tx.regs {
		s.registrations[id] = cloneRegistration(r)
	}
	for _, id := range tx.newRegs {
		s.byTicket[tx.regs[id].TicketID] = id
		s.regsByEvent[eventID] = append(s.regsByEvent[eventID], id)
	}
	for id, t := range tx.teams {
		s.teams[id] = cloneTeam(t)
	}
	for _, id := range tx.newTeams {
		s.byInvite[tx.teams[id].InviteCode] = id
		s.teamsByEvent[eventID] = append(s.teamsByEvent[eventID], id)
	}
	return nil
}

func (s *Store) CreateEvent(_ context.Context, e *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[e.ID]; exists {
		return domain.Conflict(domain.ErrConflict, "event %s already exists", e.ID)
	}
	s.events[e.ID] = cloneEvent(e)
	return nil
}

func (s *Store) GetEvent(_ context.Context, id uuid.UUID) (*domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, domain.NotFound("event")
	}
	return cloneEvent(e), nil
}

func (s *Store) GetRegistration(_ context.Context, id uuid.UUID) (*domain.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.registrations[id]
	if !ok {
		return nil, domain.NotFound("registration")
	}
	return cloneRegistration(r), nil
}

func (s *Store) GetRegistrationByTicket(_ context.Context, ticketID string) (*domain.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byTicket[ticketID]
	if !ok {
		return nil, domain.NotFound("registration")
	}
	return cloneRegistration(s.registrations[id]), nil
}

func (s *Store) ListRegistrationsByParticipant(_ context.Context, participantID uuid.UUID) ([]domain.Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Registration
	for _, r := range s.registrations {
		if r.ParticipantID == participantID {
			out = append(out, *cloneRegistration(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetTeam(_ context.Context, id uuid.UUID) (*domain.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teams[id]
	if !ok {
		return nil, domain.NotFound("team")
	}
	return cloneTeam(t), nil
}

func (s *Store) GetTeamByInviteCode(_ context.Context, code string) (*domain.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byInvite[code]
	if !ok {
		return nil, domain.NotFound("team")
	}
	return cloneTeam(s.teams[id]), nil
}

type eventTx struct {
	store      *Store
	event      *domain.Event
	eventDirty bool

	regs     map[uuid.UUID]*domain.Registration
	newRegs  []uuid.UUID
	teams    map[uuid.UUID]*domain.Team
	newTeams []uuid.UUID
}

func (tx *eventTx) Event() *domain.Event { return tx.event }

func (tx *eventTx) SaveEvent(context.Context) error {
	tx.eventDirty = true
	return nil
}

func (tx *eventTx) Registration(_ context.Context, id uuid.UUID) (*domain.Registration, error) {
	if r, ok := tx.regs[id]; ok {
		return cloneRegistration(r), nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	r, ok := tx.store.registrations[id]
	if !ok || r.EventID != tx.event.ID {
		return nil, domain.NotFound("registration")
	}
	return cloneRegistration(r), nil
}

func (tx *eventTx) Registrations(_ context.Context, f registration.Filter) ([]domain.Registration, error) {
	tx.store.mu.RLock()
	ids := append([]uuid.UUID(nil), tx.store.regsByEvent[tx.event.ID]...)
	committed := make(map[uuid.UUID]*domain.Registration, len(ids))
	for _, id := range ids {
		committed[id] = tx.store.registrations[id]
	}
	tx.store.mu.RUnlock()

	ids = append(ids, tx.newRegs...)
	var out []domain.Registration
	for _, id := range ids {
		r, ok := tx.regs[id]
		if !ok {
			r = committed[id]
		}
		if f.Match(r) {
			out = append(out, *cloneRegistration(r))
		}
	}
	return out, nil
}

func (tx *eventTx) InsertRegistration(_ context.Context, r *domain.Registration) error {
	if r.EventID != tx.event.ID {
		return errors.New("registration belongs to another event")
	}
	if _, ok := tx.regs[r.ID]; ok {
		return errors.Newf("registration %s already staged", r.ID)
	}
	tx.regs[r.ID] = cloneRegistration(r)
	tx.newRegs = append(tx.newRegs, r.ID)
	return nil
}

func (tx *eventTx) UpdateRegistration(ctx context.Context, r *domain.Registration) error {
	if _, err := tx.Registration(ctx, r.ID); err != nil {
		return err
	}
	tx.regs[r.ID] = cloneRegistration(r)
	return nil
}

func (tx *eventTx) TicketIDTaken(_ context.Context, ticketID string) (bool, error) {
	for _, id := range tx.newRegs {
		if tx.regs[id].TicketID == ticketID {
			return true, nil
		}
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	_, taken := tx.store.byTicket[ticketID]
	return taken, nil
}

func (tx *eventTx) Team(_ context.Context, id uuid.UUID) (*domain.Team, error) {
	if t, ok := tx.teams[id]; ok {
		return cloneTeam(t), nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	t, ok := tx.store.teams[id]
	if !ok || t.EventID != tx.event.ID {
		return nil, domain.NotFound("team")
	}
	return cloneTeam(t), nil
}

func (tx *eventTx) Teams(_ context.Context) ([]domain.Team, error) {
	tx.store.mu.RLock()
	ids := append([]uuid.UUID(nil), tx.store.teamsByEvent[tx.event.ID]...)
	committed := make(map[uuid.UUID]*domain.Team, len(ids))
	for _, id := range ids {
		committed[id] = tx.store.teams[id]
	}
	tx.store.mu.RUnlock()

	ids = append(ids, tx.newTeams...)
	out := make([]domain.Team, 0, len(ids))
	for _, id := range ids {
		t, ok := tx.teams[id]
		if !ok {
			t = committed[id]
		}
		out = append(out, *cloneTeam(t))
	}
	return out, nil
}

func (tx *eventTx) InsertTeam(_ context.Context, t *domain.Team) error {
	if t.EventID != tx.event.ID {
		return errors.New("team belongs to another event")
	}
	if _, ok := tx.teams[t.ID]; ok {
		return errors.Newf("team %s already staged", t.ID)
	}
	tx.teams[t.ID] = cloneTeam(t)
	tx.newTeams = append(tx.newTeams, t.ID)
	return nil
}

func (tx *eventTx) UpdateTeam(ctx context.Context, t *domain.Team) error {
	if _, err := tx.Team(ctx, t.ID); err != nil {
		return err
	}
	tx.teams[t.ID] = cloneTeam(t)
	return nil
}

func (tx *eventTx) InviteCodeTaken(_ context.Context, code string) (bool, error) {
	for _, id := range tx.newTeams {
		if tx.teams[id].InviteCode == code {
			return true, nil
		}
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	_, taken := tx.store.byInvite[code]
	return taken, nil
}

func cloneEvent(e *domain.Event) *domain.Event {
	c := *e
	c.Variants = append([]domain.Variant(nil), e.Variants...)
	c.FormFields = append([]domain.FormField(nil), e.FormFields...)
	return &c
}

func cloneRegistration(r *domain.Registration) *domain.Registration {
	c := *r
	if r.Responses != nil {
		c.Responses = make(map[string]string, len(r.Responses))
		for k, v := range r.Responses {
			c.Responses[k] = v
		}
	}
	c.SelectedVariants = append([]domain.SelectedVariant(nil), r.SelectedVariants...)
	c.StatusHistory = append([]domain.StatusChange(nil), r.StatusHistory...)
	if r.TeamID != nil {
		id := *r.TeamID
		c.TeamID = &id
	}
	if r.ProofUploadedAt != nil {
		t := *r.ProofUploadedAt
		c.ProofUploadedAt = &t
	}
	if r.AttendedAt != nil {
		t := *r.AttendedAt
		c.AttendedAt = &t
	}
	return &c
}

func cloneTeam(t *domain.Team) *domain.Team {
	c := *t
	c.Members = append([]domain.TeamMember(nil), t.Members...)
	return &c
}
