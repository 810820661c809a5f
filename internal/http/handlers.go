package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/event-registrations/internal/adapters/mongo"
	"github.com/robertarktes/event-registrations/internal/capacity"
	"github.com/robertarktes/event-registrations/internal/domain"
	"github.com/robertarktes/event-registrations/internal/registration"
)

// Availability is the eventually consistent read model of event counts.
type Availability interface {
	Get(ctx context.Context, eventID uuid.UUID) (*mongo.AvailabilityDoc, error)
}

// CapacityFeed streams live registeredCount changes of one event.
type CapacityFeed interface {
	Subscribe(ctx context.Context, eventID uuid.UUID) <-chan capacity.Change
}

type Handlers struct {
	svc          *registration.Service
	availability Availability
	feed         CapacityFeed
	ready        func(ctx context.Context) error
}

type Option func(*Handlers)

func WithAvailability(a Availability) Option { return func(h *Handlers) { h.availability = a } }

func WithCapacityFeed(f CapacityFeed) Option { return func(h *Handlers) { h.feed = f } }

// WithReadiness sets the probe behind /v1/readyz.
func WithReadiness(check func(ctx context.Context) error) Option {
	return func(h *Handlers) { h.ready = check }
}

func NewHandlers(svc *registration.Service, opts ...Option) *Handlers {
	h := &Handlers{svc: svc}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.Validation("malformed request body: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, domain.Validation("invalid %s", name)
	}
	return id, nil
}

func actor(r *http.Request) domain.Actor {
	a, _ := ActorFrom(r.Context())
	return a
}

func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := h.svc.CreateEvent(r.Context(), actor(r), req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newEventView(e))
}

func (h *Handlers) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req eventRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := h.svc.UpdateEvent(r.Context(), actor(r), id, req.input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newEventView(e))
}

func (h *Handlers) TransitionEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Status domain.EventStatus `json:"status"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := h.svc.TransitionEvent(r.Context(), actor(r), id, req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newEventView(e))
}

func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	e, err := h.svc.GetEvent(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newEventView(e))
}

// GetAvailability answers from the read model when one is configured and
// from the store otherwise. Visibility is always checked against the store
// so Draft events stay hidden from participants.
func (h *Handlers) GetAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	e, err := h.svc.GetEvent(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.availability != nil {
		if doc, err := h.availability.Get(r.Context(), id); err == nil {
			writeJSON(w, http.StatusOK, doc)
			return
		}
	}
	writeJSON(w, http.StatusOK, capacity.Change{EventID: e.ID, RegisteredCount: e.RegisteredCount, Version: e.CapacityVersion})
}

// StreamCapacity pushes registeredCount changes as server-sent events.
func (h *Handlers) StreamCapacity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.feed == nil {
		writeProblem(w, http.StatusNotImplemented, "UNAVAILABLE", "live capacity updates are not enabled")
		return
	}
	e, err := h.svc.GetEvent(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "INTERNAL", "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	send := func(c capacity.Change) {
		payload, _ := json.Marshal(c)
		fmt.Fprintf(w, "event: capacity\ndata: %s\n\n", payload)
		flusher.Flush()
	}
	send(capacity.Change{EventID: e.ID, RegisteredCount: e.RegisteredCount, Version: e.CapacityVersion})
	for c := range h.feed.Subscribe(r.Context(), e.ID) {
		send(c)
	}
}

func (h *Handlers) ListRegistrations(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var statuses []domain.RegistrationStatus
	for _, s := range r.URL.Query()["status"] {
		statuses = append(statuses, domain.RegistrationStatus(s))
	}
	regs, err := h.svc.ListRegistrations(r.Context(), actor(r), id, statuses...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, registrationViews(regs))
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Responses map[string]string        `json:"responses"`
		Variants  []domain.SelectedVariant `json:"variants"`
		Quantity  int                      `json:"quantity"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.Register(r.Context(), actor(r), id, registration.RegisterInput{
		Responses: req.Responses,
		Variants:  req.Variants,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeResult(w, r, http.StatusCreated, res)
}

func (h *Handlers) writeResult(w http.ResponseWriter, r *http.Request, status int, res *registration.Result) {
	v, err := newRegistrationView(res.Registration, res.Ticket)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, v)
}

func (h *Handlers) writeRegistration(w http.ResponseWriter, r *http.Request, reg *domain.Registration) {
	h.writeResult(w, r, http.StatusOK, &registration.Result{Registration: reg})
}

func (h *Handlers) MyRegistrations(w http.ResponseWriter, r *http.Request) {
	regs, err := h.svc.MyRegistrations(r.Context(), actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, registrationViews(regs))
}

func (h *Handlers) GetRegistration(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	reg, err := h.svc.GetRegistration(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeRegistration(w, r, reg)
}

func (h *Handlers) CancelRegistration(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	reg, err := h.svc.Cancel(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeRegistration(w, r, reg)
}

func (h *Handlers) UploadPaymentProof(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		ProofRef string `json:"proofRef"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	reg, err := h.svc.UploadPaymentProof(r.Context(), actor(r), id, req.ProofRef)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeRegistration(w, r, reg)
}

type decisionRequest struct {
	Comment string `json:"comment"`
}

func (h *Handlers) ApprovePayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req decisionRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	res, err := h.svc.ApprovePayment(r.Context(), actor(r), id, req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeResult(w, r, http.StatusOK, res)
}

func (h *Handlers) RejectPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req decisionRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	reg, err := h.svc.RejectPayment(r.Context(), actor(r), id, req.Comment)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeRegistration(w, r, reg)
}

func (h *Handlers) MarkAttended(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	reg, err := h.svc.MarkAttended(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeRegistration(w, r, reg)
}

func (h *Handlers) GetTicket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	signed, err := h.svc.Ticket(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := newTicketView(signed)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// VerifyTicket accepts either the raw QR payload or its ticketID and sig.
func (h *Handlers) VerifyTicket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		TicketID string `json:"ticketId"`
		Sig      string `json:"sig"`
		QR       string `json:"qr"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.QR != "" {
		var scanned struct {
			TicketID string `json:"ticketID"`
			Sig      string `json:"sig"`
		}
		if err := json.Unmarshal([]byte(req.QR), &scanned); err != nil {
			writeError(w, r, domain.InvalidTicket())
			return
		}
		req.TicketID, req.Sig = scanned.TicketID, scanned.Sig
	}
	v, err := h.svc.VerifyTicket(r.Context(), actor(r), id, req.TicketID, req.Sig)
	if err != nil {
		writeError(w, r, err)
		return
	}
	signed := v.Ticket
	h.writeResult(w, r, http.StatusOK, &registration.Result{Registration: v.Registration, Ticket: &signed})
}

func (h *Handlers) CreateTeam(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Name string `json:"name"`
		Size int    `json:"size"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.CreateTeam(r.Context(), actor(r), id, req.Name, req.Size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeTeam(w, r, http.StatusCreated, res.Team, res.Registrations)
}

func (h *Handlers) JoinTeam(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InviteCode string `json:"inviteCode"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.svc.JoinTeam(r.Context(), actor(r), req.InviteCode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeTeam(w, r, http.StatusOK, res.Team, res.Registrations)
}

func (h *Handlers) LeaveTeam(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	team, err := h.svc.LeaveTeam(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeTeam(w, r, http.StatusOK, team, nil)
}

func (h *Handlers) CancelTeam(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	team, err := h.svc.CancelTeam(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeTeam(w, r, http.StatusOK, team, nil)
}

func (h *Handlers) GetTeam(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	team, err := h.svc.GetTeam(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeTeam(w, r, http.StatusOK, team, nil)
}

func (h *Handlers) MyTeam(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	team, err := h.svc.MyTeam(r.Context(), actor(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeTeam(w, r, http.StatusOK, team, nil)
}

func (h *Handlers) writeTeam(w http.ResponseWriter, r *http.Request, status int, team *domain.Team, results []registration.Result) {
	v, err := newTeamView(team, results)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, v)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			loggerFrom(r.Context()).Warn("not ready: ", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
