package registration

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/robertarktes/event-registrations/internal/domain"
	"github.com/robertarktes/event-registrations/internal/notify"
	"github.com/robertarktes/event-registrations/internal/ticket"
	"go.opentelemetry.io/otel/attribute"
)

// TeamResult is a team and, when the operation completed it, the
// registrations and tickets issued to its members.
type TeamResult struct {
	Team          *domain.Team
	Registrations []Result
}

// CreateTeam starts a forming team led by the caller.
func (s *Service) CreateTeam(ctx context.Context, actor domain.Actor, eventID uuid.UUID, name string, size int) (res *TeamResult, err error) {
	ctx, span := s.span(ctx, "CreateTeam", attribute.String("event.id", eventID.String()))
	defer func() { endSpan(span, err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Validation("team name is required")
	}
	if actor.Role != domain.RoleParticipant {
		return nil, domain.Forbidden("only participants can form teams")
	}
	err = s.inEvent(ctx, eventID, func(u *unit) error {
		e := u.tx.Event()
		if !e.IsTeamEvent {
			return domain.Validation("event %q is not a team event", e.Name)
		}
		if size < e.MinTeamSize || size > e.MaxTeamSize {
			return domain.Validation("team size must be between %d and %d", e.MinTeamSize, e.MaxTeamSize)
		}
		if err := s.checkTeamCandidate(ctx, u, actor); err != nil {
			return err
		}
		code, err := s.allocateInviteCode(ctx, u.tx)
		if err != nil {
			return err
		}
		now := s.now()
		team := domain.NewTeam(e, actor, name, size, code, now)
		res = &TeamResult{Team: team}
		if err := u.tx.InsertTeam(ctx, team); err != nil {
			return err
		}
		if len(team.Accepted()) < team.TeamSize {
			return nil
		}
		if res.Registrations, err = s.completeTeam(ctx, u, team); err != nil {
			return err
		}
		return u.tx.UpdateTeam(ctx, team)
	})
	countCapacityRejection("create_team", err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// JoinTeam adds the caller to the team behind inviteCode. The join that
// fills the team completes it in the same unit of work: one confirmed
// registration and ticket per member and the whole team's seats.
func (s *Service) JoinTeam(ctx context.Context, actor domain.Actor, inviteCode string) (res *TeamResult, err error) {
	ctx, span := s.span(ctx, "JoinTeam")
	defer func() { endSpan(span, err) }()

	if actor.Role != domain.RoleParticipant {
		return nil, domain.Forbidden("only participants can join teams")
	}
	inviteCode = strings.ToUpper(strings.TrimSpace(inviteCode))
	if !ticket.ValidInviteCode(inviteCode) {
		return nil, domain.NotFound("team")
	}
	found, err := s.store.GetTeamByInviteCode(ctx, inviteCode)
	if err != nil {
		return nil, err
	}
	err = s.inEvent(ctx, found.EventID, func(u *unit) error {
		team, err := u.tx.Team(ctx, found.ID)
		if err != nil {
			return err
		}
		if team.Status != domain.TeamForming {
			return domain.Conflict(domain.ErrInvalidStatusTransition, "team %q is %s", team.Name, team.Status)
		}
		if team.HasMember(actor.ID) {
			return domain.Conflict(domain.ErrAlreadyInTeam, "you are already a member of team %q", team.Name)
		}
		if err := s.checkTeamCandidate(ctx, u, actor); err != nil {
			return err
		}
		full, err := team.Join(actor, s.now())
		if err != nil {
			return err
		}
		res = &TeamResult{Team: team}
		if full {
			if res.Registrations, err = s.completeTeam(ctx, u, team); err != nil {
				return err
			}
		}
		return u.tx.UpdateTeam(ctx, team)
	})
	countCapacityRejection("join_team", err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// checkTeamCandidate applies the event-level rules to a prospective member.
func (s *Service) checkTeamCandidate(ctx context.Context, u *unit, actor domain.Actor) error {
	e := u.tx.Event()
	if err := e.AcceptingRegistrations(s.now()); err != nil {
		return err
	}
	if !e.Eligibility.Allows(actor.Type) {
		return domain.Conflict(domain.ErrNotEligible, "event %q is open to %s participants only", e.Name, e.Eligibility)
	}
	teams, err := u.tx.Teams(ctx)
	if err != nil {
		return err
	}
	for _, t := range teams {
		if t.Active() && t.HasMember(actor.ID) {
			return domain.Conflict(domain.ErrAlreadyInTeam, "you already belong to team %q for this event", t.Name)
		}
	}
	regs, err := u.tx.Registrations(ctx, Filter{
		ParticipantID: actor.ID,
		Statuses:      []domain.RegistrationStatus{domain.StatusPending, domain.StatusConfirmed},
	})
	if err != nil {
		return err
	}
	if len(regs) > 0 {
		return domain.Conflict(domain.ErrAlreadyRegistered, "you are already registered for %q", e.Name)
	}
	return nil
}

// completeTeam marks the team complete, reserves its seats and issues a
// confirmed registration with a ticket to every accepted member. Any error
// aborts the surrounding unit of work, so either all of it lands or none.
func (s *Service) completeTeam(ctx context.Context, u *unit, team *domain.Team) ([]Result, error) {
	e := u.tx.Event()
	now := s.now()
	members := team.Accepted()

	if err := u.ledger.Reserve(e, len(members)); err != nil {
		return nil, err
	}
	if err := team.Complete(now); err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(members))
	for _, m := range members {
		ticketID, err := s.allocateTicketID(ctx, u.tx)
		if err != nil {
			return nil, err
		}
		member := domain.Actor{ID: m.ParticipantID, Name: m.Name, Email: m.Email}
		reg := domain.NewRegistration(e, member, domain.StatusConfirmed, ticketID, now)
		teamID := team.ID
		reg.TeamID = &teamID
		reg.Amount = e.Fee
		signed, err := s.issueTicket(e, reg)
		if err != nil {
			return nil, err
		}
		if err := u.tx.InsertRegistration(ctx, reg); err != nil {
			return nil, err
		}
		results = append(results, Result{Registration: reg, Ticket: signed})
		u.notify(registrationNote(notify.RegistrationConfirmed, e, reg, signed, "team "+team.Name+" is complete", now))
	}
	if err := u.tx.SaveEvent(ctx); err != nil {
		return nil, err
	}
	u.notify(notify.Notification{
		Kind:          notify.TeamCompleted,
		EventID:       e.ID,
		EventName:     e.Name,
		ParticipantID: team.LeaderID,
		Comment:       team.Name,
		At:            now,
	})
	return results, nil
}

// LeaveTeam removes the caller from a forming team. The leader cannot leave.
func (s *Service) LeaveTeam(ctx context.Context, actor domain.Actor, teamID uuid.UUID) (team *domain.Team, err error) {
	found, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	err = s.inEvent(ctx, found.EventID, func(u *unit) error {
		team, err = u.tx.Team(ctx, teamID)
		if err != nil {
			return err
		}
		if err := team.Leave(actor.ID, s.now()); err != nil {
			return err
		}
		return u.tx.UpdateTeam(ctx, team)
	})
	if err != nil {
		return nil, err
	}
	return team, nil
}

// CancelTeam disbands a forming team. Forming teams hold no seats, so
// nothing is released.
func (s *Service) CancelTeam(ctx context.Context, actor domain.Actor, teamID uuid.UUID) (team *domain.Team, err error) {
	found, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	err = s.inEvent(ctx, found.EventID, func(u *unit) error {
		team, err = u.tx.Team(ctx, teamID)
		if err != nil {
			return err
		}
		if team.LeaderID != actor.ID {
			return domain.Forbidden("only the team leader can cancel the team")
		}
		if err := team.Cancel(s.now()); err != nil {
			return err
		}
		return u.tx.UpdateTeam(ctx, team)
	})
	if err != nil {
		return nil, err
	}
	return team, nil
}

// GetTeam is visible to members and the event organizer.
func (s *Service) GetTeam(ctx context.Context, actor domain.Actor, teamID uuid.UUID) (*domain.Team, error) {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if team.HasMember(actor.ID) {
		return team, nil
	}
	e, err := s.store.GetEvent(ctx, team.EventID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManage(e) {
		return nil, domain.NotFound("team")
	}
	return team, nil
}

// MyTeam returns the caller's active team for an event.
func (s *Service) MyTeam(ctx context.Context, actor domain.Actor, eventID uuid.UUID) (team *domain.Team, err error) {
	err = s.store.WithEvent(ctx, eventID, func(tx EventTx) error {
		teams, err := tx.Teams(ctx)
		if err != nil {
			return err
		}
		for i := range teams {
			if teams[i].Active() && teams[i].HasMember(actor.ID) {
				team = &teams[i]
				return nil
			}
		}
		return domain.NotFound("team")
	})
	if err != nil {
		return nil, err
	}
	return team, nil
}
