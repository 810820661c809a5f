package domain

import (
	"time"

	"github.com/google/uuid"
)

type TeamStatus string

const (
	TeamForming   TeamStatus = "forming"
	TeamComplete  TeamStatus = "complete"
	TeamCancelled TeamStatus = "cancelled"
)

type MemberStatus string

const (
	MemberPending  MemberStatus = "pending"
	MemberAccepted MemberStatus = "accepted"
	MemberRejected MemberStatus = "rejected"
)

type TeamMember struct {
	ParticipantID uuid.UUID    `json:"participant_id"`
	Name          string       `json:"name"`
	Email         string       `json:"email"`
	Status        MemberStatus `json:"status"`
	JoinedAt      time.Time    `json:"joined_at"`
}

type Team struct {
	ID         uuid.UUID
	EventID    uuid.UUID
	Name       string
	LeaderID   uuid.UUID
	Members    []TeamMember
	TeamSize   int
	Status     TeamStatus
	InviteCode string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewTeam creates a forming team with the leader as its first accepted member.
func NewTeam(e *Event, leader Actor, name string, size int, code string, now time.Time) *Team {
	return &Team{
		ID:       uuid.New(),
		EventID:  e.ID,
		Name:     name,
		LeaderID: leader.ID,
		Members: []TeamMember{{
			ParticipantID: leader.ID,
			Name:          leader.Name,
			Email:         leader.Email,
			Status:        MemberAccepted,
			JoinedAt:      now,
		}},
		TeamSize:   size,
		Status:     TeamForming,
		InviteCode: code,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (t *Team) Active() bool { return t.Status != TeamCancelled }

func (t *Team) HasMember(id uuid.UUID) bool {
	for _, m := range t.Members {
		if m.ParticipantID == id && m.Status != MemberRejected {
			return true
		}
	}
	return false
}

func (t *Team) Accepted() []TeamMember {
	var out []TeamMember
	for _, m := range t.Members {
		if m.Status == MemberAccepted {
			out = append(out, m)
		}
	}
	return out
}

// Join adds p as an accepted member. It reports whether the team reached its
// target size; completing the team is left to the caller.
func (t *Team) Join(p Actor, now time.Time) (bool, error) {
	if t.Status != TeamForming {
		return false, Conflict(ErrInvalidStatusTransition, "team %q is %s", t.Name, t.Status)
	}
	if t.HasMember(p.ID) {
		return false, Conflict(ErrAlreadyInTeam, "you are already a member of team %q", t.Name)
	}
	if len(t.Accepted()) >= t.TeamSize {
		return false, Conflict(ErrTeamFull, "team %q already has %d members", t.Name, t.TeamSize)
	}
	t.Members = append(t.Members, TeamMember{
		ParticipantID: p.ID,
		Name:          p.Name,
		Email:         p.Email,
		Status:        MemberAccepted,
		JoinedAt:      now,
	})
	t.UpdatedAt = now
	return len(t.Accepted()) == t.TeamSize, nil
}

// Leave removes a non-leader member from a forming team.
func (t *Team) Leave(id uuid.UUID, now time.Time) error {
	if t.Status != TeamForming {
		return Conflict(ErrInvalidStatusTransition, "team %q is %s", t.Name, t.Status)
	}
	if id == t.LeaderID {
		return Conflict(ErrConflict, "the leader cannot leave the team; cancel it instead")
	}
	for i, m := range t.Members {
		if m.ParticipantID == id {
			t.Members = append(t.Members[:i], t.Members[i+1:]...)
			t.UpdatedAt = now
			return nil
		}
	}
	return NotFound("team member")
}

func (t *Team) Complete(now time.Time) error {
	if t.Status != TeamForming {
		return Conflict(ErrInvalidStatusTransition, "team %q is %s", t.Name, t.Status)
	}
	t.Status = TeamComplete
	t.UpdatedAt = now
	return nil
}

func (t *Team) Cancel(now time.Time) error {
	if t.Status != TeamForming {
		return Conflict(ErrInvalidStatusTransition, "team %q is %s and cannot be cancelled", t.Name, t.Status)
	}
	t.Status = TeamCancelled
	t.UpdatedAt = now
	return nil
}
