package domain

import "github.com/google/uuid"

type Role string

const (
	RoleParticipant Role = "participant"
	RoleOrganizer   Role = "organizer"
	RoleAdmin       Role = "admin"
)

type ParticipantType string

const (
	ParticipantIIIT    ParticipantType = "iiit"
	ParticipantNonIIIT ParticipantType = "non-iiit"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID    uuid.UUID
	Role  Role
	Name  string
	Email string
	Type  ParticipantType
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// CanManage reports whether a may act as organizer of e.
func (a Actor) CanManage(e *Event) bool {
	if a.IsAdmin() {
		return true
	}
	return a.Role == RoleOrganizer && e.OrganizerID == a.ID
}
