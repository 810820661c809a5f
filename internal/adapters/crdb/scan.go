package crdb

import (
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/event-registrations/internal/domain"
	"github.com/robertarktes/event-registrations/internal/registration"
)

const (
	eventColumns = `id, organizer_id, name, description, type, status, eligibility,
		registration_deadline, start_date, end_date, registration_limit, registered_count, fee,
		variants, purchase_limit_per_user, form_fields, is_team_event, min_team_size, max_team_size,
		created_at, updated_at, capacity_version`

	registrationColumns = `id, event_id, participant_id, participant_name, participant_email, team_id,
		status, ticket_id, ticket_sig, responses, selected_variants, quantity, amount, payment_proof,
		proof_uploaded_at, attended, attended_at, status_history, created_at, updated_at`

	teamColumns = `id, event_id, name, leader_id, members, team_size, status, invite_code, created_at, updated_at`
)

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var (
		e                            domain.Event
		typ, status, eligibility     string
		deadline, startDate, endDate *time.Time
		variants, fields             []byte
	)
	err := row.Scan(&e.ID, &e.OrganizerID, &e.Name, &e.Description, &typ, &status, &eligibility,
		&deadline, &startDate, &endDate, &e.Limit, &e.RegisteredCount, &e.Fee,
		&variants, &e.PurchaseLimitPerUser, &fields, &e.IsTeamEvent, &e.MinTeamSize, &e.MaxTeamSize,
		&e.CreatedAt, &e.UpdatedAt, &e.CapacityVersion)
	if err != nil {
		return nil, err
	}
	e.Type = domain.EventType(typ)
	e.Status = domain.EventStatus(status)
	e.Eligibility = domain.Eligibility(eligibility)
	e.RegistrationDeadline = fromNull(deadline)
	e.StartDate = fromNull(startDate)
	e.EndDate = fromNull(endDate)
	if err := json.Unmarshal(variants, &e.Variants); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fields, &e.FormFields); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanRegistration(row pgx.Row) (*domain.Registration, error) {
	var (
		r                            domain.Registration
		status                       string
		responses, variants, history []byte
	)
	err := row.Scan(&r.ID, &r.EventID, &r.ParticipantID, &r.ParticipantName, &r.ParticipantEmail, &r.TeamID,
		&status, &r.TicketID, &r.TicketSig, &responses, &variants, &r.Quantity, &r.Amount, &r.PaymentProof,
		&r.ProofUploadedAt, &r.Attended, &r.AttendedAt, &history, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = domain.RegistrationStatus(status)
	if err := json.Unmarshal(responses, &r.Responses); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(variants, &r.SelectedVariants); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(history, &r.StatusHistory); err != nil {
		return nil, err
	}
	return &r, nil
}

func collectRegistrations(rows pgx.Rows, f registration.Filter) ([]domain.Registration, error) {
	defer rows.Close()

	var regs []domain.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		if f.Match(r) {
			regs = append(regs, *r)
		}
	}
	return regs, rows.Err()
}

func registrationArgs(r *domain.Registration) ([]any, error) {
	responses := r.Responses
	if responses == nil {
		responses = map[string]string{}
	}
	resp, err := json.Marshal(responses)
	if err != nil {
		return nil, err
	}
	variants, err := json.Marshal(nonNil(r.SelectedVariants))
	if err != nil {
		return nil, err
	}
	history, err := json.Marshal(nonNil(r.StatusHistory))
	if err != nil {
		return nil, err
	}
	return []any{
		r.ID, r.EventID, r.ParticipantID, r.ParticipantName, r.ParticipantEmail, r.TeamID,
		string(r.Status), r.TicketID, r.TicketSig, resp, variants, r.Quantity, r.Amount, r.PaymentProof,
		r.ProofUploadedAt, r.Attended, r.AttendedAt, history, r.CreatedAt, r.UpdatedAt,
	}, nil
}

func scanTeam(row pgx.Row) (*domain.Team, error) {
	var (
		t       domain.Team
		status  string
		members []byte
	)
	err := row.Scan(&t.ID, &t.EventID, &t.Name, &t.LeaderID, &members, &t.TeamSize, &status, &t.InviteCode,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = domain.TeamStatus(status)
	if err := json.Unmarshal(members, &t.Members); err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func fromNull(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

// nonNil keeps empty collections encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
