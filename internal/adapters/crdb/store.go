package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/event-registrations/internal/domain"
	"github.com/robertarktes/event-registrations/internal/observability"
	"github.com/robertarktes/event-registrations/internal/registration"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"

	defaultMaxRetries = 5

	ticketIDConstraint   = "registrations_ticket_id_key"
	inviteCodeConstraint = "teams_invite_code_key"
)

// errGeneratedKeyTaken marks a unique violation on a randomly generated
// code. Another transaction committed the same code after our existence
// check, so running the unit again draws a fresh one.
var errGeneratedKeyTaken = errors.New("generated key already taken")

// Store keeps events, registrations and teams in CockroachDB. Each
// WithEvent call is one SERIALIZABLE transaction holding the event row
// with SELECT ... FOR UPDATE.
type Store struct {
	pool       *pgxpool.Pool
	maxRetries int
}

var _ registration.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, maxRetries: defaultMaxRetries}
}

func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return translate(err)
	}

	if err := fn(tx); err != nil {
		return translate(err)
	}
	return translate(tx.Commit(ctx))
}

// translate maps driver errors onto the domain sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case SerializationFailureCode:
			return errors.Mark(err, domain.ErrSerializationFailure)
		case UniqueViolationCode:
			conflict := domain.Conflict(domain.ErrConflict, "duplicate value violates %s", pgErr.ConstraintName)
			if pgErr.ConstraintName == ticketIDConstraint || pgErr.ConstraintName == inviteCodeConstraint {
				return errors.Mark(conflict, errGeneratedKeyTaken)
			}
			return conflict
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// retryable reports whether running the unit of work again can succeed.
func retryable(err error) bool {
	return errors.Is(err, domain.ErrSerializationFailure) || errors.Is(err, errGeneratedKeyTaken)
}

// WithEvent retries the whole unit when CockroachDB aborts it with a
// serialization failure or when a generated ticket id or invite code
// collided with a concurrent insert; fn must be safe to run more than once.
func (s *Store) WithEvent(ctx context.Context, eventID uuid.UUID, fn func(tx registration.EventTx) error) error {
	start := time.Now()
	defer func() { observability.StoreTxDuration.Observe(time.Since(start).Seconds()) }()

	for attempt := 0; ; attempt++ {
		err := s.withTx(ctx, func(tx pgx.Tx) error {
			row := tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, eventID)
			e, err := scanEvent(row)
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.NotFound("event")
			}
			if err != nil {
				return err
			}
			return fn(&eventTx{tx: tx, event: e})
		})
		if err == nil || !retryable(err) || attempt >= s.maxRetries {
			return err
		}
		observability.StoreTxRetries.Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
}

func (s *Store) CreateEvent(ctx context.Context, e *domain.Event) error {
	variants, err := json.Marshal(nonNil(e.Variants))
	if err != nil {
		return err
	}
	fields, err := json.Marshal(nonNil(e.FormFields))
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO events (id, organizer_id, name, description, type, status, eligibility,
			registration_deadline, start_date, end_date, registration_limit, registered_count, fee,
			variants, purchase_limit_per_user, form_fields, is_team_event, min_team_size, max_team_size,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, e.ID, e.OrganizerID, e.Name, e.Description, string(e.Type), string(e.Status), string(e.Eligibility),
		nullTime(e.RegistrationDeadline), nullTime(e.StartDate), nullTime(e.EndDate), e.Limit, e.RegisteredCount, e.Fee,
		variants, e.PurchaseLimitPerUser, fields, e.IsTeamEvent, e.MinTeamSize, e.MaxTeamSize,
		e.CreatedAt, e.UpdatedAt)
	return translate(err)
}

func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	e, err := scanEvent(s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("event")
	}
	return e, err
}

func (s *Store) GetRegistration(ctx context.Context, id uuid.UUID) (*domain.Registration, error) {
	r, err := scanRegistration(s.pool.QueryRow(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("registration")
	}
	return r, err
}

func (s *Store) GetRegistrationByTicket(ctx context.Context, ticketID string) (*domain.Registration, error) {
	r, err := scanRegistration(s.pool.QueryRow(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE ticket_id = $1`, ticketID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("registration")
	}
	return r, err
}

func (s *Store) ListRegistrationsByParticipant(ctx context.Context, participantID uuid.UUID) ([]domain.Registration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+registrationColumns+` FROM registrations
		WHERE participant_id = $1 ORDER BY created_at
	`, participantID)
	if err != nil {
		return nil, err
	}
	return collectRegistrations(rows, registration.Filter{})
}

func (s *Store) GetTeam(ctx context.Context, id uuid.UUID) (*domain.Team, error) {
	t, err := scanTeam(s.pool.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("team")
	}
	return t, err
}

func (s *Store) GetTeamByInviteCode(ctx context.Context, code string) (*domain.Team, error) {
	t, err := scanTeam(s.pool.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams WHERE invite_code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("team")
	}
	return t, err
}

type eventTx struct {
	tx    pgx.Tx
	event *domain.Event
}

func (t *eventTx) Event() *domain.Event { return t.event }

func (t *eventTx) SaveEvent(ctx context.Context) error {
	e := t.event
	variants, err := json.Marshal(nonNil(e.Variants))
	if err != nil {
		return err
	}
	fields, err := json.Marshal(nonNil(e.FormFields))
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		UPDATE events SET name = $2, description = $3, type = $4, status = $5, eligibility = $6,
			registration_deadline = $7, start_date = $8, end_date = $9, registration_limit = $10,
			registered_count = $11, fee = $12, variants = $13, purchase_limit_per_user = $14,
			form_fields = $15, is_team_event = $16, min_team_size = $17, max_team_size = $18, updated_at = $19,
			capacity_version = $20
		WHERE id = $1
	`, e.ID, e.Name, e.Description, string(e.Type), string(e.Status), string(e.Eligibility),
		nullTime(e.RegistrationDeadline), nullTime(e.StartDate), nullTime(e.EndDate), e.Limit,
		e.RegisteredCount, e.Fee, variants, e.PurchaseLimitPerUser,
		fields, e.IsTeamEvent, e.MinTeamSize, e.MaxTeamSize, e.UpdatedAt, e.CapacityVersion)
	return err
}

func (t *eventTx) Registration(ctx context.Context, id uuid.UUID) (*domain.Registration, error) {
	r, err := scanRegistration(t.tx.QueryRow(ctx, `
		SELECT `+registrationColumns+` FROM registrations WHERE id = $1 AND event_id = $2
	`, id, t.event.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("registration")
	}
	return r, err
}

func (t *eventTx) Registrations(ctx context.Context, f registration.Filter) ([]domain.Registration, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+registrationColumns+` FROM registrations
		WHERE event_id = $1 ORDER BY created_at
	`, t.event.ID)
	if err != nil {
		return nil, err
	}
	return collectRegistrations(rows, f)
}

func (t *eventTx) InsertRegistration(ctx context.Context, r *domain.Registration) error {
	args, err := registrationArgs(r)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO registrations (id, event_id, participant_id, participant_name, participant_email, team_id,
			status, ticket_id, ticket_sig, responses, selected_variants, quantity, amount, payment_proof,
			proof_uploaded_at, attended, attended_at, status_history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, args...)
	return err
}

func (t *eventTx) UpdateRegistration(ctx context.Context, r *domain.Registration) error {
	args, err := registrationArgs(r)
	if err != nil {
		return err
	}
	result, err := t.tx.Exec(ctx, `
		UPDATE registrations SET participant_name = $4, participant_email = $5, team_id = $6,
			status = $7, ticket_sig = $9, responses = $10, selected_variants = $11, quantity = $12,
			amount = $13, payment_proof = $14, proof_uploaded_at = $15, attended = $16, attended_at = $17,
			status_history = $18, updated_at = $20
		WHERE id = $1 AND event_id = $2 AND participant_id = $3 AND ticket_id = $8 AND created_at = $19
	`, args...)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.NotFound("registration")
	}
	return nil
}

func (t *eventTx) TicketIDTaken(ctx context.Context, ticketID string) (bool, error) {
	var taken bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM registrations WHERE ticket_id = $1)`, ticketID).Scan(&taken)
	return taken, err
}

func (t *eventTx) Team(ctx context.Context, id uuid.UUID) (*domain.Team, error) {
	team, err := scanTeam(t.tx.QueryRow(ctx, `
		SELECT `+teamColumns+` FROM teams WHERE id = $1 AND event_id = $2
	`, id, t.event.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFound("team")
	}
	return team, err
}

func (t *eventTx) Teams(ctx context.Context) ([]domain.Team, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+teamColumns+` FROM teams WHERE event_id = $1 ORDER BY created_at`, t.event.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []domain.Team
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, *team)
	}
	return teams, rows.Err()
}

func (t *eventTx) InsertTeam(ctx context.Context, team *domain.Team) error {
	members, err := json.Marshal(nonNil(team.Members))
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO teams (id, event_id, name, leader_id, members, team_size, status, invite_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, team.ID, team.EventID, team.Name, team.LeaderID, members, team.TeamSize, string(team.Status), team.InviteCode,
		team.CreatedAt, team.UpdatedAt)
	return err
}

func (t *eventTx) UpdateTeam(ctx context.Context, team *domain.Team) error {
	members, err := json.Marshal(nonNil(team.Members))
	if err != nil {
		return err
	}
	result, err := t.tx.Exec(ctx, `
		UPDATE teams SET members = $3, status = $4, updated_at = $5 WHERE id = $1 AND event_id = $2
	`, team.ID, team.EventID, members, string(team.Status), team.UpdatedAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.NotFound("team")
	}
	return nil
}

func (t *eventTx) InviteCodeTaken(ctx context.Context, code string) (bool, error) {
	var taken bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM teams WHERE invite_code = $1)`, code).Scan(&taken)
	return taken, err
}
