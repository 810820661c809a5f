package crdb

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id UUID PRIMARY KEY,
	organizer_id UUID NOT NULL,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL CHECK (type IN ('normal', 'merchandise')),
	status TEXT NOT NULL CHECK (status IN ('draft', 'published', 'ongoing', 'completed', 'closed')),
	eligibility TEXT NOT NULL DEFAULT 'all',
	registration_deadline TIMESTAMPTZ,
	start_date TIMESTAMPTZ,
	end_date TIMESTAMPTZ,
	registration_limit INT NOT NULL CHECK (registration_limit >= 1),
	registered_count INT NOT NULL DEFAULT 0 CHECK (registered_count >= 0 AND registered_count <= registration_limit),
	fee DOUBLE PRECISION NOT NULL DEFAULT 0,
	variants JSONB NOT NULL DEFAULT '[]',
	purchase_limit_per_user INT NOT NULL DEFAULT 0,
	form_fields JSONB NOT NULL DEFAULT '[]',
	is_team_event BOOL NOT NULL DEFAULT false,
	min_team_size INT NOT NULL DEFAULT 0,
	max_team_size INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	capacity_version INT8 NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS registrations (
	id UUID PRIMARY KEY,
	event_id UUID NOT NULL REFERENCES events (id),
	participant_id UUID NOT NULL,
	participant_name TEXT NOT NULL,
	participant_email TEXT NOT NULL,
	team_id UUID,
	status TEXT NOT NULL CHECK (status IN ('pending', 'confirmed', 'cancelled', 'rejected')),
	ticket_id TEXT NOT NULL CONSTRAINT registrations_ticket_id_key UNIQUE,
	ticket_sig TEXT NOT NULL DEFAULT '',
	responses JSONB NOT NULL DEFAULT '{}',
	selected_variants JSONB NOT NULL DEFAULT '[]',
	quantity INT NOT NULL CHECK (quantity >= 1),
	amount DOUBLE PRECISION NOT NULL DEFAULT 0,
	payment_proof TEXT NOT NULL DEFAULT '',
	proof_uploaded_at TIMESTAMPTZ,
	attended BOOL NOT NULL DEFAULT false,
	attended_at TIMESTAMPTZ,
	status_history JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS registrations_event_idx ON registrations (event_id, status);
CREATE INDEX IF NOT EXISTS registrations_participant_idx ON registrations (participant_id);

CREATE TABLE IF NOT EXISTS teams (
	id UUID PRIMARY KEY,
	event_id UUID NOT NULL REFERENCES events (id),
	name TEXT NOT NULL,
	leader_id UUID NOT NULL,
	members JSONB NOT NULL DEFAULT '[]',
	team_size INT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('forming', 'complete', 'cancelled')),
	invite_code TEXT NOT NULL CONSTRAINT teams_invite_code_key UNIQUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS teams_event_idx ON teams (event_id);

CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id UUID NOT NULL,
	event_type TEXT NOT NULL,
	payload_json JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ,
	status TEXT NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
	attempts INT NOT NULL DEFAULT 0,
	dedupe_key TEXT NOT NULL UNIQUE
);
CREATE INDEX IF NOT EXISTS outbox_status_idx ON outbox (status, created_at);
`

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
