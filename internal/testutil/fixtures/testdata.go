// Package fixtures provides shared test data constants and the database
// schema for the Kijko test suite.
//
// Using common constants for test identities prevents magic strings in
// tests and ensures consistency across packages.
package fixtures

// Standard identity values used across store and API tests.
const (
	// OrgID is the default organization for unit and integration tests.
	OrgID = "org-test-001"

	// AltOrgID is a second organization for scoping tests that must show
	// one tenant cannot see another's rows.
	AltOrgID = "org-test-002"

	// UserID is the default acting user for tests.
	UserID = "user-test-001"

	// UserEmail is the default acting user's email.
	UserEmail = "dev@kijko.test"
)

// Schema creates the full Kijko relational schema. Integration tests run
// it once per container; production deployments apply the same DDL via
// migrations. Text primary keys hold UUID strings minted in Go.
const Schema = `
CREATE TABLE IF NOT EXISTS projects (
	id              text PRIMARY KEY,
	organization_id text NOT NULL,
	owner_id        text NOT NULL,
	name            text NOT NULL,
	description     text NOT NULL DEFAULT '',
	status          text NOT NULL,
	created_at      timestamptz NOT NULL,
	updated_at      timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS project_members (
	project_id text NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	user_id    text NOT NULL,
	email      text NOT NULL DEFAULT '',
	role       text NOT NULL,
	invited_at timestamptz NOT NULL,
	PRIMARY KEY (project_id, user_id)
);

CREATE TABLE IF NOT EXISTS repositories (
	id               text PRIMARY KEY,
	project_id       text NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	url              text NOT NULL,
	provider         text NOT NULL,
	default_branch   text NOT NULL,
	ingestion_status text NOT NULL,
	created_at       timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS project_files (
	id            text PRIMARY KEY,
	project_id    text NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	repository_id text,
	path          text NOT NULL,
	size_bytes    bigint NOT NULL DEFAULT 0,
	language      text NOT NULL DEFAULT '',
	ingested_at   timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS skills (
	id              text PRIMARY KEY,
	organization_id text NOT NULL,
	user_id         text NOT NULL,
	name            text NOT NULL,
	description     text NOT NULL DEFAULT '',
	prompt          text NOT NULL,
	model           text NOT NULL DEFAULT '',
	tags            text[] NOT NULL DEFAULT '{}',
	enabled         boolean NOT NULL DEFAULT true,
	version         integer NOT NULL DEFAULT 1,
	created_at      timestamptz NOT NULL,
	updated_at      timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS habits (
	id              text PRIMARY KEY,
	organization_id text NOT NULL,
	user_id         text NOT NULL,
	skill_id        text NOT NULL REFERENCES skills(id) ON DELETE CASCADE,
	name            text NOT NULL,
	schedule        text NOT NULL,
	timezone        text NOT NULL DEFAULT 'UTC',
	input           jsonb,
	enabled         boolean NOT NULL DEFAULT true,
	next_run_at     timestamptz,
	last_run_at     timestamptz,
	run_count       integer NOT NULL DEFAULT 0,
	failure_count   integer NOT NULL DEFAULT 0,
	created_at      timestamptz NOT NULL,
	updated_at      timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS reflexes (
	id                text PRIMARY KEY,
	organization_id   text NOT NULL,
	user_id           text NOT NULL,
	skill_id          text NOT NULL REFERENCES skills(id) ON DELETE CASCADE,
	name              text NOT NULL,
	event_type        text NOT NULL,
	conditions        jsonb,
	enabled           boolean NOT NULL DEFAULT true,
	webhook_token     text NOT NULL UNIQUE,
	trigger_count     integer NOT NULL DEFAULT 0,
	failure_count     integer NOT NULL DEFAULT 0,
	last_triggered_at timestamptz,
	created_at        timestamptz NOT NULL,
	updated_at        timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS executions (
	id                text PRIMARY KEY,
	skill_id          text NOT NULL,
	organization_id   text NOT NULL,
	user_id           text NOT NULL,
	trigger_type      text NOT NULL,
	trigger_source_id text,
	status            text NOT NULL,
	input             jsonb,
	output            text NOT NULL DEFAULT '',
	model             text NOT NULL DEFAULT '',
	tokens_used       integer NOT NULL DEFAULT 0,
	duration_ms       bigint NOT NULL DEFAULT 0,
	error_message     text NOT NULL DEFAULT '',
	started_at        timestamptz NOT NULL,
	completed_at      timestamptz,
	created_at        timestamptz NOT NULL,
	updated_at        timestamptz NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executions_org_started
	ON executions (organization_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_habits_due
	ON habits (next_run_at) WHERE enabled;
`
