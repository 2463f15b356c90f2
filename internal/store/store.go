// Package store implements PostgreSQL persistence for the Kijko domain:
// projects, skills, habits, reflexes, and executions.
//
// # Organization Scoping
//
// Every row carries an organization_id and every user-facing query filters
// on it explicitly (WHERE organization_id = $n). A caller can only ever
// see rows belonging to the organization of the authenticated profile it
// passes in. Methods prefixed System skip this scoping; they exist for
// worker paths that act on rows across organizations (due-habit scans,
// retention pruning, webhook token lookup) and must never be reachable
// from a request handler.
//
// # Testing
//
// Stores are unit-tested against pgxmock through the postgres client's
// Pool interface; integration tests behind the "integration" build tag run
// the same stores against a real container.
package store

import (
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/kijko-dev/kijko-api/pkg/clients/postgres"
	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
)

// Store bundles the per-entity stores over one connection pool.
type Store struct {
	Projects   *ProjectStore
	Skills     *SkillStore
	Habits     *HabitStore
	Reflexes   *ReflexStore
	Executions *ExecutionStore
}

// New creates a Store over the given postgres client.
func New(db *postgres.Client) *Store {
	return &Store{
		Projects:   &ProjectStore{db: db},
		Skills:     &SkillStore{db: db},
		Habits:     &HabitStore{db: db},
		Reflexes:   &ReflexStore{db: db},
		Executions: &ExecutionStore{db: db},
	}
}

// notFound maps a pgx no-rows result onto the resource-not-found code;
// anything else becomes a database error. Callers pass a short noun for
// the message ("project", "skill").
func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return kerr.Newf(kerr.CodeNotFoundResource, "store: %s not found", what)
	}
	return kerr.Wrapf(err, kerr.CodeInternalDatabase, "store: failed to load %s", what)
}

// dbErr wraps any non-nil database error with the database error code.
func dbErr(err error, op string) error {
	return kerr.Wrapf(err, kerr.CodeInternalDatabase, "store: %s failed", op)
}
