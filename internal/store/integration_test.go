//go:build integration

// Package store_test contains integration tests that run the stores
// against a real PostgreSQL container via testcontainers-go. They are
// gated behind the "integration" build tag and executed in CI with
// Docker.
//
// Run locally with:
//
//	go test -v -race -tags=integration ./internal/store/...
package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/kijko-dev/kijko-api/internal/store"
	"github.com/kijko-dev/kijko-api/internal/testutil/containers"
	"github.com/kijko-dev/kijko-api/internal/testutil/fixtures"
	"github.com/kijko-dev/kijko-api/pkg/clients/postgres"
	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
	"github.com/kijko-dev/kijko-api/pkg/models"
)

// StoreIntegrationSuite runs all store integration tests against a single
// shared PostgreSQL container. The schema is applied once in SetupSuite;
// tests isolate through freshly minted UUIDs rather than per-test
// containers.
type StoreIntegrationSuite struct {
	suite.Suite

	pg     *containers.PostgresResult
	client *postgres.Client
	store  *store.Store
}

func TestStoreIntegration(t *testing.T) {
	suite.Run(t, new(StoreIntegrationSuite))
}

func (s *StoreIntegrationSuite) SetupSuite() {
	ctx := context.Background()

	pg, err := containers.StartPostgres(ctx)
	s.Require().NoError(err, "starting postgres container")
	s.pg = pg

	client, err := postgres.NewClient(ctx, postgres.Config{
		URI:      pg.ConnString,
		MaxConns: 5,
	})
	s.Require().NoError(err, "connecting to postgres container")
	s.client = client

	_, err = client.Exec(ctx, fixtures.Schema)
	s.Require().NoError(err, "applying schema")

	s.store = store.New(client)
}

func (s *StoreIntegrationSuite) TearDownSuite() {
	if s.client != nil {
		s.client.Close()
	}
	if s.pg != nil {
		_ = s.pg.Container.Terminate(context.Background())
	}
}

func (s *StoreIntegrationSuite) newSkill(orgID string) *models.Skill {
	skill, err := models.NewSkill(orgID, fixtures.UserID, "Summarize notes", "Summarize {{text}}")
	s.Require().NoError(err)
	s.Require().NoError(s.store.Skills.Create(context.Background(), skill))
	return skill
}

func (s *StoreIntegrationSuite) TestSkillCRUD() {
	ctx := context.Background()
	skill := s.newSkill(fixtures.OrgID)

	got, err := s.store.Skills.Get(ctx, fixtures.OrgID, skill.ID)
	s.Require().NoError(err)
	s.Equal(skill.Name, got.Name)
	s.Equal(1, got.Version)

	got.Description = "Meeting notes summarizer"
	got.Tags = []string{"docs"}
	updated, err := s.store.Skills.Update(ctx, fixtures.OrgID, got)
	s.Require().NoError(err)
	s.Equal(2, updated.Version)
	s.Equal([]string{"docs"}, updated.Tags)

	page, err := s.store.Skills.List(ctx, fixtures.OrgID, store.SkillFilter{Tag: "docs"}, models.PageParams{})
	s.Require().NoError(err)
	s.Require().NotEmpty(page.Items)

	s.Require().NoError(s.store.Skills.Delete(ctx, fixtures.OrgID, skill.ID))
	_, err = s.store.Skills.Get(ctx, fixtures.OrgID, skill.ID)
	s.True(kerr.HasCode(err, kerr.CodeNotFoundResource))
}

func (s *StoreIntegrationSuite) TestOrganizationScoping() {
	ctx := context.Background()
	skill := s.newSkill(fixtures.OrgID)

	_, err := s.store.Skills.Get(ctx, fixtures.AltOrgID, skill.ID)
	s.True(kerr.HasCode(err, kerr.CodeNotFoundResource),
		"another organization must not see the skill")

	_, err = s.store.Skills.Update(ctx, fixtures.AltOrgID, skill)
	s.True(kerr.HasCode(err, kerr.CodeNotFoundResource))
}

func (s *StoreIntegrationSuite) TestHabitDueScan() {
	ctx := context.Background()
	skill := s.newSkill(fixtures.OrgID)

	habit, err := models.NewHabit(fixtures.OrgID, fixtures.UserID, skill.ID, "Nightly digest", "0 3 * * *")
	s.Require().NoError(err)
	s.Require().NoError(s.store.Habits.Create(ctx, habit))

	// Force the habit due; cron math always schedules into the future.
	_, err = s.client.Exec(ctx,
		`UPDATE habits SET next_run_at = now() - interval '1 minute' WHERE id = $1`, habit.ID)
	s.Require().NoError(err)

	due, err := s.store.Habits.SystemListDue(ctx, time.Now().UTC(), 10)
	s.Require().NoError(err)
	s.Require().Len(filterHabits(due, habit.ID), 1)

	s.Require().NoError(s.store.Habits.SystemRecordRun(ctx, habit.ID, time.Now().UTC(), false))

	after, err := s.store.Habits.Get(ctx, fixtures.OrgID, habit.ID)
	s.Require().NoError(err)
	s.Equal(1, after.RunCount)
	s.Require().NotNil(after.NextRunAt)
	s.True(after.NextRunAt.After(time.Now()), "next run must be rescheduled into the future")
}

func (s *StoreIntegrationSuite) TestReflexWebhookLookup() {
	ctx := context.Background()
	skill := s.newSkill(fixtures.OrgID)

	reflex, err := models.NewReflex(fixtures.OrgID, fixtures.UserID, skill.ID,
		"On push", "push", map[string]any{"branch": "main"})
	s.Require().NoError(err)
	s.Require().NoError(s.store.Reflexes.Create(ctx, reflex))

	found, err := s.store.Reflexes.SystemGetByWebhookToken(ctx, reflex.WebhookToken)
	s.Require().NoError(err)
	s.Equal(reflex.ID, found.ID)

	s.Require().NoError(s.store.Reflexes.SystemRecordTrigger(ctx, reflex.ID, time.Now().UTC(), false))
	s.Require().NoError(s.store.Reflexes.SystemRecordTrigger(ctx, reflex.ID, time.Now().UTC(), true))

	stats, err := s.store.Reflexes.Stats(ctx, fixtures.OrgID, reflex.ID)
	s.Require().NoError(err)
	s.Equal(2, stats.TriggerCount)
	s.Equal(1, stats.FailureCount)
}

func (s *StoreIntegrationSuite) TestExecutionStatsAndRetention() {
	ctx := context.Background()
	skill := s.newSkill(fixtures.OrgID)

	completed, err := models.NewExecution(skill.ID, fixtures.OrgID, fixtures.UserID,
		models.TriggerManual, map[string]any{"text": "hello"})
	s.Require().NoError(err)
	completed.Complete("summary", 42)
	s.Require().NoError(s.store.Executions.Record(ctx, completed))

	failed, err := models.NewExecution(skill.ID, fixtures.OrgID, fixtures.UserID,
		models.TriggerManual, nil)
	s.Require().NoError(err)
	failed.Fail("provider timeout")
	s.Require().NoError(s.store.Executions.Record(ctx, failed))

	stats, err := s.store.Executions.Stats(ctx, fixtures.OrgID, time.Time{})
	s.Require().NoError(err)
	s.GreaterOrEqual(stats.Total, int64(2))
	s.GreaterOrEqual(stats.TokensUsed, int64(42))

	// Retention: age one row past the cutoff and prune it.
	_, err = s.client.Exec(ctx,
		`UPDATE executions SET started_at = now() - interval '100 days' WHERE id = $1`, failed.ID)
	s.Require().NoError(err)

	old, err := s.store.Executions.SystemListOlderThan(ctx, time.Now().AddDate(0, 0, -90), 100)
	s.Require().NoError(err)
	s.Require().NotEmpty(old)

	deleted, err := s.store.Executions.SystemDelete(ctx, []string{failed.ID})
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)

	_, err = s.store.Executions.Get(ctx, fixtures.OrgID, failed.ID)
	s.True(kerr.HasCode(err, kerr.CodeNotFoundResource))
}

func (s *StoreIntegrationSuite) TestProjectMembership() {
	ctx := context.Background()

	project, err := models.NewProject(fixtures.OrgID, fixtures.UserID, "Core platform", "")
	s.Require().NoError(err)
	s.Require().NoError(s.store.Projects.Create(ctx, project, fixtures.UserEmail))

	members, err := s.store.Projects.ListMembers(ctx, fixtures.OrgID, project.ID)
	s.Require().NoError(err)
	s.Require().Len(members, 1)
	s.Equal(models.MemberRoleOwner, members[0].Role)

	err = s.store.Projects.RemoveMember(ctx, fixtures.OrgID, project.ID, fixtures.UserID)
	s.True(kerr.HasCode(err, kerr.CodeValidation), "owner must not be removable")

	s.Require().NoError(s.store.Projects.AddMember(ctx, fixtures.OrgID, project.ID, &models.Member{
		UserID:    "user-test-002",
		Email:     "second@kijko.test",
		Role:      models.MemberRoleEditor,
		InvitedAt: time.Now().UTC(),
	}))

	// Deleting the project cascades to memberships.
	s.Require().NoError(s.store.Projects.Delete(ctx, fixtures.OrgID, project.ID))
	var count int
	err = s.client.QueryRow(ctx,
		`SELECT count(*) FROM project_members WHERE project_id = $1`, project.ID).Scan(&count)
	s.Require().NoError(err)
	s.Zero(count)
}

func filterHabits(habits []models.Habit, id string) []models.Habit {
	var out []models.Habit
	for _, h := range habits {
		if h.ID == id {
			out = append(out, h)
		}
	}
	return out
}
