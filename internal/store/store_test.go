package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/kijko-dev/kijko-api/pkg/clients/postgres"
	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
	"github.com/kijko-dev/kijko-api/pkg/models"
)

const (
	testOrgID  = "org-1"
	testUserID = "user-1"
)

// newMockStore wires a Store over a pgxmock pool.
func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool() error = %v", err)
	}
	t.Cleanup(mock.Close)
	client := postgres.NewFromPool(mock, &postgres.Config{Database: "testdb"})
	return New(client), mock
}

func skillRow(s *models.Skill) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "organization_id", "user_id", "name", "description", "prompt",
		"model", "tags", "enabled", "version", "created_at", "updated_at",
	}).AddRow(s.ID, s.OrgID, s.UserID, s.Name, s.Description, s.Prompt,
		s.Model, s.Tags, s.Enabled, s.Version, s.CreatedAt, s.UpdatedAt)
}

func testSkill(t *testing.T) *models.Skill {
	t.Helper()
	s, err := models.NewSkill(testOrgID, testUserID, "Summarize PRs", "Summarize: {{diff}}")
	if err != nil {
		t.Fatalf("NewSkill() error = %v", err)
	}
	s.Description = "Summarize a pull request"
	return s
}

func TestSkillStore_Create(t *testing.T) {
	st, mock := newMockStore(t)
	s := testSkill(t)

	mock.ExpectExec("INSERT INTO skills").
		WithArgs(s.ID, s.OrgID, s.UserID, s.Name, s.Description, s.Prompt,
			s.Model, s.Tags, s.Enabled, s.Version, s.CreatedAt, s.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := st.Skills.Create(context.Background(), s); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSkillStore_Create_Invalid(t *testing.T) {
	st, _ := newMockStore(t)
	s := testSkill(t)
	s.Prompt = ""

	err := st.Skills.Create(context.Background(), s)
	if !kerr.HasCode(err, kerr.CodeValidation) {
		t.Errorf("Create() error = %v, want code %s", err, kerr.CodeValidation)
	}
}

func TestSkillStore_Get(t *testing.T) {
	st, mock := newMockStore(t)
	s := testSkill(t)

	mock.ExpectQuery("SELECT .+ FROM skills").
		WithArgs(s.ID, testOrgID).
		WillReturnRows(skillRow(s))

	got, err := st.Skills.Get(context.Background(), testOrgID, s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != s.Name || got.Version != 1 {
		t.Errorf("Get() = %+v, want name %q version 1", got, s.Name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSkillStore_Get_NotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM skills").
		WillReturnError(pgx.ErrNoRows)

	_, err := st.Skills.Get(context.Background(), testOrgID, "missing")
	if !kerr.HasCode(err, kerr.CodeNotFoundResource) {
		t.Errorf("Get() error = %v, want code %s", err, kerr.CodeNotFoundResource)
	}
}

func TestSkillStore_List_Paginates(t *testing.T) {
	st, mock := newMockStore(t)
	s := testSkill(t)

	mock.ExpectQuery("SELECT count").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(41)))
	mock.ExpectQuery("SELECT .+ FROM skills").
		WillReturnRows(skillRow(s))

	page, err := st.Skills.List(context.Background(), testOrgID, SkillFilter{}, models.PageParams{Page: 2, PageSize: 20})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 41 || page.TotalPages != 3 || page.Page != 2 {
		t.Errorf("List() pagination = total %d pages %d page %d, want 41/3/2",
			page.Total, page.TotalPages, page.Page)
	}
	if len(page.Items) != 1 {
		t.Fatalf("List() items = %d, want 1", len(page.Items))
	}
}

func TestSkillStore_BulkAction_InvalidAction(t *testing.T) {
	st, _ := newMockStore(t)

	_, err := st.Skills.BulkAction(context.Background(), testOrgID, []string{"a"}, "explode")
	if !kerr.HasCode(err, kerr.CodeValidation) {
		t.Errorf("BulkAction() error = %v, want code %s", err, kerr.CodeValidation)
	}
}

func TestSkillStore_BulkAction_Disable(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("UPDATE skills SET enabled = false").
		WithArgs(testOrgID, []string{"a", "b"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := st.Skills.BulkAction(context.Background(), testOrgID, []string{"a", "b"}, models.SkillBulkDisable)
	if err != nil {
		t.Fatalf("BulkAction() error = %v", err)
	}
	if n != 2 {
		t.Errorf("BulkAction() = %d rows, want 2", n)
	}
}

func TestSkillStore_Delete_NotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM skills").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := st.Skills.Delete(context.Background(), testOrgID, "missing")
	if !kerr.HasCode(err, kerr.CodeNotFoundResource) {
		t.Errorf("Delete() error = %v, want code %s", err, kerr.CodeNotFoundResource)
	}
}

func habitRow(h *models.Habit) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "organization_id", "user_id", "skill_id", "name", "schedule",
		"timezone", "input", "enabled", "next_run_at", "last_run_at",
		"run_count", "failure_count", "created_at", "updated_at",
	}).AddRow(h.ID, h.OrgID, h.UserID, h.SkillID, h.Name, h.Schedule,
		h.Timezone, h.Input, h.Enabled, h.NextRunAt, h.LastRunAt,
		h.RunCount, h.FailureCount, h.CreatedAt, h.UpdatedAt)
}

func testHabit(t *testing.T) *models.Habit {
	t.Helper()
	h, err := models.NewHabit(testOrgID, testUserID, "skill-1", "Morning digest", "0 9 * * 1-5")
	if err != nil {
		t.Fatalf("NewHabit() error = %v", err)
	}
	h.Timezone = "UTC"
	return h
}

func TestHabitStore_Create_ComputesNextRun(t *testing.T) {
	st, mock := newMockStore(t)
	h := testHabit(t)

	mock.ExpectExec("INSERT INTO habits").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := st.Habits.Create(context.Background(), h); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if h.NextRunAt == nil {
		t.Fatal("Create() left NextRunAt nil")
	}
	if !h.NextRunAt.After(time.Now()) {
		t.Errorf("NextRunAt = %v, want future", h.NextRunAt)
	}
}

func TestHabitStore_Create_BadSchedule(t *testing.T) {
	st, _ := newMockStore(t)
	h := testHabit(t)
	h.Schedule = "not a cron"

	err := st.Habits.Create(context.Background(), h)
	if !kerr.HasCode(err, kerr.CodeValidation) {
		t.Errorf("Create() error = %v, want code %s", err, kerr.CodeValidation)
	}
}

func TestHabitStore_Toggle_DisableClearsNextRun(t *testing.T) {
	st, mock := newMockStore(t)
	h := testHabit(t)
	h.Enabled = false
	h.NextRunAt = nil

	mock.ExpectQuery("UPDATE habits SET enabled").
		WithArgs(h.ID, testOrgID, false, (*time.Time)(nil)).
		WillReturnRows(habitRow(h))

	got, err := st.Habits.Toggle(context.Background(), testOrgID, h.ID, false)
	if err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if got.Enabled || got.NextRunAt != nil {
		t.Errorf("Toggle(disable) = enabled %v next %v, want disabled with nil next", got.Enabled, got.NextRunAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestHabitStore_SystemRecordRun_AdvancesSchedule(t *testing.T) {
	st, mock := newMockStore(t)
	h := testHabit(t)

	mock.ExpectQuery("SELECT .+ FROM habits").
		WithArgs(h.ID).
		WillReturnRows(habitRow(h))
	mock.ExpectExec("UPDATE habits").
		WithArgs(h.ID, pgxmock.AnyArg(), pgxmock.AnyArg(), 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ranAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if err := st.Habits.SystemRecordRun(context.Background(), h.ID, ranAt, true); err != nil {
		t.Fatalf("SystemRecordRun() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func reflexRow(r *models.Reflex) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "organization_id", "user_id", "skill_id", "name", "event_type",
		"conditions", "enabled", "webhook_token", "trigger_count",
		"failure_count", "last_triggered_at", "created_at", "updated_at",
	}).AddRow(r.ID, r.OrgID, r.UserID, r.SkillID, r.Name, r.EventType,
		r.Conditions, r.Enabled, r.WebhookToken, r.TriggerCount,
		r.FailureCount, r.LastTriggeredAt, r.CreatedAt, r.UpdatedAt)
}

func testReflex(t *testing.T) *models.Reflex {
	t.Helper()
	r, err := models.NewReflex(testOrgID, testUserID, "skill-1", "On PR open", "pull_request.opened", map[string]any{"repo": "kijko-api"})
	if err != nil {
		t.Fatalf("NewReflex() error = %v", err)
	}
	return r
}

func TestReflexStore_SystemGetByWebhookToken(t *testing.T) {
	st, mock := newMockStore(t)
	r := testReflex(t)

	mock.ExpectQuery("SELECT .+ FROM reflexes WHERE webhook_token").
		WithArgs(r.WebhookToken).
		WillReturnRows(reflexRow(r))

	got, err := st.Reflexes.SystemGetByWebhookToken(context.Background(), r.WebhookToken)
	if err != nil {
		t.Fatalf("SystemGetByWebhookToken() error = %v", err)
	}
	if got.ID != r.ID {
		t.Errorf("SystemGetByWebhookToken() id = %q, want %q", got.ID, r.ID)
	}
}

func TestReflexStore_SystemGetByWebhookToken_Unknown(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .+ FROM reflexes WHERE webhook_token").
		WillReturnError(pgx.ErrNoRows)

	_, err := st.Reflexes.SystemGetByWebhookToken(context.Background(), "bogus")
	if !kerr.HasCode(err, kerr.CodeNotFoundResource) {
		t.Errorf("error = %v, want code %s", err, kerr.CodeNotFoundResource)
	}
}

func TestReflexStore_Stats(t *testing.T) {
	st, mock := newMockStore(t)
	r := testReflex(t)
	r.TriggerCount = 10
	r.FailureCount = 2

	mock.ExpectQuery("SELECT .+ FROM reflexes").
		WithArgs(r.ID, testOrgID).
		WillReturnRows(reflexRow(r))
	mock.ExpectQuery("SELECT coalesce").
		WithArgs(testOrgID, r.ID).
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(int64(12345)))

	stats, err := st.Reflexes.Stats(context.Background(), testOrgID, r.ID)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.SuccessRate != 0.8 {
		t.Errorf("SuccessRate = %v, want 0.8", stats.SuccessRate)
	}
	if stats.TokensUsed != 12345 {
		t.Errorf("TokensUsed = %d, want 12345", stats.TokensUsed)
	}
}

func testExecution(t *testing.T) *models.Execution {
	t.Helper()
	e, err := models.NewExecution("skill-1", testOrgID, testUserID, models.TriggerManual, map[string]any{"diff": "..."})
	if err != nil {
		t.Fatalf("NewExecution() error = %v", err)
	}
	e.Complete("summary", 512)
	return e
}

func TestExecutionStore_Record(t *testing.T) {
	st, mock := newMockStore(t)
	e := testExecution(t)

	mock.ExpectExec("INSERT INTO executions").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := st.Executions.Record(context.Background(), e); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestExecutionStore_List_RejectsBadStatus(t *testing.T) {
	st, _ := newMockStore(t)

	_, err := st.Executions.List(context.Background(), testOrgID,
		ExecutionFilter{Status: "exploded"}, models.PageParams{})
	if !kerr.HasCode(err, kerr.CodeValidation) {
		t.Errorf("List() error = %v, want code %s", err, kerr.CodeValidation)
	}
}

func TestExecutionStore_Stats(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT").
		WillReturnRows(pgxmock.NewRows([]string{"total", "completed", "failed", "tokens", "avg"}).
			AddRow(int64(100), int64(90), int64(10), int64(250000), float64(1800)))

	stats, err := st.Executions.Stats(context.Background(), testOrgID, time.Time{})
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.SuccessRate != 0.9 {
		t.Errorf("SuccessRate = %v, want 0.9", stats.SuccessRate)
	}
	if stats.TokensUsed != 250000 {
		t.Errorf("TokensUsed = %d, want 250000", stats.TokensUsed)
	}
}

func TestExecutionStore_SystemDelete_Empty(t *testing.T) {
	st, mock := newMockStore(t)

	n, err := st.Executions.SystemDelete(context.Background(), nil)
	if err != nil {
		t.Fatalf("SystemDelete() error = %v", err)
	}
	if n != 0 {
		t.Errorf("SystemDelete() = %d, want 0", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected query issued: %v", err)
	}
}

func projectRow(p *models.Project) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "organization_id", "owner_id", "name", "description", "status",
		"created_at", "updated_at",
	}).AddRow(p.ID, p.OrgID, p.OwnerID, p.Name, p.Description, p.Status,
		p.CreatedAt, p.UpdatedAt)
}

func testProject(t *testing.T) *models.Project {
	t.Helper()
	p, err := models.NewProject(testOrgID, testUserID, "Core Platform", "Main repos")
	if err != nil {
		t.Fatalf("NewProject() error = %v", err)
	}
	return p
}

func TestProjectStore_Create_AddsOwnerMembership(t *testing.T) {
	st, mock := newMockStore(t)
	p := testProject(t)

	mock.ExpectExec("INSERT INTO projects").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO project_members").
		WithArgs(p.ID, p.OwnerID, "owner@kijko.dev", models.MemberRoleOwner, p.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := st.Projects.Create(context.Background(), p, "owner@kijko.dev"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestProjectStore_AddRepository_RejectsBadURL(t *testing.T) {
	st, _ := newMockStore(t)

	_, err := st.Projects.AddRepository(context.Background(), testOrgID, "proj-1", "git@github.com:kijko/core.git", "")
	if !kerr.HasCode(err, kerr.CodeValidation) {
		t.Errorf("AddRepository() error = %v, want code %s", err, kerr.CodeValidation)
	}
}

func TestProjectStore_AddRepository(t *testing.T) {
	st, mock := newMockStore(t)
	p := testProject(t)

	mock.ExpectQuery("SELECT .+ FROM projects").
		WithArgs(p.ID, testOrgID).
		WillReturnRows(projectRow(p))
	mock.ExpectExec("INSERT INTO repositories").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	r, err := st.Projects.AddRepository(context.Background(), testOrgID, p.ID, "https://github.com/kijko/core", "")
	if err != nil {
		t.Fatalf("AddRepository() error = %v", err)
	}
	if r.Provider != "github" {
		t.Errorf("Provider = %q, want github", r.Provider)
	}
	if r.DefaultBranch != "main" {
		t.Errorf("DefaultBranch = %q, want main", r.DefaultBranch)
	}
	if r.Ingestion != models.IngestionPending {
		t.Errorf("Ingestion = %q, want pending", r.Ingestion)
	}
}

func TestProjectStore_RemoveMember_ProtectsOwner(t *testing.T) {
	st, mock := newMockStore(t)
	p := testProject(t)

	mock.ExpectQuery("SELECT .+ FROM projects").
		WillReturnRows(projectRow(p))

	err := st.Projects.RemoveMember(context.Background(), testOrgID, p.ID, p.OwnerID)
	if !kerr.HasCode(err, kerr.CodeValidation) {
		t.Errorf("RemoveMember(owner) error = %v, want code %s", err, kerr.CodeValidation)
	}
}

func TestProjectStore_IngestionProgress(t *testing.T) {
	st, mock := newMockStore(t)
	p := testProject(t)

	mock.ExpectQuery("SELECT .+ FROM projects").
		WillReturnRows(projectRow(p))
	mock.ExpectQuery("SELECT count").
		WillReturnRows(pgxmock.NewRows([]string{"total", "failed", "running", "pending"}).
			AddRow(3, 0, 1, 0))
	mock.ExpectQuery("SELECT count").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(120))

	prog, err := st.Projects.IngestionProgress(context.Background(), testOrgID, p.ID)
	if err != nil {
		t.Fatalf("IngestionProgress() error = %v", err)
	}
	if prog.Status != models.IngestionRunning {
		t.Errorf("Status = %q, want running", prog.Status)
	}
	if prog.TotalFiles != 120 {
		t.Errorf("TotalFiles = %d, want 120", prog.TotalFiles)
	}
}

func TestNotFoundMapping(t *testing.T) {
	if err := notFound(pgx.ErrNoRows, "thing"); !kerr.HasCode(err, kerr.CodeNotFoundResource) {
		t.Errorf("notFound(ErrNoRows) = %v, want %s", err, kerr.CodeNotFoundResource)
	}
	if err := notFound(errors.New("boom"), "thing"); !kerr.HasCode(err, kerr.CodeInternalDatabase) {
		t.Errorf("notFound(other) = %v, want %s", err, kerr.CodeInternalDatabase)
	}
}
