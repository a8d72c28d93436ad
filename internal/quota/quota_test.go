package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hshdacs/Hall-of-Fame/internal/domain"
	"github.com/hshdacs/Hall-of-Fame/pkg/config"
)

type stubRepo struct {
	createdSince  int
	byStatus      int
	startsSince   int
	countErr      error
	statusQueries [][]string
}

func (s *stubRepo) GetProjectByID(context.Context, string) (*domain.Project, error) {
	return nil, errors.New("not implemented")
}

func (s *stubRepo) UpdateProject(context.Context, string, domain.ProjectUpdate) error {
	return errors.New("not implemented")
}

func (s *stubRepo) AppendBuildHistory(context.Context, string, domain.BuildHistoryEntry) error {
	return errors.New("not implemented")
}

func (s *stubRepo) AppendStartHistory(context.Context, string, domain.StartHistoryEntry) error {
	return errors.New("not implemented")
}

func (s *stubRepo) CountStartsSince(context.Context, string, time.Time) (int, error) {
	return s.startsSince, s.countErr
}

func (s *stubRepo) CountProjectsByOwnerAndStatus(_ context.Context, _ string, statuses ...string) (int, error) {
	s.statusQueries = append(s.statusQueries, statuses)
	return s.byStatus, s.countErr
}

func (s *stubRepo) CountProjectsCreatedSince(context.Context, string, time.Time) (int, error) {
	return s.createdSince, s.countErr
}

func testConfig() config.QuotaConfig {
	return config.QuotaConfig{
		StudentUploadsPerDay:  10,
		StudentQueuedBuilds:   3,
		StudentRunning:        2,
		StudentStartsPerHour:  6,
		StudentArchiveMaxByte: 200 * 1024 * 1024,

		FacultyUploadsPerDay:  30,
		FacultyQueuedBuilds:   10,
		FacultyRunning:        10,
		FacultyStartsPerHour:  20,
		FacultyArchiveMaxByte: 500 * 1024 * 1024,
	}
}

func expectExceeded(t *testing.T, err error) *ExceededError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected quota rejection")
	}
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected ExceededError, got %T: %v", err, err)
	}
	if exceeded.StatusCode() != 429 {
		t.Fatalf("unexpected status code %d", exceeded.StatusCode())
	}
	return exceeded
}

func TestCheckUploadArchiveTooLarge(t *testing.T) {
	svc := New(&stubRepo{}, testConfig())
	err := svc.CheckUpload(context.Background(), "owner-1", RoleStudent, domain.SourceArchive, 201*1024*1024)
	expectExceeded(t, err)
}

func TestCheckUploadArchiveSizeIgnoredForGit(t *testing.T) {
	svc := New(&stubRepo{}, testConfig())
	if err := svc.CheckUpload(context.Background(), "owner-1", RoleStudent, domain.SourceGit, 201*1024*1024); err != nil {
		t.Fatalf("git submissions have no archive ceiling: %v", err)
	}
}

func TestCheckUploadDailyCeiling(t *testing.T) {
	repo := &stubRepo{createdSince: 10}
	svc := New(repo, testConfig())
	err := svc.CheckUpload(context.Background(), "owner-1", RoleStudent, domain.SourceGit, 0)
	expectExceeded(t, err)
}

func TestCheckUploadQueuedCeilingCountsBuilding(t *testing.T) {
	repo := &stubRepo{byStatus: 3}
	svc := New(repo, testConfig())
	err := svc.CheckUpload(context.Background(), "owner-1", RoleStudent, domain.SourceGit, 0)
	expectExceeded(t, err)

	if len(repo.statusQueries) != 1 {
		t.Fatalf("expected one status count query, got %d", len(repo.statusQueries))
	}
	statuses := repo.statusQueries[0]
	if len(statuses) != 2 || statuses[0] != domain.StatusQueued || statuses[1] != domain.StatusBuilding {
		t.Fatalf("queued ceiling must count queued and building, got %v", statuses)
	}
}

func TestCheckUploadFacultyTier(t *testing.T) {
	repo := &stubRepo{createdSince: 15}
	svc := New(repo, testConfig())
	if err := svc.CheckUpload(context.Background(), "owner-1", RoleFaculty, domain.SourceGit, 0); err != nil {
		t.Fatalf("15 uploads is under the faculty ceiling: %v", err)
	}
}

func TestCheckUploadAdminUnlimited(t *testing.T) {
	repo := &stubRepo{createdSince: 1000, byStatus: 1000}
	svc := New(repo, testConfig())
	if err := svc.CheckUpload(context.Background(), "owner-1", RoleAdmin, domain.SourceArchive, 1<<40); err != nil {
		t.Fatalf("admin must be unlimited: %v", err)
	}
}

func TestCheckUploadUnknownRoleGetsStudentTier(t *testing.T) {
	repo := &stubRepo{createdSince: 10}
	svc := New(repo, testConfig())
	err := svc.CheckUpload(context.Background(), "owner-1", "visitor", domain.SourceGit, 0)
	expectExceeded(t, err)
}

func TestCheckRunRunningCeiling(t *testing.T) {
	repo := &stubRepo{byStatus: 2}
	svc := New(repo, testConfig())
	project := &domain.Project{ID: "proj-1", OwnerID: "owner-1"}
	err := svc.CheckRun(context.Background(), project, RoleStudent)
	expectExceeded(t, err)
}

func TestCheckRunStartRate(t *testing.T) {
	repo := &stubRepo{startsSince: 6}
	svc := New(repo, testConfig())
	project := &domain.Project{ID: "proj-1", OwnerID: "owner-1"}
	err := svc.CheckRun(context.Background(), project, RoleStudent)
	expectExceeded(t, err)
}

func TestCheckRunWithinLimits(t *testing.T) {
	repo := &stubRepo{byStatus: 1, startsSince: 5}
	svc := New(repo, testConfig())
	project := &domain.Project{ID: "proj-1", OwnerID: "owner-1"}
	if err := svc.CheckRun(context.Background(), project, RoleStudent); err != nil {
		t.Fatalf("usage under ceilings must pass: %v", err)
	}
}

func TestUsageFor(t *testing.T) {
	repo := &stubRepo{createdSince: 4, byStatus: 1}
	svc := New(repo, testConfig())

	usage, err := svc.UsageFor(context.Background(), "owner-1", RoleStudent)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage.UploadsToday != 4 || usage.UploadsPerDay != 10 {
		t.Fatalf("unexpected upload usage: %+v", usage)
	}
	if usage.QueuedCeiling != 3 || usage.RunningCeiling != 2 {
		t.Fatalf("unexpected ceilings: %+v", usage)
	}
}

func TestUsageForAdminReportsUnlimited(t *testing.T) {
	svc := New(&stubRepo{}, testConfig())
	usage, err := svc.UsageFor(context.Background(), "owner-1", RoleAdmin)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage.UploadsPerDay != Unlimited || usage.QueuedCeiling != Unlimited {
		t.Fatalf("admin ceilings must be unlimited: %+v", usage)
	}
}

func TestCheckRunRepoErrorPropagates(t *testing.T) {
	repo := &stubRepo{countErr: errors.New("db down")}
	svc := New(repo, testConfig())
	project := &domain.Project{ID: "proj-1", OwnerID: "owner-1"}
	err := svc.CheckRun(context.Background(), project, RoleStudent)
	if err == nil {
		t.Fatalf("expected error")
	}
	var exceeded *ExceededError
	if errors.As(err, &exceeded) {
		t.Fatalf("infrastructure errors must not look like quota rejections")
	}
}
