package quota

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hshdacs/Hall-of-Fame/internal/domain"
	"github.com/hshdacs/Hall-of-Fame/internal/repository"

	"github.com/hshdacs/Hall-of-Fame/pkg/config"
)

// Role tiers. Admin is effectively unlimited.
const (
	RoleStudent = "student"
	RoleFaculty = "faculty"
	RoleAdmin   = "admin"
)

// Unlimited marks a ceiling that is never enforced.
const Unlimited = -1

// ExceededError is returned for every quota rejection so the boundary layer
// can map it to a 429 without inspecting message text.
type ExceededError struct {
	Message string
}

func (e *ExceededError) Error() string { return e.Message }

// StatusCode returns the HTTP-adjacent status for quota rejections.
func (e *ExceededError) StatusCode() int { return http.StatusTooManyRequests }

// Limits holds the ceilings for one role. Unlimited (-1) disables a check.
type Limits struct {
	UploadsPerDay   int
	QueuedBuilds    int
	RunningProjects int
	StartsPerHour   int
	ArchiveMaxBytes int64
}

// Service makes quota decisions from role ceilings and current usage read
// through the project record store.
type Service struct {
	repo repository.ProjectRepository
	cfg  config.QuotaConfig
}

// New returns a quota service.
func New(repo repository.ProjectRepository, cfg config.QuotaConfig) Service {
	return Service{repo: repo, cfg: cfg}
}

// LimitsFor resolves the ceilings for a role. Unknown roles get the student
// tier; admin is unlimited across the board.
func (s Service) LimitsFor(role string) Limits {
	switch role {
	case RoleAdmin:
		return Limits{
			UploadsPerDay:   Unlimited,
			QueuedBuilds:    Unlimited,
			RunningProjects: Unlimited,
			StartsPerHour:   Unlimited,
			ArchiveMaxBytes: Unlimited,
		}
	case RoleFaculty:
		return Limits{
			UploadsPerDay:   s.cfg.FacultyUploadsPerDay,
			QueuedBuilds:    s.cfg.FacultyQueuedBuilds,
			RunningProjects: s.cfg.FacultyRunning,
			StartsPerHour:   s.cfg.FacultyStartsPerHour,
			ArchiveMaxBytes: s.cfg.FacultyArchiveMaxByte,
		}
	default:
		return Limits{
			UploadsPerDay:   s.cfg.StudentUploadsPerDay,
			QueuedBuilds:    s.cfg.StudentQueuedBuilds,
			RunningProjects: s.cfg.StudentRunning,
			StartsPerHour:   s.cfg.StudentStartsPerHour,
			ArchiveMaxBytes: s.cfg.StudentArchiveMaxByte,
		}
	}
}

// CheckUpload authorizes a new build submission before anything is queued.
func (s Service) CheckUpload(ctx context.Context, ownerID, role, sourceType string, archiveBytes int64) error {
	limits := s.LimitsFor(role)

	if sourceType == domain.SourceArchive && limits.ArchiveMaxBytes != Unlimited && archiveBytes > limits.ArchiveMaxBytes {
		return &ExceededError{Message: "archive is too large for your quota"}
	}
	if ownerID == "" {
		return nil
	}

	if limits.UploadsPerDay != Unlimited {
		dayAgo := time.Now().Add(-24 * time.Hour)
		uploads, err := s.repo.CountProjectsCreatedSince(ctx, ownerID, dayAgo)
		if err != nil {
			return fmt.Errorf("count daily uploads: %w", err)
		}
		if uploads >= limits.UploadsPerDay {
			return &ExceededError{Message: "daily upload quota exceeded"}
		}
	}

	if limits.QueuedBuilds != Unlimited {
		queued, err := s.repo.CountProjectsByOwnerAndStatus(ctx, ownerID, domain.StatusQueued, domain.StatusBuilding)
		if err != nil {
			return fmt.Errorf("count queued builds: %w", err)
		}
		if queued >= limits.QueuedBuilds {
			return &ExceededError{Message: "too many builds already queued or running for your account"}
		}
	}
	return nil
}

// Usage summarizes an owner's current consumption against their ceilings.
type Usage struct {
	Role            string `json:"role"`
	UploadsToday    int    `json:"uploads_today"`
	UploadsPerDay   int    `json:"uploads_per_day"`
	QueuedBuilds    int    `json:"queued_builds"`
	QueuedCeiling   int    `json:"queued_ceiling"`
	RunningProjects int    `json:"running_projects"`
	RunningCeiling  int    `json:"running_ceiling"`
}

// UsageFor reports the owner's usage and the ceilings it is measured
// against. Unlimited ceilings are reported as -1.
func (s Service) UsageFor(ctx context.Context, ownerID, role string) (Usage, error) {
	limits := s.LimitsFor(role)
	usage := Usage{
		Role:           role,
		UploadsPerDay:  limits.UploadsPerDay,
		QueuedCeiling:  limits.QueuedBuilds,
		RunningCeiling: limits.RunningProjects,
	}

	dayAgo := time.Now().Add(-24 * time.Hour)
	uploads, err := s.repo.CountProjectsCreatedSince(ctx, ownerID, dayAgo)
	if err != nil {
		return Usage{}, fmt.Errorf("count daily uploads: %w", err)
	}
	usage.UploadsToday = uploads

	queued, err := s.repo.CountProjectsByOwnerAndStatus(ctx, ownerID, domain.StatusQueued, domain.StatusBuilding)
	if err != nil {
		return Usage{}, fmt.Errorf("count queued builds: %w", err)
	}
	usage.QueuedBuilds = queued

	running, err := s.repo.CountProjectsByOwnerAndStatus(ctx, ownerID, domain.StatusRunning)
	if err != nil {
		return Usage{}, fmt.Errorf("count running projects: %w", err)
	}
	usage.RunningProjects = running
	return usage, nil
}

// CheckRun authorizes starting a deployment for the given project. The
// running-project ceiling applies to the owner; the start-rate ceiling
// applies to the project itself over a trailing hour.
func (s Service) CheckRun(ctx context.Context, project *domain.Project, role string) error {
	limits := s.LimitsFor(role)

	if project.OwnerID != "" && limits.RunningProjects != Unlimited {
		running, err := s.repo.CountProjectsByOwnerAndStatus(ctx, project.OwnerID, domain.StatusRunning)
		if err != nil {
			return fmt.Errorf("count running projects: %w", err)
		}
		if running >= limits.RunningProjects {
			return &ExceededError{Message: "running project quota exceeded for this user"}
		}
	}

	if limits.StartsPerHour != Unlimited {
		hourAgo := time.Now().Add(-time.Hour)
		starts, err := s.repo.CountStartsSince(ctx, project.ID, hourAgo)
		if err != nil {
			return fmt.Errorf("count recent starts: %w", err)
		}
		if starts >= limits.StartsPerHour {
			return &ExceededError{Message: "project start quota exceeded for this hour"}
		}
	}
	return nil
}
