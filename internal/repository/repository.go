package repository

import (
	"context"
	"time"

	"github.com/hshdacs/Hall-of-Fame/internal/domain"
)

// ProjectRepository is the orchestrator's contract with the external project
// record store. The orchestrator never overwrites whole records; every write
// is a targeted partial update.
type ProjectRepository interface {
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	UpdateProject(ctx context.Context, projectID string, update domain.ProjectUpdate) error

	AppendBuildHistory(ctx context.Context, projectID string, entry domain.BuildHistoryEntry) error
	AppendStartHistory(ctx context.Context, projectID string, entry domain.StartHistoryEntry) error
	CountStartsSince(ctx context.Context, projectID string, since time.Time) (int, error)

	CountProjectsByOwnerAndStatus(ctx context.Context, ownerID string, statuses ...string) (int, error)
	CountProjectsCreatedSince(ctx context.Context, ownerID string, since time.Time) (int, error)
}
