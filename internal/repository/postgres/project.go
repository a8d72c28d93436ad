package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hshdacs/Hall-of-Fame/internal/domain"
	"github.com/hshdacs/Hall-of-Fame/internal/repository"
)

// GetProjectByID fetches a project record.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT id, owner_id, source_type, source_path_or_url, status,
		build_log, deploy_log, image_tag, container_name, internal_port,
		host_port, url, frontend_service, frontend_port, created_at
		FROM projects WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, projectID)
	var p domain.Project
	if err := row.Scan(&p.ID, &p.OwnerID, &p.SourceType, &p.SourcePathOrURL, &p.Status,
		&p.BuildLog, &p.DeployLog, &p.ImageTag, &p.ContainerName, &p.InternalPort,
		&p.HostPort, &p.URL, &p.FrontendService, &p.FrontendPort, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// UpdateProject applies a targeted partial update: only fields present in
// the update touch the row, so concurrent writers (queue consumer, run/stop
// handlers) do not clobber each other.
func (r *Repository) UpdateProject(ctx context.Context, projectID string, update domain.ProjectUpdate) error {
	sets := make([]string, 0, 12)
	args := make([]any, 0, 12)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if update.Status != nil {
		sets = append(sets, "status = "+arg(*update.Status))
	}
	if update.BuildLog != nil {
		sets = append(sets, "build_log = "+arg(*update.BuildLog))
	}
	if update.DeployLog != nil {
		sets = append(sets, "deploy_log = "+arg(*update.DeployLog))
	}
	if update.AppendBuildLog != "" {
		sets = append(sets, "build_log = build_log || "+arg(update.AppendBuildLog))
	}
	if update.AppendDeployLog != "" {
		sets = append(sets, "deploy_log = deploy_log || "+arg(update.AppendDeployLog))
	}
	if update.ImageTag != nil {
		sets = append(sets, "image_tag = "+arg(*update.ImageTag))
	}
	if update.ContainerName != nil {
		sets = append(sets, "container_name = "+arg(*update.ContainerName))
	}
	if update.InternalPort != nil {
		sets = append(sets, "internal_port = "+arg(*update.InternalPort))
	}
	if update.HostPort != nil {
		sets = append(sets, "host_port = "+arg(*update.HostPort))
	}
	if update.URL != nil {
		sets = append(sets, "url = "+arg(*update.URL))
	}
	if update.FrontendService != nil {
		sets = append(sets, "frontend_service = "+arg(*update.FrontendService))
	}
	if update.FrontendPort != nil {
		sets = append(sets, "frontend_port = "+arg(*update.FrontendPort))
	}
	if len(sets) == 0 {
		return nil
	}

	query := "UPDATE projects SET " + strings.Join(sets, ", ") + " WHERE id = " + arg(projectID)
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AppendBuildHistory appends one terminal build outcome, newest last.
func (r *Repository) AppendBuildHistory(ctx context.Context, projectID string, entry domain.BuildHistoryEntry) error {
	const query = `INSERT INTO project_build_history (project_id, recorded_at, status, message)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, projectID, entry.Timestamp, entry.Status, entry.Message)
	return err
}

// AppendStartHistory appends one successful start.
func (r *Repository) AppendStartHistory(ctx context.Context, projectID string, entry domain.StartHistoryEntry) error {
	const query = `INSERT INTO project_start_history (project_id, started_at, started_by_role)
		VALUES ($1, $2, $3)`
	_, err := r.pool.Exec(ctx, query, projectID, entry.Timestamp, entry.Role)
	return err
}

// CountStartsSince counts a project's starts within a trailing window.
func (r *Repository) CountStartsSince(ctx context.Context, projectID string, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM project_start_history
		WHERE project_id = $1 AND started_at >= $2`
	var count int
	if err := r.pool.QueryRow(ctx, query, projectID, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// CountProjectsByOwnerAndStatus counts an owner's projects in any of the
// given statuses.
func (r *Repository) CountProjectsByOwnerAndStatus(ctx context.Context, ownerID string, statuses ...string) (int, error) {
	const query = `SELECT COUNT(*) FROM projects WHERE owner_id = $1 AND status = ANY($2)`
	var count int
	if err := r.pool.QueryRow(ctx, query, ownerID, statuses).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// CountProjectsCreatedSince counts an owner's projects created within a
// trailing window.
func (r *Repository) CountProjectsCreatedSince(ctx context.Context, ownerID string, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM projects WHERE owner_id = $1 AND created_at >= $2`
	var count int
	if err := r.pool.QueryRow(ctx, query, ownerID, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
