package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/hshdacs/Hall-of-Fame/internal/compose"
	"github.com/hshdacs/Hall-of-Fame/internal/deploy"
	"github.com/hshdacs/Hall-of-Fame/internal/docker"
	"github.com/hshdacs/Hall-of-Fame/internal/domain"
	"github.com/hshdacs/Hall-of-Fame/internal/queue"
	"github.com/hshdacs/Hall-of-Fame/internal/quota"
	"github.com/hshdacs/Hall-of-Fame/internal/repository"
	"github.com/hshdacs/Hall-of-Fame/internal/source"
	"github.com/hshdacs/Hall-of-Fame/internal/workspace"
	"github.com/hshdacs/Hall-of-Fame/internal/ws"
)

// ErrNoBuildFile reports a source tree with nothing to build. Retrying
// cannot fix it, so the queue treats it as permanent.
var ErrNoBuildFile = errors.New("no Dockerfile or compose file found")

// Enqueuer submits build jobs to the work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, build domain.BuildJob) (string, error)
}

// ImageBuilder builds a container image from a resolved root.
type ImageBuilder interface {
	BuildImage(ctx context.Context, contextDir, dockerfilePath, tag string, onOutput docker.BuildOutputCallback) error
}

// ComposeBuilder builds every service of a compose stack.
type ComposeBuilder interface {
	Build(ctx context.Context, composePath, workDir string, onOutput compose.OutputCallback) error
}

// Deployer starts and stops deployments.
type Deployer interface {
	Run(ctx context.Context, project *domain.Project, onOutput func(string)) (deploy.RunResult, error)
	Stop(ctx context.Context, project *domain.Project, onOutput func(string))
	Services(ctx context.Context, projectID string) ([]domain.ServiceStatus, error)
}

// Broadcaster pushes frames to live log observers.
type Broadcaster interface {
	Broadcast(projectID string, payload []byte)
}

// PortReserver reserves a host port at build time for later use.
type PortReserver interface {
	Allocate() (int, error)
}

// Controller transitions projects through their lifecycle: it authorizes and
// enqueues builds, executes the fetch→resolve→build pipeline as the queue
// handler, and handles explicit run/stop calls. All record mutations are
// targeted partial updates.
type Controller struct {
	repo       repository.ProjectRepository
	enqueuer   Enqueuer
	quotas     quota.Service
	workspaces *workspace.Manager
	images     ImageBuilder
	composes   ComposeBuilder
	deployer   Deployer
	hub        Broadcaster
	ports      PortReserver
	logger     *slog.Logger

	internalPort int
	fetchTimeout time.Duration
}

// New returns a lifecycle controller.
func New(
	repo repository.ProjectRepository,
	enqueuer Enqueuer,
	quotas quota.Service,
	workspaces *workspace.Manager,
	images ImageBuilder,
	composes ComposeBuilder,
	deployer Deployer,
	hub Broadcaster,
	ports PortReserver,
	internalPort int,
	fetchTimeout time.Duration,
	logger *slog.Logger,
) *Controller {
	if internalPort <= 0 {
		internalPort = 80
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 2 * time.Minute
	}
	return &Controller{
		repo:         repo,
		enqueuer:     enqueuer,
		quotas:       quotas,
		workspaces:   workspaces,
		images:       images,
		composes:     composes,
		deployer:     deployer,
		hub:          hub,
		ports:        ports,
		internalPort: internalPort,
		fetchTimeout: fetchTimeout,
		logger:       logger,
	}
}

// ImageTag returns the deterministic image tag for a project.
func ImageTag(projectID string) string { return "project_" + projectID }

// ContainerName returns the deterministic container name for a project.
func ContainerName(projectID string) string { return "container_" + projectID }

// SubmitBuild authorizes and enqueues a build for the project. Quota checks
// and the one-build-in-flight gate run before anything reaches the queue.
func (c *Controller) SubmitBuild(ctx context.Context, projectID, role string, archiveBytes int64) (string, error) {
	project, err := c.repo.GetProjectByID(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("load project: %w", err)
	}
	if project.Status == domain.StatusQueued || project.Status == domain.StatusBuilding {
		return "", &quota.ExceededError{Message: "a build is already queued or running for this project"}
	}
	if err := c.quotas.CheckUpload(ctx, project.OwnerID, role, project.SourceType, archiveBytes); err != nil {
		return "", err
	}

	if err := c.repo.UpdateProject(ctx, projectID, domain.ProjectUpdate{
		Status: domain.StrPtr(domain.StatusQueued),
	}); err != nil {
		return "", fmt.Errorf("mark project queued: %w", err)
	}

	jobID, err := c.enqueuer.Enqueue(ctx, domain.BuildJob{
		ProjectID:       project.ID,
		SourceType:      project.SourceType,
		SourcePathOrURL: project.SourcePathOrURL,
	})
	if err != nil {
		// No job made it into the queue, so queued must not stick: the
		// in-flight gate above would refuse every later submission.
		if revertErr := c.repo.UpdateProject(ctx, projectID, domain.ProjectUpdate{
			Status: domain.StrPtr(project.Status),
		}); revertErr != nil {
			c.logger.Error("revert status after enqueue failure",
				"project_id", projectID, "error", revertErr)
		}
		return "", fmt.Errorf("enqueue build: %w", err)
	}
	c.emit(project.ID, ws.FrameStatus, ws.StreamBuild, "build queued")
	return jobID, nil
}

// HandleBuildJob is the queue handler: one full fetch→resolve→build attempt.
// Terminal bookkeeping (history entry plus terminal status) happens exactly
// once: on success, or on the final failed attempt.
func (c *Controller) HandleBuildJob(ctx context.Context, job queue.Job) error {
	build := job.Build
	log := c.logger.With("project_id", build.ProjectID, "job_id", job.ID)

	project, err := c.repo.GetProjectByID(ctx, build.ProjectID)
	if err != nil {
		log.Error("project record missing for build job", "error", err)
		return queue.Permanent(fmt.Errorf("load project: %w", err))
	}

	c.emit(project.ID, ws.FrameStatus, ws.StreamBuild,
		fmt.Sprintf("build started (attempt %d of %d)", job.AttemptsMade+1, job.MaxAttempts))

	// Both logs reset here, exactly once per attempt, before the fetch.
	if err := c.repo.UpdateProject(ctx, project.ID, domain.ProjectUpdate{
		Status:    domain.StrPtr(domain.StatusBuilding),
		BuildLog:  domain.StrPtr(""),
		DeployLog: domain.StrPtr(""),
	}); err != nil {
		return c.failBuild(ctx, job, fmt.Errorf("mark project building: %w", err))
	}

	dir, err := c.workspaces.Prepare(project.ID)
	if err != nil {
		return c.failBuild(ctx, job, fmt.Errorf("prepare workspace: %w", err))
	}

	c.appendBuildLog(ctx, project.ID, fmt.Sprintf("fetching %s source", build.SourceType))
	fetchCtx, cancelFetch := context.WithTimeout(ctx, c.fetchTimeout)
	err = source.Fetch(fetchCtx, dir, build.SourceType, build.SourcePathOrURL)
	cancelFetch()
	if err != nil {
		// Fetch errors are retried like any other failure even though the
		// input will not change between attempts; carried policy.
		return c.failBuild(ctx, job, err)
	}

	root := source.ResolveRoot(dir)
	if !root.HasBuildFile() {
		return c.failBuild(ctx, job, queue.Permanent(ErrNoBuildFile))
	}

	if root.ComposePath != "" {
		if err := c.buildCompose(ctx, project.ID, root); err != nil {
			return c.failBuild(ctx, job, err)
		}
		return c.completeBuild(ctx, project.ID, domain.ProjectUpdate{
			Status: domain.StrPtr(domain.StatusReady),
		})
	}

	update, err := c.buildImage(ctx, project.ID, root)
	if err != nil {
		return c.failBuild(ctx, job, err)
	}
	return c.completeBuild(ctx, project.ID, update)
}

func (c *Controller) buildCompose(ctx context.Context, projectID string, root source.Root) error {
	c.appendBuildLog(ctx, projectID, fmt.Sprintf("compose file detected at %s, building services", root.ComposePath))
	if err := c.composes.Build(ctx, root.ComposePath, root.Dir, func(line string) {
		c.appendBuildLog(ctx, projectID, line)
	}); err != nil {
		return fmt.Errorf("compose build: %w", err)
	}
	return nil
}

func (c *Controller) buildImage(ctx context.Context, projectID string, root source.Root) (domain.ProjectUpdate, error) {
	tag := ImageTag(projectID)
	c.appendBuildLog(ctx, projectID, fmt.Sprintf("Dockerfile found at %s, building image %s", root.DockerfilePath, tag))
	if err := c.images.BuildImage(ctx, root.Dir, root.DockerfilePath, tag, func(line string) {
		c.appendBuildLog(ctx, projectID, line)
	}); err != nil {
		return domain.ProjectUpdate{}, fmt.Errorf("image build: %w", err)
	}

	// Reserved now so run can assume the range is not exhausted; the actual
	// binding still happens at start, with a fresh allocation.
	hostPort := 0
	if c.ports != nil {
		port, err := c.ports.Allocate()
		if err != nil {
			return domain.ProjectUpdate{}, fmt.Errorf("reserve host port: %w", err)
		}
		hostPort = port
	}

	update := domain.ProjectUpdate{
		Status:        domain.StrPtr(domain.StatusReady),
		ImageTag:      domain.StrPtr(tag),
		ContainerName: domain.StrPtr(ContainerName(projectID)),
		InternalPort:  domain.IntPtr(c.internalPort),
	}
	if hostPort > 0 {
		update.HostPort = domain.IntPtr(hostPort)
	}
	return update, nil
}

// completeBuild writes the terminal success outcome.
func (c *Controller) completeBuild(ctx context.Context, projectID string, update domain.ProjectUpdate) error {
	if err := c.repo.UpdateProject(ctx, projectID, update); err != nil {
		return fmt.Errorf("record build success: %w", err)
	}
	if err := c.repo.AppendBuildHistory(ctx, projectID, domain.BuildHistoryEntry{
		Timestamp: time.Now().UTC(),
		Status:    "success",
		Message:   "Build completed successfully",
	}); err != nil {
		c.logger.Error("append build history failed", "project_id", projectID, "error", err)
	}
	c.emit(projectID, ws.FrameCompleted, ws.StreamBuild, "Build completed successfully")
	return nil
}

// failBuild records the attempt failure and, only when no retry remains,
// the terminal build_failed outcome.
func (c *Controller) failBuild(ctx context.Context, job queue.Job, cause error) error {
	projectID := job.Build.ProjectID
	c.appendBuildLog(ctx, projectID, "ERROR: "+cause.Error())
	c.emit(projectID, ws.FrameFailed, ws.StreamBuild, cause.Error())

	if job.FinalAttempt() || queue.IsPermanent(cause) {
		if err := c.repo.UpdateProject(ctx, projectID, domain.ProjectUpdate{
			Status: domain.StrPtr(domain.StatusBuildFailed),
		}); err != nil {
			c.logger.Error("record build failure failed", "project_id", projectID, "error", err)
		}
		if err := c.repo.AppendBuildHistory(ctx, projectID, domain.BuildHistoryEntry{
			Timestamp: time.Now().UTC(),
			Status:    "failed",
			Message:   cause.Error(),
		}); err != nil {
			c.logger.Error("append build history failed", "project_id", projectID, "error", err)
		}
	}
	return cause
}

// Run starts the project's deployment and returns its URL. Deployment
// errors are not retried; they propagate to the caller and the record is
// left untouched.
func (c *Controller) Run(ctx context.Context, projectID, role string) (string, error) {
	project, err := c.repo.GetProjectByID(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("load project: %w", err)
	}
	if project.Status == domain.StatusRunning {
		return "", deploy.ErrAlreadyRunning
	}
	if err := c.quotas.CheckRun(ctx, project, role); err != nil {
		return "", err
	}

	result, err := c.deployer.Run(ctx, project, func(line string) {
		c.appendDeployLog(ctx, project.ID, line)
	})
	if err != nil {
		return "", err
	}

	update := domain.ProjectUpdate{
		Status: domain.StrPtr(domain.StatusRunning),
		URL:    domain.StrPtr(result.URL),
	}
	if result.HostPort > 0 {
		update.HostPort = domain.IntPtr(result.HostPort)
	}
	if result.Compose {
		update.FrontendService = domain.StrPtr(result.FrontendService)
		update.FrontendPort = domain.IntPtr(result.FrontendPort)
	}
	if err := c.repo.UpdateProject(ctx, project.ID, update); err != nil {
		return "", fmt.Errorf("record running state: %w", err)
	}
	if err := c.repo.AppendStartHistory(ctx, project.ID, domain.StartHistoryEntry{
		Timestamp: time.Now().UTC(),
		Role:      role,
	}); err != nil {
		c.logger.Error("append start history failed", "project_id", project.ID, "error", err)
	}
	c.emit(project.ID, ws.FrameStatus, ws.StreamDeploy, "project is running at "+result.URL)
	return result.URL, nil
}

// Stop tears the deployment down and marks the project stopped. The status
// write is unconditional: stopping an already stopped project succeeds.
func (c *Controller) Stop(ctx context.Context, projectID string) error {
	project, err := c.repo.GetProjectByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}

	c.deployer.Stop(ctx, project, func(line string) {
		c.appendDeployLog(ctx, project.ID, line)
	})

	if err := c.repo.UpdateProject(ctx, project.ID, domain.ProjectUpdate{
		Status: domain.StrPtr(domain.StatusStopped),
	}); err != nil {
		return fmt.Errorf("record stopped state: %w", err)
	}
	c.emit(project.ID, ws.FrameStatus, ws.StreamDeploy, "project stopped")
	return nil
}

// Services reports live containers for a project straight from the runtime.
func (c *Controller) Services(ctx context.Context, projectID string) ([]domain.ServiceStatus, error) {
	return c.deployer.Services(ctx, projectID)
}

// Usage reports an owner's quota consumption.
func (c *Controller) Usage(ctx context.Context, ownerID, role string) (quota.Usage, error) {
	return c.quotas.UsageFor(ctx, ownerID, role)
}

// appendBuildLog persists one chunk of build output and pushes it to
// observers as it is produced.
func (c *Controller) appendBuildLog(ctx context.Context, projectID, line string) {
	if line == "" {
		return
	}
	if err := c.repo.UpdateProject(ctx, projectID, domain.ProjectUpdate{AppendBuildLog: line + "\n"}); err != nil {
		c.logger.Warn("append build log failed", "project_id", projectID, "error", err)
	}
	c.emit(projectID, ws.FrameLog, ws.StreamBuild, line)
}

func (c *Controller) appendDeployLog(ctx context.Context, projectID, line string) {
	if line == "" {
		return
	}
	if err := c.repo.UpdateProject(ctx, projectID, domain.ProjectUpdate{AppendDeployLog: line + "\n"}); err != nil {
		c.logger.Warn("append deploy log failed", "project_id", projectID, "error", err)
	}
	c.emit(projectID, ws.FrameLog, ws.StreamDeploy, line)
}

func (c *Controller) emit(projectID, frameType, stream, message string) {
	if c.hub == nil {
		return
	}
	payload := ws.Frame{ProjectID: projectID, Type: frameType, Stream: stream, Message: message}.Encode()
	if payload != nil {
		c.hub.Broadcast(projectID, payload)
	}
}
