package deploy

import (
	"context"
	"errors"
	"fmt"

	"log/slog"

	"github.com/hshdacs/Hall-of-Fame/internal/compose"
	"github.com/hshdacs/Hall-of-Fame/internal/domain"
	"github.com/hshdacs/Hall-of-Fame/internal/source"
	"github.com/hshdacs/Hall-of-Fame/internal/workspace"
)

// ErrAlreadyRunning is returned when run is called on a running project.
var ErrAlreadyRunning = errors.New("project is already running")

// ComposePlaceholderURL is recorded when a compose stack exposes no
// recognizable frontend port: the stack is up but no single URL describes it.
const ComposePlaceholderURL = "docker-compose"

// ContainerRuntime is the container engine surface the manager needs.
type ContainerRuntime interface {
	RunContainer(ctx context.Context, name, image string, hostPort, internalPort int) (string, error)
	StopAndRemoveContainer(ctx context.Context, name string) error
	RemoveContainer(ctx context.Context, name string) error
	ListProjectServices(ctx context.Context, projectID string) ([]domain.ServiceStatus, error)
}

// ComposeRunner drives the compose CLI for multi-service stacks.
type ComposeRunner interface {
	Up(ctx context.Context, composePath, workDir string, onOutput compose.OutputCallback) error
	Down(ctx context.Context, composePath, workDir string, onOutput compose.OutputCallback) error
}

// PortAllocator picks free host ports for single-container deployments.
type PortAllocator interface {
	Allocate() (int, error)
	Release(port int)
}

// cliComposeRunner is the production ComposeRunner.
type cliComposeRunner struct{}

func (cliComposeRunner) Up(ctx context.Context, composePath, workDir string, onOutput compose.OutputCallback) error {
	return compose.Up(ctx, composePath, workDir, onOutput)
}

func (cliComposeRunner) Down(ctx context.Context, composePath, workDir string, onOutput compose.OutputCallback) error {
	return compose.Down(ctx, composePath, workDir, onOutput)
}

// NewCLIComposeRunner returns the ComposeRunner backed by the docker CLI.
func NewCLIComposeRunner() ComposeRunner { return cliComposeRunner{} }

// RunResult describes a successful start.
type RunResult struct {
	URL             string
	HostPort        int
	FrontendService string
	FrontendPort    int
	Compose         bool
}

// Manager starts and stops deployments: either a single container with a
// deterministic name or a compose-managed stack. It owns no persisted state;
// the caller writes the result back to the project record.
type Manager struct {
	runtime       ContainerRuntime
	composeRunner ComposeRunner
	ports         PortAllocator
	workspaces    *workspace.Manager
	frontendPorts []int
	logger        *slog.Logger
	bestEffort    BestEffort
}

// New returns a deployment manager. frontendPorts is the ordered list of
// well-known container-side ports used to guess a compose stack's frontend.
func New(runtime ContainerRuntime, composeRunner ComposeRunner, ports PortAllocator, workspaces *workspace.Manager, frontendPorts []int, logger *slog.Logger) *Manager {
	return &Manager{
		runtime:       runtime,
		composeRunner: composeRunner,
		ports:         ports,
		workspaces:    workspaces,
		frontendPorts: frontendPorts,
		logger:        logger,
		bestEffort:    NewBestEffort(logger),
	}
}

// Run starts the project's deployment. The project must not already be
// running. On failure the error propagates and no partial state is reported;
// the caller leaves the record untouched.
func (m *Manager) Run(ctx context.Context, project *domain.Project, onOutput func(string)) (RunResult, error) {
	if project.Status == domain.StatusRunning {
		return RunResult{}, ErrAlreadyRunning
	}

	root := source.ResolveRoot(m.workspaces.Path(project.ID))
	if root.ComposePath != "" {
		return m.runCompose(ctx, project, root, onOutput)
	}
	return m.runContainer(ctx, project, onOutput)
}

func (m *Manager) runCompose(ctx context.Context, project *domain.Project, root source.Root, onOutput func(string)) (RunResult, error) {
	// A previous stack may still be up; bring it down before starting clean.
	m.bestEffort.Do("compose down before up", func() error {
		return m.composeRunner.Down(ctx, root.ComposePath, root.Dir, onOutput)
	})

	if err := m.composeRunner.Up(ctx, root.ComposePath, root.Dir, onOutput); err != nil {
		return RunResult{}, fmt.Errorf("start compose stack: %w", err)
	}

	result := RunResult{Compose: true, URL: ComposePlaceholderURL}
	file, err := compose.Parse(root.ComposePath)
	if err != nil {
		// The stack is up; a parse failure only costs the URL resolution.
		m.logger.Warn("compose file parse failed after up", "project_id", project.ID, "error", err)
		return result, nil
	}
	if frontend, ok := file.FindFrontend(m.frontendPorts); ok {
		result.FrontendService = frontend.Service
		result.FrontendPort = frontend.HostPort
		result.HostPort = frontend.HostPort
		result.URL = fmt.Sprintf("http://localhost:%d", frontend.HostPort)
	}
	return result, nil
}

func (m *Manager) runContainer(ctx context.Context, project *domain.Project, onOutput func(string)) (RunResult, error) {
	if project.ImageTag == "" || project.ContainerName == "" {
		return RunResult{}, fmt.Errorf("project has no built image to run")
	}

	// A stale container with the deterministic name blocks a fresh start.
	m.bestEffort.Do("remove stale container", func() error {
		return m.runtime.RemoveContainer(ctx, project.ContainerName)
	})

	hostPort, err := m.ports.Allocate()
	if err != nil {
		return RunResult{}, fmt.Errorf("allocate host port: %w", err)
	}

	internalPort := project.InternalPort
	if internalPort <= 0 {
		internalPort = 80
	}
	containerID, err := m.runtime.RunContainer(ctx, project.ContainerName, project.ImageTag, hostPort, internalPort)
	if err != nil {
		m.ports.Release(hostPort)
		return RunResult{}, fmt.Errorf("start container: %w", err)
	}
	if onOutput != nil {
		onOutput(fmt.Sprintf("container %s started (%s)", project.ContainerName, containerID))
	}
	return RunResult{
		URL:      fmt.Sprintf("http://localhost:%d", hostPort),
		HostPort: hostPort,
	}, nil
}

// Stop tears the deployment down. Missing containers or stacks are not
// errors: stop is idempotent and always leaves the project stoppable state.
func (m *Manager) Stop(ctx context.Context, project *domain.Project, onOutput func(string)) {
	root := source.ResolveRoot(m.workspaces.Path(project.ID))
	if root.ComposePath != "" {
		m.bestEffort.Do("compose down", func() error {
			return m.composeRunner.Down(ctx, root.ComposePath, root.Dir, onOutput)
		})
		return
	}
	if project.ContainerName != "" {
		m.bestEffort.Do("stop container", func() error {
			return m.runtime.StopAndRemoveContainer(ctx, project.ContainerName)
		})
	}
}

// Services reports the live containers belonging to a project.
func (m *Manager) Services(ctx context.Context, projectID string) ([]domain.ServiceStatus, error) {
	return m.runtime.ListProjectServices(ctx, projectID)
}
