package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"log/slog"

	"github.com/hshdacs/Hall-of-Fame/internal/compose"
	"github.com/hshdacs/Hall-of-Fame/internal/domain"
	"github.com/hshdacs/Hall-of-Fame/internal/workspace"
)

type stubRuntime struct {
	runErr      error
	runCalls    int
	removed     []string
	stopped     []string
	services    []domain.ServiceStatus
	lastPort    int
	lastImage   string
	lastName    string
	removeErr   error
	servicesErr error
}

func (s *stubRuntime) RunContainer(_ context.Context, name, image string, hostPort, internalPort int) (string, error) {
	s.runCalls++
	s.lastName = name
	s.lastImage = image
	s.lastPort = hostPort
	if s.runErr != nil {
		return "", s.runErr
	}
	return "container-id", nil
}

func (s *stubRuntime) StopAndRemoveContainer(_ context.Context, name string) error {
	s.stopped = append(s.stopped, name)
	return nil
}

func (s *stubRuntime) RemoveContainer(_ context.Context, name string) error {
	s.removed = append(s.removed, name)
	return s.removeErr
}

func (s *stubRuntime) ListProjectServices(context.Context, string) ([]domain.ServiceStatus, error) {
	return s.services, s.servicesErr
}

type stubComposeRunner struct {
	upErr     error
	upCalls   int
	downCalls int
}

func (s *stubComposeRunner) Up(_ context.Context, _, _ string, _ compose.OutputCallback) error {
	s.upCalls++
	return s.upErr
}

func (s *stubComposeRunner) Down(_ context.Context, _, _ string, _ compose.OutputCallback) error {
	s.downCalls++
	return nil
}

type stubAllocator struct {
	port     int
	err      error
	released []int
}

func (s *stubAllocator) Allocate() (int, error) { return s.port, s.err }
func (s *stubAllocator) Release(port int)       { s.released = append(s.released, port) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, runtime *stubRuntime, composeRunner *stubComposeRunner, alloc *stubAllocator) (*Manager, *workspace.Manager) {
	t.Helper()
	workspaces, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	m := New(runtime, composeRunner, alloc, workspaces, []int{80, 3000, 5173, 8080}, discardLogger())
	return m, workspaces
}

func writeWorkspaceFile(t *testing.T, workspaces *workspace.Manager, projectID, name, content string) {
	t.Helper()
	dir, err := workspaces.Prepare(projectID)
	if err != nil {
		t.Fatalf("prepare workspace: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestRunRefusesRunningProject(t *testing.T) {
	m, _ := newTestManager(t, &stubRuntime{}, &stubComposeRunner{}, &stubAllocator{port: 8000})
	project := &domain.Project{ID: "proj-1", Status: domain.StatusRunning}

	if _, err := m.Run(context.Background(), project, nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestRunContainerHappyPath(t *testing.T) {
	runtime := &stubRuntime{}
	alloc := &stubAllocator{port: 8042}
	m, workspaces := newTestManager(t, runtime, &stubComposeRunner{}, alloc)
	writeWorkspaceFile(t, workspaces, "proj-1", "Dockerfile", "FROM nginx\n")

	project := &domain.Project{
		ID:            "proj-1",
		Status:        domain.StatusReady,
		ImageTag:      "project_proj-1",
		ContainerName: "container_proj-1",
		InternalPort:  80,
	}
	result, err := m.Run(context.Background(), project, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.URL != "http://localhost:8042" {
		t.Fatalf("unexpected url: %s", result.URL)
	}
	if result.HostPort != 8042 || result.Compose {
		t.Fatalf("unexpected result: %+v", result)
	}
	if runtime.lastName != "container_proj-1" || runtime.lastImage != "project_proj-1" {
		t.Fatalf("unexpected container launch: %s / %s", runtime.lastName, runtime.lastImage)
	}
	// The stale container with the deterministic name is cleared first.
	if len(runtime.removed) != 1 || runtime.removed[0] != "container_proj-1" {
		t.Fatalf("expected stale container removal, got %v", runtime.removed)
	}
}

func TestRunContainerStaleRemovalFailureIgnored(t *testing.T) {
	runtime := &stubRuntime{removeErr: errors.New("engine hiccup")}
	m, workspaces := newTestManager(t, runtime, &stubComposeRunner{}, &stubAllocator{port: 8000})
	writeWorkspaceFile(t, workspaces, "proj-1", "Dockerfile", "FROM nginx\n")

	project := &domain.Project{ID: "proj-1", ImageTag: "img", ContainerName: "c", InternalPort: 80}
	if _, err := m.Run(context.Background(), project, nil); err != nil {
		t.Fatalf("stale removal failure must not abort the run: %v", err)
	}
}

func TestRunContainerReleasesPortOnFailure(t *testing.T) {
	runtime := &stubRuntime{runErr: fmt.Errorf("image missing")}
	alloc := &stubAllocator{port: 8050}
	m, workspaces := newTestManager(t, runtime, &stubComposeRunner{}, alloc)
	writeWorkspaceFile(t, workspaces, "proj-1", "Dockerfile", "FROM nginx\n")

	project := &domain.Project{ID: "proj-1", ImageTag: "img", ContainerName: "c", InternalPort: 80}
	if _, err := m.Run(context.Background(), project, nil); err == nil {
		t.Fatalf("expected run failure")
	}
	if len(alloc.released) != 1 || alloc.released[0] != 8050 {
		t.Fatalf("expected allocated port to be released, got %v", alloc.released)
	}
}

func TestRunContainerWithoutImage(t *testing.T) {
	m, workspaces := newTestManager(t, &stubRuntime{}, &stubComposeRunner{}, &stubAllocator{port: 8000})
	writeWorkspaceFile(t, workspaces, "proj-1", "Dockerfile", "FROM nginx\n")

	project := &domain.Project{ID: "proj-1", Status: domain.StatusReady}
	if _, err := m.Run(context.Background(), project, nil); err == nil {
		t.Fatalf("expected error for project without built image")
	}
}

func TestRunComposeResolvesFrontend(t *testing.T) {
	composeRunner := &stubComposeRunner{}
	m, workspaces := newTestManager(t, &stubRuntime{}, composeRunner, &stubAllocator{port: 8000})
	writeWorkspaceFile(t, workspaces, "proj-1", "docker-compose.yml", `
services:
  db:
    image: postgres:16
  web:
    ports:
      - "8080:80"
`)

	project := &domain.Project{ID: "proj-1", Status: domain.StatusReady}
	result, err := m.Run(context.Background(), project, nil)
	if err != nil {
		t.Fatalf("run compose: %v", err)
	}
	if !result.Compose {
		t.Fatalf("expected compose result")
	}
	if result.FrontendService != "web" || result.FrontendPort != 8080 {
		t.Fatalf("unexpected frontend: %+v", result)
	}
	if result.URL != "http://localhost:8080" {
		t.Fatalf("unexpected url: %s", result.URL)
	}
	// Stale stack teardown precedes the fresh up.
	if composeRunner.downCalls != 1 || composeRunner.upCalls != 1 {
		t.Fatalf("expected down then up, got %d/%d", composeRunner.downCalls, composeRunner.upCalls)
	}
}

func TestRunComposeWithoutFrontendUsesPlaceholder(t *testing.T) {
	m, workspaces := newTestManager(t, &stubRuntime{}, &stubComposeRunner{}, &stubAllocator{port: 8000})
	writeWorkspaceFile(t, workspaces, "proj-1", "docker-compose.yml", `
services:
  db:
    image: postgres:16
`)

	project := &domain.Project{ID: "proj-1", Status: domain.StatusReady}
	result, err := m.Run(context.Background(), project, nil)
	if err != nil {
		t.Fatalf("run compose: %v", err)
	}
	if result.URL != ComposePlaceholderURL {
		t.Fatalf("expected placeholder url, got %s", result.URL)
	}
}

func TestRunComposeUpFailure(t *testing.T) {
	composeRunner := &stubComposeRunner{upErr: errors.New("bad compose file")}
	m, workspaces := newTestManager(t, &stubRuntime{}, composeRunner, &stubAllocator{port: 8000})
	writeWorkspaceFile(t, workspaces, "proj-1", "docker-compose.yml", "services:\n  web:\n    image: nginx\n")

	project := &domain.Project{ID: "proj-1", Status: domain.StatusReady}
	if _, err := m.Run(context.Background(), project, nil); err == nil {
		t.Fatalf("expected compose up failure to propagate")
	}
}

func TestStopComposeProject(t *testing.T) {
	composeRunner := &stubComposeRunner{}
	m, workspaces := newTestManager(t, &stubRuntime{}, composeRunner, &stubAllocator{port: 8000})
	writeWorkspaceFile(t, workspaces, "proj-1", "docker-compose.yml", "services:\n  web:\n    image: nginx\n")

	m.Stop(context.Background(), &domain.Project{ID: "proj-1"}, nil)
	if composeRunner.downCalls != 1 {
		t.Fatalf("expected compose down, got %d", composeRunner.downCalls)
	}
}

func TestStopContainerProject(t *testing.T) {
	runtime := &stubRuntime{}
	m, workspaces := newTestManager(t, runtime, &stubComposeRunner{}, &stubAllocator{port: 8000})
	writeWorkspaceFile(t, workspaces, "proj-1", "Dockerfile", "FROM nginx\n")

	m.Stop(context.Background(), &domain.Project{ID: "proj-1", ContainerName: "container_proj-1"}, nil)
	if len(runtime.stopped) != 1 || runtime.stopped[0] != "container_proj-1" {
		t.Fatalf("expected container stop, got %v", runtime.stopped)
	}
}

func TestStopUnknownWorkspaceIsQuiet(t *testing.T) {
	runtime := &stubRuntime{}
	m, _ := newTestManager(t, runtime, &stubComposeRunner{}, &stubAllocator{port: 8000})

	// No workspace on disk and no container name recorded: nothing to do.
	m.Stop(context.Background(), &domain.Project{ID: "ghost"}, nil)
	if len(runtime.stopped) != 0 {
		t.Fatalf("expected no teardown calls, got %v", runtime.stopped)
	}
}
