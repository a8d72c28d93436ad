package source

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestResolveRootAtBase(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "Dockerfile"))

	root := ResolveRoot(base)
	if root.Dir != base {
		t.Fatalf("expected root at base, got %s", root.Dir)
	}
	if root.DockerfilePath != filepath.Join(base, "Dockerfile") {
		t.Fatalf("unexpected dockerfile path: %s", root.DockerfilePath)
	}
	if !root.HasBuildFile() {
		t.Fatalf("expected a build file")
	}
}

func TestResolveRootNestedProject(t *testing.T) {
	base := t.TempDir()
	// Typical zip upload: the real project sits one folder down.
	writeFile(t, filepath.Join(base, "my-project", "backend", "Dockerfile"))
	writeFile(t, filepath.Join(base, "my-project", "README.md"))

	root := ResolveRoot(base)
	if root.Dir != filepath.Join(base, "my-project", "backend") {
		t.Fatalf("expected nested root, got %s", root.Dir)
	}
}

func TestResolveRootPrefersShallowest(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "app", "docker-compose.yml"))
	writeFile(t, filepath.Join(base, "app", "deep", "nested", "Dockerfile"))

	root := ResolveRoot(base)
	if root.Dir != filepath.Join(base, "app") {
		t.Fatalf("expected shallowest root to win, got %s", root.Dir)
	}
	if root.ComposePath == "" {
		t.Fatalf("expected compose path to be set")
	}
}

func TestResolveRootSkipsIgnoredDirs(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, ".git", "Dockerfile"))
	writeFile(t, filepath.Join(base, "node_modules", "pkg", "Dockerfile"))
	writeFile(t, filepath.Join(base, "__MACOSX", "Dockerfile"))
	writeFile(t, filepath.Join(base, "src", "Dockerfile"))

	root := ResolveRoot(base)
	if root.Dir != filepath.Join(base, "src") {
		t.Fatalf("expected ignored dirs to be skipped, got %s", root.Dir)
	}
}

func TestResolveRootNothingFound(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "main.go"))

	root := ResolveRoot(base)
	if root.HasBuildFile() {
		t.Fatalf("expected no build file, got %+v", root)
	}
	if root.Dir != base {
		t.Fatalf("expected fallback root at base, got %s", root.Dir)
	}
}

func TestResolveRootDepthBound(t *testing.T) {
	base := t.TempDir()
	deep := base
	for i := 0; i <= maxResolveDepth; i++ {
		deep = filepath.Join(deep, "d")
	}
	writeFile(t, filepath.Join(deep, "Dockerfile"))

	root := ResolveRoot(base)
	if root.HasBuildFile() {
		t.Fatalf("expected build file beyond depth bound to be ignored")
	}
}

func TestResolveRootReportsBothBuildFiles(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "Dockerfile"))
	writeFile(t, filepath.Join(base, "compose.yaml"))

	root := ResolveRoot(base)
	if root.DockerfilePath == "" || root.ComposePath == "" {
		t.Fatalf("expected both build files reported, got %+v", root)
	}
}
