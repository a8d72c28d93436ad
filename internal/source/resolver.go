package source

import (
	"os"
	"path/filepath"
)

// composeFileNames lists compose filenames recognized during resolution, in
// the order they are checked within a directory.
var composeFileNames = []string{
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
}

var dockerfileNames = []string{"Dockerfile", "dockerfile"}

// skipDirs are never descended into: version-control metadata, dependency
// caches and archive-tool artifacts.
var skipDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
	"__MACOSX":     {},
}

// maxResolveDepth bounds the breadth-first search below the workspace root.
const maxResolveDepth = 6

// Root describes where a project's build files actually live. Uploaded trees
// often nest the real project one folder down, so the workspace root is not
// assumed to be the build root.
type Root struct {
	Dir            string
	DockerfilePath string
	ComposePath    string
}

// HasBuildFile reports whether the resolution found anything to build.
func (r Root) HasBuildFile() bool {
	return r.DockerfilePath != "" || r.ComposePath != ""
}

// ResolveRoot walks the tree under base breadth-first and returns the first
// directory containing a Dockerfile or compose file. Shallowest directory
// wins; ties at the same depth fall to filesystem enumeration order, which
// is unspecified. If nothing is found within the depth bound, the returned
// Root points at base with both paths empty.
func ResolveRoot(base string) Root {
	type frame struct {
		dir   string
		depth int
	}
	queue := []frame{{dir: base}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		dockerfile := findFirst(current.dir, dockerfileNames)
		compose := findFirst(current.dir, composeFileNames)
		if dockerfile != "" || compose != "" {
			return Root{Dir: current.dir, DockerfilePath: dockerfile, ComposePath: compose}
		}

		if current.depth >= maxResolveDepth {
			continue
		}
		entries, err := os.ReadDir(current.dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			if _, skip := skipDirs[entry.Name()]; skip {
				continue
			}
			queue = append(queue, frame{dir: filepath.Join(current.dir, entry.Name()), depth: current.depth + 1})
		}
	}

	return Root{Dir: base}
}

func findFirst(dir string, names []string) string {
	for _, name := range names {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}
