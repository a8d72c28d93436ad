package source

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/hshdacs/Hall-of-Fame/internal/domain"
)

// FetchError reports a failure to materialize project source (bad remote,
// corrupt archive). The queue still retries these; the input will not change
// between attempts, so the retries are a deliberate policy carryover rather
// than an expected recovery path.
type FetchError struct {
	SourceType string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("source fetch failed (%s): %v", e.SourceType, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetch materializes project source into dest, which must already exist and
// be empty. Git sources are shallow-cloned; archive sources are extracted.
func Fetch(ctx context.Context, dest, sourceType, pathOrURL string) error {
	switch sourceType {
	case domain.SourceGit:
		if err := clone(ctx, pathOrURL, dest); err != nil {
			return &FetchError{SourceType: sourceType, Err: err}
		}
		return nil
	case domain.SourceArchive:
		if err := extractZip(pathOrURL, dest); err != nil {
			return &FetchError{SourceType: sourceType, Err: err}
		}
		return nil
	default:
		return &FetchError{SourceType: sourceType, Err: fmt.Errorf("invalid source type")}
	}
}

// clone clones the repository into the destination directory.
func clone(ctx context.Context, repoURL, dest string) error {
	if repoURL == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if dest == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", repoURL, ".")
	cmd.Dir = dest
	// Prevent git from prompting for credentials interactively.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone failed: %w: %s", err, string(output))
	}
	return nil
}
