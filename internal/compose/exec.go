package compose

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// OutputCallback receives one line of combined stdout/stderr as the compose
// tool produces it.
type OutputCallback func(string)

// Build runs `docker compose build` against the given compose file.
func Build(ctx context.Context, composePath, workDir string, onOutput OutputCallback) error {
	return run(ctx, workDir, onOutput, "compose", "-f", composePath, "build")
}

// Up brings the full stack up detached.
func Up(ctx context.Context, composePath, workDir string, onOutput OutputCallback) error {
	return run(ctx, workDir, onOutput, "compose", "-f", composePath, "up", "-d")
}

// Down tears the stack down.
func Down(ctx context.Context, composePath, workDir string, onOutput OutputCallback) error {
	return run(ctx, workDir, onOutput, "compose", "-f", composePath, "down")
}

// run executes a docker CLI invocation, streaming combined output line by
// line. Output must reach observers while the process runs, not at exit.
func run(ctx context.Context, workDir string, onOutput OutputCallback, args ...string) error {
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Dir = workDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("attach stdout: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start docker %s: %w", args[0], err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		streamLines(stdout, onOutput)
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("docker %s: %w", args[0], err)
	}
	return nil
}

func streamLines(r io.Reader, onOutput OutputCallback) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if onOutput != nil {
			onOutput(scanner.Text())
		}
	}
}
