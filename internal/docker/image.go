package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/archive"
)

// BuildOutputCallback is invoked with incremental build messages as the
// daemon produces them.
type BuildOutputCallback func(string)

// BuildImage builds an image from contextDir using the Dockerfile at
// dockerfilePath (which must live inside contextDir) and tags it. Output is
// streamed to onOutput line by line; a reported build error fails the call.
func (c *Client) BuildImage(ctx context.Context, contextDir, dockerfilePath, tag string, onOutput BuildOutputCallback) error {
	if c == nil || c.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	if contextDir == "" {
		return fmt.Errorf("build directory cannot be empty")
	}
	if tag == "" {
		return fmt.Errorf("image tag cannot be empty")
	}

	dockerfile := "Dockerfile"
	if dockerfilePath != "" {
		rel, err := filepath.Rel(contextDir, dockerfilePath)
		if err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("dockerfile %s is outside build context %s", dockerfilePath, contextDir)
		}
		dockerfile = filepath.ToSlash(rel)
	}

	buildCtx, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("create build context: %w", err)
	}
	defer buildCtx.Close()

	opts := types.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  dockerfile,
		Remove:      true,
		ForceRemove: true,
	}
	resp, err := c.inner.ImageBuild(ctx, buildCtx, opts)
	if err != nil {
		return fmt.Errorf("docker image build: %w", err)
	}
	defer resp.Body.Close()

	decoder := json.NewDecoder(resp.Body)
	for {
		var msg imageBuildMessage
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("decode build output: %w", err)
		}
		if errMsg := msg.errorMessage(); errMsg != "" {
			return fmt.Errorf("docker image build: %s", errMsg)
		}
		if line := msg.render(); line != "" && onOutput != nil {
			onOutput(line)
		}
	}
	return nil
}

type imageBuildMessage struct {
	Stream         string                `json:"stream"`
	Status         string                `json:"status"`
	ID             string                `json:"id"`
	Progress       string                `json:"progress"`
	ProgressDetail progressDetail        `json:"progressDetail"`
	Error          string                `json:"error"`
	ErrorDetail    imageBuildErrorDetail `json:"errorDetail"`
	Aux            map[string]any        `json:"aux"`
}

type progressDetail struct {
	Current int64 `json:"current"`
	Total   int64 `json:"total"`
}

type imageBuildErrorDetail struct {
	Message string `json:"message"`
}

func (m imageBuildMessage) errorMessage() string {
	if strings.TrimSpace(m.Error) != "" {
		return strings.TrimSpace(m.Error)
	}
	return strings.TrimSpace(m.ErrorDetail.Message)
}

func (m imageBuildMessage) render() string {
	if m.Stream != "" {
		return m.Stream
	}
	if m.Status != "" {
		parts := make([]string, 0, 3)
		if strings.TrimSpace(m.ID) != "" {
			parts = append(parts, strings.TrimSpace(m.ID))
		}
		parts = append(parts, strings.TrimSpace(m.Status))
		progress := strings.TrimSpace(m.Progress)
		if progress == "" && (m.ProgressDetail.Current > 0 || m.ProgressDetail.Total > 0) {
			if m.ProgressDetail.Total > 0 {
				progress = fmt.Sprintf("%d/%d", m.ProgressDetail.Current, m.ProgressDetail.Total)
			} else {
				progress = fmt.Sprintf("%d", m.ProgressDetail.Current)
			}
		}
		if progress != "" {
			parts = append(parts, progress)
		}
		return strings.TrimSpace(strings.Join(parts, " "))
	}
	if len(m.Aux) > 0 {
		if id, ok := m.Aux["ID"]; ok {
			return fmt.Sprintf("image id: %v", id)
		}
	}
	return ""
}
