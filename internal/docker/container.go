package docker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/hshdacs/Hall-of-Fame/internal/domain"
)

// RunContainer creates and starts a container publishing hostPort to
// internalPort. The container is named deterministically by the caller so a
// later stop can find it without persisted runtime state.
func (c *Client) RunContainer(ctx context.Context, name, image string, hostPort, internalPort int) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("container name cannot be empty")
	}
	if strings.TrimSpace(image) == "" {
		return "", fmt.Errorf("image name cannot be empty")
	}

	exposed, err := nat.NewPort("tcp", fmt.Sprintf("%d", internalPort))
	if err != nil {
		return "", fmt.Errorf("invalid internal port %d: %w", internalPort, err)
	}

	cfg := &container.Config{
		Image:        image,
		ExposedPorts: nat.PortSet{exposed: struct{}{}},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			exposed: []nat.PortBinding{{HostPort: fmt.Sprintf("%d", hostPort)}},
		},
	}

	created, err := c.inner.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}
	if err := c.inner.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("container start: %w", err)
	}
	return created.ID, nil
}

// StopAndRemoveContainer stops then force-removes the named container. A
// container that no longer exists is not an error.
func (c *Client) StopAndRemoveContainer(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if err := c.inner.ContainerStop(ctx, name, container.StopOptions{}); err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("stop container: %w", err)
	}
	return c.RemoveContainer(ctx, name)
}

// RemoveContainer force-removes a container if it exists.
func (c *Client) RemoveContainer(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if err := c.inner.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// ListProjectServices lists containers whose names contain the project id and
// maps them to the read-only service view.
func (c *Client) ListProjectServices(ctx context.Context, projectID string) ([]domain.ServiceStatus, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("project id cannot be empty")
	}
	containers, err := c.inner.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", projectID)),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	services := make([]domain.ServiceStatus, 0, len(containers))
	for _, ctr := range containers {
		name := ""
		if len(ctr.Names) > 0 {
			name = strings.TrimPrefix(ctr.Names[0], "/")
		}
		services = append(services, domain.ServiceStatus{
			Name:    name,
			Image:   ctr.Image,
			Ports:   formatPorts(ctr.Ports),
			Running: strings.EqualFold(ctr.State, "running"),
		})
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services, nil
}

func formatPorts(ports []types.Port) string {
	if len(ports) == 0 {
		return "no port exposed"
	}
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		if p.PublicPort > 0 {
			parts = append(parts, fmt.Sprintf("%d->%d/%s", p.PublicPort, p.PrivatePort, p.Type))
			continue
		}
		parts = append(parts, fmt.Sprintf("%d/%s", p.PrivatePort, p.Type))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
