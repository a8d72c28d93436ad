package compose

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the subset of a compose file the orchestrator cares about: service
// names and their declared port mappings, in declaration order.
type File struct {
	Services []Service
}

// Service holds the declared port mappings of one compose service.
type Service struct {
	Name  string
	Ports []PortMapping
}

// UnmarshalYAML keeps services in declaration order; the frontend heuristic
// depends on "first match wins" being deterministic.
func (f *File) UnmarshalYAML(value *yaml.Node) error {
	var doc struct {
		Services yaml.Node `yaml:"services"`
	}
	if err := value.Decode(&doc); err != nil {
		return err
	}
	if doc.Services.Kind == 0 {
		return nil
	}
	if doc.Services.Kind != yaml.MappingNode {
		return fmt.Errorf("services must be a mapping")
	}
	for i := 0; i+1 < len(doc.Services.Content); i += 2 {
		key := doc.Services.Content[i]
		val := doc.Services.Content[i+1]
		var body struct {
			Ports []PortMapping `yaml:"ports"`
		}
		if err := val.Decode(&body); err != nil {
			return fmt.Errorf("decode service %q: %w", key.Value, err)
		}
		f.Services = append(f.Services, Service{Name: key.Value, Ports: body.Ports})
	}
	return nil
}

// PortMapping is one host→container published port pair.
type PortMapping struct {
	Host      int
	Container int
}

// UnmarshalYAML accepts the short string form ("8080:80", "3000"), bare
// integers, and the long map form ({target: 80, published: 8080}).
func (p *PortMapping) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		return p.parseShort(value.Value)
	case yaml.MappingNode:
		var long struct {
			Target    int    `yaml:"target"`
			Published string `yaml:"published"`
		}
		if err := value.Decode(&long); err != nil {
			return fmt.Errorf("decode port mapping: %w", err)
		}
		p.Container = long.Target
		if long.Published != "" {
			published, err := strconv.Atoi(long.Published)
			if err != nil {
				return fmt.Errorf("invalid published port %q: %w", long.Published, err)
			}
			p.Host = published
		}
		return nil
	default:
		return fmt.Errorf("unsupported port mapping node")
	}
}

func (p *PortMapping) parseShort(raw string) error {
	raw = strings.TrimSpace(raw)
	// Strip an optional host IP prefix ("127.0.0.1:8080:80").
	parts := strings.Split(raw, ":")
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}
	switch len(parts) {
	case 1:
		port, err := strconv.Atoi(parts[0])
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", raw, err)
		}
		p.Host = port
		p.Container = port
	case 2:
		host, err := strconv.Atoi(parts[0])
		if err != nil {
			return fmt.Errorf("invalid host port %q: %w", raw, err)
		}
		container, err := strconv.Atoi(strings.SplitN(parts[1], "/", 2)[0])
		if err != nil {
			return fmt.Errorf("invalid container port %q: %w", raw, err)
		}
		p.Host = host
		p.Container = container
	}
	return nil
}

// Parse reads and decodes a compose file.
func Parse(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compose file: %w", err)
	}
	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse compose file: %w", err)
	}
	return &file, nil
}

// Frontend identifies the service assumed to carry user-facing traffic.
type Frontend struct {
	Service  string
	HostPort int
}

// FindFrontend scans declared port mappings, in service declaration order,
// for the first container-side port appearing in candidates and returns the
// service name and host-side port. This is a heuristic: a service publishing
// a well-known web port (80, 3000, 5173, 8080 by default) is assumed to be
// the frontend. Returns false when no mapping matches.
func (f *File) FindFrontend(candidates []int) (Frontend, bool) {
	if f == nil {
		return Frontend{}, false
	}
	candidateSet := make(map[int]struct{}, len(candidates))
	for _, port := range candidates {
		candidateSet[port] = struct{}{}
	}
	for _, service := range f.Services {
		for _, mapping := range service.Ports {
			if _, ok := candidateSet[mapping.Container]; ok && mapping.Host > 0 {
				return Frontend{Service: service.Name, HostPort: mapping.Host}, true
			}
		}
	}
	return Frontend{}, false
}
