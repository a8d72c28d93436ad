package domain

// BuildJob is the unit of work submitted to the build queue. It carries no
// identity beyond the queue's own job id.
type BuildJob struct {
	ProjectID       string `json:"project_id"`
	SourceType      string `json:"source_type"`
	SourcePathOrURL string `json:"source_path_or_url"`
}

// ServiceStatus is a read-only view of one container belonging to a project,
// derived by inspecting the container runtime.
type ServiceStatus struct {
	Name    string `json:"name"`
	Image   string `json:"image"`
	Ports   string `json:"ports"`
	Running bool   `json:"running"`
}
