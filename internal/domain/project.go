package domain

import "time"

// Project lifecycle statuses. Running is the only status in which the
// recorded URL and host port are valid.
const (
	StatusQueued      = "queued"
	StatusBuilding    = "building"
	StatusReady       = "ready"
	StatusRunning     = "running"
	StatusStopped     = "stopped"
	StatusBuildFailed = "build_failed"
)

// Source types accepted for project submissions.
const (
	SourceGit     = "git"
	SourceArchive = "archive"
)

// Project describes one submitted source tree and its deployment lifecycle.
// The record itself is owned by the CRUD layer; the orchestrator only reads
// it and applies targeted partial updates.
type Project struct {
	ID              string
	OwnerID         string
	SourceType      string
	SourcePathOrURL string
	Status          string
	BuildLog        string
	DeployLog       string
	ImageTag        string
	ContainerName   string
	InternalPort    int
	HostPort        int
	URL             string
	FrontendService string
	FrontendPort    int
	CreatedAt       time.Time
}

// BuildHistoryEntry records one terminal build outcome. Entries are append
// only, newest last.
type BuildHistoryEntry struct {
	Timestamp time.Time
	Status    string
	Message   string
}

// StartHistoryEntry records one successful start, used for quota-rate
// computation over a trailing window.
type StartHistoryEntry struct {
	Timestamp time.Time
	Role      string
}

// ProjectUpdate carries a partial update for a project record. Nil pointer
// fields are left untouched so independent writers do not clobber each other.
type ProjectUpdate struct {
	Status          *string
	BuildLog        *string
	DeployLog       *string
	AppendBuildLog  string
	AppendDeployLog string
	ImageTag        *string
	ContainerName   *string
	InternalPort    *int
	HostPort        *int
	URL             *string
	FrontendService *string
	FrontendPort    *int
}

// StrPtr is a helper for building partial updates.
func StrPtr(s string) *string { return &s }

// IntPtr is a helper for building partial updates.
func IntPtr(i int) *int { return &i }
