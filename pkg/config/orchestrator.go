package config

import "time"

// OrchestratorConfig holds runtime configuration for the build orchestrator.
type OrchestratorConfig struct {
	Environment   string
	Addr          string
	DatabaseURL   string
	MigrationsDir string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DockerHost    string
	WorkspaceRoot string
	GitTimeout    time.Duration

	QueueConcurrency    int
	QueueMaxAttempts    int
	QueueRetryBackoff   time.Duration
	QueueStallInterval  time.Duration
	QueueStallTolerance time.Duration

	PortRangeStart int
	PortRangeEnd   int
	InternalPort   int
	FrontendPorts  []int

	LogBuffer int

	Quotas QuotaConfig
}

// QuotaConfig carries per-role ceilings for the quota service.
type QuotaConfig struct {
	StudentUploadsPerDay  int
	StudentQueuedBuilds   int
	StudentRunning        int
	StudentStartsPerHour  int
	StudentArchiveMaxByte int64

	FacultyUploadsPerDay  int
	FacultyQueuedBuilds   int
	FacultyRunning        int
	FacultyStartsPerHour  int
	FacultyArchiveMaxByte int64
}

// LoadOrchestratorConfig constructs an OrchestratorConfig from environment variables.
func LoadOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Environment:   GetString("APP_ENV", "development"),
		Addr:          GetString("ORCHESTRATOR_ADDR", ":4100"),
		DatabaseURL:   GetString("DATABASE_URL", "postgres://halloffame:halloffame@db:5432/halloffame?sslmode=disable"),
		MigrationsDir: GetString("DB_MIGRATIONS_DIR", "./db/migrations"),

		RedisAddr:     GetString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: GetString("REDIS_PASSWORD", ""),
		RedisDB:       GetInt("REDIS_DB", 0),

		DockerHost:    GetString("DOCKER_HOST", "unix:///var/run/docker.sock"),
		WorkspaceRoot: GetString("UPLOADS_DIR", "./uploads"),
		GitTimeout:    time.Duration(GetInt("GIT_TIMEOUT_SECONDS", 120)) * time.Second,

		QueueConcurrency:    GetInt("BUILD_QUEUE_CONCURRENCY", 5),
		QueueMaxAttempts:    GetInt("BUILD_QUEUE_ATTEMPTS", 3),
		QueueRetryBackoff:   time.Duration(GetInt("BUILD_QUEUE_BACKOFF_SECONDS", 5)) * time.Second,
		QueueStallInterval:  time.Duration(GetInt("BUILD_QUEUE_STALL_CHECK_SECONDS", 60)) * time.Second,
		QueueStallTolerance: time.Duration(GetInt("BUILD_QUEUE_STALL_TOLERANCE_MINUTES", 30)) * time.Minute,

		PortRangeStart: GetInt("PORT_RANGE_START", 8000),
		PortRangeEnd:   GetInt("PORT_RANGE_END", 9999),
		InternalPort:   GetInt("DEFAULT_INTERNAL_PORT", 80),
		FrontendPorts:  GetIntSlice("FRONTEND_CANDIDATE_PORTS", []int{80, 3000, 5173, 8080}),

		LogBuffer: GetInt("WS_LOG_BUFFER", 100),

		Quotas: QuotaConfig{
			StudentUploadsPerDay:  GetInt("QUOTA_STUDENT_UPLOADS_PER_DAY", 10),
			StudentQueuedBuilds:   GetInt("QUOTA_STUDENT_QUEUED_BUILDS", 3),
			StudentRunning:        GetInt("QUOTA_STUDENT_RUNNING_PROJECTS", 2),
			StudentStartsPerHour:  GetInt("QUOTA_STUDENT_PROJECT_STARTS_PER_HOUR", 6),
			StudentArchiveMaxByte: GetInt64("QUOTA_STUDENT_ZIP_MAX_BYTES", 200*1024*1024),

			FacultyUploadsPerDay:  GetInt("QUOTA_FACULTY_UPLOADS_PER_DAY", 30),
			FacultyQueuedBuilds:   GetInt("QUOTA_FACULTY_QUEUED_BUILDS", 10),
			FacultyRunning:        GetInt("QUOTA_FACULTY_RUNNING_PROJECTS", 10),
			FacultyStartsPerHour:  GetInt("QUOTA_FACULTY_PROJECT_STARTS_PER_HOUR", 20),
			FacultyArchiveMaxByte: GetInt64("QUOTA_FACULTY_ZIP_MAX_BYTES", 500*1024*1024),
		},
	}
}
