package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hshdacs/Hall-of-Fame/internal/deploy"
	"github.com/hshdacs/Hall-of-Fame/internal/domain"
	"github.com/hshdacs/Hall-of-Fame/internal/quota"
	"github.com/hshdacs/Hall-of-Fame/internal/repository"
	"github.com/hshdacs/Hall-of-Fame/internal/ws"
)

// Controller is the lifecycle surface the router drives.
type Controller interface {
	SubmitBuild(ctx context.Context, projectID, role string, archiveBytes int64) (string, error)
	Run(ctx context.Context, projectID, role string) (string, error)
	Stop(ctx context.Context, projectID string) error
	Services(ctx context.Context, projectID string) ([]domain.ServiceStatus, error)
	Usage(ctx context.Context, ownerID, role string) (quota.Usage, error)
}

// QueueStats reports queue depths for the metrics poller.
type QueueStats interface {
	Stats(ctx context.Context) (waiting, active, delayed int64, err error)
}

// Router exposes HTTP endpoints for the orchestrator service.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	control  Controller
	hub      *ws.Hub
	stats    QueueStats
	upgrader websocket.Upgrader

	dbHealth     func(context.Context) error
	dockerHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	buildSubmissions   *prometheus.CounterVec
	queueDepth         *prometheus.GaugeVec
	stopPoll           chan struct{}
}

const healthCheckTimeout = 2 * time.Second

// New assembles routes with dependencies.
func New(logger *slog.Logger, control Controller, hub *ws.Hub, stats QueueStats, dbHealth, dockerHealth func(context.Context) error) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		control: control,
		hub:     hub,
		stats:   stats,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		dbHealth:     dbHealth,
		dockerHealth: dockerHealth,
		stopPoll:     make(chan struct{}),
	}
	r.initMetrics()
	r.register()
	if r.stats != nil {
		go r.pollQueueDepth()
	}
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	close(r.stopPoll)
}

func (r *Router) register() {
	r.mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	r.mux.HandleFunc("/healthz", r.instrument("/healthz", r.handleHealthz))
	r.mux.HandleFunc("/projects/", r.instrument("/projects/:id", r.handleProjectSubroutes))
	r.mux.HandleFunc("/quota/usage", r.instrument("/quota/usage", r.handleQuotaUsage))
	r.mux.HandleFunc("/ws/logs", r.handleLogsWS)
}

func (r *Router) handleQuotaUsage(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	ownerID := req.URL.Query().Get("owner_id")
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id query parameter required")
		return
	}
	role := req.URL.Query().Get("role")
	if role == "" {
		role = quota.RoleStudent
	}
	usage, err := r.control.Usage(req.Context(), ownerID, role)
	if err != nil {
		r.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	components := map[string]any{}
	checks := map[string]func(context.Context) error{
		"postgres": r.dbHealth,
		"docker":   r.dockerHealth,
	}
	for name, check := range checks {
		if check == nil {
			continue
		}
		if err := check(ctx); err != nil {
			status = "degraded"
			components[name] = map[string]any{"status": "down", "error": err.Error()}
			continue
		}
		components[name] = map[string]any{"status": "up"}
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/projects/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 || parts[0] == "" {
		r.notFound(w)
		return
	}
	projectID := parts[0]
	if len(parts) == 3 && parts[1] == "logs" && parts[2] == "live" {
		r.serveLogsWS(w, req, projectID)
		return
	}
	if len(parts) != 2 {
		r.notFound(w)
		return
	}
	switch parts[1] {
	case "builds":
		r.handleSubmitBuild(w, req, projectID)
	case "run":
		r.handleRun(w, req, projectID)
	case "stop":
		r.handleStop(w, req, projectID)
	case "services":
		r.handleServices(w, req, projectID)
	default:
		r.notFound(w)
	}
}

type actorPayload struct {
	Role         string `json:"role"`
	ArchiveBytes int64  `json:"archive_bytes"`
}

func decodeActor(req *http.Request) actorPayload {
	payload := actorPayload{Role: quota.RoleStudent}
	if req.Body == nil {
		return payload
	}
	var decoded actorPayload
	if err := json.NewDecoder(req.Body).Decode(&decoded); err == nil {
		if decoded.Role != "" {
			payload.Role = decoded.Role
		}
		payload.ArchiveBytes = decoded.ArchiveBytes
	}
	return payload
}

func (r *Router) handleSubmitBuild(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	payload := decodeActor(req)
	jobID, err := r.control.SubmitBuild(req.Context(), projectID, payload.Role, payload.ArchiveBytes)
	if err != nil {
		r.recordSubmission("rejected")
		r.writeDomainError(w, err)
		return
	}
	r.recordSubmission("queued")
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": domain.StatusQueued,
	})
}

func (r *Router) handleRun(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	payload := decodeActor(req)
	url, err := r.control.Run(req.Context(), projectID, payload.Role)
	if err != nil {
		r.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": domain.StatusRunning,
		"url":    url,
	})
}

func (r *Router) handleStop(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if err := r.control.Stop(req.Context(), projectID); err != nil {
		r.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": domain.StatusStopped})
}

func (r *Router) handleServices(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	services, err := r.control.Services(req.Context(), projectID)
	if err != nil {
		r.writeDomainError(w, err)
		return
	}
	if services == nil {
		services = []domain.ServiceStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

func (r *Router) handleLogsWS(w http.ResponseWriter, req *http.Request) {
	projectID := req.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id query parameter required")
		return
	}
	r.serveLogsWS(w, req, projectID)
}

func (r *Router) serveLogsWS(w http.ResponseWriter, req *http.Request, projectID string) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	if err := client.Send(ws.Frame{ProjectID: projectID, Type: ws.FrameConnected, Message: "subscribed"}.Encode()); err != nil {
		return
	}
	r.hub.Register(projectID, client)
	go func() {
		defer func() {
			r.hub.Unregister(projectID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// writeDomainError maps service-layer failures onto HTTP statuses.
func (r *Router) writeDomainError(w http.ResponseWriter, err error) {
	var quotaErr *quota.ExceededError
	switch {
	case errors.As(err, &quotaErr):
		writeError(w, quotaErr.StatusCode(), quotaErr.Message)
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "project not found")
	case errors.Is(err, deploy.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		r.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
