package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/config"
	"github.com/ekaya-inc/ekaya-nlq/pkg/services"
)

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
	Dialect     string `json:"dialect"`
}

// HealthReporter reports the state of the query core.
type HealthReporter interface {
	Health() services.HealthReport
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg      *config.Config
	reporter HealthReporter
	logger   *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. reporter may be nil, in which
// case /health only reports liveness.
func NewHealthHandler(cfg *config.Config, reporter HealthReporter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, reporter: reporter, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health handles GET /health requests. It answers 503 while no catalog
// snapshot is loaded or the last refresh failed, so a load balancer holds
// traffic until the service can plan queries.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.reporter == nil {
		if err := WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"}); err != nil {
			h.logger.Error("Failed to encode health response", zap.Error(err))
		}
		return
	}

	report := h.reporter.Health()
	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	if err := WriteJSON(w, status, report); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "ekaya-nlq",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
		Dialect:     h.cfg.Datasource.Type,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
