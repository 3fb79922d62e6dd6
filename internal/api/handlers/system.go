package handlers

import (
	"net/http"

	"github.com/phuslu/log"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/api/response"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/service"
)

// SystemHandler handles system-related HTTP requests
type SystemHandler struct {
	systemService *service.SystemService
	logger        *log.Logger
}

// NewSystemHandler creates a new SystemHandler
func NewSystemHandler(systemService *service.SystemService, logger *log.Logger) *SystemHandler {
	return &SystemHandler{
		systemService: systemService,
		logger:        logger,
	}
}

// healthResponse adds the failure reason to the health status.
type healthResponse struct {
	model.HealthStatus
	Error string `json:"error,omitempty"`
}

// Health checks database connectivity and reports the regeneration backlog.
//
// Endpoint: GET /api/system/health
// Response: 200 OK with the health status
// Error: 503 Service Unavailable if the database cannot be reached
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	status, err := h.systemService.CheckHealth(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("health check failed")
		response.RespondJSON(w, http.StatusServiceUnavailable, healthResponse{HealthStatus: status, Error: err.Error()})
		return
	}

	response.RespondJSON(w, http.StatusOK, healthResponse{HealthStatus: status})
}

// Version handles GET requests to retrieve version information.
// Returns the application version, the applied and latest schema versions and whether a
// migration is pending.
//
// Endpoint: GET /api/system/version
// Response: 200 OK with VersionInfo
// Error: 500 Internal Server Error if version check fails
func (h *SystemHandler) Version(w http.ResponseWriter, r *http.Request) {
	version, err := h.systemService.CheckVersion(r.Context())
	if err != nil {
		response.RespondError(w, http.StatusInternalServerError, "failed to get version information", err.Error())
		return
	}

	response.RespondJSON(w, http.StatusOK, version)
}
