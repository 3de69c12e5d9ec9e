// Package health exposes the Kubernetes-style liveness and readiness probes.
package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/boardgamehub/relay/internal/v1/lobby"
)

// Handler manages health check endpoints
type Handler struct {
	lobby *lobby.Lobby
}

// NewHandler creates a new health check handler
func NewHandler(l *lobby.Lobby) *Handler {
	return &Handler{lobby: l}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Rooms     int               `json:"rooms"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint
// GET /health/live
// Returns 200 if the process is alive (no dependency checks)
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint
// GET /health/ready
// Returns 200 only if the relay can accept handshakes, meaning the lobby
// exists and the game catalog was loaded. Returns 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	checks := make(map[string]string)
	allHealthy := true
	rooms := 0

	if h.lobby == nil {
		checks["lobby"] = "unhealthy"
		allHealthy = false
	} else {
		checks["lobby"] = "healthy"
		rooms = h.lobby.RoomCount()

		// An empty catalog means every handshake would be refused with
		// an unknown-game error.
		if len(h.lobby.CatalogSnapshot()) == 0 {
			checks["catalog"] = "unhealthy"
			allHealthy = false
		} else {
			checks["catalog"] = "healthy"
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Rooms:     rooms,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(statusCode, response)
}
