package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fluxgraph/engine/internal/queue"
)

// HealthHandlers serves the queue health and worker fleet surfaces the
// admission pipeline's collaborators expose for operational visibility.
type HealthHandlers struct {
	health     *queue.HealthProbe
	heartbeats *queue.HeartbeatRegistry
}

func NewHealthHandlers(health *queue.HealthProbe, heartbeats *queue.HeartbeatRegistry) *HealthHandlers {
	return &HealthHandlers{health: health, heartbeats: heartbeats}
}

// HandleQueueHealth handles GET /api/health/queue.
func (h *HealthHandlers) HandleQueueHealth(c *gin.Context) {
	snap := h.health.Snapshot()
	status := http.StatusOK
	if snap.Status == queue.HealthFail {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":      snap.Status,
		"message":     snap.Message,
		"latencyMs":   snap.LatencyMS,
		"checkedAt":   snap.CheckedAt,
		"admissible":  h.health.Admissible(),
	})
}

// HandleWorkerHeartbeat handles GET /api/workers/heartbeat.
func (h *HealthHandlers) HandleWorkerHeartbeat(c *gin.Context) {
	summary := h.heartbeats.Summary()
	c.JSON(http.StatusOK, gin.H{
		"healthyWorkers":     summary.HealthyWorkers,
		"hasExecutionWorker": summary.HasExecutionWorker,
		"schedulerHealthy":   summary.SchedulerHealthy,
		"timerHealthy":       summary.TimerHealthy,
		"mostRecentAgeMs":    summary.MostRecentAge.Milliseconds(),
	})
}
