package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/database"
)

// healthzHandler handles GET /healthz. Grounded on the teacher's
// healthHandler (pkg/api/handler_health.go): database reachability plus
// worker-pool health, no external-dependency checks (an unhealthy LLM
// provider or GitHub outage must not take the orchestrator itself down).
func (s *Server) healthzHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db)
	status := "healthy"
	httpStatus := http.StatusOK
	if err != nil {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	poolHealth := s.dispatcher.Health()
	if poolHealth != nil && !poolHealth.IsHealthy && status == "healthy" {
		status = "degraded"
	}

	c.JSON(httpStatus, HealthResponse{
		Status:   status,
		Database: dbHealth,
		Pool:     poolHealth,
	})
}
