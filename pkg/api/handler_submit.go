package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/apperrors"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/config"
)

// submitHandler handles POST /submit: enqueue a job for a prior preflight
// at a tier, canonicalizing the tier name per SPEC_FULL.md §6 (lite/deep/
// ultra aliases resolve to the five fixed tiers). Grounded on the teacher's
// submitAlertHandler (enqueue, then hand a job id back immediately — the
// actual work happens async through the worker pool).
func (s *Server) submitHandler(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Validation(err.Error()))
		return
	}

	tier, ok := config.CanonicalizeTier(req.Tier)
	if !ok {
		writeError(c, apperrors.Validation("unknown tier: "+req.Tier))
		return
	}

	pf, err := s.preflights.Get(c.Request.Context(), req.PreflightID)
	if err != nil {
		writeError(c, apperrors.NotFound("preflight "+req.PreflightID))
		return
	}

	job, err := s.dispatcher.Submit(c.Request.Context(), pf.ID, string(tier), pf.UserID, 0)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SubmitResponse{Success: true, JobID: job.ID})
}
