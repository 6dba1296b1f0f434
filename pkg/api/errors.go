package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/apperrors"
)

// writeError maps an apperrors sentinel kind to an HTTP status and writes a
// {"success": false, "error": ...} body, mirroring the teacher's
// mapServiceError but against this module's own error kinds (apperrors)
// rather than the teacher's pkg/services.ValidationError/ErrNotFound/etc.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, apperrors.ErrPermission):
		status = http.StatusForbidden
	case errors.Is(err, apperrors.ErrTransient):
		status = http.StatusServiceUnavailable
	default:
		slog.Error("unexpected api error", "error", err)
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}
