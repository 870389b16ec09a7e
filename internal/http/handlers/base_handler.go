// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"lastmile/internal/infra"
	"lastmile/internal/modules/assignment"
	"lastmile/internal/modules/decision"
	"lastmile/internal/modules/parcel"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts the identifier shapes the engine issues and receives:
// uuids and caller-supplied parcel/vehicle ids.
func isValidID(v string) bool {
	if v == "" || len(v) > 128 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			continue
		}
		switch c {
		case '-', '_', '.', ':':
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeEngineError maps the engine's error marks onto status codes.
func writeEngineError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, parcel.ErrValidation):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, decision.ErrNotFound):
		writeError(c, http.StatusNotFound, "decision not found")
	case errors.Is(err, infra.ErrCollaboratorUnavailable):
		writeError(c, http.StatusServiceUnavailable, "decision engine unavailable, retry later")
	case errors.Is(err, assignment.ErrEngineFault):
		writeError(c, http.StatusInternalServerError, "decision engine fault")
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// resultStatus is the HTTP status for a coordinator outcome. Every outcome
// carries a body; pending ones are accepted, not failed.
func resultStatus(s assignment.Status) int {
	switch s {
	case assignment.StatusAssigned, assignment.StatusShadowed:
		return http.StatusOK
	case assignment.StatusQueued, assignment.StatusRetryLater, assignment.StatusManualAttention:
		return http.StatusAccepted
	case assignment.StatusUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
