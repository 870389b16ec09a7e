// README: Decision handlers: request an assignment, read a decision, submit an override.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"lastmile/internal/http/middleware"
	"lastmile/internal/modules/assignment"
	"lastmile/internal/modules/decision"
	"lastmile/internal/modules/parcel"
	"lastmile/internal/types"
)

// DecisionService is the coordinator surface the decision endpoints use.
type DecisionService interface {
	RequestDecision(ctx context.Context, req parcel.DecisionRequest) (assignment.Result, error)
	GetDecision(ctx context.Context, id types.ID) (decision.View, error)
	SubmitManualOverride(ctx context.Context, cmd assignment.OverrideCommand) (decision.View, error)
}

type DecisionHandler struct {
	svc DecisionService
}

func NewDecisionHandler(svc DecisionService) *DecisionHandler {
	return &DecisionHandler{svc: svc}
}

func (h *DecisionHandler) Request(c *gin.Context) {
	var req parcel.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := h.svc.RequestDecision(c.Request.Context(), req)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	writeJSON(c, resultStatus(res.Status), res)
}

func (h *DecisionHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid decision id")
		return
	}
	view, err := h.svc.GetDecision(c.Request.Context(), types.ID(id))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, view)
}

// Override records an operator override. The operator is the authenticated
// caller, never a body field.
func (h *DecisionHandler) Override(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid decision id")
		return
	}
	var cmd assignment.OverrideCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cmd.DecisionID = types.ID(id)
	cmd.OperatorID = middleware.CallerUID(c)
	view, err := h.svc.SubmitManualOverride(c.Request.Context(), cmd)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, view)
}
