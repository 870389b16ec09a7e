// README: Queue handlers for operators: inspect, withdraw, drain.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"lastmile/internal/modules/assignment"
	"lastmile/internal/types"
)

type QueueService interface {
	PeekQueue(ctx context.Context, start, stop int64) ([]assignment.QueueEntry, error)
	QueueLen(ctx context.Context) (int64, error)
	Withdraw(ctx context.Context, parcelID types.ID) (bool, error)
	DrainQueue(ctx context.Context, max int) (assignment.DrainReport, error)
}

type QueueHandler struct {
	svc QueueService
}

func NewQueueHandler(svc QueueService) *QueueHandler {
	return &QueueHandler{svc: svc}
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// List returns queued entries in dequeue order, paged by offset and limit.
func (h *QueueHandler) List(c *gin.Context) {
	offset, err := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)
	if err != nil || offset < 0 {
		writeError(c, http.StatusBadRequest, "invalid offset")
		return
	}
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)), 10, 64)
	if err != nil || limit <= 0 || limit > maxPageSize {
		writeError(c, http.StatusBadRequest, "invalid limit")
		return
	}
	ctx := c.Request.Context()
	total, err := h.svc.QueueLen(ctx)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	entries, err := h.svc.PeekQueue(ctx, offset, offset+limit-1)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	if entries == nil {
		entries = []assignment.QueueEntry{}
	}
	writeJSON(c, http.StatusOK, gin.H{"total": total, "entries": entries})
}

func (h *QueueHandler) Withdraw(c *gin.Context) {
	id := c.Param("parcel_id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid parcel id")
		return
	}
	removed, err := h.svc.Withdraw(c.Request.Context(), types.ID(id))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	if !removed {
		writeError(c, http.StatusNotFound, "parcel is not queued")
		return
	}
	c.Status(http.StatusNoContent)
}

// Drain runs one drain batch now instead of waiting for the schedule.
func (h *QueueHandler) Drain(c *gin.Context) {
	n, err := strconv.Atoi(c.DefaultQuery("max", strconv.Itoa(defaultPageSize)))
	if err != nil || n <= 0 || n > maxPageSize {
		writeError(c, http.StatusBadRequest, "invalid max")
		return
	}
	report, err := h.svc.DrainQueue(c.Request.Context(), n)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, report)
}
