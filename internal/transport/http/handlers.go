// Package http serves the read-mostly admin API: conversation topology and the
// media worker ledger.
package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/voicemesh/internal/app/orch"
	"github.com/dkeye/voicemesh/internal/app/scalable"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type AdminHandlers struct {
	Orch *orch.Orchestrator
}

// Register mounts the admin routes on r. Health is mounted separately at the root.
func (h *AdminHandlers) Register(r gin.IRouter) {
	r.GET("/conversations/:cid/topology", h.handleTopology)
	r.GET("/workers", h.handleWorkers)
	r.POST("/workers/:id/delete", h.handleDeleteWorker)
}

func (h *AdminHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *AdminHandlers) handleTopology(c *gin.Context) {
	cid := domain.ConversationID(c.Param("cid"))
	topo, err := h.Orch.Topology(c.Request.Context(), cid)
	if err != nil {
		log.Error().Err(err).Str("module", "transport.http").Str("cid", string(cid)).Msg("topology")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "topology unavailable"})
		return
	}
	c.JSON(http.StatusOK, topo)
}

func (h *AdminHandlers) handleWorkers(c *gin.Context) {
	report, err := h.Orch.WorkerReport(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Str("module", "transport.http").Msg("worker report")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "worker report unavailable"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *AdminHandlers) handleDeleteWorker(c *gin.Context) {
	id := domain.WorkerID(c.Param("id"))
	err := h.Orch.DeleteWorker(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
	case errors.Is(err, scalable.ErrWorkerNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown worker"})
	default:
		log.Error().Err(err).Str("module", "transport.http").Str("worker", string(id)).Msg("delete worker")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "delete failed"})
	}
}
