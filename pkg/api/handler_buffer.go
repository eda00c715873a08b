package api

import (
	"github.com/gin-gonic/gin"

	"github.com/sekai-app/sekai-memobase/pkg/models"
	"github.com/sekai-app/sekai-memobase/pkg/services"
)

// FlushBuffer handles POST /api/v1/users/buffer/:id/:type. With
// ?wait_process=true the caller blocks on one consolidation batch and
// gets its result; otherwise the flush is scheduled in the background.
func (s *Server) FlushBuffer(c *gin.Context) {
	blobType, err := models.ParseBlobType(c.Param("type"))
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	project := currentProject(c)
	target := services.FlushTarget{
		ProjectID: project.ID,
		UserID:    c.Param("id"),
		BlobType:  blobType,
	}
	ctx := c.Request.Context()

	if waitProcess(c) {
		result, err := s.flusher.FlushNow(ctx, target)
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, result)
		return
	}
	if err := s.flusher.ScheduleBackground(ctx, target); err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{"scheduled": true})
}

// BufferCapacity handles GET /api/v1/users/buffer/capacity/:id/:type.
func (s *Server) BufferCapacity(c *gin.Context) {
	blobType, err := models.ParseBlobType(c.Param("type"))
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	status, err := models.ParseBufferStatus(c.DefaultQuery("status", string(models.BufferStatusIdle)))
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	project := currentProject(c)
	ids, err := s.buffers.IDsByStatus(c.Request.Context(), project.ID, c.Param("id"), blobType, status)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{"ids": ids, "count": len(ids)})
}
