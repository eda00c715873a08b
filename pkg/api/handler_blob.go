package api

import (
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sekai-app/sekai-memobase/pkg/models"
	"github.com/sekai-app/sekai-memobase/pkg/services"
)

// InsertBlobRequest is the body of POST /blobs/insert/:id.
type InsertBlobRequest struct {
	BlobType string               `json:"blob_type" binding:"required"`
	Messages []models.ChatMessage `json:"messages"`
	Content  string               `json:"content"`
	Fields   map[string]any       `json:"fields"`
}

// InsertBlob handles POST /api/v1/blobs/insert/:id. The blob is stored,
// buffered, and optionally consolidated synchronously when
// ?wait_process=true.
func (s *Server) InsertBlob(c *gin.Context) {
	var req InsertBlobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	blobType, err := models.ParseBlobType(req.BlobType)
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	blob := &models.Blob{
		Type:     blobType,
		Messages: req.Messages,
		Content:  req.Content,
		Fields:   req.Fields,
	}

	project := currentProject(c)
	userID := c.Param("id")
	ctx := c.Request.Context()

	blobID, err := s.blobs.Insert(ctx, project.ID, userID, blob)
	if err != nil {
		respondError(c, err)
		return
	}
	entryID, err := s.buffers.Enqueue(ctx, project.ID, userID, blobID, blobType, s.counter.Count(blob.Text()))
	if err != nil {
		respondError(c, err)
		return
	}

	target := services.FlushTarget{ProjectID: project.ID, UserID: userID, BlobType: blobType}
	resp := ChatModalResponse{BlobID: blobID, EntryID: entryID}

	if waitProcess(c) {
		result, err := s.flusher.FlushNow(ctx, target)
		if err != nil {
			respondError(c, err)
			return
		}
		resp.Flush = result
	} else if _, err := s.flusher.NotifyEnqueue(ctx, target); err != nil {
		// Scheduling is best-effort; the sweeper picks the buffer up later.
		slog.Warn("Failed to schedule background flush",
			"error", err, "project_id", project.ID, "user_id", userID)
	}
	respond(c, resp)
}

// GetBlob handles GET /api/v1/blobs/:id/:blob_id.
func (s *Server) GetBlob(c *gin.Context) {
	project := currentProject(c)
	blob, err := s.blobs.Get(c.Request.Context(), project.ID, c.Param("id"), c.Param("blob_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, blob)
}

// DeleteBlob handles DELETE /api/v1/blobs/:id/:blob_id.
func (s *Server) DeleteBlob(c *gin.Context) {
	project := currentProject(c)
	blobID := c.Param("blob_id")
	if err := s.blobs.Delete(c.Request.Context(), project.ID, c.Param("id"), blobID); err != nil {
		respondError(c, err)
		return
	}
	respond(c, IDResponse{ID: blobID})
}

// ListUserBlobs handles GET /api/v1/users/blobs/:id/:type.
func (s *Server) ListUserBlobs(c *gin.Context) {
	blobType, err := models.ParseBlobType(c.Param("type"))
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	project := currentProject(c)
	page := intQuery(c, "page", 0)
	pageSize := intQuery(c, "page_size", 100)

	ids, err := s.blobs.ListIDs(c.Request.Context(), project.ID, c.Param("id"), blobType, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{"ids": ids})
}

func waitProcess(c *gin.Context) bool {
	wait, _ := strconv.ParseBool(c.Query("wait_process"))
	return wait
}
