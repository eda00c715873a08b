package api

import "github.com/gin-gonic/gin"

// AppendStatusRequest is the body of POST /users/status/:id.
type AppendStatusRequest struct {
	Type       string         `json:"type" binding:"required"`
	Attributes map[string]any `json:"attributes"`
}

// AppendUserStatus handles POST /api/v1/users/status/:id.
func (s *Server) AppendUserStatus(c *gin.Context) {
	var req AppendStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	project := currentProject(c)
	id, err := s.statuses.Append(c.Request.Context(), project.ID, c.Param("id"), req.Type, req.Attributes)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, IDResponse{ID: id})
}

// ListUserStatuses handles GET /api/v1/users/status/:id.
func (s *Server) ListUserStatuses(c *gin.Context) {
	statusType := c.Query("type")
	if statusType == "" {
		respondBadRequest(c, "type query parameter is required")
		return
	}
	page := intQuery(c, "page", 0)
	pageSize := intQuery(c, "page_size", 10)

	project := currentProject(c)
	statuses, err := s.statuses.List(c.Request.Context(), project.ID, c.Param("id"), statusType, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{"statuses": statuses})
}
