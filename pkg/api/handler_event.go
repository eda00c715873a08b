package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sekai-app/sekai-memobase/pkg/models"
	"github.com/sekai-app/sekai-memobase/pkg/services"
)

const (
	defaultEventTopK      = 40
	defaultSearchTopK     = 10
	defaultSearchMinScore = 0.2
)

// ListEvents handles GET /api/v1/users/event/:id.
func (s *Server) ListEvents(c *gin.Context) {
	needSummary, _ := strconv.ParseBool(c.Query("need_summary"))
	project := currentProject(c)

	events, err := s.events.List(c.Request.Context(), project.ID, c.Param("id"), services.EventListFilter{
		TopK:           intQuery(c, "topk", defaultEventTopK),
		RequireSummary: needSummary,
		MaxTokens:      intQuery(c, "max_token_size", 0),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{"events": events})
}

// UpdateEventRequest is the body of PUT /users/event/:id/:eid.
type UpdateEventRequest struct {
	EventData models.EventData `json:"event_data" binding:"required"`
}

// UpdateEvent handles PUT /api/v1/users/event/:id/:eid.
func (s *Server) UpdateEvent(c *gin.Context) {
	var req UpdateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	project := currentProject(c)
	eventID := c.Param("eid")
	if err := s.events.Update(c.Request.Context(), project.ID, c.Param("id"), eventID, req.EventData); err != nil {
		respondError(c, err)
		return
	}
	respond(c, IDResponse{ID: eventID})
}

// DeleteEvent handles DELETE /api/v1/users/event/:id/:eid.
func (s *Server) DeleteEvent(c *gin.Context) {
	project := currentProject(c)
	eventID := c.Param("eid")
	if err := s.events.Delete(c.Request.Context(), project.ID, c.Param("id"), eventID); err != nil {
		respondError(c, err)
		return
	}
	respond(c, IDResponse{ID: eventID})
}

// SearchEvents handles GET /api/v1/users/event/search/:id.
func (s *Server) SearchEvents(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		respondBadRequest(c, "query must not be empty")
		return
	}
	threshold := defaultSearchMinScore
	if raw := c.Query("threshold"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			threshold = v
		}
	}
	project := currentProject(c)

	events, err := s.events.SearchByText(c.Request.Context(), project.ID, c.Param("id"),
		query, intQuery(c, "k", defaultSearchTopK), threshold)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{"events": events})
}
