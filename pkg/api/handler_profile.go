package api

import (
	"github.com/gin-gonic/gin"

	"github.com/sekai-app/sekai-memobase/pkg/models"
)

// ListProfiles handles GET /api/v1/users/profile/:id.
func (s *Server) ListProfiles(c *gin.Context) {
	project := currentProject(c)
	ctx := c.Request.Context()

	rules, err := s.projects.RulesFor(ctx, project.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	slots, err := s.profiles.List(ctx, project.ID, c.Param("id"), rules.CacheTTL)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{"profiles": slots})
}

// AddProfileRequest is the body of POST /users/profile/:id.
type AddProfileRequest struct {
	Content    string                   `json:"content" binding:"required"`
	Attributes models.ProfileAttributes `json:"attributes" binding:"required"`
}

// AddProfile handles POST /api/v1/users/profile/:id.
func (s *Server) AddProfile(c *gin.Context) {
	var req AddProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	project := currentProject(c)
	ids, err := s.profiles.AddMany(c.Request.Context(), project.ID, c.Param("id"),
		[]models.ProfileAdd{{Content: req.Content, Attributes: req.Attributes}})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, IDResponse{ID: ids[0]})
}

// UpdateProfileRequest is the body of PUT /users/profile/:id/:pid.
// Attributes may be omitted to keep the stored topic and sub_topic.
type UpdateProfileRequest struct {
	Content    string                    `json:"content" binding:"required"`
	Attributes *models.ProfileAttributes `json:"attributes"`
}

// UpdateProfile handles PUT /api/v1/users/profile/:id/:pid.
func (s *Server) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	project := currentProject(c)
	slotID := c.Param("pid")
	err := s.profiles.UpdateMany(c.Request.Context(), project.ID, c.Param("id"),
		[]models.ProfileUpdate{{SlotID: slotID, Content: req.Content, Attributes: req.Attributes}})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, IDResponse{ID: slotID})
}

// DeleteProfile handles DELETE /api/v1/users/profile/:id/:pid.
func (s *Server) DeleteProfile(c *gin.Context) {
	project := currentProject(c)
	slotID := c.Param("pid")
	if err := s.profiles.Delete(c.Request.Context(), project.ID, c.Param("id"), slotID); err != nil {
		respondError(c, err)
		return
	}
	respond(c, IDResponse{ID: slotID})
}
