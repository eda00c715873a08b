package api

import (
	"github.com/gin-gonic/gin"
)

const defaultUsageDays = 30

// GetProfileConfig handles GET /api/v1/project/profile_config.
func (s *Server) GetProfileConfig(c *gin.Context) {
	project := currentProject(c)
	doc, err := s.projects.GetProfileConfig(c.Request.Context(), project.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{"profile_config": doc})
}

// UpdateProfileConfigRequest is the body of POST /project/profile_config.
// An empty document restores the defaults.
type UpdateProfileConfigRequest struct {
	ProfileConfig string `json:"profile_config"`
}

// UpdateProfileConfig handles POST /api/v1/project/profile_config.
func (s *Server) UpdateProfileConfig(c *gin.Context) {
	var req UpdateProfileConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	project := currentProject(c)
	if err := s.projects.UpdateProfileConfig(c.Request.Context(), project.ID, req.ProfileConfig); err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{"updated": true})
}

// GetBilling handles GET /api/v1/project/billing.
func (s *Server) GetBilling(c *gin.Context) {
	project := currentProject(c)
	billing, err := s.projects.Billing(c.Request.Context(), project.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, billing)
}

// GetUsage handles GET /api/v1/project/usage.
func (s *Server) GetUsage(c *gin.Context) {
	project := currentProject(c)
	usage, err := s.projects.Usage(c.Request.Context(), project.ID, intQuery(c, "last_days", defaultUsageDays))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{"usage": usage})
}
