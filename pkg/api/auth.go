package api

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sekai-app/sekai-memobase/pkg/models"
	"github.com/sekai-app/sekai-memobase/pkg/services"
)

const projectContextKey = "memobase.project"

// Authenticator resolves a bearer token to a project.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Project, error)
}

// requireProject authenticates the bearer token and stores the resolved
// project in the request context.
func (s *Server) requireProject() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			respondError(c, services.ErrUnauthorized)
			c.Abort()
			return
		}
		project, err := s.auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			respondError(c, err)
			c.Abort()
			return
		}
		c.Set(projectContextKey, project)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

// currentProject returns the project set by requireProject.
func currentProject(c *gin.Context) *models.Project {
	v, _ := c.Get(projectContextKey)
	project, _ := v.(*models.Project)
	return project
}
