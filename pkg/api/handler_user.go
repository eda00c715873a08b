package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sekai-app/sekai-memobase/pkg/services"
)

// CreateUserRequest is the body of POST /users. ID is optional; the
// server mints a UUID when absent.
type CreateUserRequest struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// CreateUser handles POST /api/v1/users.
func (s *Server) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	project := currentProject(c)
	id, err := s.users.Create(c.Request.Context(), project.ID, req.ID, req.Data)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, IDResponse{ID: id})
}

// GetUser handles GET /api/v1/users/:id.
func (s *Server) GetUser(c *gin.Context) {
	project := currentProject(c)
	user, err := s.users.Get(c.Request.Context(), project.ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, user)
}

// UpdateUserRequest is the body of PUT /users/:id.
type UpdateUserRequest struct {
	Data map[string]any `json:"data"`
}

// UpdateUser handles PUT /api/v1/users/:id.
func (s *Server) UpdateUser(c *gin.Context) {
	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	project := currentProject(c)
	userID := c.Param("id")
	if err := s.users.Update(c.Request.Context(), project.ID, userID, req.Data); err != nil {
		respondError(c, err)
		return
	}
	respond(c, IDResponse{ID: userID})
}

// DeleteUser handles DELETE /api/v1/users/:id.
func (s *Server) DeleteUser(c *gin.Context) {
	project := currentProject(c)
	userID := c.Param("id")
	if err := s.users.Delete(c.Request.Context(), project.ID, userID); err != nil {
		respondError(c, err)
		return
	}
	respond(c, IDResponse{ID: userID})
}

// ListProjectUsers handles GET /api/v1/project/users.
func (s *Server) ListProjectUsers(c *gin.Context) {
	project := currentProject(c)
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	orderDesc, _ := strconv.ParseBool(c.DefaultQuery("order_desc", "true"))

	users, total, err := s.users.List(c.Request.Context(), project.ID, services.ListUsersQuery{
		Search:    c.Query("search"),
		Limit:     limit,
		Offset:    offset,
		OrderBy:   c.Query("order_by"),
		OrderDesc: orderDesc,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{"users": users, "count": total})
}

// intQuery parses an integer query parameter, falling back to def on
// absence or malformed input.
func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
