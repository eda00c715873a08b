package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const healthcheckTimeout = 5 * time.Second

// Healthcheck handles GET /api/v1/healthcheck. It probes every
// registered substrate dependency and reports 503 if any is down.
func (s *Server) Healthcheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthcheckTimeout)
	defer cancel()

	for _, check := range s.health {
		if err := check(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, Envelope{
				Errno:  http.StatusServiceUnavailable,
				Errmsg: err.Error(),
			})
			return
		}
	}
	respond(c, gin.H{"status": "healthy"})
}
