package api

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/sekai-app/sekai-memobase/pkg/models"
)

// GetContext handles GET /api/v1/users/context/:id. Tuning parameters
// arrive as query strings; topic_limits and chats are JSON-encoded.
func (s *Server) GetContext(c *gin.Context) {
	params := models.ContextParams{
		MaxTokens:       intQuery(c, "max_tokens", 0),
		MaxSubtopicSize: intQuery(c, "max_subtopic_size", 0),
		PreferTopics:    listQuery(c, "prefer_topics"),
		OnlyTopics:      listQuery(c, "only_topics"),
	}
	if raw := c.Query("profile_event_ratio"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			params.ProfileEventRatio = v
		}
	}
	params.RequireEventSummary, _ = strconv.ParseBool(c.Query("require_event_summary"))
	if raw := c.Query("topic_limits"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params.TopicLimits); err != nil {
			respondBadRequest(c, "topic_limits must be a JSON object of topic to int")
			return
		}
	}
	if raw := c.Query("chats"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params.Chats); err != nil {
			respondBadRequest(c, "chats must be a JSON array of chat messages")
			return
		}
	}

	project := currentProject(c)
	ctx := c.Request.Context()

	rules, err := s.projects.RulesFor(ctx, project.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	rendered, err := s.composer.Compose(ctx, project.ID, c.Param("id"), params, rules)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{"context": rendered})
}

// listQuery reads a query parameter given either repeated or as a
// comma-separated list.
func listQuery(c *gin.Context, name string) []string {
	var out []string
	for _, raw := range c.QueryArray(name) {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
