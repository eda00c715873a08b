package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sekai-app/sekai-memobase/pkg/config"
	"github.com/sekai-app/sekai-memobase/pkg/models"
	"github.com/sekai-app/sekai-memobase/pkg/services"
)

// UserStore is the user surface the server exposes.
type UserStore interface {
	Create(ctx context.Context, projectID, id string, data map[string]any) (string, error)
	Get(ctx context.Context, projectID, id string) (*models.User, error)
	Update(ctx context.Context, projectID, id string, data map[string]any) error
	Delete(ctx context.Context, projectID, id string) error
	List(ctx context.Context, projectID string, q services.ListUsersQuery) ([]models.User, int64, error)
}

// ProjectStore is the per-tenant configuration and billing surface.
type ProjectStore interface {
	GetProfileConfig(ctx context.Context, projectID string) (string, error)
	UpdateProfileConfig(ctx context.Context, projectID, doc string) error
	RulesFor(ctx context.Context, projectID string) (*config.ProfileRules, error)
	Billing(ctx context.Context, projectID string) (*services.BillingInfo, error)
	Usage(ctx context.Context, projectID string, lastDays int) ([]services.DailyUsage, error)
}

// BlobStore is the raw blob surface.
type BlobStore interface {
	Insert(ctx context.Context, projectID, userID string, blob *models.Blob) (string, error)
	Get(ctx context.Context, projectID, userID, blobID string) (*models.Blob, error)
	Delete(ctx context.Context, projectID, userID, blobID string) error
	ListIDs(ctx context.Context, projectID, userID string, blobType models.BlobType, page, pageSize int) ([]string, error)
}

// BufferStore is the ingestion buffer surface.
type BufferStore interface {
	Enqueue(ctx context.Context, projectID, userID, blobID string, blobType models.BlobType, tokenSize int) (string, error)
	IDsByStatus(ctx context.Context, projectID, userID string, blobType models.BlobType, status models.BufferStatus) ([]string, error)
}

// ProfileStore is the profile slot surface.
type ProfileStore interface {
	List(ctx context.Context, projectID, userID string, cacheTTL time.Duration) ([]models.ProfileSlot, error)
	AddMany(ctx context.Context, projectID, userID string, adds []models.ProfileAdd) ([]string, error)
	UpdateMany(ctx context.Context, projectID, userID string, updates []models.ProfileUpdate) error
	Delete(ctx context.Context, projectID, userID, slotID string) error
}

// EventStore is the event surface.
type EventStore interface {
	List(ctx context.Context, projectID, userID string, filter services.EventListFilter) ([]models.Event, error)
	Update(ctx context.Context, projectID, userID, eventID string, data models.EventData) error
	Delete(ctx context.Context, projectID, userID, eventID string) error
	SearchByText(ctx context.Context, projectID, userID, query string, topK int, threshold float64) ([]models.Event, error)
}

// StatusStore is the user status log surface.
type StatusStore interface {
	Append(ctx context.Context, projectID, userID, statusType string, attributes map[string]any) (string, error)
	List(ctx context.Context, projectID, userID, statusType string, page, pageSize int) ([]models.UserStatus, error)
}

// Flusher triggers buffer consolidation, synchronously or in the
// background.
type Flusher interface {
	NotifyEnqueue(ctx context.Context, target services.FlushTarget) (bool, error)
	ScheduleBackground(ctx context.Context, target services.FlushTarget) error
	FlushNow(ctx context.Context, target services.FlushTarget) (*models.FlushResult, error)
}

// ContextComposer renders a user's memory context.
type ContextComposer interface {
	Compose(ctx context.Context, projectID, userID string, params models.ContextParams, rules *config.ProfileRules) (string, error)
}

// HealthChecker reports liveness of one substrate dependency.
type HealthChecker func(ctx context.Context) error

// Server wires the HTTP routes to the service layer.
type Server struct {
	auth     Authenticator
	users    UserStore
	projects ProjectStore
	blobs    BlobStore
	buffers  BufferStore
	profiles ProfileStore
	events   EventStore
	statuses StatusStore
	flusher  Flusher
	composer ContextComposer
	counter  services.TokenCounter
	health   []HealthChecker
}

// ServerDeps collects the collaborators of a Server.
type ServerDeps struct {
	Auth     Authenticator
	Users    UserStore
	Projects ProjectStore
	Blobs    BlobStore
	Buffers  BufferStore
	Profiles ProfileStore
	Events   EventStore
	Statuses StatusStore
	Flusher  Flusher
	Composer ContextComposer
	Counter  services.TokenCounter
	Health   []HealthChecker
}

// NewServer creates an API server.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		auth:     deps.Auth,
		users:    deps.Users,
		projects: deps.Projects,
		blobs:    deps.Blobs,
		buffers:  deps.Buffers,
		profiles: deps.Profiles,
		events:   deps.Events,
		statuses: deps.Statuses,
		flusher:  deps.Flusher,
		composer: deps.Composer,
		counter:  deps.Counter,
		health:   deps.Health,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), securityHeaders())

	v1 := r.Group("/api/v1")
	v1.GET("/healthcheck", s.Healthcheck)

	authed := v1.Group("", s.requireProject())

	authed.POST("/users", s.CreateUser)
	authed.GET("/users/:id", s.GetUser)
	authed.PUT("/users/:id", s.UpdateUser)
	authed.DELETE("/users/:id", s.DeleteUser)

	authed.GET("/users/blobs/:id/:type", s.ListUserBlobs)
	authed.POST("/blobs/insert/:id", s.InsertBlob)
	authed.GET("/blobs/:id/:blob_id", s.GetBlob)
	authed.DELETE("/blobs/:id/:blob_id", s.DeleteBlob)

	authed.POST("/users/buffer/:id/:type", s.FlushBuffer)
	authed.GET("/users/buffer/capacity/:id/:type", s.BufferCapacity)

	authed.GET("/users/profile/:id", s.ListProfiles)
	authed.POST("/users/profile/:id", s.AddProfile)
	authed.PUT("/users/profile/:id/:pid", s.UpdateProfile)
	authed.DELETE("/users/profile/:id/:pid", s.DeleteProfile)

	authed.GET("/users/event/:id", s.ListEvents)
	authed.PUT("/users/event/:id/:eid", s.UpdateEvent)
	authed.DELETE("/users/event/:id/:eid", s.DeleteEvent)
	authed.GET("/users/event/search/:id", s.SearchEvents)

	authed.GET("/users/status/:id", s.ListUserStatuses)
	authed.POST("/users/status/:id", s.AppendUserStatus)

	authed.GET("/users/context/:id", s.GetContext)

	authed.GET("/project/profile_config", s.GetProfileConfig)
	authed.POST("/project/profile_config", s.UpdateProfileConfig)
	authed.GET("/project/billing", s.GetBilling)
	authed.GET("/project/usage", s.GetUsage)
	authed.GET("/project/users", s.ListProjectUsers)

	return r
}

// requestLogger logs each request with method, path, status and latency.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// securityHeaders sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
