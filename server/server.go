// Package server exposes the command engine over HTTP. Callers identify
// themselves with the X-User-ID header; command bodies carry an action tag
// and the action's parameters, and are decoded into typed commands before
// they reach the dispatcher.
package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/studyroomhq/workspace-kit/dispatch"
	wsErrors "github.com/studyroomhq/workspace-kit/errors"
	"github.com/studyroomhq/workspace-kit/logging"
	"github.com/studyroomhq/workspace-kit/resolve"
	"github.com/studyroomhq/workspace-kit/transport/sse"
	"github.com/studyroomhq/workspace-kit/workspace"
)

const userHeader = "X-User-ID"

// Server routes HTTP requests to a dispatcher and its event store.
type Server struct {
	engine     *gin.Engine
	dispatcher *dispatch.Dispatcher
	store      workspace.EventStore
	stream     *sse.Stream
	logger     *logging.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithStream mounts a live event feed at /v1/workspaces/:workspaceId/stream.
func WithStream(stream *sse.Stream) Option {
	return func(s *Server) { s.stream = stream }
}

// New creates a Server over the given dispatcher and store.
func New(d *dispatch.Dispatcher, store workspace.EventStore, opts ...Option) *Server {
	s := &Server{
		dispatcher: d,
		store:      store,
		logger:     logging.WithComponent(logging.Component("server")),
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

// Handler returns the server's root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)

	v1 := s.engine.Group("/v1")
	{
		workspaces := v1.Group("/workspaces/:workspaceId")
		{
			workspaces.POST("/commands", s.handleCommand)
			workspaces.GET("/items", s.handleItems)
			workspaces.GET("/events", s.handleEvents)
			workspaces.POST("/events", s.handleAppend)
			workspaces.GET("/version", s.handleVersion)
			workspaces.GET("/resolve", s.handleResolve)
			if s.stream != nil {
				workspaces.GET("/stream", s.handleStream)
			}
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleCommand decodes the request into a typed command, executes it, and
// maps the structured result to a status code. Failures surface as the
// result's message, never as a raw error.
func (s *Server) handleCommand(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	userID := c.GetHeader(userHeader)

	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body: " + err.Error()})
		return
	}

	cmd, err := req.command(workspaceID, userID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	result := s.dispatcher.Execute(c.Request.Context(), cmd)
	c.JSON(statusFor(result), result)
}

// handleItems replays the workspace's log and returns the materialized items.
func (s *Server) handleItems(c *gin.Context) {
	workspaceID := c.Param("workspaceId")

	events, err := s.store.LoadEvents(c.Request.Context(), workspaceID)
	if err != nil {
		s.logger.LogError(c.Request.Context(), err, "Loading events failed",
			slog.String("workspace_id", workspaceID))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to load workspace"})
		return
	}

	items := workspace.Replay(events)
	c.JSON(http.StatusOK, gin.H{
		"workspaceId": workspaceID,
		"version":     int64(len(events)),
		"items":       items,
	})
}

func (s *Server) handleEvents(c *gin.Context) {
	workspaceID := c.Param("workspaceId")

	events, err := s.store.LoadEvents(c.Request.Context(), workspaceID)
	if err != nil {
		s.logger.LogError(c.Request.Context(), err, "Loading events failed",
			slog.String("workspace_id", workspaceID))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to load workspace"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"workspaceId": workspaceID,
		"version":     int64(len(events)),
		"events":      events,
	})
}

// handleAppend exposes the store's raw check-and-append for remote stores.
// The reply always carries the result, conflict or not; the version check's
// outcome is data, not an HTTP error.
func (s *Server) handleAppend(c *gin.Context) {
	workspaceID := c.Param("workspaceId")

	var req struct {
		Event           workspace.Event `json:"event"`
		ExpectedVersion int64           `json:"expectedVersion"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid request body: " + err.Error()})
		return
	}

	result, err := s.store.AppendEvent(c.Request.Context(), workspaceID, req.Event, req.ExpectedVersion)
	if err != nil {
		s.logger.LogError(c.Request.Context(), err, "Append failed",
			slog.String("workspace_id", workspaceID))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to append event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (s *Server) handleVersion(c *gin.Context) {
	workspaceID := c.Param("workspaceId")

	version, err := s.store.GetVersion(c.Request.Context(), workspaceID)
	if err != nil {
		s.logger.LogError(c.Request.Context(), err, "Reading version failed",
			slog.String("workspace_id", workspaceID))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to read version"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"workspaceId": workspaceID, "version": version})
}

func (s *Server) handleStream(c *gin.Context) {
	s.stream.ServeWorkspace(c.Writer, c.Request, c.Param("workspaceId"))
}

// handleResolve turns a human-provided item reference into a stable id.
// Commands accept only ids; callers holding a name or an approximate title
// resolve it here first.
func (s *Server) handleResolve(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	reference := c.Query("reference")
	itemType := workspace.ItemType(c.Query("type"))

	if reference == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "reference query parameter is required"})
		return
	}

	events, err := s.store.LoadEvents(c.Request.Context(), workspaceID)
	if err != nil {
		s.logger.LogError(c.Request.Context(), err, "Loading events failed",
			slog.String("workspace_id", workspaceID))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to load workspace"})
		return
	}

	strategy := resolve.Fuzzy{Type: itemType}
	id, err := strategy.Resolve(workspace.Replay(events), reference)
	if err != nil {
		status := http.StatusNotFound
		if errors.Is(err, resolve.ErrAmbiguous) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"success": false, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"workspaceId": workspaceID, "itemId": id})
}

// statusFor maps a dispatch result onto an HTTP status. The result body is
// authoritative either way; the status exists for clients that only look at
// codes.
func statusFor(r dispatch.Result) int {
	if r.Success {
		return http.StatusOK
	}
	if r.Message == wsErrors.ConflictMessage {
		return http.StatusConflict
	}
	return http.StatusUnprocessableEntity
}
