package server

import (
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"net/http"
	"restream/constant"
	"restream/dto"
	"restream/service"
	"strings"
)

const (
	headerUserId   = "X-User-ID"
	headerUserRole = "X-User-Role"
	callerKey      = "caller"
)

type api struct {
	facade service.Facade
}

// RegisterRoutes mounts the facade under /api and the ingest callbacks
// under /hooks.
func RegisterRoutes(r *gin.Engine, facade service.Facade) {
	h := &api{facade: facade}

	hooks := r.Group("/hooks")
	hooks.POST("/publish", h.publishHook)
	hooks.POST("/unpublish", h.unpublishHook)

	g := r.Group("/api", callerMiddleware())

	g.POST("/streams", h.createStream)
	g.GET("/streams", h.listStreams)
	g.GET("/streams/:id", h.getStream)
	g.PATCH("/streams/:id", h.updateStream)
	g.DELETE("/streams/:id", h.deleteStream)

	g.POST("/streams/:id/sessions", h.startSession)
	g.GET("/sessions/active", h.listActiveSessions)
	g.POST("/sessions/:id/end", h.endSession)
	g.PATCH("/sessions/:id/stats", h.updateSessionStats)

	g.GET("/streams/:id/destinations", h.listDestinations)
	g.POST("/streams/:id/destinations", h.addDestination)
	g.POST("/streams/:id/destinations/:platform", h.addPlatformDestination)
	g.POST("/streams/:id/republish", h.enableRepublishing)
	g.PATCH("/destinations/:id", h.updateDestination)
	g.DELETE("/destinations/:id", h.removeDestination)

	g.GET("/mediaserver/config", h.serverConfig)
	g.POST("/mediaserver/sync", h.resync)
	g.GET("/monitor/status", h.monitorStatus)
	g.POST("/monitor/trigger", h.triggerMonitor)
}

// callerMiddleware reads the identity set by the upstream auth layer.
func callerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := dto.Caller{Role: constant.RoleUser}
		if raw := strings.TrimSpace(c.GetHeader(headerUserId)); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + headerUserId + " header"})
				return
			}
			caller.UserId = id
		}
		if strings.EqualFold(c.GetHeader(headerUserRole), string(constant.RoleAdmin)) {
			caller.Role = constant.RoleAdmin
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func callerFrom(c *gin.Context) dto.Caller {
	if v, ok := c.Get(callerKey); ok {
		if caller, ok := v.(dto.Caller); ok {
			return caller
		}
	}
	return dto.Caller{}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, service.ErrExternal):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := strings.ReplaceAll(err.Error(), "\n", ": ")
	if status == http.StatusInternalServerError {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		msg = "internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func pathId(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func bindJSON(c *gin.Context, v interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	return true
}

func (h *api) createStream(c *gin.Context) {
	var req dto.CreateStreamRequest
	if !bindJSON(c, &req) {
		return
	}
	stream, err := h.facade.CreateStream(c.Request.Context(), callerFrom(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stream)
}

func (h *api) listStreams(c *gin.Context) {
	streams, err := h.facade.ListStreams(c.Request.Context(), callerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"streams": streams})
}

func (h *api) getStream(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	stream, err := h.facade.GetStream(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stream)
}

func (h *api) updateStream(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req dto.UpdateStreamRequest
	if !bindJSON(c, &req) {
		return
	}
	stream, err := h.facade.UpdateStream(c.Request.Context(), callerFrom(c), id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stream)
}

func (h *api) deleteStream(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	if err := h.facade.DeleteStream(c.Request.Context(), callerFrom(c), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *api) startSession(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req dto.StartSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.facade.StartSession(c.Request.Context(), callerFrom(c), id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *api) listActiveSessions(c *gin.Context) {
	sessions, err := h.facade.ListActiveSessions(c.Request.Context(), callerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *api) endSession(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req dto.EndSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.facade.EndSession(c.Request.Context(), callerFrom(c), id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *api) updateSessionStats(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req dto.SessionMetrics
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.facade.UpdateSessionStats(c.Request.Context(), callerFrom(c), id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *api) listDestinations(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	destinations, err := h.facade.ListDestinations(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"destinations": destinations})
}

func (h *api) addDestination(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req dto.CreateDestinationRequest
	if !bindJSON(c, &req) {
		return
	}
	destination, err := h.facade.AddDestination(c.Request.Context(), callerFrom(c), id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, destination)
}

func (h *api) addPlatformDestination(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var target dto.PlatformTarget
	if !bindJSON(c, &target) {
		return
	}
	target.Platform = c.Param("platform")
	destination, err := h.facade.AddPlatformDestination(c.Request.Context(), callerFrom(c), id, target)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, destination)
}

func (h *api) enableRepublishing(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req dto.EnableRepublishingRequest
	if !bindJSON(c, &req) {
		return
	}
	outcomes, err := h.facade.EnableRepublishing(c.Request.Context(), callerFrom(c), id, req)
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	for _, outcome := range outcomes {
		if !outcome.Success {
			status = http.StatusMultiStatus
			break
		}
	}
	c.JSON(status, gin.H{"results": outcomes})
}

func (h *api) updateDestination(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	var req dto.UpdateDestinationRequest
	if !bindJSON(c, &req) {
		return
	}
	destination, err := h.facade.UpdateDestination(c.Request.Context(), callerFrom(c), id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, destination)
}

func (h *api) removeDestination(c *gin.Context) {
	id, ok := pathId(c)
	if !ok {
		return
	}
	if err := h.facade.RemoveDestination(c.Request.Context(), callerFrom(c), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *api) serverConfig(c *gin.Context) {
	doc, err := h.facade.GetServerConfig(c.Request.Context(), callerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *api) resync(c *gin.Context) {
	result, err := h.facade.Resync(c.Request.Context(), callerFrom(c))
	if err != nil {
		if result != nil {
			c.JSON(statusFor(err), result)
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *api) monitorStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.facade.MonitorStatus(c.Request.Context()))
}

func (h *api) triggerMonitor(c *gin.Context) {
	accepted, err := h.facade.TriggerMonitor(c.Request.Context(), callerFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if !accepted {
		c.JSON(http.StatusTooManyRequests, gin.H{"triggered": false})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"triggered": true})
}

// ingestHook is the publish callback body. nginx-rtmp posts a form, SRS
// posts JSON; the stream name may carry the app as a prefix.
type ingestHook struct {
	App  string `form:"app" json:"app"`
	Name string `form:"name" json:"name" binding:"required"`
}

func (r ingestHook) streamKey() string {
	key := r.Name
	if i := strings.LastIndex(key, "/"); i >= 0 {
		key = key[i+1:]
	}
	if i := strings.Index(key, "?"); i >= 0 {
		key = key[:i]
	}
	return key
}

func (h *api) publishHook(c *gin.Context) {
	var req ingestHook
	if err := c.ShouldBind(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}
	session, err := h.facade.IngestStarted(c.Request.Context(), req.streamKey())
	if err != nil {
		// a non-2xx answer makes the media server refuse the publish
		if errors.Is(err, service.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unknown stream key"})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"authorized": true, "session_id": session.ID})
}

func (h *api) unpublishHook(c *gin.Context) {
	var req ingestHook
	if err := c.ShouldBind(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}
	if _, err := h.facade.IngestStopped(c.Request.Context(), req.streamKey()); err != nil && !errors.Is(err, service.ErrNotFound) {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
