// Package handler is the HTTP and WebSocket surface of the chat service.
package handler

import (
	"strconv"
	"time"

	"tastechat/backend/internal/chathub"
	"tastechat/backend/internal/complaint"
	"tastechat/backend/internal/metrics"
	"tastechat/backend/internal/ratelimit"
	"tastechat/backend/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Deps are the services behind the HTTP surface.
type Deps struct {
	Matcher     *chathub.MatcherService
	Rooms       *chathub.Registry
	Messages    *chathub.MessageStore
	Complaints  *complaint.Service
	Hub         *realtime.Hub
	Auth        *Authenticator
	Limiter     *ratelimit.Limiter
	Connections *ratelimit.ConnectionTracker
}

// Handler serves the HTTP routes.
type Handler struct {
	Deps
	logger zerolog.Logger
}

func NewHandler(deps Deps, logger zerolog.Logger) *Handler {
	return &Handler{
		Deps:   deps,
		logger: logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.accessLog())

	r.GET("/anonid", h.GetAnonID)
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/system/status", h.SystemStatus)
	r.GET("/rooms/stats", h.RoomStats)

	authed := r.Group("", h.Auth.Middleware())
	authed.POST("/matching", h.RequestMatching)
	authed.DELETE("/matching", h.CancelMatching)
	authed.POST("/matching/end", h.EndMatch)
	authed.GET("/matching/status", h.MatchingStatus)

	authed.GET("/rooms/current", h.CurrentRoom)
	authed.GET("/rooms/:id/messages", h.History)
	authed.POST("/rooms/:id/messages", h.SendMessage)
	authed.POST("/rooms/:id/leave", h.LeaveRoom)
	authed.POST("/rooms/:id/complaints", h.FileComplaint)

	authed.GET("/ws", h.ServeWebSocket)
	return r
}

// accessLog logs each request and counts it by route and status.
func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()

		event := h.logger.Debug()
		if status >= 500 {
			event = h.logger.Error().Strs("errors", c.Errors.Errors())
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	}
}
