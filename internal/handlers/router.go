package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/mossy-p/sessionlink/internal/logging"
	"github.com/mossy-p/sessionlink/internal/middleware"
)

// NewRouter wires every route onto a fresh gin engine.
func NewRouter(h *Handler) *gin.Engine {
	if h.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), logging.RequestLogger())
	router.Use(OriginFilter(h.cfg.AllowedOrigins))

	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.JWTAuth(h.cfg.JWTSecret)

	api := router.Group("/api")
	{
		if !h.cfg.IsProduction() {
			api.POST("/auth/token", h.IssueDevToken)
		}

		api.GET("/ice", auth, h.ICEServers)

		api.POST("/call/room", auth, h.EnsureRoom)
		api.POST("/call/ring", auth, h.Ring)
		api.GET("/rooms/:roomId", auth, h.GetRoom)

		api.POST("/sessions/:id/connect", auth, h.ToggleReady)
		api.GET("/sessions/:id/connect", auth, h.ReadyState)
		api.POST("/sessions/:id/instructions-sent", auth, h.InstructionsSent)

		api.GET("/notifications", auth, h.ListNotifications)
		api.GET("/notifications/unread-count", auth, h.UnreadCount)
		api.POST("/notifications/mark-read", auth, h.MarkRead)
	}

	internal := router.Group("/internal", middleware.InternalKey(h.cfg.InternalAPIKey))
	{
		internal.PUT("/parties/:id", h.PutParty)
		internal.PUT("/relationships", h.PutRelationship)
		internal.PUT("/sessions/:id", h.PutSession)
		internal.POST("/sessions/:id/ready", h.ToggleReadyFor)
		internal.POST("/notify", h.Notify)
	}

	// Browsers cannot set headers on upgrade, so the token may come as ?token=.
	router.GET("/ws/call", auth, h.HandleCall)

	return router
}

// Health reports store reachability and local relay load.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := h.storeContext(c.Request.Context())
	defer cancel()

	conns, rooms := h.hub.Stats()
	body := gin.H{"status": "ok", "connections": conns, "rooms": rooms}
	if err := h.store.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("module", "handlers").Msg("store ping failed")
		body["status"] = "degraded"
		body["store"] = "unreachable"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
