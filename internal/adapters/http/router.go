// Package http wires HTTP routes (REST + WS) with the orchestrator.
// - Static files are served from cfg.StaticPath.
// - REST is under /api/*
// - WebSocket upgrade lives at /ws
package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/kashsuks/lockdown-winners/internal/adapters"
	"github.com/kashsuks/lockdown-winners/internal/app"
	"github.com/kashsuks/lockdown-winners/internal/config"
	"github.com/kashsuks/lockdown-winners/internal/domain"
)

func SetupRouter(ctx context.Context, cfg *config.Config, orch *app.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	// GET /api/generate-qr — mint a session and hand back its QR invite
	api.GET("/generate-qr", GenerateQR(cfg, orch.Registry))

	// GET /api/ice-servers — STUN config the client feeds into RTCPeerConnection
	api.GET("/ice-servers", func(c *gin.Context) {
		servers, err := cfg.ICEServers()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no ice servers configured"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"iceServers": servers})
	})

	// GET /api/sessions — list active sessions
	api.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": orch.Registry.List()})
	})

	// GET /api/sessions/:id — one session's counters
	api.GET("/sessions/:id", func(c *gin.Context) {
		id := domain.SessionID(c.Param("id"))
		count, ok := orch.Registry.MemberCount(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessionId": id, "memberCount": count})
	})

	ctl := adapters.NewWSController(orch, cfg)
	r.GET("/ws", func(c *gin.Context) {
		ctl.HandleWS(ctx, c)
	})

	return r
}
