// Package httpapi is the local control surface the front-end drives:
// user actions in, status snapshots out.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/noirelle/Nozorin-sub001/internal/config"
	"github.com/noirelle/Nozorin-sub001/internal/domain"
	"github.com/noirelle/Nozorin-sub001/internal/session"
)

func SetupRouter(cfg *config.Config, orch *session.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	api := r.Group("/api")

	api.POST("/find", func(c *gin.Context) {
		var prefs domain.Preferences
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&prefs); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "bad preferences"})
				return
			}
		}
		orch.SetPreferences(prefs)
		if err := orch.FindMatch(c.Request.Context(), false); err != nil {
			log.Error().Err(err).Str("module", "httpapi").Msg("find")
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "searching"})
	})

	api.POST("/next", func(c *gin.Context) {
		orch.Next()
		c.JSON(http.StatusAccepted, gin.H{"status": "skipping"})
	})

	api.POST("/stop", func(c *gin.Context) {
		orch.Stop(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"status": "stopped"})
	})

	api.POST("/mute", func(c *gin.Context) {
		muted := orch.ToggleMute()
		c.JSON(http.StatusOK, gin.H{"muted": muted})
	})

	api.POST("/chat", func(c *gin.Context) {
		var body struct {
			Text string `json:"text" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "text required"})
			return
		}
		if err := orch.SendChat(body.Text); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "sent"})
	})

	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, orch.Snapshot())
	})

	log.Info().Str("module", "httpapi").Msg("router setup")
	return r
}
