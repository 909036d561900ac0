// Package httpapi wires the signaling operations, the event stream
// upgrade and the media transport callbacks into one gin router.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/quckchat/call-service/internal/adapters/ws"
	"github.com/quckchat/call-service/internal/app"
	"github.com/quckchat/call-service/internal/config"
	"github.com/quckchat/call-service/internal/store"
)

func SetupRouter(ctx context.Context, cfg *config.Config, coord *app.Coordinator, hub *ws.Hub, st store.Store) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestID())

	cookieStore := cookie.NewStore([]byte(cfg.CookieSecret))
	r.Use(sessions.Sessions("CallSessions", cookieStore))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := st.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "store unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	h := &Handlers{Coord: coord}

	api := r.Group("/api/v1")
	api.Use(Auth(DefaultAuthConfigFrom(cfg)))
	api.Use(DeviceToken())
	{
		api.POST("/sessions", h.StartSession)
		api.GET("/sessions/:id", h.GetSession)
		api.POST("/sessions/:id/answer", h.Answer)
		api.POST("/sessions/:id/decline", h.Decline)
		api.POST("/sessions/:id/leave", h.Leave)
		api.POST("/sessions/:id/participants", h.AddParticipants)
		api.POST("/sessions/:id/media", h.ToggleMedia)

		evctl := &ws.Controller{Hub: hub, Opts: ws.Options{ReadLimit: cfg.ReadLimit, PingPeriod: cfg.PingPeriod}}
		api.GET("/events", func(c *gin.Context) {
			evctl.HandleEvents(ctx, c)
		})
	}

	internal := r.Group("/internal/v1")
	internal.Use(InternalAuth(cfg.MediaSharedSecret))
	{
		internal.POST("/sessions/:id/peer-connected", h.PeerConnected)
		internal.POST("/sessions/:id/peer-disconnected", h.PeerDisconnected)
	}

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

// DefaultAuthConfigFrom applies config overrides on top of the standard
// auth defaults.
func DefaultAuthConfigFrom(cfg *config.Config) AuthConfig {
	ac := DefaultAuthConfig(cfg.JWTSecret)
	if cfg.JWTIssuer != "" {
		ac.Issuer = cfg.JWTIssuer
	}
	return ac
}
