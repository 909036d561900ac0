package httpapi

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RequestID tags every request so a session's journey can be stitched
// together across services.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set("request_id", rid)
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Next()
	}
}

// DeviceToken assigns each browser a stable device identity through the
// cookie session. Native clients send theirs in X-Device-ID instead.
func DeviceToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if hdr := c.GetHeader("X-Device-ID"); hdr != "" {
			c.Set("device_token", hdr)
			c.Next()
			return
		}
		sess := sessions.Default(c)
		token, _ := sess.Get("dt").(string)
		if token == "" {
			token = uuid.NewString()
			sess.Set("dt", token)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("device token save failed")
			}
		}
		c.Set("device_token", token)
		c.Next()
	}
}
