package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys populated by the auth middleware.
const (
	ContextKeyUserID    = "user_id"
	ContextKeyEmail     = "email"
	ContextKeySessionID = "session_id"
)

// Claims is the token structure issued by auth-service.
type Claims struct {
	Sub       string `json:"sub"`
	Email     string `json:"email"`
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	JWTSecret string
	// Issuer is the expected token issuer; tokens from anyone else are
	// rejected. Default: "quckapp-auth"
	Issuer string
	// SkipPaths lists URL paths that skip authentication.
	SkipPaths []string
}

func DefaultAuthConfig(secret string) AuthConfig {
	return AuthConfig{
		JWTSecret: secret,
		Issuer:    "quckapp-auth",
		SkipPaths: []string{"/health", "/ready"},
	}
}

// Auth validates JWT Bearer tokens and stores the claims in the Gin
// context. The event stream endpoint also accepts the token as a query
// parameter because browser websocket clients cannot set headers.
func Auth(cfg AuthConfig) gin.HandlerFunc {
	skipSet := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skipSet[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skipSet[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		tokenString := ""
		authHeader := c.GetHeader("Authorization")
		switch {
		case authHeader != "":
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
				c.Abort()
				return
			}
			tokenString = parts[1]
		case c.Query("token") != "":
			tokenString = c.Query("token")
		default:
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}
		if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token issuer"})
			c.Abort()
			return
		}
		if claims.Sub == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Token missing user identity"})
			c.Abort()
			return
		}

		c.Set(ContextKeyUserID, claims.Sub)
		c.Set(ContextKeyEmail, claims.Email)
		c.Set(ContextKeySessionID, claims.SessionID)
		c.Next()
	}
}

// InternalAuth guards the media transport callback endpoints with a
// shared secret header instead of user tokens.
func InternalAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" || c.GetHeader("X-Internal-Secret") != secret {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid internal secret"})
			c.Abort()
			return
		}
		c.Next()
	}
}
