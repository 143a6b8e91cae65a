package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"coinflip-miniapp-backend/internal/services"
)

// AuthMiddleware accepts a bearer token, or a token query parameter for
// websocket upgrades, and puts the caller's Telegram id and session id on the
// context.
func AuthMiddleware(jwtService *services.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, problem := requestToken(c)
		if problem != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": problem})
			return
		}

		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("session_id", claims.SessionID)
		c.Next()
	}
}

func requestToken(c *gin.Context) (string, string) {
	header := c.GetHeader("Authorization")
	if header == "" {
		// Browsers cannot set headers on websocket upgrades.
		if token := c.Query("token"); token != "" {
			return token, ""
		}
		return "", "Authorization header required"
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || token == "" {
		return "", "Invalid authorization format"
	}
	return token, ""
}

// RateLimitMiddleware allows limit requests per window for one action. The
// caller is identified by its authenticated user id, or its IP otherwise.
func RateLimitMiddleware(redisService *services.RedisService, action string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}

		identity := "ip:" + c.ClientIP()
		if userID := c.GetInt64("user_id"); userID != 0 {
			identity = strconv.FormatInt(userID, 10)
		}

		allowed, err := redisService.CheckRateLimit(c.Request.Context(), identity, action, limit, window)
		if err != nil {
			slog.Error("rate limit check failed", "action", action, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Rate limit check failed"})
			c.Abort()
			return
		}
		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": window.Seconds(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
