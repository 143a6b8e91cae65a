package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"coinflip-miniapp-backend/internal/models"
	"coinflip-miniapp-backend/internal/services"
)

type AuthHandler struct {
	redisService *services.RedisService
	accounts     *services.AccountService
	jwtService   *services.JWTService
	botToken     string
}

func NewAuthHandler(redisService *services.RedisService, accounts *services.AccountService, jwtService *services.JWTService, botToken string) *AuthHandler {
	return &AuthHandler{
		redisService: redisService,
		accounts:     accounts,
		jwtService:   jwtService,
		botToken:     botToken,
	}
}

// Authenticate exchanges signed Telegram initData for a session token.
func (h *AuthHandler) Authenticate(c *gin.Context) {
	initData := c.Query("initData")
	if initData == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "initData is required"})
		return
	}

	now := time.Now()
	tgUser, err := services.ValidateInitData(initData, h.botToken, services.DefaultInitDataMaxAge, now)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "Invalid Telegram data",
			"details": err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	if _, err := h.accounts.Touch(ctx, tgUser); err != nil {
		respondError(c, err)
		return
	}

	session := &models.UserSession{
		ID:           tgUser.ID,
		SessionID:    models.GenerateSessionID(),
		TelegramUser: tgUser,
		CreatedAt:    now,
		LastAccessed: now,
	}
	if err := h.redisService.StoreUserSession(ctx, session, h.jwtService.Expiry()); err != nil {
		respondError(c, err)
		return
	}

	token, err := h.jwtService.GenerateToken(tgUser.ID, session.SessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	slog.Info("user authenticated", "telegram_id", tgUser.ID, "session_id", session.SessionID)

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"user":       tgUser,
		"expires_in": int64(h.jwtService.Expiry().Seconds()),
	})
}
