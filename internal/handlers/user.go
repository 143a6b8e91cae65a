package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"coinflip-miniapp-backend/internal/models"
	"coinflip-miniapp-backend/internal/services"
)

type UserHandler struct {
	redisService *services.RedisService
	accounts     *services.AccountService
}

func NewUserHandler(redisService *services.RedisService, accounts *services.AccountService) *UserHandler {
	return &UserHandler{
		redisService: redisService,
		accounts:     accounts,
	}
}

func (h *UserHandler) Register(c *gin.Context) {
	var tg models.TelegramUser
	if err := c.ShouldBindJSON(&tg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}
	if !ownsAccount(c, tg.ID) {
		return
	}

	if _, err := h.accounts.Register(c.Request.Context(), &tg); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully"})
}

func (h *UserHandler) CheckRegistered(c *gin.Context) {
	telegramID, ok := queryTelegramID(c)
	if !ok {
		return
	}

	exists, err := h.accounts.IsRegistered(c.Request.Context(), telegramID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"exists": exists})
}

func (h *UserHandler) GetUser(c *gin.Context) {
	telegramID, ok := queryTelegramID(c)
	if !ok {
		return
	}
	if !ownsAccount(c, telegramID) {
		return
	}

	user, err := h.accounts.GetUser(c.Request.Context(), telegramID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, user)
}

func (h *UserHandler) CreateWallet(c *gin.Context) {
	var req models.WalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Missing telegramId")
		return
	}
	if !ownsAccount(c, req.TelegramID) {
		return
	}

	wallet, err := h.accounts.CreateWallet(c.Request.Context(), req.TelegramID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, wallet.Response())
}

func (h *UserHandler) GetWallet(c *gin.Context) {
	telegramID, ok := queryTelegramID(c)
	if !ok {
		return
	}
	if !ownsAccount(c, telegramID) {
		return
	}

	wallet, err := h.accounts.GetWallet(c.Request.Context(), telegramID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, wallet.Response())
}

func (h *UserHandler) GetCurrentUser(c *gin.Context) {
	userID := c.GetInt64("user_id")
	sessionID := c.GetString("session_id")
	if userID == 0 || sessionID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	ctx := c.Request.Context()
	session, err := h.redisService.GetUserSession(ctx, userID, sessionID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Session expired or invalid"})
		return
	}

	resp := gin.H{
		"user": session.TelegramUser,
		"session": gin.H{
			"session_id":    session.SessionID,
			"created_at":    session.CreatedAt,
			"last_accessed": session.LastAccessed,
		},
	}

	if user, err := h.accounts.GetUser(ctx, userID); err == nil {
		resp["stats"] = gin.H{
			"totalWins":    user.TotalWins,
			"totalLosses":  user.TotalLosses,
			"totalWagered": models.FromRaw(user.TotalWagered).InexactFloat64(),
			"netProfit":    models.FromRaw(user.NetProfit).InexactFloat64(),
		}
	}

	wallet, err := h.redisService.GetWallet(ctx, userID)
	switch {
	case err == nil:
		resp["wallet"] = wallet.Response()
	case !errors.Is(err, services.ErrWalletNotFound):
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *UserHandler) Logout(c *gin.Context) {
	userID := c.GetInt64("user_id")
	sessionID := c.GetString("session_id")
	if userID == 0 || sessionID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	if err := h.redisService.DeleteUserSession(c.Request.Context(), userID, sessionID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to logout"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Successfully logged out"})
}
