package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"coinflip-miniapp-backend/internal/models"
	"coinflip-miniapp-backend/internal/services"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrInsufficientBalance),
		errors.Is(err, services.ErrUserExists):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrWalletNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrBetAlreadySettled),
		errors.Is(err, services.ErrSettlementPending),
		errors.Is(err, services.ErrWalletBusy),
		errors.Is(err, services.ErrWalletConflict),
		errors.Is(err, services.ErrWalletExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(err error) string {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Message
	case errors.Is(err, services.ErrUserNotFound):
		return "User not found"
	case errors.Is(err, services.ErrWalletNotFound):
		return "Wallet not found"
	case errors.Is(err, services.ErrInsufficientBalance):
		return "Insufficient balance"
	case errors.Is(err, services.ErrUserExists):
		return "User already exists"
	case errors.Is(err, services.ErrWalletExists):
		return "Wallet already exists"
	case errors.Is(err, services.ErrHouseNotConfigured):
		return "Admin wallet not configured"
	case errors.Is(err, services.ErrTransferFailed):
		return "Token transfer failed"
	case errors.Is(err, services.ErrBetAlreadySettled):
		return "Bet already settled"
	case errors.Is(err, services.ErrSettlementPending):
		return "Bet settlement is awaiting ledger confirmation"
	case errors.Is(err, services.ErrWalletBusy), errors.Is(err, services.ErrWalletConflict):
		return "Wallet is busy, retry shortly"
	default:
		return "Internal server error"
	}
}

// respondError writes {"error", "details"} for err.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
	}

	c.JSON(status, gin.H{
		"error":   messageFor(err),
		"details": err.Error(),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// queryTelegramID reads the required telegramId query parameter.
func queryTelegramID(c *gin.Context) (int64, bool) {
	raw := c.Query("telegramId")
	if raw == "" {
		badRequest(c, "Missing telegramId parameter")
		return 0, false
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "Invalid telegramId parameter")
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, def int64) (int64, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		badRequest(c, "Invalid "+key+" parameter")
		return 0, false
	}
	return n, true
}

// ownsAccount rejects requests whose authenticated user differs from the
// telegramId they act on. Without authentication every id is allowed.
func ownsAccount(c *gin.Context, telegramID int64) bool {
	v, exists := c.Get("user_id")
	if !exists {
		return true
	}
	if userID, ok := v.(int64); ok && userID == telegramID {
		return true
	}

	c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	return false
}
