package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"coinflip-miniapp-backend/internal/fairness"
	"coinflip-miniapp-backend/internal/models"
	"coinflip-miniapp-backend/internal/services"
)

type GameHandler struct {
	engine *services.CoinFlipEngine
	stats  *services.StatsService
}

func NewGameHandler(engine *services.CoinFlipEngine, stats *services.StatsService) *GameHandler {
	return &GameHandler{
		engine: engine,
		stats:  stats,
	}
}

func (h *GameHandler) PlaceBet(c *gin.Context) {
	var req models.BetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if req.TelegramID != nil && !ownsAccount(c, *req.TelegramID) {
		return
	}

	result, err := h.engine.SettleBet(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *GameHandler) GetNextHash(c *gin.Context) {
	telegramID, ok := queryTelegramID(c)
	if !ok {
		return
	}
	if !ownsAccount(c, telegramID) {
		return
	}

	clientSeed := c.Query("clientSeed")
	if clientSeed == "" || c.Query("nonce") == "" {
		badRequest(c, "Missing required query parameters: telegramId, clientSeed, nonce")
		return
	}
	nonce, ok := queryInt(c, "nonce", 0)
	if !ok {
		return
	}

	hash, err := h.engine.GetNextHash(c.Request.Context(), telegramID, clientSeed, nonce)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"serverSeedHash": hash})
}

// Verify recomputes a settled flip from its revealed seed. It needs no
// stored state.
func (h *GameHandler) Verify(c *gin.Context) {
	var req models.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}
	if *req.Nonce < 0 {
		badRequest(c, "Invalid nonce")
		return
	}

	c.JSON(http.StatusOK, fairness.Verify(req.ServerSeed, req.ServerSeedHash, req.ClientSeed, *req.Nonce))
}

func (h *GameHandler) History(c *gin.Context) {
	telegramID, ok := queryTelegramID(c)
	if !ok {
		return
	}
	if !ownsAccount(c, telegramID) {
		return
	}

	page, ok := queryInt(c, "page", 1)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", services.DefaultHistoryLimit)
	if !ok {
		return
	}

	result, err := h.stats.History(c.Request.Context(), telegramID, page, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *GameHandler) Leaderboard(c *gin.Context) {
	limit, ok := queryInt(c, "limit", services.DefaultLeaderboardLimit)
	if !ok {
		return
	}

	sortBy := services.LeaderboardSort(c.DefaultQuery("sortBy", string(services.SortByNetProfit)))

	entries, err := h.stats.Leaderboard(c.Request.Context(), sortBy, int(limit))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, entries)
}
