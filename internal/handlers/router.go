package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"coinflip-miniapp-backend/internal/config"
	"coinflip-miniapp-backend/internal/middleware"
	"coinflip-miniapp-backend/internal/services"
)

type Dependencies struct {
	Config   *config.Config
	Redis    *services.RedisService
	Engine   *services.CoinFlipEngine
	Accounts *services.AccountService
	Stats    *services.StatsService
	JWT      *services.JWTService
	Hub      *WebSocketHub
}

func NewRouter(deps Dependencies) *gin.Engine {
	cfg := deps.Config

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	if len(cfg.CorsOrigins) == 0 || (len(cfg.CorsOrigins) == 1 && cfg.CorsOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.CorsOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		if err := deps.Redis.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authHandler := NewAuthHandler(deps.Redis, deps.Accounts, deps.JWT, cfg.BotToken)
	userHandler := NewUserHandler(deps.Redis, deps.Accounts)
	gameHandler := NewGameHandler(deps.Engine, deps.Stats)
	wsHandler := NewWebSocketHandler(deps.Hub, deps.Redis)

	requireAuth := middleware.AuthMiddleware(deps.JWT)

	router.GET("/auth/telegram", authHandler.Authenticate)

	session := router.Group("/api")
	session.Use(requireAuth)
	{
		session.GET("/me", userHandler.GetCurrentUser)
		session.POST("/logout", userHandler.Logout)
		session.GET("/ws", wsHandler.HandleWebSocket)
	}

	api := router.Group("/api")
	if cfg.AuthRequired {
		api.Use(requireAuth)
	}
	{
		api.POST("/register", userHandler.Register)
		api.GET("/register", userHandler.CheckRegistered)
		api.GET("/user", userHandler.GetUser)

		api.POST("/wallet", userHandler.CreateWallet)
		api.GET("/wallet", userHandler.GetWallet)

		api.GET("/history", gameHandler.History)
		api.GET("/leaderboard", gameHandler.Leaderboard)

		casino := api.Group("/casino")
		{
			casino.POST("/bet",
				middleware.RateLimitMiddleware(deps.Redis, "bet", cfg.BetRateLimit, time.Minute),
				gameHandler.PlaceBet,
			)
			casino.GET("/next-hash", gameHandler.GetNextHash)
			casino.POST("/verify", gameHandler.Verify)
		}
	}

	return router
}
