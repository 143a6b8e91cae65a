package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"coinflip-miniapp-backend/internal/config"
	"coinflip-miniapp-backend/internal/handlers"
	"coinflip-miniapp-backend/internal/ledger"
	"coinflip-miniapp-backend/internal/logging"
	"coinflip-miniapp-backend/internal/services"
)

// devHouseFunds seeds the in-memory ledger's house account.
var devHouseFunds = decimal.NewFromInt(1_000_000)

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.SetupJSON(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisService, err := services.NewRedisService(ctx, cfg)
	if err != nil {
		return err
	}
	defer redisService.Close()

	tokenLedger := newLedger(cfg)
	engineCfg := services.NewEngineConfig(cfg)

	g, gctx := errgroup.WithContext(ctx)

	hub := handlers.NewWebSocketHub()
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	engine := services.NewCoinFlipEngine(redisService, tokenLedger, engineCfg)
	engine.SetBroadcaster(hub)

	scheduler, err := engine.StartReconciler(gctx, cfg.ReconcileInterval)
	if err != nil {
		return err
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handlers.NewRouter(handlers.Dependencies{
		Config:   cfg,
		Redis:    redisService,
		Engine:   engine,
		Accounts: services.NewAccountService(redisService, tokenLedger, engineCfg, cfg.StartingBalance),
		Stats:    services.NewStatsService(redisService),
		JWT:      services.NewJWTService(cfg.JWTSecret, cfg.JWTExpiry),
		Hub:      hub,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	g.Go(func() error {
		slog.Info("Server starting", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		return errors.Join(
			srv.Shutdown(shutdownCtx),
			scheduler.Shutdown(),
		)
	})

	return g.Wait()
}

// newLedger connects to the external ledger, or falls back to an in-memory
// one with a funded house account when LEDGER_URL is unset.
func newLedger(cfg *config.Config) ledger.Ledger {
	if cfg.LedgerURL != "" {
		return ledger.NewHTTPClient(cfg.LedgerURL, cfg.LedgerToken, cfg.TransferTimeout)
	}

	if cfg.IsProduction() {
		slog.Warn("LEDGER_URL not set in production, using in-memory ledger")
	}

	mem := ledger.NewMemory()
	if cfg.HouseWalletID != "" {
		mem.Mint(cfg.HouseWalletID, devHouseFunds)
		slog.Info("in-memory ledger ready", "house", cfg.HouseWalletID, "funds", devHouseFunds.String())
	}
	return mem
}
