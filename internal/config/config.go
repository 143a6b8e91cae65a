package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"coinflip-miniapp-backend/internal/models"
)

type Config struct {
	Env  string
	Port string

	RedisURL  string
	RedisPass string
	RedisDB   int

	BotToken     string
	JWTSecret    string
	JWTExpiry    time.Duration
	AuthRequired bool
	CorsOrigins  []string

	// HouseWalletID is the ledger identifier of the casino's own funds.
	HouseWalletID      string
	PlatformFeePercent decimal.Decimal
	StartingBalance    decimal.Decimal

	LedgerURL       string
	LedgerToken     string
	TransferTimeout time.Duration

	WalletLockTTL  time.Duration
	WalletLockWait time.Duration

	ReconcileInterval   time.Duration
	ReconcilePendingAge time.Duration

	BetRateLimit    int
	ShutdownTimeout time.Duration
	LogLevel        string
}

// Load reads the configuration from the environment. Call godotenv first to
// pick up a .env file.
func Load() (*Config, error) {
	var errs []error

	cfg := &Config{
		Env:  getEnv("ENV", "development"),
		Port: getEnv("PORT", "8080"),

		RedisURL:  getEnv("REDIS_URL", "localhost:6379"),
		RedisPass: os.Getenv("REDIS_PASSWORD"),
		RedisDB:   getInt("REDIS_DB", 0, &errs),

		BotToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		JWTExpiry:    getDuration("JWT_EXPIRY", 24*time.Hour, &errs),
		AuthRequired: getBool("AUTH_REQUIRED", false, &errs),
		CorsOrigins:  getList("CORS_ORIGINS", []string{"*"}),

		HouseWalletID:      os.Getenv("HOUSE_WALLET_ID"),
		PlatformFeePercent: getDecimal("PLATFORM_FEE_PERCENT", decimal.Zero, &errs),
		StartingBalance:    getDecimal("STARTING_BALANCE", decimal.Zero, &errs),

		LedgerURL:       os.Getenv("LEDGER_URL"),
		LedgerToken:     os.Getenv("LEDGER_TOKEN"),
		TransferTimeout: getDuration("TRANSFER_TIMEOUT", 30*time.Second, &errs),

		WalletLockTTL:  getDuration("WALLET_LOCK_TTL", 45*time.Second, &errs),
		WalletLockWait: getDuration("WALLET_LOCK_WAIT", 2*time.Second, &errs),

		ReconcileInterval:   getDuration("RECONCILE_INTERVAL", time.Minute, &errs),
		ReconcilePendingAge: getDuration("RECONCILE_PENDING_AGE", 10*time.Minute, &errs),

		BetRateLimit:    getInt("BET_RATE_LIMIT", 30, &errs),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 15*time.Second, &errs),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.PlatformFeePercent.IsNegative() || c.PlatformFeePercent.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("PLATFORM_FEE_PERCENT must be between 0 and 100, got %s", c.PlatformFeePercent)
	}
	if c.StartingBalance.IsNegative() {
		return errors.New("STARTING_BALANCE must not be negative")
	}
	if _, err := models.ToRaw(c.StartingBalance); err != nil {
		return fmt.Errorf("STARTING_BALANCE: %w", err)
	}
	// A wallet lock must outlive the transfer it guards.
	if c.WalletLockTTL <= c.TransferTimeout {
		return fmt.Errorf("WALLET_LOCK_TTL (%s) must exceed TRANSFER_TIMEOUT (%s)", c.WalletLockTTL, c.TransferTimeout)
	}
	if c.AuthRequired && (c.BotToken == "" || c.JWTSecret == "") {
		return errors.New("AUTH_REQUIRED needs TELEGRAM_BOT_TOKEN and JWT_SECRET")
	}
	if c.ReconcileInterval <= 0 {
		return errors.New("RECONCILE_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return n
}

func getBool(key string, def bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return b
}

func getDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return d
}

func getDecimal(key string, def decimal.Decimal, errs *[]error) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return d
}

func getList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
