package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds process-level configuration
type Config struct {
	// Mode
	Debug bool

	// Gating document
	GatingConfigPath string

	// Capital used for position-fraction and daily-loss limits
	Capital         decimal.Decimal
	DefaultNotional decimal.Decimal // Sizing fallback for opportunities without quantity

	// Order lifecycle
	ConfirmationWindow time.Duration
	GhostSweepInterval time.Duration

	// Prediction validation
	ValidationWindow        time.Duration
	ValidationSweepInterval time.Duration
	DirectionDeadbandPct    float64 // e.g. 0.5 = ±0.5%
	OutcomeScalePct         float64 // e.g. 5 = ±5% maps to ±1

	// Persistence
	DatabasePath          string
	PredictionJournalPath string
	SnapshotPath          string

	// Admin HTTP
	HTTPAddr string

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Price feed
	PriceSymbols []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Debug: getEnvBool("DEBUG", false),

		GatingConfigPath: getEnv("GATING_CONFIG_PATH", "config/gating.yaml"),

		Capital:         getEnvDecimal("CAPITAL", decimal.NewFromInt(1000)),
		DefaultNotional: getEnvDecimal("DEFAULT_NOTIONAL", decimal.NewFromInt(25)),

		ConfirmationWindow: getEnvDuration("CONFIRMATION_WINDOW", 90*time.Second),
		GhostSweepInterval: getEnvDuration("GHOST_SWEEP_INTERVAL", 15*time.Second),

		ValidationWindow:        getEnvDuration("VALIDATION_WINDOW", 2*time.Hour),
		ValidationSweepInterval: getEnvDuration("VALIDATION_SWEEP_INTERVAL", time.Minute),
		DirectionDeadbandPct:    getEnvFloat("DIRECTION_DEADBAND_PCT", 0.5),
		OutcomeScalePct:         getEnvFloat("OUTCOME_SCALE_PCT", 5),

		DatabasePath:          lookupEnv("DATABASE_PATH", "data/gatekeeper.db"), // set but empty disables persistence
		PredictionJournalPath: getEnv("PREDICTION_JOURNAL_PATH", "data/predictions.jsonl"),
		SnapshotPath:          getEnv("SNAPSHOT_PATH", "data/validation_snapshot.json"),

		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		PriceSymbols: getEnvList("PRICE_SYMBOLS", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}),
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if cfg.ConfirmationWindow <= 0 {
		return nil, fmt.Errorf("CONFIRMATION_WINDOW must be positive")
	}
	if cfg.ValidationWindow <= 0 {
		return nil, fmt.Errorf("VALIDATION_WINDOW must be positive")
	}
	if cfg.GhostSweepInterval <= 0 || cfg.ValidationSweepInterval <= 0 {
		return nil, fmt.Errorf("GHOST_SWEEP_INTERVAL and VALIDATION_SWEEP_INTERVAL must be positive")
	}
	if cfg.DirectionDeadbandPct < 0 || cfg.OutcomeScalePct <= 0 {
		return nil, fmt.Errorf("DIRECTION_DEADBAND_PCT must be >= 0 and OUTCOME_SCALE_PCT > 0")
	}
	if cfg.Capital.IsNegative() || !cfg.DefaultNotional.IsPositive() {
		return nil, fmt.Errorf("CAPITAL must be >= 0 and DEFAULT_NOTIONAL > 0")
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// lookupEnv is getEnv that honors an explicitly empty value
func lookupEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
