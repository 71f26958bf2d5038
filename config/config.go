// Package config loads process-wide configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"cohort-trading-bot/internal/hybrid"
)

// Config is the full process configuration.
type Config struct {
	DatabaseURL string

	Binance      BinanceConfig
	Redis        RedisConfig
	Telegram     TelegramConfig
	AI           AIConfig
	Hybrid       hybrid.Config
	Monitoring   MonitoringConfig
	API          APIConfig
	Logging      LoggingConfig

	DataDir       string
	HeartbeatPath string
	Watchlist     []string
}

// BinanceConfig selects the venue endpoint and credentials.
type BinanceConfig struct {
	APIKey       string
	SecretKey    string
	TestNet      bool
	PaperTrading bool
	PaperUSDT    float64
}

// RedisConfig configures the returns cache backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// TelegramConfig configures the alert channel.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// AIConfig configures the classifier provider.
type AIConfig struct {
	DeepSeekAPIKey string
}

// MonitoringConfig configures the periodic task layer.
type MonitoringConfig struct {
	TierCheckEnabled bool
	DailySummaryHour int
}

// APIConfig configures the status server.
type APIConfig struct {
	Addr    string
	Enabled bool
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string
	Pretty bool
}

// Load reads the configuration from environment variables.
func Load() *Config {
	return &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Binance: BinanceConfig{
			APIKey:       os.Getenv("BINANCE_API_KEY"),
			SecretKey:    os.Getenv("BINANCE_SECRET_KEY"),
			TestNet:      envBool("BINANCE_TESTNET", true),
			PaperTrading: envBool("PAPER_TRADING", false),
			PaperUSDT:    envFloat("PAPER_INITIAL_USDT", 6000),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
		},
		Telegram: TelegramConfig{
			BotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
			ChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
		},
		AI: AIConfig{
			DeepSeekAPIKey: os.Getenv("DEEPSEEK_API_KEY"),
		},
		Hybrid: hybrid.FromEnv(),
		Monitoring: MonitoringConfig{
			TierCheckEnabled: envBool("PORTFOLIO_MANAGER", false),
			DailySummaryHour: envInt("DAILY_SUMMARY_HOUR", 20),
		},
		API: APIConfig{
			Addr:    envOr("STATUS_API_ADDR", ":8080"),
			Enabled: envBool("STATUS_API_ENABLED", true),
		},
		Logging: LoggingConfig{
			Level:  envOr("LOG_LEVEL", "info"),
			Pretty: envBool("LOG_PRETTY", false),
		},
		DataDir:       envOr("DATA_DIR", "data"),
		HeartbeatPath: envOr("HEARTBEAT_PATH", "data/heartbeat"),
		Watchlist:     splitList(os.Getenv("WATCHLIST")),
	}
}

// Validate collects every configuration error. Any error is fatal at
// startup (exit code 1).
func (c *Config) Validate() []error {
	var errs []error

	if !c.Binance.PaperTrading && (c.Binance.APIKey == "" || c.Binance.SecretKey == "") {
		errs = append(errs, fmt.Errorf("BINANCE_API_KEY and BINANCE_SECRET_KEY are required unless PAPER_TRADING=true"))
	}
	if c.Binance.PaperTrading && c.Binance.PaperUSDT <= 0 {
		errs = append(errs, fmt.Errorf("PAPER_INITIAL_USDT must be positive, got %v", c.Binance.PaperUSDT))
	}
	if c.Monitoring.DailySummaryHour < 0 || c.Monitoring.DailySummaryHour > 23 {
		errs = append(errs, fmt.Errorf("DAILY_SUMMARY_HOUR must be within [0, 23], got %d", c.Monitoring.DailySummaryHour))
	}
	if c.DataDir == "" {
		errs = append(errs, fmt.Errorf("DATA_DIR must not be empty"))
	}

	errs = append(errs, c.Hybrid.Validate()...)
	return errs
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return strings.EqualFold(v, "true")
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, strings.ToUpper(trimmed))
		}
	}
	return out
}
