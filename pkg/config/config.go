package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the exchange core.
type Config struct {
	ListenPort string

	// Stream Hub: bounded per-subscriber queue depth.
	StreamQueueDepth int

	// Journal: in-memory ring depth (also the writer queue depth), plus the
	// directory holding the append-only journal.log.
	JournalRingDepth int
	JournalDir       string

	// Price Oracle: feed-gap age at which a symbol's mark is tagged stale.
	StalenessThreshold time.Duration

	// Hedge Engine defaults; per-product overrides live in the catalog seed.
	HedgeDeadbandDefault int64
	HedgeThrottleDefault time.Duration
	HedgeMaxRetries      int

	// Matching
	SelfTradePrevention bool
	LiquidationBuffer   int64 // bps added on top of the maintenance margin rate

	// Product catalog seed file.
	CatalogPath string

	// Reference feed adapter toggle (synthetic walk vs. websocket).
	UseMockFeed bool
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		ListenPort:           getEnv("LISTEN_PORT", "8080"),
		StreamQueueDepth:     getEnvInt("STREAM_QUEUE_DEPTH", 1024),
		JournalRingDepth:     getEnvInt("JOURNAL_RING_DEPTH", 8192),
		JournalDir:           getEnv("JOURNAL_DIR", "./data/journal"),
		StalenessThreshold:   time.Duration(getEnvInt("STALENESS_THRESHOLD_SECONDS", 5)) * time.Second,
		HedgeDeadbandDefault: int64(getEnvInt("HEDGE_DEADBAND", 10)),
		HedgeThrottleDefault: time.Duration(getEnvInt("HEDGE_THROTTLE_SECONDS", 5)) * time.Second,
		HedgeMaxRetries:      getEnvInt("HEDGE_MAX_RETRIES", 5),
		SelfTradePrevention:  getEnv("SELF_TRADE_PREVENTION", "true") == "true",
		LiquidationBuffer:    int64(getEnvInt("LIQUIDATION_BUFFER_BPS", 0)),
		CatalogPath:          getEnv("CATALOG_PATH", "./products.yaml"),
		UseMockFeed:          getEnv("USE_MOCK_FEED", "true") == "true",
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
