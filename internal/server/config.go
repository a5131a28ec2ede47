package server

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
	"github.com/openjobspec/ojs-operator-checks/internal/store"
)

// Config holds server configuration from environment variables.
type Config struct {
	Port     string
	GRPCPort string
	NatsURL  string
	LogLevel slog.Level

	// IsLive gates real transfers and marks the production environment.
	IsLive  bool
	DoClean bool

	ChecksFile          string
	CheckDelay          time.Duration
	PendingRefillTTL    time.Duration
	PendingLookback     int
	SpenderAddress      string
	TreasuryURL         string
	TreasuryToken       string
	JSONRPC             string
	TokenAddress        string
	TokenDecimals       int
	NativeDecimals      int
	TurboURL            string
	ArweaveGateway      string
	ARSpenderAddress    string
	RPCTimeout          time.Duration
	WorkerConcurrency   int
	MaintenanceInterval time.Duration
	ShutdownTimeout     time.Duration

	Store store.Config
}

// LoadConfig reads a .env file when present, then the environment.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("reading .env", "error", err)
	}

	cfg := Config{
		Port:                getEnv("PORT", "8080"),
		GRPCPort:            getEnv("GRPC_PORT", "9090"),
		NatsURL:             getEnv("NATS_URL", "nats://localhost:4222"),
		LogLevel:            parseLevel(getEnv("LOG_LEVEL", "info")),
		IsLive:              getEnv("IS_LIVE", "") == "true",
		DoClean:             getEnvBool("DO_CLEAN", false),
		ChecksFile:          getEnv("CHECKS_FILE", "checks.yaml"),
		CheckDelay:          getEnvDuration("CHECK_DELAY", 5*time.Minute),
		PendingRefillTTL:    time.Duration(getEnvInt("PENDING_REFILL_TTL_MS", 7_200_000)) * time.Millisecond,
		PendingLookback:     getEnvInt("PENDING_REFILL_LOOKBACK", 10),
		SpenderAddress:      getEnv("SPENDER_ADDRESS", ""),
		TreasuryURL:         getEnv("TREASURY_URL", ""),
		TreasuryToken:       getEnv("TREASURY_TOKEN", ""),
		JSONRPC:             getEnv("JSON_RPC", ""),
		TokenAddress:        getEnv("TOKEN_CONTRACT_ADDRESS", ""),
		TokenDecimals:       getEnvInt("TOKEN_DECIMALS", 18),
		NativeDecimals:      getEnvInt("NATIVE_DECIMALS", 18),
		TurboURL:            getEnv("TURBO_URL", ""),
		ArweaveGateway:      getEnv("ARWEAVE_GATEWAY", "https://arweave.net"),
		ARSpenderAddress:    getEnv("AR_SPENDER_ADDRESS", ""),
		RPCTimeout:          getEnvDuration("RPC_TIMEOUT", 15*time.Second),
		WorkerConcurrency:   getEnvInt("WORKER_CONCURRENCY", 4),
		MaintenanceInterval: getEnvDuration("MAINTENANCE_INTERVAL", time.Second),
		ShutdownTimeout:     getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		Store: store.Config{
			Driver:          getEnv("RESULT_STORE", store.DriverPostgres),
			PostgresDSN:     getEnv("POSTGRES_DSN", ""),
			MongoURI:        getEnv("MONGO_URI", ""),
			MongoDatabase:   getEnv("MONGO_DATABASE", "operator-checks"),
			MongoCollection: getEnv("MONGO_COLLECTION", ""),
		},
	}

	if cfg.SpenderAddress == "" {
		return cfg, core.NewConfigurationError("SPENDER_ADDRESS is required.", nil)
	}
	if cfg.IsLive && cfg.TreasuryURL == "" {
		return cfg, core.NewConfigurationError("TREASURY_URL is required when IS_LIVE=true.", nil)
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go durations ("5m") or bare milliseconds.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
