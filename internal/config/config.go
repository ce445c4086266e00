package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port                     string
	AllowedOrigin            string
	DatabaseURL              string
	RedisAddr                string
	RedisPassword            string
	RedisDB                  int
	AuthSecret               string
	AccessTokenTTLMinutes    int
	SeedAdminPassword        string
	RefundWindowDays         int
	ExpiryHorizonDays        int
	LockRetryAttempts        int
	LockTimeoutMS            int
	InventoryCacheTTLSeconds int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                     getEnv("PORT", "8080"),
		AllowedOrigin:            getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  redisDB,
		AuthSecret:               strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:    positiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		SeedAdminPassword:        os.Getenv("SEED_ADMIN_PASSWORD"),
		RefundWindowDays:         positiveInt("REFUND_WINDOW_DAYS", 50),
		ExpiryHorizonDays:        positiveInt("EXPIRY_HORIZON_DAYS", 180),
		LockRetryAttempts:        positiveInt("LOCK_RETRY_ATTEMPTS", 3),
		LockTimeoutMS:            positiveInt("LOCK_TIMEOUT_MS", 3000),
		InventoryCacheTTLSeconds: positiveInt("INVENTORY_CACHE_TTL_SECONDS", 60),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) RefundWindow() time.Duration {
	return time.Duration(c.RefundWindowDays) * 24 * time.Hour
}

func (c Config) ExpiryHorizon() time.Duration {
	return time.Duration(c.ExpiryHorizonDays) * 24 * time.Hour
}

func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}

func (c Config) InventoryCacheTTL() time.Duration {
	return time.Duration(c.InventoryCacheTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// positiveInt falls back when the variable is unset, malformed or below one.
func positiveInt(key string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(getEnv(key, strconv.Itoa(fallback))))
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}
