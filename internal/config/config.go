package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	ReportCacheTTLSeconds int
	AuthSecret            string
	AccessTokenTTLMinutes int
	Timezone              string
	Location              *time.Location
	LowStockThreshold     int
	CartIdleMinutes       int
	HistoryLimit          int
	BrandChartLimit       int
	AppEnv                string
}

// Load reads the process environment. A .env file in the working directory
// is applied first when present; variables already set win.
func Load() Config {
	_ = godotenv.Load()

	timezone := getEnv("TIMEZONE", "UTC")
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		timezone = "UTC"
		loc = time.UTC
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getInt("REDIS_DB", 0, 0),
		ReportCacheTTLSeconds: getInt("REPORT_CACHE_TTL_SECONDS", 30, 1),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1),
		Timezone:              timezone,
		Location:              loc,
		LowStockThreshold:     getInt("LOW_STOCK_THRESHOLD", 10, 1),
		CartIdleMinutes:       getInt("CART_IDLE_MINUTES", 30, 1),
		HistoryLimit:          getInt("REPORT_HISTORY_LIMIT", 100, 0),
		BrandChartLimit:       getInt("REPORT_BRAND_LIMIT", 10, 0),
		AppEnv:                strings.ToLower(getEnv("APP_ENV", "production")),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) ReportCacheTTL() time.Duration {
	return time.Duration(c.ReportCacheTTLSeconds) * time.Second
}

func (c Config) CartIdleTimeout() time.Duration {
	return time.Duration(c.CartIdleMinutes) * time.Minute
}

func (c Config) Development() bool {
	return c.AppEnv == "development" || c.AppEnv == "dev"
}

// Logger builds the process logger: human readable in development, JSON
// otherwise.
func (c Config) Logger() (*zap.Logger, error) {
	if c.Development() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getInt falls back when the value is missing, malformed or below min.
func getInt(key string, fallback int, min int) int {
	val, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || val < min {
		return fallback
	}
	return val
}
