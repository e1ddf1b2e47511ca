package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	DBDriver       string // sqlite | postgres
	DBDSN          string
	RedisAddr      string
	KafkaBrokers   []string
	KafkaTopic     string
	ServiceName    string
	LogFile        string
	SeedDemo       bool
	RateLimit      int
	RequestTimeout time.Duration

	// Stock restoration retry after a cancellation.
	RestoreInitialInterval time.Duration
	RestoreMaxElapsed      time.Duration
}

func Load() Config {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := Config{
		Port:                   getenv("PORT", "8080"),
		DBDriver:               strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBDSN:                  getenv("DB_DSN", "storefront.db"), // sqlite file in project root
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		KafkaBrokers:           splitCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:             getenv("KAFKA_TOPIC", "storefront.orders"),
		ServiceName:            getenv("SERVICE_NAME", "storefront"),
		LogFile:                os.Getenv("LOG_FILE"),
		SeedDemo:               boolenv("SEED_DEMO", true),
		RateLimit:              atoienv("RATE_LIMIT_PER_MIN", 60),
		RequestTimeout:         durenvms("REQUEST_TIMEOUT_MS", 5000),
		RestoreInitialInterval: durenvms("RESTORE_INITIAL_INTERVAL_MS", 100),
		RestoreMaxElapsed:      durenvms("RESTORE_MAX_ELAPSED_MS", 10000),
	}
	log.Printf("[config] PORT=%s DB_DRIVER=%s REDIS=%t KAFKA=%t LOG_FILE=%s",
		cfg.Port, cfg.DBDriver, cfg.RedisAddr != "", len(cfg.KafkaBrokers) > 0, cfg.LogFile)
	return cfg
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func atoienv(k string, def int) int {
	n, err := strconv.Atoi(getenv(k, ""))
	if err != nil {
		return def
	}
	return n
}

func boolenv(k string, def bool) bool {
	b, err := strconv.ParseBool(getenv(k, ""))
	if err != nil {
		return def
	}
	return b
}

func durenvms(k string, defMs int) time.Duration {
	return time.Duration(atoienv(k, defMs)) * time.Millisecond
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
