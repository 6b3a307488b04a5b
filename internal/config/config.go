package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port          int
	NatsURL       string
	NatsToken     string
	DatabaseURL   string
	LogLevel      string
	EncryptionKey string
	AppID         int
	AppHash       string
	SessionsDir   string
	SeedSubject   string
	LogSubject    string
	BusLogging    bool
	RequestCap    int
	QuotaWindow   time.Duration
	Backoff       time.Duration
	PageDelay     time.Duration
}

func Load() Config {
	return Config{
		Port:          envInt("TELESCAN_PORT", 8760),
		NatsURL:       envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:     envStr("NATS_TOKEN", ""),
		DatabaseURL:   envStr("DATABASE_URL", ""),
		LogLevel:      envStr("LOG_LEVEL", "info"),
		EncryptionKey: envStr("ENCRYPTION_KEY", ""),
		AppID:         envInt("TG_APP_ID", 0),
		AppHash:       envStr("TG_APP_HASH", ""),
		SessionsDir:   envStr("TELESCAN_SESSIONS_DIR", "sessions"),
		SeedSubject:   envStr("TELESCAN_SEED_SUBJECT", "telescan.seed.source"),
		LogSubject:    envStr("TELESCAN_LOG_SUBJECT", "telescan.log"),
		BusLogging:    envBool("TELESCAN_BUS_LOGGING", false),
		RequestCap:    envInt("TELESCAN_REQUEST_CAP", 190),
		QuotaWindow:   envDur("TELESCAN_QUOTA_WINDOW", 24*time.Hour),
		Backoff:       envDur("TELESCAN_BACKOFF", time.Hour),
		PageDelay:     envDur("TELESCAN_PAGE_DELAY", 2*time.Second),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
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

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
