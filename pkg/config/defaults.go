// Package config provides centralized default values for LeadBridge
package config

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var envLoaded sync.Once

func loadEnvFile() {
	envLoaded.Do(func() {
		file, err := os.Open(".env")
		if err != nil {
			return
		}
		defer file.Close()

		log.Println("Loading configuration overrides from .env file...")
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())

			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}

			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}

			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])

			if os.Getenv(key) == "" {
				os.Setenv(key, value)
			}
		}
	})
}

func getEnvInt(key string, defaultValue int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%d (default: %d)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvString(key string, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		if val != defaultValue {
			log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
		}
		return val
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseFloat(valStr, 64); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%g (default: %g)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := time.ParseDuration(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

var (
	// Server Configuration
	Port               string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration

	// Database
	SQLitePath         string
	TursoDatabaseURL   string
	TursoAuthToken     string
	DBMaxOpenConns     int
	DBMaxIdleConns     int
	DBConnMaxLifetime  time.Duration
	SlowQueryThreshold time.Duration

	// Matching Engine
	MatchWindow            time.Duration
	FallbackBaseConfidence float64
	FallbackMaxConfidence  float64

	// Retention
	SessionRetention time.Duration
	ArchivalInterval time.Duration

	// Analytics
	AnalyticsRecomputeInterval time.Duration

	// Dashboard auth
	JWTSecret             string
	DashboardPasswordHash string
	TokenLifetime         time.Duration

	// CDP sink
	CDPEndpoint    string
	CDPWriteKey    string
	CDPMaxRetries  int
	CDPSendTimeout time.Duration

	// Sales alerts
	ResendAPIKey    string
	AlertFromEmail  string
	SalesAlertEmail string
	AlertValueFloor float64

	// Match stream
	MaxStreamClients int
)

func init() {
	loadEnvFile()

	Port = getEnvString("PORT", "8080")
	ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second)
	ServerIdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)

	SQLitePath = getEnvString("SQLITE_PATH", "db/leadbridge.db")
	TursoDatabaseURL = getEnvString("TURSO_DATABASE_URL", "")
	TursoAuthToken = getEnvString("TURSO_AUTH_TOKEN", "")
	DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 3)
	DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	SlowQueryThreshold = getEnvDuration("SLOW_QUERY_THRESHOLD", 250*time.Millisecond)

	MatchWindow = time.Duration(getEnvInt("MATCH_WINDOW_HOURS", 72)) * time.Hour
	FallbackBaseConfidence = getEnvFloat("FALLBACK_BASE_CONFIDENCE", 0.60)
	FallbackMaxConfidence = getEnvFloat("FALLBACK_MAX_CONFIDENCE", 0.95)

	SessionRetention = time.Duration(getEnvInt("SESSION_RETENTION_DAYS", 90)) * 24 * time.Hour
	ArchivalInterval = getEnvDuration("ARCHIVAL_INTERVAL", 6*time.Hour)

	AnalyticsRecomputeInterval = getEnvDuration("ANALYTICS_RECOMPUTE_INTERVAL", 15*time.Minute)

	JWTSecret = getEnvString("JWT_SECRET", "")
	DashboardPasswordHash = getEnvString("DASHBOARD_PASSWORD_HASH", "")
	TokenLifetime = getEnvDuration("TOKEN_LIFETIME", 12*time.Hour)

	CDPEndpoint = getEnvString("CDP_ENDPOINT", "https://api.segment.io/v1/track")
	CDPWriteKey = getEnvString("CDP_WRITE_KEY", "")
	CDPMaxRetries = getEnvInt("CDP_MAX_RETRIES", 3)
	CDPSendTimeout = getEnvDuration("CDP_SEND_TIMEOUT", 10*time.Second)

	ResendAPIKey = getEnvString("RESEND_API_KEY", "")
	AlertFromEmail = getEnvString("ALERT_FROM_EMAIL", "alerts@leadbridge.local")
	SalesAlertEmail = getEnvString("SALES_ALERT_EMAIL", "")
	AlertValueFloor = getEnvFloat("ALERT_VALUE_FLOOR", 30000)

	MaxStreamClients = getEnvInt("MAX_STREAM_CLIENTS", 100)
}
