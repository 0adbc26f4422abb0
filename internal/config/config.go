package config

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"rhledger/internal/core"
)

type Config struct {
	// HTTP Server
	Port string

	// Storage
	DataBackend  string
	SQLiteDBPath string

	// AMQP; an empty URL disables change fan-out
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets report export
	GoogleSpreadsheetID   string
	GoogleReportSheetName string

	// Attachments
	AttachmentBackend string
	GCSBucket         string
	MaxUploadBytes    int64

	// Exchange rates
	RateSourceURL       string
	FallbackEGPRate     float64
	RateRefreshInterval time.Duration

	// Settlement
	MarketingSplit float64

	// Worker
	ReportInterval time.Duration

	LogLevel string
}

func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8080"),

		DataBackend:  getEnv("DATA_BACKEND", "memory"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/ledger.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "ledger.changes"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger.reports"),

		GoogleSpreadsheetID:   getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleReportSheetName: getEnv("GOOGLE_REPORT_SHEET_NAME", "Report"),

		AttachmentBackend: getEnv("ATTACHMENT_BACKEND", "memory"),
		GCSBucket:         getEnv("GCS_BUCKET", ""),
		MaxUploadBytes:    int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),

		RateSourceURL:       getEnv("RATE_SOURCE_URL", "https://api.exchangerate-api.com/v4/latest/USD"),
		FallbackEGPRate:     getEnvFloat("FALLBACK_EGP_RATE", core.DefaultEGPRate),
		RateRefreshInterval: getEnvDuration("RATE_REFRESH_INTERVAL", time.Hour),

		MarketingSplit: getEnvFloat("MARKETING_SPLIT", core.DefaultMarketingSplit),

		ReportInterval: getEnvDuration("REPORT_INTERVAL", 15*time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validBackends := []string{"memory", "sqlite"}
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	validAttachmentBackends := []string{"memory", "gcs", "none"}
	if !slices.Contains(validAttachmentBackends, c.AttachmentBackend) {
		errors = append(errors, fmt.Sprintf("invalid attachment backend '%s': must be one of %v", c.AttachmentBackend, validAttachmentBackends))
	}
	if c.AttachmentBackend == "gcs" && c.GCSBucket == "" {
		errors = append(errors, "GCS bucket is required when using gcs attachment backend")
	}
	if c.MaxUploadBytes < 1 {
		errors = append(errors, fmt.Sprintf("invalid max upload size %d: must be positive", c.MaxUploadBytes))
	}

	if c.RateSourceURL != "" {
		if u, err := url.Parse(c.RateSourceURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errors = append(errors, fmt.Sprintf("invalid rate source URL '%s': must be http(s)", c.RateSourceURL))
		}
	}
	if c.FallbackEGPRate <= 0 || math.IsNaN(c.FallbackEGPRate) || math.IsInf(c.FallbackEGPRate, 0) {
		errors = append(errors, fmt.Sprintf("invalid fallback EGP rate %v: must be positive", c.FallbackEGPRate))
	}
	if c.RateRefreshInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid rate refresh interval %v: must be at least 1 minute", c.RateRefreshInterval))
	}

	if err := core.ValidateSplit(c.MarketingSplit); err != nil {
		errors = append(errors, fmt.Sprintf("invalid marketing split %v: must be between 0 and 1", c.MarketingSplit))
	}

	if c.ReportInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid report interval %v: must be at least 1 second", c.ReportInterval))
	} else if c.ReportInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid report interval %v: must be at most 24 hours", c.ReportInterval))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// ValidateWorker adds the checks only the report worker needs.
func (c *Config) ValidateWorker() error {
	var errors []string
	if c.GoogleSpreadsheetID == "" {
		errors = append(errors, "GOOGLE_SPREADSHEET_ID is required for the report worker")
	}
	if c.GoogleReportSheetName == "" {
		errors = append(errors, "GOOGLE_REPORT_SHEET_NAME cannot be empty")
	}
	if c.AMQPURL != "" && c.AMQPQueue == "" {
		errors = append(errors, "AMQP queue name cannot be empty for the report worker")
	}
	if len(errors) > 0 {
		return fmt.Errorf("worker configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
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
