package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"smartpocket/internal/core"
	"smartpocket/internal/log"
)

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"

	AIBackendCompletions = "completions"
	AIBackendGemini      = "gemini"

	LedgerMemory = "memory"
	LedgerSheets = "sheets"
)

type Config struct {
	// HTTP Server
	Port              string
	LogLevel          string
	RequestsPerMinute int
	TrustedProxies    []string

	// Profile storage
	DataBackend      string
	SQLiteDBPath     string
	ProfileDir       string
	ProfileCacheSize int
	ProfileCacheTTL  time.Duration

	Currency string

	// Advice backend
	AIBackend     string
	AIAPIURL      string
	AIAPIKey      string
	AIModel       string
	AIMaxTokens   int
	AITemperature float64
	AITopP        *float64
	AITimeout     time.Duration
	GeminiAPIKey  string

	// AMQP; an empty URL disables expense events
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Ledger
	LedgerBackend       string
	GoogleSpreadsheetID string
	GoogleSheetName     string
}

func Load() *Config {
	cfg := &Config{
		Port:              getEnv("PORT", "8081"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		RequestsPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		TrustedProxies:    getEnvList("TRUSTED_PROXIES"),

		DataBackend:      getEnv("DATA_BACKEND", BackendMemory),
		SQLiteDBPath:     getEnv("SQLITE_DB_PATH", "./data/smartpocket.db"),
		ProfileDir:       getEnv("PROFILE_DIR", "./data/profiles"),
		ProfileCacheSize: getEnvInt("PROFILE_CACHE_SIZE", 256),
		ProfileCacheTTL:  getEnvDuration("PROFILE_CACHE_TTL", 30*time.Minute),

		Currency: strings.ToUpper(getEnv("CURRENCY", core.DefaultCurrency)),

		AIBackend:     getEnv("AI_BACKEND", AIBackendCompletions),
		AIAPIURL:      getEnv("AI_API_URL", ""),
		AIAPIKey:      getEnv("AI_API_KEY", os.Getenv("HF_TOKEN")),
		AIModel:       getEnv("AI_MODEL", ""),
		AIMaxTokens:   getEnvInt("AI_MAX_TOKENS", 300),
		AITemperature: getEnvFloat("AI_TEMPERATURE", 0.7),
		AITopP:        getEnvOptionalFloat("AI_TOP_P"),
		AITimeout:     getEnvDuration("AI_TIMEOUT", 30*time.Second),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "smartpocket"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_expenses"),

		LedgerBackend:       getEnv("LEDGER_BACKEND", LedgerMemory),
		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:     getEnv("GOOGLE_SHEET_NAME", "SmartPocket"),
	}

	return cfg
}

// Validate validates the configuration and returns an error listing every problem
func (c *Config) Validate() error {
	return joinProblems(c.problems())
}

// ValidateWorker applies Validate plus the settings the ledger worker cannot run without.
func (c *Config) ValidateWorker() error {
	errors := c.problems()
	if c.AMQPURL == "" {
		errors = append(errors, "AMQP_URL is required for the ledger worker")
	}
	if c.LedgerBackend == LedgerSheets && c.GoogleSpreadsheetID == "" {
		errors = append(errors, "GOOGLE_SPREADSHEET_ID is required when using the sheets ledger")
	}
	return joinProblems(errors)
}

func (c *Config) problems() []string {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, fmt.Sprintf("invalid LOG_LEVEL '%s': must be debug, info, warn or error", c.LogLevel))
	}
	if c.RequestsPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RequestsPerMinute))
	}

	// Validate data backend
	validBackends := []string{BackendMemory, BackendFile, BackendSQLite}
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if msg := ensureDir(filepath.Dir(c.SQLiteDBPath)); msg != "" {
			errors = append(errors, msg)
		}
	case BackendFile:
		if c.ProfileDir == "" {
			errors = append(errors, "PROFILE_DIR cannot be empty when using file backend")
		} else if msg := ensureDir(c.ProfileDir); msg != "" {
			errors = append(errors, msg)
		}
	}

	if c.ProfileCacheSize < 0 {
		errors = append(errors, fmt.Sprintf("invalid profile cache size %d: must not be negative", c.ProfileCacheSize))
	}
	if c.ProfileCacheSize > 0 && c.ProfileCacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid profile cache TTL %v: must be at least 1 second", c.ProfileCacheTTL))
	}

	if !core.IsKnownCurrency(c.Currency) {
		errors = append(errors, fmt.Sprintf("unknown currency code '%s'", c.Currency))
	}

	// Validate advice backend
	switch c.AIBackend {
	case AIBackendCompletions:
		if c.AIAPIKey == "" {
			errors = append(errors, "AI_API_KEY (or HF_TOKEN) is required for the completions backend")
		}
		if c.AIAPIURL != "" {
			if u, err := url.Parse(c.AIAPIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
				errors = append(errors, fmt.Sprintf("invalid AI_API_URL '%s': must be an http(s) URL", c.AIAPIURL))
			}
		}
	case AIBackendGemini:
		if c.GeminiAPIKey == "" {
			errors = append(errors, "GEMINI_API_KEY is required for the gemini backend")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid AI backend '%s': must be one of %v", c.AIBackend, []string{AIBackendCompletions, AIBackendGemini}))
	}
	if c.AIMaxTokens < 1 {
		errors = append(errors, fmt.Sprintf("invalid AI_MAX_TOKENS %d: must be at least 1", c.AIMaxTokens))
	}
	if c.AITemperature < 0 || c.AITemperature > 2 {
		errors = append(errors, fmt.Sprintf("invalid AI_TEMPERATURE %v: must be between 0 and 2", c.AITemperature))
	}
	if c.AITopP != nil && (*c.AITopP <= 0 || *c.AITopP > 1) {
		errors = append(errors, fmt.Sprintf("invalid AI_TOP_P %v: must be in (0, 1]", *c.AITopP))
	}
	if c.AITimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid AI_TIMEOUT %v: must be at least 1 second", c.AITimeout))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.LedgerBackend != LedgerMemory && c.LedgerBackend != LedgerSheets {
		errors = append(errors, fmt.Sprintf("invalid ledger backend '%s': must be one of %v", c.LedgerBackend, []string{LedgerMemory, LedgerSheets}))
	}

	return errors
}

func joinProblems(errors []string) error {
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// ensureDir creates dir when missing and returns a problem description on failure.
func ensureDir(dir string) string {
	if dir == "." || dir == "" {
		return ""
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Sprintf("cannot create directory '%s': %v", dir, err)
		}
	}
	return ""
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
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

// getEnvOptionalFloat returns nil when key is unset or not a number.
func getEnvOptionalFloat(key string) *float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return &f
		}
	}
	return nil
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
