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
)

type Config struct {
	// HTTP Server
	Port               string
	MaxUploadBytes     int64
	RateLimitPerMinute int

	// Logging
	LogLevel  string
	LogFormat string

	// Ledger backend selection
	DataBackend  string
	SQLiteDBPath string

	// Google Sheets ledger
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// AMQP
	AMQPURL           string
	AMQPExchange      string
	AMQPIntakeQueue   string
	AMQPDeliveryQueue string

	// Extraction model
	GeminiAPIKey        string
	GeminiModel         string
	ExtractionCacheSize int
	ExtractionCacheTTL  time.Duration

	// Document archive
	GCSBucket string
	GCSPrefix string

	// Report delivery
	DeliveryMode        string
	SMTPHost            string
	SMTPPort            int
	SMTPUsername        string
	SMTPPassword        string
	SMTPFrom            string
	DeliveryMaxAttempts int
	DeliveryBaseDelay   time.Duration
	DeliveryMaxDelay    time.Duration

	// Scheduler. SchedulerStateDB holds run markers when the ledger is not
	// SQLite; empty keeps them in memory only.
	SchedulerEnabled  bool
	SchedulerInterval time.Duration
	SchedulerStateDB  string
	ShutdownTimeout   time.Duration

	// Ledger store retries
	StoreRetryAttempts  int
	StoreRetryBaseDelay time.Duration

	// Domain settings file (categories, budgets, schedules)
	DomainConfigPath string
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8081"),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		DataBackend:  getEnv("DATA_BACKEND", "memory"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/ledger.db"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Ledger"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),

		AMQPURL:           getEnv("AMQP_URL", ""),
		AMQPExchange:      getEnv("AMQP_EXCHANGE", "finledger"),
		AMQPIntakeQueue:   getEnv("AMQP_INTAKE_QUEUE", "ingest_documents"),
		AMQPDeliveryQueue: getEnv("AMQP_DELIVERY_QUEUE", "report_delivery"),

		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		ExtractionCacheSize: getEnvInt("EXTRACTION_CACHE_SIZE", 256),
		ExtractionCacheTTL:  getEnvDuration("EXTRACTION_CACHE_TTL", 24*time.Hour),

		GCSBucket: getEnv("GCS_BUCKET", ""),
		GCSPrefix: getEnv("GCS_PREFIX", "documents"),

		DeliveryMode:        getEnv("DELIVERY_MODE", "log"),
		SMTPHost:            getEnv("SMTP_HOST", ""),
		SMTPPort:            getEnvInt("SMTP_PORT", 587),
		SMTPUsername:        getEnv("SMTP_USERNAME", ""),
		SMTPPassword:        getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:            getEnv("SMTP_FROM", ""),
		DeliveryMaxAttempts: getEnvInt("DELIVERY_MAX_ATTEMPTS", 5),
		DeliveryBaseDelay:   getEnvDuration("DELIVERY_BASE_DELAY", 2*time.Second),
		DeliveryMaxDelay:    getEnvDuration("DELIVERY_MAX_DELAY", time.Minute),

		SchedulerEnabled:  getEnvBool("SCHEDULER_ENABLED", true),
		SchedulerInterval: getEnvDuration("SCHEDULER_INTERVAL", time.Minute),
		SchedulerStateDB:  getEnv("SCHEDULER_STATE_DB", "./data/scheduler.db"),
		ShutdownTimeout:   getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		StoreRetryAttempts:  getEnvInt("STORE_RETRY_ATTEMPTS", 3),
		StoreRetryBaseDelay: getEnvDuration("STORE_RETRY_BASE_DELAY", 200*time.Millisecond),

		DomainConfigPath: getEnv("DOMAIN_CONFIG", ""),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.MaxUploadBytes < 1024 {
		errors = append(errors, fmt.Sprintf("invalid max upload size %d: must be at least 1024 bytes", c.MaxUploadBytes))
	}

	validBackends := []string{"memory", "sheets", "sqlite"}
	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	if c.DataBackend == "sheets" {
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets backend")
		}
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when using sheets backend")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for sheets backend")
		}
		if c.GoogleServiceAccountFile != "" && c.GoogleServiceAccountJSON == "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
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
		if c.AMQPIntakeQueue == "" || c.AMQPDeliveryQueue == "" {
			errors = append(errors, "AMQP queue names cannot be empty when AMQP URL is provided")
		}
	}

	if c.ExtractionCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid extraction cache size %d: must be at least 1", c.ExtractionCacheSize))
	}

	validModes := []string{"log", "smtp", "amqp"}
	switch {
	case !slices.Contains(validModes, c.DeliveryMode):
		errors = append(errors, fmt.Sprintf("invalid delivery mode '%s': must be one of %v", c.DeliveryMode, validModes))
	case c.DeliveryMode == "smtp":
		if c.SMTPHost == "" || c.SMTPFrom == "" {
			errors = append(errors, "SMTP_HOST and SMTP_FROM are required when DELIVERY_MODE is smtp")
		}
		if c.SMTPPort < 1 || c.SMTPPort > 65535 {
			errors = append(errors, fmt.Sprintf("invalid SMTP port %d", c.SMTPPort))
		}
	case c.DeliveryMode == "amqp":
		if c.AMQPURL == "" {
			errors = append(errors, "AMQP_URL is required when DELIVERY_MODE is amqp")
		}
	}

	if c.DeliveryMaxAttempts < 1 || c.DeliveryMaxAttempts > 20 {
		errors = append(errors, fmt.Sprintf("invalid delivery max attempts %d: must be between 1 and 20", c.DeliveryMaxAttempts))
	}
	if c.DeliveryBaseDelay <= 0 || c.DeliveryMaxDelay < c.DeliveryBaseDelay {
		errors = append(errors, fmt.Sprintf("invalid delivery backoff %v..%v: base must be positive and not above max", c.DeliveryBaseDelay, c.DeliveryMaxDelay))
	}

	if c.SchedulerInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid scheduler interval %v: must be at least 1 second", c.SchedulerInterval))
	} else if c.SchedulerInterval > time.Hour {
		errors = append(errors, fmt.Sprintf("invalid scheduler interval %v: must be at most 1 hour", c.SchedulerInterval))
	}

	if c.StoreRetryAttempts < 1 || c.StoreRetryAttempts > 10 {
		errors = append(errors, fmt.Sprintf("invalid store retry attempts %d: must be between 1 and 10", c.StoreRetryAttempts))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
