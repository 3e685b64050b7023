package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// ErrMissingCredentials is returned when a required external credential is not configured
var ErrMissingCredentials = errors.New("missing required credentials")

type Config struct {
	AppName                       string `env:"APP_NAME" env-default:"fern"`
	Port                          int    `env:"PORT" env-default:"3000" validate:"min=1,max=65535"`
	LogLevel                      string `env:"LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
	PrettyLogs                    bool   `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int    `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int    `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int    `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int    `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int    `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	StartupMaxAttempts            int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"5" validate:"min=1"`

	// Database driver
	DatabaseDriver string `env:"DB_DRIVER" env-default:"postgres"`
	// Database host
	DatabaseHost string `env:"DB_HOST" env-default:"" validate:"required"`
	// Database port
	DatabasePort string `env:"DB_PORT" env-default:"5432"`
	// Database user
	DatabaseUserName string `env:"DB_USER_NAME" env-default:""`
	// Database user password
	DatabasePassword string `env:"DB_PASSWORD" env-default:""`
	// Database name
	DatabaseName string `env:"DB_NAME" env-default:"fern"`
	// Database SSL Mode
	DatabaseSSLMode string `env:"DB_SSL_MODE" env-default:"disable"`
	// Max Open Conns
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"10"`
	// Max Idle Conns
	DatabaseMaxIdleConns int `env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"5m"`
	// Migration Folder Path
	DatabaseMigrationFolderPath string `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Tariff API base URL (the date is passed as a query parameter)
	TariffAPIURL string `env:"TARIFF_API_URL" env-default:"https://common-api.wildberries.ru/api/v1/tariffs/box" validate:"required,url"`
	// Tariff API bearer token
	TariffAPIToken string `env:"TARIFF_API_TOKEN" env-default:""`
	// Per-attempt request timeout
	TariffAPITimeout time.Duration `env:"TARIFF_API_TIMEOUT" env-default:"30s"`
	// Maximum fetch attempts
	TariffAPIMaxAttempts int `env:"TARIFF_API_MAX_ATTEMPTS" env-default:"3" validate:"min=1"`
	// Base delay for linear backoff between attempts
	TariffAPIRetryDelay time.Duration `env:"TARIFF_API_RETRY_DELAY" env-default:"2s"`
	// JMESPath expression locating the entries array in the response body
	TariffAPIEntriesPath string `env:"TARIFF_API_ENTRIES_PATH" env-default:"response.data.warehouseList" validate:"required"`

	// Sheets API base URL
	SheetsAPIURL string `env:"SHEETS_API_URL" env-default:"https://sheets.googleapis.com/v4/spreadsheets" validate:"required,url"`
	// Path to a Google service account JSON key
	GoogleCredentialsFile string `env:"GOOGLE_CREDENTIALS_FILE" env-default:""`
	// Inline Google service account JSON key (takes precedence over the file)
	GoogleCredentialsJSON string `env:"GOOGLE_CREDENTIALS_JSON" env-default:""`
	// Region that is cleared and rewritten on every export
	SheetsRange string `env:"SHEETS_RANGE" env-default:"stocks_coefs" validate:"required"`
	// Per-attempt request timeout
	SheetsTimeout time.Duration `env:"SHEETS_TIMEOUT" env-default:"30s"`
	// Maximum publish attempts per destination
	SheetsMaxAttempts int `env:"SHEETS_MAX_ATTEMPTS" env-default:"3" validate:"min=1"`
	// Base delay for linear backoff between attempts
	SheetsRetryDelay time.Duration `env:"SHEETS_RETRY_DELAY" env-default:"2s"`
	// Maximum number of destinations written concurrently
	ExportConcurrency int `env:"EXPORT_CONCURRENCY" env-default:"10" validate:"min=1"`

	// Scheduler settings
	// Interval between sync runs, aligned to the configured timezone
	SyncInterval time.Duration `env:"SYNC_INTERVAL" env-default:"1h"`
	// Timezone used for the schedule and for "today"
	SyncTimezone string `env:"SYNC_TIMEZONE" env-default:"Europe/Moscow" validate:"required"`
	// Trigger one run right after the scheduler starts
	SyncRunOnStart bool `env:"SYNC_RUN_ON_START" env-default:"true"`
	// Enable/disable the scheduler
	SchedulerEnabled bool `env:"SCHEDULER_ENABLED" env-default:"true"`
	// How long shutdown waits for an in-flight run
	ShutdownGracePeriod time.Duration `env:"SHUTDOWN_GRACE_PERIOD" env-default:"2m"`

	// Number of runs kept in the in-memory history
	MetricsHistorySize int `env:"METRICS_HISTORY_SIZE" env-default:"100" validate:"min=1"`

	// Kafka run events
	KafkaEnabled bool `env:"KAFKA_ENABLED" env-default:"false"`
	// Kafka brokers (comma-separated)
	KafkaBrokers string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	// Topic for sync run lifecycle events
	KafkaRunEventsTopic string `env:"KAFKA_RUN_EVENTS_TOPIC" env-default:"fern-sync-runs"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc" validate:"oneof=grpc http"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}

// Load reads an optional .env file, binds the environment and validates the result
func Load() (Config, error) {
	// .env is optional; real environments set variables directly
	_ = godotenv.Load()

	var cfg Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to bind environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks field constraints and required credentials
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var missing []string
	if strings.TrimSpace(c.TariffAPIToken) == "" {
		missing = append(missing, "TARIFF_API_TOKEN")
	}
	if strings.TrimSpace(c.GoogleCredentialsJSON) == "" && strings.TrimSpace(c.GoogleCredentialsFile) == "" {
		missing = append(missing, "GOOGLE_CREDENTIALS_FILE or GOOGLE_CREDENTIALS_JSON")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}

	if _, err := time.LoadLocation(c.SyncTimezone); err != nil {
		return fmt.Errorf("invalid configuration: SYNC_TIMEZONE %q: %w", c.SyncTimezone, err)
	}

	return nil
}

// Location returns the configured sync timezone, falling back to UTC
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.SyncTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GoogleCredentials returns the service account key bytes
func (c Config) GoogleCredentials() ([]byte, error) {
	if strings.TrimSpace(c.GoogleCredentialsJSON) != "" {
		return []byte(c.GoogleCredentialsJSON), nil
	}
	data, err := os.ReadFile(c.GoogleCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read google credentials file: %w", err)
	}
	return data, nil
}

// KafkaBrokerList splits the comma-separated broker list
func (c Config) KafkaBrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// DatabaseDSN builds the lib/pq connection string
func (c Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DatabaseHost, c.DatabasePort, c.DatabaseUserName, c.DatabasePassword, c.DatabaseName, c.DatabaseSSLMode)
}
