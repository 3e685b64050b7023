package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/config"
)

func validConfig() config.Config {
	return config.Config{
		AppName:                     "fern",
		Port:                        3000,
		LogLevel:                    "info",
		StartupMaxAttempts:          5,
		DatabaseHost:                "localhost",
		DatabasePort:                "5432",
		DatabaseName:                "fern",
		DatabaseSSLMode:             "disable",
		TariffAPIURL:                "https://common-api.wildberries.ru/api/v1/tariffs/box",
		TariffAPIToken:              "token",
		TariffAPIMaxAttempts:        3,
		TariffAPIEntriesPath:        "response.data.warehouseList",
		SheetsAPIURL:                "https://sheets.googleapis.com/v4/spreadsheets",
		GoogleCredentialsJSON:       `{"type":"service_account"}`,
		SheetsRange:                 "stocks_coefs",
		SheetsMaxAttempts:           3,
		ExportConcurrency:           10,
		SyncInterval:                time.Hour,
		SyncTimezone:                "Europe/Moscow",
		MetricsHistorySize:          100,
		OTLPProtocol:                "grpc",
		KafkaBrokers:                "localhost:9092",
		DatabaseMigrationFolderPath: "db/pg",
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_MissingCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.TariffAPIToken = "  "
	cfg.GoogleCredentialsJSON = ""
	cfg.GoogleCredentialsFile = ""

	err := cfg.Validate()
	require.ErrorIs(t, err, config.ErrMissingCredentials)
	assert.Contains(t, err.Error(), "TARIFF_API_TOKEN")
	assert.Contains(t, err.Error(), "GOOGLE_CREDENTIALS_FILE")
}

func TestValidate_FieldConstraints(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "verbose"
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.DatabaseHost = ""
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.SyncTimezone = "Mars/Olympus_Mons"
	assert.Error(t, cfg.Validate())
}

func TestHelpers(t *testing.T) {
	cfg := validConfig()
	cfg.KafkaBrokers = " a:9092, ,b:9092 "
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokerList())

	assert.Equal(t, "Europe/Moscow", cfg.Location().String())
	cfg.SyncTimezone = "nope"
	assert.Equal(t, time.UTC, cfg.Location())

	creds, err := validConfig().GoogleCredentials()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"service_account"}`, string(creds))

	assert.Contains(t, validConfig().DatabaseDSN(), "host=localhost port=5432")
}
