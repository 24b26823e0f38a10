// Package config loads ordergate configuration from TOML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"ordergate/internal/blob"
	"ordergate/internal/logger"
)

// ErrMissingRequired is wrapped by Validate when required settings are absent.
var ErrMissingRequired = errors.New("missing required configuration")

// Storage drivers for the error record store.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageBlob     = "blob"
)

// Config is the complete ordergate configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Inflow  InflowConfig  `toml:"inflow"`
	Webhook WebhookConfig `toml:"webhook"`
	Tracker TrackerConfig `toml:"tracker"`
	Monitor MonitorConfig `toml:"monitor"`
	Storage StorageConfig `toml:"storage"`
	Blob    blob.Config   `toml:"blob"`
	Email   EmailConfig   `toml:"email"`
	History HistoryConfig `toml:"history"`
	Logging logger.Config `toml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string        `toml:"addr"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
	// TriggerPerMinute limits manual monitor triggers.
	TriggerPerMinute float64 `toml:"trigger_per_minute"`
}

// InflowConfig configures the order source.
type InflowConfig struct {
	APIKey            string        `toml:"api_key"`
	CompanyID         string        `toml:"company_id"`
	BaseURL           string        `toml:"base_url"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
	FetchDelay        time.Duration `toml:"fetch_delay"`
}

// WebhookConfig holds the shared secret for inbound webhooks.
type WebhookConfig struct {
	Secret string `toml:"secret"`
}

// TrackerConfig configures error debouncing.
type TrackerConfig struct {
	GracePeriod time.Duration `toml:"grace_period"`
	EntryTTL    time.Duration `toml:"entry_ttl"`
}

// MonitorConfig configures the background sweep.
type MonitorConfig struct {
	Enabled     bool          `toml:"enabled"`
	Interval    time.Duration `toml:"interval"`
	StopTimeout time.Duration `toml:"stop_timeout"`
}

// StorageConfig selects the error record store.
type StorageConfig struct {
	Driver      string `toml:"driver"`
	SQLitePath  string `toml:"sqlite_path"`
	PostgresDSN string `toml:"postgres_dsn"`
}

// EmailConfig configures alert delivery through Microsoft Graph.
type EmailConfig struct {
	Enabled       bool     `toml:"enabled"`
	TenantID      string   `toml:"tenant_id"`
	ClientID      string   `toml:"client_id"`
	ClientSecret  string   `toml:"client_secret"`
	FromAddress   string   `toml:"from_address"`
	AdminEmails   []string `toml:"admin_emails"`
	TestingMode   bool     `toml:"testing_mode"`
	TestRecipient string   `toml:"test_recipient"`
}

// HistoryConfig configures the report archive and CSV log.
type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	CSVDir  string `toml:"csv_dir"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             ":8000",
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     60 * time.Second,
			TriggerPerMinute: 6,
		},
		Inflow: InflowConfig{
			BaseURL:           "https://cloudapi.inflowinventory.com",
			RequestsPerSecond: 2,
			FetchDelay:        2 * time.Second,
		},
		Tracker: TrackerConfig{
			GracePeriod: 30 * time.Minute,
			EntryTTL:    7 * 24 * time.Hour,
		},
		Monitor: MonitorConfig{
			Enabled:     true,
			Interval:    10 * time.Minute,
			StopTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Driver:     StorageSQLite,
			SQLitePath: "./data/ordergate.db",
		},
		Blob: blob.Config{
			Driver: string(blob.DriverFilesystem),
			Root:   "./data/blobs",
		},
		Email: EmailConfig{
			FromAddress: "info@suniquecabinetry.com",
			TestingMode: true,
		},
		History: HistoryConfig{
			Enabled: true,
			CSVDir:  "./logs",
		},
		Logging: logger.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Validate checks structure and the settings every deployment needs.
func (c *Config) Validate() error {
	if err := c.ValidateStructure(); err != nil {
		return err
	}
	var missing []string
	if c.Inflow.APIKey == "" {
		missing = append(missing, "inflow.api_key")
	}
	if c.Inflow.CompanyID == "" {
		missing = append(missing, "inflow.company_id")
	}
	if c.Webhook.Secret == "" {
		missing = append(missing, "webhook.secret")
	}
	if c.Email.Enabled {
		for key, v := range map[string]string{
			"email.tenant_id":     c.Email.TenantID,
			"email.client_id":     c.Email.ClientID,
			"email.client_secret": c.Email.ClientSecret,
			"email.from_address":  c.Email.FromAddress,
		} {
			if v == "" {
				missing = append(missing, key)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", "))
	}
	return nil
}

// ValidateStructure checks drivers and durations without requiring credentials.
// Read-only commands use it so they work without inFlow access.
func (c *Config) ValidateStructure() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageBlob:
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite driver")
		}
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch blob.Driver(c.Blob.Driver) {
	case "", blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			return errors.New("blob.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"tracker.grace_period", c.Tracker.GracePeriod},
		{"tracker.entry_ttl", c.Tracker.EntryTTL},
		{"monitor.interval", c.Monitor.Interval},
		{"monitor.stop_timeout", c.Monitor.StopTimeout},
	} {
		if d.val <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.val)
		}
	}
	if c.Tracker.EntryTTL <= c.Tracker.GracePeriod {
		return fmt.Errorf("tracker.entry_ttl (%s) must exceed tracker.grace_period (%s)", c.Tracker.EntryTTL, c.Tracker.GracePeriod)
	}
	if c.Email.TestingMode && c.Email.Enabled && c.Email.TestRecipient == "" {
		return errors.New("email.test_recipient is required when email.testing_mode is on")
	}
	return nil
}
