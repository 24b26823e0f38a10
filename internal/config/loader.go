package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Paths lists the files Load tries when no path is given.
func Paths() []string {
	paths := []string{"ordergate.toml", "/etc/ordergate/ordergate.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home+"/.config/ordergate/ordergate.toml")
	}
	return paths
}

// Load reads configuration from path, applies environment overrides and
// validates the result, including required credentials.
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadLenient is Load without the credential checks.
func LoadLenient(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateStructure(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		for _, p := range Paths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies the legacy variable names first, then ORDERGATE_*.
func applyEnvOverrides(cfg *Config) error {
	str := func(dst *string, names ...string) {
		for _, n := range names {
			if v := os.Getenv(n); v != "" {
				*dst = v
			}
		}
	}
	var errs []string
	boolean := func(dst *bool, names ...string) {
		for _, n := range names {
			if v := os.Getenv(n); v != "" {
				b, err := strconv.ParseBool(v)
				if err != nil {
					errs = append(errs, fmt.Sprintf("%s: %v", n, err))
					continue
				}
				*dst = b
			}
		}
	}
	duration := func(dst *time.Duration, names ...string) {
		for _, n := range names {
			if v := os.Getenv(n); v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					errs = append(errs, fmt.Sprintf("%s: %v", n, err))
					continue
				}
				*dst = d
			}
		}
	}

	str(&cfg.Server.Addr, "ORDERGATE_SERVER_ADDR")
	if v := os.Getenv("FLASK_PORT"); v != "" && os.Getenv("ORDERGATE_SERVER_ADDR") == "" {
		cfg.Server.Addr = ":" + v
	}

	str(&cfg.Inflow.APIKey, "INFLOW_API_KEY", "ORDERGATE_INFLOW_API_KEY")
	str(&cfg.Inflow.CompanyID, "INFLOW_COMPANY_ID", "ORDERGATE_INFLOW_COMPANY_ID")
	str(&cfg.Inflow.BaseURL, "INFLOW_API_BASE_URL", "ORDERGATE_INFLOW_BASE_URL")
	duration(&cfg.Inflow.FetchDelay, "ORDERGATE_INFLOW_FETCH_DELAY")

	str(&cfg.Webhook.Secret, "WEBHOOK_SECRET", "ORDERGATE_WEBHOOK_SECRET")

	duration(&cfg.Tracker.GracePeriod, "ORDERGATE_GRACE_PERIOD")
	duration(&cfg.Tracker.EntryTTL, "ORDERGATE_ENTRY_TTL")

	boolean(&cfg.Monitor.Enabled, "ORDERGATE_MONITOR_ENABLED")
	duration(&cfg.Monitor.Interval, "ORDERGATE_MONITOR_INTERVAL")
	duration(&cfg.Monitor.StopTimeout, "ORDERGATE_MONITOR_STOP_TIMEOUT")

	str(&cfg.Storage.Driver, "ORDERGATE_STORAGE_DRIVER")
	str(&cfg.Storage.SQLitePath, "ORDERGATE_SQLITE_PATH")
	str(&cfg.Storage.PostgresDSN, "ORDERGATE_POSTGRES_DSN", "DATABASE_URL")

	str(&cfg.Blob.Driver, "ORDERGATE_BLOB_DRIVER")
	str(&cfg.Blob.Root, "ORDERGATE_BLOB_ROOT")
	str(&cfg.Blob.S3.Bucket, "ORDERGATE_S3_BUCKET")
	str(&cfg.Blob.S3.Region, "AWS_REGION", "ORDERGATE_S3_REGION")
	str(&cfg.Blob.S3.Endpoint, "ORDERGATE_S3_ENDPOINT")
	str(&cfg.Blob.S3.Prefix, "ORDERGATE_S3_PREFIX")

	boolean(&cfg.Email.Enabled, "ORDERGATE_EMAIL_ENABLED")
	str(&cfg.Email.TenantID, "OUTLOOK_TENANT_ID", "ORDERGATE_EMAIL_TENANT_ID")
	str(&cfg.Email.ClientID, "OUTLOOK_CLIENT_ID", "ORDERGATE_EMAIL_CLIENT_ID")
	str(&cfg.Email.ClientSecret, "OUTLOOK_CLIENT_SECRET", "ORDERGATE_EMAIL_CLIENT_SECRET")
	str(&cfg.Email.FromAddress, "EMAIL_FROM_ADDRESS", "ORDERGATE_EMAIL_FROM")
	boolean(&cfg.Email.TestingMode, "EMAIL_TESTING_MODE", "ORDERGATE_EMAIL_TESTING_MODE")
	str(&cfg.Email.TestRecipient, "TEST_EMAIL_RECIPIENT", "ORDERGATE_EMAIL_TEST_RECIPIENT")
	for _, n := range []string{"ADMIN_EMAILS", "ORDERGATE_ADMIN_EMAILS"} {
		if v := os.Getenv(n); v != "" {
			cfg.Email.AdminEmails = splitList(v)
		}
	}

	boolean(&cfg.History.Enabled, "ORDERGATE_HISTORY_ENABLED")
	str(&cfg.History.CSVDir, "ORDERGATE_HISTORY_CSV_DIR")

	str(&cfg.Logging.Level, "ORDERGATE_LOG_LEVEL")
	str(&cfg.Logging.Format, "ORDERGATE_LOG_FORMAT")
	str(&cfg.Logging.Output, "ORDERGATE_LOG_OUTPUT")

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
