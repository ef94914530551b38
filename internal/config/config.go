package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	defaultAddress              = ":4000"
	defaultDriver               = "mysql"
	defaultRefreshIntervalSecs  = 6 * 60 * 60
	defaultVoidedPollSecs       = 60 * 60
	defaultVoidedLookbackSecs   = 24 * 60 * 60
	defaultArchivePrefix        = "receipts"
	defaultCurrencyAPIBaseURL   = "https://cdn.jsdelivr.net/gh/fawazahmed0/currency-api@1"
	defaultCurrencyCacheTTLSecs = 24 * 60 * 60
)

type Config struct {
	Server struct {
		Address string `yaml:"address"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Apple struct {
		SharedSecret string `yaml:"shared_secret"`
	} `yaml:"apple"`
	Google struct {
		PackageName        string `yaml:"package_name"`
		ServiceAccountJSON string `yaml:"service_account_json"`
		Acknowledge        bool   `yaml:"acknowledge"`
	} `yaml:"google"`
	Webhook struct {
		Endpoint  string `yaml:"endpoint"`
		AuthToken string `yaml:"auth_token"`
	} `yaml:"webhook"`
	Currency struct {
		BaseURL         string `yaml:"base_url"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"currency"`
	FCM struct {
		CredentialsJSON string `yaml:"credentials_json"`
	} `yaml:"fcm"`
	Archive struct {
		Bucket    string `yaml:"bucket"`
		Region    string `yaml:"region"`
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Prefix    string `yaml:"prefix"`
	} `yaml:"archive"`
	Admin struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"admin"`
	Workers struct {
		RefreshIntervalSeconds    int `yaml:"refresh_interval_seconds"`
		VoidedPollIntervalSeconds int `yaml:"voided_poll_interval_seconds"`
		VoidedLookbackSeconds     int `yaml:"voided_lookback_seconds"`
	} `yaml:"workers"`
}

// LoadConfig reads the optional YAML file at path, then applies environment
// overrides and defaults. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("unmarshal config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Address, "SERVER_ADDRESS")
	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Database.URL, "DB_URL")
	setString(&c.Redis.Address, "REDIS_ADDRESS")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Apple.SharedSecret, "APPLE_SHARED_SECRET")
	setString(&c.Google.PackageName, "GOOGLE_PLAY_PACKAGE_NAME")
	setString(&c.Google.ServiceAccountJSON, "GOOGLE_PLAY_SERVICE_ACCOUNT_JSON")
	setString(&c.Webhook.Endpoint, "WEBHOOK_OUTGOING_ENDPOINT")
	setString(&c.Webhook.AuthToken, "WEBHOOK_AUTH_TOKEN")
	setString(&c.Currency.BaseURL, "CURRENCY_API_BASE_URL")
	setString(&c.FCM.CredentialsJSON, "FCM_CREDENTIALS_JSON")
	setString(&c.Archive.Bucket, "ARCHIVE_S3_BUCKET")
	setString(&c.Archive.Region, "ARCHIVE_S3_REGION")
	setString(&c.Archive.Endpoint, "ARCHIVE_S3_ENDPOINT")
	setString(&c.Archive.AccessKey, "ARCHIVE_S3_ACCESS_KEY")
	setString(&c.Archive.SecretKey, "ARCHIVE_S3_SECRET_KEY")
	setString(&c.Archive.Prefix, "ARCHIVE_S3_PREFIX")
	setString(&c.Admin.JWTSecret, "ADMIN_JWT_SECRET")

	if v := os.Getenv("GOOGLE_PLAY_ACKNOWLEDGE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse GOOGLE_PLAY_ACKNOWLEDGE: %w", err)
		}
		c.Google.Acknowledge = b
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"REDIS_DB", &c.Redis.DB},
		{"CURRENCY_CACHE_TTL_SECONDS", &c.Currency.CacheTTLSeconds},
		{"REFRESH_INTERVAL_SECONDS", &c.Workers.RefreshIntervalSeconds},
		{"VOIDED_POLL_INTERVAL_SECONDS", &c.Workers.VoidedPollIntervalSeconds},
		{"VOIDED_LOOKBACK_SECONDS", &c.Workers.VoidedLookbackSeconds},
	}
	for _, it := range ints {
		v, err := readIntEnv(it.name)
		if err != nil {
			return fmt.Errorf("parse %s: %w", it.name, err)
		}
		if v != nil {
			*it.dst = *v
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = defaultAddress
	}
	if c.Database.Driver == "" {
		c.Database.Driver = defaultDriver
	}
	if c.Currency.BaseURL == "" {
		c.Currency.BaseURL = defaultCurrencyAPIBaseURL
	}
	if c.Currency.CacheTTLSeconds <= 0 {
		c.Currency.CacheTTLSeconds = defaultCurrencyCacheTTLSecs
	}
	if c.Archive.Prefix == "" {
		c.Archive.Prefix = defaultArchivePrefix
	}
	if c.Archive.Region == "" {
		c.Archive.Region = "us-east-1"
	}
	if c.Workers.RefreshIntervalSeconds <= 0 {
		c.Workers.RefreshIntervalSeconds = defaultRefreshIntervalSecs
	}
	if c.Workers.VoidedPollIntervalSeconds <= 0 {
		c.Workers.VoidedPollIntervalSeconds = defaultVoidedPollSecs
	}
	if c.Workers.VoidedLookbackSeconds <= 0 {
		c.Workers.VoidedLookbackSeconds = defaultVoidedLookbackSecs
	}
}

// Validate rejects incomplete combinations.
func (c Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "mysql", "pgx", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		return errors.New("DB_URL is required")
	}
	if c.Apple.SharedSecret == "" && c.Google.PackageName == "" {
		return errors.New("at least one store must be configured (APPLE_SHARED_SECRET or GOOGLE_PLAY_PACKAGE_NAME)")
	}
	if c.Google.PackageName != "" && strings.TrimSpace(c.Google.ServiceAccountJSON) == "" {
		return errors.New("GOOGLE_PLAY_SERVICE_ACCOUNT_JSON is required when GOOGLE_PLAY_PACKAGE_NAME is set")
	}
	if c.Webhook.Endpoint != "" && c.Webhook.AuthToken == "" {
		return errors.New("WEBHOOK_AUTH_TOKEN is required when WEBHOOK_OUTGOING_ENDPOINT is set")
	}
	if (c.Archive.AccessKey == "") != (c.Archive.SecretKey == "") {
		return errors.New("ARCHIVE_S3_ACCESS_KEY and ARCHIVE_S3_SECRET_KEY must be set together")
	}
	return nil
}

func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.Workers.RefreshIntervalSeconds) * time.Second
}

func (c Config) VoidedPollInterval() time.Duration {
	return time.Duration(c.Workers.VoidedPollIntervalSeconds) * time.Second
}

func (c Config) VoidedLookback() time.Duration {
	return time.Duration(c.Workers.VoidedLookbackSeconds) * time.Second
}

func (c Config) CurrencyCacheTTL() time.Duration {
	return time.Duration(c.Currency.CacheTTLSeconds) * time.Second
}

func setString(dst *string, name string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*dst = v
	}
}

func readIntEnv(name string) (*int, error) {
	val := os.Getenv(name)
	if val == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(val)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
