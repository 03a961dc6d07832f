package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "FOLIO"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabaseDriver     = DatabaseDriverSQLite
	defaultDatabasePath       = "folio.db"
	defaultLogLevel           = "info"
	defaultCookieName         = "app_session"
	defaultSessionIssuer      = "folio-auth"
	defaultSessionTTLMinutes  = 60
	defaultReaderBackendURL   = "http://127.0.0.1:8080"
	defaultReaderCachePath    = "folio-progress.db"
	defaultReaderFlushSeconds = 30
	defaultReaderViewport     = 1280
)

// Supported database drivers.
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	DatabaseDriver    string
	DatabasePath      string
	DatabaseDSN       string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	SessionTTL        time.Duration
	LogLevel          string
	LogFile           string
}

// ReaderConfig captures runtime configuration for the reader engine commands.
type ReaderConfig struct {
	BackendURL    string
	Token         string
	UserID        string
	CachePath     string
	FlushInterval time.Duration
	ViewportWidth int
	LogLevel      string
	LogFile       string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.issuer", defaultSessionIssuer)
	configViper.SetDefault("auth.ttl_minutes", defaultSessionTTLMinutes)
	configViper.SetDefault("reader.backend_url", defaultReaderBackendURL)
	configViper.SetDefault("reader.cache_path", defaultReaderCachePath)
	configViper.SetDefault("reader.flush_interval_seconds", defaultReaderFlushSeconds)
	configViper.SetDefault("reader.viewport_width", defaultReaderViewport)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabaseDriver:    strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:      configViper.GetString("database.path"),
		DatabaseDSN:       configViper.GetString("database.dsn"),
		SessionSigningKey: configViper.GetString("auth.signing_secret"),
		SessionIssuer:     configViper.GetString("auth.issuer"),
		SessionCookieName: configViper.GetString("auth.cookie_name"),
		SessionTTL:        time.Duration(configViper.GetInt("auth.ttl_minutes")) * time.Minute,
		LogLevel:          configViper.GetString("log.level"),
		LogFile:           configViper.GetString("log.file"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningKey) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionIssuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	return nil
}

// LoadReader parses reader engine configuration from viper.
func LoadReader(configViper *viper.Viper) (ReaderConfig, error) {
	cfg := ReaderConfig{
		BackendURL:    strings.TrimSpace(configViper.GetString("reader.backend_url")),
		Token:         strings.TrimSpace(configViper.GetString("reader.token")),
		UserID:        strings.TrimSpace(configViper.GetString("reader.user_id")),
		CachePath:     strings.TrimSpace(configViper.GetString("reader.cache_path")),
		FlushInterval: time.Duration(configViper.GetInt("reader.flush_interval_seconds")) * time.Second,
		ViewportWidth: configViper.GetInt("reader.viewport_width"),
		LogLevel:      configViper.GetString("log.level"),
		LogFile:       configViper.GetString("log.file"),
	}
	if cfg.BackendURL == "" {
		return ReaderConfig{}, fmt.Errorf("reader.backend_url is required")
	}
	if cfg.CachePath == "" {
		return ReaderConfig{}, fmt.Errorf("reader.cache_path is required")
	}
	if cfg.FlushInterval <= 0 {
		return ReaderConfig{}, fmt.Errorf("reader.flush_interval_seconds must be positive")
	}
	return cfg, nil
}
