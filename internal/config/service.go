package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServiceConfig holds the stroke-server process settings. Analysis
// thresholds live in TuningConfig.
type ServiceConfig struct {
	Listen      string
	DBPath      string
	TuningPath  string
	APIKeyEnv   string
	LogLevel    string
	Progress    ProgressConfig
	AdminRoutes bool
}

// ProgressConfig bounds the in-memory run progress table.
type ProgressConfig struct {
	MaxEntries int
	MaxAge     time.Duration
}

// Log levels accepted by log_level. Each level enables itself and the
// streams above it.
const (
	LogLevelOps   = "ops"
	LogLevelDiag  = "diag"
	LogLevelTrace = "trace"
)

// newServiceViper returns a viper instance with defaults and STROKE_
// environment overrides (for example STROKE_HTTP_LISTEN).
func newServiceViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("http.listen", ":8090")
	v.SetDefault("db.path", "stroke_report.db")
	v.SetDefault("tuning.path", DefaultConfigPath)
	v.SetDefault("model.api_key_env", "STROKE_MODEL_API_KEY")
	v.SetDefault("log.level", LogLevelDiag)
	v.SetDefault("progress.max_entries", 256)
	v.SetDefault("progress.max_age", "1h")
	v.SetDefault("admin.enabled", true)

	v.SetEnvPrefix("STROKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadServiceConfig reads stroke-server.yaml from dir (or the working
// directory when dir is empty). A missing file is not an error; defaults
// and environment overrides still apply.
func LoadServiceConfig(dir string) (*ServiceConfig, error) {
	v := newServiceViper()
	v.SetConfigName("stroke-server")
	v.SetConfigType("yaml")
	if dir == "" {
		dir = "."
	}
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read service config: %w", err)
		}
	}
	return serviceConfigFrom(v)
}

func serviceConfigFrom(v *viper.Viper) (*ServiceConfig, error) {
	maxAge, err := time.ParseDuration(v.GetString("progress.max_age"))
	if err != nil {
		return nil, fmt.Errorf("invalid progress.max_age %q: %w", v.GetString("progress.max_age"), err)
	}
	cfg := &ServiceConfig{
		Listen:     v.GetString("http.listen"),
		DBPath:     v.GetString("db.path"),
		TuningPath: v.GetString("tuning.path"),
		APIKeyEnv:  v.GetString("model.api_key_env"),
		LogLevel:   strings.ToLower(v.GetString("log.level")),
		Progress: ProgressConfig{
			MaxEntries: v.GetInt("progress.max_entries"),
			MaxAge:     maxAge,
		},
		AdminRoutes: v.GetBool("admin.enabled"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the service settings.
func (c *ServiceConfig) Validate() error {
	if c.Listen == "" {
		return errors.New("http.listen must be set")
	}
	if c.DBPath == "" {
		return errors.New("db.path must be set")
	}
	if c.Progress.MaxEntries < 1 {
		return fmt.Errorf("progress.max_entries must be at least 1, got %d", c.Progress.MaxEntries)
	}
	if c.Progress.MaxAge <= 0 {
		return fmt.Errorf("progress.max_age must be positive, got %s", c.Progress.MaxAge)
	}
	switch c.LogLevel {
	case LogLevelOps, LogLevelDiag, LogLevelTrace:
	default:
		return fmt.Errorf("log.level must be ops, diag or trace, got %q", c.LogLevel)
	}
	return nil
}
