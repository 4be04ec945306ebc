package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DateLayout is the format of quota.date.
const DateLayout = "2006-01-02"

const maxPort = 65535

// ErrInvalidConfig is returned by Load when a value is out of range.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the configuration of a batch geocoding run.
//
// Values come, in increasing priority, from built-in defaults, an optional
// YAML file, a .env file and GEOBATCH_* environment variables. Database
// settings use the DB_* variables shared with other services.
type Config struct {
	Env        string           `mapstructure:"env"`        // Env is the current environment: local, development, production.
	Provider   ProviderConfig   `mapstructure:"provider"`   // Provider selects the geocoding service.
	Quota      QuotaConfig      `mapstructure:"quota"`      // Quota is the daily request budget.
	Input      InputConfig      `mapstructure:"input"`      // Input describes the source CSV.
	Output     OutputConfig     `mapstructure:"output"`     // Output is where snapshots and results are written.
	Pacing     PacingConfig     `mapstructure:"pacing"`     // Pacing throttles requests and rows.
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"` // Checkpoint controls snapshot flushes.
	Cache      CacheConfig      `mapstructure:"cache"`      // Cache sizes the candidate cache.
	Normalizer NormalizerConfig `mapstructure:"normalizer"` // Normalizer points at an optional rules file.
	Metrics    MetricsConfig    `mapstructure:"metrics"`    // Metrics configures the monitoring server.
	Database   PostgresConfig   `mapstructure:"postgres"`   // Database holds the postgres export target.
}

// ProviderConfig selects the geocoding service and its credential.
type ProviderConfig struct {
	Type   string `mapstructure:"type"`    // Type is the provider to use: vworld or google.
	APIKey string `mapstructure:"api_key"` // APIKey is the credential sent with every request.
}

// QuotaConfig holds the daily request budget of the provider.
type QuotaConfig struct {
	DailyLimit int    `mapstructure:"daily_limit"` // DailyLimit is the number of rows allowed per calendar day.
	Date       string `mapstructure:"date"`        // Date overrides the processing date, YYYY-MM-DD.
}

// InputConfig describes the source CSV and the columns that carry the addresses.
type InputConfig struct {
	Path         string `mapstructure:"path"`          // Path is the input CSV file.
	RoadColumn   string `mapstructure:"road_column"`   // RoadColumn names the road address column, required.
	ParcelColumn string `mapstructure:"parcel_column"` // ParcelColumn names the parcel address column, optional.
}

// OutputConfig holds the directory for snapshots, backups and final files.
type OutputConfig struct {
	Dir string `mapstructure:"dir"` // Dir is created on first save.
}

// PacingConfig throttles the traffic sent to the provider.
type PacingConfig struct {
	RequestDelay time.Duration `mapstructure:"request_delay"` // RequestDelay is the minimum gap between two requests.
	RowDelay     time.Duration `mapstructure:"row_delay"`     // RowDelay is the pause between two rows.
}

// CheckpointConfig controls how often the snapshot is flushed to disk.
type CheckpointConfig struct {
	Every int `mapstructure:"every"` // Every is the number of processed rows between flushes, 0 flushes only at the end.
}

// CacheConfig sizes the in-memory cache of candidate results.
type CacheConfig struct {
	Size int `mapstructure:"size"` // Size is the number of cached candidates, 0 disables the cache.
}

// NormalizerConfig points at an optional rules file replacing the embedded rules.
type NormalizerConfig struct {
	Rules string `mapstructure:"rules"` // Rules is a YAML rules file, empty for the embedded rules.
}

// MetricsConfig configures the monitoring server.
type MetricsConfig struct {
	Port int `mapstructure:"port"` // Port serves /metrics and /healthz, 0 disables the server.
}

// PostgresConfig struct holds the configuration details for connecting to a PostgreSQL database.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`     // Host is the database server address.
	Port     string `mapstructure:"port"`     // Port is the database server port.
	User     string `mapstructure:"user"`     // User is the database user.
	Password string `mapstructure:"password"` // Password is the database user's password.
	Name     string `mapstructure:"db_name"`  // Name is the name of the database.
}

// Load reads the configuration. path names an optional YAML file; when empty,
// geobatch.yaml in the working directory is used if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("geobatch")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("GEOBATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for key, env := range map[string]string{
		"postgres.host":     "DB_HOST",
		"postgres.port":     "DB_PORT",
		"postgres.user":     "DB_USERNAME",
		"postgres.password": "DB_PASSWORD",
		"postgres.db_name":  "DB_NAME",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "production")
	v.SetDefault("provider.type", "vworld")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("quota.daily_limit", 40000)
	v.SetDefault("quota.date", "")
	v.SetDefault("input.path", "input/charger_v2.csv")
	v.SetDefault("input.road_column", "주소")
	v.SetDefault("input.parcel_column", "지번 주소")
	v.SetDefault("output.dir", "output")
	v.SetDefault("pacing.request_delay", "80ms")
	v.SetDefault("pacing.row_delay", "120ms")
	v.SetDefault("checkpoint.every", 1000)
	v.SetDefault("cache.size", 10000)
	v.SetDefault("normalizer.rules", "")
	v.SetDefault("metrics.port", 0)
	v.SetDefault("postgres.port", "5432")
}

// Validate checks value ranges and formats.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider.Type {
	case "vworld", "google":
	default:
		errs = append(errs, fmt.Errorf("provider.type %q is not one of vworld, google", c.Provider.Type))
	}
	if c.Quota.DailyLimit < 0 {
		errs = append(errs, fmt.Errorf("quota.daily_limit must not be negative, got %d", c.Quota.DailyLimit))
	}
	if _, err := c.ProcessingDate(); err != nil {
		errs = append(errs, err)
	}
	if c.Input.RoadColumn == "" {
		errs = append(errs, errors.New("input.road_column must be set"))
	}
	if c.Output.Dir == "" {
		errs = append(errs, errors.New("output.dir must be set"))
	}
	if c.Pacing.RequestDelay < 0 || c.Pacing.RowDelay < 0 {
		errs = append(errs, errors.New("pacing delays must not be negative"))
	}
	if c.Checkpoint.Every < 0 {
		errs = append(errs, fmt.Errorf("checkpoint.every must not be negative, got %d", c.Checkpoint.Every))
	}
	if c.Cache.Size < 0 {
		errs = append(errs, fmt.Errorf("cache.size must not be negative, got %d", c.Cache.Size))
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > maxPort {
		errs = append(errs, fmt.Errorf("metrics.port %d is out of range", c.Metrics.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

// ProcessingDate returns the configured quota date, or the zero time for today.
func (c *Config) ProcessingDate() (time.Time, error) {
	if c.Quota.Date == "" {
		return time.Time{}, nil
	}

	day, err := time.ParseInLocation(DateLayout, c.Quota.Date, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("quota.date %q is not a YYYY-MM-DD date", c.Quota.Date)
	}

	return day, nil
}
