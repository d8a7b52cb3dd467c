package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"temperature-bench/pkg/database"
)

// EnvPrefix is prepended to every environment variable, e.g. BENCH_DATABASE_HOST
const EnvPrefix = "BENCH"

// Config is the application configuration
type Config struct {
	Experiment ExperimentConfig `mapstructure:"experiment"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ExperimentConfig drives one harness invocation
type ExperimentConfig struct {
	// Count runs experiments 1..Count
	Count  int `mapstructure:"count"`
	Rounds int `mapstructure:"rounds"`
	// Only, when non-empty, replaces 1..Count with an explicit list
	Only           []int         `mapstructure:"only"`
	DataDir        string        `mapstructure:"data_dir"`
	YearlyDataDir  string        `mapstructure:"yearly_data_dir"`
	OutputDir      string        `mapstructure:"output_dir"`
	NestedLayout   string        `mapstructure:"nested_layout"`
	InnerLimit     int           `mapstructure:"inner_limit"`
	TaskTimeout    time.Duration `mapstructure:"task_timeout"`
	MaxDiagnostics int           `mapstructure:"max_diagnostics"`
}

// Experiments returns the experiment indices to run
func (e ExperimentConfig) Experiments() []int {
	if len(e.Only) > 0 {
		return append([]int(nil), e.Only...)
	}
	out := make([]int, 0, e.Count)
	for i := 1; i <= e.Count; i++ {
		out = append(out, i)
	}
	return out
}

// YearlyDir returns the directory read by the by-year experiments
func (e ExperimentConfig) YearlyDir() string {
	if e.YearlyDataDir != "" {
		return e.YearlyDataDir
	}
	return e.DataDir
}

// DatabaseConfig holds PostgreSQL settings for result persistence
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// Postgres converts the settings into a connection pool configuration
func (d DatabaseConfig) Postgres() *database.Config {
	return &database.Config{
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Database:        d.Database,
		SSLMode:         d.SSLMode,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
	}
}

// ServerConfig holds HTTP settings of the results API
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("experiment.count", 20)
	v.SetDefault("experiment.rounds", 10)
	v.SetDefault("experiment.only", []int{})
	v.SetDefault("experiment.data_dir", "data")
	v.SetDefault("experiment.yearly_data_dir", "")
	v.SetDefault("experiment.output_dir", "output")
	v.SetDefault("experiment.nested_layout", "rows")
	v.SetDefault("experiment.inner_limit", 0)
	v.SetDefault("experiment.task_timeout", time.Duration(0))
	v.SetDefault("experiment.max_diagnostics", 100)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "temperature_bench")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("logging.level", "info")
}

// LoadConfig reads configuration from an optional .env file, an optional
// bench.yaml (current directory or /etc/temperature-bench) and BENCH_*
// environment variables, in increasing order of precedence.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("bench")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/temperature-bench")
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
	}

	return load(v)
}

// LoadFile reads configuration from the given YAML file plus environment
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	e := c.Experiment
	if e.Count < 0 {
		return fmt.Errorf("experiment.count must be >= 0, got %d", e.Count)
	}
	if e.Rounds < 1 {
		return fmt.Errorf("experiment.rounds must be >= 1, got %d", e.Rounds)
	}
	if e.DataDir == "" {
		return errors.New("experiment.data_dir is required")
	}
	if e.OutputDir == "" {
		return errors.New("experiment.output_dir is required")
	}
	if e.InnerLimit < 0 {
		return fmt.Errorf("experiment.inner_limit must be >= 0, got %d", e.InnerLimit)
	}
	if e.TaskTimeout < 0 {
		return fmt.Errorf("experiment.task_timeout must be >= 0, got %s", e.TaskTimeout)
	}
	switch strings.ToLower(e.NestedLayout) {
	case "", "rows", "yearly", "monthly":
	default:
		return fmt.Errorf("experiment.nested_layout must be rows or monthly, got %q", e.NestedLayout)
	}

	if c.Database.Enabled {
		if c.Database.Host == "" || c.Database.Database == "" {
			return errors.New("database.host and database.database are required when persistence is enabled")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("database.port out of range: %d", c.Database.Port)
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}
