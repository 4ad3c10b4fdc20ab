package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/shizukutanaka/logpulse/internal/logging"
)

// Config is the application-wide configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Logging   logging.Config  `mapstructure:"logging"`
}

// ServerConfig configures the HTTP API server
type ServerConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	ListenAddr   string   `mapstructure:"listen_addr"`
	EnableTLS    bool     `mapstructure:"enable_tls"`
	CertFile     string   `mapstructure:"cert_file"`
	KeyFile      string   `mapstructure:"key_file"`
	AllowOrigins []string `mapstructure:"allow_origins"`

	// Aggregate stats responses are cached this long
	StatsCacheTTL time.Duration `mapstructure:"stats_cache_ttl"`
}

// DatabaseConfig configures the relational store
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// IngestConfig configures file ingestion
type IngestConfig struct {
	UploadDir    string `mapstructure:"upload_dir"`
	BatchSize    int    `mapstructure:"batch_size"`
	MaxLineBytes int    `mapstructure:"max_line_bytes"`
}

// AnalyticsConfig configures windowing, anomaly scoring and clustering
type AnalyticsConfig struct {
	WindowMinutes int     `mapstructure:"window_minutes"`
	Contamination float64 `mapstructure:"contamination"`
	Seed          int64   `mapstructure:"seed"`
	Trees         int     `mapstructure:"trees"`
	MaxClusters   int     `mapstructure:"max_clusters"`
	MaxVocabulary int     `mapstructure:"max_vocabulary"`
	DefaultRange  time.Duration `mapstructure:"default_range"`
}

// WatchConfig configures the drop-directory watcher
type WatchConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`

	// Delay between the create event and ingestion, so writers can finish
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

// Load reads configuration from a YAML file with environment overrides
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("LOGPULSE")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults always unmarshal; reaching this is a programming error.
		panic(err)
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.enable_tls", false)
	v.SetDefault("server.allow_origins", []string{})
	v.SetDefault("server.stats_cache_ttl", "30s")

	// Database
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/logpulse.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	// Ingest
	v.SetDefault("ingest.upload_dir", "./data/uploads")
	v.SetDefault("ingest.batch_size", 2000)
	v.SetDefault("ingest.max_line_bytes", 1024*1024)

	// Analytics
	v.SetDefault("analytics.window_minutes", 2)
	v.SetDefault("analytics.contamination", 0.1)
	v.SetDefault("analytics.seed", 42)
	v.SetDefault("analytics.trees", 100)
	v.SetDefault("analytics.max_clusters", 20)
	v.SetDefault("analytics.max_vocabulary", 1000)
	v.SetDefault("analytics.default_range", "24h")

	// Watch
	v.SetDefault("watch.enabled", false)
	v.SetDefault("watch.dir", "./data/watch")
	v.SetDefault("watch.settle_delay", "2s")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "json")
	v.SetDefault("logging.output_path", "stdout")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)
}

func validate(cfg *Config) error {
	switch cfg.Database.Driver {
	case "sqlite", "sqlite3", "postgres":
	default:
		return fmt.Errorf("invalid database driver: %s", cfg.Database.Driver)
	}

	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if cfg.Server.Enabled && cfg.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required when the server is enabled")
	}

	if cfg.Server.EnableTLS && (cfg.Server.CertFile == "" || cfg.Server.KeyFile == "") {
		return fmt.Errorf("cert_file and key_file are required when TLS is enabled")
	}

	if cfg.Ingest.BatchSize < 1 {
		return fmt.Errorf("ingest.batch_size must be at least 1")
	}

	if cfg.Ingest.MaxLineBytes < 1024 {
		return fmt.Errorf("ingest.max_line_bytes must be at least 1024")
	}

	if cfg.Analytics.WindowMinutes < 1 {
		return fmt.Errorf("analytics.window_minutes must be at least 1")
	}

	if cfg.Analytics.Contamination <= 0 || cfg.Analytics.Contamination >= 0.5 {
		return fmt.Errorf("analytics.contamination must be in (0, 0.5)")
	}

	if cfg.Analytics.MaxClusters < 2 || cfg.Analytics.MaxClusters > 20 {
		return fmt.Errorf("analytics.max_clusters must be between 2 and 20")
	}

	if cfg.Watch.Enabled && cfg.Watch.Dir == "" {
		return fmt.Errorf("watch.dir is required when the watcher is enabled")
	}

	return nil
}
