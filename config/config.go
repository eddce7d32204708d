package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Coinflow  CoinflowConfig  `yaml:"coinflow"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Source    SourceConfig    `yaml:"source"`
	Cache     CacheConfig     `yaml:"cache"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type CoinflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type MetricsConfig struct {
	ChannelSize bool `yaml:"channel_size"`
}

type ChannelsConfig struct {
	BatchBuffer int           `yaml:"batch_buffer"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
	// Block makes the producer wait for queue space instead of failing fast.
	Block bool `yaml:"block"`
}

type SourceConfig struct {
	Coingecko CoingeckoConfig `yaml:"coingecko"`
}

type CoingeckoConfig struct {
	URL          string        `yaml:"url"`
	APIKey       string        `yaml:"api_key"`
	Currency     string        `yaml:"currency"`
	PageSize     int           `yaml:"page_size"`
	TopPages     int           `yaml:"top_pages"`
	RequestDelay time.Duration `yaml:"request_delay"`
	Timeout      time.Duration `yaml:"timeout"`
	Retry        RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

type CacheConfig struct {
	// MaxSize bounds the snapshot; entries beyond the bound are evicted in
	// rank order. Zero keeps the unbounded superset across cycles.
	MaxSize      int    `yaml:"max_size"`
	SnapshotPath string `yaml:"snapshot_path"`
	Hydrate      bool   `yaml:"hydrate"`
}

type SchedulerConfig struct {
	FetchInterval   time.Duration `yaml:"fetch_interval"`
	PersistInterval time.Duration `yaml:"persist_interval"`
}

type StorageConfig struct {
	Dynamo DynamoConfig `yaml:"dynamodb"`
}

type DynamoConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Table           string `yaml:"table"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	// WriteCapacity is the provisioned write budget in items per second.
	WriteCapacity int `yaml:"write_capacity"`
	BatchSize     int `yaml:"batch_size"`
	MaxRetries    int `yaml:"max_retries"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	CWNamespace   string `yaml:"cloudwatch_namespace"`
	DashboardName string `yaml:"dashboard_name"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Metrics: MetricsConfig{
			ChannelSize: true,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)
	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	src := &cfg.Source.Coingecko
	if src.URL == "" {
		src.URL = "https://api.coingecko.com/api/v3"
	}
	if src.Currency == "" {
		src.Currency = "usd"
	}
	if src.PageSize <= 0 {
		src.PageSize = 250
	}
	if src.TopPages <= 0 {
		src.TopPages = 4
	}
	if src.RequestDelay <= 0 {
		src.RequestDelay = 15 * time.Second
	}
	if src.Timeout <= 0 {
		src.Timeout = 10 * time.Second
	}
	if src.Retry.MaxAttempts <= 0 {
		src.Retry.MaxAttempts = 3
	}
	if src.Retry.BaseDelay <= 0 {
		src.Retry.BaseDelay = 2 * time.Second
	}

	if cfg.Channels.PollTimeout <= 0 {
		cfg.Channels.PollTimeout = 5 * time.Second
	}

	if cfg.Cache.SnapshotPath == "" {
		cfg.Cache.SnapshotPath = defaultSnapshotPath()
	}

	if cfg.Scheduler.FetchInterval <= 0 {
		cfg.Scheduler.FetchInterval = time.Minute
	}
	if cfg.Scheduler.PersistInterval <= 0 {
		cfg.Scheduler.PersistInterval = 30 * time.Second
	}

	dyn := &cfg.Storage.Dynamo
	if dyn.BatchSize <= 0 || dyn.BatchSize > 25 {
		dyn.BatchSize = 25
	}
	if dyn.WriteCapacity <= 0 {
		dyn.WriteCapacity = 25
	}
	if dyn.MaxRetries <= 0 {
		dyn.MaxRetries = 5
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		cfg.Source.Coingecko.APIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("FETCH_INTERVAL"); v != "" {
		if d, err := parseIntervalEnv(v); err == nil {
			cfg.Scheduler.FetchInterval = d
		}
	}
	if v := os.Getenv("PERSIST_INTERVAL"); v != "" {
		if d, err := parseIntervalEnv(v); err == nil {
			cfg.Scheduler.PersistInterval = d
		}
	}

	if cfg.Storage.Dynamo.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Storage.Dynamo.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Storage.Dynamo.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Storage.Dynamo.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("DYNAMO_TABLE"); v != "" {
			cfg.Storage.Dynamo.Table = strings.TrimSpace(v)
		}
	}
}

// parseIntervalEnv accepts either a Go duration string ("90s") or a plain
// number of seconds ("90").
func parseIntervalEnv(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", v)
	}
	return time.Duration(secs) * time.Second, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Coinflow.Name == "" {
		return fmt.Errorf("coinflow.name is required")
	}

	if cfg.Coinflow.Version == "" {
		return fmt.Errorf("coinflow.version is required")
	}

	if cfg.Channels.BatchBuffer <= 0 {
		return fmt.Errorf("channels.batch_buffer must be greater than 0")
	}

	if cfg.Source.Coingecko.PageSize > 250 {
		return fmt.Errorf("source.coingecko.page_size must not exceed the provider limit of 250")
	}

	if cfg.Cache.MaxSize < 0 {
		return fmt.Errorf("cache.max_size must not be negative")
	}

	if cfg.Storage.Dynamo.Enabled {
		if cfg.Storage.Dynamo.Table == "" {
			return fmt.Errorf("storage.dynamodb.table is required when DynamoDB is enabled")
		}
		if cfg.Storage.Dynamo.Region == "" && cfg.Storage.Dynamo.Endpoint == "" {
			return fmt.Errorf("storage.dynamodb.region is required when DynamoDB is enabled")
		}
		if !isValidTableName(cfg.Storage.Dynamo.Table) {
			return fmt.Errorf("storage.dynamodb.table '%s' is invalid", cfg.Storage.Dynamo.Table)
		}
		// Development falls back to the SDK credential chain or a local
		// endpoint; production-like deployments must state their store
		// credentials explicitly.
		if IsProductionLike(getAppEnvironment()) && cfg.Storage.Dynamo.Endpoint == "" {
			if cfg.Storage.Dynamo.AccessKeyID == "" || cfg.Storage.Dynamo.SecretAccessKey == "" {
				return fmt.Errorf("storage.dynamodb.access_key_id and storage.dynamodb.secret_access_key are required in %s", getAppEnvironment())
			}
		}
	}

	return nil
}

// isValidTableName checks the DynamoDB table naming rules: 3-255 characters
// from [a-zA-Z0-9_.-].
func isValidTableName(name string) bool {
	if len(name) < 3 || len(name) > 255 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '.' || r == '-':
		default:
			return false
		}
	}
	return true
}
