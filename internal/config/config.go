package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type StorageConfig struct {
	FilePath string `mapstructure:"file_path"`
}

type RemoteConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	BlobURL   string `mapstructure:"blob_url"`
	AuthToken string `mapstructure:"auth_token"`
	Timeout   string `mapstructure:"timeout"`
}

func (r RemoteConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(r.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

type SyncConfig struct {
	ChunkSize         int    `mapstructure:"chunk_size"`
	ConcurrencyWindow int    `mapstructure:"concurrency_window"`
	MaxRetries        int    `mapstructure:"max_retries"`
	BaseDelay         string `mapstructure:"base_delay"`
	PurgeAfter        string `mapstructure:"purge_after"`
}

func (s SyncConfig) GetBaseDelay() time.Duration {
	d, err := time.ParseDuration(s.BaseDelay)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

func (s SyncConfig) GetPurgeAfter() time.Duration {
	d, err := time.ParseDuration(s.PurgeAfter)
	if err != nil || d <= 0 {
		return 7 * 24 * time.Hour
	}
	return d
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type ServerConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	AuthToken    string   `mapstructure:"auth_token"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// LoadConfig reads the YAML config at path and applies defaults for the
// sync engine knobs.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("storage.file_path", "caseline.db")
	v.SetDefault("sync.chunk_size", 10)
	v.SetDefault("sync.concurrency_window", 5)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.base_delay", "1s")
	v.SetDefault("sync.purge_after", "168h")
	v.SetDefault("scheduler.interval", "@every 5m")
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8085)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
