package config

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"habitstreak/pkg/config"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	// Storage selects the Store backend: memory or postgres.
	Storage string              `yaml:"storage"`
	DB      config.DBConfig     `yaml:"db"`
	Redis   config.RedisConfig  `yaml:"redis"`
	MQ      config.MQConfig     `yaml:"mq"`
	Server  config.ServerConfig `yaml:"server"`
	OTel    config.OTelConfig   `yaml:"otel"`
	Engine  config.EngineConfig `yaml:"engine"`
	Sync    config.SyncConfig   `yaml:"sync"`
	Log     LogConfig           `yaml:"log"`

	// PunchList 待办清单归档任务
	PunchList config.PunchListConfig `yaml:"punch_list"`
}

type LogConfig struct {
	Development bool `yaml:"development"`
}

func defaults() Config {
	return Config{
		Storage: StorageMemory,
		Server:  config.ServerConfig{Port: ":8080"},
		MQ: config.MQConfig{
			OutboxInterval:   time.Second,
			OutboxBatchSize:  100,
			OutboxMaxRetries: 5,
		},
		Engine: config.EngineConfig{
			Timezone:         "UTC",
			EmptyDayComplete: true,
			LockTTL:          10 * time.Second,
		},
		Sync: config.SyncConfig{
			Enabled:      true,
			Interval:     time.Hour,
			LookbackDays: 2,
		},
		PunchList: config.PunchListConfig{
			ArchiveAfterDays: 7,
			ArchiveInterval:  24 * time.Hour,
		},
	}
}

// Load reads config/<CONFIG_ENV>.yaml on top of config/base.yaml and applies
// environment overrides. CONFIG_DIR moves the config directory.
func Load() (*Config, error) {
	return LoadFrom(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
}

func LoadFrom(env, dir string) (*Config, error) {
	merged, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, err
	}

	cfg := defaults()
	if err := config.Decode(merged, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideEngineFromEnv(&cfg.Engine)
	config.OverrideSyncFromEnv(&cfg.Sync)
	if s := os.Getenv("STORAGE"); s != "" {
		cfg.Storage = s
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}
	if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
		return fmt.Errorf("invalid engine.timezone %q: %w", c.Engine.Timezone, err)
	}
	if c.Sync.LookbackDays < 0 {
		return fmt.Errorf("sync.lookback_days must not be negative")
	}
	if c.PunchList.ArchiveAfterDays < 0 || c.PunchList.ArchiveInterval <= 0 {
		return fmt.Errorf("punch_list.archive_after_days must not be negative and archive_interval must be positive")
	}
	if c.MQ.OutboxInterval <= 0 || c.MQ.OutboxBatchSize <= 0 || c.MQ.OutboxMaxRetries <= 0 {
		return fmt.Errorf("mq outbox settings must be positive")
	}
	return nil
}
