package config

import (
	"os"
	"strconv"
	"time"
)

// DBConfig 数据库配置
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	// SlowQueryMS 慢查询阈值（毫秒），0 表示使用默认值
	SlowQueryMS int `yaml:"slow_query_ms"`
}

// MQConfig 消息队列配置，URL 为空时不启用
type MQConfig struct {
	URL string `yaml:"url"`
	// Outbox 投递参数，仅在 postgres 存储下生效
	OutboxInterval   time.Duration `yaml:"outbox_interval"`
	OutboxBatchSize  int           `yaml:"outbox_batch_size"`
	OutboxMaxRetries int           `yaml:"outbox_max_retries"`
}

// RedisConfig Redis配置，Addr 为空时使用进程内锁
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port string `yaml:"port"`
}

// OTelConfig 链路追踪配置
type OTelConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// EngineConfig controls completion and streak evaluation.
type EngineConfig struct {
	// Timezone decides which calendar day "today" is.
	Timezone string `yaml:"timezone"`
	// EmptyDayComplete is the policy for days with no required in-scope tasks.
	EmptyDayComplete bool `yaml:"empty_day_complete"`
	// LockTTL bounds how long a Redis day lock may be held.
	LockTTL time.Duration `yaml:"lock_ttl"`
	// SeedDefaults creates the starter tasks for an empty profile on first read.
	SeedDefaults bool `yaml:"seed_defaults"`
}

// SyncConfig controls the periodic metric sync loop.
type SyncConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	LookbackDays int           `yaml:"lookback_days"`
}

// PunchListConfig controls the archive job for completed one-off tasks.
type PunchListConfig struct {
	// ArchiveAfterDays 完成超过该天数的任务被归档
	ArchiveAfterDays int           `yaml:"archive_after_days"`
	ArchiveInterval  time.Duration `yaml:"archive_interval"`
}

// OverrideDBFromEnv 从环境变量覆盖数据库配置
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
}

// OverrideMQFromEnv 从环境变量覆盖MQ配置
func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

// OverrideRedisFromEnv 从环境变量覆盖Redis配置
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

// OverrideServerFromEnv 从环境变量覆盖服务器配置
func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

func OverrideEngineFromEnv(cfg *EngineConfig) {
	if tz := os.Getenv("APP_TIMEZONE"); tz != "" {
		cfg.Timezone = tz
	}
}

func OverrideSyncFromEnv(cfg *SyncConfig) {
	if v := os.Getenv("METRIC_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Interval = d
		}
	}
	if v := os.Getenv("METRIC_SYNC_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Enabled = b
		}
	}
}
