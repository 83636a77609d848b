// Package config 提供 TOML 配置加载与环境变量覆盖。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wyfcoding/ledgercore/pkg/logger"
)

// Config 服务配置根结构。
type Config struct {
	// ServiceName 服务名称。
	ServiceName string `mapstructure:"service_name"`
	// Environment 环境：dev, staging, prod。
	Environment string `mapstructure:"environment"`
	// Database 数据库配置。
	Database DatabaseConfig `mapstructure:"database"`
	// Redis Redis 配置。
	Redis RedisConfig `mapstructure:"redis"`
	// Kafka Kafka 配置。
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Logger 日志配置。
	Logger logger.Config `mapstructure:"logger"`
	// Metrics 指标配置。
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Saga saga 引擎配置。
	Saga SagaConfig `mapstructure:"saga"`
	// Breaker 熔断器配置。
	Breaker BreakerConfig `mapstructure:"breaker"`
	// MarketMaker 做市工作流配置。
	MarketMaker MarketMakerConfig `mapstructure:"market_maker"`
	// Platform 平台级业务参数。
	Platform PlatformConfig `mapstructure:"platform"`
}

// PlatformConfig 平台级业务参数。
type PlatformConfig struct {
	// QuoteAsset 估值与清算的计价币种。
	QuoteAsset string `mapstructure:"quote_asset"`
	// ReserveID 清算坏账兜底使用的储备金池。
	ReserveID string `mapstructure:"reserve_id"`
}

// DatabaseConfig 数据库配置。
type DatabaseConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	LogEnabled      bool   `mapstructure:"log_enabled"`
}

// RedisConfig Redis 配置。
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	MaxPoolSize  int    `mapstructure:"max_pool_size"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// KafkaConfig Kafka 配置。
type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	MaxRetries     int      `mapstructure:"max_retries"`
	RetryBackoffMS int      `mapstructure:"retry_backoff_ms"`
}

// MetricsConfig 指标配置。
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// SagaConfig saga 引擎配置。
type SagaConfig struct {
	// MaxInFlight 同时在飞的 saga 实例上限。
	MaxInFlight int `mapstructure:"max_in_flight"`
	// SnapshotEvery 聚合快照间隔（事件数）。
	SnapshotEvery int64 `mapstructure:"snapshot_every"`
	// MarkerTTLHours 步骤幂等标记保留时长（小时）。
	MarkerTTLHours int `mapstructure:"marker_ttl_hours"`
}

// BreakerConfig 熔断器配置。
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	WindowSeconds    int `mapstructure:"window_seconds"`
	CooldownSeconds  int `mapstructure:"cooldown_seconds"`
}

// MarketMakerConfig 做市工作流配置。
type MarketMakerConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Symbol        string `mapstructure:"symbol"`
	BaseAsset     string `mapstructure:"base_asset"`
	QuoteAsset    string `mapstructure:"quote_asset"`
	AccountID     string `mapstructure:"account_id"`
	SpreadBps     int64  `mapstructure:"spread_bps"`
	OrderSize     string `mapstructure:"order_size"`
	IntervalMS    int    `mapstructure:"interval_ms"`
	MaxInventory  string `mapstructure:"max_inventory"`
}

// Load 加载 TOML 配置文件，环境变量以 LEDGERCORE_ 前缀覆盖同名配置。
func Load(path string, cfg *Config) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("LEDGERCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// MarkerTTL 步骤幂等标记保留时长。
func (c SagaConfig) MarkerTTL() time.Duration {
	if c.MarkerTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.MarkerTTLHours) * time.Hour
}
