package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port     int   `mapstructure:"port"`
	WorkerID int64 `mapstructure:"worker_id"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PaymentEvent  string `mapstructure:"payment_event"`
	ScheduleEvent string `mapstructure:"schedule_event"`
	Notification  string `mapstructure:"notification"`
}

// GatewayConfig 支付网关配置
type GatewayConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	ClientKey      string `mapstructure:"client_key"`
	SecretKey      string `mapstructure:"secret_key"`
	SuccessURL     string `mapstructure:"success_url"`
	FailURL        string `mapstructure:"fail_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

func (g GatewayConfig) Timeout() time.Duration {
	if g.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(g.TimeoutSeconds) * time.Second
}

type BusinessConfig struct {
	PaymentTimeoutMinutes int    `mapstructure:"payment_timeout_minutes"`
	MaxRetryCount         int    `mapstructure:"max_retry_count"`
	DeliveryWeekdays      string `mapstructure:"delivery_weekdays"`
	ScheduleHorizonDays   int    `mapstructure:"schedule_horizon_days"`
	LowBalanceThreshold   int64  `mapstructure:"low_balance_threshold"`
	Timezone              string `mapstructure:"timezone"`
}

// Location 业务时区，“今天”按该时区计算
func (b BusinessConfig) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("kafka.topic.payment_event", "payment-event")
	v.SetDefault("kafka.topic.schedule_event", "schedule-event")
	v.SetDefault("kafka.topic.notification", "notification")
	v.SetDefault("gateway.timeout_seconds", 10)
	v.SetDefault("business.payment_timeout_minutes", 30)
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.delivery_weekdays", "1,2,3,4,5")
	v.SetDefault("business.schedule_horizon_days", 90)
	v.SetDefault("business.low_balance_threshold", 2)
	v.SetDefault("business.timezone", "Asia/Seoul")
}

// LoadConfig 加载配置文件，环境变量 MEALSUB_* 可覆盖同名配置项
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MEALSUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return cfg, nil
}

// Default 返回只包含默认值的配置，测试中使用
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}
