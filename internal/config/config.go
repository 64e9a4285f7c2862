package config

import (
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Database struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"ssl-mode"`
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms"`
}

type KafkaBroker struct {
	URL string `mapstructure:"url"`
}

type KafkaTopic struct {
	OrderEvents string `mapstructure:"order-events"`
}

type KafkaReader struct {
	GroupID string `mapstructure:"group-id"`
}

type Kafka struct {
	Enabled bool        `mapstructure:"enabled"`
	Writer  KafkaWriter `mapstructure:"writer"`
	Broker  KafkaBroker `mapstructure:"broker"`
	Topic   KafkaTopic  `mapstructure:"topic"`
	Reader  KafkaReader `mapstructure:"reader"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Server struct {
	Port string `mapstructure:"port"`
}

type Dispatch struct {
	Parallelism      int    `mapstructure:"parallelism"`
	LocalWorkers     int    `mapstructure:"local-workers"`
	TimeoutMs        int    `mapstructure:"timeout-ms"`
	SignatureHeader  string `mapstructure:"signature-header"`
	EventHeader      string `mapstructure:"event-header"`
	ResponseBodySize int    `mapstructure:"response-body-size"`
}

type Sweeper struct {
	IntervalMs        int `mapstructure:"interval-ms"`
	BatchSize         int `mapstructure:"batch-size"`
	MaxAttempts       int `mapstructure:"max-attempts"`
	BackoffBaseMs     int `mapstructure:"backoff-base-ms"`
	BackoffMaxMs      int `mapstructure:"backoff-max-ms"`
	AbandonAfterHours int `mapstructure:"abandon-after-hours"`
}

type Pix struct {
	PollIntervalMs  int `mapstructure:"poll-interval-ms"`
	MaxPollAttempts int `mapstructure:"max-poll-attempts"`
	ChargeTTLMs     int `mapstructure:"charge-ttl-ms"`
	MinValueInCents int `mapstructure:"min-value-in-cents"`
}

type Gateway struct {
	URL        string `mapstructure:"url"`
	Token      string `mapstructure:"token"`
	WebhookURL string `mapstructure:"webhook-url"`
	TimeoutMs  int    `mapstructure:"timeout-ms"`
}

type Inbound struct {
	Secret          string `mapstructure:"secret"`
	SignatureHeader string `mapstructure:"signature-header"`
	ReplayWindowMs  int    `mapstructure:"replay-window-ms"`
}

type Utmify struct {
	URL             string `mapstructure:"url"`
	PendingMaxDays  int    `mapstructure:"pending-max-days"`
	RefundedMaxDays int    `mapstructure:"refunded-max-days"`
	Platform        string `mapstructure:"platform"`
}

type Facebook struct {
	GraphURL   string `mapstructure:"graph-url"`
	APIVersion string `mapstructure:"api-version"`
}

type Metrics struct {
	URL          string `mapstructure:"url"`
	IntervalMs   int    `mapstructure:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels"`
}

type Logs struct {
	URL   string `mapstructure:"url"`
	Level string `mapstructure:"level"`
}

type Config struct {
	Database Database `mapstructure:"database"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Redis    Redis    `mapstructure:"redis"`
	Server   Server   `mapstructure:"server"`
	Dispatch Dispatch `mapstructure:"dispatch"`
	Sweeper  Sweeper  `mapstructure:"sweeper"`
	Pix      Pix      `mapstructure:"pix"`
	Gateway  Gateway  `mapstructure:"gateway"`
	Inbound  Inbound  `mapstructure:"inbound"`
	Utmify   Utmify   `mapstructure:"utmify"`
	Facebook Facebook `mapstructure:"facebook"`
	Metrics  Metrics  `mapstructure:"metrics"`
	Logs     Logs     `mapstructure:"logs"`
}

// keys without a default are invisible to AutomaticEnv during Unmarshal
var envOnlyKeys = []string{
	"database.user", "database.password", "database.name",
	"redis.addr", "redis.password",
	"gateway.url", "gateway.token", "gateway.webhook-url",
	"inbound.secret",
	"metrics.url", "metrics.common-labels",
	"logs.url",
}

func setDefaults(v *viper.Viper) {
	for _, key := range envOnlyKeys {
		v.SetDefault(key, "")
	}
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.ssl-mode", "disable")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.broker.url", "localhost:9092")
	v.SetDefault("kafka.topic.order-events", "order-events")
	v.SetDefault("kafka.reader.group-id", "checkout-dispatch")
	v.SetDefault("kafka.writer.batch-size", 100)
	v.SetDefault("kafka.writer.batch-timeout-ms", 100)

	v.SetDefault("server.port", "8080")

	v.SetDefault("dispatch.parallelism", 8)
	v.SetDefault("dispatch.local-workers", 100)
	v.SetDefault("dispatch.timeout-ms", 10_000)
	v.SetDefault("dispatch.signature-header", "X-Webhook-Signature")
	v.SetDefault("dispatch.event-header", "X-Webhook-Event")
	v.SetDefault("dispatch.response-body-size", 1024)

	v.SetDefault("sweeper.interval-ms", 30_000)
	v.SetDefault("sweeper.batch-size", 50)
	v.SetDefault("sweeper.max-attempts", 5)
	v.SetDefault("sweeper.backoff-base-ms", 10_000)
	v.SetDefault("sweeper.backoff-max-ms", 600_000)
	v.SetDefault("sweeper.abandon-after-hours", 24)

	v.SetDefault("pix.poll-interval-ms", 5_000)
	v.SetDefault("pix.max-poll-attempts", 30)
	v.SetDefault("pix.charge-ttl-ms", 15*60*1000)
	v.SetDefault("pix.min-value-in-cents", 50)

	v.SetDefault("gateway.timeout-ms", 10_000)

	v.SetDefault("inbound.signature-header", "X-Gateway-Signature")
	v.SetDefault("inbound.replay-window-ms", 24*60*60*1000)

	v.SetDefault("utmify.url", "https://api.utmify.com.br/api-credentials/orders")
	v.SetDefault("utmify.pending-max-days", 7)
	v.SetDefault("utmify.refunded-max-days", 45)
	v.SetDefault("utmify.platform", "checkout")

	v.SetDefault("facebook.graph-url", "https://graph.facebook.com")
	v.SetDefault("facebook.api-version", "v18.0")

	v.SetDefault("metrics.interval-ms", 10_000)
	v.SetDefault("logs.level", "info")
}

func LoadConfig(path string) (*Config, error) {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("CHECKOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func MustLoadConfig(path string) *Config {
	config, err := LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return config
}
