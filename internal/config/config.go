// Package config загружает конфигурацию сервиса из файла, .env и переменных окружения.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix — префикс переменных окружения: POLICY_HTTP_ADDR → http.addr.
const EnvPrefix = "POLICY"

// Storage drivers.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Sequence/OTP backends.
const (
	BackendStorage = "storage"
	BackendRedis   = "redis"
	BackendMemory  = "memory"
)

// Config — полная конфигурация policy-service.
type Config struct {
	HTTP          HTTPConfig          `mapstructure:"http"`
	GRPC          GRPCConfig          `mapstructure:"grpc"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Log           LogConfig           `mapstructure:"log"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	OTP           OTPConfig           `mapstructure:"otp"`
	Sequence      SequenceConfig      `mapstructure:"sequence"`
	Providers     ProvidersConfig     `mapstructure:"providers"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Commission    CommissionConfig    `mapstructure:"commission"`
	Subscription  SubscriptionConfig  `mapstructure:"subscription"`
	Outbox        OutboxConfig        `mapstructure:"outbox"`
	Idempotency   IdempotencyConfig   `mapstructure:"idempotency"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Enabled сообщает, что адрес Redis задан.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	ClientID string   `mapstructure:"client_id"`
	DLQTopic string   `mapstructure:"dlq_topic"`
}

// Enabled сообщает, что список брокеров не пуст.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

type OTPConfig struct {
	Backend     string        `mapstructure:"backend"`
	CodeLength  int           `mapstructure:"code_length"`
	TTL         time.Duration `mapstructure:"ttl"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type SequenceConfig struct {
	Backend       string            `mapstructure:"backend"`
	DefaultPrefix string            `mapstructure:"default_prefix"`
	Prefixes      map[string]string `mapstructure:"-"`
}

type ProvidersConfig struct {
	MobileMoney MobileMoneyConfig        `mapstructure:"mobilemoney"`
	Checkout    CheckoutConfig           `mapstructure:"checkout"`
	Resilience  ProviderResilienceConfig `mapstructure:"resilience"`
}

// ProviderResilienceConfig управляет circuit breaker и повторами опроса статуса.
type ProviderResilienceConfig struct {
	MaxFailures   int           `mapstructure:"max_failures"`
	ResetTimeout  time.Duration `mapstructure:"reset_timeout"`
	StatusRetries int           `mapstructure:"status_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

type MobileMoneyConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Secret      string        `mapstructure:"secret"`
	Timeout     time.Duration `mapstructure:"timeout"`
	SMSTemplate string        `mapstructure:"sms_template"`
}

type CheckoutConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	WebhookSecret    string        `mapstructure:"webhook_secret"`
	WebhookTolerance time.Duration `mapstructure:"webhook_tolerance"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

type NotificationsConfig struct {
	SNS SNSConfig `mapstructure:"sns"`
}

type SNSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Region   string `mapstructure:"region"`
	SenderID string `mapstructure:"sender_id"`
}

type CommissionConfig struct {
	Default    string            `mapstructure:"default"`
	ByCategory map[string]string `mapstructure:"-"`
}

type SubscriptionConfig struct {
	AutoPromote bool `mapstructure:"auto_promote"`
}

type OutboxConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	EffectTimeout  time.Duration `mapstructure:"effect_timeout"`
}

type IdempotencyConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	CleanupBatch    int           `mapstructure:"cleanup_batch"`
}

// Options управляет источниками конфигурации.
type Options struct {
	// File — явный путь к YAML; пустое значение включает поиск config.yaml.
	File string
	// EnvFiles — .env файлы; отсутствующие пропускаются.
	EnvFiles []string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 5*time.Second)
	v.SetDefault("grpc.addr", ":50051")
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("storage.driver", StorageMemory)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.auto_migrate", false)
	v.SetDefault("postgres.max_open_conns", 20)
	v.SetDefault("postgres.max_idle_conns", 10)
	v.SetDefault("postgres.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("postgres.conn_max_idle_time", 5*time.Minute)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "policyhub")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.client_id", "policy-service")
	v.SetDefault("kafka.dlq_topic", "")

	v.SetDefault("otp.backend", BackendRedis)
	v.SetDefault("otp.code_length", 5)
	v.SetDefault("otp.ttl", 5*time.Minute)
	v.SetDefault("otp.max_attempts", 3)

	v.SetDefault("sequence.backend", BackendStorage)
	v.SetDefault("sequence.default_prefix", "POL")
	v.SetDefault("sequence.prefixes", "")

	v.SetDefault("providers.mobilemoney.enabled", false)
	v.SetDefault("providers.mobilemoney.base_url", "")
	v.SetDefault("providers.mobilemoney.api_key", "")
	v.SetDefault("providers.mobilemoney.secret", "")
	v.SetDefault("providers.mobilemoney.timeout", 15*time.Second)
	v.SetDefault("providers.mobilemoney.sms_template", "")
	v.SetDefault("providers.checkout.enabled", false)
	v.SetDefault("providers.checkout.base_url", "")
	v.SetDefault("providers.checkout.api_key", "")
	v.SetDefault("providers.checkout.webhook_secret", "")
	v.SetDefault("providers.checkout.webhook_tolerance", 5*time.Minute)
	v.SetDefault("providers.checkout.timeout", 15*time.Second)
	v.SetDefault("providers.resilience.max_failures", 5)
	v.SetDefault("providers.resilience.reset_timeout", 30*time.Second)
	v.SetDefault("providers.resilience.status_retries", 2)
	v.SetDefault("providers.resilience.retry_delay", 200*time.Millisecond)

	v.SetDefault("notifications.sns.enabled", false)
	v.SetDefault("notifications.sns.region", "")
	v.SetDefault("notifications.sns.sender_id", "")

	v.SetDefault("commission.default", "0")
	v.SetDefault("commission.by_category", "")

	v.SetDefault("subscription.auto_promote", true)

	v.SetDefault("outbox.poll_interval", time.Second)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_attempts", 5)
	v.SetDefault("outbox.retry_base_delay", 500*time.Millisecond)
	v.SetDefault("outbox.effect_timeout", 10*time.Second)

	v.SetDefault("idempotency.ttl", 24*time.Hour)
	v.SetDefault("idempotency.cleanup_interval", time.Minute)
	v.SetDefault("idempotency.cleanup_batch", 500)
}

// Load читает конфигурацию: значения по умолчанию, затем YAML, затем .env и окружение.
func Load(opts Options) (Config, error) {
	for _, path := range opts.EnvFiles {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", path, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", opts.File, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	var err error
	if cfg.Sequence.Prefixes, err = stringMap(v, "sequence.prefixes"); err != nil {
		return Config{}, err
	}
	if cfg.Commission.ByCategory, err = stringMap(v, "commission.by_category"); err != nil {
		return Config{}, err
	}
	cfg.Kafka.Brokers = compact(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность секций.
func (c Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			errs = append(errs, errors.New("postgres.dsn is required for storage.driver=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	switch c.OTP.Backend {
	case BackendRedis, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown otp.backend %q", c.OTP.Backend))
	}

	switch c.Sequence.Backend {
	case BackendStorage, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown sequence.backend %q", c.Sequence.Backend))
	}
	if c.Sequence.Backend == BackendRedis && !c.Redis.Enabled() {
		errs = append(errs, errors.New("redis.addr is required for sequence.backend=redis"))
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	if c.Providers.MobileMoney.Enabled && c.Providers.MobileMoney.BaseURL == "" {
		errs = append(errs, errors.New("providers.mobilemoney.base_url is required"))
	}
	if c.Providers.Checkout.Enabled && c.Providers.Checkout.BaseURL == "" {
		errs = append(errs, errors.New("providers.checkout.base_url is required"))
	}
	if r := c.Providers.Resilience; r.MaxFailures < 0 || r.StatusRetries < 0 || r.ResetTimeout < 0 || r.RetryDelay < 0 {
		errs = append(errs, errors.New("providers.resilience values must not be negative"))
	}
	if c.Notifications.SNS.Enabled && c.Notifications.SNS.Region == "" {
		errs = append(errs, errors.New("notifications.sns.region is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// stringMap читает ключ либо как YAML-словарь, либо как строку "k1=v1,k2=v2" из окружения.
func stringMap(v *viper.Viper, key string) (map[string]string, error) {
	raw, ok := v.Get(key).(string)
	if !ok {
		out := make(map[string]string)
		for k, val := range v.GetStringMapString(key) {
			out[strings.ToLower(k)] = val
		}
		return out, nil
	}

	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, val, found := strings.Cut(pair, "=")
		if !found || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("%s: malformed entry %q", key, pair)
		}
		out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(val)
	}
	return out, nil
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
