package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Pinning   PinningConfig   `mapstructure:"pinning"`
	Paystack  PaystackConfig  `mapstructure:"paystack"`
	Mint      MintConfig      `mapstructure:"mint"`
	Cache     CacheConfig     `mapstructure:"cache"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	Mode         string        `mapstructure:"mode" validate:"oneof=debug release test"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN             string        `mapstructure:"dsn" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level" validate:"oneof=silent error warn info"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LedgerConfig Hedera 兼容账本网关
type LedgerConfig struct {
	GatewayURL          string        `mapstructure:"gateway_url" validate:"required,url"`
	OperatorAccountID   string        `mapstructure:"operator_account_id"`
	OperatorPrivateKey  string        `mapstructure:"operator_private_key"`
	AuthenticityTokenID string        `mapstructure:"authenticity_token_id"`
	OwnershipTokenID    string        `mapstructure:"ownership_token_id"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
}

type PinningConfig struct {
	BaseURL    string        `mapstructure:"base_url" validate:"required,url"`
	GatewayURL string        `mapstructure:"gateway_url"`
	APIKey     string        `mapstructure:"api_key"`
	APISecret  string        `mapstructure:"api_secret"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type PaystackConfig struct {
	BaseURL             string        `mapstructure:"base_url" validate:"required,url"`
	SecretKey           string        `mapstructure:"secret_key"`
	WebhookSecret       string        `mapstructure:"webhook_secret"`
	CallbackURL         string        `mapstructure:"callback_url"`
	Timeout             time.Duration `mapstructure:"timeout"`
	AllowTestCompletion bool          `mapstructure:"allow_test_completion"`
}

// MintConfig 铸造流水线参数
type MintConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval" validate:"gt=0"`
	Multiplier      float64       `mapstructure:"multiplier" validate:"gte=1"`
	MaxInterval     time.Duration `mapstructure:"max_interval" validate:"gt=0"`
	MaxAttempts     uint          `mapstructure:"max_attempts" validate:"min=1,max=10"`
	CallTimeout     time.Duration `mapstructure:"call_timeout" validate:"gt=0"`
	LockTTL         time.Duration `mapstructure:"lock_ttl" validate:"gt=0"`
	Workers         int           `mapstructure:"workers"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ClaimLimit      int           `mapstructure:"claim_limit"`
	JobMaxAttempts  int           `mapstructure:"job_max_attempts" validate:"min=1"`
	JobRetryDelay   time.Duration `mapstructure:"job_retry_delay"`
	JobLease        time.Duration `mapstructure:"job_lease"`
	ReMintTimeout   time.Duration `mapstructure:"remint_timeout" validate:"gt=0"`
}

type CacheConfig struct {
	CertificateTTL time.Duration `mapstructure:"certificate_ttl"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// RabbitMQConfig 为空 URL 时不发布铸造事件
type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=certmint port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("ledger.gateway_url", "http://localhost:7546")
	v.SetDefault("ledger.request_timeout", 30*time.Second)
	// AutomaticEnv only reaches keys viper already knows about.
	for _, k := range []string{
		"redis.password",
		"ledger.operator_account_id", "ledger.operator_private_key",
		"ledger.authenticity_token_id", "ledger.ownership_token_id",
		"pinning.api_key", "pinning.api_secret",
		"paystack.secret_key", "paystack.webhook_secret", "paystack.callback_url",
		"jwt.secret", "sentry.dsn", "sentry.environment", "rabbitmq.url",
	} {
		v.SetDefault(k, "")
	}
	v.SetDefault("redis.db", 0)
	v.SetDefault("paystack.allow_test_completion", false)
	v.SetDefault("tracing.enabled", false)

	v.SetDefault("pinning.base_url", "https://api.pinata.cloud")
	v.SetDefault("pinning.gateway_url", "https://gateway.pinata.cloud/ipfs")
	v.SetDefault("pinning.timeout", 30*time.Second)

	v.SetDefault("paystack.base_url", "https://api.paystack.co")
	v.SetDefault("paystack.timeout", 15*time.Second)

	v.SetDefault("mint.initial_interval", 300*time.Millisecond)
	v.SetDefault("mint.multiplier", 2.0)
	v.SetDefault("mint.max_interval", 5*time.Second)
	v.SetDefault("mint.max_attempts", 4)
	v.SetDefault("mint.call_timeout", 30*time.Second)
	v.SetDefault("mint.lock_ttl", 10*time.Minute)
	v.SetDefault("mint.workers", 4)
	v.SetDefault("mint.poll_interval", time.Second)
	v.SetDefault("mint.claim_limit", 16)
	v.SetDefault("mint.job_max_attempts", 3)
	v.SetDefault("mint.job_retry_delay", time.Minute)
	v.SetDefault("mint.job_lease", 15*time.Minute)
	v.SetDefault("mint.remint_timeout", 45*time.Second)

	v.SetDefault("cache.certificate_ttl", 10*time.Minute)

	v.SetDefault("jwt.issuer", "zeroxmods")

	v.SetDefault("ratelimit.rps", 20)
	v.SetDefault("ratelimit.burst", 40)

	v.SetDefault("tracing.service_name", "certmint")
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("rabbitmq.exchange", "certificates")
}

// Load 读取 config.yaml（可选）并叠加 CERTMINT_ 前缀的环境变量。
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		v.SetConfigFile(p)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CERTMINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Paystack.WebhookSecret == "" {
		cfg.Paystack.WebhookSecret = cfg.Paystack.SecretKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate 校验结构体标签；release 模式下外部服务密钥必须齐全。
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Server.WriteTimeout > 0 && c.Mint.ReMintTimeout >= c.Server.WriteTimeout {
		return fmt.Errorf("invalid config: mint.remint_timeout (%v) must be below server.write_timeout (%v)",
			c.Mint.ReMintTimeout, c.Server.WriteTimeout)
	}
	if c.Server.Mode != "release" {
		return nil
	}
	var missing []string
	required := map[string]string{
		"ledger.operator_account_id":  c.Ledger.OperatorAccountID,
		"ledger.operator_private_key": c.Ledger.OperatorPrivateKey,
		"pinning.api_key":             c.Pinning.APIKey,
		"pinning.api_secret":          c.Pinning.APISecret,
		"paystack.secret_key":         c.Paystack.SecretKey,
		"paystack.webhook_secret":     c.Paystack.WebhookSecret,
		"jwt.secret":                  c.JWT.Secret,
	}
	for k, val := range required {
		if val == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("invalid config: missing %s", strings.Join(missing, ", "))
	}
	if c.Paystack.AllowTestCompletion {
		return errors.New("invalid config: paystack.allow_test_completion must be off in release mode")
	}
	return nil
}
