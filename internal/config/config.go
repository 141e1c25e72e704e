package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jmehdipour/label-dispatch/internal/model"
)

//go:embed defaults.yaml
var defaults []byte

// MaxLimiterWindow is the longest window the transient limiter accepts.
// Anything longer belongs in durable per-user flags.
const MaxLimiterWindow = 24 * time.Hour

// ---- Root ----

type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	MySQL       DatabaseConfig    `mapstructure:"mysql"`
	ClickHouse  DatabaseConfig    `mapstructure:"clickhouse"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Quota       QuotaConfig       `mapstructure:"quota"`
	Match       MatchConfig       `mapstructure:"match"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch"`
	Providers   []ProviderConfig  `mapstructure:"providers"`
	Lifecycle   LifecycleConfig   `mapstructure:"lifecycle"`
	Unsubscribe UnsubscribeConfig `mapstructure:"unsubscribe"`
	Webhook     WebhookConfig     `mapstructure:"webhook"`
	Reconcile   ReconcileConfig   `mapstructure:"reconcile"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type HTTPConfig struct {
	Addr          string   `mapstructure:"addr"`
	ServiceKeys   []string `mapstructure:"service_keys"`
	PublicBaseURL string   `mapstructure:"public_base_url"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Brokers        []string      `mapstructure:"brokers"`
	AnalyticsTopic string        `mapstructure:"analytics_topic"`
	GroupID        string        `mapstructure:"group_id"`
	MinBytes       int           `mapstructure:"min_bytes"`
	MaxBytes       int           `mapstructure:"max_bytes"`
	CommitInterval int           `mapstructure:"commit_interval_ms"`
	WriterBatch    time.Duration `mapstructure:"writer_batch_timeout"`
	BatchSize      int           `mapstructure:"batch_size"`
	BatchWait      time.Duration `mapstructure:"batch_wait"`
}

type RateLimitConfig struct {
	Backend string                `mapstructure:"backend"` // redis|memory
	Actions map[string]RuleConfig `mapstructure:"actions"`
}

type RuleConfig struct {
	Max    int           `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`
}

type QuotaConfig struct {
	Tiers          map[string]int `mapstructure:"tiers"` // -1 = unlimited
	ActiveStatuses []string       `mapstructure:"active_statuses"`
	GraceStatuses  []string       `mapstructure:"grace_statuses"`
	Timezone       string         `mapstructure:"timezone"`
}

type MatchConfig struct {
	MaxResults int `mapstructure:"max_results"`
}

type DispatchConfig struct {
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	FromAddress string        `mapstructure:"from_address"`
	FromName    string        `mapstructure:"from_name"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type RetryConfig struct {
	Attempts uint          `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

type ProviderConfig struct {
	Name          string        `mapstructure:"name"`
	Kind          string        `mapstructure:"kind"` // postmark|ses|log
	Enabled       bool          `mapstructure:"enabled"`
	BaseURL       string        `mapstructure:"base_url"`
	Token         string        `mapstructure:"token"`
	MessageStream string        `mapstructure:"message_stream"`
	Region        string        `mapstructure:"region"`
	AccessKeyID   string        `mapstructure:"access_key_id"`
	SecretKey     string        `mapstructure:"secret_access_key"`
	TimeoutMs     int           `mapstructure:"timeout_ms"`
	Breaker       BreakerConfig `mapstructure:"breaker"`
	Retry         RetryConfig   `mapstructure:"retry"`
}

type LifecycleConfig struct {
	LockTTL time.Duration              `mapstructure:"lock_ttl"`
	Types   map[string]EmailTypeConfig `mapstructure:"types"`
}

// EmailTypeConfig overrides one built-in lifecycle entry; zero fields keep
// the built-in value.
type EmailTypeConfig struct {
	Policy        string        `mapstructure:"policy"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
	Transactional *bool         `mapstructure:"transactional"`
	Subject       string        `mapstructure:"subject"`
	HTML          string        `mapstructure:"html"`
	Text          string        `mapstructure:"text"`
}

type UnsubscribeConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
	Issuer string        `mapstructure:"issuer"`
}

type WebhookConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type ReconcileConfig struct {
	StaleAfter time.Duration `mapstructure:"stale_after"`
	Interval   time.Duration `mapstructure:"interval"`
	LockTTL    time.Duration `mapstructure:"lock_ttl"`
	BatchLimit int           `mapstructure:"batch_limit"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (LABELD_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isMissingFile(err) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	// env override (LABELD_*)
	v.SetEnvPrefix("LABELD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}

// Validate checks invariants shared by every command.
func (c Config) Validate() error {
	var errs []error

	for _, t := range model.Tiers {
		limit, ok := c.Quota.Tiers[t.String()]
		if !ok {
			errs = append(errs, fmt.Errorf("quota.tiers: missing tier %q", t))
			continue
		}
		if limit < -1 {
			errs = append(errs, fmt.Errorf("quota.tiers.%s: %d is not a cap (use -1 for unlimited)", t, limit))
		}
	}
	for name := range c.Quota.Tiers {
		if _, ok := model.ParseTier(name); !ok {
			errs = append(errs, fmt.Errorf("quota.tiers: unknown tier %q", name))
		}
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("quota.timezone: %w", err))
	}

	switch c.RateLimit.Backend {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("rate_limit.backend: unknown backend %q", c.RateLimit.Backend))
	}
	for action, r := range c.RateLimit.Actions {
		if r.Max <= 0 || r.Window <= 0 {
			errs = append(errs, fmt.Errorf("rate_limit.actions.%s: max and window must be positive", action))
		}
		if r.Window >= MaxLimiterWindow {
			errs = append(errs, fmt.Errorf("rate_limit.actions.%s: window %s too long for the transient limiter", action, r.Window))
		}
	}

	for name, t := range c.Lifecycle.Types {
		switch model.DispatchPolicy(t.Policy) {
		case "", model.PolicyOnce:
		case model.PolicyCooldown:
			if t.Cooldown < 0 {
				errs = append(errs, fmt.Errorf("lifecycle.types.%s: negative cooldown", name))
			}
		default:
			errs = append(errs, fmt.Errorf("lifecycle.types.%s: unknown policy %q", name, t.Policy))
		}
	}

	if strings.TrimSpace(c.Unsubscribe.Secret) == "" {
		errs = append(errs, errors.New("unsubscribe.secret: required"))
	}
	if c.Dispatch.SendTimeout <= 0 {
		errs = append(errs, errors.New("dispatch.send_timeout: must be positive"))
	}

	return errors.Join(errs...)
}

// ValidateServe adds the checks only the API server needs.
func (c Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	for _, p := range c.Providers {
		if p.Enabled {
			return nil
		}
	}
	return errors.New("providers: at least one provider must be enabled")
}
