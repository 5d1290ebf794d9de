// Package config loads and validates pressroom configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/queue"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Crawler       CrawlerConfig       `mapstructure:"crawler"`
	Headless      HeadlessConfig      `mapstructure:"headless"`
	Storage       StorageConfig       `mapstructure:"storage"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Extract       ExtractConfig       `mapstructure:"extract"`
	Categorize    CategorizeConfig    `mapstructure:"categorize"`
	Embed         EmbedConfig         `mapstructure:"embed"`
	Index         IndexConfig         `mapstructure:"index"`
	Retry         RetryConfig         `mapstructure:"retry"`
	FailedDomains FailedDomainsConfig `mapstructure:"failed_domains"`
	Emails        EmailsConfig        `mapstructure:"emails"`
	Notify        NotifyConfig        `mapstructure:"notify"`
	PubSub        PubSubConfig        `mapstructure:"pubsub"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Schedule      ScheduleConfig      `mapstructure:"schedule"`
}

// ServerConfig controls the operator API.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// RedisConfig points at the Redis used by the queue and the failed-domains cache.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// QueueConfig selects the task broker and lane sizes.
type QueueConfig struct {
	Backend     string         `mapstructure:"backend"`
	Capacity    int            `mapstructure:"capacity"`
	Concurrency map[string]int `mapstructure:"concurrency"`
	PollTimeout time.Duration  `mapstructure:"poll_timeout"`
}

// SchedulerConfig tunes source selection.
type SchedulerConfig struct {
	StalenessWindow time.Duration `mapstructure:"staleness_window"`
	DomainLimit     int           `mapstructure:"domain_limit"`
}

// CrawlerConfig governs per-source crawls. Robots rules are never consulted;
// IgnoreRobots exists so the behavior is explicit in config files.
type CrawlerConfig struct {
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxDepth     int           `mapstructure:"max_depth"`
	MaxPages     int           `mapstructure:"max_pages"`
	Parallelism  int           `mapstructure:"parallelism"`
	Delay        time.Duration `mapstructure:"delay"`
	IgnoreRobots bool          `mapstructure:"ignore_robots"`
	HostRPS      float64       `mapstructure:"host_rps"`
	HostBurst    int           `mapstructure:"host_burst"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	MaxParallel        int           `mapstructure:"max_parallel"`
	NavTimeout         time.Duration `mapstructure:"nav_timeout"`
	PromotionThreshold int           `mapstructure:"promotion_threshold"`
	MinTextChars       int           `mapstructure:"min_text_chars"`
}

// StorageConfig selects where raw HTML is archived.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// LLMConfig configures the OpenAI-compatible endpoint.
type LLMConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	EmbedModel string        `mapstructure:"embed_model"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RPS        float64       `mapstructure:"rps"`
	Burst      int           `mapstructure:"burst"`
}

// ExtractConfig tunes journalist extraction.
type ExtractConfig struct {
	BatchSize       int `mapstructure:"batch_size"`
	Concurrency     int `mapstructure:"concurrency"`
	MaxContentChars int `mapstructure:"max_content_chars"`
}

// CategorizeConfig tunes categorization.
type CategorizeConfig struct {
	BatchSize    int `mapstructure:"batch_size"`
	ExcerptChars int `mapstructure:"excerpt_chars"`
}

// EmbedConfig tunes embedding generation.
type EmbedConfig struct {
	BatchSize  int    `mapstructure:"batch_size"`
	MaxTokens  int    `mapstructure:"max_tokens"`
	Dimensions int    `mapstructure:"dimensions"`
	Encoding   string `mapstructure:"encoding"`
}

// IndexConfig points at the Typesense collection.
type IndexConfig struct {
	URL               string        `mapstructure:"url"`
	APIKey            string        `mapstructure:"api_key"`
	Collection        string        `mapstructure:"collection"`
	Timeout           time.Duration `mapstructure:"timeout"`
	ReconcileWindow   time.Duration `mapstructure:"reconcile_window"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

// RetryConfig is the policy shared by every outbound client and the queue.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Initial     time.Duration `mapstructure:"initial"`
	Max         time.Duration `mapstructure:"max"`
	Multiplier  float64       `mapstructure:"multiplier"`
}

// FailedDomainsConfig selects the failed-domains cache.
type FailedDomainsConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// EmailsConfig configures email discovery.
type EmailsConfig struct {
	HunterAPIKey  string  `mapstructure:"hunter_api_key"`
	HunterBaseURL string  `mapstructure:"hunter_base_url"`
	HunterRPS     float64 `mapstructure:"hunter_rps"`
	Limit         int     `mapstructure:"limit"`
}

// NotifyConfig configures operator notifications.
type NotifyConfig struct {
	SlackWebhookURL string `mapstructure:"slack_webhook_url"`
}

// PubSubConfig holds the topic pipeline events are published to.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// ScheduleConfig sets the periodic triggers of the serve command. Zero
// disables a trigger.
type ScheduleConfig struct {
	PipelineInterval  time.Duration `mapstructure:"pipeline_interval"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	HealthInterval    time.Duration `mapstructure:"health_interval"`
	EmailsInterval    time.Duration `mapstructure:"emails_interval"`
	SyncInterval      time.Duration `mapstructure:"sync_interval"`

	// ProcessInterval and CategorizeInterval sweep pages a failed task left behind.
	ProcessInterval    time.Duration `mapstructure:"process_interval"`
	CategorizeInterval time.Duration `mapstructure:"categorize_interval"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRESSROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// The decoded config comes back with a validation error so the caller
	// can still reach the operator's notifier.
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("logging.development", true)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.migrate_on_start", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "pressroom:")
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.capacity", 1024)
	v.SetDefault("queue.poll_timeout", "2s")
	for lane, n := range queue.DefaultConcurrency() {
		v.SetDefault("queue.concurrency."+lane, n)
	}
	v.SetDefault("scheduler.staleness_window", "168h")
	v.SetDefault("scheduler.domain_limit", 10)
	v.SetDefault("crawler.user_agent", "pressroom-bot/1.0")
	v.SetDefault("crawler.timeout", "30s")
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.max_pages", 100)
	v.SetDefault("crawler.parallelism", 4)
	v.SetDefault("crawler.delay", "0s")
	v.SetDefault("crawler.ignore_robots", true)
	v.SetDefault("crawler.host_rps", 0)
	v.SetDefault("crawler.host_burst", 1)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", "25s")
	v.SetDefault("headless.promotion_threshold", 2000)
	v.SetDefault("headless.min_text_chars", 200)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.base_dir", "data/pages")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.openai.com")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.embed_model", "text-embedding-3-small")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.rps", 5)
	v.SetDefault("llm.burst", 5)
	v.SetDefault("extract.batch_size", 1000)
	v.SetDefault("extract.concurrency", queue.DefaultConcurrency()[queue.LaneProcess])
	v.SetDefault("extract.max_content_chars", 12000)
	v.SetDefault("categorize.batch_size", 100)
	v.SetDefault("categorize.excerpt_chars", 4000)
	v.SetDefault("embed.batch_size", 20)
	v.SetDefault("embed.max_tokens", 8000)
	v.SetDefault("embed.dimensions", 1536)
	v.SetDefault("embed.encoding", "cl100k_base")
	v.SetDefault("index.url", "")
	v.SetDefault("index.api_key", "")
	v.SetDefault("index.collection", "journalists")
	v.SetDefault("index.timeout", "10s")
	v.SetDefault("index.reconcile_window", "1h")
	v.SetDefault("index.reconcile_interval", "1h")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial", "250ms")
	v.SetDefault("retry.max", "5s")
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("failed_domains.backend", "memory")
	v.SetDefault("failed_domains.ttl", "24h")
	v.SetDefault("emails.hunter_api_key", "")
	v.SetDefault("emails.hunter_base_url", "https://api.hunter.io")
	v.SetDefault("emails.hunter_rps", 1)
	v.SetDefault("emails.limit", 100000)
	v.SetDefault("notify.slack_webhook_url", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.exporter", "stdout")
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.service_name", "pressroom")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("schedule.pipeline_interval", "24h")
	v.SetDefault("schedule.reconcile_interval", "1h")
	v.SetDefault("schedule.health_interval", "5m")
	v.SetDefault("schedule.emails_interval", "0s")
	v.SetDefault("schedule.process_interval", "1h")
	v.SetDefault("schedule.categorize_interval", "1h")
	v.SetDefault("schedule.sync_interval", "24h")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, fmt.Errorf("auth.api_key must be set when auth is enabled"))
	}
	for lane, n := range c.Queue.Concurrency {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("queue.concurrency.%s must be > 0", lane))
		}
	}
	switch c.Queue.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("redis.addr must be set for the redis queue"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue.backend must be memory or redis, got %q", c.Queue.Backend))
	}
	if c.Scheduler.StalenessWindow <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.staleness_window must be > 0"))
	}
	if c.Embed.BatchSize < 1 || c.Embed.BatchSize > 2048 {
		errs = append(errs, fmt.Errorf("embed.batch_size must be within 1..2048"))
	}
	if c.Crawler.MaxPages <= 0 || c.Crawler.MaxDepth <= 0 {
		errs = append(errs, fmt.Errorf("crawler.max_pages and crawler.max_depth must be > 0"))
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		errs = append(errs, fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled"))
	}
	switch c.Storage.Backend {
	case "memory", "local":
	case "gcs":
		if c.Storage.Bucket == "" {
			errs = append(errs, fmt.Errorf("storage.bucket must be set for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be memory, local or gcs, got %q", c.Storage.Backend))
	}
	switch c.FailedDomains.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("redis.addr must be set for the redis failed-domains cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("failed_domains.backend must be memory or redis, got %q", c.FailedDomains.Backend))
	}
	if c.Telemetry.Enabled && c.Telemetry.Exporter != "stdout" && c.Telemetry.Exporter != "otlp" {
		errs = append(errs, fmt.Errorf("telemetry.exporter must be stdout or otlp, got %q", c.Telemetry.Exporter))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", core.ErrFatalConfig, err)
	}
	return nil
}

// RequireLLM reports a fatal error when the model credentials are missing.
func (c Config) RequireLLM() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return fmt.Errorf("%w: llm.api_key is required for this command", core.ErrFatalConfig)
	}
	return nil
}

// RequireIndex reports a fatal error when no search index is configured.
func (c Config) RequireIndex() error {
	if strings.TrimSpace(c.Index.URL) == "" {
		return fmt.Errorf("%w: index.url is required for this command", core.ErrFatalConfig)
	}
	return nil
}

// RequireDatabase reports a fatal error when no DSN is configured.
func (c Config) RequireDatabase() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("%w: database.dsn is required for this command", core.ErrFatalConfig)
	}
	return nil
}
