// Package config provides configuration loading for banditd.
//
// Configuration is loaded from a YAML file with environment variable
// overrides, then validated. Section structs convert into the runtime
// configs of the packages that consume them (bandit, reward, store).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/banditd/internal/bandit"
	"github.com/fyrsmithlabs/banditd/internal/logging"
	"github.com/fyrsmithlabs/banditd/internal/reward"
	"github.com/fyrsmithlabs/banditd/internal/store"
	"github.com/fyrsmithlabs/banditd/internal/telemetry"
)

// Config holds the complete banditd configuration.
//
// Section names are single words so the SECTION_FIELD environment variable
// transform can reach every top-level field (NATS_URL -> nats.url). Nested
// fields such as telemetry.sampling.rate are YAML-only.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     logging.Config    `koanf:"logging"`
	Telemetry   telemetry.Config  `koanf:"telemetry"`
	Store       StoreConfig       `koanf:"store"`
	NATS        NATSConfig        `koanf:"nats"`
	Postgres    PostgresConfig    `koanf:"postgres"`
	Qdrant      QdrantConfig      `koanf:"qdrant"`
	Bandit      BanditConfig      `koanf:"bandit"`
	Reward      RewardConfig      `koanf:"reward"`
	Scheduler   SchedulerConfig   `koanf:"scheduler"`
	Workflows   WorkflowsConfig   `koanf:"workflows"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	DecisionLog DecisionLogConfig `koanf:"decisionlog"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StoreConfig selects the persistence backends.
type StoreConfig struct {
	// Backend is memory, nats, or postgres.
	Backend string `koanf:"backend"`

	// ThetaBackend optionally routes theta vectors elsewhere. Empty keeps
	// them in the base backend; "qdrant" moves them to Qdrant.
	ThetaBackend string `koanf:"theta_backend"`
}

// NATSConfig holds the NATS connection and JetStream KV settings, used when
// store.backend is nats.
type NATSConfig struct {
	URL          string `koanf:"url"`
	Name         string `koanf:"name"`
	BucketPrefix string `koanf:"bucket_prefix"`
	Replicas     int    `koanf:"replicas"`
	CASRetries   int    `koanf:"cas_retries"`

	// LearnSubject is where learn outcomes are published. Empty disables
	// event publishing.
	LearnSubject string `koanf:"learn_subject"`
}

// PostgresConfig holds the Postgres store settings, used when store.backend
// is postgres.
type PostgresConfig struct {
	DSN             Secret        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	SkipMigrate     bool          `koanf:"skip_migrate"`
}

// QdrantConfig holds the Qdrant theta store settings, used when
// store.theta_backend is qdrant.
type QdrantConfig struct {
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	Collection     string `koanf:"collection"`
	UseTLS         bool   `koanf:"use_tls"`
	MaxMessageSize int    `koanf:"max_message_size"`
}

// BanditConfig holds the decision engine tunables.
type BanditConfig struct {
	// ContextDim is the width of the concatenated context vector, twice the
	// embedding dimension.
	ContextDim int `koanf:"context_dim"`

	DiscreteRate  float64 `koanf:"discrete_rate"`
	ThetaRate     float64 `koanf:"theta_rate"`
	BaselineAlpha float64 `koanf:"baseline_alpha"`

	// Window is the delay between publication and reward eligibility.
	Window time.Duration `koanf:"window"`

	// MaxAttempts bounds how many times a post is tried without snapshots
	// before it parks as unrated.
	MaxAttempts int `koanf:"max_attempts"`

	// Seed seeds the sampler. Zero derives from the clock.
	Seed uint64 `koanf:"seed"`

	// Dimensions override the built-in action space when non-empty.
	Dimensions []DimensionConfig `koanf:"dimensions"`
}

// DimensionConfig is one action-space dimension as it appears in YAML.
type DimensionConfig struct {
	Name   string   `koanf:"name"`
	Values []string `koanf:"values"`
}

// RewardConfig holds the reward shaping tunables.
type RewardConfig struct {
	// Platforms maps platform name to engagement weights. Entries here merge
	// over the built-in platforms.
	Platforms map[string]reward.EngagementWeights `koanf:"platforms"`

	// Decay maps elapsed-hour bucket to its weight in the cross-bucket
	// average.
	Decay map[int]float64 `koanf:"decay"`

	DeletionPenalty      float64 `koanf:"deletion_penalty"`
	DeletionHalfLifeDays float64 `koanf:"deletion_half_life_days"`
}

// SchedulerConfig holds the reward sweep loop settings. The sweeper runs
// whenever workflows are disabled.
type SchedulerConfig struct {
	Interval  time.Duration `koanf:"interval"`
	BatchSize int           `koanf:"batch_size"`

	// RateLimit caps learns per second within a sweep; Burst is the limiter
	// burst size.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// WorkflowsConfig holds the Temporal reward-maturation settings. When
// enabled, Temporal replaces the in-process sweeper.
type WorkflowsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// EmbeddingsConfig holds the embedding provider settings. The provider is
// only consulted when a decision request carries raw text instead of
// vectors; empty provider disables text requests.
type EmbeddingsConfig struct {
	// Provider is empty, http, or fastembed.
	Provider string `koanf:"provider"`

	BaseURL   string        `koanf:"base_url"`
	APIKey    Secret        `koanf:"api_key"`
	Model     string        `koanf:"model"`
	Dimension int           `koanf:"dimension"`
	Timeout   time.Duration `koanf:"timeout"`
}

// DecisionLogConfig holds the similar-context decision log settings.
type DecisionLogConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	// Logging defaults
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if !cfg.Logging.Output.Stdout && !cfg.Logging.Output.OTEL {
		cfg.Logging.Output.Stdout = true
	}
	if cfg.Logging.Caller.Enabled && cfg.Logging.Caller.Skip == 0 {
		cfg.Logging.Caller.Skip = 1
	}
	// Zero level means unset here; info-level stacktraces are never wanted.
	if cfg.Logging.Stacktrace.Level == zapcore.InfoLevel {
		cfg.Logging.Stacktrace.Level = zapcore.ErrorLevel
	}
	if cfg.Logging.Fields == nil {
		cfg.Logging.Fields = map[string]string{"service": "banditd"}
	}

	// Telemetry defaults
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "banditd"
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = "0.1.0"
	}
	if cfg.Telemetry.Sampling.Rate == 0 {
		cfg.Telemetry.Sampling.Rate = 1.0
	}
	if cfg.Telemetry.Metrics.ExportInterval == 0 {
		cfg.Telemetry.Metrics.ExportInterval = 15 * time.Second
	}
	if cfg.Telemetry.Shutdown.Timeout == 0 {
		cfg.Telemetry.Shutdown.Timeout = 5 * time.Second
	}

	// Store defaults
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = store.BackendMemory
	}

	// NATS defaults
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://127.0.0.1:4222"
	}
	if cfg.NATS.Name == "" {
		cfg.NATS.Name = "banditd"
	}
	if cfg.NATS.BucketPrefix == "" {
		cfg.NATS.BucketPrefix = "banditd"
	}
	if cfg.NATS.Replicas == 0 {
		cfg.NATS.Replicas = 1
	}
	if cfg.NATS.CASRetries == 0 {
		cfg.NATS.CASRetries = 8
	}
	if cfg.NATS.LearnSubject == "" {
		cfg.NATS.LearnSubject = "banditd.learn"
	}

	// Postgres pool defaults
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 16
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 4
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 30 * time.Minute
	}

	// Qdrant defaults
	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = "banditd_thetas"
	}

	// Bandit defaults
	if cfg.Bandit.ContextDim == 0 {
		cfg.Bandit.ContextDim = 768
	}
	if cfg.Bandit.DiscreteRate == 0 {
		cfg.Bandit.DiscreteRate = bandit.DefaultLearningRates().Discrete
	}
	if cfg.Bandit.ThetaRate == 0 {
		cfg.Bandit.ThetaRate = bandit.DefaultLearningRates().Theta
	}
	if cfg.Bandit.BaselineAlpha == 0 {
		cfg.Bandit.BaselineAlpha = reward.DefaultAlpha
	}
	if cfg.Bandit.Window == 0 {
		cfg.Bandit.Window = 24 * time.Hour
	}
	if cfg.Bandit.MaxAttempts == 0 {
		cfg.Bandit.MaxAttempts = 5
	}
	if len(cfg.Bandit.Dimensions) == 0 {
		for _, dim := range bandit.DefaultActionSpace().Dimensions {
			cfg.Bandit.Dimensions = append(cfg.Bandit.Dimensions, DimensionConfig{
				Name:   dim.Name,
				Values: dim.Values,
			})
		}
	}

	// Reward defaults
	if cfg.Reward.Platforms == nil {
		cfg.Reward.Platforms = reward.DefaultPlatformWeights()
	}
	if cfg.Reward.Decay == nil {
		cfg.Reward.Decay = reward.DefaultDecayWeights()
	}
	if cfg.Reward.DeletionPenalty == 0 {
		cfg.Reward.DeletionPenalty = 0.7
	}
	if cfg.Reward.DeletionHalfLifeDays == 0 {
		cfg.Reward.DeletionHalfLifeDays = 3
	}

	// Scheduler defaults
	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = 5 * time.Minute
	}
	if cfg.Scheduler.BatchSize == 0 {
		cfg.Scheduler.BatchSize = 100
	}
	if cfg.Scheduler.RateLimit == 0 {
		cfg.Scheduler.RateLimit = 10
	}
	if cfg.Scheduler.Burst == 0 {
		cfg.Scheduler.Burst = 5
	}

	// Workflows defaults
	if cfg.Workflows.HostPort == "" {
		cfg.Workflows.HostPort = "localhost:7233"
	}
	if cfg.Workflows.Namespace == "" {
		cfg.Workflows.Namespace = "default"
	}
	if cfg.Workflows.TaskQueue == "" {
		cfg.Workflows.TaskQueue = "banditd-maturation"
	}

	// Embeddings defaults
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = 384
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = 10 * time.Second
	}

	// Decision log defaults
	if cfg.DecisionLog.Path == "" {
		cfg.DecisionLog.Path = "~/.config/banditd/decisionlog"
	}
	if cfg.DecisionLog.Collection == "" {
		cfg.DecisionLog.Collection = "banditd_decisions"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return errors.New("server read/write timeouts must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	switch c.Store.Backend {
	case store.BackendMemory, store.BackendNATS, store.BackendPostgres:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Store.ThetaBackend {
	case "", store.ThetaBackendQdrant:
	default:
		return fmt.Errorf("unknown theta backend %q", c.Store.ThetaBackend)
	}

	if c.Store.Backend == store.BackendNATS {
		if c.NATS.URL == "" {
			return errors.New("nats: url is required")
		}
		if c.NATS.Replicas < 1 || c.NATS.Replicas > 5 {
			return fmt.Errorf("nats: replicas %d outside 1-5", c.NATS.Replicas)
		}
		if c.NATS.CASRetries < 1 {
			return fmt.Errorf("nats: cas_retries %d must be at least 1", c.NATS.CASRetries)
		}
	}
	if strings.ContainsAny(c.NATS.LearnSubject, " \t") {
		return fmt.Errorf("nats: learn_subject %q contains whitespace", c.NATS.LearnSubject)
	}

	if c.Store.Backend == store.BackendPostgres && !c.Postgres.DSN.IsSet() {
		return errors.New("postgres: dsn is required")
	}

	if c.Store.ThetaBackend == store.ThetaBackendQdrant {
		if c.Qdrant.Host == "" {
			return errors.New("qdrant: host is required")
		}
		if err := validateHostname(c.Qdrant.Host); err != nil {
			return fmt.Errorf("qdrant: %w", err)
		}
		if c.Qdrant.Port < 1 || c.Qdrant.Port > 65535 {
			return fmt.Errorf("qdrant: invalid port %d", c.Qdrant.Port)
		}
	}

	ec := c.EngineConfig()
	if err := ec.Validate(); err != nil {
		return fmt.Errorf("bandit: %w", err)
	}

	sc := c.ShaperConfig()
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("reward: %w", err)
	}

	if c.Scheduler.Interval <= 0 {
		return errors.New("scheduler: interval must be positive")
	}
	if c.Scheduler.BatchSize < 1 {
		return fmt.Errorf("scheduler: batch_size %d must be at least 1", c.Scheduler.BatchSize)
	}
	if c.Scheduler.RateLimit <= 0 {
		return errors.New("scheduler: rate_limit must be positive")
	}
	if c.Scheduler.Burst < 1 {
		return fmt.Errorf("scheduler: burst %d must be at least 1", c.Scheduler.Burst)
	}

	if c.Workflows.Enabled {
		if c.Workflows.HostPort == "" {
			return errors.New("workflows: host_port is required")
		}
		if c.Workflows.Namespace == "" {
			return errors.New("workflows: namespace is required")
		}
		if c.Workflows.TaskQueue == "" {
			return errors.New("workflows: task_queue is required")
		}
	}

	switch c.Embeddings.Provider {
	case "", "http", "fastembed":
	default:
		return fmt.Errorf("embeddings: unsupported provider %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Provider != "" {
		if c.Embeddings.Dimension < 1 {
			return fmt.Errorf("embeddings: dimension %d must be positive", c.Embeddings.Dimension)
		}
		if 2*c.Embeddings.Dimension != c.Bandit.ContextDim {
			return fmt.Errorf("embeddings: dimension %d does not halve context_dim %d",
				c.Embeddings.Dimension, c.Bandit.ContextDim)
		}
	}
	if c.Embeddings.Provider == "http" {
		if err := validateBaseURL(c.Embeddings.BaseURL); err != nil {
			return fmt.Errorf("embeddings: %w", err)
		}
	}

	if c.DecisionLog.Enabled {
		if c.DecisionLog.Path == "" {
			return errors.New("decisionlog: path is required")
		}
		if strings.Contains(c.DecisionLog.Path, "..") {
			return fmt.Errorf("decisionlog: path %q contains traversal", c.DecisionLog.Path)
		}
		if c.DecisionLog.Collection == "" {
			return errors.New("decisionlog: collection is required")
		}
	}

	return nil
}

// EngineConfig converts the bandit section into the engine's runtime config.
func (c *Config) EngineConfig() bandit.EngineConfig {
	return bandit.EngineConfig{
		Space:      c.ActionSpace(),
		ContextDim: c.Bandit.ContextDim,
		Rates: bandit.LearningRates{
			Discrete: c.Bandit.DiscreteRate,
			Theta:    c.Bandit.ThetaRate,
		},
		BaselineAlpha: c.Bandit.BaselineAlpha,
		Window:        c.Bandit.Window,
		MaxAttempts:   c.Bandit.MaxAttempts,
		Seed:          c.Bandit.Seed,
	}
}

// ActionSpace converts the configured dimensions into an action space.
func (c *Config) ActionSpace() bandit.ActionSpace {
	space := bandit.ActionSpace{Dimensions: make([]bandit.Dimension, 0, len(c.Bandit.Dimensions))}
	for _, dim := range c.Bandit.Dimensions {
		space.Dimensions = append(space.Dimensions, bandit.Dimension{
			Name:   dim.Name,
			Values: dim.Values,
		})
	}
	return space
}

// ShaperConfig converts the reward section into the shaper's runtime config.
func (c *Config) ShaperConfig() reward.ShaperConfig {
	return reward.ShaperConfig{
		Platforms:            c.Reward.Platforms,
		Decay:                c.Reward.Decay,
		DeletionPenalty:      c.Reward.DeletionPenalty,
		DeletionHalfLifeDays: c.Reward.DeletionHalfLifeDays,
	}
}

// StoreOptions converts the store sections into factory options. The NATS
// connection is dialed by the caller and set on the result.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Backend: c.Store.Backend,
		NATSKV: store.NATSKVConfig{
			BucketPrefix: c.NATS.BucketPrefix,
			Replicas:     c.NATS.Replicas,
			CASRetries:   c.NATS.CASRetries,
		},
		Postgres: store.PostgresConfig{
			DSN:             c.Postgres.DSN.Value(),
			VectorDim:       c.Bandit.ContextDim,
			MaxOpenConns:    c.Postgres.MaxOpenConns,
			MaxIdleConns:    c.Postgres.MaxIdleConns,
			ConnMaxLifetime: c.Postgres.ConnMaxLifetime,
			SkipMigrate:     c.Postgres.SkipMigrate,
		},
		ThetaBackend: c.Store.ThetaBackend,
		Qdrant: store.QdrantConfig{
			Host:           c.Qdrant.Host,
			Port:           c.Qdrant.Port,
			Collection:     c.Qdrant.Collection,
			VectorDim:      c.Bandit.ContextDim,
			UseTLS:         c.Qdrant.UseTLS,
			MaxMessageSize: c.Qdrant.MaxMessageSize,
		},
	}
}

// validateHostname rejects hostnames with shell metacharacters or control
// bytes, which have no business in a host field.
func validateHostname(host string) error {
	if strings.ContainsAny(host, " ;|&$`\n\r\t") {
		return fmt.Errorf("invalid hostname %q", host)
	}
	return nil
}

// validateBaseURL accepts only absolute http or https URLs.
func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base_url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("base_url %q has no host", raw)
	}
	return nil
}
