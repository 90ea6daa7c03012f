// Package config resolves the runtime configuration.
//
// Values come from, in increasing priority: built-in defaults, the TOML
// config file (~/.folio/config.toml or --config), a .env file in the working
// directory, and FOLIO_* environment variables (dots become underscores, so
// jobs.workers is FOLIO_JOBS_WORKERS).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/custodia-labs/folio/internal/core/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FOLIO"

// Config is the resolved runtime configuration.
type Config struct {
	DataDir   string                    `mapstructure:"data_dir" validate:"required"`
	Verbose   bool                      `mapstructure:"verbose"`
	Storage   StorageConfig             `mapstructure:"storage"`
	Embedding ProviderConfig            `mapstructure:"embedding"`
	LLM       ProviderConfig            `mapstructure:"llm"`
	Throttle  map[string]ThrottleConfig `mapstructure:"throttle" validate:"dive"`
	Chunker   ChunkerConfig             `mapstructure:"chunker"`
	Retrieval RetrievalConfig           `mapstructure:"retrieval"`
	Jobs      JobsConfig                `mapstructure:"jobs"`
	Chat      ChatConfig                `mapstructure:"chat"`
	Metadata  MetadataConfig            `mapstructure:"metadata"`
	Events    EventsConfig              `mapstructure:"events"`
	HTTP      HTTPConfig                `mapstructure:"http"`
	Inbox     InboxConfig               `mapstructure:"inbox"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Driver   string         `mapstructure:"driver" validate:"oneof=sqlite postgres memory"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig configures the Postgres backend.
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// ProviderConfig configures an embedding or generation backend.
// An empty provider disables the capability.
type ProviderConfig struct {
	Provider  string `mapstructure:"provider" validate:"omitempty,oneof=ollama openai anthropic"`
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey    string `mapstructure:"api_key"`
	BatchSize int    `mapstructure:"batch_size" validate:"gte=0,lte=2048"`
}

// ThrottleConfig bounds calls to one provider.
type ThrottleConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int     `mapstructure:"burst" validate:"gte=1"`
	MaxConcurrency    int     `mapstructure:"max_concurrency" validate:"gte=1"`
}

// ChunkerConfig configures chunk boundaries.
type ChunkerConfig struct {
	ChunkSize int     `mapstructure:"chunk_size" validate:"gte=50"`
	Overlap   float64 `mapstructure:"overlap" validate:"gte=0,lt=1"`
	Lookahead int     `mapstructure:"lookahead" validate:"gte=0"`
}

// RetrievalConfig holds retriever defaults.
type RetrievalConfig struct {
	TopK      int     `mapstructure:"top_k" validate:"gte=1,lte=100"`
	Threshold float64 `mapstructure:"threshold" validate:"gte=-1,lte=1"`
}

// JobsConfig configures the worker pool and retry policy.
type JobsConfig struct {
	Workers      int           `mapstructure:"workers" validate:"gte=1,lte=256"`
	Lease        time.Duration `mapstructure:"lease" validate:"gte=1s"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	MaxAttempts  int           `mapstructure:"max_attempts" validate:"gte=1"`
	BackoffBase  time.Duration `mapstructure:"backoff_base" validate:"gt=0"`
	BackoffMax   time.Duration `mapstructure:"backoff_max" validate:"gtefield=BackoffBase"`
}

// ChatConfig tunes grounded chat.
type ChatConfig struct {
	HistoryMessages int  `mapstructure:"history_messages" validate:"gte=0"`
	RewriteQueries  bool `mapstructure:"rewrite_queries"`
	TopK            int  `mapstructure:"top_k" validate:"gte=0,lte=100"`
}

// MetadataConfig bounds metadata extraction.
type MetadataConfig struct {
	MaxChars int `mapstructure:"max_chars" validate:"gte=0"`
}

// EventsConfig selects the event transport.
type EventsConfig struct {
	Driver    string `mapstructure:"driver" validate:"oneof=log redis"`
	RedisAddr string `mapstructure:"redis_addr"`
	Stream    string `mapstructure:"stream"`
}

// HTTPConfig configures `folio serve`.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

// InboxConfig configures the watched inbox directory.
type InboxConfig struct {
	Dir string `mapstructure:"dir"`
}

// Defaults returns every default value keyed by its dotted config key.
func Defaults() map[string]any {
	defaults := map[string]any{
		"data_dir":                   "~/.folio",
		"verbose":                    false,
		"storage.driver":             "sqlite",
		"storage.postgres.url":       "",
		"embedding.provider":         "ollama",
		"embedding.model":            "",
		"embedding.base_url":         "",
		"embedding.api_key":          "",
		"embedding.batch_size":       0,
		"llm.provider":               "ollama",
		"llm.model":                  "",
		"llm.base_url":               "",
		"llm.api_key":                "",
		"chunker.chunk_size":         1000,
		"chunker.overlap":            0.15,
		"chunker.lookahead":          0,
		"retrieval.top_k":            domain.DefaultTopK,
		"retrieval.threshold":        domain.DefaultRetrievalConfig().Threshold,
		"jobs.workers":               4,
		"jobs.lease":                 "2m",
		"jobs.poll_interval":         "500ms",
		"jobs.max_attempts":          4,
		"jobs.backoff_base":          "2s",
		"jobs.backoff_max":           "5m",
		"chat.history_messages":      6,
		"chat.rewrite_queries":       true,
		"chat.top_k":                 0,
		"metadata.max_chars":         8000,
		"events.driver":              "log",
		"events.redis_addr":          "localhost:6379",
		"events.stream":              "folio:events",
		"http.addr":                  "127.0.0.1:8080",
		"inbox.dir":                  "",
	}
	for provider, t := range domain.DefaultThrottleSettings() {
		prefix := "throttle." + string(provider) + "."
		defaults[prefix+"requests_per_second"] = t.RequestsPerSecond
		defaults[prefix+"burst"] = t.Burst
		defaults[prefix+"max_concurrency"] = t.MaxConcurrency
	}
	return defaults
}

// DefaultPath returns ~/.folio/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".folio", "config.toml"), nil
}

// Load resolves the configuration. An empty path uses the default location,
// where a missing file is not an error; an explicit path must exist.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		path = p
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		if explicit || !missing {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalise expands paths and fills provider-specific defaults.
func (c *Config) normalise() error {
	dir, err := expandHome(c.DataDir)
	if err != nil {
		return fmt.Errorf("expand data_dir: %w", err)
	}
	c.DataDir = dir
	if c.Inbox.Dir != "" {
		if c.Inbox.Dir, err = expandHome(c.Inbox.Dir); err != nil {
			return fmt.Errorf("expand inbox.dir: %w", err)
		}
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = domain.DefaultEmbeddingModels()[domain.AIProvider(c.Embedding.Provider)]
	}
	if c.LLM.Model == "" {
		c.LLM.Model = domain.DefaultLLMModels()[domain.AIProvider(c.LLM.Provider)]
	}
	return nil
}

// Validate checks every field constraint plus cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make(map[string]string, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields[configKey(fe.Namespace())] = fmt.Sprintf("failed %q (%s)", fe.Tag(), fe.Param())
			}
			return domain.NewValidationError("invalid configuration", fields)
		}
		return fmt.Errorf("validate config: %w", err)
	}

	fields := make(map[string]string)
	if c.Storage.Driver == "postgres" && c.Storage.Postgres.URL == "" {
		fields["storage.postgres.url"] = "is required when storage.driver is postgres"
	}
	if c.Embedding.Provider == string(domain.AIProviderAnthropic) {
		fields["embedding.provider"] = "anthropic does not support embeddings"
	}
	if c.Events.Driver == "redis" && c.Events.RedisAddr == "" {
		fields["events.redis_addr"] = "is required when events.driver is redis"
	}
	if len(fields) > 0 {
		return domain.NewValidationError("invalid configuration", fields)
	}
	return nil
}

// JobConfig converts to the worker pool settings.
func (c *Config) JobConfig() domain.JobConfig {
	return domain.JobConfig{
		Workers:      c.Jobs.Workers,
		PollInterval: c.Jobs.PollInterval,
		Lease:        c.Jobs.Lease,
		MaxAttempts:  c.Jobs.MaxAttempts,
		BackoffBase:  c.Jobs.BackoffBase,
		BackoffMax:   c.Jobs.BackoffMax,
	}
}

// RetrievalSettings converts to the retriever defaults.
func (c *Config) RetrievalSettings() domain.RetrievalConfig {
	return domain.RetrievalConfig{TopK: c.Retrieval.TopK, Threshold: c.Retrieval.Threshold}
}

// EmbeddingSettings converts to provider settings.
func (c *Config) EmbeddingSettings() domain.ProviderSettings {
	return c.Embedding.settings()
}

// LLMSettings converts to provider settings.
func (c *Config) LLMSettings() domain.ProviderSettings {
	return c.LLM.settings()
}

func (p ProviderConfig) settings() domain.ProviderSettings {
	return domain.ProviderSettings{
		Provider:  domain.AIProvider(p.Provider),
		Model:     p.Model,
		BaseURL:   p.BaseURL,
		APIKey:    p.APIKey,
		BatchSize: p.BatchSize,
	}
}

// ThrottleSettings returns the limits for provider, falling back to defaults.
func (c *Config) ThrottleSettings(provider domain.AIProvider) domain.ThrottleSettings {
	if t, ok := c.Throttle[string(provider)]; ok {
		return domain.ThrottleSettings{
			RequestsPerSecond: t.RequestsPerSecond,
			Burst:             t.Burst,
			MaxConcurrency:    t.MaxConcurrency,
		}
	}
	return domain.DefaultThrottleSettings()[provider]
}

// ChunkerOptions returns the chunker settings in post-processor registry form.
func (c *Config) ChunkerOptions() map[string]any {
	return map[string]any{
		"chunk_size": c.Chunker.ChunkSize,
		"overlap":    c.Chunker.Overlap,
		"lookahead":  c.Chunker.Lookahead,
	}
}

// DatabasePath returns the SQLite data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "data")
}

// PromptDir returns the prompt template directory.
func (c *Config) PromptDir() string {
	return filepath.Join(c.DataDir, "prompts")
}

var validate = newValidator()

// newValidator reports fields by their config key rather than Go field name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// configKey strips the root struct name from a validator namespace.
func configKey(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
