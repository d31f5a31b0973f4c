// Package config loads Intent Hub's configuration from file, environment,
// and defaults, using Viper the way the rest of this family of services
// does, and supports hot-reloading the non-structural settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr       string `mapstructure:"addr"`
	APIKey     string `mapstructure:"api_key"`
	PredictKey string `mapstructure:"predict_key"`
}

func (c ServerConfig) String() string {
	return fmt.Sprintf("ServerConfig{Addr:%s, APIKey:%s, PredictKey:%s}",
		c.Addr, maskAPIKey(c.APIKey), maskAPIKey(c.PredictKey))
}

// QdrantConfig points at the vector index backend.
type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	Dimension  int    `mapstructure:"dimension"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

// EmbedderConfig selects and authenticates the embedding backend.
// BatchSize caps how many texts are sent to the embedder, and in turn
// upserted to the vector index, in a single call.
type EmbedderConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	BatchSize int    `mapstructure:"batch_size"`
}

func (c EmbedderConfig) String() string {
	return fmt.Sprintf("EmbedderConfig{Model:%s, APIKey:%s}", c.Model, maskAPIKey(c.APIKey))
}

// LLMConfig is the tagged-variant shape for the advisory LLM provider.
// RepairPrompt and GeneratePrompt are optional operator overrides for the
// advisor's built-in templates; left empty, the advisor falls back to its
// own package defaults.
type LLMConfig struct {
	Provider       string  `mapstructure:"provider"`
	BaseURL        string  `mapstructure:"base_url"`
	Model          string  `mapstructure:"model"`
	APIKey         string  `mapstructure:"api_key"`
	Temperature    float64 `mapstructure:"temperature"`
	RepairPrompt   string  `mapstructure:"repair_prompt"`
	GeneratePrompt string  `mapstructure:"generate_prompt"`
}

func (c LLMConfig) String() string {
	return fmt.Sprintf("LLMConfig{Provider:%s, BaseURL:%s, Model:%s, APIKey:%s, Temperature:%.2f}",
		c.Provider, c.BaseURL, c.Model, maskAPIKey(c.APIKey), c.Temperature)
}

// RouteStoreConfig points at the on-disk journal.
type RouteStoreConfig struct {
	JournalPath string `mapstructure:"journal_path"`
}

// DiagnosticsConfig tunes overlap detection. RegionThreshold gates whether
// a route pair is reported at all; InstanceThreshold gates which specific
// utterance pairs are listed as conflicts within a reported pair.
type DiagnosticsConfig struct {
	RegionThreshold   float64 `mapstructure:"region_threshold_significant"`
	InstanceThreshold float64 `mapstructure:"instance_threshold_ambiguous"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PredictorConfig names the route identity returned when nothing clears
// its score threshold.
type PredictorConfig struct {
	DefaultRouteID   int64  `mapstructure:"default_route_id"`
	DefaultRouteName string `mapstructure:"default_route_name"`
}

// Config is the full, unmarshaled configuration tree.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Qdrant      QdrantConfig      `mapstructure:"qdrant"`
	Embedder    EmbedderConfig    `mapstructure:"embedder"`
	LLM         LLMConfig         `mapstructure:"llm"`
	RouteStore  RouteStoreConfig  `mapstructure:"routestore"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	Predictor   PredictorConfig   `mapstructure:"predictor"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

func maskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// Validate checks the cross-field constraints Load's per-key defaults
// can't enforce on their own: required connection settings and values
// that only make sense within a bounded range.
func (c *Config) Validate() error {
	if c.Qdrant.Host == "" {
		return fmt.Errorf("qdrant.host must not be empty")
	}
	if c.Qdrant.Collection == "" {
		return fmt.Errorf("qdrant.collection must not be empty")
	}
	if c.Qdrant.Dimension <= 0 {
		return fmt.Errorf("qdrant.dimension must be positive, got %d", c.Qdrant.Dimension)
	}
	if c.Diagnostics.RegionThreshold < 0 || c.Diagnostics.RegionThreshold > 1 {
		return fmt.Errorf("diagnostics.region_threshold_significant must be in [0, 1], got %.2f", c.Diagnostics.RegionThreshold)
	}
	if c.Diagnostics.InstanceThreshold < 0 || c.Diagnostics.InstanceThreshold > 1 {
		return fmt.Errorf("diagnostics.instance_threshold_ambiguous must be in [0, 1], got %.2f", c.Diagnostics.InstanceThreshold)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be in [0, 2], got %.2f", c.LLM.Temperature)
	}
	if c.Embedder.BatchSize <= 0 {
		return fmt.Errorf("embedder.batch_size must be positive, got %d", c.Embedder.BatchSize)
	}
	return nil
}

// Load reads config.yaml from $HOME/.intenthub and the working directory,
// applies environment overrides under the INTENTHUB_ prefix, and falls
// back to defaults for anything unset. A missing config file is
// tolerated; a malformed one is not.
func Load() (*Config, *viper.Viper, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.predict_key", "")

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "intenthub_routes")
	v.SetDefault("qdrant.dimension", 768)
	v.SetDefault("qdrant.use_tls", false)

	v.SetDefault("embedder.model", "sentence-transformers/all-mpnet-base-v2")
	v.SetDefault("embedder.batch_size", 32)

	v.SetDefault("llm.provider", "deepseek")
	v.SetDefault("llm.base_url", "https://api.deepseek.com/v1")
	v.SetDefault("llm.model", "deepseek-chat")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.repair_prompt", "")
	v.SetDefault("llm.generate_prompt", "")

	v.SetDefault("routestore.journal_path", "routes.json")

	v.SetDefault("diagnostics.region_threshold_significant", 0.85)
	v.SetDefault("diagnostics.instance_threshold_ambiguous", 0.92)

	v.SetDefault("predictor.default_route_id", 0)
	v.SetDefault("predictor.default_route_name", "none")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".intenthub"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("INTENTHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("server.api_key", "INTENTHUB_SERVER_API_KEY")
	_ = v.BindEnv("server.predict_key", "INTENTHUB_SERVER_PREDICT_KEY")
	_ = v.BindEnv("embedder.api_key", "INTENTHUB_EMBEDDER_API_KEY")
	_ = v.BindEnv("llm.api_key", "INTENTHUB_LLM_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !asConfigFileNotFoundError(err, &notFound) {
			return nil, nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, v, nil
}

func asConfigFileNotFoundError(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return false
}
