package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "CLAIMSAI"

type FlowConfig struct {
	URL               string  `mapstructure:"url" yaml:"url"`
	ID                string  `mapstructure:"id" yaml:"id"`
	APIKey            string  `mapstructure:"api_key" yaml:"api_key,omitempty"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

type LLMConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	Model    string `mapstructure:"model" yaml:"model,omitempty"`
	BaseURL  string `mapstructure:"base_url" yaml:"base_url,omitempty"`
}

type TelemetryConfig struct {
	Mode         string `mapstructure:"mode" yaml:"mode"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint,omitempty"`
	Insecure     bool   `mapstructure:"insecure" yaml:"insecure"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type Config struct {
	Addr             string          `mapstructure:"addr" yaml:"addr"`
	DBPath           string          `mapstructure:"db_path" yaml:"db_path"`
	Backends         []string        `mapstructure:"backends" yaml:"backends"`
	BackendTimeout   time.Duration   `mapstructure:"backend_timeout" yaml:"backend_timeout"`
	MaxDocumentChars int             `mapstructure:"max_document_chars" yaml:"max_document_chars"`
	ProfilesFile     string          `mapstructure:"profiles_file" yaml:"profiles_file,omitempty"`
	ChromePath       string          `mapstructure:"chrome_path" yaml:"chrome_path,omitempty"`
	AnthropicAPIKey  string          `mapstructure:"anthropic_api_key" yaml:"-"`
	OpenAIAPIKey     string          `mapstructure:"openai_api_key" yaml:"-"`
	Flow             FlowConfig      `mapstructure:"flow" yaml:"flow"`
	LLM              LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Telemetry        TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Cache            CacheConfig     `mapstructure:"cache" yaml:"cache"`
}

var knownBackends = map[string]bool{"flow": true, "chain": true, "graph": true}

// New returns a viper instance with defaults, the CLAIMSAI_ env prefix and,
// when configFile is set, that file as the config source.
func New(configFile string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic_api_key", EnvPrefix+"_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("openai_api_key", EnvPrefix+"_OPENAI_API_KEY", "OPENAI_API_KEY")
	return v
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("db_path", "")
	v.SetDefault("backends", []string{"chain", "graph"})
	v.SetDefault("backend_timeout", 45*time.Second)
	v.SetDefault("max_document_chars", 4000)
	v.SetDefault("profiles_file", "")
	v.SetDefault("chrome_path", "")
	v.SetDefault("flow.url", "")
	v.SetDefault("flow.id", "")
	v.SetDefault("flow.api_key", "")
	v.SetDefault("flow.requests_per_second", 0.0)
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("telemetry.mode", "log")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("cache.ttl", 10*time.Minute)
}

// Load reads the config file if one was set and decodes every layer.
func Load(v *viper.Viper) (Config, error) {
	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Backends = splitList(cfg.Backends)
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	cfg.Telemetry.Mode = strings.ToLower(strings.TrimSpace(cfg.Telemetry.Mode))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	seen := map[string]bool{}
	for _, b := range c.Backends {
		if !knownBackends[b] {
			errs = append(errs, fmt.Errorf("unknown backend %q", b))
		}
		if seen[b] {
			errs = append(errs, fmt.Errorf("backend %q listed twice", b))
		}
		seen[b] = true
	}
	if c.BackendTimeout <= 0 {
		errs = append(errs, errors.New("backend_timeout must be positive"))
	}
	if c.MaxDocumentChars <= 0 {
		errs = append(errs, errors.New("max_document_chars must be positive"))
	}
	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown llm.provider %q", c.LLM.Provider))
	}
	switch c.Telemetry.Mode {
	case "none", "log":
	case "otel":
		if c.Telemetry.OTLPEndpoint == "" {
			errs = append(errs, errors.New("telemetry.otlp_endpoint is required for otel mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown telemetry.mode %q", c.Telemetry.Mode))
	}
	if seen["flow"] && (c.Flow.URL == "" || c.Flow.ID == "") {
		errs = append(errs, errors.New("flow.url and flow.id are required when the flow backend is enabled"))
	}
	return errors.Join(errs...)
}

// splitList accepts both YAML lists and comma-separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
