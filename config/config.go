// Package config loads runtime settings from defaults, an optional YAML file
// and DEBATE_RELAY_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/wailbentafat/debate-relay/broker"
	"github.com/wailbentafat/debate-relay/openrouter"
)

const EnvPrefix = "DEBATE_RELAY"

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Publish    PublishConfig    `mapstructure:"publish"`
	Shutdown   ShutdownConfig   `mapstructure:"shutdown"`
	Log        LogConfig        `mapstructure:"log"`
	Auth       AuthConfig       `mapstructure:"auth"`
	OpenRouter OpenRouterConfig `mapstructure:"openrouter"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type BrokerConfig struct {
	// URL is a redis:// URL, or memory:// for the in-process hub.
	URL string `mapstructure:"url"`
}

type PublishConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
}

type ShutdownConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthConfig enables token checks when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != ""
}

type OpenRouterConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func Default() Config {
	return Config{
		HTTP:       HTTPConfig{Addr: ":8080"},
		Broker:     BrokerConfig{URL: "redis://localhost:6379/0"},
		Publish:    PublishConfig{MaxRetries: broker.DefaultMaxRetries},
		Shutdown:   ShutdownConfig{Timeout: 15 * time.Second},
		Log:        LogConfig{Level: "info", Format: "text"},
		Auth:       AuthConfig{TokenTTL: 24 * time.Hour},
		OpenRouter: OpenRouterConfig{BaseURL: openrouter.DefaultBaseURL, Timeout: 30 * time.Second},
	}
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("broker.url", d.Broker.URL)
	v.SetDefault("publish.max_retries", d.Publish.MaxRetries)
	v.SetDefault("shutdown.timeout", d.Shutdown.Timeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)
	v.SetDefault("openrouter.base_url", d.OpenRouter.BaseURL)
	v.SetDefault("openrouter.api_key", d.OpenRouter.APIKey)
	v.SetDefault("openrouter.timeout", d.OpenRouter.Timeout)
}

// New returns a viper instance wired for defaults and environment lookup.
// configFile may be empty.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	// DEBATE_RELAY_BROKER_URL for broker.url
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}
	return v, nil
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr must not be empty")
	}
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url must not be empty")
	}
	if c.Publish.MaxRetries < 0 {
		return fmt.Errorf("publish.max_retries must be >= 0, got %d", c.Publish.MaxRetries)
	}
	if c.Shutdown.Timeout <= 0 {
		return fmt.Errorf("shutdown.timeout must be positive")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Auth.Enabled() && c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	return nil
}
