package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration of the service.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Backend BackendConfig `mapstructure:"backend"`
	Storage StorageConfig `mapstructure:"storage"`
	GitHub  GitHubConfig  `mapstructure:"github"`
	Deploy  DeployConfig  `mapstructure:"deploy"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	Workers         int           `mapstructure:"workers"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LLMConfig struct {
	Provider        string  `mapstructure:"provider"`
	OpenAIAPIKey    string  `mapstructure:"openai_api_key"`
	AnthropicAPIKey string  `mapstructure:"anthropic_api_key"`
	BaseURL         string  `mapstructure:"base_url"`
	Model           string  `mapstructure:"model"`
	ChatModel       string  `mapstructure:"chat_model"`
	Temperature     float32 `mapstructure:"temperature"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	TellmURL        string  `mapstructure:"tellm_url"`
}

type BackendConfig struct {
	Driver     string `mapstructure:"driver"`
	URL        string `mapstructure:"url"`
	Key        string `mapstructure:"key"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type StorageConfig struct {
	Root string `mapstructure:"root"`
}

type GitHubConfig struct {
	Token   string `mapstructure:"token"`
	Owner   string `mapstructure:"owner"`
	Branch  string `mapstructure:"branch"`
	Private bool   `mapstructure:"private"`
}

type DeployConfig struct {
	Token   string `mapstructure:"token"`
	TeamID  string `mapstructure:"team_id"`
	Target  string `mapstructure:"target"`
	BaseURL string `mapstructure:"base_url"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	DriverSupabase = "supabase"
	DriverSQLite   = "sqlite"
)

// LoadConfig reads configuration from an optional file and the environment.
// An empty configPath searches genesis.yaml in the working directory and in ~/.genesis.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("genesis")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".genesis"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("GENESIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	applyModelDefaults(&cfg.LLM)
	return &cfg, nil
}

// defaultModels maps a provider to its generation and chat models.
var defaultModels = map[string][2]string{
	ProviderOpenAI:    {"gpt-4.1", "gpt-4.1-mini"},
	ProviderAnthropic: {"claude-sonnet-4-5", "claude-haiku-4-5"},
}

// applyModelDefaults fills unset models with the provider's defaults.
func applyModelDefaults(c *LLMConfig) {
	models, ok := defaultModels[c.Provider]
	if !ok {
		return
	}
	if c.Model == "" {
		c.Model = models[0]
	}
	if c.ChatModel == "" {
		c.ChatModel = models[1]
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.max_body_bytes", 10<<20)
	v.SetDefault("server.workers", 4)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("llm.provider", ProviderOpenAI)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2000)

	v.SetDefault("backend.driver", DriverSupabase)
	v.SetDefault("backend.sqlite_path", "genesis.db")

	v.SetDefault("storage.root", ".")

	v.SetDefault("github.branch", "main")
	v.SetDefault("github.private", true)

	v.SetDefault("deploy.target", "production")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Hosted deployments set these unprefixed names.
func bindEnv(v *viper.Viper) {
	v.BindEnv("llm.openai_api_key", "OPENAI_API_KEY")
	v.BindEnv("llm.anthropic_api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("llm.tellm_url", "TELLM_URL")
	v.BindEnv("backend.url", "SUPABASE_URL")
	v.BindEnv("backend.key", "SUPABASE_KEY")
	v.BindEnv("github.token", "GITHUB_TOKEN")
	v.BindEnv("github.owner", "GITHUB_OWNER")
	v.BindEnv("deploy.token", "VERCEL_TOKEN")
	v.BindEnv("deploy.team_id", "VERCEL_TEAM_ID")
	v.BindEnv("server.addr", "GENESIS_ADDR")
}

// Validate reports configuration that would make the service unusable.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderOpenAI:
		if c.LLM.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY is not set")
		}
	case ProviderAnthropic:
		if c.LLM.AnthropicAPIKey == "" {
			return errors.New("ANTHROPIC_API_KEY is not set")
		}
		for _, m := range []string{c.LLM.Model, c.LLM.ChatModel} {
			if strings.HasPrefix(m, "gpt-") {
				return fmt.Errorf("model %s is not served by the anthropic provider", m)
			}
		}
	default:
		return fmt.Errorf("unknown llm provider: %s", c.LLM.Provider)
	}

	switch c.Backend.Driver {
	case DriverSupabase:
		if c.Backend.URL == "" || c.Backend.Key == "" {
			return errors.New("SUPABASE_URL or SUPABASE_KEY is not set")
		}
	case DriverSQLite:
		if c.Backend.SQLitePath == "" {
			return errors.New("backend.sqlite_path is empty")
		}
	default:
		return fmt.Errorf("unknown backend driver: %s", c.Backend.Driver)
	}

	if c.Server.Workers < 1 {
		return fmt.Errorf("server.workers must be positive, got %d", c.Server.Workers)
	}
	return nil
}

// GitHubEnabled reports whether commits should be pushed to the git host.
func (c *Config) GitHubEnabled() bool {
	return c.GitHub.Token != ""
}

// DeployEnabled reports whether commits should be deployed.
func (c *Config) DeployEnabled() bool {
	return c.Deploy.Token != ""
}
