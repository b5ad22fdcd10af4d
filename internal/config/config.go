// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Runner() RunnerConfig
	GameEnv() GameEnvConfig
	Session() SessionConfig
	Agent() AgentConfig
	Games() map[string]GameSettings
	Database() DatabaseConfig
	Metrics() MetricsConfig
	Display() DisplayConfig

	// Runner Setters (driven by CLI flags)
	SetRunnerLocal(bool)
	SetRunnerGames([]string)
	SetRunnerSessionID(string)
	SetLoggerLevel(string)
	SetAgentKind(game, kind string)
}

// Config holds the entire application configuration.
// Sections are exported for viper, and read through the Interface getters.
type Config struct {
	LoggerCfg   LoggerConfig            `mapstructure:"logger" yaml:"logger"`
	RunnerCfg   RunnerConfig            `mapstructure:"runner" yaml:"runner"`
	GameEnvCfg  GameEnvConfig           `mapstructure:"gameenv" yaml:"gameenv"`
	SessionCfg  SessionConfig           `mapstructure:"session" yaml:"session"`
	AgentCfg    AgentConfig             `mapstructure:"agent" yaml:"agent"`
	GamesCfg    map[string]GameSettings `mapstructure:"games" yaml:"games"`
	DatabaseCfg DatabaseConfig          `mapstructure:"database" yaml:"database"`
	MetricsCfg  MetricsConfig           `mapstructure:"metrics" yaml:"metrics"`
	DisplayCfg  DisplayConfig           `mapstructure:"display" yaml:"display"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig           { return c.LoggerCfg }
func (c *Config) Runner() RunnerConfig           { return c.RunnerCfg }
func (c *Config) GameEnv() GameEnvConfig         { return c.GameEnvCfg }
func (c *Config) Session() SessionConfig         { return c.SessionCfg }
func (c *Config) Agent() AgentConfig             { return c.AgentCfg }
func (c *Config) Games() map[string]GameSettings { return c.GamesCfg }
func (c *Config) Database() DatabaseConfig       { return c.DatabaseCfg }
func (c *Config) Metrics() MetricsConfig         { return c.MetricsCfg }
func (c *Config) Display() DisplayConfig         { return c.DisplayCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetRunnerLocal(b bool)          { c.RunnerCfg.Local = b }
func (c *Config) SetRunnerGames(games []string)  { c.RunnerCfg.Games = games }
func (c *Config) SetRunnerSessionID(id string)   { c.RunnerCfg.SessionID = id }
func (c *Config) SetLoggerLevel(level string)    { c.LoggerCfg.Level = level }
func (c *Config) SetAgentKind(game, kind string) {
	if c.AgentCfg.Kinds == nil {
		c.AgentCfg.Kinds = make(map[string]string)
	}
	c.AgentCfg.Kinds[game] = kind
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
	// DisableConsole drops the stdout core. The live UI owns the terminal, so it logs to file only.
	DisableConsole bool `mapstructure:"disable_console" yaml:"disable_console"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// RunnerConfig controls an evaluation run.
type RunnerConfig struct {
	GameDataDir string `mapstructure:"game_data_dir" yaml:"game_data_dir"`
	// BasePort is the first local game server port. Zero picks free ports.
	BasePort        int           `mapstructure:"base_port" yaml:"base_port"`
	MaxEpisodes     int           `mapstructure:"max_episodes" yaml:"max_episodes"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ConnectInterval time.Duration `mapstructure:"connect_interval" yaml:"connect_interval"`
	RecordSteps     bool          `mapstructure:"record_steps" yaml:"record_steps"`
	// Flags, not config file values.
	Local     bool     `mapstructure:"-" yaml:"-"`
	Games     []string `mapstructure:"-" yaml:"-"`
	SessionID string   `mapstructure:"-" yaml:"-"`
}

// GameEnvConfig tunes retries of calls to game servers.
type GameEnvConfig struct {
	MaxRetryTries      int           `mapstructure:"max_retry_tries" yaml:"max_retry_tries"`
	MaxRetryTime       time.Duration `mapstructure:"max_retry_time" yaml:"max_retry_time"`
	BackoffBase        float64       `mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffMaxInterval time.Duration `mapstructure:"backoff_max_interval" yaml:"backoff_max_interval"`
	CallTimeout        time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
}

// SessionConfig configures the remote evaluation session API.
type SessionConfig struct {
	BaseURL      string        `mapstructure:"base_url" yaml:"base_url"`
	APIToken     string        `mapstructure:"api_token" yaml:"api_token"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	StartTimeout time.Duration `mapstructure:"start_timeout" yaml:"start_timeout"`
	StateDir     string        `mapstructure:"state_dir" yaml:"state_dir"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`
}

// GameSettings holds per-game overrides, keyed by game id.
type GameSettings struct {
	// URL points at an externally started game server, used in local mode for games
	// without a built-in environment.
	URL           string `mapstructure:"url" yaml:"url"`
	MaxSteps      int    `mapstructure:"max_steps" yaml:"max_steps"`
	TargetTile    int    `mapstructure:"target_tile" yaml:"target_tile"`
	InputModality string `mapstructure:"input_modality" yaml:"input_modality"`
	Seed          int64  `mapstructure:"seed" yaml:"seed"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// DisplayConfig selects how progress is presented.
type DisplayConfig struct {
	PlainLogs bool `mapstructure:"plain_logs" yaml:"plain_logs"`
}

// AgentConfig holds settings related to the agents and their LLM backends.
type AgentConfig struct {
	LLM LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
	// Kinds maps a game id to an agent kind ("llm" or "heuristic").
	Kinds             map[string]string `mapstructure:"kinds" yaml:"kinds"`
	Tier              string            `mapstructure:"tier" yaml:"tier"`
	MaxAttempts       int               `mapstructure:"max_attempts" yaml:"max_attempts"`
	FallbackOnFailure bool              `mapstructure:"fallback_on_failure" yaml:"fallback_on_failure"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	CacheSize         int               `mapstructure:"cache_size" yaml:"cache_size"`
	SendImages        bool              `mapstructure:"send_images" yaml:"send_images"`
	// RetryInterval and RetryMaxInterval space out model calls after transport errors.
	RetryInterval    time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	RetryMaxInterval time.Duration `mapstructure:"retry_max_interval" yaml:"retry_max_interval"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini    LLMProvider = "gemini"
	ProviderOpenAI    LLMProvider = "openai"
	ProviderAnthropic LLMProvider = "anthropic"
	ProviderOllama    LLMProvider = "ollama"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "orak")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Runner --
	v.SetDefault("runner.game_data_dir", "game_logs")
	v.SetDefault("runner.base_port", 0)
	v.SetDefault("runner.max_episodes", 3)
	v.SetDefault("runner.connect_timeout", "50m")
	v.SetDefault("runner.connect_interval", "10s")
	v.SetDefault("runner.record_steps", true)

	// -- Game env client --
	v.SetDefault("gameenv.max_retry_tries", 50)
	v.SetDefault("gameenv.max_retry_time", "14000s")
	v.SetDefault("gameenv.backoff_base", 1.5)
	v.SetDefault("gameenv.backoff_max_interval", "10s")
	v.SetDefault("gameenv.call_timeout", "300s")

	// -- Session --
	v.SetDefault("session.base_url", "https://orak-game-api.aicrowd.com")
	v.SetDefault("session.poll_interval", "1s")
	v.SetDefault("session.start_timeout", "300s")
	v.SetDefault("session.state_dir", ".orak")
	v.SetDefault("session.http_timeout", "30s")

	// -- Games --
	v.SetDefault("games.twenty_fourty_eight.target_tile", 2048)
	v.SetDefault("games.twenty_fourty_eight.input_modality", "text")

	// -- Agent --
	v.SetDefault("agent.tier", "fast")
	v.SetDefault("agent.max_attempts", 3)
	v.SetDefault("agent.fallback_on_failure", true)
	v.SetDefault("agent.requests_per_second", 0)
	v.SetDefault("agent.cache_size", 0)
	v.SetDefault("agent.retry_interval", "500ms")
	v.SetDefault("agent.retry_max_interval", "8s")
	v.SetDefault("agent.send_images", false)
	v.SetDefault("agent.llm.default_fast_model", "openai-nano")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-pro")
	v.SetDefault("agent.llm.models.openai-nano.provider", string(ProviderOpenAI))
	v.SetDefault("agent.llm.models.openai-nano.model", "gpt-5-nano")
	v.SetDefault("agent.llm.models.openai-nano.api_timeout", "120s")
	v.SetDefault("agent.llm.models.openai-nano.max_tokens", 2048)
	v.SetDefault("agent.llm.models.gemini-pro.provider", string(ProviderGemini))
	v.SetDefault("agent.llm.models.gemini-pro.model", "gemini-2.5-pro")
	v.SetDefault("agent.llm.models.gemini-pro.api_timeout", "120s")
	v.SetDefault("agent.llm.models.gemini-pro.temperature", 0.2)
	v.SetDefault("agent.llm.models.gemini-pro.max_tokens", 2048)

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", "127.0.0.1:9464")

	// -- Display --
	v.SetDefault("display.plain_logs", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables used by the competition tooling.
	v.BindEnv("session.api_token", "AICROWD_API_TOKEN")
	v.BindEnv("session.base_url", "AICROWD_API_BASE_URL")
	v.BindEnv("runner.game_data_dir", "GAME_DATA_DIR")
	v.BindEnv("runner.base_port", "BASE_PORT")
	v.BindEnv("database.url", "ORAK_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves "~" in filesystem settings.
func (c *Config) expandPaths() error {
	paths := []*string{&c.RunnerCfg.GameDataDir, &c.SessionCfg.StateDir, &c.LoggerCfg.LogFile}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("could not resolve path '%s': %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.RunnerCfg.MaxEpisodes <= 0 {
		return fmt.Errorf("runner.max_episodes must be a positive integer")
	}
	if c.RunnerCfg.BasePort < 0 || c.RunnerCfg.BasePort > 65535 {
		return fmt.Errorf("runner.base_port must be between 0 and 65535")
	}
	if c.RunnerCfg.GameDataDir == "" {
		return fmt.Errorf("runner.game_data_dir is required")
	}
	if err := c.GameEnvCfg.Validate(); err != nil {
		return fmt.Errorf("gameenv configuration invalid: %w", err)
	}
	if err := c.AgentCfg.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the GameEnvConfig settings.
func (g *GameEnvConfig) Validate() error {
	if g.MaxRetryTries <= 0 {
		return fmt.Errorf("max_retry_tries must be greater than 0")
	}
	if g.BackoffBase < 1.0 {
		return fmt.Errorf("backoff_base must be at least 1.0")
	}
	if g.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the AgentConfig settings.
func (a *AgentConfig) Validate() error {
	if a.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be greater than 0")
	}
	if a.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}
	if a.CacheSize < 0 {
		return fmt.Errorf("cache_size must not be negative")
	}
	for game, kind := range a.Kinds {
		switch strings.ToLower(kind) {
		case "llm", "heuristic", "random":
		default:
			return fmt.Errorf("unknown agent kind '%s' for game '%s'", kind, game)
		}
	}
	return nil
}

// ModelFor resolves the model configuration used for a tier.
func (r LLMRouterConfig) ModelFor(tier string) (LLMModelConfig, error) {
	name := r.DefaultFastModel
	if tier == "powerful" {
		name = r.DefaultPowerfulModel
	}
	m, ok := r.Models[name]
	if !ok {
		return LLMModelConfig{}, fmt.Errorf("no LLM model configured under name '%s' (tier %s)", name, tier)
	}
	if m.APIKey == "" {
		m.APIKey = apiKeyFromEnv(m.Provider)
	}
	return m, nil
}

// apiKeyFromEnv reads the conventional key variable for a provider.
func apiKeyFromEnv(p LLMProvider) string {
	switch p {
	case ProviderGemini:
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	}
	return ""
}
