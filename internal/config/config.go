package config

// Config is the root daemon configuration
type Config struct {
	// Telegram
	Telegram TelegramConfig `json:"telegram" mapstructure:"telegram"`

	// Agents
	Agents []AgentConfig `json:"agents" mapstructure:"agents"`

	// Providers
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`

	// Channels
	Channels ChannelsConfig `json:"channels" mapstructure:"channels"`

	// Gateway
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Runtime
	Runtime RuntimeConfig `json:"runtime" mapstructure:"runtime"`

	// Delivery
	Delivery DeliveryConfig `json:"delivery" mapstructure:"delivery"`

	// Sessions
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// TelegramConfig holds telegram channel configuration
type TelegramConfig struct {
	BotToken  string  `json:"bot_token" mapstructure:"bot_token"`
	Allowlist []int64 `json:"allowlist" mapstructure:"allowlist"`
}

// AgentConfig represents an agent configuration
type AgentConfig struct {
	ID            string   `json:"id" mapstructure:"id"`
	Model         string   `json:"model" mapstructure:"model"`
	Fallbacks     []string `json:"fallbacks" mapstructure:"fallbacks"`
	SystemPrompt  string   `json:"system_prompt" mapstructure:"system_prompt"`
	MaxTokens     int      `json:"max_tokens" mapstructure:"max_tokens"`
	PromptTimeout int      `json:"prompt_timeout" mapstructure:"prompt_timeout"` // seconds
}

// ProvidersConfig holds model provider credentials
type ProvidersConfig struct {
	AnthropicAPIKey string `json:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	OpenAIAPIKey    string `json:"openai_api_key" mapstructure:"openai_api_key"`
}

// ChannelsConfig holds channel enablement configuration
type ChannelsConfig struct {
	Telegram ChannelConfig `json:"telegram" mapstructure:"telegram"`
	Gateway  ChannelConfig `json:"gateway" mapstructure:"gateway"`
}

// ChannelConfig represents a channel configuration
type ChannelConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port         int    `json:"port" mapstructure:"port"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// RuntimeConfig tunes the prompt execution loop
type RuntimeConfig struct {
	BusyRetryDelayMS     int `json:"busy_retry_delay_ms" mapstructure:"busy_retry_delay_ms"`
	TransientBaseDelayMS int `json:"transient_base_delay_ms" mapstructure:"transient_base_delay_ms"`
	MaxTransientRetries  int `json:"max_transient_retries" mapstructure:"max_transient_retries"`
	SettleWaitMS         int `json:"settle_wait_ms" mapstructure:"settle_wait_ms"`
}

// DeliveryConfig tunes streamed output delivery
type DeliveryConfig struct {
	MinChars      int `json:"min_chars" mapstructure:"min_chars"`
	MinIntervalMS int `json:"min_interval_ms" mapstructure:"min_interval_ms"`
}

// SessionsConfig holds session store maintenance settings
type SessionsConfig struct {
	RetentionDays int    `json:"retention_days" mapstructure:"retention_days"`
	CompactKeep   int    `json:"compact_keep" mapstructure:"compact_keep"`
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"` // cron expression
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Agents: []AgentConfig{
			{
				ID:    "assistant",
				Model: "claude-sonnet-4-5",
			},
		},
		Channels: ChannelsConfig{
			Telegram: ChannelConfig{Enabled: false},
			Gateway:  ChannelConfig{Enabled: true},
		},
		Gateway: GatewayConfig{
			Port: 8787,
		},
		Runtime: RuntimeConfig{
			BusyRetryDelayMS:     1000,
			TransientBaseDelayMS: 1000,
			MaxTransientRetries:  2,
			SettleWaitMS:         150,
		},
		Delivery: DeliveryConfig{
			MinChars:      50,
			MinIntervalMS: 1000,
		},
		Sessions: SessionsConfig{
			RetentionDays: 30,
			CompactKeep:   20,
			SweepSchedule: "0 3 * * *",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
	}
}
