package config

import (
	"fmt"
	"regexp"
	"strings"
)

var telegramTokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the full configuration for inconsistencies
func (v *Validator) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if len(cfg.Agents) == 0 {
		return fmt.Errorf("at least one agent must be configured")
	}

	seen := make(map[string]bool)
	for i, agent := range cfg.Agents {
		if agent.ID == "" {
			return fmt.Errorf("agent %d: id cannot be empty", i)
		}
		if seen[agent.ID] {
			return fmt.Errorf("agent %q: duplicate id", agent.ID)
		}
		seen[agent.ID] = true

		if err := v.ValidateModel(agent.Model); err != nil {
			return fmt.Errorf("agent %q: %w", agent.ID, err)
		}
		for _, fb := range agent.Fallbacks {
			if err := v.ValidateModel(fb); err != nil {
				return fmt.Errorf("agent %q fallback: %w", agent.ID, err)
			}
		}
		if agent.PromptTimeout < 0 {
			return fmt.Errorf("agent %q: prompt_timeout cannot be negative", agent.ID)
		}
	}

	if cfg.Channels.Telegram.Enabled {
		if err := v.ValidateTelegramToken(cfg.Telegram.BotToken); err != nil {
			return err
		}
	}

	if cfg.Channels.Gateway.Enabled {
		if cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535 {
			return fmt.Errorf("gateway port must be between 1 and 65535, got %d", cfg.Gateway.Port)
		}
		if cfg.Gateway.SharedSecret == "" {
			return fmt.Errorf("gateway shared_secret is required when the gateway channel is enabled")
		}
	}

	if cfg.Runtime.MaxTransientRetries < 0 {
		return fmt.Errorf("runtime max_transient_retries cannot be negative")
	}
	if cfg.Delivery.MinChars < 0 || cfg.Delivery.MinIntervalMS < 0 {
		return fmt.Errorf("delivery thresholds cannot be negative")
	}
	if cfg.Sessions.RetentionDays < 0 {
		return fmt.Errorf("sessions retention_days cannot be negative")
	}

	return nil
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateTelegramToken validates a Telegram bot token
func (v *Validator) ValidateTelegramToken(token string) error {
	if token == "" {
		return fmt.Errorf("telegram bot token cannot be empty")
	}

	// Telegram bot tokens have format: <bot_id>:<token>
	if !telegramTokenPattern.MatchString(token) {
		return fmt.Errorf("invalid Telegram bot token format")
	}

	return nil
}

// ValidateModel validates a model name
func (v *Validator) ValidateModel(model string) error {
	if model == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	return nil
}
