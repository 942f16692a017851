package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Definition configures one agent identity: its primary model, the ordered
// fallback models consulted when the primary fails fatally, and per-agent
// limits.
type Definition struct {
	ID            string
	Model         string
	Fallbacks     []string
	SystemPrompt  string
	PromptTimeout time.Duration
	MaxTokens     int
}

// HandleFactory mints a handle bound to one model.
type HandleFactory interface {
	NewHandle(model, systemPrompt string) (*Handle, error)
}

// ModelStore persists session model assignments across restarts. Runtime
// overrides never touch it.
type ModelStore interface {
	SetModel(sessionKey, modelRef string) error
	Model(sessionKey string) (string, bool)
}

// Manager binds sessions to agent handles. Model resolution order: runtime
// override (set by the fallback walk, cleared when the turn ends), persisted
// session assignment, then the agent definition's model.
type Manager struct {
	factory HandleFactory
	store   ModelStore
	logger  zerolog.Logger

	defaultTimeout time.Duration

	mu        sync.RWMutex
	defs      map[string]Definition
	defaultID string
	overrides map[string]string
}

// ManagerConfig holds manager construction parameters.
type ManagerConfig struct {
	Factory        HandleFactory
	Store          ModelStore // optional
	Definitions    []Definition
	DefaultTimeout time.Duration
	Logger         zerolog.Logger
}

// NewManager creates an agent manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("handle factory is required")
	}
	if len(cfg.Definitions) == 0 {
		return nil, fmt.Errorf("at least one agent definition is required")
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 2 * time.Minute
	}

	defs := make(map[string]Definition, len(cfg.Definitions))
	for _, def := range cfg.Definitions {
		if strings.TrimSpace(def.ID) == "" {
			return nil, fmt.Errorf("agent definition has empty id")
		}
		if strings.TrimSpace(def.Model) == "" {
			return nil, fmt.Errorf("agent %q has no model", def.ID)
		}
		if _, exists := defs[def.ID]; exists {
			return nil, fmt.Errorf("duplicate agent id %q", def.ID)
		}
		defs[def.ID] = def
	}

	return &Manager{
		factory:        cfg.Factory,
		store:          cfg.Store,
		logger:         cfg.Logger.With().Str("module", "agent_manager").Logger(),
		defaultTimeout: cfg.DefaultTimeout,
		defs:           defs,
		defaultID:      cfg.Definitions[0].ID,
		overrides:      make(map[string]string),
	}, nil
}

func (m *Manager) resolveDefinition(agentID string) (Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id := strings.TrimSpace(agentID)
	if id == "" || id == "default" {
		id = m.defaultID
	}
	def, ok := m.defs[id]
	if !ok {
		return Definition{}, fmt.Errorf("agent %q not found", agentID)
	}
	return def, nil
}

// GetAgent resolves the model for the session and mints a fresh handle bound
// to it. The handle belongs to the calling attempt alone.
func (m *Manager) GetAgent(ctx context.Context, sessionKey, agentID string) (Binding, error) {
	if err := ctx.Err(); err != nil {
		return Binding{}, err
	}

	def, err := m.resolveDefinition(agentID)
	if err != nil {
		return Binding{}, err
	}

	model := def.Model
	if m.store != nil {
		if persisted, ok := m.store.Model(sessionKey); ok && persisted != "" {
			model = persisted
		}
	}
	m.mu.RLock()
	if override, ok := m.overrides[sessionKey]; ok && override != "" {
		model = override
	}
	m.mu.RUnlock()

	handle, err := m.factory.NewHandle(model, def.SystemPrompt)
	if err != nil {
		return Binding{}, fmt.Errorf("failed to create handle for model %q: %w", model, err)
	}

	return Binding{Handle: handle, ModelRef: model}, nil
}

// GetAgentFallbacks returns the ordered fallback models for an agent.
func (m *Manager) GetAgentFallbacks(agentID string) []string {
	def, err := m.resolveDefinition(agentID)
	if err != nil {
		return nil
	}
	return append([]string{}, def.Fallbacks...)
}

// SetSessionModel assigns a model to a session. Non-persisted assignments
// are runtime overrides that live only until cleared; persisted ones go
// through the model store.
func (m *Manager) SetSessionModel(sessionKey, modelRef string, persist bool) error {
	if strings.TrimSpace(modelRef) == "" {
		return fmt.Errorf("model ref is required")
	}

	if persist {
		if m.store == nil {
			return fmt.Errorf("no model store configured")
		}
		return m.store.SetModel(sessionKey, modelRef)
	}

	m.mu.Lock()
	m.overrides[sessionKey] = modelRef
	m.mu.Unlock()
	return nil
}

// ClearRuntimeModelOverride drops the session's non-persisted model
// override, if any.
func (m *Manager) ClearRuntimeModelOverride(sessionKey string) {
	m.mu.Lock()
	delete(m.overrides, sessionKey)
	m.mu.Unlock()
}

// ResolvePromptTimeout returns the per-agent prompt timeout.
func (m *Manager) ResolvePromptTimeout(agentID string) time.Duration {
	def, err := m.resolveDefinition(agentID)
	if err != nil || def.PromptTimeout <= 0 {
		return m.defaultTimeout
	}
	return def.PromptTimeout
}
