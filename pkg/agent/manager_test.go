package agent

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFactory struct {
	models []string
}

func (f *fakeFactory) NewHandle(model, _ string) (*Handle, error) {
	f.models = append(f.models, model)
	return &Handle{
		Prompt: func(context.Context, string) (string, error) { return "", nil },
	}, nil
}

type memModelStore struct {
	models map[string]string
}

func (s *memModelStore) SetModel(sessionKey, modelRef string) error {
	if s.models == nil {
		s.models = make(map[string]string)
	}
	s.models[sessionKey] = modelRef
	return nil
}

func (s *memModelStore) Model(sessionKey string) (string, bool) {
	m, ok := s.models[sessionKey]
	return m, ok
}

func newTestManager(t *testing.T, factory HandleFactory, store ModelStore, defs ...Definition) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{
		Factory:     factory,
		Store:       store,
		Definitions: defs,
		Logger:      zerolog.New(os.Stdout).Level(zerolog.ErrorLevel),
	})
	require.NoError(t, err)
	return m
}

func TestNewManager(t *testing.T) {
	factory := &fakeFactory{}

	t.Run("should require a factory", func(t *testing.T) {
		_, err := NewManager(ManagerConfig{Definitions: []Definition{{ID: "a", Model: "m"}}})
		assert.Error(t, err)
	})

	t.Run("should require at least one definition", func(t *testing.T) {
		_, err := NewManager(ManagerConfig{Factory: factory})
		assert.Error(t, err)
	})

	t.Run("should reject duplicate agent ids", func(t *testing.T) {
		_, err := NewManager(ManagerConfig{
			Factory: factory,
			Definitions: []Definition{
				{ID: "a", Model: "m1"},
				{ID: "a", Model: "m2"},
			},
		})
		assert.ErrorContains(t, err, "duplicate")
	})

	t.Run("should reject definitions without a model", func(t *testing.T) {
		_, err := NewManager(ManagerConfig{
			Factory:     factory,
			Definitions: []Definition{{ID: "a"}},
		})
		assert.Error(t, err)
	})
}

func TestManagerGetAgent(t *testing.T) {
	ctx := context.Background()

	t.Run("should use the definition model by default", func(t *testing.T) {
		factory := &fakeFactory{}
		m := newTestManager(t, factory, nil, Definition{ID: "a", Model: "m-primary"})

		binding, err := m.GetAgent(ctx, "s1", "a")
		require.NoError(t, err)
		assert.Equal(t, "m-primary", binding.ModelRef)
		require.NotNil(t, binding.Handle)
	})

	t.Run("should resolve the first definition for empty or default id", func(t *testing.T) {
		factory := &fakeFactory{}
		m := newTestManager(t, factory, nil,
			Definition{ID: "first", Model: "m1"},
			Definition{ID: "second", Model: "m2"},
		)

		binding, err := m.GetAgent(ctx, "s1", "")
		require.NoError(t, err)
		assert.Equal(t, "m1", binding.ModelRef)

		binding, err = m.GetAgent(ctx, "s1", "default")
		require.NoError(t, err)
		assert.Equal(t, "m1", binding.ModelRef)
	})

	t.Run("should error for unknown agents", func(t *testing.T) {
		m := newTestManager(t, &fakeFactory{}, nil, Definition{ID: "a", Model: "m"})

		_, err := m.GetAgent(ctx, "s1", "nope")
		assert.ErrorContains(t, err, "not found")
	})

	t.Run("should prefer persisted session model over the definition", func(t *testing.T) {
		store := &memModelStore{}
		require.NoError(t, store.SetModel("s1", "m-persisted"))

		m := newTestManager(t, &fakeFactory{}, store, Definition{ID: "a", Model: "m-primary"})

		binding, err := m.GetAgent(ctx, "s1", "a")
		require.NoError(t, err)
		assert.Equal(t, "m-persisted", binding.ModelRef)

		// Other sessions are untouched.
		binding, err = m.GetAgent(ctx, "s2", "a")
		require.NoError(t, err)
		assert.Equal(t, "m-primary", binding.ModelRef)
	})

	t.Run("should prefer the runtime override over everything", func(t *testing.T) {
		store := &memModelStore{}
		require.NoError(t, store.SetModel("s1", "m-persisted"))

		m := newTestManager(t, &fakeFactory{}, store, Definition{ID: "a", Model: "m-primary"})
		require.NoError(t, m.SetSessionModel("s1", "m-override", false))

		binding, err := m.GetAgent(ctx, "s1", "a")
		require.NoError(t, err)
		assert.Equal(t, "m-override", binding.ModelRef)

		// Runtime overrides must not leak into the store.
		persisted, _ := store.Model("s1")
		assert.Equal(t, "m-persisted", persisted)

		m.ClearRuntimeModelOverride("s1")
		binding, err = m.GetAgent(ctx, "s1", "a")
		require.NoError(t, err)
		assert.Equal(t, "m-persisted", binding.ModelRef)
	})

	t.Run("should honor context cancellation", func(t *testing.T) {
		m := newTestManager(t, &fakeFactory{}, nil, Definition{ID: "a", Model: "m"})

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := m.GetAgent(cancelled, "s1", "a")
		assert.Error(t, err)
	})
}

func TestManagerSetSessionModel(t *testing.T) {
	t.Run("should persist through the store when asked", func(t *testing.T) {
		store := &memModelStore{}
		m := newTestManager(t, &fakeFactory{}, store, Definition{ID: "a", Model: "m"})

		require.NoError(t, m.SetSessionModel("s1", "m-new", true))
		persisted, ok := store.Model("s1")
		assert.True(t, ok)
		assert.Equal(t, "m-new", persisted)
	})

	t.Run("should fail persisted set without a store", func(t *testing.T) {
		m := newTestManager(t, &fakeFactory{}, nil, Definition{ID: "a", Model: "m"})
		assert.Error(t, m.SetSessionModel("s1", "m-new", true))
	})

	t.Run("should reject an empty model ref", func(t *testing.T) {
		m := newTestManager(t, &fakeFactory{}, nil, Definition{ID: "a", Model: "m"})
		assert.Error(t, m.SetSessionModel("s1", "  ", false))
	})
}

func TestManagerFallbacksAndTimeout(t *testing.T) {
	t.Run("should return a copy of the fallback list", func(t *testing.T) {
		m := newTestManager(t, &fakeFactory{}, nil, Definition{
			ID: "a", Model: "m1", Fallbacks: []string{"m2", "m3"},
		})

		fallbacks := m.GetAgentFallbacks("a")
		assert.Equal(t, []string{"m2", "m3"}, fallbacks)

		fallbacks[0] = "mutated"
		assert.Equal(t, []string{"m2", "m3"}, m.GetAgentFallbacks("a"))
	})

	t.Run("should return nil fallbacks for unknown agents", func(t *testing.T) {
		m := newTestManager(t, &fakeFactory{}, nil, Definition{ID: "a", Model: "m"})
		assert.Nil(t, m.GetAgentFallbacks("nope"))
	})

	t.Run("should resolve per-agent and default timeouts", func(t *testing.T) {
		m := newTestManager(t, &fakeFactory{}, nil,
			Definition{ID: "slow", Model: "m", PromptTimeout: 5 * time.Minute},
			Definition{ID: "plain", Model: "m"},
		)

		assert.Equal(t, 5*time.Minute, m.ResolvePromptTimeout("slow"))
		assert.Equal(t, 2*time.Minute, m.ResolvePromptTimeout("plain"))
		assert.Equal(t, 2*time.Minute, m.ResolvePromptTimeout("unknown"))
	})
}
