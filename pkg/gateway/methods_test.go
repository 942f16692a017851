package gateway

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-ai/corvid/pkg/runtime"
)

type fakeControl struct {
	interrupted []string
	steered     []string
	steerModes  []runtime.SteerMode
	active      map[string]bool
	runCount    int
}

func (f *fakeControl) Interrupt(sessionKey, _ string) bool {
	f.interrupted = append(f.interrupted, sessionKey)
	return f.active[sessionKey]
}

func (f *fakeControl) Steer(sessionKey, text string, mode runtime.SteerMode) bool {
	f.steered = append(f.steered, text)
	f.steerModes = append(f.steerModes, mode)
	return f.active[sessionKey]
}

func (f *fakeControl) IsSessionActive(sessionKey string) bool {
	return f.active[sessionKey]
}

func (f *fakeControl) ActiveRunCount() int {
	return f.runCount
}

type fakeSessions struct {
	keys []string
}

func (f *fakeSessions) List() ([]string, error) {
	return f.keys, nil
}

func newTestServer(t *testing.T, control *fakeControl, dispatcher Dispatcher) *Server {
	t.Helper()
	s, err := NewServer(Config{
		Port:         18787,
		SharedSecret: "test-secret",
		Runtime:      control,
		Dispatcher:   dispatcher,
		Sessions:     &fakeSessions{keys: []string{"telegram:1", "gateway:x"}},
		Logger:       zerolog.New(os.Stdout).Level(zerolog.ErrorLevel),
	})
	require.NoError(t, err)
	return s
}

func TestNewServer(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)

	t.Run("should validate config", func(t *testing.T) {
		_, err := NewServer(Config{SharedSecret: "s", Runtime: &fakeControl{}, Logger: logger})
		assert.ErrorContains(t, err, "invalid port")

		_, err = NewServer(Config{Port: 1, Runtime: &fakeControl{}, Logger: logger})
		assert.ErrorContains(t, err, "shared secret")

		_, err = NewServer(Config{Port: 1, SharedSecret: "s", Logger: logger})
		assert.ErrorContains(t, err, "runtime control")
	})

	t.Run("should register the builtin methods", func(t *testing.T) {
		s := newTestServer(t, &fakeControl{}, nil)

		for _, method := range []string{"runtime.interrupt", "runtime.steer", "runtime.status", "sessions.list", "chat.send"} {
			assert.True(t, s.router.HasMethod(method), method)
		}
	})
}

func TestRuntimeInterruptMethod(t *testing.T) {
	t.Run("should interrupt an active session", func(t *testing.T) {
		control := &fakeControl{active: map[string]bool{"s1": true}}
		s := newTestServer(t, control, nil)

		result, err := s.handleRuntimeInterrupt(context.Background(), map[string]interface{}{
			"session_key": "s1",
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"interrupted": true}, result)
		assert.Equal(t, []string{"s1"}, control.interrupted)
	})

	t.Run("should report false for an idle session", func(t *testing.T) {
		s := newTestServer(t, &fakeControl{}, nil)

		result, err := s.handleRuntimeInterrupt(context.Background(), map[string]interface{}{
			"session_key": "idle",
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"interrupted": false}, result)
	})

	t.Run("should require session_key", func(t *testing.T) {
		s := newTestServer(t, &fakeControl{}, nil)

		_, err := s.handleRuntimeInterrupt(context.Background(), map[string]interface{}{})
		var rpcErr *RPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, InvalidParams, rpcErr.Code)
	})
}

func TestRuntimeSteerMethod(t *testing.T) {
	t.Run("should deliver steering text with the requested mode", func(t *testing.T) {
		control := &fakeControl{active: map[string]bool{"s1": true}}
		s := newTestServer(t, control, nil)

		result, err := s.handleRuntimeSteer(context.Background(), map[string]interface{}{
			"session_key": "s1",
			"text":        "focus on the error path",
			"mode":        "followup",
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"delivered": true}, result)
		assert.Equal(t, []string{"focus on the error path"}, control.steered)
		assert.Equal(t, []runtime.SteerMode{runtime.SteerModeFollowUp}, control.steerModes)
	})

	t.Run("should default to steer mode", func(t *testing.T) {
		control := &fakeControl{active: map[string]bool{"s1": true}}
		s := newTestServer(t, control, nil)

		_, err := s.handleRuntimeSteer(context.Background(), map[string]interface{}{
			"session_key": "s1",
			"text":        "hello",
		})
		require.NoError(t, err)
		assert.Equal(t, []runtime.SteerMode{runtime.SteerModeSteer}, control.steerModes)
	})

	t.Run("should reject missing text and bad modes", func(t *testing.T) {
		s := newTestServer(t, &fakeControl{}, nil)

		_, err := s.handleRuntimeSteer(context.Background(), map[string]interface{}{
			"session_key": "s1",
		})
		assert.Error(t, err)

		_, err = s.handleRuntimeSteer(context.Background(), map[string]interface{}{
			"session_key": "s1",
			"text":        "x",
			"mode":        "sideways",
		})
		assert.Error(t, err)
	})
}

func TestRuntimeStatusMethod(t *testing.T) {
	t.Run("should report run counts and session activity", func(t *testing.T) {
		control := &fakeControl{runCount: 3, active: map[string]bool{"s1": true}}
		s := newTestServer(t, control, nil)

		result, err := s.handleRuntimeStatus(context.Background(), map[string]interface{}{
			"session_key": "s1",
		})
		require.NoError(t, err)

		status, ok := result.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, 3, status["active_runs"])
		assert.Equal(t, true, status["session_active"])
	})
}

func TestSessionsListMethod(t *testing.T) {
	t.Run("should list known sessions", func(t *testing.T) {
		s := newTestServer(t, &fakeControl{}, nil)

		result, err := s.handleSessionsList(context.Background(), nil)
		require.NoError(t, err)

		listing, ok := result.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, 2, listing["count"])
	})
}

func TestChatSendMethod(t *testing.T) {
	t.Run("should dispatch prompts into the runtime", func(t *testing.T) {
		var got DispatchRequest
		dispatcher := func(_ context.Context, req DispatchRequest) (string, error) {
			got = req
			return "the reply", nil
		}
		s := newTestServer(t, &fakeControl{}, dispatcher)

		result, err := s.handleChatSend(context.Background(), map[string]interface{}{
			"prompt":      "hello",
			"session_key": "gateway:ops",
		})
		require.NoError(t, err)

		reply, ok := result.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "the reply", reply["reply"])
		assert.Equal(t, "hello", got.Prompt)
		assert.Equal(t, "gateway:ops", got.SessionKey)
		assert.Equal(t, "gateway", got.Source)
	})

	t.Run("should default the session key", func(t *testing.T) {
		dispatcher := func(_ context.Context, req DispatchRequest) (string, error) {
			return "", nil
		}
		s := newTestServer(t, &fakeControl{}, dispatcher)

		result, err := s.handleChatSend(context.Background(), map[string]interface{}{
			"prompt": "hello",
		})
		require.NoError(t, err)

		reply := result.(map[string]interface{})
		assert.Equal(t, "gateway:default", reply["session_key"])
	})

	t.Run("should require a prompt and a dispatcher", func(t *testing.T) {
		s := newTestServer(t, &fakeControl{}, nil)

		_, err := s.handleChatSend(context.Background(), map[string]interface{}{"prompt": "x"})
		assert.Error(t, err)

		dispatcher := func(context.Context, DispatchRequest) (string, error) { return "", nil }
		s = newTestServer(t, &fakeControl{}, dispatcher)
		_, err = s.handleChatSend(context.Background(), map[string]interface{}{"prompt": "  "})
		assert.Error(t, err)
	})
}
