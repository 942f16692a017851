package channels

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testChannel struct {
	name       string
	startErr   error
	startCalls int
	stopCalls  int
}

func (c *testChannel) Name() string { return c.name }

func (c *testChannel) Start(_ context.Context, dispatch DispatchFunc) error {
	if c.startErr != nil {
		return c.startErr
	}
	if dispatch == nil {
		return errors.New("no dispatch")
	}
	c.startCalls++
	return nil
}

func (c *testChannel) Stop(_ context.Context) error {
	c.stopCalls++
	return nil
}

func echoRegistry(dispatched *[]InboundMessage) *Registry {
	return NewRegistry(func(_ context.Context, msg InboundMessage) (string, error) {
		if dispatched != nil {
			*dispatched = append(*dispatched, msg)
		}
		return fmt.Sprintf("[%s] reply to %q", msg.Channel, msg.Content), nil
	})
}

func TestRegistryDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("should return the dispatcher's reply text", func(t *testing.T) {
		var dispatched []InboundMessage
		reg := echoRegistry(&dispatched)
		require.NoError(t, reg.Register(&testChannel{name: "gateway"}))

		reply, err := reg.Dispatch(ctx, InboundMessage{
			Channel:    "gateway",
			SessionKey: "gateway:ops",
			Content:    "hello",
		})
		require.NoError(t, err)
		assert.Equal(t, `[gateway] reply to "hello"`, reply)

		require.Len(t, dispatched, 1)
		assert.Equal(t, "gateway:ops", dispatched[0].SessionKey)
	})

	t.Run("should reject an unregistered channel", func(t *testing.T) {
		reg := echoRegistry(nil)

		_, err := reg.Dispatch(ctx, InboundMessage{Channel: "telegram", Content: "ping"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not registered")
	})

	t.Run("should reject a blank channel name", func(t *testing.T) {
		reg := echoRegistry(nil)

		_, err := reg.Dispatch(ctx, InboundMessage{Channel: "  ", Content: "ping"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "channel is required")
	})

	t.Run("should surface the dispatcher's error", func(t *testing.T) {
		reg := NewRegistry(func(_ context.Context, _ InboundMessage) (string, error) {
			return "", errors.New("runtime unavailable")
		})
		require.NoError(t, reg.Register(&testChannel{name: "gateway"}))

		reply, err := reg.Dispatch(ctx, InboundMessage{Channel: "gateway", Content: "hi"})
		require.Error(t, err)
		assert.Empty(t, reply)
	})
}

func TestRegistryLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("should start and stop registered channels once", func(t *testing.T) {
		reg := echoRegistry(nil)
		ch := &testChannel{name: "telegram"}
		require.NoError(t, reg.Register(ch))
		assert.True(t, reg.IsRegistered("telegram"))

		require.NoError(t, reg.StartAll(ctx))
		require.NoError(t, reg.StartAll(ctx)) // already started: no second call
		assert.Equal(t, 1, ch.startCalls)

		require.NoError(t, reg.StopAll(ctx))
		assert.Equal(t, 1, ch.stopCalls)
	})

	t.Run("should wrap a channel start failure with its name", func(t *testing.T) {
		reg := echoRegistry(nil)
		require.NoError(t, reg.Register(&testChannel{name: "telegram", startErr: errors.New("bad token")}))

		err := reg.StartAll(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `channel "telegram"`)
		assert.Contains(t, err.Error(), "bad token")
	})

	t.Run("should treat stop before start as a no-op", func(t *testing.T) {
		reg := echoRegistry(nil)
		ch := &testChannel{name: "gateway"}
		require.NoError(t, reg.Register(ch))

		require.NoError(t, reg.Stop(ctx, "gateway"))
		assert.Zero(t, ch.stopCalls)
	})

	t.Run("should reject duplicate registration", func(t *testing.T) {
		reg := echoRegistry(nil)
		require.NoError(t, reg.Register(&testChannel{name: "gateway"}))

		err := reg.Register(&testChannel{name: "gateway"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("should list channel names sorted", func(t *testing.T) {
		reg := echoRegistry(nil)
		require.NoError(t, reg.Register(&testChannel{name: "telegram"}))
		require.NoError(t, reg.Register(&testChannel{name: "gateway"}))

		assert.Equal(t, []string{"gateway", "telegram"}, reg.Names())
	})
}
