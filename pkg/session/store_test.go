package session

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)
	store, err := NewStore(t.TempDir(), logger)
	require.NoError(t, err)
	return store
}

func TestStoreAppendLoad(t *testing.T) {
	t.Run("should round-trip messages in order", func(t *testing.T) {
		store := newTestStore(t)

		require.NoError(t, store.Append("telegram:42", Message{Role: "user", Content: "hello"}))
		require.NoError(t, store.Append("telegram:42", Message{Role: "assistant", Content: "hi there"}))

		entries, err := store.Load("telegram:42")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "user", entries[0].Message.Role)
		assert.Equal(t, "hello", entries[0].Message.Content)
		assert.Equal(t, "assistant", entries[1].Message.Role)
		assert.Equal(t, "telegram:42", entries[1].SessionKey)
	})

	t.Run("should return empty for a missing session", func(t *testing.T) {
		store := newTestStore(t)

		entries, err := store.Load("never-seen")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("should require a role", func(t *testing.T) {
		store := newTestStore(t)
		assert.Error(t, store.Append("s1", Message{Content: "no role"}))
	})

	t.Run("should stamp missing timestamps", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.Append("s1", Message{Role: "user", Content: "x"}))

		entries, err := store.Load("s1")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.False(t, entries[0].Message.Timestamp.IsZero())
	})

	t.Run("should skip corrupt transcript lines", func(t *testing.T) {
		store := newTestStore(t)

		require.NoError(t, store.Append("s1", Message{Role: "user", Content: "good"}))

		f, err := os.OpenFile(filepath.Join(store.dir, "s1.jsonl"), os.O_WRONLY|os.O_APPEND, 0600)
		require.NoError(t, err)
		_, err = f.WriteString("{not json\n\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		require.NoError(t, store.Append("s1", Message{Role: "assistant", Content: "also good"}))

		entries, err := store.Load("s1")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "good", entries[0].Message.Content)
		assert.Equal(t, "also good", entries[1].Message.Content)
	})

	t.Run("should reject unsafe session keys", func(t *testing.T) {
		store := newTestStore(t)

		for _, key := range []string{"", "../etc/passwd", "a/b", `a\b`, "a\x00b"} {
			assert.Error(t, store.Append(key, Message{Role: "user", Content: "x"}), "key %q", key)
		}
	})
}

func TestStoreList(t *testing.T) {
	t.Run("should list sessions ignoring meta files", func(t *testing.T) {
		store := newTestStore(t)

		require.NoError(t, store.Append("s1", Message{Role: "user", Content: "x"}))
		require.NoError(t, store.Append("s2", Message{Role: "user", Content: "y"}))
		require.NoError(t, store.SetModel("s1", "m1"))

		keys, err := store.List()
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"s1", "s2"}, keys)
	})
}

func TestStoreCompact(t *testing.T) {
	t.Run("should keep only the most recent messages", func(t *testing.T) {
		store := newTestStore(t)

		for i := 0; i < 30; i++ {
			require.NoError(t, store.Append("s1", Message{
				Role:    "user",
				Content: fmt.Sprintf("message %d", i),
			}))
		}

		require.NoError(t, store.Compact("s1", 10))

		entries, err := store.Load("s1")
		require.NoError(t, err)
		require.Len(t, entries, 10)
		assert.Equal(t, "message 20", entries[0].Message.Content)
		assert.Equal(t, "message 29", entries[9].Message.Content)
	})

	t.Run("should be a no-op when under the limit", func(t *testing.T) {
		store := newTestStore(t)

		require.NoError(t, store.Append("s1", Message{Role: "user", Content: "only one"}))
		require.NoError(t, store.Compact("s1", 10))

		entries, err := store.Load("s1")
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}

func TestStoreCleanup(t *testing.T) {
	t.Run("should remove only stale transcripts", func(t *testing.T) {
		store := newTestStore(t)

		require.NoError(t, store.Append("old", Message{Role: "user", Content: "x"}))
		require.NoError(t, store.SetModel("old", "m1"))
		require.NoError(t, store.Append("fresh", Message{Role: "user", Content: "y"}))

		stale := time.Now().Add(-48 * time.Hour)
		require.NoError(t, os.Chtimes(filepath.Join(store.dir, "old.jsonl"), stale, stale))

		removed, err := store.CleanupOlderThan(24 * time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		keys, err := store.List()
		require.NoError(t, err)
		assert.Equal(t, []string{"fresh"}, keys)

		// Meta sidecar goes with the transcript.
		_, ok := store.Model("old")
		assert.False(t, ok)
	})
}

func TestStoreModel(t *testing.T) {
	t.Run("should persist and read back the session model", func(t *testing.T) {
		store := newTestStore(t)

		_, ok := store.Model("s1")
		assert.False(t, ok)

		require.NoError(t, store.SetModel("s1", "claude-sonnet-4-5"))

		model, ok := store.Model("s1")
		assert.True(t, ok)
		assert.Equal(t, "claude-sonnet-4-5", model)
	})
}
