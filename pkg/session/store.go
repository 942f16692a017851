// Package session persists conversation transcripts as JSONL files, one per
// session key, plus a small sidecar with session metadata such as the
// persisted model assignment.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Message is a single conversation turn.
type Message struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Entry is a persisted message with its session key.
type Entry struct {
	SessionKey string  `json:"sessionKey"`
	Message    Message `json:"message"`
}

type sessionMeta struct {
	Model string `json:"model,omitempty"`
}

// Store manages transcript persistence under one directory.
type Store struct {
	dir    string
	logger zerolog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".corvid", "sessions")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	return &Store{
		dir:    dir,
		logger: logger.With().Str("module", "session_store").Logger(),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func validateSessionKey(sessionKey string) error {
	if sessionKey == "" {
		return fmt.Errorf("session key cannot be empty")
	}
	if strings.Contains(sessionKey, "..") {
		return fmt.Errorf("session key cannot contain '..'")
	}
	if strings.ContainsAny(sessionKey, "/\\") {
		return fmt.Errorf("session key cannot contain path separators")
	}
	if strings.Contains(sessionKey, "\x00") {
		return fmt.Errorf("session key cannot contain null bytes")
	}
	return nil
}

func (s *Store) transcriptPath(sessionKey string) string {
	return filepath.Join(s.dir, sessionKey+".jsonl")
}

func (s *Store) metaPath(sessionKey string) string {
	return filepath.Join(s.dir, sessionKey+".meta.json")
}

func (s *Store) writeLock(sessionKey string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, ok := s.locks[sessionKey]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[sessionKey] = lock
	return lock
}

// Append adds a message to the session transcript.
func (s *Store) Append(sessionKey string, msg Message) error {
	if err := validateSessionKey(sessionKey); err != nil {
		return err
	}
	if msg.Role == "" {
		return fmt.Errorf("message role is required")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	lock := s.writeLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.Marshal(Entry{SessionKey: sessionKey, Message: msg})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	f, err := os.OpenFile(s.transcriptPath(sessionKey), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write session entry: %w", err)
	}
	return nil
}

// Load reads the session transcript. Invalid or incomplete lines are skipped
// rather than failing the whole load.
func (s *Store) Load(sessionKey string) ([]Entry, error) {
	if err := validateSessionKey(sessionKey); err != nil {
		return nil, err
	}

	f, err := os.Open(s.transcriptPath(sessionKey))
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer f.Close()

	entries := []Entry{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			s.logger.Warn().Str("session_key", sessionKey).Msg("Skipping invalid transcript line")
			continue
		}
		if entry.Message.Role == "" || entry.Message.Content == "" {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	return entries, nil
}

// List returns all session keys with a transcript on disk.
func (s *Store) List() ([]string, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	keys := []string{}
	for _, f := range files {
		name := f.Name()
		if strings.HasSuffix(name, ".jsonl") {
			keys = append(keys, strings.TrimSuffix(name, ".jsonl"))
		}
	}
	return keys, nil
}

// Compact trims the transcript to its most recent keep messages. Used when a
// turn fails with a context-capacity overflow.
func (s *Store) Compact(sessionKey string, keep int) error {
	if keep <= 0 {
		keep = 20
	}

	entries, err := s.Load(sessionKey)
	if err != nil {
		return err
	}
	if len(entries) <= keep {
		return nil
	}

	lock := s.writeLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	kept := entries[len(entries)-keep:]
	tmp := s.transcriptPath(sessionKey) + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create compacted transcript: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, entry := range kept {
		data, err := json.Marshal(entry)
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			f.Close()
			return fmt.Errorf("failed to write compacted entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush compacted transcript: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close compacted transcript: %w", err)
	}
	if err := os.Rename(tmp, s.transcriptPath(sessionKey)); err != nil {
		return fmt.Errorf("failed to replace transcript: %w", err)
	}

	s.logger.Info().
		Str("session_key", sessionKey).
		Int("dropped", len(entries)-keep).
		Msg("Transcript compacted")
	return nil
}

// CleanupOlderThan removes transcripts not modified within maxAge. Returns
// the number of sessions removed.
func (s *Store) CleanupOlderThan(maxAge time.Duration) (int, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, f := range files {
		if !strings.HasSuffix(f.Name(), ".jsonl") {
			continue
		}
		info, err := f.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		key := strings.TrimSuffix(f.Name(), ".jsonl")
		if err := os.Remove(s.transcriptPath(key)); err != nil {
			continue
		}
		_ = os.Remove(s.metaPath(key))
		removed++
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Cleaned up stale sessions")
	}
	return removed, nil
}

// SetModel persists the session's model assignment.
func (s *Store) SetModel(sessionKey, modelRef string) error {
	if err := validateSessionKey(sessionKey); err != nil {
		return err
	}

	lock := s.writeLock(sessionKey)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.Marshal(sessionMeta{Model: modelRef})
	if err != nil {
		return fmt.Errorf("failed to marshal session meta: %w", err)
	}
	if err := os.WriteFile(s.metaPath(sessionKey), data, 0600); err != nil {
		return fmt.Errorf("failed to write session meta: %w", err)
	}
	return nil
}

// Model returns the persisted model assignment for the session, if any.
func (s *Store) Model(sessionKey string) (string, bool) {
	data, err := os.ReadFile(s.metaPath(sessionKey))
	if err != nil {
		return "", false
	}
	var meta sessionMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return "", false
	}
	return meta.Model, meta.Model != ""
}
