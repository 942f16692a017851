package runtime

import (
	"fmt"
	"sync"
)

// AbortKind distinguishes why a cancellation token fired. The attempt-level
// timeout and an external user interrupt take completely different paths
// through failure handling, so the kind must survive into classification.
type AbortKind string

const (
	AbortNone    AbortKind = ""
	AbortTimeout AbortKind = "timeout"
	AbortUser    AbortKind = "user"
)

// AbortError is the failure produced when a cancellation token fires.
type AbortError struct {
	Kind   AbortKind
	Reason string
}

func (e *AbortError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("prompt aborted (%s)", e.Kind)
	}
	return fmt.Sprintf("prompt aborted (%s): %s", e.Kind, e.Reason)
}

// CancelToken is a one-shot cancellation signal observed by whichever
// operation is currently racing it. It can be triggered exactly once and
// remembers the kind and reason it was triggered with.
type CancelToken struct {
	once sync.Once
	done chan struct{}

	mu     sync.Mutex
	kind   AbortKind
	reason string
}

// NewCancelToken creates an untriggered token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Trigger fires the token. Only the first call has any effect.
func (t *CancelToken) Trigger(kind AbortKind, reason string) {
	t.once.Do(func() {
		t.mu.Lock()
		t.kind = kind
		t.reason = reason
		t.mu.Unlock()
		close(t.done)
	})
}

// Done is closed once the token has been triggered.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}

// Kind returns the kind the token was triggered with, or AbortNone.
func (t *CancelToken) Kind() AbortKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.kind
}

// Triggered reports whether the token has fired.
func (t *CancelToken) Triggered() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Err returns the abort error for a triggered token, nil otherwise.
func (t *CancelToken) Err() error {
	if !t.Triggered() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return &AbortError{Kind: t.kind, Reason: t.reason}
}
