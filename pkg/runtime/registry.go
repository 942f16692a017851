package runtime

import (
	"strings"
	"sync"
	"time"

	"github.com/corvid-ai/corvid/pkg/agent"
	"github.com/rs/zerolog"
)

// SteerMode selects how steering text is delivered to a running agent.
type SteerMode string

const (
	SteerModeSteer    SteerMode = "steer"
	SteerModeFollowUp SteerMode = "followup"
)

// RunRecord tracks one in-flight attempt for a session.
type RunRecord struct {
	AgentID   string
	ModelRef  string
	StartedAt time.Time
	Handle    *agent.Handle
}

// Registry is the process-wide bookkeeping of in-flight runs, backing the
// interrupt/steer control surface. It is the sole writer of the invariant
// that at most one run record exists per session key. Register/Clear come
// from the coordinator; Interrupt/Steer arrive from external call paths, so
// both structures sit behind one mutex.
type Registry struct {
	logger     zerolog.Logger
	settleWait time.Duration

	mu          sync.Mutex
	runs        map[string]*RunRecord
	interrupted map[string]bool
}

// NewRegistry creates an empty run registry. settleWait is how long an
// interrupt waits for the aborted run to settle before returning.
func NewRegistry(logger zerolog.Logger, settleWait time.Duration) *Registry {
	if settleWait <= 0 {
		settleWait = 150 * time.Millisecond
	}
	return &Registry{
		logger:      logger.With().Str("module", "run_registry").Logger(),
		settleWait:  settleWait,
		runs:        make(map[string]*RunRecord),
		interrupted: make(map[string]bool),
	}
}

// Register stores the run record for a session and clears any stale
// interrupt flag so a previous turn's interrupt never leaks into this one.
func (r *Registry) Register(sessionKey string, rec *RunRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.interrupted, sessionKey)
	r.runs[sessionKey] = rec
}

// Clear removes the run record and any interrupt flag for a session.
func (r *Registry) Clear(sessionKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.runs, sessionKey)
	delete(r.interrupted, sessionKey)
}

// Interrupted reports whether the session is flagged for cooperative
// cancellation.
func (r *Registry) Interrupted(sessionKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interrupted[sessionKey]
}

// IsActive reports whether a run record exists for the session.
func (r *Registry) IsActive(sessionKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[sessionKey]
	return ok
}

// Count returns the number of in-flight runs across all sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// Interrupt flags the session for cancellation and aborts its run if the
// handle supports it. Returns false when there is no active run, or when the
// session is already flagged and no new run has registered since.
func (r *Registry) Interrupt(sessionKey, reason string) bool {
	r.mu.Lock()
	rec, ok := r.runs[sessionKey]
	if !ok || r.interrupted[sessionKey] {
		r.mu.Unlock()
		return false
	}
	r.interrupted[sessionKey] = true
	handle := rec.Handle
	r.mu.Unlock()

	r.logger.Info().
		Str("session_key", sessionKey).
		Str("reason", reason).
		Msg("Interrupting active run")

	if handle.CanAbort() {
		handle.Abort()
	}

	// Give the aborted attempt a moment to settle before reporting success.
	time.Sleep(r.settleWait)

	return true
}

// Steer delivers steering text to the session's active run. For mode
// "followup" the handle must expose FollowUp; for mode "steer" the Steer
// capability is preferred, falling back to FollowUp when absent (never the
// reverse). Returns whether delivery was attempted.
func (r *Registry) Steer(sessionKey, text string, mode SteerMode) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	r.mu.Lock()
	rec, ok := r.runs[sessionKey]
	if !ok {
		r.mu.Unlock()
		return false
	}
	handle := rec.Handle
	r.mu.Unlock()

	var deliver func(string) error
	switch mode {
	case SteerModeFollowUp:
		if !handle.CanFollowUp() {
			return false
		}
		deliver = handle.FollowUp
	default:
		if handle.CanSteer() {
			deliver = handle.Steer
		} else if handle.CanFollowUp() {
			deliver = handle.FollowUp
		} else {
			return false
		}
	}

	if err := deliver(text); err != nil {
		r.logger.Warn().
			Str("session_key", sessionKey).
			Str("mode", string(mode)).
			Err(err).
			Msg("Steer delivery failed")
	}

	return true
}
