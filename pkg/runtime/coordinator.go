package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/corvid-ai/corvid/internal/observability"
	"github.com/corvid-ai/corvid/pkg/agent"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AgentManager resolves agent handles and model assignments for sessions.
// The daemon provides the concrete implementation; the coordinator only
// consumes this surface.
type AgentManager interface {
	GetAgent(ctx context.Context, sessionKey, agentID string) (agent.Binding, error)
	GetAgentFallbacks(agentID string) []string
	SetSessionModel(sessionKey, modelRef string, persist bool) error
	ClearRuntimeModelOverride(sessionKey string)
	ResolvePromptTimeout(agentID string) time.Duration
}

// DeliverySink receives incremental text fragments as they stream in.
type DeliverySink interface {
	Append(fragment string)
}

// FallbackEvent describes a model switch performed mid-turn.
type FallbackEvent struct {
	FromModel string
	ToModel   string
	Attempt   int
	Err       error
}

// RunOptions carries the per-turn callbacks for RunPrompt.
type RunOptions struct {
	// OnStream observes streaming events in emission order.
	OnStream func(agent.StreamEvent)

	// OnFallback is invoked when the session's model is switched to a
	// fallback. It is the only mid-turn notification surfaced to callers.
	OnFallback func(FallbackEvent)

	// OnContextOverflow is expected to trigger external context compaction.
	// An error from it is terminal for the turn.
	OnContextOverflow func(attempt int) error

	// Sink, when set, receives text deltas for incremental delivery.
	Sink DeliverySink
}

// Config tunes the coordinator's retry behavior. Zero values take the
// production defaults; tests shrink the delays.
type Config struct {
	BusyRetryDelay      time.Duration // idle wait before retrying a busy agent
	TransientBaseDelay  time.Duration // first transient backoff step
	MaxTransientRetries int           // per-model transient retry cap
	HeartbeatInterval   time.Duration // progress log cadence for long attempts
}

func (c *Config) applyDefaults() {
	if c.BusyRetryDelay <= 0 {
		c.BusyRetryDelay = time.Second
	}
	if c.TransientBaseDelay <= 0 {
		c.TransientBaseDelay = time.Second
	}
	if c.MaxTransientRetries <= 0 {
		c.MaxTransientRetries = 2
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
}

// Coordinator drives one conversational turn to completion against a
// session's bound backend: busy retry, context compaction retry, transient
// backoff, ordered model fallback, incremental delivery, and the
// interrupt/steer control surface via its run registry.
type Coordinator struct {
	agents   AgentManager
	registry *Registry
	logger   zerolog.Logger
	cfg      Config
}

// NewCoordinator creates a coordinator over the given agent manager and run
// registry.
func NewCoordinator(agents AgentManager, registry *Registry, logger zerolog.Logger, cfg Config) (*Coordinator, error) {
	observability.EnsureRegistered()

	if agents == nil {
		return nil, fmt.Errorf("agent manager is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("run registry is required")
	}
	cfg.applyDefaults()

	return &Coordinator{
		agents:   agents,
		registry: registry,
		logger:   logger.With().Str("module", "coordinator").Logger(),
		cfg:      cfg,
	}, nil
}

// Registry exposes the run registry backing the control surface.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Interrupt flags the session's active run for cancellation.
func (c *Coordinator) Interrupt(sessionKey, reason string) bool {
	ok := c.registry.Interrupt(sessionKey, reason)
	if ok {
		observability.RecordInterrupt()
	}
	return ok
}

// Steer delivers steering text to the session's active run.
func (c *Coordinator) Steer(sessionKey, text string, mode SteerMode) bool {
	return c.registry.Steer(sessionKey, text, mode)
}

// IsSessionActive reports whether a run is in flight for the session.
func (c *Coordinator) IsSessionActive(sessionKey string) bool {
	return c.registry.IsActive(sessionKey)
}

// ActiveRunCount returns the number of in-flight runs.
func (c *Coordinator) ActiveRunCount() int {
	return c.registry.Count()
}

// RunPrompt drives one turn for the session until it completes or fails
// terminally, returning the final response text.
//
// Busy retries are deliberately unbounded and carry no backoff beyond the
// fixed idle wait: a backend that reports busy indefinitely keeps the turn
// looping until interrupted. The interrupt flag is the escape hatch.
func (c *Coordinator) RunPrompt(ctx context.Context, sessionKey, agentID, text string, opts RunOptions) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(sessionKey) == "" {
		return "", fmt.Errorf("session key is required")
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("prompt text is required")
	}

	turnID := uuid.NewString()
	logger := c.logger.With().
		Str("session_key", sessionKey).
		Str("agent_id", agentID).
		Str("turn_id", turnID).
		Logger()

	triedModels := make(map[string]bool)
	transientRetries := make(map[string]int)
	attempt := 0

	// The fallback walk may leave a runtime model override on the session;
	// it never outlives the turn.
	defer c.agents.ClearRuntimeModelOverride(sessionKey)

	for {
		attempt++

		binding, err := c.agents.GetAgent(ctx, sessionKey, agentID)
		if err != nil {
			return "", fmt.Errorf("failed to resolve agent: %w", err)
		}

		attemptStart := time.Now()
		final, runErr := c.runAttempt(ctx, sessionKey, agentID, binding, text, opts, logger)
		if runErr == nil {
			observability.RecordRun(binding.ModelRef, time.Since(attemptStart), "success")
			logger.Info().
				Str("model", binding.ModelRef).
				Int("attempt", attempt).
				Msg("Turn completed")
			return final, nil
		}
		observability.RecordRun(binding.ModelRef, time.Since(attemptStart), "failure")

		category := Classify(runErr)
		logger.Warn().
			Str("model", binding.ModelRef).
			Int("attempt", attempt).
			Str("category", string(category)).
			Err(runErr).
			Msg("Attempt failed")

		switch category {
		case CategoryUserAbort:
			return "", runErr

		case CategoryAgentBusy:
			observability.RecordRetry(string(category))
			if err := sleepCtx(ctx, c.cfg.BusyRetryDelay); err != nil {
				return "", &AbortError{Kind: AbortUser, Reason: "cancelled while waiting for busy agent"}
			}
			continue

		case CategoryContextOverflow:
			if opts.OnContextOverflow != nil {
				if cbErr := opts.OnContextOverflow(attempt); cbErr != nil {
					return "", fmt.Errorf("context compaction failed: %w", cbErr)
				}
				observability.RecordRetry(string(category))
				continue
			}
			// No compaction available: treat like any other fatal failure
			// and walk the fallback list.

		case CategoryTransientNetwork:
			if transientRetries[binding.ModelRef] < c.cfg.MaxTransientRetries {
				delay := c.cfg.TransientBaseDelay << transientRetries[binding.ModelRef]
				transientRetries[binding.ModelRef]++
				observability.RecordRetry(string(category))
				logger.Info().
					Str("model", binding.ModelRef).
					Dur("delay", delay).
					Msg("Retrying after transient error")
				if err := sleepCtx(ctx, delay); err != nil {
					return "", &AbortError{Kind: AbortUser, Reason: "cancelled during transient backoff"}
				}
				continue
			}
			// Retries exhausted for this model: fall through to fallback.
		}

		// Capability, Unclassified, exhausted transient, or overflow with no
		// compaction path: switch to the first untried fallback model.
		triedModels[binding.ModelRef] = true

		nextModel := ""
		for _, candidate := range c.agents.GetAgentFallbacks(agentID) {
			if !triedModels[candidate] {
				nextModel = candidate
				break
			}
		}
		if nextModel == "" {
			return "", runErr
		}

		if err := c.agents.SetSessionModel(sessionKey, nextModel, false); err != nil {
			return "", fmt.Errorf("failed to switch session model: %w", err)
		}
		observability.RecordFallback(binding.ModelRef)
		logger.Info().
			Str("from_model", binding.ModelRef).
			Str("to_model", nextModel).
			Int("attempt", attempt).
			Msg("Falling back to alternate model")

		if opts.OnFallback != nil {
			opts.OnFallback(FallbackEvent{
				FromModel: binding.ModelRef,
				ToModel:   nextModel,
				Attempt:   attempt,
				Err:       runErr,
			})
		}
	}
}

type promptResult struct {
	text string
	err  error
}

// runAttempt executes one attempt against one handle: register the run, race
// the prompt against the per-agent timeout, forward stream events, and clear
// the run unconditionally when done. The interrupt flag is consulted before
// the run record is cleared so interrupt always wins over whatever the raw
// error looks like.
func (c *Coordinator) runAttempt(
	ctx context.Context,
	sessionKey, agentID string,
	binding agent.Binding,
	text string,
	opts RunOptions,
	logger zerolog.Logger,
) (string, error) {
	token := NewCancelToken()

	c.registry.Register(sessionKey, &RunRecord{
		AgentID:   agentID,
		ModelRef:  binding.ModelRef,
		StartedAt: time.Now(),
		Handle:    binding.Handle,
	})
	observability.SetActiveRuns(c.registry.Count())
	defer func() {
		c.registry.Clear(sessionKey)
		observability.SetActiveRuns(c.registry.Count())
	}()

	var accMu sync.Mutex
	var accumulated strings.Builder

	unsubscribe := func() {}
	if binding.Handle.Subscribe != nil {
		unsubscribe = binding.Handle.Subscribe(func(ev agent.StreamEvent) {
			switch ev.Type {
			case agent.EventTextDelta:
				accMu.Lock()
				accumulated.WriteString(ev.Delta)
				accMu.Unlock()
				if opts.Sink != nil {
					opts.Sink.Append(ev.Delta)
				}
			case agent.EventToolStart, agent.EventToolEnd, agent.EventAgentEnd:
				// Forwarded below.
			default:
				// Unrecognized event shape: ignore.
				return
			}
			if opts.OnStream != nil {
				opts.OnStream(ev)
			}
		})
	}
	defer unsubscribe()

	heartbeatDone := make(chan struct{})
	defer close(heartbeatDone)
	go func() {
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatDone:
				return
			case <-ticker.C:
				logger.Debug().
					Str("model", binding.ModelRef).
					Msg("Attempt still in progress")
			}
		}
	}()

	promptCtx, cancelPrompt := context.WithCancel(ctx)
	defer cancelPrompt()

	resultCh := make(chan promptResult, 1)
	go func() {
		out, err := binding.Handle.Prompt(promptCtx, text)
		resultCh <- promptResult{text: out, err: err}
	}()

	var timeoutCh <-chan time.Time
	if timeout := c.agents.ResolvePromptTimeout(agentID); timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			if c.registry.Interrupted(sessionKey) {
				return "", &AbortError{Kind: AbortUser, Reason: "run interrupted"}
			}
			return "", res.err
		}
		final := res.text
		if final == "" {
			accMu.Lock()
			final = accumulated.String()
			accMu.Unlock()
		}
		if opts.OnStream != nil {
			opts.OnStream(agent.StreamEvent{Type: agent.EventAgentEnd, FullText: final})
		}
		return final, nil

	case <-timeoutCh:
		// Attempt timeout, not a user abort: the resulting failure stays
		// eligible for fallback.
		token.Trigger(AbortTimeout, fmt.Sprintf("prompt exceeded %s timeout", c.agents.ResolvePromptTimeout(agentID)))
		cancelPrompt()
		if binding.Handle.CanAbort() {
			binding.Handle.Abort()
		}
		if c.registry.Interrupted(sessionKey) {
			return "", &AbortError{Kind: AbortUser, Reason: "run interrupted"}
		}
		return "", token.Err()

	case <-ctx.Done():
		token.Trigger(AbortUser, "caller context cancelled")
		cancelPrompt()
		if binding.Handle.CanAbort() {
			binding.Handle.Abort()
		}
		return "", token.Err()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
