package agent

import "context"

// Handle is the capability set bound to one backend and model for the
// duration of a single attempt. Prompt is the only required capability; the
// rest are optional function references that are nil when the backend does
// not support them. A handle is owned exclusively by the attempt that
// obtained it and must never be shared across concurrent attempts for the
// same session.
type Handle struct {
	// Prompt runs one completion and returns the final text.
	Prompt func(ctx context.Context, text string) (string, error)

	// Abort cancels the in-flight prompt, if the backend supports it.
	Abort func()

	// Steer injects replacement guidance into the in-flight run.
	Steer func(text string) error

	// FollowUp queues text to be considered after the current step.
	FollowUp func(text string) error

	// Subscribe registers a stream listener and returns its unsubscribe
	// function.
	Subscribe func(listener StreamListener) (unsubscribe func())
}

// Binding pairs a handle with the model reference it was minted for.
type Binding struct {
	Handle   *Handle
	ModelRef string
}

// CanAbort reports whether the handle supports cancelling a prompt.
func (h *Handle) CanAbort() bool { return h != nil && h.Abort != nil }

// CanSteer reports whether the handle supports mid-run steering.
func (h *Handle) CanSteer() bool { return h != nil && h.Steer != nil }

// CanFollowUp reports whether the handle supports queued follow-ups.
func (h *Handle) CanFollowUp() bool { return h != nil && h.FollowUp != nil }
