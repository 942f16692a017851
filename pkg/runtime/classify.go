package runtime

import (
	"context"
	"errors"
	"strings"
)

// FailureCategory is the classification of a raw prompt failure. Exactly one
// category applies to any error.
type FailureCategory string

const (
	CategoryUserAbort        FailureCategory = "user_abort"
	CategoryAgentBusy        FailureCategory = "agent_busy"
	CategoryContextOverflow  FailureCategory = "context_overflow"
	CategoryTransientNetwork FailureCategory = "transient_network"
	CategoryCapability       FailureCategory = "capability"
	CategoryUnclassified     FailureCategory = "unclassified"
)

var busyPatterns = []string{
	"already processing a prompt",
	"agent is busy",
	"a prompt is already in flight",
}

var overflowPatterns = []string{
	"context length",
	"context window",
	"maximum context",
	"context_length_exceeded",
	"prompt is too long",
	"input is too long",
	"request too large",
	"exceeds the maximum number of tokens",
}

var transientPatterns = []string{
	"econnreset",
	"econnrefused",
	"etimedout",
	"connection reset",
	"connection refused",
	"socket hang up",
	"broken pipe",
	"rate limit",
	"429",
	"500",
	"502",
	"503",
	"504",
	"overloaded",
	"temporarily unavailable",
	"timed out",
	"timeout",
}

var capabilityPatterns = []string{
	"does not support",
	"unsupported input",
	"unsupported modality",
	"unsupported content type",
	"image input is not supported",
}

// Classify maps a raw failure to exactly one category. Evaluation order
// matters: user cancellation must never be mistaken for something retryable,
// and the coordinator's own timeout-abort must stay eligible for fallback
// instead of matching the transient timeout patterns.
func Classify(err error) FailureCategory {
	if err == nil {
		return CategoryUnclassified
	}

	var abort *AbortError
	if errors.As(err, &abort) {
		switch abort.Kind {
		case AbortUser:
			return CategoryUserAbort
		case AbortTimeout:
			// Attempt timeout: fallback-eligible, not transient.
			return CategoryUnclassified
		}
	}

	msg := strings.ToLower(err.Error())

	if errors.Is(err, context.Canceled) || strings.Contains(msg, "operation was aborted") || strings.Contains(msg, "request was aborted") {
		return CategoryUserAbort
	}

	if matchesAny(msg, busyPatterns) {
		return CategoryAgentBusy
	}

	if matchesAny(msg, overflowPatterns) && !strings.Contains(msg, "compaction") {
		return CategoryContextOverflow
	}

	if matchesAny(msg, transientPatterns) {
		return CategoryTransientNetwork
	}

	if matchesAny(msg, capabilityPatterns) {
		return CategoryCapability
	}

	return CategoryUnclassified
}

func matchesAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
