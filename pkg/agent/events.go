package agent

import "sync"

// StreamEventType identifies a streaming event variant.
type StreamEventType string

const (
	EventTextDelta StreamEventType = "text_delta"
	EventToolStart StreamEventType = "tool_start"
	EventToolEnd   StreamEventType = "tool_end"
	EventAgentEnd  StreamEventType = "agent_end"
)

// StreamEvent is an incremental event emitted while a prompt is running.
// The shape is backend defined; consumers must ignore variants they do not
// recognize rather than treating them as errors.
type StreamEvent struct {
	Type       StreamEventType `json:"type"`
	Delta      string          `json:"delta,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	FullText   string          `json:"full_text,omitempty"`
}

// StreamListener receives streaming events in emission order.
type StreamListener func(StreamEvent)

// SubscriberHub fans stream events out to registered listeners. Providers
// embed one per handle so Subscribe/unsubscribe stays cheap.
type SubscriberHub struct {
	mu        sync.Mutex
	listeners map[int]StreamListener
	nextID    int
}

// NewSubscriberHub creates an empty hub.
func NewSubscriberHub() *SubscriberHub {
	return &SubscriberHub{listeners: make(map[int]StreamListener)}
}

// Subscribe registers a listener and returns its unsubscribe function.
func (h *SubscriberHub) Subscribe(listener StreamListener) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	h.listeners[id] = listener

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.listeners, id)
	}
}

// Emit delivers an event to every registered listener.
func (h *SubscriberHub) Emit(ev StreamEvent) {
	h.mu.Lock()
	listeners := make([]StreamListener, 0, len(h.listeners))
	for _, l := range h.listeners {
		listeners = append(listeners, l)
	}
	h.mu.Unlock()

	for _, l := range listeners {
		l(ev)
	}
}

// Len returns the number of registered listeners.
func (h *SubscriberHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}
