package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/corvid-ai/corvid/pkg/agent"
	"github.com/corvid-ai/corvid/pkg/channels"
	"github.com/corvid-ai/corvid/pkg/delivery"
	"github.com/corvid-ai/corvid/pkg/gateway"
	"github.com/corvid-ai/corvid/pkg/runtime"
	"github.com/corvid-ai/corvid/pkg/session"
)

// dispatch is the canonical inbound path: every channel message flows
// through here into the prompt runtime.
func (d *Daemon) dispatch(ctx context.Context, msg channels.InboundMessage) (string, error) {
	zl := d.logger.GetZerolog()

	if err := d.store.Append(msg.SessionKey, session.Message{
		Role:      "user",
		Content:   msg.Content,
		Timestamp: time.Now(),
		Metadata:  msg.Metadata,
	}); err != nil {
		zl.Error().Err(err).Str("session_key", msg.SessionKey).Msg("Failed to persist user message")
	}

	var buffer *delivery.Buffer
	if msg.Messenger != nil {
		buffer = delivery.NewBuffer(msg.Messenger, zl, delivery.Config{
			MinChars:    d.config.Delivery.MinChars,
			MinInterval: time.Duration(d.config.Delivery.MinIntervalMS) * time.Millisecond,
		}, func(err error) {
			zl.Error().Err(err).Str("session_key", msg.SessionKey).Msg("Streamed delivery failed")
		})
	}

	opts := runtime.RunOptions{
		OnFallback: func(ev runtime.FallbackEvent) {
			zl.Warn().
				Str("session_key", msg.SessionKey).
				Str("from", ev.FromModel).
				Str("to", ev.ToModel).
				Msg("Model fallback engaged")
			if buffer != nil {
				buffer.Append("\n[switching to " + ev.ToModel + "]\n")
			}
			d.broadcast("run.fallback", msg.SessionKey, map[string]interface{}{
				"from": ev.FromModel,
				"to":   ev.ToModel,
			})
		},
		OnContextOverflow: func(attempt int) error {
			zl.Info().
				Str("session_key", msg.SessionKey).
				Int("attempt", attempt).
				Msg("Compacting session after context overflow")
			return d.store.Compact(msg.SessionKey, d.config.Sessions.CompactKeep)
		},
	}
	if buffer != nil {
		opts.Sink = buffer
	}
	if d.gateway != nil {
		sessionKey := msg.SessionKey
		opts.OnStream = func(ev agent.StreamEvent) {
			d.broadcast("run.stream", sessionKey, map[string]interface{}{
				"type":  string(ev.Type),
				"delta": ev.Delta,
				"tool":  ev.ToolName,
			})
		}
	}

	reply, runErr := d.coordinator.RunPrompt(ctx, msg.SessionKey, msg.AgentID, msg.Content, opts)

	// Whatever streamed out still needs settling, even on failure: a
	// user abort keeps the partial output already delivered.
	if buffer != nil {
		finalCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := buffer.Finalize(finalCtx, reply); err != nil {
			zl.Error().Err(err).Str("session_key", msg.SessionKey).Msg("Failed to finalize delivery")
		}
		cancel()
	}

	if runErr != nil {
		var abortErr *runtime.AbortError
		if errors.As(runErr, &abortErr) && abortErr.Kind == runtime.AbortUser {
			zl.Info().Str("session_key", msg.SessionKey).Msg("Run aborted by user")
			return reply, nil
		}
		return "", runErr
	}

	if reply != "" {
		if err := d.store.Append(msg.SessionKey, session.Message{
			Role:      "assistant",
			Content:   reply,
			Timestamp: time.Now(),
		}); err != nil {
			zl.Error().Err(err).Str("session_key", msg.SessionKey).Msg("Failed to persist assistant message")
		}
	}

	return reply, nil
}

// gatewayDispatch adapts gateway chat requests onto the canonical path.
func (d *Daemon) gatewayDispatch(ctx context.Context, req gateway.DispatchRequest) (string, error) {
	return d.dispatch(ctx, channels.InboundMessage{
		Channel:    "gateway",
		SessionKey: req.SessionKey,
		AgentID:    req.AgentID,
		Content:    req.Prompt,
		Metadata: map[string]interface{}{
			"source": req.Source,
		},
	})
}

func (d *Daemon) broadcast(event, sessionKey string, data interface{}) {
	if d.gateway == nil {
		return
	}
	d.gateway.Broadcast(event, sessionKey, data)
}
