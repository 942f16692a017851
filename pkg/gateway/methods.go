package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/corvid-ai/corvid/pkg/runtime"
)

func (s *Server) registerBuiltinMethods() {
	_ = s.router.RegisterMethod("runtime.interrupt", s.handleRuntimeInterrupt)
	_ = s.router.RegisterMethod("runtime.steer", s.handleRuntimeSteer)
	_ = s.router.RegisterMethod("runtime.status", s.handleRuntimeStatus)
	_ = s.router.RegisterMethod("sessions.list", s.handleSessionsList)
	_ = s.router.RegisterMethod("chat.send", s.handleChatSend)
}

func stringParam(params map[string]interface{}, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

func (s *Server) handleRuntimeInterrupt(_ context.Context, params map[string]interface{}) (interface{}, error) {
	sessionKey, ok := stringParam(params, "session_key")
	if !ok || sessionKey == "" {
		return nil, &RPCError{Code: InvalidParams, Message: "session_key is required"}
	}

	reason, _ := stringParam(params, "reason")
	if reason == "" {
		reason = "operator interrupt"
	}

	interrupted := s.control.Interrupt(sessionKey, reason)
	s.logger.Info().
		Str("session_key", sessionKey).
		Bool("interrupted", interrupted).
		Msg("Interrupt requested via gateway")

	return map[string]interface{}{
		"interrupted": interrupted,
	}, nil
}

func (s *Server) handleRuntimeSteer(_ context.Context, params map[string]interface{}) (interface{}, error) {
	sessionKey, ok := stringParam(params, "session_key")
	if !ok || sessionKey == "" {
		return nil, &RPCError{Code: InvalidParams, Message: "session_key is required"}
	}

	text, ok := stringParam(params, "text")
	if !ok || strings.TrimSpace(text) == "" {
		return nil, &RPCError{Code: InvalidParams, Message: "text is required"}
	}

	mode := runtime.SteerModeSteer
	if m, _ := stringParam(params, "mode"); m != "" {
		switch runtime.SteerMode(m) {
		case runtime.SteerModeSteer, runtime.SteerModeFollowUp:
			mode = runtime.SteerMode(m)
		default:
			return nil, &RPCError{Code: InvalidParams, Message: fmt.Sprintf("invalid mode: %s", m)}
		}
	}

	delivered := s.control.Steer(sessionKey, text, mode)
	return map[string]interface{}{
		"delivered": delivered,
	}, nil
}

func (s *Server) handleRuntimeStatus(_ context.Context, params map[string]interface{}) (interface{}, error) {
	result := map[string]interface{}{
		"active_runs": s.control.ActiveRunCount(),
		"clients":     s.ClientCount(),
	}

	if sessionKey, ok := stringParam(params, "session_key"); ok && sessionKey != "" {
		result["session_active"] = s.control.IsSessionActive(sessionKey)
	}

	return result, nil
}

func (s *Server) handleSessionsList(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	if s.sessions == nil {
		return nil, &RPCError{Code: InternalError, Message: "session listing is not available"}
	}

	keys, err := s.sessions.List()
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}

	return map[string]interface{}{
		"sessions": keys,
		"count":    len(keys),
	}, nil
}

func (s *Server) handleChatSend(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	if s.dispatcher == nil {
		return nil, &RPCError{Code: InternalError, Message: "dispatch is not available"}
	}

	prompt, ok := stringParam(params, "prompt")
	if !ok || strings.TrimSpace(prompt) == "" {
		return nil, &RPCError{Code: InvalidParams, Message: "prompt is required"}
	}

	sessionKey, _ := stringParam(params, "session_key")
	if sessionKey == "" {
		sessionKey = "gateway:default"
	}
	agentID, _ := stringParam(params, "agent_id")

	reply, err := s.dispatcher(ctx, DispatchRequest{
		Prompt:     prompt,
		SessionKey: sessionKey,
		AgentID:    agentID,
		Source:     "gateway",
	})
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}

	return map[string]interface{}{
		"reply":       reply,
		"session_key": sessionKey,
	}, nil
}
