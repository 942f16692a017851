package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/corvid-ai/corvid/internal/observability"
	"github.com/corvid-ai/corvid/pkg/runtime"
)

const secretHeader = "X-Corvid-Secret"

// RuntimeControl is the slice of the prompt runtime the gateway exposes
// to operators: interrupting and steering live runs, and inspecting
// which sessions are busy.
type RuntimeControl interface {
	Interrupt(sessionKey, reason string) bool
	Steer(sessionKey, text string, mode runtime.SteerMode) bool
	IsSessionActive(sessionKey string) bool
	ActiveRunCount() int
}

// DispatchRequest carries a gateway-originated prompt into the daemon
// runtime pipeline.
type DispatchRequest struct {
	Prompt     string
	SessionKey string
	AgentID    string
	Source     string
}

// Dispatcher routes requests into the daemon runtime pipeline.
type Dispatcher func(ctx context.Context, req DispatchRequest) (string, error)

// SessionLister enumerates known session keys.
type SessionLister interface {
	List() ([]string, error)
}

// Client is a connected websocket control client.
type Client struct {
	ID          string
	Conn        *websocket.Conn
	ConnectedAt time.Time

	writeMu sync.Mutex
}

func (c *Client) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(v)
}

// Server exposes the runtime control plane over HTTP and websocket
// JSON-RPC.
type Server struct {
	port         int
	sharedSecret string
	httpServer   *http.Server
	upgrader     websocket.Upgrader
	router       *RPCRouter
	control      RuntimeControl
	dispatcher   Dispatcher
	sessions     SessionLister
	logger       zerolog.Logger

	mu             sync.RWMutex
	clients        map[string]*Client
	isShuttingDown bool
}

// Config holds server configuration
type Config struct {
	Port         int
	SharedSecret string
	Runtime      RuntimeControl
	Dispatcher   Dispatcher
	Sessions     SessionLister
	Logger       zerolog.Logger
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}
	if cfg.Runtime == nil {
		return nil, fmt.Errorf("runtime control is required")
	}

	s := &Server{
		port:         cfg.Port,
		sharedSecret: cfg.SharedSecret,
		router:       NewRPCRouter(),
		control:      cfg.Runtime,
		dispatcher:   cfg.Dispatcher,
		sessions:     cfg.Sessions,
		logger:       cfg.Logger,
		clients:      make(map[string]*Client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.registerBuiltinMethods()

	return s, nil
}

// Start starts the gateway server
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	s.logger.Info().Int("port", s.port).Msg("Gateway server starting")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop stops the gateway server and closes all client connections
func (s *Server) Stop() error {
	s.mu.Lock()
	s.isShuttingDown = true
	for id, client := range s.clients {
		client.Conn.Close()
		delete(s.clients, id)
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// RegisterMethod registers an RPC method handler
func (s *Server) RegisterMethod(name string, handler RequestHandler) error {
	return s.router.RegisterMethod(name, handler)
}

// Broadcast sends an event to all connected websocket clients.
func (s *Server) Broadcast(event, sessionKey string, data interface{}) {
	msg := EventMessage{
		Event:      event,
		Data:       data,
		SessionKey: sessionKey,
		Timestamp:  time.Now().UnixMilli(),
	}

	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if err := c.writeJSON(msg); err != nil {
			s.logger.Debug().Err(err).Str("clientId", c.ID).Msg("Failed to broadcast event")
		}
	}
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) authorized(r *http.Request) bool {
	secret := r.Header.Get(secretHeader)
	if secret == "" {
		secret = r.URL.Query().Get("secret")
	}
	return secret == s.sharedSecret
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	shuttingDown := s.isShuttingDown
	s.mu.RUnlock()
	if shuttingDown {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:          clientID,
		Conn:        conn,
		ConnectedAt: time.Now(),
	}

	s.mu.Lock()
	s.clients[clientID] = client
	s.mu.Unlock()

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	go s.handleClient(client)
}

func (s *Server) handleClient(client *Client) {
	defer func() {
		client.Conn.Close()
		s.mu.Lock()
		delete(s.clients, client.ID)
		s.mu.Unlock()
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}

		req, err := s.router.ParseRequest(message)
		if err != nil {
			s.sendError(client, "", err)
			continue
		}

		go func() {
			resp := s.router.RouteRequest(context.Background(), req)
			if err := client.writeJSON(resp); err != nil {
				s.logger.Error().
					Err(err).
					Str("clientId", client.ID).
					Str("requestId", req.ID).
					Msg("Failed to send response")
			}
		}()
	}
}

// handleRPC handles single-shot HTTP JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	req, err := s.router.ParseRequest(body)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(RPCResponse{
			JSONRPC: "2.0",
			Error:   asRPCError(err),
		})
		return
	}

	s.logger.Info().
		Str("request_id", req.ID).
		Str("method", req.Method).
		Msg("Gateway received HTTP RPC request")

	resp := s.router.RouteRequest(r.Context(), req)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode RPC response")
	}
}

func (s *Server) sendError(client *Client, requestID string, err error) {
	resp := RPCResponse{
		ID:      requestID,
		JSONRPC: "2.0",
		Error:   asRPCError(err),
	}
	if werr := client.writeJSON(resp); werr != nil {
		s.logger.Debug().Err(werr).Str("clientId", client.ID).Msg("Failed to send error response")
	}
}

func asRPCError(err error) *RPCError {
	if rpcErr, ok := err.(*RPCError); ok {
		return rpcErr
	}
	return &RPCError{Code: InternalError, Message: err.Error()}
}
