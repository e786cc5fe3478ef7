package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chainlesschain/skilltools/internal/observability"
	"github.com/chainlesschain/skilltools/internal/tracing"
	"github.com/chainlesschain/skilltools/pkg/history"
	"github.com/chainlesschain/skilltools/pkg/registry"
	"github.com/chainlesschain/skilltools/pkg/toolexecutor"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const maxRequestBody = 1 << 20

// Server exposes the registry and executor over JSON-RPC (websocket and
// HTTP) plus a small REST surface.
type Server struct {
	host           string
	port           int
	server         *http.Server
	listener       net.Listener
	upgrader       websocket.Upgrader
	clients        *ClientRegistry
	router         *RPCRouter
	authHandler    *AuthHandler
	broadcaster    *EventBroadcaster
	executor       *toolexecutor.Executor
	registry       *registry.Registry
	history        *history.Store
	logger         zerolog.Logger
	newLimiter     func() *ClientRateLimiter
	unsubscribe    func()
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host         string
	Port         int // 0 picks a free port
	SharedSecret string
	Executor     *toolexecutor.Executor
	History      *history.Store // optional, enables history.* methods
	Logger       zerolog.Logger

	// Per-client limits; zero uses the defaults.
	RequestsPerMinute int
	MaxConcurrent     int
}

// NewServer creates a new Gateway Server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	rpm, maxConcurrent := cfg.RequestsPerMinute, cfg.MaxConcurrent
	if rpm <= 0 {
		rpm = defaultRequestsPerMinute
	}
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}

	clients := NewClientRegistry()
	s := &Server{
		host:        cfg.Host,
		port:        cfg.Port,
		clients:     clients,
		router:      NewRPCRouter(),
		authHandler: NewAuthHandler(cfg.SharedSecret),
		broadcaster: NewEventBroadcaster(clients, cfg.Logger),
		executor:    cfg.Executor,
		registry:    cfg.Executor.Registry(),
		history:     cfg.History,
		logger:      cfg.Logger,
		newLimiter: func() *ClientRateLimiter {
			return NewClientRateLimiterWithLimits(rpm, maxConcurrent)
		},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.registerBuiltinMethods()
	s.unsubscribe = s.registry.Subscribe(s.onRegistryEvent)

	return s, nil
}

// Handler returns the HTTP handler serving every gateway route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.Handle("POST /rpc", s.requireBearer(http.HandlerFunc(s.handleRPC)))
	mux.Handle("POST /v1/invoke", s.requireBearer(http.HandlerFunc(s.handleInvoke)))
	mux.Handle("GET /v1/tools", s.requireBearer(http.HandlerFunc(s.handleListTools)))
	mux.Handle("GET /v1/tools/{id}", s.requireBearer(http.HandlerFunc(s.handleGetTool)))
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"tools":      s.registry.Len(),
			"generation": s.registry.Generation(),
		})
	})
	return mux
}

// Start listens on host:port and serves in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().
		Str("addr", listener.Addr().String()).
		Bool("auth", s.authHandler.Enabled()).
		Msg("Starting Gateway Server")

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()
	return nil
}

// Addr returns the bound address once Start has returned.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the Gateway Server. In-flight requests get until
// ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	if s.isShuttingDown {
		s.shutdownMu.Unlock()
		return nil
	}
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down Gateway Server")
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.broadcaster.Broadcast("server.shutdown", map[string]any{"message": "Server is shutting down"})

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info().Msg("All in-flight requests completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	for _, client := range s.clients.GetAll() {
		_ = client.Conn.Close()
	}

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	s.logger.Info().Msg("Gateway Server stopped")
	return nil
}

func (s *Server) onRegistryEvent(ev registry.Event) {
	s.broadcaster.Broadcast("registry."+string(ev.Type), map[string]any{
		"tool_id":    ev.ToolID,
		"generation": s.registry.Generation(),
	})
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

// handleWebSocket upgrades the connection. A valid bearer token on the
// upgrade request authenticates immediately; otherwise the client receives
// an HMAC challenge.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	preAuthed := !s.authHandler.Enabled() || (r.Header.Get("Authorization") != "" && s.authHandler.CheckBearer(r))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	now := time.Now()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  now,
		LastActivity: now,
		IPAddress:    r.RemoteAddr,
		RateLimiter:  s.newLimiter(),
		State:        StateConnecting,
	}
	if preAuthed {
		markAuthenticated(client)
	}

	s.clients.Add(client)
	observability.SetGatewayClients(s.clients.Count())
	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Bool("authenticated", preAuthed).
		Msg("Client connected")

	if preAuthed {
		err = client.WriteJSON(AuthResult{Event: "auth.success", Success: true})
	} else {
		err = s.sendAuthChallenge(client)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("clientId", clientID).Msg("Failed to send auth handshake")
		_ = conn.Close()
		s.clients.Remove(clientID)
		observability.SetGatewayClients(s.clients.Count())
		return
	}

	go s.handleClient(client)
}

func (s *Server) sendAuthChallenge(client *Client) error {
	challenge, err := s.authHandler.GenerateChallenge()
	if err != nil {
		return err
	}

	s.clients.Update(client.ID, func(c *Client) {
		c.Challenge = challenge
		c.State = StateAuthenticating
	})

	return client.WriteJSON(AuthChallenge{
		Event:     "auth.challenge",
		Challenge: challenge,
	})
}

func (s *Server) handleClient(client *Client) {
	defer func() {
		_ = client.Conn.Close()
		s.clients.Remove(client.ID)
		observability.SetGatewayClients(s.clients.Count())
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}

		s.clients.UpdateActivity(client.ID)
		if !s.handleMessage(client, message) {
			return
		}
	}
}

// handleMessage processes one frame and reports whether the connection
// should stay open.
func (s *Server) handleMessage(client *Client, message []byte) bool {
	var authResp AuthResponse
	if err := json.Unmarshal(message, &authResp); err == nil && authResp.Method == "auth.response" {
		return s.handleAuthMessage(client, authResp)
	}

	authenticated := false
	s.clients.Update(client.ID, func(c *Client) { authenticated = c.Authenticated })
	if !authenticated {
		s.sendError(client, "", AuthenticationRequired, "Authentication required")
		return true
	}

	req, err := s.router.ParseRequest(message)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			s.sendError(client, "", rpcErr.Code, rpcErr.Message)
		} else {
			s.sendError(client, "", ParseError, err.Error())
		}
		return true
	}

	release, limitErr := client.RateLimiter.Acquire()
	if limitErr != nil {
		observability.RecordGatewayRequest(req.Method, false)
		s.sendError(client, req.ID, limitErr.Code, limitErr.Message)
		return true
	}

	s.inFlightReqs.Add(1)
	go func() {
		defer s.inFlightReqs.Done()
		defer release()

		ctx := s.requestContext(context.Background(), "", client.ID)
		response := s.route(ctx, req)
		if err := client.WriteJSON(response); err != nil {
			s.logger.Error().
				Err(err).
				Str("clientId", client.ID).
				Str("requestId", req.ID).
				Msg("Failed to send response")
		}
	}()
	return true
}

func (s *Server) handleAuthMessage(client *Client, authResp AuthResponse) bool {
	var result AuthResult
	attempts := 0
	s.clients.Update(client.ID, func(c *Client) {
		result = s.authHandler.HandleAuthResponse(c, authResp.Signature)
		attempts = c.AuthAttempts
	})

	if err := client.WriteJSON(result); err != nil {
		s.logger.Error().Err(err).Str("clientId", client.ID).Msg("Failed to send auth result")
		return false
	}

	status := "success"
	if !result.Success {
		status = "failure"
	}
	observability.RecordSecurityAudit(context.Background(), "gateway.auth", "gateway:"+client.ID, status,
		map[string]any{"ip": client.IPAddress, "attempts": attempts})

	if !result.Success {
		s.logger.Warn().
			Str("clientId", client.ID).
			Str("reason", result.Message).
			Msg("Authentication failed")
		return attempts < maxAuthAttempts
	}
	s.logger.Info().Str("clientId", client.ID).Msg("Client authenticated")
	return true
}

func (s *Server) sendError(client *Client, requestID string, code int, message string) {
	response := RPCResponse{
		ID:      requestID,
		JSONRPC: "2.0",
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
	}
	if err := client.WriteJSON(response); err != nil {
		s.logger.Error().
			Err(err).
			Str("clientId", client.ID).
			Msg("Failed to send error response")
	}
}

// route dispatches req and records the outcome.
func (s *Server) route(ctx context.Context, req *RPCRequest) *RPCResponse {
	logger := tracing.LoggerFromContext(ctx, s.logger)
	start := time.Now()
	resp := s.router.RouteRequest(ctx, req)
	observability.RecordGatewayRequest(req.Method, resp.Error == nil)

	event := logger.Debug()
	if resp.Error != nil {
		event = logger.Warn().Int("code", resp.Error.Code).Str("error", resp.Error.Message)
	}
	event.
		Str("method", req.Method).
		Str("request_id", req.ID).
		Dur("duration", time.Since(start)).
		Msg("Gateway request handled")
	return resp
}

func (s *Server) requestContext(ctx context.Context, traceID, clientID string) context.Context {
	if traceID == "" {
		traceID = tracing.NewTraceID()
	}
	ctx = tracing.WithTraceID(ctx, traceID)
	if clientID != "" {
		ctx = withClientID(ctx, clientID)
	}
	return tracing.WithActor(ctx, actorFromContext(ctx))
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authHandler.CheckBearer(r) {
			observability.RecordSecurityAudit(r.Context(), "gateway.http_auth", "gateway", "failure",
				map[string]any{"ip": r.RemoteAddr, "path": r.URL.Path})
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		if s.shuttingDown() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "server is shutting down"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleRPC handles single-shot HTTP JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	req, err := s.router.ParseRequest(body)
	if err != nil {
		var rpcErr *RPCError
		if !errors.As(err, &rpcErr) {
			rpcErr = &RPCError{Code: ParseError, Message: err.Error()}
		}
		writeJSON(w, http.StatusBadRequest, RPCResponse{JSONRPC: "2.0", Error: rpcErr})
		return
	}

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	ctx := s.requestContext(r.Context(), r.Header.Get("X-Trace-Id"), "")
	writeJSON(w, http.StatusOK, s.route(ctx, req))
}

// handleInvoke is the REST form of tools.invoke. The body carries the same
// fields as the RPC params; the response is the execution envelope.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var params map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&params); err != nil || params == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	ctx := s.requestContext(r.Context(), r.Header.Get("X-Trace-Id"), "")
	call, err := callFromParams(ctx, params)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	res := s.executor.Invoke(ctx, call.Tool, call.Args, call.Context)
	observability.RecordGatewayRequest("v1.invoke", res.Success)
	w.Header().Set("X-Invocation-Id", res.InvocationID)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := map[string]any{
		"category":     q.Get("category"),
		"tool_type":    q.Get("tool_type"),
		"permission":   q.Get("permission"),
		"enabled_only": q.Get("enabled") == "true",
		"builtin_only": q.Get("source") == "builtin",
		"custom_only":  q.Get("source") == "custom",
	}
	result, _ := s.handleToolsList(r.Context(), params)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	def, ok := s.registry.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "tool not found"})
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// RegisterMethod registers an RPC method handler
func (s *Server) RegisterMethod(name string, handler RequestHandler, opts ...MethodOption) error {
	return s.router.RegisterMethod(name, handler, opts...)
}

// Methods lists the registered RPC methods.
func (s *Server) Methods() []string {
	return s.router.GetMethods()
}

// GetConnectedClients returns information about all connected clients
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		data, _ = json.Marshal(map[string]any{"error": fmt.Sprintf("encode response: %v", err)})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}
