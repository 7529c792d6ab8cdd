// Package server provides the HTTP and WebSocket relay that puts remote
// devices into one shared proximity field.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"

	"github.com/dotside-studios/nfcdata/nfc/peernfc"
	"github.com/dotside-studios/nfcdata/protocol"
)

// Config holds the relay configuration
type Config struct {
	Port           int
	APISecret      string // Optional API secret required in hello
	SessionTimeout time.Duration

	// Field is the shared proximity field. A new one is created when nil.
	Field *peernfc.Field

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string

	DisableMDNS bool
}

// Server manages the relay's HTTP and WebSocket endpoints
type Server struct {
	config    Config
	field     *peernfc.Field
	ownsField bool
	sessions  *SessionManager
	upgrader  websocket.Upgrader
	ctx       context.Context
	cancel    context.CancelFunc

	router *Router

	conns    map[*Conn]bool
	connsMux sync.RWMutex

	mu         sync.Mutex
	httpServer *http.Server
	mdnsServer *zeroconf.Server
}

// New creates a new relay server
func New(config Config) *Server {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.SessionTimeout == 0 {
		config.SessionTimeout = DefaultSessionTimeout
	}

	s := &Server{
		config:   config,
		field:    config.Field,
		sessions: NewSessionManager(config.APISecret, config.SessionTimeout),
		conns:    make(map[*Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		router: NewRouter(),
	}
	if s.field == nil {
		s.field = peernfc.NewField()
		s.ownsField = true
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	NewRelayHandler(s.field, s.sessions).Register(s.router)
	return s
}

// Router returns the server's request router.
func (s *Server) Router() *Router {
	return s.router
}

// Field returns the relay's proximity field.
func (s *Server) Field() *peernfc.Field {
	return s.field
}

// Sessions returns the relay's session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// ConnectionCount returns the number of open websocket connections.
func (s *Server) ConnectionCount() int {
	s.connsMux.RLock()
	defer s.connsMux.RUnlock()
	return len(s.conns)
}

// enableCORS is a middleware that adds CORS headers to responses
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", CORSAllowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", CORSAllowMethods)
		w.Header().Set("Access-Control-Allow-Headers", CORSAllowHeaders)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// Handler returns the relay's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	apiV1 := "/api/v1"
	mux.HandleFunc(apiV1+"/health", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleHealthCheck(w, r)
	}))

	mux.HandleFunc(protocol.WebSocketPath, s.handleWebSocket)

	mux.HandleFunc("/", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(MDNSServiceName + " Running"))
	}))
	return mux
}

// Start serves the relay and blocks until Stop is called or the listener
// fails.
func (s *Server) Start() error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: s.Handler(),
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.CertFile != "" && s.config.KeyFile != "" {
			log.Printf("Starting relay on %s (TLS)", httpServer.Addr)
			err = httpServer.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
		} else {
			log.Printf("Starting relay on %s", httpServer.Addr)
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if !s.config.DisableMDNS {
		if err := s.startMDNS(); err != nil {
			log.Printf("Warning: Failed to start mDNS service: %v", err)
			log.Printf("Auto-discovery will not be available, but the relay will continue normally")
		}
	}

	select {
	case <-s.ctx.Done():
		log.Println("Relay context cancelled, shutting down...")
		return nil
	case err := <-errCh:
		s.Stop()
		return fmt.Errorf("relay server: %w", err)
	}
}

// Stop stops the relay, closing every connection.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.mdnsServer != nil {
		s.mdnsServer.Shutdown()
		s.mdnsServer = nil
		log.Printf("mDNS service stopped")
	}
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		cancel()
		s.httpServer = nil
	}
	s.mu.Unlock()

	// Hijacked websocket connections are not closed by Shutdown.
	s.connsMux.RLock()
	for c := range s.conns {
		c.ws.Close()
	}
	s.connsMux.RUnlock()

	s.cancel()
	if s.ownsField {
		s.field.Close()
	}
}

// startMDNS registers the relay as an mDNS service for auto-discovery
func (s *Server) startMDNS() error {
	txtRecords := []string{
		"version=1.0",
		"protocol=websocket",
		"path=" + protocol.WebSocketPath,
	}
	if s.config.CertFile != "" {
		txtRecords = append(txtRecords, "tls=1")
	}

	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, s.config.Port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mu.Lock()
	s.mdnsServer = server
	s.mu.Unlock()
	log.Printf("mDNS service registered: %s on port %d", MDNSServiceName, s.config.Port)
	return nil
}

// handleWebSocket upgrades a relay connection and serves its requests until
// it disconnects. The first request must be hello.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[relay] WebSocket upgrade error: %v", err)
		return
	}

	conn := newConn(ws, r.RemoteAddr)
	s.connsMux.Lock()
	s.conns[conn] = true
	s.connsMux.Unlock()
	log.Printf("[relay] WebSocket connected from %s", r.RemoteAddr)

	defer func() {
		s.connsMux.Lock()
		delete(s.conns, conn)
		s.connsMux.Unlock()

		ws.Close()
		if dev, token := conn.release(); dev != nil {
			dev.Close()
			s.sessions.Release(token)
		}
		log.Printf("[relay] WebSocket disconnected: %s", conn)
	}()

	for {
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			conn.sendError("", protocol.ErrCodeParse, "Expected text message")
			continue
		}

		var req protocol.Request
		if err := json.Unmarshal(message, &req); err != nil {
			log.Printf("[relay] Failed to parse message: %v", err)
			conn.sendError("", protocol.ErrCodeParse, "Invalid message format")
			continue
		}
		s.dispatch(r.Context(), conn, req)
	}
}

// dispatch routes one request to its handler and writes the response.
func (s *Server) dispatch(ctx context.Context, conn *Conn, req protocol.Request) {
	rt, ok := s.router.lookup(req.Type)
	if !ok {
		log.Printf("[relay] Unknown message type: %s", req.Type)
		conn.sendError(req.ID, protocol.ErrCodeUnknownType, fmt.Sprintf("Unknown message type: %s", req.Type))
		return
	}

	if !rt.open {
		if !conn.registered() {
			conn.sendError(req.ID, protocol.ErrCodeUnauthorized, "hello required")
			return
		}
		if !s.sessions.Validate(req.Token, conn.DeviceID()) {
			conn.sendError(req.ID, protocol.ErrCodeUnauthorized, "invalid or expired session token")
			return
		}
		s.sessions.RefreshTimeout(req.Token)
	}

	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()

	payload, err := rt.handler(ctx, conn, req)
	if err != nil {
		log.Printf("[relay] Handler error for message type '%s': %v", req.Type, err)
		if werr := conn.writeLocked(protocol.NewErrorResponse(req.ID, errorCode(err), err.Error())); werr != nil {
			log.Printf("[relay] Failed to send error response: %v", werr)
		}
		return
	}

	resp, err := protocol.NewResponse(req.ID, req.Type, payload)
	if err != nil {
		resp = protocol.NewErrorResponse(req.ID, protocol.ErrCodeInternalError, err.Error())
	}
	if err := conn.writeLocked(resp); err != nil {
		log.Printf("[relay] Failed to send response: %v", err)
	}
}

// handleHealthCheck provides a health check endpoint (GET /api/v1/health)
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "ok",
		"timestamp":   time.Now().Format("2006-01-02T15:04:05Z07:00"),
		"connections": s.ConnectionCount(),
		"devices":     len(s.field.Devices()),
	})
}
