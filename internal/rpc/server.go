package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wonny/quantk/pkg/config"
	"github.com/wonny/quantk/pkg/logger"
)

// Handler processes one decoded JSON-RPC call. params is the raw params
// object; the handler decodes it into its own typed request shape.
// ⭐ SSOT: 트랜스포트는 봉투(envelope)만 알고 페이로드 의미는 핸들러만 안다
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, error)

type methodEntry struct {
	handler  Handler
	blocking bool
}

// MethodOption configures a registered method
type MethodOption func(*methodEntry)

// Blocking routes the handler through the bounded worker pool so slow
// domain work cannot exhaust process resources. Handlers that do no I/O
// and no heavy computation run inline on the connection goroutine.
func Blocking() MethodOption {
	return func(e *methodEntry) { e.blocking = true }
}

// Server is a JSON-RPC 2.0 server over TCP with newline-delimited framing.
// One JSON object per line, loopback only, single trusted local caller.
type Server struct {
	port        int
	idleTimeout time.Duration
	logger      *logger.Logger

	mu      sync.RWMutex
	methods map[string]methodEntry

	workers chan struct{} // bounded worker pool for blocking handlers

	shuttingDown atomic.Bool
	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	listener  net.Listener
	boundPort atomic.Int32
	ready     chan struct{}

	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	inflight sync.WaitGroup // in-flight request handling

	// portOut receives the BRIDGE_PORT marker; stdout in production so a
	// supervising process can discover an OS-assigned port.
	portOut io.Writer
}

// NewServer creates a server with the built-in ping and shutdown methods
func NewServer(cfg config.BridgeConfig, log *logger.Logger) *Server {
	s := &Server{
		port:        cfg.Port,
		idleTimeout: cfg.IdleTimeout,
		logger:      log.WithField("component", "rpc"),
		methods:     make(map[string]methodEntry),
		workers:     make(chan struct{}, cfg.WorkerPool),
		shutdownCh:  make(chan struct{}),
		ready:       make(chan struct{}),
		conns:       make(map[net.Conn]struct{}),
		portOut:     os.Stdout,
	}

	if s.idleTimeout <= 0 {
		s.idleTimeout = 5 * time.Minute
	}

	s.Register("ping", s.handlePing)
	s.Register("shutdown", s.handleShutdown)

	return s
}

// Register adds a named method to the registry
func (s *Server) Register(name string, handler Handler, opts ...MethodOption) {
	entry := methodEntry{handler: handler}
	for _, opt := range opts {
		opt(&entry)
	}

	s.mu.Lock()
	s.methods[name] = entry
	s.mu.Unlock()

	s.logger.WithField("method", name).Debug("Registered method")
}

// Methods returns the sorted list of registered method names
func (s *Server) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Port returns the actual bound port once the server is listening
func (s *Server) Port() int {
	return int(s.boundPort.Load())
}

// Ready is closed once the listener is bound
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Shutdown flips the shared flag: the accept loop stops taking new
// connections and Run returns after in-flight work drains.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.shuttingDown.Store(true)
		close(s.shutdownCh)
	})
}

// Run binds to loopback and serves until shutdown. Port 0 lets the OS
// choose; the bound port is announced as a BRIDGE_PORT line on stdout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to bind 127.0.0.1:%d: %w", s.port, err)
	}
	s.listener = ln

	actualPort := ln.Addr().(*net.TCPAddr).Port
	s.boundPort.Store(int32(actualPort))
	close(s.ready)

	// Startup side channel for the supervising process
	fmt.Fprintf(s.portOut, "BRIDGE_PORT:%d\n", actualPort)

	s.logger.WithField("port", actualPort).Info("Bridge server started")

	go func() {
		select {
		case <-ctx.Done():
			s.Shutdown()
		case <-s.shutdownCh:
		}
		_ = ln.Close()
	}()

	var connWG sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shuttingDown.Load() || ctx.Err() != nil {
				break
			}
			s.logger.WithError(err).Warn("Accept failed")
			continue
		}

		connWG.Add(1)
		go func() {
			defer connWG.Done()
			s.serveConn(ctx, conn)
		}()
	}

	s.logger.Info("Bridge server shutting down")

	// Let current work drain, then force remaining readers off their sockets
	s.inflight.Wait()
	s.closeConns()
	connWG.Wait()

	s.logger.Info("Bridge server stopped")
	return nil
}

// closeConns closes every tracked connection
func (s *Server) closeConns() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *Server) trackConn(conn net.Conn) {
	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
}

// serveConn services one client connection. Requests on a connection are
// handled sequentially, so responses keep the request order. A connection
// ends only when the peer closes it or the read returns no data.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	peer := conn.RemoteAddr().String()
	log := s.logger.WithField("peer", peer)
	log.Debug("Client connected")

	s.trackConn(conn)
	defer func() {
		s.untrackConn(conn)
		_ = conn.Close()
		log.Debug("Client disconnected")
	}()

	// TCP keepalive: 유휴 연결 끊김 방지
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}

	reader := bufio.NewReader(conn)

	for !s.shuttingDown.Load() {
		_ = conn.SetReadDeadline(time.Now().Add(s.idleTimeout))

		line, err := reader.ReadBytes('\n')
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// Idle read timeout keeps the connection alive; it only
				// exists to re-check the shutdown flag on silent peers.
				continue
			}
			if len(line) == 0 {
				return
			}
			// Trailing request without newline before EOF: handle it, then drop
			err = nil
		}

		response := s.handleLine(ctx, line)

		if _, werr := conn.Write(response); werr != nil {
			log.WithError(werr).Warn("Failed to write response")
			return
		}

		if err != nil {
			return
		}
	}
}

// handleLine processes one request line and returns one response line
func (s *Server) handleLine(ctx context.Context, line []byte) []byte {
	s.inflight.Add(1)
	defer s.inflight.Done()

	var req struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
		ID      json.RawMessage `json:"id"`
	}

	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(nil, CodeParseError, fmt.Sprintf("Parse error: %v", err), nil)
	}

	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, CodeInvalidRequest, "Invalid Request: jsonrpc must be '2.0'", nil)
	}

	if req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "Invalid Request: method required", nil)
	}

	s.mu.RLock()
	entry, ok := s.methods[req.Method]
	s.mu.RUnlock()

	if !ok {
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}

	params := req.Params
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	result, err := s.dispatch(ctx, entry, req.Method, params)
	if err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) {
			return errorResponse(req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		}
		s.logger.WithError(err).WithField("method", req.Method).Error("Handler failed")
		return errorResponse(req.ID, CodeInternalError, fmt.Sprintf("Internal error: %v", err), nil)
	}

	return successResponse(req.ID, result)
}

// dispatch runs the handler, through the worker pool for blocking methods.
// A panic inside a handler is converted once, here, at the boundary.
func (s *Server) dispatch(ctx context.Context, entry methodEntry, method string, params json.RawMessage) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("method", method).WithField("panic", r).Error("Handler panicked")
			err = NewError(CodeInternalError, "Internal error: %v", r)
		}
	}()

	if entry.blocking {
		select {
		case s.workers <- struct{}{}:
			defer func() { <-s.workers }()
		case <-ctx.Done():
			return nil, NewError(CodeInternalError, "Internal error: server stopping")
		}
	}

	return entry.handler(ctx, params)
}

// handlePing is the liveness built-in
func (s *Server) handlePing(_ context.Context, _ json.RawMessage) (interface{}, error) {
	return map[string]interface{}{
		"pong":    true,
		"methods": s.Methods(),
	}, nil
}

// handleShutdown flips the shared shutdown flag
func (s *Server) handleShutdown(_ context.Context, _ json.RawMessage) (interface{}, error) {
	s.logger.Info("Shutdown requested via RPC")
	s.Shutdown()
	return map[string]interface{}{"shutting_down": true}, nil
}

// successResponse builds a success envelope line
func successResponse(id json.RawMessage, result interface{}) []byte {
	resp := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      normalizeID(id),
		"result":  result,
	}
	return appendLine(resp)
}

// errorResponse builds an error envelope line
func errorResponse(id json.RawMessage, code int, message string, data interface{}) []byte {
	errObj := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if data != nil {
		errObj["data"] = data
	}
	resp := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      normalizeID(id),
		"error":   errObj,
	}
	return appendLine(resp)
}

// normalizeID keeps the request id verbatim, null when absent
func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

func appendLine(resp map[string]interface{}) []byte {
	out, err := json.Marshal(resp)
	if err != nil {
		// Result was not JSON-serializable; still emit exactly one line
		out, _ = json.Marshal(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      nil,
			"error": map[string]interface{}{
				"code":    CodeInternalError,
				"message": fmt.Sprintf("Internal error: encode response: %v", err),
			},
		})
	}
	return append(out, '\n')
}
