package websocket

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luciancaetano/upsock"
	"github.com/luciancaetano/upsock/internal/handshake"
)

// policy decides whether a wrapped handler accepts upgrade requests.
type policy int

const (
	policyDefault policy = iota // follow ServerConfig.AcceptAll
	policyAccept
	policyRequire
)

// Server implements the upsock.Server interface
type Server struct {
	cfg    *ServerConfig
	logger *zap.Logger
	mux    *http.ServeMux
	server *http.Server
	conns  sync.Map // map[string]*Conn

	mu      sync.RWMutex
	running bool
}

var _ upsock.Server = (*Server)(nil)

// New creates a new server instance with the specified configuration.
//
// A nil cfg or nil fields fall back to defaults: DefaultRateLimitConfig(),
// DefaultMaxMessageSize, DefaultReadBufferSize and a no-op logger.
//
// The server is also usable without Start: wrapped handlers can be mounted
// on any http.Handler tree.
//
// Example:
//
//	server := New(&ServerConfig{
//	    Addr:      ":8080",
//	    OnConnect: func(conn upsock.Conn) { log.Printf("connected: %s", conn.ID()) },
//	})
//	server.Handle("/ws", server.Require(echo))
func New(cfg *ServerConfig) *Server {
	cfg = cfg.normalized()
	return &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		mux:    http.NewServeMux(),
	}
}

// Start starts listening on the configured address
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New(upsock.ErrServerAlreadyRunning)
	}
	s.running = true
	s.mu.Unlock()

	s.server = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Check for immediate startup errors with a small timeout
	select {
	case err := <-errChan:
		// Reset running state without calling Stop to avoid deadlock
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	case <-time.After(100 * time.Millisecond):
		s.logger.Info("server listening", zap.String("addr", s.cfg.Addr))
		return nil
	}
}

// Stop closes every live connection and stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.Shutdown(ctx)

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Shutdown closes every registered connection with status 1001 without
// touching the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) {
	s.conns.Range(func(key, value interface{}) bool {
		if conn, ok := value.(*Conn); ok {
			conn.CloseWithCode(ctx, upsock.CloseGoingAway, "server shutting down")
		}
		return true
	})
}

// Handle registers handler on the server's mux
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// ServeHTTP dispatches to the server's mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Accept wraps h so it receives both upgraded and plain requests
func (s *Server) Accept(h upsock.HandlerFunc) http.Handler {
	return s.wrap(policyAccept, h)
}

// Require wraps h so plain requests are rejected with 400
func (s *Server) Require(h upsock.HandlerFunc) http.Handler {
	return s.wrap(policyRequire, h)
}

// Handler wraps h with the AcceptAll policy
func (s *Server) Handler(h upsock.HandlerFunc) http.Handler {
	return s.wrap(policyDefault, h)
}

func (s *Server) wrap(p policy, h upsock.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.serve(p, h, w, r)
	})
}

// serve is the pre-dispatch hook. Upgrade requests are negotiated and
// hijacked before h runs; once h returns the connection is closed if still
// open and nothing else is written to the response.
func (s *Server) serve(p policy, h upsock.HandlerFunc, w http.ResponseWriter, r *http.Request) {
	neg, err := handshake.Negotiate(handshake.FromHTTP(r))
	if errors.Is(err, handshake.ErrNotWebSocket) {
		if p == policyRequire {
			http.Error(w, "WebSocket request required", http.StatusBadRequest)
			return
		}
		rc := upsock.NewRequestContext(nil)
		h(w, r.WithContext(upsock.WithRequestContext(r.Context(), rc)), rc)
		return
	}
	if err != nil {
		s.reject(w, r, err)
		return
	}

	if p == policyDefault && !s.cfg.AcceptAll {
		s.logger.Debug("upgrade refused by endpoint policy", zap.String("path", r.URL.Path))
		http.Error(w, "WebSocket not accepted on this endpoint", http.StatusBadRequest)
		return
	}
	if s.cfg.CheckOrigin != nil && !s.cfg.CheckOrigin(r) {
		s.logger.Warn("upgrade refused", zap.String("remote_addr", r.RemoteAddr), zap.String("reason", upsock.ErrOriginNotAllowed))
		http.Error(w, upsock.ErrOriginNotAllowed, http.StatusForbidden)
		return
	}

	conn, err := s.upgrade(w, r, neg)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}
	defer s.release(conn)

	rc := upsock.NewRequestContext(conn)
	h(w, r.WithContext(upsock.WithRequestContext(r.Context(), rc)), rc)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadRequest
	var herr *handshake.Error
	if errors.As(err, &herr) {
		status = herr.Status
	}
	s.logger.Warn("rejected handshake", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
	w.Header().Set(handshake.HeaderSecVersion, handshake.SupportedHyBiVersions)
	http.Error(w, http.StatusText(status), status)
}

// upgrade hijacks the request and completes the handshake on the raw stream.
func (s *Server) upgrade(w http.ResponseWriter, r *http.Request, neg *handshake.Negotiation) (*Conn, error) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, upsock.ErrHijackUnsupported, http.StatusInternalServerError)
		return nil, errors.New(upsock.ErrHijackUnsupported)
	}
	netConn, rw, err := hj.Hijack()
	if err != nil {
		http.Error(w, upsock.ErrHijackUnsupported, http.StatusInternalServerError)
		return nil, fmt.Errorf("hijack: %w", err)
	}
	if err := netConn.SetDeadline(time.Time{}); err != nil {
		netConn.Close()
		return nil, err
	}

	conn := NewConn(uuid.New().String(), &hijackedStream{Conn: netConn, r: rw.Reader}, neg, s.cfg)
	conn.remoteAddr = r.RemoteAddr
	conn.setOnClose(s.onConnClosed)
	s.conns.Store(conn.ID(), conn)

	if err := conn.Handshake(context.Background()); err != nil {
		s.conns.Delete(conn.ID())
		var herr *handshake.Error
		if errors.As(err, &herr) {
			writeStatus(netConn, herr.Status)
		}
		netConn.Close()
		return nil, err
	}

	if s.cfg.OnConnect != nil {
		s.cfg.OnConnect(conn)
	}
	return conn, nil
}

// release runs after the handler returns.
func (s *Server) release(conn *Conn) {
	if conn.IsAlive() {
		conn.Close(context.Background())
	}
}

func (s *Server) onConnClosed(conn *Conn, voluntary bool) {
	s.conns.Delete(conn.ID())
	s.logger.Debug("connection closed", zap.String("conn_id", conn.ID()), zap.Bool("voluntary", voluntary))
	if s.cfg.OnClientDisconnect != nil {
		s.cfg.OnClientDisconnect(conn, voluntary)
	}
}

// GetConn returns a live connection by ID
func (s *Server) GetConn(id string) (*Conn, bool) {
	if conn, ok := s.conns.Load(id); ok {
		return conn.(*Conn), true
	}
	return nil, false
}

// SendTo sends a message to a specific connection
func (s *Server) SendTo(ctx context.Context, id string, msg upsock.Message) error {
	conn, ok := s.GetConn(id)
	if !ok {
		return fmt.Errorf("connection not found: %s", id)
	}
	return conn.Send(ctx, msg)
}

// Broadcast sends a message to all live connections
func (s *Server) Broadcast(ctx context.Context, msg upsock.Message) error {
	s.conns.Range(func(key, value interface{}) bool {
		if conn, ok := value.(*Conn); ok && conn.IsAlive() {
			if err := conn.Send(ctx, msg); err != nil {
				s.logger.Debug("broadcast skipped connection", zap.String("conn_id", conn.ID()), zap.Error(err))
			}
		}
		return true
	})
	return ctx.Err()
}

// Connections returns a snapshot of the live connections
func (s *Server) Connections() []upsock.Conn {
	var out []upsock.Conn
	s.conns.Range(func(key, value interface{}) bool {
		if conn, ok := value.(*Conn); ok && conn.IsAlive() {
			out = append(out, conn)
		}
		return true
	})
	return out
}

// hijackedStream reads through the buffered reader returned by Hijack so
// bytes the HTTP server already buffered are not lost.
type hijackedStream struct {
	net.Conn
	r *bufio.Reader
}

func (s *hijackedStream) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

// writeStatus answers a hijacked request whose handshake failed.
func writeStatus(w io.Writer, status int) {
	fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nConnection: close\r\nContent-Length: 0\r\n\r\n", status, http.StatusText(status))
}
