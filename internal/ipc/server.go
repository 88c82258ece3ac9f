package ipc

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/adminmcp/agent/internal/logging"
)

// Handler processes one request envelope and returns the response to
// send back on the same connection. It must not retain the envelope.
type Handler func(ctx context.Context, req *Envelope) *Envelope

// Server accepts connections on a unix socket and runs one receive loop
// per connection (accept-then-dedicate). All connections share the same
// handler; serialization of shell access happens behind it, in the
// admission pipeline.
type Server struct {
	path    string
	handler Handler
	logger  *logging.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool

	wg sync.WaitGroup
}

// NewServer creates a server bound to the given socket path.
func NewServer(path string, handler Handler, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.New()
	}
	return &Server{
		path:    path,
		handler: handler,
		logger:  logger.WithComponent("ipc"),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start binds the socket and begins accepting. A stale socket file from
// a previous run is removed first. Permissions are restricted to the
// invoking user.
func (s *Server) Start() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ipc: remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("ipc: listen on %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("ipc: restrict socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("listening", map[string]interface{}{"socket": s.path})

	s.wg.Add(1)
	go s.acceptLoop(listener)
	return nil
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			return // listener closed
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn is the per-connection receive loop: one request, one
// response, until the peer disconnects.
func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	ctx := context.Background()
	for {
		req, err := ReadMessage(conn)
		if err != nil {
			// Peer gone mid-request or idle disconnect; either way the
			// connection is done. The agent itself stays up.
			return
		}

		resp := s.dispatch(ctx, req)
		if resp == nil {
			resp = NewError(req.ID, "no response from handler")
		}
		if err := WriteMessage(conn, resp); err != nil {
			s.logger.ChannelError("send", err)
			return
		}
	}
}

// dispatch runs the handler, converting a panic into an error envelope
// rather than taking the whole agent down.
func (s *Server) dispatch(ctx context.Context, req *Envelope) (resp *Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic", map[string]interface{}{"panic": fmt.Sprint(r)})
			resp = NewError(req.ID, fmt.Sprintf("internal error: %v", r))
		}
	}()
	return s.handler(ctx, req)
}

// Close stops accepting, closes live connections, and removes the
// socket file. Safe to call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listener := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	s.wg.Wait()
	os.Remove(s.path)
	return nil
}
