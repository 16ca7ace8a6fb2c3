package uds

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

type HandlerFunc func(ctx context.Context, req *Request) *Response

type ServerOption func(*Server)

func WithServerLogger(l *zap.SugaredLogger) ServerOption {
	return func(s *Server) { s.logger = l }
}

func WithConnTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.connTimeout = d }
}

type Server struct {
	socketPath  string
	listener    net.Listener
	handlers    map[string]HandlerFunc
	mu          sync.RWMutex
	connTimeout time.Duration
	logger      *zap.SugaredLogger
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewServer(socketPath string, opts ...ServerOption) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		socketPath:  socketPath,
		handlers:    make(map[string]HandlerFunc),
		connTimeout: 10 * time.Second,
		logger:      zap.NewNop().Sugar(),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) Handle(command string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = handler
}

// Start removes a stale socket file, listens, and serves in the background.
func (s *Server) Start() error {
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()
	s.logger.Debugf("control_socket_listening path=%s", s.socketPath)
	return nil
}

// Stop closes the listener, waits for in-flight requests and removes the
// socket file.
func (s *Server) Stop() error {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove socket: %w", err)
	}
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Warnf("control_accept_failed error=%v", err)
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(s.connTimeout))

	var req Request
	if err := ReadFrame(conn, &req); err != nil {
		s.logger.Debugf("control_read_failed error=%v", err)
		return
	}

	start := time.Now()
	resp := s.processRequest(&req)
	if resp.Error != nil {
		s.logger.Debugf("control_request command=%s code=%s duration=%s", req.Command, resp.Error.Code, time.Since(start))
	} else {
		s.logger.Debugf("control_request command=%s duration=%s", req.Command, time.Since(start))
	}
	if err := WriteFrame(conn, resp); err != nil {
		s.logger.Debugf("control_write_failed command=%s error=%v", req.Command, err)
	}
}

func (s *Server) processRequest(req *Request) (resp *Response) {
	if req.ProtocolVersion != ProtocolVersion {
		return ErrorResponse(
			ErrCodeProtocolMismatch,
			fmt.Sprintf("protocol version mismatch: got %d, expected %d", req.ProtocolVersion, ProtocolVersion),
		)
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Command]
	s.mu.RUnlock()
	if !ok {
		return ErrorResponse(ErrCodeUnknownCommand, fmt.Sprintf("unknown command: %q", req.Command))
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("control_handler_panic command=%s panic=%v\n%s", req.Command, r, debug.Stack())
			resp = ErrorResponse(ErrCodeInternal, fmt.Sprintf("handler panic: %v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(s.ctx, s.connTimeout)
	defer cancel()
	if resp = handler(ctx, req); resp == nil {
		resp = ErrorResponse(ErrCodeInternal, fmt.Sprintf("no response from %q handler", req.Command))
	}
	return resp
}
