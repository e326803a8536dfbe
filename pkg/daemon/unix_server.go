package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/shaneisley/sigmashift/pkg/logging"
	"go.uber.org/zap"
)

const (
	// DefaultConnectionTimeout is the default timeout for idle connections
	DefaultConnectionTimeout = 30 * time.Second
	// DefaultMaxConnections is the default maximum number of concurrent connections
	DefaultMaxConnections = 10
	// SocketPermissions defines the file permissions for the Unix socket
	SocketPermissions = 0600
	// maxMessageSize bounds one JSON line
	maxMessageSize = 1 << 20
)

// UnixServer represents a Unix domain socket server for daemon communication
type UnixServer struct {
	socketPath        string
	handler           *Handler
	logger            *logging.Logger
	listener          net.Listener
	pool              *WorkerPool
	connectionTimeout time.Duration
	maxConnections    int
	mu                sync.Mutex
	ctx               context.Context
	cancel            context.CancelFunc
	acceptDone        chan struct{}
}

// NewUnixServer creates a new Unix socket server
func NewUnixServer(socketPath string, handler *Handler, logger *logging.Logger) *UnixServer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &UnixServer{
		socketPath:        socketPath,
		handler:           handler,
		logger:            logger,
		connectionTimeout: DefaultConnectionTimeout,
		maxConnections:    DefaultMaxConnections,
	}
}

// SetConnectionTimeout sets the idle timeout applied before each read
func (s *UnixServer) SetConnectionTimeout(timeout time.Duration) {
	s.connectionTimeout = timeout
}

// SetMaxConnections sets the maximum number of concurrent connections
func (s *UnixServer) SetMaxConnections(max int) {
	s.maxConnections = max
}

// SocketPath returns the path the server listens on
func (s *UnixServer) SocketPath() string {
	return s.socketPath
}

// Start starts the Unix socket server
func (s *UnixServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.New("server already started")
	}

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}

	if err := os.Chmod(s.socketPath, SocketPermissions); err != nil {
		listener.Close()
		return err
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.listener = listener
	s.pool = NewWorkerPool(s.maxConnections, s.handleConnection, s.logger)
	s.pool.Start()
	s.acceptDone = make(chan struct{})

	go s.acceptConnections()

	s.logger.Info("listening", zap.String("socket", s.socketPath))
	return nil
}

// Stop stops the server, ends open connections and removes the socket file
func (s *UnixServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	s.cancel()
	err := s.listener.Close()
	<-s.acceptDone
	s.pool.Stop()
	s.listener = nil

	if removeErr := os.Remove(s.socketPath); removeErr != nil && !os.IsNotExist(removeErr) {
		if err == nil {
			err = removeErr
		}
	}

	s.logger.Info("stopped", zap.String("socket", s.socketPath))
	return err
}

func (s *UnixServer) acceptConnections() {
	defer close(s.acceptDone)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		s.pool.SubmitConnection(conn)
	}
}

// handleConnection serves line-delimited JSON messages until the client
// disconnects, idles past the timeout or the server stops
func (s *UnixServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	reader := bufio.NewReaderSize(conn, 4096)
	for {
		if s.connectionTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.connectionTimeout))
		}

		line, err := readLine(reader)
		if err != nil {
			return
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		response := s.handler.Handle(ctx, line)

		responseData, err := json.Marshal(response)
		if err != nil {
			s.logger.LogError("encode response", err)
			responseData, _ = json.Marshal(errorResponse("failed to serialize response"))
		}

		if s.connectionTimeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(s.connectionTimeout))
		}
		if _, err := conn.Write(append(responseData, '\n')); err != nil {
			return
		}
	}
}

// readLine reads one newline-terminated message of at most maxMessageSize
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > maxMessageSize {
			return nil, errors.New("message too large")
		}
		if !isPrefix {
			return line, nil
		}
	}
}
