// Package lobby implements the authoritative lobby server: it accepts TCP
// connections, maintains the roster, fans out state changes, and decides when
// every participant is ready.
package lobby

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/mathblast/internal/config"
	"github.com/cory-johannsen/mathblast/internal/protocol"
	"github.com/cory-johannsen/mathblast/internal/roster"
)

// Server listens for lobby connections and runs one handler goroutine per
// connection against a shared roster.
type Server struct {
	cfg    config.LobbyConfig
	logger *zap.Logger
	roster *roster.Roster

	// order serializes each roster mutation with the broadcast it triggers so
	// every client observes broadcasts in lock-acquisition order.
	order sync.Mutex

	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
	stopped  bool
}

// NewServer creates a lobby server with the given configuration.
//
// Precondition: logger must be non-nil.
// Postcondition: Returns a Server ready to be started with ListenAndServe.
func NewServer(cfg config.LobbyConfig, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		roster: roster.New(),
		quit:   make(chan struct{}),
	}
}

// ListenAndServe binds the listener and accepts connections until Stop is called.
// This method blocks until the server is stopped.
//
// Precondition: The server must not already be running.
// Postcondition: Returns nil after Stop, or an error if no port could be bound.
func (s *Server) ListenAndServe() error {
	start := time.Now()

	listener, err := s.bind()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	s.logger.Info("lobby listening",
		zap.String("addr", listener.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accepting connection", zap.Error(err))
			continue
		}

		// Add under s.mu so it cannot race the Wait in Stop.
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.handleConn(conn)
	}
}

// bind listens on the configured port, moving to the next port while the
// current one is in use, for at most cfg.BindAttempts attempts.
func (s *Server) bind() (net.Listener, error) {
	attempts := s.cfg.BindAttempts
	if attempts < 1 {
		attempts = 1
	}

	port := s.cfg.Port
	var lastErr error
	for i := 0; i < attempts; i++ {
		addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))
		listener, err := net.Listen("tcp", addr)
		if err == nil {
			return listener, nil
		}
		lastErr = err
		if !errors.Is(err, syscall.EADDRINUSE) || port == 0 {
			return nil, fmt.Errorf("listening on %s: %w", addr, err)
		}

		s.logger.Warn("lobby port in use, trying next",
			zap.String("addr", addr),
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", attempts),
		)
		select {
		case <-s.quit:
			return nil, fmt.Errorf("listening on %s: %w", addr, net.ErrClosed)
		case <-time.After(s.cfg.BindRetryDelay):
		}
		port++
	}
	return nil, fmt.Errorf("no free port after %d attempts from %d: %w", attempts, s.cfg.Port, lastErr)
}

// Stop closes the listener and every live connection, then waits for all
// handler goroutines to exit. It is safe to call more than once.
//
// Postcondition: All connections are closed and goroutines have exited.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.running = false
	close(s.quit)
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()

	for _, sender := range s.roster.Senders() {
		_ = sender.Close()
	}
	s.wg.Wait()

	s.logger.Info("lobby stopped")
}

// Done is closed once Stop has been called.
func (s *Server) Done() <-chan struct{} {
	return s.quit
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the server is currently accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Snapshot returns the named participants in join order.
func (s *Server) Snapshot() []protocol.Participant {
	return s.roster.Snapshot()
}

// ForceStart broadcasts START: regardless of the ready barrier.
func (s *Server) ForceStart() {
	s.order.Lock()
	defer s.order.Unlock()
	s.broadcast(protocol.Start().String())
}

// handleConn registers a connection and runs its read loop until the peer
// disconnects or the server stops.
func (s *Server) handleConn(raw net.Conn) {
	defer s.wg.Done()
	start := time.Now()
	addr := raw.RemoteAddr().String()
	id := uuid.NewString()

	conn := NewConn(id, raw, s.cfg.ReadTimeout, s.cfg.WriteTimeout, s.cfg.SendQueue)
	defer conn.Close()

	// Registering under the order lock keeps a new connection from
	// observing half of an in-flight broadcast sequence.
	s.order.Lock()
	err := s.roster.Register(id, conn)
	s.order.Unlock()
	if err != nil {
		s.logger.Error("registering connection", zap.String("conn_id", id), zap.Error(err))
		return
	}

	s.logger.Info("client connected",
		zap.String("conn_id", id),
		zap.String("remote_addr", addr),
	)

	// A Stop that raced with registration would have missed this sender.
	select {
	case <-s.quit:
		s.disconnect(id)
		return
	default:
	}

	go conn.WritePump()

	h := &handler{server: s, conn: conn, logger: s.logger.With(zap.String("conn_id", id))}
	readErr := h.run()

	s.disconnect(id)
	s.logger.Info("client disconnected",
		zap.String("conn_id", id),
		zap.String("remote_addr", addr),
		zap.NamedError("reason", readErr),
		zap.Duration("duration", time.Since(start)),
	)
}

// disconnect removes a connection and announces the departure if it was named.
func (s *Server) disconnect(id string) {
	s.order.Lock()
	defer s.order.Unlock()

	p, named, snap, err := s.roster.Leave(id)
	if err != nil {
		s.logger.Debug("disconnect of unregistered connection", zap.String("conn_id", id), zap.Error(err))
		return
	}
	if !named {
		return
	}
	s.broadcast(protocol.Leave(p.Name).String(), protocol.List(snap).String())
}

// broadcast enqueues each line, in order, to every registered connection.
// The caller must hold s.order. A connection whose queue is full is closed;
// its handler then runs the normal disconnect path.
func (s *Server) broadcast(lines ...string) {
	senders := s.roster.Senders()
	for _, line := range lines {
		for _, sender := range senders {
			if err := sender.Send(line); err != nil {
				if errors.Is(err, ErrSendQueueFull) {
					s.logger.Warn("dropping slow connection", zap.Error(err))
				}
				_ = sender.Close()
			}
		}
	}
}
