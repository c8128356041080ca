package tcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"mocktide/internal/mapping"
)

const DefaultMaxConnections = 10

// Options configures a TCPServer. Zero values fall back to DefaultOptions.
type Options struct {
	MaxConnections    int
	BackoffUnit       time.Duration
	BackoffMax        time.Duration
	RecvFailurePolicy RecvFailurePolicy
	Connection        ConnectionOptions
	Logger            *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		MaxConnections: DefaultMaxConnections,
		BackoffUnit:    time.Second,
		BackoffMax:     64 * time.Second,
	}
}

// Status is a point-in-time view of the server.
type Status struct {
	Addr           string           `json:"addr"`
	Script         string           `json:"script"`
	MaxConnections int              `json:"max_connections"`
	Active         int              `json:"active"`
	Peak           int              `json:"peak"`
	Accepted       int64            `json:"accepted"`
	ShuttingDown   bool             `json:"shutting_down"`
	ShutdownReason string           `json:"shutdown_reason,omitempty"`
	Connections    []ConnectionInfo `json:"connections"`
}

// TCPServer accepts connections and replays the script on each of them,
// never running more than MaxConnections scripts at once.
type TCPServer struct {
	listener   net.Listener
	script     *mapping.Script
	recorder   ResultRecorder
	opts       Options
	Manager    *ConnectionManager
	limitConns *semaphore.Weighted
	shutdown   *ShutdownSignal
	// in-flight connection goroutines
	wg          sync.WaitGroup
	taskCtx     context.Context
	cancelTasks context.CancelFunc
	serving     atomic.Bool
	logger      *slog.Logger
}

// NewServer wraps an already bound listener. script must have been
// validated; recorder may be nil when outcomes are not needed.
func NewServer(listener net.Listener, script *mapping.Script, recorder ResultRecorder, opts Options) *TCPServer {
	defaults := DefaultOptions()
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = defaults.MaxConnections
	}
	if opts.BackoffUnit <= 0 {
		opts.BackoffUnit = defaults.BackoffUnit
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = defaults.BackoffMax
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "tcp_server")

	taskCtx, cancel := context.WithCancel(context.Background())
	return &TCPServer{
		listener:    listener,
		script:      script,
		recorder:    recorder,
		opts:        opts,
		Manager:     NewConnectionManager(logger),
		limitConns:  semaphore.NewWeighted(int64(opts.MaxConnections)),
		shutdown:    NewShutdownSignal(),
		taskCtx:     taskCtx,
		cancelTasks: cancel,
		logger:      logger,
	}
}

// Addr returns the listener address.
func (s *TCPServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve runs the listener loop until ctx is cancelled, the shutdown signal
// is raised, or accepting keeps failing past the backoff cap. A shutdown
// returns nil; connections already running are left to finish on their own.
// The listener is closed when Serve returns.
func (s *TCPServer) Serve(ctx context.Context) error {
	if !s.serving.CompareAndSwap(false, true) {
		return errors.New("server is already serving")
	}
	defer s.listener.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.shutdown.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	// unblocks a pending Accept as soon as either trigger fires
	stop := context.AfterFunc(ctx, func() { s.listener.Close() })
	defer stop()

	s.logger.Info("accepting_connections",
		"addr", s.listener.Addr().String(),
		"script", s.script.Name,
		"max_connections", s.opts.MaxConnections,
	)

	for {
		if err := s.limitConns.Acquire(ctx, 1); err != nil {
			return s.stopped()
		}

		conn, err := s.accept(ctx)
		if err != nil {
			s.limitConns.Release(1)
			if ctx.Err() != nil {
				return s.stopped()
			}
			s.logger.Error("accept_failed", "error", err)
			return fmt.Errorf("accept failed: %w", err)
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *TCPServer) stopped() error {
	reason := s.shutdown.Reason()
	if reason == "" {
		reason = "context cancelled"
	}
	s.logger.Info("listener_stopped", "reason", reason, "in_flight", s.Manager.ActiveCount())
	return nil
}

// accept waits for one connection, retrying transient failures with a
// doubling delay that restarts from BackoffUnit on every call.
func (s *TCPServer) accept(ctx context.Context) (net.Conn, error) {
	var conn net.Conn
	op := func() error {
		c, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		s.logger.Warn("accept_failed_retrying", "error", err, "backoff", next)
	}

	policy := backoff.WithContext(newAcceptBackoff(s.opts.BackoffUnit, s.opts.BackoffMax), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return conn, nil
}

// handleConnection owns one admission slot for the lifetime of the script.
func (s *TCPServer) handleConnection(raw net.Conn) {
	defer s.wg.Done()
	defer s.limitConns.Release(1)

	conn := NewConnection(raw, s.opts.Connection)
	defer conn.Close()

	s.Manager.AddConnection(conn)
	defer s.Manager.RemoveConnection(conn)

	logger := s.logger.With("connection_id", conn.ID, "remote_addr", conn.RemoteAddr())
	logger.Debug("connection_accepted")

	handler := NewScriptHandler(conn, s.script, s.shutdown, s.recorder, s.opts.RecvFailurePolicy, logger)
	if err := handler.Run(s.taskCtx); err != nil {
		logger.Error("connection_script_failed", "error", err)
		return
	}
	logger.Debug("connection_script_done")
}

// Shutdown raises the shutdown signal. The listener loop stops accepting;
// running connections are not interrupted.
func (s *TCPServer) Shutdown(reason string) {
	s.shutdown.Raise(reason)
}

// Done is closed once the shutdown signal has been raised.
func (s *TCPServer) Done() <-chan struct{} {
	return s.shutdown.Done()
}

// Wait blocks until every connection goroutine has finished or ctx ends.
func (s *TCPServer) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close interrupts running scripts: pending waits are cancelled and every
// socket is closed. Use it after Wait gives up.
func (s *TCPServer) Close() {
	s.cancelTasks()
	s.Manager.CloseAllConnections()
}

// Status reports live counters for the admin API.
func (s *TCPServer) Status() Status {
	return Status{
		Addr:           s.listener.Addr().String(),
		Script:         s.script.Name,
		MaxConnections: s.opts.MaxConnections,
		Active:         s.Manager.ActiveCount(),
		Peak:           s.Manager.Peak(),
		Accepted:       s.Manager.Accepted(),
		ShuttingDown:   s.shutdown.Raised(),
		ShutdownReason: s.shutdown.Reason(),
		Connections:    s.Manager.Snapshot(),
	}
}
