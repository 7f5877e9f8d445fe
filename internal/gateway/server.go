package gateway

import (
	"context"
	"net"
	"sync"

	"github.com/KarunKarguz/edge-infer-gateway/internal/manager"
	"github.com/KarunKarguz/edge-infer-gateway/internal/obs"
)

// Server is the TCP accept loop: one net.Listener, a bounded worker
// pool sized by MaxClients, and a handler per accepted connection.
// Go's netpoller already multiplexes the listener and every
// connection's readiness under the hood, so the accept loop itself is
// a plain blocking Accept() in a goroutine — the idiomatic reading of
// an edge/level-triggered readiness dispatcher in a language whose
// runtime already owns that dispatch.
type Server struct {
	Addr       string
	MaxClients int
	QueueDepth int
	Timeouts   Timeouts
	Manager    *manager.Manager

	mu       sync.Mutex
	ln       net.Listener
	wg       sync.WaitGroup
	sem      chan struct{}
	queue    chan struct{}
	stopCh   chan struct{}
	stopping bool
}

// ListenAndServe binds the listener and runs the accept loop until
// Shutdown is called or Accept returns a permanent error.
//
// Two bounds apply to every accepted connection: MaxClients caps how
// many are served concurrently (the sem channel), and QueueDepth caps
// how many more may wait for a free slot once MaxClients is saturated
// (the queue channel). A connection that can't even get a queue slot
// is rejected immediately instead of piling up unboundedly.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	if s.MaxClients <= 0 {
		s.MaxClients = 256
	}
	if s.QueueDepth <= 0 {
		s.QueueDepth = 1024
	}
	s.sem = make(chan struct{}, s.MaxClients)
	s.queue = make(chan struct{}, s.QueueDepth)
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	obs.Logger().Info().Str("addr", s.Addr).Int("max_clients", s.MaxClients).
		Int("queue_depth", s.QueueDepth).Msg("gateway: listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			stopping := s.stopping
			s.mu.Unlock()
			if stopping {
				return nil
			}
			return err
		}

		select {
		case s.sem <- struct{}{}:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer func() { <-s.sem }()
				handleConn(conn, s.Manager, s.Timeouts)
			}()
		default:
			select {
			case s.queue <- struct{}{}:
				s.wg.Add(1)
				go s.serveQueued(conn)
			default:
				// max_clients and queue_depth both exhausted: reject
				// instead of queuing unboundedly.
				obs.Logger().Warn().Msg("gateway: max_clients and queue_depth exhausted, rejecting connection")
				_ = conn.Close()
			}
		}
	}
}

// serveQueued waits for a sem slot on behalf of a connection that
// overflowed MaxClients but fit within QueueDepth, then serves it. It
// gives up and closes the connection if Shutdown fires first.
func (s *Server) serveQueued(conn net.Conn) {
	defer s.wg.Done()
	defer func() { <-s.queue }()
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
		handleConn(conn, s.Manager, s.Timeouts)
	case <-s.stopCh:
		_ = conn.Close()
	}
}

// Shutdown stops accepting new connections, closes the listener, and
// waits for in-flight connections to drain or for ctx to expire,
// whichever comes first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	ln := s.ln
	stopCh := s.stopCh
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	if stopCh != nil {
		close(stopCh)
	}

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
