// Package server implements the raw TCP acceptor and per-connection
// protocol handler that expose a storage.Store to clients and, on a
// master, to its own replicator's administration commands.
package server

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mkaminski/kvstore/internal/config"
	"github.com/mkaminski/kvstore/internal/replication"
	"github.com/mkaminski/kvstore/internal/storage"
)

// metricsSink is the narrow view of *metrics.Metrics the server needs.
// Importing internal/metrics directly would create a server->metrics->
// storage/replication import cycle risk as the metrics package grows; this
// interface keeps the dependency one-directional.
type metricsSink interface {
	ObservePut(start time.Time, err error)
	ObserveBatchPut(start time.Time, err error)
	ObserveRead(start time.Time, err error)
	ObserveDelete(start time.Time, err error)
}

// Server accepts client connections and dispatches each line of the wire
// protocol to the store (and, on a master, the replica manager).
type Server struct {
	config config.ServerConfig
	store  *storage.Store
	// manager is nil on a replica: ADMIN replica-management commands are
	// a master-only concern.
	manager *replication.Manager
	metrics metricsSink
	log     *logrus.Entry

	listener net.Listener
	running  atomic.Bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// New builds a Server bound to store. manager may be nil on a replica.
func New(cfg config.ServerConfig, store *storage.Store, manager *replication.Manager, log *logrus.Entry) *Server {
	return &Server{
		config:   cfg,
		store:    store,
		manager:  manager,
		log:      log,
		stopChan: make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}
}

// SetMetrics wires a metrics sink into the server. Optional: a nil sink
// (the default) simply skips per-request observation.
func (s *Server) SetMetrics(m metricsSink) {
	s.metrics = m
}

// Start binds the listener and begins accepting connections in the
// background. It returns once the listener is bound, not once the server
// stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.running.Store(true)

	s.log.WithField("addr", addr).Info("server listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			s.log.WithError(err).Warn("accept failed")
			continue
		}

		s.registerConn(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.unregisterConn(conn)
			s.handleConnection(conn)
		}()
	}
}

// Addr returns the listener's bound address. Only valid after Start.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) registerConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) unregisterConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

// Stop closes the listener, which unblocks Accept, then force-closes every
// open connection so its handler's blocking read returns, and waits for
// the accept loop and every handler to exit.
func (s *Server) Stop() {
	if !s.running.Swap(false) {
		return
	}
	close(s.stopChan)
	if s.listener != nil {
		s.listener.Close()
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
}
