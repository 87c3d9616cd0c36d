// Package dispatcher implements the TCP front end: the accept loop, the
// per-connection request handler, and the periodic silent-sweep and
// stats-reporting tasks. It is the Go-idiomatic realization of a
// readiness-driven event loop — one goroutine per accepted connection,
// with every Store mutation still serialized through the Store's own
// mutex rather than a single dispatch thread.
package dispatcher

import (
	"bufio"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"mucs/Common/console"
	"mucs/internal/inventory"
	"mucs/internal/metrics"
	"mucs/internal/protocol"
)

// Server accepts worker and client connections and drives Store
// transitions from the requests it parses off them.
type Server struct {
	store      *inventory.Store
	metrics    *metrics.Exporter
	nextConnID atomic.Uint64
	debug      bool
}

// New constructs a Server bound to store. metrics may be nil, in which
// case assignments are not counted in the exporter's served counter.
func New(store *inventory.Store, m *metrics.Exporter, debug bool) *Server {
	return &Server{store: store, metrics: m, debug: debug}
}

// ListenAndServe binds addr and accepts connections until Accept returns
// an error (including the listener being closed); any Accept error ends
// the loop.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("dispatcher: listen %s: %w", addr, err)
	}
	defer lis.Close()

	logInfo("mucs dispatcher listening on %s", addr)
	for {
		conn, err := lis.Accept()
		if err != nil {
			return fmt.Errorf("dispatcher: accept: %w", err)
		}
		connID := s.nextConnID.Add(1)
		go s.handleConn(conn, connID)
	}
}

func (s *Server) handleConn(conn net.Conn, connID uint64) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, protocol.MaxLineBytes), protocol.MaxLineBytes)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			logError("conn %d: reading request: %v", connID, err)
		}
		return
	}
	req, err := protocol.Parse(scanner.Text())
	if err != nil {
		logWarn("conn %d: %v", connID, err)
		return
	}

	switch req.Kind {
	case protocol.KindHost:
		s.handleHost(conn, connID, scanner)
	case protocol.KindLoad:
		s.handleLoad(req)
	case protocol.KindStatusUp:
		s.handleStatusUp(req)
	case protocol.KindStatusDown:
		s.handleStatusDown(req)
	case protocol.KindMonitor:
		fmt.Fprint(conn, s.store.Serialize())
	}
}

func (s *Server) handleHost(conn net.Conn, connID uint64, scanner *bufio.Scanner) {
	cpu := s.store.GetBestAvailCpu()
	reply := "0.0.0.0"
	if cpu != nil {
		s.store.AssignCpuToClient(cpu, connID)
		reply = cpu.String()
		if s.metrics != nil {
			s.metrics.ObserveAssignment()
		}
		if s.debug {
			logSuccess("conn %d: assigned cpu %s", connID, reply)
		}
	}
	fmt.Fprintf(conn, "%s\n", reply)

	// No further lines are expected; this Scan loop's only purpose is to
	// block until the client closes, which is the sole release trigger.
	for scanner.Scan() {
	}
	s.store.ReleaseCpu(connID)
}

func (s *Server) handleLoad(req protocol.Request) {
	s.store.ObserveLoad(req.IP, req.Ld1, req.Ld5, req.Ld10, time.Now())
	if s.debug {
		logInfo("load %s %s", req.IP, console.FormatLoad(req.Ld1, req.Ld5, req.Ld10))
	}
}

func (s *Server) handleStatusUp(req protocol.Request) {
	if h, ok := s.store.GetHost(req.IP); ok {
		s.store.Avail(h)
		return
	}
	s.store.AddNewHost(req.IP)
}

func (s *Server) handleStatusDown(req protocol.Request) {
	h, ok := s.store.GetHost(req.IP)
	if !ok {
		if s.debug {
			logWarn("status down for unknown host %s", req.IP)
		}
		return
	}
	s.store.Unavail(h)
}
