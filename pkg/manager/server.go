package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sbnet/pkg/netid"
	"sbnet/pkg/packet"
	"sbnet/pkg/request"
	"sbnet/pkg/transport"
)

// ServerState is the lifecycle state of a Server.
type ServerState int32

const (
	ServerInitialized ServerState = iota
	ServerStarting
	ServerRunning
	ServerStopping
	ServerStopped
)

func (s ServerState) String() string {
	switch s {
	case ServerInitialized:
		return "INITIALIZED"
	case ServerStarting:
		return "STARTING"
	case ServerRunning:
		return "RUNNING"
	case ServerStopping:
		return "STOPPING"
	case ServerStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("ServerState(%d)", int32(s))
	}
}

var (
	// ErrServerState is returned by Start outside the Initialized state.
	ErrServerState = errors.New("manager: server already started")
	// ErrServerNotRunning refuses connections to a server that is not running.
	ErrServerNotRunning = errors.New("manager: server not running")
	// ErrNoNetwork is returned when no Network was configured.
	ErrNoNetwork = errors.New("manager: no network configured")
	// ErrDuplicateConnection matches DuplicateConnectionError.
	ErrDuplicateConnection = errors.New("manager: duplicate connection")
)

// DuplicateConnectionError refuses a second connection from an identity
// that already has one.
type DuplicateConnectionError struct {
	Remote netid.ID
}

func (e *DuplicateConnectionError) Error() string {
	return "manager: duplicate connection from " + e.Remote.String()
}

func (e *DuplicateConnectionError) Is(target error) bool { return target == ErrDuplicateConnection }

// Server accepts connections for one local identity.
type Server struct {
	*base
	local netid.ID

	// stateMu orders lifecycle transitions; it is always taken before connMu.
	stateMu   sync.Mutex
	state     atomic.Int32
	stopServe func() error
	sweep     *sweeper

	connMu   sync.RWMutex
	conns    map[netid.ID]*Connection
	draining bool
}

// NewServer returns an Initialized server for local.
func NewServer(local netid.ID, opts ...Option) *Server {
	return &Server{
		base:  newBase("server", opts),
		local: local,
		conns: make(map[netid.ID]*Connection),
	}
}

// Local returns the identity the server serves.
func (s *Server) Local() netid.ID { return s.local }

func (s *Server) State() ServerState { return ServerState(s.state.Load()) }

// Start makes the server reachable on its network and starts the sweep. A
// server starts once; a stopped server stays stopped.
func (s *Server) Start(ctx context.Context) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if st := s.State(); st != ServerInitialized {
		return fmt.Errorf("%w: %s", ErrServerState, st)
	}
	if s.network == nil {
		return ErrNoNetwork
	}
	s.state.Store(int32(ServerStarting))

	stop, err := s.network.Serve(ctx, s.local, s.accept)
	if err != nil {
		s.state.Store(int32(ServerStopped))
		return fmt.Errorf("serve %s: %w", s.local, err)
	}
	s.stopServe = stop
	s.sweep = s.startSweep(s.Connections)
	s.state.Store(int32(ServerRunning))
	s.log.Info("server running", zap.Stringer("local", s.local))
	return nil
}

// Stop closes every connection with ReasonServer, cancels all pending
// requests and stops accepting. It is idempotent. ConnectionClosed handlers
// run while Stop holds the lifecycle lock and must not call Start or Stop.
func (s *Server) Stop() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	switch s.State() {
	case ServerStopped:
		return nil
	case ServerInitialized:
		s.state.Store(int32(ServerStopped))
		return nil
	}
	s.state.Store(int32(ServerStopping))

	var err error
	if s.stopServe != nil {
		err = multierr.Append(err, s.stopServe())
	}
	s.sweep.Stop()

	type closed struct {
		c        *Connection
		onClosed func(*Connection)
	}
	s.connMu.Lock()
	s.draining = true
	done := make([]closed, 0, len(s.conns))
	for _, c := range s.conns {
		if fn, ok := c.shutdown(ReasonServer, nil); ok {
			done = append(done, closed{c, fn})
		}
	}
	clear(s.conns)
	s.connMu.Unlock()

	// onClosed finds the map already drained; events run outside connMu.
	for _, d := range done {
		d.c.finish(d.onClosed)
	}
	if n := s.table.CancelAll(); n > 0 {
		s.log.Debug("cancelled pending requests", zap.Int("count", n))
	}

	s.state.Store(int32(ServerStopped))
	s.log.Info("server stopped", zap.Stringer("local", s.local), zap.Int("closed", len(done)), zap.Error(err))
	return err
}

// accept is the transport.AcceptFunc handed to the network.
func (s *Server) accept(remote netid.ID, l transport.Link) error {
	switch s.State() {
	case ServerStarting, ServerRunning:
	default:
		return ErrServerNotRunning
	}

	ev := &ConfigureConnection{Remote: remote, Server: true}
	s.bus.Publish(ev)

	c := newConnection(s.base, remote, true)
	c.value = ev.Context
	c.onClosed = s.removeConnection

	s.connMu.Lock()
	switch _, dup := s.conns[remote]; {
	case s.draining:
		s.connMu.Unlock()
		return ErrServerNotRunning
	case dup:
		s.connMu.Unlock()
		s.log.Warn("duplicate connection refused", zap.Stringer("remote", remote))
		return &DuplicateConnectionError{Remote: remote}
	}
	s.conns[remote] = c
	s.connMu.Unlock()

	return c.Open(context.Background(), func(context.Context) (transport.Link, error) { return l, nil })
}

// removeConnection is called once by a connection reaching Closed.
func (s *Server) removeConnection(c *Connection) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	cur, ok := s.conns[c.remote]
	if !ok && s.draining {
		return
	}
	if !ok || cur != c {
		panic(fmt.Sprintf("manager: connection registry corrupt for %s", c.remote))
	}
	delete(s.conns, c.remote)
}

// Connection returns the connection for remote, if any.
func (s *Server) Connection(remote netid.ID) (*Connection, bool) {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	c, ok := s.conns[remote]
	return c, ok
}

// Connections returns a snapshot of the live connections ordered by remote.
func (s *Server) Connections() []*Connection {
	s.connMu.RLock()
	out := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	s.connMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].remote.String() < out[j].remote.String() })
	return out
}

// Len returns the number of live connections.
func (s *Server) Len() int {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return len(s.conns)
}

// SendTo sends p to remote. It returns false if there is no open
// connection or the packet was rejected.
func (s *Server) SendTo(remote netid.ID, p packet.Packet) bool {
	c, ok := s.Connection(remote)
	if !ok {
		return false
	}
	return c.Send(p)
}

// SendToAll sends p on every connection and returns how many accepted it.
func (s *Server) SendToAll(p packet.Packet) int {
	var n int
	for _, c := range s.Connections() {
		if c.Send(p) {
			n++
		}
	}
	return n
}

// Request sends req to remote and returns its pending call. Without an open
// connection the call is already finished with request.ErrNotSent.
func (s *Server) Request(remote netid.ID, req request.Request) *request.Call {
	return s.table.Send(remote, req, func(p packet.Packet) bool { return s.SendTo(remote, p) })
}
