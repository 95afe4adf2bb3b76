package netstack

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"sbnet/pkg/netid"
	"sbnet/pkg/transport"
)

// Serve listens on the BIND address of local. Every accepted stream that
// passes the hello is handed to accept as coming from
// netid.NewConnect(helloLabel, remoteAddr). stop closes the listener and
// waits for hellos in progress.
func (s *Stack) Serve(ctx context.Context, local netid.ID, accept transport.AcceptFunc) (func() error, error) {
	addr, err := local.Bind()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	l, err := s.tr.Listen(ctx, addr)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s listen %s: %w", s.tr.Kind(), addr, err)
	}
	s.mu.Lock()
	s.addrs[local] = l.Addr()
	s.mu.Unlock()
	s.log.Info("listening", zap.Stringer("kind", s.tr.Kind()), zap.Stringer("addr", l.Addr()))

	var (
		errMu   sync.Mutex
		loopErr error
		pending sync.WaitGroup
		done    = make(chan struct{})
	)
	go func() {
		defer close(done)
		err := s.acceptLoop(ctx, l, &pending, local, accept)
		errMu.Lock()
		loopErr = err
		errMu.Unlock()
	}()

	var once sync.Once
	var stopErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			stopErr = l.Close()
			<-done
			pending.Wait()
			s.mu.Lock()
			delete(s.addrs, local)
			s.mu.Unlock()
			errMu.Lock()
			stopErr = multierr.Append(stopErr, loopErr)
			errMu.Unlock()
		})
		return stopErr
	}
	return stop, nil
}

// acceptLoop runs until the listener fails or ctx ends. Only failures not
// caused by stopping are returned.
func (s *Stack) acceptLoop(ctx context.Context, l transport.Listener, pending *sync.WaitGroup, local netid.ID, accept transport.AcceptFunc) error {
	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrListenerClosed) {
				return nil
			}
			s.log.Warn("accept failed", zap.Stringer("addr", l.Addr()), zap.Error(err))
			return err
		}
		pending.Add(1)
		go func() {
			defer pending.Done()
			s.admit(ctx, conn, local, accept)
		}()
	}
}

// admit runs the hello on conn and hands the resulting link over.
func (s *Stack) admit(ctx context.Context, conn transport.Conn, local netid.ID, accept transport.AcceptFunc) {
	raddr := conn.RemoteAddr().String()
	hello, err := s.helloServer(ctx, conn, local)
	if err != nil {
		_ = conn.Close()
		s.log.Warn("hello refused", zap.String("raddr", raddr), zap.Error(err))
		return
	}
	remote, err := netid.NewConnect(hello.Label, raddr)
	if err != nil {
		_ = conn.Close()
		s.log.Warn("bad remote identity", zap.String("raddr", raddr), zap.String("label", hello.Label), zap.Error(err))
		return
	}
	link := s.link(conn)
	if err := accept(remote, link); err != nil {
		_ = link.Close()
		s.log.Info("inbound link refused", zap.Stringer("remote", remote), zap.Error(err))
		return
	}
	s.log.Debug("inbound link",
		zap.Stringer("remote", remote),
		zap.Bool("signed", hello.Signed()))
}
