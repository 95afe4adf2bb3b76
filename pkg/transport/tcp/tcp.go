// Package tcp is the TCP byte transport.
package tcp

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"sbnet/pkg/transport"
)

// Transport dials and listens on TCP.
type Transport struct {
	// KeepAlive is passed to the dialer and listener; zero uses the OS default.
	KeepAlive time.Duration
}

func New() *Transport { return &Transport{} }

func (t *Transport) Kind() transport.Kind { return transport.KindTCP }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
	lc := net.ListenConfig{KeepAlive: t.KeepAlive}
	l, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	tl := &listener{l: l, newCh: make(chan net.Conn, 8), closeCh: make(chan struct{})}
	go tl.acceptLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = tl.Close()
		case <-tl.closeCh:
		}
	}()
	return tl, nil
}

func (t *Transport) Dial(ctx context.Context, address string) (transport.Conn, error) {
	d := &net.Dialer{KeepAlive: t.KeepAlive}
	c, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return c, nil
}

type listener struct {
	l       net.Listener
	newCh   chan net.Conn
	closeCh chan struct{}
	once    sync.Once
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, transport.ErrListenerClosed
	case c := <-l.newCh:
		return c, nil
	}
}

func (l *listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closeCh)
		err = l.l.Close()
		for {
			select {
			case c := <-l.newCh:
				_ = c.Close()
			default:
				return
			}
		}
	})
	return err
}

func (l *listener) acceptLoop() {
	for {
		c, err := l.l.Accept()
		if err != nil {
			select {
			case <-l.closeCh:
			default:
				zap.L().Warn("tcp accept failed", zap.String("addr", l.l.Addr().String()), zap.Error(err))
				_ = l.Close()
			}
			return
		}
		if tc, ok := c.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		select {
		case l.newCh <- c:
		case <-l.closeCh:
			_ = c.Close()
			return
		}
	}
}
