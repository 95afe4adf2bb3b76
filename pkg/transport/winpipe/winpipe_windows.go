//go:build windows

// Package winpipe is a byte transport over Windows named pipes.
package winpipe

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/Microsoft/go-winio"
	"go.uber.org/zap"

	"sbnet/pkg/transport"
)

// PipeName maps a host:port endpoint address to the pipe that serves it.
func PipeName(address string) string {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return `\\.\pipe\sbnet-` + address
	}
	if host == "" {
		host = "local"
	}
	host = strings.NewReplacer(":", "_", "[", "", "]", "").Replace(host)
	return `\\.\pipe\sbnet-` + host + "-" + port
}

type Transport struct{}

func New() *Transport { return &Transport{} }

func (t *Transport) Kind() transport.Kind { return transport.KindWinPipe }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
	l, err := winio.ListenPipe(PipeName(address), nil)
	if err != nil {
		return nil, err
	}
	wl := &listener{l: l, newCh: make(chan net.Conn, 8), closeCh: make(chan struct{})}
	go wl.acceptLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = wl.Close()
		case <-wl.closeCh:
		}
	}()
	return wl, nil
}

func (t *Transport) Dial(ctx context.Context, address string) (transport.Conn, error) {
	return winio.DialPipeContext(ctx, PipeName(address))
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
				zap.L().Warn("winpipe accept failed", zap.Error(err))
			}
			return
		}
		select {
		case l.newCh <- c:
		case <-l.closeCh:
			_ = c.Close()
			return
		}
	}
}
