// Package transport defines how connections reach remote endpoints.
//
// Two layers meet here:
//   - Transport, Listener and Conn move bytes (tcp, quic, winpipe).
//   - Link moves packets for one connection. Byte transports are turned into
//     links by package stream; package mem provides links that hand packets
//     over by reference.
//
// A Network produces links for identities and is what managers consume.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"sbnet/pkg/netid"
	"sbnet/pkg/packet"
)

// Kind identifies a transport implementation.
type Kind int

const (
	KindUnknown Kind = iota
	KindTCP
	KindQUIC
	KindMem
	KindWinPipe
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindQUIC:
		return "quic"
	case KindMem:
		return "mem"
	case KindWinPipe:
		return "winpipe"
	default:
		return "unknown"
	}
}

// ParseKind accepts the names used in configuration.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tcp":
		return KindTCP, nil
	case "quic":
		return KindQUIC, nil
	case "mem", "inproc":
		return KindMem, nil
	case "winpipe", "pipe":
		return KindWinPipe, nil
	default:
		return KindUnknown, fmt.Errorf("transport: unknown kind %q", s)
	}
}

var (
	// ErrQueueFull rejects a send because the link's outbound queue is at its limit.
	ErrQueueFull = errors.New("transport: send queue full")
	// ErrLinkClosed rejects a send on a closed link.
	ErrLinkClosed = errors.New("transport: link closed")
	// ErrListenerClosed is returned by Accept after Close.
	ErrListenerClosed = errors.New("transport: listener closed")
	// ErrNoRoute means no endpoint serves the requested identity.
	ErrNoRoute = errors.New("transport: no route to endpoint")
)

// Conn is an established byte stream.
type Conn interface {
	io.ReadWriteCloser
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Listener accepts inbound byte streams.
type Listener interface {
	// Accept blocks until a stream arrives, ctx ends or the listener closes.
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

// Transport dials and listens for one Kind of byte stream.
type Transport interface {
	Kind() Kind
	Listen(ctx context.Context, address string) (Listener, error)
	Dial(ctx context.Context, address string) (Conn, error)
}

// Receiver is the inbound side of a Link, implemented by a connection.
type Receiver interface {
	// Receive delivers one decoded packet.
	Receive(p packet.Packet)
	// Reject reports an inbound frame that could not be decoded. The link
	// keeps running.
	Reject(err error)
	// LinkFailed reports that the link stopped on its own. io.EOF means the
	// remote side closed it. It is called at most once and never after Close.
	LinkFailed(err error)
}

// Link carries packets for one connection.
type Link interface {
	Kind() Kind
	// Start begins delivering inbound packets to r. It is called once.
	Start(r Receiver)
	// Send queues p without blocking.
	Send(p packet.Packet) error
	// Close stops the link. It is idempotent.
	Close() error
	// RemoteAddr describes the other end for logs.
	RemoteAddr() string
}

// AcceptFunc takes ownership of an inbound link from remote. Returning an
// error makes the caller close the link.
type AcceptFunc func(remote netid.ID, l Link) error

// Network produces links between identities.
type Network interface {
	// Dial opens a link from local to remote.
	Dial(ctx context.Context, local, remote netid.ID) (Link, error)
	// Serve makes local reachable until the returned stop function is called
	// or ctx ends.
	Serve(ctx context.Context, local netid.ID, accept AcceptFunc) (stop func() error, err error)
}
