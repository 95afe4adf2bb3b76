package netstack

import (
	"context"

	"sbnet/pkg/handshake"
	"sbnet/pkg/netid"
	"sbnet/pkg/transport"
)

// helloClient runs the client side of the hello on a fresh stream. A
// non-empty remote label must match the server's.
func (s *Stack) helloClient(ctx context.Context, conn transport.Conn, local, remote netid.ID) (handshake.HelloAck, error) {
	ctx, cancel := s.handshakeContext(ctx)
	defer cancel()
	return handshake.Client(ctx, conn, handshake.Options{
		Label:       local.Label(),
		Key:         s.key,
		ExpectLabel: remote.Label(),
		Clock:       s.clock,
	})
}

// helloServer verifies a client's hello and answers with the local label.
func (s *Stack) helloServer(ctx context.Context, conn transport.Conn, local netid.ID) (handshake.Hello, error) {
	ctx, cancel := s.handshakeContext(ctx)
	defer cancel()
	return handshake.Server(ctx, conn, handshake.Options{
		Label:         local.Label(),
		RequireSigned: s.net.RequireSigned,
		Clock:         s.clock,
	})
}

func (s *Stack) handshakeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := s.net.HandshakeTimeout(); d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
