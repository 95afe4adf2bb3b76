package netstack

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sbnet/pkg/netid"
	"sbnet/pkg/transport"
)

// Dial connects to the CONNECT address of remote and runs the hello. Retries
// are up to the caller.
func (s *Stack) Dial(ctx context.Context, local, remote netid.ID) (transport.Link, error) {
	addr, err := remote.Connect()
	if err != nil {
		return nil, err
	}
	conn, err := s.tr.Dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("%s dial %s: %w", s.tr.Kind(), addr, err)
	}
	ack, err := s.helloClient(ctx, conn, local, remote)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("hello with %s: %w", addr, err)
	}
	s.log.Debug("dialed",
		zap.Stringer("kind", s.tr.Kind()),
		zap.String("addr", addr),
		zap.String("server", ack.Label))
	return s.link(conn), nil
}
