package main

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"sbnet/pkg/api"
	"sbnet/pkg/manager"
	"sbnet/pkg/packet"
	"sbnet/pkg/peers"
)

// service answers the api requests on behalf of a node.
type service struct {
	label   string
	role    string
	started time.Time
	clock   clock.Clock
	peers   *peers.Store
	// conns reports the number of open connections.
	conns func() int
	log   *zap.Logger
}

func (s *service) handle(c *manager.Connection, p packet.Packet) {
	switch v := p.(type) {
	case *api.Ping:
		s.log.Debug("ping",
			zap.Stringer("remote", c.Remote()),
			zap.Uint32("seq", v.Seq),
			zap.Duration("age", s.clock.Since(time.UnixMilli(v.SentAt))))
	case *api.EchoRequest:
		c.Send(v.Reply())
	case *api.StatusRequest:
		reply, err := api.NewStatusReply(v, s.status(c))
		if err != nil {
			s.log.Warn("status reply", zap.Stringer("remote", c.Remote()), zap.Error(err))
			return
		}
		c.Send(reply)
	default:
		s.log.Debug("unhandled packet", zap.Stringer("remote", c.Remote()), zap.Stringer("type", packet.TypeOf(p)))
	}
}

func (s *service) status(c *manager.Connection) map[string]any {
	info := map[string]any{
		"label":     s.label,
		"role":      s.role,
		"uptime_ms": s.clock.Since(s.started).Milliseconds(),
		"transport": c.Transport().String(),
	}
	if s.conns != nil {
		info["connections"] = s.conns()
	}
	if s.peers != nil {
		if st, ok := s.peers.Get(c.Remote()); ok {
			info["you"] = map[string]any{
				"remote":      c.Remote().String(),
				"packets_in":  st.PacketsIn,
				"packets_out": st.PacketsOut,
			}
		}
	}
	return info
}
