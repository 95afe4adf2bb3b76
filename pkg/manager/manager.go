// Package manager owns connections to remote identities.
//
// A Server accepts any number of connections, one per remote identity; a
// Client holds exactly one. Both dispatch inbound packets to the request
// table first and to the application Handler otherwise, and both run a
// periodic sweep that probes idle connections, closes unresponsive ones and
// expires old requests.
package manager

import (
	"time"

	"go.uber.org/zap"
)

// sweeper runs the periodic liveness and timeout pass.
type sweeper struct {
	stop chan struct{}
	done chan struct{}
}

// startSweep ticks every sweepInterval over the connections returned by
// conns. It returns nil when the sweep is disabled.
func (b *base) startSweep(conns func() []*Connection) *sweeper {
	if b.sweepInterval <= 0 {
		return nil
	}
	s := &sweeper{stop: make(chan struct{}), done: make(chan struct{})}
	t := b.clock.Ticker(b.sweepInterval)
	go func() {
		defer close(s.done)
		defer t.Stop()
		for {
			select {
			case <-s.stop:
				return
			case now := <-t.C:
				b.sweep(now, conns())
			}
		}
	}()
	return s
}

func (b *base) sweep(now time.Time, conns []*Connection) {
	for _, c := range conns {
		c.tick(now)
	}
	if n := b.table.ExpireOlder(b.requestTimeout); n > 0 {
		b.log.Debug("expired requests", zap.Int("count", n))
	}
}

// Stop ends the sweep and waits for a running pass to finish. It is safe on
// a nil sweeper.
func (s *sweeper) Stop() {
	if s == nil {
		return
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}
