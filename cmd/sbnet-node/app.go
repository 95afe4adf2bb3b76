package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"sbnet/pkg/api"
	"sbnet/pkg/config"
	netstack "sbnet/pkg/core/netstack"
	"sbnet/pkg/event"
	"sbnet/pkg/identity"
	"sbnet/pkg/manager"
	"sbnet/pkg/memkv"
	"sbnet/pkg/observability"
	"sbnet/pkg/peers"
	"sbnet/pkg/request"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("sbnet-node started", zap.String("app", cfg.AppName))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	key, err := identity.Load(cfg.Identity)
	if err != nil {
		zap.L().Error("failed to init identity", zap.Error(err))
		return 1
	}

	kv := memkv.New(memkv.Options{})
	defer kv.Close()
	ps := peers.NewStore(kv)

	bus := event.NewBus(logger.Named("event"))
	logEvents(bus, logger.Named("events"))

	clk := clock.New()
	svc := &service{
		label:   cfg.Node.Label,
		role:    cfg.Node.Role,
		started: clk.Now(),
		clock:   clk,
		peers:   ps,
		log:     logger.Named("service"),
	}

	node, err := netstack.Bootstrap(*cfg, api.Registry(), key,
		manager.WithBus(bus),
		manager.WithPeers(ps),
		manager.WithHandler(svc.handle),
		manager.WithClock(clk),
	)
	if err != nil {
		zap.L().Error("failed to bootstrap", zap.Error(err))
		return 1
	}
	if node.Server != nil {
		svc.conns = node.Server.Len
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := node.Start(ctx); err != nil {
		zap.L().Error("failed to start", zap.Error(err))
		return 1
	}
	zap.L().Info("node is running; press Ctrl+C to exit", zap.Stringer("local", node.Local))

	if node.Client != nil {
		go clientLoop(ctx, node.Client, clk, opts.PingEvery, logger.Named("client"))
	}

	<-ctx.Done()
	zap.L().Info("shutting down")
	if err := node.Stop(); err != nil {
		zap.L().Warn("stop", zap.Error(err))
	}
	return 0
}

// logEvents writes connection lifecycle events to log.
func logEvents(bus *event.Bus, log *zap.Logger) {
	event.On(bus, func(e *manager.CheckSucceeded) {
		log.Debug("check answered", zap.Stringer("remote", e.Remote), zap.Duration("rtt", e.RTT))
	})
	event.On(bus, func(e *manager.SendRejected) {
		log.Warn("send rejected", zap.Stringer("remote", e.Remote), zap.Stringer("type", e.Type), zap.Error(e.Err))
	})
	event.On(bus, func(e *manager.ReceiveRejected) {
		log.Warn("receive rejected", zap.Stringer("remote", e.Remote), zap.Stringer("type", e.Type), zap.Error(e.Err))
	})
	event.On(bus, func(e *manager.UnknownPacket) {
		log.Info("unknown packet", zap.Stringer("remote", e.Remote), zap.Int32("id", e.ID), zap.Int("size", e.Size))
	})
}

// clientLoop asks the server for its status once, then pings it until ctx
// ends or the connection closes.
func clientLoop(ctx context.Context, cli *manager.Client, clk clock.Clock, every time.Duration, log *zap.Logger) {
	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	reply, _, err := request.Await[*api.StatusReply](rctx, cli.Request(&api.StatusRequest{}))
	cancel()
	if err != nil {
		log.Warn("status request", zap.Error(err))
	} else if info, err := reply.Info(); err == nil {
		log.Info("server status", zap.Any("status", info.AsMap()))
	}

	if every <= 0 {
		return
	}
	t := clk.Ticker(every)
	defer t.Stop()
	var seq uint32
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			seq++
			if cli.Send(&api.Ping{Seq: seq, SentAt: now.UnixMilli()}) {
				continue
			}
			// a check in progress refuses sends too
			if conn := cli.Connection(); conn == nil || conn.State() == manager.StateClosed {
				log.Warn("connection closed; ping loop stopped")
				return
			}
			log.Debug("ping skipped", zap.Uint32("seq", seq))
		}
	}
}
