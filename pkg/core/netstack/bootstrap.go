package netstack

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sbnet/pkg/config"
	"sbnet/pkg/manager"
	"sbnet/pkg/netid"
	"sbnet/pkg/packet"
	"sbnet/pkg/transport"
	"sbnet/pkg/transport/mem"
	tquic "sbnet/pkg/transport/quic"
	ttcp "sbnet/pkg/transport/tcp"
)

// ErrUnknownKind is returned for transport kinds this build cannot construct.
var ErrUnknownKind = errors.New("netstack: unknown transport kind")

// NewByKind constructs a byte Transport. KindMem is not a byte transport;
// use mem.Directory as the Network instead.
func NewByKind(kind transport.Kind) (transport.Transport, error) {
	switch kind {
	case transport.KindTCP:
		return ttcp.New(), nil
	case transport.KindQUIC:
		t, err := tquic.New()
		if err != nil {
			return nil, err
		}
		return t, nil
	case transport.KindWinPipe:
		return newWinPipeTransport()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

// Node is a server or a client assembled from configuration.
type Node struct {
	Local   netid.ID
	Network transport.Network
	Server  *manager.Server
	Client  *manager.Client
}

// Bootstrap builds the network and the manager described by cfg. Packets
// mapped in reg can be exchanged; key signs hellos on byte transports.
// opts are applied after the configured ones.
func Bootstrap(cfg config.Config, reg *packet.Registry, key ed25519.PrivateKey, opts ...manager.Option) (*Node, error) {
	kind, err := transport.ParseKind(cfg.Node.Transport)
	if err != nil {
		return nil, err
	}
	label := cfg.Node.Label

	var network transport.Network
	if kind == transport.KindMem {
		network = mem.NewDirectory(mem.WithQueueLimit(cfg.Net.SendQueueDepth))
	} else {
		tr, err := NewByKind(kind)
		if err != nil {
			return nil, err
		}
		network = New(tr, reg, WithKey(key), WithNet(cfg.Net))
	}

	base := []manager.Option{
		manager.WithNetwork(network),
		manager.WithRegistry(reg),
		manager.FromConfig(cfg.Net),
	}
	n := &Node{Network: network}

	switch cfg.Node.Role {
	case config.RoleServer:
		n.Local = netid.NewInternal(label)
		if kind != transport.KindMem {
			if n.Local, err = netid.NewBind(label, cfg.Node.Bind); err != nil {
				return nil, err
			}
		}
		n.Server = manager.NewServer(n.Local, append(base, opts...)...)
	case config.RoleClient:
		n.Local = netid.NewInternal(label)
		remote := netid.NewInternal(cfg.Node.ServerLabel)
		if kind != transport.KindMem {
			if remote, err = netid.NewConnect(cfg.Node.ServerLabel, cfg.Node.Connect); err != nil {
				return nil, err
			}
		}
		n.Client = manager.NewClient(n.Local, remote, append(base, opts...)...)
	default:
		return nil, fmt.Errorf("netstack: unknown role %q", cfg.Node.Role)
	}
	zap.L().Named("netstack").Info("bootstrapped",
		zap.String("role", cfg.Node.Role),
		zap.Stringer("transport", kind),
		zap.Stringer("local", n.Local))
	return n, nil
}

// Start starts the server or opens the client.
func (n *Node) Start(ctx context.Context) error {
	if n.Server != nil {
		return n.Server.Start(ctx)
	}
	return n.Client.Open(ctx)
}

// Stop stops the server or closes the client.
func (n *Node) Stop() error {
	if n.Server != nil {
		return n.Server.Stop()
	}
	return n.Client.Close()
}
