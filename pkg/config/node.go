package config

import (
	"fmt"
	"strings"
)

const (
	RoleServer = "server"
	RoleClient = "client"
)

// NodeConfig describes the local endpoint.
// Example YAML:
//
//	node:
//	  label: edge-1
//	  role: client
//	  transport: quic
//	  connect: "10.0.0.2:7777"
//	  server_label: core
type NodeConfig struct {
	// Label names this endpoint in hellos and logs.
	Label string `mapstructure:"label"`
	// Role is server or client.
	Role string `mapstructure:"role"`
	// Transport is tcp, quic, winpipe or mem.
	Transport string `mapstructure:"transport"`
	// Bind is the listen address of a server.
	Bind string `mapstructure:"bind"`
	// Connect is the server address a client dials.
	Connect string `mapstructure:"connect"`
	// ServerLabel is the label a client expects from the server; empty
	// accepts any.
	ServerLabel string `mapstructure:"server_label"`
}

func (n *NodeConfig) validate() error {
	n.Role = strings.ToLower(strings.TrimSpace(n.Role))
	n.Transport = strings.ToLower(strings.TrimSpace(n.Transport))
	if strings.TrimSpace(n.Label) == "" {
		n.Label = "node-1"
	}
	switch n.Role {
	case RoleServer:
		if n.Transport != "mem" && n.Bind == "" {
			return fmt.Errorf("node.bind is required for role %q", n.Role)
		}
	case RoleClient:
		if n.Transport != "mem" && n.Connect == "" {
			return fmt.Errorf("node.connect is required for role %q", n.Role)
		}
	default:
		return fmt.Errorf("invalid node.role: %q", n.Role)
	}
	return nil
}
