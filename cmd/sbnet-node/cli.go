package main

import (
	"flag"
	"time"
)

// Options holds CLI options for the node.
type Options struct {
	ConfigPath string
	// PingEvery is how often a client node pings its server; zero disables.
	PingEvery time.Duration
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("sbnet-node", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.DurationVar(&opts.PingEvery, "ping", 10*time.Second, "client role: ping interval, 0 disables")
	_ = fs.Parse(args)
	return opts
}
