package config

import (
	"fmt"
	"time"
)

// NetConfig contains connection and timing options.
type NetConfig struct {
	DialBackoffInitialMS int `mapstructure:"dial_backoff_initial_ms"`
	DialBackoffMaxMS     int `mapstructure:"dial_backoff_max_ms"`
	DialBackoffJitterMS  int `mapstructure:"dial_backoff_jitter_ms"`
	// DialAttempts caps client dial attempts; zero retries until cancelled.
	DialAttempts int `mapstructure:"dial_attempts"`

	HandshakeTimeoutMS int `mapstructure:"handshake_timeout_ms"`
	// CheckIntervalMS is how long a connection may stay quiet before it is
	// probed.
	CheckIntervalMS int `mapstructure:"check_interval_ms"`
	// CheckTimeoutMS is how long a probe may stay unanswered.
	CheckTimeoutMS   int `mapstructure:"check_timeout_ms"`
	RequestTimeoutMS int `mapstructure:"request_timeout_ms"`
	SweepIntervalMS  int `mapstructure:"sweep_interval_ms"`

	// SendQueueDepth bounds queued outbound packets per priority class.
	SendQueueDepth int `mapstructure:"send_queue_depth"`
	MaxFrameBytes  int `mapstructure:"max_frame_bytes"`
	// ShapeBytesPerSec limits outbound bytes per connection; zero disables.
	ShapeBytesPerSec int64 `mapstructure:"shape_bytes_per_sec"`

	// RequireSigned rejects hellos that are not signed.
	RequireSigned bool `mapstructure:"require_signed"`
}

// DefaultNet returns the default network options.
func DefaultNet() NetConfig {
	return NetConfig{
		DialBackoffInitialMS: 500,
		DialBackoffMaxMS:     30000,
		DialBackoffJitterMS:  100,
		HandshakeTimeoutMS:   5000,
		CheckIntervalMS:      15000,
		CheckTimeoutMS:       5000,
		RequestTimeoutMS:     30000,
		SweepIntervalMS:      1000,
		SendQueueDepth:       1024,
		MaxFrameBytes:        16 << 20,
	}
}

func (n *NetConfig) validate() error {
	if n.DialBackoffInitialMS <= 0 || n.DialBackoffMaxMS < n.DialBackoffInitialMS {
		return fmt.Errorf("invalid dial backoff: initial=%dms max=%dms", n.DialBackoffInitialMS, n.DialBackoffMaxMS)
	}
	if n.SweepIntervalMS <= 0 {
		return fmt.Errorf("invalid net.sweep_interval_ms: %d", n.SweepIntervalMS)
	}
	if n.MaxFrameBytes < 8 {
		return fmt.Errorf("invalid net.max_frame_bytes: %d", n.MaxFrameBytes)
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (n NetConfig) DialBackoffInitial() time.Duration { return ms(n.DialBackoffInitialMS) }
func (n NetConfig) DialBackoffMax() time.Duration     { return ms(n.DialBackoffMaxMS) }
func (n NetConfig) DialBackoffJitter() time.Duration  { return ms(n.DialBackoffJitterMS) }
func (n NetConfig) HandshakeTimeout() time.Duration   { return ms(n.HandshakeTimeoutMS) }
func (n NetConfig) CheckInterval() time.Duration      { return ms(n.CheckIntervalMS) }
func (n NetConfig) CheckTimeout() time.Duration       { return ms(n.CheckTimeoutMS) }
func (n NetConfig) RequestTimeout() time.Duration     { return ms(n.RequestTimeoutMS) }
func (n NetConfig) SweepInterval() time.Duration      { return ms(n.SweepIntervalMS) }
