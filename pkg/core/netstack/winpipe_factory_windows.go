//go:build windows

package netstack

import (
	"sbnet/pkg/transport"
	"sbnet/pkg/transport/winpipe"
)

func newWinPipeTransport() (transport.Transport, error) { return winpipe.New(), nil }
