//go:build !windows

package netstack

import (
	"fmt"

	"sbnet/pkg/transport"
)

func newWinPipeTransport() (transport.Transport, error) {
	return nil, fmt.Errorf("%w: winpipe needs windows", ErrUnknownKind)
}
