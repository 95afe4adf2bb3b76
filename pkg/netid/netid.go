// Package netid defines the endpoint identity used to address local and remote
// participants. An ID is an immutable comparable value and can be used as a map key.
package netid

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Capability is a bit set of the features an ID carries.
type Capability uint8

const (
	// Internal marks an in-process peer without a network address.
	Internal Capability = 1 << iota
	// BindAddr marks an ID carrying a local address to listen on.
	BindAddr
	// ConnectAddr marks an ID carrying a remote address to dial.
	ConnectAddr
	// Network is set whenever BindAddr or ConnectAddr is present.
	Network
)

func (c Capability) String() string {
	var parts []string
	if c&Internal != 0 {
		parts = append(parts, "internal")
	}
	if c&BindAddr != 0 {
		parts = append(parts, "bind")
	}
	if c&ConnectAddr != 0 {
		parts = append(parts, "connect")
	}
	if c&Network != 0 {
		parts = append(parts, "network")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ErrUnsupportedCapability is matched by UnsupportedCapabilityError.
var ErrUnsupportedCapability = errors.New("netid: unsupported capability")

// UnsupportedCapabilityError is returned by payload accessors when the ID
// lacks the requested capability.
type UnsupportedCapabilityError struct {
	ID   ID
	Want Capability
}

func (e *UnsupportedCapabilityError) Error() string {
	return fmt.Sprintf("netid: %s has no %s capability", e.ID, e.Want)
}

func (e *UnsupportedCapabilityError) Is(target error) bool { return target == ErrUnsupportedCapability }

// ID names a participant. The zero value is not a valid identity.
type ID struct {
	label   string
	caps    Capability
	bind    string
	connect string
}

// NewInternal returns an identity for an in-process peer.
func NewInternal(label string) ID {
	return ID{label: label, caps: Internal}
}

// NewBind returns an identity that listens on addr.
func NewBind(label, addr string) (ID, error) {
	if err := checkAddr(addr); err != nil {
		return ID{}, err
	}
	return ID{label: label, caps: BindAddr | Network, bind: addr}, nil
}

// NewConnect returns an identity that is reached by dialing addr.
func NewConnect(label, addr string) (ID, error) {
	if err := checkAddr(addr); err != nil {
		return ID{}, err
	}
	return ID{label: label, caps: ConnectAddr | Network, connect: addr}, nil
}

// NewBindConnect returns an identity carrying both a listen and a dial address.
func NewBindConnect(label, bind, connect string) (ID, error) {
	if err := checkAddr(bind); err != nil {
		return ID{}, err
	}
	if err := checkAddr(connect); err != nil {
		return ID{}, err
	}
	return ID{label: label, caps: BindAddr | ConnectAddr | Network, bind: bind, connect: connect}, nil
}

// MustConnect is NewConnect for static addresses; it panics on error.
func MustConnect(label, addr string) ID {
	id, err := NewConnect(label, addr)
	if err != nil {
		panic(err)
	}
	return id
}

// MustBind is NewBind for static addresses; it panics on error.
func MustBind(label, addr string) ID {
	id, err := NewBind(label, addr)
	if err != nil {
		panic(err)
	}
	return id
}

// checkAddr accepts host:port without resolving the host.
func checkAddr(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("netid: invalid address %q: %w", addr, err)
	}
	return nil
}

// Label returns the human readable name.
func (id ID) Label() string { return id.label }

// Capabilities returns the capability set.
func (id ID) Capabilities() Capability { return id.caps }

// Has reports whether every capability in c is present.
func (id ID) Has(c Capability) bool { return c != 0 && id.caps&c == c }

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool { return id == ID{} }

// Bind returns the listen address.
func (id ID) Bind() (string, error) {
	if !id.Has(BindAddr) {
		return "", &UnsupportedCapabilityError{ID: id, Want: BindAddr}
	}
	return id.bind, nil
}

// Connect returns the dial address.
func (id ID) Connect() (string, error) {
	if !id.Has(ConnectAddr) {
		return "", &UnsupportedCapabilityError{ID: id, Want: ConnectAddr}
	}
	return id.connect, nil
}

// WithLabel returns a copy of id carrying a new label.
func (id ID) WithLabel(label string) ID {
	id.label = label
	return id
}

func (id ID) String() string {
	var sb strings.Builder
	sb.WriteString(id.label)
	sb.WriteByte('[')
	sb.WriteString(id.caps.String())
	if id.bind != "" {
		sb.WriteString(" bind=")
		sb.WriteString(id.bind)
	}
	if id.connect != "" {
		sb.WriteString(" connect=")
		sb.WriteString(id.connect)
	}
	sb.WriteByte(']')
	return sb.String()
}
