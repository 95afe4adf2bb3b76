// Package request correlates request packets with their responses.
//
// A Table holds one pending Call per correlation ID. A response completes a
// Call only if it comes from the identity the request was sent to and has
// the response type the request declared.
package request

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"sbnet/pkg/bytecodec"
	"sbnet/pkg/packet"
)

var (
	// ErrCancelled completes calls that were cancelled or whose connection went away.
	ErrCancelled = errors.New("request: cancelled")
	// ErrTimeout completes calls that outlived the request timeout.
	ErrTimeout = errors.New("request: timed out")
	// ErrNotSent completes calls whose request could not be handed to the connection.
	ErrNotSent = fmt.Errorf("%w: request not sent", ErrCancelled)

	// ErrSenderMismatch rejects a response from an identity other than the request target.
	ErrSenderMismatch = errors.New("request: response from unexpected sender")
	// ErrTypeMismatch rejects a response of a type the request did not declare.
	ErrTypeMismatch = errors.New("request: unexpected response type")
)

// Request is a packet that expects exactly one Response.
type Request interface {
	packet.Packet
	CorrelationID() uuid.UUID
	SetCorrelationID(uuid.UUID)
	// ResponseType names the packet type that answers this request.
	ResponseType() packet.Type
}

// Response is a packet answering a Request with the same correlation ID.
type Response interface {
	packet.Packet
	CorrelationID() uuid.UUID
}

// ID is embedded by request and response packets to carry the correlation ID.
type ID struct {
	Correlation uuid.UUID
}

func (i *ID) CorrelationID() uuid.UUID      { return i.Correlation }
func (i *ID) SetCorrelationID(id uuid.UUID) { i.Correlation = id }

// EncodeID writes the correlation ID. Packets call it first in Encode.
func (i *ID) EncodeID(w *bytecodec.Writer) { w.WriteUUID(i.Correlation) }

// DecodeID reads the correlation ID written by EncodeID.
func (i *ID) DecodeID(r *bytecodec.Reader) { i.Correlation = r.ReadUUID() }

// IDSize is the encoded size of an ID.
const IDSize = 16

// Reply prepares resp to answer req.
func Reply[R Response](req Request, resp R) R {
	if s, ok := any(resp).(interface{ SetCorrelationID(uuid.UUID) }); ok {
		s.SetCorrelationID(req.CorrelationID())
	}
	return resp
}

// DuplicateCorrelationError is the panic value when a request reuses the
// correlation ID of a call that is still pending.
type DuplicateCorrelationError struct {
	ID uuid.UUID
}

func (e *DuplicateCorrelationError) Error() string {
	return fmt.Sprintf("request: correlation id %s is already pending", e.ID)
}

// Await waits for c and returns its response as T.
func Await[T packet.Packet](ctx context.Context, c *Call) (T, any, error) {
	var zero T
	p, cx, err := c.Wait(ctx)
	if err != nil {
		return zero, cx, err
	}
	v, ok := p.(T)
	if !ok {
		return zero, cx, fmt.Errorf("%w: got %s, want %s", ErrTypeMismatch, packet.TypeOf(p), packet.TypeFor[T]())
	}
	return v, cx, nil
}
