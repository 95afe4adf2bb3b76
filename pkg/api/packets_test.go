package api

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sbnet/pkg/packet"
	"sbnet/pkg/protocol"
)

func overWire[T packet.Packet](t *testing.T, p packet.Packet) T {
	t.Helper()
	reg := Registry()
	f := protocol.LengthPrefixed{}
	b, err := f.Encode(reg, p)
	require.NoError(t, err)
	got, err := f.Decode(reg, b)
	require.NoError(t, err)
	out, ok := got.(T)
	require.True(t, ok, "decoded %T", got)
	return out
}

func TestRegistryIDs(t *testing.T) {
	reg := Registry()
	assert.Equal(t, len(Mappings()), reg.Len())
	m, ok := reg.FindByType(packet.TypeFor[*StatusReply]())
	require.True(t, ok)
	assert.Equal(t, IDStatusReply, m.ID)
}

func TestPingFixedSize(t *testing.T) {
	b, err := protocol.LengthPrefixed{}.Encode(Registry(), &Ping{Seq: 7, SentAt: 1700000000000})
	require.NoError(t, err)
	assert.Len(t, b, 4+4+12)

	got := overWire[*Ping](t, &Ping{Seq: 7, SentAt: 1700000000000})
	assert.Equal(t, uint32(7), got.Seq)
	assert.Equal(t, int64(1700000000000), got.SentAt)
}

func TestEchoCarriesMeta(t *testing.T) {
	req, err := NewEchoRequest("hi", map[string]string{"trace": "abc"})
	require.NoError(t, err)
	req.SetCorrelationID(uuid.New())
	assert.Equal(t, byte(protocol.EncodingCBOR), req.Meta[0])

	in := overWire[*EchoRequest](t, req)
	resp := overWire[*EchoResponse](t, in.Reply())
	assert.Equal(t, req.CorrelationID(), resp.CorrelationID())
	assert.Equal(t, "hi", resp.Text)

	meta, err := resp.Metadata()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"trace": "abc"}, meta)
}

func TestEchoWithoutMeta(t *testing.T) {
	req, err := NewEchoRequest("bare", nil)
	require.NoError(t, err)
	resp := overWire[*EchoResponse](t, req.Reply())
	meta, err := resp.Metadata()
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestStatusReplyStruct(t *testing.T) {
	req := &StatusRequest{}
	req.SetCorrelationID(uuid.New())
	reply, err := NewStatusReply(req, map[string]any{
		"label":       "core",
		"connections": 3,
		"running":     true,
	})
	require.NoError(t, err)
	assert.Equal(t, req.CorrelationID(), reply.CorrelationID())

	got := overWire[*StatusReply](t, reply)
	info, err := got.Info()
	require.NoError(t, err)
	assert.Equal(t, "core", info.Fields["label"].GetStringValue())
	assert.Equal(t, float64(3), info.Fields["connections"].GetNumberValue())
	assert.True(t, info.Fields["running"].GetBoolValue())
}

func TestStatusReplyRejectsBadBody(t *testing.T) {
	_, err := (&StatusReply{}).Info()
	assert.Error(t, err)

	_, err = NewStatusReply(&StatusRequest{}, map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}
