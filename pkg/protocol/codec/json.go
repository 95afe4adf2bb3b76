package codec

import (
	"bytes"
	"encoding/json"
)

type jsonCodec struct{}

// JSON returns a JSON codec. Unmarshal keeps numbers as json.Number so
// integers survive a round trip through untyped maps.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) ContentType() string           { return "application/json" }
func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error {
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	return d.Decode(v)
}
