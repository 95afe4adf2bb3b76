// Command sbnet-genframe writes sample wire frames for fixtures and
// interoperability checks.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"sbnet/pkg/api"
	"sbnet/pkg/packet"
	"sbnet/pkg/protocol"
)

func main() {
	outDir := flag.String("out", "testdata/frame", "output directory for binary frames")
	maxFrame := flag.Int("max-frame", 0, "frame size cap, 0 uses the default")
	flag.Parse()
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatal(err)
	}

	reg := api.Registry()
	format := protocol.LengthPrefixed{MaxFrame: *maxFrame}
	frame := func(p packet.Packet) []byte {
		b, err := format.Encode(reg, p)
		if err != nil {
			log.Fatal(err)
		}
		return b
	}
	// a fixed correlation keeps the output reproducible
	corr := uuid.MustParse("5b1f0c6e-8a57-4c1e-9d0b-3f2a6e7c1d90")

	// 1) signals
	writeOut(*outDir, "frame_check_probe.bin", frame(protocol.CheckProbe{}))
	writeOut(*outDir, "frame_check_reply.bin", frame(protocol.CheckReply{}))

	// 2) fixed size packet
	writeOut(*outDir, "frame_ping.bin", frame(&api.Ping{Seq: 1, SentAt: 1700000000000}))

	// 3) request with a CBOR body
	echo, err := api.NewEchoRequest("hello", map[string]string{"trace": "genframe"})
	if err != nil {
		log.Fatal(err)
	}
	echo.SetCorrelationID(corr)
	writeOut(*outDir, "frame_echo_cbor.bin", frame(echo))

	// 4) response with a protobuf body
	status := &api.StatusRequest{}
	status.SetCorrelationID(corr)
	writeOut(*outDir, "frame_status_request.bin", frame(status))
	reply, err := api.NewStatusReply(status, map[string]any{"label": "genframe", "connections": 0})
	if err != nil {
		log.Fatal(err)
	}
	writeOut(*outDir, "frame_status_proto.bin", frame(reply))

	// 5) unmapped wire ID, decodes as protocol.Unknown
	writeOut(*outDir, "frame_unknown.bin", frame(&protocol.Unknown{ID: 9999, Body: []byte("opaque")}))

	// 6) two frames back to back
	writeOut(*outDir, "stream_ping_echo.bin", append(frame(&api.Ping{Seq: 2}), frame(echo)...))

	fmt.Println("Generated frames in", *outDir)
}

func writeOut(dir, name string, b []byte) {
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, b, 0o644); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%-28s %5d bytes  head: %s\n", name, len(b), shortHex(b, 32))
}

func shortHex(b []byte, n int) string {
	if len(b) == 0 {
		return ""
	}
	if n > len(b) {
		n = len(b)
	}
	enc := hex.EncodeToString(b[:n])
	if len(b) > n {
		enc += "..."
	}
	var out []string
	for i := 0; i < len(enc); i += 8 {
		out = append(out, enc[i:min(i+8, len(enc))])
	}
	return strings.Join(out, " ")
}
