package sign

import (
	"encoding/base64"
	"strconv"
	"strings"
)

// HelloTranscript is the byte string a hello signature covers:
//
//	sbnet:hello|v=<version>|alg=<alg>|ts=<unix_ms>|pub=<b64url>|nonce=<b64url>|label=<label>
func HelloTranscript(version uint32, alg string, pub, nonce []byte, tsUnixMS int64, label string) []byte {
	b64 := base64.RawURLEncoding
	var sb strings.Builder
	sb.Grow(96 + len(label))
	sb.WriteString("sbnet:hello|v=")
	sb.WriteString(strconv.FormatUint(uint64(version), 10))
	sb.WriteString("|alg=")
	sb.WriteString(normalize(alg))
	sb.WriteString("|ts=")
	sb.WriteString(strconv.FormatInt(tsUnixMS, 10))
	sb.WriteString("|pub=")
	sb.WriteString(b64.EncodeToString(pub))
	sb.WriteString("|nonce=")
	sb.WriteString(b64.EncodeToString(nonce))
	sb.WriteString("|label=")
	sb.WriteString(label)
	return []byte(sb.String())
}
