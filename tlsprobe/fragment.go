package tlsprobe

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// fragmentClientHello splits the first outbound TLS record D (a
// ClientHello) into two records whose combined payload is identical
// to D's, but with the SNI bytes straddling the record boundary —
// defeating a middlebox that string-matches the SNI within a single
// TLS record.
//
// D must be one complete TLS record: a 3-byte header (content type +
// protocol version), a 2-byte length, and the ClientHello body. sni
// must occur exactly once in the body; fragmentation is undefined
// otherwise, so this validates and fails rather than silently
// mis-fragmenting.
func fragmentClientHello(d []byte, sni []byte) ([]byte, error) {
	if len(d) < 5 {
		return nil, fmt.Errorf("record too short to contain a header: %d bytes", len(d))
	}
	if d[0] != recordTypeHandshake {
		return nil, fmt.Errorf("first outbound record is not a handshake record (type %d)", d[0])
	}
	if len(sni) < 3 {
		return nil, fmt.Errorf("SNI too short to fragment across a record boundary")
	}

	header := d[0:3]
	body := d[5:]

	if bytes.Count(body, sni) != 1 {
		return nil, fmt.Errorf("SNI does not occur exactly once in the ClientHello body")
	}
	idx := bytes.Index(body, sni)

	pre := body[:idx]
	post := body[idx+len(sni):]

	f1 := append(append([]byte{}, pre...), sni[:3]...)
	f2 := append(append([]byte{}, sni[3:]...), post...)

	var out bytes.Buffer
	for _, frag := range [][]byte{f1, f2} {
		out.Write(header)
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(frag)))
		out.Write(lenBuf[:])
		out.Write(frag)
	}
	return out.Bytes(), nil
}

// recordTypeHandshake is the TLS record content-type for handshake
// messages (RFC 8446 §5.1), the only type a ClientHello's first
// outbound flight can be.
const recordTypeHandshake = 0x16
