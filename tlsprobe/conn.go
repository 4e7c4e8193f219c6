package tlsprobe

import "net"

// fragConn wraps a connected net.Conn and, on its very first Write —
// always the ClientHello flight crypto/tls emits at the start of a
// handshake — rewrites it into two fragmented TLS records when
// shouldFrag is set. Every later write (and every read) passes through
// untouched. crypto/tls has no public BIO-style hook for rewriting the
// handshake bytes it emits, but tls.Client accepts any net.Conn, so
// interception happens one layer below it instead of inside it.
type fragConn struct {
	net.Conn
	sni        []byte
	shouldFrag bool
	wroteFirst bool
}

func (c *fragConn) Write(p []byte) (int, error) {
	if !c.wroteFirst {
		c.wroteFirst = true
		if c.shouldFrag {
			frag, err := fragmentClientHello(p, c.sni)
			if err != nil {
				return 0, err
			}
			if _, err := c.Conn.Write(frag); err != nil {
				return 0, err
			}
			return len(p), nil
		}
	}
	return c.Conn.Write(p)
}
