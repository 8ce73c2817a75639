package hub

import (
	"bufio"
	"crypto/tls"
	"net"
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// outboundDepth bounds the per-connection write queue. A peer that stops
// reading loses replies rather than stalling the event loop.
const outboundDepth = 64

// conn is one accepted connection. The hub event loop owns every field
// except nc and out, which the reader and writer goroutines use.
type conn struct {
	id     string
	nc     net.Conn
	remote netip.Addr
	out    chan string

	// host is the agent name once the connection has registered with the
	// server verb; empty for query clients.
	host string

	// lastPull is when the agent was last asked for samples. The zero value
	// forces a pull on the next tick.
	lastPull time.Time
}

// bufferedConn splices bytes peeked during protocol sniffing back into the
// stream.
type bufferedConn struct {
	r *bufio.Reader
	net.Conn
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

// serveConn sniffs the first byte for a TLS handshake, wraps the connection
// accordingly, and runs the reader loop, feeding lines to the hub event
// loop. It runs on its own goroutine per connection.
func (h *Hub) serveConn(nc net.Conn) {
	br := bufio.NewReader(nc)
	wrapped := net.Conn(&bufferedConn{r: br, Conn: nc})
	if first, err := br.Peek(1); err == nil && first[0] == 0x16 {
		wrapped = tls.Server(wrapped, h.tlsCfg)
	}

	var remote netip.Addr
	if tcp, ok := nc.RemoteAddr().(*net.TCPAddr); ok {
		remote = tcp.AddrPort().Addr()
	}
	c := &conn{
		id:     uuid.NewString(),
		nc:     wrapped,
		remote: remote,
		out:    make(chan string, outboundDepth),
	}
	go c.writeLoop()

	select {
	case h.events <- event{kind: evOpen, c: c}:
	case <-h.done:
		close(c.out)
		return
	}

	scanner := bufio.NewScanner(wrapped)
	for scanner.Scan() {
		select {
		case h.events <- event{kind: evLine, c: c, line: scanner.Text()}:
		case <-h.done:
			return
		}
	}
	select {
	case h.events <- event{kind: evClosed, c: c, err: scanner.Err()}:
	case <-h.done:
	}
}

// writeLoop drains the outbound queue onto the socket and closes it when the
// queue is closed by the event loop.
func (c *conn) writeLoop() {
	defer c.nc.Close()
	for chunk := range c.out {
		if _, err := c.nc.Write([]byte(chunk)); err != nil {
			// The reader will surface the failure; keep draining so the
			// event loop's close is never blocked.
			for range c.out {
			}
			return
		}
	}
}
