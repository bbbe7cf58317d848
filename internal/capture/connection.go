package capture

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/tcpassembly"

	"firestige.xyz/convo/internal/appinfo"
	"firestige.xyz/convo/internal/conversation"
	"firestige.xyz/convo/internal/core"
	"firestige.xyz/convo/internal/metrics"
)

// endpoint is one side of a TCP connection.
type endpoint struct {
	host gopacket.Endpoint
	port gopacket.Endpoint
}

func (ep endpoint) portNumber() uint16 {
	raw := ep.port.Raw()
	if len(raw) != 2 {
		return 0
	}
	return binary.BigEndian.Uint16(raw)
}

func (ep endpoint) String() string {
	return net.JoinHostPort(ep.host.String(), strconv.Itoa(int(ep.portNumber())))
}

// connKey identifies a connection regardless of packet direction.
type connKey struct {
	net       gopacket.Flow
	transport gopacket.Flow
}

func canonicalKey(netFlow, tcpFlow gopacket.Flow) connKey {
	src, dst := netFlow.Endpoints()
	if dst.LessThan(src) || (src == dst && tcpFlow.Dst().LessThan(tcpFlow.Src())) {
		return connKey{net: netFlow.Reverse(), transport: tcpFlow.Reverse()}
	}
	return connKey{net: netFlow, transport: tcpFlow}
}

// Connection is one TCP connection and the conversation built from it.
// Fields are set before the connection is announced and not changed after,
// except through Conversation, which carries its own locking.
type Connection struct {
	ID           string
	Index        int // 1-based order in which connections produced their first message
	Client       string
	Server       string
	Proto        Proto
	FirstSeen    time.Time
	App          appinfo.App
	HasApp       bool
	Conversation *conversation.Conversation

	engine      *Engine
	key         connKey
	client      endpoint
	clientKnown bool
	methods     []string
	parsers     map[side]messageParser
	halves      []*halfStream
	announced   bool
	retired     bool
}

// Header labels the connection for listings and page headers.
func (c *Connection) Header() string {
	h := fmt.Sprintf("#%d %s -> %s [%s]", c.Index, c.Client, c.Server, c.Proto)
	if c.HasApp {
		h += " " + c.App.Name
	}
	return h
}

func (c *Connection) setClient(ep endpoint) {
	c.client = ep
	c.clientKnown = true
}

func (c *Connection) sideOf(h *halfStream) side {
	if h.src == c.client {
		return sideClient
	}
	return sideServer
}

func (c *Connection) done() bool {
	if len(c.halves) == 0 {
		return false
	}
	for _, h := range c.halves {
		if !h.closed {
			return false
		}
	}
	return true
}

// decide fixes protocol and roles on the first bytes seen. A SYN decides
// roles before anything else, then the content, then the configured server
// ports, and finally whoever spoke first is taken as the client.
func (c *Connection) decide(h *halfStream, proto Proto, sender side) {
	if !c.clientKnown {
		switch {
		case sender == sideClient:
			c.setClient(h.src)
		case sender == sideServer:
			c.setClient(h.dst)
		case c.engine.isServerPort(h.dst.portNumber()):
			c.setClient(h.src)
		case c.engine.isServerPort(h.src.portNumber()):
			c.setClient(h.dst)
		default:
			c.setClient(h.src)
		}
	}
	if h.src == c.client {
		c.Client, c.Server = h.src.String(), h.dst.String()
	} else {
		c.Client, c.Server = h.dst.String(), h.src.String()
	}

	c.Proto = proto
	switch proto {
	case ProtoHTTP1:
		c.parsers = map[side]messageParser{
			sideClient: &h1Stream{h1Parser{fromClient: true, methods: &c.methods}},
			sideServer: &h1Stream{h1Parser{fromClient: false, methods: &c.methods}},
		}
	case ProtoHTTP2:
		client, server := newH2Pair()
		c.parsers = map[side]messageParser{sideClient: client, sideServer: server}
	default:
		c.parsers = map[side]messageParser{
			sideClient: &rawParser{fromClient: true},
			sideServer: &rawParser{fromClient: false},
		}
	}
}

// process parses whatever h has buffered and delivers complete messages.
func (c *Connection) process(h *halfStream, closed bool) {
	if c.Proto == ProtoUnknown {
		if len(h.buf) == 0 {
			return
		}
		proto, sender, decided := sniff(h.buf)
		if !decided && !closed {
			return
		}
		if !decided {
			proto = ProtoRaw
		}
		c.decide(h, proto, sender)
	}

	s := c.sideOf(h)
	p := c.parsers[s]
	for {
		chunks, n, err := p.parse(h.buf, h.seen, closed)
		h.consume(n)
		for _, chunk := range chunks {
			c.deliver(chunk)
		}
		if err == nil && len(h.buf) > c.engine.maxMessageSize {
			err = fmt.Errorf("buffered message exceeds %d bytes", c.engine.maxMessageSize)
		}
		if err == nil && closed && len(h.buf) > 0 {
			err = fmt.Errorf("connection closed with %d bytes of incomplete message", len(h.buf))
		}
		if err == nil {
			return
		}
		c.fallback(s, c.Proto.String(), err)
		p = c.parsers[s]
	}
}

// fallback switches one direction to raw delivery once its stream can no
// longer be parsed.
func (c *Connection) fallback(s side, stage string, err error) {
	if _, ok := c.parsers[s].(*rawParser); ok {
		return
	}
	metrics.CaptureDecodeErrorsTotal.WithLabelValues(stage).Inc()
	c.engine.logger.WithField("connection", c.ID).WithError(err).Warn("falling back to raw payloads")
	c.parsers[s] = &rawParser{fromClient: s == sideClient}
}

// gap marks lost bytes in h. Parsers keep state across messages, so the
// direction is delivered raw from here on.
func (c *Connection) gap(h *halfStream) {
	if c.Proto == ProtoUnknown {
		h.buf = h.buf[:0]
		return
	}
	s := c.sideOf(h)
	c.fallback(s, "gap", fmt.Errorf("missing bytes in stream"))
	c.process(h, false)
}

func (c *Connection) deliver(chunk core.Chunk) {
	if !c.announced {
		c.engine.announce(c)
	}
	metrics.MessagesTotal.WithLabelValues(c.Proto.String()).Inc()
	c.Conversation.Submit(chunk)
}

// halfStream is one direction of a connection as fed by the assembler.
// Reassembled runs on the capture goroutine, so parsing and delivery
// follow packet order.
type halfStream struct {
	conn     *Connection
	src      endpoint
	dst      endpoint
	buf      []byte
	seen     time.Time
	received int
	closed   bool
}

var _ tcpassembly.Stream = (*halfStream)(nil)

func (h *halfStream) Reassembled(rs []tcpassembly.Reassembly) {
	for _, r := range rs {
		if r.Skip != 0 && h.received > 0 {
			h.conn.gap(h)
		}
		if len(r.Bytes) == 0 {
			continue
		}
		h.received += len(r.Bytes)
		h.seen = r.Seen
		h.buf = append(h.buf, r.Bytes...)
		h.conn.process(h, false)
	}
}

func (h *halfStream) ReassemblyComplete() {
	h.closed = true
	h.conn.process(h, true)
	h.conn.engine.retire(h.conn)
}

func (h *halfStream) consume(n int) {
	if n <= 0 {
		return
	}
	h.buf = append(h.buf[:0], h.buf[n:]...)
}
