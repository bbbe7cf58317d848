// Package capture turns captured TCP traffic into per-connection
// conversations: packets are decoded with gopacket, reassembled per
// direction, cut into HTTP/1 or HTTP/2 messages and submitted in packet
// order.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/ip4defrag"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/tcpassembly"
	"github.com/google/uuid"

	"firestige.xyz/convo/internal/appinfo"
	"firestige.xyz/convo/internal/conversation"
	"firestige.xyz/convo/internal/core"
	"firestige.xyz/convo/internal/log"
	"firestige.xyz/convo/internal/metrics"
)

const (
	// DefaultMaxMessageSize caps how much of one direction is buffered while
	// waiting for a message to complete.
	DefaultMaxMessageSize = 16 << 20
	// DefaultFlushInterval is how long out-of-order data waits for the
	// missing segment, measured in capture time.
	DefaultFlushInterval = 2 * time.Minute
)

// Option configures an Engine.
type Option func(*Engine)

// WithServerPorts marks ports whose side is the server when neither a SYN
// nor the payload tells.
func WithServerPorts(ports ...uint16) Option {
	return func(e *Engine) {
		for _, p := range ports {
			e.serverPorts[p] = struct{}{}
		}
	}
}

func WithMaxMessageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxMessageSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.flushInterval = d
		}
	}
}

// WithPrintable sets the display mode of new conversations.
func WithPrintable(printable bool) Option {
	return func(e *Engine) { e.printable = printable }
}

// WithListenerFactory attaches a listener to each new conversation.
func WithListenerFactory(f func(*Connection) conversation.Listener) Option {
	return func(e *Engine) { e.listenerFor = f }
}

// OnConnection is called when a connection delivers its first message,
// before that message is submitted.
func OnConnection(f func(*Connection)) Option {
	return func(e *Engine) { e.onConnection = f }
}

// WithApp labels every connection with app.
func WithApp(app appinfo.App) Option {
	return func(e *Engine) { e.app = &app }
}

// Engine owns the TCP assembler and the registry of connections.
type Engine struct {
	assembler *tcpassembly.Assembler
	defrag    *ip4defrag.IPv4Defragmenter
	logger    log.Logger

	serverPorts    map[uint16]struct{}
	maxMessageSize int
	flushInterval  time.Duration
	printable      bool
	listenerFor    func(*Connection) conversation.Listener
	onConnection   func(*Connection)
	app            *appinfo.App

	// capture goroutine only
	conns     map[connKey]*Connection
	lastFlush time.Time

	mu        sync.RWMutex
	announced []*Connection
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger:         log.GetLogger().WithField("component", "capture"),
		serverPorts:    make(map[uint16]struct{}),
		maxMessageSize: DefaultMaxMessageSize,
		flushInterval:  DefaultFlushInterval,
		printable:      true,
		conns:          make(map[connKey]*Connection),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.assembler = tcpassembly.NewAssembler(tcpassembly.NewStreamPool(e))
	e.defrag = ip4defrag.NewIPv4Defragmenter()
	return e
}

// Run reads src until it is exhausted or ctx is done, then flushes every
// open stream so trailing messages are delivered.
func (e *Engine) Run(ctx context.Context, src Source) error {
	defer e.FlushAll()

	label := src.Name()
	lt := src.LinkType()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, ci, err := src.ReadPacketData()
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, ErrReadTimeout):
			e.assembler.FlushOlderThan(time.Now().Add(-e.flushInterval))
			continue
		case err != nil:
			return fmt.Errorf("failed to read from %s: %w", label, err)
		}

		metrics.CapturePacketsTotal.WithLabelValues(label).Inc()
		pkt := gopacket.NewPacket(data, lt, gopacket.Default)
		pkt.Metadata().CaptureInfo = ci
		e.HandlePacket(pkt)
	}
}

// HandlePacket feeds one decoded packet to the assembler. Non-TCP packets
// are ignored.
func (e *Engine) HandlePacket(pkt gopacket.Packet) {
	if errLayer := pkt.ErrorLayer(); errLayer != nil {
		metrics.CaptureDecodeErrorsTotal.WithLabelValues("decode").Inc()
		e.logger.WithError(errLayer.Error()).Debug("packet decoded with errors")
	}
	ts := pkt.Metadata().Timestamp
	if !e.defragment(pkt, ts) {
		return
	}

	netLayer := pkt.NetworkLayer()
	tcp, ok := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if netLayer == nil || !ok {
		return
	}

	netFlow := netLayer.NetworkFlow()
	e.track(netFlow, tcp, ts)
	e.assembler.AssembleWithTimestamp(netFlow, tcp, ts)
	e.maybeFlush(ts)
}

// defragment feeds IPv4 fragments to the defragmenter. When the last one
// arrives the whole datagram is decoded into pkt. It returns false while
// pkt holds an incomplete datagram.
func (e *Engine) defragment(pkt gopacket.Packet, ts time.Time) bool {
	ip4, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok || (ip4.Flags&layers.IPv4MoreFragments == 0 && ip4.FragOffset == 0) {
		return true
	}
	whole, err := e.defrag.DefragIPv4WithTimestamp(ip4, ts)
	if err != nil {
		metrics.CaptureDecodeErrorsTotal.WithLabelValues("defrag").Inc()
		e.logger.WithError(err).Debug("dropping IPv4 fragment")
		return false
	}
	if whole == nil {
		return false
	}
	pb, ok := pkt.(gopacket.PacketBuilder)
	if !ok {
		return false
	}
	if err := whole.NextLayerType().Decode(whole.Payload, pb); err != nil {
		metrics.CaptureDecodeErrorsTotal.WithLabelValues("defrag").Inc()
		return false
	}
	return true
}

// FlushAll closes every stream, delivering what can still be parsed.
func (e *Engine) FlushAll() {
	e.assembler.FlushAll()
}

// Connections returns announced connections in announcement order.
func (e *Engine) Connections() []*Connection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Connection, len(e.announced))
	copy(out, e.announced)
	return out
}

// Connection returns the connection with the given 1-based index.
func (e *Engine) Connection(index int) (*Connection, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if index < 1 || index > len(e.announced) {
		return nil, fmt.Errorf("connection %d of %d: %w", index, len(e.announced), core.ErrIndexOutOfRange)
	}
	return e.announced[index-1], nil
}

// New implements tcpassembly.StreamFactory.
func (e *Engine) New(netFlow, tcpFlow gopacket.Flow) tcpassembly.Stream {
	key := canonicalKey(netFlow, tcpFlow)
	c, ok := e.conns[key]
	if !ok {
		c = e.newConnection(key)
	}
	h := &halfStream{
		conn: c,
		src:  endpoint{host: netFlow.Src(), port: tcpFlow.Src()},
		dst:  endpoint{host: netFlow.Dst(), port: tcpFlow.Dst()},
	}
	c.halves = append(c.halves, h)
	return h
}

func (e *Engine) track(netFlow gopacket.Flow, tcp *layers.TCP, ts time.Time) {
	key := canonicalKey(netFlow, tcp.TransportFlow())
	c, ok := e.conns[key]
	syn := tcp.SYN && !tcp.ACK
	if !ok || (syn && c.done()) {
		c = e.newConnection(key)
	}
	if c.FirstSeen.IsZero() {
		c.FirstSeen = ts
	}
	if syn {
		c.setClient(endpoint{host: netFlow.Src(), port: tcp.TransportFlow().Src()})
	}
}

func (e *Engine) newConnection(key connKey) *Connection {
	c := &Connection{
		ID:     uuid.New().String(),
		engine: e,
		key:    key,
	}
	if e.app != nil {
		c.App, c.HasApp = *e.app, true
	}
	e.conns[key] = c
	metrics.ActiveConnections.Inc()
	return c
}

// announce registers c once it has a message to show.
func (e *Engine) announce(c *Connection) {
	opts := []conversation.Option{
		conversation.WithPrintable(e.printable),
		conversation.WithName(c.ID),
	}

	e.mu.Lock()
	c.Index = len(e.announced) + 1
	if e.listenerFor != nil {
		opts = append(opts, conversation.WithListener(e.listenerFor(c)))
	}
	c.Conversation = conversation.New(opts...)
	c.announced = true
	e.announced = append(e.announced, c)
	e.mu.Unlock()

	e.logger.WithFields(map[string]interface{}{
		"connection": c.ID,
		"proto":      c.Proto.String(),
	}).Debugf("new conversation %s", c.Header())
	if e.onConnection != nil {
		e.onConnection(c)
	}
}

func (e *Engine) retire(c *Connection) {
	if c.retired || !c.done() {
		return
	}
	c.retired = true
	if e.conns[c.key] == c {
		delete(e.conns, c.key)
	}
	metrics.ActiveConnections.Dec()
}

func (e *Engine) isServerPort(port uint16) bool {
	_, ok := e.serverPorts[port]
	return ok
}

func (e *Engine) maybeFlush(ts time.Time) {
	if e.lastFlush.IsZero() {
		e.lastFlush = ts
		return
	}
	if ts.Sub(e.lastFlush) < e.flushInterval {
		return
	}
	e.assembler.FlushOlderThan(ts.Add(-e.flushInterval))
	e.defrag.DiscardOlderThan(ts.Add(-e.flushInterval))
	e.lastFlush = ts
}
