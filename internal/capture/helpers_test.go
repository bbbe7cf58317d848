package capture

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

// memSource replays serialized packets.
type memSource struct {
	packets [][]byte
	times   []time.Time
	next    int
	closed  bool
}

func (s *memSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	if s.next >= len(s.packets) {
		return nil, gopacket.CaptureInfo{}, io.EOF
	}
	data := s.packets[s.next]
	ci := gopacket.CaptureInfo{
		Timestamp:     s.times[s.next],
		CaptureLength: len(data),
		Length:        len(data),
	}
	s.next++
	return data, ci, nil
}

func (s *memSource) LinkType() layers.LinkType { return layers.LinkTypeEthernet }
func (s *memSource) Name() string              { return "mem" }
func (s *memSource) Close()                    { s.closed = true }

// tcpSim writes the packets of one TCP connection into a memSource.
type tcpSim struct {
	t       *testing.T
	src     *memSource
	cliIP   net.IP
	srvIP   net.IP
	cliPort layers.TCPPort
	srvPort layers.TCPPort
	cliSeq  uint32
	srvSeq  uint32
	now     time.Time
}

func newTCPSim(t *testing.T, src *memSource, cliPort, srvPort uint16) *tcpSim {
	return &tcpSim{
		t:       t,
		src:     src,
		cliIP:   net.IPv4(10, 0, 0, 1),
		srvIP:   net.IPv4(10, 0, 0, 2),
		cliPort: layers.TCPPort(cliPort),
		srvPort: layers.TCPPort(srvPort),
		cliSeq:  1000,
		srvSeq:  5000,
		now:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func (s *tcpSim) packet(fromClient bool, flags func(*layers.TCP), payload []byte) {
	s.t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0xaa, 0xbb, 0xcc, 0xdd, 0xee},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    s.cliIP,
		DstIP:    s.srvIP,
	}
	tcp := &layers.TCP{
		SrcPort: s.cliPort,
		DstPort: s.srvPort,
		Seq:     s.cliSeq,
		Ack:     s.srvSeq,
		Window:  65535,
	}
	if !fromClient {
		ip.SrcIP, ip.DstIP = s.srvIP, s.cliIP
		tcp.SrcPort, tcp.DstPort = s.srvPort, s.cliPort
		tcp.Seq, tcp.Ack = s.srvSeq, s.cliSeq
	}
	flags(tcp)
	require.NoError(s.t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(s.t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)))

	s.src.packets = append(s.src.packets, append([]byte(nil), buf.Bytes()...))
	s.src.times = append(s.src.times, s.now)
	s.now = s.now.Add(time.Millisecond)

	advance := uint32(len(payload))
	if tcp.SYN || tcp.FIN {
		advance++
	}
	if fromClient {
		s.cliSeq += advance
	} else {
		s.srvSeq += advance
	}
}

// clientFragmented sends payload from the client as two IPv4 fragments
// split at byte at of the IP payload (a multiple of 8).
func (s *tcpSim) clientFragmented(payload string, at int) {
	s.t.Helper()
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: s.cliIP, DstIP: s.srvIP}
	tcp := &layers.TCP{SrcPort: s.cliPort, DstPort: s.srvPort, Seq: s.cliSeq, Ack: s.srvSeq, ACK: true, PSH: true, Window: 65535}
	require.NoError(s.t, tcp.SetNetworkLayerForChecksum(ip))

	segment := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(s.t, gopacket.SerializeLayers(segment, opts, tcp, gopacket.Payload(payload)))
	data := segment.Bytes()

	frags := []struct {
		part   []byte
		offset uint16
		more   bool
	}{
		{data[:at], 0, true},
		{data[at:], uint16(at / 8), false},
	}
	for _, f := range frags {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
			DstMAC:       net.HardwareAddr{0x00, 0xaa, 0xbb, 0xcc, 0xdd, 0xee},
			EthernetType: layers.EthernetTypeIPv4,
		}
		fragIP := *ip
		fragIP.Id = 77
		fragIP.FragOffset = f.offset
		if f.more {
			fragIP.Flags = layers.IPv4MoreFragments
		}
		buf := gopacket.NewSerializeBuffer()
		require.NoError(s.t, gopacket.SerializeLayers(buf, opts, eth, &fragIP, gopacket.Payload(f.part)))
		s.src.packets = append(s.src.packets, append([]byte(nil), buf.Bytes()...))
		s.src.times = append(s.src.times, s.now)
		s.now = s.now.Add(time.Millisecond)
	}
	s.cliSeq += uint32(len(payload))
}

func (s *tcpSim) handshake() {
	s.packet(true, func(t *layers.TCP) { t.SYN = true; t.Ack = 0 }, nil)
	s.packet(false, func(t *layers.TCP) { t.SYN = true; t.ACK = true }, nil)
	s.packet(true, func(t *layers.TCP) { t.ACK = true }, nil)
}

func (s *tcpSim) client(payload string) {
	s.packet(true, func(t *layers.TCP) { t.ACK = true; t.PSH = true }, []byte(payload))
}

func (s *tcpSim) server(payload string) {
	s.packet(false, func(t *layers.TCP) { t.ACK = true; t.PSH = true }, []byte(payload))
}

func (s *tcpSim) close() {
	s.packet(true, func(t *layers.TCP) { t.ACK = true; t.FIN = true }, nil)
	s.packet(false, func(t *layers.TCP) { t.ACK = true; t.FIN = true }, nil)
}

// h2Writer produces the frames of one HTTP/2 direction.
type h2Writer struct {
	t   *testing.T
	buf bytes.Buffer
	fr  *http2.Framer
	hb  bytes.Buffer
	enc *hpack.Encoder
}

func newH2Writer(t *testing.T, client bool) *h2Writer {
	w := &h2Writer{t: t}
	if client {
		w.buf.WriteString(http2.ClientPreface)
	}
	w.fr = http2.NewFramer(&w.buf, nil)
	w.enc = hpack.NewEncoder(&w.hb)
	require.NoError(t, w.fr.WriteSettings())
	return w
}

func (w *h2Writer) headers(stream uint32, endStream bool, fields ...string) {
	w.t.Helper()
	w.hb.Reset()
	for i := 0; i+1 < len(fields); i += 2 {
		require.NoError(w.t, w.enc.WriteField(hpack.HeaderField{Name: fields[i], Value: fields[i+1]}))
	}
	require.NoError(w.t, w.fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      stream,
		BlockFragment: w.hb.Bytes(),
		EndStream:     endStream,
		EndHeaders:    true,
	}))
}

func (w *h2Writer) pushPromise(stream, promised uint32, fields ...string) {
	w.t.Helper()
	w.hb.Reset()
	for i := 0; i+1 < len(fields); i += 2 {
		require.NoError(w.t, w.enc.WriteField(hpack.HeaderField{Name: fields[i], Value: fields[i+1]}))
	}
	require.NoError(w.t, w.fr.WritePushPromise(http2.PushPromiseParam{
		StreamID:      stream,
		PromiseID:     promised,
		BlockFragment: w.hb.Bytes(),
		EndHeaders:    true,
	}))
}

func (w *h2Writer) data(stream uint32, endStream bool, body string) {
	w.t.Helper()
	require.NoError(w.t, w.fr.WriteData(stream, endStream, []byte(body)))
}

func (w *h2Writer) reset(stream uint32) {
	w.t.Helper()
	require.NoError(w.t, w.fr.WriteRSTStream(stream, http2.ErrCodeCancel))
}

// take returns the bytes written since the last call.
func (w *h2Writer) take() string {
	s := w.buf.String()
	w.buf.Reset()
	return s
}

func summaries(c *Connection) []string {
	var out []string
	for _, e := range c.Conversation.Entries() {
		out = append(out, e.Chunk.Summary())
	}
	return out
}
