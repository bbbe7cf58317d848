package capture

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"firestige.xyz/convo/internal/core"
)

const (
	h2FrameHeaderLen   = 9
	h2MaxFrameSize     = 1<<24 - 1
	h2DefaultTableSize = 4096
	h2ProtoLabel       = "HTTP/2"
)

// h2Message collects one direction of one stream until END_STREAM.
type h2Message struct {
	headers  []hpack.HeaderField
	trailers []hpack.HeaderField
	body     bytes.Buffer
}

// h2Parser decodes one direction of an HTTP/2 connection. Each direction
// owns the HPACK decoder for the header blocks it carries; SETTINGS sent in
// one direction resize the decoder of the other.
type h2Parser struct {
	fromClient  bool
	prefaceDone bool
	dec         *hpack.Decoder
	peer        *h2Parser
	streams     map[uint32]*h2Message

	// header block in progress (HEADERS or PUSH_PROMISE followed by
	// CONTINUATION)
	block          []byte
	blockStream    uint32
	blockEndStream bool
	blockPush      bool
}

// newH2Pair builds the client and server parsers of one connection.
func newH2Pair() (client, server *h2Parser) {
	client = &h2Parser{
		fromClient: true,
		dec:        hpack.NewDecoder(h2DefaultTableSize, nil),
		streams:    make(map[uint32]*h2Message),
	}
	server = &h2Parser{
		prefaceDone: true,
		dec:         hpack.NewDecoder(h2DefaultTableSize, nil),
		streams:     make(map[uint32]*h2Message),
	}
	client.peer, server.peer = server, client
	return client, server
}

func (p *h2Parser) parse(buf []byte, seen time.Time, _ bool) ([]core.Chunk, int, error) {
	var chunks []core.Chunk
	off := 0

	if !p.prefaceDone {
		if len(buf) < len(http2.ClientPreface) {
			return nil, 0, nil
		}
		if !bytes.HasPrefix(buf, []byte(http2.ClientPreface)) {
			return nil, 0, fmt.Errorf("missing HTTP/2 client preface")
		}
		p.prefaceDone = true
		off = len(http2.ClientPreface)
	}

	for len(buf)-off >= h2FrameHeaderLen {
		rest := buf[off:]
		length := int(rest[0])<<16 | int(rest[1])<<8 | int(rest[2])
		if len(rest) < h2FrameHeaderLen+length {
			break
		}
		frameLen := h2FrameHeaderLen + length

		// A fresh framer per frame: the bytes are already framed and
		// ordering across frames is tracked here, not by the framer.
		fr := http2.NewFramer(nil, bytes.NewReader(rest[:frameLen]))
		fr.AllowIllegalReads = true
		fr.SetMaxReadFrameSize(h2MaxFrameSize)
		f, err := fr.ReadFrame()
		if err != nil {
			return chunks, off, fmt.Errorf("failed to read HTTP/2 frame: %w", err)
		}
		off += frameLen

		c, err := p.handle(f, seen)
		if err != nil {
			return chunks, off, err
		}
		chunks = append(chunks, c...)
	}
	return chunks, off, nil
}

func (p *h2Parser) handle(f http2.Frame, seen time.Time) ([]core.Chunk, error) {
	switch f := f.(type) {
	case *http2.HeadersFrame:
		p.block = append(p.block[:0], f.HeaderBlockFragment()...)
		p.blockStream = f.StreamID
		p.blockEndStream = f.StreamEnded()
		p.blockPush = false
		if f.HeadersEnded() {
			return p.finishHeaders(seen)
		}
	case *http2.PushPromiseFrame:
		p.block = append(p.block[:0], f.HeaderBlockFragment()...)
		p.blockStream = f.StreamID
		p.blockEndStream = false
		p.blockPush = true
		if f.HeadersEnded() {
			return p.finishHeaders(seen)
		}
	case *http2.ContinuationFrame:
		if f.StreamID != p.blockStream {
			return nil, fmt.Errorf("CONTINUATION for stream %d while stream %d is open", f.StreamID, p.blockStream)
		}
		p.block = append(p.block, f.HeaderBlockFragment()...)
		if f.HeadersEnded() {
			return p.finishHeaders(seen)
		}
	case *http2.DataFrame:
		m := p.message(f.StreamID)
		m.body.Write(f.Data())
		if f.StreamEnded() {
			return []core.Chunk{p.emit(f.StreamID, seen)}, nil
		}
	case *http2.RSTStreamFrame:
		delete(p.streams, f.StreamID)
		delete(p.peer.streams, f.StreamID)
		return []core.Chunk{{
			IsSent:    p.fromClient,
			Timestamp: seen,
			StreamID:  f.StreamID,
			IsReset:   true,
		}}, nil
	case *http2.SettingsFrame:
		if f.IsAck() {
			return nil, nil
		}
		return nil, f.ForeachSetting(func(s http2.Setting) error {
			if s.ID == http2.SettingHeaderTableSize {
				p.peer.dec.SetAllowedMaxDynamicTableSize(s.Val)
			}
			return nil
		})
	}
	return nil, nil
}

func (p *h2Parser) finishHeaders(seen time.Time) ([]core.Chunk, error) {
	fields, err := p.dec.DecodeFull(p.block)
	p.block = p.block[:0]
	if err != nil {
		return nil, fmt.Errorf("failed to decode header block on stream %d: %w", p.blockStream, err)
	}
	// A promised request only updates the dynamic table; the pushed
	// response arrives on its own stream.
	if p.blockPush {
		return nil, nil
	}

	m := p.message(p.blockStream)
	switch {
	case m.headers == nil:
		// Interim responses precede the final header block.
		if status, ok := pseudo(fields, ":status"); ok && strings.HasPrefix(status, "1") {
			return nil, nil
		}
		m.headers = fields
	default:
		m.trailers = append(m.trailers, fields...)
	}

	if p.blockEndStream {
		return []core.Chunk{p.emit(p.blockStream, seen)}, nil
	}
	return nil, nil
}

func (p *h2Parser) message(streamID uint32) *h2Message {
	m, ok := p.streams[streamID]
	if !ok {
		m = &h2Message{}
		p.streams[streamID] = m
	}
	return m
}

// emit renders a finished stream message in HTTP/1 text shape so the
// printable view and the JSON formatter treat both protocols alike.
func (p *h2Parser) emit(streamID uint32, seen time.Time) core.Chunk {
	m := p.message(streamID)
	delete(p.streams, streamID)

	meta := &core.HTTPMeta{Proto: h2ProtoLabel}
	var b bytes.Buffer
	if p.fromClient {
		meta.Method, _ = pseudo(m.headers, ":method")
		meta.Path, _ = pseudo(m.headers, ":path")
		fmt.Fprintf(&b, "%s %s %s\r\n", meta.Method, meta.Path, h2ProtoLabel)
	} else {
		status, _ := pseudo(m.headers, ":status")
		meta.StatusCode, _ = strconv.Atoi(status)
		meta.Status = status
		if text := http.StatusText(meta.StatusCode); text != "" {
			meta.Status = status + " " + text
		}
		fmt.Fprintf(&b, "%s %s\r\n", h2ProtoLabel, meta.Status)
	}
	for _, hf := range append(m.headers, m.trailers...) {
		if hf.IsPseudo() {
			continue
		}
		if hf.Name == "content-type" && meta.ContentType == "" {
			meta.ContentType = hf.Value
		}
		fmt.Fprintf(&b, "%s: %s\r\n", hf.Name, hf.Value)
	}
	b.WriteString("\r\n")
	b.Write(m.body.Bytes())

	return core.Chunk{
		Payload:   b.Bytes(),
		IsSent:    p.fromClient,
		Timestamp: seen,
		StreamID:  streamID,
		HTTP:      meta,
	}
}

func pseudo(fields []hpack.HeaderField, name string) (string, bool) {
	for _, hf := range fields {
		if hf.Name == name {
			return hf.Value, true
		}
	}
	return "", false
}
