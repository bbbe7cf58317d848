package capture

import (
	"bytes"
	"errors"
	"time"

	"golang.org/x/net/http2"

	"firestige.xyz/convo/internal/core"
)

// Proto is the application protocol detected on a connection.
type Proto int

const (
	ProtoUnknown Proto = iota
	ProtoHTTP1
	ProtoHTTP2
	ProtoRaw
)

func (p Proto) String() string {
	switch p {
	case ProtoHTTP1:
		return "http1"
	case ProtoHTTP2:
		return "http2"
	case ProtoRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// messageParser cuts one direction's reassembled bytes into chunks. It
// returns the chunks found and how many bytes of buf they used. closed
// means the direction has ended.
type messageParser interface {
	parse(buf []byte, seen time.Time, closed bool) ([]core.Chunk, int, error)
}

// h1Stream adapts h1Parser to messageParser by parsing until the buffer
// holds no complete message.
type h1Stream struct {
	h1Parser
}

func (s *h1Stream) parse(buf []byte, seen time.Time, closed bool) ([]core.Chunk, int, error) {
	var chunks []core.Chunk
	off := 0
	for off < len(buf) {
		c, n, err := s.next(buf[off:], seen, closed)
		if errors.Is(err, errIncomplete) {
			break
		}
		if errors.Is(err, errInterim) {
			off += n
			continue
		}
		if err != nil {
			return chunks, off, err
		}
		chunks = append(chunks, c)
		off += n
	}
	return chunks, off, nil
}

// rawParser emits whatever arrived as one chunk without HTTP metadata.
type rawParser struct {
	fromClient bool
}

func (p *rawParser) parse(buf []byte, seen time.Time, _ bool) ([]core.Chunk, int, error) {
	if len(buf) == 0 {
		return nil, 0, nil
	}
	payload := make([]byte, len(buf))
	copy(payload, buf)
	return []core.Chunk{{
		Payload:   payload,
		IsSent:    p.fromClient,
		Timestamp: seen,
		StreamID:  h1StreamID,
	}}, len(buf), nil
}

// side is which peer sent a direction, as far as sniffing can tell.
type side int

const (
	sideUnknown side = iota
	sideClient
	sideServer
)

// sniffMaxBytes bounds how long detection waits before giving up.
const sniffMaxBytes = 24

// sniff guesses protocol and sender role from the first bytes of a
// direction. decided is false while buf is still a prefix of something
// recognizable.
func sniff(buf []byte) (proto Proto, sender side, decided bool) {
	preface := []byte(http2.ClientPreface)
	switch {
	case bytes.HasPrefix(buf, preface):
		return ProtoHTTP2, sideClient, true
	case looksLikeH1Request(buf):
		return ProtoHTTP1, sideClient, true
	case looksLikeH1Response(buf):
		return ProtoHTTP1, sideServer, true
	}
	if len(buf) < sniffMaxBytes && couldBecome(buf, preface) {
		return ProtoUnknown, sideUnknown, false
	}
	return ProtoRaw, sideUnknown, true
}

func couldBecome(buf, preface []byte) bool {
	if bytes.HasPrefix(preface, buf) || bytes.HasPrefix([]byte("HTTP/1."), buf) {
		return true
	}
	for _, m := range h1Methods {
		if bytes.HasPrefix([]byte(m), buf) {
			return true
		}
	}
	return false
}
