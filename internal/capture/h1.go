package capture

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"firestige.xyz/convo/internal/core"
)

// HTTP/1 has no multiplexing: every message on a connection shares this id.
const h1StreamID uint32 = 0

var (
	// errIncomplete means the buffer does not yet hold a whole message.
	errIncomplete = errors.New("incomplete message")
	// errInterim marks a consumed 1xx response that answers nothing.
	errInterim = errors.New("interim response")
)

var h1Methods = []string{
	"GET ", "POST ", "PUT ", "DELETE ", "HEAD ", "OPTIONS ", "PATCH ", "CONNECT ", "TRACE ",
}

// looksLikeH1Request reports whether buf starts with a request line.
func looksLikeH1Request(buf []byte) bool {
	for _, m := range h1Methods {
		if bytes.HasPrefix(buf, []byte(m)) {
			return true
		}
	}
	return false
}

func looksLikeH1Response(buf []byte) bool {
	return bytes.HasPrefix(buf, []byte("HTTP/1."))
}

// h1Parser cuts one direction of an HTTP/1 connection into messages.
type h1Parser struct {
	fromClient bool
	// methods of requests whose responses are still expected, shared by both
	// directions so a HEAD response is read without a body.
	methods *[]string
}

// next parses one message from buf. It returns the chunk and the number of
// bytes consumed, errIncomplete, or errInterim with the bytes to skip.
// closed means no more bytes will arrive, which completes a response
// delimited by connection close.
func (p *h1Parser) next(buf []byte, seen time.Time, closed bool) (core.Chunk, int, error) {
	if p.fromClient {
		return p.nextRequest(buf, seen)
	}
	return p.nextResponse(buf, seen, closed)
}

func (p *h1Parser) nextRequest(buf []byte, seen time.Time) (core.Chunk, int, error) {
	if !headerComplete(buf) {
		return core.Chunk{}, 0, errIncomplete
	}
	rd := bytes.NewReader(buf)
	br := bufio.NewReader(rd)

	req, err := http.ReadRequest(br)
	if err != nil {
		return core.Chunk{}, 0, classify(err)
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return core.Chunk{}, 0, classify(err)
	}
	n := consumed(buf, rd, br)

	*p.methods = append(*p.methods, req.Method)
	return core.Chunk{
		Payload:   h1Payload(buf[:n], body, req.TransferEncoding),
		IsSent:    true,
		Timestamp: seen,
		StreamID:  h1StreamID,
		HTTP: &core.HTTPMeta{
			Proto:       req.Proto,
			Method:      req.Method,
			Path:        req.RequestURI,
			ContentType: req.Header.Get("Content-Type"),
		},
	}, n, nil
}

func (p *h1Parser) nextResponse(buf []byte, seen time.Time, closed bool) (core.Chunk, int, error) {
	if !headerComplete(buf) {
		return core.Chunk{}, 0, errIncomplete
	}
	rd := bytes.NewReader(buf)
	br := bufio.NewReader(rd)

	method := http.MethodGet
	if len(*p.methods) > 0 {
		method = (*p.methods)[0]
	}
	resp, err := http.ReadResponse(br, &http.Request{Method: method})
	if err != nil {
		return core.Chunk{}, 0, classify(err)
	}
	// Without a length or chunking the body runs until the connection closes.
	if resp.ContentLength < 0 && len(resp.TransferEncoding) == 0 && !closed && bodyAllowed(resp.StatusCode, method) {
		return core.Chunk{}, 0, errIncomplete
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.Chunk{}, 0, classify(err)
	}
	n := consumed(buf, rd, br)

	// Interim responses do not answer the request. 101 does: the
	// connection leaves HTTP after it.
	if resp.StatusCode < 200 && resp.StatusCode != http.StatusSwitchingProtocols {
		return core.Chunk{}, n, errInterim
	}
	if len(*p.methods) > 0 {
		*p.methods = (*p.methods)[1:]
	}
	return core.Chunk{
		Payload:   h1Payload(buf[:n], body, resp.TransferEncoding),
		IsSent:    false,
		Timestamp: seen,
		StreamID:  h1StreamID,
		HTTP: &core.HTTPMeta{
			Proto:       resp.Proto,
			StatusCode:  resp.StatusCode,
			Status:      resp.Status,
			ContentType: resp.Header.Get("Content-Type"),
		},
	}, n, nil
}

// headerComplete reports whether the header block has fully arrived.
// textproto accepts a final line without its newline, so a request line cut
// by segmentation would otherwise parse as a malformed message.
func headerComplete(buf []byte) bool {
	return bytes.Contains(buf, []byte("\r\n\r\n")) || bytes.Contains(buf, []byte("\n\n"))
}

// consumed is how much of buf the parse used: everything except what is
// still unread in the bytes.Reader or buffered in the bufio.Reader.
func consumed(buf []byte, rd *bytes.Reader, br *bufio.Reader) int {
	return len(buf) - rd.Len() - br.Buffered()
}

// h1Payload keeps the message as captured, except that a chunked body is
// replaced by its decoded form so the body can be displayed and formatted.
func h1Payload(message, body []byte, transferEncoding []string) []byte {
	raw := make([]byte, len(message))
	copy(raw, message)
	if len(transferEncoding) == 0 || !strings.EqualFold(transferEncoding[len(transferEncoding)-1], "chunked") {
		return raw
	}
	sep := bytes.Index(raw, []byte("\r\n\r\n"))
	if sep < 0 {
		return raw
	}
	out := make([]byte, 0, sep+4+len(body))
	out = append(out, raw[:sep+4]...)
	return append(out, body...)
}

func bodyAllowed(status int, method string) bool {
	if method == http.MethodHead {
		return false
	}
	return !(status >= 100 && status < 200) && status != http.StatusNoContent && status != http.StatusNotModified
}

func classify(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errIncomplete
	}
	return err
}
