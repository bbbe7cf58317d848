package conversation

import (
	"fmt"
	"sync"
	"time"

	"firestige.xyz/convo/internal/core"
)

func request(stream uint32, name string) core.Chunk {
	return core.Chunk{
		Payload:   []byte(fmt.Sprintf("GET /%s HTTP/1.1\r\nHost: example.com\r\n\r\n", name)),
		IsSent:    true,
		Timestamp: time.Now(),
		StreamID:  stream,
		HTTP:      &core.HTTPMeta{Proto: "HTTP/1.1", Method: "GET", Path: "/" + name},
	}
}

func reply(stream uint32, name string) core.Chunk {
	return core.Chunk{
		Payload:   []byte("HTTP/1.1 200 OK\r\nContent-Length: " + fmt.Sprint(len(name)) + "\r\n\r\n" + name),
		Timestamp: time.Now(),
		StreamID:  stream,
		HTTP:      &core.HTTPMeta{Proto: "HTTP/1.1", StatusCode: 200, Status: "200 OK"},
	}
}

func reset(stream uint32) core.Chunk {
	return core.Chunk{IsReset: true, StreamID: stream, Timestamp: time.Now()}
}

func raw(sent bool, size int) core.Chunk {
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = 'a' + byte(i%26)
	}
	return core.Chunk{Payload: payload, IsSent: sent}
}

// labels renders the store order as request paths / reply bodies.
func labels(entries []*Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		if e.Chunk.IsSent {
			out[i] = "req" + e.Chunk.HTTP.Path[1:]
		} else {
			body := string(e.Chunk.Payload)
			out[i] = "res" + body[len(body)-1:]
		}
	}
	return out
}

type event struct {
	kind  string
	flat  int
	count int
}

type recordingListener struct {
	mu     sync.Mutex
	events []event
}

func (r *recordingListener) add(ev event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingListener) EntryInsertedAt(flat int) { r.add(event{"insert", flat, 1}) }
func (r *recordingListener) EntryRangeInsertedAfter(flat, count int) {
	r.add(event{"range_insert", flat, count})
}
func (r *recordingListener) EntryRangeRemovedAfter(flat, count int) {
	r.add(event{"range_remove", flat, count})
}
func (r *recordingListener) Invalidated() { r.add(event{kind: "invalidated"}) }
func (r *recordingListener) Cleared()     { r.add(event{kind: "cleared"}) }

func (r *recordingListener) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event, len(r.events))
	copy(out, r.events)
	return out
}
