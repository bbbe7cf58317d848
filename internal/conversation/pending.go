package conversation

// PendingMap holds, per stream id, the FIFO of requests still waiting for a
// reply. An entry sits in at most one queue.
type PendingMap struct {
	queues map[uint32][]*Entry
	size   int
}

func NewPendingMap() *PendingMap {
	return &PendingMap{queues: make(map[uint32][]*Entry)}
}

// Push appends a request to the tail of its stream's queue.
func (p *PendingMap) Push(streamID uint32, e *Entry) {
	p.queues[streamID] = append(p.queues[streamID], e)
	p.size++
}

// Pop removes and returns the oldest pending request of the stream.
func (p *PendingMap) Pop(streamID uint32) (*Entry, bool) {
	q := p.queues[streamID]
	if len(q) == 0 {
		return nil, false
	}
	e := q[0]
	q[0] = nil
	if len(q) == 1 {
		delete(p.queues, streamID)
	} else {
		p.queues[streamID] = q[1:]
	}
	p.size--
	return e, true
}

// Pending returns the number of queued requests for the stream.
func (p *PendingMap) Pending(streamID uint32) int {
	return len(p.queues[streamID])
}

// Len is the total number of queued requests.
func (p *PendingMap) Len() int {
	return p.size
}

func (p *PendingMap) Clear() {
	p.queues = make(map[uint32][]*Entry)
	p.size = 0
}
