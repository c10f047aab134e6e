// Package hub fans refresh-run progress lines out to stream subscribers.
package hub

import "sync"

const defaultBufferCap = 500

// stream holds the buffered progress of one refresh run.
type stream struct {
	ring    []string
	next    int
	clients map[chan string]struct{}
	closed  bool
}

// history returns the buffered lines oldest first.
func (s *stream) history() []string {
	if len(s.ring) < cap(s.ring) || s.next == 0 {
		return s.ring
	}
	out := make([]string, 0, len(s.ring))
	out = append(out, s.ring[s.next:]...)
	return append(out, s.ring[:s.next]...)
}

func (s *stream) push(line string) {
	if len(s.ring) < cap(s.ring) {
		s.ring = append(s.ring, line)
	} else {
		s.ring[s.next] = line
	}
	s.next = (s.next + 1) % cap(s.ring)
}

// Hub keeps the last defaultBufferCap lines per run so a subscriber that
// joins mid-run sees the run from its start, then live lines.
type Hub struct {
	mu      sync.Mutex
	streams map[string]*stream
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{streams: make(map[string]*stream)}
}

// Caller must hold h.mu.
func (h *Hub) get(runID string) *stream {
	s, ok := h.streams[runID]
	if !ok {
		s = &stream{
			ring:    make([]string, 0, defaultBufferCap),
			clients: make(map[chan string]struct{}),
		}
		h.streams[runID] = s
	}
	return s
}

// Publish appends a line to the run and sends it to every subscriber.
// Slow subscribers miss lines rather than block the run.
func (h *Hub) Publish(runID, line string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.get(runID)
	if s.closed {
		return
	}
	s.push(line)
	for ch := range s.clients {
		select {
		case ch <- line:
		default:
		}
	}
}

// Subscribe replays the run's buffered lines on the returned channel and
// then streams new ones until the run closes. The returned func
// unsubscribes.
func (h *Hub) Subscribe(runID string) (<-chan string, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.get(runID)
	ch := make(chan string, defaultBufferCap+32)
	for _, line := range s.history() {
		ch <- line
	}
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	s.clients[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(s.clients, ch)
	}
}

// Close ends the run's stream. Later subscribers get the history and a
// closed channel.
func (h *Hub) Close(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.streams[runID]
	if !ok {
		return
	}
	s.closed = true
	for ch := range s.clients {
		close(ch)
	}
	s.clients = nil
}

// Remove forgets a run and closes any remaining subscribers.
func (h *Hub) Remove(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.streams[runID]
	if !ok {
		return
	}
	for ch := range s.clients {
		close(ch)
	}
	delete(h.streams, runID)
}

// IsActive reports whether the run has a stream that is still open.
func (h *Hub) IsActive(runID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.streams[runID]
	return ok && !s.closed
}
