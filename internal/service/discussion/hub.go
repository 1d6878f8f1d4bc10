package discussion

import (
	"sync"

	"github.com/nddb-lms/lms-admin/backend/internal/model/discussion"
)

const subscriberBuffer = 32

// hub fans channel events out to live subscribers. A subscriber that
// cannot keep up is unregistered and its channel closed, so it can
// resubscribe and start again from a snapshot.
type hub struct {
	mu     sync.Mutex
	subs   map[int64]chan discussion.Event
	nextID int64
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[int64]chan discussion.Event)}
}

// register adds a subscriber whose first event is first.
func (h *hub) register(first discussion.Event) (<-chan discussion.Event, func()) {
	ch := make(chan discussion.Event, subscriberBuffer)
	ch <- first

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	h.mu.Unlock()

	return ch, func() { h.unregister(id) }
}

func (h *hub) unregister(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *hub) publish(ev discussion.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			delete(h.subs, id)
			close(ch)
		}
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// close ends every subscription.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
