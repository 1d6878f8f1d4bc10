package discussion

import (
	"sort"
	"sync"
	"time"

	"github.com/nddb-lms/lms-admin/backend/internal/model/discussion"
)

// Channel is the local view of one course discussion. It performs no I/O.
// Ids are unique at all times and the high-water mark never decreases.
type Channel struct {
	mu       sync.RWMutex
	messages []discussion.Message
	known    map[string]struct{}
	// pending maps a temporary id to its index in messages.
	pending map[string]int
	hwm     time.Time
}

// NewChannel returns an empty channel.
func NewChannel() *Channel {
	return &Channel{
		known:   make(map[string]struct{}),
		pending: make(map[string]int),
	}
}

// Reset replaces the channel with a full-history load.
func (c *Channel) Reset(batch []discussion.Message) {
	sorted := sortedCopy(batch)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = make([]discussion.Message, 0, len(sorted))
	c.known = make(map[string]struct{}, len(sorted))
	c.pending = make(map[string]int)
	c.hwm = time.Time{}

	for _, msg := range sorted {
		if msg.ID == "" {
			continue
		}
		if _, dup := c.known[msg.ID]; dup {
			continue
		}
		msg.Pending = false
		c.known[msg.ID] = struct{}{}
		c.messages = append(c.messages, msg)
	}
	c.advanceLocked(sorted)
}

// Merge appends the messages of batch whose ids are not yet known and
// returns them. Existing entries keep their position and content. Applying
// the same batch again appends nothing.
func (c *Channel) Merge(batch []discussion.Message) []discussion.Message {
	if len(batch) == 0 {
		return nil
	}
	sorted := sortedCopy(batch)

	c.mu.Lock()
	defer c.mu.Unlock()

	var appended []discussion.Message
	for _, msg := range sorted {
		if msg.ID == "" {
			continue
		}
		if _, dup := c.known[msg.ID]; dup {
			continue
		}
		msg.Pending = false
		c.known[msg.ID] = struct{}{}
		c.messages = append(c.messages, msg)
		appended = append(appended, msg)
	}
	// advances on any non-empty batch, even an all-duplicate one; a batch
	// the server returned is already seen, so the mark stays monotonic
	c.advanceLocked(sorted)
	return appended
}

// AddPending appends a locally authored message awaiting confirmation.
// It returns false if the id is already present.
func (c *Channel) AddPending(msg discussion.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.ID == "" {
		return false
	}
	if _, dup := c.known[msg.ID]; dup {
		return false
	}
	msg.Pending = true
	c.known[msg.ID] = struct{}{}
	c.pending[msg.ID] = len(c.messages)
	c.messages = append(c.messages, msg)
	return true
}

// Confirm swaps the pending entry tempID for its server copy, in place.
// When a poll already delivered the confirmed id, the pending entry is
// dropped instead so the id appears once. It returns false if tempID is
// not pending.
func (c *Channel) Confirm(tempID string, confirmed discussion.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.pending[tempID]
	if !ok {
		return false
	}
	if _, dup := c.known[confirmed.ID]; dup || confirmed.ID == "" {
		c.removeLocked(tempID, idx)
		return true
	}

	confirmed.Pending = false
	c.messages[idx] = confirmed
	delete(c.pending, tempID)
	delete(c.known, tempID)
	c.known[confirmed.ID] = struct{}{}
	return true
}

// Discard removes the pending entry tempID. It returns false if tempID is
// not pending.
func (c *Channel) Discard(tempID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.pending[tempID]
	if !ok {
		return false
	}
	c.removeLocked(tempID, idx)
	return true
}

func (c *Channel) removeLocked(tempID string, idx int) {
	c.messages = append(c.messages[:idx], c.messages[idx+1:]...)
	delete(c.pending, tempID)
	delete(c.known, tempID)
	for id, i := range c.pending {
		if i > idx {
			c.pending[id] = i - 1
		}
	}
}

// Messages returns a copy of the ordered view.
func (c *Channel) Messages() []discussion.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]discussion.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len reports the number of messages, pending ones included.
func (c *Channel) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// HighWaterMark is the newest timestamp fetched so far, zero if none.
func (c *Channel) HighWaterMark() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hwm
}

// advanceLocked moves the high-water mark to the newest well-formed
// timestamp in batch. Ill-formed timestamps are ignored.
func (c *Channel) advanceLocked(batch []discussion.Message) {
	for _, msg := range batch {
		if ts, ok := msg.Time(); ok && ts.After(c.hwm) {
			c.hwm = ts
		}
	}
}

// sortedCopy orders a batch by timestamp, keeping arrival order on ties.
// Messages with ill-formed timestamps go last, in arrival order.
func sortedCopy(batch []discussion.Message) []discussion.Message {
	type keyed struct {
		msg   discussion.Message
		ts    time.Time
		valid bool
	}
	items := make([]keyed, len(batch))
	for i, msg := range batch {
		ts, ok := msg.Time()
		items[i] = keyed{msg: msg, ts: ts, valid: ok}
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.valid != b.valid {
			return a.valid
		}
		return a.valid && a.ts.Before(b.ts)
	})

	out := make([]discussion.Message, len(items))
	for i, it := range items {
		out[i] = it.msg
	}
	return out
}
