package discussion

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
)

var (
	ErrCourseRequired = errors.New("course id is required")
	ErrRegistryClosed = errors.New("discussion registry is shut down")
)

// Registry shares one running Poller per course between all viewers. The
// first Acquire starts it and the matching last Release stops it.
type Registry struct {
	ctx  context.Context
	api  API
	opts Options

	mu      sync.Mutex
	entries map[string]*registryEntry
	closed  bool
}

type registryEntry struct {
	poller *Poller
	refs   int
}

// NewRegistry creates a registry whose pollers live at most as long as ctx.
func NewRegistry(ctx context.Context, api API, opts Options) *Registry {
	return &Registry{
		ctx:     ctx,
		api:     api,
		opts:    opts,
		entries: make(map[string]*registryEntry),
	}
}

// Acquire returns the running poller for courseID, starting it if needed.
// Every successful Acquire must be paired with one Release.
func (r *Registry) Acquire(courseID string) (*Poller, error) {
	courseID = strings.TrimSpace(courseID)
	if courseID == "" {
		return nil, ErrCourseRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	entry, ok := r.entries[courseID]
	if !ok {
		p := NewPoller(courseID, r.api, r.opts)
		p.Start(r.ctx)
		entry = &registryEntry{poller: p}
		r.entries[courseID] = entry
	}
	entry.refs++
	return entry.poller, nil
}

// Lookup returns the running poller for courseID without taking a reference.
func (r *Registry) Lookup(courseID string) (*Poller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[strings.TrimSpace(courseID)]
	if !ok {
		return nil, false
	}
	return entry.poller, true
}

// Release drops one reference and stops the poller when none remain.
func (r *Registry) Release(courseID string) {
	courseID = strings.TrimSpace(courseID)

	r.mu.Lock()
	entry, ok := r.entries[courseID]
	if !ok {
		r.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.entries, courseID)
	r.mu.Unlock()

	entry.poller.Stop()
}

// Active reports how many courses currently have a running poller.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Shutdown stops every poller and rejects further Acquire calls.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	for courseID, entry := range entries {
		entry.poller.Stop()
		log.Printf("[poller] registry released course=%s refs=%d", courseID, entry.refs)
	}
}
