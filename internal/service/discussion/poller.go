package discussion

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nddb-lms/lms-admin/backend/internal/model/discussion"
	"github.com/nddb-lms/lms-admin/backend/internal/model/session"
)

var (
	ErrEmptyBody        = errors.New("message body is required")
	ErrNotAuthenticated = errors.New("sending requires a logged in user")
)

// SendError reports a create request that failed after the optimistic
// entry was shown. The entry has already been removed.
type SendError struct {
	Err error
}

func (e *SendError) Error() string { return "send message: " + e.Err.Error() }

func (e *SendError) Unwrap() error { return e.Err }

// Retryable is false only when the credential was rejected.
func (e *SendError) Retryable() bool { return !errors.Is(e.Err, ErrUnauthorized) }

// API is the remote side of a course channel.
type API interface {
	ListSince(ctx context.Context, courseID string, after time.Time) ([]discussion.Message, error)
	Create(ctx context.Context, msg discussion.NewMessage) (discussion.Message, error)
}

// Options tunes a Poller. Zero values fall back to the defaults.
type Options struct {
	Interval       time.Duration
	RequestTimeout time.Duration
	ReconcileDelay time.Duration
	Notifier       Notifier
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 15 * time.Second
	}
	if o.ReconcileDelay < 0 {
		o.ReconcileDelay = 0
	}
	return o
}

// Poller keeps one course channel in sync with the API.
type Poller struct {
	courseID string
	api      API
	opts     Options
	channel  *Channel
	events   *hub
	now      func() time.Time

	// eventMu orders channel changes with their events so a subscriber's
	// snapshot and the events after it never overlap.
	eventMu sync.Mutex

	fetching atomic.Bool
	active   atomic.Bool

	mu        sync.Mutex
	loopCtx   context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	loadOnce  sync.Once
	loaded    chan struct{}
	done      chan struct{}
	timers    sync.WaitGroup
}

// NewPoller creates an idle poller for courseID.
func NewPoller(courseID string, api API, opts Options) *Poller {
	return &Poller{
		courseID: courseID,
		api:      api,
		opts:     opts.withDefaults(),
		channel:  NewChannel(),
		events:   newHub(),
		now:      time.Now,
		loaded:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// CourseID returns the course this poller serves.
func (p *Poller) CourseID() string { return p.courseID }

// Start loads the full history and then polls every interval until Stop or
// ctx is done. Later calls do nothing.
func (p *Poller) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.mu.Lock()
		p.loopCtx, p.cancel = context.WithCancel(ctx)
		p.active.Store(true)
		loopCtx := p.loopCtx
		p.mu.Unlock()

		log.Printf("[poller] starting course=%s interval=%s", p.courseID, p.opts.Interval)
		go p.run(loopCtx)
	})
}

// Loaded is closed once the initial history fetch finished, successfully or not.
func (p *Poller) Loaded() <-chan struct{} { return p.loaded }

func (p *Poller) markLoaded() {
	p.loadOnce.Do(func() { close(p.loaded) })
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	p.loadHistory(ctx)
	p.markLoaded()

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

func (p *Poller) loadHistory(ctx context.Context) {
	p.fetching.Store(true)
	defer p.fetching.Store(false)

	reqCtx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
	defer cancel()

	batch, err := p.api.ListSince(reqCtx, p.courseID, time.Time{})
	if !p.active.Load() {
		return
	}
	if err != nil {
		log.Printf("[poller] history fetch failed course=%s: %v", p.courseID, err)
		return
	}

	p.eventMu.Lock()
	p.channel.Reset(batch)
	messages := p.channel.Messages()
	p.events.publish(discussion.Event{Type: discussion.EventSnapshot, CourseID: p.courseID, Messages: messages})
	p.eventMu.Unlock()

	log.Printf("[poller] loaded course=%s messages=%d", p.courseID, len(messages))
}

// Poll fetches messages newer than the high-water mark and merges them. It
// returns false without issuing a request when another fetch is in flight
// or the poller is not running. Failures are logged and retried next tick.
func (p *Poller) Poll(ctx context.Context) bool {
	if !p.active.Load() {
		return false
	}
	if !p.fetching.CompareAndSwap(false, true) {
		return false
	}
	defer p.fetching.Store(false)

	reqCtx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
	defer cancel()

	batch, err := p.api.ListSince(reqCtx, p.courseID, p.channel.HighWaterMark())
	if !p.active.Load() {
		return true
	}
	if err != nil {
		log.Printf("[poller] poll failed course=%s: %v", p.courseID, err)
		return true
	}

	p.eventMu.Lock()
	appended := p.channel.Merge(batch)
	if len(appended) > 0 {
		p.events.publish(discussion.Event{Type: discussion.EventAppended, CourseID: p.courseID, Messages: appended})
		p.events.publish(discussion.Event{Type: discussion.EventNotify, CourseID: p.courseID, Count: len(appended)})
	}
	p.eventMu.Unlock()

	if len(appended) > 0 {
		safeNotify(p.opts.Notifier, p.courseID, len(appended))
	}
	return true
}

// Send shows body immediately as a pending message, then creates it on the
// server. On success the pending entry is replaced in place and a reconcile
// poll is scheduled. On failure the entry is removed and a *SendError is
// returned.
func (p *Poller) Send(ctx context.Context, author *session.User, body string) (discussion.Message, error) {
	if author == nil || author.ID == "" {
		return discussion.Message{}, ErrNotAuthenticated
	}
	if strings.TrimSpace(body) == "" {
		return discussion.Message{}, ErrEmptyBody
	}

	tempID := "temp-" + uuid.NewString()
	payload := discussion.NewMessage{
		CourseID:   p.courseID,
		SenderID:   author.ID,
		SenderRole: discussion.Role(author.Role),
		Body:       body,
		Timestamp:  discussion.FormatTimestamp(p.now()),
	}
	optimistic := discussion.Message{
		ID:         tempID,
		CourseID:   payload.CourseID,
		SenderID:   payload.SenderID,
		SenderRole: payload.SenderRole,
		SenderName: author.DisplayName(),
		Body:       payload.Body,
		Timestamp:  payload.Timestamp,
		Pending:    true,
	}

	p.eventMu.Lock()
	p.channel.AddPending(optimistic)
	p.events.publish(discussion.Event{Type: discussion.EventAppended, CourseID: p.courseID, Messages: []discussion.Message{optimistic}})
	p.eventMu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
	created, err := p.api.Create(reqCtx, payload)
	cancel()

	// a stopped channel is torn down; the caller still learns the outcome
	if !p.active.Load() {
		log.Printf("[poller] send finished after stop course=%s, result not applied", p.courseID)
		if err != nil {
			return discussion.Message{}, &SendError{Err: err}
		}
		created.Pending = false
		return created, nil
	}

	if err != nil {
		p.eventMu.Lock()
		p.channel.Discard(tempID)
		p.events.publish(discussion.Event{Type: discussion.EventDiscarded, CourseID: p.courseID, TempID: tempID})
		p.eventMu.Unlock()

		log.Printf("[poller] send failed course=%s: %v", p.courseID, err)
		return discussion.Message{}, &SendError{Err: err}
	}

	created.Pending = false
	if created.CourseID == "" {
		created.CourseID = p.courseID
	}
	if created.SenderName == "" {
		created.SenderName = optimistic.SenderName
	}

	p.eventMu.Lock()
	p.channel.Confirm(tempID, created)
	p.events.publish(discussion.Event{Type: discussion.EventConfirmed, CourseID: p.courseID, TempID: tempID, Messages: []discussion.Message{created}})
	p.eventMu.Unlock()

	p.scheduleReconcile()
	return created, nil
}

// scheduleReconcile runs one out-of-cycle poll after the reconcile delay.
func (p *Poller) scheduleReconcile() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active.Load() || p.loopCtx == nil {
		return
	}

	ctx := p.loopCtx
	p.timers.Add(1)
	go func() {
		defer p.timers.Done()
		timer := time.NewTimer(p.opts.ReconcileDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			p.Poll(ctx)
		}
	}()
}

// Messages returns the current ordered view.
func (p *Poller) Messages() []discussion.Message { return p.channel.Messages() }

// HighWaterMark returns the newest fetched timestamp.
func (p *Poller) HighWaterMark() time.Time { return p.channel.HighWaterMark() }

// Subscribe streams channel events, starting with a snapshot. The channel
// is closed on Stop, on cancel, or when the subscriber falls behind.
func (p *Poller) Subscribe() (<-chan discussion.Event, func()) {
	p.eventMu.Lock()
	defer p.eventMu.Unlock()
	return p.events.register(discussion.Event{
		Type:     discussion.EventSnapshot,
		CourseID: p.courseID,
		Messages: p.channel.Messages(),
	})
}

// Stop halts polling exactly once and waits for the loop to exit. Results
// of requests still in flight are discarded.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		// a poller stopped before Start never starts
		p.startOnce.Do(func() {})

		p.mu.Lock()
		p.active.Store(false)
		cancel := p.cancel
		p.mu.Unlock()

		if cancel != nil {
			cancel()
			<-p.done
		}
		p.markLoaded()
		p.timers.Wait()
		p.events.close()
		log.Printf("[poller] stopped course=%s", p.courseID)
	})
}
