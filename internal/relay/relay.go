// Package relay fans the latest main-branch pipeline status out to live
// subscribers.
//
// A Relay holds exactly one status, the most recently published one. There is
// no history and no replay: a subscriber sees only what is published after it
// subscribed, and Latest answers "what is the state now".
package relay

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc/panics"

	"mergeboard/internal/hosting"
)

// Callback receives each published status. It runs on the publishing
// goroutine, inside Publish, so a callback that blocks delays every later
// subscriber and the publisher. Consumers that can stall, such as network
// writers, use SubscribeMailbox.
type Callback func(hosting.PipelineStatus)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id     uint64
	fn     Callback
	relay  *Relay
	active atomic.Bool
	once   sync.Once
}

// Unsubscribe removes the subscription. It is safe to call more than once and
// from inside the callback itself.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.active.Store(false)
		s.relay.remove(s.id)
	})
}

// Relay is an in-process pub/sub hub for PipelineStatus values.
type Relay struct {
	logger *slog.Logger

	// pubMu serializes Publish so every subscriber observes the same order.
	pubMu sync.Mutex

	mu        sync.Mutex
	subs      []*Subscription
	latest    hosting.PipelineStatus
	hasLatest bool
	nextID    uint64
}

// New creates an empty Relay.
func New(logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{logger: logger}
}

// Subscribe registers fn for future publishes.
func (r *Relay) Subscribe(fn Callback) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	sub := &Subscription{id: r.nextID, fn: fn, relay: r}
	sub.active.Store(true)
	r.subs = append(r.subs, sub)
	return sub
}

// SubscribeMailbox registers a subscriber that only hands statuses to a
// Mailbox, so a slow reader never holds up Publish. A nil accept takes every
// status.
func (r *Relay) SubscribeMailbox(accept func(hosting.PipelineStatus) bool) (*Mailbox, *Subscription) {
	mailbox := NewMailbox()
	sub := r.Subscribe(func(status hosting.PipelineStatus) {
		if accept != nil && !accept(status) {
			return
		}
		mailbox.Put(status)
	})
	return mailbox, sub
}

func (r *Relay) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, sub := range r.subs {
		if sub.id == id {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return
		}
	}
}

// Publish replaces the held status and calls every subscriber in
// registration order. A panicking callback is logged and skipped.
func (r *Relay) Publish(status hosting.PipelineStatus) {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	r.mu.Lock()
	r.latest = status.Clone()
	r.hasLatest = true
	subs := make([]*Subscription, len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}
		r.safeCall(sub, status.Clone())
	}
}

func (r *Relay) safeCall(sub *Subscription, status hosting.PipelineStatus) {
	var pc panics.Catcher
	pc.Try(func() { sub.fn(status) })
	if rec := pc.Recovered(); rec != nil {
		r.logger.Error("Subscriber panicked",
			"subscription", sub.id,
			"pipeline_id", status.ID,
			"error", rec.AsError(),
			"stack", string(rec.Stack),
		)
	}
}

// Latest returns the most recently published status, if any.
func (r *Relay) Latest() (hosting.PipelineStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasLatest {
		return hosting.PipelineStatus{}, false
	}
	return r.latest.Clone(), true
}

// Subscribers returns the number of registered subscribers.
func (r *Relay) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
