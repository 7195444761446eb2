// Package subscribertest provides a recording subscriber for tests.
package subscribertest

import (
	"context"
	"slices"
	"sync"

	"github.com/refinemirror/session-proxy/internal/profile"
	"github.com/refinemirror/session-proxy/internal/subscriber"
)

// Recorder is a Subscriber and LoadingListener that records every event it
// receives. OnEvent, when set, is called synchronously for each event; its
// result is returned to the broadcaster.
type Recorder struct {
	mu      sync.Mutex
	events  []subscriber.Event
	OnEvent func(ctx context.Context, ev subscriber.Event) error
}

var (
	_ subscriber.Subscriber      = (*Recorder)(nil)
	_ subscriber.LoadingListener = (*Recorder)(nil)
)

func (r *Recorder) record(ctx context.Context, ev subscriber.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	hook := r.OnEvent
	r.mu.Unlock()

	if hook != nil {
		return hook(ctx, ev)
	}
	return nil
}

func (r *Recorder) AuthSuccessful(ctx context.Context, missingInfo bool, p *profile.Profile) error {
	return r.record(ctx, subscriber.NewAuthSuccessful(missingInfo, p))
}

func (r *Recorder) ProfileUpdated(ctx context.Context, p *profile.Profile) error {
	return r.record(ctx, subscriber.NewProfileUpdated(p))
}

func (r *Recorder) LoggedOut(ctx context.Context) error {
	return r.record(ctx, subscriber.NewLoggedOut())
}

func (r *Recorder) Errored(ctx context.Context, message string) error {
	return r.record(ctx, subscriber.NewErrored(message))
}

func (r *Recorder) LoadingStarted(ctx context.Context, operation string) {
	_ = r.record(ctx, subscriber.NewLoadingStarted(operation))
}

func (r *Recorder) LoadingEnded(ctx context.Context, operation string) {
	_ = r.record(ctx, subscriber.NewLoadingEnded(operation))
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []subscriber.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.events)
}

// Outcomes returns the recorded events, ignoring loading notifications.
func (r *Recorder) Outcomes() []subscriber.Event {
	return slices.DeleteFunc(r.Events(), func(ev subscriber.Event) bool {
		return ev.Kind == subscriber.LoadingStarted || ev.Kind == subscriber.LoadingEnded
	})
}

// Kinds returns the kinds of the recorded outcome events, in order.
func (r *Recorder) Kinds() []subscriber.EventKind {
	var kinds []subscriber.EventKind
	for _, ev := range r.Outcomes() {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

// Count returns how many outcome events of the given kind were recorded.
func (r *Recorder) Count(kind subscriber.EventKind) int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// Reset discards everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = nil
}
