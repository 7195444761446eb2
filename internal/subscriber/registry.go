package subscriber

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce sync.Once
	deliveries  metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/refinemirror/session-proxy/internal/subscriber")

		var err error
		deliveries, err = meter.Int64Counter(
			"subscriber.deliveries",
			metric.WithDescription("Events delivered to subscribers, by outcome"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// entry tracks deliveries in progress so that Unregister can wait for them.
type entry struct {
	id  uuid.UUID
	sub Subscriber

	mu         sync.Mutex
	idle       sync.Cond
	active     bool
	delivering int
}

func newEntry(s Subscriber) *entry {
	e := &entry{id: uuid.New(), sub: s, active: true}
	e.idle.L = &e.mu
	return e
}

// begin reserves a delivery. It fails once the entry has been deactivated.
func (e *entry) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active {
		return false
	}
	e.delivering++
	return true
}

func (e *entry) end() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.delivering--
	if e.delivering == 0 {
		e.idle.Broadcast()
	}
}

// deactivate stops new deliveries and, when wait is set, blocks until the
// ones in progress have returned.
func (e *entry) deactivate(wait bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.active = false
	for wait && e.delivering > 0 {
		e.idle.Wait()
	}
}

// deliveringKey marks contexts passed to subscriber callbacks.
type deliveringKey struct{}

func inDelivery(ctx context.Context) bool {
	v, _ := ctx.Value(deliveringKey{}).(bool)
	return v
}

// Registry maps subscriber identities to subscribers. It is safe for
// concurrent use, including registering and unregistering from inside a
// callback.
type Registry struct {
	mu      sync.RWMutex
	entries []*entry
}

func NewRegistry() *Registry {
	initMetrics()
	return &Registry{}
}

// Register adds a subscriber and returns the identity used to remove it.
// A subscriber registered during a broadcast does not receive that broadcast.
func (r *Registry) Register(s Subscriber) uuid.UUID {
	e := newEntry(s)

	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()

	log.Debug().Str("subscriber", e.id.String()).Msg("subscriber registered")

	return e.id
}

// Unregister removes the subscriber. Once Unregister returns, no delivery to
// it is in progress and none is started later, including by broadcasts
// already running. Returns false if the identity is unknown.
//
// Called from inside a callback, with the context the callback received,
// Unregister does not wait: the deliveries in progress may include the
// caller's own.
func (r *Registry) Unregister(ctx context.Context, id uuid.UUID) bool {
	return r.unregister(id, !inDelivery(ctx))
}

func (r *Registry) unregister(id uuid.UUID, wait bool) bool {
	r.mu.Lock()
	i := slices.IndexFunc(r.entries, func(e *entry) bool { return e.id == id })
	if i < 0 {
		r.mu.Unlock()
		return false
	}
	e := r.entries[i]
	r.entries = slices.Delete(r.entries, i, i+1)
	r.mu.Unlock()

	e.deactivate(wait)

	log.Debug().Str("subscriber", id.String()).Msg("subscriber unregistered")

	return true
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// Broadcast delivers the event to every subscriber registered when the call
// started, in registration order. A failing or panicking subscriber is logged
// and skipped; one that reports ErrSubscriberGone is also unregistered.
// Returns the number of successful deliveries.
func (r *Registry) Broadcast(ctx context.Context, ev Event) int {
	r.mu.RLock()
	snapshot := slices.Clone(r.entries)
	r.mu.RUnlock()

	deliveryCtx := context.WithValue(ctx, deliveringKey{}, true)

	delivered := 0
	for _, e := range snapshot {
		if !e.begin() {
			continue
		}

		err := safeDeliver(deliveryCtx, e.sub, ev)
		e.end()

		if err == nil {
			delivered++
			r.recordDelivery(ctx, ev, "success")
			continue
		}

		if errors.Is(err, ErrSubscriberGone) {
			r.recordDelivery(ctx, ev, "gone")
			log.Info().Str("subscriber", e.id.String()).Stringer("event", ev.Kind).
				Msg("subscriber gone, unregistering")
			r.unregister(e.id, false)
			continue
		}

		r.recordDelivery(ctx, ev, "error")
		log.Warn().Err(err).Str("subscriber", e.id.String()).Stringer("event", ev.Kind).
			Msg("event delivery failed, continuing")
	}

	return delivered
}

func safeDeliver(ctx context.Context, s Subscriber, ev Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("subscriber panicked: %v", rec)
		}
	}()

	return ev.deliver(ctx, s)
}

func (r *Registry) recordDelivery(ctx context.Context, ev Event, outcome string) {
	if deliveries == nil {
		return
	}
	deliveries.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("subscriber.event", ev.Kind.String()),
			attribute.String("subscriber.outcome", outcome),
		),
	)
}
