// Package session is the stateful core of the proxy. It owns the session
// token and the cached profile, decides when the remote API must be called,
// and broadcasts every outcome to the registered subscribers.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/refinemirror/session-proxy/internal/cachepolicy"
	"github.com/refinemirror/session-proxy/internal/profile"
	"github.com/refinemirror/session-proxy/internal/remote"
	"github.com/refinemirror/session-proxy/internal/store"
	"github.com/refinemirror/session-proxy/internal/subscriber"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// SessionExpiredMessage is broadcast after the remote API rejects the
	// session token.
	SessionExpiredMessage = "Session has expired, please log back in again"

	// GenericErrorMessage is broadcast when a failure carries no message that
	// can be shown to the user.
	GenericErrorMessage = "Something went wrong, please try again"

	// PreviousSessionExpiredMessage is broadcast when a request made with a
	// session that has since been replaced is rejected as unauthorized.
	PreviousSessionExpiredMessage = "A request from a previous session could not be completed"

	DefaultRemoteTimeout = 30 * time.Second
)

// ErrClosed is returned by operations invoked after Close.
var ErrClosed = errors.New("session proxy is closed")

// Operation names, used for loading notifications, spans and logs.
const (
	OpSignUp        = "sign_up"
	OpLogin         = "login"
	OpUpdateProfile = "update_profile"
	OpFetchProfile  = "fetch_profile"
)

const instrumentationName = "github.com/refinemirror/session-proxy/internal/session"

// cached is the profile snapshot together with the deadlines set by the fetch
// that produced it. It is immutable once published, so readers never observe
// a profile with another fetch's deadlines.
type cached struct {
	profile   *profile.Profile
	deadlines cachepolicy.Deadlines
}

// Proxy is the session and profile caching proxy. All operations are safe for
// concurrent use. Operations that need the network return once the work has
// been dispatched; results are delivered to subscribers.
type Proxy struct {
	engine      cachepolicy.Engine
	endpoint    remote.Endpoint
	store       store.Store
	subscribers *subscriber.Registry

	now     func() time.Time
	timeout time.Duration

	// state is read without the lock; writers hold mu.
	state atomic.Pointer[cached]

	mu         sync.Mutex
	session    profile.Session
	generation uint64
	closed     bool

	inflight sync.WaitGroup

	tracer    trace.Tracer
	decisions metric.Int64Counter
	failures  metric.Int64Counter
}

type Option func(*Proxy)

// WithClock replaces the wall clock used to evaluate and set deadlines.
func WithClock(now func() time.Time) Option {
	return func(p *Proxy) {
		p.now = now
	}
}

// WithRemoteTimeout bounds each dispatched remote call.
func WithRemoteTimeout(d time.Duration) Option {
	return func(p *Proxy) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithRegistry supplies the subscriber registry, so it can be shared with
// other components.
func WithRegistry(r *subscriber.Registry) Option {
	return func(p *Proxy) {
		p.subscribers = r
	}
}

// New creates a proxy, restoring any session and profile left in the store by
// a previous process. Cache deadlines are not persisted: the first profile
// request after a restart always goes to the network.
func New(ctx context.Context, engine cachepolicy.Engine, endpoint remote.Endpoint, st store.Store, opts ...Option) (*Proxy, error) {
	p := &Proxy{
		engine:   engine,
		endpoint: endpoint,
		store:    st,
		now:      time.Now,
		timeout:  DefaultRemoteTimeout,
		tracer:   otel.Tracer(instrumentationName),
	}

	for _, o := range opts {
		o(p)
	}

	if p.subscribers == nil {
		p.subscribers = subscriber.NewRegistry()
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	sess, err := profile.LoadSession(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("session restore failed: %w", err)
	}

	prof, err := profile.Load(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("profile restore failed: %w", err)
	}

	p.session = sess
	p.state.Store(&cached{profile: prof})

	log.Info().
		Bool("session", !sess.IsZero()).
		Bool("profile", prof != nil).
		Msg("session state restored")

	return p, nil
}

func (p *Proxy) initMetrics() error {
	meter := otel.Meter(instrumentationName)

	var err error
	p.decisions, err = meter.Int64Counter(
		"session.cache.decisions",
		metric.WithDescription("Cache policy decisions made for profile requests"),
	)
	if err != nil {
		return fmt.Errorf("failed to create decision counter: %w", err)
	}

	p.failures, err = meter.Int64Counter(
		"session.remote.failures",
		metric.WithDescription("Remote API failures by classification"),
	)
	if err != nil {
		return fmt.Errorf("failed to create failure counter: %w", err)
	}

	return nil
}

// Register adds a subscriber and returns the identity used to unregister it.
func (p *Proxy) Register(s subscriber.Subscriber) uuid.UUID {
	return p.subscribers.Register(s)
}

// Unregister removes a subscriber. No delivery to it is in progress or
// starts after this returns; see subscriber.Registry.Unregister for calls
// made from inside a callback.
func (p *Proxy) Unregister(ctx context.Context, id uuid.UUID) bool {
	return p.subscribers.Unregister(ctx, id)
}

// SubscriberCount returns the number of registered subscribers.
func (p *Proxy) SubscriberCount() int {
	return p.subscribers.Len()
}

// IsLoggedIn reports whether a profile identity is known, either in memory or
// in the store. It has no side effects.
func (p *Proxy) IsLoggedIn(ctx context.Context) bool {
	if c := p.state.Load(); c != nil && c.profile != nil {
		return true
	}

	prof, err := profile.Load(ctx, p.store)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("profile lookup failed, assuming logged out")
		return false
	}

	return prof != nil
}

// Wait blocks until all dispatched work has completed.
func (p *Proxy) Wait() {
	p.inflight.Wait()
}

// Close stops accepting operations that need the network and waits for
// outstanding work to complete.
func (p *Proxy) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.inflight.Wait()

	return nil
}

// snapshot returns the current cached state. It is never nil.
func (p *Proxy) snapshot() *cached {
	if c := p.state.Load(); c != nil {
		return c
	}
	return &cached{}
}

// ticket captures what a dispatched call needs from the session at dispatch
// time.
type ticket struct {
	generation uint64
	authHeader string
}

// dispatch runs work on a tracked goroutine. The work's context is detached
// from the caller's cancellation and bounded by the remote timeout. When
// loading is set, LoadingStarted and LoadingEnded bracket the work.
func (p *Proxy) dispatch(ctx context.Context, op string, loading bool, work func(ctx context.Context, t ticket)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	t := ticket{
		generation: p.generation,
		authHeader: p.session.AuthHeader(),
	}
	p.inflight.Add(1)
	p.mu.Unlock()

	ctx = context.WithoutCancel(ctx)

	go func() {
		defer p.inflight.Done()

		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		ctx, span := p.tracer.Start(ctx, op)
		defer span.End()

		if loading {
			p.broadcast(ctx, subscriber.NewLoadingStarted(op))
			defer p.broadcast(ctx, subscriber.NewLoadingEnded(op))
		}

		// registered after LoadingEnded so the error is delivered first
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("panic during %s: %v", op, r)
				span.RecordError(err)
				span.SetStatus(codes.Error, op+" panicked")
				log.Ctx(ctx).Error().Interface("panic", r).Str("operation", op).Msg("dispatched operation panicked, recovered")
				p.broadcast(ctx, subscriber.NewErrored(GenericErrorMessage))
			}
		}()

		work(ctx, t)
	}()

	return nil
}

func (p *Proxy) broadcast(ctx context.Context, ev subscriber.Event) {
	n := p.subscribers.Broadcast(ctx, ev)

	log.Ctx(ctx).Debug().
		Stringer("event", ev.Kind).
		Int("delivered", n).
		Msg("event broadcast")
}
