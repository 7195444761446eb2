package subscriber_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/refinemirror/session-proxy/internal/profile"
	"github.com/refinemirror/session-proxy/internal/subscriber"
	"github.com/refinemirror/session-proxy/internal/subscriber/subscribertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcast_DeliversToAllSubscribersOnce(t *testing.T) {
	r := subscriber.NewRegistry()

	recorders := make([]*subscribertest.Recorder, 5)
	for i := range recorders {
		recorders[i] = &subscribertest.Recorder{}
		r.Register(recorders[i])
	}

	p := &profile.Profile{Name: "Ada", Email: "ada@example.com"}
	delivered := r.Broadcast(context.Background(), subscriber.NewProfileUpdated(p))

	assert.Equal(t, 5, delivered)
	for _, rec := range recorders {
		assert.Equal(t, 1, rec.Count(subscriber.ProfileUpdated))
		assert.Equal(t, p, rec.Events()[0].Profile)
	}
}

func TestBroadcast_ProfileIsCopiedPerSubscriber(t *testing.T) {
	r := subscriber.NewRegistry()

	mutator := subscriber.Funcs{
		OnProfileUpdated: func(_ context.Context, p *profile.Profile) error {
			p.Name = "changed"
			return nil
		},
	}
	rec := &subscribertest.Recorder{}
	r.Register(mutator)
	r.Register(rec)

	p := &profile.Profile{Name: "Ada"}
	r.Broadcast(context.Background(), subscriber.NewProfileUpdated(p))

	assert.Equal(t, "Ada", p.Name)
	assert.Equal(t, "Ada", rec.Events()[0].Profile.Name)
}

func TestBroadcast_FailingSubscriberDoesNotBlockOthers(t *testing.T) {
	r := subscriber.NewRegistry()

	failing := subscriber.Funcs{
		OnErrored: func(context.Context, string) error { return errors.New("unreachable") },
	}
	panicking := subscriber.Funcs{
		OnErrored: func(context.Context, string) error { panic("dead handle") },
	}
	rec := &subscribertest.Recorder{}

	r.Register(failing)
	r.Register(panicking)
	r.Register(rec)

	delivered := r.Broadcast(context.Background(), subscriber.NewErrored("boom"))

	assert.Equal(t, 1, delivered)
	assert.Equal(t, []subscriber.EventKind{subscriber.Errored}, rec.Kinds())
	assert.Equal(t, "boom", rec.Events()[0].Message)
	// failing subscribers stay registered unless they report they are gone
	assert.Equal(t, 3, r.Len())
}

func TestBroadcast_GoneSubscriberIsRemoved(t *testing.T) {
	r := subscriber.NewRegistry()

	gone := subscriber.Funcs{
		OnLoggedOut: func(context.Context) error { return subscriber.ErrSubscriberGone },
	}
	rec := &subscribertest.Recorder{}
	r.Register(gone)
	r.Register(rec)

	r.Broadcast(context.Background(), subscriber.NewLoggedOut())

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 1, rec.Count(subscriber.LoggedOut))
}

func TestBroadcast_UnregisterMidBroadcast(t *testing.T) {
	r := subscriber.NewRegistry()

	second := &subscribertest.Recorder{}
	var secondID uuid.UUID

	first := &subscribertest.Recorder{}
	first.OnEvent = func(ctx context.Context, _ subscriber.Event) error {
		// remove the next subscriber while the broadcast is in flight
		assert.True(t, r.Unregister(ctx, secondID))
		return nil
	}

	r.Register(first)
	secondID = r.Register(second)

	require.NotPanics(t, func() {
		r.Broadcast(context.Background(), subscriber.NewLoggedOut())
	})

	assert.Equal(t, 1, first.Count(subscriber.LoggedOut))
	assert.Empty(t, second.Events())
	assert.Equal(t, 1, r.Len())
}

func TestBroadcast_RegisterMidBroadcastNotDelivered(t *testing.T) {
	r := subscriber.NewRegistry()

	late := &subscribertest.Recorder{}
	first := &subscribertest.Recorder{}
	first.OnEvent = func(context.Context, subscriber.Event) error {
		r.Register(late)
		first.OnEvent = nil
		return nil
	}
	r.Register(first)

	r.Broadcast(context.Background(), subscriber.NewLoggedOut())
	assert.Empty(t, late.Events())

	r.Broadcast(context.Background(), subscriber.NewLoggedOut())
	assert.Equal(t, 1, late.Count(subscriber.LoggedOut))
}

func TestUnregister_Unknown(t *testing.T) {
	r := subscriber.NewRegistry()
	assert.False(t, r.Unregister(context.Background(), uuid.New()))
}

func TestBroadcast_LoadingOnlyToListeners(t *testing.T) {
	r := subscriber.NewRegistry()

	plain := &plainSubscriber{}
	rec := &subscribertest.Recorder{}
	r.Register(plain)
	r.Register(rec)

	delivered := r.Broadcast(context.Background(), subscriber.NewLoadingStarted("login"))

	assert.Equal(t, 2, delivered)
	assert.Equal(t, []subscriber.Event{subscriber.NewLoadingStarted("login")}, rec.Events())
	assert.Empty(t, rec.Outcomes())
}

func TestBroadcast_Concurrent(t *testing.T) {
	r := subscriber.NewRegistry()
	rec := &subscribertest.Recorder{}
	r.Register(rec)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Broadcast(context.Background(), subscriber.NewLoggedOut())
		}()
		go func() {
			defer wg.Done()
			id := r.Register(&subscribertest.Recorder{})
			r.Unregister(context.Background(), id)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, rec.Count(subscriber.LoggedOut))
	assert.Equal(t, 1, r.Len())
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "auth_successful", subscriber.AuthSuccessful.String())
	assert.Equal(t, "profile_updated", subscriber.ProfileUpdated.String())
	assert.Equal(t, "logged_out", subscriber.LoggedOut.String())
	assert.Equal(t, "errored", subscriber.Errored.String())
	assert.Equal(t, "loading_started", subscriber.LoadingStarted.String())
	assert.Equal(t, "loading_ended", subscriber.LoadingEnded.String())
	assert.Equal(t, "event(0)", subscriber.EventKind(0).String())
}

// plainSubscriber implements only the required capability set.
type plainSubscriber struct{}

func (plainSubscriber) AuthSuccessful(context.Context, bool, *profile.Profile) error { return nil }
func (plainSubscriber) ProfileUpdated(context.Context, *profile.Profile) error       { return nil }
func (plainSubscriber) LoggedOut(context.Context) error                              { return nil }
func (plainSubscriber) Errored(context.Context, string) error                        { return nil }

func TestUnregister_NoDeliveryAfterReturn(t *testing.T) {
	for range 2000 {
		r := subscriber.NewRegistry()

		var unregistered atomic.Bool
		var late atomic.Int32
		id := r.Register(subscriber.Funcs{
			OnLoggedOut: func(context.Context) error {
				if unregistered.Load() {
					late.Add(1)
				}
				return nil
			},
		})

		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			r.Broadcast(context.Background(), subscriber.NewLoggedOut())
		}()
		go func() {
			defer wg.Done()
			<-start
			r.Unregister(context.Background(), id)
			unregistered.Store(true)
		}()
		close(start)
		wg.Wait()

		require.Zero(t, late.Load(), "callback ran after Unregister returned")
	}
}

func TestUnregister_WaitsForDeliveryInProgress(t *testing.T) {
	r := subscriber.NewRegistry()

	entered := make(chan struct{})
	release := make(chan struct{})
	id := r.Register(subscriber.Funcs{
		OnLoggedOut: func(context.Context) error {
			close(entered)
			<-release
			return nil
		},
	})

	go r.Broadcast(context.Background(), subscriber.NewLoggedOut())
	<-entered

	var returned atomic.Bool
	go func() {
		r.Unregister(context.Background(), id)
		returned.Store(true)
	}()

	assert.Never(t, returned.Load, 50*time.Millisecond, 5*time.Millisecond)

	close(release)

	assert.Eventually(t, returned.Load, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, r.Len())
}

func TestUnregister_SelfFromCallback(t *testing.T) {
	r := subscriber.NewRegistry()

	var id uuid.UUID
	calls := 0
	id = r.Register(subscriber.Funcs{
		OnLoggedOut: func(ctx context.Context) error {
			calls++
			assert.True(t, r.Unregister(ctx, id))
			return nil
		},
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Broadcast(context.Background(), subscriber.NewLoggedOut())
		r.Broadcast(context.Background(), subscriber.NewLoggedOut())
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unregistering from inside a callback blocked the broadcast")
	}

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, r.Len())
}
