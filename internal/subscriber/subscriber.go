// Package subscriber fans proxy events out to every registered consumer.
package subscriber

import (
	"context"
	"errors"
	"fmt"

	"github.com/refinemirror/session-proxy/internal/profile"
)

// ErrSubscriberGone is returned by a subscriber whose consumer can no longer
// be reached. The registry drops such subscribers.
var ErrSubscriberGone = errors.New("subscriber gone")

// Subscriber is the callback capability set implemented by UI consumers.
// Profiles passed to a subscriber are copies owned by that call.
type Subscriber interface {
	AuthSuccessful(ctx context.Context, missingInfo bool, p *profile.Profile) error
	ProfileUpdated(ctx context.Context, p *profile.Profile) error
	LoggedOut(ctx context.Context) error
	Errored(ctx context.Context, message string) error
}

// LoadingListener is optionally implemented by subscribers that show progress
// while a network call is outstanding.
type LoadingListener interface {
	LoadingStarted(ctx context.Context, operation string)
	LoadingEnded(ctx context.Context, operation string)
}

type EventKind int

const (
	AuthSuccessful EventKind = iota + 1
	ProfileUpdated
	LoggedOut
	Errored
	LoadingStarted
	LoadingEnded
)

func (k EventKind) String() string {
	switch k {
	case AuthSuccessful:
		return "auth_successful"
	case ProfileUpdated:
		return "profile_updated"
	case LoggedOut:
		return "logged_out"
	case Errored:
		return "errored"
	case LoadingStarted:
		return "loading_started"
	case LoadingEnded:
		return "loading_ended"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a single broadcast. Only the fields relevant to Kind are set.
type Event struct {
	Kind        EventKind
	MissingInfo bool
	Profile     *profile.Profile
	Message     string
	Operation   string
}

func NewAuthSuccessful(missingInfo bool, p *profile.Profile) Event {
	return Event{Kind: AuthSuccessful, MissingInfo: missingInfo, Profile: p}
}

func NewProfileUpdated(p *profile.Profile) Event {
	return Event{Kind: ProfileUpdated, Profile: p}
}

func NewLoggedOut() Event {
	return Event{Kind: LoggedOut}
}

func NewErrored(message string) Event {
	return Event{Kind: Errored, Message: message}
}

func NewLoadingStarted(operation string) Event {
	return Event{Kind: LoadingStarted, Operation: operation}
}

func NewLoadingEnded(operation string) Event {
	return Event{Kind: LoadingEnded, Operation: operation}
}

// deliver invokes the callback matching the event. Each subscriber gets its
// own copy of the profile.
func (e Event) deliver(ctx context.Context, s Subscriber) error {
	switch e.Kind {
	case AuthSuccessful:
		return s.AuthSuccessful(ctx, e.MissingInfo, e.Profile.Clone())
	case ProfileUpdated:
		return s.ProfileUpdated(ctx, e.Profile.Clone())
	case LoggedOut:
		return s.LoggedOut(ctx)
	case Errored:
		return s.Errored(ctx, e.Message)
	case LoadingStarted:
		if l, ok := s.(LoadingListener); ok {
			l.LoadingStarted(ctx, e.Operation)
		}
		return nil
	case LoadingEnded:
		if l, ok := s.(LoadingListener); ok {
			l.LoadingEnded(ctx, e.Operation)
		}
		return nil
	default:
		return fmt.Errorf("unknown event kind %d", int(e.Kind))
	}
}

// Funcs adapts plain functions to Subscriber and LoadingListener. Nil
// functions are no-ops.
type Funcs struct {
	OnAuthSuccessful func(ctx context.Context, missingInfo bool, p *profile.Profile) error
	OnProfileUpdated func(ctx context.Context, p *profile.Profile) error
	OnLoggedOut      func(ctx context.Context) error
	OnErrored        func(ctx context.Context, message string) error
	OnLoadingStarted func(ctx context.Context, operation string)
	OnLoadingEnded   func(ctx context.Context, operation string)
}

func (f Funcs) AuthSuccessful(ctx context.Context, missingInfo bool, p *profile.Profile) error {
	if f.OnAuthSuccessful == nil {
		return nil
	}
	return f.OnAuthSuccessful(ctx, missingInfo, p)
}

func (f Funcs) ProfileUpdated(ctx context.Context, p *profile.Profile) error {
	if f.OnProfileUpdated == nil {
		return nil
	}
	return f.OnProfileUpdated(ctx, p)
}

func (f Funcs) LoggedOut(ctx context.Context) error {
	if f.OnLoggedOut == nil {
		return nil
	}
	return f.OnLoggedOut(ctx)
}

func (f Funcs) Errored(ctx context.Context, message string) error {
	if f.OnErrored == nil {
		return nil
	}
	return f.OnErrored(ctx, message)
}

func (f Funcs) LoadingStarted(ctx context.Context, operation string) {
	if f.OnLoadingStarted != nil {
		f.OnLoadingStarted(ctx, operation)
	}
}

func (f Funcs) LoadingEnded(ctx context.Context, operation string) {
	if f.OnLoadingEnded != nil {
		f.OnLoadingEnded(ctx, operation)
	}
}
