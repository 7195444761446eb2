package session

import (
	"context"
	"errors"

	"github.com/refinemirror/session-proxy/internal/cachepolicy"
	"github.com/refinemirror/session-proxy/internal/profile"
	"github.com/refinemirror/session-proxy/internal/remote"
	"github.com/refinemirror/session-proxy/internal/subscriber"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrEmptyUpdate is returned by UpdateProfile when no field was supplied.
var ErrEmptyUpdate = errors.New("profile update supplies no fields")

// SignUp registers a new account. On success the session is stored, the
// profile is seeded from the request and AuthSuccessful is broadcast with
// missingInfo set, since the optional details cannot have been supplied yet.
func (p *Proxy) SignUp(ctx context.Context, req remote.SignUpRequest) error {
	return p.dispatch(ctx, OpSignUp, true, func(ctx context.Context, t ticket) {
		result, err := p.endpoint.SignUp(ctx, req)
		if err != nil {
			p.fail(ctx, OpSignUp, t, err)
			return
		}

		seeded := &profile.Profile{Name: req.Name, Email: req.Email}

		p.mu.Lock()
		p.startSession(ctx, result)
		p.state.Store(&cached{profile: seeded})
		if err := profile.Save(ctx, p.store, *seeded); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("profile could not be persisted after sign up")
		}
		p.mu.Unlock()

		trace.SpanFromContext(ctx).SetStatus(codes.Ok, "signed up")
		log.Ctx(ctx).Info().Str("user", result.UserID).Msg("sign up succeeded")

		p.broadcast(ctx, subscriber.NewAuthSuccessful(true, seeded))
	})
}

// Login authenticates, then fetches the profile regardless of the cache
// state. AuthSuccessful is broadcast once the profile has arrived.
func (p *Proxy) Login(ctx context.Context, email, password string) error {
	return p.dispatch(ctx, OpLogin, true, func(ctx context.Context, t ticket) {
		result, err := p.endpoint.Login(ctx, email, password)
		if err != nil {
			p.fail(ctx, OpLogin, t, err)
			return
		}

		p.mu.Lock()
		next := p.startSession(ctx, result)
		p.mu.Unlock()

		log.Ctx(ctx).Info().Str("user", result.UserID).Msg("login succeeded, fetching profile")

		p.fetch(ctx, next, fetchAfterLogin)
	})
}

// UpdateProfile sends a partial update. Fields left nil are neither sent nor
// changed locally.
func (p *Proxy) UpdateProfile(ctx context.Context, update profile.Update) error {
	if update.IsEmpty() {
		return ErrEmptyUpdate
	}

	return p.dispatch(ctx, OpUpdateProfile, true, func(ctx context.Context, t ticket) {
		if t.authHeader == "" {
			p.fail(ctx, OpUpdateProfile, t, remote.NewUnauthorized(0, "no session"))
			return
		}

		if err := p.endpoint.UpdateProfile(ctx, t.authHeader, update); err != nil {
			p.fail(ctx, OpUpdateProfile, t, err)
			return
		}

		p.mu.Lock()
		if p.generation != t.generation {
			p.mu.Unlock()
			log.Ctx(ctx).Info().Msg("session changed during profile update, result discarded")
			return
		}

		current := p.snapshot()
		base := profile.Profile{}
		if current.profile != nil {
			base = *current.profile
		}
		merged := base.Apply(update)

		p.state.Store(&cached{profile: &merged, deadlines: current.deadlines})
		if err := profile.SaveUpdate(ctx, p.store, update); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("profile update could not be persisted")
		}
		p.mu.Unlock()

		trace.SpanFromContext(ctx).SetStatus(codes.Ok, "profile updated")

		p.broadcast(ctx, subscriber.NewProfileUpdated(&merged))
	})
}

// GetProfileInfo delivers the profile to subscribers according to the cache
// policy: a fresh profile is broadcast immediately, a stale one is broadcast
// and refreshed silently, and an expired or missing one is fetched first.
func (p *Proxy) GetProfileInfo(ctx context.Context) error {
	c := p.snapshot()
	decision := p.engine.Decide(c.deadlines, p.now())
	if decision.Serves() && c.profile == nil {
		decision = cachepolicy.StaleForceRefresh
	}

	p.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("session.cache.decision", decision.String())))
	log.Ctx(ctx).Debug().Stringer("decision", decision).Msg("profile requested")

	switch decision {
	case cachepolicy.Fresh:
		p.broadcast(ctx, subscriber.NewProfileUpdated(c.profile))
		return nil

	case cachepolicy.StaleBackgroundRefresh:
		p.broadcast(ctx, subscriber.NewProfileUpdated(c.profile))
		return p.dispatch(ctx, OpFetchProfile, false, func(ctx context.Context, t ticket) {
			p.fetch(ctx, t, fetchSilent)
		})

	default:
		return p.dispatch(ctx, OpFetchProfile, true, func(ctx context.Context, t ticket) {
			p.fetch(ctx, t, fetchAndBroadcast)
		})
	}
}

// Logout forgets the session and the profile, and broadcasts LoggedOut. No
// remote call is made.
func (p *Proxy) Logout(ctx context.Context) error {
	p.mu.Lock()
	p.clear(ctx)
	p.mu.Unlock()

	log.Ctx(ctx).Info().Msg("logged out")

	p.broadcast(ctx, subscriber.NewLoggedOut())

	return nil
}

// startSession installs a freshly issued token and returns the ticket for
// work belonging to it. Earlier dispatches become stale. The previous
// identity's profile is dropped. Must be called with mu held.
func (p *Proxy) startSession(ctx context.Context, result remote.AuthResult) ticket {
	p.generation++
	p.session = profile.NewSession(result.APIToken, result.UserID, p.now())
	p.state.Store(&cached{})

	if err := p.store.ClearAll(ctx); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("previous session could not be cleared from the store")
	}
	if err := profile.SaveSession(ctx, p.store, p.session); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("session could not be persisted")
	}

	return ticket{
		generation: p.generation,
		authHeader: p.session.AuthHeader(),
	}
}

// clear forgets the session, the profile and both deadlines, here and in the
// store. Must be called with mu held.
func (p *Proxy) clear(ctx context.Context) {
	p.generation++
	p.session = profile.Session{}
	p.state.Store(&cached{})

	if err := p.store.ClearAll(ctx); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("store could not be cleared")
	}
}
