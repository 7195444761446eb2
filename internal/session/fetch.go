package session

import (
	"context"

	"github.com/refinemirror/session-proxy/internal/profile"
	"github.com/refinemirror/session-proxy/internal/remote"
	"github.com/refinemirror/session-proxy/internal/subscriber"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// fetchMode selects what is broadcast after a successful profile fetch.
type fetchMode int

const (
	fetchAndBroadcast fetchMode = iota
	fetchSilent
	fetchAfterLogin
)

// fetch retrieves the profile. On success the snapshot is replaced and both
// deadlines are reset from one clock sample. Failures leave the cached state
// untouched.
func (p *Proxy) fetch(ctx context.Context, t ticket, mode fetchMode) {
	if t.authHeader == "" {
		p.fail(ctx, OpFetchProfile, t, remote.NewUnauthorized(0, "no session"))
		return
	}

	fetched, err := p.endpoint.FetchProfile(ctx, t.authHeader)
	if err != nil {
		p.fail(ctx, OpFetchProfile, t, err)
		return
	}

	p.mu.Lock()
	if p.generation != t.generation {
		p.mu.Unlock()
		log.Ctx(ctx).Info().Msg("session changed during profile fetch, result discarded")
		return
	}

	prof := &fetched
	p.state.Store(&cached{
		profile:   prof,
		deadlines: p.engine.Deadlines(p.now()),
	})
	if err := profile.Save(ctx, p.store, fetched); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("fetched profile could not be persisted")
	}
	p.mu.Unlock()

	trace.SpanFromContext(ctx).SetStatus(codes.Ok, "profile fetched")

	switch mode {
	case fetchAfterLogin:
		p.broadcast(ctx, subscriber.NewAuthSuccessful(prof.MissingInfo(), prof))
	case fetchAndBroadcast:
		p.broadcast(ctx, subscriber.NewProfileUpdated(prof))
	case fetchSilent:
		log.Ctx(ctx).Debug().Msg("profile refreshed in background")
	}
}
