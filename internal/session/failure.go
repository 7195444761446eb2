package session

import (
	"context"

	"github.com/refinemirror/session-proxy/internal/remote"
	"github.com/refinemirror/session-proxy/internal/subscriber"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// fail converts a remote failure into broadcasts. Only an unauthorized failure
// changes state: the session is cleared, LoggedOut is broadcast and then the
// expiry message. A failure belonging to an earlier session cannot clear the
// current one; it is reported as an error only.
func (p *Proxy) fail(ctx context.Context, op string, t ticket, err error) {
	kind := remote.KindOf(err)

	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, op+" failed")
	span.SetAttributes(attribute.String("remote.failure.kind", kind.String()))

	p.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("session.operation", op),
		attribute.String("remote.failure.kind", kind.String()),
	))

	l := log.Ctx(ctx)
	l.Warn().Err(err).Str("operation", op).Stringer("kind", kind).Msg("remote call failed")

	switch kind {
	case remote.KindUnauthorized:
		p.mu.Lock()
		if p.generation != t.generation {
			p.mu.Unlock()
			l.Info().Str("operation", op).Msg("authorization failure for a previous session, current session kept")
			p.broadcast(ctx, subscriber.NewErrored(PreviousSessionExpiredMessage))
			return
		}
		p.clear(ctx)
		p.mu.Unlock()

		p.broadcast(ctx, subscriber.NewLoggedOut())
		p.broadcast(ctx, subscriber.NewErrored(SessionExpiredMessage))

	case remote.KindClientError:
		msg := remote.MessageOf(err)
		if msg == "" {
			msg = GenericErrorMessage
		}
		p.broadcast(ctx, subscriber.NewErrored(msg))

	default:
		p.broadcast(ctx, subscriber.NewErrored(GenericErrorMessage))
	}
}
