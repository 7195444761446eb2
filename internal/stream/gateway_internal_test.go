package stream

import (
	"context"
	"testing"

	"github.com/refinemirror/session-proxy/internal/config"
	"github.com/refinemirror/session-proxy/internal/subscriber"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnSubscriber_FullQueueIsGone(t *testing.T) {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	sub := newConnSubscriber(2, stop)

	require.NoError(t, sub.LoggedOut(ctx))
	require.NoError(t, sub.Errored(ctx, "boom"))

	// the client has not read anything: the next event does not wait for it
	err := sub.LoggedOut(ctx)
	assert.ErrorIs(t, err, subscriber.ErrSubscriberGone)
	assert.ErrorIs(t, err, ErrSlowConsumer)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	assert.ErrorIs(t, sub.LoggedOut(ctx), subscriber.ErrSubscriberGone)
	assert.Len(t, sub.queue, 2)
}

func TestConnSubscriber_QueuesInOrder(t *testing.T) {
	sub := newConnSubscriber(4, func() {})
	ctx := context.Background()

	sub.LoadingStarted(ctx, "login")
	require.NoError(t, sub.LoggedOut(ctx))
	sub.LoadingEnded(ctx, "login")

	assert.Equal(t, "loading_started", (<-sub.queue).Type)
	assert.Equal(t, "logged_out", (<-sub.queue).Type)
	assert.Equal(t, "loading_ended", (<-sub.queue).Type)
}

func TestNewGateway_Defaults(t *testing.T) {
	g := NewGateway(subscriber.NewRegistry(), config.StreamConfig{})

	assert.Equal(t, defaultWriteTimeout, g.writeTimeout)
	assert.Equal(t, defaultQueueSize, g.queueSize)
}
