package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/refinemirror/session-proxy/internal/config"
	"github.com/refinemirror/session-proxy/internal/profile"
	"github.com/refinemirror/session-proxy/internal/subscriber"
	"github.com/rs/zerolog/log"
)

// clients only ever receive; anything larger than a control frame is a
// protocol violation.
const maxReadBytes = 512

const (
	defaultWriteTimeout = 5 * time.Second
	defaultQueueSize    = 32
)

// ErrSlowConsumer is reported for a connection whose send queue is full.
var ErrSlowConsumer = errors.New("event stream client is not keeping up")

// Registrar accepts subscribers. Both the proxy and the bare registry
// satisfy it.
type Registrar interface {
	Register(s subscriber.Subscriber) uuid.UUID
	Unregister(ctx context.Context, id uuid.UUID) bool
}

// Gateway upgrades requests to websockets and registers each connection as a
// subscriber until it closes.
type Gateway struct {
	registrar      Registrar
	originPatterns []string
	writeTimeout   time.Duration
	queueSize      int

	mu      sync.Mutex
	closed  bool
	closing chan struct{}
	conns   sync.WaitGroup
}

func NewGateway(registrar Registrar, cfg config.StreamConfig) *Gateway {
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	return &Gateway{
		registrar:      registrar,
		originPatterns: cfg.OriginPatterns,
		writeTimeout:   writeTimeout,
		queueSize:      queueSize,
		closing:        make(chan struct{}),
	}
}

// Close disconnects every client with a going-away status and refuses new
// ones. Connections are hijacked, so http.Server.Shutdown does not end them.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.closed {
		g.closed = true
		close(g.closing)
	}
}

// track counts a new connection handler, unless the gateway is closed.
func (g *Gateway) track() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false
	}
	g.conns.Add(1)
	return true
}

// Shutdown closes the gateway and waits for the connection handlers to
// return, or for ctx to end.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.Close()

	done := make(chan struct{})
	go func() {
		g.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !g.track() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer g.conns.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		// Accept has already written the response
		log.Info().Err(err).Str("origin", r.Header.Get("Origin")).Msg("event stream upgrade rejected")
		return
	}
	defer conn.CloseNow()

	conn.SetReadLimit(maxReadBytes)

	// CloseRead handles control frames; its context ends when the peer goes
	// away.
	ctx, stop := context.WithCancel(conn.CloseRead(r.Context()))
	defer stop()

	sub := newConnSubscriber(g.queueSize, stop)
	id := g.registrar.Register(sub)
	defer g.registrar.Unregister(context.WithoutCancel(ctx), id)

	log.Info().Str("subscriber", id.String()).Str("remote", r.RemoteAddr).Msg("event stream connected")

	status, reason := g.pump(ctx, conn, sub)
	sub.gone.Store(true)
	_ = conn.Close(status, reason)

	log.Info().Str("subscriber", id.String()).Str("reason", reason).Msg("event stream disconnected")
}

// pump writes queued messages until the peer leaves, a write fails or the
// gateway closes. It returns the close status to send.
func (g *Gateway) pump(ctx context.Context, conn *websocket.Conn, sub *connSubscriber) (websocket.StatusCode, string) {
	for {
		select {
		case <-g.closing:
			return websocket.StatusGoingAway, "server shutting down"

		case <-ctx.Done():
			if sub.gone.Load() {
				return websocket.StatusPolicyViolation, "too slow"
			}
			return websocket.StatusNormalClosure, "bye"

		case msg := <-sub.queue:
			writeCtx, cancel := context.WithTimeout(ctx, g.writeTimeout)
			err := wsjson.Write(writeCtx, conn, msg)
			cancel()

			if err != nil {
				log.Info().Err(err).Str("type", msg.Type).Msg("event stream write failed")
				return websocket.StatusAbnormalClosure, "write failed"
			}
		}
	}
}

// connSubscriber queues each event for one websocket connection. Delivery
// never blocks the broadcaster: a full queue marks the subscriber gone and
// ends the connection.
type connSubscriber struct {
	queue chan Message
	gone  atomic.Bool
	stop  context.CancelFunc
}

var (
	_ subscriber.Subscriber      = (*connSubscriber)(nil)
	_ subscriber.LoadingListener = (*connSubscriber)(nil)
)

func newConnSubscriber(queueSize int, stop context.CancelFunc) *connSubscriber {
	return &connSubscriber{
		queue: make(chan Message, queueSize),
		stop:  stop,
	}
}

func (c *connSubscriber) send(ev subscriber.Event) error {
	if c.gone.Load() {
		return subscriber.ErrSubscriberGone
	}

	select {
	case c.queue <- NewMessage(ev):
		return nil
	default:
		c.gone.Store(true)
		c.stop()

		return errors.Join(subscriber.ErrSubscriberGone, ErrSlowConsumer)
	}
}

func (c *connSubscriber) AuthSuccessful(_ context.Context, missingInfo bool, p *profile.Profile) error {
	return c.send(subscriber.NewAuthSuccessful(missingInfo, p))
}

func (c *connSubscriber) ProfileUpdated(_ context.Context, p *profile.Profile) error {
	return c.send(subscriber.NewProfileUpdated(p))
}

func (c *connSubscriber) LoggedOut(_ context.Context) error {
	return c.send(subscriber.NewLoggedOut())
}

func (c *connSubscriber) Errored(_ context.Context, message string) error {
	return c.send(subscriber.NewErrored(message))
}

func (c *connSubscriber) LoadingStarted(_ context.Context, operation string) {
	_ = c.send(subscriber.NewLoadingStarted(operation))
}

func (c *connSubscriber) LoadingEnded(_ context.Context, operation string) {
	_ = c.send(subscriber.NewLoadingEnded(operation))
}
