// This command is only used for local testing: it connects to the event
// stream of a running proxy and logs every event it receives until
// interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/refinemirror/session-proxy/internal/stream"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	URL         string        `env:"WATCH_URL, default=ws://localhost:8080/events"`
	DialTimeout time.Duration `env:"WATCH_DIAL_TIMEOUT, default=5s"`
}

func main() {
	cfg := Config{}
	err := envconfig.Process(context.Background(), &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := watch(ctx, cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error watching events: %v\n", err)
		os.Exit(1)
	}
}

func watch(ctx context.Context, cfg Config, logger zerolog.Logger) error {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	defer conn.CloseNow()

	logger.Info().Str("url", cfg.URL).Msg("connected, waiting for events")

	for {
		var msg stream.Message
		err := wsjson.Read(ctx, conn, &msg)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return nil
			}
			return err
		}

		logEvent(logger, msg)
	}
}

func logEvent(logger zerolog.Logger, msg stream.Message) {
	ev := logger.Info().Str("type", msg.Type)

	if msg.Operation != "" {
		ev = ev.Str("operation", msg.Operation)
	}
	if msg.Message != "" {
		ev = ev.Str("message", msg.Message)
	}
	if msg.MissingInfo != nil {
		ev = ev.Bool("missingInfo", *msg.MissingInfo)
	}
	if msg.Profile != nil {
		ev = ev.Str("name", msg.Profile.Name).Str("email", msg.Profile.Email)
	}

	ev.Msg("event")
}
