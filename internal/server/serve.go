package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/refinemirror/session-proxy/internal/config"
	"github.com/rs/zerolog/log"
)

// Serve accepts connections on the configured port until ctx is cancelled or
// the process receives SIGINT or SIGTERM. In-flight requests are then given
// the configured shutdown timeout to complete before the hooks run.
func Serve(ctx context.Context, cfg config.ServerConfig, server *http.Server, hooks *ShutdownHooks) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen failed: %w", err)
	}

	return ServeListener(ctx, cfg, server, listener, hooks)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, cfg config.ServerConfig, server *http.Server, listener net.Listener, hooks *ShutdownHooks) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listener.Addr().String()).Msg("server: listening")
		serverErr <- server.Serve(listener)
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped unexpectedly: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info().Msg("server: shutdown requested")
	}

	timeout := time.Duration(cfg.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	shutdownErr := server.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Warn().Err(shutdownErr).Msg("server: shutdown did not complete cleanly")
	}

	var hookErr error
	if hooks != nil {
		hookErr = hooks.Execute(shutdownCtx)
	}

	log.Info().Msg("server: shutdown complete")

	return errors.Join(shutdownErr, hookErr)
}
