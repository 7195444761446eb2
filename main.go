package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/justinas/alice"
	"github.com/refinemirror/session-proxy/internal/cachepolicy"
	"github.com/refinemirror/session-proxy/internal/config"
	"github.com/refinemirror/session-proxy/internal/observe"
	"github.com/refinemirror/session-proxy/internal/remote"
	"github.com/refinemirror/session-proxy/internal/server"
	"github.com/refinemirror/session-proxy/internal/session"
	"github.com/refinemirror/session-proxy/internal/store"
	"github.com/refinemirror/session-proxy/internal/stream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func configureServerRoutes(proxy SessionService, events *stream.Gateway) http.Handler {
	mux := observe.NewMux()

	// The request body size is fairly limited to prevent accidental or
	// deliberate abuse. Given the current API shape, this is not configurable.
	requestLimitBytes := int64(20 << 10) // 20 KB
	requestLimiter := maxRequestSize(requestLimitBytes)

	standardRouteMiddleware := alice.New(requestLimiter)

	mux.Handle("POST /signup", standardRouteMiddleware.Then(handlePostSignUp(proxy)))
	mux.Handle("POST /login", standardRouteMiddleware.Then(handlePostLogin(proxy)))
	mux.Handle("PATCH /profile", standardRouteMiddleware.Then(handlePatchProfile(proxy)))
	mux.Handle("POST /profile/refresh", standardRouteMiddleware.Then(handlePostProfileRefresh(proxy)))
	mux.Handle("POST /logout", standardRouteMiddleware.Then(handlePostLogout(proxy)))
	mux.Handle("GET /session", standardRouteMiddleware.Then(handleGetSession(proxy)))

	// the event stream hijacks the connection and lives as long as the client,
	// so it is not traced as a request
	mux.HandleUntraced("GET /events", events)

	// healthchecks are not included in telemetry
	mux.HandleUntraced("GET /healthcheck", standardRouteMiddleware.Then(handleHealthCheck()))

	return mux
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	hooks := &server.ShutdownHooks{}

	proxy, err := configureProxy(ctx, cfg, hooks)
	if err != nil {
		return err
	}

	events := stream.NewGateway(proxy, cfg.Stream)

	// hooks run in order: outstanding remote calls settle, then the store
	// closes, then event stream handlers finish, then telemetry is flushed
	hooks.AddContext("event stream", events.Shutdown)
	hooks.AddContext("telemetry", func(ctx context.Context) error {
		return shutdownTelemetry(ctx)
	})

	handler := configureServerRoutes(proxy, events)

	httpServer := &http.Server{
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	// event stream connections are hijacked, so Shutdown does not close them
	httpServer.RegisterOnShutdown(events.Close)

	err = server.Serve(ctx, cfg.Server, httpServer, hooks)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureProxy(ctx context.Context, cfg config.Config, hooks *server.ShutdownHooks) (*session.Proxy, error) {
	engine, err := cachepolicy.NewEngine(cfg.Session.SoftTTL, cfg.Session.HardTTL)
	if err != nil {
		return nil, fmt.Errorf("cache policy configuration failed: %w", err)
	}

	endpoint, err := remote.NewHTTPEndpoint(cfg.Remote)
	if err != nil {
		return nil, fmt.Errorf("remote API configuration failed: %w", err)
	}

	sessionStore, err := store.NewFromConfig(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("store configuration failed: %w", err)
	}

	proxy, err := session.New(ctx, engine, endpoint, sessionStore,
		session.WithRemoteTimeout(cfg.Session.RemoteTimeout),
	)
	if err != nil {
		_ = sessionStore.Close()
		return nil, fmt.Errorf("session proxy startup failed: %w", err)
	}

	hooks.AddClose("session proxy", proxy)
	hooks.AddClose("store", sessionStore)

	log.Info().
		Dur("soft_ttl", engine.Soft()).
		Dur("hard_ttl", engine.Hard()).
		Str("store", cfg.Store.Type).
		Str("remote", cfg.Remote.BaseURL).
		Msg("session proxy configured")

	return proxy, nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
