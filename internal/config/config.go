package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Session SessionConfig
	Remote  RemoteConfig
	Store   StoreConfig
	Stream  StreamConfig
	Observe ObserveConfig
	Server  ServerConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// SessionConfig holds the cache windows applied to the user profile.
type SessionConfig struct {
	// SoftTTL is the window in which the cached profile is served without any
	// refresh.
	SoftTTL time.Duration `env:"SESSION_SOFT_TTL, default=60s"`

	// HardTTL is the window in which the cached profile is still served, but
	// a background refresh is started. Beyond it the profile is never served
	// stale.
	HardTTL time.Duration `env:"SESSION_HARD_TTL, default=120s"`

	// RemoteTimeout bounds each call dispatched to the remote API.
	RemoteTimeout time.Duration `env:"SESSION_REMOTE_TIMEOUT, default=30s"`
}

type RemoteConfig struct {
	BaseURL string `env:"REMOTE_API_URL, default=http://localhost:9000/api/v1/"`
}

// StoreConfig specifies where the session token and last known profile are
// persisted.
type StoreConfig struct {
	// Type selects the store implementation: "memory" (default), "file" or
	// "valkey".
	Type string `env:"STORE_TYPE, default=memory"`

	// FilePath is the location of the file store.
	FilePath string `env:"STORE_FILE_PATH, default=session.yaml"`

	// Namespace is the hash key used by the valkey store.
	Namespace string `env:"STORE_NAMESPACE, default=session-proxy"`

	// Valkey holds distributed store settings.
	Valkey ValkeyConfig
}

// ValkeyConfig specifies distributed store configuration.
type ValkeyConfig struct {
	// Address is the Valkey server address (host:port).
	Address string `env:"VALKEY_ADDRESS"`

	// TLS enables TLS connection to Valkey. Defaults to true so the secure option
	// is the default.
	TLS bool `env:"VALKEY_TLS, default=true"`

	// Username for Valkey authentication.
	Username string `env:"VALKEY_USERNAME"`

	// Password for Valkey authentication.
	Password string `env:"VALKEY_PASSWORD"`
}

// StreamConfig configures the websocket event stream offered to UI clients.
type StreamConfig struct {
	OriginPatterns []string      `env:"STREAM_ORIGIN_PATTERNS"`
	WriteTimeout   time.Duration `env:"STREAM_WRITE_TIMEOUT, default=5s"`

	// QueueSize is the number of events buffered per connection. A client
	// that falls further behind is disconnected.
	QueueSize int `env:"STREAM_QUEUE_SIZE, default=32"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=session-proxy"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Session.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid session configuration: %w", err)
	}

	err = cfg.Store.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid store configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the cache windows are usable: the hard window must
// contain the soft window.
func (c *SessionConfig) Validate() error {
	if c.SoftTTL <= 0 {
		return fmt.Errorf("SESSION_SOFT_TTL must be positive, got %s", c.SoftTTL)
	}

	if c.HardTTL < c.SoftTTL {
		return fmt.Errorf("SESSION_HARD_TTL (%s) must not be less than SESSION_SOFT_TTL (%s)", c.HardTTL, c.SoftTTL)
	}

	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("SESSION_REMOTE_TIMEOUT must be positive, got %s", c.RemoteTimeout)
	}

	return nil
}

// Validate checks that the store configuration is valid.
func (c *StoreConfig) Validate() error {
	switch c.Type {
	case "memory":
	case "file":
		if c.FilePath == "" {
			return fmt.Errorf("STORE_FILE_PATH required when STORE_TYPE=file")
		}
	case "valkey":
		if c.Valkey.Address == "" {
			return fmt.Errorf("VALKEY_ADDRESS required when STORE_TYPE=valkey")
		}
		if c.Namespace == "" {
			return fmt.Errorf("STORE_NAMESPACE required when STORE_TYPE=valkey")
		}
	default:
		return fmt.Errorf("invalid store type %q: must be one of \"memory\", \"file\" or \"valkey\"", c.Type)
	}

	return nil
}
