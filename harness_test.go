package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/refinemirror/session-proxy/internal/config"
	"github.com/refinemirror/session-proxy/internal/server"
	"github.com/refinemirror/session-proxy/internal/session"
	"github.com/refinemirror/session-proxy/internal/stream"
	"github.com/refinemirror/session-proxy/internal/testhelpers"
	"github.com/stretchr/testify/require"
)

// APITestHarness runs the proxy's HTTP surface against a mock remote API.
type APITestHarness struct {
	t      *testing.T
	Server *httptest.Server
	Remote *testhelpers.MockRemoteServer
	Proxy  *session.Proxy
	Config config.Config
}

// APITestHarnessOption configures the harness before the server starts.
type APITestHarnessOption func(*config.Config)

// WithFileStore persists the session to a file in a temporary directory.
func WithFileStore() APITestHarnessOption {
	return func(cfg *config.Config) {
		cfg.Store.Type = "file"
	}
}

// NewAPITestHarness creates the harness. Cleanup is handled via t.Cleanup().
func NewAPITestHarness(t *testing.T, options ...APITestHarnessOption) *APITestHarness {
	t.Helper()
	testhelpers.SetupLogger(t)

	hooks := &server.ShutdownHooks{}
	t.Cleanup(func() {
		_ = hooks.Execute(context.Background())
	})

	remote := testhelpers.SetupMockRemoteServer()
	hooks.AddContext("remote", func(context.Context) error {
		remote.Close()
		return nil
	})

	cfg := config.Config{
		Session: config.SessionConfig{
			SoftTTL:       time.Minute,
			HardTTL:       2 * time.Minute,
			RemoteTimeout: 5 * time.Second,
		},
		Remote: config.RemoteConfig{
			BaseURL: remote.BaseURL(),
		},
		Store: config.StoreConfig{
			Type:      "memory",
			FilePath:  t.TempDir() + "/session.yaml",
			Namespace: "session-proxy-test",
		},
		Stream: config.StreamConfig{
			WriteTimeout: time.Second,
		},
		Observe: config.ObserveConfig{
			Enabled: false,
		},
	}

	for _, opt := range options {
		opt(&cfg)
	}

	// the proxy and store are closed before the remote server
	proxyHooks := &server.ShutdownHooks{}
	proxy, err := configureProxy(context.Background(), cfg, proxyHooks)
	require.NoError(t, err)

	events := stream.NewGateway(proxy, cfg.Stream)
	proxyHooks.AddContext("event stream", events.Shutdown)

	svr := httptest.NewServer(configureServerRoutes(proxy, events))
	t.Cleanup(func() {
		events.Close()
		svr.Close()
		_ = proxyHooks.Execute(context.Background())
	})

	return &APITestHarness{
		t:      t,
		Server: svr,
		Remote: remote,
		Proxy:  proxy,
		Config: cfg,
	}
}

func (h *APITestHarness) Client() *TestClient {
	return &TestClient{
		t:       h.t,
		baseURL: h.Server.URL,
		client:  http.DefaultClient,
	}
}

// TestClient provides typed access to the proxy's endpoints for testing.
type TestClient struct {
	t       *testing.T
	baseURL string
	client  *http.Client
}

// Response wraps raw HTTP response for low-level assertions.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Request performs a low-level HTTP request and returns the raw response.
func (c *TestClient) Request(method, path string, body io.Reader) (*Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       bodyBytes,
		Headers:    resp.Header,
	}, nil
}

// Send performs a request with a JSON body and requires it to be accepted.
func (c *TestClient) Send(method, path string, payload any) {
	c.t.Helper()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(c.t, err)
		body = bytes.NewReader(b)
	}

	resp, err := c.Request(method, path, body)
	require.NoError(c.t, err)
	require.Equal(c.t, http.StatusAccepted, resp.StatusCode, string(resp.Body))
}

// LoggedIn queries GET /session.
func (c *TestClient) LoggedIn() bool {
	c.t.Helper()

	resp, err := c.Request(http.MethodGet, "/session", nil)
	require.NoError(c.t, err)
	require.Equal(c.t, http.StatusOK, resp.StatusCode)

	var state SessionResponse
	require.NoError(c.t, json.Unmarshal(resp.Body, &state))

	return state.LoggedIn
}

// Events connects to the event stream. The connection is registered by the
// time Events returns.
func (h *APITestHarness) Events() *EventStream {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	before := h.Proxy.SubscriberCount()

	url := "ws" + strings.TrimPrefix(h.Server.URL, "http") + "/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = conn.CloseNow() })

	require.Eventually(h.t, func() bool {
		return h.Proxy.SubscriberCount() > before
	}, testhelpers.EventuallyWait, testhelpers.EventuallyTick)

	return &EventStream{t: h.t, conn: conn}
}

// EventStream reads proxy events from a websocket connection.
type EventStream struct {
	t    *testing.T
	conn *websocket.Conn
}

// Next returns the next event.
func (s *EventStream) Next() stream.Message {
	s.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var msg stream.Message
	require.NoError(s.t, wsjson.Read(ctx, s.conn, &msg))

	return msg
}

// NextOutcome returns the next event that is not a loading notification.
func (s *EventStream) NextOutcome() stream.Message {
	s.t.Helper()

	for {
		msg := s.Next()
		if msg.Type != "loading_started" && msg.Type != "loading_ended" {
			return msg
		}
	}
}
