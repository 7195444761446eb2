package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/refinemirror/session-proxy/internal/profile"
	"github.com/refinemirror/session-proxy/internal/stream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_LogsEventsUntilServerCloses(t *testing.T) {
	missing := false

	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		_ = wsjson.Write(r.Context(), conn, stream.Message{
			Type:        "auth_successful",
			MissingInfo: &missing,
		})
		_ = wsjson.Write(r.Context(), conn, stream.Message{
			Type:    "profile_updated",
			Profile: &profile.Profile{Name: "Ada", Email: "ada@example.com"},
		})
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	}))
	t.Cleanup(svr.Close)

	var out bytes.Buffer
	logger := zerolog.New(&out)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := watch(ctx, Config{
		URL:         "ws" + strings.TrimPrefix(svr.URL, "http"),
		DialTimeout: time.Second,
	}, logger)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], `"type":"auth_successful"`)
	assert.Contains(t, lines[1], `"missingInfo":false`)
	assert.Contains(t, lines[2], `"email":"ada@example.com"`)
}

func TestWatch_DialFailure(t *testing.T) {
	svr := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(svr.URL, "http")
	svr.Close()

	err := watch(context.Background(), Config{URL: url, DialTimeout: time.Second}, zerolog.Nop())
	assert.ErrorContains(t, err, "dial")
}
