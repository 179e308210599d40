package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestHubBroadcastsToSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Network: "sepolia"})
	go h.Run(ctx)

	conn := dial(t, h)
	status := readEnvelope(t, conn)
	assert.Equal(t, "status", status["type"])

	require.Eventually(t, func() bool { return h.clientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.Send(ctx, domain.Notification{Title: "Borrow settled", Severity: domain.SeveritySuccess}))
	msg := readEnvelope(t, conn)
	assert.Equal(t, TopicNotification, msg["type"])
	payload := msg["payload"].(map[string]any)
	assert.Equal(t, "Borrow settled", payload["title"])
}

func TestClientTopicFilter(t *testing.T) {
	c := &client{subs: map[string]bool{TopicView: true}}
	assert.True(t, c.isSubscribed(TopicView))
	assert.False(t, c.isSubscribed(TopicTransition))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Topics: []string{TopicTransition}})
	assert.True(t, c.isSubscribed(TopicTransition))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Topics: []string{TopicView}})
	assert.False(t, c.isSubscribed(TopicView))
}
