package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/marketetl/pkg/logger"
)

func TestProgressHub_PublishReachesSubscriber(t *testing.T) {
	hub := NewProgressHub(logger.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(hub.Serve))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/progress"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Wait for the hub to register the subscriber before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 1, hub.ClientCount())

	hub.Publish("derive", map[string]interface{}{"symbol": "SPY"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event ProgressEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "derive", event.Stage)
	assert.Equal(t, "SPY", event.Detail["symbol"])
	assert.False(t, event.Time.IsZero())
}

func TestProgressHub_PublishWithoutSubscribersIsSafe(t *testing.T) {
	hub := NewProgressHub(logger.NewNop())
	hub.Publish("done", nil)
	assert.Equal(t, 0, hub.ClientCount())
}
