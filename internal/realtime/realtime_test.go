package realtime

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grepwise/grepwise/internal/model"
)

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	if query != "" {
		url += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBroadcasterFansOutToAllSubscribers(t *testing.T) {
	b := New(nil)
	server := httptest.NewServer(b)
	defer server.Close()

	conn := dial(t, server, "")
	time.Sleep(20 * time.Millisecond) // allow registration to complete
	require.Equal(t, 1, b.ClientCount())

	b.Emit([]model.LogRecord{{ID: "1", Source: "app", Message: "hello"}})

	var got []model.LogRecord
	require.NoError(t, conn.ReadJSON(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Message)
}

func TestBroadcasterFiltersBySourceQueryParam(t *testing.T) {
	b := New(nil)
	server := httptest.NewServer(b)
	defer server.Close()

	conn := dial(t, server, "source=app-a")
	time.Sleep(20 * time.Millisecond)

	b.Emit([]model.LogRecord{
		{ID: "1", Source: "app-b", Message: "ignored"},
		{ID: "2", Source: "app-a", Message: "matched"},
	})

	var got []model.LogRecord
	require.NoError(t, conn.ReadJSON(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "matched", got[0].Message)
}

func TestEmitOnEmptyBatchIsNoop(t *testing.T) {
	b := New(nil)
	b.Emit(nil)
	assert.Equal(t, 0, b.ClientCount())
}

func TestClientDisconnectUnregisters(t *testing.T) {
	b := New(nil)
	server := httptest.NewServer(b)
	defer server.Close()

	conn := dial(t, server, "")
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, b.ClientCount())

	conn.Close()
	require.Eventually(t, func() bool {
		return b.ClientCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestStartHeartbeatStopsOnContextCancel(t *testing.T) {
	b := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.StartHeartbeat(ctx, 5*time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StartHeartbeat did not return after context cancellation")
	}
}
