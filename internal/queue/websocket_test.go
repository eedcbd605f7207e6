package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depotlabs/depot/internal/common"
	"github.com/depotlabs/depot/internal/models"
)

func dialTestHub(t *testing.T, hub *WSHub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSHubBroadcastsEvents(t *testing.T) {
	hub := NewWSHub(common.NewSilentLogger())
	go hub.Run()
	defer hub.Stop()

	conn := dialTestHub(t, hub)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	hub.Broadcast(models.JobEvent{
		Type:      models.EventJobCompleted,
		Queue:     "processing",
		Job:       &models.Job{ID: "job-1", Status: models.JobStatusCompleted},
		Timestamp: time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var event models.JobEvent
	require.NoError(t, json.Unmarshal(message, &event))
	assert.Equal(t, models.EventJobCompleted, event.Type)
	assert.Equal(t, "processing", event.Queue)
	require.NotNil(t, event.Job)
	assert.Equal(t, "job-1", event.Job.ID)
}

func TestWSHubTracksDisconnects(t *testing.T) {
	hub := NewWSHub(common.NewSilentLogger())
	go hub.Run()
	defer hub.Stop()

	conn := dialTestHub(t, hub)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestWSHubAttachRelaysQueueEvents(t *testing.T) {
	reg := NewRegistry(common.NewSilentLogger())
	defer reg.Shutdown(context.Background())

	q := reg.Get("processing", Options{Concurrency: 1})
	q.RegisterProcessor("noop", func(ctx context.Context, h *Handle) (any, error) {
		return true, nil
	})

	hub := NewWSHub(common.NewSilentLogger())
	hub.Attach(q)
	go hub.Run()
	defer hub.Stop()

	conn := dialTestHub(t, hub)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	id, err := q.AddJob("noop", nil, AddOptions{})
	require.NoError(t, err)
	<-q.Wait(id)

	// Expect the added/started/completed sequence over the wire.
	seen := make([]string, 0, 3)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for len(seen) < 3 {
		_, message, err := conn.ReadMessage()
		require.NoError(t, err)
		var event models.JobEvent
		require.NoError(t, json.Unmarshal(message, &event))
		seen = append(seen, event.Type)
	}
	assert.Equal(t, []string{models.EventJobAdded, models.EventJobStarted, models.EventJobCompleted}, seen)
}
