package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEvent(t *testing.T, genID string, typ EventType, payload any) Event {
	t.Helper()
	ev, err := NewEvent(genID, typ, payload)
	require.NoError(t, err)
	return ev
}

func TestStreamsDeliverOnlyToMatchingGeneration(t *testing.T) {
	streams := NewStreams(zerolog.Nop())
	a := streams.Subscribe("g1")
	b := streams.Subscribe("g2")
	defer a.Close()
	defer b.Close()

	streams.Publish(mustEvent(t, "g1", EventVisualProcessing, VisualProcessing{Type: "hero", Index: 0}))

	select {
	case ev := <-a.C:
		assert.Equal(t, EventVisualProcessing, ev.Type)
		assert.JSONEq(t, `{"type":"hero","index":0}`, string(ev.Data))
	case <-time.After(time.Second):
		t.Fatal("expected event on g1")
	}
	select {
	case ev := <-b.C:
		t.Fatalf("unexpected event on g2: %+v", ev)
	default:
	}
}

func TestStreamsDropWhenBufferFull(t *testing.T) {
	streams := NewStreams(zerolog.Nop())
	sub := streams.Subscribe("g1")
	defer sub.Close()

	ev := mustEvent(t, "g1", EventGenerationProgress, GenerationProgress{ProgressPercent: 10})
	for i := 0; i < streamBuffer+10; i++ {
		streams.Publish(ev)
	}
	assert.Len(t, sub.C, streamBuffer)
}

func TestSubscriptionCloseDeregisters(t *testing.T) {
	streams := NewStreams(zerolog.Nop())
	sub := streams.Subscribe("g1")
	assert.Equal(t, 1, streams.Subscribers("g1"))
	sub.Close()
	sub.Close()
	assert.Equal(t, 0, streams.Subscribers("g1"))
}

func TestServeStreamWritesEventsVerbatim(t *testing.T) {
	streams := NewStreams(zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streams.ServeStream(w, r, "g1")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	require.Eventually(t, func() bool { return streams.Subscribers("g1") == 1 }, time.Second, 5*time.Millisecond)
	streams.Publish(mustEvent(t, "g1", EventVisualFailed, VisualFailed{Type: "hero", Index: 1, Error: "nope"}))

	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	assert.Equal(t, "event: visual_failed", lines[0])
	assert.Equal(t, `data: {"type":"hero","index":1,"error":"nope"}`, lines[1])

	cancel()
	require.Eventually(t, func() bool { return streams.Subscribers("g1") == 0 }, time.Second, 5*time.Millisecond)
}

func TestServeStreamKeepAlive(t *testing.T) {
	streams := NewStreams(zerolog.Nop())
	streams.SetKeepAlive(20 * time.Millisecond)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streams.ServeStream(w, r, "g1")
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)
	_, _ = reader.ReadString('\n')
	_, _ = reader.ReadString('\n')
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": keepalive\n", line)
}

func TestRoomsSubscribeReceiveUnsubscribe(t *testing.T) {
	rooms := NewRooms(zerolog.Nop(), nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rooms.ServeWS(w, r, func(r *http.Request, genID string) error {
			if genID == "forbidden" {
				return errors.New("nope")
			}
			return nil
		})
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	readJSON := func() map[string]any {
		var out map[string]any
		require.NoError(t, conn.ReadJSON(&out))
		return out
	}

	require.NoError(t, conn.WriteJSON(RoomMessage{Action: "subscribe", GenerationID: "forbidden"}))
	assert.Equal(t, "error", readJSON()["type"])

	require.NoError(t, conn.WriteJSON(RoomMessage{Action: "subscribe", GenerationID: "g1"}))
	ack := readJSON()
	assert.Equal(t, "ack", ack["type"])
	assert.Equal(t, 1, rooms.Members("g1"))
	assert.Equal(t, 0, rooms.Members("forbidden"))

	rooms.Publish(mustEvent(t, "g1", EventGenerationComplete, GenerationComplete{Status: "COMPLETED", Completed: 2, Total: 2}))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventGenerationComplete, ev.Type)
	assert.Equal(t, "g1", ev.GenerationID)

	require.NoError(t, conn.WriteJSON(RoomMessage{Action: "unsubscribe", GenerationID: "g1"}))
	assert.Equal(t, "ack", readJSON()["type"])
	assert.Equal(t, 0, rooms.Members("g1"))
}

func TestBroadcasterFansOut(t *testing.T) {
	streams := NewStreams(zerolog.Nop())
	b := NewBroadcaster(streams, NewRooms(zerolog.Nop(), nil))
	sub := streams.Subscribe("g1")
	defer sub.Close()

	b.Emit(context.Background(), mustEvent(t, "g1", EventVisualCompleted, VisualCompleted{Type: "hero"}))
	assert.Len(t, sub.C, 1)
}

func TestDecodeBusMessage(t *testing.T) {
	ev := mustEvent(t, "g1", EventGenerationProgress, GenerationProgress{ProgressPercent: 50, Completed: 1, Total: 2})
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	got, err := decodeBusMessage(string(raw))
	require.NoError(t, err)
	assert.Equal(t, ev.Type, got.Type)
	assert.JSONEq(t, string(ev.Data), string(got.Data))

	_, err = decodeBusMessage(`{"type":"x"}`)
	assert.Error(t, err)
}
