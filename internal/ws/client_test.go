package ws

import (
	"context"
	"encoding/json"
	"github.com/alicebob/miniredis/v2"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"supmap-location/internal/cache"
	"supmap-location/internal/location"
	"sync"
	"testing"
	"time"
)

type recordingPublisher struct {
	mu        sync.Mutex
	positions []location.Position
	errors    []string
}

func (p *recordingPublisher) PublishPosition(_ context.Context, _ string, pos location.Position) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions = append(p.positions, pos)
	return nil
}

func (p *recordingPublisher) PublishError(_ context.Context, _ string, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errors = append(p.errors, reason)
	return nil
}

type wsTest struct {
	manager   *Manager
	cache     *cache.RedisPositionCache
	publisher *recordingPublisher
	server    *httptest.Server
}

func newWSTest(t *testing.T) *wsTest {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	positionCache := cache.NewRedisPositionCache(rdb, time.Hour)
	publisher := &recordingPublisher{}
	manager := NewManager(ctx, slog.Default(), positionCache, publisher, location.DefaultSessionConfig())
	go manager.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/devices/{deviceID}/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		manager.HandleNewConnection(r.PathValue("deviceID"), conn)
	})
	mux.HandleFunc("/devices/{deviceID}/watch", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		_ = manager.Watch(r.Context(), r.PathValue("deviceID"), conn)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		manager.Shutdown()
		cancel()
		server.Close()
	})
	return &wsTest{manager: manager, cache: positionCache, publisher: publisher, server: server}
}

func (wt *wsTest) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(wt.server.URL, "http") + path
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func (wt *wsTest) waitConnected(t *testing.T, deviceID string) *Client {
	t.Helper()
	var client *Client
	require.Eventually(t, func() bool {
		c, ok := wt.manager.Client(deviceID)
		client = c
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	return client
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, NewMessage(msgType, data)))
}

// expect reads messages until one of msgType arrives.
func expect(t *testing.T, conn *websocket.Conn, msgType string) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		var msg Message
		require.NoError(t, wsjson.Read(ctx, conn, &msg), "waiting for %q", msgType)
		if msg.Type == msgType {
			return msg
		}
	}
}

func ptr(v float64) *float64 { return &v }

func TestClient_LocateAcceptsGoodPosition(t *testing.T) {
	wt := newWSTest(t)
	conn := wt.dial(t, "/devices/device-1/ws")
	wt.waitConnected(t, "device-1")

	send(t, conn, TypeLocate, LocateRequest{Timeout: ptr(5)})
	expect(t, conn, TypeStart)

	good := location.Position{Lat: 48.8566, Lon: 2.3522, Accuracy: 12, Timestamp: time.Now()}
	send(t, conn, TypePosition, good)
	expect(t, conn, TypeStop)

	msg := expect(t, conn, TypeLocation)
	var payload LocationPayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, good.Accuracy, payload.Position.Accuracy)
	assert.NotEmpty(t, payload.SessionID)

	require.Eventually(t, func() bool {
		cached, err := wt.cache.GetLastPosition(context.Background(), "device-1")
		return err == nil && cached.Accuracy == good.Accuracy
	}, 2*time.Second, 10*time.Millisecond)

	wt.publisher.mu.Lock()
	assert.Len(t, wt.publisher.positions, 1)
	wt.publisher.mu.Unlock()
}

func TestClient_LocateFallsBackOnTimeout(t *testing.T) {
	wt := newWSTest(t)
	conn := wt.dial(t, "/devices/device-1/ws")
	wt.waitConnected(t, "device-1")

	send(t, conn, TypeLocate, LocateRequest{DesiredAccuracy: ptr(20), Timeout: ptr(0.2)})
	expect(t, conn, TypeStart)
	send(t, conn, TypePosition, location.Position{Lat: 1, Lon: 1, Accuracy: 400, Timestamp: time.Now()})

	msg := expect(t, conn, TypeLocation)
	var payload LocationPayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, 400.0, payload.Position.Accuracy)
}

func TestClient_LocateTimesOutWithoutPosition(t *testing.T) {
	wt := newWSTest(t)
	conn := wt.dial(t, "/devices/device-1/ws")
	wt.waitConnected(t, "device-1")

	send(t, conn, TypeLocate, LocateRequest{Timeout: ptr(0.1)})
	msg := expect(t, conn, TypeError)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, location.ErrTimeout.Error(), payload.Message)
}

func TestClient_DeviceErrorFailsSession(t *testing.T) {
	wt := newWSTest(t)
	conn := wt.dial(t, "/devices/device-1/ws")
	wt.waitConnected(t, "device-1")

	send(t, conn, TypeLocate, nil)
	expect(t, conn, TypeStart)
	send(t, conn, TypeError, ErrorPayload{Message: "permission revoked"})

	msg := expect(t, conn, TypeError)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Contains(t, payload.Message, "permission revoked")
}

func TestClient_LocateWhileActiveAndCancel(t *testing.T) {
	wt := newWSTest(t)
	conn := wt.dial(t, "/devices/device-1/ws")
	client := wt.waitConnected(t, "device-1")

	send(t, conn, TypeLocate, LocateRequest{Timeout: ptr(30)})
	expect(t, conn, TypeStart)

	send(t, conn, TypeLocate, nil)
	msg := expect(t, conn, TypeError)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, location.ErrSessionActive.Error(), payload.Message)

	send(t, conn, TypeCancel, nil)
	expect(t, conn, TypeCancelled)
	assert.Equal(t, location.StateCancelled, client.Session().State())
}

func TestClient_LocateReusesCachedPosition(t *testing.T) {
	wt := newWSTest(t)
	cached := location.Position{Lat: 44.8378, Lon: -0.5792, Accuracy: 8, Timestamp: time.Now()}
	require.NoError(t, wt.cache.SetLastPosition(context.Background(), "device-1", cached))

	conn := wt.dial(t, "/devices/device-1/ws")
	wt.waitConnected(t, "device-1")

	send(t, conn, TypeLocate, nil)
	msg := expect(t, conn, TypeLocation)
	var payload LocationPayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, cached.Accuracy, payload.Position.Accuracy)
}

func TestManager_WatchStreamsRawUpdates(t *testing.T) {
	wt := newWSTest(t)
	device := wt.dial(t, "/devices/device-1/ws")
	client := wt.waitConnected(t, "device-1")

	watcher := wt.dial(t, "/devices/device-1/watch")
	require.Eventually(t, func() bool {
		return client.Session().Observers() == 1
	}, 2*time.Second, 10*time.Millisecond)

	send(t, device, TypeLocate, LocateRequest{DesiredAccuracy: ptr(5), Timeout: ptr(30)})
	expect(t, device, TypeStart)

	rejected := location.Position{Lat: 1, Lon: 1, Accuracy: 300, Timestamp: time.Now()}
	send(t, device, TypePosition, rejected)

	msg := expect(t, watcher, TypeUpdate)
	var pos location.Position
	require.NoError(t, json.Unmarshal(msg.Data, &pos))
	assert.Equal(t, rejected.Accuracy, pos.Accuracy)
}

func TestManager_ReplacesPreviousConnection(t *testing.T) {
	wt := newWSTest(t)
	wt.dial(t, "/devices/device-1/ws")
	first := wt.waitConnected(t, "device-1")

	wt.dial(t, "/devices/device-1/ws")
	require.Eventually(t, func() bool {
		c, ok := wt.manager.Client("device-1")
		return ok && c != first
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return first.ctx.Err() != nil && first.Session().State() == location.StateCancelled
	}, time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, first.Session().Start(location.DefaultSessionConfig(), func(location.Position, error) {}), location.ErrSessionClosed)
	assert.False(t, first.Session().IsLocating())
}
