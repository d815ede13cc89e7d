// stream/stream_test.go
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeListenKeyAPI struct {
	starts     atomic.Int32
	keepalives atomic.Int32
	closes     atomic.Int32
}

func (f *fakeListenKeyAPI) StartUserDataStream(ctx context.Context) (string, error) {
	f.starts.Add(1)
	return "test-key", nil
}

func (f *fakeListenKeyAPI) KeepaliveUserDataStream(ctx context.Context, listenKey string) error {
	f.keepalives.Add(1)
	return nil
}

func (f *fakeListenKeyAPI) CloseUserDataStream(ctx context.Context, listenKey string) error {
	f.closes.Add(1)
	return nil
}

func TestReconnectDelayGrowsAndCaps(t *testing.T) {
	base := time.Second
	cap := time.Minute

	assert.Equal(t, time.Second, reconnectDelay(0, base, cap))
	assert.Equal(t, 2*time.Second, reconnectDelay(1, base, cap))
	assert.Equal(t, 4*time.Second, reconnectDelay(2, base, cap))
	assert.Equal(t, 32*time.Second, reconnectDelay(5, base, cap))
	assert.Equal(t, time.Minute, reconnectDelay(6, base, cap))
	assert.Equal(t, time.Minute, reconnectDelay(20, base, cap))

	// Delays never decrease.
	prev := time.Duration(0)
	for i := 0; i < 12; i++ {
		d := reconnectDelay(i, base, cap)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func TestDispatchRoutesByEventType(t *testing.T) {
	s := New(&fakeListenKeyAPI{}, "ws://unused", Config{})

	var orderFrames, anyFrames atomic.Int32
	s.Subscribe(EventOrderTradeUpdate, func(env Envelope) {
		orderFrames.Add(1)
		var upd OrderTradeUpdate
		require.NoError(t, json.Unmarshal(env.Raw, &upd))
		assert.Equal(t, "ETHUSDT", upd.Order.Symbol)
	})
	s.Subscribe(EventAny, func(env Envelope) { anyFrames.Add(1) })

	s.dispatch([]byte(`{"e":"ORDER_TRADE_UPDATE","E":1,"o":{"s":"ETHUSDT","X":"NEW"}}`))
	s.dispatch([]byte(`{"e":"ACCOUNT_UPDATE","E":2,"a":{}}`))

	assert.Equal(t, int32(1), orderFrames.Load())
	assert.Equal(t, int32(2), anyFrames.Load())
}

func TestDispatchDropsGarbage(t *testing.T) {
	s := New(&fakeListenKeyAPI{}, "ws://unused", Config{})
	var frames atomic.Int32
	s.Subscribe(EventAny, func(Envelope) { frames.Add(1) })

	s.dispatch([]byte(`not json`))
	assert.Equal(t, int32(0), frames.Load())
}

func newWSServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestStartDeliversMessages(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"e":"ORDER_TRADE_UPDATE","E":1,"o":{"s":"ETHUSDT","X":"FILLED"}}`))
		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	api := &fakeListenKeyAPI{}
	s := New(api, wsURL(server), Config{MaxReconnects: 1})

	received := make(chan Envelope, 1)
	s.Subscribe(EventOrderTradeUpdate, func(env Envelope) {
		select {
		case received <- env:
		default:
		}
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case env := <-received:
		assert.Equal(t, EventOrderTradeUpdate, env.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}
	assert.Equal(t, int32(1), api.starts.Load())
}

func TestStopIsIdempotent(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	api := &fakeListenKeyAPI{}
	s := New(api, wsURL(server), Config{MaxReconnects: 1})
	require.NoError(t, s.Start(context.Background()))

	s.Stop()
	s.Stop()

	// The listen key is released exactly once.
	assert.Equal(t, int32(1), api.closes.Load())
}

func TestStartTwiceIsNoOp(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	api := &fakeListenKeyAPI{}
	s := New(api, wsURL(server), Config{MaxReconnects: 1})
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Equal(t, int32(1), api.starts.Load())
}

func TestReconnectBudgetExhaustionTearsDown(t *testing.T) {
	// The first connection drops immediately and every redial is refused, so
	// the reconnect budget is spent and the stream must tear itself down.
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if conns.Add(1) > 1 {
			http.Error(w, "gone", http.StatusGone)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	t.Cleanup(server.Close)

	api := &fakeListenKeyAPI{}
	s := New(api, wsURL(server), Config{
		MaxReconnects: 2,
		BackoffBase:   time.Millisecond,
		BackoffCap:    5 * time.Millisecond,
	})
	require.NoError(t, s.Start(context.Background()))

	// Giving up releases the listen key and clears the running state.
	require.Eventually(t, func() bool { return api.closes.Load() == 1 },
		2*time.Second, 10*time.Millisecond)
	s.mu.Lock()
	running := s.running
	key := s.listenKey
	s.mu.Unlock()
	assert.False(t, running)
	assert.Empty(t, key)

	// No further reconnect attempts once the budget is spent.
	attempts := api.starts.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, attempts, api.starts.Load())

	// Stop after self-teardown is safe and issues no second key close.
	s.Stop()
	assert.Equal(t, int32(1), api.closes.Load())
}

type rotatingKeyAPI struct {
	fakeListenKeyAPI
}

func (f *rotatingKeyAPI) StartUserDataStream(ctx context.Context) (string, error) {
	return fmt.Sprintf("key-%d", f.starts.Add(1)), nil
}

func TestReconnectReleasesStaleListenKey(t *testing.T) {
	// The first connection drops immediately; the replacement stays up.
	var conns atomic.Int32
	server := newWSServer(t, func(conn *websocket.Conn) {
		if conns.Add(1) == 1 {
			conn.Close()
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	api := &rotatingKeyAPI{}
	s := New(api, wsURL(server), Config{
		MaxReconnects: 3,
		BackoffBase:   time.Millisecond,
		BackoffCap:    5 * time.Millisecond,
	})
	require.NoError(t, s.Start(context.Background()))

	// After the reconnect the abandoned first key is closed.
	require.Eventually(t, func() bool { return api.closes.Load() == 1 },
		2*time.Second, 10*time.Millisecond)
	s.mu.Lock()
	key := s.listenKey
	s.mu.Unlock()
	assert.Equal(t, "key-2", key)

	s.Stop()
	assert.Equal(t, int32(2), api.closes.Load())
}
