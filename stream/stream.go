// stream/stream.go
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"aster-volume-bot/logs"
)

const (
	pongWait   = 70 * time.Second
	pingPeriod = 30 * time.Second
)

// ListenKeyAPI is the slice of the REST client the stream needs for its
// listen key lifecycle.
type ListenKeyAPI interface {
	StartUserDataStream(ctx context.Context) (string, error)
	KeepaliveUserDataStream(ctx context.Context, listenKey string) error
	CloseUserDataStream(ctx context.Context, listenKey string) error
}

// Config tunes reconnect and keepalive behaviour.
type Config struct {
	MaxReconnects int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	Keepalive     time.Duration
}

// Handler receives one classified message.
type Handler func(Envelope)

// Stream maintains the private user-data websocket: listen key lifecycle,
// keepalive, reconnect with exponential backoff, and fan-out of classified
// messages to subscribers.
type Stream struct {
	api    ListenKeyAPI
	wsBase string
	cfg    Config

	mu        sync.Mutex
	conn      *websocket.Conn
	listenKey string
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}

	handlersMu sync.RWMutex
	handlers   map[EventType][]Handler
}

// New creates a stream for the given websocket base URL, e.g.
// wss://fstream.asterdex.com.
func New(api ListenKeyAPI, wsBase string, cfg Config) *Stream {
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = time.Minute
	}
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = 30 * time.Minute
	}
	return &Stream{
		api:      api,
		wsBase:   wsBase,
		cfg:      cfg,
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe registers a handler for one event type. Use EventAny to receive
// every message. Subscriptions must be set up before Start.
func (s *Stream) Subscribe(t EventType, h Handler) {
	s.handlersMu.Lock()
	s.handlers[t] = append(s.handlers[t], h)
	s.handlersMu.Unlock()
}

// reconnectDelay returns the backoff before reconnect attempt n (0-based):
// base*2^n, never exceeding the cap.
func reconnectDelay(attempt int, base, cap time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

// Start obtains a listen key, connects, and launches the read and keepalive
// loops. Calling Start on a running stream is a no-op.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}

	key, err := s.api.StartUserDataStream(ctx)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to start user data stream: %w", err)
	}
	s.listenKey = key

	conn, err := s.dial(key)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.conn = conn
	s.running = true

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(runCtx)
	logs.Infof("[Stream] Connected to user data stream")
	return nil
}

// Stop tears the stream down. It is idempotent: a second Stop does nothing
// and issues no second listen key close.
func (s *Stream) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	conn := s.conn
	key := s.listenKey
	done := s.done
	s.conn = nil
	s.listenKey = ""
	s.mu.Unlock()

	cancel()
	if conn != nil {
		conn.Close()
	}
	<-done

	if key != "" {
		ctx, cancelClose := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelClose()
		if err := s.api.CloseUserDataStream(ctx, key); err != nil {
			logs.Warnf("[Stream] Failed to close listen key: %v", err)
		}
	}
	logs.Infof("[Stream] Stopped")
}

func (s *Stream) dial(listenKey string) (*websocket.Conn, error) {
	url := s.wsBase + "/ws/" + listenKey
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", s.wsBase, err)
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	return conn, nil
}

// run owns the connection: it reads until failure, reconnects with backoff,
// and keeps the listen key alive. It exits when ctx is canceled or the
// reconnect budget is exhausted.
func (s *Stream) run(ctx context.Context) {
	defer close(s.done)

	keepalive := time.NewTicker(s.cfg.Keepalive)
	defer keepalive.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				s.mu.Lock()
				conn := s.conn
				s.mu.Unlock()
				if conn != nil {
					conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
				}
			case <-keepalive.C:
				s.mu.Lock()
				key := s.listenKey
				s.mu.Unlock()
				if key == "" {
					continue
				}
				kctx, cancel := context.WithTimeout(ctx, 10*time.Second)
				if err := s.api.KeepaliveUserDataStream(kctx, key); err != nil {
					logs.Warnf("[Stream] Listen key keepalive failed: %v", err)
				}
				cancel()
			}
		}
	}()

	attempt := 0
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		err := s.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		logs.Warnf("[Stream] Connection lost: %v", err)

		for {
			if attempt >= s.cfg.MaxReconnects {
				logs.Errorf("[Stream] Giving up after %d reconnect attempts", attempt)
				s.giveUp()
				return
			}
			delay := reconnectDelay(attempt, s.cfg.BackoffBase, s.cfg.BackoffCap)
			attempt++
			logs.Infof("[Stream] Reconnecting in %s (attempt %d/%d)", delay, attempt, s.cfg.MaxReconnects)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if err := s.reconnect(ctx); err != nil {
				logs.Warnf("[Stream] Reconnect failed: %v", err)
				continue
			}
			attempt = 0
			break
		}
	}
}

// giveUp tears the stream down from inside run once the reconnect budget is
// spent: the context is canceled so the keepalive goroutine exits, and the
// listen key is released. A later Stop then has nothing left to do.
func (s *Stream) giveUp() {
	s.mu.Lock()
	s.running = false
	cancel := s.cancel
	conn := s.conn
	key := s.listenKey
	s.conn = nil
	s.listenKey = ""
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if key != "" {
		ctx, cancelClose := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelClose()
		if err := s.api.CloseUserDataStream(ctx, key); err != nil {
			logs.Warnf("[Stream] Failed to close listen key: %v", err)
		}
	}
}

// reconnect refreshes the listen key, redials, then releases the key the old
// connection was using so the venue does not keep a stale stream open.
func (s *Stream) reconnect(ctx context.Context) error {
	kctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	key, err := s.api.StartUserDataStream(kctx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to refresh listen key: %w", err)
	}
	conn, err := s.dial(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	old := s.listenKey
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.listenKey = key
	s.mu.Unlock()

	if old != "" && old != key {
		cctx, cancelClose := context.WithTimeout(ctx, 10*time.Second)
		if err := s.api.CloseUserDataStream(cctx, old); err != nil {
			logs.Warnf("[Stream] Failed to close stale listen key: %v", err)
		}
		cancelClose()
	}
	logs.Infof("[Stream] Reconnected")
	return nil
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	if conn == nil {
		return fmt.Errorf("no connection")
	}
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.dispatch(msg)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// dispatch classifies one frame and fans it out. Unknown event types still
// reach wildcard subscribers.
func (s *Stream) dispatch(msg []byte) {
	var hdr eventHeader
	if err := json.Unmarshal(msg, &hdr); err != nil {
		logs.Warnf("[Stream] Dropping unparseable frame: %v", err)
		return
	}

	env := Envelope{Type: EventType(hdr.EventType), Raw: json.RawMessage(msg)}

	if env.Type == EventListenKeyExpired {
		logs.Warnf("[Stream] Listen key expired, forcing reconnect")
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			// Closing the socket makes readLoop fail, which triggers the
			// reconnect path and a fresh listen key.
			conn.Close()
		}
	}

	s.handlersMu.RLock()
	targets := make([]Handler, 0, 4)
	targets = append(targets, s.handlers[env.Type]...)
	targets = append(targets, s.handlers[EventAny]...)
	s.handlersMu.RUnlock()

	for _, h := range targets {
		h(env)
	}
}
