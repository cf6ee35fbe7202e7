// Package feed maintains the real-time market data and user event
// streams over the venue's WebSocket endpoints.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marketloop/spreadbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// pingPeriod is the application heartbeat interval.
	pingPeriod = 10 * time.Second

	// livenessWait is how long the connection may stay silent (no data,
	// no pong) before it is declared dead and redialed.
	livenessWait = 30 * time.Second

	// reconnectBase is the first reconnect delay; each subsequent
	// attempt doubles it up to reconnectMax.
	reconnectBase = 1 * time.Second
	reconnectMax  = 30 * time.Second

	// maxReconnectAttempts bounds consecutive failed redials before the
	// transport gives up and reports domain.ErrWSDisconnect.
	maxReconnectAttempts = 10
)

// transport owns one WebSocket connection: dialing, heartbeats, liveness
// enforcement, and reconnection with exponential backoff. Incoming
// frames go to onFrame; onConnect runs after every successful dial so
// the owner can (re)subscribe.
type transport struct {
	url    string
	name   string
	logger *slog.Logger

	onConnect func(conn *websocket.Conn) error
	onFrame   func(raw []byte)

	mu   sync.Mutex
	conn *websocket.Conn
}

func newTransport(url, name string, logger *slog.Logger) *transport {
	return &transport{
		url:    url,
		name:   name,
		logger: logger.With(slog.String("component", "feed/"+name)),
	}
}

// Run dials the endpoint and pumps frames until ctx is cancelled or the
// reconnect budget is exhausted. It always returns a non-nil error on
// abnormal exit; context cancellation returns ctx.Err().
func (t *transport) Run(ctx context.Context) error {
	attempts := 0
	for {
		if err := t.dial(ctx); err != nil {
			attempts++
			if attempts >= maxReconnectAttempts {
				return fmt.Errorf("feed/%s: %w: %d consecutive dial failures", t.name, domain.ErrWSDisconnect, attempts)
			}
			delay := backoffDelay(attempts)
			t.logger.Warn("dial failed, retrying",
				slog.Int("attempt", attempts),
				slog.Duration("delay", delay),
				slog.Any("error", err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		attempts = 0

		err := t.pump(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.logger.Warn("connection lost, reconnecting", slog.Any("error", err))
	}
}

// Send marshals nothing; it writes a prepared JSON frame on the current
// connection. Returns an error when disconnected.
func (t *transport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("feed/%s: %w", t.name, domain.ErrWSDisconnect)
	}
	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// ---- Internal helpers ----

func (t *transport) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", t.url, err)
	}

	conn.SetReadDeadline(time.Now().Add(livenessWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(livenessWait))
		return nil
	})

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	if t.onConnect != nil {
		if err := t.onConnect(conn); err != nil {
			t.closeConn()
			return fmt.Errorf("post-connect: %w", err)
		}
	}
	t.logger.Info("connected")
	return nil
}

// pump reads frames until the connection drops, running the heartbeat
// alongside. The read deadline doubles as the liveness check: any frame
// or pong pushes it forward.
func (t *transport) pump(ctx context.Context) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go t.pingLoop(pingCtx, conn)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	defer t.closeConn()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(livenessWait))
		if t.onFrame != nil {
			t.onFrame(raw)
		}
	}
}

func (t *transport) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (t *transport) closeConn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

// backoffDelay returns min(reconnectBase * 2^(attempt-1), reconnectMax).
func backoffDelay(attempt int) time.Duration {
	d := reconnectBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= reconnectMax {
			return reconnectMax
		}
	}
	if d > reconnectMax {
		return reconnectMax
	}
	return d
}
