package realtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"whispr/internal/models"
)

const (
	wsWriteWait = 10 * time.Second
	// wsReadWait matches the server's pong wait. The server pings more
	// often than that, so a quiet but healthy connection never expires.
	wsReadWait   = 60 * time.Second
	wsFrameQueue = 32
)

// WebSocketTransport connects to the server's /ws/chats/:chat_id endpoint.
type WebSocketTransport struct {
	baseURL  string
	token    string
	dialer   *websocket.Dialer
	readWait time.Duration
	logger   *zap.Logger
}

// NewWebSocketTransport builds a transport for a ws:// or wss:// base URL.
// http and https schemes are rewritten. token is optional.
func NewWebSocketTransport(baseURL, token string, logger *zap.Logger) *WebSocketTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	}
	return &WebSocketTransport{
		baseURL: base,
		token:   token,
		dialer:   &websocket.Dialer{HandshakeTimeout: DefaultSubscribeTimeout},
		readWait: wsReadWait,
		logger:   logger,
	}
}

func (t *WebSocketTransport) Connect(ctx context.Context, chatID string) (Conn, error) {
	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}
	target := t.baseURL + "/ws/chats/" + url.PathEscape(chatID)

	raw, resp, err := t.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s", target, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	conn := &wsConn{
		raw:      raw,
		readWait: t.readWait,
		frames:   make(chan models.Frame, wsFrameQueue),
		done:     make(chan struct{}),
	}
	conn.extendRead()
	raw.SetPingHandler(conn.handlePing)
	go conn.readLoop(t.logger)
	return conn, nil
}

type wsConn struct {
	raw      *websocket.Conn
	readWait time.Duration
	frames   chan models.Frame
	done     chan struct{}

	writeMu sync.Mutex
	errMu   sync.Mutex
	err     error
	once    sync.Once
}

func (c *wsConn) Frames() <-chan models.Frame {
	return c.frames
}

func (c *wsConn) extendRead() {
	_ = c.raw.SetReadDeadline(time.Now().Add(c.readWait))
}

// handlePing answers server pings and keeps the read deadline alive. A
// half-open connection stops pinging and the next read times out.
func (c *wsConn) handlePing(data string) error {
	c.extendRead()
	err := c.raw.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(wsWriteWait))
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return nil
	}
	return err
}

func (c *wsConn) readLoop(logger *zap.Logger) {
	defer close(c.frames)
	for {
		var frame models.Frame
		if err := c.raw.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Debug("realtime read failed", zap.Error(err))
			}
			c.setErr(err)
			return
		}
		c.extendRead()
		select {
		case c.frames <- frame:
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *wsConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *wsConn) Send(ctx context.Context, frame models.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(wsWriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.raw.SetWriteDeadline(deadline)
	return c.raw.WriteJSON(frame)
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.raw.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.raw.Close()
	})
	return err
}
