package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"whispr/internal/identity"
	"whispr/internal/models"
	"whispr/internal/observability"
	"whispr/internal/repositories"
)

// TokenParser resolves an optional host token.
type TokenParser interface {
	Parse(token string) (identity.Identity, error)
}

// ChatWebSocketHandler serves the realtime topic of a chat session.
type ChatWebSocketHandler struct {
	hub      *Hub
	sessions repositories.SessionRepository
	tokens   TokenParser
	logger   *zap.Logger
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler.
func NewChatWebSocketHandler(hub *Hub, sessions repositories.SessionRepository, tokens TokenParser, logger *zap.Logger) *ChatWebSocketHandler {
	return &ChatWebSocketHandler{hub: hub, sessions: sessions, tokens: tokens, logger: logger}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and subscribes it to chat-<chatId>.
// Hosts may pass a token; guests subscribe anonymously.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	chatID := strings.TrimSpace(c.Param("chat_id"))
	if chatID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	ctx, span := otel.Tracer(observability.TracerName).Start(c.Request.Context(), "ws.handshake", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	span.SetAttributes(attribute.String("chat.id", chatID))
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxFrameSize)

	info := ConnInfo{
		ConnID:      newConnID(),
		ChatID:      chatID,
		UserID:      h.userID(c),
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := newClient(conn, info)
	go client.writePump()

	if reason := h.admit(ctx, chatID); reason != "" {
		h.logger.Info("realtime subscription rejected", zap.String("chat_id", chatID), zap.String("reason", reason))
		client.enqueue(mustFrame(models.Frame{Type: models.FrameError, Reason: reason}))
		client.close()
		publishWSEvent(ctx, info, "ws_error", reason)
		return
	}

	topic := models.Topic(chatID)
	client.enqueue(mustFrame(models.Frame{Type: models.FrameSystem, Status: models.StatusSubscribed}))
	h.hub.Add(topic, client)

	observability.IncWSActive()
	publishWSEvent(ctx, info, "ws_connect", "")

	go h.readLoop(context.WithoutCancel(ctx), topic, client)
}

func (h *ChatWebSocketHandler) admit(ctx context.Context, chatID string) string {
	session, err := h.sessions.GetSession(ctx, chatID)
	switch {
	case errors.Is(err, repositories.ErrSessionNotFound):
		return models.ReasonSessionNotFound
	case err != nil:
		h.logger.Error("realtime session lookup failed", zap.String("chat_id", chatID), zap.Error(err))
		return models.ReasonStoreUnavailable
	case !session.IsActive:
		return models.ReasonSessionInactive
	}
	return ""
}

// readLoop relays broadcast frames from this subscriber to the rest of the topic.
func (h *ChatWebSocketHandler) readLoop(ctx context.Context, topic string, client *Client) {
	conn := client.conn
	var closeReason string
	defer func() {
		h.hub.Remove(topic, client)
		client.close()
		observability.DecWSActive()
		publishWSEvent(ctx, client.info, "ws_disconnect", closeReason)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishWSEvent(ctx, client.info, "ws_error", closeReason)
			}
			return
		}

		var frame models.Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type != models.FrameBroadcast || frame.Event == "" {
			h.logger.Debug("ignoring client frame", zap.String("conn_id", client.ID()))
			continue
		}
		frame.Origin = client.ID()
		frame.Message = nil
		h.hub.Publish(ctx, topic, frame)
	}
}

func (h *ChatWebSocketHandler) userID(c *gin.Context) string {
	if h.tokens == nil {
		return ""
	}
	token := c.Query("token")
	if header := c.GetHeader("Authorization"); header != "" {
		if parts := strings.SplitN(header, " ", 2); len(parts) == 2 {
			token = parts[1]
		}
	}
	if token == "" {
		return ""
	}
	id, err := h.tokens.Parse(token)
	if err != nil {
		return ""
	}
	return id.UserID
}

func mustFrame(frame models.Frame) []byte {
	payload, _ := json.Marshal(frame)
	return payload
}
