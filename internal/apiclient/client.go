// Package apiclient talks to the Whispr HTTP API on behalf of a chat client.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"whispr/internal/models"
)

var (
	ErrSessionNotFound = errors.New("chat session not found")
	ErrSessionInactive = errors.New("chat session is no longer active")
	ErrInviteUsed      = errors.New("invitation link has already been used")
)

const defaultTimeout = 15 * time.Second

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
	Details string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Details)
	}
	return e.Message
}

// Client is a JSON client for the session and message endpoints. The token
// is optional; hosts pass theirs so their messages carry a user id.
type Client struct {
	baseURL string
	token   string
	hc      *http.Client
	logger  *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: defaultTimeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchSession loads the session row.
func (c *Client) FetchSession(ctx context.Context, chatID string) (models.ChatSession, error) {
	var session models.ChatSession
	err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID), nil, &session)
	if isStatus(err, http.StatusNotFound) {
		return models.ChatSession{}, ErrSessionNotFound
	}
	return session, err
}

// ListMessages returns the chat's messages, oldest first.
func (c *Client) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID)+"/messages", nil, &resp)
	if isStatus(err, http.StatusNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if resp.Messages == nil {
		resp.Messages = []models.Message{}
	}
	return resp.Messages, nil
}

// AppendMessage stores a message. The server attributes it to the bearer
// token's user, so userID is only checked against the token being present.
func (c *Client) AppendMessage(ctx context.Context, chatID, senderName, text string, userID *string) (models.Message, error) {
	if userID != nil && c.token == "" {
		return models.Message{}, errors.New("user id given without a token")
	}
	body := map[string]string{"senderName": senderName, "text": text}
	var msg models.Message
	err := c.do(ctx, http.MethodPost, "/chats/"+url.PathEscape(chatID)+"/messages", body, &msg)
	switch {
	case isStatus(err, http.StatusNotFound):
		return models.Message{}, ErrSessionNotFound
	case isStatus(err, http.StatusGone):
		return models.Message{}, ErrSessionInactive
	}
	return msg, err
}

// EndSession deactivates the session and purges its messages.
func (c *Client) EndSession(ctx context.Context, chatID string) error {
	err := c.do(ctx, http.MethodPost, "/end-chat-session", map[string]string{"chatId": chatID}, nil)
	if isStatus(err, http.StatusNotFound) {
		return ErrSessionNotFound
	}
	return err
}

// JoinResult is the body of a successful join.
type JoinResult struct {
	ChatID    string `json:"chatId"`
	HostName  string `json:"hostName"`
	GuestName string `json:"guestName"`
}

// ValidateJoin claims the invite for guestName.
func (c *Client) ValidateJoin(ctx context.Context, chatID, guestName string) (JoinResult, error) {
	var res JoinResult
	err := c.do(ctx, http.MethodPost, "/validate-join", map[string]string{"chatId": chatID, "guestName": guestName}, &res)
	switch {
	case isStatus(err, http.StatusNotFound):
		return JoinResult{}, ErrSessionNotFound
	case isStatus(err, http.StatusGone):
		return JoinResult{}, ErrSessionInactive
	case isStatus(err, http.StatusForbidden):
		return JoinResult{}, ErrInviteUsed
	}
	return res, err
}

// SendInvite creates the session and emails the guest a join link.
// It needs a host token.
func (c *Client) SendInvite(ctx context.Context, guestEmail, chatID, hostName string) error {
	body := map[string]string{"guestEmail": guestEmail, "chatId": chatID, "hostName": hostName}
	return c.do(ctx, http.MethodPost, "/send-invite", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var e struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			apiErr.Message = e.Error
			apiErr.Details = e.Details
		}
		c.logger.Debug("api request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("error", apiErr.Message),
		)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
