package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"whispr/internal/models"
)

// Routing keys consumed by the mail delivery worker.
const (
	RoutingKeyInvite = "mail.invite"
	RoutingKeyCode   = "mail.otp"
)

// Publisher hands rendered emails to the delivery worker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// Invite is the data needed to invite a guest into a session.
type Invite struct {
	GuestEmail string
	HostName   string
	ChatID     string
}

var inviteTemplate = template.Must(template.New("invite").Parse(`<div>
  <h2>You've been invited to a chat!</h2>
  <p>Hi there,</p>
  <p><strong>{{.Host}}</strong> has invited you to join a private chat.</p>
  <p>Click the link below to join:</p>
  <p><a href="{{.Link}}" target="_blank">Join Chat</a></p>
  <p>Chat ID: {{.ChatID}}</p>
  <p>If you were not expecting this invitation, please ignore this email.</p>
  <p>Thanks,<br/>The Whispr Team</p>
</div>`))

var codeTemplate = template.Must(template.New("code").Parse(`<div>
  <h2>Your Whispr sign-in code</h2>
  <p>Enter this code to continue: <strong>{{.Code}}</strong></p>
  <p>It expires in {{.Minutes}} minutes.</p>
</div>`))

// InviteMailer renders Whispr emails and queues them for delivery.
type InviteMailer struct {
	publisher Publisher
	from      string
	siteURL   string
	logger    *zap.Logger
}

func NewInviteMailer(publisher Publisher, from, siteURL string, logger *zap.Logger) *InviteMailer {
	return &InviteMailer{
		publisher: publisher,
		from:      from,
		siteURL:   strings.TrimRight(siteURL, "/"),
		logger:    logger,
	}
}

// JoinURL is the link a guest follows to claim an invite.
func JoinURL(siteURL, chatID string) string {
	return strings.TrimRight(siteURL, "/") + "/join/" + chatID
}

// SendInvite renders the invitation and queues it.
func (m *InviteMailer) SendInvite(ctx context.Context, invite Invite) error {
	host := invite.HostName
	if host == "" {
		host = "Someone"
	}

	var body bytes.Buffer
	err := inviteTemplate.Execute(&body, struct {
		Host   string
		Link   string
		ChatID string
	}{Host: host, Link: JoinURL(m.siteURL, invite.ChatID), ChatID: invite.ChatID})
	if err != nil {
		return fmt.Errorf("render invite: %w", err)
	}

	email := models.Email{
		To:      invite.GuestEmail,
		From:    (&mail.Address{Name: host + " (via Whispr)", Address: m.from}).String(),
		Subject: host + " has invited you to a chat!",
		HTML:    body.String(),
	}
	if err := m.publisher.Publish(ctx, RoutingKeyInvite, email, nil); err != nil {
		return fmt.Errorf("queue invite: %w", err)
	}
	m.logger.Info("invite queued", zap.String("chat_id", invite.ChatID))
	return nil
}

// SendCode queues a one-time sign-in code.
func (m *InviteMailer) SendCode(ctx context.Context, email, code string, minutes int) error {
	var body bytes.Buffer
	err := codeTemplate.Execute(&body, struct {
		Code    string
		Minutes int
	}{Code: code, Minutes: minutes})
	if err != nil {
		return fmt.Errorf("render code: %w", err)
	}

	msg := models.Email{
		To:      email,
		From:    (&mail.Address{Name: "Whispr", Address: m.from}).String(),
		Subject: "Your Whispr sign-in code",
		HTML:    body.String(),
		Text:    "Your Whispr sign-in code is " + code,
	}
	if err := m.publisher.Publish(ctx, RoutingKeyCode, msg, nil); err != nil {
		return fmt.Errorf("queue code: %w", err)
	}
	return nil
}
