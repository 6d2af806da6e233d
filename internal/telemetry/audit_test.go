package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	routingKey string
	event      any
	headers    map[string]string
	err        error
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, event any, headers map[string]string) error {
	p.routingKey = routingKey
	p.event = event
	p.headers = headers
	return p.err
}

func TestEmitBuildsEnvelope(t *testing.T) {
	pub := &recordingPublisher{}
	emitter := NewAuditEmitter(pub, "audit.whispr", "whispr", "test", zap.NewNop())

	emitter.Emit(context.Background(), AuditEntry{Level: "INFO", Text: "Chat session ended", RequestID: "req-1", ChatID: "abc"})

	require.Equal(t, "audit.whispr", pub.routingKey)
	envelope, ok := pub.event.(AuditEnvelope)
	require.True(t, ok)
	assert.Equal(t, "audit_log", envelope.EventType)
	assert.Equal(t, "whispr", envelope.Service)
	assert.Equal(t, "abc", envelope.ChatID)
	assert.Equal(t, "Chat session ended", envelope.Payload.Text)
	assert.Equal(t, "req-1", pub.headers["x-request-id"])
}

func TestEmitSwallowsPublishErrors(t *testing.T) {
	pub := &recordingPublisher{err: assert.AnError}
	emitter := NewAuditEmitter(pub, "audit.whispr", "whispr", "test", zap.NewNop())

	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), AuditEntry{Level: "ERROR", Text: "x"})
	})
}

func TestNilEmitterIsNoop(t *testing.T) {
	var emitter *AuditEmitter
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), AuditEntry{Level: "INFO"})
	})
}
