package chatclient

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whispr/internal/models"
	"whispr/internal/realtime"
	"whispr/internal/realtime/realtimetest"
)

type party struct {
	session *Session
	nav     *navRecorder
}

type chatFixture struct {
	broker *realtimetest.Broker
	gw     *memGateway
	clock  clockwork.FakeClock
	host   party
	guest  party
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	f := &chatFixture{
		broker: realtimetest.NewBroker(),
		clock:  clockwork.NewFakeClock(),
	}
	f.gw = newMemGateway(f.broker)
	f.gw.addSession("chat_abc", "Alice")
	adapter := realtime.NewAdapter(f.broker, realtime.Options{Clock: f.clock, Logger: zap.NewNop()})

	hostID := "user-alice"
	f.host = f.newParty(t, adapter, "Alice", models.RoleHost, &hostID)
	f.guest = f.newParty(t, adapter, "Bob", models.RoleGuest, nil)
	return f
}

func (f *chatFixture) newParty(t *testing.T, adapter *realtime.Adapter, name string, role models.Role, userID *string) party {
	nav := &navRecorder{}
	s := NewSession(Config{
		Gateway:     f.gw,
		Adapter:     adapter,
		Navigator:   nav,
		DisplayName: name,
		Role:        role,
		UserID:      userID,
		Clock:       f.clock,
		Logger:      zap.NewNop(),
	})
	t.Cleanup(s.Close)
	return party{session: s, nav: nav}
}

func waitSubscribed(t *testing.T, s *Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Snapshot().Connection == realtime.StatusSubscribed
	}, waitFor, 5*time.Millisecond)
}

func (f *chatFixture) joinBoth(t *testing.T) {
	t.Helper()
	require.NoError(t, f.host.session.JoinSession(context.Background(), "chat_abc"))
	require.NoError(t, f.guest.session.JoinSession(context.Background(), "chat_abc"))
	waitSubscribed(t, f.host.session)
	waitSubscribed(t, f.guest.session)
}

// countdown runs both parties' countdowns to zero.
func (f *chatFixture) countdown() {
	for i := 0; i < CountdownSeconds; i++ {
		f.clock.BlockUntil(2)
		f.clock.Advance(time.Second)
	}
}

func TestJoinSessionIsIdempotent(t *testing.T) {
	f := newChatFixture(t)
	s := f.host.session

	require.NoError(t, s.JoinSession(context.Background(), "chat_abc"))
	waitSubscribed(t, s)
	fetches := f.gw.fetches()

	require.NoError(t, s.JoinSession(context.Background(), "chat_abc"))
	assert.Equal(t, fetches, f.gw.fetches())
	assert.Equal(t, 1, f.broker.Connects("chat_abc"))
	assert.Equal(t, 1, f.broker.Subscribers("chat_abc"))
}

func TestJoinSessionSwitchTearsDownPrevious(t *testing.T) {
	f := newChatFixture(t)
	f.gw.addSession("chat_next", "Alice")
	f.gw.seed("chat_abc", msg("m1", "chat_abc", "old"))
	s := f.host.session

	require.NoError(t, s.JoinSession(context.Background(), "chat_abc"))
	waitSubscribed(t, s)
	require.NoError(t, s.JoinSession(context.Background(), "chat_next"))
	waitSubscribed(t, s)

	assert.Equal(t, 0, f.broker.Subscribers("chat_abc"))
	assert.Equal(t, 1, f.broker.Subscribers("chat_next"))

	f.broker.PublishInsert(msg("m2", "chat_abc", "stale"))
	snap := s.Snapshot()
	assert.Equal(t, "chat_next", snap.ChatID)
	assert.Empty(t, snap.Messages)
}

func TestJoinSessionOnEndedChat(t *testing.T) {
	f := newChatFixture(t)
	f.gw.deactivate("chat_abc")

	require.NoError(t, f.guest.session.JoinSession(context.Background(), "chat_abc"))

	snap := f.guest.session.Snapshot()
	assert.True(t, snap.Ended)
	assert.False(t, snap.Active)
	assert.Equal(t, []string{DestChatEnded}, f.guest.nav.all())
	assert.Equal(t, 0, f.broker.Connects("chat_abc"))
}

func TestSendMessageRoundTrip(t *testing.T) {
	f := newChatFixture(t)
	f.joinBoth(t)

	before := time.Now()
	require.NoError(t, f.host.session.SendMessage(context.Background(), "  hello Bob  "))

	for _, p := range []party{f.host, f.guest} {
		s := p.session
		require.Eventually(t, func() bool { return len(s.Snapshot().Messages) == 1 }, waitFor, 5*time.Millisecond)
		got := s.Snapshot().Messages[0]
		assert.Equal(t, "hello Bob", got.MessageText)
		assert.Equal(t, "Alice", got.SenderName)
		require.NotNil(t, got.UserID)
		assert.Equal(t, "user-alice", *got.UserID)
		assert.False(t, got.CreatedAt.Before(before))
	}

	// A duplicate delivery of the same row changes nothing.
	f.broker.PublishInsert(f.host.session.Snapshot().Messages[0])
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, f.guest.session.Snapshot().Messages, 1)
}

func TestTypingReachesTheOtherParty(t *testing.T) {
	f := newChatFixture(t)
	f.joinBoth(t)

	f.host.session.InputChanged("h")
	require.Eventually(t, func() bool {
		return len(f.guest.session.Snapshot().TypingUsers) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"Alice"}, f.guest.session.Snapshot().TypingUsers)
	assert.Empty(t, f.host.session.Snapshot().TypingUsers)

	require.NoError(t, f.host.session.SendMessage(context.Background(), "hi"))
	assert.Eventually(t, func() bool {
		return len(f.guest.session.Snapshot().TypingUsers) == 0
	}, waitFor, 5*time.Millisecond)
}

func TestHostEndsChat(t *testing.T) {
	f := newChatFixture(t)
	f.joinBoth(t)

	f.host.session.EndSession(context.Background(), models.RoleHost)
	require.Eventually(t, func() bool {
		return f.guest.session.Snapshot().Phase == PhaseEnding
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, models.RoleHost, f.guest.session.Snapshot().EndedBy)
	assert.Equal(t, CountdownSeconds, f.guest.session.Snapshot().Countdown)

	f.countdown()

	require.Eventually(t, func() bool {
		return len(f.host.nav.all()) == 1 && len(f.guest.nav.all()) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1, f.gw.ends("chat_abc"))
	assert.Equal(t, []string{DestDashboard}, f.host.nav.all())
	assert.Equal(t, []string{DestChatEnded}, f.guest.nav.all())

	snap := f.guest.session.Snapshot()
	assert.Equal(t, PhaseTerminated, snap.Phase)
	assert.True(t, snap.Ended)
}

func TestBothPartiesEndAtOnce(t *testing.T) {
	f := newChatFixture(t)
	f.joinBoth(t)

	f.host.session.EndSession(context.Background(), models.RoleHost)
	f.guest.session.EndSession(context.Background(), models.RoleGuest)

	require.Eventually(t, func() bool {
		return !f.guest.session.coord.Initiator()
	}, waitFor, 5*time.Millisecond)
	assert.True(t, f.host.session.coord.Initiator())

	f.countdown()

	require.Eventually(t, func() bool {
		return len(f.host.nav.all()) == 1 && len(f.guest.nav.all()) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1, f.gw.ends("chat_abc"))
}

func TestMissedEndIsFoundWhenReconnectIsRefused(t *testing.T) {
	f := newChatFixture(t)
	f.joinBoth(t)

	// Both parties drop off and the chat is ended elsewhere. The server
	// then refuses the topic, so no resubscribe ever happens.
	f.broker.Drop("chat_abc")
	require.Eventually(t, func() bool {
		return f.guest.session.Snapshot().Connection == realtime.StatusChannelError &&
			f.host.session.Snapshot().Connection == realtime.StatusChannelError
	}, waitFor, 5*time.Millisecond)
	f.gw.deactivate("chat_abc")

	f.clock.BlockUntil(2)
	f.clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		return len(f.guest.nav.all()) == 1 && len(f.host.nav.all()) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{DestChatEnded}, f.guest.nav.all())
	assert.Equal(t, []string{DestDashboard}, f.host.nav.all())
	assert.Zero(t, f.gw.ends("chat_abc"))

	snap := f.guest.session.Snapshot()
	assert.Equal(t, PhaseTerminated, snap.Phase)
	assert.True(t, snap.Ended)
	assert.Nil(t, snap.Error)
	assert.Equal(t, 4, f.broker.Connects("chat_abc"))
}

func TestMissedEndIsFoundOnResubscribe(t *testing.T) {
	f := newChatFixture(t)
	f.joinBoth(t)

	f.broker.Drop("chat_abc")
	require.Eventually(t, func() bool {
		return f.guest.session.Snapshot().Connection == realtime.StatusChannelError &&
			f.host.session.Snapshot().Connection == realtime.StatusChannelError
	}, waitFor, 5*time.Millisecond)
	// The row is already inactive but the topic still admits subscribers.
	f.gw.mu.Lock()
	f.gw.sessions["chat_abc"].IsActive = false
	f.gw.mu.Unlock()

	f.clock.BlockUntil(2)
	f.clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		return len(f.guest.nav.all()) == 1 && len(f.host.nav.all()) == 1
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{DestChatEnded}, f.guest.nav.all())
	assert.Equal(t, PhaseTerminated, f.guest.session.Snapshot().Phase)
	assert.Zero(t, f.gw.ends("chat_abc"))
}

func TestJoinSessionAfterTerminationDoesNothing(t *testing.T) {
	f := newChatFixture(t)
	f.joinBoth(t)

	f.host.session.EndSession(context.Background(), models.RoleHost)
	require.Eventually(t, func() bool {
		return f.guest.session.Snapshot().Phase == PhaseEnding
	}, waitFor, 5*time.Millisecond)
	f.countdown()
	require.Eventually(t, func() bool {
		return len(f.guest.nav.all()) == 1
	}, waitFor, 5*time.Millisecond)
	connects, fetches := f.broker.Connects("chat_abc"), f.gw.fetches()

	require.NoError(t, f.guest.session.JoinSession(context.Background(), "chat_abc"))
	require.NoError(t, f.guest.session.Retry(context.Background()))

	assert.Equal(t, []string{DestChatEnded}, f.guest.nav.all())
	assert.Equal(t, PhaseTerminated, f.guest.session.Snapshot().Phase)
	assert.Equal(t, connects, f.broker.Connects("chat_abc"))
	assert.Equal(t, fetches, f.gw.fetches())
}

func TestRealtimeErrorIsCategorizedAndRetryable(t *testing.T) {
	f := newChatFixture(t)
	f.broker.RejectNext("chat_abc", "permission denied", 1)
	s := f.guest.session

	require.NoError(t, s.JoinSession(context.Background(), "chat_abc"))
	require.Eventually(t, func() bool {
		e := s.Snapshot().Error
		return e != nil && e.Kind == ErrorRealtime
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, "Realtime connection error: permission denied. Try refreshing.", s.Snapshot().Error.Message)

	require.NoError(t, s.Retry(context.Background()))
	waitSubscribed(t, s)
	assert.Nil(t, s.Snapshot().Error)
	assert.Equal(t, 2, f.broker.Connects("chat_abc"))
}

func TestInputFocusedClearsError(t *testing.T) {
	f := newChatFixture(t)
	f.joinBoth(t)
	f.gw.mu.Lock()
	f.gw.appendErr = assert.AnError
	f.gw.mu.Unlock()

	require.Error(t, f.guest.session.SendMessage(context.Background(), "hello"))
	require.NotNil(t, f.guest.session.Snapshot().Error)
	assert.Equal(t, ErrorStore, f.guest.session.Snapshot().Error.Kind)

	f.guest.session.InputFocused()
	assert.Nil(t, f.guest.session.Snapshot().Error)
}

func TestCloseReleasesEverything(t *testing.T) {
	f := newChatFixture(t)
	f.joinBoth(t)

	f.host.session.InputChanged("typing")
	f.host.session.EndSession(context.Background(), models.RoleHost)
	f.host.session.Close()

	assert.Equal(t, 1, f.broker.Subscribers("chat_abc"))
	assert.Error(t, f.host.session.JoinSession(context.Background(), "chat_abc"))
	f.clock.Advance(time.Minute)
	assert.Empty(t, f.host.nav.all())
	assert.Zero(t, f.gw.ends("chat_abc"))
}
