package realtime

import (
	"errors"
	"strings"

	"whispr/internal/models"
)

var (
	// ErrMaxRetries is reported once the retry budget is spent.
	ErrMaxRetries = errors.New("maximum retry attempts reached")
	// ErrNotSubscribed is returned by Send outside the subscribed state.
	ErrNotSubscribed = errors.New("realtime channel is not subscribed")
)

// ChannelError is a failure reported for a topic subscription.
type ChannelError struct {
	Reason    string
	Transient bool
	Timeout   bool
}

func (e *ChannelError) Error() string {
	return e.Reason
}

// IsTransient reports whether err is worth another subscription attempt.
func IsTransient(err error) bool {
	var chErr *ChannelError
	return errors.As(err, &chErr) && chErr.Transient
}

// classifyReason maps a server error frame to a ChannelError. Only store
// outages are retried; rejections such as an unknown chat are final.
func classifyReason(reason string) *ChannelError {
	transient := strings.Contains(strings.ToLower(reason), models.ReasonStoreUnavailable)
	return &ChannelError{Reason: reason, Transient: transient}
}

func connectionLost(err error) *ChannelError {
	reason := "connection closed"
	if err != nil {
		reason = err.Error()
	}
	return &ChannelError{Reason: reason, Transient: true}
}

var errSubscribeTimeout = &ChannelError{Reason: "subscription timed out", Transient: true, Timeout: true}
