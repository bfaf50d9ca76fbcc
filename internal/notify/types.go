package notify

import (
	"context"
	"errors"
)

// ErrDelivery wraps any failure to hand a notification to the messaging
// endpoint (unreachable, unauthorized, rejected payload).
var ErrDelivery = errors.New("notification delivery failed")

// Notifier delivers one rendered notification to the configured destination.
// Send must not return nil unless the endpoint confirmed the message.
type Notifier interface {
	Send(ctx context.Context, text string) error
}
