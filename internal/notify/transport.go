package notify

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Transport delivers rendered notices to a user in real time.
type Transport interface {
	Push(ctx context.Context, userID int64, text string) error
}

// LogTransport only logs notices. It is used when no real transport is configured.
type LogTransport struct{}

func (LogTransport) Push(_ context.Context, userID int64, text string) error {
	log.WithField("object", "LogTransport").WithField("user_id", userID).Info(text)
	return nil
}
