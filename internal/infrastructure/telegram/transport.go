package telegram

import (
	"context"
	"fmt"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"
)

type sender interface {
	Send(c api.Chattable) (api.Message, error)
}

// Transport pushes enforcement notices to the user's private chat. Platform user ids are
// expected to be Telegram user ids, which double as private chat ids.
type Transport struct {
	bot sender
}

func NewTransport(bot *api.BotAPI) *Transport {
	return &Transport{bot: bot}
}

// NewTransportFromToken connects to the Bot API with token.
func NewTransportFromToken(token string, debug bool) (*Transport, error) {
	bot, err := api.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("cant initialize bot api: %w", err)
	}
	bot.Debug = debug
	log.WithField("object", "Transport").Infof("authorized as @%s", bot.Self.UserName)
	return NewTransport(bot), nil
}

func (t *Transport) Push(ctx context.Context, userID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := api.NewMessage(userID, text)
	if _, err := t.bot.Send(msg); err != nil {
		if isUnreachable(err) {
			log.WithField("object", "Transport").WithField("user_id", userID).Debug("user cant be reached, skipping notice")
			return nil
		}
		return fmt.Errorf("failed to send notice: %w", err)
	}
	return nil
}

// isUnreachable matches errors retrying cannot fix.
func isUnreachable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "bot was blocked by the user") ||
		strings.Contains(msg, "chat not found") ||
		strings.Contains(msg, "user is deactivated")
}
