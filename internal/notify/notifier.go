// Package notify reports finished broadcasts to the operator chat.
package notify

import (
	"context"
	"fmt"

	"tg-crm/internal/broadcast"
	"tg-crm/internal/locales"
	"tg-crm/pkg/telegoapi"

	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog/log"
)

// Notifier sends run summaries to a single chat. A zero chat ID disables it.
type Notifier struct {
	bot      telegoapi.BotAPI
	chatID   int64
	language string
}

// New creates a notifier writing to chatID in the given language.
func New(bot telegoapi.BotAPI, chatID int64, language string) *Notifier {
	return &Notifier{bot: bot, chatID: chatID, language: language}
}

// NotifyCompleted sends the localized summary of a run.
func (n *Notifier) NotifyCompleted(ctx context.Context, s *broadcast.Summary) error {
	if n.chatID == 0 {
		return nil
	}

	text := Format(locales.NewLocalizer(n.language), s)
	if _, err := n.bot.SendMessage(ctx, tu.Message(tu.ID(n.chatID), text)); err != nil {
		return fmt.Errorf("sending summary of %s: %w", s.BroadcastID.Hex(), err)
	}
	log.Debug().Str("broadcast", s.BroadcastID.Hex()).Int64("chat_id", n.chatID).Msg("[Notify] Summary sent")
	return nil
}
