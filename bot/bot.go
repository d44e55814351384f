// Package bot consumes Telegram updates and registers everyone who writes to the
// bot as a CRM client, so later broadcasts can reach them.
package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"tg-crm/internal/database"
	"tg-crm/internal/database/models"
	"tg-crm/internal/locales"
	"tg-crm/pkg/telegoapi"

	"github.com/getsentry/sentry-go"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog/log"
	"go.uber.org/ratelimit"
)

const processTimeout = 30 * time.Second

// Bot is the update loop of the intake bot.
type Bot struct {
	bot         telegoapi.BotAPI
	updatesChan <-chan telego.Update
	clients     database.ClientRepository
	source      string
	language    string
	ratelimiter ratelimit.Limiter
}

// Deps holds the dependencies required by the Bot.
type Deps struct {
	Bot         telegoapi.BotAPI
	UpdatesChan <-chan telego.Update
	Clients     database.ClientRepository
	Source      string // Recorded as the client's bot source
	Language    string // Fallback language of replies
}

// New creates a new Bot instance from its dependencies.
func New(deps Deps) (*Bot, error) {
	if deps.Bot == nil {
		return nil, fmt.Errorf("telego bot (BotAPI) instance cannot be nil")
	}
	if deps.UpdatesChan == nil {
		return nil, fmt.Errorf("updates channel cannot be nil")
	}
	if deps.Clients == nil {
		return nil, fmt.Errorf("client repository cannot be nil")
	}

	return &Bot{
		bot:         deps.Bot,
		updatesChan: deps.UpdatesChan,
		clients:     deps.Clients,
		source:      deps.Source,
		language:    deps.Language,
		ratelimiter: ratelimit.New(20),
	}, nil
}

// Start processes updates until ctx is done or the channel is closed.
func (b *Bot) Start(ctx context.Context) {
	log.Info().Str("source", b.source).Msg("[Bot] Listening for updates")

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("[Bot] Context done, stopping update processing")
			return
		case update, ok := <-b.updatesChan:
			if !ok {
				log.Info().Msg("[Bot] Updates channel closed")
				return
			}
			wg.Add(1)
			go func(up telego.Update) {
				defer wg.Done()
				b.processUpdate(ctx, up)
			}(update)
		}
	}
}

// processUpdate registers the sender of a private message and answers /start.
func (b *Bot) processUpdate(ctx context.Context, update telego.Update) {
	b.ratelimiter.Take()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("[Bot] Panic recovered in processUpdate")
			sentry.CurrentHub().Recover(r)
		}
	}()

	processingCtx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	message := update.Message
	if message == nil || message.From == nil || message.From.IsBot {
		return
	}
	if message.Chat.Type != telego.ChatTypePrivate {
		return
	}

	client := clientFromUser(message.From, b.source)
	if err := b.clients.UpsertClient(processingCtx, client); err != nil {
		log.Error().Err(err).Int64("user_id", message.From.ID).Msg("[Bot] Failed to register client")
		sentry.CaptureException(fmt.Errorf("registering client %d: %w", message.From.ID, err))
		return
	}
	log.Debug().Int64("user_id", message.From.ID).Str("username", message.From.Username).Msg("[Bot] Client registered")

	if isCommand(message.Text, "start") {
		localizer := locales.NewLocalizer(message.From.LanguageCode, b.language)
		text := locales.GetMessage(localizer, locales.MsgWelcome, map[string]interface{}{
			"Name": message.From.FirstName,
		})
		if _, err := b.bot.SendMessage(processingCtx, tu.Message(tu.ID(message.Chat.ID), text)); err != nil {
			log.Warn().Err(err).Int64("chat_id", message.Chat.ID).Msg("[Bot] Failed to send welcome message")
		}
	}
}

func clientFromUser(u *telego.User, source string) *models.Client {
	return &models.Client{
		UserID:    u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		BotSource: source,
	}
}

// isCommand reports whether text is the given command, with or without a bot mention or arguments.
func isCommand(text, command string) bool {
	if !strings.HasPrefix(text, "/") {
		return false
	}
	name := strings.Fields(text)[0][1:]
	name, _, _ = strings.Cut(name, "@")
	return name == command
}
