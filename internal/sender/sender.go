// Package sender delivers resolved payloads to a single chat, spacing calls to the
// Bot API and honouring its "retry after" responses.
package sender

import (
	"context"
	"fmt"
	"io"
	"time"

	"tg-crm/internal/database/models"
	"tg-crm/internal/media"
	"tg-crm/pkg/telegoapi"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog/log"
	"go.uber.org/ratelimit"
)

// Config tunes the sender.
type Config struct {
	MinCallInterval  time.Duration // Minimum gap between two Bot API calls
	RetryMaxAttempts int           // Attempts per call including the first one
	RetryMaxWait     time.Duration // Cumulative retry-after wait per call
	ErrorTextLimit   int           // Runes of error text kept in the outcome
}

// DefaultConfig returns the settings used by the delivery engine.
func DefaultConfig() Config {
	return Config{
		MinCallInterval:  300 * time.Millisecond,
		RetryMaxAttempts: 5,
		RetryMaxWait:     2 * time.Minute,
		ErrorTextLimit:   500,
	}
}

// Outcome is the result of delivering all payloads to one recipient.
type Outcome struct {
	Status    models.DeliveryStatus
	ErrorText string
	Blocked   bool // Recipient blocked the bot or is otherwise unreachable
}

// Sender performs the Bot API calls for a delivery. It is safe for concurrent use;
// the rate limiter is shared by all callers.
type Sender struct {
	bot     telegoapi.BotAPI
	cfg     Config
	limiter ratelimit.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates a sender using the given Bot API client.
func New(bot telegoapi.BotAPI, cfg Config) *Sender {
	def := DefaultConfig()
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if cfg.RetryMaxWait <= 0 {
		cfg.RetryMaxWait = def.RetryMaxWait
	}
	if cfg.ErrorTextLimit <= 0 {
		cfg.ErrorTextLimit = def.ErrorTextLimit
	}

	limiter := ratelimit.NewUnlimited()
	if cfg.MinCallInterval > 0 {
		limiter = ratelimit.New(1, ratelimit.Per(cfg.MinCallInterval), ratelimit.WithoutSlack)
	}

	return &Sender{
		bot:     bot,
		cfg:     cfg,
		limiter: limiter,
		sleep:   sleepContext,
	}
}

// Send delivers the payloads to chatID in order. The first terminal failure stops
// the delivery and is reported in the outcome.
func (s *Sender) Send(ctx context.Context, chatID int64, payloads []media.Payload) Outcome {
	for i, p := range payloads {
		if err := s.sendWithRetry(ctx, chatID, p); err != nil {
			blocked := isBlocked(err)
			log.Warn().Err(err).
				Int64("chat_id", chatID).
				Str("kind", p.Kind.String()).
				Int("unit", i+1).
				Bool("blocked", blocked).
				Msg("[Sender] Delivery failed")
			return Outcome{
				Status:    models.DeliveryFailed,
				ErrorText: truncate(err.Error(), s.cfg.ErrorTextLimit),
				Blocked:   blocked,
			}
		}
	}
	return Outcome{Status: models.DeliverySent}
}

func (s *Sender) sendWithRetry(ctx context.Context, chatID int64, p media.Payload) error {
	var waited time.Duration
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.limiter.Take()

		err := s.call(ctx, chatID, p)
		if err == nil {
			if attempt > 1 {
				log.Debug().Int64("chat_id", chatID).Int("attempts", attempt).Msg("[Sender] Sent after retry")
			}
			return nil
		}

		seconds, ok := retryAfter(err)
		if !ok {
			return err
		}
		wait := time.Duration(seconds+1) * time.Second
		if attempt >= s.cfg.RetryMaxAttempts || waited+wait > s.cfg.RetryMaxWait {
			return fmt.Errorf("giving up after %d attempt(s), %v waited: %w", attempt, waited, err)
		}

		log.Info().Int64("chat_id", chatID).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("[Sender] Rate limit hit, waiting")
		if err := s.sleep(ctx, wait); err != nil {
			return fmt.Errorf("waiting for rate limit: %w", err)
		}
		waited += wait
	}
}

// call issues one Bot API request for the payload. Files are opened for this
// attempt only and closed before returning.
func (s *Sender) call(ctx context.Context, chatID int64, p media.Payload) error {
	files := make([]telego.InputFile, 0, len(p.Files))
	closers := make([]io.Closer, 0, len(p.Files))
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	for _, src := range p.Files {
		f, closer, err := src.Open()
		if err != nil {
			return err
		}
		files = append(files, f)
		closers = append(closers, closer)
	}
	if p.Kind != media.KindText && len(files) == 0 {
		return fmt.Errorf("%s payload has no files", p.Kind)
	}

	var err error
	switch p.Kind {
	case media.KindText:
		params := tu.Message(tu.ID(chatID), p.Text).WithParseMode(telego.ModeHTML)
		if p.Buttons != nil {
			params = params.WithReplyMarkup(p.Buttons)
		}
		_, err = s.bot.SendMessage(ctx, params)
	case media.KindPhoto:
		params := &telego.SendPhotoParams{
			ChatID:    tu.ID(chatID),
			Photo:     files[0],
			Caption:   p.Text,
			ParseMode: telego.ModeHTML,
		}
		if p.Buttons != nil {
			params.ReplyMarkup = p.Buttons
		}
		_, err = s.bot.SendPhoto(ctx, params)
	case media.KindPhotoGroup:
		_, err = s.bot.SendMediaGroup(ctx, &telego.SendMediaGroupParams{
			ChatID: tu.ID(chatID),
			Media:  createInputMedia(files, p.Text),
		})
	case media.KindVideo:
		_, err = s.bot.SendVideo(ctx, &telego.SendVideoParams{
			ChatID:    tu.ID(chatID),
			Video:     files[0],
			Caption:   p.Text,
			ParseMode: parseMode(p.Text),
		})
	case media.KindAudio:
		_, err = s.bot.SendAudio(ctx, &telego.SendAudioParams{
			ChatID:    tu.ID(chatID),
			Audio:     files[0],
			Caption:   p.Text,
			ParseMode: parseMode(p.Text),
		})
	default:
		err = fmt.Errorf("unsupported payload kind %s", p.Kind)
	}
	return err
}

// createInputMedia builds a photo group, applying the caption to the first item.
func createInputMedia(files []telego.InputFile, caption string) []telego.InputMedia {
	inputMedia := make([]telego.InputMedia, 0, len(files))
	for i, f := range files {
		photo := &telego.InputMediaPhoto{
			Type:  telego.MediaTypePhoto,
			Media: f,
		}
		if i == 0 && caption != "" {
			photo.Caption = caption
			photo.ParseMode = telego.ModeHTML
		}
		inputMedia = append(inputMedia, photo)
	}
	return inputMedia
}

func parseMode(caption string) string {
	if caption == "" {
		return ""
	}
	return telego.ModeHTML
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
