package locales

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"
)

//go:embed *.json
var localeFS embed.FS

var (
	mu              sync.RWMutex
	bundle          *i18n.Bundle
	matcher         language.Matcher
	defaultLanguage language.Tag
)

// Init loads the embedded message files. Unknown default language codes fall back to Russian.
func Init(defaultLangCode string) error {
	tag, err := language.Parse(defaultLangCode)
	if err != nil {
		log.Warn().Err(err).Str("code", defaultLangCode).Msg("[i18n] Failed to parse default language, falling back to Russian")
		tag = language.Russian
	}

	b := i18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	files, err := localeFS.ReadDir(".")
	if err != nil {
		return fmt.Errorf("reading embedded locales: %w", err)
	}

	loaded := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		if _, err := b.LoadMessageFileFS(localeFS, file.Name()); err != nil {
			return fmt.Errorf("loading message file %s: %w", file.Name(), err)
		}
		loaded++
	}
	if loaded == 0 {
		return fmt.Errorf("no message files embedded")
	}

	mu.Lock()
	bundle, matcher, defaultLanguage = b, language.NewMatcher(b.LanguageTags()), tag
	mu.Unlock()

	log.Debug().Int("files", loaded).Str("default", tag.String()).Msg("[i18n] Bundle initialized")
	return nil
}

// DefaultLanguage returns the configured default language tag.
func DefaultLanguage() language.Tag {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLanguage
}

// NewLocalizer creates a localizer for the given language preferences, which may be
// language tags ("en", "ru") or Accept-Language header values. Preferences that no
// bundled language serves well yield the default language.
func NewLocalizer(langPrefs ...string) *i18n.Localizer {
	mu.RLock()
	b, m, def := bundle, matcher, defaultLanguage
	mu.RUnlock()
	if b == nil {
		panic("locales: NewLocalizer called before Init")
	}

	if _, _, confidence := m.Match(parsePrefs(langPrefs)...); confidence < language.High {
		return i18n.NewLocalizer(b, def.String())
	}
	return i18n.NewLocalizer(b, langPrefs...)
}

func parsePrefs(langPrefs []string) []language.Tag {
	var tags []language.Tag
	for _, pref := range langPrefs {
		parsed, _, err := language.ParseAcceptLanguage(pref)
		if err != nil {
			continue
		}
		tags = append(tags, parsed...)
	}
	return tags
}

// GetMessage formats a message by ID, falling back to the default language and then to the ID itself.
func GetMessage(localizer *i18n.Localizer, msgID string, templateData map[string]interface{}) string {
	config := &i18n.LocalizeConfig{
		MessageID:    msgID,
		TemplateData: templateData,
	}

	msg, err := localizer.Localize(config)
	if err == nil {
		return msg
	}
	log.Error().Err(err).Str("message", msgID).Msg("[i18n] Failed to localize message")

	fallback, fallbackErr := NewLocalizer(DefaultLanguage().String()).Localize(config)
	if fallbackErr == nil {
		return fallback
	}
	return msgID
}
