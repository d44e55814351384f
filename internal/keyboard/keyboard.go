// Package keyboard encodes the inline button layout stored with a broadcast.
//
// The persisted form is a JSON array of rows, each row an array of buttons with a
// "text" field and exactly one of "url" or "callback_data":
//
//	[[{"text":"Yes","url":"https://example.com"}],[{"text":"No","callback_data":"no"}]]
package keyboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
)

// ErrInvalidButtons is returned when a stored layout cannot be used.
var ErrInvalidButtons = errors.New("invalid button layout")

// Button is one inline button.
type Button struct {
	Text         string `json:"text"`
	URL          string `json:"url,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

// Layout is an ordered list of button rows.
type Layout [][]Button

// Parse decodes and validates a stored layout. An empty string yields an empty layout.
func Parse(raw string) (Layout, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var layout Layout
	if err := json.Unmarshal([]byte(raw), &layout); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidButtons, err)
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	return layout, nil
}

// Validate checks that every button has a label and exactly one action.
func (l Layout) Validate() error {
	for i, row := range l {
		for j, b := range row {
			if strings.TrimSpace(b.Text) == "" {
				return fmt.Errorf("%w: button %d.%d has no text", ErrInvalidButtons, i+1, j+1)
			}
			if (b.URL == "") == (b.CallbackData == "") {
				return fmt.Errorf("%w: button %q must have exactly one of url or callback_data", ErrInvalidButtons, b.Text)
			}
		}
	}
	return nil
}

// Marshal encodes the layout to its persisted form.
func Marshal(l Layout) (string, error) {
	if l.Empty() {
		return "", nil
	}
	if err := l.Validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("encoding button layout: %w", err)
	}
	return string(b), nil
}

// Empty reports whether the layout has no buttons.
func (l Layout) Empty() bool {
	for _, row := range l {
		if len(row) > 0 {
			return false
		}
	}
	return true
}

// Markup converts the layout to Telegram's inline keyboard, or nil when there are no buttons.
func (l Layout) Markup() *telego.InlineKeyboardMarkup {
	if l.Empty() {
		return nil
	}

	rows := make([][]telego.InlineKeyboardButton, 0, len(l))
	for _, row := range l {
		if len(row) == 0 {
			continue
		}
		buttons := make([]telego.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, telego.InlineKeyboardButton{
				Text:         b.Text,
				URL:          b.URL,
				CallbackData: b.CallbackData,
			})
		}
		rows = append(rows, buttons)
	}
	return &telego.InlineKeyboardMarkup{InlineKeyboard: rows}
}
