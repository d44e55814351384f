// Package media turns a stored broadcast into the ordered list of Telegram calls
// that deliver it to one recipient.
package media

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

var (
	// ErrMediaMissing is returned when an attached file cannot be found.
	ErrMediaMissing = errors.New("media file missing")
	// ErrMediaOutsideRoot is returned for attachment paths that escape the media root.
	ErrMediaOutsideRoot = errors.New("media path outside media root")
	// ErrNoContent is returned for a broadcast with nothing deliverable.
	ErrNoContent = errors.New("broadcast has no text and no media")
)

// PayloadKind selects the Telegram method used for a payload.
type PayloadKind int

const (
	KindText PayloadKind = iota
	KindPhoto
	KindPhotoGroup
	KindVideo
	KindAudio
)

func (k PayloadKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindPhoto:
		return "photo"
	case KindPhotoGroup:
		return "photo_group"
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Source points at a file either on disk or already uploaded to Telegram.
type Source struct {
	Path   string
	FileID string
}

// Open returns an input file for a single API call. The caller must close the
// returned closer once the call is done, since an upload consumes the reader.
func (s Source) Open() (telego.InputFile, io.Closer, error) {
	if s.FileID != "" {
		return tu.FileFromID(s.FileID), nopCloser{}, nil
	}

	f, err := os.Open(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return telego.InputFile{}, nil, fmt.Errorf("%w: %s", ErrMediaMissing, s.Path)
		}
		return telego.InputFile{}, nil, fmt.Errorf("opening %s: %w", s.Path, err)
	}
	return tu.File(f), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Payload is one network call worth of content.
// Text is the message text for KindText and the caption otherwise; for a photo
// group it is the caption of the first item.
type Payload struct {
	Kind    PayloadKind
	Text    string
	Files   []Source
	Buttons *telego.InlineKeyboardMarkup
}
