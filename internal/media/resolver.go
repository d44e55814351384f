package media

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tg-crm/internal/database/models"
	"tg-crm/internal/keyboard"
)

const (
	// MinGroupSize and MaxGroupSize bound the items of one Telegram media group.
	MinGroupSize = 2
	MaxGroupSize = 10
	// EmptyText follows a photo group when the broadcast has no post-media text.
	EmptyText = "\u200B"
)

// Resolver builds payloads for broadcasts. Media paths are looked up under Root
// (the working directory when empty) and may not point outside it.
type Resolver struct {
	Root string
}

// NewResolver returns a resolver rooted at the media directory.
func NewResolver(root string) *Resolver {
	return &Resolver{Root: root}
}

// Resolve returns the ordered payloads for the broadcast. The result depends only
// on the broadcast, so it is computed once per run and reused for every recipient.
func (r *Resolver) Resolve(b *models.Broadcast) ([]Payload, error) {
	if !HasContent(b) {
		return nil, ErrNoContent
	}
	layout, err := keyboard.Parse(b.ButtonsJSON)
	if err != nil {
		return nil, err
	}
	buttons := layout.Markup()

	var photos, videos, audios []Source
	var videoCaptions, audioCaptions []string
	for _, item := range sortedMedia(b.Media) {
		switch item.Kind {
		case models.MediaPhoto:
			src, err := r.source(item.Path, item.FileID)
			if err != nil {
				return nil, err
			}
			photos = append(photos, src)
		case models.MediaVideo:
			src, err := r.source(item.Path, item.FileID)
			if err != nil {
				return nil, err
			}
			videos = append(videos, src)
			videoCaptions = append(videoCaptions, item.Caption)
		case models.MediaAudio:
			// Numbered audio belongs to a vote and is not part of the broadcast.
			if item.ChoiceNumber != 0 {
				continue
			}
			path := item.Path
			if item.TranscodedPath != "" {
				path = item.TranscodedPath
			}
			src, err := r.source(path, item.FileID)
			if err != nil {
				return nil, err
			}
			audios = append(audios, src)
			audioCaptions = append(audioCaptions, item.Caption)
		default:
			return nil, fmt.Errorf("unsupported media kind %q", item.Kind)
		}
	}

	payloads := make([]Payload, 0, len(videos)+len(audios)+2)
	for i, v := range videos {
		payloads = append(payloads, Payload{Kind: KindVideo, Text: videoCaptions[i], Files: []Source{v}})
	}
	for i, a := range audios {
		payloads = append(payloads, Payload{Kind: KindAudio, Text: audioCaptions[i], Files: []Source{a}})
	}

	switch len(photos) {
	case 0:
		// Media-only broadcasts still need a message to carry the buttons.
		switch {
		case strings.TrimSpace(b.Text) != "":
			payloads = append(payloads, Payload{Kind: KindText, Text: b.Text, Buttons: buttons})
		case buttons != nil:
			payloads = append(payloads, Payload{Kind: KindText, Text: EmptyText, Buttons: buttons})
		}
	case 1:
		payloads = append(payloads, Payload{Kind: KindPhoto, Text: b.Text, Files: photos, Buttons: buttons})
	default:
		for i, group := range splitGroups(photos) {
			p := Payload{Kind: KindPhotoGroup, Files: group}
			if i == 0 {
				p.Text = b.Text
			}
			payloads = append(payloads, p)
		}
		text := b.PostMediaText
		if strings.TrimSpace(text) == "" {
			text = EmptyText
		}
		payloads = append(payloads, Payload{Kind: KindText, Text: text, Buttons: buttons})
	}

	if len(payloads) == 0 {
		return nil, ErrNoContent
	}
	return payloads, nil
}

// HasContent reports whether the broadcast has text or at least one attachment
// that is delivered with it. Voting audio does not count.
func HasContent(b *models.Broadcast) bool {
	if strings.TrimSpace(b.Text) != "" {
		return true
	}
	for _, item := range b.Media {
		if item.Kind == models.MediaAudio && item.ChoiceNumber != 0 {
			continue
		}
		return true
	}
	return false
}

// splitGroups cuts photos into the fewest media groups of balanced size, so no
// group falls below MinGroupSize. Callers pass at least MinGroupSize photos.
func splitGroups(photos []Source) [][]Source {
	count := (len(photos) + MaxGroupSize - 1) / MaxGroupSize
	size, extra := len(photos)/count, len(photos)%count

	groups := make([][]Source, 0, count)
	start := 0
	for i := 0; i < count; i++ {
		end := start + size
		if i < extra {
			end++
		}
		groups = append(groups, photos[start:end:end])
		start = end
	}
	return groups
}

func (r *Resolver) source(path, fileID string) (Source, error) {
	if fileID != "" {
		return Source{FileID: fileID}, nil
	}
	if path == "" {
		return Source{}, fmt.Errorf("%w: attachment has neither path nor file id", ErrMediaMissing)
	}

	root, err := filepath.Abs(r.Root)
	if err != nil {
		return Source{}, fmt.Errorf("resolving media root: %w", err)
	}
	full := filepath.Clean(path)
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, full)
	}
	if !within(root, full) {
		return Source{}, fmt.Errorf("%w: %s", ErrMediaOutsideRoot, path)
	}

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return Source{}, fmt.Errorf("%w: %s", ErrMediaMissing, path)
		}
		return Source{}, fmt.Errorf("checking %s: %w", path, err)
	}
	if info.IsDir() {
		return Source{}, fmt.Errorf("%w: %s is a directory", ErrMediaMissing, path)
	}

	// A symlink inside the root may still point elsewhere.
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return Source{}, fmt.Errorf("resolving media root: %w", err)
	}
	realPath, err := filepath.EvalSymlinks(full)
	if err != nil {
		return Source{}, fmt.Errorf("resolving %s: %w", path, err)
	}
	if !within(realRoot, realPath) {
		return Source{}, fmt.Errorf("%w: %s", ErrMediaOutsideRoot, path)
	}
	return Source{Path: full}, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func sortedMedia(items []models.MediaItem) []models.MediaItem {
	out := make([]models.MediaItem, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}
