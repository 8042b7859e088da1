package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var ErrDuplicateMedia = errors.New("duplicate media id")

type MediaCategory string

const (
	MediaPhoto MediaCategory = "photo"
	MediaVideo MediaCategory = "video"
	MediaAudio MediaCategory = "audio"
	MediaFile  MediaCategory = "file"
)

// Media is an uploaded attachment referenced by a media prompt.
type Media struct {
	ID          uuid.UUID
	ContentType string
	FileName    string
	Data        []byte
}

func (m *Media) Size() int64 {
	return int64(len(m.Data))
}

// Category is decided by the content type prefix.
func (m *Media) Category() (MediaCategory, bool) {
	ct := strings.ToLower(m.ContentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return MediaPhoto, true
	case strings.HasPrefix(ct, "video/"):
		return MediaVideo, true
	case strings.HasPrefix(ct, "audio/"):
		return MediaAudio, true
	case strings.HasPrefix(ct, "application/"), strings.HasPrefix(ct, "text/"):
		return MediaFile, true
	}
	return "", false
}

// MediaSet holds the media of one upload keyed by id.
type MediaSet map[uuid.UUID]*Media

func (s MediaSet) Add(m *Media) error {
	if _, dup := s[m.ID]; dup {
		return fmt.Errorf("%w %s", ErrDuplicateMedia, m.ID)
	}
	if _, ok := m.Category(); !ok {
		return fmt.Errorf("media %s: unsupported content type %q", m.ID, m.ContentType)
	}
	s[m.ID] = m
	return nil
}
