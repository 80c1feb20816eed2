package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const MessageMaxContentLength = 2000

var ErrMessageTooLong = fmt.Errorf("message exceeds %d characters", MessageMaxContentLength)
var ErrMessageEmpty = errors.New("message carries neither text nor media")
var ErrNoRecipient = errors.New("recipient not specified")
var ErrSelfMessage = errors.New("cannot send a message to yourself")

// Media kinds, derived from the leading segment of a MIME type.
// Anything else is treated as having no renderable media kind.
const (
	MediaImage = "image"
	MediaAudio = "audio"
	MediaVideo = "video"
)

// Message is one direct message between two users. MediaType and MediaPath
// are empty for plain text. MediaPath is only authoritative once it comes
// back from the server; an optimistically rendered message may carry a
// transient local path until the next history load.
type Message struct {
	ID        int64     `json:"-"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	MediaType string    `json:"media_type,omitempty"`
	MediaPath string    `json:"media_path,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks the invariants enforced before a message is sent or
// stored: an addressed, non-self recipient and a non-empty body.
func (m *Message) Validate() error {
	if m.Recipient == "" {
		return ErrNoRecipient
	}
	if m.Sender == m.Recipient {
		return ErrSelfMessage
	}
	if strings.TrimSpace(m.Content) == "" && m.MediaPath == "" {
		return ErrMessageEmpty
	}
	if utf8.RuneCountInString(m.Content) > MessageMaxContentLength {
		return ErrMessageTooLong
	}
	return nil
}

// HasMedia reports whether the message carries a media attachment.
func (m *Message) HasMedia() bool {
	return m.MediaType != "" && m.MediaPath != ""
}

// MediaKindFromMIME derives the coarse media kind from a MIME content type,
// e.g. "image/png" -> "image". Types outside image/audio/video yield "".
func MediaKindFromMIME(mime string) string {
	kind, _, _ := strings.Cut(mime, "/")
	switch kind {
	case MediaImage, MediaAudio, MediaVideo:
		return kind
	default:
		return ""
	}
}
