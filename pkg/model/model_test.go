package model_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/NicolasHaas/gochat/pkg/model"
)

func TestValidateUsername(t *testing.T) {
	t.Parallel()

	type tcase struct {
		username string
		wantErr  error
	}

	tcases := map[string]tcase{
		"simple": {
			username: "alice",
			wantErr:  nil,
		},
		"hyphen_underscore": {
			username: "alice_b-2",
			wantErr:  nil,
		},
		"empty": {
			username: "",
			wantErr:  model.ErrUsernameEmpty,
		},
		"too_long": { // 33 characters
			username: strings.Repeat("a", 33),
			wantErr:  model.ErrUsernameTooLong,
		},
		"injection": { // quotes, spaces and equals are not allowed
			username: "' OR '1'='1",
			wantErr:  model.ErrUsernameInvalidChars,
		},
		"unicode": {
			username: "ålice",
			wantErr:  model.ErrUsernameInvalidChars,
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			if err := model.ValidateUsername(tc.username); !errors.Is(err, tc.wantErr) {
				t.Errorf("ValidateUsername(%q) = %v, want %v", tc.username, err, tc.wantErr)
			}
		})
	}
}

func TestMessageValidate(t *testing.T) {
	t.Parallel()

	type tcase struct {
		msg     model.Message
		wantErr error
	}

	tcases := map[string]tcase{
		"plain_text": {
			msg:     model.Message{Sender: "alice", Recipient: "bob", Content: "hi"},
			wantErr: nil,
		},
		"media_only": {
			msg:     model.Message{Sender: "alice", Recipient: "bob", MediaType: "image", MediaPath: "/media/x.png"},
			wantErr: nil,
		},
		"self_send": {
			msg:     model.Message{Sender: "alice", Recipient: "alice", Content: "hi"},
			wantErr: model.ErrSelfMessage,
		},
		"no_recipient": {
			msg:     model.Message{Sender: "alice", Content: "hi"},
			wantErr: model.ErrNoRecipient,
		},
		"empty_body": {
			msg:     model.Message{Sender: "alice", Recipient: "bob", Content: "   "},
			wantErr: model.ErrMessageEmpty,
		},
		"too_long": {
			msg:     model.Message{Sender: "alice", Recipient: "bob", Content: strings.Repeat("x", 2001)},
			wantErr: model.ErrMessageTooLong,
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			if err := tc.msg.Validate(); !errors.Is(err, tc.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestMediaKindFromMIME(t *testing.T) {
	t.Parallel()

	tcases := map[string]struct {
		mime string
		want string
	}{
		"png":       {mime: "image/png", want: "image"},
		"ogg":       {mime: "audio/ogg", want: "audio"},
		"mp4":       {mime: "video/mp4", want: "video"},
		"pdf":       {mime: "application/pdf", want: ""},
		"bare_kind": {mime: "audio", want: "audio"},
		"empty":     {mime: "", want: ""},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			if got := model.MediaKindFromMIME(tc.mime); got != tc.want {
				t.Errorf("MediaKindFromMIME(%q) = %q, want %q", tc.mime, got, tc.want)
			}
		})
	}
}

func TestMessageTimestampWireFormat(t *testing.T) {
	t.Parallel()

	// The wire timestamp must be ISO-8601 / RFC 3339, which is what
	// encoding/json produces for time.Time.
	ts := time.Date(2026, 8, 31, 12, 30, 0, 0, time.UTC)
	m := model.Message{Sender: "alice", Recipient: "bob", Content: "hi", Timestamp: ts}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if got := m.Timestamp.Format(time.RFC3339); got != "2026-08-31T12:30:00Z" {
		t.Errorf("timestamp format = %q", got)
	}
}
