package datastore_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/NicolasHaas/gochat/pkg/datastore"
	"github.com/NicolasHaas/gochat/pkg/model"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func NewTestSqlConn(t *testing.T) (*datastore.Store, error) {
	t.Helper()

	// Creates a temporary on-disk datastore
	// with a unique path per-test
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	store, err := datastore.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore_test: failed to open db: %w", err)
	}

	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			fmt.Printf("Error closing database: %v\n", err)
		}
	})

	return store, nil
}

func seedUser(t *testing.T, store *datastore.Store, username string) *model.User {
	t.Helper()
	u, err := store.CreateUser(username, []byte("hash"), []byte("salt"))
	if err != nil {
		t.Fatalf("failed to seed user %q: %v", username, err)
	}
	return u
}

func TestCreateUser(t *testing.T) {
	t.Parallel()

	type tcase struct {
		username  string
		expectErr bool
	}

	tcases := map[string]tcase{
		"minimum_required_fields": {
			username:  "johndoe",
			expectErr: false,
		},
		"injection_username": { // SQL injection contains invalid chars (quotes, spaces, equals)
			username:  "' OR '1'='1",
			expectErr: true,
		},
		"empty_username": { // Empty username should not be allowed
			username:  "",
			expectErr: true,
		},
		"full_username": { // 65 character username is too long
			username:  "24433252080542468109190329288548376491503980265648043643151614656",
			expectErr: true,
		},
	}

	fn := func(tc tcase) func(*testing.T) {
		return func(t *testing.T) {
			store, err := NewTestSqlConn(t)
			if err != nil {
				t.Fatalf("failed to open test connection: %v", err)
			}

			got, err := store.CreateUser(tc.username, []byte("hash"), []byte("salt"))
			if tc.expectErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			want := &model.User{
				Username: tc.username,
			}

			if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(model.User{}, "ID", "CreatedAt")); diff != "" {
				t.Errorf("store.CreateUser mismatch (-want +got):\n%s", diff)
			}
		}
	}

	for name, tc := range tcases {
		t.Run(name, fn(tc))
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	seedUser(t, store, "johndoe")

	if _, err := store.CreateUser("johndoe", []byte("h2"), []byte("s2")); err == nil {
		t.Fatal("expected unique constraint error for duplicate username, got nil")
	}
}

func TestGetUserByUsername(t *testing.T) {
	t.Parallel()

	type tcase struct {
		username   string
		seedUser   bool
		expectUser bool
	}

	tests := map[string]tcase{
		"minimum_required_fields": {
			username:   "johndoe",
			seedUser:   true,
			expectUser: true,
		},
		"no_user_exists": {
			username:   "janedoe",
			seedUser:   false,
			expectUser: false,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewTestSqlConn(t)
			if err != nil {
				t.Fatalf("failed to open test connection: %v", err)
			}

			var seeded *model.User
			if tc.seedUser {
				seeded = seedUser(t, store, tc.username)
			}

			got, err := store.GetUserByUsername(tc.username)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if !tc.expectUser {
				if got != nil {
					t.Fatalf("expected nil, got user")
				}
				return
			}

			want := &model.User{
				Username: tc.username,
			}

			if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(model.User{}, "ID", "CreatedAt")); diff != "" {
				t.Fatalf("GetUserByUsername mismatch (-want +got):\n%s", diff)
			}

			if seeded != nil && got.ID != seeded.ID {
				t.Fatalf("expected same user ID as seeded; want %v got %v", seeded.ID, got.ID)
			}
		})
	}
}

func TestCredentials(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	wantHash := []byte("the-hash")
	wantSalt := []byte("the-salt")
	if _, err := store.CreateUser("johndoe", wantHash, wantSalt); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}

	hash, salt, err := store.Credentials("johndoe")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(wantHash, hash); diff != "" {
		t.Errorf("Credentials hash mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantSalt, salt); diff != "" {
		t.Errorf("Credentials salt mismatch (-want +got):\n%s", diff)
	}

	hash, salt, err = store.Credentials("nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash != nil || salt != nil {
		t.Error("expected nil credentials for unknown user")
	}
}

func TestListUsernames(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	want := []string{"johndoe", "janedoe", "babydoe"}
	for _, name := range want {
		seedUser(t, store, name)
	}

	got, err := store.ListUsernames()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ListUsernames mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveMessage(t *testing.T) {
	t.Parallel()

	type tcase struct {
		msg       model.Message
		seed      []string
		expectErr bool
	}

	tests := map[string]tcase{
		"text_message": {
			msg:  model.Message{Sender: "alice", Recipient: "bob", Content: "hi bob"},
			seed: []string{"alice", "bob"},
		},
		"media_only": {
			msg:  model.Message{Sender: "alice", Recipient: "bob", MediaType: model.MediaImage, MediaPath: "/media/x.png"},
			seed: []string{"alice", "bob"},
		},
		"unknown_recipient": {
			msg:       model.Message{Sender: "alice", Recipient: "ghost", Content: "hi"},
			seed:      []string{"alice"},
			expectErr: true,
		},
		"self_message": {
			msg:       model.Message{Sender: "alice", Recipient: "alice", Content: "hi"},
			seed:      []string{"alice"},
			expectErr: true,
		},
		"empty_body": {
			msg:       model.Message{Sender: "alice", Recipient: "bob"},
			seed:      []string{"alice", "bob"},
			expectErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewTestSqlConn(t)
			if err != nil {
				t.Fatalf("failed to open test connection: %v", err)
			}

			for _, u := range tc.seed {
				seedUser(t, store, u)
			}

			m := tc.msg
			err = store.SaveMessage(&m)
			if tc.expectErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if m.ID == 0 {
				t.Error("expected assigned ID")
			}
			if m.Timestamp.IsZero() {
				t.Error("expected assigned timestamp")
			}
		})
	}
}

func TestConversation(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	for _, u := range []string{"alice", "bob", "carol"} {
		seedUser(t, store, u)
	}

	seedMsgs := []model.Message{
		{Sender: "alice", Recipient: "bob", Content: "one"},
		{Sender: "bob", Recipient: "alice", Content: "two"},
		{Sender: "alice", Recipient: "carol", Content: "not ours"},
		{Sender: "alice", Recipient: "bob", Content: "three"},
	}
	for i := range seedMsgs {
		if err := store.SaveMessage(&seedMsgs[i]); err != nil {
			t.Fatalf("failed to seed message: %v", err)
		}
	}

	got, err := store.Conversation("bob", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []model.Message{
		{Sender: "alice", Recipient: "bob", Content: "one"},
		{Sender: "bob", Recipient: "alice", Content: "two"},
		{Sender: "alice", Recipient: "bob", Content: "three"},
	}

	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(model.Message{}, "ID", "Timestamp")); diff != "" {
		t.Fatalf("Conversation mismatch (-want +got):\n%s", diff)
	}

	for i := 1; i < len(got); i++ {
		if got[i].ID <= got[i-1].ID {
			t.Fatalf("conversation not in ascending order: %v then %v", got[i-1].ID, got[i].ID)
		}
	}
}

func TestConversationEmpty(t *testing.T) {
	t.Parallel()

	store, err := NewTestSqlConn(t)
	if err != nil {
		t.Fatalf("failed to open test connection: %v", err)
	}

	seedUser(t, store, "alice")
	seedUser(t, store, "bob")

	got, err := store.Conversation("alice", "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty conversation, got %d messages", len(got))
	}
}
