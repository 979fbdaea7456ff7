package telegram

import (
	"testing"

	"github.com/mymmrac/telego"
)

func buildTestMessage(username, firstName string) *telego.Message {
	return &telego.Message{
		From: &telego.User{Username: username, FirstName: firstName},
	}
}

func TestChatIDFromStringPlain(t *testing.T) {
	id, err := chatIDFromString("12345")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.ID != 12345 {
		t.Fatalf("expected ID 12345, got %d", id.ID)
	}
}

func TestChatIDFromStringCompound(t *testing.T) {
	id, err := chatIDFromString("6789|10111213")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.ID != 6789 {
		t.Fatalf("expected chat id component 6789, got %d", id.ID)
	}
}

func TestChatIDFromStringInvalid(t *testing.T) {
	if _, err := chatIDFromString("not-a-number"); err == nil {
		t.Fatal("expected an error for a non-numeric chat id")
	}
}

func TestTelegramDisplayNamePrefersUsername(t *testing.T) {
	// telegramDisplayName only reads m.From, so a minimal stub message
	// exercises it without needing a live bot connection.
	msg := buildTestMessage("alice", "Alice")
	if got := telegramDisplayName(msg); got != "alice" {
		t.Fatalf("expected username, got %q", got)
	}
	msg = buildTestMessage("", "Alice")
	if got := telegramDisplayName(msg); got != "Alice" {
		t.Fatalf("expected first name fallback, got %q", got)
	}
}
