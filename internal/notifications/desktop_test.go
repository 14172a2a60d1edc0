package notifications

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestDesktopSenderForwardsPayload(t *testing.T) {
	orig := notify
	t.Cleanup(func() { notify = orig })

	var gotTitle, gotContent string
	notify = func(title, message string, _ any) error {
		gotTitle, gotContent = title, message
		return nil
	}

	s := NewDesktopSender("", slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Send(Payload{Title: "TEMP", Content: "disconnected"})

	if gotTitle != "TEMP" || gotContent != "disconnected" {
		t.Fatalf("unexpected notification %q / %q", gotTitle, gotContent)
	}
}

func TestDesktopSenderSwallowsErrors(t *testing.T) {
	orig := notify
	t.Cleanup(func() { notify = orig })

	calls := 0
	notify = func(string, string, any) error {
		calls++
		return errors.New("no notification daemon")
	}

	NewDesktopSender("", nil).Send(Payload{Title: "x"})
	if calls != 1 {
		t.Fatalf("expected one notify call, got %d", calls)
	}
}

func TestSenderFunc(t *testing.T) {
	var got Payload
	var s Sender = SenderFunc(func(p Payload) { got = p })
	s.Send(Payload{Title: "a", Content: "b"})
	if got.Title != "a" || got.Content != "b" {
		t.Fatalf("unexpected payload %+v", got)
	}
	NopSender{}.Send(got)
}
