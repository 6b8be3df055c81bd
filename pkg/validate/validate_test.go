package validate

import (
	"strings"
	"testing"
	"time"
)

func TestPlayerName(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"simple", "Ann", "Ann", false},
		{"trimmed", "  Bo  ", "Bo", false},
		{"empty", "", "", true},
		{"whitespace only", "   ", "", true},
		{"control chars stripped", "An\x00n\x1b", "Ann", false},
		{"max length", strings.Repeat("a", 20), strings.Repeat("a", 20), false},
		{"too long", strings.Repeat("a", 21), "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := PlayerName(tc.in)
			if tc.wantErr != (err != nil) {
				t.Fatalf("PlayerName(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("PlayerName(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestRoomCode(t *testing.T) {
	if _, err := RoomCode("ABC234"); err != nil {
		t.Errorf("valid code rejected: %v", err)
	}
	if got, _ := RoomCode("abc234"); got != "ABC234" {
		t.Errorf("expected uppercasing, got %q", got)
	}
	for _, bad := range []string{"", "ABC23", "ABC2345", "ABC0O1", "ABCI23", "AB 234"} {
		if _, err := RoomCode(bad); err == nil {
			t.Errorf("expected rejection of %q", bad)
		}
	}
}

func TestChatMessage(t *testing.T) {
	if _, err := ChatMessage(strings.Repeat("x", 501)); err == nil {
		t.Error("expected rejection of over-long message")
	}
	if _, err := ChatMessage("  "); err == nil {
		t.Error("expected rejection of whitespace-only message")
	}
	got, err := ChatMessage("hello\x00 there")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello there" {
		t.Errorf("expected control chars stripped, got %q", got)
	}
}

func TestSlidingWindowAllow(t *testing.T) {
	sw := NewSlidingWindow(3, time.Minute)
	now := time.Unix(1000, 0)
	sw.nowFunc = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !sw.Allow("conn-1") {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if sw.Allow("conn-1") {
		t.Error("fourth event inside window should be denied")
	}
	if !sw.Allow("conn-2") {
		t.Error("an independent key must not be affected")
	}

	// Advance past the window; earlier events age out.
	now = now.Add(61 * time.Second)
	if !sw.Allow("conn-1") {
		t.Error("event after window elapsed should be allowed")
	}
}

func TestSlidingWindowDeniedEventsNotRecorded(t *testing.T) {
	sw := NewSlidingWindow(2, time.Minute)
	now := time.Unix(1000, 0)
	sw.nowFunc = func() time.Time { return now }

	sw.Allow("k")
	now = now.Add(30 * time.Second)
	sw.Allow("k")
	for i := 0; i < 10; i++ {
		sw.Allow("k") // denied, must not extend the block
	}
	// First event ages out at t+60s; a flooding client recovers then.
	now = now.Add(31 * time.Second)
	if !sw.Allow("k") {
		t.Error("denied events must not count against the window")
	}
}

func TestSlidingWindowForget(t *testing.T) {
	sw := NewSlidingWindow(1, time.Minute)
	sw.Allow("gone")
	sw.Forget("gone")
	if !sw.Allow("gone") {
		t.Error("Forget should reset the key")
	}
}

func TestSlidingWindowZeroLimit(t *testing.T) {
	sw := NewSlidingWindow(0, time.Minute)
	for i := 0; i < 100; i++ {
		if !sw.Allow("any") {
			t.Fatal("zero limit disables the limiter")
		}
	}
}
