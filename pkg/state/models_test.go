package state

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestUniquePlayersDedup(t *testing.T) {
	oldConn, newConn, otherConn := uuid.New(), uuid.New(), uuid.New()
	base := time.Unix(1000, 0)

	// Reconnect race window: the same player id appears under two
	// connection ids. The entry with the most recent activity wins.
	stale := &Player{ID: "p1", ConnID: oldConn, Name: "Ann", LastActive: base}
	fresh := &Player{ID: "p1", ConnID: newConn, Name: "Ann", LastActive: base.Add(time.Second)}
	other := &Player{ID: "p2", ConnID: otherConn, Name: "Bo", LastActive: base}

	room := &Room{
		Code: "ABC234",
		Players: map[uuid.UUID]*Player{
			oldConn:   stale,
			newConn:   fresh,
			otherConn: other,
		},
		Order: []uuid.UUID{oldConn, otherConn, newConn},
	}

	got := room.UniquePlayers()
	if len(got) != 2 {
		t.Fatalf("expected 2 unique players, got %d", len(got))
	}
	for _, p := range got {
		if p.ID == "p1" && p.ConnID != newConn {
			t.Errorf("expected the most recently active entry for p1, got connID %s", p.ConnID)
		}
	}
}

func TestPlayerByIDPrefersRecent(t *testing.T) {
	c1, c2 := uuid.New(), uuid.New()
	base := time.Unix(1000, 0)
	room := &Room{
		Players: map[uuid.UUID]*Player{
			c1: {ID: "p1", ConnID: c1, LastActive: base.Add(time.Minute)},
			c2: {ID: "p1", ConnID: c2, LastActive: base},
		},
		Order: []uuid.UUID{c1, c2},
	}
	if got := room.PlayerByID("p1"); got == nil || got.ConnID != c1 {
		t.Errorf("expected entry with most recent activity")
	}
	if room.PlayerByID("nope") != nil {
		t.Error("expected nil for unknown player id")
	}
}

func TestAppendMessageCap(t *testing.T) {
	room := &Room{}
	for i := 0; i < 7; i++ {
		room.AppendMessage(ChatMessage{Text: string(rune('a' + i))}, 5)
	}
	if len(room.Messages) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(room.Messages))
	}
	if room.Messages[0].Text != "c" {
		t.Errorf("expected oldest messages evicted, first is %q", room.Messages[0].Text)
	}
}

func TestRoomHost(t *testing.T) {
	h, g := uuid.New(), uuid.New()
	room := &Room{
		Players: map[uuid.UUID]*Player{
			h: {ID: "p1", ConnID: h, IsHost: true},
			g: {ID: "p2", ConnID: g},
		},
		Order: []uuid.UUID{g, h},
	}
	if got := room.Host(); got == nil || got.ID != "p1" {
		t.Error("expected host player")
	}
}
