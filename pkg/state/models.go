package state

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// PhaseLobby is the phase every room starts in. Modules define the rest of
// their own phase vocabulary; the core only distinguishes "still in the
// lobby" from "past it" when gating joins.
const PhaseLobby = "lobby"

// Player is one human participant as the server sees them. Identity (ID) is
// stable across reconnects; ConnID changes on every new transport connection.
type Player struct {
	ID     string
	ConnID uuid.UUID
	Name   string

	IsHost  bool
	IsGuest bool

	Connected bool
	// DisconnectedAt drives the client-side grace countdown; nil while
	// connected.
	DisconnectedAt *time.Time
	LastActive     time.Time

	SessionToken string

	// GameData is owned exclusively by the bound game module. The core
	// never reads or writes its fields.
	GameData any
}

// Touch records activity on the player, used to break ties when two
// connections transiently reference the same player id during a reconnect.
func (p *Player) Touch(now time.Time) {
	p.LastActive = now
}

type Settings struct {
	MinPlayers int            `json:"minPlayers"`
	MaxPlayers int            `json:"maxPlayers"`
	Config     map[string]any `json:"config,omitempty"`
}

type ChatMessage struct {
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sentAt"`
}

// Room is one isolated game instance.
//
// The embedded lock guards every mutable field below. The room store's own
// lock covers only its lookup maps; an operation that reads or mutates a
// resolved room holds this lock for the operation's duration, and the store's
// mutation methods expect the caller to already hold it. Room locks are never
// acquired while holding another room's lock or the store lock.
type Room struct {
	sync.RWMutex

	Code     string
	ModuleID string

	// Players is keyed by connection id. Join order is preserved in Order.
	// During the reconnect race window the same player id may appear under
	// two connection ids; readers dedupe with UniquePlayers.
	Players map[uuid.UUID]*Player
	Order   []uuid.UUID

	Phase    string
	Data     any
	Settings Settings
	Messages []ChatMessage

	CreatedAt    time.Time
	LastActivity time.Time
}

// Host returns the room's host player, or nil if the host entry is gone.
func (r *Room) Host() *Player {
	for _, id := range r.Order {
		if p, ok := r.Players[id]; ok && p.IsHost {
			return p
		}
	}
	return nil
}

// PlayerByID finds a member by stable player id. When the reconnect race has
// left two entries for the same id, the one with the most recent activity
// wins.
func (r *Room) PlayerByID(playerID string) *Player {
	var best *Player
	for _, p := range r.Players {
		if p.ID != playerID {
			continue
		}
		if best == nil || p.LastActive.After(best.LastActive) {
			best = p
		}
	}
	return best
}

// UniquePlayers returns members in join order, deduplicated by player id.
// For duplicated ids only the entry with the most recent activity is kept,
// never both.
func (r *Room) UniquePlayers() []*Player {
	byID := make(map[string]*Player, len(r.Players))
	for _, p := range r.Players {
		prev, ok := byID[p.ID]
		if !ok || p.LastActive.After(prev.LastActive) {
			byID[p.ID] = p
		}
	}
	out := make([]*Player, 0, len(byID))
	seen := make(map[string]bool, len(byID))
	for _, connID := range r.Order {
		p, ok := r.Players[connID]
		if !ok || seen[p.ID] {
			continue
		}
		if byID[p.ID] == p {
			out = append(out, p)
			seen[p.ID] = true
		}
	}
	return out
}

// AppendMessage adds a chat message, evicting the oldest once the cap is
// reached.
func (r *Room) AppendMessage(msg ChatMessage, cap int) {
	r.Messages = append(r.Messages, msg)
	if cap > 0 && len(r.Messages) > cap {
		r.Messages = r.Messages[len(r.Messages)-cap:]
	}
}

// Session is a capability to reclaim a Player identity after disconnection.
type Session struct {
	PlayerID     string
	RoomCode     string
	Token        string
	CreatedAt    time.Time
	LastActivity time.Time
}
