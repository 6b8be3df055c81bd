package module

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mtarek-dev/partyhost/pkg/state"
)

// HandlerFunc handles one module-declared event for a connection that has
// already been resolved to a room. A returned error becomes a generic error
// reply to the caller; a panic is recovered at the dispatch boundary.
type HandlerFunc func(connID uuid.UUID, payload json.RawMessage, room *state.Room, h Helpers) error

// GameModule is the contract a pluggable game implements to ride on the
// room/session machinery without touching it. The core guarantees
// OnRoomDestroy runs before any session cleanup for the room.
type GameModule interface {
	ID() string
	Namespace() string
	DefaultSettings() state.Settings

	// Handlers maps module-declared event names to their handlers. Events
	// on the common surface (room:*, session:*, chat:*, game:sync-state)
	// never reach this table.
	Handlers() map[string]HandlerFunc

	// SerializeRoom renders the room from one recipient's point of view.
	// It is called once per recipient; connID identifies the viewer.
	SerializeRoom(room *state.Room, connID uuid.UUID) any

	OnRoomCreate(room *state.Room)
	OnPlayerJoin(room *state.Room, player *state.Player, isReconnecting bool)
	OnPlayerDisconnected(room *state.Room, player *state.Player)
	OnPlayerLeave(room *state.Room, player *state.Player)
	OnHostLeave(room *state.Room, player *state.Player)
	OnRoomDestroy(room *state.Room)
}

// Helpers is the narrow surface the dispatcher injects into module handlers
// and hooks. Everything that leaves the process goes through it.
type Helpers interface {
	// BroadcastRoomState pushes the module's serialized view to every
	// member through the per-room throttler, one serialization per
	// recipient.
	BroadcastRoomState(room *state.Room)

	// BroadcastToRoom sends an event to every connected member immediately
	// (not throttled); use for discrete notices, not state snapshots.
	BroadcastToRoom(room *state.Room, event string, payload any)

	// Emit sends an event to a single connection.
	Emit(connID uuid.UUID, event string, payload any)

	// EmitError sends exactly one error event to a connection.
	EmitError(connID uuid.UUID, message, code string)

	Room(code string) (*state.Room, bool)

	// ScheduleAfter runs fn after d unless the room is destroyed first.
	// Timers are tracked per room and cancelled on destruction.
	ScheduleAfter(room *state.Room, d time.Duration, fn func()) (cancel func())

	Logger() *slog.Logger
}

// Base provides no-op lifecycle hooks so modules only implement the ones
// they care about.
type Base struct{}

func (Base) OnRoomCreate(*state.Room) {}

func (Base) OnPlayerJoin(*state.Room, *state.Player, bool) {}

func (Base) OnPlayerDisconnected(*state.Room, *state.Player) {}

func (Base) OnPlayerLeave(*state.Room, *state.Player) {}

func (Base) OnHostLeave(*state.Room, *state.Player) {}

func (Base) OnRoomDestroy(*state.Room) {}

func (Base) Handlers() map[string]HandlerFunc { return nil }

func (Base) SerializeRoom(*state.Room, uuid.UUID) any { return nil }
