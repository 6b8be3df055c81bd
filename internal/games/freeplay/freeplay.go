// Package freeplay is a deliberately small game module: a shared key/value
// canvas any member can write to once the host starts the game. It exists to
// exercise the full plugin contract (handlers, per-recipient serialization,
// lifecycle hooks, throttled broadcasts) against a real game-like state.
package freeplay

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mtarek-dev/partyhost/pkg/module"
	"github.com/mtarek-dev/partyhost/pkg/state"
)

const (
	phasePlaying = "playing"

	// idleShutdown ends a started game that sees no writes for this long.
	idleShutdown = 10 * time.Minute
)

type canvasData struct {
	Canvas     map[string]any `json:"canvas"`
	cancelIdle func()
}

type Module struct {
	module.Base
}

func New() *Module { return &Module{} }

func (m *Module) ID() string        { return "freeplay" }
func (m *Module) Namespace() string { return "freeplay" }

func (m *Module) DefaultSettings() state.Settings {
	return state.Settings{MinPlayers: 1, MaxPlayers: 8}
}

func (m *Module) OnRoomCreate(room *state.Room) {
	room.Data = &canvasData{Canvas: make(map[string]any)}
}

func (m *Module) OnRoomDestroy(room *state.Room) {
	if data, ok := room.Data.(*canvasData); ok && data.cancelIdle != nil {
		data.cancelIdle()
	}
}

func (m *Module) Handlers() map[string]module.HandlerFunc {
	return map[string]module.HandlerFunc{
		"freeplay:start": m.handleStart,
		"freeplay:set":   m.handleSet,
		"freeplay:reset": m.handleReset,
	}
}

type setPayload struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (m *Module) handleStart(connID uuid.UUID, _ json.RawMessage, room *state.Room, h module.Helpers) error {
	player := room.Players[connID]
	if player == nil || !player.IsHost {
		return errors.New("only the host can start the game")
	}
	if room.Phase != state.PhaseLobby {
		return errors.New("game already started")
	}
	room.Phase = phasePlaying

	if data, ok := room.Data.(*canvasData); ok {
		data.cancelIdle = h.ScheduleAfter(room, idleShutdown, func() {
			room.Phase = state.PhaseLobby
			h.BroadcastRoomState(room)
		})
	}
	h.BroadcastRoomState(room)
	return nil
}

func (m *Module) handleSet(connID uuid.UUID, raw json.RawMessage, room *state.Room, h module.Helpers) error {
	if room.Phase != phasePlaying {
		return errors.New("game has not started")
	}
	var p setPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Key == "" {
		return errors.New("freeplay:set requires a key")
	}
	data, ok := room.Data.(*canvasData)
	if !ok {
		return errors.New("room state missing")
	}
	data.Canvas[p.Key] = p.Value
	h.BroadcastRoomState(room)
	return nil
}

func (m *Module) handleReset(connID uuid.UUID, _ json.RawMessage, room *state.Room, h module.Helpers) error {
	player := room.Players[connID]
	if player == nil || !player.IsHost {
		return errors.New("only the host can reset the game")
	}
	data, ok := room.Data.(*canvasData)
	if !ok {
		return errors.New("room state missing")
	}
	data.Canvas = make(map[string]any)
	room.Phase = state.PhaseLobby
	h.BroadcastRoomState(room)
	return nil
}

type playerView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsHost    bool   `json:"isHost"`
	Connected bool   `json:"connected"`
}

// SerializeRoom renders the room from one recipient's point of view; "you"
// carries the viewer's own player id so clients can find themselves.
func (m *Module) SerializeRoom(room *state.Room, connID uuid.UUID) any {
	players := make([]playerView, 0, len(room.Players))
	you := ""
	for _, p := range room.UniquePlayers() {
		players = append(players, playerView{
			ID:        p.ID,
			Name:      p.Name,
			IsHost:    p.IsHost,
			Connected: p.Connected,
		})
		if p.ConnID == connID {
			you = p.ID
		}
	}

	view := map[string]any{
		"code":    room.Code,
		"phase":   room.Phase,
		"players": players,
		"you":     you,
	}
	if data, ok := room.Data.(*canvasData); ok {
		view["canvas"] = data.Canvas
	}
	return view
}
