package freeplay

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mtarek-dev/partyhost/pkg/module"
	"github.com/mtarek-dev/partyhost/pkg/state"
)

// stubHelpers records broadcast calls; scheduled callbacks are captured, not
// armed, so tests stay deterministic.
type stubHelpers struct {
	broadcasts int
	scheduled  []func()
	cancelled  bool
}

func (h *stubHelpers) BroadcastRoomState(*state.Room) { h.broadcasts++ }

func (h *stubHelpers) BroadcastToRoom(*state.Room, string, any) {}

func (h *stubHelpers) Emit(uuid.UUID, string, any) {}

func (h *stubHelpers) EmitError(uuid.UUID, string, string) {}

func (h *stubHelpers) Room(string) (*state.Room, bool) { return nil, false }

func (h *stubHelpers) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func (h *stubHelpers) ScheduleAfter(_ *state.Room, _ time.Duration, fn func()) func() {
	h.scheduled = append(h.scheduled, fn)
	return func() { h.cancelled = true }
}

func newRoom(t *testing.T, m *Module) (*state.Room, *state.Player, *state.Player) {
	t.Helper()
	host := &state.Player{ID: "h", ConnID: uuid.New(), Name: "Ann", IsHost: true, Connected: true}
	guest := &state.Player{ID: "g", ConnID: uuid.New(), Name: "Bo", Connected: true}
	room := &state.Room{
		Code:     "ABC234",
		ModuleID: m.ID(),
		Phase:    state.PhaseLobby,
		Players: map[uuid.UUID]*state.Player{
			host.ConnID:  host,
			guest.ConnID: guest,
		},
		Order:    []uuid.UUID{host.ConnID, guest.ConnID},
		Settings: m.DefaultSettings(),
	}
	m.OnRoomCreate(room)
	return room, host, guest
}

func TestStartIsHostOnly(t *testing.T) {
	m := New()
	room, host, guest := newRoom(t, m)
	h := &stubHelpers{}

	if err := m.Handlers()["freeplay:start"](guest.ConnID, nil, room, h); err == nil {
		t.Fatal("guest start should be rejected")
	}
	if room.Phase != state.PhaseLobby {
		t.Error("rejected start must not change the phase")
	}

	if err := m.Handlers()["freeplay:start"](host.ConnID, nil, room, h); err != nil {
		t.Fatalf("host start: %v", err)
	}
	if room.Phase != phasePlaying {
		t.Errorf("expected phase %q, got %q", phasePlaying, room.Phase)
	}
	if err := m.Handlers()["freeplay:start"](host.ConnID, nil, room, h); err == nil {
		t.Error("starting twice should fail")
	}
	if len(h.scheduled) != 1 {
		t.Error("start should arm the idle shutdown timer")
	}
}

func TestSetWritesCanvas(t *testing.T) {
	m := New()
	room, host, guest := newRoom(t, m)
	h := &stubHelpers{}

	raw, _ := json.Marshal(map[string]any{"key": "color", "value": "red"})
	if err := m.Handlers()["freeplay:set"](guest.ConnID, raw, room, h); err == nil {
		t.Fatal("writes before start should fail")
	}

	if err := m.Handlers()["freeplay:start"](host.ConnID, nil, room, h); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Handlers()["freeplay:set"](guest.ConnID, raw, room, h); err != nil {
		t.Fatalf("set: %v", err)
	}
	data := room.Data.(*canvasData)
	if data.Canvas["color"] != "red" {
		t.Errorf("expected canvas write, got %v", data.Canvas)
	}

	empty, _ := json.Marshal(map[string]any{"value": "red"})
	if err := m.Handlers()["freeplay:set"](guest.ConnID, empty, room, h); err == nil {
		t.Error("a write without a key should fail")
	}
}

func TestResetClearsCanvasAndPhase(t *testing.T) {
	m := New()
	room, host, guest := newRoom(t, m)
	h := &stubHelpers{}

	_ = m.Handlers()["freeplay:start"](host.ConnID, nil, room, h)
	raw, _ := json.Marshal(map[string]any{"key": "color", "value": "red"})
	_ = m.Handlers()["freeplay:set"](guest.ConnID, raw, room, h)

	if err := m.Handlers()["freeplay:reset"](guest.ConnID, nil, room, h); err == nil {
		t.Fatal("guest reset should be rejected")
	}
	if err := m.Handlers()["freeplay:reset"](host.ConnID, nil, room, h); err != nil {
		t.Fatalf("reset: %v", err)
	}
	data := room.Data.(*canvasData)
	if len(data.Canvas) != 0 || room.Phase != state.PhaseLobby {
		t.Error("reset should clear the canvas and return to the lobby")
	}
}

func TestSerializeRoomPerViewer(t *testing.T) {
	m := New()
	room, host, guest := newRoom(t, m)

	hostView := m.SerializeRoom(room, host.ConnID).(map[string]any)
	guestView := m.SerializeRoom(room, guest.ConnID).(map[string]any)
	if hostView["you"] != "h" || guestView["you"] != "g" {
		t.Errorf("each viewer sees their own id, got %v / %v", hostView["you"], guestView["you"])
	}
	if len(hostView["players"].([]playerView)) != 2 {
		t.Error("both players should be listed")
	}
}

func TestDestroyCancelsIdleTimer(t *testing.T) {
	m := New()
	room, host, _ := newRoom(t, m)
	h := &stubHelpers{}

	_ = m.Handlers()["freeplay:start"](host.ConnID, nil, room, h)
	m.OnRoomDestroy(room)
	if !h.cancelled {
		t.Error("destroying the room must cancel the idle timer")
	}
}

var _ module.Helpers = (*stubHelpers)(nil)
