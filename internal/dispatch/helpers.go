package dispatch

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mtarek-dev/partyhost/pkg/module"
	"github.com/mtarek-dev/partyhost/pkg/state"
)

// helperSurface is the module.Helpers implementation handed to plugin
// handlers and hooks. It is a thin capability wrapper over the dispatcher,
// scoped to the bound module.
type helperSurface struct {
	d   *Dispatcher
	mod module.GameModule
}

func (d *Dispatcher) helpers(mod module.GameModule) module.Helpers {
	return &helperSurface{d: d, mod: mod}
}

func (h *helperSurface) BroadcastRoomState(room *state.Room) {
	// Payload is resolved at delivery time so a burst collapses to the
	// latest state, per recipient.
	h.d.throttle.Send(room.Code, EvRoomState, nil)
}

func (h *helperSurface) BroadcastToRoom(room *state.Room, event string, payload any) {
	h.d.broadcastToRoom(room, event, payload, uuid.Nil)
}

func (h *helperSurface) Emit(connID uuid.UUID, event string, payload any) {
	h.d.sendTo(connID, event, payload)
}

func (h *helperSurface) EmitError(connID uuid.UUID, message, code string) {
	h.d.sendError(connID, message, code)
}

func (h *helperSurface) Room(code string) (*state.Room, bool) {
	return h.d.rooms.GetRoom(code)
}

func (h *helperSurface) ScheduleAfter(room *state.Room, dur time.Duration, fn func()) func() {
	return h.d.scheduleRoomTimer(room.Code, dur, fn)
}

func (h *helperSurface) Logger() *slog.Logger {
	return h.d.logger.With(slog.String("module", h.mod.ID()))
}

// broadcastToRoom fans one event out to every connected member, deduplicated
// by player id, skipping the excluded connection. All recipients see the
// same payload snapshot. The caller holds the room lock.
func (d *Dispatcher) broadcastToRoom(room *state.Room, event string, payload any, except uuid.UUID) {
	for _, p := range room.UniquePlayers() {
		if !p.Connected || p.ConnID == except {
			continue
		}
		d.sendTo(p.ConnID, event, payload)
	}
}

// broadcastRoomView fans an event out with a per-recipient "room" field: the
// module's SerializeRoom runs once per recipient so "my id" style fields are
// correct for each viewer. The caller holds the room lock.
func (d *Dispatcher) broadcastRoomView(mod module.GameModule, room *state.Room, event string, base map[string]any, except uuid.UUID) {
	for _, p := range room.UniquePlayers() {
		if !p.Connected || p.ConnID == except {
			continue
		}
		payload := make(map[string]any, len(base)+1)
		for k, v := range base {
			payload[k] = v
		}
		payload["room"] = mod.SerializeRoom(room, p.ConnID)
		d.sendTo(p.ConnID, event, payload)
	}
}

// deliverAsync is the throttler's send function. Delivery gets its own
// goroutine so a caller already holding the room lock (a module handler
// mid-broadcast) never deadlocks against the read lock taken below, and so
// the throttler's timer goroutine is shielded from delivery panics.
func (d *Dispatcher) deliverAsync(roomCode, event string, payload any) {
	go d.deliverThrottled(roomCode, event, payload)
}

// deliverThrottled fans out one throttled delivery. Room-state events
// serialize per recipient at delivery time; anything else passes through
// as-is.
func (d *Dispatcher) deliverThrottled(roomCode, event string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Recovered panic during throttled delivery",
				slog.String("roomCode", roomCode),
				slog.Any("panic", r),
			)
		}
	}()

	room, ok := d.rooms.GetRoom(roomCode)
	if !ok {
		return
	}
	mod, ok := d.moduleForRoom(room)
	if !ok {
		return
	}
	room.RLock()
	defer room.RUnlock()
	if event == EvRoomState {
		d.broadcastRoomView(mod, room, event, nil, uuid.Nil)
		return
	}
	d.broadcastToRoom(room, event, payload, uuid.Nil)
}

// moduleForRoom resolves the plugin a room is bound to.
func (d *Dispatcher) moduleForRoom(room *state.Room) (module.GameModule, bool) {
	return d.registry.Get(room.ModuleID)
}

// scheduleRoomTimer arms a timer tracked against the room so destruction
// cancels it. Returns a cancel func for the module's own bookkeeping. The
// callback fires under the room lock with a recover shield: a panicking
// module timer must not take the process down, and its writes must not
// interleave with live event handling.
func (d *Dispatcher) scheduleRoomTimer(roomCode string, dur time.Duration, fn func()) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	timer := time.AfterFunc(dur, func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("Recovered panic in game module timer",
					slog.String("roomCode", roomCode),
					slog.Any("panic", r),
				)
			}
		}()
		room, ok := d.rooms.GetRoom(roomCode)
		if !ok {
			return
		}
		room.Lock()
		defer room.Unlock()
		fn()
	})
	d.roomTimers[roomCode] = append(d.roomTimers[roomCode], timer)
	return func() { timer.Stop() }
}

// cancelRoomTimers stops every module timer and grace timer associated with
// a room. Called exactly once per destruction, from OnRoomDeleted.
func (d *Dispatcher) cancelRoomTimers(room *state.Room) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.roomTimers[room.Code] {
		t.Stop()
	}
	delete(d.roomTimers, room.Code)
	for _, p := range room.Players {
		if t, ok := d.graceTimers[p.ID]; ok {
			t.Stop()
			delete(d.graceTimers, p.ID)
		}
	}
}
