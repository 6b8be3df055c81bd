package dispatch

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mtarek-dev/partyhost/pkg/module"
	"github.com/mtarek-dev/partyhost/pkg/state"
)

// HandleClose is the transport's close callback. A departing host takes the
// room down immediately; anyone else enters the grace period.
func (d *Dispatcher) HandleClose(connID uuid.UUID, _ error) {
	d.limiter.Forget(connID.String())

	c, hadClient := d.lookup(connID)
	d.mu.Lock()
	delete(d.clients, connID)
	d.mu.Unlock()

	room, ok := d.rooms.RoomByConn(connID)
	if !ok {
		return
	}
	room.Lock()
	defer room.Unlock()
	player, ok := d.rooms.PlayerByConn(connID)
	if !ok {
		return
	}

	var mod module.GameModule
	if hadClient {
		mod = c.mod
	} else if m, found := d.registry.Get(room.ModuleID); found {
		mod = m
	} else {
		return
	}

	if player.IsHost {
		// The host's absence invalidates the room: destroy with no grace
		// period. Remaining members hear host:disconnected before the
		// room code stops resolving.
		d.broadcastToRoom(room, EvHostDisconnected, map[string]any{
			"roomCode": room.Code,
			"player":   viewOfPlayer(player),
		}, connID)
		d.rooms.DeleteRoom(room.Code, "host disconnected")
		return
	}

	if _, _, ok := d.rooms.MarkDisconnected(connID); !ok {
		return
	}
	mod.OnPlayerDisconnected(room, player)
	d.broadcastToRoom(room, EvPlayerDisconnected, map[string]any{
		"player":         viewOfPlayer(player),
		"disconnectedAt": player.DisconnectedAt,
		"gracePeriodMs":  d.cfg.GracePeriod.Milliseconds(),
	}, connID)
	d.scheduleGraceRemoval(room.Code, player.ID, mod)
}

// scheduleGraceRemoval arms the one grace timer a disconnected player gets.
// Re-disconnecting restarts it; reconnecting cancels it.
func (d *Dispatcher) scheduleGraceRemoval(roomCode, playerID string, mod module.GameModule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.graceTimers[playerID]; ok {
		t.Stop()
	}
	d.graceTimers[playerID] = time.AfterFunc(d.cfg.GracePeriod, func() {
		d.expireGrace(roomCode, playerID, mod)
	})
}

func (d *Dispatcher) cancelGraceTimer(playerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.graceTimers[playerID]; ok {
		t.Stop()
		delete(d.graceTimers, playerID)
	}
}

// expireGrace permanently removes a player whose grace period elapsed with
// no reconnect, and invalidates their session token so it cannot revive a
// ghost identity later. Runs on a timer goroutine: a panic in the module's
// leave hook must not take the process down.
func (d *Dispatcher) expireGrace(roomCode, playerID string, mod module.GameModule) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Recovered panic during grace expiry",
				slog.String("roomCode", roomCode),
				slog.String("playerID", playerID),
				slog.Any("panic", r),
			)
		}
	}()

	d.mu.Lock()
	delete(d.graceTimers, playerID)
	d.mu.Unlock()

	room, ok := d.rooms.GetRoom(roomCode)
	if !ok {
		return
	}
	room.Lock()
	defer room.Unlock()
	current := room.PlayerByID(playerID)
	if current == nil || current.Connected {
		// Already removed, or reconnected in the interim.
		return
	}

	_, removed := d.rooms.RemovePlayerFromRoom(current.ConnID)
	if removed == nil {
		return
	}
	if removed.SessionToken != "" {
		d.sessions.DeleteSession(removed.SessionToken)
	}
	mod.OnPlayerLeave(room, removed)
	d.broadcastRoomView(mod, room, EvPlayerLeft, map[string]any{
		"player": viewOfPlayer(removed),
		"reason": "grace period expired",
	}, uuid.Nil)

	d.logger.Info("Removed player after grace period",
		slog.String("roomCode", roomCode),
		slog.String("playerID", playerID),
	)
	if len(room.Players) == 0 {
		d.rooms.DeleteRoom(roomCode, "room empty after grace period")
	}
}

// OnRoomDeleted is the room store's destruction callback. Ordering is part
// of the contract: timers die first, then the throttler's queue, then the
// module teardown hook, then session cleanup.
func (d *Dispatcher) OnRoomDeleted(room *state.Room, reason string) {
	d.cancelRoomTimers(room)
	d.throttle.DropRoom(room.Code)
	if mod, ok := d.registry.Get(room.ModuleID); ok {
		mod.OnRoomDestroy(room)
	}
	d.sessions.DeleteSessionsForRoom(room.Code)
	d.logger.Debug("Room teardown complete",
		slog.String("roomCode", room.Code),
		slog.String("reason", reason),
	)
}
