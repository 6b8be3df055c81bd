package broadcast

import (
	"log/slog"
	"sync"
	"time"
)

// SendFunc performs the actual fan-out of one event to a room's members. The
// throttler decides when, the dispatcher decides how.
type SendFunc func(roomCode, event string, payload any)

type queued struct {
	event   string
	payload any
}

type roomState struct {
	lastSent time.Time
	queue    []queued
	timer    *time.Timer
}

// Throttler paces outgoing room-state broadcasts to at most one per interval
// per room. Excess broadcasts queue in FIFO order and drain one per tick;
// nothing is ever dropped. A room that changes state faster than clients can
// render is delayed, never desynchronized.
type Throttler struct {
	mu       sync.Mutex
	rooms    map[string]*roomState
	interval time.Duration
	send     SendFunc

	logger  *slog.Logger
	nowFunc func() time.Time
}

func NewThrottler(logger *slog.Logger, interval time.Duration, send SendFunc) *Throttler {
	return &Throttler{
		rooms:    make(map[string]*roomState),
		interval: interval,
		send:     send,
		logger:   logger.With(slog.String("component", "broadcast_throttler")),
		nowFunc:  time.Now,
	}
}

// Send delivers immediately when the room's interval has elapsed and nothing
// is queued ahead; otherwise it enqueues and arms the per-room drain timer.
func (t *Throttler) Send(roomCode, event string, payload any) {
	t.mu.Lock()
	rs, ok := t.rooms[roomCode]
	if !ok {
		rs = &roomState{}
		t.rooms[roomCode] = rs
	}

	now := t.nowFunc()
	if len(rs.queue) == 0 && now.Sub(rs.lastSent) >= t.interval {
		rs.lastSent = now
		t.mu.Unlock()
		t.send(roomCode, event, payload)
		return
	}

	rs.queue = append(rs.queue, queued{event: event, payload: payload})
	if rs.timer == nil {
		wait := t.interval - now.Sub(rs.lastSent)
		if wait < 0 {
			wait = 0
		}
		rs.timer = time.AfterFunc(wait, func() { t.drain(roomCode) })
	}
	t.mu.Unlock()
}

// drain emits the oldest queued broadcast and re-arms the timer while more
// remain.
func (t *Throttler) drain(roomCode string) {
	t.mu.Lock()
	rs, ok := t.rooms[roomCode]
	if !ok || len(rs.queue) == 0 {
		if ok {
			rs.timer = nil
		}
		t.mu.Unlock()
		return
	}

	item := rs.queue[0]
	rs.queue = rs.queue[1:]
	rs.lastSent = t.nowFunc()
	if len(rs.queue) > 0 {
		rs.timer = time.AfterFunc(t.interval, func() { t.drain(roomCode) })
	} else {
		rs.timer = nil
	}
	t.mu.Unlock()

	t.send(roomCode, item.event, item.payload)
}

// DropRoom cancels the room's drain timer and releases its queue. Called on
// room destruction so no timer outlives its room.
func (t *Throttler) DropRoom(roomCode string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rs, ok := t.rooms[roomCode]
	if !ok {
		return
	}
	if rs.timer != nil {
		rs.timer.Stop()
	}
	delete(t.rooms, roomCode)
}

// Pending reports how many broadcasts are queued for a room.
func (t *Throttler) Pending(roomCode string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rs, ok := t.rooms[roomCode]; ok {
		return len(rs.queue)
	}
	return 0
}
