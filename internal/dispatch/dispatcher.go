package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/mtarek-dev/partyhost/pkg/broadcast"
	"github.com/mtarek-dev/partyhost/pkg/module"
	"github.com/mtarek-dev/partyhost/pkg/state/roomstore"
	"github.com/mtarek-dev/partyhost/pkg/state/sessionstore"
	"github.com/mtarek-dev/partyhost/pkg/validate"
)

// Conn is the slice of the transport layer the dispatcher needs. The real
// implementation is transport.Connection; tests substitute fakes.
type Conn interface {
	ID() uuid.UUID
	Send(message []byte)
	Close(err error)
}

// Config carries the dispatcher's timing knobs.
type Config struct {
	GracePeriod       time.Duration
	BroadcastInterval time.Duration
	EventsPerWindow   int
	EventWindow       time.Duration
}

type client struct {
	conn Conn
	mod  module.GameModule
}

// Dispatcher is the orchestration core: it wires each accepted connection's
// common event surface to the room and session stores, forwards
// module-declared events to the bound plugin, and owns every grace-period
// and module timer so none outlives its room.
type Dispatcher struct {
	logger   *slog.Logger
	rooms    *roomstore.Store
	sessions *sessionstore.Store
	registry *module.Registry
	throttle *broadcast.Throttler
	limiter  *validate.SlidingWindow
	cfg      Config

	mu          sync.RWMutex
	clients     map[uuid.UUID]*client
	graceTimers map[string]*time.Timer   // keyed by player id
	roomTimers  map[string][]*time.Timer // module timers keyed by room code

	nowFunc func() time.Time
}

func New(logger *slog.Logger, rooms *roomstore.Store, sessions *sessionstore.Store, registry *module.Registry, cfg Config) *Dispatcher {
	d := &Dispatcher{
		logger:      logger.With(slog.String("component", "dispatcher")),
		rooms:       rooms,
		sessions:    sessions,
		registry:    registry,
		limiter:     validate.NewSlidingWindow(cfg.EventsPerWindow, cfg.EventWindow),
		cfg:         cfg,
		clients:     make(map[uuid.UUID]*client),
		graceTimers: make(map[string]*time.Timer),
		roomTimers:  make(map[string][]*time.Timer),
		nowFunc:     time.Now,
	}
	d.throttle = broadcast.NewThrottler(logger, cfg.BroadcastInterval, d.deliverAsync)
	rooms.SetObserver(d)
	return d
}

// Register binds an accepted connection to its game module's channel group.
func (d *Dispatcher) Register(conn Conn, mod module.GameModule) {
	d.mu.Lock()
	d.clients[conn.ID()] = &client{conn: conn, mod: mod}
	d.mu.Unlock()
}

func (d *Dispatcher) lookup(connID uuid.UUID) (*client, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.clients[connID]
	return c, ok
}

// HandleMessage is the transport's message callback. Every failure path
// yields exactly one error event to the caller; nothing here may take the
// process down.
func (d *Dispatcher) HandleMessage(_ context.Context, connID uuid.UUID, msg []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Recovered panic in event handling",
				slog.String("connID", connID.String()),
				slog.Any("panic", r),
			)
			d.sendError(connID, "internal error handling event", CodeModuleError)
		}
	}()

	if !d.limiter.Allow(connID.String()) {
		d.sendError(connID, "too many events, slow down", CodeRateLimited)
		return
	}

	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		d.logger.Warn("Failed to unmarshal client message",
			slog.String("connID", connID.String()),
			slog.Any("error", err),
		)
		d.sendError(connID, "malformed message", "")
		return
	}

	switch env.Event {
	case EvRoomCreate:
		d.handleRoomCreate(connID, env.Payload)
	case EvRoomJoin:
		d.handleRoomJoin(connID, env.Payload)
	case EvRoomLeave:
		d.handleRoomLeave(connID)
	case EvRoomKick:
		d.handleRoomKick(connID, env.Payload)
	case EvRoomCreateInvite:
		d.handleCreateInvite(connID)
	case EvSessionValidate:
		d.handleSessionValidate(connID, env.Payload)
	case EvSessionReconnect:
		d.handleSessionReconnect(connID, env.Payload)
	case EvChatMessage:
		d.handleChat(connID, env.Payload)
	case EvGameSyncState:
		d.handleSyncState(connID, env.Payload)
	default:
		d.forwardToModule(connID, env)
	}
}

// forwardToModule routes a module-declared event to the bound plugin's
// handler table. The room is resolved by connection id with a fallback
// lookup by an explicit roomCode payload field, tolerating transient
// reconnect-mapping gaps.
func (d *Dispatcher) forwardToModule(connID uuid.UUID, env Envelope) {
	c, ok := d.lookup(connID)
	if !ok {
		return
	}

	room, found := d.rooms.RoomByConn(connID)
	if !found {
		if code := gjson.GetBytes(env.Payload, "roomCode").String(); code != "" {
			room, found = d.rooms.GetRoom(code)
		}
	}
	if !found {
		d.sendError(connID, "not in a room", CodeRoomNotFound)
		return
	}

	handler, ok := c.mod.Handlers()[env.Event]
	if !ok {
		d.logger.Warn("Received unknown event",
			slog.String("event", env.Event),
			slog.String("connID", connID.String()),
		)
		d.sendError(connID, "unknown event: "+env.Event, "")
		return
	}

	// A misbehaving handler degrades to a logged error reply, never a
	// crashed connection or process. The room lock is held across the
	// handler so its reads and writes cannot interleave with other
	// connections' events on the same room.
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("Game module handler panicked",
					slog.String("module", c.mod.ID()),
					slog.String("event", env.Event),
					slog.Any("panic", r),
				)
				err = nil
				d.sendError(connID, "game handler failed", CodeModuleError)
			}
		}()
		room.Lock()
		defer room.Unlock()
		return handler(connID, env.Payload, room, d.helpers(c.mod))
	}()
	if err != nil {
		d.logger.Error("Game module handler failed",
			slog.String("module", c.mod.ID()),
			slog.String("event", env.Event),
			slog.Any("error", err),
		)
		d.sendError(connID, err.Error(), CodeModuleError)
	}
}

// sendTo marshals one event to one connection.
func (d *Dispatcher) sendTo(connID uuid.UUID, event string, payload any) {
	c, ok := d.lookup(connID)
	if !ok {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("Failed to marshal outbound payload",
			slog.String("event", event),
			slog.Any("error", err),
		)
		return
	}
	msg, err := json.Marshal(Envelope{Event: event, Payload: raw})
	if err != nil {
		d.logger.Error("Failed to marshal outbound envelope", slog.Any("error", err))
		return
	}
	c.conn.Send(msg)
}

func (d *Dispatcher) sendError(connID uuid.UUID, message, code string) {
	d.sendTo(connID, EvError, errorPayload{Message: message, Code: code})
}
