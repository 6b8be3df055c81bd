package roomstore

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtarek-dev/partyhost/pkg/state"
	"github.com/mtarek-dev/partyhost/pkg/validate"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomFull       = errors.New("room is full")
	ErrGameInProgress = errors.New("room is past its lobby phase")
	ErrCodesExhausted = errors.New("could not allocate a unique room code")
)

// codeAttempts bounds how many random draws CreateRoom makes before giving
// up. With a 32^6 code space this only trips under genuine exhaustion.
const codeAttempts = 64

// Observer is notified synchronously when a room is destroyed, before
// DeleteRoom returns. Teardown (module hooks, session invalidation, client
// notification) hangs off this callback so cleanup ordering is deterministic.
type Observer interface {
	OnRoomDeleted(room *state.Room, reason string)
}

// Store owns the authoritative in-memory map of live rooms plus the reverse
// indexes from connection id to room and player. The store lock covers only
// these maps; the fields of an individual room are guarded by the room's own
// lock, which callers of the mutation methods below hold for the duration of
// the operation that resolved the room. No method performs network I/O.
type Store struct {
	mu         sync.RWMutex
	rooms      map[string]*state.Room
	connRoom   map[uuid.UUID]string
	connPlayer map[uuid.UUID]*state.Player
	invites    map[string]string

	observer Observer

	maxMessages int
	logger      *slog.Logger
	nowFunc     func() time.Time
}

func New(logger *slog.Logger, maxMessages int) *Store {
	return &Store{
		rooms:       make(map[string]*state.Room),
		connRoom:    make(map[uuid.UUID]string),
		connPlayer:  make(map[uuid.UUID]*state.Player),
		invites:     make(map[string]string),
		maxMessages: maxMessages,
		logger:      logger.With(slog.String("component", "room_store")),
		nowFunc:     time.Now,
	}
}

// SetObserver registers the destruction callback. Must be called before the
// store is shared; there is exactly one observer.
func (s *Store) SetObserver(obs Observer) {
	s.observer = obs
}

// CreateRoom allocates a room under a fresh unique code. A requested code is
// honored when it is free; on collision a random one is drawn instead. Fails
// only when the code space cannot yield a unique code.
func (s *Store) CreateRoom(moduleID string, host *state.Player, settings state.Settings, requestedCode string) (*state.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := ""
	if requestedCode != "" {
		if _, taken := s.rooms[requestedCode]; !taken {
			code = requestedCode
		}
	}
	if code == "" {
		c, err := s.allocateCodeLocked()
		if err != nil {
			return nil, err
		}
		code = c
	}

	now := s.nowFunc()
	host.Connected = true
	host.Touch(now)
	room := &state.Room{
		Code:         code,
		ModuleID:     moduleID,
		Players:      map[uuid.UUID]*state.Player{host.ConnID: host},
		Order:        []uuid.UUID{host.ConnID},
		Phase:        state.PhaseLobby,
		Settings:     settings,
		CreatedAt:    now,
		LastActivity: now,
	}
	s.rooms[code] = room
	s.connRoom[host.ConnID] = code
	s.connPlayer[host.ConnID] = host

	s.logger.Info("Room created",
		slog.String("code", code),
		slog.String("module", moduleID),
		slog.String("hostID", host.ID),
	)
	return room, nil
}

func (s *Store) allocateCodeLocked() (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code := randomCode()
		if _, taken := s.rooms[code]; !taken {
			return code, nil
		}
	}
	return "", ErrCodesExhausted
}

func randomCode() string {
	b := make([]byte, validate.CodeLength)
	for i := range b {
		b[i] = validate.CodeAlphabet[rand.IntN(len(validate.CodeAlphabet))]
	}
	return string(b)
}

// GetRoom returns the live room for code, if any.
func (s *Store) GetRoom(code string) (*state.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[code]
	return room, ok
}

// RoomByConn resolves a connection id to its room.
func (s *Store) RoomByConn(connID uuid.UUID) (*state.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	code, ok := s.connRoom[connID]
	if !ok {
		return nil, false
	}
	room, ok := s.rooms[code]
	return room, ok
}

// PlayerByConn resolves a connection id to its player.
func (s *Store) PlayerByConn(connID uuid.UUID) (*state.Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.connPlayer[connID]
	return p, ok
}

// AddPlayerToRoom admits a player into a lobby-phase room with space left.
func (s *Store) AddPlayerToRoom(code string, player *state.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[code]
	if !ok {
		return ErrRoomNotFound
	}
	if room.Phase != state.PhaseLobby {
		return ErrGameInProgress
	}
	if max := room.Settings.MaxPlayers; max > 0 && len(room.UniquePlayers()) >= max {
		return ErrRoomFull
	}

	now := s.nowFunc()
	player.Connected = true
	player.Touch(now)
	room.Players[player.ConnID] = player
	room.Order = append(room.Order, player.ConnID)
	room.LastActivity = now
	s.connRoom[player.ConnID] = code
	s.connPlayer[player.ConnID] = player

	s.logger.Debug("Player joined room",
		slog.String("code", code),
		slog.String("playerID", player.ID),
	)
	return nil
}

// ReconnectPlayer remaps an existing membership from oldConnID to newConnID,
// preserving the player identity and join order. Returns nil when the old
// connection was already retired (a prior cleanup or duplicate reconnect won
// the race); the caller falls back to RekeyPlayer instead of erroring.
func (s *Store) ReconnectPlayer(oldConnID, newConnID uuid.UUID) *state.Player {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.connRoom[oldConnID]
	if !ok {
		return nil
	}
	room, ok := s.rooms[code]
	if !ok {
		return nil
	}
	player, ok := room.Players[oldConnID]
	if !ok {
		return nil
	}

	now := s.nowFunc()
	delete(room.Players, oldConnID)
	delete(s.connRoom, oldConnID)
	delete(s.connPlayer, oldConnID)
	for i, id := range room.Order {
		if id == oldConnID {
			room.Order[i] = newConnID
			break
		}
	}
	player.ConnID = newConnID
	player.Connected = true
	player.DisconnectedAt = nil
	player.Touch(now)
	room.Players[newConnID] = player
	room.LastActivity = now
	s.connRoom[newConnID] = code
	s.connPlayer[newConnID] = player

	s.logger.Debug("Player reconnected",
		slog.String("code", code),
		slog.String("playerID", player.ID),
	)
	return player
}

// RekeyPlayer is the manual identity patch for benign reconnect races: when
// the expected prior connection entry is already gone, the player found by
// stable id is rewritten in place under the new connection id. Only the
// dispatcher's documented fallback paths use this.
func (s *Store) RekeyPlayer(code, playerID string, newConnID uuid.UUID) (*state.Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[code]
	if !ok {
		return nil, false
	}
	player := room.PlayerByID(playerID)
	if player == nil {
		return nil, false
	}

	now := s.nowFunc()
	oldConnID := player.ConnID
	if oldConnID != newConnID {
		delete(room.Players, oldConnID)
		delete(s.connRoom, oldConnID)
		delete(s.connPlayer, oldConnID)
		for i, id := range room.Order {
			if id == oldConnID {
				room.Order[i] = newConnID
				break
			}
		}
		player.ConnID = newConnID
		room.Players[newConnID] = player
		s.connRoom[newConnID] = code
		s.connPlayer[newConnID] = player
	}
	player.Connected = true
	player.DisconnectedAt = nil
	player.Touch(now)
	room.LastActivity = now

	s.logger.Warn("Patched player connection mapping after reconnect race",
		slog.String("code", code),
		slog.String("playerID", playerID),
	)
	return player, true
}

// MarkDisconnected flips a player's connected flag off and stamps the
// disconnect time that drives the grace countdown. The membership entry is
// kept so the player can reclaim it.
func (s *Store) MarkDisconnected(connID uuid.UUID) (*state.Room, *state.Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.connRoom[connID]
	if !ok {
		return nil, nil, false
	}
	room, ok := s.rooms[code]
	if !ok {
		return nil, nil, false
	}
	player, ok := room.Players[connID]
	if !ok {
		return nil, nil, false
	}

	now := s.nowFunc()
	player.Connected = false
	player.DisconnectedAt = &now
	room.LastActivity = now
	return room, player, true
}

// RemovePlayerFromRoom permanently removes the membership entry for connID.
// Idempotent; calling it twice is safe.
func (s *Store) RemovePlayerFromRoom(connID uuid.UUID) (*state.Room, *state.Player) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.connRoom[connID]
	if !ok {
		return nil, nil
	}
	room := s.rooms[code]
	player := s.connPlayer[connID]

	delete(s.connRoom, connID)
	delete(s.connPlayer, connID)
	if room != nil {
		delete(room.Players, connID)
		for i, id := range room.Order {
			if id == connID {
				room.Order = append(room.Order[:i], room.Order[i+1:]...)
				break
			}
		}
		room.LastActivity = s.nowFunc()
	}
	return room, player
}

// AppendChat records a chat message on the room's bounded history.
func (s *Store) AppendChat(code string, msg state.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[code]
	if !ok {
		return ErrRoomNotFound
	}
	room.AppendMessage(msg, s.maxMessages)
	room.LastActivity = s.nowFunc()
	return nil
}

// CreateInvite mints a one-way invite token for a room. Tokens live exactly
// as long as the room does.
func (s *Store) CreateInvite(code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[code]
	if !ok {
		return "", ErrRoomNotFound
	}
	token := uuid.NewString()
	s.invites[token] = code
	room.LastActivity = s.nowFunc()
	return token, nil
}

// ResolveInvite maps an invite token back to its room code.
func (s *Store) ResolveInvite(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	code, ok := s.invites[token]
	return code, ok
}

// DeleteRoom destroys a room, releases its code and invite tokens, and
// invokes the observer exactly once, synchronously, before returning. The
// observer runs outside the store lock so teardown may read the store.
func (s *Store) DeleteRoom(code, reason string) bool {
	s.mu.Lock()
	room, ok := s.rooms[code]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.rooms, code)
	for connID := range room.Players {
		delete(s.connRoom, connID)
		delete(s.connPlayer, connID)
	}
	for token, c := range s.invites {
		if c == code {
			delete(s.invites, token)
		}
	}
	s.mu.Unlock()

	s.logger.Info("Room deleted",
		slog.String("code", code),
		slog.String("reason", reason),
	)
	if s.observer != nil {
		s.observer.OnRoomDeleted(room, reason)
	}
	return true
}

// Stats aggregates live room and player counts, optionally filtered by
// module id ("" means all modules).
func (s *Store) Stats(moduleID string) (rooms, players int) {
	s.mu.RLock()
	matched := make([]*state.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		if moduleID != "" && room.ModuleID != moduleID {
			continue
		}
		matched = append(matched, room)
	}
	s.mu.RUnlock()

	// Room locks are taken one at a time, never under the store lock.
	for _, room := range matched {
		room.RLock()
		players += len(room.UniquePlayers())
		room.RUnlock()
	}
	return len(matched), players
}
