package dispatch

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/mtarek-dev/partyhost/pkg/state"
	"github.com/mtarek-dev/partyhost/pkg/state/roomstore"
	"github.com/mtarek-dev/partyhost/pkg/validate"
)

// handleRoomCreate services room:create. When the request carries an
// external session token plus a room code plus a player id, a rejoin
// shortcut re-keys the existing player instead of minting a fresh one; this
// prevents duplicate host entities after a page reload that race-loses the
// normal reconnect path.
func (d *Dispatcher) handleRoomCreate(connID uuid.UUID, raw json.RawMessage) {
	var p createRoomPayload
	if err := json.Unmarshal(raw, &p); err != nil || validate.Struct(&p) != nil {
		d.sendError(connID, "malformed room:create payload", "")
		return
	}
	name, err := validate.PlayerName(p.PlayerName)
	if err != nil {
		d.sendError(connID, err.Error(), CodeInvalidName)
		return
	}
	c, ok := d.lookup(connID)
	if !ok {
		return
	}

	if p.SessionToken != "" && p.RoomCode != "" && p.PlayerID != "" {
		if d.tryRejoinShortcut(c, connID, p, name) {
			return
		}
	}

	playerID := p.PlayerID
	isGuest := false
	if playerID == "" {
		playerID = uuid.NewString()
		isGuest = true
	}
	settings := mergeSettings(c.mod.DefaultSettings(), p.Settings)
	requested := ""
	if p.RoomCode != "" {
		if code, err := validate.RoomCode(p.RoomCode); err == nil {
			requested = code
		}
	}

	host := &state.Player{
		ID:      playerID,
		ConnID:  connID,
		Name:    name,
		IsHost:  true,
		IsGuest: isGuest,
	}
	room, err := d.rooms.CreateRoom(c.mod.ID(), host, settings, requested)
	if err != nil {
		d.sendError(connID, "could not create room: "+err.Error(), "")
		return
	}
	// The room is discoverable the moment CreateRoom returns; finish setup
	// under its lock so an immediate joiner cannot interleave.
	room.Lock()
	defer room.Unlock()
	c.mod.OnRoomCreate(room)

	token, err := d.sessions.CreateSession(host.ID, room.Code, p.SessionToken)
	if err != nil {
		d.logger.Error("Failed to issue session token for new room host")
	} else {
		host.SessionToken = token
	}

	d.sendTo(connID, EvRoomCreated, map[string]any{
		"roomCode":     room.Code,
		"playerId":     host.ID,
		"sessionToken": host.SessionToken,
		"room":         c.mod.SerializeRoom(room, connID),
	})
}

// tryRejoinShortcut re-keys an existing member onto the new connection.
// Observed legacy behavior is preserved: a platform-authenticated rejoiner
// is promoted to host.
func (d *Dispatcher) tryRejoinShortcut(c *client, connID uuid.UUID, p createRoomPayload, name string) bool {
	code, err := validate.RoomCode(p.RoomCode)
	if err != nil {
		return false
	}
	room, ok := d.rooms.GetRoom(code)
	if !ok {
		return false
	}
	room.Lock()
	defer room.Unlock()
	prior := room.PlayerByID(p.PlayerID)
	if prior == nil {
		return false
	}
	oldConnID := prior.ConnID
	player, ok := d.rooms.RekeyPlayer(code, p.PlayerID, connID)
	if !ok {
		return false
	}
	player.IsHost = true
	player.IsGuest = false
	player.Name = name
	d.cancelGraceTimer(player.ID)

	token, err := d.sessions.CreateSession(player.ID, code, p.SessionToken)
	if err == nil {
		player.SessionToken = token
	}
	c.mod.OnPlayerJoin(room, player, true)

	d.sendTo(connID, EvRoomCreated, map[string]any{
		"roomCode":     room.Code,
		"playerId":     player.ID,
		"sessionToken": player.SessionToken,
		"room":         c.mod.SerializeRoom(room, connID),
	})
	d.broadcastRoomView(c.mod, room, EvPlayerReconnected, map[string]any{
		"player":    viewOfPlayer(player),
		"oldConnId": oldConnID.String(),
		"newConnId": connID.String(),
	}, connID)
	return true
}

// handleRoomJoin services room:join: invite resolution, session-based
// reconnection when a token is present, and a fresh-player fallback when the
// token turns out to be invalid (the caller is admitted, not rejected).
func (d *Dispatcher) handleRoomJoin(connID uuid.UUID, raw json.RawMessage) {
	var p joinRoomPayload
	if err := json.Unmarshal(raw, &p); err != nil || validate.Struct(&p) != nil {
		d.sendError(connID, "malformed room:join payload", "")
		return
	}
	name, err := validate.PlayerName(p.PlayerName)
	if err != nil {
		d.sendError(connID, err.Error(), CodeInvalidName)
		return
	}
	c, ok := d.lookup(connID)
	if !ok {
		return
	}

	rawCode := p.RoomCode
	if p.InviteToken != "" {
		resolved, ok := d.rooms.ResolveInvite(p.InviteToken)
		if !ok {
			d.sendError(connID, "invite not found", CodeRoomNotFound)
			return
		}
		rawCode = resolved
	}
	code, err := validate.RoomCode(rawCode)
	if err != nil {
		d.sendError(connID, err.Error(), CodeInvalidCode)
		return
	}
	room, ok := d.rooms.GetRoom(code)
	if !ok {
		d.sendError(connID, "room not found", CodeRoomNotFound)
		return
	}
	room.Lock()
	defer room.Unlock()

	if p.SessionToken != "" {
		if player, oldConnID, ok := d.tryResume(c, connID, room, p.SessionToken); ok {
			d.sendTo(connID, EvRoomJoined, map[string]any{
				"roomCode":     code,
				"playerId":     player.ID,
				"sessionToken": player.SessionToken,
				"room":         c.mod.SerializeRoom(room, connID),
				"messages":     room.Messages,
			})
			d.broadcastRoomView(c.mod, room, EvPlayerReconnected, map[string]any{
				"player":    viewOfPlayer(player),
				"oldConnId": oldConnID.String(),
				"newConnId": connID.String(),
			}, connID)
			return
		}
		// Invalid or expired token: admit as a brand-new player.
		d.sendTo(connID, EvReconnectionFailed, map[string]any{
			"message": "session invalid or expired, joining as a new player",
		})
	}

	playerID := p.PlayerID
	isGuest := false
	if playerID == "" {
		playerID = uuid.NewString()
		isGuest = true
	}
	player := &state.Player{
		ID:      playerID,
		ConnID:  connID,
		Name:    name,
		IsGuest: isGuest,
	}
	if err := d.rooms.AddPlayerToRoom(code, player); err != nil {
		d.sendError(connID, err.Error(), joinErrCode(err))
		return
	}

	token, err := d.sessions.CreateSession(player.ID, code, "")
	if err != nil {
		d.logger.Error("Failed to issue session token for joining player")
	} else {
		player.SessionToken = token
	}
	c.mod.OnPlayerJoin(room, player, false)

	d.sendTo(connID, EvRoomJoined, map[string]any{
		"roomCode":     code,
		"playerId":     player.ID,
		"sessionToken": player.SessionToken,
		"room":         c.mod.SerializeRoom(room, connID),
		"messages":     room.Messages,
	})
	d.broadcastRoomView(c.mod, room, EvPlayerJoined, map[string]any{
		"player": viewOfPlayer(player),
	}, connID)
}

func joinErrCode(err error) string {
	switch {
	case errors.Is(err, roomstore.ErrRoomNotFound):
		return CodeRoomNotFound
	case errors.Is(err, roomstore.ErrRoomFull):
		return CodeRoomFull
	case errors.Is(err, roomstore.ErrGameInProgress):
		return CodeGameInProgress
	default:
		return ""
	}
}

// tryResume validates a session token against the room the caller already
// resolved and locked, then reclaims the player identity on a match.
func (d *Dispatcher) tryResume(c *client, connID uuid.UUID, room *state.Room, token string) (*state.Player, uuid.UUID, bool) {
	sess := d.sessions.ValidateSession(token)
	if sess == nil || sess.RoomCode != room.Code {
		return nil, uuid.Nil, false
	}
	return d.resumeLocked(c, connID, room, sess, token)
}

// resumeLocked reclaims a player identity from a validated session. The
// caller holds the room lock. When the old connection entry is already
// retired (grace cleanup or a duplicate reconnect migrated it first), the
// manual identity patch rewrites the mapping in place rather than failing
// the reconnection.
func (d *Dispatcher) resumeLocked(c *client, connID uuid.UUID, room *state.Room, sess *state.Session, token string) (*state.Player, uuid.UUID, bool) {
	prior := room.PlayerByID(sess.PlayerID)
	if prior == nil {
		return nil, uuid.Nil, false
	}

	oldConnID := prior.ConnID
	player := d.rooms.ReconnectPlayer(oldConnID, connID)
	if player == nil {
		var ok bool
		player, ok = d.rooms.RekeyPlayer(room.Code, sess.PlayerID, connID)
		if !ok {
			return nil, uuid.Nil, false
		}
	}
	d.cancelGraceTimer(player.ID)
	d.sessions.RefreshSession(token)
	player.SessionToken = token
	c.mod.OnPlayerJoin(room, player, true)
	return player, oldConnID, true
}

// handleSessionReconnect services session:reconnect: from a token alone,
// re-derive room and player, remap the connection, and tell the room which
// old connection id the player left behind so peer relays can retarget.
func (d *Dispatcher) handleSessionReconnect(connID uuid.UUID, raw json.RawMessage) {
	var p sessionReconnectPayload
	if err := json.Unmarshal(raw, &p); err != nil || validate.Struct(&p) != nil {
		d.sendError(connID, "malformed session:reconnect payload", "")
		return
	}
	c, ok := d.lookup(connID)
	if !ok {
		return
	}

	sess := d.sessions.ValidateSession(p.SessionToken)
	if sess == nil {
		d.sendError(connID, "session invalid or expired", CodeInvalidToken)
		return
	}
	room, ok := d.rooms.GetRoom(sess.RoomCode)
	if !ok {
		d.sendError(connID, "session invalid or expired", CodeInvalidToken)
		return
	}
	room.Lock()
	defer room.Unlock()

	player, oldConnID, ok := d.resumeLocked(c, connID, room, sess, p.SessionToken)
	if !ok {
		d.sendError(connID, "session invalid or expired", CodeInvalidToken)
		return
	}

	d.sendTo(connID, EvSessionReconnected, map[string]any{
		"roomCode":     room.Code,
		"playerId":     player.ID,
		"sessionToken": p.SessionToken,
		"room":         c.mod.SerializeRoom(room, connID),
		"messages":     room.Messages,
	})
	d.broadcastRoomView(c.mod, room, EvPlayerReconnected, map[string]any{
		"player":    viewOfPlayer(player),
		"oldConnId": oldConnID.String(),
		"newConnId": connID.String(),
	}, connID)
}

// handleSessionValidate is request/response only: it never mutates state and
// never broadcasts.
func (d *Dispatcher) handleSessionValidate(connID uuid.UUID, raw json.RawMessage) {
	var p sessionValidatePayload
	if err := json.Unmarshal(raw, &p); err != nil || validate.Struct(&p) != nil {
		d.sendError(connID, "malformed session:validate payload", "")
		return
	}

	sess := d.sessions.ValidateSession(p.SessionToken)
	valid := sess != nil
	if valid {
		if _, ok := d.rooms.GetRoom(sess.RoomCode); !ok {
			valid = false
		}
	}
	if valid && p.RoomCode != "" && sess.RoomCode != p.RoomCode {
		valid = false
	}

	resp := map[string]any{"valid": valid}
	if valid {
		resp["roomCode"] = sess.RoomCode
		resp["playerId"] = sess.PlayerID
	}
	d.sendTo(connID, EvSessionValidated, resp)
}

func (d *Dispatcher) handleRoomLeave(connID uuid.UUID) {
	c, ok := d.lookup(connID)
	if !ok {
		return
	}
	room, ok := d.rooms.RoomByConn(connID)
	if !ok {
		d.sendError(connID, "not in a room", CodeRoomNotFound)
		return
	}
	room.Lock()
	defer room.Unlock()
	_, player := d.rooms.RemovePlayerFromRoom(connID)
	if player == nil {
		d.sendError(connID, "not in a room", CodeRoomNotFound)
		return
	}
	if player.SessionToken != "" {
		d.sessions.DeleteSession(player.SessionToken)
	}
	d.cancelGraceTimer(player.ID)

	if player.IsHost {
		c.mod.OnHostLeave(room, player)
		d.broadcastToRoom(room, EvHostDisconnected, map[string]any{
			"roomCode": room.Code,
			"player":   viewOfPlayer(player),
		}, connID)
		d.rooms.DeleteRoom(room.Code, "host left")
		return
	}

	c.mod.OnPlayerLeave(room, player)
	d.broadcastRoomView(c.mod, room, EvPlayerLeft, map[string]any{
		"player": viewOfPlayer(player),
	}, connID)
	if len(room.Players) == 0 {
		d.rooms.DeleteRoom(room.Code, "room empty")
	}
}

// handleRoomKick is the one host-only action on the common surface.
func (d *Dispatcher) handleRoomKick(connID uuid.UUID, raw json.RawMessage) {
	var p kickPayload
	if err := json.Unmarshal(raw, &p); err != nil || validate.Struct(&p) != nil {
		d.sendError(connID, "malformed room:kick payload", "")
		return
	}
	c, ok := d.lookup(connID)
	if !ok {
		return
	}
	targetConnID, err := uuid.Parse(p.TargetConnID)
	if err != nil {
		d.sendError(connID, "invalid target connection id", "")
		return
	}
	room, ok := d.rooms.RoomByConn(connID)
	if !ok {
		d.sendError(connID, "not in a room", CodeRoomNotFound)
		return
	}
	room.Lock()
	defer room.Unlock()

	requester, ok := d.rooms.PlayerByConn(connID)
	if !ok {
		d.sendError(connID, "not in a room", CodeRoomNotFound)
		return
	}
	if !requester.IsHost {
		d.sendError(connID, "only the host can kick players", CodeNotHost)
		return
	}
	targetRoom, ok := d.rooms.RoomByConn(targetConnID)
	if !ok || targetRoom.Code != room.Code {
		d.sendError(connID, "player not found in this room", CodeRoomNotFound)
		return
	}

	_, target := d.rooms.RemovePlayerFromRoom(targetConnID)
	if target == nil {
		d.sendError(connID, "player not found in this room", CodeRoomNotFound)
		return
	}
	if target.SessionToken != "" {
		d.sessions.DeleteSession(target.SessionToken)
	}
	d.cancelGraceTimer(target.ID)
	c.mod.OnPlayerLeave(room, target)

	kicked := map[string]any{"player": viewOfPlayer(target)}
	d.sendTo(targetConnID, EvPlayerKicked, kicked)
	d.broadcastRoomView(c.mod, room, EvPlayerKicked, kicked, targetConnID)
}

func (d *Dispatcher) handleCreateInvite(connID uuid.UUID) {
	room, ok := d.rooms.RoomByConn(connID)
	if !ok {
		d.sendError(connID, "not in a room", CodeRoomNotFound)
		return
	}
	room.Lock()
	token, err := d.rooms.CreateInvite(room.Code)
	room.Unlock()
	if err != nil {
		d.sendError(connID, err.Error(), CodeRoomNotFound)
		return
	}
	d.sendTo(connID, EvRoomInviteCreated, map[string]any{"inviteToken": token})
}

func (d *Dispatcher) handleChat(connID uuid.UUID, raw json.RawMessage) {
	var p chatPayload
	if err := json.Unmarshal(raw, &p); err != nil || validate.Struct(&p) != nil {
		d.sendError(connID, "malformed chat:message payload", "")
		return
	}
	text, err := validate.ChatMessage(p.Message)
	if err != nil {
		d.sendError(connID, err.Error(), "")
		return
	}
	room, ok := d.rooms.RoomByConn(connID)
	if !ok {
		d.sendError(connID, "not in a room", CodeRoomNotFound)
		return
	}
	room.Lock()
	defer room.Unlock()
	player, ok := d.rooms.PlayerByConn(connID)
	if !ok {
		d.sendError(connID, "not in a room", CodeRoomNotFound)
		return
	}

	msg := state.ChatMessage{
		PlayerID:   player.ID,
		PlayerName: player.Name,
		Text:       text,
		SentAt:     d.nowFunc(),
	}
	if err := d.rooms.AppendChat(room.Code, msg); err != nil {
		d.sendError(connID, err.Error(), CodeRoomNotFound)
		return
	}
	// Chat is a discrete notice, not a state snapshot: delivered
	// immediately to everyone including the sender.
	d.broadcastToRoom(room, EvChatMessage, msg, uuid.Nil)
}

// handleSyncState is stateless and idempotent: clients call it to
// resynchronize after any uncertainty, independent of the reconnection flow.
func (d *Dispatcher) handleSyncState(connID uuid.UUID, raw json.RawMessage) {
	var p syncStatePayload
	if err := json.Unmarshal(raw, &p); err != nil || validate.Struct(&p) != nil {
		d.sendError(connID, "malformed game:sync-state payload", "")
		return
	}
	c, ok := d.lookup(connID)
	if !ok {
		return
	}
	code, err := validate.RoomCode(p.RoomCode)
	if err != nil {
		d.sendError(connID, err.Error(), CodeInvalidCode)
		return
	}
	room, ok := d.rooms.GetRoom(code)
	if !ok {
		d.sendError(connID, "room not found", CodeRoomNotFound)
		return
	}
	room.RLock()
	defer room.RUnlock()
	d.sendTo(connID, EvRoomState, map[string]any{
		"roomCode": room.Code,
		"room":     c.mod.SerializeRoom(room, connID),
		"messages": room.Messages,
	})
}

// mergeSettings overlays client-requested settings on the module defaults.
func mergeSettings(defaults state.Settings, requested *state.Settings) state.Settings {
	if requested == nil {
		return defaults
	}
	merged := defaults
	if requested.MinPlayers > 0 {
		merged.MinPlayers = requested.MinPlayers
	}
	if requested.MaxPlayers > 0 {
		merged.MaxPlayers = requested.MaxPlayers
	}
	if requested.Config != nil {
		if merged.Config == nil {
			merged.Config = make(map[string]any)
		}
		for k, v := range requested.Config {
			merged.Config[k] = v
		}
	}
	return merged
}
