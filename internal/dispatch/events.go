package dispatch

import (
	"encoding/json"
	"time"

	"github.com/mtarek-dev/partyhost/pkg/state"
)

// Envelope is the wire shape of every message in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound common events.
const (
	EvRoomCreate       = "room:create"
	EvRoomJoin         = "room:join"
	EvRoomLeave        = "room:leave"
	EvRoomKick         = "room:kick"
	EvRoomCreateInvite = "room:create-invite"
	EvSessionValidate  = "session:validate"
	EvSessionReconnect = "session:reconnect"
	EvChatMessage      = "chat:message"
	EvGameSyncState    = "game:sync-state"
)

// Outbound common events.
const (
	EvRoomCreated         = "room:created"
	EvRoomJoined          = "room:joined"
	EvRoomInviteCreated   = "room:invite-created"
	EvRoomState           = "room:state"
	EvPlayerJoined        = "player:joined"
	EvPlayerLeft          = "player:left"
	EvPlayerDisconnected  = "player:disconnected"
	EvPlayerReconnected   = "player:reconnected"
	EvPlayerKicked        = "player:kicked"
	EvHostDisconnected    = "host:disconnected"
	EvSessionValidated    = "session:validated"
	EvSessionReconnected  = "session:reconnected"
	EvReconnectionFailed  = "reconnection:failed"
	EvError               = "error"
)

// Error codes clients branch on.
const (
	CodeRoomNotFound   = "ROOM_NOT_FOUND"
	CodeRoomFull       = "ROOM_FULL"
	CodeGameInProgress = "GAME_IN_PROGRESS"
	CodeInvalidName    = "INVALID_NAME"
	CodeInvalidCode    = "INVALID_CODE"
	CodeInvalidToken   = "INVALID_TOKEN"
	CodeNotHost        = "NOT_HOST"
	CodeRateLimited    = "RATE_LIMITED"
	CodeModuleError    = "MODULE_ERROR"
)

type createRoomPayload struct {
	PlayerName   string          `json:"playerName" validate:"required"`
	RoomCode     string          `json:"roomCode,omitempty"`
	Settings     *state.Settings `json:"settings,omitempty"`
	PlayerID     string          `json:"playerId,omitempty"`
	SessionToken string          `json:"sessionToken,omitempty"`
}

type joinRoomPayload struct {
	RoomCode     string `json:"roomCode,omitempty"`
	InviteToken  string `json:"inviteToken,omitempty"`
	PlayerName   string `json:"playerName" validate:"required"`
	PlayerID     string `json:"playerId,omitempty"`
	SessionToken string `json:"sessionToken,omitempty"`
}

type kickPayload struct {
	TargetConnID string `json:"targetConnId" validate:"required"`
}

type sessionValidatePayload struct {
	SessionToken string `json:"sessionToken" validate:"required"`
	RoomCode     string `json:"roomCode,omitempty"`
}

type sessionReconnectPayload struct {
	SessionToken string `json:"sessionToken" validate:"required"`
}

type chatPayload struct {
	Message string `json:"message" validate:"required"`
}

type syncStatePayload struct {
	RoomCode string `json:"roomCode" validate:"required"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// playerView is the common-surface projection of a player sent to clients.
// Module-owned GameData is excluded here; modules expose their own view via
// SerializeRoom.
type playerView struct {
	ID             string     `json:"id"`
	ConnID         string     `json:"connId"`
	Name           string     `json:"name"`
	IsHost         bool       `json:"isHost"`
	IsGuest        bool       `json:"isGuest"`
	Connected      bool       `json:"connected"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
}

func viewOfPlayer(p *state.Player) playerView {
	return playerView{
		ID:             p.ID,
		ConnID:         p.ConnID.String(),
		Name:           p.Name,
		IsHost:         p.IsHost,
		IsGuest:        p.IsGuest,
		Connected:      p.Connected,
		DisconnectedAt: p.DisconnectedAt,
	}
}
