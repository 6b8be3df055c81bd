package sessionstore

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mtarek-dev/partyhost/pkg/state"
)

// Store maps opaque session tokens to reconnection claims. Server-minted
// tokens are signed JWTs; tokens minted by an external platform are adopted
// verbatim as keys. Either way the in-memory entry is authoritative: a token
// is valid only while its entry exists and is within the inactivity window.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*state.Session

	ttl    time.Duration
	secret []byte

	logger  *slog.Logger
	nowFunc func() time.Time
}

func New(logger *slog.Logger, ttl time.Duration, jwtSecret string) *Store {
	return &Store{
		sessions: make(map[string]*state.Session),
		ttl:      ttl,
		secret:   []byte(jwtSecret),
		logger:   logger.With(slog.String("component", "session_store")),
		nowFunc:  time.Now,
	}
}

// CreateSession issues a token binding playerID to roomCode. When the
// platform already minted a token for this claim, it is adopted as the key
// so an externally-authenticated reconnection needs no second handshake.
func (s *Store) CreateSession(playerID, roomCode, externalToken string) (string, error) {
	token := externalToken
	if token == "" {
		minted, err := s.mintToken(playerID, roomCode)
		if err != nil {
			return "", fmt.Errorf("failed to mint session token: %w", err)
		}
		token = minted
	}

	now := s.nowFunc()
	s.mu.Lock()
	s.sessions[token] = &state.Session{
		PlayerID:     playerID,
		RoomCode:     roomCode,
		Token:        token,
		CreatedAt:    now,
		LastActivity: now,
	}
	s.mu.Unlock()

	s.logger.Debug("Session created",
		slog.String("playerID", playerID),
		slog.String("roomCode", roomCode),
		slog.Bool("adopted", externalToken != ""),
	)
	return token, nil
}

func (s *Store) mintToken(playerID, roomCode string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  playerID,
		"room": roomCode,
		"jti":  uuid.NewString(),
		"iat":  s.nowFunc().Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ValidateSession returns the session for token, or nil for unknown or
// expired tokens. Validation is a read: LastActivity is not bumped here.
func (s *Store) ValidateSession(token string) *state.Session {
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	if s.nowFunc().Sub(sess.LastActivity) > s.ttl {
		// Lazy expiry; no background sweep.
		s.mu.Lock()
		delete(s.sessions, token)
		s.mu.Unlock()
		s.logger.Debug("Session expired", slog.String("playerID", sess.PlayerID))
		return nil
	}
	return sess
}

// RefreshSession bumps LastActivity. Called only once a reconnection is
// confirmed successful.
func (s *Store) RefreshSession(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[token]; ok {
		sess.LastActivity = s.nowFunc()
	}
}

// DeleteSession invalidates a single token. Invalidated tokens are
// unrecoverable.
func (s *Store) DeleteSession(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

// DeleteSessionsForRoom invalidates every token bound to a room, preventing
// a stale token from later reviving a ghost identity. Returns the count.
func (s *Store) DeleteSessionsForRoom(code string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for token, sess := range s.sessions {
		if sess.RoomCode == code {
			delete(s.sessions, token)
			count++
		}
	}
	return count
}

// Count reports live (not yet lazily-expired) sessions for /api/stats.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
