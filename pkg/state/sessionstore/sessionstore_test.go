package sessionstore

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestStore(ttl time.Duration) (*Store, *time.Time) {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	s := New(slog.New(handler), ttl, "test-secret")
	now := time.Unix(1_700_000_000, 0)
	s.nowFunc = func() time.Time { return now }
	return s, &now
}

func TestCreateSessionMintsSignedToken(t *testing.T) {
	s, _ := newTestStore(30 * time.Minute)
	token, err := s.CreateSession("player-1", "ABC234", "")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected a minted token")
	}

	parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return []byte("test-secret"), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("minted token should be a valid signed JWT: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["sub"] != "player-1" || claims["room"] != "ABC234" {
		t.Errorf("unexpected claims: %v", claims)
	}
}

func TestCreateSessionAdoptsExternalToken(t *testing.T) {
	s, _ := newTestStore(30 * time.Minute)
	token, err := s.CreateSession("player-1", "ABC234", "platform-issued-opaque-token")
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if token != "platform-issued-opaque-token" {
		t.Errorf("external token should be adopted as the key, got %q", token)
	}
	if sess := s.ValidateSession(token); sess == nil || sess.PlayerID != "player-1" {
		t.Error("adopted token should validate")
	}
}

func TestValidateSessionIsARead(t *testing.T) {
	s, now := newTestStore(30 * time.Minute)
	token, _ := s.CreateSession("p", "ABC234", "")
	created := s.ValidateSession(token).LastActivity

	*now = now.Add(10 * time.Minute)
	sess := s.ValidateSession(token)
	if sess == nil {
		t.Fatal("session should still validate")
	}
	if !sess.LastActivity.Equal(created) {
		t.Error("validation must not bump LastActivity")
	}
}

func TestLazyExpiry(t *testing.T) {
	s, now := newTestStore(30 * time.Minute)
	token, _ := s.CreateSession("p", "ABC234", "")

	*now = now.Add(30*time.Minute - time.Second)
	if s.ValidateSession(token) == nil {
		t.Fatal("session inside the window should validate")
	}

	*now = now.Add(2 * time.Second)
	if s.ValidateSession(token) != nil {
		t.Fatal("session past the window should be expired")
	}
	// Expired tokens are unrecoverable, even if time rolled back.
	*now = now.Add(-10 * time.Minute)
	if s.ValidateSession(token) != nil {
		t.Error("expired token must not revive")
	}
}

func TestRefreshExtendsWindow(t *testing.T) {
	s, now := newTestStore(30 * time.Minute)
	token, _ := s.CreateSession("p", "ABC234", "")

	*now = now.Add(29 * time.Minute)
	s.RefreshSession(token)
	*now = now.Add(29 * time.Minute)
	if s.ValidateSession(token) == nil {
		t.Error("refresh should restart the inactivity window")
	}
}

func TestDeleteSessionsForRoom(t *testing.T) {
	s, _ := newTestStore(30 * time.Minute)
	t1, _ := s.CreateSession("p1", "ABC234", "")
	t2, _ := s.CreateSession("p2", "ABC234", "")
	t3, _ := s.CreateSession("p3", "XYZ789", "")

	if count := s.DeleteSessionsForRoom("ABC234"); count != 2 {
		t.Errorf("expected 2 sessions deleted, got %d", count)
	}
	if s.ValidateSession(t1) != nil || s.ValidateSession(t2) != nil {
		t.Error("room sessions should be invalidated")
	}
	if s.ValidateSession(t3) == nil {
		t.Error("other room's session should survive")
	}
	if s.Count() != 1 {
		t.Errorf("expected 1 remaining session, got %d", s.Count())
	}
}

func TestDeleteSession(t *testing.T) {
	s, _ := newTestStore(30 * time.Minute)
	token, _ := s.CreateSession("p", "ABC234", "")
	s.DeleteSession(token)
	if s.ValidateSession(token) != nil {
		t.Error("deleted token must not validate")
	}
}
