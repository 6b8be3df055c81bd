package validate

import (
	"errors"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// CodeAlphabet is the set of characters room codes are drawn from. Visually
// confusable characters (0/O, 1/I) are excluded so codes survive being read
// aloud or copied off a projector.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	CodeLength    = 6
	MaxNameLength = 20
	MaxMessageLen = 500
)

var (
	ErrEmptyName      = errors.New("name must not be empty")
	ErrNameTooLong    = errors.New("name must be at most 20 characters")
	ErrBadCode        = errors.New("room code must be 6 characters from the code alphabet")
	ErrEmptyMessage   = errors.New("message must not be empty")
	ErrMessageTooLong = errors.New("message must be at most 500 characters")
)

var payloadValidator = validator.New(validator.WithRequiredStructEnabled())

// Struct validates an inbound payload struct against its `validate` tags.
func Struct(v any) error {
	return payloadValidator.Struct(v)
}

// PlayerName trims and sanitizes a display name and enforces length bounds.
func PlayerName(s string) (string, error) {
	name := strings.TrimSpace(stripControl(s))
	if name == "" {
		return "", ErrEmptyName
	}
	if len([]rune(name)) > MaxNameLength {
		return "", ErrNameTooLong
	}
	return name, nil
}

// RoomCode uppercases and checks a candidate room code against the alphabet.
func RoomCode(s string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if len(code) != CodeLength {
		return "", ErrBadCode
	}
	for _, r := range code {
		if !strings.ContainsRune(CodeAlphabet, r) {
			return "", ErrBadCode
		}
	}
	return code, nil
}

// ChatMessage sanitizes free text and enforces the size cap.
func ChatMessage(s string) (string, error) {
	msg := strings.TrimSpace(stripControl(s))
	if msg == "" {
		return "", ErrEmptyMessage
	}
	if len([]rune(msg)) > MaxMessageLen {
		return "", ErrMessageTooLong
	}
	return msg, nil
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
