// Package documents holds the validated identifiers shared by the annotation and reading
// stores.
package documents

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidDocumentKey indicates that a document key is empty or exceeds storage bounds.
	ErrInvalidDocumentKey = errors.New("documents: invalid document key")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("documents: invalid user id")
)

// Key identifies one readable document (a guide, a book or a PDF upload).
type Key string

// NewKey validates raw input and returns a Key.
func NewKey(rawInput string) (Key, error) {
	trimmed, err := validateIdentifier(rawInput, ErrInvalidDocumentKey)
	if err != nil {
		return "", err
	}
	return Key(trimmed), nil
}

// String returns the underlying string identifier.
func (key Key) String() string {
	return string(key)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed, err := validateIdentifier(rawInput, ErrInvalidUserID)
	if err != nil {
		return "", err
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

func validateIdentifier(rawInput string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", sentinel)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", sentinel, maxIdentifierLength)
	}
	return trimmed, nil
}
