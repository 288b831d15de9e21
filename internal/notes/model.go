package notes

import (
	"errors"
	"fmt"
	"strings"
)

const (
	maxNoteIDLength = 40
	noteIDCharset   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-"
)

var (
	// ErrInvalidNoteID indicates that a note identifier is empty, too long,
	// or contains characters outside the slug alphabet.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrNoteNotFound indicates the requested note does not exist.
	ErrNoteNotFound = errors.New("notes: note not found")
	// ErrNotOwner indicates the caller does not own the note.
	ErrNotOwner = errors.New("notes: caller is not the note owner")
	// ErrReadOnly indicates a write was attempted against a read-only note.
	ErrReadOnly = errors.New("notes: note is read-only")
	// ErrURLTaken indicates the requested identifier is already in use.
	ErrURLTaken = errors.New("notes: url already taken")
)

// NoteID represents a validated note identifier. Identifiers double as the
// note's URL path, so the alphabet is restricted to URL-safe slug characters.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxNoteIDLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxNoteIDLength)
	}
	for _, r := range trimmed {
		if !strings.ContainsRune(noteIDCharset, r) {
			return "", fmt.Errorf("%w: character %q not allowed", ErrInvalidNoteID, r)
		}
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// Note models a persisted note. The identifier is the user-chosen (or
// generated) URL slug. OwnerID is nil for anonymous notes and transitions
// from nil to a concrete user id at most once.
type Note struct {
	NoteID           string  `gorm:"column:note_id;primaryKey;size:40;not null"`
	Content          string  `gorm:"column:content;type:text;not null"`
	PasswordHash     string  `gorm:"column:password_hash;size:190;not null;default:''"`
	OwnerID          *string `gorm:"column:owner_id;size:190"`
	ReadOnly         bool    `gorm:"column:read_only;not null;default:false"`
	Views            int64   `gorm:"column:views;not null;default:0"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null"`
	ExpiresAtSeconds int64   `gorm:"column:expires_at_s;not null;index:idx_notes_expires"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// HasPassword reports whether the note is password protected.
func (n Note) HasPassword() bool {
	return n.PasswordHash != ""
}

// OwnedBy reports whether the note is owned by the given user id. Both sides
// must be non-empty for ownership to hold.
func (n Note) OwnedBy(userID string) bool {
	if n.OwnerID == nil || userID == "" {
		return false
	}
	return *n.OwnerID == userID
}
