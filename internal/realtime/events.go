package realtime

import "encoding/json"

// Wire event names. Client events arrive as {"event": name, "data": {...}}
// envelopes; server events are sent in the same shape.
const (
	EventJoinNote        = "join-note"
	EventAuth            = "auth"
	EventUpdateContent   = "update-content"
	EventPasswordChanged = "password-changed"
	EventReadOnlyChanged = "readonly-changed"

	EventNoteContent         = "note-content"
	EventContentUpdated      = "content-updated"
	EventAuthSuccess         = "auth-success"
	EventAuthFailed          = "auth-failed"
	EventAuthRequired        = "auth-required"
	EventActiveUsersUpdate   = "active-users-update"
	EventNoteSettingsUpdated = "note-settings-updated"
	EventError               = "error"
)

// Event is a server-to-client message. Data is marshalled when the event is
// written to the transport.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// Envelope is a client-to-server message. Data stays raw until the handler
// for the named event decodes it.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JoinPayload opens a room for a note. UserID is asserted by the client and
// not verified at this layer.
type JoinPayload struct {
	NoteID string `json:"noteId"`
	UserID string `json:"userId,omitempty"`
}

// AuthPayload carries a password attempt for a protected note.
type AuthPayload struct {
	NoteID   string `json:"noteId"`
	Password string `json:"password"`
}

// UpdatePayload carries a whole-document snapshot, not a diff.
type UpdatePayload struct {
	NoteID  string `json:"noteId"`
	Content string `json:"content"`
}

// PasswordChangedPayload announces that the note's protection settings were
// changed through the HTTP API.
type PasswordChangedPayload struct {
	NoteID      string `json:"noteId"`
	HasPassword bool   `json:"hasPassword"`
}

// ReadOnlyChangedPayload announces that the note's read-only flag was changed
// through the HTTP API.
type ReadOnlyChangedPayload struct {
	NoteID   string `json:"noteId"`
	ReadOnly bool   `json:"readOnly"`
}

// NoteContentData is sent once per successful join.
type NoteContentData struct {
	Content     string `json:"content"`
	HasPassword bool   `json:"hasPassword"`
	IsOwner     bool   `json:"isOwner"`
	ReadOnly    bool   `json:"readOnly"`
}

// ContentUpdatedData fans a peer's accepted write out to the room.
type ContentUpdatedData struct {
	Content string `json:"content"`
}

// AuthSuccessData delivers the withheld snapshot once the password check
// passes.
type AuthSuccessData struct {
	Content string `json:"content"`
}

// ActiveUsersData reports the room's current member count.
type ActiveUsersData struct {
	NoteID      string `json:"noteId"`
	ActiveCount int    `json:"activeCount"`
}

// NoteSettingsData reflects the note's persisted settings after a change.
type NoteSettingsData struct {
	HasPassword bool `json:"hasPassword"`
	ReadOnly    bool `json:"readOnly"`
}

// ErrorData carries a human-readable failure message. Errors are non-fatal
// unless the connection's setup itself failed.
type ErrorData struct {
	Message string `json:"message"`
}

func errorEvent(message string) Event {
	return Event{Name: EventError, Data: ErrorData{Message: message}}
}
