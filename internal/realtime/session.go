package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ephemera-notes/ephemera/internal/notes"
	"github.com/juju/ratelimit"
	"go.uber.org/zap"
)

// Session states. A session starts Unjoined, occupies at most one room, and
// ends Disconnected. Authentication is per connection, not per user: each
// connection to a protected note must pass the password gate itself.
type State int

const (
	StateUnjoined State = iota
	StateJoinedUnauthenticated
	StateJoinedAuthenticated
	StateDisconnected
)

const (
	authAttemptInterval = time.Second
	authAttemptBurst    = 5
)

var (
	errAlreadyJoined = errors.New("realtime: connection already joined a note")
	errNotJoined     = errors.New("realtime: connection has not joined a note")
	errWrongRoom     = errors.New("realtime: payload note id does not match joined room")
)

// SessionConfig wires one connection's dependencies.
type SessionConfig struct {
	Conn     Conn
	Registry *Registry
	Gateway  PersistenceGateway
	Logger   *zap.Logger
}

// Session is the per-connection state machine. All handler methods are
// invoked from the connection's single read loop, so session state needs no
// locking; only Conn.Send must tolerate concurrent callers.
type Session struct {
	conn     Conn
	registry *Registry
	gateway  PersistenceGateway
	logger   *zap.Logger

	// authAttempts throttles password guesses on this connection. There is
	// no lockout; a drained bucket just delays the next attempt.
	authAttempts *ratelimit.Bucket

	state  State
	noteID notes.NoteID
	userID string
}

// NewSession constructs a session in the Unjoined state.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Conn == nil {
		return nil, errors.New("realtime: connection is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("realtime: registry is required")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("realtime: persistence gateway is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		conn:         cfg.Conn,
		registry:     cfg.Registry,
		gateway:      cfg.Gateway,
		logger:       logger,
		authAttempts: ratelimit.NewBucket(authAttemptInterval, authAttemptBurst),
		state:        StateUnjoined,
	}, nil
}

// State exposes the current session state.
func (s *Session) State() State {
	return s.state
}

// HandleJoin fetches or creates the note, arbitrates ownership, enters the
// room, and emits a single note-content event. On any gateway failure the
// session stays Unjoined and out of the registry; the returned error tells
// the transport to close the connection only when the note id itself was
// unusable.
func (s *Session) HandleJoin(ctx context.Context, payload JoinPayload) error {
	if s.state != StateUnjoined {
		s.send(errorEvent("already joined a note"))
		return errAlreadyJoined
	}

	noteID, err := notes.NewNoteID(payload.NoteID)
	if err != nil {
		s.send(errorEvent("a valid note id is required"))
		return fmt.Errorf("join rejected: %w", err)
	}

	note, err := s.gateway.GetOrCreate(ctx, noteID, nil)
	if err != nil {
		s.logger.Error("join setup failed",
			zap.String("note_id", noteID.String()),
			zap.Error(err))
		s.send(errorEvent("could not open note"))
		return nil
	}

	// The claim must be an atomic conditional write at the gateway; a
	// different user may win the race, so isOwner is computed from the
	// persisted winner, never from the caller's intent.
	owner := ""
	if note.OwnerID != nil {
		owner = *note.OwnerID
	}
	if owner == "" && payload.UserID != "" {
		winner, claimErr := s.gateway.ClaimOwnershipIfUnset(ctx, noteID, payload.UserID)
		if claimErr != nil {
			s.logger.Error("ownership claim failed",
				zap.String("note_id", noteID.String()),
				zap.Error(claimErr))
			s.send(errorEvent("could not open note"))
			return nil
		}
		owner = winner
	}
	isOwner := owner != "" && payload.UserID != "" && owner == payload.UserID

	if viewErr := s.gateway.RecordView(ctx, noteID); viewErr != nil {
		s.logger.Debug("view count update failed",
			zap.String("note_id", noteID.String()),
			zap.Error(viewErr))
	}

	if _, err := s.registry.Join(noteID.String(), s.conn, note.HasPassword()); err != nil {
		s.send(errorEvent("could not join note room"))
		return err
	}

	s.noteID = noteID
	s.userID = payload.UserID
	if note.HasPassword() {
		s.state = StateJoinedUnauthenticated
	} else {
		s.state = StateJoinedAuthenticated
	}

	// Protected notes withhold their content until the password gate is
	// passed; the snapshot arrives with auth-success instead.
	visibleContent := note.Content
	if note.HasPassword() {
		visibleContent = ""
	}
	s.send(Event{Name: EventNoteContent, Data: NoteContentData{
		Content:     visibleContent,
		HasPassword: note.HasPassword(),
		IsOwner:     isOwner,
		ReadOnly:    note.ReadOnly,
	}})
	return nil
}

// HandleAuth verifies a password attempt against the gateway. Failures keep
// the connection open for retry; attempts are throttled per connection.
func (s *Session) HandleAuth(ctx context.Context, payload AuthPayload) error {
	if s.state == StateUnjoined || s.state == StateDisconnected {
		s.send(errorEvent("join a note before authenticating"))
		return errNotJoined
	}
	if payload.NoteID != s.noteID.String() {
		s.send(errorEvent("note id does not match joined note"))
		return errWrongRoom
	}
	if !s.registry.Protected(s.noteID.String()) {
		return nil
	}
	if s.authAttempts.TakeAvailable(1) == 0 {
		s.send(errorEvent("too many password attempts"))
		return nil
	}

	ok, err := s.gateway.VerifyPassword(ctx, s.noteID, payload.Password)
	if err != nil {
		s.logger.Error("password verification failed",
			zap.String("note_id", s.noteID.String()),
			zap.Error(err))
		s.send(errorEvent("could not verify password"))
		return nil
	}
	if !ok {
		s.send(Event{Name: EventAuthFailed})
		return nil
	}

	// Re-fetch so the withheld snapshot reflects edits made by already
	// authenticated peers while this connection sat at the gate.
	note, err := s.gateway.GetOrCreate(ctx, s.noteID, nil)
	if err != nil {
		s.logger.Error("post-auth fetch failed",
			zap.String("note_id", s.noteID.String()),
			zap.Error(err))
		s.send(errorEvent("could not load note"))
		return nil
	}

	s.state = StateJoinedAuthenticated
	s.registry.SetAuthenticated(s.noteID.String(), s.conn)
	s.send(Event{Name: EventAuthSuccess, Data: AuthSuccessData{Content: note.Content}})
	return nil
}

// HandleUpdate persists a whole-document snapshot and fans it out to room
// peers. The write is dropped with auth-required when the note is protected
// and this connection has not authenticated. A failed persist is never
// followed by a broadcast.
func (s *Session) HandleUpdate(ctx context.Context, payload UpdatePayload) error {
	if s.state == StateUnjoined || s.state == StateDisconnected {
		s.send(errorEvent("join a note before editing"))
		return errNotJoined
	}
	if payload.NoteID != s.noteID.String() {
		s.send(errorEvent("note id does not match joined note"))
		return errWrongRoom
	}
	if s.registry.Protected(s.noteID.String()) && s.state != StateJoinedAuthenticated {
		s.send(Event{Name: EventAuthRequired})
		return nil
	}

	if err := s.gateway.UpdateContent(ctx, s.noteID, payload.Content); err != nil {
		if errors.Is(err, notes.ErrReadOnly) {
			s.send(errorEvent("note is read-only"))
			return nil
		}
		s.logger.Error("content persist failed",
			zap.String("note_id", s.noteID.String()),
			zap.Error(err))
		s.send(errorEvent("could not save note"))
		return nil
	}

	s.registry.BroadcastContent(s.noteID.String(), s.conn, Event{
		Name: EventContentUpdated,
		Data: ContentUpdatedData{Content: payload.Content},
	})
	return nil
}

// HandlePasswordChanged refreshes the room's cached protection flag from the
// persisted note and announces the new settings to room peers. The HTTP API
// already performed the owner-gated persistence; the socket event only keeps
// live viewers current.
func (s *Session) HandlePasswordChanged(ctx context.Context, payload PasswordChangedPayload) error {
	return s.refreshSettings(ctx, payload.NoteID)
}

// HandleReadOnlyChanged mirrors HandlePasswordChanged for the read-only flag.
func (s *Session) HandleReadOnlyChanged(ctx context.Context, payload ReadOnlyChangedPayload) error {
	return s.refreshSettings(ctx, payload.NoteID)
}

func (s *Session) refreshSettings(ctx context.Context, noteID string) error {
	if s.state == StateUnjoined || s.state == StateDisconnected {
		s.send(errorEvent("join a note before changing settings"))
		return errNotJoined
	}
	if noteID != s.noteID.String() {
		s.send(errorEvent("note id does not match joined note"))
		return errWrongRoom
	}

	note, err := s.gateway.GetOrCreate(ctx, s.noteID, nil)
	if err != nil {
		s.logger.Error("settings refresh failed",
			zap.String("note_id", s.noteID.String()),
			zap.Error(err))
		s.send(errorEvent("could not refresh note settings"))
		return nil
	}

	s.registry.RefreshProtection(s.noteID.String(), note.HasPassword())
	if !note.HasPassword() {
		// Removing the password makes every current viewer a writer.
		s.state = StateJoinedAuthenticated
	}
	s.registry.Broadcast(s.noteID.String(), s.conn, Event{
		Name: EventNoteSettingsUpdated,
		Data: NoteSettingsData{HasPassword: note.HasPassword(), ReadOnly: note.ReadOnly},
	})
	return nil
}

// Disconnect leaves the current room (if any) and moves the session to its
// terminal state. Valid from every non-terminal state.
func (s *Session) Disconnect() {
	if s.state == StateDisconnected {
		return
	}
	if s.state != StateUnjoined {
		if err := s.registry.Leave(s.noteID.String(), s.conn); err != nil {
			s.logger.Debug("room leave failed",
				zap.String("note_id", s.noteID.String()),
				zap.Error(err))
		}
	}
	s.state = StateDisconnected
}

func (s *Session) send(event Event) {
	if err := s.conn.Send(event); err != nil {
		s.logger.Debug("session send failed",
			zap.String("event", event.Name),
			zap.Error(err))
	}
}
