package realtime

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultLeaveDelay = time.Second

// ErrEmptyNoteID indicates a join or leave without a note identifier.
var ErrEmptyNoteID = errors.New("realtime: note id is required")

// Conn is the send side of one live connection. The websocket transport and
// test fakes implement it; sends must be safe to call from multiple
// goroutines.
type Conn interface {
	Send(event Event) error
}

// RoomSnapshot reports the room state observed at join time.
type RoomSnapshot struct {
	Size        int
	HasPassword bool
}

// room tracks members and which of them have passed the password gate. The
// value is the member's authenticated flag; it is meaningful only while
// hasPassword is true.
type room struct {
	members     map[Conn]bool
	hasPassword bool
}

// RegistryConfig configures room bookkeeping.
type RegistryConfig struct {
	// LeaveDelay postpones the presence broadcast after a member leaves, so
	// rapid refresh cycles do not make the count visibly flap. Joins always
	// broadcast immediately.
	LeaveDelay time.Duration
	Logger     *zap.Logger
}

// Registry tracks, per note identifier, which connections are currently
// present. State is process-local and mutex-guarded; rooms are lost on
// restart and clients must rejoin. The registry is injected into the socket
// layer rather than accessed as a global so tests can substitute their own.
type Registry struct {
	mu         sync.Mutex
	rooms      map[string]*room
	leaveDelay time.Duration
	logger     *zap.Logger
}

// NewRegistry constructs an empty room registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	delay := cfg.LeaveDelay
	if delay <= 0 {
		delay = defaultLeaveDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		rooms:      make(map[string]*room),
		leaveDelay: delay,
		logger:     logger,
	}
}

// Join adds the connection to the note's room, creating the room when absent.
// The room caches the note's protection flag from the moment of creation;
// RefreshProtection updates it on settings changes. Membership changes
// broadcast an active-users-update to the whole room, joiner included.
func (r *Registry) Join(noteID string, conn Conn, hasPassword bool) (RoomSnapshot, error) {
	if noteID == "" {
		return RoomSnapshot{}, ErrEmptyNoteID
	}

	r.mu.Lock()
	entry, ok := r.rooms[noteID]
	if !ok {
		entry = &room{
			members:     make(map[Conn]bool),
			hasPassword: hasPassword,
		}
		r.rooms[noteID] = entry
	}
	entry.members[conn] = !entry.hasPassword
	snapshot := RoomSnapshot{Size: len(entry.members), HasPassword: entry.hasPassword}
	r.mu.Unlock()

	r.reportMembership(noteID)
	return snapshot, nil
}

// Leave removes the connection from the note's room and destroys the room
// when its member set becomes empty. The presence recount is deferred by the
// configured leave delay and reads membership at fire time, so a quick
// rejoin produces the correct count.
func (r *Registry) Leave(noteID string, conn Conn) error {
	if noteID == "" {
		return ErrEmptyNoteID
	}

	r.mu.Lock()
	entry, ok := r.rooms[noteID]
	if ok {
		delete(entry.members, conn)
		if len(entry.members) == 0 {
			delete(r.rooms, noteID)
		}
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	time.AfterFunc(r.leaveDelay, func() {
		r.reportMembership(noteID)
	})
	return nil
}

// MembersExcept returns every member of the room other than the given
// connection.
func (r *Registry) MembersExcept(noteID string, conn Conn) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.rooms[noteID]
	if !ok {
		return nil
	}
	peers := make([]Conn, 0, len(entry.members))
	for member := range entry.members {
		if member != conn {
			peers = append(peers, member)
		}
	}
	return peers
}

// Size returns the current member count for the note's room.
func (r *Registry) Size(noteID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.rooms[noteID]
	if !ok {
		return 0
	}
	return len(entry.members)
}

// Protected returns the room's cached password-protection flag. A note
// without a live room falls back to unprotected; sessions always consult the
// gateway before trusting a write anyway.
func (r *Registry) Protected(noteID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.rooms[noteID]
	if !ok {
		return false
	}
	return entry.hasPassword
}

// RefreshProtection updates the room's cached protection flag after a
// settings change.
func (r *Registry) RefreshProtection(noteID string, hasPassword bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.rooms[noteID]; ok {
		entry.hasPassword = hasPassword
	}
}

// SetAuthenticated marks the connection as having passed the note's password
// gate, making it eligible for content fan-out.
func (r *Registry) SetAuthenticated(noteID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.rooms[noteID]; ok {
		if _, member := entry.members[conn]; member {
			entry.members[conn] = true
		}
	}
}

// Broadcast sends the event to every room member except origin. Pass a nil
// origin to reach the whole room. Delivery is best-effort; a failed send is
// logged and does not affect other members.
func (r *Registry) Broadcast(noteID string, origin Conn, event Event) {
	for _, peer := range r.MembersExcept(noteID, origin) {
		if err := peer.Send(event); err != nil {
			r.logger.Debug("broadcast send failed",
				zap.String("note_id", noteID),
				zap.String("event", event.Name),
				zap.Error(err))
		}
	}
}

// BroadcastContent fans a content snapshot out to room peers. The origin is
// excluded (it already holds the authoritative value locally), and on a
// protected note so is every member still behind the password gate.
func (r *Registry) BroadcastContent(noteID string, origin Conn, event Event) {
	r.mu.Lock()
	entry, ok := r.rooms[noteID]
	if !ok {
		r.mu.Unlock()
		return
	}
	recipients := make([]Conn, 0, len(entry.members))
	for member, authenticated := range entry.members {
		if member == origin {
			continue
		}
		if entry.hasPassword && !authenticated {
			continue
		}
		recipients = append(recipients, member)
	}
	r.mu.Unlock()

	for _, peer := range recipients {
		if err := peer.Send(event); err != nil {
			r.logger.Debug("content broadcast send failed",
				zap.String("note_id", noteID),
				zap.Error(err))
		}
	}
}

// reportMembership recomputes the room size and announces it to every member,
// including whoever caused the change.
func (r *Registry) reportMembership(noteID string) {
	r.mu.Lock()
	entry, ok := r.rooms[noteID]
	if !ok {
		r.mu.Unlock()
		return
	}
	members := make([]Conn, 0, len(entry.members))
	for member := range entry.members {
		members = append(members, member)
	}
	count := len(members)
	r.mu.Unlock()

	event := Event{
		Name: EventActiveUsersUpdate,
		Data: ActiveUsersData{NoteID: noteID, ActiveCount: count},
	}
	for _, member := range members {
		if err := member.Send(event); err != nil {
			r.logger.Debug("presence send failed",
				zap.String("note_id", noteID),
				zap.Error(err))
		}
	}
}
