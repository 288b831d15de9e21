package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ephemera-notes/ephemera/internal/notes"
)

// fakeConn records every event sent to it. Presence timers deliver from their
// own goroutines, so access is mutex guarded.
type fakeConn struct {
	mu      sync.Mutex
	events  []Event
	sendErr error
}

func (c *fakeConn) Send(event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.events = append(c.events, event)
	return nil
}

func (c *fakeConn) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := make([]Event, len(c.events))
	copy(copied, c.events)
	return copied
}

func (c *fakeConn) EventsNamed(name string) []Event {
	var matched []Event
	for _, event := range c.Events() {
		if event.Name == name {
			matched = append(matched, event)
		}
	}
	return matched
}

func (c *fakeConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

// fakeGateway is an in-memory PersistenceGateway with error injection.
type fakeGateway struct {
	mu    sync.Mutex
	notes map[string]notes.Note

	// password is the plaintext accepted by VerifyPassword.
	password string

	getOrCreateErr error
	verifyErr      error
	updateErr      error
	claimErr       error

	verifyCalls int
	updateCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{notes: make(map[string]notes.Note)}
}

func (g *fakeGateway) put(note notes.Note) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.notes[note.NoteID] = note
}

func (g *fakeGateway) get(id string) notes.Note {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.notes[id]
}

func (g *fakeGateway) GetOrCreate(ctx context.Context, id notes.NoteID, ownerID *string) (notes.Note, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getOrCreateErr != nil {
		return notes.Note{}, g.getOrCreateErr
	}
	note, ok := g.notes[id.String()]
	if !ok {
		note = notes.Note{NoteID: id.String(), OwnerID: ownerID}
		g.notes[id.String()] = note
	}
	return note, nil
}

func (g *fakeGateway) VerifyPassword(ctx context.Context, id notes.NoteID, plaintext string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	if g.verifyErr != nil {
		return false, g.verifyErr
	}
	note := g.notes[id.String()]
	return note.HasPassword() && plaintext == g.password, nil
}

func (g *fakeGateway) UpdateContent(ctx context.Context, id notes.NoteID, content string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updateCalls++
	if g.updateErr != nil {
		return g.updateErr
	}
	note, ok := g.notes[id.String()]
	if !ok {
		return notes.ErrNoteNotFound
	}
	if note.ReadOnly {
		return notes.ErrReadOnly
	}
	note.Content = content
	g.notes[id.String()] = note
	return nil
}

func (g *fakeGateway) ClaimOwnershipIfUnset(ctx context.Context, id notes.NoteID, ownerID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.claimErr != nil {
		return "", g.claimErr
	}
	note, ok := g.notes[id.String()]
	if !ok {
		return "", notes.ErrNoteNotFound
	}
	if note.OwnerID == nil {
		note.OwnerID = &ownerID
		g.notes[id.String()] = note
	}
	return *note.OwnerID, nil
}

func (g *fakeGateway) RecordView(ctx context.Context, id notes.NoteID) error {
	return nil
}

var errStubFailure = errors.New("stub failure")

// waitForEventNamed polls the connection until an event with the given name
// shows up or the timeout elapses.
func waitForEventNamed(t *testing.T, conn *fakeConn, name string, timeout time.Duration) Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		matched := conn.EventsNamed(name)
		if len(matched) > 0 {
			return matched[len(matched)-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q event", name)
	return Event{}
}

func newTestSession(t *testing.T, conn Conn, registry *Registry, gateway PersistenceGateway) *Session {
	t.Helper()
	session, err := NewSession(SessionConfig{
		Conn:     conn,
		Registry: registry,
		Gateway:  gateway,
	})
	if err != nil {
		t.Fatalf("failed to build session: %v", err)
	}
	return session
}
