package realtime

import (
	"testing"
	"time"
)

func newTestRegistry(leaveDelay time.Duration) *Registry {
	return NewRegistry(RegistryConfig{LeaveDelay: leaveDelay})
}

func presenceCount(t *testing.T, event Event) int {
	t.Helper()
	data, ok := event.Data.(ActiveUsersData)
	if !ok {
		t.Fatalf("expected ActiveUsersData, got %T", event.Data)
	}
	return data.ActiveCount
}

func TestJoinBroadcastsPresenceToWholeRoom(t *testing.T) {
	registry := newTestRegistry(10 * time.Millisecond)
	first := &fakeConn{}
	second := &fakeConn{}

	if _, err := registry.Join("note-1", first, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	event := waitForEventNamed(t, first, EventActiveUsersUpdate, time.Second)
	if presenceCount(t, event) != 1 {
		t.Fatalf("expected count 1 after first join, got %d", presenceCount(t, event))
	}

	if _, err := registry.Join("note-1", second, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, conn := range []*fakeConn{first, second} {
		updates := conn.EventsNamed(EventActiveUsersUpdate)
		if len(updates) == 0 {
			t.Fatalf("expected presence update on every member")
		}
		if presenceCount(t, updates[len(updates)-1]) != 2 {
			t.Fatalf("expected count 2 after second join, got %d", presenceCount(t, updates[len(updates)-1]))
		}
	}
}

func TestJoinRejectsEmptyNoteID(t *testing.T) {
	registry := newTestRegistry(time.Millisecond)
	if _, err := registry.Join("", &fakeConn{}, false); err != ErrEmptyNoteID {
		t.Fatalf("expected ErrEmptyNoteID, got %v", err)
	}
	if err := registry.Leave("", &fakeConn{}); err != ErrEmptyNoteID {
		t.Fatalf("expected ErrEmptyNoteID, got %v", err)
	}
}

func TestLeaveRecountsAfterDelay(t *testing.T) {
	registry := newTestRegistry(20 * time.Millisecond)
	staying := &fakeConn{}
	leaving := &fakeConn{}

	if _, err := registry.Join("note-1", staying, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := registry.Join("note-1", leaving, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	staying.Reset()

	if err := registry.Leave("note-1", leaving); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(staying.EventsNamed(EventActiveUsersUpdate)) != 0 {
		t.Fatalf("presence recount must be deferred, not immediate")
	}
	if registry.Size("note-1") != 1 {
		t.Fatalf("membership itself must shrink immediately, got %d", registry.Size("note-1"))
	}

	event := waitForEventNamed(t, staying, EventActiveUsersUpdate, time.Second)
	if presenceCount(t, event) != 1 {
		t.Fatalf("expected deferred count 1, got %d", presenceCount(t, event))
	}
}

func TestQuickRejoinKeepsCountStable(t *testing.T) {
	registry := newTestRegistry(40 * time.Millisecond)
	conn := &fakeConn{}

	if _, err := registry.Join("note-1", conn, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := registry.Leave("note-1", conn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Rejoin before the deferred recount fires, as a page refresh would.
	if _, err := registry.Join("note-1", conn, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	updates := conn.EventsNamed(EventActiveUsersUpdate)
	if len(updates) == 0 {
		t.Fatalf("expected presence updates")
	}
	if presenceCount(t, updates[len(updates)-1]) != 1 {
		t.Fatalf("recount at fire time must see the rejoined member, got %d",
			presenceCount(t, updates[len(updates)-1]))
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	registry := newTestRegistry(time.Millisecond)
	inRoomA := &fakeConn{}
	inRoomB := &fakeConn{}

	if _, err := registry.Join("note-a", inRoomA, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := registry.Join("note-b", inRoomB, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inRoomB.Reset()

	registry.Broadcast("note-a", nil, Event{Name: EventContentUpdated, Data: ContentUpdatedData{Content: "x"}})

	if len(inRoomA.EventsNamed(EventContentUpdated)) != 1 {
		t.Fatalf("expected room A member to receive the broadcast")
	}
	if len(inRoomB.EventsNamed(EventContentUpdated)) != 0 {
		t.Fatalf("broadcast must not leak across rooms")
	}
}

func TestRoomDestroyedWhenEmpty(t *testing.T) {
	registry := newTestRegistry(time.Millisecond)
	conn := &fakeConn{}

	if _, err := registry.Join("note-1", conn, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !registry.Protected("note-1") {
		t.Fatalf("expected room to cache the protection flag")
	}
	if err := registry.Leave("note-1", conn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if registry.Size("note-1") != 0 {
		t.Fatalf("expected empty room, got %d", registry.Size("note-1"))
	}
	if registry.Protected("note-1") {
		t.Fatalf("destroyed room must not retain protection state")
	}
}

func TestBroadcastExcludesOrigin(t *testing.T) {
	registry := newTestRegistry(time.Millisecond)
	origin := &fakeConn{}
	peer := &fakeConn{}

	if _, err := registry.Join("note-1", origin, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := registry.Join("note-1", peer, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	origin.Reset()
	peer.Reset()

	registry.Broadcast("note-1", origin, Event{Name: EventNoteSettingsUpdated})

	if len(origin.EventsNamed(EventNoteSettingsUpdated)) != 0 {
		t.Fatalf("origin must not receive its own broadcast")
	}
	if len(peer.EventsNamed(EventNoteSettingsUpdated)) != 1 {
		t.Fatalf("peer must receive the broadcast")
	}
}

func TestBroadcastContentSkipsUnauthenticatedMembers(t *testing.T) {
	registry := newTestRegistry(time.Millisecond)
	origin := &fakeConn{}
	authedPeer := &fakeConn{}
	gatedPeer := &fakeConn{}

	for _, conn := range []*fakeConn{origin, authedPeer, gatedPeer} {
		if _, err := registry.Join("note-1", conn, true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	registry.SetAuthenticated("note-1", origin)
	registry.SetAuthenticated("note-1", authedPeer)
	origin.Reset()
	authedPeer.Reset()
	gatedPeer.Reset()

	registry.BroadcastContent("note-1", origin, Event{
		Name: EventContentUpdated,
		Data: ContentUpdatedData{Content: "secret"},
	})

	if len(origin.EventsNamed(EventContentUpdated)) != 0 {
		t.Fatalf("origin must not receive its own content")
	}
	if len(authedPeer.EventsNamed(EventContentUpdated)) != 1 {
		t.Fatalf("authenticated peer must receive content")
	}
	if len(gatedPeer.EventsNamed(EventContentUpdated)) != 0 {
		t.Fatalf("content must be withheld from members behind the password gate")
	}
}

func TestRefreshProtectionOpensContentFanout(t *testing.T) {
	registry := newTestRegistry(time.Millisecond)
	origin := &fakeConn{}
	peer := &fakeConn{}

	if _, err := registry.Join("note-1", origin, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := registry.Join("note-1", peer, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	registry.RefreshProtection("note-1", false)
	origin.Reset()
	peer.Reset()

	registry.BroadcastContent("note-1", origin, Event{
		Name: EventContentUpdated,
		Data: ContentUpdatedData{Content: "now public"},
	})

	if len(peer.EventsNamed(EventContentUpdated)) != 1 {
		t.Fatalf("unprotected room must fan content to every peer")
	}
}

func TestBroadcastToleratesFailedSends(t *testing.T) {
	registry := newTestRegistry(time.Millisecond)
	broken := &fakeConn{sendErr: errStubFailure}
	healthy := &fakeConn{}

	if _, err := registry.Join("note-1", broken, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := registry.Join("note-1", healthy, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	healthy.Reset()

	registry.Broadcast("note-1", nil, Event{Name: EventContentUpdated})

	if len(healthy.EventsNamed(EventContentUpdated)) != 1 {
		t.Fatalf("a failing peer must not block delivery to others")
	}
}
