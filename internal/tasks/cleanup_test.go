package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type stubDeleter struct {
	mu      sync.Mutex
	calls   int
	deleted int64
	err     error
}

func (d *stubDeleter) DeleteExpired(ctx context.Context) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.deleted, d.err
}

func (d *stubDeleter) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func TestNewCleanupRequiresDeleter(t *testing.T) {
	if _, err := NewCleanup(CleanupConfig{}); err == nil {
		t.Fatalf("expected error for missing deleter")
	}
}

func TestStartRunsImmediateSweep(t *testing.T) {
	deleter := &stubDeleter{deleted: 3}
	cleanup, err := NewCleanup(CleanupConfig{Deleter: deleter})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cleanup.Stop()

	if err := cleanup.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleter.callCount() != 1 {
		t.Fatalf("expected one sweep at startup, got %d", deleter.callCount())
	}
}

func TestSweepSurvivesDeleterFailure(t *testing.T) {
	deleter := &stubDeleter{err: errors.New("database closed")}
	cleanup, err := NewCleanup(CleanupConfig{Deleter: deleter})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cleanup.Sweep()
	cleanup.Sweep()
	if deleter.callCount() != 2 {
		t.Fatalf("failed sweeps must not stop later ones, got %d calls", deleter.callCount())
	}
}
