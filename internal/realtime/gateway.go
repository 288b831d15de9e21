package realtime

import (
	"context"

	"github.com/ephemera-notes/ephemera/internal/notes"
)

// PersistenceGateway is the realtime layer's view of note storage. It is
// satisfied by *notes.Service; tests substitute fakes. The gateway owns all
// atomicity guarantees, notably the conditional write behind
// ClaimOwnershipIfUnset.
type PersistenceGateway interface {
	GetOrCreate(ctx context.Context, id notes.NoteID, ownerID *string) (notes.Note, error)
	VerifyPassword(ctx context.Context, id notes.NoteID, plaintext string) (bool, error)
	UpdateContent(ctx context.Context, id notes.NoteID, content string) error
	ClaimOwnershipIfUnset(ctx context.Context, id notes.NoteID, ownerID string) (string, error)
	RecordView(ctx context.Context, id notes.NoteID) error
}
