package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const defaultNoteTTL = 720 * time.Hour

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a dotted operation code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "notes.service.new"
	opGetOrCreate    = "notes.get_or_create"
	opGet            = "notes.get"
	opCreate         = "notes.create"
	opUpdateContent  = "notes.update_content"
	opVerifyPassword = "notes.verify_password"
	opSetPassword    = "notes.set_password"
	opRemovePassword = "notes.remove_password"
	opClaimOwnership = "notes.claim_ownership"
	opSetReadOnly    = "notes.set_read_only"
	opChangeURL      = "notes.change_url"
	opRecordView     = "notes.record_view"
	opDeleteExpired  = "notes.delete_expired"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies required by the note service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	NoteTTL    time.Duration
	Logger     *zap.Logger
}

// Service is the persistence gateway for notes. All mutations to a note go
// through it; the ownership claim is the one operation that must be an atomic
// conditional write because concurrent claims can arrive from different
// server processes.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	noteTTL    time.Duration
	logger     *zap.Logger
}

// NewService constructs the note service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	ttl := cfg.NoteTTL
	if ttl <= 0 {
		ttl = defaultNoteTTL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		noteTTL:    ttl,
		logger:     logger,
	}, nil
}

// Get returns the note with the given identifier.
func (s *Service) Get(ctx context.Context, id NoteID) (Note, error) {
	var note Note
	err := s.db.WithContext(ctx).
		Where("note_id = ?", id.String()).
		Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Note{}, ErrNoteNotFound
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("note_id", id.String()))
		return Note{}, newServiceError(opGet, "query_failed", err)
	}
	return note, nil
}

// Exists reports whether a note with the given identifier is persisted.
func (s *Service) Exists(ctx context.Context, id NoteID) (bool, error) {
	_, err := s.Get(ctx, id)
	if errors.Is(err, ErrNoteNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetOrCreate returns the note with the given identifier, creating it with
// empty content when absent. Two connections racing to create the same note
// are resolved by the unique primary key: the loser re-fetches the winner's
// row.
func (s *Service) GetOrCreate(ctx context.Context, id NoteID, ownerID *string) (Note, error) {
	note, err := s.Get(ctx, id)
	if err == nil {
		return note, nil
	}
	if !errors.Is(err, ErrNoteNotFound) {
		return Note{}, err
	}

	now := s.clock().UTC()
	fresh := Note{
		NoteID:           id.String(),
		Content:          "",
		OwnerID:          normalizeOwner(ownerID),
		CreatedAtSeconds: now.Unix(),
		UpdatedAtSeconds: now.Unix(),
		ExpiresAtSeconds: now.Add(s.noteTTL).Unix(),
	}
	if createErr := s.db.WithContext(ctx).Create(&fresh).Error; createErr != nil {
		note, err = s.Get(ctx, id)
		if err != nil {
			s.logError(opGetOrCreate, "create_failed", createErr, zap.String("note_id", id.String()))
			return Note{}, newServiceError(opGetOrCreate, "create_failed", createErr)
		}
		return note, nil
	}
	return fresh, nil
}

// Create persists a new note under a generated identifier.
func (s *Service) Create(ctx context.Context, content, password string, ownerID *string) (Note, error) {
	rawID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Note{}, newServiceError(opCreate, "id_generation_failed", err)
	}
	id, err := NewNoteID(rawID)
	if err != nil {
		return Note{}, newServiceError(opCreate, "invalid_generated_id", err)
	}

	passwordHash := ""
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			s.logError(opCreate, "hash_failed", err)
			return Note{}, newServiceError(opCreate, "hash_failed", err)
		}
		passwordHash = string(hash)
	}

	now := s.clock().UTC()
	note := Note{
		NoteID:           id.String(),
		Content:          content,
		PasswordHash:     passwordHash,
		OwnerID:          normalizeOwner(ownerID),
		CreatedAtSeconds: now.Unix(),
		UpdatedAtSeconds: now.Unix(),
		ExpiresAtSeconds: now.Add(s.noteTTL).Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		s.logError(opCreate, "create_failed", err, zap.String("note_id", id.String()))
		return Note{}, newServiceError(opCreate, "create_failed", err)
	}
	return note, nil
}

// UpdateContent overwrites the note's content with the provided snapshot.
// This is a whole-document write, not a diff.
func (s *Service) UpdateContent(ctx context.Context, id NoteID, content string) error {
	note, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if note.ReadOnly {
		return ErrReadOnly
	}

	result := s.db.WithContext(ctx).Model(&Note{}).
		Where("note_id = ?", id.String()).
		Updates(map[string]interface{}{
			"content":      content,
			"updated_at_s": s.clock().UTC().Unix(),
		})
	if result.Error != nil {
		s.logError(opUpdateContent, "update_failed", result.Error, zap.String("note_id", id.String()))
		return newServiceError(opUpdateContent, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNoteNotFound
	}
	return nil
}

// VerifyPassword checks the plaintext against the note's stored hash. A note
// without a password never verifies.
func (s *Service) VerifyPassword(ctx context.Context, id NoteID, plaintext string) (bool, error) {
	note, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !note.HasPassword() {
		return false, nil
	}
	compareErr := bcrypt.CompareHashAndPassword([]byte(note.PasswordHash), []byte(plaintext))
	if errors.Is(compareErr, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if compareErr != nil {
		s.logError(opVerifyPassword, "compare_failed", compareErr, zap.String("note_id", id.String()))
		return false, newServiceError(opVerifyPassword, "compare_failed", compareErr)
	}
	return true, nil
}

// SetPassword protects the note with a new password. Only the owner may do
// this.
func (s *Service) SetPassword(ctx context.Context, id NoteID, plaintext, callerID string) error {
	note, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !note.OwnedBy(callerID) {
		return ErrNotOwner
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		s.logError(opSetPassword, "hash_failed", err, zap.String("note_id", id.String()))
		return newServiceError(opSetPassword, "hash_failed", err)
	}
	if err := s.db.WithContext(ctx).Model(&Note{}).
		Where("note_id = ?", id.String()).
		Update("password_hash", string(hash)).Error; err != nil {
		s.logError(opSetPassword, "update_failed", err, zap.String("note_id", id.String()))
		return newServiceError(opSetPassword, "update_failed", err)
	}
	return nil
}

// RemovePassword clears the note's password. Only the owner may do this.
func (s *Service) RemovePassword(ctx context.Context, id NoteID, callerID string) error {
	note, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !note.OwnedBy(callerID) {
		return ErrNotOwner
	}
	if err := s.db.WithContext(ctx).Model(&Note{}).
		Where("note_id = ?", id.String()).
		Update("password_hash", "").Error; err != nil {
		s.logError(opRemovePassword, "update_failed", err, zap.String("note_id", id.String()))
		return newServiceError(opRemovePassword, "update_failed", err)
	}
	return nil
}

// ClaimOwnershipIfUnset assigns the note's owner to ownerID only if no owner
// is persisted at write time, then returns the winning owner id. The
// conditional UPDATE makes concurrent claims from different connections (or
// different server processes) race safely: exactly one write matches the
// `owner_id IS NULL` guard.
func (s *Service) ClaimOwnershipIfUnset(ctx context.Context, id NoteID, ownerID string) (string, error) {
	if strings.TrimSpace(ownerID) == "" {
		return "", newServiceError(opClaimOwnership, "missing_owner", errors.New("owner id is required"))
	}

	result := s.db.WithContext(ctx).Model(&Note{}).
		Where("note_id = ? AND owner_id IS NULL", id.String()).
		Update("owner_id", ownerID)
	if result.Error != nil {
		s.logError(opClaimOwnership, "update_failed", result.Error, zap.String("note_id", id.String()))
		return "", newServiceError(opClaimOwnership, "update_failed", result.Error)
	}

	note, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if note.OwnerID == nil {
		return "", newServiceError(opClaimOwnership, "claim_lost", fmt.Errorf("note %s has no owner after claim", id))
	}
	return *note.OwnerID, nil
}

// SetReadOnly flips the read-only flag. Only the owner may do this.
func (s *Service) SetReadOnly(ctx context.Context, id NoteID, readOnly bool, callerID string) error {
	note, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !note.OwnedBy(callerID) {
		return ErrNotOwner
	}
	if err := s.db.WithContext(ctx).Model(&Note{}).
		Where("note_id = ?", id.String()).
		Update("read_only", readOnly).Error; err != nil {
		s.logError(opSetReadOnly, "update_failed", err, zap.String("note_id", id.String()))
		return newServiceError(opSetReadOnly, "update_failed", err)
	}
	return nil
}

// ChangeURL renames the note to a new identifier. Only the owner may rename,
// and the target identifier must be free.
func (s *Service) ChangeURL(ctx context.Context, id, newID NoteID, callerID string) error {
	note, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !note.OwnedBy(callerID) {
		return ErrNotOwner
	}

	taken, err := s.Exists(ctx, newID)
	if err != nil {
		return err
	}
	if taken {
		return ErrURLTaken
	}

	result := s.db.WithContext(ctx).Model(&Note{}).
		Where("note_id = ?", id.String()).
		Updates(map[string]interface{}{
			"note_id":      newID.String(),
			"updated_at_s": s.clock().UTC().Unix(),
		})
	if result.Error != nil {
		s.logError(opChangeURL, "update_failed", result.Error,
			zap.String("note_id", id.String()),
			zap.String("new_note_id", newID.String()))
		return newServiceError(opChangeURL, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNoteNotFound
	}
	return nil
}

// RecordView increments the note's view counter atomically in the database.
func (s *Service) RecordView(ctx context.Context, id NoteID) error {
	if err := s.db.WithContext(ctx).Model(&Note{}).
		Where("note_id = ?", id.String()).
		Update("views", gorm.Expr("views + 1")).Error; err != nil {
		s.logError(opRecordView, "update_failed", err, zap.String("note_id", id.String()))
		return newServiceError(opRecordView, "update_failed", err)
	}
	return nil
}

// DeleteExpired removes every note whose expiration timestamp has passed and
// returns the number of rows deleted.
func (s *Service) DeleteExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at_s <= ?", s.clock().UTC().Unix()).
		Delete(&Note{})
	if result.Error != nil {
		s.logError(opDeleteExpired, "delete_failed", result.Error)
		return 0, newServiceError(opDeleteExpired, "delete_failed", result.Error)
	}
	return result.RowsAffected, nil
}

func normalizeOwner(ownerID *string) *string {
	if ownerID == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*ownerID)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("notes service error", attrs...)
}
