package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// IDProvider issues identifiers for newly registered users.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
}

// Service manages account registration and credential checks.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("users: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
	}, nil
}

// Register creates a new account after validating and hashing the password.
func (s *Service) Register(ctx context.Context, username, email, password string) (User, error) {
	validUsername, err := validateUsername(username)
	if err != nil {
		return User{}, err
	}
	validEmail, err := validateEmail(email)
	if err != nil {
		return User{}, err
	}
	if err := validatePassword(password); err != nil {
		return User{}, err
	}

	var existing User
	err = s.db.WithContext(ctx).
		Where("username = ? OR email = ?", validUsername, validEmail).
		Take(&existing).Error
	if err == nil {
		if existing.Username == validUsername {
			return User{}, ErrUsernameTaken
		}
		return User{}, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	userID, err := s.idProvider.NewID()
	if err != nil {
		return User{}, err
	}

	user := User{
		UserID:           userID,
		Username:         validUsername,
		Email:            validEmail,
		PasswordHash:     string(hash),
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return User{}, err
	}
	return user, nil
}

// Authenticate resolves the account by username or email and verifies the
// password. Lookup misses and password mismatches are indistinguishable to
// the caller.
func (s *Service) Authenticate(ctx context.Context, login, password string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).
		Where("username = ? OR email = ?", login, login).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// GetByID returns the account with the given identifier.
func (s *Service) GetByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}
