package users

import (
	"errors"
	"fmt"
	"strings"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 20
	minPasswordLength = 6
)

var (
	// ErrInvalidUsername indicates the username is missing or out of bounds.
	ErrInvalidUsername = errors.New("users: invalid username")
	// ErrInvalidEmail indicates the email address is missing or malformed.
	ErrInvalidEmail = errors.New("users: invalid email")
	// ErrWeakPassword indicates the password does not meet the minimum length.
	ErrWeakPassword = errors.New("users: password too short")
	// ErrUsernameTaken indicates the username is already registered.
	ErrUsernameTaken = errors.New("users: username already taken")
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials indicates the login or password did not match.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrUserNotFound indicates no user exists for the identifier.
	ErrUserNotFound = errors.New("users: user not found")
)

// User captures a registered account. Accounts are optional; notes may be
// anonymous.
type User struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Username         string `gorm:"column:username;size:20;not null;uniqueIndex:idx_users_username"`
	Email            string `gorm:"column:email;size:320;not null;uniqueIndex:idx_users_email"`
	PasswordHash     string `gorm:"column:password_hash;size:190;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

func validateUsername(raw string) (string, error) {
	username := strings.TrimSpace(raw)
	if len(username) < minUsernameLength || len(username) > maxUsernameLength {
		return "", fmt.Errorf("%w: must be %d-%d characters", ErrInvalidUsername, minUsernameLength, maxUsernameLength)
	}
	return username, nil
}

func validateEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || !strings.Contains(email, "@") {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func validatePassword(raw string) error {
	if len(raw) < minPasswordLength {
		return fmt.Errorf("%w: minimum %d characters", ErrWeakPassword, minPasswordLength)
	}
	return nil
}
