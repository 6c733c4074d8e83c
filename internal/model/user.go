package model

import (
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	userEmailMaxLength         = 256
	userGoogleIDMaxLength      = 128
	userRelayEndpointMaxLength = 500
)

var (
	ErrInvalidUserEmail    = errors.New("invalid_user_email")
	ErrInvalidUserGoogleID = errors.New("invalid_user_google_id")
)

// User is an authenticated account created lazily on first login.
type User struct {
	ID            string    `gorm:"primaryKey;size:36"`
	Email         string    `gorm:"not null;size:256;uniqueIndex"`
	GoogleID      string    `gorm:"not null;size:128;uniqueIndex"`
	RelayEndpoint string    `gorm:"size:500"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`

	Sites []Site `gorm:"foreignKey:OwnerUserID;constraint:OnDelete:CASCADE"`
}

// UserInput holds the raw values used to construct a User.
type UserInput struct {
	Email    string
	GoogleID string
}

// NewUser constructs a User with validated, normalized fields. The external
// identifier is minted when the identity provider supplies none.
func NewUser(input UserInput) (User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || len(email) > userEmailMaxLength {
		return User{}, ErrInvalidUserEmail
	}
	if _, parseErr := mail.ParseAddress(email); parseErr != nil {
		return User{}, ErrInvalidUserEmail
	}

	googleID := strings.TrimSpace(input.GoogleID)
	if googleID == "" {
		googleID = uuid.NewString()
	}
	if len(googleID) > userGoogleIDMaxLength {
		return User{}, ErrInvalidUserGoogleID
	}

	return User{
		ID:       uuid.NewString(),
		Email:    email,
		GoogleID: googleID,
	}, nil
}
