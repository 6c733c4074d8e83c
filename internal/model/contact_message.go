package model

import (
	"errors"
	"html"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// ContactMessageMinLength and ContactMessageMaxLength bound the visitor
	// message body.
	ContactMessageMinLength = 5
	ContactMessageMaxLength = 2000

	contactSenderNameMaxLength  = 100
	contactSenderEmailMaxLength = 256
	contactSenderIPMaxLength    = 64
)

var (
	ErrInvalidContactSiteID  = errors.New("invalid_contact_site_id")
	ErrInvalidContactName    = errors.New("invalid_name")
	ErrInvalidContactEmail   = errors.New("invalid_email")
	ErrInvalidContactMessage = errors.New("invalid_message")
)

// ContactMessage is a visitor submission delivered from a published site.
// Sender-controlled fields are stored HTML-escaped.
type ContactMessage struct {
	ID              string    `gorm:"primaryKey;size:36"`
	SiteID          string    `gorm:"not null;size:36;index"`
	SiteOwnerUserID string    `gorm:"not null;size:36;index"`
	SenderName      string    `gorm:"not null;size:100"`
	SenderEmail     string    `gorm:"not null;size:256"`
	MessageText     string    `gorm:"not null;size:2000"`
	SenderIP        string    `gorm:"size:64"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	IsSpam          bool      `gorm:"not null;default:false"`
}

// ContactMessageInput holds raw visitor-supplied values.
type ContactMessageInput struct {
	SiteID          string
	SiteOwnerUserID string
	SenderName      string
	SenderEmail     string
	MessageText     string
	SenderIP        string
}

// NewContactMessage constructs a validated, escaped ContactMessage.
func NewContactMessage(input ContactMessageInput) (ContactMessage, error) {
	siteID := strings.TrimSpace(input.SiteID)
	if siteID == "" {
		return ContactMessage{}, ErrInvalidContactSiteID
	}

	senderName := strings.TrimSpace(input.SenderName)
	if senderName == "" || len(senderName) > contactSenderNameMaxLength {
		return ContactMessage{}, ErrInvalidContactName
	}

	senderEmail := strings.TrimSpace(input.SenderEmail)
	if senderEmail == "" || len(senderEmail) > contactSenderEmailMaxLength {
		return ContactMessage{}, ErrInvalidContactEmail
	}
	if _, parseErr := mail.ParseAddress(senderEmail); parseErr != nil {
		return ContactMessage{}, ErrInvalidContactEmail
	}

	messageText := strings.TrimSpace(input.MessageText)
	if len(messageText) < ContactMessageMinLength || len(messageText) > ContactMessageMaxLength {
		return ContactMessage{}, ErrInvalidContactMessage
	}

	senderIP := strings.TrimSpace(input.SenderIP)
	if len(senderIP) > contactSenderIPMaxLength {
		senderIP = senderIP[:contactSenderIPMaxLength]
	}

	return ContactMessage{
		ID:              uuid.NewString(),
		SiteID:          siteID,
		SiteOwnerUserID: strings.TrimSpace(input.SiteOwnerUserID),
		SenderName:      html.EscapeString(senderName),
		SenderEmail:     html.EscapeString(senderEmail),
		MessageText:     html.EscapeString(messageText),
		SenderIP:        senderIP,
	}, nil
}
