package notifications

import (
	"time"

	"github.com/google/uuid"
)

// Channel names
const (
	ChannelWebSocket = "websocket"
	ChannelEmail     = "email"
	ChannelSMS       = "sms"
)

// Delivery statuses
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// MessageTypeVerification is pushed to the owner when a farm reaches a final status
const MessageTypeVerification = "verification"

// SentNotification is the delivery log of one notification over one channel
type SentNotification struct {
	ID           uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	UserID       uuid.UUID  `json:"user_id" gorm:"type:uuid;not null;index:idx_sent_notifications_user,priority:1"`
	FarmID       uuid.UUID  `json:"farm_id" gorm:"type:uuid;not null"`
	Channel      string     `json:"channel" gorm:"not null"`
	Subject      string     `json:"subject"`
	Content      string     `json:"content"`
	Status       string     `json:"status" gorm:"not null"`
	ProviderID   *string    `json:"provider_id,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	SentAt       time.Time  `json:"sent_at" gorm:"index:idx_sent_notifications_user,priority:2,sort:desc"`
	OpenedAt     *time.Time `json:"opened_at,omitempty"`
}

func (SentNotification) TableName() string { return "sent_notifications" }

// Content is the rendered text of a verification notification
type Content struct {
	Subject string
	Text    string
	HTML    string
	SMS     string
}

// ListResponse is returned by the notifications endpoint
type ListResponse struct {
	Notifications []SentNotification `json:"notifications"`
	Limit         int                `json:"limit"`
	Offset        int                `json:"offset"`
}
