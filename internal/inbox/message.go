// Package inbox persists delivered pushes as status-tracked messages,
// independent of whether the native notification is still visible.
package inbox

import (
	"errors"
	"time"
)

// ErrNotFound is returned for an unknown inbox id.
var ErrNotFound = errors.New("inbox: message not found")

// Status of an inbox message. Transitions only move forward, except that
// any status can become Deleted.
type Status int

const (
	StatusDelivered Status = 1
	StatusRead      Status = 2
	StatusOpen      Status = 3
	StatusDeleted   Status = 4
)

// Message is one persisted inbox entry.
type Message struct {
	InboxID     string    `gorm:"primaryKey" json:"inboxId"`
	Order       string    `json:"order"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Image       string    `json:"image"`
	Link        string    `json:"link"`
	MessageHash string    `json:"messageHash"`
	SendDate    time.Time `json:"sendDate"`
	ExpiryDate  time.Time `json:"expiryDate"`
	Status      Status    `json:"status"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IsRead reports whether the message has been seen in a viewport or opened.
func (m Message) IsRead() bool {
	return m.Status == StatusRead || m.Status == StatusOpen
}

// IsActionPerformed reports whether the message's click action fired.
func (m Message) IsActionPerformed() bool {
	return m.Status == StatusOpen
}

// Expired reports whether the message outlived its expiry date.
func (m Message) Expired(now time.Time) bool {
	return !m.ExpiryDate.IsZero() && m.ExpiryDate.Before(now)
}
