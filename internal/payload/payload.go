// Package payload normalizes inbound push payloads into the canonical
// notification shape shared by the delivery pipeline and the inbox.
package payload

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Button is one notification action button.
type Button struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Notification is the canonical shape built from an inbound push payload.
type Notification struct {
	Code        string          `json:"code"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	Icon        string          `json:"icon"`
	Image       string          `json:"image"`
	Buttons     []Button        `json:"buttons,omitempty"`
	CustomData  json.RawMessage `json:"customData,omitempty"`
	Link        string          `json:"link"`
	MessageHash string          `json:"messageHash,omitempty"`
	InboxID     string          `json:"inboxId,omitempty"`
	Duration    int             `json:"duration,omitempty"`
}

// wire mirrors the provider's short field names.
type wire struct {
	Header      string          `json:"header"`
	Body        string          `json:"body"`
	Icon        string          `json:"i"`
	Image       string          `json:"image"`
	Buttons     []Button        `json:"buttons"`
	CustomData  json.RawMessage `json:"u"`
	Link        string          `json:"l"`
	MessageHash string          `json:"p"`
	InboxID     string          `json:"pw_inbox"`
	Duration    int             `json:"duration"`
	Code        string          `json:"code"`
}

// Parse normalizes raw push JSON. defaultTitle fills a missing header; an
// absent link falls back to "/". The code uniquely identifies the shown
// notification for click/close correlation; when the payload carries none,
// one is generated.
func Parse(raw []byte, defaultTitle string) (Notification, error) {
	var w wire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Notification{}, fmt.Errorf("payload parse: %w", err)
	}

	title := w.Header
	if title == "" {
		title = defaultTitle
	}
	link := w.Link
	if link == "" {
		link = "/"
	}
	code := w.Code
	if code == "" {
		if w.MessageHash != "" {
			code = w.MessageHash
		} else {
			code = uuid.NewString()
		}
	}

	return Notification{
		Code:        code,
		Title:       title,
		Body:        w.Body,
		Icon:        w.Icon,
		Image:       w.Image,
		Buttons:     w.Buttons,
		CustomData:  w.CustomData,
		Link:        link,
		MessageHash: w.MessageHash,
		InboxID:     w.InboxID,
		Duration:    w.Duration,
	}, nil
}

// Tag is the state serialized into the shown notification so a later click
// can recover it without any other storage.
type Tag struct {
	URL         string          `json:"url"`
	MessageHash string          `json:"messageHash,omitempty"`
	CustomData  json.RawMessage `json:"customData,omitempty"`
}

// EncodeTag serializes the notification's click state.
func EncodeTag(n Notification) (string, error) {
	raw, err := json.Marshal(Tag{
		URL:         n.Link,
		MessageHash: n.MessageHash,
		CustomData:  n.CustomData,
	})
	if err != nil {
		return "", fmt.Errorf("payload encode tag: %w", err)
	}
	return string(raw), nil
}

// ParseTag recovers the click state from a shown notification's tag.
func ParseTag(tag string) (Tag, error) {
	var t Tag
	if err := json.Unmarshal([]byte(tag), &t); err != nil {
		return Tag{}, fmt.Errorf("payload parse tag: %w", err)
	}
	return t, nil
}
