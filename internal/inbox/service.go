package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Pushwoosh/web-push-notifications-sub000/internal/api"
)

// Remote is the provider surface the inbox talks to. Remote failures are
// logged and never block local state.
type Remote interface {
	InboxStatus(ctx context.Context, inboxID string, status int, hash string) error
	GetInboxMessages(ctx context.Context, lastCode string, count int) ([]api.InboxMessageData, string, error)
}

// Service applies the inbox lifecycle over a Store and mirrors status
// transitions to the provider.
type Service struct {
	store  Store
	remote Remote
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires the inbox. remote may be nil for offline installations.
func NewService(store Store, remote Remote, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		remote: remote,
		logger: logger,
		now:    time.Now,
	}
}

// PutMessage records a freshly delivered message. A zero status becomes
// Delivered.
func (s *Service) PutMessage(ctx context.Context, message Message) error {
	if message.InboxID == "" {
		return fmt.Errorf("inbox: message without inbox id")
	}
	if message.Status == 0 {
		message.Status = StatusDelivered
	}
	if message.SendDate.IsZero() {
		message.SendDate = s.now()
	}
	if err := s.store.Put(ctx, message); err != nil {
		return fmt.Errorf("inbox put %s: %w", message.InboxID, err)
	}
	s.reportStatus(ctx, message.InboxID, message.Status, message.MessageHash)
	return nil
}

// MarkRead moves the message to Read when it is still only Delivered.
func (s *Service) MarkRead(ctx context.Context, inboxID string) error {
	return s.transition(ctx, inboxID, StatusRead)
}

// MarkOpen records the click action; open implies read.
func (s *Service) MarkOpen(ctx context.Context, inboxID string) error {
	return s.transition(ctx, inboxID, StatusOpen)
}

// Delete removes the message from subsequent LoadMessages results.
func (s *Service) Delete(ctx context.Context, inboxID string) error {
	return s.transition(ctx, inboxID, StatusDeleted)
}

// transition enforces the forward-monotonic status rule: a lower or equal
// status is a no-op, except that Deleted is always reachable.
func (s *Service) transition(ctx context.Context, inboxID string, to Status) error {
	message, err := s.store.Get(ctx, inboxID)
	if err != nil {
		return err
	}
	if message.Status == StatusDeleted {
		return nil
	}
	if to != StatusDeleted && to <= message.Status {
		return nil
	}
	message.Status = to
	if err := s.store.Put(ctx, message); err != nil {
		return fmt.Errorf("inbox transition %s to %d: %w", inboxID, to, err)
	}
	s.reportStatus(ctx, inboxID, to, message.MessageHash)
	return nil
}

func (s *Service) reportStatus(ctx context.Context, inboxID string, status Status, hash string) {
	if s.remote == nil {
		return
	}
	if err := s.remote.InboxStatus(ctx, inboxID, int(status), hash); err != nil {
		s.logger.Error("failed to report inbox status",
			slog.String("inbox_id", inboxID), slog.Int("status", int(status)), slog.Any("error", err))
	}
}

// LoadMessages returns the visible inbox: neither deleted nor expired,
// newest first.
func (s *Service) LoadMessages(ctx context.Context) ([]Message, error) {
	messages, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("inbox list: %w", err)
	}
	now := s.now()
	visible := messages[:0]
	for _, message := range messages {
		if message.Status == StatusDeleted || message.Expired(now) {
			continue
		}
		visible = append(visible, message)
	}
	return visible, nil
}

// UnreadCount is the number of visible messages still only Delivered.
func (s *Service) UnreadCount(ctx context.Context) (int, error) {
	messages, err := s.LoadMessages(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, message := range messages {
		if !message.IsRead() {
			count++
		}
	}
	return count, nil
}

// Sync pulls the server-side inbox and merges it into the local store. A
// locally advanced status is kept; unknown messages are created with the
// server's status.
func (s *Service) Sync(ctx context.Context) error {
	if s.remote == nil {
		return nil
	}
	lastCode := ""
	for {
		remote, next, err := s.remote.GetInboxMessages(ctx, lastCode, 100)
		if err != nil {
			return fmt.Errorf("inbox sync: %w", err)
		}
		for _, data := range remote {
			if err := s.merge(ctx, data); err != nil {
				s.logger.Error("failed to merge inbox message",
					slog.String("inbox_id", data.InboxID), slog.Any("error", err))
			}
		}
		if next == "" || len(remote) == 0 {
			return nil
		}
		lastCode = next
	}
}

func (s *Service) merge(ctx context.Context, data api.InboxMessageData) error {
	incoming := Message{
		InboxID: data.InboxID,
		Order:   data.Order,
		Title:   data.Title,
		Body:    data.Text,
		Image:   data.Image,
		Link:    data.URL,
		Status:  Status(data.Status),
	}
	if data.ExpiryDate > 0 {
		incoming.ExpiryDate = time.Unix(data.ExpiryDate, 0)
	}
	if sendDate, err := time.Parse("2006-01-02 15:04:05", data.SendDate); err == nil {
		incoming.SendDate = sendDate
	} else {
		incoming.SendDate = s.now()
	}
	if incoming.Status == 0 {
		incoming.Status = StatusDelivered
	}

	existing, err := s.store.Get(ctx, data.InboxID)
	switch {
	case errors.Is(err, ErrNotFound):
		return s.store.Put(ctx, incoming)
	case err != nil:
		return err
	}
	if existing.Status > incoming.Status {
		incoming.Status = existing.Status
	}
	return s.store.Put(ctx, incoming)
}
