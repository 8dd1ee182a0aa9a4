package inbox

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/Pushwoosh/web-push-notifications-sub000/internal/api"
)

type fakeRemote struct {
	statusCalls []struct {
		InboxID string
		Status  int
	}
	messages []api.InboxMessageData
}

func (f *fakeRemote) InboxStatus(_ context.Context, inboxID string, status int, _ string) error {
	f.statusCalls = append(f.statusCalls, struct {
		InboxID string
		Status  int
	}{inboxID, status})
	return nil
}

func (f *fakeRemote) GetInboxMessages(_ context.Context, _ string, _ int) ([]api.InboxMessageData, string, error) {
	return f.messages, "", nil
}

func newService(t *testing.T) (*Service, *fakeRemote) {
	t.Helper()
	remote := &fakeRemote{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewService(NewMemoryStore(), remote, logger), remote
}

func TestStatusRoundTrip(t *testing.T) {
	ctx := context.Background()
	service, _ := newService(t)

	if err := service.PutMessage(ctx, Message{InboxID: "X", Title: "T"}); err != nil {
		t.Fatalf("PutMessage() error = %v", err)
	}

	if err := service.MarkRead(ctx, "X"); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	message, err := service.store.Get(ctx, "X")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !message.IsRead() || message.IsActionPerformed() {
		t.Errorf("after MarkRead: IsRead=%v IsActionPerformed=%v, want true/false",
			message.IsRead(), message.IsActionPerformed())
	}

	if err := service.MarkOpen(ctx, "X"); err != nil {
		t.Fatalf("MarkOpen() error = %v", err)
	}
	message, _ = service.store.Get(ctx, "X")
	if !message.IsRead() || !message.IsActionPerformed() {
		t.Errorf("after MarkOpen: IsRead=%v IsActionPerformed=%v, want true/true",
			message.IsRead(), message.IsActionPerformed())
	}

	if err := service.Delete(ctx, "X"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	messages, err := service.LoadMessages(ctx)
	if err != nil {
		t.Fatalf("LoadMessages() error = %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("LoadMessages() after delete = %d messages, want 0", len(messages))
	}
}

func TestStatusIsMonotonic(t *testing.T) {
	ctx := context.Background()
	service, remote := newService(t)

	if err := service.PutMessage(ctx, Message{InboxID: "X"}); err != nil {
		t.Fatal(err)
	}
	if err := service.MarkOpen(ctx, "X"); err != nil {
		t.Fatal(err)
	}
	// Read after Open must not move the status backwards.
	if err := service.MarkRead(ctx, "X"); err != nil {
		t.Fatal(err)
	}
	message, _ := service.store.Get(ctx, "X")
	if message.Status != StatusOpen {
		t.Errorf("status after Open then Read = %d, want still %d", message.Status, StatusOpen)
	}

	// The backwards no-op must not be reported remotely either.
	for _, call := range remote.statusCalls {
		if call.InboxID == "X" && call.Status == int(StatusRead) {
			t.Error("backwards Read transition was reported to the provider")
		}
	}
}

func TestLoadMessagesSkipsExpired(t *testing.T) {
	ctx := context.Background()
	service, _ := newService(t)

	if err := service.PutMessage(ctx, Message{InboxID: "live"}); err != nil {
		t.Fatal(err)
	}
	if err := service.PutMessage(ctx, Message{
		InboxID:    "expired",
		ExpiryDate: time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	messages, err := service.LoadMessages(ctx)
	if err != nil {
		t.Fatalf("LoadMessages() error = %v", err)
	}
	if len(messages) != 1 || messages[0].InboxID != "live" {
		t.Errorf("LoadMessages() = %v, want only the live message", messages)
	}
}

func TestUnreadCount(t *testing.T) {
	ctx := context.Background()
	service, _ := newService(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := service.PutMessage(ctx, Message{InboxID: id}); err != nil {
			t.Fatal(err)
		}
	}
	if err := service.MarkRead(ctx, "a"); err != nil {
		t.Fatal(err)
	}

	count, err := service.UnreadCount(ctx)
	if err != nil {
		t.Fatalf("UnreadCount() error = %v", err)
	}
	if count != 2 {
		t.Errorf("UnreadCount() = %d, want 2", count)
	}
}

func TestSyncMergesKeepingLocalProgress(t *testing.T) {
	ctx := context.Background()
	service, remote := newService(t)

	if err := service.PutMessage(ctx, Message{InboxID: "known"}); err != nil {
		t.Fatal(err)
	}
	if err := service.MarkOpen(ctx, "known"); err != nil {
		t.Fatal(err)
	}

	remote.messages = []api.InboxMessageData{
		{InboxID: "known", Title: "Updated title", Status: int(StatusDelivered)},
		{InboxID: "new", Title: "Fresh", Status: int(StatusDelivered)},
	}
	if err := service.Sync(ctx); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	known, err := service.store.Get(ctx, "known")
	if err != nil {
		t.Fatal(err)
	}
	if known.Title != "Updated title" {
		t.Errorf("merged title = %q, want server content", known.Title)
	}
	if known.Status != StatusOpen {
		t.Errorf("merged status = %d, want local progress %d kept", known.Status, StatusOpen)
	}

	fresh, err := service.store.Get(ctx, "new")
	if err != nil {
		t.Fatalf("Get(new) error = %v", err)
	}
	if fresh.Status != StatusDelivered {
		t.Errorf("new message status = %d, want Delivered", fresh.Status)
	}
}
