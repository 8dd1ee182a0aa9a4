package delivery

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/Pushwoosh/web-push-notifications-sub000/internal/bridge"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/events"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/inbox"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/params"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/payload"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/storage"
	"github.com/Pushwoosh/web-push-notifications-sub000/pkg/metrics"
)

type fakeNotifier struct {
	mu     sync.Mutex
	shown  []ShowOptions
	closed []string
}

func (f *fakeNotifier) ShowNotification(_ context.Context, options ShowOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown = append(f.shown, options)
	return nil
}

func (f *fakeNotifier) CloseNotification(_ context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, code)
	return nil
}

type fakePages struct {
	mu            sync.Mutex
	clients       []bridge.ClientInfo
	canOpenWindow bool
	broadcasts    []events.Event
	focused       []string
	opened        []string
}

func (f *fakePages) Broadcast(event events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, event)
}

func (f *fakePages) Clients() []bridge.ClientInfo { return f.clients }
func (f *fakePages) HasClients() bool             { return len(f.clients) > 0 }
func (f *fakePages) CanOpenWindow() bool          { return f.canOpenWindow }

func (f *fakePages) Focus(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.focused = append(f.focused, id)
	return nil
}

func (f *fakePages) OpenWindow(url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, url)
	return nil
}

func (f *fakePages) eventsOf(name events.Name) []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []events.Event
	for _, event := range f.broadcasts {
		if event.Type == name {
			matched = append(matched, event)
		}
	}
	return matched
}

type fakeAcker struct {
	mu          sync.Mutex
	deliveries  []string
	stats       []string
	deliveryErr error
}

func (f *fakeAcker) MessageDeliveryEvent(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deliveryErr != nil {
		return f.deliveryErr
	}
	f.deliveries = append(f.deliveries, hash)
	return nil
}

func (f *fakeAcker) PushStat(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = append(f.stats, hash)
	return nil
}

type fixture struct {
	pipeline  *Pipeline
	notifier  *fakeNotifier
	pages     *fakePages
	acker     *fakeAcker
	inboxSvc  *inbox.Service
	inboxMem  *inbox.MemoryStore
	kv        *storage.Memory
	params    *params.Store
	workerCtx *Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	kv := storage.NewMemory()
	paramStore, err := params.Open(context.Background(), kv)
	if err != nil {
		t.Fatalf("params.Open() error = %v", err)
	}
	notifier := &fakeNotifier{}
	pages := &fakePages{canOpenWindow: true}
	acker := &fakeAcker{}
	inboxMem := inbox.NewMemoryStore()
	inboxSvc := inbox.NewService(inboxMem, nil, logger)
	workerCtx := NewContext("APP-1_abc", "Default Title")

	return &fixture{
		pipeline:  New(workerCtx, notifier, pages, acker, inboxSvc, kv, paramStore, metrics.New(), logger),
		notifier:  notifier,
		pages:     pages,
		acker:     acker,
		inboxSvc:  inboxSvc,
		inboxMem:  inboxMem,
		kv:        kv,
		params:    paramStore,
		workerCtx: workerCtx,
	}
}

func TestHandlePushShowsAcksAndSkipsInbox(t *testing.T) {
	// Scenario: payload with a hash but no inbox field.
	f := newFixture(t)
	err := f.pipeline.HandlePush(context.Background(), []byte(`{"header":"T","body":"B","p":"hash1"}`))
	if err != nil {
		t.Fatalf("HandlePush() error = %v", err)
	}

	if len(f.notifier.shown) != 1 {
		t.Fatalf("showNotification called %d times, want 1", len(f.notifier.shown))
	}
	shown := f.notifier.shown[0]
	if shown.Title != "T" || shown.Body != "B" {
		t.Errorf("shown notification = %+v, want title T body B", shown)
	}
	if len(f.acker.deliveries) != 1 || f.acker.deliveries[0] != "hash1" {
		t.Errorf("delivery acks = %v, want exactly [hash1]", f.acker.deliveries)
	}
	messages, err := f.inboxSvc.LoadMessages(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 0 {
		t.Errorf("inbox has %d messages, want none without pw_inbox", len(messages))
	}
	if got := f.pages.eventsOf(events.PushDelivery); len(got) != 1 {
		t.Errorf("push-delivery broadcasts = %d, want 1", len(got))
	}

	entries, err := f.kv.Entries(context.Background(), MessageLog, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("message log entries = %d, want 1", len(entries))
	}
}

func TestHandlePushPersistsInboxMessage(t *testing.T) {
	f := newFixture(t)
	err := f.pipeline.HandlePush(context.Background(),
		[]byte(`{"header":"T","body":"B","p":"hash2","pw_inbox":"in-7"}`))
	if err != nil {
		t.Fatalf("HandlePush() error = %v", err)
	}

	messages, err := f.inboxSvc.LoadMessages(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 1 || messages[0].InboxID != "in-7" || messages[0].Status != inbox.StatusDelivered {
		t.Errorf("inbox = %+v, want one Delivered message in-7", messages)
	}
	if got := f.pages.eventsOf(events.InboxUpdate); len(got) != 1 {
		t.Errorf("inbox-update broadcasts = %d, want 1", len(got))
	}
}

func TestHandlePushShowsDespiteAckFailure(t *testing.T) {
	f := newFixture(t)
	f.acker.deliveryErr = errors.New("provider down")

	err := f.pipeline.HandlePush(context.Background(), []byte(`{"header":"T","body":"B","p":"hash3"}`))
	if err != nil {
		t.Fatalf("HandlePush() error = %v", err)
	}
	if len(f.notifier.shown) != 1 {
		t.Errorf("showNotification called %d times despite ack failure, want 1", len(f.notifier.shown))
	}
}

func TestHandlePushRejectsMalformedPayload(t *testing.T) {
	f := newFixture(t)
	if err := f.pipeline.HandlePush(context.Background(), []byte(`{`)); err == nil {
		t.Error("HandlePush(malformed) error = nil, want error")
	}
	if len(f.notifier.shown) != 0 {
		t.Error("malformed payload still showed a notification")
	}
}

func TestHandlePushUsesDefaultTitle(t *testing.T) {
	f := newFixture(t)
	if err := f.pipeline.HandlePush(context.Background(), []byte(`{"body":"B"}`)); err != nil {
		t.Fatalf("HandlePush() error = %v", err)
	}
	if f.notifier.shown[0].Title != "Default Title" {
		t.Errorf("title = %q, want the configured default", f.notifier.shown[0].Title)
	}
}

func clickTag(t *testing.T, url, hash string) string {
	t.Helper()
	tag, err := payload.EncodeTag(payload.Notification{Link: url, MessageHash: hash})
	if err != nil {
		t.Fatal(err)
	}
	return tag
}

func TestHandleClickFocusedClientIsNoop(t *testing.T) {
	f := newFixture(t)
	f.pages.clients = []bridge.ClientInfo{{ID: "c1", URL: "/offers", Focused: true}}

	err := f.pipeline.HandleClick(context.Background(), "code-1", clickTag(t, "/offers", "hash1"))
	if err != nil {
		t.Fatalf("HandleClick() error = %v", err)
	}
	if len(f.pages.focused) != 0 || len(f.pages.opened) != 0 {
		t.Errorf("focused=%v opened=%v, want no window action for a focused match", f.pages.focused, f.pages.opened)
	}
	if len(f.notifier.closed) != 1 || f.notifier.closed[0] != "code-1" {
		t.Errorf("closed = %v, want the clicked notification closed", f.notifier.closed)
	}
	if len(f.acker.stats) != 1 || f.acker.stats[0] != "hash1" {
		t.Errorf("pushStat calls = %v, want [hash1]", f.acker.stats)
	}
	if got := f.pages.eventsOf(events.NotificationClick); len(got) != 1 {
		t.Errorf("click broadcasts = %d, want 1", len(got))
	}
}

func TestHandleClickFocusesExistingClient(t *testing.T) {
	f := newFixture(t)
	f.pages.clients = []bridge.ClientInfo{
		{ID: "c1", URL: "/", Focused: true},
		{ID: "c2", URL: "/offers", Focused: false},
	}

	if err := f.pipeline.HandleClick(context.Background(), "code-2", clickTag(t, "/offers", "")); err != nil {
		t.Fatalf("HandleClick() error = %v", err)
	}
	if len(f.pages.focused) != 1 || f.pages.focused[0] != "c2" {
		t.Errorf("focused = %v, want [c2]", f.pages.focused)
	}
	if len(f.pages.opened) != 0 {
		t.Errorf("opened = %v, want no new window when a client matches", f.pages.opened)
	}
}

func TestHandleClickOpensWindowWhenNoMatch(t *testing.T) {
	f := newFixture(t)
	f.pages.clients = []bridge.ClientInfo{{ID: "c1", URL: "/", Focused: true}}

	if err := f.pipeline.HandleClick(context.Background(), "code-3", clickTag(t, "/offers", "")); err != nil {
		t.Fatalf("HandleClick() error = %v", err)
	}
	if len(f.pages.opened) != 1 || f.pages.opened[0] != "/offers" {
		t.Errorf("opened = %v, want [/offers]", f.pages.opened)
	}
}

func TestHandleClickParksDelayedEventWithoutClients(t *testing.T) {
	f := newFixture(t)
	f.pages.clients = nil
	f.pages.canOpenWindow = false

	if err := f.pipeline.HandleClick(context.Background(), "code-4", clickTag(t, "/offers", "hash4")); err != nil {
		t.Fatalf("HandleClick() error = %v", err)
	}

	event, ok, err := f.params.TakeDelayedEvent(context.Background())
	if err != nil || !ok {
		t.Fatalf("TakeDelayedEvent() = ok=%v err=%v, want a parked click", ok, err)
	}
	if event.Type != string(events.NotificationClick) {
		t.Errorf("delayed event type = %q, want notification-click", event.Type)
	}
}

func TestHandleClickNoDelayedEventWithOpenClient(t *testing.T) {
	f := newFixture(t)
	f.pages.clients = []bridge.ClientInfo{{ID: "c1", URL: "/offers", Focused: true}}

	if err := f.pipeline.HandleClick(context.Background(), "code-5", clickTag(t, "/offers", "")); err != nil {
		t.Fatalf("HandleClick() error = %v", err)
	}
	if _, ok, _ := f.params.TakeDelayedEvent(context.Background()); ok {
		t.Error("delayed event parked although a page client was open")
	}
}

func TestClickSuppressesClose(t *testing.T) {
	f := newFixture(t)
	f.pages.clients = []bridge.ClientInfo{{ID: "c1", URL: "/offers", Focused: true}}

	if err := f.pipeline.HandleClick(context.Background(), "code-C", clickTag(t, "/offers", "")); err != nil {
		t.Fatal(err)
	}
	if err := f.pipeline.HandleClose(context.Background(), "code-C"); err != nil {
		t.Fatal(err)
	}
	if got := f.pages.eventsOf(events.NotificationClose); len(got) != 0 {
		t.Errorf("close broadcasts after click = %d, want suppressed", len(got))
	}

	// A close for a never-clicked code still fires.
	if err := f.pipeline.HandleClose(context.Background(), "code-D"); err != nil {
		t.Fatal(err)
	}
	if got := f.pages.eventsOf(events.NotificationClose); len(got) != 1 {
		t.Errorf("close broadcasts for unclicked code = %d, want 1", len(got))
	}
}
