package bridge

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Pushwoosh/web-push-notifications-sub000/internal/events"
)

type fakeConn struct {
	mu      sync.Mutex
	written []events.Event
	writeErr error
	closed  bool
	reads   chan stateUpdate
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan stateUpdate)}
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	if event, ok := v.(events.Event); ok {
		f.written = append(f.written, event)
	}
	return nil
}

func (f *fakeConn) ReadJSON(v interface{}) error {
	update, ok := <-f.reads
	if !ok {
		return io.EOF
	}
	*(v.(*stateUpdate)) = update
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) events() []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.Event(nil), f.written...)
}

func testHub() *Hub {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewHub(true, logger)
}

func TestBroadcastReachesAllClients(t *testing.T) {
	hub := testHub()
	first, second := newFakeConn(), newFakeConn()
	hub.Attach(first, "/", true)
	hub.Attach(second, "/offers", false)

	hub.Broadcast(events.NewEvent(events.PushDelivery, nil))

	for name, conn := range map[string]*fakeConn{"first": first, "second": second} {
		got := conn.events()
		if len(got) != 1 || got[0].Type != events.PushDelivery {
			t.Errorf("%s client received %v, want one push-delivery event", name, got)
		}
	}
}

func TestBroadcastDetachesFailedClient(t *testing.T) {
	hub := testHub()
	bad := newFakeConn()
	bad.writeErr = errors.New("gone")
	good := newFakeConn()
	hub.Attach(bad, "/", false)
	hub.Attach(good, "/", false)

	hub.Broadcast(events.NewEvent(events.PushDelivery, nil))

	if len(hub.Clients()) != 1 {
		t.Errorf("clients after failed broadcast = %d, want 1", len(hub.Clients()))
	}
	if got := good.events(); len(got) != 1 {
		t.Errorf("healthy client received %d events, want 1", len(got))
	}
}

func TestReadLoopUpdatesClientState(t *testing.T) {
	hub := testHub()
	conn := newFakeConn()
	id := hub.Attach(conn, "/", false)

	conn.reads <- stateUpdate{URL: "/offers", Focused: true}

	deadline := time.After(time.Second)
	for {
		clients := hub.Clients()
		if len(clients) == 1 && clients[0].URL == "/offers" && clients[0].Focused {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("client state never updated: %+v", clients)
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(conn.reads)
	deadline = time.After(time.Second)
	for hub.HasClients() {
		select {
		case <-deadline:
			t.Fatal("client not detached after connection loss")
		case <-time.After(5 * time.Millisecond):
		}
	}
	_ = id
}

func TestMatchPolicy(t *testing.T) {
	clients := []ClientInfo{
		{ID: "a", URL: "/", Focused: false},
		{ID: "b", URL: "/offers", Focused: false},
		{ID: "c", URL: "/offers", Focused: true},
	}
	tests := []struct {
		name    string
		clients []ClientInfo
		target  string
		wantID  string
		want    MatchKind
	}{
		{"focused match wins", clients, "/offers", "c", MatchFocused},
		{"existing match focused next", clients[:2], "/offers", "b", MatchExisting},
		{"no match", clients, "/missing", "", MatchNone},
		{"empty snapshot", nil, "/offers", "", MatchNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, kind := Match(tt.clients, tt.target)
			if kind != tt.want || got.ID != tt.wantID {
				t.Errorf("Match() = (%q, %v), want (%q, %v)", got.ID, kind, tt.wantID, tt.want)
			}
		})
	}
}

func TestOpenWindowRequiresCapability(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	hub := NewHub(false, logger)
	if err := hub.OpenWindow("/offers"); err == nil {
		t.Error("OpenWindow() without capability = nil error, want error")
	}
}
