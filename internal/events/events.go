// Package events carries the SDK's lifecycle events between components and
// across the page/worker message boundary.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Name identifies a lifecycle event. The set is closed; legacy string names
// from older SDK versions are translated by LegacyName.
type Name string

const (
	PermissionDefault    Name = "permission-default"
	PermissionDenied     Name = "permission-denied"
	PermissionGranted    Name = "permission-granted"
	ShowPermissionDialog Name = "show-permission-dialog"
	HidePermissionDialog Name = "hide-permission-dialog"
	Subscribe            Name = "subscribe"
	Unsubscribe          Name = "unsubscribe"
	Register             Name = "register"
	PushDelivery         Name = "push-delivery"
	NotificationClick    Name = "notification-click"
	NotificationClose    Name = "notification-close"
	InboxUpdate          Name = "inbox-update"
	Ready                Name = "ready"
	InitializeError      Name = "initialize-error"
	SubscriptionChanged  Name = "subscription-changed"

	// Worker-to-page window commands.
	FocusWindow Name = "focus-window"
	OpenWindow  Name = "open-window"
)

// legacyNames maps the ad-hoc string names of the previous SDK generation to
// their current equivalents. Kept in one place so nothing else carries the
// old vocabulary.
var legacyNames = map[string]Name{
	"onPermissionPrompt":  PermissionDefault,
	"onPermissionDenied":  PermissionDenied,
	"onPermissionGranted": PermissionGranted,
	"onShowNotificationPermissionDialog": ShowPermissionDialog,
	"onHideNotificationPermissionDialog": HidePermissionDialog,
	"onSubscribe":        Subscribe,
	"onUnsubscribe":      Unsubscribe,
	"onRegister":         Register,
	"onPushDelivery":     PushDelivery,
	"onNotificationClick": NotificationClick,
	"onNotificationClose": NotificationClose,
	"onUpdateInboxMessages": InboxUpdate,
	"onReady":            Ready,
	"onChangeCommunicationEnabled": SubscriptionChanged,
}

// LegacyName resolves an old-style event name.
func LegacyName(name string) (Name, bool) {
	current, ok := legacyNames[name]
	return current, ok
}

// Event is the unit posted across the page/worker boundary and through the
// in-process bus: a name plus an opaque JSON payload.
type Event struct {
	Type    Name            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an Event. A nil payload is allowed.
func NewEvent(name Name, payload interface{}) Event {
	if payload == nil {
		return Event{Type: name}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		// Payloads are SDK-built structs; a marshal failure is a
		// programming error and the event still fires, just empty.
		return Event{Type: name}
	}
	return Event{Type: name, Payload: raw}
}

// Handler consumes one event.
type Handler func(ctx context.Context, event Event)

// Bus dispatches events synchronously, in subscription order, on the
// emitting goroutine. A panicking handler is recovered and logged and never
// takes down the emitter.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Name][]Handler
	logger   *slog.Logger
}

// NewBus returns an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[Name][]Handler),
		logger:   logger,
	}
}

// Subscribe registers handler for events of the given name.
func (b *Bus) Subscribe(name Name, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
}

// Emit delivers event to every handler of its name.
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[event.Type]...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.dispatch(ctx, handler, event)
	}
}

func (b *Bus) dispatch(ctx context.Context, handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.String("event", string(event.Type)), slog.Any("panic", r))
		}
	}()
	handler(ctx, event)
}
