package models

import "encoding/json"

// SubscriptionTokens holds the credentials produced by a successful native
// subscribe call. The active push driver is the only writer; the API client
// reads them when registering the device.
type SubscriptionTokens struct {
	PushToken  string `json:"pushToken"`
	PublicKey  string `json:"publicKey"`
	AuthToken  string `json:"authToken"`
	FCMToken   string `json:"fcmToken"`
	FCMPushSet string `json:"fcmPushSet"`
	Endpoint   string `json:"endpoint"`
}

// Empty reports whether no usable push token is held.
func (t SubscriptionTokens) Empty() bool {
	return t.PushToken == ""
}

// SenderConfig is the remotely configured sender identity. A change in any
// field while a subscription exists invalidates that subscription.
type SenderConfig struct {
	SenderID             string `json:"senderId"`
	ApplicationServerKey string `json:"applicationServerKey"`
	WebSitePushID        string `json:"webSitePushId"`
}

// RegistrationStatus is the cached view of whether the device is known to the
// remote provider. It may be stale; CheckDevice refreshes it.
type RegistrationStatus string

const (
	StatusRegistered   RegistrationStatus = "registered"
	StatusUnregistered RegistrationStatus = "unregistered"
)

// DelayedEvent is the single-slot hand-off from the worker context to a page
// context that was not open when the event fired. A second write overwrites;
// it is not a queue.
type DelayedEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}
