package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultFCMEndpoint is the FCM web subscription relay.
const DefaultFCMEndpoint = "https://fcm.googleapis.com/fcm/connect/subscribe"

// FCMRelay exchanges a native subscription for FCM credentials when the
// application is configured with a sender id.
type FCMRelay struct {
	endpoint string
	client   *http.Client
}

// RelayedTokens is the FCM half of the subscription credentials.
type RelayedTokens struct {
	Token   string `json:"token"`
	PushSet string `json:"pushSet"`
}

// NewFCMRelay builds a relay client. An empty endpoint uses the default.
func NewFCMRelay(endpoint string, timeout time.Duration) *FCMRelay {
	if endpoint == "" {
		endpoint = DefaultFCMEndpoint
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FCMRelay{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Subscribe registers the native subscription with FCM under senderID.
func (r *FCMRelay) Subscribe(ctx context.Context, senderID string, subscription *NativeSubscription) (RelayedTokens, error) {
	body, err := json.Marshal(map[string]string{
		"authorized_entity": senderID,
		"endpoint":          subscription.Endpoint,
		"encryption_key":    subscription.P256DH,
		"encryption_auth":   subscription.Auth,
	})
	if err != nil {
		return RelayedTokens{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return RelayedTokens{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return RelayedTokens{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return RelayedTokens{}, fmt.Errorf("fcm relay: received status %d", resp.StatusCode)
	}

	var tokens RelayedTokens
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return RelayedTokens{}, err
	}
	return tokens, nil
}
