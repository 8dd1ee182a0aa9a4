package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Pushwoosh/web-push-notifications-sub000/internal/models"
)

// ErrEmptyPushToken rejects a registerDevice attempt before any request is
// sent; registering without a token is always a caller bug.
var ErrEmptyPushToken = errors.New("api: registerDevice called with empty push token")

// RegisterDevice registers the device's subscription credentials with the
// provider. Repeated calls with the same token are a safe overwrite remotely.
func (c *Client) RegisterDevice(ctx context.Context, tokens models.SubscriptionTokens) error {
	if tokens.Empty() {
		return ErrEmptyPushToken
	}
	fields := map[string]interface{}{
		"push_token": tokens.PushToken,
	}
	if tokens.PublicKey != "" {
		fields["public_key"] = tokens.PublicKey
	}
	if tokens.AuthToken != "" {
		fields["auth_token"] = tokens.AuthToken
	}
	if tokens.FCMToken != "" {
		fields["fcm_token"] = tokens.FCMToken
	}
	if tokens.FCMPushSet != "" {
		fields["fcm_push_set"] = tokens.FCMPushSet
	}
	_, err := c.call(ctx, "registerDevice", fields)
	return err
}

// UnregisterDevice removes the device registration.
func (c *Client) UnregisterDevice(ctx context.Context) error {
	_, err := c.call(ctx, "unregisterDevice", nil)
	return err
}

// DeleteDevice removes the device and all its server-side data.
func (c *Client) DeleteDevice(ctx context.Context) error {
	_, err := c.call(ctx, "deleteDevice", nil)
	return err
}

// CheckDevice asks the provider whether this hwid is currently registered.
func (c *Client) CheckDevice(ctx context.Context) (bool, error) {
	raw, err := c.call(ctx, "checkDevice", nil)
	if err != nil {
		return false, err
	}
	var response struct {
		Exist          bool `json:"exist"`
		PushTokenExist bool `json:"push_token_exist"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return false, fmt.Errorf("api checkDevice: decode: %w", err)
	}
	return response.Exist && response.PushTokenExist, nil
}

// RemoteConfig is the getConfig answer the reconciliation logic depends on.
type RemoteConfig struct {
	Sender       models.SenderConfig
	DefaultTitle string
}

// GetConfig fetches the remotely configured sender identity and defaults.
func (c *Client) GetConfig(ctx context.Context) (RemoteConfig, error) {
	raw, err := c.call(ctx, "getConfig", map[string]interface{}{
		"features": []string{"channels", "events", "vapid_key"},
	})
	if err != nil {
		return RemoteConfig{}, err
	}
	var response struct {
		Features struct {
			VapidKey      string `json:"vapid_key"`
			GCMSenderID   string `json:"gcm_sender_id"`
			WebSitePushID string `json:"web_site_push_id"`
			DefaultTitle  string `json:"default_notification_title"`
		} `json:"features"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return RemoteConfig{}, fmt.Errorf("api getConfig: decode: %w", err)
	}
	return RemoteConfig{
		Sender: models.SenderConfig{
			SenderID:             response.Features.GCMSenderID,
			ApplicationServerKey: response.Features.VapidKey,
			WebSitePushID:        response.Features.WebSitePushID,
		},
		DefaultTitle: response.Features.DefaultTitle,
	}, nil
}

// ApplicationOpen reports a page-context start.
func (c *Client) ApplicationOpen(ctx context.Context) error {
	_, err := c.call(ctx, "applicationOpen", nil)
	return err
}

// MessageDeliveryEvent acknowledges delivery of the push carrying hash.
func (c *Client) MessageDeliveryEvent(ctx context.Context, hash string) error {
	_, err := c.call(ctx, "messageDeliveryEvent", map[string]interface{}{
		"hash": hash,
	})
	return err
}

// PushStat acknowledges a notification open for the push carrying hash.
func (c *Client) PushStat(ctx context.Context, hash string) error {
	_, err := c.call(ctx, "pushStat", map[string]interface{}{
		"hash": hash,
	})
	return err
}

// SetTags overwrites the given tag values for this device.
func (c *Client) SetTags(ctx context.Context, tags map[string]interface{}) error {
	_, err := c.call(ctx, "setTags", map[string]interface{}{
		"tags": tags,
	})
	return err
}

// GetTags reads the device's tag values.
func (c *Client) GetTags(ctx context.Context) (map[string]interface{}, error) {
	raw, err := c.call(ctx, "getTags", nil)
	if err != nil {
		return nil, err
	}
	var response struct {
		Result map[string]interface{} `json:"result"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return nil, fmt.Errorf("api getTags: decode: %w", err)
	}
	return response.Result, nil
}

// InboxMessageData is the provider's wire shape of one inbox message.
type InboxMessageData struct {
	InboxID      string          `json:"inbox_id"`
	Order        string          `json:"order"`
	Title        string          `json:"title"`
	Text         string          `json:"text"`
	Image        string          `json:"image"`
	URL          string          `json:"url"`
	SendDate     string          `json:"send_date"`
	ExpiryDate   int64           `json:"rt"`
	Status       int             `json:"status"`
	ActionParams json.RawMessage `json:"action_params"`
}

// GetInboxMessages pages through the server-side inbox starting after
// lastCode.
func (c *Client) GetInboxMessages(ctx context.Context, lastCode string, count int) ([]InboxMessageData, string, error) {
	raw, err := c.call(ctx, "getInboxMessages", map[string]interface{}{
		"last_code": lastCode,
		"count":     count,
	})
	if err != nil {
		return nil, "", err
	}
	var response struct {
		Messages []InboxMessageData `json:"messages"`
		Next     string             `json:"next"`
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return nil, "", fmt.Errorf("api getInboxMessages: decode: %w", err)
	}
	return response.Messages, response.Next, nil
}

// InboxStatus reports a local inbox status transition to the provider.
func (c *Client) InboxStatus(ctx context.Context, inboxID string, status int, hash string) error {
	fields := map[string]interface{}{
		"inbox_code": inboxID,
		"status":     status,
		"time":       0,
	}
	if hash != "" {
		fields["hash"] = hash
	}
	_, err := c.call(ctx, "inboxStatus", fields)
	return err
}

// RegisterUser ties a user id to this device.
func (c *Client) RegisterUser(ctx context.Context, userID string) error {
	_, err := c.call(ctx, "registerUser", map[string]interface{}{
		"userId": userID,
	})
	return err
}

// PostEvent sends a custom analytics event.
func (c *Client) PostEvent(ctx context.Context, event string, attributes map[string]interface{}) error {
	fields := map[string]interface{}{
		"event": event,
	}
	if len(attributes) > 0 {
		fields["attributes"] = attributes
	}
	_, err := c.call(ctx, "postEvent", fields)
	return err
}
