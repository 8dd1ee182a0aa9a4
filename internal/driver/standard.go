package driver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Pushwoosh/web-push-notifications-sub000/internal/models"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/params"
)

// Deps are the collaborators shared by both driver variants.
type Deps struct {
	Params *params.Store
	API    Unregistrar
	Relay  *FCMRelay
	Logger *slog.Logger

	// SafariSigningKey signs the Safari permission round-trip request.
	SafariSigningKey []byte
}

// Standard is the ServiceWorker + PushManager driver, with an optional FCM
// relay hop when a sender id is configured.
type Standard struct {
	permissions PermissionAPI
	pushManager PushManager
	relay       *FCMRelay
	params      *params.Store
	api         Unregistrar
	logger      *slog.Logger
}

func newStandard(permissions PermissionAPI, pushManager PushManager, deps Deps) *Standard {
	return &Standard{
		permissions: permissions,
		pushManager: pushManager,
		relay:       deps.Relay,
		params:      deps.Params,
		api:         deps.API,
		logger:      deps.Logger,
	}
}

func (d *Standard) GetPermission(ctx context.Context) (Permission, error) {
	return d.permissions.Permission(ctx)
}

func (d *Standard) CheckIsPermissionGranted(ctx context.Context) (bool, error) {
	permission, err := d.permissions.Permission(ctx)
	return permission == PermissionGranted, err
}

func (d *Standard) CheckIsPermissionDefault(ctx context.Context) (bool, error) {
	permission, err := d.permissions.Permission(ctx)
	return permission == PermissionDefault, err
}

func (d *Standard) AskPermission(ctx context.Context) (Permission, error) {
	permission, err := d.permissions.RequestPermission(ctx)
	if err != nil {
		return PermissionDefault, fmt.Errorf("request permission: %w", err)
	}
	return permission, nil
}

func (d *Standard) Subscribe(ctx context.Context) error {
	granted, err := d.CheckIsPermissionGranted(ctx)
	if err != nil {
		return fmt.Errorf("read permission: %w", err)
	}
	if !granted {
		return ErrPermissionNotGranted
	}

	sender, err := d.params.SenderConfig(ctx)
	if err != nil {
		return fmt.Errorf("read sender config: %w", err)
	}

	subscription, err := d.pushManager.Subscription(ctx)
	if err != nil {
		return fmt.Errorf("read native subscription: %w", err)
	}
	if subscription == nil {
		subscription, err = d.acquire(ctx, sender.ApplicationServerKey)
		if err != nil {
			return err
		}
	}

	tokens := models.SubscriptionTokens{
		PushToken: tokenFromEndpoint(subscription.Endpoint),
		PublicKey: subscription.P256DH,
		AuthToken: subscription.Auth,
		Endpoint:  subscription.Endpoint,
	}

	if sender.SenderID != "" && d.relay != nil {
		relayed, err := d.relay.Subscribe(ctx, sender.SenderID, subscription)
		if err != nil {
			return fmt.Errorf("fcm relay subscribe: %w", err)
		}
		tokens.FCMToken = relayed.Token
		tokens.FCMPushSet = relayed.PushSet
	}

	if err := d.params.SetTokens(ctx, tokens); err != nil {
		return fmt.Errorf("persist tokens: %w", err)
	}
	if err := d.params.SetManuallyUnsubscribed(ctx, false); err != nil {
		return fmt.Errorf("clear manual-unsubscribe flag: %w", err)
	}
	if err := d.params.SetLastPermission(ctx, string(PermissionGranted)); err != nil {
		return fmt.Errorf("persist permission: %w", err)
	}
	return nil
}

// acquire creates the native subscription, retrying exactly once through an
// unsubscribe. The retry protects against a stale subscription created with
// a previous application server key; permission problems never reach here.
func (d *Standard) acquire(ctx context.Context, applicationServerKey string) (*NativeSubscription, error) {
	subscription, err := d.pushManager.Subscribe(ctx, applicationServerKey)
	if err == nil {
		return subscription, nil
	}
	d.logger.Warn("native subscribe failed, unsubscribing and retrying once",
		slog.Any("error", err))
	if unsubErr := d.pushManager.Unsubscribe(ctx); unsubErr != nil {
		d.logger.Warn("unsubscribe before retry failed", slog.Any("error", unsubErr))
	}
	subscription, err = d.pushManager.Subscribe(ctx, applicationServerKey)
	if err != nil {
		return nil, fmt.Errorf("native subscribe after retry: %w", err)
	}
	return subscription, nil
}

func (d *Standard) Unsubscribe(ctx context.Context) error {
	if err := d.pushManager.Unsubscribe(ctx); err != nil {
		return fmt.Errorf("native unsubscribe: %w", err)
	}
	if err := d.params.ClearTokens(ctx); err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	if err := d.params.SetManuallyUnsubscribed(ctx, true); err != nil {
		return fmt.Errorf("set manual-unsubscribe flag: %w", err)
	}
	if err := d.api.UnregisterDevice(ctx); err != nil {
		return fmt.Errorf("remote unregister: %w", err)
	}
	return nil
}

func (d *Standard) CheckIsNeedResubscribe(ctx context.Context, fresh models.SenderConfig) (bool, error) {
	return checkNeedResubscribe(ctx, d.params, fresh, func() (Permission, error) {
		return d.GetPermission(ctx)
	})
}

func (d *Standard) GetTokens(ctx context.Context) (models.SubscriptionTokens, error) {
	return d.params.Tokens(ctx)
}

// checkNeedResubscribe holds the one staleness policy both drivers share:
// the cached sender identity and last-known permission are always refreshed,
// and a resubscribe is signalled when the sender identity changed or the
// permission left granted and came back since the last check.
func checkNeedResubscribe(ctx context.Context, store *params.Store, fresh models.SenderConfig, current func() (Permission, error)) (bool, error) {
	stored, err := store.SenderConfig(ctx)
	if err != nil {
		return false, fmt.Errorf("read sender config: %w", err)
	}
	lastPermission, err := store.LastPermission(ctx)
	if err != nil {
		return false, fmt.Errorf("read last permission: %w", err)
	}
	permission, err := current()
	if err != nil {
		return false, fmt.Errorf("read permission: %w", err)
	}

	if err := store.SetSenderConfig(ctx, fresh); err != nil {
		return false, fmt.Errorf("refresh sender config: %w", err)
	}
	if err := store.SetLastPermission(ctx, string(permission)); err != nil {
		return false, fmt.Errorf("refresh last permission: %w", err)
	}

	senderChanged := stored != (models.SenderConfig{}) && stored != fresh
	permissionReturned := permission == PermissionGranted &&
		lastPermission != "" && lastPermission != string(PermissionGranted)
	return senderChanged || permissionReturned, nil
}

// tokenFromEndpoint derives the provider push token from the subscription
// endpoint, which carries it as the final path segment.
func tokenFromEndpoint(endpoint string) string {
	if idx := strings.LastIndex(endpoint, "/"); idx >= 0 {
		return endpoint[idx+1:]
	}
	return endpoint
}
