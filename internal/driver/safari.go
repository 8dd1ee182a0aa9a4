package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Pushwoosh/web-push-notifications-sub000/internal/models"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/params"
)

// Safari is the driver for the proprietary webkit push API. Permission
// round-trips through a provider-hosted endpoint with a signed request; a
// granted permission carries the device token with it.
type Safari struct {
	safari     SafariPush
	params     *params.Store
	api        Unregistrar
	logger     *slog.Logger
	signingKey []byte
}

func newSafari(safari SafariPush, deps Deps) *Safari {
	return &Safari{
		safari:     safari,
		params:     deps.Params,
		api:        deps.API,
		logger:     deps.Logger,
		signingKey: deps.SafariSigningKey,
	}
}

func (d *Safari) webSitePushID(ctx context.Context) (string, error) {
	sender, err := d.params.SenderConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("read sender config: %w", err)
	}
	if sender.WebSitePushID == "" {
		return "", fmt.Errorf("safari driver: web site push id is not configured")
	}
	return sender.WebSitePushID, nil
}

func (d *Safari) GetPermission(ctx context.Context) (Permission, error) {
	pushID, err := d.webSitePushID(ctx)
	if err != nil {
		return PermissionDefault, err
	}
	permission, _, err := d.safari.Permission(ctx, pushID)
	return permission, err
}

func (d *Safari) CheckIsPermissionGranted(ctx context.Context) (bool, error) {
	permission, err := d.GetPermission(ctx)
	return permission == PermissionGranted, err
}

func (d *Safari) CheckIsPermissionDefault(ctx context.Context) (bool, error) {
	permission, err := d.GetPermission(ctx)
	return permission == PermissionDefault, err
}

// signedRequest authenticates the permission round-trip to the provider.
func (d *Safari) signedRequest(ctx context.Context, pushID string) (string, error) {
	code, err := d.params.ApplicationCode(ctx)
	if err != nil {
		return "", fmt.Errorf("read application code: %w", err)
	}
	hwid, err := d.params.HWID(ctx)
	if err != nil {
		return "", fmt.Errorf("read hwid: %w", err)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"application":      code,
		"hwid":             hwid,
		"web_site_push_id": pushID,
		"iat":              time.Now().Unix(),
	})
	signed, err := token.SignedString(d.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign permission request: %w", err)
	}
	return signed, nil
}

func (d *Safari) AskPermission(ctx context.Context) (Permission, error) {
	pushID, err := d.webSitePushID(ctx)
	if err != nil {
		return PermissionDefault, err
	}
	signed, err := d.signedRequest(ctx, pushID)
	if err != nil {
		return PermissionDefault, err
	}
	permission, deviceToken, err := d.safari.RequestPermission(ctx, pushID, signed)
	if err != nil {
		return PermissionDefault, fmt.Errorf("safari permission request: %w", err)
	}
	if permission == PermissionGranted && deviceToken != "" {
		if err := d.params.SetTokens(ctx, models.SubscriptionTokens{PushToken: deviceToken}); err != nil {
			return permission, fmt.Errorf("persist safari token: %w", err)
		}
	}
	return permission, nil
}

func (d *Safari) Subscribe(ctx context.Context) error {
	pushID, err := d.webSitePushID(ctx)
	if err != nil {
		return err
	}
	permission, deviceToken, err := d.safari.Permission(ctx, pushID)
	if err != nil {
		return fmt.Errorf("read safari permission: %w", err)
	}
	if permission != PermissionGranted {
		return ErrPermissionNotGranted
	}
	if deviceToken == "" {
		return fmt.Errorf("safari driver: permission granted without a device token")
	}
	if err := d.params.SetTokens(ctx, models.SubscriptionTokens{PushToken: deviceToken}); err != nil {
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

// Unsubscribe has no native removal step on Safari; the provider-side
// registration is what gets dropped.
func (d *Safari) Unsubscribe(ctx context.Context) error {
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

func (d *Safari) CheckIsNeedResubscribe(ctx context.Context, fresh models.SenderConfig) (bool, error) {
	return checkNeedResubscribe(ctx, d.params, fresh, func() (Permission, error) {
		return d.GetPermission(ctx)
	})
}

func (d *Safari) GetTokens(ctx context.Context) (models.SubscriptionTokens, error) {
	return d.params.Tokens(ctx)
}
