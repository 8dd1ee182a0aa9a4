// Package driver abstracts the platform push primitives behind one
// capability surface so the reconciliation engine never touches them
// directly.
package driver

import "context"

// Permission mirrors the native notification permission states.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionDenied  Permission = "denied"
	PermissionGranted Permission = "granted"
)

// NativeSubscription is the credential set produced by the platform push
// manager.
type NativeSubscription struct {
	Endpoint string
	P256DH   string
	Auth     string
}

// PermissionAPI is the native notification permission surface. The prompt
// must be requested in direct response to a user gesture; callers own that
// constraint.
type PermissionAPI interface {
	Permission(ctx context.Context) (Permission, error)
	RequestPermission(ctx context.Context) (Permission, error)
}

// PushManager is the native subscription surface. Subscription returns
// (nil, nil) when no subscription exists; Unsubscribe on a missing
// subscription is a no-op.
type PushManager interface {
	Subscription(ctx context.Context) (*NativeSubscription, error)
	Subscribe(ctx context.Context, applicationServerKey string) (*NativeSubscription, error)
	Unsubscribe(ctx context.Context) error
}

// SafariPush is the proprietary Safari surface. Permission round-trips
// through a provider-hosted endpoint; when granted, a device token comes
// back with it.
type SafariPush interface {
	Permission(ctx context.Context, webSitePushID string) (Permission, string, error)
	RequestPermission(ctx context.Context, webSitePushID, signedRequest string) (Permission, string, error)
}

// Unregistrar is the one provider call the drivers make themselves, during
// unsubscribe.
type Unregistrar interface {
	UnregisterDevice(ctx context.Context) error
}
