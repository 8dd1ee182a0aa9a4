package driver

import (
	"context"
	"errors"

	"github.com/Pushwoosh/web-push-notifications-sub000/internal/models"
)

var (
	// ErrUnsupported is returned by Detect when no push capability exists.
	ErrUnsupported = errors.New("driver: push is not supported on this platform")

	// ErrPermissionNotGranted rejects a subscribe without granted
	// permission. Callers treat it as a logged no-op, not a crash.
	ErrPermissionNotGranted = errors.New("driver: subscribe requires granted permission")
)

// PushService is the capability surface shared by the standard and Safari
// drivers. One instance is selected at initialization and held for the
// process lifetime.
type PushService interface {
	GetPermission(ctx context.Context) (Permission, error)
	CheckIsPermissionGranted(ctx context.Context) (bool, error)
	CheckIsPermissionDefault(ctx context.Context) (bool, error)

	// AskPermission triggers the native prompt and returns the resulting
	// permission. A denial is a state, not an error.
	AskPermission(ctx context.Context) (Permission, error)

	// Subscribe is idempotent: an existing native subscription is reused.
	// On a subscription-acquisition failure it unsubscribes and retries
	// once before surfacing the error.
	Subscribe(ctx context.Context) error

	// Unsubscribe removes the native subscription, clears local tokens,
	// marks the device manually unsubscribed and unregisters remotely.
	// Safe to call when no subscription exists.
	Unsubscribe(ctx context.Context) error

	// CheckIsNeedResubscribe refreshes the cached sender identity and
	// last-known permission from fresh values and reports whether either
	// changed in a way that invalidates the current subscription.
	CheckIsNeedResubscribe(ctx context.Context, fresh models.SenderConfig) (bool, error)

	GetTokens(ctx context.Context) (models.SubscriptionTokens, error)
}

// Capabilities describes what the platform offers; Detect picks the driver
// variant once from it.
type Capabilities struct {
	Permissions PermissionAPI
	PushManager PushManager
	Safari      SafariPush
}

// Detect returns the driver matching the platform capabilities: the
// standard ServiceWorker/PushManager driver when available, the Safari
// driver otherwise, or ErrUnsupported.
func Detect(caps Capabilities, deps Deps) (PushService, error) {
	switch {
	case caps.Permissions != nil && caps.PushManager != nil:
		return newStandard(caps.Permissions, caps.PushManager, deps), nil
	case caps.Safari != nil:
		return newSafari(caps.Safari, deps), nil
	default:
		return nil, ErrUnsupported
	}
}
