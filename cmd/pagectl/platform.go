package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/Pushwoosh/web-push-notifications-sub000/internal/driver"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/storage"
)

// The CLI has no browser around it, so the native permission and push
// primitives are backed by the shared KV store: permission state and the
// "native" subscription live next to the SDK's own fields and survive runs,
// the way they would across page loads.
const (
	keyNativePermission   = "native.permission"
	keyNativeSubscription = "native.subscription"
)

// localPermissions answers permission reads from storage. Requesting the
// prompt resolves to the PERMISSION_RESULT environment variable, defaulting
// to granted, so subscription flows can be exercised end to end.
type localPermissions struct {
	kv storage.Store
}

func (p *localPermissions) Permission(ctx context.Context) (driver.Permission, error) {
	value, err := p.kv.Get(ctx, keyNativePermission)
	if errors.Is(err, storage.ErrNotFound) {
		return driver.PermissionDefault, nil
	}
	if err != nil {
		return driver.PermissionDefault, err
	}
	return driver.Permission(value), nil
}

func (p *localPermissions) RequestPermission(ctx context.Context) (driver.Permission, error) {
	result := driver.Permission(os.Getenv("PERMISSION_RESULT"))
	switch result {
	case driver.PermissionGranted, driver.PermissionDenied, driver.PermissionDefault:
	default:
		result = driver.PermissionGranted
	}
	if err := p.kv.Set(ctx, keyNativePermission, []byte(result)); err != nil {
		return driver.PermissionDefault, err
	}
	return result, nil
}

// localPushManager persists one fabricated native subscription in storage.
type localPushManager struct {
	kv storage.Store
}

func (m *localPushManager) Subscription(ctx context.Context) (*driver.NativeSubscription, error) {
	value, err := m.kv.Get(ctx, keyNativeSubscription)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sub driver.NativeSubscription
	if err := json.Unmarshal(value, &sub); err != nil {
		return nil, fmt.Errorf("decode native subscription: %w", err)
	}
	return &sub, nil
}

func (m *localPushManager) Subscribe(ctx context.Context, _ string) (*driver.NativeSubscription, error) {
	sub := driver.NativeSubscription{
		Endpoint: "https://push.local/send/" + uuid.NewString(),
		P256DH:   uuid.NewString(),
		Auth:     uuid.NewString(),
	}
	value, err := json.Marshal(sub)
	if err != nil {
		return nil, err
	}
	if err := m.kv.Set(ctx, keyNativeSubscription, value); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (m *localPushManager) Unsubscribe(ctx context.Context) error {
	return m.kv.Delete(ctx, keyNativeSubscription)
}
