// Package params exposes typed accessors over the KV store for the SDK's
// persisted fields. An unset field reads back as its zero value; callers
// supply their own defaults instead of relying on one baked in here.
package params

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Pushwoosh/web-push-notifications-sub000/internal/models"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/storage"
)

const prefix = "params."

// Key names under the params. prefix.
const (
	keyApplicationCode       = "applicationCode"
	keyHWID                  = "hwid"
	keyDeviceType            = "deviceType"
	keyDeviceModel           = "deviceModel"
	keyLanguage              = "language"
	keyUserID                = "userId"
	keyAPIEntrypoint         = "apiEntrypoint"
	keySenderConfig          = "senderConfig"
	keyLastPermission        = "lastPermission"
	keyRegistrationStatus    = "registrationStatus"
	keyTokens                = "tokens"
	keyManuallyUnsubscribed  = "manuallyUnsubscribed"
	keyCommunicationDisabled = "communicationDisabled"
	keyDropAllData           = "dropAllData"
	keyLastOpen              = "lastOpenApplication"
	keyDelayedEvent          = "delayedEvent"
)

// legacyKeys maps the bare key names used by old SDK versions to their
// current names. Migration runs once at open and deletes the legacy key
// afterwards, so no read path carries dual-key branching.
var legacyKeys = map[string]string{
	"hwid":                keyHWID,
	"applicationCode":     keyApplicationCode,
	"pushToken":           keyTokens,
	"manualUnsubscribe":   keyManuallyUnsubscribed,
	"COMMUNICATION_DISABLED": keyCommunicationDisabled,
	"DEVICE_DATA_REMOVED":    keyDropAllData,
}

// Store wraps the KV store with one accessor pair per logical field.
type Store struct {
	kv storage.Store
}

// Open wraps kv and copies any legacy bare-key values forward into the
// current params. schema. The new value wins when both are present.
func Open(ctx context.Context, kv storage.Store) (*Store, error) {
	s := &Store{kv: kv}
	if err := s.migrateLegacy(ctx); err != nil {
		return nil, fmt.Errorf("params migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrateLegacy(ctx context.Context) error {
	for legacy, current := range legacyKeys {
		value, err := s.kv.Get(ctx, legacy)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if _, err := s.kv.Get(ctx, prefix+current); errors.Is(err, storage.ErrNotFound) {
			// The legacy pushToken key held the bare token string, not the
			// JSON bundle Tokens() decodes.
			if legacy == "pushToken" {
				value, err = json.Marshal(models.SubscriptionTokens{PushToken: string(value)})
				if err != nil {
					return fmt.Errorf("params encode %s: %w", current, err)
				}
			}
			if err := s.kv.Set(ctx, prefix+current, value); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		if err := s.kv.Delete(ctx, legacy); err != nil {
			return err
		}
	}
	return nil
}

// ClearAll resets every logical field. Used when the application code
// changes; no stale field may remain afterwards.
func (s *Store) ClearAll(ctx context.Context) error {
	keys, err := s.kv.Keys(ctx, prefix)
	if err != nil {
		return fmt.Errorf("params clear: %w", err)
	}
	for _, key := range keys {
		if err := s.kv.Delete(ctx, key); err != nil {
			return fmt.Errorf("params clear %s: %w", key, err)
		}
	}
	return nil
}

func (s *Store) getString(ctx context.Context, key string) (string, error) {
	value, err := s.kv.Get(ctx, prefix+key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(value), nil
}

func (s *Store) setString(ctx context.Context, key, value string) error {
	return s.kv.Set(ctx, prefix+key, []byte(value))
}

func (s *Store) getBool(ctx context.Context, key string) (bool, error) {
	value, err := s.getString(ctx, key)
	if err != nil || value == "" {
		return false, err
	}
	return value == "true" || value == "1", nil
}

func (s *Store) setBool(ctx context.Context, key string, value bool) error {
	return s.setString(ctx, key, strconv.FormatBool(value))
}

func (s *Store) getJSON(ctx context.Context, key string, out interface{}) (bool, error) {
	value, err := s.kv.Get(ctx, prefix+key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(value, out); err != nil {
		return false, fmt.Errorf("params decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) setJSON(ctx context.Context, key string, in interface{}) error {
	value, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("params encode %s: %w", key, err)
	}
	return s.kv.Set(ctx, prefix+key, value)
}

func (s *Store) ApplicationCode(ctx context.Context) (string, error) {
	return s.getString(ctx, keyApplicationCode)
}

func (s *Store) SetApplicationCode(ctx context.Context, code string) error {
	return s.setString(ctx, keyApplicationCode, code)
}

func (s *Store) HWID(ctx context.Context) (string, error) {
	return s.getString(ctx, keyHWID)
}

func (s *Store) SetHWID(ctx context.Context, hwid string) error {
	return s.setString(ctx, keyHWID, hwid)
}

func (s *Store) DeviceType(ctx context.Context) (int, error) {
	value, err := s.getString(ctx, keyDeviceType)
	if err != nil || value == "" {
		return 0, err
	}
	deviceType, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("params decode deviceType: %w", err)
	}
	return deviceType, nil
}

func (s *Store) SetDeviceType(ctx context.Context, deviceType int) error {
	return s.setString(ctx, keyDeviceType, strconv.Itoa(deviceType))
}

func (s *Store) DeviceModel(ctx context.Context) (string, error) {
	return s.getString(ctx, keyDeviceModel)
}

func (s *Store) SetDeviceModel(ctx context.Context, model string) error {
	return s.setString(ctx, keyDeviceModel, model)
}

func (s *Store) Language(ctx context.Context) (string, error) {
	return s.getString(ctx, keyLanguage)
}

func (s *Store) SetLanguage(ctx context.Context, language string) error {
	return s.setString(ctx, keyLanguage, language)
}

func (s *Store) UserID(ctx context.Context) (string, error) {
	return s.getString(ctx, keyUserID)
}

func (s *Store) SetUserID(ctx context.Context, userID string) error {
	return s.setString(ctx, keyUserID, userID)
}

func (s *Store) APIEntrypoint(ctx context.Context) (string, error) {
	return s.getString(ctx, keyAPIEntrypoint)
}

func (s *Store) SetAPIEntrypoint(ctx context.Context, entrypoint string) error {
	return s.setString(ctx, keyAPIEntrypoint, entrypoint)
}

func (s *Store) SenderConfig(ctx context.Context) (models.SenderConfig, error) {
	var cfg models.SenderConfig
	_, err := s.getJSON(ctx, keySenderConfig, &cfg)
	return cfg, err
}

func (s *Store) SetSenderConfig(ctx context.Context, cfg models.SenderConfig) error {
	return s.setJSON(ctx, keySenderConfig, cfg)
}

func (s *Store) LastPermission(ctx context.Context) (string, error) {
	return s.getString(ctx, keyLastPermission)
}

func (s *Store) SetLastPermission(ctx context.Context, permission string) error {
	return s.setString(ctx, keyLastPermission, permission)
}

func (s *Store) RegistrationStatus(ctx context.Context) (models.RegistrationStatus, error) {
	value, err := s.getString(ctx, keyRegistrationStatus)
	return models.RegistrationStatus(value), err
}

func (s *Store) SetRegistrationStatus(ctx context.Context, status models.RegistrationStatus) error {
	return s.setString(ctx, keyRegistrationStatus, string(status))
}

func (s *Store) Tokens(ctx context.Context) (models.SubscriptionTokens, error) {
	var tokens models.SubscriptionTokens
	_, err := s.getJSON(ctx, keyTokens, &tokens)
	return tokens, err
}

func (s *Store) SetTokens(ctx context.Context, tokens models.SubscriptionTokens) error {
	return s.setJSON(ctx, keyTokens, tokens)
}

// ClearTokens resets the token bundle to the empty value. Called whenever
// unsubscribe succeeds.
func (s *Store) ClearTokens(ctx context.Context) error {
	return s.setJSON(ctx, keyTokens, models.SubscriptionTokens{})
}

func (s *Store) ManuallyUnsubscribed(ctx context.Context) (bool, error) {
	return s.getBool(ctx, keyManuallyUnsubscribed)
}

func (s *Store) SetManuallyUnsubscribed(ctx context.Context, value bool) error {
	return s.setBool(ctx, keyManuallyUnsubscribed, value)
}

func (s *Store) CommunicationDisabled(ctx context.Context) (bool, error) {
	return s.getBool(ctx, keyCommunicationDisabled)
}

func (s *Store) SetCommunicationDisabled(ctx context.Context, value bool) error {
	return s.setBool(ctx, keyCommunicationDisabled, value)
}

func (s *Store) DropAllData(ctx context.Context) (bool, error) {
	return s.getBool(ctx, keyDropAllData)
}

func (s *Store) SetDropAllData(ctx context.Context, value bool) error {
	return s.setBool(ctx, keyDropAllData, value)
}

func (s *Store) LastOpenTime(ctx context.Context) (time.Time, error) {
	value, err := s.getString(ctx, keyLastOpen)
	if err != nil || value == "" {
		return time.Time{}, err
	}
	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("params decode lastOpenApplication: %w", err)
	}
	return time.Unix(unix, 0), nil
}

func (s *Store) SetLastOpenTime(ctx context.Context, at time.Time) error {
	return s.setString(ctx, keyLastOpen, strconv.FormatInt(at.Unix(), 10))
}

// SetDelayedEvent stores the single pending hand-off event, overwriting any
// previous one.
func (s *Store) SetDelayedEvent(ctx context.Context, event models.DelayedEvent) error {
	return s.setJSON(ctx, keyDelayedEvent, event)
}

// TakeDelayedEvent returns and clears the pending hand-off event. ok is
// false when no event is pending.
func (s *Store) TakeDelayedEvent(ctx context.Context) (models.DelayedEvent, bool, error) {
	var event models.DelayedEvent
	ok, err := s.getJSON(ctx, keyDelayedEvent, &event)
	if err != nil || !ok {
		return models.DelayedEvent{}, false, err
	}
	if err := s.kv.Delete(ctx, prefix+keyDelayedEvent); err != nil {
		return models.DelayedEvent{}, false, err
	}
	return event, true, nil
}
