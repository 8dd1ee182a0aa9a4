// Package engine reconciles local cached state, native push state and the
// remote registration status, issuing the minimal set of subscribe,
// unsubscribe and register actions to bring them into agreement.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Pushwoosh/web-push-notifications-sub000/internal/api"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/driver"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/events"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/models"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/params"
)

var (
	// ErrNoApplicationCode aborts initialization early; without an
	// application code no provider call can be shaped.
	ErrNoApplicationCode = errors.New("engine: application code is required")

	// ErrDataRemoved means the device's data was removed on request and
	// the SDK refuses to operate until the flag is cleared.
	ErrDataRemoved = errors.New("engine: device data was removed, push is disabled")
)

// Remote is the slice of the provider API the engine drives. Satisfied by
// api.Client.
type Remote interface {
	GetConfig(ctx context.Context) (api.RemoteConfig, error)
	CheckDevice(ctx context.Context) (bool, error)
	RegisterDevice(ctx context.Context, tokens models.SubscriptionTokens) error
	UnregisterDevice(ctx context.Context) error
	DeleteDevice(ctx context.Context) error
	ApplicationOpen(ctx context.Context) error
	SetTags(ctx context.Context, tags map[string]interface{}) error
	GetTags(ctx context.Context) (map[string]interface{}, error)
	RegisterUser(ctx context.Context, userID string) error
	PostEvent(ctx context.Context, event string, attributes map[string]interface{}) error
}

// Syncer pulls the server-side inbox into the local store. Satisfied by
// inbox.Service. May be nil when no inbox is configured.
type Syncer interface {
	Sync(ctx context.Context) error
}

// InitOptions configures one Initialize run.
type InitOptions struct {
	// ApplicationCode identifies the application at the provider.
	// Required.
	ApplicationCode string

	// DeviceModel is the browser model string; it also selects the
	// provider device type code.
	DeviceModel string

	// Language defaults to "en".
	Language string

	// UserID, when set, is tied to the device during initialization.
	UserID string
}

// Engine is the reconciliation state machine. One instance serves a page
// context for its lifetime.
type Engine struct {
	params  *params.Store
	service driver.PushService
	remote  Remote
	bus     *events.Bus
	queue   *events.CommandQueue
	inbox   Syncer
	logger  *slog.Logger
	now     func() time.Time

	mu                 sync.Mutex
	pendingResubscribe bool
	defaultTitle       string
}

// New wires an engine. queue may be nil when no pre-initialization command
// queuing is needed; inboxSyncer may be nil.
func New(paramStore *params.Store, service driver.PushService, remote Remote,
	bus *events.Bus, queue *events.CommandQueue, inboxSyncer Syncer, logger *slog.Logger) *Engine {
	if queue == nil {
		queue = events.NewCommandQueue(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		params:  paramStore,
		service: service,
		remote:  remote,
		bus:     bus,
		queue:   queue,
		inbox:   inboxSyncer,
		logger:  logger,
		now:     time.Now,
	}
}

// Queue exposes the pre-initialization command queue so callers can defer
// SDK calls issued before Initialize completed.
func (e *Engine) Queue() *events.CommandQueue { return e.queue }

// DefaultTitle is the remotely configured notification title, known after
// Initialize fetched the remote config.
func (e *Engine) DefaultTitle() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.defaultTitle
}

// Initialize runs the documented startup sequence: flag checks, identity
// setup, device field population, remote config refresh, permission/token
// reconciliation, application-open reporting, inbox sync, delayed-event
// replay and finally the ready event plus command-queue flush. Only the flag
// and identity steps can abort; every later concern is isolated, logged on
// failure and never stops the rest.
func (e *Engine) Initialize(ctx context.Context, opts InitOptions) error {
	if opts.ApplicationCode == "" {
		e.bus.Emit(ctx, events.NewEvent(events.InitializeError, errorPayload{Error: ErrNoApplicationCode.Error()}))
		return ErrNoApplicationCode
	}

	dropped, err := e.params.DropAllData(ctx)
	if err != nil {
		return fmt.Errorf("engine: read drop-all-data flag: %w", err)
	}
	if dropped {
		e.bus.Emit(ctx, events.NewEvent(events.InitializeError, errorPayload{Error: ErrDataRemoved.Error()}))
		return ErrDataRemoved
	}

	if err := e.setupIdentity(ctx, opts); err != nil {
		e.bus.Emit(ctx, events.NewEvent(events.InitializeError, errorPayload{Error: err.Error()}))
		return err
	}

	if opts.UserID != "" {
		if err := e.RegisterUser(ctx, opts.UserID); err != nil {
			e.logger.Error("register user failed", slog.Any("error", err))
		}
	}

	e.refreshRemoteConfig(ctx)

	disabled, err := e.params.CommunicationDisabled(ctx)
	if err != nil {
		e.logger.Error("read communication-disabled flag failed", slog.Any("error", err))
	}
	if disabled {
		e.logger.Info("communication disabled, skipping registration reconciliation")
	} else if err := e.DefaultProcess(ctx); err != nil {
		e.logger.Error("reconciliation failed", slog.Any("error", err))
	}

	if err := e.remote.ApplicationOpen(ctx); err != nil {
		e.logger.Error("applicationOpen failed", slog.Any("error", err))
	}
	if err := e.params.SetLastOpenTime(ctx, e.now()); err != nil {
		e.logger.Error("persist last open time failed", slog.Any("error", err))
	}

	if e.inbox != nil {
		if err := e.inbox.Sync(ctx); err != nil {
			e.logger.Error("inbox sync failed", slog.Any("error", err))
		}
	}

	e.replayDelayedEvent(ctx)

	e.bus.Emit(ctx, events.NewEvent(events.Ready, nil))
	e.queue.Flush(ctx)
	return nil
}

type errorPayload struct {
	Error string `json:"error"`
}

type permissionPayload struct {
	Permission string `json:"permission"`
}

// setupIdentity establishes the application code and hwid. A changed
// application code wipes every persisted field before the new identity is
// written; the hwid is generated once and never regenerated while the same
// application code is active.
func (e *Engine) setupIdentity(ctx context.Context, opts InitOptions) error {
	stored, err := e.params.ApplicationCode(ctx)
	if err != nil {
		return fmt.Errorf("engine: read application code: %w", err)
	}
	if stored != "" && stored != opts.ApplicationCode {
		e.logger.Info("application code changed, wiping local state",
			slog.String("old", stored), slog.String("new", opts.ApplicationCode))
		if err := e.params.ClearAll(ctx); err != nil {
			return fmt.Errorf("engine: wipe state: %w", err)
		}
	}
	if err := e.params.SetApplicationCode(ctx, opts.ApplicationCode); err != nil {
		return fmt.Errorf("engine: persist application code: %w", err)
	}

	hwid, err := e.params.HWID(ctx)
	if err != nil {
		return fmt.Errorf("engine: read hwid: %w", err)
	}
	if hwid == "" {
		hwid = opts.ApplicationCode + "_" + uuid.NewString()
		if err := e.params.SetHWID(ctx, hwid); err != nil {
			return fmt.Errorf("engine: persist hwid: %w", err)
		}
	}

	if err := e.params.SetDeviceModel(ctx, opts.DeviceModel); err != nil {
		return fmt.Errorf("engine: persist device model: %w", err)
	}
	if err := e.params.SetDeviceType(ctx, models.DeviceTypeForModel(opts.DeviceModel)); err != nil {
		return fmt.Errorf("engine: persist device type: %w", err)
	}
	language := opts.Language
	if language == "" {
		language = "en"
	}
	if err := e.params.SetLanguage(ctx, language); err != nil {
		return fmt.Errorf("engine: persist language: %w", err)
	}
	return nil
}

// refreshRemoteConfig fetches the sender identity and lets the driver decide
// whether the existing subscription became stale. A fetch failure leaves the
// cached config in place.
func (e *Engine) refreshRemoteConfig(ctx context.Context) {
	cfg, err := e.remote.GetConfig(ctx)
	if err != nil {
		e.logger.Error("getConfig failed", slog.Any("error", err))
		return
	}

	e.mu.Lock()
	e.defaultTitle = cfg.DefaultTitle
	e.mu.Unlock()

	need, err := e.service.CheckIsNeedResubscribe(ctx, cfg.Sender)
	if err != nil {
		e.logger.Error("resubscribe check failed", slog.Any("error", err))
		return
	}
	if need {
		e.logger.Info("sender identity or permission changed, forcing resubscribe")
		e.mu.Lock()
		e.pendingResubscribe = true
		e.mu.Unlock()
	}
}

func (e *Engine) peekPendingResubscribe() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingResubscribe
}

func (e *Engine) takePendingResubscribe() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	pending := e.pendingResubscribe
	e.pendingResubscribe = false
	return pending
}

// DefaultProcess evaluates the permission x registration x flags state
// machine once and issues the single action it calls for, if any.
func (e *Engine) DefaultProcess(ctx context.Context) error {
	permission, err := e.service.GetPermission(ctx)
	if err != nil {
		return fmt.Errorf("engine: read permission: %w", err)
	}
	registered, err := e.IsDeviceRegistered(ctx, true)
	if err != nil {
		e.logger.Error("registration status check failed", slog.Any("error", err))
	}

	switch permission {
	case driver.PermissionDefault:
		e.bus.Emit(ctx, events.NewEvent(events.PermissionDefault, nil))
		if registered {
			return e.Unsubscribe(ctx)
		}
	case driver.PermissionDenied:
		e.bus.Emit(ctx, events.NewEvent(events.PermissionDenied, nil))
		if registered {
			return e.Unsubscribe(ctx)
		}
	case driver.PermissionGranted:
		e.bus.Emit(ctx, events.NewEvent(events.PermissionGranted, nil))
		manually, err := e.params.ManuallyUnsubscribed(ctx)
		if err != nil {
			return fmt.Errorf("engine: read manual-unsubscribe flag: %w", err)
		}
		switch {
		case manually && registered:
			return e.Unsubscribe(ctx)
		case (!registered && !manually) || e.peekPendingResubscribe():
			return e.Subscribe(ctx, true)
		}
	}
	return nil
}

// Subscribe runs the user-facing subscribe flow. With permission still
// undecided it shows the permission dialog strictly before the native prompt
// and hides it strictly after the prompt resolves. force makes the native
// subscribe happen even when the registration cache says it is not needed.
func (e *Engine) Subscribe(ctx context.Context, force bool) error {
	disabled, err := e.params.CommunicationDisabled(ctx)
	if err != nil {
		return fmt.Errorf("engine: read communication-disabled flag: %w", err)
	}
	if disabled {
		e.logger.Error("subscribe rejected: communication is disabled")
		return nil
	}

	permission, err := e.service.GetPermission(ctx)
	if err != nil {
		return fmt.Errorf("engine: read permission: %w", err)
	}

	if permission == driver.PermissionDefault {
		e.bus.Emit(ctx, events.NewEvent(events.ShowPermissionDialog, nil))
		permission, err = e.service.AskPermission(ctx)
		e.bus.Emit(ctx, events.NewEvent(events.HidePermissionDialog,
			permissionPayload{Permission: string(permission)}))
		if err != nil {
			return fmt.Errorf("engine: ask permission: %w", err)
		}
	}

	switch permission {
	case driver.PermissionGranted:
		return e.subscribeGranted(ctx, force)
	case driver.PermissionDenied:
		e.bus.Emit(ctx, events.NewEvent(events.PermissionDenied, nil))
		registered, err := e.IsDeviceRegistered(ctx, true)
		if err != nil {
			return err
		}
		if registered {
			return e.Unsubscribe(ctx)
		}
	default:
		// Prompt dismissed without a decision.
		e.bus.Emit(ctx, events.NewEvent(events.PermissionDefault, nil))
	}
	return nil
}

func (e *Engine) subscribeGranted(ctx context.Context, force bool) error {
	registered, err := e.IsDeviceRegistered(ctx, true)
	if err != nil {
		e.logger.Error("registration status check failed", slog.Any("error", err))
	}
	manually, err := e.params.ManuallyUnsubscribed(ctx)
	if err != nil {
		return fmt.Errorf("engine: read manual-unsubscribe flag: %w", err)
	}

	// A stale sender identity invalidates the native subscription, so the
	// old one is torn down before the fresh subscribe. This runs at most
	// once per detected change.
	if e.takePendingResubscribe() {
		if err := e.service.Unsubscribe(ctx); err != nil {
			e.logger.Error("stale subscription teardown failed", slog.Any("error", err))
		}
		force = true
	}

	needNative := force || (!registered && !manually)
	if !needNative {
		tokens, err := e.service.GetTokens(ctx)
		if err != nil {
			return fmt.Errorf("engine: read tokens: %w", err)
		}
		needNative = tokens.Empty()
	}
	if needNative {
		if err := e.service.Subscribe(ctx); err != nil {
			if errors.Is(err, driver.ErrPermissionNotGranted) {
				// Raced a permission change; a no-op, not a crash.
				e.logger.Error("subscribe rejected: permission not granted")
				return nil
			}
			return fmt.Errorf("engine: native subscribe: %w", err)
		}
	}

	tokens, err := e.service.GetTokens(ctx)
	if err != nil {
		return fmt.Errorf("engine: read tokens: %w", err)
	}
	if err := e.remote.RegisterDevice(ctx, tokens); err != nil {
		return fmt.Errorf("engine: register device: %w", err)
	}
	if err := e.params.SetRegistrationStatus(ctx, models.StatusRegistered); err != nil {
		return fmt.Errorf("engine: persist registration status: %w", err)
	}
	e.bus.Emit(ctx, events.NewEvent(events.Register, nil))
	e.bus.Emit(ctx, events.NewEvent(events.Subscribe, nil))
	return nil
}

// Unsubscribe tears down the subscription end to end: native unsubscribe,
// token wipe, manual-unsubscribe flag, remote unregister, status cache.
// Safe to repeat.
func (e *Engine) Unsubscribe(ctx context.Context) error {
	if err := e.service.Unsubscribe(ctx); err != nil {
		return fmt.Errorf("engine: unsubscribe: %w", err)
	}
	if err := e.params.SetRegistrationStatus(ctx, models.StatusUnregistered); err != nil {
		return fmt.Errorf("engine: persist registration status: %w", err)
	}
	e.bus.Emit(ctx, events.NewEvent(events.Unsubscribe, nil))
	return nil
}

// IsDeviceRegistered reports the registration status, from the local cache
// when useCache is set and the cache holds a value, otherwise from an
// authoritative checkDevice call whose answer refreshes the cache.
func (e *Engine) IsDeviceRegistered(ctx context.Context, useCache bool) (bool, error) {
	if useCache {
		status, err := e.params.RegistrationStatus(ctx)
		if err != nil {
			return false, fmt.Errorf("engine: read registration status: %w", err)
		}
		if status != "" {
			return status == models.StatusRegistered, nil
		}
	}

	registered, err := e.remote.CheckDevice(ctx)
	if err != nil {
		return false, fmt.Errorf("engine: checkDevice: %w", err)
	}
	status := models.StatusUnregistered
	if registered {
		status = models.StatusRegistered
	}
	if err := e.params.SetRegistrationStatus(ctx, status); err != nil {
		return registered, fmt.Errorf("engine: persist registration status: %w", err)
	}
	return registered, nil
}

// SetCommunicationEnabled toggles the communication kill switch. Disabling
// unregisters a registered device; enabling re-runs the subscribe flow.
func (e *Engine) SetCommunicationEnabled(ctx context.Context, enabled bool) error {
	if err := e.params.SetCommunicationDisabled(ctx, !enabled); err != nil {
		return fmt.Errorf("engine: persist communication flag: %w", err)
	}

	if !enabled {
		registered, err := e.IsDeviceRegistered(ctx, true)
		if err != nil {
			return err
		}
		if registered {
			if err := e.remote.UnregisterDevice(ctx); err != nil {
				return fmt.Errorf("engine: unregister device: %w", err)
			}
			if err := e.params.SetRegistrationStatus(ctx, models.StatusUnregistered); err != nil {
				return fmt.Errorf("engine: persist registration status: %w", err)
			}
		}
	} else if err := e.Subscribe(ctx, false); err != nil {
		return err
	}

	e.bus.Emit(ctx, events.NewEvent(events.SubscriptionChanged,
		map[string]bool{"enabled": enabled}))
	return nil
}

// RemoveAllDeviceData deletes the device remotely, wipes local state and
// sets the drop-all-data flag so later Initialize calls refuse to run.
func (e *Engine) RemoveAllDeviceData(ctx context.Context) error {
	if err := e.remote.DeleteDevice(ctx); err != nil {
		return fmt.Errorf("engine: delete device: %w", err)
	}
	if err := e.params.ClearAll(ctx); err != nil {
		return fmt.Errorf("engine: wipe state: %w", err)
	}
	if err := e.params.SetDropAllData(ctx, true); err != nil {
		return fmt.Errorf("engine: persist drop-all-data flag: %w", err)
	}
	return nil
}

// SetTags forwards tag values to the provider.
func (e *Engine) SetTags(ctx context.Context, tags map[string]interface{}) error {
	if err := e.remote.SetTags(ctx, tags); err != nil {
		return fmt.Errorf("engine: set tags: %w", err)
	}
	return nil
}

// GetTags reads the device's tag values from the provider.
func (e *Engine) GetTags(ctx context.Context) (map[string]interface{}, error) {
	tags, err := e.remote.GetTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: get tags: %w", err)
	}
	return tags, nil
}

// RegisterUser ties a user id to this device, locally and remotely.
func (e *Engine) RegisterUser(ctx context.Context, userID string) error {
	if err := e.params.SetUserID(ctx, userID); err != nil {
		return fmt.Errorf("engine: persist user id: %w", err)
	}
	if err := e.remote.RegisterUser(ctx, userID); err != nil {
		return fmt.Errorf("engine: register user: %w", err)
	}
	return nil
}

// PostEvent sends a custom analytics event.
func (e *Engine) PostEvent(ctx context.Context, event string, attributes map[string]interface{}) error {
	if err := e.remote.PostEvent(ctx, event, attributes); err != nil {
		return fmt.Errorf("engine: post event: %w", err)
	}
	return nil
}

// replayDelayedEvent hands a click parked by the worker while no page was
// open back to the freshly started page.
func (e *Engine) replayDelayedEvent(ctx context.Context) {
	delayed, ok, err := e.params.TakeDelayedEvent(ctx)
	if err != nil {
		e.logger.Error("delayed event read failed", slog.Any("error", err))
		return
	}
	if !ok {
		return
	}
	e.bus.Emit(ctx, events.Event{Type: events.Name(delayed.Type), Payload: delayed.Payload})
}
