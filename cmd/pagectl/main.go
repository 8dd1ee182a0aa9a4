// pagectl is the page-context CLI: it runs the reconciliation engine against
// the shared KV store, the same store the worker daemon reads, and exposes
// the SDK's user-facing operations as subcommands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Pushwoosh/web-push-notifications-sub000/internal/api"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/config"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/driver"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/engine"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/events"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/inbox"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/params"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/storage"
	"github.com/Pushwoosh/web-push-notifications-sub000/pkg/logger"
)

const usage = `usage: pagectl <command> [args]

commands:
  init                      run the initialization sequence
  subscribe                 initialize and subscribe for push
  unsubscribe               initialize and unsubscribe
  tags set key=value ...    overwrite tag values
  tags get                  print tag values
  user <id>                 tie a user id to this device
  event <name> [key=value]  send a custom event
  communication on|off      toggle the communication kill switch
  inbox list                print inbox messages
  inbox read|open|delete <id>
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logr := logger.Component(logger.New(cfg.LogLevel), "page")

	ctx := context.Background()
	app, err := setup(ctx, cfg, logr)
	if err != nil {
		logr.Error("setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer app.kv.Close()

	if err := app.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		logr.Error("command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

type pagectl struct {
	cfg    *config.Config
	kv     storage.Store
	engine *engine.Engine
	inbox  *inbox.Service
	logger *slog.Logger
}

func setup(ctx context.Context, cfg *config.Config, logr *slog.Logger) (*pagectl, error) {
	var kv storage.Store
	if cfg.RedisURL != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		kv = storage.NewRedis(rdb)
	} else {
		var err error
		kv, err = storage.NewFile(cfg.StorageDir)
		if err != nil {
			return nil, err
		}
	}

	paramStore, err := params.Open(ctx, kv)
	if err != nil {
		return nil, err
	}
	apiClient := api.New(paramStore, cfg.APIEntrypoint, cfg.APITimeout, logr)

	pushService, err := driver.Detect(driver.Capabilities{
		Permissions: &localPermissions{kv: kv},
		PushManager: &localPushManager{kv: kv},
	}, driver.Deps{
		Params:           paramStore,
		API:              apiClient,
		Relay:            driver.NewFCMRelay(cfg.FCMEndpoint, cfg.APITimeout),
		Logger:           logr,
		SafariSigningKey: []byte(cfg.SafariSigningKey),
	})
	if err != nil {
		return nil, err
	}

	var inboxStore inbox.Store
	if cfg.DatabaseURL != "" {
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		inboxStore, err = inbox.NewPostgresStore(db, cfg.InboxTable)
		if err != nil {
			return nil, err
		}
	} else {
		inboxStore = inbox.NewMemoryStore()
	}
	inboxSvc := inbox.NewService(inboxStore, apiClient, logr)

	bus := events.NewBus(logr)
	logLifecycleEvents(bus, logr)

	return &pagectl{
		cfg:    cfg,
		kv:     kv,
		engine: engine.New(paramStore, pushService, apiClient, bus, nil, inboxSvc, logr),
		inbox:  inboxSvc,
		logger: logr,
	}, nil
}

// logLifecycleEvents surfaces the engine's event stream on the CLI.
func logLifecycleEvents(bus *events.Bus, logr *slog.Logger) {
	for _, name := range []events.Name{
		events.Ready, events.PermissionDefault, events.PermissionDenied,
		events.PermissionGranted, events.ShowPermissionDialog,
		events.HidePermissionDialog, events.Subscribe, events.Unsubscribe,
		events.Register, events.NotificationClick, events.InboxUpdate,
		events.SubscriptionChanged, events.InitializeError,
	} {
		bus.Subscribe(name, func(_ context.Context, event events.Event) {
			logr.Info("event", slog.String("type", string(event.Type)),
				slog.String("payload", string(event.Payload)))
		})
	}
}

func (p *pagectl) initOptions() engine.InitOptions {
	return engine.InitOptions{
		ApplicationCode: p.cfg.ApplicationCode,
		DeviceModel:     p.cfg.DeviceModel,
		Language:        p.cfg.Language,
		UserID:          p.cfg.UserID,
	}
}

func (p *pagectl) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "init":
		return p.engine.Initialize(ctx, p.initOptions())

	case "subscribe":
		if err := p.engine.Initialize(ctx, p.initOptions()); err != nil {
			return err
		}
		return p.engine.Subscribe(ctx, false)

	case "unsubscribe":
		if err := p.engine.Initialize(ctx, p.initOptions()); err != nil {
			return err
		}
		return p.engine.Unsubscribe(ctx)

	case "tags":
		return p.runTags(ctx, args)

	case "user":
		if len(args) != 1 {
			return fmt.Errorf("usage: pagectl user <id>")
		}
		return p.engine.RegisterUser(ctx, args[0])

	case "event":
		if len(args) < 1 {
			return fmt.Errorf("usage: pagectl event <name> [key=value ...]")
		}
		return p.engine.PostEvent(ctx, args[0], parseAttributes(args[1:]))

	case "communication":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return fmt.Errorf("usage: pagectl communication on|off")
		}
		return p.engine.SetCommunicationEnabled(ctx, args[0] == "on")

	case "inbox":
		return p.runInbox(ctx, args)

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func (p *pagectl) runTags(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: pagectl tags set|get")
	}
	switch args[0] {
	case "set":
		tags := parseAttributes(args[1:])
		if len(tags) == 0 {
			return fmt.Errorf("usage: pagectl tags set key=value ...")
		}
		return p.engine.SetTags(ctx, tags)
	case "get":
		tags, err := p.engine.GetTags(ctx)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(tags)
	default:
		return fmt.Errorf("unknown tags subcommand %q", args[0])
	}
}

func (p *pagectl) runInbox(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: pagectl inbox list|read|open|delete")
	}
	// Pull the server-side inbox in before acting on it.
	if err := p.inbox.Sync(ctx); err != nil {
		p.logger.Warn("inbox sync failed", slog.Any("error", err))
	}

	switch args[0] {
	case "list":
		messages, err := p.inbox.LoadMessages(ctx)
		if err != nil {
			return err
		}
		unread, err := p.inbox.UnreadCount(ctx)
		if err != nil {
			return err
		}
		for _, message := range messages {
			marker := " "
			if !message.IsRead() {
				marker = "*"
			}
			fmt.Printf("%s %-24s %s\n", marker, message.InboxID, message.Title)
		}
		fmt.Printf("%d unread\n", unread)
		return nil
	case "read", "open", "delete":
		if len(args) != 2 {
			return fmt.Errorf("usage: pagectl inbox %s <id>", args[0])
		}
		switch args[0] {
		case "read":
			return p.inbox.MarkRead(ctx, args[1])
		case "open":
			return p.inbox.MarkOpen(ctx, args[1])
		default:
			return p.inbox.Delete(ctx, args[1])
		}
	default:
		return fmt.Errorf("unknown inbox subcommand %q", args[0])
	}
}

func parseAttributes(pairs []string) map[string]interface{} {
	attributes := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		attributes[key] = value
	}
	return attributes
}
