package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Pushwoosh/web-push-notifications-sub000/internal/bridge"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/events"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/inbox"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/models"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/params"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/payload"
	"github.com/Pushwoosh/web-push-notifications-sub000/pkg/metrics"
)

// MessageLog is the append-only log of delivered pushes.
const MessageLog = "messages"

// ShowOptions is what gets handed to the native notification surface.
type ShowOptions struct {
	Code     string
	Title    string
	Body     string
	Icon     string
	Image    string
	Buttons  []payload.Button
	Tag      string
	Duration int
}

// Notifier is the native notification surface.
type Notifier interface {
	ShowNotification(ctx context.Context, options ShowOptions) error
	CloseNotification(ctx context.Context, code string) error
}

// Acker is the provider acknowledgement surface. Satisfied by api.Client.
type Acker interface {
	MessageDeliveryEvent(ctx context.Context, hash string) error
	PushStat(ctx context.Context, hash string) error
}

// PageClients is the attached-page surface. Satisfied by bridge.Hub.
type PageClients interface {
	Broadcast(event events.Event)
	Clients() []bridge.ClientInfo
	HasClients() bool
	Focus(id string) error
	CanOpenWindow() bool
	OpenWindow(url string) error
}

// ClickEvent is the payload broadcast for notification clicks and stored in
// the delayed-event slot.
type ClickEvent struct {
	Code        string          `json:"code"`
	URL         string          `json:"url"`
	MessageHash string          `json:"messageHash,omitempty"`
	CustomData  json.RawMessage `json:"customData,omitempty"`
}

// Pipeline handles the worker's push, notificationclick and
// notificationclose events.
type Pipeline struct {
	workerCtx *Context
	notifier  Notifier
	pages     PageClients
	acker     Acker
	inbox     *inbox.Service
	logStore  LogStore
	params    *params.Store
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// LogStore is the slice of the KV store the pipeline appends to.
type LogStore interface {
	Append(ctx context.Context, log string, entry []byte) error
}

// New wires the pipeline. inboxService may be nil when no inbox store is
// configured.
func New(workerCtx *Context, notifier Notifier, pages PageClients, acker Acker,
	inboxService *inbox.Service, logStore LogStore, paramStore *params.Store,
	collector *metrics.Metrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		workerCtx: workerCtx,
		notifier:  notifier,
		pages:     pages,
		acker:     acker,
		inbox:     inboxService,
		logStore:  logStore,
		params:    paramStore,
		metrics:   collector,
		logger:    logger,
	}
}

// HandlePush runs the delivery fan-out for one inbound push. Every concern
// runs concurrently; the call returns only when all of them finished, which
// is what keeps the worker alive for their duration. A failed
// acknowledgement or inbox write never stops the notification from showing.
func (p *Pipeline) HandlePush(ctx context.Context, raw []byte) error {
	p.metrics.IncPushReceived()

	notification, err := payload.Parse(raw, p.workerCtx.DefaultTitle)
	if err != nil {
		return fmt.Errorf("delivery: %w", err)
	}
	tag, err := payload.EncodeTag(notification)
	if err != nil {
		return fmt.Errorf("delivery: %w", err)
	}

	var wg sync.WaitGroup
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				p.logger.Error("push delivery step failed",
					slog.String("step", name),
					slog.String("code", notification.Code),
					slog.Any("error", err))
			}
		}()
	}

	run("show", func() error {
		if err := p.notifier.ShowNotification(ctx, ShowOptions{
			Code:     notification.Code,
			Title:    notification.Title,
			Body:     notification.Body,
			Icon:     notification.Icon,
			Image:    notification.Image,
			Buttons:  notification.Buttons,
			Tag:      tag,
			Duration: notification.Duration,
		}); err != nil {
			return err
		}
		p.metrics.IncNotificationShown()
		return nil
	})

	run("log", func() error {
		entry, err := json.Marshal(notification)
		if err != nil {
			return err
		}
		return p.logStore.Append(ctx, MessageLog, entry)
	})

	run("broadcast", func() error {
		p.pages.Broadcast(events.NewEvent(events.PushDelivery, notification))
		return nil
	})

	if notification.MessageHash != "" {
		hash := notification.MessageHash
		run("ack", func() error {
			if err := p.acker.MessageDeliveryEvent(ctx, hash); err != nil {
				p.metrics.IncAckFailed()
				return err
			}
			p.metrics.IncAckSent()
			return nil
		})
	}

	if notification.InboxID != "" && p.inbox != nil {
		run("inbox", func() error {
			if err := p.inbox.PutMessage(ctx, inbox.Message{
				InboxID:     notification.InboxID,
				Title:       notification.Title,
				Body:        notification.Body,
				Image:       notification.Image,
				Link:        notification.Link,
				MessageHash: notification.MessageHash,
				Status:      inbox.StatusDelivered,
			}); err != nil {
				return err
			}
			p.metrics.IncInboxUpdate()
			p.pages.Broadcast(events.NewEvent(events.InboxUpdate, map[string]string{
				"inboxId": notification.InboxID,
			}))
			return nil
		})
	}

	wg.Wait()
	return nil
}

// HandleClick processes a notificationclick: recover the click state from
// the tag, close the notification, route the window, acknowledge the open
// and broadcast it. When no page can take the event, it is parked in the
// delayed-event slot for the next page load.
func (p *Pipeline) HandleClick(ctx context.Context, code, tag string) error {
	clickTag, err := payload.ParseTag(tag)
	if err != nil {
		return fmt.Errorf("delivery click: %w", err)
	}
	p.metrics.IncClick()
	p.workerCtx.RecordClick(code)

	if err := p.notifier.CloseNotification(ctx, code); err != nil {
		p.logger.Warn("failed to close notification",
			slog.String("code", code), slog.Any("error", err))
	}

	if clickTag.URL != "" {
		matched, kind := bridge.Match(p.pages.Clients(), clickTag.URL)
		switch kind {
		case bridge.MatchFocused:
			// Already in front of the user.
		case bridge.MatchExisting:
			if err := p.pages.Focus(matched.ID); err != nil {
				p.logger.Warn("failed to focus page client",
					slog.String("client_id", matched.ID), slog.Any("error", err))
			}
		case bridge.MatchNone:
			if p.pages.CanOpenWindow() {
				if err := p.pages.OpenWindow(clickTag.URL); err != nil {
					p.logger.Warn("failed to open window",
						slog.String("url", clickTag.URL), slog.Any("error", err))
				}
			}
		}
	}

	click := ClickEvent{
		Code:        code,
		URL:         clickTag.URL,
		MessageHash: clickTag.MessageHash,
		CustomData:  clickTag.CustomData,
	}

	if !p.pages.CanOpenWindow() || !p.pages.HasClients() {
		clickPayload, err := json.Marshal(click)
		if err == nil {
			err = p.params.SetDelayedEvent(ctx, models.DelayedEvent{
				Type:    string(events.NotificationClick),
				Payload: clickPayload,
			})
		}
		if err != nil {
			p.logger.Error("failed to park delayed click event",
				slog.String("code", code), slog.Any("error", err))
		}
	}

	if clickTag.MessageHash != "" {
		if err := p.acker.PushStat(ctx, clickTag.MessageHash); err != nil {
			p.metrics.IncAckFailed()
			p.logger.Error("pushStat failed",
				slog.String("hash", clickTag.MessageHash), slog.Any("error", err))
		} else {
			p.metrics.IncAckSent()
		}
	}

	p.pages.Broadcast(events.NewEvent(events.NotificationClick, click))
	return nil
}

// HandleClose processes a notificationclose. A close that follows a click
// on the same code is implied by the click and must not double-fire.
func (p *Pipeline) HandleClose(ctx context.Context, code string) error {
	if p.workerCtx.TakeClick(code) {
		p.logger.Debug("close suppressed after click", slog.String("code", code))
		return nil
	}
	p.pages.Broadcast(events.NewEvent(events.NotificationClose, map[string]string{
		"code": code,
	}))
	return nil
}
