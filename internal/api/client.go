// Package api maps reconciliation intents to provider HTTP calls. Every call
// is a stateless request/response pair; failures are returned to the caller
// and never retried here.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Pushwoosh/web-push-notifications-sub000/internal/models"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/params"
)

// DefaultEntrypoint is used until the provider hints a closer base URL.
const DefaultEntrypoint = "https://cp.pushwoosh.com/json/1.3/"

// RequestError carries the transport or payload status detail of a failed
// provider call.
type RequestError struct {
	Method        string
	HTTPStatus    int
	StatusCode    int
	StatusMessage string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("api %s: http %d, status %d: %s",
		e.Method, e.HTTPStatus, e.StatusCode, e.StatusMessage)
}

type envelope struct {
	Request map[string]interface{} `json:"request"`
}

type reply struct {
	StatusCode    int             `json:"status_code"`
	StatusMessage string          `json:"status_message"`
	Response      json.RawMessage `json:"response"`
	BaseURL       string          `json:"base_url"`
}

// Client talks to the provider API on behalf of one device.
type Client struct {
	params *params.Store
	client *http.Client
	logger *slog.Logger

	mu         sync.Mutex
	entrypoint string
}

// New builds a client. entrypoint overrides the default base URL; a value
// previously persisted from a base_url hint wins over both.
func New(paramStore *params.Store, entrypoint string, timeout time.Duration, logger *slog.Logger) *Client {
	if entrypoint == "" {
		entrypoint = DefaultEntrypoint
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		params: paramStore,
		client: &http.Client{
			Timeout: timeout,
		},
		logger:     logger,
		entrypoint: entrypoint,
	}
}

// Entrypoint returns the base URL in use, preferring a persisted hint.
func (c *Client) Entrypoint(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored, err := c.params.APIEntrypoint(ctx)
	if err == nil && stored != "" {
		c.entrypoint = stored
	}
	return c.entrypoint
}

func (c *Client) migrateEntrypoint(ctx context.Context, baseURL string) {
	c.mu.Lock()
	if baseURL == c.entrypoint {
		c.mu.Unlock()
		return
	}
	c.entrypoint = baseURL
	c.mu.Unlock()
	if err := c.params.SetAPIEntrypoint(ctx, baseURL); err != nil {
		c.logger.Error("failed to persist api entrypoint", slog.Any("error", err))
	}
	c.logger.Info("api entrypoint migrated", slog.String("base_url", baseURL))
}

func (c *Client) baseRequest(ctx context.Context) (map[string]interface{}, error) {
	code, err := c.params.ApplicationCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("read application code: %w", err)
	}
	hwid, err := c.params.HWID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read hwid: %w", err)
	}
	deviceType, err := c.params.DeviceType(ctx)
	if err != nil {
		return nil, fmt.Errorf("read device type: %w", err)
	}
	model, err := c.params.DeviceModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("read device model: %w", err)
	}
	language, err := c.params.Language(ctx)
	if err != nil {
		return nil, fmt.Errorf("read language: %w", err)
	}
	userID, err := c.params.UserID(ctx)
	if err != nil {
		return nil, fmt.Errorf("read user id: %w", err)
	}

	_, offset := time.Now().Zone()
	request := map[string]interface{}{
		"application":  code,
		"hwid":         hwid,
		"device_type":  deviceType,
		"device_model": model,
		"language":     language,
		"v":            models.SDKVersion,
		"timezone":     offset,
	}
	if userID != "" {
		request["userId"] = userID
	}
	return request, nil
}

func (c *Client) call(ctx context.Context, method string, fields map[string]interface{}) (json.RawMessage, error) {
	request, err := c.baseRequest(ctx)
	if err != nil {
		return nil, err
	}
	for key, value := range fields {
		request[key] = value
	}

	body, err := json.Marshal(envelope{Request: request})
	if err != nil {
		return nil, fmt.Errorf("api %s: encode request: %w", method, err)
	}

	url := strings.TrimSuffix(c.Entrypoint(ctx), "/") + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("api %s: build request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api %s: %w", method, err)
	}
	defer resp.Body.Close()

	var decoded reply
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("api %s: decode response: %w", method, err)
	}

	if resp.StatusCode != http.StatusOK || decoded.StatusCode != http.StatusOK {
		return nil, &RequestError{
			Method:        method,
			HTTPStatus:    resp.StatusCode,
			StatusCode:    decoded.StatusCode,
			StatusMessage: decoded.StatusMessage,
		}
	}

	if decoded.BaseURL != "" {
		c.migrateEntrypoint(ctx, decoded.BaseURL)
	}
	return decoded.Response, nil
}
