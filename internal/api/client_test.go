package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/Pushwoosh/web-push-notifications-sub000/internal/models"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/params"
	"github.com/Pushwoosh/web-push-notifications-sub000/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func seededParams(t *testing.T) *params.Store {
	t.Helper()
	ctx := context.Background()
	store, err := params.Open(ctx, storage.NewMemory())
	if err != nil {
		t.Fatalf("params.Open() error = %v", err)
	}
	if err := store.SetApplicationCode(ctx, "APP-1"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetHWID(ctx, "APP-1_abc"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetDeviceType(ctx, models.DeviceTypeChrome); err != nil {
		t.Fatal(err)
	}
	if err := store.SetDeviceModel(ctx, "Chrome 120"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetLanguage(ctx, "en"); err != nil {
		t.Fatal(err)
	}
	return store
}

func decodeRequest(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var envelope struct {
		Request map[string]interface{} `json:"request"`
	}
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode request envelope: %v", err)
	}
	return envelope.Request
}

func TestRegisterDeviceEnvelope(t *testing.T) {
	var got map[string]interface{}
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		got = decodeRequest(t, r)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status_code": 200, "status_message": "OK"})
	}))
	defer server.Close()

	client := New(seededParams(t), server.URL, time.Second, testLogger())
	err := client.RegisterDevice(context.Background(), models.SubscriptionTokens{
		PushToken: "tok", PublicKey: "p256", AuthToken: "auth",
	})
	if err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}

	if path != "/registerDevice" {
		t.Errorf("request path = %q, want /registerDevice", path)
	}
	for key, want := range map[string]interface{}{
		"application":  "APP-1",
		"hwid":         "APP-1_abc",
		"device_model": "Chrome 120",
		"language":     "en",
		"v":            models.SDKVersion,
		"push_token":   "tok",
		"public_key":   "p256",
		"auth_token":   "auth",
	} {
		if got[key] != want {
			t.Errorf("request[%q] = %v, want %v", key, got[key], want)
		}
	}
	if got["device_type"] != float64(models.DeviceTypeChrome) {
		t.Errorf("request[device_type] = %v, want %d", got["device_type"], models.DeviceTypeChrome)
	}
	if _, ok := got["timezone"]; !ok {
		t.Error("request is missing the timezone field")
	}
}

func TestRegisterDeviceEmptyTokenRejected(t *testing.T) {
	client := New(seededParams(t), "http://unreachable.invalid", time.Second, testLogger())
	err := client.RegisterDevice(context.Background(), models.SubscriptionTokens{})
	if !errors.Is(err, ErrEmptyPushToken) {
		t.Errorf("RegisterDevice(empty) error = %v, want ErrEmptyPushToken", err)
	}
}

func TestPayloadStatusFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status_code":    210,
			"status_message": "Application not found",
		})
	}))
	defer server.Close()

	client := New(seededParams(t), server.URL, time.Second, testLogger())
	err := client.ApplicationOpen(context.Background())
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("ApplicationOpen() error = %v, want *RequestError", err)
	}
	if reqErr.StatusCode != 210 || reqErr.StatusMessage != "Application not found" {
		t.Errorf("RequestError = %+v, want payload status detail carried", reqErr)
	}
}

func TestHTTPStatusFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status_code": 200})
	}))
	defer server.Close()

	client := New(seededParams(t), server.URL, time.Second, testLogger())
	err := client.ApplicationOpen(context.Background())
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("ApplicationOpen() error = %v, want *RequestError", err)
	}
	if reqErr.HTTPStatus != http.StatusInternalServerError {
		t.Errorf("RequestError.HTTPStatus = %d, want 500", reqErr.HTTPStatus)
	}
}

func TestBaseURLMigrationIsCachedAndPersisted(t *testing.T) {
	ctx := context.Background()
	var hintedCalls, migratedCalls int

	migrated := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		migratedCalls++
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status_code": 200})
	}))
	defer migrated.Close()

	hinting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hintedCalls++
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status_code": 200,
			"base_url":    migrated.URL,
		})
	}))
	defer hinting.Close()

	store := seededParams(t)
	client := New(store, hinting.URL, time.Second, testLogger())
	if err := client.ApplicationOpen(ctx); err != nil {
		t.Fatalf("ApplicationOpen() error = %v", err)
	}
	if err := client.ApplicationOpen(ctx); err != nil {
		t.Fatalf("ApplicationOpen(second) error = %v", err)
	}
	if hintedCalls != 1 || migratedCalls != 1 {
		t.Errorf("calls: original=%d migrated=%d, want the second call to use the hinted base_url",
			hintedCalls, migratedCalls)
	}

	// A fresh client over the same params store reuses the persisted hint
	// without re-resolving.
	fresh := New(store, hinting.URL, time.Second, testLogger())
	if got := fresh.Entrypoint(ctx); got != migrated.URL {
		t.Errorf("fresh Entrypoint() = %q, want persisted %q", got, migrated.URL)
	}
}

func TestCheckDevice(t *testing.T) {
	tests := []struct {
		name           string
		exist          bool
		pushTokenExist bool
		want           bool
	}{
		{"registered with token", true, true, true},
		{"known but token lost", true, false, false},
		{"unknown device", false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"status_code": 200,
					"response": map[string]bool{
						"exist":            tt.exist,
						"push_token_exist": tt.pushTokenExist,
					},
				})
			}))
			defer server.Close()

			client := New(seededParams(t), server.URL, time.Second, testLogger())
			got, err := client.CheckDevice(context.Background())
			if err != nil {
				t.Fatalf("CheckDevice() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CheckDevice() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetConfigSenderIdentity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status_code": 200,
			"response": map[string]interface{}{
				"features": map[string]interface{}{
					"vapid_key":                  "BNewKey",
					"gcm_sender_id":              "123456",
					"web_site_push_id":           "web.com.example",
					"default_notification_title": "Example",
				},
			},
		})
	}))
	defer server.Close()

	client := New(seededParams(t), server.URL, time.Second, testLogger())
	cfg, err := client.GetConfig(context.Background())
	if err != nil {
		t.Fatalf("GetConfig() error = %v", err)
	}
	want := models.SenderConfig{
		SenderID:             "123456",
		ApplicationServerKey: "BNewKey",
		WebSitePushID:        "web.com.example",
	}
	if cfg.Sender != want {
		t.Errorf("GetConfig() sender = %+v, want %+v", cfg.Sender, want)
	}
	if cfg.DefaultTitle != "Example" {
		t.Errorf("GetConfig() default title = %q, want Example", cfg.DefaultTitle)
	}
}
