package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vouse/vouse-server/internal/config"
	"github.com/vouse/vouse-server/internal/models"
)

// Notification is one push message fanned out to a user's devices.
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type deviceStore interface {
	ListForUser(ctx context.Context, userID string) ([]*models.DeviceToken, error)
	DeleteByToken(ctx context.Context, token string) error
}

// Dispatcher delivers push notifications through an FCM-style HTTP endpoint.
// Without a server key it degrades to a no-op so the rest of the pipeline
// runs unchanged in environments with no push provider.
type Dispatcher struct {
	serverKey  string
	endpoint   string
	devices    deviceStore
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDispatcher creates a new push dispatcher.
func NewDispatcher(cfg config.PushConfig, devices deviceStore, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		serverKey: cfg.ServerKey,
		endpoint:  cfg.Endpoint,
		devices:   devices,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Enabled reports whether a push provider is configured.
func (d *Dispatcher) Enabled() bool {
	return d.serverKey != ""
}

type providerRequest struct {
	To           string            `json:"to"`
	Notification Notification      `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type providerResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		Error string `json:"error"`
	} `json:"results"`
}

// Send fans the notification out to every device the user has registered.
// Tokens the provider reports as dead are pruned so future sends shrink to
// the live set. Per-device failures are logged, not propagated: one broken
// device must not fail the whole fan-out.
func (d *Dispatcher) Send(ctx context.Context, userID string, n Notification) error {
	if !d.Enabled() {
		d.logger.Debug("push dispatch skipped, no server key configured", "user_id", userID)
		return nil
	}

	tokens, err := d.devices.ListForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list device tokens: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	delivered := 0
	for _, device := range tokens {
		if err := d.sendOne(ctx, device.Token, n); err != nil {
			d.logger.Warn("push delivery failed",
				"user_id", userID,
				"platform", device.Platform,
				"error", err)
			continue
		}
		delivered++
	}

	d.logger.Info("push notification dispatched",
		"user_id", userID,
		"devices", len(tokens),
		"delivered", delivered)
	return nil
}

func (d *Dispatcher) sendOne(ctx context.Context, token string, n Notification) error {
	body, err := json.Marshal(providerRequest{
		To:           token,
		Notification: n,
		Data:         n.Data,
	})
	if err != nil {
		return fmt.Errorf("encode push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+d.serverKey)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push provider request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read push response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push provider returned status %d", resp.StatusCode)
	}

	var parsed providerResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("parse push response: %w", err)
	}

	for _, result := range parsed.Results {
		switch result.Error {
		case "":
		case "NotRegistered", "InvalidRegistration":
			if err := d.devices.DeleteByToken(ctx, token); err != nil {
				d.logger.Warn("failed to prune dead device token", "error", err)
			}
			return fmt.Errorf("token no longer registered")
		default:
			return fmt.Errorf("push provider error: %s", result.Error)
		}
	}
	return nil
}
