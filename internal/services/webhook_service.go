package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"iapBack/internal/models"
)

// EventNotifier delivers purchase events to the outside world.
type EventNotifier interface {
	Notify(ctx context.Context, event models.PurchaseEvent) error
}

type WebhookConfig struct {
	Endpoint  string
	AuthToken string

	Client *http.Client
	Logger *slog.Logger
}

// WebhookNotifier POSTs events as JSON with an x-auth-token header.
type WebhookNotifier struct {
	endpoint   string
	authToken  string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewWebhookNotifier(cfg WebhookConfig) (*WebhookNotifier, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint is required")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		endpoint:   endpoint,
		authToken:  cfg.AuthToken,
		httpClient: client,
		logger:     logger,
	}, nil
}

func (n *WebhookNotifier) Notify(ctx context.Context, event models.PurchaseEvent) error {
	if event.Type == models.EventNoChange {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-auth-token", n.authToken)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook: %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	n.logger.Info("purchase webhook sent", "type", event.Type, "order_id", event.Data.OrderID)
	return nil
}

// MultiNotifier fans one event out to several notifiers.
type MultiNotifier []EventNotifier

func (m MultiNotifier) Notify(ctx context.Context, event models.PurchaseEvent) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
