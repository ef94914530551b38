package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"iapBack/internal/models"
)

// Dispatcher picks the provider for a platform tag.
type Dispatcher struct {
	providers map[models.Platform]Provider
}

func NewDispatcher(providers ...Provider) *Dispatcher {
	d := &Dispatcher{providers: make(map[models.Platform]Provider, len(providers))}
	for _, p := range providers {
		if p != nil {
			d.providers[p.Platform()] = p
		}
	}
	return d
}

func (d *Dispatcher) Provider(platform models.Platform) (Provider, error) {
	p, ok := d.providers[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedPlatform, platform)
	}
	return p, nil
}

// Store is the Database contract plus the reads the background jobs need.
type Store interface {
	Database
	GetPurchasesToRefresh(ctx context.Context) ([]models.Purchase, error)
	GetReceiptByID(ctx context.Context, id string) (*models.Receipt, error)
}

// VoidedPurchaseSource applies and lists Play refund signals.
type VoidedPurchaseSource interface {
	ApplyVoidedPurchase(ctx context.Context, v models.GoogleVoidedPurchase) (*models.Purchase, *models.Purchase, error)
	ListVoidedPurchases(ctx context.Context, since time.Time) ([]models.GoogleVoidedPurchase, error)
}

// Acknowledger confirms Play purchases after they were recorded.
type Acknowledger interface {
	Acknowledge(ctx context.Context, gr *models.GoogleReceipt) error
}

type IAPDeps struct {
	Dispatcher *Dispatcher
	Reconciler *ReconcileService
	Store      Store

	Notifier     EventNotifier
	Archiver     ReceiptArchiver
	Voided       VoidedPurchaseSource
	Acknowledger Acknowledger

	Logger        Logger
	NotifyTimeout time.Duration
}

func (d IAPDeps) Validate() error {
	if d.Dispatcher == nil {
		return errors.New("iap: dispatcher is required")
	}
	if d.Reconciler == nil {
		return errors.New("iap: reconciler is required")
	}
	if d.Store == nil {
		return errors.New("iap: store is required")
	}
	return nil
}

// IAPService runs the validate, parse, reconcile and notify pipeline.
type IAPService struct {
	deps IAPDeps
	log  Logger
}

func NewIAPService(deps IAPDeps) (*IAPService, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	if deps.NotifyTimeout <= 0 {
		deps.NotifyTimeout = 15 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &IAPService{deps: deps, log: logger}, nil
}

type ProcessTokenRequest struct {
	Platform     models.Platform
	Token        string
	Sku          string
	IncludeNewer bool
	UserID       string
	SyncUserID   bool
}

// Validate returns the raw provider payload for a token without storing it.
func (s *IAPService) Validate(ctx context.Context, platform models.Platform, token, sku string) (models.RawReceipt, error) {
	provider, err := s.deps.Dispatcher.Provider(platform)
	if err != nil {
		return nil, err
	}
	return provider.Validate(ctx, token, sku)
}

// ProcessToken validates a token with its store, records the result and
// publishes the resulting event.
func (s *IAPService) ProcessToken(ctx context.Context, req ProcessTokenRequest) (models.PurchaseEvent, error) {
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		return models.PurchaseEvent{}, errors.New("iap: token is required")
	}
	provider, err := s.deps.Dispatcher.Provider(req.Platform)
	if err != nil {
		return models.PurchaseEvent{}, err
	}

	raw, err := provider.Validate(ctx, req.Token, req.Sku)
	if err != nil {
		return models.PurchaseEvent{}, err
	}
	parsed, err := provider.ParseReceipt(ctx, raw, req.Token, req.Sku, req.IncludeNewer)
	if err != nil {
		return models.PurchaseEvent{}, fmt.Errorf("iap: parse %s receipt: %w", req.Platform, err)
	}
	if len(parsed.Purchases) == 0 {
		return models.PurchaseEvent{}, models.ErrEmptyReceipt
	}

	event, err := s.deps.Reconciler.ProcessParsedReceipt(ctx, parsed, req.UserID, req.SyncUserID)
	if err != nil {
		return models.PurchaseEvent{}, err
	}

	if s.deps.Archiver != nil {
		if err := s.deps.Archiver.Archive(ctx, parsed.Receipt); err != nil {
			s.log.Errorf("[IAP] archive receipt %s: %v", parsed.Receipt.Hash, err)
		}
	}
	if gr, ok := raw.(*models.GoogleReceipt); ok && s.deps.Acknowledger != nil {
		if err := s.deps.Acknowledger.Acknowledge(ctx, gr); err != nil {
			s.log.Errorf("[IAP] acknowledge order %s: %v", event.Data.OrderID, err)
		}
	}

	s.Publish(event)
	return event, nil
}

// ProcessVoidedPurchase applies a Play refund signal. It returns nil when the
// order is unknown.
func (s *IAPService) ProcessVoidedPurchase(ctx context.Context, v models.GoogleVoidedPurchase) (*models.PurchaseEvent, error) {
	if s.deps.Voided == nil {
		return nil, &models.NotImplementedError{Operation: "voided purchases without a google provider"}
	}
	existing, err := s.deps.Store.GetPurchaseByOrderID(ctx, models.PlatformAndroid, v.OrderID)
	if err != nil {
		return nil, fmt.Errorf("iap: voided order %s: %w", v.OrderID, err)
	}
	if existing == nil {
		return nil, nil
	}

	unlock, err := s.deps.Reconciler.locker.Lock(ctx, existing.ChainKey())
	if err != nil {
		return nil, fmt.Errorf("iap: lock %s: %w", existing.ChainKey(), err)
	}
	defer unlock()

	previous, updated, err := s.deps.Voided.ApplyVoidedPurchase(ctx, v)
	if err != nil || updated == nil {
		return nil, err
	}
	event := models.PurchaseEvent{Type: models.EventNoChange, Data: *updated}
	if !previous.IsRefunded && updated.IsRefunded {
		event.Type = models.EventRefund
	}
	s.Publish(event)
	return &event, nil
}

// RefreshSubscriptions re-validates the latest purchase of every chain that is
// still active or renewing. Failures are logged per chain.
func (s *IAPService) RefreshSubscriptions(ctx context.Context) (int, error) {
	purchases, err := s.deps.Store.GetPurchasesToRefresh(ctx)
	if err != nil {
		return 0, fmt.Errorf("iap: purchases to refresh: %w", err)
	}
	refreshed := 0
	for _, p := range purchases {
		if err := ctx.Err(); err != nil {
			return refreshed, err
		}
		receipt, err := s.deps.Store.GetReceiptByID(ctx, p.ReceiptID)
		if err != nil {
			s.log.Errorf("[IAP] refresh %s: receipt %s: %v", p.OrderID, p.ReceiptID, err)
			continue
		}
		if receipt == nil {
			continue
		}
		_, err = s.ProcessToken(ctx, ProcessTokenRequest{
			Platform:     p.Platform,
			Token:        receipt.Token,
			Sku:          p.ProductSku,
			IncludeNewer: true,
		})
		if err != nil {
			s.log.Errorf("[IAP] refresh %s: %v", p.OrderID, err)
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

// PollVoidedPurchases applies every Play refund reported since the given time.
func (s *IAPService) PollVoidedPurchases(ctx context.Context, since time.Time) (int, error) {
	if s.deps.Voided == nil {
		return 0, nil
	}
	voided, err := s.deps.Voided.ListVoidedPurchases(ctx, since)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, v := range voided {
		event, err := s.ProcessVoidedPurchase(ctx, v)
		if err != nil {
			s.log.Errorf("[IAP] voided order %s: %v", v.OrderID, err)
			continue
		}
		if event != nil && event.Type == models.EventRefund {
			applied++
		}
	}
	return applied, nil
}

// Publish hands the event to the notifiers in the background. no_change
// events are dropped and delivery errors are only logged.
func (s *IAPService) Publish(event models.PurchaseEvent) {
	if event.Type == models.EventNoChange || s.deps.Notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.deps.NotifyTimeout)
		defer cancel()
		if err := s.deps.Notifier.Notify(ctx, event); err != nil {
			s.log.Errorf("[WEBHOOK] deliver %s for order %s: %v", event.Type, event.Data.OrderID, err)
		}
	}()
}
