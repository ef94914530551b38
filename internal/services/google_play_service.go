package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	androidpublisher "google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"iapBack/internal/models"
)

type GooglePlayConfig struct {
	PackageName        string
	ServiceAccountJSON string

	// ClientOptions replace the service account credentials when set.
	ClientOptions []option.ClientOption

	DB        Database
	Converter PriceConverter
	Logger    Logger
	Now       func() time.Time
}

type GooglePlayService struct {
	cfg       GooglePlayConfig
	svc       *androidpublisher.Service
	db        Database
	converter PriceConverter
	log       Logger
	now       func() time.Time
}

func NewGooglePlayService(cfg GooglePlayConfig) (*GooglePlayService, error) {
	cfg.PackageName = strings.TrimSpace(cfg.PackageName)
	if cfg.PackageName == "" {
		return nil, errors.New("GOOGLE_PLAY_PACKAGE_NAME is empty")
	}

	opts := cfg.ClientOptions
	if len(opts) == 0 {
		if strings.TrimSpace(cfg.ServiceAccountJSON) == "" {
			return nil, errors.New("GOOGLE_PLAY_SERVICE_ACCOUNT_JSON is empty")
		}
		opts = []option.ClientOption{
			option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)),
			option.WithScopes(androidpublisher.AndroidpublisherScope),
		}
	}

	ctx := context.Background()
	s, err := androidpublisher.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("androidpublisher.NewService: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &GooglePlayService{
		cfg:       cfg,
		svc:       s,
		db:        cfg.DB,
		converter: cfg.Converter,
		log:       logger,
		now:       now,
	}, nil
}

func (s *GooglePlayService) Platform() models.Platform { return models.PlatformAndroid }

// Validate tries the token as a one-time product first and falls back to a
// subscription when Play reports the product lookup as invalid.
func (s *GooglePlayService) Validate(ctx context.Context, token, sku string) (models.RawReceipt, error) {
	sku = strings.TrimSpace(sku)
	token = strings.TrimSpace(token)
	if sku == "" || token == "" {
		return nil, fmt.Errorf("google play: sku and purchase token are required: %w", models.ErrMissingToken)
	}

	product, err := s.svc.Purchases.Products.Get(s.cfg.PackageName, sku, token).
		Context(ctx).
		Do()
	if err == nil {
		raw, _ := json.Marshal(product)
		return &models.GoogleReceipt{
			Kind:        models.GoogleKindProduct,
			PackageName: s.cfg.PackageName,
			ProductID:   sku,
			Token:       token,
			Product:     product,
			ValidatedAt: s.now(),
			Raw:         raw,
		}, nil
	}
	if !isInvalidPurchaseError(err) {
		return nil, googleError("products.get", err)
	}

	s.log.Infof("[GOOGLE IAP] not a product purchase, retrying as subscription sku=%q", sku)
	sub, err := s.svc.Purchases.Subscriptions.Get(s.cfg.PackageName, sku, token).
		Context(ctx).
		Do()
	if err != nil {
		return nil, googleError("subscriptions.get", err)
	}
	raw, _ := json.Marshal(sub)
	return &models.GoogleReceipt{
		Kind:         models.GoogleKindSubscription,
		PackageName:  s.cfg.PackageName,
		ProductID:    sku,
		Token:        token,
		Subscription: sub,
		ValidatedAt:  s.now(),
		Raw:          raw,
	}, nil
}

func isInvalidPurchaseError(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != http.StatusBadRequest {
		return false
	}
	for _, item := range gerr.Errors {
		if item.Reason == "invalid" {
			return true
		}
	}
	return strings.Contains(strings.ToLower(gerr.Message), "invalid")
}

func googleError(call string, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("google %s: %w", call, err)
	}
	reason := ""
	if len(gerr.Errors) > 0 {
		reason = gerr.Errors[0].Reason
	}
	msg := gerr.Message
	if msg == "" {
		msg = http.StatusText(gerr.Code)
	}
	return &models.ProviderValidationError{
		Platform: models.PlatformAndroid,
		Code:     gerr.Code,
		Reason:   reason,
		Message:  "google " + call + ": " + msg,
	}
}

// ParseReceipt maps a validated Play purchase to a single purchase draft.
func (s *GooglePlayService) ParseReceipt(ctx context.Context, raw models.RawReceipt, token, sku string, includeNewer bool) (models.ParsedReceipt, error) {
	gr, ok := raw.(*models.GoogleReceipt)
	if !ok {
		return models.ParsedReceipt{}, &models.NotImplementedError{Operation: fmt.Sprintf("google parse of %T", raw)}
	}
	if sku == "" {
		sku = gr.ProductID
	}

	var (
		p   *models.Purchase
		err error
	)
	switch {
	case gr.Kind == models.GoogleKindProduct && gr.Product != nil:
		p, err = s.productPurchase(ctx, gr.Product, token, sku)
	case gr.Kind == models.GoogleKindSubscription && gr.Subscription != nil:
		p, err = s.subscriptionPurchase(ctx, gr.Subscription, token, sku, gr.ValidatedAt)
	default:
		return models.ParsedReceipt{}, &models.NotImplementedError{Operation: "google parse of kind " + string(gr.Kind)}
	}
	if err != nil {
		return models.ParsedReceipt{}, err
	}

	data := json.RawMessage(gr.Raw)
	if len(data) == 0 {
		if data, err = json.Marshal(gr); err != nil {
			return models.ParsedReceipt{}, err
		}
	}
	return models.ParsedReceipt{
		Receipt: models.Receipt{
			Hash:        models.ReceiptHash(token),
			Token:       token,
			Platform:    models.PlatformAndroid,
			ReceiptDate: p.ReceiptDate,
			Data:        data,
		},
		Purchases: []*models.Purchase{p},
	}, nil
}

func (s *GooglePlayService) productPurchase(ctx context.Context, pp *androidpublisher.ProductPurchase, token, sku string) (*models.Purchase, error) {
	purchaseDate := models.MillisTime(pp.PurchaseTimeMillis)
	p := models.NewPurchase(models.PlatformAndroid, googleOrderID(pp.OrderId, token), sku, purchaseDate, purchaseDate)
	p.IsSandbox = pp.PurchaseType != nil && *pp.PurchaseType == 0
	if pp.Quantity > 0 {
		p.Quantity = pp.Quantity
	}

	if err := s.applyPricing(ctx, p, 0, "", purchaseDate); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *GooglePlayService) subscriptionPurchase(ctx context.Context, sp *androidpublisher.SubscriptionPurchase, token, sku string, validatedAt time.Time) (*models.Purchase, error) {
	now := s.now()
	purchaseDate := models.MillisTime(sp.StartTimeMillis)
	expiry := models.MillisTime(sp.ExpiryTimeMillis)
	orderID := googleOrderID(sp.OrderId, token)

	originalOrderID, linkedOrderID := SplitGoogleOrderID(orderID)
	var linked *models.Purchase
	if sp.LinkedPurchaseToken != "" && s.db != nil {
		previous, err := s.db.GetPurchasesByReceiptHash(ctx, models.ReceiptHash(sp.LinkedPurchaseToken))
		if err != nil {
			return nil, fmt.Errorf("google play: linked purchase lookup: %w", err)
		}
		if len(previous) > 0 {
			linked = &previous[0]
			linkedOrderID = linked.OrderID
			originalOrderID = linked.OriginalOrderID
			if originalOrderID == "" {
				originalOrderID = linked.OrderID
			}
		}
	}
	if linked == nil && linkedOrderID != "" && s.db != nil {
		var err error
		if linked, err = s.db.GetPurchaseByOrderID(ctx, models.PlatformAndroid, linkedOrderID); err != nil {
			return nil, fmt.Errorf("google play: linked order lookup: %w", err)
		}
	}

	p := models.NewPurchase(models.PlatformAndroid, orderID, sku, purchaseDate, googleReceiptDate(sp, validatedAt, now)).
		AsSubscription(originalOrderID, expiry)
	p.LinkedOrderID = linkedOrderID
	p.LinkedToken = sp.LinkedPurchaseToken
	p.IsSandbox = sp.PurchaseType != nil && *sp.PurchaseType == 0

	paymentState := int64(-1)
	if sp.PaymentState != nil {
		paymentState = *sp.PaymentState
	}
	expired := !now.Before(expiry)
	pending := paymentState == models.PaymentStatePending

	p.IsTrial = paymentState == models.PaymentStateFreeTrial
	p.IsIntroOfferPeriod = p.IsTrial || sp.IntroductoryPriceInfo != nil
	p.IsSubscriptionActive = !expired
	p.IsSubscriptionRenewable = sp.AutoRenewing
	p.IsSubscriptionRetryPeriod = expired && sp.AutoRenewing && pending
	p.IsSubscriptionGracePeriod = !expired && sp.AutoRenewing && pending
	p.IsSubscriptionPaused = expired && sp.AutoRenewing && paymentState == models.PaymentStateReceived
	if p.IsSubscriptionGracePeriod {
		p.GracePeriodEndDate = models.TimePtr(expiry)
	}
	p.IsTrialConversion = linked != nil && linked.IsTrial && paymentState != models.PaymentStateFreeTrial
	p.CancellationReason = GoogleCancellationReason(sp.CancelReason, sp.CancelSurveyResult != nil)

	if err := s.applyPricing(ctx, p, sp.PriceAmountMicros, sp.PriceCurrencyCode, purchaseDate); err != nil {
		return nil, err
	}

	classifyGoogleSubscription(p, now)
	return p, nil
}

// classifyGoogleSubscription runs the shared classifier and then applies the
// paused state, which only Play reports.
func classifyGoogleSubscription(p *models.Purchase, now time.Time) {
	classifySubscription(p, now)
	if p.IsSubscriptionPaused {
		p.SubscriptionState = models.StatePaused
		p.SubscriptionStatus = SubscriptionStatus(p, now)
	}
}

// applyPricing prefers the price Play charged and converts it into the
// catalog currency when they differ.
func (s *GooglePlayService) applyPricing(ctx context.Context, p *models.Purchase, micros int64, currency string, date time.Time) error {
	product, err := lookupProduct(ctx, s.db, p.ProductSku, models.PlatformAndroid)
	if err != nil {
		return fmt.Errorf("google play: product lookup %q: %w", p.ProductSku, err)
	}
	if product != nil {
		p.ProductID = product.ID
	}

	switch {
	case micros > 0 && currency != "":
		p.WithPricing(micros/10000, currency)
	case product != nil:
		p.WithPricing(product.Price, product.Currency)
		return nil
	default:
		return nil
	}

	if product == nil || strings.EqualFold(p.Currency, product.Currency) {
		return nil
	}
	if s.converter != nil {
		converted, err := s.converter.Convert(ctx, p.Price, p.Currency, product.Currency, date)
		if err == nil {
			p.ConvertedPrice = converted
			p.ConvertedCurrency = product.Currency
			return nil
		}
		s.log.Infof("[GOOGLE IAP] price conversion %s->%s skipped order=%s: %v", p.Currency, product.Currency, p.OrderID, err)
	}
	p.ConvertedPrice = product.Price
	p.ConvertedCurrency = product.Currency
	return nil
}

// ApplyVoidedPurchase marks the stored purchase of a voided order as refunded.
// It returns the purchase before and after the change, or nils when the order
// is unknown.
func (s *GooglePlayService) ApplyVoidedPurchase(ctx context.Context, v models.GoogleVoidedPurchase) (*models.Purchase, *models.Purchase, error) {
	if v.OrderID == "" {
		return nil, nil, errors.New("google play: voided purchase without order id")
	}
	if s.db == nil {
		return nil, nil, errors.New("google play: no database configured")
	}
	existing, err := s.db.GetPurchaseByOrderID(ctx, models.PlatformAndroid, v.OrderID)
	if err != nil {
		return nil, nil, fmt.Errorf("google play: purchase lookup %q: %w", v.OrderID, err)
	}
	if existing == nil {
		s.log.Infof("[GOOGLE IAP] voided order %s is unknown, skipping", v.OrderID)
		return nil, nil, nil
	}

	previous := *existing
	next := *existing
	voidedAt := s.now()
	if v.VoidedTimeMillis > 0 {
		voidedAt = models.MillisTime(v.VoidedTimeMillis)
	}
	markRefunded(&next, voidedAt, GoogleVoidedReason(v.VoidedReason))
	if next.IsSubscription {
		classifyGoogleSubscription(&next, s.now())
	}
	if models.PurchasesEqual(previous, next) {
		return &previous, &previous, nil
	}

	updated, err := s.db.UpdatePurchase(ctx, next)
	if err != nil {
		return nil, nil, fmt.Errorf("google play: update voided purchase %q: %w", v.OrderID, err)
	}
	return &previous, updated, nil
}

func markRefunded(p *models.Purchase, at time.Time, reason models.RefundReason) {
	p.IsRefunded = true
	p.RefundDate = models.TimePtr(at)
	p.RefundReason = reason
	if !p.IsSubscription {
		return
	}
	p.IsSubscriptionActive = false
	p.IsSubscriptionRenewable = false
	p.IsSubscriptionRetryPeriod = false
	p.IsSubscriptionGracePeriod = false
	p.IsSubscriptionPaused = false
	p.CancellationReason = models.CancellationRefunded
}

// GoogleVoidedReason maps Play voidedReason codes.
func GoogleVoidedReason(code int64) models.RefundReason {
	switch code {
	case 1:
		return models.RefundRemorse
	case 2:
		return models.RefundNotReceived
	case 3:
		return models.RefundDefective
	case 4:
		return models.RefundAccidentalPurchase
	case 5:
		return models.RefundFraud
	case 6:
		return models.RefundFriendlyFraud
	case 7:
		return models.RefundChargeback
	}
	return models.RefundOther
}

// ListVoidedPurchases pages through voided products and subscriptions since
// the given time.
func (s *GooglePlayService) ListVoidedPurchases(ctx context.Context, since time.Time) ([]models.GoogleVoidedPurchase, error) {
	var out []models.GoogleVoidedPurchase
	pageToken := ""
	for {
		call := s.svc.Purchases.Voidedpurchases.List(s.cfg.PackageName).
			StartTime(since.UnixMilli()).
			Type(1).
			Context(ctx)
		if pageToken != "" {
			call = call.Token(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, googleError("voidedpurchases.list", err)
		}
		for _, v := range resp.VoidedPurchases {
			out = append(out, models.GoogleVoidedPurchase{
				OrderID:          v.OrderId,
				PurchaseToken:    v.PurchaseToken,
				VoidedTimeMillis: v.VoidedTimeMillis,
				VoidedReason:     v.VoidedReason,
				VoidedSource:     v.VoidedSource,
			})
		}
		if resp.TokenPagination == nil || resp.TokenPagination.NextPageToken == "" {
			return out, nil
		}
		pageToken = resp.TokenPagination.NextPageToken
	}
}

// Acknowledge acknowledges a purchase Play still reports as unacknowledged.
func (s *GooglePlayService) Acknowledge(ctx context.Context, gr *models.GoogleReceipt) error {
	switch {
	case gr.Product != nil && gr.Product.AcknowledgementState == 0:
		req := &androidpublisher.ProductPurchasesAcknowledgeRequest{}
		if err := s.svc.Purchases.Products.Acknowledge(gr.PackageName, gr.ProductID, gr.Token, req).
			Context(ctx).
			Do(); err != nil {
			return fmt.Errorf("google products.acknowledge: %w", err)
		}
	case gr.Subscription != nil && gr.Subscription.AcknowledgementState == 0:
		req := &androidpublisher.SubscriptionPurchasesAcknowledgeRequest{}
		if err := s.svc.Purchases.Subscriptions.Acknowledge(gr.PackageName, gr.ProductID, gr.Token, req).
			Context(ctx).
			Do(); err != nil {
			return fmt.Errorf("google subscriptions.acknowledge: %w", err)
		}
	}
	return nil
}

// SplitGoogleOrderID derives the chain root and the preceding order from the
// "..N" renewal suffix of a Play order id.
func SplitGoogleOrderID(orderID string) (original, linked string) {
	idx := strings.Index(orderID, "..")
	if idx < 0 {
		return orderID, ""
	}
	prefix := orderID[:idx]
	n, err := strconv.Atoi(orderID[idx+2:])
	if err != nil {
		return prefix, ""
	}
	if n <= 0 {
		return prefix, prefix
	}
	return prefix, prefix + ".." + strconv.Itoa(n-1)
}

// googleReceiptDate is the newest moment the payload speaks for. Play keeps
// one token for the whole chain and always answers with current state, so
// the time it was asked counts along with the dates in the payload.
func googleReceiptDate(sp *androidpublisher.SubscriptionPurchase, validatedAt, now time.Time) time.Time {
	ms := sp.StartTimeMillis
	if sp.UserCancellationTimeMillis > ms {
		ms = sp.UserCancellationTimeMillis
	}
	if sp.ExpiryTimeMillis > ms && sp.ExpiryTimeMillis <= now.UnixMilli() {
		ms = sp.ExpiryTimeMillis
	}
	if !validatedAt.IsZero() && validatedAt.UnixMilli() > ms {
		ms = validatedAt.UnixMilli()
	}
	return models.MillisTime(ms)
}

// Promo and some test purchases have no order id.
func googleOrderID(orderID, token string) string {
	if orderID != "" {
		return orderID
	}
	return "token:" + models.ReceiptHash(token)
}
