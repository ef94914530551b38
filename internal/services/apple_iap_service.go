package services

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"iapBack/internal/models"
)

const (
	appleProductionURL = "https://buy.itunes.apple.com/verifyReceipt"
	appleSandboxURL    = "https://sandbox.itunes.apple.com/verifyReceipt"
)

// verifyReceipt status codes.
const (
	appleStatusSuccess                     = 0
	appleStatusNotPost                     = 21000
	appleStatusShouldNotHappen             = 21001
	appleStatusInvalidReceiptOrDown        = 21002
	appleStatusUnauthorized                = 21003
	appleStatusWrongSharedSecret           = 21004
	appleStatusServiceDown                 = 21005
	appleStatusValidButSubscriptionExpired = 21006
	appleStatusUseTestEnvironment          = 21007
	appleStatusAppleInternalError          = 21009
	appleStatusCustomerNotFound            = 21010
)

type AppleIAPConfig struct {
	SharedSecret string

	// Optional endpoint overrides.
	ProductionURL string
	SandboxURL    string
	HTTPClient    *http.Client

	DB     Database
	Logger Logger
	Now    func() time.Time
}

type AppleIAPService struct {
	sharedSecret  string
	productionURL string
	sandboxURL    string
	client        *http.Client
	db            Database
	log           Logger
	now           func() time.Time
}

func NewAppleIAPService(cfg AppleIAPConfig) (*AppleIAPService, error) {
	cfg.SharedSecret = strings.TrimSpace(cfg.SharedSecret)
	if cfg.SharedSecret == "" {
		return nil, errors.New("apple iap: shared secret is required")
	}
	if cfg.ProductionURL == "" {
		cfg.ProductionURL = appleProductionURL
	}
	if cfg.SandboxURL == "" {
		cfg.SandboxURL = appleSandboxURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &AppleIAPService{
		sharedSecret:  cfg.SharedSecret,
		productionURL: cfg.ProductionURL,
		sandboxURL:    cfg.SandboxURL,
		client:        client,
		db:            cfg.DB,
		log:           logger,
		now:           now,
	}, nil
}

func (s *AppleIAPService) Platform() models.Platform { return models.PlatformIOS }

// VerifyNotification checks the shared secret embedded in a server notification.
func (s *AppleIAPService) VerifyNotification(n models.AppleStatusNotification) error {
	if subtle.ConstantTimeCompare([]byte(n.Password), []byte(s.sharedSecret)) != 1 {
		return models.ErrBadNotification
	}
	if strings.TrimSpace(n.UnifiedReceipt.LatestReceipt) == "" {
		return fmt.Errorf("%w: latest_receipt is empty", models.ErrBadNotification)
	}
	return nil
}

// Validate posts the receipt to production and retries once against the
// sandbox when Apple says the receipt belongs there.
func (s *AppleIAPService) Validate(ctx context.Context, token, sku string) (models.RawReceipt, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("apple iap: receipt token is required: %w", models.ErrMissingToken)
	}

	resp, err := s.verify(ctx, s.productionURL, token)
	if err != nil {
		return nil, err
	}
	if resp.Status == appleStatusUseTestEnvironment {
		s.log.Infof("[APPLE IAP] sandbox receipt, retrying against sandbox sku=%q", sku)
		resp, err = s.verify(ctx, s.sandboxURL, token)
		if err != nil {
			return nil, err
		}
	}
	// 21006 still carries the receipt, the expiry is read from its transactions
	if resp.Status != appleStatusSuccess && resp.Status != appleStatusValidButSubscriptionExpired {
		return nil, appleError(resp.Status)
	}
	return resp, nil
}

func (s *AppleIAPService) verify(ctx context.Context, url, token string) (*models.AppleReceiptResponse, error) {
	body, err := json.Marshal(map[string]interface{}{
		"receipt-data":             token,
		"password":                 s.sharedSecret,
		"exclude-old-transactions": false,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apple verifyReceipt: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("apple verifyReceipt: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &models.ProviderValidationError{
			Platform: models.PlatformIOS,
			Code:     resp.StatusCode,
			Message:  fmt.Sprintf("apple verifyReceipt %s: %s", url, strings.TrimSpace(string(raw))),
		}
	}

	var out models.AppleReceiptResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("apple verifyReceipt: decode: %w", err)
	}
	out.Raw = raw
	return &out, nil
}

func appleError(code int) error {
	var msg string
	switch {
	case code == appleStatusNotPost:
		msg = "Apple expects a correctly formatted HTTP POST, the request was not one"
	case code == appleStatusShouldNotHappen:
		msg = "Apple no longer sends this status, it should not happen"
	case code == appleStatusInvalidReceiptOrDown:
		msg = "The receipt is malformed or was modified"
	case code == appleStatusUnauthorized:
		msg = "Apple said the request was unauthorized, check the shared secret"
	case code == appleStatusWrongSharedSecret:
		msg = "The shared secret does not match the one on file for the account"
	case code == appleStatusServiceDown, code == appleStatusAppleInternalError,
		code >= 21100 && code <= 21199:
		msg = "Apple's receipt service is down, try again later"
	case code == appleStatusCustomerNotFound:
		msg = "Apple could not find the customer, the account may have been deleted"
	default:
		msg = "Apple rejected the receipt"
	}
	return &models.ProviderValidationError{Platform: models.PlatformIOS, Code: code, Message: msg}
}

// ParseReceipt turns a verifyReceipt response into purchase drafts.
func (s *AppleIAPService) ParseReceipt(ctx context.Context, raw models.RawReceipt, token, sku string, includeNewer bool) (models.ParsedReceipt, error) {
	resp, ok := raw.(*models.AppleReceiptResponse)
	if !ok {
		return models.ParsedReceipt{}, &models.NotImplementedError{Operation: fmt.Sprintf("apple parse of %T", raw)}
	}

	creationMs := models.ParseMillis(resp.Receipt.ReceiptCreationDateMs)
	receiptDate := models.MillisTime(appleReceiptDateMillis(resp.Receipt, includeNewer))
	data := json.RawMessage(resp.Raw)
	if len(data) == 0 {
		encoded, err := json.Marshal(resp)
		if err != nil {
			return models.ParsedReceipt{}, err
		}
		data = encoded
	}

	parsed := models.ParsedReceipt{
		Receipt: models.Receipt{
			Hash:        models.ReceiptHash(token),
			Token:       token,
			Platform:    models.PlatformIOS,
			ReceiptDate: receiptDate,
			Data:        data,
		},
	}

	merged := MergeAppleTransactions(resp.Receipt.InApp, resp.LatestReceiptInfo, creationMs, includeNewer)
	universe := make([]models.AppleTransaction, 0, len(resp.Receipt.InApp)+len(resp.LatestReceiptInfo))
	universe = append(universe, resp.Receipt.InApp...)
	universe = append(universe, resp.LatestReceiptInfo...)
	slices.SortStableFunc(universe, compareAppleTransactionsDesc)

	now := s.now()
	for _, tx := range merged {
		var p *models.Purchase
		if tx.IsSubscription() {
			p = s.subscriptionPurchase(tx, resp, universe, receiptDate, now)
		} else {
			p = s.oneTimePurchase(tx, resp, receiptDate)
		}
		// Apple does not report the price paid, so the catalog price is used.
		product, err := lookupProduct(ctx, s.db, tx.ProductID, models.PlatformIOS)
		if err != nil {
			return models.ParsedReceipt{}, fmt.Errorf("apple iap: product lookup %q: %w", tx.ProductID, err)
		}
		if product != nil {
			p.ProductID = product.ID
			p.WithPricing(product.Price, product.Currency)
		}
		parsed.Purchases = append(parsed.Purchases, p)
	}
	return parsed, nil
}

// appleReceiptDateMillis dates the receipt by its creation. With includeNewer
// the merge reads latest_receipt_info, which Apple fills at request time, so
// a re-validation of a stored token is dated by the request.
func appleReceiptDateMillis(r models.AppleReceipt, includeNewer bool) int64 {
	ms := models.ParseMillis(r.ReceiptCreationDateMs)
	if !includeNewer {
		return ms
	}
	if req := models.ParseMillis(r.RequestDateMs); req > ms {
		return req
	}
	return ms
}

func (s *AppleIAPService) oneTimePurchase(tx models.AppleTransaction, resp *models.AppleReceiptResponse, receiptDate time.Time) *models.Purchase {
	p := models.NewPurchase(models.PlatformIOS, tx.TransactionID, tx.ProductID,
		models.MillisTime(tx.PurchaseMillis()), receiptDate)
	p.IsSandbox = resp.Environment == "Sandbox"
	p.Quantity = appleQuantity(tx.Quantity)

	applyAppleRefund(p, tx)
	return p
}

func (s *AppleIAPService) subscriptionPurchase(tx models.AppleTransaction, resp *models.AppleReceiptResponse, universe []models.AppleTransaction, receiptDate, now time.Time) *models.Purchase {
	purchaseMs := tx.PurchaseMillis()

	var prior []models.AppleTransaction
	var original *models.AppleTransaction
	var latestInChain *models.AppleTransaction
	for i := range universe {
		other := universe[i]
		if other.TransactionID == tx.OriginalTransactionID && original == nil {
			original = &universe[i]
		}
		if other.OriginalTransactionID != tx.OriginalTransactionID {
			continue
		}
		if latestInChain == nil {
			latestInChain = &universe[i]
		}
		if other.TransactionID != tx.TransactionID && other.PurchaseMillis() <= purchaseMs {
			prior = append(prior, other)
		}
	}

	originalOrderID := ""
	if original != nil {
		originalOrderID = original.WebOrderLineItemID
	}

	p := models.NewPurchase(models.PlatformIOS, tx.WebOrderLineItemID, tx.ProductID,
		models.MillisTime(purchaseMs), receiptDate).
		AsSubscription(originalOrderID, models.MillisTime(tx.ExpiresMillis()))
	p.IsSandbox = resp.Environment == "Sandbox"
	p.Quantity = appleQuantity(tx.Quantity)
	p.IsTrial = tx.IsTrialPeriod == "true"
	p.IsIntroOfferPeriod = tx.IsInIntroOfferPeriod == "true"
	if original != nil {
		p.SubscriptionGroup = original.SubscriptionGroupIdentifier
	}
	if p.SubscriptionGroup == "" {
		p.SubscriptionGroup = tx.SubscriptionGroupIdentifier
	}

	if len(prior) > 0 {
		linked := prior[0]
		p.LinkedOrderID = linked.WebOrderLineItemID
		p.IsTrialConversion = !p.IsTrial && linked.IsTrialPeriod == "true"
	}

	applyAppleRefund(p, tx)

	// renewal info only describes the newest transaction of the chain
	var renewal *models.AppleRenewalInfo
	if latestInChain != nil && latestInChain.TransactionID == tx.TransactionID {
		for i := range resp.PendingRenewalInfo {
			info := resp.PendingRenewalInfo[i]
			if info.OriginalTransactionID == tx.OriginalTransactionID && info.ProductID == tx.ProductID {
				renewal = &resp.PendingRenewalInfo[i]
				break
			}
		}
	}
	expirationIntent := ""
	if renewal != nil {
		p.IsSubscriptionRenewable = renewal.AutoRenewStatus == "1"
		p.IsSubscriptionRetryPeriod = renewal.IsInBillingRetryPeriod == "1"
		if renewal.AutoRenewProductID != "" && renewal.AutoRenewProductID != tx.ProductID {
			p.SubscriptionRenewalProductSku = renewal.AutoRenewProductID
		}
		expirationIntent = renewal.ExpirationIntent
	}

	if !p.IsRefunded {
		if now.Before(*p.ExpirationDate) {
			p.IsSubscriptionActive = true
		} else if renewal != nil && renewal.GracePeriodExpiresDateMs != "" {
			graceEnd := models.MillisTime(models.ParseMillis(renewal.GracePeriodExpiresDateMs))
			p.GracePeriodEndDate = &graceEnd
			if now.Before(graceEnd) {
				p.IsSubscriptionActive = true
				p.IsSubscriptionGracePeriod = true
			}
		}
	}

	p.CancellationReason = AppleCancellationReason(p, expirationIntent)
	classifySubscription(p, now)
	return p
}

// MergeAppleTransactions combines in_app and latest_receipt_info into one
// list sorted newest first. Unless includeNewer is set, entries of
// latest_receipt_info purchased after the receipt was created are dropped.
func MergeAppleTransactions(inApp, latest []models.AppleTransaction, receiptCreationMs int64, includeNewer bool) []models.AppleTransaction {
	sortedInApp := slices.Clone(inApp)
	slices.SortStableFunc(sortedInApp, compareAppleTransactionsDesc)

	latestIDs := make(map[string]struct{}, len(latest))
	for _, tx := range latest {
		latestIDs[tx.TransactionID] = struct{}{}
	}

	merged := make([]models.AppleTransaction, 0, len(inApp)+len(latest))
	for _, tx := range latest {
		if !includeNewer && tx.PurchaseMillis() > receiptCreationMs {
			continue
		}
		merged = append(merged, tx)
	}
	for _, tx := range sortedInApp {
		if _, ok := latestIDs[tx.TransactionID]; !ok {
			merged = append(merged, tx)
		}
	}
	slices.SortStableFunc(merged, compareAppleTransactionsDesc)
	return merged
}

func compareAppleTransactionsDesc(a, b models.AppleTransaction) int {
	ta, tb := a.PurchaseMillis(), b.PurchaseMillis()
	switch {
	case ta > tb:
		return -1
	case ta < tb:
		return 1
	}
	return 0
}

func applyAppleRefund(p *models.Purchase, tx models.AppleTransaction) {
	if tx.CancellationDateMs == "" {
		return
	}
	p.IsRefunded = true
	p.RefundDate = models.TimePtr(models.MillisTime(models.ParseMillis(tx.CancellationDateMs)))
	switch tx.CancellationReason {
	case "1":
		p.RefundReason = models.RefundIssue
	case "0":
		p.RefundReason = models.RefundOther
	}
}

func appleQuantity(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 1
	}
	return n
}
