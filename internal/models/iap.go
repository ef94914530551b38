package models

import (
	"encoding/json"
	"strconv"
)

// AppleReceiptResponse is the body returned by the verifyReceipt endpoint.
type AppleReceiptResponse struct {
	Status             int                `json:"status"`
	Environment        string             `json:"environment"`
	IsRetryable        bool               `json:"is-retryable,omitempty"`
	Receipt            AppleReceipt       `json:"receipt"`
	LatestReceipt      string             `json:"latest_receipt,omitempty"`
	LatestReceiptInfo  []AppleTransaction `json:"latest_receipt_info,omitempty"`
	PendingRenewalInfo []AppleRenewalInfo `json:"pending_renewal_info,omitempty"`
	Raw                json.RawMessage    `json:"-"`
}

type AppleReceipt struct {
	BundleID              string             `json:"bundle_id"`
	ApplicationVersion    string             `json:"application_version,omitempty"`
	ReceiptType           string             `json:"receipt_type,omitempty"`
	ReceiptCreationDateMs string             `json:"receipt_creation_date_ms"`
	RequestDateMs         string             `json:"request_date_ms,omitempty"`
	InApp                 []AppleTransaction `json:"in_app"`
}

// AppleTransaction is one entry of in_app or latest_receipt_info. Apple
// encodes numbers and booleans as strings.
type AppleTransaction struct {
	Quantity                    string `json:"quantity"`
	ProductID                   string `json:"product_id"`
	TransactionID               string `json:"transaction_id"`
	OriginalTransactionID       string `json:"original_transaction_id"`
	WebOrderLineItemID          string `json:"web_order_line_item_id,omitempty"`
	PurchaseDateMs              string `json:"purchase_date_ms"`
	OriginalPurchaseDateMs      string `json:"original_purchase_date_ms,omitempty"`
	ExpiresDate                 string `json:"expires_date,omitempty"`
	ExpiresDateMs               string `json:"expires_date_ms,omitempty"`
	IsTrialPeriod               string `json:"is_trial_period,omitempty"`
	IsInIntroOfferPeriod        string `json:"is_in_intro_offer_period,omitempty"`
	CancellationDateMs          string `json:"cancellation_date_ms,omitempty"`
	CancellationReason          string `json:"cancellation_reason,omitempty"`
	SubscriptionGroupIdentifier string `json:"subscription_group_identifier,omitempty"`
	InAppOwnershipType          string `json:"in_app_ownership_type,omitempty"`
}

func (t AppleTransaction) PurchaseMillis() int64 { return parseMillis(t.PurchaseDateMs) }

func (t AppleTransaction) ExpiresMillis() int64 { return parseMillis(t.ExpiresDateMs) }

// IsSubscription reports whether the transaction carries an expiry.
func (t AppleTransaction) IsSubscription() bool {
	return t.ExpiresDate != "" || t.ExpiresDateMs != ""
}

// AppleRenewalInfo is one entry of pending_renewal_info.
type AppleRenewalInfo struct {
	AutoRenewProductID       string `json:"auto_renew_product_id"`
	OriginalTransactionID    string `json:"original_transaction_id"`
	ProductID                string `json:"product_id"`
	AutoRenewStatus          string `json:"auto_renew_status"`
	ExpirationIntent         string `json:"expiration_intent,omitempty"`
	IsInBillingRetryPeriod   string `json:"is_in_billing_retry_period,omitempty"`
	GracePeriodExpiresDateMs string `json:"grace_period_expires_date_ms,omitempty"`
	PriceConsentStatus       string `json:"price_consent_status,omitempty"`
}

// AppleStatusNotification is the v1 App Store server notification body.
type AppleStatusNotification struct {
	NotificationType   string `json:"notification_type"`
	Password           string `json:"password"`
	Environment        string `json:"environment"`
	AutoRenewProductID string `json:"auto_renew_product_id"`
	AutoRenewStatus    string `json:"auto_renew_status,omitempty"`
	UnifiedReceipt     struct {
		Status        int    `json:"status"`
		Environment   string `json:"environment"`
		LatestReceipt string `json:"latest_receipt"`
	} `json:"unified_receipt"`
}

// ParseMillis reads Apple's string-encoded epoch milliseconds. Empty or
// malformed values read as zero.
func ParseMillis(s string) int64 { return parseMillis(s) }

func parseMillis(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
