package models

import "time"

type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// ParsePlatform accepts the two store tags and rejects everything else.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(s) {
	case PlatformIOS, PlatformAndroid:
		return Platform(s), nil
	}
	return "", ErrUnsupportedPlatform
}

type ProductType string

const (
	ProductTypeConsumable            ProductType = "consumable"
	ProductTypeRenewableSubscription ProductType = "renewable_subscription"
)

type SubscriptionPeriodType string

const (
	PeriodTypeNormal SubscriptionPeriodType = "normal"
	PeriodTypeIntro  SubscriptionPeriodType = "intro"
	PeriodTypeTrial  SubscriptionPeriodType = "trial"
)

type SubscriptionState string

const (
	StateActive      SubscriptionState = "active"
	StateGracePeriod SubscriptionState = "grace_period"
	StateRetryPeriod SubscriptionState = "retry_period"
	StateExpired     SubscriptionState = "expired"
	StatePaused      SubscriptionState = "paused"
)

type SubscriptionStatus string

const (
	StatusUnknown     SubscriptionStatus = "unknown"
	StatusActive      SubscriptionStatus = "active"
	StatusExpired     SubscriptionStatus = "expired"
	StatusCancelled   SubscriptionStatus = "cancelled"
	StatusRefunded    SubscriptionStatus = "refunded"
	StatusTrial       SubscriptionStatus = "trial"
	StatusGracePeriod SubscriptionStatus = "grace_period"
	StatusRetryPeriod SubscriptionStatus = "retry_period"
	StatusPaused      SubscriptionStatus = "paused"
)

type CancellationReason string

const (
	CancellationRefunded              CancellationReason = "refunded"
	CancellationCustomerCancelled     CancellationReason = "customer_cancelled"
	CancellationDeveloperCancelled    CancellationReason = "developer_cancelled"
	CancellationSubscriptionReplaced  CancellationReason = "subscription_replaced"
	CancellationRejectedPriceIncrease CancellationReason = "rejected_price_increase"
	CancellationBillingError          CancellationReason = "billing_error"
	CancellationProductNotAvailable   CancellationReason = "product_not_available"
	CancellationUnknown               CancellationReason = "unknown"
)

// RefundReason values. The Google void reasons extend the Apple ones.
type RefundReason string

const (
	RefundIssue               RefundReason = "issue"
	RefundSubscriptionReplace RefundReason = "subscription_replace"
	RefundOther               RefundReason = "other"
	RefundRemorse             RefundReason = "remorse"
	RefundNotReceived         RefundReason = "not_received"
	RefundDefective           RefundReason = "defective"
	RefundAccidentalPurchase  RefundReason = "accidental_purchase"
	RefundFraud               RefundReason = "fraud"
	RefundFriendlyFraud       RefundReason = "friendly_fraud"
	RefundChargeback          RefundReason = "chargeback"
)

// Purchase is one normalized store transaction. Empty strings and nil dates
// stand for absent values.
type Purchase struct {
	ID        string   `json:"id"`
	ReceiptID string   `json:"receiptId"`
	UserID    string   `json:"userId"`
	ProductID string   `json:"productId"`
	Platform  Platform `json:"platform"`
	OrderID   string   `json:"orderId"`

	ProductSku  string      `json:"productSku"`
	ProductType ProductType `json:"productType"`
	IsSandbox   bool        `json:"isSandbox"`
	Quantity    int64       `json:"quantity"`

	Price             int64  `json:"price"`
	Currency          string `json:"currency"`
	ConvertedPrice    int64  `json:"convertedPrice"`
	ConvertedCurrency string `json:"convertedCurrency"`

	PurchaseDate       time.Time  `json:"purchaseDate"`
	ReceiptDate        time.Time  `json:"receiptDate"`
	ExpirationDate     *time.Time `json:"expirationDate"`
	GracePeriodEndDate *time.Time `json:"gracePeriodEndDate"`

	IsRefunded   bool         `json:"isRefunded"`
	RefundDate   *time.Time   `json:"refundDate"`
	RefundReason RefundReason `json:"refundReason"`

	IsSubscription            bool `json:"isSubscription"`
	IsTrial                   bool `json:"isTrial"`
	IsIntroOfferPeriod        bool `json:"isIntroOfferPeriod"`
	IsSubscriptionActive      bool `json:"isSubscriptionActive"`
	IsSubscriptionRenewable   bool `json:"isSubscriptionRenewable"`
	IsSubscriptionRetryPeriod bool `json:"isSubscriptionRetryPeriod"`
	IsSubscriptionGracePeriod bool `json:"isSubscriptionGracePeriod"`
	IsSubscriptionPaused      bool `json:"isSubscriptionPaused"`
	IsTrialConversion         bool `json:"isTrialConversion"`

	OriginalOrderID    string `json:"originalOrderId"`
	OriginalPurchaseID string `json:"originalPurchaseId"`
	LinkedOrderID      string `json:"linkedOrderId"`
	LinkedPurchaseID   string `json:"linkedPurchaseId"`
	LinkedToken        string `json:"linkedToken"`

	SubscriptionGroup             string                 `json:"subscriptionGroup"`
	SubscriptionRenewalProductSku string                 `json:"subscriptionRenewalProductSku"`
	SubscriptionPeriodType        SubscriptionPeriodType `json:"subscriptionPeriodType"`
	SubscriptionState             SubscriptionState      `json:"subscriptionState"`
	SubscriptionStatus            SubscriptionStatus     `json:"subscriptionStatus"`
	CancellationReason            CancellationReason     `json:"cancellationReason"`
}

// NewPurchase returns a draft with every required field set and the rest at
// their defaults: consumable, quantity 1, no pricing, no subscription flags.
func NewPurchase(platform Platform, orderID, sku string, purchaseDate, receiptDate time.Time) *Purchase {
	return &Purchase{
		Platform:     platform,
		OrderID:      orderID,
		ProductSku:   sku,
		ProductType:  ProductTypeConsumable,
		Quantity:     1,
		PurchaseDate: purchaseDate.UTC(),
		ReceiptDate:  receiptDate.UTC(),
	}
}

// AsSubscription marks the draft as a renewable subscription transaction.
func (p *Purchase) AsSubscription(originalOrderID string, expiration time.Time) *Purchase {
	p.IsSubscription = true
	p.ProductType = ProductTypeRenewableSubscription
	p.OriginalOrderID = originalOrderID
	exp := expiration.UTC()
	p.ExpirationDate = &exp
	return p
}

// WithPricing sets the base price and defaults the converted price to it.
func (p *Purchase) WithPricing(price int64, currency string) *Purchase {
	p.Price = price
	p.Currency = currency
	p.ConvertedPrice = price
	p.ConvertedCurrency = currency
	return p
}

// ChainKey identifies the renewal chain a purchase belongs to.
func (p *Purchase) ChainKey() string {
	if p.IsSubscription && p.OriginalOrderID != "" {
		return string(p.Platform) + ":" + p.OriginalOrderID
	}
	return string(p.Platform) + ":" + p.OrderID
}

// PurchasesEqual reports whether two purchases carry the same values in every
// field. Dates are compared by instant.
func PurchasesEqual(a, b Purchase) bool {
	if !a.PurchaseDate.Equal(b.PurchaseDate) || !a.ReceiptDate.Equal(b.ReceiptDate) {
		return false
	}
	if !timesEqual(a.ExpirationDate, b.ExpirationDate) ||
		!timesEqual(a.GracePeriodEndDate, b.GracePeriodEndDate) ||
		!timesEqual(a.RefundDate, b.RefundDate) {
		return false
	}
	a.PurchaseDate, b.PurchaseDate = time.Time{}, time.Time{}
	a.ReceiptDate, b.ReceiptDate = time.Time{}, time.Time{}
	a.ExpirationDate, b.ExpirationDate = nil, nil
	a.GracePeriodEndDate, b.GracePeriodEndDate = nil, nil
	a.RefundDate, b.RefundDate = nil, nil
	return a == b
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// TimePtr returns a pointer to the UTC form of t.
func TimePtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}

// MillisTime converts epoch milliseconds to a UTC time.
func MillisTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
