package models

import (
	"encoding/json"
	"time"

	"google.golang.org/api/androidpublisher/v3"
)

type GoogleReceiptKind string

const (
	GoogleKindProduct      GoogleReceiptKind = "product"
	GoogleKindSubscription GoogleReceiptKind = "subscription"
)

// Google payment states of a subscription.
const (
	PaymentStatePending   int64 = 0
	PaymentStateReceived  int64 = 1
	PaymentStateFreeTrial int64 = 2
)

// GoogleReceipt is a validated Play purchase. Exactly one of Product and
// Subscription is set, matching Kind.
type GoogleReceipt struct {
	Kind         GoogleReceiptKind                      `json:"kind"`
	PackageName  string                                 `json:"packageName"`
	ProductID    string                                 `json:"productId"`
	Token        string                                 `json:"token"`
	Product      *androidpublisher.ProductPurchase      `json:"product,omitempty"`
	Subscription *androidpublisher.SubscriptionPurchase `json:"subscription,omitempty"`
	ValidatedAt  time.Time                              `json:"validatedAt"`
	Raw          json.RawMessage                        `json:"-"`
}

// GoogleVoidedPurchase is a refund or chargeback signal for an order.
type GoogleVoidedPurchase struct {
	OrderID          string `json:"orderId"`
	PurchaseToken    string `json:"purchaseToken"`
	VoidedTimeMillis int64  `json:"voidedTimeMillis"`
	VoidedReason     int64  `json:"voidedReason"`
	VoidedSource     int64  `json:"voidedSource"`
}

// PubSubPush is the envelope of a Pub/Sub push delivery.
type PubSubPush struct {
	Message struct {
		Data        string            `json:"data"`
		MessageID   string            `json:"messageId,omitempty"`
		PublishTime string            `json:"publishTime,omitempty"`
		Attributes  map[string]string `json:"attributes,omitempty"`
	} `json:"message"`
	Subscription string `json:"subscription,omitempty"`
}

// DeveloperNotification is the decoded real-time developer notification.
type DeveloperNotification struct {
	Version         string `json:"version,omitempty"`
	PackageName     string `json:"packageName,omitempty"`
	EventTimeMillis string `json:"eventTimeMillis,omitempty"`

	SubscriptionNotification *struct {
		Version          string `json:"version,omitempty"`
		NotificationType int    `json:"notificationType"`
		PurchaseToken    string `json:"purchaseToken"`
		SubscriptionID   string `json:"subscriptionId"`
	} `json:"subscriptionNotification,omitempty"`

	OneTimeProductNotification *struct {
		Version          string `json:"version,omitempty"`
		NotificationType int    `json:"notificationType"`
		PurchaseToken    string `json:"purchaseToken"`
		Sku              string `json:"sku"`
	} `json:"oneTimeProductNotification,omitempty"`

	VoidedPurchaseNotification *struct {
		PurchaseToken string `json:"purchaseToken"`
		OrderID       string `json:"orderId"`
		ProductType   int    `json:"productType"`
		RefundType    int    `json:"refundType"`
	} `json:"voidedPurchaseNotification,omitempty"`

	TestNotification *struct {
		Version string `json:"version"`
	} `json:"testNotification,omitempty"`
}
