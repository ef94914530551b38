package models

type PurchaseEventType string

const (
	EventNoChange                      PurchaseEventType = "no_change"
	EventPurchase                      PurchaseEventType = "purchase"
	EventRefund                        PurchaseEventType = "refund"
	EventSubscriptionRenewal           PurchaseEventType = "subscription_renewal"
	EventSubscriptionRenewalRetry      PurchaseEventType = "subscription_renewal_retry"
	EventSubscriptionGracePeriodExpire PurchaseEventType = "subscription_grace_period_expire"
	EventSubscriptionProductChange     PurchaseEventType = "subscription_product_change"
	EventSubscriptionReplace           PurchaseEventType = "subscription_replace"
	EventSubscriptionCancel            PurchaseEventType = "subscription_cancel"
	EventSubscriptionUncancel          PurchaseEventType = "subscription_uncancel"
	EventSubscriptionExpire            PurchaseEventType = "subscription_expire"
)

// PurchaseEvent is what gets delivered to outbound notifiers.
type PurchaseEvent struct {
	Type PurchaseEventType `json:"type"`
	Data Purchase          `json:"data"`
}
