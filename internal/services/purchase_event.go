package services

import "iapBack/internal/models"

// ClassifyPurchaseEvent compares the latest stored purchase of a chain, taken
// before reconciliation, with the reconciled one.
func ClassifyPurchaseEvent(previous, current *models.Purchase) models.PurchaseEventType {
	if current == nil {
		return models.EventNoChange
	}
	if !current.IsSubscription ||
		previous == nil ||
		previous.OriginalOrderID != current.OriginalOrderID ||
		(previous.SubscriptionStatus == models.StatusExpired && current.SubscriptionStatus == models.StatusActive) {
		return models.EventPurchase
	}
	if !previous.IsRefunded && current.IsRefunded {
		return models.EventRefund
	}
	if previous.ProductSku != current.ProductSku {
		return models.EventSubscriptionReplace
	}

	if previous.SubscriptionStatus != current.SubscriptionStatus {
		switch {
		case current.SubscriptionStatus == models.StatusRetryPeriod:
			return models.EventSubscriptionRenewalRetry
		case current.SubscriptionStatus == models.StatusCancelled:
			return models.EventSubscriptionCancel
		case current.SubscriptionStatus == models.StatusExpired:
			if previous.IsSubscriptionGracePeriod {
				return models.EventSubscriptionGracePeriodExpire
			}
			return models.EventSubscriptionExpire
		case previous.SubscriptionStatus == models.StatusCancelled && current.SubscriptionStatus == models.StatusActive:
			return models.EventSubscriptionUncancel
		case previous.SubscriptionRenewalProductSku == "" &&
			current.SubscriptionRenewalProductSku != "" &&
			current.SubscriptionRenewalProductSku != current.ProductSku:
			return models.EventSubscriptionProductChange
		}
		return models.EventNoChange
	}

	if previous.OrderID != current.OrderID {
		return models.EventSubscriptionRenewal
	}
	return models.EventNoChange
}
