package services

import (
	"testing"

	"iapBack/internal/models"
)

func TestClassifyPurchaseEvent(t *testing.T) {
	base := func(mutate func(p *models.Purchase)) *models.Purchase {
		p := subscriptionDraft(nil)
		p.SubscriptionStatus = models.StatusActive
		if mutate != nil {
			mutate(p)
		}
		return p
	}

	tests := []struct {
		name     string
		previous *models.Purchase
		current  *models.Purchase
		want     models.PurchaseEventType
	}{
		{"nothing reconciled", base(nil), nil, models.EventNoChange},
		{"first purchase", nil, base(nil), models.EventPurchase},
		{"consumable", nil, models.NewPurchase(models.PlatformIOS, "1", "coins", testNow, testNow), models.EventPurchase},
		{"new chain", base(nil), base(func(p *models.Purchase) { p.OriginalOrderID = "other" }), models.EventPurchase},
		{"resubscribe after expiry",
			base(func(p *models.Purchase) { p.SubscriptionStatus = models.StatusExpired }),
			base(nil), models.EventPurchase},
		{"refund",
			base(nil),
			base(func(p *models.Purchase) {
				p.IsRefunded = true
				p.SubscriptionStatus = models.StatusRefunded
			}), models.EventRefund},
		{"replace", base(nil), base(func(p *models.Purchase) { p.ProductSku = "yearly" }), models.EventSubscriptionReplace},
		{"renewal retry", base(nil), base(func(p *models.Purchase) { p.SubscriptionStatus = models.StatusRetryPeriod }), models.EventSubscriptionRenewalRetry},
		{"cancel", base(nil), base(func(p *models.Purchase) { p.SubscriptionStatus = models.StatusCancelled }), models.EventSubscriptionCancel},
		{"expire", base(nil), base(func(p *models.Purchase) { p.SubscriptionStatus = models.StatusExpired }), models.EventSubscriptionExpire},
		{"grace expire",
			base(func(p *models.Purchase) {
				p.SubscriptionStatus = models.StatusGracePeriod
				p.IsSubscriptionGracePeriod = true
			}),
			base(func(p *models.Purchase) { p.SubscriptionStatus = models.StatusExpired }),
			models.EventSubscriptionGracePeriodExpire},
		{"uncancel",
			base(func(p *models.Purchase) { p.SubscriptionStatus = models.StatusCancelled }),
			base(nil), models.EventSubscriptionUncancel},
		{"product change",
			base(func(p *models.Purchase) { p.SubscriptionStatus = models.StatusGracePeriod }),
			base(func(p *models.Purchase) { p.SubscriptionRenewalProductSku = "yearly" }),
			models.EventSubscriptionProductChange},
		{"renewal", base(nil), base(func(p *models.Purchase) { p.OrderID = "2001" }), models.EventSubscriptionRenewal},
		{"unchanged", base(nil), base(nil), models.EventNoChange},
		{"status change without event",
			base(func(p *models.Purchase) { p.SubscriptionStatus = models.StatusTrial }),
			base(nil), models.EventNoChange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyPurchaseEvent(tt.previous, tt.current); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
