package services

import (
	"testing"
	"time"

	"iapBack/internal/models"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func subscriptionDraft(mutate func(p *models.Purchase)) *models.Purchase {
	p := models.NewPurchase(models.PlatformIOS, "2000", "monthly", testNow.Add(-24*time.Hour), testNow).
		AsSubscription("1000", testNow.Add(24*time.Hour))
	p.IsSubscriptionActive = true
	p.IsSubscriptionRenewable = true
	if mutate != nil {
		mutate(p)
	}
	return p
}

func TestSubscriptionStatus(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *models.Purchase)
		want   models.SubscriptionStatus
	}{
		{"active", nil, models.StatusActive},
		{"refunded", func(p *models.Purchase) {
			p.IsRefunded = true
			p.RefundReason = models.RefundIssue
		}, models.StatusRefunded},
		{"replaced refund is not refunded", func(p *models.Purchase) {
			p.IsRefunded = true
			p.RefundReason = models.RefundSubscriptionReplace
		}, models.StatusActive},
		{"grace period", func(p *models.Purchase) {
			p.IsSubscriptionActive = false
			p.IsSubscriptionGracePeriod = true
		}, models.StatusGracePeriod},
		{"retry period", func(p *models.Purchase) {
			p.IsSubscriptionActive = false
			p.IsSubscriptionRetryPeriod = true
		}, models.StatusRetryPeriod},
		{"expired", func(p *models.Purchase) {
			p.IsSubscriptionActive = false
			p.IsSubscriptionRenewable = false
		}, models.StatusExpired},
		{"trial", func(p *models.Purchase) { p.IsTrial = true }, models.StatusTrial},
		{"cancelled trial expires immediately", func(p *models.Purchase) {
			p.IsTrial = true
			p.IsSubscriptionRenewable = false
		}, models.StatusExpired},
		{"cancelled", func(p *models.Purchase) { p.IsSubscriptionRenewable = false }, models.StatusCancelled},
		{"intro offer is active", func(p *models.Purchase) { p.IsIntroOfferPeriod = true }, models.StatusActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := subscriptionDraft(tt.mutate)
			classifySubscription(p, testNow)
			if p.SubscriptionStatus != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, p.SubscriptionStatus)
			}
		})
	}
}

func TestSubscriptionStatusCancelledAfterExpiry(t *testing.T) {
	p := subscriptionDraft(func(p *models.Purchase) {
		p.IsSubscriptionRenewable = false
		p.ExpirationDate = models.TimePtr(testNow.Add(-time.Minute))
	})
	classifySubscription(p, testNow)
	if p.SubscriptionStatus != models.StatusExpired {
		t.Fatalf("expected expired, got %q", p.SubscriptionStatus)
	}
}

func TestSubscriptionStatusPaused(t *testing.T) {
	p := subscriptionDraft(func(p *models.Purchase) { p.IsSubscriptionActive = false })
	classifySubscription(p, testNow)
	p.SubscriptionState = models.StatePaused
	if got := SubscriptionStatus(p, testNow); got != models.StatusPaused {
		t.Fatalf("expected paused, got %q", got)
	}
}

func TestSubscriptionStatusIgnoresConsumables(t *testing.T) {
	p := models.NewPurchase(models.PlatformAndroid, "GPA.1", "coins", testNow, testNow)
	if got := SubscriptionStatus(p, testNow); got != "" {
		t.Fatalf("expected empty status, got %q", got)
	}
}

func TestSubscriptionPeriodTypeAndState(t *testing.T) {
	p := subscriptionDraft(func(p *models.Purchase) {
		p.IsTrial = true
		p.IsIntroOfferPeriod = true
	})
	if got := SubscriptionPeriodType(p); got != models.PeriodTypeTrial {
		t.Fatalf("trial should win over intro, got %q", got)
	}
	p.IsTrial = false
	if got := SubscriptionPeriodType(p); got != models.PeriodTypeIntro {
		t.Fatalf("expected intro, got %q", got)
	}

	p.IsSubscriptionActive = false
	p.IsSubscriptionGracePeriod = true
	p.IsSubscriptionRetryPeriod = true
	if got := SubscriptionState(p); got != models.StateGracePeriod {
		t.Fatalf("grace should win over retry, got %q", got)
	}
	p.IsSubscriptionGracePeriod = false
	if got := SubscriptionState(p); got != models.StateRetryPeriod {
		t.Fatalf("expected retry_period, got %q", got)
	}
	p.IsSubscriptionRetryPeriod = false
	if got := SubscriptionState(p); got != models.StateExpired {
		t.Fatalf("expected expired, got %q", got)
	}
}

func TestAppleCancellationReason(t *testing.T) {
	tests := []struct {
		name   string
		intent string
		mutate func(p *models.Purchase)
		want   models.CancellationReason
	}{
		{"refund wins", "1", func(p *models.Purchase) { p.IsRefunded = true }, models.CancellationRefunded},
		{"customer", "1", nil, models.CancellationCustomerCancelled},
		{"billing error", "2", func(p *models.Purchase) { p.IsSubscriptionActive = false }, models.CancellationBillingError},
		{"billing retry pending", "2", func(p *models.Purchase) {
			p.IsSubscriptionActive = false
			p.IsSubscriptionRetryPeriod = true
		}, ""},
		{"billing while active", "2", nil, ""},
		{"price increase", "3", func(p *models.Purchase) { p.IsSubscriptionActive = false }, models.CancellationRejectedPriceIncrease},
		{"not available", "4", func(p *models.Purchase) { p.IsSubscriptionActive = false }, models.CancellationProductNotAvailable},
		{"unknown", "5", func(p *models.Purchase) { p.IsSubscriptionActive = false }, models.CancellationUnknown},
		{"none", "", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := subscriptionDraft(tt.mutate)
			if got := AppleCancellationReason(p, tt.intent); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestGoogleCancellationReason(t *testing.T) {
	tests := []struct {
		reason int64
		survey bool
		want   models.CancellationReason
	}{
		{0, true, models.CancellationCustomerCancelled},
		{1, false, models.CancellationBillingError},
		{2, false, models.CancellationSubscriptionReplaced},
		{3, false, models.CancellationDeveloperCancelled},
		{0, false, ""},
	}
	for _, tt := range tests {
		if got := GoogleCancellationReason(tt.reason, tt.survey); got != tt.want {
			t.Errorf("reason %d survey %v: expected %q, got %q", tt.reason, tt.survey, tt.want, got)
		}
	}
}
