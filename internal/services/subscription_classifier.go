package services

import (
	"time"

	"iapBack/internal/models"
)

// SubscriptionPeriodType picks trial over intro over normal.
func SubscriptionPeriodType(p *models.Purchase) models.SubscriptionPeriodType {
	switch {
	case p.IsTrial:
		return models.PeriodTypeTrial
	case p.IsIntroOfferPeriod:
		return models.PeriodTypeIntro
	default:
		return models.PeriodTypeNormal
	}
}

// SubscriptionState checks grace before retry.
func SubscriptionState(p *models.Purchase) models.SubscriptionState {
	switch {
	case p.IsSubscriptionActive:
		return models.StateActive
	case p.IsSubscriptionGracePeriod:
		return models.StateGracePeriod
	case p.IsSubscriptionRetryPeriod:
		return models.StateRetryPeriod
	default:
		return models.StateExpired
	}
}

// SubscriptionStatus derives the externally visible status. The first matching
// rule wins. SubscriptionPeriodType and SubscriptionState must already be set.
func SubscriptionStatus(p *models.Purchase, now time.Time) models.SubscriptionStatus {
	if !p.IsSubscription {
		return ""
	}
	if p.IsRefunded && p.RefundReason != models.RefundSubscriptionReplace {
		return models.StatusRefunded
	}
	if p.SubscriptionState == models.StatePaused {
		return models.StatusPaused
	}
	if p.SubscriptionState == models.StateGracePeriod || p.IsSubscriptionGracePeriod {
		return models.StatusGracePeriod
	}
	if p.SubscriptionState == models.StateRetryPeriod || p.IsSubscriptionRetryPeriod {
		return models.StatusRetryPeriod
	}
	if p.SubscriptionState == models.StateExpired || (!p.IsSubscriptionActive && !p.IsSubscriptionRenewable) {
		return models.StatusExpired
	}
	// a cancelled trial expires right away
	if p.SubscriptionPeriodType == models.PeriodTypeTrial {
		if !p.IsSubscriptionRenewable {
			return models.StatusExpired
		}
		return models.StatusTrial
	}
	if p.IsSubscriptionActive && !p.IsSubscriptionRenewable {
		if p.ExpirationDate != nil && now.Before(*p.ExpirationDate) {
			return models.StatusCancelled
		}
		return models.StatusExpired
	}
	if p.SubscriptionState == models.StateActive {
		return models.StatusActive
	}
	return models.StatusUnknown
}

// AppleCancellationReason maps Apple's expiration_intent codes.
func AppleCancellationReason(p *models.Purchase, expirationIntent string) models.CancellationReason {
	if p.IsRefunded {
		return models.CancellationRefunded
	}
	active := p.IsSubscriptionActive
	switch expirationIntent {
	case "1":
		return models.CancellationCustomerCancelled
	case "2":
		if !active && !p.IsSubscriptionRetryPeriod {
			return models.CancellationBillingError
		}
	case "3":
		if !active {
			return models.CancellationRejectedPriceIncrease
		}
	case "4":
		if !active {
			return models.CancellationProductNotAvailable
		}
	case "5":
		if !active {
			return models.CancellationUnknown
		}
	}
	return ""
}

// GoogleCancellationReason maps Play cancelReason codes. A cancel survey means
// the user cancelled.
func GoogleCancellationReason(cancelReason int64, hasSurvey bool) models.CancellationReason {
	if hasSurvey {
		return models.CancellationCustomerCancelled
	}
	switch cancelReason {
	case 1:
		return models.CancellationBillingError
	case 2:
		return models.CancellationSubscriptionReplaced
	case 3:
		return models.CancellationDeveloperCancelled
	}
	return ""
}

// classifySubscription fills period type, state and status in order.
func classifySubscription(p *models.Purchase, now time.Time) {
	if !p.IsSubscription {
		return
	}
	p.SubscriptionPeriodType = SubscriptionPeriodType(p)
	p.SubscriptionState = SubscriptionState(p)
	p.SubscriptionStatus = SubscriptionStatus(p, now)
}
