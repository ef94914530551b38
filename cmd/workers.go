package main

import (
	"context"
	"log"
	"time"

	"golang.org/x/exp/rand"

	"iapBack/internal/services"
)

const (
	subscriptionRefreshTimeout = 10 * time.Minute
	voidedPollTimeout          = 2 * time.Minute
)

// jitter delays the first run of a worker by up to a tenth of its interval.
func jitter(interval time.Duration) time.Duration {
	max := int64(interval / 10)
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(max))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// startSubscriptionRefresher re-validates active and renewing subscriptions
// so that renewals and cancellations are picked up without a client call.
func startSubscriptionRefresher(ctx context.Context, svc *services.IAPService, interval time.Duration, infoLog, errorLog *log.Logger) {
	if svc == nil || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		runOnce := func() {
			runCtx, cancel := context.WithTimeout(ctx, subscriptionRefreshTimeout)
			refreshed, err := svc.RefreshSubscriptions(runCtx)
			cancel()
			if err != nil {
				if errorLog != nil {
					errorLog.Printf("subscription refresher: %v", err)
				}
			} else if refreshed > 0 && infoLog != nil {
				infoLog.Printf("subscription refresher: refreshed %d subscriptions", refreshed)
			}
		}

		if !sleepCtx(ctx, jitter(interval)) {
			return
		}
		runOnce()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runOnce()
			}
		}
	}()
}

// startVoidedPurchasePoller applies Play refunds reported since the previous
// poll. The first poll looks back by lookback.
func startVoidedPurchasePoller(ctx context.Context, svc *services.IAPService, interval, lookback time.Duration, infoLog, errorLog *log.Logger) {
	if svc == nil || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		since := time.Now().Add(-lookback)

		runOnce := func() {
			started := time.Now()
			runCtx, cancel := context.WithTimeout(ctx, voidedPollTimeout)
			applied, err := svc.PollVoidedPurchases(runCtx, since)
			cancel()
			if err != nil {
				if errorLog != nil {
					errorLog.Printf("voided purchase poller: %v", err)
				}
				return
			}
			since = started
			if applied > 0 && infoLog != nil {
				infoLog.Printf("voided purchase poller: applied %d refunds", applied)
			}
		}

		if !sleepCtx(ctx, jitter(interval)) {
			return
		}
		runOnce()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runOnce()
			}
		}
	}()
}
