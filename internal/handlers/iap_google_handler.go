package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"iapBack/internal/models"
	"iapBack/internal/services"
)

// GoogleIAPHandler receives Play real-time developer notifications pushed
// through Pub/Sub.
type GoogleIAPHandler struct {
	Processor     IAPProcessor
	Notifications NotificationStore
	PackageName   string
	Log           services.Logger
	now           func() time.Time
}

func NewGoogleIAPHandler(processor IAPProcessor, notifications NotificationStore, packageName string, log services.Logger) *GoogleIAPHandler {
	return &GoogleIAPHandler{
		Processor:     processor,
		Notifications: notifications,
		PackageName:   packageName,
		Log:           log,
		now:           time.Now,
	}
}

// GoogleNotifications answers 2xx for everything Pub/Sub should not redeliver,
// including tokens the store rejects. Only internal failures return 500.
func (h *GoogleIAPHandler) GoogleNotifications(w http.ResponseWriter, r *http.Request) {
	var push models.PubSubPush
	if err := json.NewDecoder(r.Body).Decode(&push); err != nil {
		clientError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if push.Message.Data == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	raw, err := base64.StdEncoding.DecodeString(push.Message.Data)
	if err != nil {
		clientError(w, http.StatusBadRequest, "decode pubsub data: "+err.Error())
		return
	}
	if h.Notifications != nil {
		if _, err := h.Notifications.AddIncomingNotification(r.Context(), models.PlatformAndroid, raw); err != nil {
			writeError(w, h.Log, err)
			return
		}
	}

	var notif models.DeveloperNotification
	if err := json.Unmarshal(raw, &notif); err != nil {
		clientError(w, http.StatusBadRequest, "unmarshal rtdn: "+err.Error())
		return
	}
	if h.PackageName != "" && notif.PackageName != "" && notif.PackageName != h.PackageName {
		h.infof("[GOOGLE IAP] ignoring notification for package %q", notif.PackageName)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	ctx := r.Context()

	switch {
	case notif.SubscriptionNotification != nil:
		token := strings.TrimSpace(notif.SubscriptionNotification.PurchaseToken)
		sku := strings.TrimSpace(notif.SubscriptionNotification.SubscriptionID)
		h.infof("[GOOGLE IAP] subscription notification type=%d sku=%q token_len=%d",
			notif.SubscriptionNotification.NotificationType, sku, len(token))
		h.processToken(w, r, token, sku)

	case notif.OneTimeProductNotification != nil:
		token := strings.TrimSpace(notif.OneTimeProductNotification.PurchaseToken)
		sku := strings.TrimSpace(notif.OneTimeProductNotification.Sku)
		h.infof("[GOOGLE IAP] one-time product notification type=%d sku=%q token_len=%d",
			notif.OneTimeProductNotification.NotificationType, sku, len(token))
		h.processToken(w, r, token, sku)

	case notif.VoidedPurchaseNotification != nil:
		v := models.GoogleVoidedPurchase{
			OrderID:          strings.TrimSpace(notif.VoidedPurchaseNotification.OrderID),
			PurchaseToken:    strings.TrimSpace(notif.VoidedPurchaseNotification.PurchaseToken),
			VoidedTimeMillis: eventMillis(notif.EventTimeMillis, h.clock()),
		}
		if v.OrderID == "" {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		event, err := h.Processor.ProcessVoidedPurchase(ctx, v)
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		if event == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "unknown order"})
			return
		}
		writeJSON(w, http.StatusOK, event)

	case notif.TestNotification != nil:
		h.infof("[GOOGLE IAP] test notification version=%s", notif.TestNotification.Version)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (h *GoogleIAPHandler) processToken(w http.ResponseWriter, r *http.Request, token, sku string) {
	if token == "" || sku == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	event, err := h.Processor.ProcessToken(r.Context(), services.ProcessTokenRequest{
		Platform:     models.PlatformAndroid,
		Token:        token,
		Sku:          sku,
		IncludeNewer: true,
	})
	if err != nil {
		var pve *models.ProviderValidationError
		if errors.As(err, &pve) || errors.Is(err, models.ErrEmptyReceipt) {
			h.infof("[GOOGLE IAP] notification token rejected sku=%q: %v", sku, err)
			writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
			return
		}
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *GoogleIAPHandler) clock() time.Time {
	if h.now == nil {
		return time.Now()
	}
	return h.now()
}

func (h *GoogleIAPHandler) infof(format string, args ...interface{}) {
	if h.Log != nil {
		h.Log.Infof(format, args...)
	}
}

func eventMillis(s string, fallback time.Time) int64 {
	if ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil && ms > 0 {
		return ms
	}
	return fallback.UnixMilli()
}
