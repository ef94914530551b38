package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"iapBack/internal/models"
	"iapBack/internal/services"
)

// IAPProcessor is the part of services.IAPService the handlers drive.
type IAPProcessor interface {
	Validate(ctx context.Context, platform models.Platform, token, sku string) (models.RawReceipt, error)
	ProcessToken(ctx context.Context, req services.ProcessTokenRequest) (models.PurchaseEvent, error)
	ProcessVoidedPurchase(ctx context.Context, v models.GoogleVoidedPurchase) (*models.PurchaseEvent, error)
}

type NotificationStore interface {
	AddIncomingNotification(ctx context.Context, platform models.Platform, data []byte) (*models.IncomingNotification, error)
}

type PurchaseLister interface {
	GetPurchasesByUserID(ctx context.Context, userID string) ([]models.Purchase, error)
}

type AppleNotificationVerifier interface {
	VerifyNotification(n models.AppleStatusNotification) error
}

// IAPHandler serves the client API and the Apple server notifications.
type IAPHandler struct {
	Processor     IAPProcessor
	Purchases     PurchaseLister
	Notifications NotificationStore
	Apple         AppleNotificationVerifier
	Log           services.Logger
}

func NewIAPHandler(processor IAPProcessor, purchases PurchaseLister, notifications NotificationStore, apple AppleNotificationVerifier, log services.Logger) *IAPHandler {
	return &IAPHandler{
		Processor:     processor,
		Purchases:     purchases,
		Notifications: notifications,
		Apple:         apple,
		Log:           log,
	}
}

type validateRequest struct {
	Platform string `json:"platform"`
	Token    string `json:"token"`
	Sku      string `json:"sku"`
}

type purchaseRequest struct {
	Platform   string `json:"platform"`
	Token      string `json:"token"`
	Sku        string `json:"sku"`
	Import     bool   `json:"import"`
	UserID     string `json:"userId"`
	SyncUserID bool   `json:"syncUserId"`
}

// Validate returns the raw store payload for a token without recording it.
func (h *IAPHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		clientError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	platform, err := models.ParsePlatform(req.Platform)
	if err != nil {
		clientError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		clientError(w, http.StatusBadRequest, "token is required")
		return
	}

	raw, err := h.Processor.Validate(r.Context(), platform, req.Token, req.Sku)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	body, err := rawPayload(raw)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeRaw(w, body)
}

// Purchase validates and records a token and returns the resulting event.
func (h *IAPHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		clientError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	platform, err := models.ParsePlatform(req.Platform)
	if err != nil {
		clientError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		clientError(w, http.StatusBadRequest, "token is required")
		return
	}

	event, err := h.Processor.ProcessToken(r.Context(), services.ProcessTokenRequest{
		Platform:     platform,
		Token:        req.Token,
		Sku:          req.Sku,
		IncludeNewer: req.Import,
		UserID:       strings.TrimSpace(req.UserID),
		SyncUserID:   req.SyncUserID,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// UserPurchases lists every purchase recorded for a user.
func (h *IAPHandler) UserPurchases(w http.ResponseWriter, r *http.Request) {
	userID, ok := routeID(w, r, "user")
	if !ok {
		return
	}
	purchases, err := h.Purchases.GetPurchasesByUserID(r.Context(), userID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if purchases == nil {
		purchases = []models.Purchase{}
	}
	writeJSON(w, http.StatusOK, purchases)
}

// AppleNotification handles App Store v1 status notifications. The body is
// stored before anything else so that rejected deliveries can be replayed.
func (h *IAPHandler) AppleNotification(w http.ResponseWriter, r *http.Request) {
	if h.Apple == nil {
		clientError(w, http.StatusNotImplemented, "apple iap is not configured")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		clientError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if h.Notifications != nil {
		if _, err := h.Notifications.AddIncomingNotification(r.Context(), models.PlatformIOS, body); err != nil {
			writeError(w, h.Log, err)
			return
		}
	}

	var n models.AppleStatusNotification
	if err := json.Unmarshal(body, &n); err != nil {
		clientError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := h.Apple.VerifyNotification(n); err != nil {
		writeError(w, h.Log, err)
		return
	}

	event, err := h.Processor.ProcessToken(r.Context(), services.ProcessTokenRequest{
		Platform:     models.PlatformIOS,
		Token:        n.UnifiedReceipt.LatestReceipt,
		Sku:          n.AutoRenewProductID,
		IncludeNewer: true,
	})
	if err != nil {
		if errors.Is(err, models.ErrEmptyReceipt) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		writeError(w, h.Log, err)
		return
	}
	if h.Log != nil {
		h.Log.Infof("[APPLE IAP] notification %s order=%s event=%s", n.NotificationType, event.Data.OrderID, event.Type)
	}
	writeJSON(w, http.StatusOK, event)
}
