package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iapBack/internal/models"
)

func ms(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func appleTx(id, t string) models.AppleTransaction {
	return models.AppleTransaction{TransactionID: id, PurchaseDateMs: t, ProductID: "coins", Quantity: "1"}
}

func transactionIDs(txs []models.AppleTransaction) []string {
	out := make([]string, 0, len(txs))
	for _, tx := range txs {
		out = append(out, tx.TransactionID)
	}
	return out
}

func TestMergeAppleTransactions(t *testing.T) {
	inApp := []models.AppleTransaction{appleTx("100", "100000"), appleTx("300", "300000")}
	latest := []models.AppleTransaction{appleTx("200", "200000"), appleTx("300", "300000"), appleTx("400", "400000")}

	got := MergeAppleTransactions(inApp, latest, 300000, false)
	assert.Equal(t, []string{"300", "200", "100"}, transactionIDs(got))

	got = MergeAppleTransactions(inApp, latest, 300000, true)
	assert.Equal(t, []string{"400", "300", "200", "100"}, transactionIDs(got))
}

func newTestAppleService(t *testing.T, prodURL, sandboxURL string, db Database) *AppleIAPService {
	t.Helper()
	svc, err := NewAppleIAPService(AppleIAPConfig{
		SharedSecret:  "secret",
		ProductionURL: prodURL,
		SandboxURL:    sandboxURL,
		DB:            db,
		Now:           func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return svc
}

func TestAppleValidateRetriesSandboxOnce(t *testing.T) {
	var prodCalls, sandboxCalls int32
	prod := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&prodCalls, 1)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "secret", body["password"])
		assert.Equal(t, "receipt-data", body["receipt-data"])
		_, _ = w.Write([]byte(`{"status":21007}`))
	}))
	defer prod.Close()
	sandbox := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&sandboxCalls, 1)
		_, _ = w.Write([]byte(`{"status":0,"environment":"Sandbox","receipt":{"receipt_creation_date_ms":"1000","in_app":[]}}`))
	}))
	defer sandbox.Close()

	svc := newTestAppleService(t, prod.URL, sandbox.URL, nil)
	raw, err := svc.Validate(context.Background(), "receipt-data", "coins")
	require.NoError(t, err)

	resp, ok := raw.(*models.AppleReceiptResponse)
	require.True(t, ok)
	assert.Equal(t, "Sandbox", resp.Environment)
	assert.NotEmpty(t, resp.Raw)
	assert.EqualValues(t, 1, atomic.LoadInt32(&prodCalls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&sandboxCalls))
}

func TestAppleValidateStatusCodes(t *testing.T) {
	tests := []struct {
		status  int
		wantErr bool
		message string
	}{
		{0, false, ""},
		{21006, false, ""},
		{21000, true, "Apple expects a correctly formatted HTTP POST, the request was not one"},
		{21002, true, "The receipt is malformed or was modified"},
		{21003, true, "Apple said the request was unauthorized, check the shared secret"},
		{21004, true, "The shared secret does not match the one on file for the account"},
		{21005, true, "Apple's receipt service is down, try again later"},
		{21150, true, "Apple's receipt service is down, try again later"},
		{21010, true, "Apple could not find the customer, the account may have been deleted"},
		{21099, true, "Apple rejected the receipt"},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"status":` + strconv.Itoa(tt.status) + `}`))
			}))
			defer srv.Close()

			svc := newTestAppleService(t, srv.URL, srv.URL, nil)
			_, err := svc.Validate(context.Background(), "token", "")
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			var pve *models.ProviderValidationError
			require.True(t, errors.As(err, &pve), "expected ProviderValidationError, got %v", err)
			assert.Equal(t, tt.status, pve.Code)
			assert.Equal(t, tt.message+" (error code: "+strconv.Itoa(tt.status)+")", pve.Error())
		})
	}
}

func TestAppleValidateHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	svc := newTestAppleService(t, srv.URL, srv.URL, nil)
	_, err := svc.Validate(context.Background(), "token", "")
	var pve *models.ProviderValidationError
	require.True(t, errors.As(err, &pve))
	assert.Equal(t, http.StatusBadGateway, pve.Code)
}

func TestAppleVerifyNotification(t *testing.T) {
	svc := newTestAppleService(t, "", "", nil)

	var n models.AppleStatusNotification
	n.Password = "secret"
	n.UnifiedReceipt.LatestReceipt = "BASE64"
	assert.NoError(t, svc.VerifyNotification(n))

	n.Password = "wrong"
	assert.ErrorIs(t, svc.VerifyNotification(n), models.ErrBadNotification)

	n.Password = "secret"
	n.UnifiedReceipt.LatestReceipt = ""
	assert.ErrorIs(t, svc.VerifyNotification(n), models.ErrBadNotification)
}

func subscriptionChainResponse() *models.AppleReceiptResponse {
	day := 24 * time.Hour
	t1 := models.AppleTransaction{
		Quantity: "1", ProductID: "monthly", TransactionID: "t1", OriginalTransactionID: "t1",
		WebOrderLineItemID: "w1", PurchaseDateMs: ms(testNow.Add(-40 * day)), ExpiresDateMs: ms(testNow.Add(-33 * day)),
		IsTrialPeriod: "true", SubscriptionGroupIdentifier: "group",
	}
	t2 := models.AppleTransaction{
		Quantity: "1", ProductID: "monthly", TransactionID: "t2", OriginalTransactionID: "t1",
		WebOrderLineItemID: "w2", PurchaseDateMs: ms(testNow.Add(-33 * day)), ExpiresDateMs: ms(testNow.Add(-3 * day)),
		IsTrialPeriod: "false",
	}
	t3 := models.AppleTransaction{
		Quantity: "1", ProductID: "monthly", TransactionID: "t3", OriginalTransactionID: "t1",
		WebOrderLineItemID: "w3", PurchaseDateMs: ms(testNow.Add(-3 * day)), ExpiresDateMs: ms(testNow.Add(27 * day)),
		IsTrialPeriod: "false",
	}
	return &models.AppleReceiptResponse{
		Status:      0,
		Environment: "Production",
		Receipt: models.AppleReceipt{
			ReceiptCreationDateMs: ms(testNow),
			InApp:                 []models.AppleTransaction{t1},
		},
		LatestReceiptInfo: []models.AppleTransaction{t1, t2, t3},
		PendingRenewalInfo: []models.AppleRenewalInfo{{
			OriginalTransactionID: "t1",
			ProductID:             "monthly",
			AutoRenewProductID:    "yearly",
			AutoRenewStatus:       "1",
		}},
	}
}

func TestAppleParseReceiptSubscriptionChain(t *testing.T) {
	db := newMemDB(models.Product{ID: "prod-1", SkuIOS: "monthly", Price: 499, Currency: "usd"})
	svc := newTestAppleService(t, "", "", db)

	parsed, err := svc.ParseReceipt(context.Background(), subscriptionChainResponse(), "token", "monthly", false)
	require.NoError(t, err)
	require.Len(t, parsed.Purchases, 3)

	assert.Equal(t, models.ReceiptHash("token"), parsed.Receipt.Hash)
	assert.True(t, parsed.Receipt.ReceiptDate.Equal(testNow.Truncate(time.Millisecond)))

	latest := parsed.Purchases[0]
	assert.Equal(t, "w3", latest.OrderID)
	assert.Equal(t, "w1", latest.OriginalOrderID)
	assert.Equal(t, "w2", latest.LinkedOrderID)
	assert.Equal(t, "group", latest.SubscriptionGroup)
	assert.Equal(t, models.ProductTypeRenewableSubscription, latest.ProductType)
	assert.True(t, latest.IsSubscriptionActive)
	assert.True(t, latest.IsSubscriptionRenewable)
	assert.False(t, latest.IsTrialConversion)
	assert.Equal(t, "yearly", latest.SubscriptionRenewalProductSku)
	assert.Equal(t, models.StatusActive, latest.SubscriptionStatus)
	assert.Equal(t, "prod-1", latest.ProductID)
	assert.EqualValues(t, 499, latest.Price)
	assert.Equal(t, "usd", latest.ConvertedCurrency)

	renewal := parsed.Purchases[1]
	assert.Equal(t, "w2", renewal.OrderID)
	assert.Equal(t, "w1", renewal.LinkedOrderID)
	assert.True(t, renewal.IsTrialConversion)
	assert.False(t, renewal.IsSubscriptionRenewable, "renewal info belongs to the newest transaction only")
	assert.Equal(t, models.StatusExpired, renewal.SubscriptionStatus)

	first := parsed.Purchases[2]
	assert.Equal(t, "w1", first.OrderID)
	assert.Equal(t, "w1", first.OriginalOrderID)
	assert.Empty(t, first.LinkedOrderID)
	assert.Equal(t, models.PeriodTypeTrial, first.SubscriptionPeriodType)
}

func TestAppleParseReceiptGracePeriod(t *testing.T) {
	tx := models.AppleTransaction{
		Quantity: "1", ProductID: "monthly", TransactionID: "t1", OriginalTransactionID: "t1",
		WebOrderLineItemID: "w1", PurchaseDateMs: ms(testNow.Add(-30 * 24 * time.Hour)), ExpiresDateMs: ms(testNow.Add(-time.Hour)),
	}
	resp := &models.AppleReceiptResponse{
		Environment: "Sandbox",
		Receipt:     models.AppleReceipt{ReceiptCreationDateMs: ms(testNow), InApp: []models.AppleTransaction{tx}},
		PendingRenewalInfo: []models.AppleRenewalInfo{{
			OriginalTransactionID:    "t1",
			ProductID:                "monthly",
			AutoRenewProductID:       "monthly",
			AutoRenewStatus:          "1",
			IsInBillingRetryPeriod:   "1",
			ExpirationIntent:         "2",
			GracePeriodExpiresDateMs: ms(testNow.Add(48 * time.Hour)),
		}},
	}

	svc := newTestAppleService(t, "", "", nil)
	parsed, err := svc.ParseReceipt(context.Background(), resp, "token", "monthly", false)
	require.NoError(t, err)
	require.Len(t, parsed.Purchases, 1)

	p := parsed.Purchases[0]
	assert.True(t, p.IsSandbox)
	assert.True(t, p.IsSubscriptionActive)
	assert.True(t, p.IsSubscriptionGracePeriod)
	require.NotNil(t, p.GracePeriodEndDate)
	assert.Empty(t, p.SubscriptionRenewalProductSku)
	assert.Equal(t, models.StatusGracePeriod, p.SubscriptionStatus)
	assert.Empty(t, p.CancellationReason)
}

func TestAppleParseReceiptRefundedConsumable(t *testing.T) {
	tx := appleTx("500", ms(testNow.Add(-time.Hour)))
	tx.Quantity = "3"
	tx.CancellationDateMs = ms(testNow)
	tx.CancellationReason = "1"
	resp := &models.AppleReceiptResponse{
		Environment: "Production",
		Receipt:     models.AppleReceipt{ReceiptCreationDateMs: ms(testNow), InApp: []models.AppleTransaction{tx}},
	}

	svc := newTestAppleService(t, "", "", nil)
	parsed, err := svc.ParseReceipt(context.Background(), resp, "token", "coins", false)
	require.NoError(t, err)
	require.Len(t, parsed.Purchases, 1)

	p := parsed.Purchases[0]
	assert.Equal(t, "500", p.OrderID)
	assert.EqualValues(t, 3, p.Quantity)
	assert.False(t, p.IsSubscription)
	assert.True(t, p.IsRefunded)
	assert.Equal(t, models.RefundIssue, p.RefundReason)
	require.NotNil(t, p.RefundDate)
}

func TestAppleParseReceiptRejectsGoogleReceipt(t *testing.T) {
	svc := newTestAppleService(t, "", "", nil)
	_, err := svc.ParseReceipt(context.Background(), &models.GoogleReceipt{}, "token", "sku", false)
	var nie *models.NotImplementedError
	assert.True(t, errors.As(err, &nie))
}

func TestAppleReceiptDateFollowsRequestWhenIncludingNewer(t *testing.T) {
	r := models.AppleReceipt{ReceiptCreationDateMs: ms(testNow), RequestDateMs: ms(testNow.Add(time.Hour))}
	assert.Equal(t, testNow.UnixMilli(), appleReceiptDateMillis(r, false))
	assert.Equal(t, testNow.Add(time.Hour).UnixMilli(), appleReceiptDateMillis(r, true))

	r.RequestDateMs = ""
	assert.Equal(t, testNow.UnixMilli(), appleReceiptDateMillis(r, true))
}

func TestAppleRevalidationOfStoredTokenPicksUpRefund(t *testing.T) {
	db := newMemDB(models.Product{ID: "prod-1", SkuIOS: "monthly", Price: 499, Currency: "usd"})
	apple := newTestAppleService(t, "", "", db)
	reconciler := NewReconcileService(db, nil, nil)
	ctx := context.Background()

	first := subscriptionChainResponse()
	first.Receipt.RequestDateMs = ms(testNow.Add(time.Hour))
	parsed, err := apple.ParseReceipt(ctx, first, "token", "monthly", true)
	require.NoError(t, err)
	_, err = reconciler.ProcessParsedReceipt(ctx, parsed, "", false)
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, db.stored()["w3"].SubscriptionStatus)

	second := subscriptionChainResponse()
	second.Receipt.RequestDateMs = ms(testNow.Add(2 * time.Hour))
	second.LatestReceiptInfo[2].CancellationDateMs = ms(testNow.Add(-time.Minute))
	second.LatestReceiptInfo[2].CancellationReason = "1"
	parsed, err = apple.ParseReceipt(ctx, second, "token", "monthly", true)
	require.NoError(t, err)

	event, err := reconciler.ProcessParsedReceipt(ctx, parsed, "", false)
	require.NoError(t, err)
	assert.Equal(t, models.EventRefund, event.Type)

	stored := db.stored()["w3"]
	assert.True(t, stored.IsRefunded)
	assert.Equal(t, models.RefundIssue, stored.RefundReason)
	assert.Equal(t, models.StatusRefunded, stored.SubscriptionStatus)
	assert.True(t, stored.ReceiptDate.Equal(models.MillisTime(testNow.Add(2*time.Hour).UnixMilli())))
}

func TestAppleValidateRequiresToken(t *testing.T) {
	svc := newTestAppleService(t, "", "", nil)
	_, err := svc.Validate(context.Background(), "  ", "coins")
	assert.ErrorIs(t, err, models.ErrMissingToken)
}
