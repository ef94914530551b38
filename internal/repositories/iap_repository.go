package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"iapBack/internal/models"
)

// IAPRepository stores receipts, purchases, products and raw store
// notifications. Lookups return (nil, nil) when nothing matches.
type IAPRepository struct {
	DB      *sql.DB
	Dialect Dialect

	once sync.Once
	err  error
	now  func() time.Time
}

func NewIAPRepository(db *sql.DB, dialect Dialect) *IAPRepository {
	return &IAPRepository{DB: db, Dialect: dialect, now: time.Now}
}

func (r *IAPRepository) ensureSchema(ctx context.Context) error {
	r.once.Do(func() {
		for _, ddl := range r.Dialect.schema() {
			if _, err := r.DB.ExecContext(ctx, ddl); err != nil {
				r.err = fmt.Errorf("ensure iap schema: %w", err)
				return
			}
		}
	})
	return r.err
}

func (r *IAPRepository) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return r.DB.ExecContext(ctx, r.Dialect.Rebind(query), args...)
}

func (r *IAPRepository) queryRow(ctx context.Context, query string, args ...interface{}) (*sql.Row, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return r.DB.QueryRowContext(ctx, r.Dialect.Rebind(query), args...), nil
}

func (r *IAPRepository) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return r.DB.QueryContext(ctx, r.Dialect.Rebind(query), args...)
}

func (r *IAPRepository) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Millisecond)
}

var purchaseColumns = []string{
	"id", "receipt_id", "user_id", "product_id", "platform", "order_id",
	"product_sku", "product_type", "is_sandbox", "quantity",
	"price", "currency", "converted_price", "converted_currency",
	"purchase_date", "receipt_date", "expiration_date", "grace_period_end_date",
	"is_refunded", "refund_date", "refund_reason",
	"is_subscription", "is_trial", "is_intro_offer_period", "is_subscription_active",
	"is_subscription_renewable", "is_subscription_retry_period", "is_subscription_grace_period",
	"is_subscription_paused", "is_trial_conversion",
	"original_order_id", "original_purchase_id", "linked_order_id", "linked_purchase_id", "linked_token",
	"subscription_group", "subscription_renewal_product_sku", "subscription_period_type",
	"subscription_state", "subscription_status", "cancellation_reason",
}

func purchaseSelect(alias string) string {
	if alias == "" {
		return strings.Join(purchaseColumns, ", ")
	}
	cols := make([]string, len(purchaseColumns))
	for i, c := range purchaseColumns {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// purchaseArgs lists values in purchaseColumns order.
func purchaseArgs(p models.Purchase) []interface{} {
	return []interface{}{
		p.ID, p.ReceiptID, nullString(p.UserID), nullString(p.ProductID), string(p.Platform), p.OrderID,
		p.ProductSku, string(p.ProductType), p.IsSandbox, p.Quantity,
		p.Price, nullString(p.Currency), p.ConvertedPrice, nullString(p.ConvertedCurrency),
		p.PurchaseDate.UTC(), p.ReceiptDate.UTC(), nullTime(p.ExpirationDate), nullTime(p.GracePeriodEndDate),
		p.IsRefunded, nullTime(p.RefundDate), nullString(string(p.RefundReason)),
		p.IsSubscription, p.IsTrial, p.IsIntroOfferPeriod, p.IsSubscriptionActive,
		p.IsSubscriptionRenewable, p.IsSubscriptionRetryPeriod, p.IsSubscriptionGracePeriod,
		p.IsSubscriptionPaused, p.IsTrialConversion,
		nullString(p.OriginalOrderID), nullString(p.OriginalPurchaseID), nullString(p.LinkedOrderID),
		nullString(p.LinkedPurchaseID), nullString(p.LinkedToken),
		nullString(p.SubscriptionGroup), nullString(p.SubscriptionRenewalProductSku),
		nullString(string(p.SubscriptionPeriodType)), nullString(string(p.SubscriptionState)),
		nullString(string(p.SubscriptionStatus)), nullString(string(p.CancellationReason)),
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPurchase(row rowScanner) (*models.Purchase, error) {
	var (
		p                                                          models.Purchase
		userID, productID, currency, convertedCurrency             sql.NullString
		refundReason, originalOrderID, originalPurchaseID          sql.NullString
		linkedOrderID, linkedPurchaseID, linkedToken               sql.NullString
		group, renewalSku, periodType, state, status, cancellation sql.NullString
		platform, productType                                      string
		expiration, graceEnd, refundDate                           sql.NullTime
	)
	err := row.Scan(
		&p.ID, &p.ReceiptID, &userID, &productID, &platform, &p.OrderID,
		&p.ProductSku, &productType, &p.IsSandbox, &p.Quantity,
		&p.Price, &currency, &p.ConvertedPrice, &convertedCurrency,
		&p.PurchaseDate, &p.ReceiptDate, &expiration, &graceEnd,
		&p.IsRefunded, &refundDate, &refundReason,
		&p.IsSubscription, &p.IsTrial, &p.IsIntroOfferPeriod, &p.IsSubscriptionActive,
		&p.IsSubscriptionRenewable, &p.IsSubscriptionRetryPeriod, &p.IsSubscriptionGracePeriod,
		&p.IsSubscriptionPaused, &p.IsTrialConversion,
		&originalOrderID, &originalPurchaseID, &linkedOrderID, &linkedPurchaseID, &linkedToken,
		&group, &renewalSku, &periodType, &state, &status, &cancellation,
	)
	if err != nil {
		return nil, err
	}
	p.UserID = userID.String
	p.ProductID = productID.String
	p.Platform = models.Platform(platform)
	p.ProductType = models.ProductType(productType)
	p.Currency = currency.String
	p.ConvertedCurrency = convertedCurrency.String
	p.PurchaseDate = p.PurchaseDate.UTC()
	p.ReceiptDate = p.ReceiptDate.UTC()
	p.ExpirationDate = timeFromNull(expiration)
	p.GracePeriodEndDate = timeFromNull(graceEnd)
	p.RefundDate = timeFromNull(refundDate)
	p.RefundReason = models.RefundReason(refundReason.String)
	p.OriginalOrderID = originalOrderID.String
	p.OriginalPurchaseID = originalPurchaseID.String
	p.LinkedOrderID = linkedOrderID.String
	p.LinkedPurchaseID = linkedPurchaseID.String
	p.LinkedToken = linkedToken.String
	p.SubscriptionGroup = group.String
	p.SubscriptionRenewalProductSku = renewalSku.String
	p.SubscriptionPeriodType = models.SubscriptionPeriodType(periodType.String)
	p.SubscriptionState = models.SubscriptionState(state.String)
	p.SubscriptionStatus = models.SubscriptionStatus(status.String)
	p.CancellationReason = models.CancellationReason(cancellation.String)
	return &p, nil
}

func (r *IAPRepository) getPurchase(ctx context.Context, query string, args ...interface{}) (*models.Purchase, error) {
	row, err := r.queryRow(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	p, err := scanPurchase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (r *IAPRepository) listPurchases(ctx context.Context, query string, args ...interface{}) ([]models.Purchase, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *IAPRepository) GetPurchaseByID(ctx context.Context, id string) (*models.Purchase, error) {
	return r.getPurchase(ctx, `SELECT `+purchaseSelect("")+` FROM purchases WHERE id = ?`, id)
}

// GetPurchaseByOrderID looks up an order within one store. Order ids are only
// unique per platform.
func (r *IAPRepository) GetPurchaseByOrderID(ctx context.Context, platform models.Platform, orderID string) (*models.Purchase, error) {
	return r.getPurchase(ctx, `SELECT `+purchaseSelect("")+` FROM purchases
WHERE platform = ? AND order_id = ? ORDER BY purchase_date DESC LIMIT 1`, string(platform), orderID)
}

// GetLatestPurchaseByOriginalOrderID returns the newest purchase of a chain,
// including the chain root itself.
func (r *IAPRepository) GetLatestPurchaseByOriginalOrderID(ctx context.Context, originalOrderID string) (*models.Purchase, error) {
	return r.getPurchase(ctx, `SELECT `+purchaseSelect("")+` FROM purchases
WHERE original_order_id = ? OR order_id = ? ORDER BY purchase_date DESC LIMIT 1`, originalOrderID, originalOrderID)
}

func (r *IAPRepository) GetPurchasesByReceiptHash(ctx context.Context, hash string) ([]models.Purchase, error) {
	return r.listPurchases(ctx, `SELECT `+purchaseSelect("p")+` FROM purchases p
JOIN receipts r ON r.id = p.receipt_id
WHERE r.hash = ? ORDER BY p.purchase_date DESC`, hash)
}

func (r *IAPRepository) GetPurchasesByUserID(ctx context.Context, userID string) ([]models.Purchase, error) {
	return r.listPurchases(ctx, `SELECT `+purchaseSelect("")+` FROM purchases WHERE user_id = ? ORDER BY purchase_date DESC`, userID)
}

// GetPurchasesToRefresh returns the newest active or renewing purchase of
// every subscription chain.
func (r *IAPRepository) GetPurchasesToRefresh(ctx context.Context) ([]models.Purchase, error) {
	all, err := r.listPurchases(ctx, `SELECT `+purchaseSelect("")+` FROM purchases
WHERE is_subscription = TRUE AND (is_subscription_active = TRUE OR is_subscription_renewable = TRUE)
ORDER BY purchase_date DESC`)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(all))
	out := make([]models.Purchase, 0, len(all))
	for _, p := range all {
		key := p.ChainKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

func (r *IAPRepository) CreatePurchase(ctx context.Context, p models.Purchase) (*models.Purchase, error) {
	if p.OrderID == "" {
		return nil, errors.New("create purchase: order id is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := r.timestamp()
	args := append(purchaseArgs(p), now, now)
	query := `INSERT INTO purchases (` + purchaseSelect("") + `, created_at, updated_at) VALUES (` +
		placeholders(len(purchaseColumns)+2) + `)`
	if _, err := r.exec(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("create purchase %s: %w", p.OrderID, err)
	}
	return &p, nil
}

func (r *IAPRepository) UpdatePurchase(ctx context.Context, p models.Purchase) (*models.Purchase, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("update purchase %s: %w", p.OrderID, models.ErrNoRecord)
	}
	sets := make([]string, 0, len(purchaseColumns))
	for _, c := range purchaseColumns[1:] {
		sets = append(sets, c+" = ?")
	}
	args := append(purchaseArgs(p)[1:], r.timestamp(), p.ID)
	query := `UPDATE purchases SET ` + strings.Join(sets, ", ") + `, updated_at = ? WHERE id = ?`
	if _, err := r.exec(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("update purchase %s: %w", p.OrderID, err)
	}
	return &p, nil
}

// GetUserID returns the owner of the newest owned purchase among orderIDs.
func (r *IAPRepository) GetUserID(ctx context.Context, orderIDs []string) (string, error) {
	if len(orderIDs) == 0 {
		return "", nil
	}
	args := make([]interface{}, len(orderIDs))
	for i, id := range orderIDs {
		args[i] = id
	}
	row, err := r.queryRow(ctx, `SELECT user_id FROM purchases
WHERE order_id IN (`+placeholders(len(orderIDs))+`) AND user_id IS NOT NULL
ORDER BY purchase_date DESC LIMIT 1`, args...)
	if err != nil {
		return "", err
	}
	var userID sql.NullString
	if err := row.Scan(&userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return userID.String, nil
}

// SyncUserID moves every purchase and receipt of oldUserID to newUserID.
func (r *IAPRepository) SyncUserID(ctx context.Context, oldUserID, newUserID string) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := r.timestamp()
	if _, err := tx.ExecContext(ctx, r.Dialect.Rebind(`UPDATE purchases SET user_id = ?, updated_at = ? WHERE user_id = ?`),
		newUserID, now, oldUserID); err != nil {
		return fmt.Errorf("sync purchases user: %w", err)
	}
	if _, err := tx.ExecContext(ctx, r.Dialect.Rebind(`UPDATE receipts SET user_id = ? WHERE user_id = ?`),
		newUserID, oldUserID); err != nil {
		return fmt.Errorf("sync receipts user: %w", err)
	}
	return tx.Commit()
}
