package services

import (
	"context"

	"iapBack/internal/models"
)

// Logger is the logging surface services write to.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// Database is the persistence contract of the reconciliation pipeline.
// Lookups return (nil, nil) when nothing matches.
type Database interface {
	GetPurchaseByOrderID(ctx context.Context, platform models.Platform, orderID string) (*models.Purchase, error)
	GetLatestPurchaseByOriginalOrderID(ctx context.Context, originalOrderID string) (*models.Purchase, error)
	GetPurchasesByReceiptHash(ctx context.Context, hash string) ([]models.Purchase, error)
	CreatePurchase(ctx context.Context, p models.Purchase) (*models.Purchase, error)
	UpdatePurchase(ctx context.Context, p models.Purchase) (*models.Purchase, error)
	GetUserID(ctx context.Context, orderIDs []string) (string, error)
	SyncUserID(ctx context.Context, oldUserID, newUserID string) error

	GetReceiptByHash(ctx context.Context, hash string) (*models.Receipt, error)
	CreateReceipt(ctx context.Context, r models.Receipt) (*models.Receipt, error)
	UpdateReceipt(ctx context.Context, r models.Receipt) (*models.Receipt, error)

	GetProductBySku(ctx context.Context, sku string, platform models.Platform) (*models.Product, error)
}

// Provider validates and parses tokens of one store.
type Provider interface {
	Platform() models.Platform
	Validate(ctx context.Context, token, sku string) (models.RawReceipt, error)
	ParseReceipt(ctx context.Context, raw models.RawReceipt, token, sku string, includeNewer bool) (models.ParsedReceipt, error)
}

// lookupProduct is the best-effort catalog lookup used by both parsers.
func lookupProduct(ctx context.Context, db Database, sku string, platform models.Platform) (*models.Product, error) {
	if db == nil || sku == "" {
		return nil, nil
	}
	return db.GetProductBySku(ctx, sku, platform)
}
