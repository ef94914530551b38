package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"iapBack/internal/models"
)

const productColumns = `id, name, sku_ios, sku_android, price, currency, created_at, updated_at`

func scanProduct(row rowScanner) (*models.Product, error) {
	var (
		p                  models.Product
		skuIOS, skuAndroid sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Name, &skuIOS, &skuAndroid, &p.Price, &p.Currency, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.SkuIOS = skuIOS.String
	p.SkuAndroid = skuAndroid.String
	return &p, nil
}

func (r *IAPRepository) getProduct(ctx context.Context, query string, args ...interface{}) (*models.Product, error) {
	row, err := r.queryRow(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// GetProductBySku looks a SKU up in the column of the given store.
func (r *IAPRepository) GetProductBySku(ctx context.Context, sku string, platform models.Platform) (*models.Product, error) {
	column := "sku_ios"
	switch platform {
	case models.PlatformIOS:
	case models.PlatformAndroid:
		column = "sku_android"
	default:
		return nil, models.ErrUnsupportedPlatform
	}
	return r.getProduct(ctx, `SELECT `+productColumns+` FROM products WHERE `+column+` = ? LIMIT 1`, sku)
}

func (r *IAPRepository) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	return r.getProduct(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
}

func (r *IAPRepository) ListProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := r.query(ctx, `SELECT `+productColumns+` FROM products ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *IAPRepository) CreateProduct(ctx context.Context, p models.Product) (*models.Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = r.timestamp()
	p.UpdatedAt = p.CreatedAt
	_, err := r.exec(ctx, `INSERT INTO products (`+productColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, nullString(p.SkuIOS), nullString(p.SkuAndroid), p.Price, p.Currency, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	return &p, nil
}

func (r *IAPRepository) UpdateProduct(ctx context.Context, p models.Product) (*models.Product, error) {
	p.UpdatedAt = r.timestamp()
	res, err := r.exec(ctx, `UPDATE products SET name = ?, sku_ios = ?, sku_android = ?, price = ?, currency = ?, updated_at = ? WHERE id = ?`,
		p.Name, nullString(p.SkuIOS), nullString(p.SkuAndroid), p.Price, p.Currency, p.UpdatedAt, p.ID)
	if err != nil {
		return nil, fmt.Errorf("update product %s: %w", p.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, models.ErrNoRecord
	}
	return r.GetProductByID(ctx, p.ID)
}
