package models

import (
	"errors"
	"strings"
	"time"
)

// Product is a catalog entry with one SKU per store.
type Product struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SkuIOS     string    `json:"skuIOS"`
	SkuAndroid string    `json:"skuAndroid"`
	Price      int64     `json:"price"`
	Currency   string    `json:"currency"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (p Product) Validate() error {
	if strings.TrimSpace(p.SkuIOS) == "" && strings.TrimSpace(p.SkuAndroid) == "" {
		return errors.New("at least one of skuIOS or skuAndroid is required")
	}
	if p.Price < 0 {
		return errors.New("price must be non-negative")
	}
	if len(strings.TrimSpace(p.Currency)) != 3 {
		return errors.New("currency must be a 3-letter code")
	}
	return nil
}

// Sku returns the SKU used by the given store.
func (p Product) Sku(platform Platform) string {
	if platform == PlatformAndroid {
		return p.SkuAndroid
	}
	return p.SkuIOS
}
