package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"iapBack/internal/models"
)

const defaultCurrencyBaseURL = "https://cdn.jsdelivr.net/gh/fawazahmed0/currency-api@1"

// PriceConverter converts integer minor-unit prices between currencies.
type PriceConverter interface {
	Convert(ctx context.Context, price int64, from, to string, date time.Time) (int64, error)
}

type CurrencyConfig struct {
	// Daily rate tables live under {BaseURL}/{date|latest}/currencies/{base}.json
	BaseURL string

	// Optional rate table cache.
	Redis    *redis.Client
	CacheTTL time.Duration

	Client *http.Client
	Logger *slog.Logger
	Now    func() time.Time
}

type CurrencyConverter struct {
	baseURL    string
	rdb        *redis.Client
	cacheTTL   time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

func NewCurrencyConverter(cfg CurrencyConfig) *CurrencyConverter {
	c := &CurrencyConverter{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		rdb:        cfg.Redis,
		cacheTTL:   cfg.CacheTTL,
		httpClient: cfg.Client,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
	if c.baseURL == "" {
		c.baseURL = defaultCurrencyBaseURL
	}
	if c.cacheTTL <= 0 {
		c.cacheTTL = 24 * time.Hour
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Convert returns price expressed in the target currency, truncated toward
// zero. Rates are taken from the table of the given day, or the latest table
// when the day is today.
func (c *CurrencyConverter) Convert(ctx context.Context, price int64, from, to string, date time.Time) (int64, error) {
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	if from == "" || to == "" {
		return 0, &models.ConversionError{From: from, To: to, Reason: "currency code is empty"}
	}
	if from == to {
		return price, nil
	}

	day := date.UTC().Format("2006-01-02")
	if day == c.now().UTC().Format("2006-01-02") {
		day = "latest"
	}

	rates, err := c.rates(ctx, day, from)
	if err != nil {
		return 0, err
	}
	rate, ok := rates[to]
	if !ok || rate == 0 {
		return 0, &models.ConversionError{From: from, To: to, Reason: "currency not found in rate table"}
	}
	return int64(float64(price) * rate), nil
}

func (c *CurrencyConverter) rates(ctx context.Context, day, base string) (map[string]float64, error) {
	key := "iap:fx:" + day + ":" + base
	if c.rdb != nil {
		cached, err := c.rdb.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var rates map[string]float64
			if jsonErr := json.Unmarshal(cached, &rates); jsonErr == nil {
				return rates, nil
			}
		case !errors.Is(err, redis.Nil):
			c.logger.Warn("currency cache read failed", "key", key, "error", err)
		}
	}

	rates, err := c.fetch(ctx, day, base)
	if err != nil {
		return nil, err
	}

	if c.rdb != nil {
		ttl := c.cacheTTL
		if day == "latest" && ttl > time.Hour {
			ttl = time.Hour
		}
		if encoded, err := json.Marshal(rates); err == nil {
			if err := c.rdb.Set(ctx, key, encoded, ttl).Err(); err != nil {
				c.logger.Warn("currency cache write failed", "key", key, "error", err)
			}
		}
	}
	return rates, nil
}

func (c *CurrencyConverter) fetch(ctx context.Context, day, base string) (map[string]float64, error) {
	url := fmt.Sprintf("%s/%s/currencies/%s.json", c.baseURL, day, base)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &models.ConversionError{From: base, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &models.ConversionError{From: base, Status: resp.StatusCode, Reason: "failed to get forex data"}
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &models.ConversionError{From: base, Reason: "decode forex data: " + err.Error()}
	}
	raw, ok := body[base]
	if !ok {
		return nil, &models.ConversionError{From: base, Reason: "base currency missing from forex data"}
	}
	var rates map[string]float64
	if err := json.Unmarshal(raw, &rates); err != nil {
		return nil, &models.ConversionError{From: base, Reason: "decode forex rates: " + err.Error()}
	}
	c.logger.Info("forex table loaded", "day", day, "base", base, "pairs", len(rates))
	return rates, nil
}
