package repositories

import (
	"database/sql"
	"strconv"
	"strings"
	"time"
)

// Dialect selects placeholder style and DDL for a SQL driver.
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "pgx"
)

// ParseDialect maps a database/sql driver name to a dialect.
func ParseDialect(driver string) Dialect {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "pgx", "postgres", "postgresql":
		return DialectPostgres
	}
	return DialectMySQL
}

// Rebind rewrites ? placeholders into $1, $2, ... for Postgres.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timeFromNull(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}

var mysqlSchema = []string{`
CREATE TABLE IF NOT EXISTS receipts (
    id VARCHAR(36) NOT NULL,
    hash VARCHAR(64) NOT NULL,
    token LONGTEXT NOT NULL,
    platform VARCHAR(16) NOT NULL,
    user_id VARCHAR(255) NULL,
    receipt_date DATETIME(3) NOT NULL,
    data LONGTEXT,
    created_at DATETIME(3) NOT NULL,
    PRIMARY KEY (id),
    UNIQUE KEY uniq_receipt_hash (hash),
    KEY idx_receipt_user (user_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, `
CREATE TABLE IF NOT EXISTS products (
    id VARCHAR(36) NOT NULL,
    name VARCHAR(255) NOT NULL DEFAULT '',
    sku_ios VARCHAR(255) NULL,
    sku_android VARCHAR(255) NULL,
    price BIGINT NOT NULL DEFAULT 0,
    currency VARCHAR(3) NOT NULL,
    created_at DATETIME(3) NOT NULL,
    updated_at DATETIME(3) NOT NULL,
    PRIMARY KEY (id),
    KEY idx_product_sku_ios (sku_ios),
    KEY idx_product_sku_android (sku_android)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, `
CREATE TABLE IF NOT EXISTS purchases (
    id VARCHAR(36) NOT NULL,
    receipt_id VARCHAR(36) NOT NULL,
    user_id VARCHAR(255) NULL,
    product_id VARCHAR(36) NULL,
    platform VARCHAR(16) NOT NULL,
    order_id VARCHAR(255) NOT NULL,
    product_sku VARCHAR(255) NOT NULL,
    product_type VARCHAR(32) NOT NULL,
    is_sandbox BOOLEAN NOT NULL DEFAULT FALSE,
    quantity BIGINT NOT NULL DEFAULT 1,
    price BIGINT NOT NULL DEFAULT 0,
    currency VARCHAR(3) NULL,
    converted_price BIGINT NOT NULL DEFAULT 0,
    converted_currency VARCHAR(3) NULL,
    purchase_date DATETIME(3) NOT NULL,
    receipt_date DATETIME(3) NOT NULL,
    expiration_date DATETIME(3) NULL,
    grace_period_end_date DATETIME(3) NULL,
    is_refunded BOOLEAN NOT NULL DEFAULT FALSE,
    refund_date DATETIME(3) NULL,
    refund_reason VARCHAR(32) NULL,
    is_subscription BOOLEAN NOT NULL DEFAULT FALSE,
    is_trial BOOLEAN NOT NULL DEFAULT FALSE,
    is_intro_offer_period BOOLEAN NOT NULL DEFAULT FALSE,
    is_subscription_active BOOLEAN NOT NULL DEFAULT FALSE,
    is_subscription_renewable BOOLEAN NOT NULL DEFAULT FALSE,
    is_subscription_retry_period BOOLEAN NOT NULL DEFAULT FALSE,
    is_subscription_grace_period BOOLEAN NOT NULL DEFAULT FALSE,
    is_subscription_paused BOOLEAN NOT NULL DEFAULT FALSE,
    is_trial_conversion BOOLEAN NOT NULL DEFAULT FALSE,
    original_order_id VARCHAR(255) NULL,
    original_purchase_id VARCHAR(36) NULL,
    linked_order_id VARCHAR(255) NULL,
    linked_purchase_id VARCHAR(36) NULL,
    linked_token TEXT NULL,
    subscription_group VARCHAR(255) NULL,
    subscription_renewal_product_sku VARCHAR(255) NULL,
    subscription_period_type VARCHAR(16) NULL,
    subscription_state VARCHAR(16) NULL,
    subscription_status VARCHAR(16) NULL,
    cancellation_reason VARCHAR(32) NULL,
    created_at DATETIME(3) NOT NULL,
    updated_at DATETIME(3) NOT NULL,
    PRIMARY KEY (id),
    UNIQUE KEY uniq_purchase_order (platform, order_id),
    KEY idx_purchase_order (order_id),
    KEY idx_purchase_original_order (original_order_id),
    KEY idx_purchase_receipt (receipt_id),
    KEY idx_purchase_user (user_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, `
CREATE TABLE IF NOT EXISTS incoming_notifications (
    id VARCHAR(36) NOT NULL,
    platform VARCHAR(16) NOT NULL,
    data LONGTEXT,
    created_at DATETIME(3) NOT NULL,
    PRIMARY KEY (id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var postgresSchema = []string{`
CREATE TABLE IF NOT EXISTS receipts (
    id VARCHAR(36) PRIMARY KEY,
    hash VARCHAR(64) NOT NULL UNIQUE,
    token TEXT NOT NULL,
    platform VARCHAR(16) NOT NULL,
    user_id VARCHAR(255) NULL,
    receipt_date TIMESTAMPTZ(3) NOT NULL,
    data TEXT,
    created_at TIMESTAMPTZ(3) NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_receipt_user ON receipts (user_id)`, `
CREATE TABLE IF NOT EXISTS products (
    id VARCHAR(36) PRIMARY KEY,
    name VARCHAR(255) NOT NULL DEFAULT '',
    sku_ios VARCHAR(255) NULL,
    sku_android VARCHAR(255) NULL,
    price BIGINT NOT NULL DEFAULT 0,
    currency VARCHAR(3) NOT NULL,
    created_at TIMESTAMPTZ(3) NOT NULL,
    updated_at TIMESTAMPTZ(3) NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_product_sku_ios ON products (sku_ios)`,
	`CREATE INDEX IF NOT EXISTS idx_product_sku_android ON products (sku_android)`, `
CREATE TABLE IF NOT EXISTS purchases (
    id VARCHAR(36) PRIMARY KEY,
    receipt_id VARCHAR(36) NOT NULL,
    user_id VARCHAR(255) NULL,
    product_id VARCHAR(36) NULL,
    platform VARCHAR(16) NOT NULL,
    order_id VARCHAR(255) NOT NULL,
    product_sku VARCHAR(255) NOT NULL,
    product_type VARCHAR(32) NOT NULL,
    is_sandbox BOOLEAN NOT NULL DEFAULT FALSE,
    quantity BIGINT NOT NULL DEFAULT 1,
    price BIGINT NOT NULL DEFAULT 0,
    currency VARCHAR(3) NULL,
    converted_price BIGINT NOT NULL DEFAULT 0,
    converted_currency VARCHAR(3) NULL,
    purchase_date TIMESTAMPTZ(3) NOT NULL,
    receipt_date TIMESTAMPTZ(3) NOT NULL,
    expiration_date TIMESTAMPTZ(3) NULL,
    grace_period_end_date TIMESTAMPTZ(3) NULL,
    is_refunded BOOLEAN NOT NULL DEFAULT FALSE,
    refund_date TIMESTAMPTZ(3) NULL,
    refund_reason VARCHAR(32) NULL,
    is_subscription BOOLEAN NOT NULL DEFAULT FALSE,
    is_trial BOOLEAN NOT NULL DEFAULT FALSE,
    is_intro_offer_period BOOLEAN NOT NULL DEFAULT FALSE,
    is_subscription_active BOOLEAN NOT NULL DEFAULT FALSE,
    is_subscription_renewable BOOLEAN NOT NULL DEFAULT FALSE,
    is_subscription_retry_period BOOLEAN NOT NULL DEFAULT FALSE,
    is_subscription_grace_period BOOLEAN NOT NULL DEFAULT FALSE,
    is_subscription_paused BOOLEAN NOT NULL DEFAULT FALSE,
    is_trial_conversion BOOLEAN NOT NULL DEFAULT FALSE,
    original_order_id VARCHAR(255) NULL,
    original_purchase_id VARCHAR(36) NULL,
    linked_order_id VARCHAR(255) NULL,
    linked_purchase_id VARCHAR(36) NULL,
    linked_token TEXT NULL,
    subscription_group VARCHAR(255) NULL,
    subscription_renewal_product_sku VARCHAR(255) NULL,
    subscription_period_type VARCHAR(16) NULL,
    subscription_state VARCHAR(16) NULL,
    subscription_status VARCHAR(16) NULL,
    cancellation_reason VARCHAR(32) NULL,
    created_at TIMESTAMPTZ(3) NOT NULL,
    updated_at TIMESTAMPTZ(3) NOT NULL,
    UNIQUE (platform, order_id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_purchase_order ON purchases (order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_purchase_original_order ON purchases (original_order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_purchase_receipt ON purchases (receipt_id)`,
	`CREATE INDEX IF NOT EXISTS idx_purchase_user ON purchases (user_id)`, `
CREATE TABLE IF NOT EXISTS incoming_notifications (
    id VARCHAR(36) PRIMARY KEY,
    platform VARCHAR(16) NOT NULL,
    data TEXT,
    created_at TIMESTAMPTZ(3) NOT NULL
)`,
}

func (d Dialect) schema() []string {
	if d == DialectPostgres {
		return postgresSchema
	}
	return mysqlSchema
}
