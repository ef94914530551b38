package models

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Receipt is the raw validated payload of one store token.
type Receipt struct {
	ID          string          `json:"id"`
	Hash        string          `json:"hash"`
	Token       string          `json:"token"`
	Platform    Platform        `json:"platform"`
	UserID      string          `json:"userId"`
	ReceiptDate time.Time       `json:"receiptDate"`
	Data        json.RawMessage `json:"data"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// ReceiptHash fingerprints a raw token. It is the natural key of a Receipt.
func ReceiptHash(token string) string {
	sum := md5.Sum([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ParsedReceipt is a parser's output. Purchases are sorted newest first.
type ParsedReceipt struct {
	Receipt   Receipt
	Purchases []*Purchase
}

// RawReceipt is a validated provider payload. Only the types in this package
// implement it.
type RawReceipt interface {
	RawPlatform() Platform
}

func (*AppleReceiptResponse) RawPlatform() Platform { return PlatformIOS }

func (*GoogleReceipt) RawPlatform() Platform { return PlatformAndroid }
