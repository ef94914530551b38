package models

import (
	"errors"
	"fmt"
)

var (
	ErrNoRecord            = errors.New("models: no matching record found")
	ErrUnsupportedPlatform = errors.New("models: unsupported platform")
	ErrBadNotification     = errors.New("models: notification rejected")
	ErrEmptyReceipt        = errors.New("models: receipt contains no purchases")
	ErrMissingToken        = errors.New("models: token or sku missing")
)

// ProviderValidationError means the store rejected a token.
type ProviderValidationError struct {
	Platform Platform
	Code     int
	Reason   string
	Message  string
}

func (e *ProviderValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (error code: %d, reason: %s)", e.Message, e.Code, e.Reason)
	}
	return fmt.Sprintf("%s (error code: %d)", e.Message, e.Code)
}

// NotImplementedError signals a provider asked to handle something it does
// not support. It is a programming error.
type NotImplementedError struct {
	Operation string
}

func (e *NotImplementedError) Error() string {
	return "not implemented: " + e.Operation
}

// ConversionError is returned when an exchange rate could not be resolved.
type ConversionError struct {
	From   string
	To     string
	Status int
	Reason string
}

func (e *ConversionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("convert %s to %s: %s (status %d)", e.From, e.To, e.Reason, e.Status)
	}
	return fmt.Sprintf("convert %s to %s: %s", e.From, e.To, e.Reason)
}
