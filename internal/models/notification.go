package models

import (
	"encoding/json"
	"time"
)

// IncomingNotification is a store notification as it arrived on the wire.
type IncomingNotification struct {
	ID        string          `json:"id"`
	Platform  Platform        `json:"platform"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
}
