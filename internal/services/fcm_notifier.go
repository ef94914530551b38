package services

import (
	"context"
	"fmt"
	"strconv"

	"firebase.google.com/go/messaging"

	"iapBack/internal/models"
)

// FCMSender is the part of *messaging.Client the notifier needs.
type FCMSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMNotifier pushes a data message to the topic of the purchase owner.
type FCMNotifier struct {
	Client      FCMSender
	TopicPrefix string
}

func NewFCMNotifier(client FCMSender) *FCMNotifier {
	return &FCMNotifier{Client: client, TopicPrefix: "user_"}
}

func (n *FCMNotifier) Notify(ctx context.Context, event models.PurchaseEvent) error {
	if event.Type == models.EventNoChange || event.Data.UserID == "" {
		return nil
	}
	p := event.Data
	message := &messaging.Message{
		Topic: n.TopicPrefix + p.UserID,
		Data: map[string]string{
			"type":               string(event.Type),
			"purchaseId":         p.ID,
			"orderId":            p.OrderID,
			"productSku":         p.ProductSku,
			"platform":           string(p.Platform),
			"subscriptionStatus": string(p.SubscriptionStatus),
			"isRefunded":         strconv.FormatBool(p.IsRefunded),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
	if _, err := n.Client.Send(ctx, message); err != nil {
		return fmt.Errorf("fcm: send %s to %s: %w", event.Type, message.Topic, err)
	}
	return nil
}
