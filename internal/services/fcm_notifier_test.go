package services

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/messaging"

	"iapBack/internal/models"
)

type fakeFCMSender struct {
	sent []*messaging.Message
	err  error
}

func (f *fakeFCMSender) Send(ctx context.Context, message *messaging.Message) (string, error) {
	f.sent = append(f.sent, message)
	return "projects/test/messages/1", f.err
}

func TestFCMNotifierNotify(t *testing.T) {
	sender := &fakeFCMSender{}
	n := NewFCMNotifier(sender)

	p := subscriptionDraft(func(p *models.Purchase) { p.UserID = "42" })
	classifySubscription(p, testNow)
	if err := n.Notify(context.Background(), models.PurchaseEvent{Type: models.EventSubscriptionCancel, Data: *p}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.Topic != "user_42" {
		t.Errorf("topic = %q, want user_42", msg.Topic)
	}
	if msg.Data["type"] != string(models.EventSubscriptionCancel) || msg.Data["orderId"] != "2000" {
		t.Errorf("data = %v", msg.Data)
	}
	if msg.Data["subscriptionStatus"] != string(models.StatusActive) {
		t.Errorf("subscriptionStatus = %q", msg.Data["subscriptionStatus"])
	}
}

func TestFCMNotifierSkips(t *testing.T) {
	sender := &fakeFCMSender{}
	n := NewFCMNotifier(sender)

	owned := *subscriptionDraft(func(p *models.Purchase) { p.UserID = "42" })
	_ = n.Notify(context.Background(), models.PurchaseEvent{Type: models.EventNoChange, Data: owned})
	_ = n.Notify(context.Background(), models.PurchaseEvent{Type: models.EventPurchase, Data: *subscriptionDraft(nil)})
	if len(sender.sent) != 0 {
		t.Errorf("sent %d messages, want none", len(sender.sent))
	}
}

func TestFCMNotifierSendError(t *testing.T) {
	sender := &fakeFCMSender{err: errors.New("unavailable")}
	n := NewFCMNotifier(sender)
	p := *subscriptionDraft(func(p *models.Purchase) { p.UserID = "42" })
	if err := n.Notify(context.Background(), models.PurchaseEvent{Type: models.EventPurchase, Data: p}); err == nil {
		t.Fatal("expected an error")
	}
}
