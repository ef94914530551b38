package services

import (
	"context"
	"fmt"
	"time"

	"iapBack/internal/models"
)

// ReconcileService writes parsed receipts against stored state. Replaying a
// receipt that is not newer than what is stored leaves purchases untouched.
type ReconcileService struct {
	db     Database
	locker ChainLocker
	log    Logger
	now    func() time.Time
}

func NewReconcileService(db Database, locker ChainLocker, logger Logger) *ReconcileService {
	if locker == nil {
		locker = NewLocalChainLocker()
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &ReconcileService{db: db, locker: locker, log: logger, now: time.Now}
}

// ProcessParsedReceipt persists the receipt and returns the event describing
// how its newest purchase changed the chain.
func (s *ReconcileService) ProcessParsedReceipt(ctx context.Context, parsed models.ParsedReceipt, userID string, syncUserID bool) (models.PurchaseEvent, error) {
	if len(parsed.Purchases) == 0 {
		return models.PurchaseEvent{}, models.ErrEmptyReceipt
	}
	top := parsed.Purchases[0]

	unlock, err := s.locker.Lock(ctx, top.ChainKey())
	if err != nil {
		return models.PurchaseEvent{}, fmt.Errorf("reconcile: lock %s: %w", top.ChainKey(), err)
	}
	defer unlock()

	var previous *models.Purchase
	if top.IsSubscription && top.OriginalOrderID != "" {
		previous, err = s.db.GetLatestPurchaseByOriginalOrderID(ctx, top.OriginalOrderID)
		if err != nil {
			return models.PurchaseEvent{}, fmt.Errorf("reconcile: latest purchase of %s: %w", top.OriginalOrderID, err)
		}
	}

	saved, err := s.SaveParsedReceipt(ctx, parsed, userID, syncUserID)
	if err != nil {
		return models.PurchaseEvent{}, err
	}
	eventType := ClassifyPurchaseEvent(previous, saved)
	s.log.Infof("[RECONCILE] order=%s original=%s event=%s", saved.OrderID, saved.OriginalOrderID, eventType)
	return models.PurchaseEvent{Type: eventType, Data: *saved}, nil
}

// SaveParsedReceipt resolves the owner, upserts the receipt and reconciles
// purchases oldest first so chain references resolve. It returns the last
// purchase written.
func (s *ReconcileService) SaveParsedReceipt(ctx context.Context, parsed models.ParsedReceipt, userID string, syncUserID bool) (*models.Purchase, error) {
	if len(parsed.Purchases) == 0 {
		return nil, models.ErrEmptyReceipt
	}

	userID, err := s.resolveUserID(ctx, parsed.Purchases, userID, syncUserID)
	if err != nil {
		return nil, err
	}

	receipt, err := s.saveReceipt(ctx, parsed.Receipt, userID)
	if err != nil {
		return nil, err
	}

	var last *models.Purchase
	for i := len(parsed.Purchases) - 1; i >= 0; i-- {
		draft := *parsed.Purchases[i]
		draft.ReceiptID = receipt.ID
		if userID != "" {
			draft.UserID = userID
		}
		saved, err := s.savePurchase(ctx, draft)
		if err != nil {
			return nil, err
		}
		last = saved
	}
	return last, nil
}

func (s *ReconcileService) resolveUserID(ctx context.Context, purchases []*models.Purchase, userID string, syncUserID bool) (string, error) {
	orderIDs := make([]string, 0, len(purchases)+1)
	for _, p := range purchases {
		orderIDs = append(orderIDs, p.OrderID)
	}
	if top := purchases[0]; top.IsSubscription && top.OriginalOrderID != "" {
		orderIDs = append(orderIDs, top.OriginalOrderID)
	}

	existing, err := s.db.GetUserID(ctx, orderIDs)
	if err != nil {
		return "", fmt.Errorf("reconcile: existing user: %w", err)
	}
	if userID == "" {
		return existing, nil
	}
	if existing != "" && existing != userID && syncUserID {
		s.log.Infof("[RECONCILE] moving purchases from user %s to %s", existing, userID)
		if err := s.db.SyncUserID(ctx, existing, userID); err != nil {
			return "", fmt.Errorf("reconcile: sync user %s -> %s: %w", existing, userID, err)
		}
	}
	return userID, nil
}

func (s *ReconcileService) saveReceipt(ctx context.Context, draft models.Receipt, userID string) (*models.Receipt, error) {
	existing, err := s.db.GetReceiptByHash(ctx, draft.Hash)
	if err != nil {
		return nil, fmt.Errorf("reconcile: receipt lookup: %w", err)
	}
	if existing == nil {
		draft.UserID = userID
		created, err := s.db.CreateReceipt(ctx, draft)
		if err != nil {
			return nil, fmt.Errorf("reconcile: create receipt: %w", err)
		}
		return created, nil
	}
	if userID == "" || existing.UserID == userID {
		return existing, nil
	}
	// stored receipt content is immutable, only the owner moves
	existing.UserID = userID
	updated, err := s.db.UpdateReceipt(ctx, *existing)
	if err != nil {
		return nil, fmt.Errorf("reconcile: update receipt owner: %w", err)
	}
	return updated, nil
}

func (s *ReconcileService) savePurchase(ctx context.Context, draft models.Purchase) (*models.Purchase, error) {
	if draft.OriginalOrderID != "" {
		original, err := s.db.GetPurchaseByOrderID(ctx, draft.Platform, draft.OriginalOrderID)
		if err != nil {
			return nil, fmt.Errorf("reconcile: original order %s: %w", draft.OriginalOrderID, err)
		}
		if original != nil {
			draft.OriginalPurchaseID = original.ID
		}
	}
	if draft.LinkedOrderID != "" {
		linked, err := s.db.GetPurchaseByOrderID(ctx, draft.Platform, draft.LinkedOrderID)
		if err != nil {
			return nil, fmt.Errorf("reconcile: linked order %s: %w", draft.LinkedOrderID, err)
		}
		if linked != nil {
			draft.LinkedPurchaseID = linked.ID
		}
	}

	existing, err := s.db.GetPurchaseByOrderID(ctx, draft.Platform, draft.OrderID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: order %s: %w", draft.OrderID, err)
	}

	if existing == nil {
		created, err := s.db.CreatePurchase(ctx, draft)
		if err != nil {
			return nil, fmt.Errorf("reconcile: create purchase %s: %w", draft.OrderID, err)
		}
		if created.OrderID == created.OriginalOrderID && created.OriginalPurchaseID != created.ID {
			created.OriginalPurchaseID = created.ID
			if created, err = s.db.UpdatePurchase(ctx, *created); err != nil {
				return nil, fmt.Errorf("reconcile: close chain root %s: %w", draft.OrderID, err)
			}
		}
		return created, nil
	}

	draft.ID = existing.ID
	if existing.IsRefunded && !draft.IsRefunded {
		s.carryRefund(*existing, &draft)
	}
	if !draft.ReceiptDate.After(existing.ReceiptDate) {
		// not newer than what is stored: only an unowned purchase may be claimed
		if draft.UserID == "" || existing.UserID != "" {
			return existing, nil
		}
		claimed := *existing
		claimed.UserID = draft.UserID
		updated, err := s.db.UpdatePurchase(ctx, claimed)
		if err != nil {
			return nil, fmt.Errorf("reconcile: claim purchase %s: %w", draft.OrderID, err)
		}
		return updated, nil
	}
	// a later fetch of the same receipt that restates stored state is not written
	restated := draft
	restated.ReceiptDate = existing.ReceiptDate
	if models.PurchasesEqual(*existing, restated) {
		return existing, nil
	}
	updated, err := s.db.UpdatePurchase(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("reconcile: update purchase %s: %w", draft.OrderID, err)
	}
	return updated, nil
}

// carryRefund keeps a refund recorded from a voided signal when the store
// payload no longer reports it.
func (s *ReconcileService) carryRefund(existing models.Purchase, draft *models.Purchase) {
	refundDate := draft.PurchaseDate
	if existing.RefundDate != nil {
		refundDate = *existing.RefundDate
	}
	markRefunded(draft, refundDate, existing.RefundReason)
	classifySubscription(draft, s.now())
}
