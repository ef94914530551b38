package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"iapBack/internal/models"
)

// memDB is an in-memory Store used across the service tests.
type memDB struct {
	mu        sync.Mutex
	seq       int
	purchases map[string]*models.Purchase
	receipts  map[string]*models.Receipt
	products  []models.Product

	creates int
	updates int
}

func newMemDB(products ...models.Product) *memDB {
	return &memDB{
		purchases: map[string]*models.Purchase{},
		receipts:  map[string]*models.Receipt{},
		products:  products,
	}
}

func (m *memDB) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func clonePurchase(p *models.Purchase) *models.Purchase {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func (m *memDB) GetPurchaseByOrderID(ctx context.Context, platform models.Platform, orderID string) (*models.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.purchases {
		if p.Platform == platform && p.OrderID == orderID {
			return clonePurchase(p), nil
		}
	}
	return nil, nil
}

func (m *memDB) GetLatestPurchaseByOriginalOrderID(ctx context.Context, originalOrderID string) (*models.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Purchase
	for _, p := range m.purchases {
		if p.OriginalOrderID != originalOrderID && p.OrderID != originalOrderID {
			continue
		}
		if latest == nil || p.PurchaseDate.After(latest.PurchaseDate) {
			latest = p
		}
	}
	return clonePurchase(latest), nil
}

func (m *memDB) GetPurchasesByReceiptHash(ctx context.Context, hash string) ([]models.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var receiptID string
	for _, r := range m.receipts {
		if r.Hash == hash {
			receiptID = r.ID
		}
	}
	var out []models.Purchase
	for _, p := range m.purchases {
		if receiptID != "" && p.ReceiptID == receiptID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PurchaseDate.After(out[j].PurchaseDate) })
	return out, nil
}

func (m *memDB) CreatePurchase(ctx context.Context, p models.Purchase) (*models.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.purchases {
		if existing.OrderID == p.OrderID && existing.Platform == p.Platform {
			return nil, fmt.Errorf("duplicate order %s", p.OrderID)
		}
	}
	p.ID = m.nextID("purchase")
	m.purchases[p.ID] = &p
	m.creates++
	return clonePurchase(&p), nil
}

func (m *memDB) UpdatePurchase(ctx context.Context, p models.Purchase) (*models.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.purchases[p.ID]; !ok {
		return nil, models.ErrNoRecord
	}
	m.purchases[p.ID] = &p
	m.updates++
	return clonePurchase(&p), nil
}

func (m *memDB) GetUserID(ctx context.Context, orderIDs []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range orderIDs {
		for _, p := range m.purchases {
			if p.OrderID == id && p.UserID != "" {
				return p.UserID, nil
			}
		}
	}
	return "", nil
}

func (m *memDB) SyncUserID(ctx context.Context, oldUserID, newUserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.purchases {
		if p.UserID == oldUserID {
			p.UserID = newUserID
		}
	}
	for _, r := range m.receipts {
		if r.UserID == oldUserID {
			r.UserID = newUserID
		}
	}
	return nil
}

func (m *memDB) GetReceiptByHash(ctx context.Context, hash string) (*models.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.receipts {
		if r.Hash == hash {
			c := *r
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memDB) GetReceiptByID(ctx context.Context, id string) (*models.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[id]
	if !ok {
		return nil, nil
	}
	c := *r
	return &c, nil
}

func (m *memDB) CreateReceipt(ctx context.Context, r models.Receipt) (*models.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.nextID("receipt")
	m.receipts[r.ID] = &r
	c := r
	return &c, nil
}

func (m *memDB) UpdateReceipt(ctx context.Context, r models.Receipt) (*models.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.receipts[r.ID]
	if !ok {
		return nil, models.ErrNoRecord
	}
	stored.UserID = r.UserID
	c := *stored
	return &c, nil
}

func (m *memDB) GetProductBySku(ctx context.Context, sku string, platform models.Platform) (*models.Product, error) {
	for _, p := range m.products {
		if p.Sku(platform) == sku {
			c := p
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memDB) GetPurchasesToRefresh(ctx context.Context) ([]models.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := map[string]models.Purchase{}
	for _, p := range m.purchases {
		if !p.IsSubscriptionActive && !p.IsSubscriptionRenewable {
			continue
		}
		key := p.ChainKey()
		if cur, ok := latest[key]; !ok || p.PurchaseDate.After(cur.PurchaseDate) {
			latest[key] = *p
		}
	}
	var out []models.Purchase
	for _, p := range latest {
		out = append(out, p)
	}
	return out, nil
}

// stored returns every purchase keyed by order id.
func (m *memDB) stored() map[string]models.Purchase {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.Purchase, len(m.purchases))
	for _, p := range m.purchases {
		out[p.OrderID] = *p
	}
	return out
}
