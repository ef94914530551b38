package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"iapBack/internal/models"
)

type memProductStore struct {
	products map[string]models.Product
}

func (m *memProductStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	var out []models.Product
	for _, p := range m.products {
		out = append(out, p)
	}
	return out, nil
}

func (m *memProductStore) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memProductStore) CreateProduct(ctx context.Context, p models.Product) (*models.Product, error) {
	p.ID = "p1"
	m.products[p.ID] = p
	return &p, nil
}

func (m *memProductStore) UpdateProduct(ctx context.Context, p models.Product) (*models.Product, error) {
	if _, ok := m.products[p.ID]; !ok {
		return nil, models.ErrNoRecord
	}
	m.products[p.ID] = p
	return &p, nil
}

func TestProductHandlerCreateAndUpdate(t *testing.T) {
	store := &memProductStore{products: map[string]models.Product{}}
	h := &ProductHandler{Store: store}

	rec := httptest.NewRecorder()
	h.CreateProduct(rec, httptest.NewRequest(http.MethodPost, "/products",
		strings.NewReader(`{"name":"Coins","skuIOS":"coins","skuAndroid":"coins_android","price":99,"currency":"usd"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.UpdateProduct(rec, httptest.NewRequest(http.MethodPut, "/products/p1?:id=p1",
		strings.NewReader(`{"name":"Coins","skuIOS":"coins","price":199,"currency":"usd"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if store.products["p1"].Price != 199 {
		t.Fatalf("expected updated price, got %d", store.products["p1"].Price)
	}

	rec = httptest.NewRecorder()
	h.UpdateProduct(rec, httptest.NewRequest(http.MethodPut, "/products/nope?:id=nope",
		strings.NewReader(`{"skuIOS":"x","price":1,"currency":"usd"}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestProductHandlerValidation(t *testing.T) {
	h := &ProductHandler{Store: &memProductStore{products: map[string]models.Product{}}}

	rec := httptest.NewRecorder()
	h.CreateProduct(rec, httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(`{"name":"NoSku","price":1,"currency":"usd"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.GetProduct(rec, httptest.NewRequest(http.MethodGet, "/products/missing?:id=missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
